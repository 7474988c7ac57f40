package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"agentrelay/internal/config"
	"agentrelay/internal/session"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your agentrelay setup",
		Long: `Verifies that the configuration, the claude binary, the session store,
the system prompt and the attachment directory are usable. Reports pass/fail
for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.OutOrStdout(), resolveConfigPath())
		},
	}
}

type doctorReport struct {
	w                      io.Writer
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Fprintf(r.w, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Fprintf(r.w, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Fprintf(r.w, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func runDoctor(w io.Writer, cfgPath string) error {
	r := &doctorReport{w: w}
	fmt.Fprintf(w, "agentrelay doctor v%s\n", version)
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	// 1. Config file exists
	if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
		r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
		fmt.Fprintf(w, "\nRun 'agentrelay init' to create a starter configuration.\n")
		return fmt.Errorf("config file not found")
	}
	r.pass("Config file", cfgPath)

	// 2. Config loads and validates
	cfg, err := config.Load(cfgPath)
	if err != nil {
		r.fail("Config validation", err.Error())
		fmt.Fprintf(w, "\n%d passed, %d failed\n", r.passed, r.failed)
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	r.pass("Config validation", fmt.Sprintf("valid (%d channels)", len(cfg.Channels)))

	// 3. Turn bounds
	if warns := config.Warnings(cfg); len(warns) > 0 {
		for _, msg := range warns {
			r.warn("Turn bounds", msg)
		}
	} else {
		r.pass("Turn bounds", fmt.Sprintf("up to %d agent turns per message", cfg.TurnsPerUnit()))
	}

	// 4. Claude binary on PATH
	if path, err := exec.LookPath(cfg.Claude.Binary); err != nil {
		r.fail("Claude binary", fmt.Sprintf("%s: %v", cfg.Claude.Binary, err))
	} else {
		r.pass("Claude binary", path)
	}

	// 5. Session store readable
	if n, err := checkSessionStore(cfg.Sessions); err != nil {
		r.fail("Session store", err.Error())
	} else {
		r.pass("Session store", fmt.Sprintf("%s %s (%d sessions)", cfg.Sessions.Backend, cfg.Sessions.Path, n))
	}

	// 6. System prompt
	if cfg.Agent.SystemPromptFile == "" {
		r.warn("System prompt", "not configured")
	} else if _, err := os.Stat(cfg.Agent.SystemPromptFile); err != nil {
		r.warn("System prompt", fmt.Sprintf("not found: %s", cfg.Agent.SystemPromptFile))
	} else {
		r.pass("System prompt", cfg.Agent.SystemPromptFile)
	}

	// 7. Workspace and channel working directories
	for _, ch := range cfg.Channels {
		dir := cfg.WorkdirFor(ch)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			r.fail("Workdir: "+ch.Name, fmt.Sprintf("not a directory: %s", dir))
		} else {
			r.pass("Workdir: "+ch.Name, dir)
		}
	}

	// 8. Attachment directory writable
	if err := checkWritableDir(cfg.Attachments.Dir); err != nil {
		r.fail("Attachments", err.Error())
	} else {
		r.pass("Attachments", cfg.Attachments.Dir)
	}

	// 9. Metrics port
	if cfg.Metrics.Enabled {
		if err := checkListen(cfg.Metrics.Listen); err != nil {
			r.warn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
		} else {
			r.pass("Metrics listen", cfg.Metrics.Listen+" available")
		}
	}

	// 10. Log file directory
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.Log.File)
		}
	}

	// Summary
	fmt.Fprintf(w, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Fprintf(w, "\nPlease fix the failed checks before running agentrelay.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintf(w, "\nagentrelay should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(w, "\nAll checks passed! agentrelay is ready to run.\n")
	}
	return nil
}

// checkSessionStore opens the configured store and loads it once.
func checkSessionStore(cfg config.SessionsConfig) (int, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return 0, fmt.Errorf("cannot create store directory: %w", err)
	}
	store, err := session.Open(cfg.Backend, cfg.Path, logger)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessions, err := store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("cannot load: %w", err)
	}
	return len(sessions), nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
