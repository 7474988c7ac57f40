// Package claude runs agent turns through the Claude Code CLI in stream-json mode.
package claude

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"agentrelay/internal/domain"
)

const (
	DefaultBinary         = "claude"
	DefaultPermissionMode = "bypassPermissions"
	DefaultMaxTurns       = 1

	maxLineSize   = 1024 * 1024
	maxStderrTail = 2048
)

// Config configures the CLI runner.
type Config struct {
	Binary         string
	Model          string
	PermissionMode string
	MaxTurns       int
	ExtraArgs      []string
	Logger         *slog.Logger
}

// Runner implements domain.AgentRunner by spawning one CLI process per turn.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner creates a runner, filling in defaults for empty fields.
func NewRunner(cfg Config) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = DefaultPermissionMode
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: cfg.Logger}
}

// Args builds the CLI argument list for one turn.
func (r *Runner) Args(req domain.AgentRequest) []string {
	args := []string{
		"--print",
		"--verbose", // required for stream-json with --print
		"--output-format", "stream-json",
		"--max-turns", strconv.Itoa(r.cfg.MaxTurns),
		"--permission-mode", r.cfg.PermissionMode,
	}
	if r.cfg.Model != "" {
		args = append(args, "--model", r.cfg.Model)
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	} else if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	args = append(args, r.cfg.ExtraArgs...)
	return append(args, "--", req.Prompt)
}

// Stream runs one turn and forwards parsed events to out, closing it when the
// process output ends. Cancelling ctx kills the process.
func (r *Runner) Stream(ctx context.Context, req domain.AgentRequest, out chan<- domain.AgentEvent) error {
	defer close(out)

	cmd := exec.CommandContext(ctx, r.cfg.Binary, r.Args(req)...)
	cmd.Dir = req.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.cfg.Binary, err)
	}
	r.logger.Debug("agent turn started", "pid", cmd.Process.Pid, "resume", req.SessionID != "", "prompt_len", len(req.Prompt))

	var (
		stderrWg  sync.WaitGroup
		stderrBuf bytes.Buffer
	)
	stderrWg.Add(1)
	go func() {
		defer stderrWg.Done()
		_, _ = io.Copy(&stderrBuf, stderr)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	var sendErr error
	for scanner.Scan() {
		ev, ok := ParseLine(scanner.Bytes())
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			sendErr = ctx.Err()
		}
		if sendErr != nil {
			break
		}
	}
	scanErr := scanner.Err()
	if sendErr != nil || scanErr != nil {
		// Unblock the process if it is still writing.
		_ = cmd.Process.Kill()
		_, _ = io.Copy(io.Discard, stdout)
	}

	stderrWg.Wait()
	waitErr := cmd.Wait()

	switch {
	case sendErr != nil:
		return sendErr
	case scanErr != nil:
		return fmt.Errorf("read agent output: %w", scanErr)
	case waitErr != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tail := stderrTail(stderrBuf.String()); tail != "" {
			return fmt.Errorf("%s exited: %w: %s", r.cfg.Binary, waitErr, tail)
		}
		return fmt.Errorf("%s exited: %w", r.cfg.Binary, waitErr)
	}
	if s := strings.TrimSpace(stderrBuf.String()); s != "" {
		r.logger.Debug("agent stderr", "output", stderrTail(s))
	}
	return nil
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrTail {
		s = "..." + s[len(s)-maxStderrTail:]
	}
	return s
}
