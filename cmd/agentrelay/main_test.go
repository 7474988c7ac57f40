package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentrelay/internal/config"
	"agentrelay/internal/session"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	configPath = ""
	t.Cleanup(func() { configPath = "" })

	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	data := `discord:
  token: discord-bot-token-123456
  user: "111111111111111111"
claude:
  binary: agentrelay-test-missing-claude
sessions:
  backend: file
  path: ` + filepath.Join(dir, "sessions.json") + `
attachments:
  dir: ` + filepath.Join(dir, "tmp") + `
agent:
  workspace: ` + dir + `
  systemPromptFile: ""
channels:
  - name: general
  - name: reports
    skill: daily-report
    schedule: "0 9 * * *"
    logChannel: bot-log
`
	path := filepath.Join(dir, "agentrelay.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitWritesStarterConfig(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	path := filepath.Join(dir, "agentrelay.yaml")

	if _, err := execute(t, "init", "--config", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if cfg.Discord.Token != "${DISCORD_TOKEN}" {
		t.Errorf("token = %q", cfg.Discord.Token)
	}
	if len(cfg.Channels) != 1 {
		t.Errorf("channels = %+v", cfg.Channels)
	}

	if _, err := execute(t, "init", "--config", path); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := execute(t, "init", "--config", path, "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestConfigSetGet(t *testing.T) {
	path := writeConfig(t, t.TempDir())

	if _, err := execute(t, "config", "set", "agent.maxIterations", "30", "--config", path); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := execute(t, "config", "get", "agent.maxIterations", "--config", path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if strings.TrimSpace(out) != "30" {
		t.Errorf("get = %q, want 30", out)
	}

	out, err = execute(t, "config", "get", "discord.token", "--config", path)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if strings.Contains(out, "discord-bot-token-123456") {
		t.Errorf("token should be masked: %q", out)
	}
}

func TestConfigShowMasksToken(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	out, err := execute(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if strings.Contains(out, "discord-bot-token-123456") {
		t.Error("show leaked the token")
	}
	if !strings.Contains(out, "disc****3456") {
		t.Errorf("masked token missing:\n%s", out)
	}
}

func TestConfigList(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	out, err := execute(t, "config", "list", "--config", path)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"agent.maxFeedbackDepth = 5", "channels.1.skill = daily-report"} {
		if !strings.Contains(out, want) {
			t.Errorf("list missing %q:\n%s", want, out)
		}
	}
}

func TestSessionsListAndClear(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	store := session.NewFileStore(filepath.Join(dir, "sessions.json"), logger)
	ctx := context.Background()
	if err := store.Save(ctx, "100", "sess-a"); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, "200", "sess-b"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "sessions", "list", "--config", path)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "100\tsess-a\n200\tsess-b\n" {
		t.Errorf("list = %q", out)
	}

	if _, err := execute(t, "sessions", "clear", "100", "--config", path); err != nil {
		t.Fatalf("clear: %v", err)
	}
	out, err = execute(t, "sessions", "list", "--config", path)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "200\tsess-b\n" {
		t.Errorf("list after clear = %q", out)
	}
}

func TestDoctorMissingConfig(t *testing.T) {
	out, err := execute(t, "doctor", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected doctor to fail without a config")
	}
	if !strings.Contains(out, "[FAIL] Config file") {
		t.Errorf("output:\n%s", out)
	}
}

func TestDoctorReportsChecks(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	out, err := execute(t, "doctor", "--config", path)
	if err == nil {
		t.Fatal("expected failure for the missing claude binary")
	}
	for _, want := range []string{
		"[PASS] Config validation",
		"[PASS] Turn bounds",
		"up to 6 agent turns per message",
		"[FAIL] Claude binary",
		"[PASS] Session store",
		"[WARN] System prompt",
		"[PASS] Attachments",
		"Results: ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("doctor output missing %q:\n%s", want, out)
		}
	}
}

func TestDoctorWarnsOnIterationBound(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data = []byte(strings.Replace(string(data), "agent:\n", "agent:\n  maxIterations: 3\n", 1))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	out, _ := execute(t, "doctor", "--config", path)
	if !strings.Contains(out, "[WARN] Turn bounds") || !strings.Contains(out, "agent.maxIterations (3)") {
		t.Errorf("doctor output missing iteration bound warning:\n%s", out)
	}
}

func TestProfilesAndTasks(t *testing.T) {
	cfg := config.Defaults()
	cfg.Agent.Workspace = "/srv/agent"
	cfg.Channels = []config.ChannelConfig{
		{Name: "general"},
		{Name: "reports", Skill: "daily", Workdir: "/srv/reports", LogChannel: "bot-log", Schedule: "@daily"},
		{Name: "boot", Skill: "warmup", InitOnStart: true},
		{Name: "idle", Skill: "manual"},
	}

	ps := profiles(cfg)
	if len(ps) != 4 {
		t.Fatalf("profiles = %d, want 4", len(ps))
	}
	if ps[0].WorkDir != "/srv/agent" || ps[1].WorkDir != "/srv/reports" {
		t.Errorf("workdirs = %q, %q", ps[0].WorkDir, ps[1].WorkDir)
	}
	if ps[1].LogChannel != "bot-log" || ps[1].Skill != "daily" {
		t.Errorf("profile = %+v", ps[1])
	}

	ts := tasks(cfg)
	if len(ts) != 2 {
		t.Fatalf("tasks = %+v, want reports and boot", ts)
	}
	if ts[0].Channel != "reports" || ts[0].Schedule != "@daily" {
		t.Errorf("task[0] = %+v", ts[0])
	}
	if ts[1].Channel != "boot" || !ts[1].InitOnStart {
		t.Errorf("task[1] = %+v", ts[1])
	}
}

func TestNewLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "relay.log")
	l, closeLog, err := newLogger(config.LogConfig{Level: "debug", Format: "json", File: logPath})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	l.Debug("hello", "k", "v")
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %q", data)
	}

	if _, _, err := newLogger(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRenderUnit(t *testing.T) {
	unit := renderUnit(systemdTemplate, "/usr/local/bin/agentrelay", "/etc/agentrelay/agentrelay.yaml", "")
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/agentrelay run --config /etc/agentrelay/agentrelay.yaml") {
		t.Errorf("unit:\n%s", unit)
	}
	if !strings.Contains(unit, "WorkingDirectory=/etc/agentrelay") {
		t.Errorf("unit:\n%s", unit)
	}

	plist := renderUnit(launchdTemplate, "/bin/agentrelay", "/cfg/agentrelay.yaml", "/logs")
	for _, want := range []string{launchdLabel, "<string>run</string>", "/logs/agentrelay-error.log"} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q", want)
		}
	}
	if strings.Contains(plist, "{{") {
		t.Error("plist has unreplaced placeholders")
	}
}
