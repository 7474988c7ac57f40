package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Discord.Token = "discord-bot-token-123456"
	cfg.Discord.User = "111111111111111111"
	cfg.Channels = []ChannelConfig{{Name: "general"}}
	return cfg
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_DefaultsNeedCredentialsAndChannels(t *testing.T) {
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("expected error for bare defaults")
	}
	for _, want := range []string{"discord.token", "discord.user", "at least one channel"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}

func TestValidate_FeedbackDepth(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.MaxFeedbackDepth = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxFeedbackDepth=0 should be valid: %v", err)
	}
	cfg.Agent.MaxFeedbackDepth = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative maxFeedbackDepth")
	}
}

func TestValidate_MaxIterations_Boundary(t *testing.T) {
	cfg := validConfig()

	cfg.Agent.MaxIterations = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxIterations=1 should be valid: %v", err)
	}
	cfg.Agent.MaxIterations = 200
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxIterations=200 should be valid: %v", err)
	}
	cfg.Agent.MaxIterations = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxIterations=0")
	}
}

func TestWarnings_IterationBound(t *testing.T) {
	cfg := validConfig()
	if w := Warnings(cfg); len(w) != 0 {
		t.Fatalf("defaults should not warn: %v", w)
	}
	if got := cfg.TurnsPerUnit(); got != 6 {
		t.Errorf("TurnsPerUnit = %d, want 6", got)
	}

	cfg.Agent.MaxIterations = 6
	if w := Warnings(cfg); len(w) != 0 {
		t.Fatalf("maxIterations=6 with depth 5 should not warn: %v", w)
	}

	cfg.Agent.MaxIterations = 5
	w := Warnings(cfg)
	if len(w) != 1 || !strings.Contains(w[0], "agent.maxIterations") {
		t.Fatalf("expected iteration bound warning, got %v", w)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("warning config should still validate: %v", err)
	}
	if got := cfg.TurnsPerUnit(); got != 5 {
		t.Errorf("TurnsPerUnit = %d, want 5", got)
	}
}

func TestValidate_MessageLength(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.MaxMessageLength = 2001
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxMessageLength above the platform limit")
	}
}

func TestValidate_SessionBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Sessions.Backend = "sqlite"
	if err := Validate(cfg); err != nil {
		t.Fatalf("sqlite backend should be valid: %v", err)
	}
	cfg.Sessions.Backend = "redis"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestValidate_LogSettings(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "verbose"
	cfg.Log.Format = "xml"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "log.level") || !strings.Contains(err.Error(), "log.format") {
		t.Fatalf("expected both log errors, got: %v", err)
	}
}

func TestValidate_Channels(t *testing.T) {
	tests := []struct {
		name     string
		channels []ChannelConfig
		want     string
	}{
		{"missing name", []ChannelConfig{{Skill: "x"}}, "channels[0].name"},
		{"duplicate", []ChannelConfig{{Name: "a"}, {Name: "a"}}, "duplicate channel"},
		{"bad schedule", []ChannelConfig{{Name: "a", Skill: "s", Schedule: "every day"}}, "channels[0].schedule"},
		{"schedule without skill", []ChannelConfig{{Name: "a", Schedule: "@daily"}}, "schedule requires a skill"},
		{"init without skill", []ChannelConfig{{Name: "a", InitOnStart: true}}, "initOnStart requires a skill"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Channels = tt.channels
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	cfg := validConfig()
	cfg.Channels = []ChannelConfig{{Name: "diary", Skill: "diary", Schedule: "0 9 * * *", InitOnStart: true}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("scheduled skill channel should be valid: %v", err)
	}
}

func TestValidate_MetricsListen(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled metrics without listen address")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentrelay.yaml")

	original := validConfig()
	original.Claude.Model = "sonnet"
	original.Channels = append(original.Channels, ChannelConfig{Name: "diary", Skill: "diary", LogChannel: "logs"})

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Claude.Model != "sonnet" {
		t.Fatalf("expected model 'sonnet', got %q", loaded.Claude.Model)
	}
	if len(loaded.Channels) != 2 || loaded.Channels[1].LogChannel != "logs" {
		t.Fatalf("channels not preserved: %+v", loaded.Channels)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentrelay.yaml")
	content := `discord:
  token: abc
  user: "42"
channels:
  - name: general
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.MaxFeedbackDepth != 5 || cfg.Agent.MaxIterations != 20 {
		t.Fatalf("bounds = %d/%d, want 5/20", cfg.Agent.MaxFeedbackDepth, cfg.Agent.MaxIterations)
	}
	if cfg.Sessions.Backend != "file" || cfg.Sessions.Path != ".sessions.json" {
		t.Fatalf("unexpected sessions config %+v", cfg.Sessions)
	}
	if cfg.Claude.Binary != "claude" || cfg.Claude.MaxTurns != 1 {
		t.Fatalf("unexpected claude config %+v", cfg.Claude)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/agentrelay.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("discord: [unterminated"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentrelay.yaml")
	os.WriteFile(path, []byte("agent:\n  maxIterations: 0\n"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "agent.maxIterations") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_AGENTRELAY_TOKEN", "from-env")

	path := filepath.Join(t.TempDir(), "agentrelay.yaml")
	content := `discord:
  token: ${TEST_AGENTRELAY_TOKEN}
  user: "42"
claude:
  model: ${TEST_AGENTRELAY_MODEL_UNSET:-opus}
channels:
  - name: general
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Fatalf("expected token 'from-env', got %q", cfg.Discord.Token)
	}
	if cfg.Claude.Model != "opus" {
		t.Fatalf("expected default model 'opus', got %q", cfg.Claude.Model)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("AGENTRELAY_DISCORD_TOKEN", "override-token")
	t.Setenv("AGENTRELAY_AGENT_MAX_FEEDBACK_DEPTH", "2")
	t.Setenv("AGENTRELAY_SESSIONS_BACKEND", "sqlite")
	t.Setenv("AGENTRELAY_CLAUDE_EXTRA_ARGS", "--add-dir,/srv")

	path := filepath.Join(t.TempDir(), "agentrelay.yaml")
	if err := Save(path, validConfig()); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discord.Token != "override-token" {
		t.Fatalf("token = %q", cfg.Discord.Token)
	}
	if cfg.Agent.MaxFeedbackDepth != 2 {
		t.Fatalf("maxFeedbackDepth = %d", cfg.Agent.MaxFeedbackDepth)
	}
	if cfg.Sessions.Backend != "sqlite" {
		t.Fatalf("backend = %q", cfg.Sessions.Backend)
	}
	if len(cfg.Claude.ExtraArgs) != 2 || cfg.Claude.ExtraArgs[1] != "/srv" {
		t.Fatalf("extraArgs = %q", cfg.Claude.ExtraArgs)
	}
	// Unset variables keep file values.
	if cfg.Discord.User != "111111111111111111" {
		t.Fatalf("user = %q", cfg.Discord.User)
	}
}

func TestLoad_InvalidEnvironmentOverride(t *testing.T) {
	t.Setenv("AGENTRELAY_AGENT_MAX_ITERATIONS", "many")

	path := filepath.Join(t.TempDir(), "agentrelay.yaml")
	if err := Save(path, validConfig()); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-numeric override")
	}
}

func TestReadFile_KeepsReferencesAndSkipsValidation(t *testing.T) {
	t.Setenv("AGENTRELAY_TEST_TOKEN", "secret-value")
	path := filepath.Join(t.TempDir(), "agentrelay.yaml")
	data := "discord:\n  token: ${AGENTRELAY_TEST_TOKEN}\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if cfg.Discord.Token != "${AGENTRELAY_TEST_TOKEN}" {
		t.Errorf("token = %q, want the unexpanded reference", cfg.Discord.Token)
	}
	if cfg.Agent.MaxFeedbackDepth != 5 {
		t.Errorf("defaults not applied: maxFeedbackDepth = %d", cfg.Agent.MaxFeedbackDepth)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("AGENTRELAY_CONFIG", "")
	if got := DefaultConfigPath(); got != "agentrelay.yaml" {
		t.Fatalf("default path = %q", got)
	}
	t.Setenv("AGENTRELAY_CONFIG", "/etc/agentrelay.yaml")
	if got := DefaultConfigPath(); got != "/etc/agentrelay.yaml" {
		t.Fatalf("env path = %q", got)
	}
}

func TestWorkdirFor(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.Workspace = "/ws"
	if got := cfg.WorkdirFor(ChannelConfig{Name: "a"}); got != "/ws" {
		t.Fatalf("fallback workdir = %q", got)
	}
	if got := cfg.WorkdirFor(ChannelConfig{Name: "a", Workdir: "/own"}); got != "/own" {
		t.Fatalf("channel workdir = %q", got)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := validConfig()
	tests := map[string]any{
		"agent.maxIterations": 20,
		"sessions.backend":    "file",
		"channels.0.name":     "general",
	}
	for path, want := range tests {
		got, err := GetByPath(cfg, path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if got != want {
			t.Fatalf("%s = %v (%T), want %v", path, got, got, want)
		}
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := validConfig()
	for _, path := range []string{"nonexistent.key", "channels.5.name", "agent.maxIterations.deeper"} {
		if _, err := GetByPath(cfg, path); err == nil {
			t.Errorf("expected error for %s", path)
		}
	}
}

func TestSetByPath(t *testing.T) {
	cfg := validConfig()

	if err := SetByPath(cfg, "agent.maxFeedbackDepth", "3"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Agent.MaxFeedbackDepth != 3 {
		t.Fatalf("maxFeedbackDepth = %d", cfg.Agent.MaxFeedbackDepth)
	}

	if err := SetByPath(cfg, "metrics.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Metrics.Enabled {
		t.Fatal("metrics should be enabled")
	}

	if err := SetByPath(cfg, "discord.user", "222222222222222222"); err != nil {
		t.Fatalf("set numeric string: %v", err)
	}
	if cfg.Discord.User != "222222222222222222" {
		t.Fatalf("user = %q", cfg.Discord.User)
	}

	if err := SetByPath(cfg, "channels.0.skill", "diary"); err != nil {
		t.Fatalf("set in list: %v", err)
	}
	if cfg.Channels[0].Skill != "diary" {
		t.Fatalf("skill = %q", cfg.Channels[0].Skill)
	}
}

func TestSetByPath_Errors(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "", "x"); err == nil {
		t.Fatal("expected error for empty path")
	}
	if err := SetByPath(cfg, "agent.maxIterations", "lots"); err == nil {
		t.Fatal("expected type error for non-numeric int field")
	}
}

func TestSanitize_MasksToken(t *testing.T) {
	cfg := validConfig()
	clean := Sanitize(cfg)

	if clean.Discord.Token == cfg.Discord.Token {
		t.Fatal("token should be masked")
	}
	if !strings.HasPrefix(clean.Discord.Token, "disc") || !strings.Contains(clean.Discord.Token, "****") {
		t.Fatalf("unexpected mask %q", clean.Discord.Token)
	}
	if cfg.Discord.Token != "discord-bot-token-123456" {
		t.Fatal("original config must not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Discord.Token = "short"
	if got := Sanitize(cfg).Discord.Token; got != "***" {
		t.Fatalf("expected '***', got %q", got)
	}
}

func TestListPaths_ReturnsSortedLeaves(t *testing.T) {
	paths := ListPaths(validConfig())
	if len(paths) == 0 {
		t.Fatal("expected paths")
	}
	seen := map[string]bool{}
	for i, p := range paths {
		seen[p.Path] = true
		if i > 0 && paths[i-1].Path > p.Path {
			t.Fatalf("paths not sorted at %s", p.Path)
		}
	}
	for _, want := range []string{"discord.token", "agent.maxFeedbackDepth", "channels.0.name"} {
		if !seen[want] {
			t.Errorf("missing path %s", want)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_AR_VAR", "hello")
	if got := ExpandEnvVars("value: ${TEST_AR_VAR}"); got != "value: hello" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("TEST_AR_UNSET")
	if got := ExpandEnvVars("${TEST_AR_UNSET:-fallback}"); got != "fallback" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("TEST_AR_EMPTY", "")
	if got := ExpandEnvVars("${TEST_AR_EMPTY:-fallback}"); got != "fallback" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TEST_AR_UNSET")
	input := "token: ${TEST_AR_UNSET}"
	if got := ExpandEnvVars(input); got != input {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := "price: $5 and $HOME"
	if got := ExpandEnvVars(input); got != input {
		t.Fatalf("expected no change for bare $VAR, got %q", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Fatalf("got %q", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Fatalf("got %q", got)
	}
}
