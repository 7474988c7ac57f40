package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay.
type Config struct {
	Discord     DiscordConfig     `yaml:"discord"`
	Claude      ClaudeConfig      `yaml:"claude"`
	Agent       AgentConfig       `yaml:"agent"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
	Channels    []ChannelConfig   `yaml:"channels"`
}

type DiscordConfig struct {
	Token   string `yaml:"token"`
	User    string `yaml:"user"`                                  // operator user ID; only this user drives the agent
	GuildID string `yaml:"guildId,omitempty" split_words:"true"` // optional: guild used to resolve channel names
}

type ClaudeConfig struct {
	Binary         string   `yaml:"binary"`
	Model          string   `yaml:"model,omitempty"`
	PermissionMode string   `yaml:"permissionMode" split_words:"true"`
	MaxTurns       int      `yaml:"maxTurns" split_words:"true"`
	ExtraArgs      []string `yaml:"extraArgs,omitempty" split_words:"true"`
}

type AgentConfig struct {
	MaxFeedbackDepth int    `yaml:"maxFeedbackDepth" split_words:"true"`
	MaxIterations    int    `yaml:"maxIterations" split_words:"true"`
	SystemPromptFile string `yaml:"systemPromptFile,omitempty" split_words:"true"`
	Workspace        string `yaml:"workspace"` // default working directory for channels without one
	MaxMessageLength int    `yaml:"maxMessageLength" split_words:"true"`
}

type SessionsConfig struct {
	Backend string `yaml:"backend"` // "file" | "sqlite"
	Path    string `yaml:"path"`
}

type AttachmentsConfig struct {
	Dir string `yaml:"dir"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" | "json"
	File   string `yaml:"file,omitempty"`
}

// ChannelConfig is one relayed channel.
type ChannelConfig struct {
	Name        string `yaml:"name"` // channel name or ID
	Skill       string `yaml:"skill,omitempty"`
	Workdir     string `yaml:"workdir,omitempty"`
	LogChannel  string `yaml:"logChannel,omitempty"`
	Schedule    string `yaml:"schedule,omitempty"` // cron spec for skill runs
	InitOnStart bool   `yaml:"initOnStart,omitempty"`
}

// EnvPrefix prefixes every environment override, e.g. AGENTRELAY_DISCORD_TOKEN.
const EnvPrefix = "AGENTRELAY"

// DefaultConfigPath returns $AGENTRELAY_CONFIG or agentrelay.yaml in the
// working directory.
func DefaultConfigPath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return "agentrelay.yaml"
}

// Defaults returns a config with every optional field filled in.
func Defaults() *Config {
	return &Config{
		Claude: ClaudeConfig{
			Binary:         "claude",
			PermissionMode: "bypassPermissions",
			MaxTurns:       1,
		},
		Agent: AgentConfig{
			MaxFeedbackDepth: 5,
			MaxIterations:    20,
			SystemPromptFile: "docs/PROMPT.md",
			Workspace:        ".",
			MaxMessageLength: 2000,
		},
		Sessions: SessionsConfig{
			Backend: "file",
			Path:    ".sessions.json",
		},
		Attachments: AttachmentsConfig{
			Dir: ".tmp",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config, substitutes ${VAR} references, applies
// AGENTRELAY_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.Agent.SystemPromptFile = ExpandPath(cfg.Agent.SystemPromptFile)
	cfg.Agent.Workspace = ExpandPath(cfg.Agent.Workspace)
	cfg.Sessions.Path = ExpandPath(cfg.Sessions.Path)
	cfg.Attachments.Dir = ExpandPath(cfg.Attachments.Dir)
	cfg.Log.File = ExpandPath(cfg.Log.File)
	for i := range cfg.Channels {
		cfg.Channels[i].Workdir = ExpandPath(cfg.Channels[i].Workdir)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides each section from AGENTRELAY_<SECTION>_<FIELD> variables.
// Unset variables leave the current value alone.
func ApplyEnv(cfg *Config) error {
	sections := []struct {
		name string
		spec any
	}{
		{"DISCORD", &cfg.Discord},
		{"CLAUDE", &cfg.Claude},
		{"AGENT", &cfg.Agent},
		{"SESSIONS", &cfg.Sessions},
		{"ATTACHMENTS", &cfg.Attachments},
		{"METRICS", &cfg.Metrics},
		{"LOG", &cfg.Log},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.spec); err != nil {
			return fmt.Errorf("environment overrides for %s: %w", strings.ToLower(s.name), err)
		}
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		def, hasDefault := groups[2], strings.Contains(match, ":-")

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// ReadFile reads a YAML config over the defaults as written: ${VAR}
// references stay unexpanded and nothing is validated. Used to edit a config
// file without baking secrets into it.
func ReadFile(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating the parent directory.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// TurnsPerUnit is the most agent turns one message or skill run can take:
// the first turn plus one per feedback level, capped by the iteration bound.
func (c *Config) TurnsPerUnit() int {
	return min(c.Agent.MaxIterations, c.Agent.MaxFeedbackDepth+1)
}

// Warnings reports settings that are valid but probably not what was meant.
func Warnings(cfg *Config) []string {
	var warns []string
	if cfg.Agent.MaxIterations <= cfg.Agent.MaxFeedbackDepth {
		warns = append(warns, fmt.Sprintf(
			"agent.maxIterations (%d) ends feedback chains before agent.maxFeedbackDepth (%d) is reached",
			cfg.Agent.MaxIterations, cfg.Agent.MaxFeedbackDepth))
	}
	return warns
}

// Validate checks that the config has valid values and reports every problem
// at once.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Discord.Token == "" {
		errs = append(errs, "discord.token is required")
	}
	if cfg.Discord.User == "" {
		errs = append(errs, "discord.user is required")
	}

	if cfg.Claude.Binary == "" {
		errs = append(errs, "claude.binary is required")
	}
	if cfg.Claude.MaxTurns < 1 {
		errs = append(errs, "claude.maxTurns must be >= 1")
	}

	if cfg.Agent.MaxFeedbackDepth < 0 {
		errs = append(errs, "agent.maxFeedbackDepth must be >= 0")
	}
	if cfg.Agent.MaxIterations < 1 || cfg.Agent.MaxIterations > 200 {
		errs = append(errs, "agent.maxIterations must be between 1 and 200")
	}
	if cfg.Agent.MaxMessageLength < 1 || cfg.Agent.MaxMessageLength > 2000 {
		errs = append(errs, "agent.maxMessageLength must be between 1 and 2000")
	}

	switch cfg.Sessions.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, "sessions.backend must be one of: file, sqlite")
	}
	if cfg.Sessions.Path == "" {
		errs = append(errs, "sessions.path is required")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if len(cfg.Channels) == 0 {
		errs = append(errs, "at least one channel must be configured")
	}
	seen := make(map[string]bool)
	for i, ch := range cfg.Channels {
		if ch.Name == "" {
			errs = append(errs, fmt.Sprintf("channels[%d].name is required", i))
			continue
		}
		if seen[ch.Name] {
			errs = append(errs, fmt.Sprintf("channels[%d]: duplicate channel %q", i, ch.Name))
		}
		seen[ch.Name] = true
		if ch.Schedule != "" {
			if _, err := cron.ParseStandard(ch.Schedule); err != nil {
				errs = append(errs, fmt.Sprintf("channels[%d].schedule: %v", i, err))
			}
			if ch.Skill == "" {
				errs = append(errs, fmt.Sprintf("channels[%d]: schedule requires a skill", i))
			}
		}
		if ch.InitOnStart && ch.Skill == "" {
			errs = append(errs, fmt.Sprintf("channels[%d]: initOnStart requires a skill", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// WorkdirFor returns the channel's working directory, falling back to the
// agent workspace.
func (c *Config) WorkdirFor(ch ChannelConfig) string {
	if ch.Workdir != "" {
		return ch.Workdir
	}
	return c.Agent.Workspace
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
