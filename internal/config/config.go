// Package config loads the minibot configuration file. Unknown keys are
// rejected so a typo fails startup instead of silently disabling a
// feature.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration. It is built once at startup and
// treated as immutable afterwards.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Storage   StorageConfig   `json:"storage"`
	Tools     ToolsConfig     `json:"tools"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	LogLevel  string          `json:"logLevel"`
}

type AgentConfig struct {
	Workspace      string `json:"workspace"`
	MaxIterations  int    `json:"maxIterations"`
	MaxConcurrent  int    `json:"maxConcurrent"`
	SessionWindow  int    `json:"sessionWindow"`
	SubAgentDepth  int    `json:"subAgentDepth"`
	Instructions   string `json:"instructions,omitempty"`
	BusBufferSize  int    `json:"busBufferSize"`
}

type ProviderConfig struct {
	APIKey      string  `json:"apiKey"`
	APIBase     string  `json:"apiBase,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token,omitempty"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token,omitempty"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken,omitempty"`
	AppToken string `json:"appToken,omitempty"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath"`
}

type ToolsConfig struct {
	ExecTimeoutSeconds  int    `json:"execTimeoutSeconds"`
	ToolTimeoutSeconds  int    `json:"toolTimeoutSeconds"`
	RestrictToWorkspace bool   `json:"restrictToWorkspace"`
	BraveAPIKey         string `json:"braveApiKey,omitempty"`
}

type HeartbeatConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"intervalMinutes"`
}

// Defaults returns a config with every tunable at its default.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:     "~/.minibot/workspace",
			MaxIterations: 20,
			MaxConcurrent: 4,
			SessionWindow: 100,
			SubAgentDepth: 2,
			BusBufferSize: 64,
		},
		Provider: ProviderConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Storage: StorageConfig{
			DBPath: "~/.minibot/minibot.db",
		},
		Tools: ToolsConfig{
			ExecTimeoutSeconds:  60,
			ToolTimeoutSeconds:  120,
			RestrictToWorkspace: true,
		},
		Heartbeat: HeartbeatConfig{
			IntervalMinutes: 30,
		},
		LogLevel: "info",
	}
}

func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".minibot"
	}
	return filepath.Join(home, ".minibot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads and validates a config file. ${VAR} references are expanded
// from the environment before parsing; unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Agent.Workspace = ExpandPath(cfg.Agent.Workspace)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating the directory.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks ranges and cross-field requirements. Everything wrong
// is reported at once so the operator fixes the file in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.MaxIterations < 1 || c.Agent.MaxIterations > 200 {
		errs = append(errs, "agent.maxIterations must be between 1 and 200")
	}
	if c.Agent.MaxConcurrent < 1 || c.Agent.MaxConcurrent > 100 {
		errs = append(errs, "agent.maxConcurrent must be between 1 and 100")
	}
	if c.Agent.SessionWindow < 2 {
		errs = append(errs, "agent.sessionWindow must be >= 2")
	}
	if c.Agent.SubAgentDepth < 1 {
		errs = append(errs, "agent.subAgentDepth must be >= 1")
	}
	if c.Agent.BusBufferSize < 1 {
		errs = append(errs, "agent.busBufferSize must be >= 1")
	}
	if c.Provider.Model == "" {
		errs = append(errs, "provider.model is required")
	}
	if c.Tools.ExecTimeoutSeconds < 1 {
		errs = append(errs, "tools.execTimeoutSeconds must be >= 1")
	}
	if c.Tools.ToolTimeoutSeconds < 1 {
		errs = append(errs, "tools.toolTimeoutSeconds must be >= 1")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	if c.Channels.Slack.Enabled && (c.Channels.Slack.BotToken == "" || c.Channels.Slack.AppToken == "") {
		errs = append(errs, "channels.slack.botToken and appToken are required when slack is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} references with environment values.
// ${VAR:-default} falls back to the default when VAR is unset or empty;
// a plain ${VAR} with no value is left untouched so validation can
// report the missing secret by name.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[2]

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if fallback != "" {
			return fallback
		}
		return match
	})
}

// ExpandPath resolves a leading ~/ to the user's home directory.
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
