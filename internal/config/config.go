// Package config handles configuration loading and management for courier.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for courier.
type Config struct {
	Remote       RemoteConfig       `mapstructure:"remote"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Decision     DecisionConfig     `mapstructure:"decision"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	// TablesPath points at a YAML file overriding the built-in keyword,
	// timeout and cost tables. Empty means built-in tables only.
	TablesPath string `mapstructure:"tables_path"`
}

// RemoteConfig holds settings for the remote execution agent API.
type RemoteConfig struct {
	BaseURL        string        `mapstructure:"base_url" split_words:"true"`
	APIKey         string        `mapstructure:"api_key" split_words:"true"`
	OrganizationID string        `mapstructure:"organization_id" split_words:"true"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" split_words:"true"`
	PollInterval   time.Duration `mapstructure:"poll_interval" split_words:"true"`
}

// WebhookConfig holds settings for the inbound webhook endpoint.
type WebhookConfig struct {
	Addr   string `mapstructure:"addr" split_words:"true"`
	Path   string `mapstructure:"path" split_words:"true"`
	Secret string `mapstructure:"secret" split_words:"true"`
	// DedupeSize bounds the number of remote tasks whose last status is remembered.
	DedupeSize int `mapstructure:"dedupe_size" split_words:"true"`
}

// OrchestratorConfig holds per-session scheduling settings.
type OrchestratorConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	// StallTimeout fails blocked tasks after this long without progress. Zero disables it.
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
	// Completion is "webhook" (events applied from the webhook endpoint)
	// or "poll" (each task long-polls the remote agent).
	Completion string `mapstructure:"completion"`
}

// DecisionConfig holds delegation gate and option settings.
type DecisionConfig struct {
	MinComplexity      int      `mapstructure:"min_complexity"`
	SplitFileThreshold int      `mapstructure:"split_file_threshold"`
	BranchPrefix       string   `mapstructure:"branch_prefix"`
	BranchMaxLength    int      `mapstructure:"branch_max_length"`
	MaxRetries         int      `mapstructure:"max_retries"`
	DenyLabels         []string `mapstructure:"deny_labels"`
	AllowLabels        []string `mapstructure:"allow_labels"`
	Reviewers          []string `mapstructure:"reviewers"`
}

// StorageConfig holds session persistence settings.
type StorageConfig struct {
	// Driver is "sqlite" (pure Go), "sqlite3" (cgo) or "memory".
	Driver        string `mapstructure:"driver"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// NotifyConfig holds reporter sink settings.
type NotifyConfig struct {
	MaxRetries int         `mapstructure:"max_retries"`
	Kafka      KafkaConfig `mapstructure:"kafka"`
	Slack      SlackConfig `mapstructure:"slack"`
}

// KafkaConfig configures the Kafka reporter. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// SlackConfig configures the Slack reporter. Empty Token disables it.
type SlackConfig struct {
	Token   string `mapstructure:"token" split_words:"true"`
	Channel string `mapstructure:"channel" split_words:"true"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (COURIER_REMOTE_*, COURIER_WEBHOOK_*, COURIER_SLACK_*)
// 2. Project config (.courier.yaml in current directory or parent)
// 3. User config (~/.config/courier/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in secrets
	cfg.Remote.APIKey = expandEnv(cfg.Remote.APIKey)
	cfg.Webhook.Secret = expandEnv(cfg.Webhook.Secret)
	cfg.Notify.Slack.Token = expandEnv(cfg.Notify.Slack.Token)

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail far from their source.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxConcurrent < 1 {
		return fmt.Errorf("orchestrator.max_concurrent must be at least 1, got %d", c.Orchestrator.MaxConcurrent)
	}
	if c.Orchestrator.TickInterval <= 0 {
		return fmt.Errorf("orchestrator.tick_interval must be positive, got %v", c.Orchestrator.TickInterval)
	}
	switch c.Orchestrator.Completion {
	case CompletionWebhook, CompletionPoll:
	default:
		return fmt.Errorf("orchestrator.completion must be %q or %q, got %q", CompletionWebhook, CompletionPoll, c.Orchestrator.Completion)
	}
	switch c.Storage.Driver {
	case "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Decision.BranchMaxLength < 8 {
		return fmt.Errorf("decision.branch_max_length must be at least 8, got %d", c.Decision.BranchMaxLength)
	}
	return nil
}

// Completion modes.
const (
	CompletionWebhook = "webhook"
	CompletionPoll    = "poll"
)

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DefaultDatabasePath returns the default SQLite location under the user data dir.
func DefaultDatabasePath() string {
	return filepath.Join(getUserConfigDir(), "courier.db")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.organization_id", "")
	v.SetDefault("remote.request_timeout", "30s")
	v.SetDefault("remote.poll_interval", "10s")

	v.SetDefault("webhook.addr", d.Webhook.Addr)
	v.SetDefault("webhook.path", d.Webhook.Path)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.dedupe_size", d.Webhook.DedupeSize)

	v.SetDefault("orchestrator.max_concurrent", d.Orchestrator.MaxConcurrent)
	v.SetDefault("orchestrator.tick_interval", "2s")
	v.SetDefault("orchestrator.stall_timeout", "0s")
	v.SetDefault("orchestrator.completion", d.Orchestrator.Completion)

	v.SetDefault("decision.min_complexity", d.Decision.MinComplexity)
	v.SetDefault("decision.split_file_threshold", d.Decision.SplitFileThreshold)
	v.SetDefault("decision.branch_prefix", d.Decision.BranchPrefix)
	v.SetDefault("decision.branch_max_length", d.Decision.BranchMaxLength)
	v.SetDefault("decision.max_retries", d.Decision.MaxRetries)
	v.SetDefault("decision.deny_labels", []string{})
	v.SetDefault("decision.allow_labels", []string{})
	v.SetDefault("decision.reviewers", []string{})

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.retention_days", d.Storage.RetentionDays)

	v.SetDefault("notify.max_retries", d.Notify.MaxRetries)
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.topic", d.Notify.Kafka.Topic)
	v.SetDefault("notify.slack.token", "")
	v.SetDefault("notify.slack.channel", "")

	v.SetDefault("tables_path", "")
}

// getUserConfigDir returns the XDG config directory for courier.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "courier")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "courier")
	}
	return filepath.Join(home, ".config", "courier")
}

// findProjectConfig searches for .courier.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".courier.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			RequestTimeout: 30 * time.Second,
			PollInterval:   10 * time.Second,
		},
		Webhook: WebhookConfig{
			Addr:       ":8080",
			Path:       "/webhooks/agent",
			DedupeSize: 4096,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrent: 3,
			TickInterval:  2 * time.Second,
			Completion:    CompletionWebhook,
		},
		Decision: DecisionConfig{
			MinComplexity:      3,
			SplitFileThreshold: 5,
			BranchPrefix:       "courier",
			BranchMaxLength:    40,
			MaxRetries:         2,
		},
		Storage: StorageConfig{
			Driver:        "sqlite",
			Path:          DefaultDatabasePath(),
			RetentionDays: 30,
		},
		Notify: NotifyConfig{
			MaxRetries: 3,
			Kafka: KafkaConfig{
				Topic: "courier.sessions",
			},
		},
	}
}
