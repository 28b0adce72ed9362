package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/courier/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `Display the effective courier configuration.

Configuration is read from ~/.config/courier/config.yaml, overridden by
.courier.yaml in the current directory or a parent, then by COURIER_*
environment variables. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		displayAllConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var configTablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Print the effective classification tables as YAML",
	Long: `Print the keyword, timeout and cost tables in effect, built-in defaults
merged with tables_path. The output is a valid tables file to start from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		tables, err := loadTables(cfg)
		if err != nil {
			return err
		}
		if tables == nil {
			tables = config.DefaultTables()
		}
		data, err := tables.Marshal()
		if err != nil {
			return fmt.Errorf("marshal tables: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(out, "project: %s\n", project)
		fmt.Fprintf(out, "db:      %s\n", config.DefaultDatabasePath())
	},
}

func init() {
	configCmd.AddCommand(configTablesCmd)
	configCmd.AddCommand(configPathCmd)
}

// displayAllConfig prints all configuration values.
func displayAllConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "remote.base_url: %s\n", cfg.Remote.BaseURL)
	fmt.Fprintf(out, "remote.api_key: %s\n", config.MaskAPIKey(cfg.Remote.APIKey))
	fmt.Fprintf(out, "remote.organization_id: %s\n", cfg.Remote.OrganizationID)
	fmt.Fprintf(out, "remote.request_timeout: %s\n", cfg.Remote.RequestTimeout)
	fmt.Fprintf(out, "remote.poll_interval: %s\n", cfg.Remote.PollInterval)
	fmt.Fprintf(out, "webhook.addr: %s\n", cfg.Webhook.Addr)
	fmt.Fprintf(out, "webhook.path: %s\n", cfg.Webhook.Path)
	fmt.Fprintf(out, "webhook.secret: %s\n", maskSecret(cfg.Webhook.Secret))
	fmt.Fprintf(out, "webhook.dedupe_size: %d\n", cfg.Webhook.DedupeSize)
	fmt.Fprintf(out, "orchestrator.max_concurrent: %d\n", cfg.Orchestrator.MaxConcurrent)
	fmt.Fprintf(out, "orchestrator.tick_interval: %s\n", cfg.Orchestrator.TickInterval)
	fmt.Fprintf(out, "orchestrator.stall_timeout: %s\n", cfg.Orchestrator.StallTimeout)
	fmt.Fprintf(out, "orchestrator.completion: %s\n", cfg.Orchestrator.Completion)
	fmt.Fprintf(out, "decision.min_complexity: %d\n", cfg.Decision.MinComplexity)
	fmt.Fprintf(out, "decision.split_file_threshold: %d\n", cfg.Decision.SplitFileThreshold)
	fmt.Fprintf(out, "decision.branch_prefix: %s\n", cfg.Decision.BranchPrefix)
	fmt.Fprintf(out, "decision.branch_max_length: %d\n", cfg.Decision.BranchMaxLength)
	fmt.Fprintf(out, "decision.max_retries: %d\n", cfg.Decision.MaxRetries)
	fmt.Fprintf(out, "decision.deny_labels: %s\n", strings.Join(cfg.Decision.DenyLabels, ","))
	fmt.Fprintf(out, "decision.allow_labels: %s\n", strings.Join(cfg.Decision.AllowLabels, ","))
	fmt.Fprintf(out, "decision.reviewers: %s\n", strings.Join(cfg.Decision.Reviewers, ","))
	fmt.Fprintf(out, "storage.driver: %s\n", cfg.Storage.Driver)
	fmt.Fprintf(out, "storage.path: %s\n", cfg.Storage.Path)
	fmt.Fprintf(out, "storage.retention_days: %d\n", cfg.Storage.RetentionDays)
	fmt.Fprintf(out, "notify.max_retries: %d\n", cfg.Notify.MaxRetries)
	fmt.Fprintf(out, "notify.kafka.brokers: %s\n", strings.Join(cfg.Notify.Kafka.Brokers, ","))
	fmt.Fprintf(out, "notify.kafka.topic: %s\n", cfg.Notify.Kafka.Topic)
	fmt.Fprintf(out, "notify.slack.token: %s\n", config.MaskAPIKey(cfg.Notify.Slack.Token))
	fmt.Fprintf(out, "notify.slack.channel: %s\n", cfg.Notify.Slack.Channel)
	fmt.Fprintf(out, "tables_path: %s\n", cfg.TablesPath)
}

// maskSecret hides a shared secret entirely.
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "****"
}
