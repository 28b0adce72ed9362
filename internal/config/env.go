package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for every environment overlay.
const EnvPrefix = "COURIER"

// applyEnv overlays secrets and endpoints from the environment, for example
// COURIER_REMOTE_API_KEY, COURIER_WEBHOOK_SECRET or COURIER_SLACK_TOKEN.
// Unset variables leave the file values in place.
func applyEnv(cfg *Config) error {
	overlays := []struct {
		prefix string
		target interface{}
	}{
		{EnvPrefix + "_REMOTE", &cfg.Remote},
		{EnvPrefix + "_WEBHOOK", &cfg.Webhook},
		{EnvPrefix + "_SLACK", &cfg.Notify.Slack},
	}
	for _, o := range overlays {
		if err := envconfig.Process(o.prefix, o.target); err != nil {
			return fmt.Errorf("reading %s_* environment: %w", o.prefix, err)
		}
	}
	return nil
}
