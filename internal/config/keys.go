package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no remote agent API key is configured.
var ErrNoAPIKey = errors.New("no remote agent API key configured")

// apiKeyEnv is the variable checked ahead of any config file.
const apiKeyEnv = EnvPrefix + "_REMOTE_API_KEY"

// GetAPIKey returns the remote agent API key from the configuration.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv(apiKeyEnv); key != "" {
		return key, nil
	}

	if cfg != nil && cfg.Remote.APIKey != "" {
		key := os.ExpandEnv(cfg.Remote.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// ValidateAPIKey performs basic validation on an API key.
// It does not verify the key with the remote agent.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if strings.ContainsAny(key, " \t\n") {
		return errors.New("invalid API key format: contains whitespace")
	}
	if len(key) < 16 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns a masked version of a secret for display.
// Shows the first 4 and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 12 {
		return "***"
	}

	return key[:4] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	if os.Getenv(apiKeyEnv) != "" {
		return KeySourceEnv
	}

	if cfg != nil && cfg.Remote.APIKey != "" {
		key := os.ExpandEnv(cfg.Remote.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}

	return KeySourceNone
}
