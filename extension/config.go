package extension

import "github.com/xraph/storekit/config"

// Config holds the storekit extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.storekit" or "storekit" keys).
type Config struct {
	config.Config `mapstructure:",squash" yaml:",inline"`

	// DisableStart prevents starting the manager with the application.
	DisableStart bool `json:"disable_start" mapstructure:"disable_start" yaml:"disable_start"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Config: config.DefaultConfig()}
}
