// Package config loads storekit settings from YAML files and STOREKIT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/storekit/entitlement"
	"github.com/xraph/storekit/sandbox"
)

// Environments.
const (
	EnvSandbox = "sandbox"
	EnvLive    = "live"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// DefaultPaths are tried in order when Load is called without a path.
var DefaultPaths = []string{
	"storekit.yaml",
	"configs/storekit.yaml",
}

// Config holds the storekit configuration.
// Fields can be set programmatically or loaded from YAML configuration files
// (under "extensions.storekit" or "storekit" keys when used with Forge).
type Config struct {
	// Environment selects the purchase service: "sandbox" or "live".
	Environment string `json:"environment" mapstructure:"environment" yaml:"environment"`

	// Namespace prefixes every entitlement key (default: "Purchased-").
	Namespace string `json:"namespace" mapstructure:"namespace" yaml:"namespace"`

	// Store selects the durable key-value backend.
	Store StoreConfig `json:"store" mapstructure:"store" yaml:"store"`

	// DispatchTimeout is the per-hook budget; slower hooks are logged (default: 5s).
	DispatchTimeout time.Duration `json:"dispatch_timeout" mapstructure:"dispatch_timeout" yaml:"dispatch_timeout"`

	// StrictInvariants panics on invariant violations instead of logging.
	StrictInvariants bool `json:"strict_invariants" mapstructure:"strict_invariants" yaml:"strict_invariants"`

	// Sandbox configures the simulated purchase service.
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox" yaml:"sandbox"`
}

// StoreConfig selects and addresses a store backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, mongo (default: sqlite).
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// DSN is the file path (sqlite), connection string (postgres) or URI (mongo).
	DSN string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`

	// Database is the mongo database name.
	Database string `json:"database" mapstructure:"database" yaml:"database"`
}

// SandboxConfig configures the sandbox service.
type SandboxConfig struct {
	CanMakePayments *bool         `json:"can_make_payments" mapstructure:"can_make_payments" yaml:"can_make_payments"`
	RateLimit       float64       `json:"rate_limit" mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst           int           `json:"burst" mapstructure:"burst" yaml:"burst"`
	Latency         time.Duration `json:"latency" mapstructure:"latency" yaml:"latency"`
	History         []string      `json:"history" mapstructure:"history" yaml:"history"`
	Catalog         []ItemConfig  `json:"catalog" mapstructure:"catalog" yaml:"catalog"`
}

// ItemConfig is a sandbox catalog entry. Price is a decimal in major units.
type ItemConfig struct {
	ID          string `json:"id" mapstructure:"id" yaml:"id"`
	Title       string `json:"title" mapstructure:"title" yaml:"title"`
	Description string `json:"description" mapstructure:"description" yaml:"description"`
	Price       string `json:"price" mapstructure:"price" yaml:"price"`
	Currency    string `json:"currency" mapstructure:"currency" yaml:"currency"`
	Outcome     string `json:"outcome" mapstructure:"outcome" yaml:"outcome"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Environment:     EnvSandbox,
		Namespace:       entitlement.DefaultNamespace,
		DispatchTimeout: 5 * time.Second,
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    "storekit.db",
		},
	}
}

// Load reads the YAML file at path over DefaultConfig and applies
// environment overrides. An empty path tries DefaultPaths and falls back to
// defaults when none exists.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	candidates := DefaultPaths
	if path != "" {
		candidates = []string{path}
	}

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == "" {
				continue
			}
			return Config{}, fmt.Errorf("config: read %s: %w", p, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", p, err)
		}
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnvOverrides applies STOREKIT_* environment variables.
func ApplyEnvOverrides(cfg *Config) error {
	if v := env("STOREKIT_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := env("STOREKIT_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := env("STOREKIT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := env("STOREKIT_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := env("STOREKIT_STORE_DATABASE"); v != "" {
		cfg.Store.Database = v
	}
	if v := env("STOREKIT_DISPATCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: STOREKIT_DISPATCH_TIMEOUT: %w", err)
		}
		cfg.DispatchTimeout = d
	}
	if v := env("STOREKIT_STRICT_INVARIANTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: STOREKIT_STRICT_INVARIANTS: %w", err)
		}
		cfg.StrictInvariants = b
	}
	if v := env("STOREKIT_SANDBOX_CAN_MAKE_PAYMENTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: STOREKIT_SANDBOX_CAN_MAKE_PAYMENTS: %w", err)
		}
		cfg.Sandbox.CanMakePayments = &b
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvSandbox, EnvLive:
	default:
		return fmt.Errorf("config: unknown environment %q", c.Environment)
	}
	if c.Namespace == "" {
		return errors.New("config: namespace is required")
	}
	if c.DispatchTimeout < 0 {
		return errors.New("config: dispatch_timeout must not be negative")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store %s requires a dsn", c.Store.Driver)
		}
	case DriverMongo:
		if c.Store.DSN == "" || c.Store.Database == "" {
			return errors.New("config: store mongo requires a dsn and a database")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	if c.Sandbox.RateLimit < 0 || c.Sandbox.Burst < 0 {
		return errors.New("config: sandbox rate limit must not be negative")
	}
	_, err := c.Sandbox.Items()
	return err
}

// Items builds the sandbox catalog. An empty catalog yields the default one.
func (s SandboxConfig) Items() ([]sandbox.Item, error) {
	if len(s.Catalog) == 0 {
		return sandbox.DefaultCatalog(), nil
	}

	items := make([]sandbox.Item, 0, len(s.Catalog))
	seen := make(map[string]bool, len(s.Catalog))
	for _, ic := range s.Catalog {
		if seen[ic.ID] {
			return nil, fmt.Errorf("config: duplicate catalog item %q", ic.ID)
		}
		seen[ic.ID] = true

		currency := ic.Currency
		if currency == "" {
			currency = "usd"
		}
		it, err := sandbox.NewItem(ic.ID, ic.Title, ic.Description, ic.Price, currency, sandbox.Outcome(ic.Outcome))
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		items = append(items, it)
	}
	return items, nil
}

// Options translates the sandbox section into sandbox options.
func (s SandboxConfig) Options() []sandbox.Option {
	var opts []sandbox.Option
	if s.CanMakePayments != nil {
		opts = append(opts, sandbox.WithCanMakePayments(*s.CanMakePayments))
	}
	if s.RateLimit > 0 {
		opts = append(opts, sandbox.WithRateLimit(s.RateLimit, s.Burst))
	}
	if s.Latency > 0 {
		opts = append(opts, sandbox.WithLatency(s.Latency))
	}
	if len(s.History) > 0 {
		opts = append(opts, sandbox.WithHistory(s.History...))
	}
	return opts
}
