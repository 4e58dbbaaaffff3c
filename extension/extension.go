// Package extension provides the Forge extension adapter for storekit.
//
// It implements the forge.Extension interface to integrate the purchase
// manager into a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.storekit" or "storekit" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/storekit"
	"github.com/xraph/storekit/backend"
	"github.com/xraph/storekit/config"
	"github.com/xraph/storekit/sandbox"
	"github.com/xraph/storekit/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "storekit"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "In-app purchase transaction manager"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts storekit as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	manager     *storekit.Manager
	store       store.Store
	backend     backend.Service
	managerOpts []storekit.Option
}

// New creates a new storekit Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Manager returns the underlying purchase manager.
// This is nil until Register is called.
func (e *Extension) Manager() *storekit.Manager { return e.manager }

// Register implements [forge.Extension]. It loads configuration,
// opens the store, builds the manager, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.build(context.Background()); err != nil {
		return err
	}

	return vessel.Provide(fapp.Container(), func() (*storekit.Manager, error) {
		return e.manager, nil
	})
}

// build resolves the store and backend and creates the manager.
func (e *Extension) build(ctx context.Context) error {
	if err := e.config.Validate(); err != nil {
		return err
	}

	if e.backend == nil {
		svc, err := e.defaultBackend()
		if err != nil {
			return err
		}
		e.backend = svc
	}

	// Open the configured store if none was provided programmatically.
	if e.store == nil {
		s, err := OpenStore(ctx, e.config.Store)
		if err != nil {
			return err
		}
		e.store = s
	}

	e.manager = storekit.New(e.backend, e.store, e.buildManagerOpts()...)
	return nil
}

func (e *Extension) defaultBackend() (backend.Service, error) {
	if e.config.Environment != config.EnvSandbox {
		return nil, fmt.Errorf("storekit: environment %q requires WithBackend", e.config.Environment)
	}
	items, err := e.config.Sandbox.Items()
	if err != nil {
		return nil, err
	}
	return sandbox.New(items, e.config.Sandbox.Options()...), nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.manager == nil {
		return errors.New("storekit: extension not initialized")
	}

	if !e.config.DisableStart {
		if err := e.manager.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.manager != nil {
		if err := e.manager.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("storekit: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildManagerOpts constructs storekit.Option values from the resolved config.
func (e *Extension) buildManagerOpts() []storekit.Option {
	opts := make([]storekit.Option, 0, len(e.managerOpts)+3)

	// Apply config-derived options.
	opts = append(opts, storekit.WithNamespace(e.config.Namespace))
	if e.config.DispatchTimeout > 0 {
		opts = append(opts, storekit.WithDispatchTimeout(e.config.DispatchTimeout))
	}
	if e.config.StrictInvariants {
		opts = append(opts, storekit.WithStrictInvariants(true))
	}

	// Append any pass-through manager options.
	opts = append(opts, e.managerOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("storekit: configuration is required but not found in config files; " +
				"ensure 'extensions.storekit' or 'storekit' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("storekit: configuration loaded",
		forge.F("environment", e.config.Environment),
		forge.F("namespace", e.config.Namespace),
		forge.F("store_driver", e.config.Store.Driver),
		forge.F("dispatch_timeout", e.config.DispatchTimeout),
		forge.F("strict_invariants", e.config.StrictInvariants),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.storekit" first (namespaced pattern).
	if cm.IsSet("extensions.storekit") {
		if err := cm.Bind("extensions.storekit", &cfg); err == nil {
			e.Logger().Debug("storekit: loaded config from file",
				forge.F("key", "extensions.storekit"),
			)
			return cfg, true
		}
		e.Logger().Warn("storekit: failed to bind extensions.storekit config",
			forge.F("error", "bind failed"),
		)
	}

	// Try top-level "storekit" key.
	if cm.IsSet("storekit") {
		if err := cm.Bind("storekit", &cfg); err == nil {
			e.Logger().Debug("storekit: loaded config from file",
				forge.F("key", "storekit"),
			)
			return cfg, true
		}
		e.Logger().Warn("storekit: failed to bind storekit config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Environment == "" {
		cfg.Environment = defaults.Environment
	}
	if cfg.Namespace == "" {
		cfg.Namespace = defaults.Namespace
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
		if cfg.Store.DSN == "" {
			cfg.Store.DSN = defaults.Store.DSN
		}
	}
	if cfg.DispatchTimeout == 0 {
		cfg.DispatchTimeout = defaults.DispatchTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableStart {
		yamlConfig.DisableStart = true
	}
	if programmaticConfig.StrictInvariants {
		yamlConfig.StrictInvariants = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.Environment == "" {
		yamlConfig.Environment = programmaticConfig.Environment
	}
	if yamlConfig.Namespace == "" {
		yamlConfig.Namespace = programmaticConfig.Namespace
	}
	if yamlConfig.Store.Driver == "" {
		yamlConfig.Store = programmaticConfig.Store
	}

	// Duration fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.DispatchTimeout == 0 && programmaticConfig.DispatchTimeout != 0 {
		yamlConfig.DispatchTimeout = programmaticConfig.DispatchTimeout
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
