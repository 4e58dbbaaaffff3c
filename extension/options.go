package extension

import (
	"time"

	"github.com/xraph/storekit"
	"github.com/xraph/storekit/backend"
	"github.com/xraph/storekit/plugin"
	"github.com/xraph/storekit/store"
)

// Option configures the storekit Forge extension.
type Option func(*Extension)

// WithStore sets the durable store. It overrides the configured driver.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithBackend sets the purchase service. Required in the live environment.
func WithBackend(svc backend.Service) Option {
	return func(e *Extension) {
		e.backend = svc
	}
}

// WithManagerOption passes a storekit.Option through to the underlying manager.
func WithManagerOption(opt storekit.Option) Option {
	return func(e *Extension) {
		e.managerOpts = append(e.managerOpts, opt)
	}
}

// WithPlugin registers a storekit plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.managerOpts = append(e.managerOpts, storekit.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableStart prevents starting the manager with the application.
func WithDisableStart() Option {
	return func(e *Extension) { e.config.DisableStart = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithNamespace sets the entitlement key prefix.
func WithNamespace(ns string) Option {
	return func(e *Extension) { e.config.Namespace = ns }
}

// WithStoreDriver selects the store driver and its address.
func WithStoreDriver(driver, dsn string) Option {
	return func(e *Extension) {
		e.config.Store.Driver = driver
		e.config.Store.DSN = dsn
	}
}

// WithDispatchTimeout sets the per-hook budget past which slow hooks are logged.
func WithDispatchTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.DispatchTimeout = d }
}

// WithStrictInvariants makes invariant violations panic.
func WithStrictInvariants() Option {
	return func(e *Extension) { e.config.StrictInvariants = true }
}
