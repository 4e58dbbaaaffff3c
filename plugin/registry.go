package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/storekit/event"
)

// DefaultTimeout is the per-hook budget. Hooks that run longer are logged.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
//
// Emit runs hooks inline on the calling goroutine, one at a time in
// registration order, so every hook has returned when Emit returns and
// events are never reordered.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onPaymentsUnavailable []OnPaymentsUnavailable
	onLoadingStarted      []OnLoadingStarted
	onLoadingEnded        []OnLoadingEnded
	onPurchaseSucceeded   []OnPurchaseSucceeded
	onPurchaseFailed      []OnPurchaseFailed
	onPurchaseDeferred    []OnPurchaseDeferred
	onRestoreEmpty        []OnRestoreEmpty
	onRestoreCompleted    []OnRestoreCompleted
	onRestoreFailed       []OnRestoreFailed
	onEvent               []OnEvent

	observers map[event.Kind][]observer
	nextObs   uint64
}

type observer struct {
	id uint64
	fn HandlerFunc
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:    slog.Default(),
		timeout:   DefaultTimeout,
		observers: make(map[event.Kind][]observer),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook budget. A hook that overruns it is logged
// but never abandoned. Non-positive values are ignored.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnPaymentsUnavailable); ok {
		r.onPaymentsUnavailable = append(r.onPaymentsUnavailable, v)
	}
	if v, ok := p.(OnLoadingStarted); ok {
		r.onLoadingStarted = append(r.onLoadingStarted, v)
	}
	if v, ok := p.(OnLoadingEnded); ok {
		r.onLoadingEnded = append(r.onLoadingEnded, v)
	}
	if v, ok := p.(OnPurchaseSucceeded); ok {
		r.onPurchaseSucceeded = append(r.onPurchaseSucceeded, v)
	}
	if v, ok := p.(OnPurchaseFailed); ok {
		r.onPurchaseFailed = append(r.onPurchaseFailed, v)
	}
	if v, ok := p.(OnPurchaseDeferred); ok {
		r.onPurchaseDeferred = append(r.onPurchaseDeferred, v)
	}
	if v, ok := p.(OnRestoreEmpty); ok {
		r.onRestoreEmpty = append(r.onRestoreEmpty, v)
	}
	if v, ok := p.(OnRestoreCompleted); ok {
		r.onRestoreCompleted = append(r.onRestoreCompleted, v)
	}
	if v, ok := p.(OnRestoreFailed); ok {
		r.onRestoreFailed = append(r.onRestoreFailed, v)
	}
	if v, ok := p.(OnEvent); ok {
		r.onEvent = append(r.onEvent, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnPaymentsUnavailable)(nil)).Elem(), "OnPaymentsUnavailable")
	checkInterface(reflect.TypeOf((*OnLoadingStarted)(nil)).Elem(), "OnLoadingStarted")
	checkInterface(reflect.TypeOf((*OnLoadingEnded)(nil)).Elem(), "OnLoadingEnded")
	checkInterface(reflect.TypeOf((*OnPurchaseSucceeded)(nil)).Elem(), "OnPurchaseSucceeded")
	checkInterface(reflect.TypeOf((*OnPurchaseFailed)(nil)).Elem(), "OnPurchaseFailed")
	checkInterface(reflect.TypeOf((*OnPurchaseDeferred)(nil)).Elem(), "OnPurchaseDeferred")
	checkInterface(reflect.TypeOf((*OnRestoreEmpty)(nil)).Elem(), "OnRestoreEmpty")
	checkInterface(reflect.TypeOf((*OnRestoreCompleted)(nil)).Elem(), "OnRestoreCompleted")
	checkInterface(reflect.TypeOf((*OnRestoreFailed)(nil)).Elem(), "OnRestoreFailed")
	checkInterface(reflect.TypeOf((*OnEvent)(nil)).Elem(), "OnEvent")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Observe subscribes fn to events of the given kind and returns a func that
// cancels the subscription. Observers run after plugins.
func (r *Registry) Observe(kind event.Kind, fn HandlerFunc) (cancel func()) {
	r.mu.Lock()
	r.nextObs++
	obsID := r.nextObs
	r.observers[kind] = append(r.observers[kind], observer{id: obsID, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			list := r.observers[kind]
			for i, o := range list {
				if o.id == obsID {
					// Copy so an Emit holding the old slice is unaffected.
					next := make([]observer, 0, len(list)-1)
					next = append(next, list[:i]...)
					r.observers[kind] = append(next, list[i+1:]...)
					return
				}
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, m interface{}) {
	ctx = context.WithoutCancel(ctx)
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnInit", p.Name(), func() error { return p.OnInit(ctx, m) })
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, "OnShutdown", p.Name(), func() error { return p.OnShutdown(ctx) })
	}
}

// Emit delivers ev to the typed hooks for its kind, then to OnEvent
// plugins, then to observers of its kind. Hooks see ctx's values but not
// its cancellation, so a cancelled caller still reaches every subscriber.
func (r *Registry) Emit(ctx context.Context, ev event.Event) {
	ctx = context.WithoutCancel(ctx)
	r.mu.RLock()
	calls := r.typedHooks(ctx, ev)
	for _, p := range r.onEvent {
		calls = append(calls, hookCall{"OnEvent", p.Name(), func() error { return p.OnEvent(ctx, ev) }})
	}
	for _, o := range r.observers[ev.Kind()] {
		calls = append(calls, hookCall{"observer", string(ev.Kind()), func() error { return o.fn(ctx, ev) }})
	}
	r.mu.RUnlock()

	for _, c := range calls {
		if err := r.invoke(c.hook, c.plugin, c.fn); err != nil {
			r.logger.Warn("plugin "+c.hook+" failed",
				"plugin", c.plugin,
				"event", ev.Kind(),
				"error", err,
			)
		}
	}
}

type hookCall struct {
	hook   string
	plugin string
	fn     func() error
}

// typedHooks resolves the typed hooks for ev. Callers hold r.mu.
func (r *Registry) typedHooks(ctx context.Context, ev event.Event) []hookCall {
	var calls []hookCall
	switch e := ev.(type) {
	case event.LoadingStarted:
		for _, p := range r.onLoadingStarted {
			calls = append(calls, hookCall{"OnLoadingStarted", p.Name(), func() error { return p.OnLoadingStarted(ctx) }})
		}
	case event.LoadingEnded:
		for _, p := range r.onLoadingEnded {
			calls = append(calls, hookCall{"OnLoadingEnded", p.Name(), func() error { return p.OnLoadingEnded(ctx) }})
		}
	case event.PaymentsUnavailable:
		for _, p := range r.onPaymentsUnavailable {
			calls = append(calls, hookCall{"OnPaymentsUnavailable", p.Name(), func() error { return p.OnPaymentsUnavailable(ctx) }})
		}
	case event.PurchaseSucceeded:
		for _, p := range r.onPurchaseSucceeded {
			calls = append(calls, hookCall{"OnPurchaseSucceeded", p.Name(), func() error { return p.OnPurchaseSucceeded(ctx, e) }})
		}
	case event.PurchaseFailed:
		for _, p := range r.onPurchaseFailed {
			calls = append(calls, hookCall{"OnPurchaseFailed", p.Name(), func() error { return p.OnPurchaseFailed(ctx, e) }})
		}
	case event.PurchaseDeferred:
		for _, p := range r.onPurchaseDeferred {
			calls = append(calls, hookCall{"OnPurchaseDeferred", p.Name(), func() error { return p.OnPurchaseDeferred(ctx, e) }})
		}
	case event.RestoreEmpty:
		for _, p := range r.onRestoreEmpty {
			calls = append(calls, hookCall{"OnRestoreEmpty", p.Name(), func() error { return p.OnRestoreEmpty(ctx, e) }})
		}
	case event.RestoreCompleted:
		for _, p := range r.onRestoreCompleted {
			calls = append(calls, hookCall{"OnRestoreCompleted", p.Name(), func() error { return p.OnRestoreCompleted(ctx, e) }})
		}
	case event.RestoreFailed:
		for _, p := range r.onRestoreFailed {
			calls = append(calls, hookCall{"OnRestoreFailed", p.Name(), func() error { return p.OnRestoreFailed(ctx, e) }})
		}
	}
	return calls
}

// call runs a lifecycle hook and logs its failure.
func (r *Registry) call(_ context.Context, hook, pluginName string, fn func() error) {
	if err := r.invoke(hook, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// invoke runs fn on the calling goroutine. A panicking hook is reported as
// an error and a hook that overruns the budget is logged.
func (r *Registry) invoke(hook, pluginName string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
		}
		if elapsed := time.Since(start); elapsed > r.timeout {
			r.logger.Warn("plugin "+hook+" exceeded budget",
				"plugin", pluginName,
				"elapsed", elapsed,
				"budget", r.timeout,
			)
		}
	}()
	return fn()
}
