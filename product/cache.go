package product

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Sentinel errors for product lookups.
var (
	ErrFetchFailed       = errors.New("product: fetch failed")
	ErrMalformedResponse = errors.New("product: malformed store response")
	ErrInvalidProduct    = errors.New("product: invalid product identifier")
)

// Fetcher requests product metadata from the store service.
type Fetcher interface {
	RequestProducts(ctx context.Context, ids []string) (*Response, error)
}

// FetcherFunc is an adapter to use a plain function as a Fetcher.
type FetcherFunc func(ctx context.Context, ids []string) (*Response, error)

// RequestProducts implements Fetcher.
func (f FetcherFunc) RequestProducts(ctx context.Context, ids []string) (*Response, error) {
	return f(ctx, ids)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Fetches int64 `json:"fetches"`
}

// Cache memoizes product metadata by identifier for the lifetime of the
// process. Identifiers the store rejects are never cached.
//
// Concurrent lookups for the same uncached identifier set share one store
// request. A caller that gives up does not cancel the request for the
// others.
type Cache struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Product

	group singleflight.Group

	hits    atomic.Int64
	misses  atomic.Int64
	fetches atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// NewCache creates an empty cache backed by f.
func NewCache(f Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: f,
		logger:  slog.Default(),
		entries: make(map[string]*Product),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get resolves the given identifiers. Cached products are served without a
// store request; the rest are fetched together. On fetch failure nothing is
// cached and an error wrapping ErrFetchFailed is returned.
func (c *Cache) Get(ctx context.Context, ids []string) (*Result, error) {
	wanted := normalize(ids)
	res := &Result{Products: make(map[string]*Product, len(wanted))}

	var missing []string
	c.mu.RLock()
	for _, pid := range wanted {
		if p, ok := c.entries[pid]; ok {
			res.Products[pid] = p
		} else {
			missing = append(missing, pid)
		}
	}
	c.mu.RUnlock()

	c.hits.Add(int64(len(wanted) - len(missing)))
	if len(missing) == 0 {
		return res, nil
	}
	c.misses.Add(int64(len(missing)))

	// The shared fetch outlives any single caller; each caller stops
	// waiting when its own ctx is done.
	ch := c.group.DoChan(strings.Join(missing, "\x00"), func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), missing)
	})

	var shared singleflight.Result
	select {
	case shared = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, ctx.Err())
	}
	if shared.Err != nil {
		return nil, shared.Err
	}
	if shared.Shared {
		c.logger.Debug("product request coalesced", "products", missing)
	}

	fetched := shared.Val.(*Result)
	for _, pid := range missing {
		if p, ok := fetched.Products[pid]; ok {
			res.Products[pid] = p
		} else {
			res.Invalid = append(res.Invalid, pid)
		}
	}

	return res, nil
}

// Lookup returns a cached product without contacting the store.
func (c *Cache) Lookup(productID string) (*Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[productID]
	return p, ok
}

// Len returns the number of cached products.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
	}
}

func (c *Cache) fetch(ctx context.Context, ids []string) (*Result, error) {
	c.fetches.Add(1)

	resp, err := c.fetcher.RequestProducts(ctx, ids)
	if err != nil {
		c.logger.Warn("product request failed", "products", ids, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if err := validate(resp); err != nil {
		c.logger.Warn("product request returned malformed response", "products", ids, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	out := &Result{Products: make(map[string]*Product, len(resp.Products))}

	// Validation is complete, so the cache is only touched on full success.
	c.mu.Lock()
	for _, p := range resp.Products {
		if existing, ok := c.entries[p.ID]; ok {
			out.Products[p.ID] = existing
			continue
		}
		c.entries[p.ID] = p
		out.Products[p.ID] = p
	}
	c.mu.Unlock()

	out.Invalid = append(out.Invalid, resp.Invalid...)

	c.logger.Debug("products fetched",
		"valid", len(resp.Products),
		"invalid", len(resp.Invalid),
	)

	return out, nil
}

func validate(resp *Response) error {
	if resp == nil {
		return fmt.Errorf("%w: nil response", ErrMalformedResponse)
	}

	invalid := make(map[string]bool, len(resp.Invalid))
	for _, pid := range resp.Invalid {
		invalid[pid] = true
	}
	for i, p := range resp.Products {
		if p == nil || strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: product %d has no identifier", ErrMalformedResponse, i)
		}
		if invalid[p.ID] {
			return fmt.Errorf("%w: %q reported both valid and invalid", ErrMalformedResponse, p.ID)
		}
	}
	return nil
}

// normalize trims, de-duplicates and sorts identifiers.
func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, pid := range ids {
		pid = strings.TrimSpace(pid)
		if pid != "" {
			out = append(out, pid)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
