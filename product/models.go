// Package product holds catalog product metadata and the product cache.
package product

import "github.com/xraph/storekit/types"

// Product is catalog metadata as reported by the store service.
// Products are immutable once fetched.
type Product struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Description    string      `json:"description,omitempty"`
	FormattedPrice string      `json:"formatted_price"` // Locale specific, e.g. "$0.99"
	Price          types.Money `json:"price"`
}

// DisplayPrice returns the store-formatted price, falling back to the raw price.
func (p *Product) DisplayPrice() string {
	if p.FormattedPrice != "" {
		return p.FormattedPrice
	}
	return p.Price.String()
}

// Response is the store service's answer to a product request.
type Response struct {
	Products []*Product `json:"products"`
	Invalid  []string   `json:"invalid,omitempty"`
}

// Result is what the cache hands back for a lookup.
type Result struct {
	Products map[string]*Product `json:"products"`
	Invalid  []string            `json:"invalid,omitempty"`
}

// Get returns the product with the given identifier, if present.
func (r *Result) Get(productID string) (*Product, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.Products[productID]
	return p, ok
}

// IsInvalid reports whether the identifier was rejected by the store.
func (r *Result) IsInvalid(productID string) bool {
	if r == nil {
		return false
	}
	for _, invalid := range r.Invalid {
		if invalid == productID {
			return true
		}
	}
	return false
}
