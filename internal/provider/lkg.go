package provider

import (
	"sync"

	"github.com/bearing-technology/routing-backend/pkg/model"
)

// lkgCache is a process-local last-known-good cache of the most recent
// successful quotes, keyed by directed pair. Single writer: the fetch loop.
type lkgCache struct {
	mu     sync.Mutex
	quotes map[string]model.EdgeQuote
}

func newLKGCache() *lkgCache {
	return &lkgCache{quotes: make(map[string]model.EdgeQuote)}
}

func pairKey(from, to string) string {
	return from + "/" + to
}

// merge overlays fresh quotes on the cached snapshot and returns the union.
// Pairs absent from fresh degrade gracefully to their previous quote.
func (c *lkgCache) merge(fresh []model.EdgeQuote) []model.EdgeQuote {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, q := range fresh {
		c.quotes[pairKey(q.FromToken, q.ToToken)] = q
	}

	out := make([]model.EdgeQuote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	return out
}

// snapshot returns the cached quotes without merging anything in.
func (c *lkgCache) snapshot() []model.EdgeQuote {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.EdgeQuote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	return out
}

func (c *lkgCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.quotes)
}
