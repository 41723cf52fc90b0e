package edgecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/clock"
	"github.com/bearing-technology/routing-backend/internal/kvstore"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

// ChainNamespace fixes the on-chain keyspace segment for DEX edges. It is a
// design-time namespace, not a runtime dimension.
const ChainNamespace = "solana"

// Cache stores per-edge quotes in the shared key-value store, one key per
// (from, to, venue), with TTLs derived from quote expiry.
type Cache struct {
	store  kvstore.Store
	clock  clock.Clock
	logger *zap.Logger
}

func New(store kvstore.Store, clk clock.Clock, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, clock: clk, logger: logger}
}

// Key returns the storage key for a quote: OTC edges live under
// otc:quotes:*, DEX edges under routing:edge:{chain}:*.
func Key(q *model.EdgeQuote) string {
	if q.VenueKind == model.VenueDEX {
		return fmt.Sprintf("routing:edge:%s:%s:%s:%s", ChainNamespace, q.FromToken, q.ToToken, q.VenueID)
	}
	return fmt.Sprintf("otc:quotes:%s:%s:%s", q.FromToken, q.ToToken, q.VenueID)
}

// ttlFor clamps the storage TTL to the quote's remaining life, never below 1s.
func (c *Cache) ttlFor(q *model.EdgeQuote) time.Duration {
	remaining := time.Duration(q.ExpiryTs-c.clock.NowMs()) * time.Millisecond
	if remaining < time.Second {
		return time.Second
	}
	return remaining
}

// PutQuote stores a single quote under its edge key.
func (c *Cache) PutQuote(ctx context.Context, q *model.EdgeQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote %s: %w", q.VenueID, err)
	}
	return c.store.Set(ctx, Key(q), string(data), c.ttlFor(q))
}

// PutQuoteBatch stores all quotes through one pipelined write.
func (c *Cache) PutQuoteBatch(ctx context.Context, quotes []model.EdgeQuote) error {
	if len(quotes) == 0 {
		return nil
	}
	entries := make(map[string]kvstore.Entry, len(quotes))
	for i := range quotes {
		q := &quotes[i]
		data, err := json.Marshal(q)
		if err != nil {
			c.logger.Warn("edgecache.marshal_failed",
				zap.String("venue", q.VenueID),
				zap.Error(err))
			continue
		}
		entries[Key(q)] = kvstore.Entry{Value: string(data), TTL: c.ttlFor(q)}
	}
	return c.store.SetBatch(ctx, entries)
}

// GetCachedByPair returns all live quotes for the (from, to) pair across
// both key families. Records that fail to parse are dropped with a warning.
func (c *Cache) GetCachedByPair(ctx context.Context, from, to string) ([]model.EdgeQuote, error) {
	keys, err := c.scanByPair(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := c.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	now := c.clock.NowMs()
	quotes := make([]model.EdgeQuote, 0, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		var q model.EdgeQuote
		if err := json.Unmarshal([]byte(*v), &q); err != nil {
			c.logger.Warn("edgecache.parse_failed",
				zap.String("key", keys[i]),
				zap.Error(err))
			continue
		}
		if q.ExpiryTs <= now {
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// scanByPair collects keys from both edge families for the pair.
func (c *Cache) scanByPair(ctx context.Context, from, to string) ([]string, error) {
	otcKeys, err := c.store.Scan(ctx, fmt.Sprintf("otc:quotes:%s:%s:*", from, to))
	if err != nil {
		return nil, fmt.Errorf("scan otc edges: %w", err)
	}
	dexKeys, err := c.store.Scan(ctx, fmt.Sprintf("routing:edge:%s:%s:%s:*", ChainNamespace, from, to))
	if err != nil {
		return nil, fmt.Errorf("scan dex edges: %w", err)
	}
	return append(otcKeys, dexKeys...), nil
}
