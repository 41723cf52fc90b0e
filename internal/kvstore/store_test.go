package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisWithClient(rdb, nil), mr
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.Set(ctx, "quote:prov:abc", `{"x":1}`, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := store.Get(ctx, "quote:prov:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != `{"x":1}` {
		t.Errorf("expected stored value, got %s", val)
	}
}

func TestGet_Missing(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Get(ctx, "missing:key")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetNX_FirstWriteWins(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	won, err := store.SetNX(ctx, "quote:reserved:q1", "first", time.Minute)
	if err != nil || !won {
		t.Fatalf("expected first SetNX to win, got won=%v err=%v", won, err)
	}

	won, err = store.SetNX(ctx, "quote:reserved:q1", "second", time.Minute)
	if err != nil {
		t.Fatalf("SetNX failed: %v", err)
	}
	if won {
		t.Fatal("expected second SetNX to lose")
	}

	val, _ := store.Get(ctx, "quote:reserved:q1")
	if val != "first" {
		t.Errorf("expected first value to survive, got %s", val)
	}
}

func TestSet_Expiration(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	if err := store.Set(ctx, "test:key", "value", 200*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mr.FastForward(300 * time.Millisecond)

	if _, err := store.Get(ctx, "test:key"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired key, got %v", err)
	}
}

func TestMGet_MixedHits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_ = store.Set(ctx, "k1", "v1", time.Minute)
	_ = store.Set(ctx, "k3", "v3", time.Minute)

	vals, err := store.MGet(ctx, "k1", "k2", "k3")
	if err != nil {
		t.Fatalf("MGet failed: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("expected 3 results, got %d", len(vals))
	}
	if vals[0] == nil || *vals[0] != "v1" {
		t.Errorf("expected v1 at position 0")
	}
	if vals[1] != nil {
		t.Errorf("expected nil at position 1, got %v", *vals[1])
	}
	if vals[2] == nil || *vals[2] != "v3" {
		t.Errorf("expected v3 at position 2")
	}
}

func TestSetBatch_Pipelined(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	entries := map[string]Entry{
		"otc:quotes:USDC:EUR:otc:x":  {Value: "a", TTL: time.Minute},
		"otc:quotes:BRL:USDC:otc:y":  {Value: "b", TTL: time.Minute},
		"routing:edge:solana:a:b:d1": {Value: "c", TTL: time.Minute},
	}
	if err := store.SetBatch(ctx, entries); err != nil {
		t.Fatalf("SetBatch failed: %v", err)
	}

	for key, e := range entries {
		val, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get %s failed: %v", key, err)
		}
		if val != e.Value {
			t.Errorf("key %s: expected %s, got %s", key, e.Value, val)
		}
	}
}

func TestScan_Pattern(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_ = store.Set(ctx, "otc:quotes:USDC:EUR:v1", "a", time.Minute)
	_ = store.Set(ctx, "otc:quotes:USDC:EUR:v2", "b", time.Minute)
	_ = store.Set(ctx, "otc:quotes:USDC:BRL:v1", "c", time.Minute)

	keys, err := store.Scan(ctx, "otc:quotes:USDC:EUR:*")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
}

func TestDel(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_ = store.Set(ctx, "k", "v", time.Minute)
	if err := store.Del(ctx, "k"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
