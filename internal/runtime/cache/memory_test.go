package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func testEntry(version string, ttl time.Duration) Entry {
	now := time.Now().UTC()
	return Entry{
		Key:            DeriveKey("sample"),
		RulesetVersion: version,
		Highlights:     []Highlight{{StartOffset: 0, EndOffset: 5, RuleID: "style.wordy", Label: "Wordy"}},
		ScannedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

func TestMemoryStoreLookup(t *testing.T) {
	store := NewMemory(8, time.Minute, 1)
	ctx := context.Background()

	entry := testEntry("1", time.Minute)
	if err := store.Store(ctx, "ns:1:abc", entry); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := store.Lookup(ctx, "ns:1:abc")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.RulesetVersion != "1" || len(got.Highlights) != 1 {
		t.Fatalf("unexpected entry: %#v", got)
	}

	if _, ok, _ := store.Lookup(ctx, "ns:2:abc"); ok {
		t.Fatalf("expected miss for different version component")
	}

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	store := NewMemory(8, time.Minute, 1)
	ctx := context.Background()

	if err := store.Store(ctx, "k", testEntry("1", 10*time.Millisecond)); err != nil {
		t.Fatalf("store: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := store.Lookup(ctx, "k"); ok {
		t.Fatalf("expected entry to expire")
	}
	// The expired entry is removed on read, not merely hidden.
	if size, _ := store.Size(ctx); size != 0 {
		t.Fatalf("expected expired entry to be reclaimed, size %d", size)
	}
}

func TestMemoryStoreCapacityBound(t *testing.T) {
	const capacity = 16
	store := NewMemory(capacity, time.Minute, 4)
	ctx := context.Background()

	for i := 0; i < capacity*4; i++ {
		key := fmt.Sprintf("k%03d", i)
		if err := store.Store(ctx, key, testEntry("1", time.Minute)); err != nil {
			t.Fatalf("store %s: %v", key, err)
		}
	}
	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size > capacity {
		t.Fatalf("store exceeded capacity: %d > %d", size, capacity)
	}
}

func TestMemoryStoreLRUEviction(t *testing.T) {
	// Single shard keeps the global LRU order exact.
	store := NewMemory(2, time.Minute, 1)
	ctx := context.Background()

	if err := store.Store(ctx, "a", testEntry("1", time.Minute)); err != nil {
		t.Fatalf("store a: %v", err)
	}
	if err := store.Store(ctx, "b", testEntry("1", time.Minute)); err != nil {
		t.Fatalf("store b: %v", err)
	}
	// Touch "a" so "b" becomes least recently used.
	if _, ok, _ := store.Lookup(ctx, "a"); !ok {
		t.Fatalf("expected hit on a")
	}
	if err := store.Store(ctx, "c", testEntry("1", time.Minute)); err != nil {
		t.Fatalf("store c: %v", err)
	}

	if _, ok, _ := store.Lookup(ctx, "b"); ok {
		t.Fatalf("expected b to be evicted as least recently used")
	}
	if _, ok, _ := store.Lookup(ctx, "a"); !ok {
		t.Fatalf("expected a to survive eviction")
	}
	if _, ok, _ := store.Lookup(ctx, "c"); !ok {
		t.Fatalf("expected c to be present")
	}
}

func TestMemoryStoreEvictsExpiredBeforeLive(t *testing.T) {
	store := NewMemory(2, time.Minute, 1)
	ctx := context.Background()

	if err := store.Store(ctx, "stale", testEntry("1", time.Millisecond)); err != nil {
		t.Fatalf("store stale: %v", err)
	}
	if err := store.Store(ctx, "live", testEntry("1", time.Minute)); err != nil {
		t.Fatalf("store live: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	// Touch "stale"? No - it is expired. Inserting a third key must reclaim
	// the expired slot instead of evicting the live entry.
	if err := store.Store(ctx, "fresh", testEntry("1", time.Minute)); err != nil {
		t.Fatalf("store fresh: %v", err)
	}
	if _, ok, _ := store.Lookup(ctx, "live"); !ok {
		t.Fatalf("expected live entry to survive while an expired entry existed")
	}
	if _, ok, _ := store.Lookup(ctx, "fresh"); !ok {
		t.Fatalf("expected fresh entry to be present")
	}
}

func TestMemoryStoreRecencyOnStore(t *testing.T) {
	store := NewMemory(2, time.Minute, 1)
	ctx := context.Background()

	_ = store.Store(ctx, "a", testEntry("1", time.Minute))
	_ = store.Store(ctx, "b", testEntry("1", time.Minute))
	// Re-storing "a" refreshes its recency, so "b" is the LRU victim.
	_ = store.Store(ctx, "a", testEntry("2", time.Minute))
	_ = store.Store(ctx, "c", testEntry("1", time.Minute))

	if _, ok, _ := store.Lookup(ctx, "b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	got, ok, _ := store.Lookup(ctx, "a")
	if !ok {
		t.Fatalf("expected a to survive")
	}
	if got.RulesetVersion != "2" {
		t.Fatalf("expected re-store to replace the entry, got version %s", got.RulesetVersion)
	}
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	store := NewMemory(4, time.Minute, 1)
	ctx := context.Background()

	entry := testEntry("1", time.Minute)
	_ = store.Store(ctx, "k", entry)

	got, ok, _ := store.Lookup(ctx, "k")
	if !ok {
		t.Fatalf("expected hit")
	}
	got.Highlights[0].RuleID = "mutated"

	again, _, _ := store.Lookup(ctx, "k")
	if again.Highlights[0].RuleID != "style.wordy" {
		t.Fatalf("cached entry was mutated through a returned copy")
	}
}

func TestMemoryStoreShardClamping(t *testing.T) {
	// More shards than capacity must not zero out shard budgets.
	store := NewMemory(2, time.Minute, 64)
	ctx := context.Background()

	_ = store.Store(ctx, "a", testEntry("1", time.Minute))
	_ = store.Store(ctx, "b", testEntry("1", time.Minute))

	size, _ := store.Size(ctx)
	if size == 0 || size > 2 {
		t.Fatalf("unexpected size %d for capacity 2", size)
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemory(128, time.Minute, 16)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%64)
				_ = store.Store(ctx, key, testEntry("1", time.Minute))
				_, _, _ = store.Lookup(ctx, key)
			}
		}(g)
	}
	wg.Wait()

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size > 128 {
		t.Fatalf("capacity bound violated under concurrency: %d", size)
	}
}
