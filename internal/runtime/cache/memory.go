package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const (
	defaultCapacity = 4096
	defaultShards   = 16
)

// memoryStore bounds the cache with per-shard LRU lists so lookups on
// unrelated keys never contend on one lock. Capacity is split across shards;
// the sum of shard budgets equals the configured capacity.
type memoryStore struct {
	ttl    time.Duration
	shards []*storeShard
}

type storeShard struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type storeSlot struct {
	key   string
	entry Entry
}

// NewMemory builds the bounded in-memory store. The shard count is clamped to
// the capacity so every shard keeps a budget of at least one entry; callers
// that need exact global LRU order (small capacities, tests) pass shards=1.
func NewMemory(capacity int, ttl time.Duration, shards int) Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if shards <= 0 {
		shards = defaultShards
	}
	if shards > capacity {
		shards = capacity
	}

	store := &memoryStore{ttl: ttl, shards: make([]*storeShard, shards)}
	base, rem := capacity/shards, capacity%shards
	for i := range store.shards {
		budget := base
		if i < rem {
			budget++
		}
		store.shards[i] = &storeShard{
			capacity: budget,
			order:    list.New(),
			entries:  make(map[string]*list.Element),
		}
	}
	return store
}

func (s *memoryStore) shardFor(key string) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[int(h.Sum32())%len(s.shards)]
}

func (s *memoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	elem, ok := sh.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	slot := elem.Value.(*storeSlot)
	if slot.entry.Expired(time.Now()) {
		sh.remove(elem)
		return Entry{}, false, nil
	}
	sh.order.MoveToFront(elem)
	return cloneEntry(slot.entry), true, nil
}

func (s *memoryStore) Store(_ context.Context, key string, entry Entry) error {
	if entry.ScannedAt.IsZero() {
		entry.ScannedAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.ScannedAt) {
		entry.ExpiresAt = entry.ScannedAt.Add(s.ttl)
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if elem, ok := sh.entries[key]; ok {
		elem.Value.(*storeSlot).entry = cloneEntry(entry)
		sh.order.MoveToFront(elem)
		return nil
	}
	sh.entries[key] = sh.order.PushFront(&storeSlot{key: key, entry: cloneEntry(entry)})
	sh.evict(time.Now())
	return nil
}

func (s *memoryStore) Size(context.Context) (int64, error) {
	var total int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += int64(sh.order.Len())
		sh.mu.Unlock()
	}
	return total, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

func (sh *storeShard) remove(elem *list.Element) {
	slot := elem.Value.(*storeSlot)
	delete(sh.entries, slot.key)
	sh.order.Remove(elem)
}

// evict reclaims space after an insert pushed the shard over budget. Expired
// entries go first so live entries keep their slots; only then does the
// least-recently-used live entry fall off the tail.
func (sh *storeShard) evict(now time.Time) {
	for elem := sh.order.Back(); elem != nil && sh.order.Len() > sh.capacity; {
		prev := elem.Prev()
		if elem.Value.(*storeSlot).entry.Expired(now) {
			sh.remove(elem)
		}
		elem = prev
	}
	for sh.order.Len() > sh.capacity {
		sh.remove(sh.order.Back())
	}
}
