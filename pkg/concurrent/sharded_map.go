package concurrent

import "sync"

// ShardedMap is a fixed-size, non-evicting map partitioned into power-of-two
// shards so independent keys rarely contend on the same lock. It never
// expires or evicts entries on its own — callers
// that need an entry gone call Delete explicitly. This fits workloads, like
// a multi-version store, where entries must survive for the life of a batch
// regardless of access recency.
type ShardedMap[K comparable, V any] struct {
	shards    []*mapShard[K, V]
	shardMask uint32
	hashKey   func(K) uint32
}

type mapShard[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// NewShardedMap creates a map with shardCount shards (rounded up to the next
// power of 2) and the given key-hashing function.
func NewShardedMap[K comparable, V any](shardCount uint32, hashKey func(K) uint32) *ShardedMap[K, V] {
	if shardCount == 0 || (shardCount&(shardCount-1)) != 0 {
		shardCount = nextPowerOfTwo(shardCount)
	}

	shards := make([]*mapShard[K, V], shardCount)
	for i := range shards {
		shards[i] = &mapShard[K, V]{items: make(map[K]V)}
	}

	return &ShardedMap[K, V]{
		shards:    shards,
		shardMask: shardCount - 1,
		hashKey:   hashKey,
	}
}

func (m *ShardedMap[K, V]) shardFor(key K) *mapShard[K, V] {
	return m.shards[m.hashKey(key)&m.shardMask]
}

// Get returns the value stored for key, if any.
func (m *ShardedMap[K, V]) Get(key K) (V, bool) {
	shard := m.shardFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	v, ok := shard.items[key]
	return v, ok
}

// GetOrCreate returns the existing value for key, or stores and returns the
// result of create() if no value was present. create is called at most
// once per miss, while the shard's write lock is held.
func (m *ShardedMap[K, V]) GetOrCreate(key K, create func() V) V {
	shard := m.shardFor(key)

	shard.mu.RLock()
	if v, ok := shard.items[key]; ok {
		shard.mu.RUnlock()
		return v
	}
	shard.mu.RUnlock()

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if v, ok := shard.items[key]; ok {
		return v
	}
	v := create()
	shard.items[key] = v
	return v
}

// Put stores value under key, replacing any existing entry.
func (m *ShardedMap[K, V]) Put(key K, value V) {
	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.items[key] = value
}

// Delete removes key from the map, if present.
func (m *ShardedMap[K, V]) Delete(key K) {
	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.items, key)
}

// Len returns the total number of entries across all shards. Callers doing
// anything stronger than an approximate count should hold their own
// external synchronization.
func (m *ShardedMap[K, V]) Len() int {
	total := 0
	for _, shard := range m.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Range calls fn for every key/value pair, shard by shard. fn must not call
// back into the map. Iteration order is unspecified and shards are locked
// one at a time, so Range does not see a single consistent snapshot under
// concurrent writers.
func (m *ShardedMap[K, V]) Range(fn func(K, V) bool) {
	for _, shard := range m.shards {
		shard.mu.RLock()
		for k, v := range shard.items {
			if !fn(k, v) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}

// Keys returns a snapshot of every key currently in the map.
func (m *ShardedMap[K, V]) Keys() []K {
	keys := make([]K, 0, m.Len())
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// nextPowerOfTwo rounds n up to the next power of 2 (returning 1 for n == 0).
func nextPowerOfTwo(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}

// FNV32Bytes hashes a byte slice with the same FNV-1 constants as the
// package's string hasher, for callers whose key type is not a string (e.g.
// a fixed-width address) and so need to roll their own hashKey function for
// NewShardedMap.
func FNV32Bytes(key []byte) uint32 {
	hash := uint32(2166136261)
	for _, b := range key {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return hash
}

// fnv32 hashes a string key, for NewShardedMap instantiations keyed on
// plain strings.
func fnv32(key string) uint32 {
	return FNV32Bytes([]byte(key))
}
