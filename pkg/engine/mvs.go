package engine

import (
	"sort"
	"sync"

	"github.com/mnohosten/blockstm/pkg/concurrent"
)

// mvsShardCount is the number of shards backing the address -> history map.
// Chosen the way the teacher's sharded cache picks a shard count: large
// enough that independent hot addresses rarely collide on the same lock.
const mvsShardCount = 64

// versionedEntry is the per-(address, TxnIndex) record in a VersionHistory:
// the state a write produced, and the set of transactions that have read it
// (for push-based invalidation).
type versionedEntry struct {
	version Version
	state   AccountState
	readers map[TxnIndex]struct{}
}

// versionHistory is the ordered TxnIndex -> VersionedEntry mapping for one
// address, plus the storage-read index of transactions that fell back to
// the initial snapshot for this address. entries is kept sorted ascending
// by TxnIndex to support the "greatest index below reader_idx" lookup with
// a binary search, mirroring the reference's BTreeMap range query.
type versionHistory struct {
	mu             sync.RWMutex
	entries        []*versionedEntry
	storageReaders map[TxnIndex]struct{}
}

// indexBelow returns the slice position of the entry with the greatest
// TxnIndex strictly less than idx, or -1 if none exists. Caller must hold
// at least a read lock.
func (h *versionHistory) indexBelow(idx TxnIndex) int {
	pos := sort.Search(len(h.entries), func(i int) bool {
		return h.entries[i].version.TxnIndex >= idx
	})
	if pos == 0 {
		return -1
	}
	return pos - 1
}

// indexAt returns the slice position of the entry at exactly TxnIndex idx,
// or -1 if none exists. Caller must hold at least a read lock.
func (h *versionHistory) indexAt(idx TxnIndex) int {
	pos := sort.Search(len(h.entries), func(i int) bool {
		return h.entries[i].version.TxnIndex >= idx
	})
	if pos < len(h.entries) && h.entries[pos].version.TxnIndex == idx {
		return pos
	}
	return -1
}

// MultiVersionStore is the MVS: a sharded map from Address to VersionHistory
// supporting the read/write/record_read/record_storage_read/
// clear_transaction/get_committed_states operations of §4.1.
type MultiVersionStore struct {
	histories *concurrent.ShardedMap[Address, *versionHistory]
}

// NewMultiVersionStore creates an empty MVS.
func NewMultiVersionStore() *MultiVersionStore {
	return &MultiVersionStore{
		histories: concurrent.NewShardedMap[Address, *versionHistory](mvsShardCount, hashAddress),
	}
}

func hashAddress(a Address) uint32 {
	return concurrent.FNV32Bytes(a[:])
}

func (s *MultiVersionStore) historyFor(addr Address) *versionHistory {
	return s.histories.GetOrCreate(addr, func() *versionHistory {
		return &versionHistory{storageReaders: make(map[TxnIndex]struct{})}
	})
}

// ReadKind distinguishes the two outcomes of Read: a satisfied versioned
// read, or a fall-through to the caller's initial snapshot.
type ReadKind int

const (
	ReadStorage ReadKind = iota
	ReadVersioned
)

// ReadResult is the outcome of Read. When Kind is ReadVersioned, Version
// and State identify which write satisfied the read; the caller must then
// call RecordRead. When Kind is ReadStorage, the caller falls back to its
// own initial-state snapshot and must call RecordStorageRead.
type ReadResult struct {
	Kind    ReadKind
	Version Version
	State   AccountState
}

// Read looks up addr's version history for the greatest entry with
// TxnIndex strictly less than readerIdx. Entries with TxnIndex >= readerIdx
// are writes by later transactions and have no bearing on this reader —
// they are ignored, never treated as a dependency to wait on.
func (s *MultiVersionStore) Read(addr Address, readerIdx TxnIndex) ReadResult {
	hist := s.historyFor(addr)

	hist.mu.RLock()
	defer hist.mu.RUnlock()

	if pos := hist.indexBelow(readerIdx); pos >= 0 {
		e := hist.entries[pos]
		return ReadResult{Kind: ReadVersioned, Version: e.version, State: e.state}
	}
	return ReadResult{Kind: ReadStorage}
}

// Write installs a new VersionedEntry at (addr, writerIdx) with the given
// incarnation and state, and returns the de-duplicated, sorted set of
// TxnIndex values that must now be aborted: readers of the entry this
// write supersedes (filtered to indices above writerIdx), plus — only when
// no prior versioned entry existed below writerIdx — storage-index readers
// above writerIdx, which are then re-homed off the storage index since
// their next read will land on this new entry instead.
func (s *MultiVersionStore) Write(addr Address, writerIdx TxnIndex, inc Incarnation, state AccountState) []TxnIndex {
	hist := s.historyFor(addr)

	hist.mu.Lock()
	defer hist.mu.Unlock()

	invalidated := make(map[TxnIndex]struct{})

	if pos := hist.indexBelow(writerIdx); pos >= 0 {
		prev := hist.entries[pos]
		for r := range prev.readers {
			if r > writerIdx {
				invalidated[r] = struct{}{}
			}
		}
	} else {
		for r := range hist.storageReaders {
			if r > writerIdx {
				invalidated[r] = struct{}{}
				delete(hist.storageReaders, r)
			}
		}
	}

	newEntry := &versionedEntry{
		version: Version{TxnIndex: writerIdx, Incarnation: inc},
		state:   state,
		readers: make(map[TxnIndex]struct{}),
	}

	if pos := hist.indexAt(writerIdx); pos >= 0 {
		hist.entries[pos] = newEntry
	} else {
		pos := sort.Search(len(hist.entries), func(i int) bool {
			return hist.entries[i].version.TxnIndex >= writerIdx
		})
		hist.entries = append(hist.entries, nil)
		copy(hist.entries[pos+1:], hist.entries[pos:])
		hist.entries[pos] = newEntry
	}

	return sortedKeys(invalidated)
}

// RecordRead registers reader_idx against the VersionedEntry identified by
// version, provided that entry still holds that exact version — an
// intervening re-execution may have replaced it, in which case the record
// is silently dropped: the reader will be invalidated through that
// writer's own invalidation scan instead.
func (s *MultiVersionStore) RecordRead(addr Address, readerIdx TxnIndex, version Version) {
	hist := s.historyFor(addr)

	hist.mu.Lock()
	defer hist.mu.Unlock()

	pos := hist.indexAt(version.TxnIndex)
	if pos < 0 {
		return
	}
	e := hist.entries[pos]
	if e.version != version {
		return
	}
	e.readers[readerIdx] = struct{}{}
}

// RecordStorageRead registers reader_idx as having resolved addr from the
// initial snapshot.
func (s *MultiVersionStore) RecordStorageRead(addr Address, readerIdx TxnIndex) {
	hist := s.historyFor(addr)

	hist.mu.Lock()
	defer hist.mu.Unlock()

	hist.storageReaders[readerIdx] = struct{}{}
}

// ClearTransaction removes any VersionedEntry at idx across every address,
// and removes idx from every reader set and from every storage-read index.
// Called by the scheduler on abort so a stale write can never shadow the
// results of idx's next incarnation.
func (s *MultiVersionStore) ClearTransaction(idx TxnIndex) {
	s.histories.Range(func(_ Address, hist *versionHistory) bool {
		hist.mu.Lock()
		if pos := hist.indexAt(idx); pos >= 0 {
			hist.entries = append(hist.entries[:pos], hist.entries[pos+1:]...)
		}
		delete(hist.storageReaders, idx)
		for _, e := range hist.entries {
			delete(e.readers, idx)
		}
		hist.mu.Unlock()
		return true
	})
}

// CommittedStates returns, for every address with at least one
// VersionedEntry, the entry with the greatest TxnIndex — the final state
// projection taken once the batch has finished.
func (s *MultiVersionStore) CommittedStates() []AddressState {
	var out []AddressState
	s.histories.Range(func(addr Address, hist *versionHistory) bool {
		hist.mu.RLock()
		if n := len(hist.entries); n > 0 {
			out = append(out, AddressState{Address: addr, State: hist.entries[n-1].state})
		}
		hist.mu.RUnlock()
		return true
	})
	return out
}

func sortedKeys(m map[TxnIndex]struct{}) []TxnIndex {
	if len(m) == 0 {
		return nil
	}
	keys := make([]TxnIndex, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
