package gossip

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/ringmesh/ringmesh/pkg/chord"
)

// Entry is a versioned key-value pair state.
//
// The version increases on every local update to the key, and (version,
// origin) forms a total order used to resolve conflicting concurrent
// writes: higher version wins, and on equal versions the higher origin
// identifier wins. The order is deterministic rather than wall clock
// dependent, which keeps merging commutative and idempotent.
type Entry struct {
	Key     string   `json:"key" codec:"key"`
	Value   string   `json:"value" codec:"value"`
	Version uint64   `json:"version" codec:"version"`
	Origin  chord.ID `json:"origin" codec:"origin"`

	// Timestamp records when the origin wrote the entry. Informational only;
	// it never participates in conflict resolution.
	Timestamp int64 `json:"timestamp" codec:"timestamp"`

	// Deleted marks a tombstone. Deletions propagate like updates so are
	// never removed by ordinary merges.
	Deleted bool `json:"deleted" codec:"deleted"`
}

// Supersedes returns whether e strictly supersedes o in the (version,
// origin) order.
func (e Entry) Supersedes(o Entry) bool {
	if e.Version != o.Version {
		return e.Version > o.Version
	}
	return bytes.Compare(e.Origin[:], o.Origin[:]) > 0
}

// DigestEntry summarises a single key without its value payload.
type DigestEntry struct {
	Key     string   `json:"key" codec:"key"`
	Version uint64   `json:"version" codec:"version"`
	Origin  chord.ID `json:"origin" codec:"origin"`
}

// Digest is a compact summary of a store's contents, sized for exchange
// without shipping full values.
type Digest []DigestEntry

// Store is the gossiped key-value table, mutated by local application
// writes and by merges from anti-entropy exchanges.
//
// The store is owned exclusively by the node; it uses a single-writer
// many-reader lock so concurrent inbound exchanges make independent
// progress. Since merges are commutative they may interleave in any order.
type Store struct {
	localID chord.ID

	entries map[string]Entry

	// mu protects the above fields.
	mu sync.RWMutex

	watcher Watcher
}

func NewStore(localID chord.ID, watcher Watcher) *Store {
	if watcher == nil {
		watcher = newNopWatcher()
	}
	return &Store{
		localID: localID,
		entries: make(map[string]Entry),
		watcher: watcher,
	}
}

// Put writes a key locally, bumping the key's version and stamping the
// local node as origin.
func (s *Store) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.entries[key]
	s.entries[key] = Entry{
		Key:       key,
		Value:     value,
		Version:   existing.Version + 1,
		Origin:    s.localID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Get returns the entry for the key. ok is false if the key is unknown or
// deleted.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || entry.Deleted {
		return Entry{}, false
	}
	return entry, true
}

// Delete writes a tombstone for the key so the deletion propagates like an
// update. Does nothing if the key is unknown or already deleted.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[key]
	if !ok || existing.Deleted {
		return
	}

	s.entries[key] = Entry{
		Key:       key,
		Version:   existing.Version + 1,
		Origin:    s.localID,
		Timestamp: time.Now().UnixMilli(),
		Deleted:   true,
	}
}

// Digest returns a snapshot of (version, origin) per key, including
// tombstones, sorted by key.
func (s *Store) Digest() Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	digest := make(Digest, 0, len(s.entries))
	for _, entry := range s.entries {
		digest = append(digest, DigestEntry{
			Key:     entry.Key,
			Version: entry.Version,
			Origin:  entry.Origin,
		})
	}
	sort.Slice(digest, func(i, j int) bool {
		return digest[i].Key < digest[j].Key
	})
	return digest
}

// Diff compares the local store against a remote digest.
//
// missing contains keys the remote lacks or has an older (version, origin)
// pair for, so should be pushed. stale contains keys the local store lacks
// or has older than the remote, so should be pulled.
func (s *Store) Diff(remote Digest) (missing []string, stale []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	remoteByKey := make(map[string]DigestEntry, len(remote))
	for _, d := range remote {
		remoteByKey[d.Key] = d
	}

	for key, local := range s.entries {
		d, ok := remoteByKey[key]
		if !ok || local.Supersedes(Entry{Version: d.Version, Origin: d.Origin}) {
			missing = append(missing, key)
		}
	}
	for _, d := range remote {
		local, ok := s.entries[d.Key]
		if !ok || (Entry{Version: d.Version, Origin: d.Origin}).Supersedes(local) {
			stale = append(stale, d.Key)
		}
	}

	sort.Strings(missing)
	sort.Strings(stale)
	return missing, stale
}

// Merge applies incoming entries, replacing a local entry only when the
// incoming entry strictly supersedes it. Applying the same entries any
// number of times, in any order, yields the same final store; repeated
// gossip can only move state forward.
//
// Returns the number of entries applied. The watcher is notified of every
// visible value change.
func (s *Store) Merge(entries []Entry) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, incoming := range entries {
		existing, ok := s.entries[incoming.Key]
		if ok && !incoming.Supersedes(existing) {
			continue
		}

		s.entries[incoming.Key] = incoming
		applied++

		if incoming.Deleted {
			if !ok || !existing.Deleted {
				s.watcher.OnDeleteKey(incoming.Key)
			}
		} else if !ok || existing.Deleted || existing.Value != incoming.Value {
			s.watcher.OnUpsertKey(incoming.Key, incoming.Value)
		}
	}
	return applied
}

// EntriesForKeys returns the full entries for the requested keys. Unknown
// keys are skipped.
func (s *Store) EntriesForKeys(keys []string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		if entry, ok := s.entries[key]; ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Entries returns every entry including tombstones, sorted by key.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Len returns the number of entries including tombstones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}
