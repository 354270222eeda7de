package history

import (
	"bytes"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/kestrel/internal/ir"
)

const shardCount = 64

type shard struct {
	mu      sync.RWMutex
	entries map[ir.Digest]Entry
}

// Cache is a concurrent fingerprint → Entry map.
type Cache struct {
	shards [shardCount]shard
	verify bool
	logger *slog.Logger

	fault atomic.Pointer[IntegrityFault]

	hits, misses, inserts, duplicates atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithVerifyDuplicates controls whether a duplicate insert is compared with
// the stored entry. Disabled, duplicates are discarded unchecked. Enabled
// by default.
func WithVerifyDuplicates(verify bool) Option {
	return func(c *Cache) { c.verify = verify }
}

// WithLogger sets the logger used for integrity and decode warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{verify: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[ir.Digest]Entry)
	}
	return c
}

func (c *Cache) shard(fp ir.Digest) *shard {
	return &c.shards[fp[0]%shardCount]
}

// Lookup returns the entry recorded for fp.
func (c *Cache) Lookup(fp ir.Digest) (Entry, bool) {
	s := c.shard(fp)
	s.mu.RLock()
	e, ok := s.entries[fp]
	s.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		cacheHitsTotal.Inc()
	} else {
		c.misses.Add(1)
		cacheMissesTotal.Inc()
	}
	return e, ok
}

// Insert records e under fp unless an entry is already present, and returns
// the entry that is stored. A duplicate whose payload differs is an
// *IntegrityFault when verification is enabled; after a fault every Insert
// returns it.
func (c *Cache) Insert(fp ir.Digest, e Entry) (Entry, error) {
	if f := c.fault.Load(); f != nil {
		return Entry{}, f
	}
	if e.raw == nil {
		e.raw = e.marshal()
	}
	s := c.shard(fp)
	s.mu.Lock()
	existing, ok := s.entries[fp]
	if !ok {
		s.entries[fp] = e
		s.mu.Unlock()
		c.inserts.Add(1)
		cacheInsertsTotal.Inc()
		return e, nil
	}
	s.mu.Unlock()

	c.duplicates.Add(1)
	cacheDuplicatesTotal.Inc()
	if c.verify && !bytes.Equal(existing.raw, e.raw) {
		f := &IntegrityFault{Fingerprint: fp, Existing: existing.raw, Incoming: e.raw}
		c.fault.CompareAndSwap(nil, f)
		cacheIntegrityFaultsTotal.Inc()
		c.logger.Error("history integrity fault",
			"fingerprint", fp.Short(),
			"existing_bytes", len(existing.raw),
			"incoming_bytes", len(e.raw))
		return Entry{}, c.fault.Load()
	}
	return existing, nil
}

// Fault returns the integrity fault that halted the cache, or nil.
func (c *Cache) Fault() error {
	if f := c.fault.Load(); f != nil {
		return f
	}
	return nil
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Each visits entries in fingerprint order until fn returns false. It
// works on a snapshot, so fn may call back into the cache.
func (c *Cache) Each(fn func(ir.Digest, Entry) bool) {
	type kv struct {
		fp ir.Digest
		e  Entry
	}
	var all []kv
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for fp, e := range s.entries {
			all = append(all, kv{fp, e})
		}
		s.mu.RUnlock()
	}
	slices.SortFunc(all, func(a, b kv) int { return bytes.Compare(a.fp[:], b.fp[:]) })
	for _, x := range all {
		if !fn(x.fp, x.e) {
			return
		}
	}
}

// Stats is a point-in-time summary of cache activity.
type Stats struct {
	Entries    int    `json:"entries"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Inserts    uint64 `json:"inserts"`
	Duplicates uint64 `json:"duplicates"`
	Faulted    bool   `json:"faulted"`
}

// Stats returns counters for this cache.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:    c.Len(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Inserts:    c.inserts.Load(),
		Duplicates: c.duplicates.Load(),
		Faulted:    c.fault.Load() != nil,
	}
}
