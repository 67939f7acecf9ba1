/*
Package cache implements the content-addressed ROM cache: a byte-budget
LRU memory tier in front of an optional persistent sqlite tier. Entries
are keyed by ROM content hash plus either a scan-parameter digest, a
block offset, or a similarity-record offset, so a changed ROM never
serves stale results.

Builds are deduplicated per key: concurrent requests for the same key
share a single computation, while requests for different keys proceed in
parallel.
*/
package cache

import (
	"fmt"
	"io/ioutil"
	"log"
	"time"

	"golang.org/x/sync/singleflight"
)

// Kind separates the cache key spaces.
type Kind uint8

const (
	// KindScan holds the candidate list of a completed search.
	KindScan Kind = iota + 1
	// KindBlock holds a single decoded block.
	KindBlock
	// KindRecord holds a perceptual similarity record.
	KindRecord
)

// Key addresses one cache entry.
type Key struct {
	Kind Kind
	ROM  string // content hash of the ROM, hex
	Ref  string // parameter digest or block offset
}

func (k Key) id() string {
	return fmt.Sprintf("%d:%s:%s", k.Kind, k.ROM, k.Ref)
}

// ScanKey addresses the results of a search with the given parameter
// digest.
func ScanKey(rom, params string) Key {
	return Key{Kind: KindScan, ROM: rom, Ref: params}
}

// BlockKey addresses the decoded block at a single offset.
func BlockKey(rom string, offset int64) Key {
	return Key{Kind: KindBlock, ROM: rom, Ref: fmt.Sprintf("%x", offset)}
}

// RecordKey addresses the similarity record for a decoded block.
func RecordKey(rom string, offset int64) Key {
	return Key{Kind: KindRecord, ROM: rom, Ref: fmt.Sprintf("%x", offset)}
}

// Options configures a Cache. The zero value of any field selects its
// default.
type Options struct {
	// Path names the sqlite database file. Empty disables the
	// persistent tier.
	Path string

	// MaxEntries bounds the memory tier by entry count. Default 4096.
	MaxEntries int

	// MaxBytes bounds the memory tier by payload bytes. Default 64 MiB.
	MaxBytes int64

	// TTL is the default lifetime of persisted entries. Zero means no
	// expiry.
	TTL time.Duration

	Logger *log.Logger
}

// Cache is the two-tier ROM cache.
type Cache struct {
	mem    *lru
	store  *store
	ttl    time.Duration
	logger *log.Logger
	group  singleflight.Group
}

// Open creates a Cache. With an empty path the cache is memory-only.
func Open(opts Options) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 4096
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 64 << 20
	}
	if opts.Logger == nil {
		opts.Logger = log.New(ioutil.Discard, "", 0)
	}

	c := &Cache{
		mem:    newLRU(opts.MaxEntries, opts.MaxBytes),
		ttl:    opts.TTL,
		logger: opts.Logger,
	}

	if opts.Path != "" {
		s, err := openStore(opts.Path)
		if err != nil {
			return nil, err
		}
		c.store = s
	}

	return c, nil
}

// Close releases the persistent tier.
func (c *Cache) Close() error {
	if c.store != nil {
		return c.store.close()
	}
	return nil
}

// Get returns the payload for key, consulting the memory tier first. The
// returned slice is owned by the cache and must not be modified.
func (c *Cache) Get(key Key) ([]byte, bool) {
	if payload, ok := c.mem.get(key.id()); ok {
		return payload, true
	}
	if c.store == nil {
		return nil, false
	}

	payload, corrupt, err := c.store.get(key)
	if corrupt {
		c.logger.Printf("cache corruption: dropped entry %s", key.id())
		return nil, false
	}
	if err != nil {
		c.logger.Printf("cache read failed for %s: %v", key.id(), err)
		return nil, false
	}
	if payload == nil {
		return nil, false
	}

	c.mem.set(key.id(), key.ROM, payload)
	return payload, true
}

// Put stores a copy of payload in both tiers.
func (c *Cache) Put(key Key, payload []byte) error {
	owned := make([]byte, len(payload))
	copy(owned, payload)

	c.mem.set(key.id(), key.ROM, owned)
	if c.store != nil {
		return c.store.put(key, owned, c.ttl)
	}
	return nil
}

// GetOrBuild returns the cached payload for key or invokes build to
// produce it, storing the result. At most one build runs per key at a
// time; concurrent callers for the same key share the in-flight result.
// The second return value reports whether this call hit the cache.
func (c *Cache) GetOrBuild(key Key, build func() ([]byte, error)) ([]byte, bool, error) {
	if payload, ok := c.Get(key); ok {
		return payload, true, nil
	}

	hit := true
	v, err, _ := c.group.Do(key.id(), func() (interface{}, error) {
		// A concurrent caller may have completed the build while we
		// waited for the flight lock.
		if payload, ok := c.Get(key); ok {
			return payload, nil
		}
		hit = false
		payload, err := build()
		if err != nil {
			return nil, err
		}
		if err := c.Put(key, payload); err != nil {
			c.logger.Printf("cache write failed for %s: %v", key.id(), err)
		}
		return payload, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), hit, nil
}

// Invalidate drops every entry for the given ROM content hash from both
// tiers.
func (c *Cache) Invalidate(rom string) error {
	c.mem.invalidate(rom)
	if c.store != nil {
		return c.store.invalidate(rom)
	}
	return nil
}

// Clear empties both tiers.
func (c *Cache) Clear() error {
	c.mem.clear()
	if c.store != nil {
		return c.store.clear()
	}
	return nil
}

// Stats reports memory-tier hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.mem.stats()
}
