// Package spritepal finds, decodes and compares compressed sprite
// blocks in ROM images. It scans for plausibly decodable tile blocks,
// caches everything it decodes and ranks blocks by perceptual
// similarity.
package spritepal

import (
	"image"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/semmlerino/spritepal/cache"
	"github.com/semmlerino/spritepal/hal"
	"github.com/semmlerino/spritepal/scanner"
	"github.com/semmlerino/spritepal/similarity"
	"github.com/semmlerino/spritepal/tile"
)

// Config configures a SpritePal instance. The zero value selects an
// in-memory cache, the HAL codec and a discarding logger.
type Config struct {
	// CachePath is the persistent cache database. Empty keeps the cache
	// memory-only.
	CachePath string

	// CacheEntries and CacheBytes bound the memory tier.
	CacheEntries int
	CacheBytes   int64

	// CacheTTL expires persistent entries. Zero means no expiry.
	CacheTTL time.Duration

	// Codec overrides the block codec, mainly for tests.
	Codec scanner.Codec

	Logger *log.Logger
}

// SpritePal ties the codec, the cache and the per-ROM similarity
// indexes together. It is safe for concurrent use.
type SpritePal struct {
	cache  *cache.Cache
	codec  scanner.Codec
	logger *log.Logger

	mu      sync.Mutex
	indexes map[string]*similarity.Index
}

// New opens a SpritePal instance.
func New(cfg Config) (*SpritePal, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(ioutil.Discard, "", 0)
	}
	codec := cfg.Codec
	if codec == nil {
		codec = scanner.HAL{}
	}

	c, err := cache.Open(cache.Options{
		Path:       cfg.CachePath,
		MaxEntries: cfg.CacheEntries,
		MaxBytes:   cfg.CacheBytes,
		TTL:        cfg.CacheTTL,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &SpritePal{
		cache:   c,
		codec:   codec,
		logger:  logger,
		indexes: make(map[string]*similarity.Index),
	}, nil
}

// Close releases the cache. The instance must not be used afterwards.
func (s *SpritePal) Close() error {
	return s.cache.Close()
}

// CacheStats reports memory-tier cache hit and miss counts.
func (s *SpritePal) CacheStats() (hits, misses int64) {
	return s.cache.Stats()
}

// Clear drops every cached entry and similarity record.
func (s *SpritePal) Clear() error {
	s.mu.Lock()
	s.indexes = make(map[string]*similarity.Index)
	s.mu.Unlock()
	return s.cache.Clear()
}

// Invalidate drops every cached entry and similarity record for rom.
func (s *SpritePal) Invalidate(rom *ROM) error {
	s.mu.Lock()
	delete(s.indexes, rom.ContentHash())
	s.mu.Unlock()
	return s.cache.Invalidate(rom.ContentHash())
}

// DecodedBlock is one decompressed tile block.
type DecodedBlock struct {
	// Offset is the block's position in the ROM payload.
	Offset int64 `cbor:"1,keyasint"`

	// Data is the decoded tile data.
	Data []byte `cbor:"2,keyasint"`

	// CompressedSize is the number of source bytes the block consumed,
	// including the terminator.
	CompressedSize int `cbor:"3,keyasint"`
}

// TileCount returns the number of whole tiles in the block.
func (b *DecodedBlock) TileCount() int {
	return tile.Count(b.Data)
}

// Sheet renders the block as a grayscale tile sheet.
func (b *DecodedBlock) Sheet() (*image.Paletted, error) {
	return tile.Decode(b.Data)
}

// DecodeAt decodes the block starting at offset. Repeated calls for the
// same block are served from the cache; concurrent first calls share a
// single decode.
func (s *SpritePal) DecodeAt(rom *ROM, offset int64) (*DecodedBlock, error) {
	src, err := rom.From(offset)
	if err != nil {
		return nil, err
	}

	key := cache.BlockKey(rom.ContentHash(), offset)
	payload, _, err := s.cache.GetOrBuild(key, func() ([]byte, error) {
		data, consumed, err := s.codec.Decode(src, hal.MaxOutput)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal(&DecodedBlock{
			Offset:         offset,
			Data:           data,
			CompressedSize: consumed,
		})
	})
	if err != nil {
		return nil, err
	}

	blk := new(DecodedBlock)
	if err := cbor.Unmarshal(payload, blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// FindSimilar ranks previously fingerprinted blocks of rom against the
// block at refOffset. Matches score at least threshold and arrive best
// first; max bounds the result, with zero meaning no bound.
func (s *SpritePal) FindSimilar(rom *ROM, refOffset int64, threshold float64, max int) ([]similarity.Match, error) {
	rec, err := s.record(rom, refOffset)
	if err != nil {
		return nil, err
	}
	return s.indexFor(rom).FindSimilar(rec, threshold, max), nil
}

// Index returns the similarity index for rom, creating it if needed.
func (s *SpritePal) Index(rom *ROM) *similarity.Index {
	return s.indexFor(rom)
}

func (s *SpritePal) indexFor(rom *ROM) *similarity.Index {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indexes[rom.ContentHash()]
	if !ok {
		idx = similarity.NewIndex()
		s.indexes[rom.ContentHash()] = idx
	}
	return idx
}

// record returns the similarity record for the block at offset,
// fingerprinting it on first use. Records persist in the cache so a new
// instance does not redecode the whole ROM to compare two blocks.
func (s *SpritePal) record(rom *ROM, offset int64) (similarity.Record, error) {
	idx := s.indexFor(rom)
	if rec, ok := idx.Get(offset); ok {
		return rec, nil
	}

	key := cache.RecordKey(rom.ContentHash(), offset)
	if payload, ok := s.cache.Get(key); ok {
		var rec similarity.Record
		if err := cbor.Unmarshal(payload, &rec); err == nil {
			idx.Add(rec)
			return rec, nil
		}
		// fall through and refingerprint
	}

	blk, err := s.DecodeAt(rom, offset)
	if err != nil {
		return similarity.Record{}, err
	}
	// Fingerprint the content-sized bitmap, not the display sheet: a
	// single tile padded into a 16-column sheet row would be almost all
	// background, and every one-tile sprite would hash alike.
	bitmap, err := tile.Bitmap(blk.Data)
	if err != nil {
		return similarity.Record{}, err
	}

	rec := similarity.Fingerprint(offset, bitmap)
	idx.Add(rec)
	if payload, err := cbor.Marshal(rec); err == nil {
		s.cache.Put(key, payload)
	}
	return rec, nil
}
