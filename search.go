package spritepal

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/semmlerino/spritepal/cache"
	"github.com/semmlerino/spritepal/scanner"
	"github.com/semmlerino/spritepal/similarity"
)

// Stepping constants. A worker probes at the coarse step until a block
// is found, drops to the tile-aligned fine step for a bounded
// neighbourhood to catch adjacent blocks, and widens after a long run of
// misses. Chunks are a fixed size so the candidate set never depends on
// the worker count.
const (
	chunkSize = 0x40000

	// DefaultStep is the coarse probe interval used when the caller
	// gives no step hint.
	DefaultStep = 0x1000

	fineStep     = 0x20
	fineWindow   = 0x200
	minStep      = 0x20
	maxStep      = 0x4000
	widenAfter   = 64
	pollInterval = 32

	joinGrace = 5 * time.Second
)

var errCancelled = errors.New("spritepal: search cancelled")

// Candidate is re-exported so callers can consume search results without
// importing the scanner package.
type Candidate = scanner.Candidate

// SearchOptions configures one search request. Zero fields select
// defaults.
type SearchOptions struct {
	// Start and End bound the scanned range. An End of zero means the
	// end of the ROM.
	Start int64
	End   int64

	// StepHint is the coarse probe interval, clamped and tile-aligned.
	StepHint int64

	// Workers is the scan parallelism. Defaults to the CPU count. It
	// never influences the results, only how fast they arrive.
	Workers int

	// Threshold is the minimum candidate confidence.
	Threshold float64

	// SimilarityThreshold controls deduplication. The default 1 treats
	// only perceptually identical bitmaps as duplicates; lower values
	// also fold near-matches onto the lowest offset.
	SimilarityThreshold float64

	// Progress, if set, receives a monotonically increasing fraction of
	// bytes scanned. It may be called from multiple workers.
	Progress func(float64)
}

func (o *SearchOptions) normalize(rom *ROM) error {
	if o.End == 0 {
		o.End = rom.Size()
	}
	if o.Start < 0 || o.End > rom.Size() || o.Start >= o.End {
		return fmt.Errorf("%w: search range [%#x, %#x)", ErrOutOfRange, o.Start, o.End)
	}
	if o.StepHint <= 0 {
		o.StepHint = DefaultStep
	}
	o.StepHint &^= minStep - 1
	if o.StepHint < minStep {
		o.StepHint = minStep
	}
	if o.StepHint > maxStep {
		o.StepHint = maxStep
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.Threshold <= 0 {
		o.Threshold = scanner.DefaultThreshold
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = 1
	}
	return nil
}

// digest derives the scan-parameter half of the cache key. Worker count
// and callbacks are deliberately excluded: they cannot change the
// result.
func (o SearchOptions) digest() string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("scan/v1:%x:%x:%x:%g:%g",
		o.Start, o.End, o.StepHint, o.Threshold, o.SimilarityThreshold)))
	return fmt.Sprintf("%x", sum[:16])
}

// Search starts an asynchronous scan of rom and returns its handle.
// Identical requests are served from the cache without touching the
// codec; concurrent identical requests share a single computation.
func (s *SpritePal) Search(rom *ROM, opts SearchOptions) (*SearchHandle, error) {
	if err := opts.normalize(rom); err != nil {
		return nil, err
	}

	h := newSearchHandle(opts.End - opts.Start)
	go s.runSearch(rom, opts, h)
	return h, nil
}

func (s *SpritePal) runSearch(rom *ROM, opts SearchOptions, h *SearchHandle) {
	h.state.Store(int32(StateRunning))
	key := cache.ScanKey(rom.ContentHash(), opts.digest())

	var partial []scanner.Candidate
	payload, hit, err := s.cache.GetOrBuild(key, func() ([]byte, error) {
		list, err := s.scanRange(rom, opts, h)
		if err != nil {
			partial = list
			return nil, err
		}
		return cbor.Marshal(list)
	})

	switch {
	case errors.Is(err, errCancelled):
		h.finish(StateCancelled, partial, nil)
		return
	case err != nil:
		h.finish(StateFailed, nil, err)
		return
	}

	var results []scanner.Candidate
	if err := cbor.Unmarshal(payload, &results); err != nil {
		// A corrupt memory-tier entry would be a bug rather than disk
		// rot, so surface it instead of rescanning.
		h.finish(StateFailed, nil, fmt.Errorf("spritepal: corrupt scan entry: %w", err))
		return
	}

	if hit {
		s.logger.Printf("search %s/%s served from cache: %d candidates", rom.ContentHash()[:8], key.Ref[:8], len(results))
	}
	h.finish(StateCompleted, results, nil)
}

// scanRange runs the chunked parallel scan and returns the deduplicated,
// offset-ordered candidate list. On cancellation it returns the partial
// list along with errCancelled so the caller skips the cache write.
func (s *SpritePal) scanRange(rom *ROM, opts SearchOptions, h *SearchHandle) ([]scanner.Candidate, error) {
	window := rom.payload()
	sc := scanner.New(s.codec, scanner.Config{Threshold: opts.Threshold})

	type chunk struct {
		index      int
		start, end int64
	}
	var chunks []chunk
	for start := opts.Start; start < opts.End; start += chunkSize {
		chunks = append(chunks, chunk{len(chunks), start, min(start+chunkSize, opts.End)})
	}

	results := make([][]scanner.Candidate, len(chunks))
	pool := newWorkerPool()
	chunkc := make(chan chunk)

	workers := opts.Workers
	if workers > len(chunks) {
		workers = len(chunks)
	}
	for i := 0; i < workers; i++ {
		pool.Go(func(stop, kill <-chan struct{}) {
			for c := range chunkc {
				if stopped(kill) {
					continue // drain without scanning
				}
				results[c.index] = s.scanChunk(sc, window, c.start, c.end, opts, h, stop, kill)
			}
		})
	}

	for _, c := range chunks {
		if h.cancelled.Load() {
			break
		}
		chunkc <- c
	}
	close(chunkc)

	if h.cancelled.Load() {
		pool.RequestStop()
		if !pool.Join(joinGrace) {
			pool.ForceTerminate()
			pool.Join(0)
		}
	} else {
		pool.Join(0)
	}

	var merged []scanner.Candidate
	for _, rs := range results {
		merged = append(merged, rs...)
	}
	merged = s.dedupe(rom, merged, opts.SimilarityThreshold)

	if h.cancelled.Load() {
		return merged, errCancelled
	}
	return merged, nil
}

// scanChunk probes one chunk with adaptive stepping. It is deterministic
// in the chunk bounds and options: cancellation can truncate its work
// but never reorder it.
func (s *SpritePal) scanChunk(sc *scanner.Scanner, window []byte, start, end int64, opts SearchOptions, h *SearchHandle, stop, kill <-chan struct{}) []scanner.Candidate {
	var found []scanner.Candidate

	step := opts.StepHint
	fineUntil := int64(-1)
	misses := 0
	probes := 0

	for offset := start; offset < end; {
		probes++
		if probes%pollInterval == 0 {
			if h.cancelled.Load() || stopped(stop) || stopped(kill) {
				break
			}
			if opts.Progress != nil {
				h.notify(opts.Progress)
			}
		}

		if cand, ok := sc.Evaluate(window, offset); ok {
			found = append(found, cand)
			fineUntil = offset + fineWindow
			misses = 0
			// Skip the block's compressed extent, then comb the
			// neighbourhood at tile granularity.
			step = (int64(cand.CompressedSize) + fineStep - 1) &^ (fineStep - 1)
			if step < fineStep {
				step = fineStep
			}
		} else {
			misses++
			switch {
			case offset < fineUntil:
				step = fineStep
			case step < opts.StepHint:
				// Leaving a fine neighbourhood: resume the coarse
				// grid at the next aligned offset.
				step = (offset/opts.StepHint+1)*opts.StepHint - offset
				misses = 0
			case misses >= widenAfter && step < maxStep:
				step *= 2
				misses = 0
			}
		}

		next := offset + step
		h.advance(min(next, end) - offset)
		offset = next
	}

	if opts.Progress != nil {
		h.notify(opts.Progress)
	}
	return found
}

// dedupe folds duplicate candidates onto the lowest offset. At the
// default threshold a duplicate means byte-identical decoded data, which
// for aligned tiles is exactly an identical bitmap; fingerprints alone
// are too coarse, as unrelated small sprites can share them. A sub-1
// threshold folds perceptual near-matches instead. Candidates arrive
// offset-ordered, so the survivor choice is deterministic.
func (s *SpritePal) dedupe(rom *ROM, candidates []scanner.Candidate, threshold float64) []scanner.Candidate {
	if len(candidates) < 2 {
		return candidates
	}

	type entry struct {
		rec  similarity.Record
		data []byte
	}

	out := candidates[:0]
	var seen []entry
	for _, c := range candidates {
		// Always fingerprint: the index has to know every candidate,
		// survivors and duplicates alike.
		rec, err := s.record(rom, c.Offset)
		if err != nil {
			// Deterministic decode means this cannot normally happen;
			// keep the candidate rather than invent a duplicate.
			s.logger.Printf("dedup: fingerprint failed at %#x: %v", c.Offset, err)
			out = append(out, c)
			continue
		}

		var data []byte
		if threshold >= 1 {
			blk, err := s.DecodeAt(rom, c.Offset)
			if err != nil {
				out = append(out, c)
				continue
			}
			data = blk.Data
		}

		dup := false
		for _, e := range seen {
			if threshold >= 1 {
				dup = bytes.Equal(e.data, data)
			} else {
				dup = similarity.Score(e.rec, rec) >= threshold
			}
			if dup {
				break
			}
		}
		if dup {
			continue
		}
		seen = append(seen, entry{rec: rec, data: data})
		out = append(out, c)
	}
	return out
}
