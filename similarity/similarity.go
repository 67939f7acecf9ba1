/*
Package similarity groups decoded sprite bitmaps by visual likeness.

Every indexed bitmap gets three fingerprints: a 64-bit average hash (the
coarse structure), a 64-bit difference hash (horizontal gradients), and a
16-bin tone histogram. Two bitmaps compare as the weighted sum of the
normalized Hamming similarity of the hashes and the histogram
intersection. The score is symmetric and a bitmap scores exactly 1
against itself, which is what duplicate detection relies on.
*/
package similarity

import (
	"image"
	"math/bits"
	"sort"
	"sync"
)

// Fingerprint comparison weights. Their sum is 1 so scores stay in
// [0, 1]. These are the tunables for similarity calibration; duplicate
// detection additionally uses dupEpsilon as its tolerance band.
const (
	weightPerceptual = 0.4
	weightDifference = 0.3
	weightHistogram  = 0.3

	hashBits   = 64
	hashSide   = 8
	histoBins  = 16
	dupEpsilon = 1e-9
)

// Record is the immutable fingerprint of one decoded bitmap.
type Record struct {
	Offset    int64              `cbor:"1,keyasint"`
	PHash     uint64             `cbor:"2,keyasint"`
	DHash     uint64             `cbor:"3,keyasint"`
	Histogram [histoBins]float64 `cbor:"4,keyasint"`
}

// Match is one result of a similarity query.
type Match struct {
	Offset int64
	Score  float64
}

// Index holds fingerprints for one ROM and answers nearest-neighbour
// queries with a linear scan, which is exact and fast enough at sprite
// counts.
type Index struct {
	mu      sync.RWMutex
	records map[int64]Record
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{records: make(map[int64]Record)}
}

// Fingerprint computes the Record for a bitmap at the given offset.
func Fingerprint(offset int64, m image.Image) Record {
	g := grayscale(m)
	return Record{
		Offset:    offset,
		PHash:     averageHash(g),
		DHash:     differenceHash(g),
		Histogram: histogram(g),
	}
}

// Add stores a record. Records are immutable: re-adding the same offset
// replaces the previous record, which is only observable if the caller
// broke the deterministic-decode contract.
func (x *Index) Add(r Record) {
	x.mu.Lock()
	x.records[r.Offset] = r
	x.mu.Unlock()
}

// Get returns the record for an offset.
func (x *Index) Get(offset int64) (Record, bool) {
	x.mu.RLock()
	r, ok := x.records[offset]
	x.mu.RUnlock()
	return r, ok
}

// Len returns the number of indexed records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Records returns all records, sorted by offset.
func (x *Index) Records() []Record {
	x.mu.RLock()
	out := make([]Record, 0, len(x.records))
	for _, r := range x.records {
		out = append(out, r)
	}
	x.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Score returns the combined similarity of two records in [0, 1].
// Score(a, b) == Score(b, a), and Score(a, a) == 1 exactly.
func Score(a, b Record) float64 {
	// Equal fingerprints score 1 without touching the histogram sum,
	// whose float terms need not add up to exactly 1.
	if a.PHash == b.PHash && a.DHash == b.DHash && a.Histogram == b.Histogram {
		return 1
	}

	p := 1 - float64(bits.OnesCount64(a.PHash^b.PHash))/hashBits
	d := 1 - float64(bits.OnesCount64(a.DHash^b.DHash))/hashBits
	var h float64
	for i := range a.Histogram {
		h += min(a.Histogram[i], b.Histogram[i])
	}
	if h > 1 {
		h = 1
	}
	return weightPerceptual*p + weightDifference*d + weightHistogram*h
}

// FindSimilar returns up to max records scoring at least threshold
// against ref, excluding ref's own offset, ordered by descending score
// with ascending offset breaking ties.
func (x *Index) FindSimilar(ref Record, threshold float64, max int) []Match {
	x.mu.RLock()
	matches := make([]Match, 0, 16)
	for offset, r := range x.records {
		if offset == ref.Offset {
			continue
		}
		if s := Score(ref, r); s >= threshold {
			matches = append(matches, Match{Offset: offset, Score: s})
		}
	}
	x.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Offset < matches[j].Offset
	})
	if max > 0 && len(matches) > max {
		matches = matches[:max]
	}
	return matches
}

// IsDuplicate reports whether two records are perceptually identical.
func IsDuplicate(a, b Record) bool {
	return Score(a, b) >= 1-dupEpsilon
}

// Groups returns families of mutually similar sprites: each group is the
// offsets (ascending) whose members score at least threshold against the
// group's seed. Groups are discovered in offset order so the result is
// deterministic, and only groups of at least minSize members are kept.
func (x *Index) Groups(threshold float64, minSize int) [][]int64 {
	if minSize < 2 {
		minSize = 2
	}

	seeds := x.Records()
	seen := make(map[int64]bool, len(seeds))
	var groups [][]int64

	for _, seed := range seeds {
		if seen[seed.Offset] {
			continue
		}
		matches := x.FindSimilar(seed, threshold, 0)
		group := []int64{seed.Offset}
		for _, m := range matches {
			if !seen[m.Offset] {
				group = append(group, m.Offset)
			}
		}
		if len(group) < minSize {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i] < group[j] })
		for _, o := range group {
			seen[o] = true
		}
		groups = append(groups, group)
	}

	return groups
}
