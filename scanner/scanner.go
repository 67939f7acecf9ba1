/*
Package scanner classifies ROM offsets as plausible compressed sprite
blocks. Evaluation is a pure function of the window bytes: a decode
attempt followed by alignment, entropy and compression-ratio checks, so
the same bytes at the same offset always produce the same verdict.
*/
package scanner

import (
	"math"

	"github.com/semmlerino/spritepal/hal"
	"github.com/semmlerino/spritepal/tile"
)

// Scoring constants. The band limits reject degenerate data outright;
// within the band, confidence tapers towards the edges. Compression ratio
// only weighs in on blocks large enough for real graphics to show
// measurable reduction.
const (
	minEntropy   = 1.0 // bits per byte; below this is filler, not graphics
	maxEntropy   = 7.8 // above this is noise or already-compressed data
	idealLow     = 2.0
	idealHigh    = 7.0
	ratioFloor   = 512  // decoded bytes before the ratio check applies
	ratioLimit   = 0.95 // compressed/decoded above this is implausible
	entropyShare = 0.6
	ratioShare   = 0.4
)

// DefaultThreshold is the confidence below which offsets are rejected.
const DefaultThreshold = 0.5

// Codec decompresses a candidate block. It is satisfied by the hal
// package and by instrumented test doubles.
type Codec interface {
	Decode(src []byte, maxOut int) (out []byte, consumed int, err error)
}

// HAL adapts the hal package to the Codec interface.
type HAL struct{}

// Decode implements Codec.
func (HAL) Decode(src []byte, maxOut int) ([]byte, int, error) {
	return hal.Decode(src, maxOut)
}

// Candidate is an offset believed to hold a valid compressed sprite
// block.
type Candidate struct {
	Offset         int64   `cbor:"1,keyasint"`
	CompressedSize int     `cbor:"2,keyasint"`
	DecodedSize    int     `cbor:"3,keyasint"`
	TileCount      int     `cbor:"4,keyasint"`
	Confidence     float64 `cbor:"5,keyasint"`
}

// Config bounds evaluation. The zero value is usable.
type Config struct {
	// MaxDecoded caps decompression output. Zero means hal.MaxOutput.
	MaxDecoded int

	// Threshold is the minimum confidence. Zero means DefaultThreshold.
	Threshold float64
}

// Scanner evaluates offsets with a fixed codec and configuration.
type Scanner struct {
	codec     Codec
	maxOut    int
	threshold float64
}

// New returns a Scanner using the given codec. A nil codec means the HAL
// codec.
func New(codec Codec, cfg Config) *Scanner {
	if codec == nil {
		codec = HAL{}
	}
	maxOut := cfg.MaxDecoded
	if maxOut <= 0 || maxOut > hal.MaxOutput {
		maxOut = hal.MaxOutput
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scanner{codec: codec, maxOut: maxOut, threshold: threshold}
}

// Evaluate attempts to decode window[offset:] and scores the result.
// It returns false for any decode failure, misaligned output, or
// confidence below the threshold. Offsets outside the window are
// rejected, never an out-of-bounds access.
func (s *Scanner) Evaluate(window []byte, offset int64) (Candidate, bool) {
	if offset < 0 || offset >= int64(len(window)) {
		return Candidate{}, false
	}

	decoded, consumed, err := s.codec.Decode(window[offset:], s.maxOut)
	if err != nil {
		return Candidate{}, false
	}

	count := tile.Count(decoded)
	if count == 0 {
		return Candidate{}, false
	}

	confidence := entropyShare*entropyScore(decoded) + ratioShare*ratioScore(consumed, len(decoded))
	if confidence < s.threshold {
		return Candidate{}, false
	}

	return Candidate{
		Offset:         offset,
		CompressedSize: consumed,
		DecodedSize:    len(decoded),
		TileCount:      count,
		Confidence:     confidence,
	}, true
}

// Threshold returns the configured minimum confidence.
func (s *Scanner) Threshold() float64 {
	return s.threshold
}

// entropy is the Shannon entropy of data in bits per byte.
func entropy(data []byte) float64 {
	var hist [256]int
	for _, b := range data {
		hist[b]++
	}
	n := float64(len(data))
	var h float64
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// entropyScore is 0 outside [minEntropy, maxEntropy], 1 inside the ideal
// band, and ramps linearly between.
func entropyScore(data []byte) float64 {
	h := entropy(data)
	switch {
	case h < minEntropy || h > maxEntropy:
		return 0
	case h < idealLow:
		return (h - minEntropy) / (idealLow - minEntropy)
	case h > idealHigh:
		return (maxEntropy - h) / (maxEntropy - idealHigh)
	default:
		return 1
	}
}

// ratioScore penalizes blocks whose compressed size is implausibly close
// to the decoded size. Small blocks get a pass: a single tile has no room
// to compress.
func ratioScore(compressed, decoded int) float64 {
	if decoded < ratioFloor {
		return 1
	}
	ratio := float64(compressed) / float64(decoded)
	switch {
	case ratio >= ratioLimit:
		return 0
	case ratio <= 0.5:
		return 1
	default:
		return (ratioLimit - ratio) / (ratioLimit - 0.5)
	}
}
