package similarity

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sprite renders a deterministic grayscale test bitmap from a seed.
func sprite(seed int64) *image.Gray {
	r := rand.New(rand.NewSource(seed))
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			g.SetGray(x, y, color.Gray{Y: uint8(r.Intn(256))})
		}
	}
	return g
}

// checkerboard renders regular structure so hash bits are predictable.
func checkerboard(size int, invert bool) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			on := (x/size+y/size)%2 == 0
			if invert {
				on = !on
			}
			if on {
				g.SetGray(x, y, color.Gray{Y: 0xff})
			}
		}
	}
	return g
}

func TestScoreIdentity(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		r := Fingerprint(0, sprite(seed))
		assert.Equal(t, 1.0, Score(r, r))
		assert.True(t, IsDuplicate(r, r))
	}
}

func TestScoreIdentityOddDimensions(t *testing.T) {
	// Histogram bins are normalised by the pixel count; when that count
	// is not a power of two the bin fractions cannot sum to exactly one
	// in floats, which must not leak into the identity score.
	r := rand.New(rand.NewSource(11))
	g := image.NewGray(image.Rect(0, 0, 128, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 128; x++ {
			g.SetGray(x, y, color.Gray{Y: uint8(r.Intn(256))})
		}
	}

	a := Fingerprint(0x1000, g)
	assert.Equal(t, 1.0, Score(a, a))

	// The same bitmap at another offset scores 1 exactly too.
	b := Fingerprint(0x2000, g)
	assert.Equal(t, 1.0, Score(a, b))
	assert.True(t, IsDuplicate(a, b))
}

func TestScoreSymmetry(t *testing.T) {
	a := Fingerprint(0, sprite(1))
	b := Fingerprint(1, sprite(2))
	assert.Equal(t, Score(a, b), Score(b, a))
}

func TestScoreRange(t *testing.T) {
	a := Fingerprint(0, checkerboard(8, false))
	b := Fingerprint(1, checkerboard(8, true))
	c := Fingerprint(2, sprite(7))

	for _, s := range []float64{Score(a, b), Score(a, c), Score(b, c)} {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}

	// Inverted structure scores well below identity.
	assert.Less(t, Score(a, b), 0.9)
}

func TestDuplicateDetection(t *testing.T) {
	// The same bitmap at two offsets is a duplicate; different bitmaps
	// are not.
	a := Fingerprint(0x1000, sprite(42))
	b := Fingerprint(0x2000, sprite(42))
	c := Fingerprint(0x3000, checkerboard(4, false))

	assert.True(t, IsDuplicate(a, b))
	assert.False(t, IsDuplicate(a, c))
}

func TestIndexAddGet(t *testing.T) {
	x := NewIndex()
	assert.Zero(t, x.Len())

	r := Fingerprint(0x100, sprite(1))
	x.Add(r)
	assert.Equal(t, 1, x.Len())

	got, ok := x.Get(0x100)
	require.True(t, ok)
	assert.Equal(t, r, got)

	_, ok = x.Get(0x200)
	assert.False(t, ok)
}

func TestRecordsSorted(t *testing.T) {
	x := NewIndex()
	for _, offset := range []int64{0x300, 0x100, 0x200} {
		x.Add(Fingerprint(offset, sprite(offset)))
	}

	records := x.Records()
	require.Len(t, records, 3)
	assert.Equal(t, int64(0x100), records[0].Offset)
	assert.Equal(t, int64(0x200), records[1].Offset)
	assert.Equal(t, int64(0x300), records[2].Offset)
}

func TestFindSimilar(t *testing.T) {
	x := NewIndex()
	ref := Fingerprint(0x000, sprite(42))
	x.Add(ref)
	x.Add(Fingerprint(0x100, sprite(42))) // exact duplicate
	x.Add(Fingerprint(0x200, sprite(42))) // exact duplicate
	x.Add(Fingerprint(0x300, checkerboard(4, false)))

	matches := x.FindSimilar(ref, 0.99, 0)
	require.Len(t, matches, 2)

	// Best score first, ascending offset on ties; never the reference
	// itself.
	assert.Equal(t, int64(0x100), matches[0].Offset)
	assert.Equal(t, int64(0x200), matches[1].Offset)
	assert.Equal(t, 1.0, matches[0].Score)

	matches = x.FindSimilar(ref, 0.99, 1)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(0x100), matches[0].Offset)

	// A threshold of 0 ranks everything.
	matches = x.FindSimilar(ref, 0, 0)
	assert.Len(t, matches, 3)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
}

func TestGroups(t *testing.T) {
	x := NewIndex()
	// Two exact duplicates, one singleton.
	x.Add(Fingerprint(0x000, sprite(1)))
	x.Add(Fingerprint(0x100, sprite(1)))
	x.Add(Fingerprint(0x200, checkerboard(4, false)))

	groups := x.Groups(0.99, 2)
	require.Len(t, groups, 1)
	assert.Equal(t, []int64{0x000, 0x100}, groups[0])

	// minSize 1 is clamped to 2: singletons never form groups.
	groups = x.Groups(0.99, 1)
	assert.Len(t, groups, 1)
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint(0, sprite(9))
	b := Fingerprint(0, sprite(9))
	assert.Equal(t, a, b)
}

func TestHashesDiffer(t *testing.T) {
	// Structurally different bitmaps should land on different hashes.
	a := Fingerprint(0, checkerboard(8, false))
	b := Fingerprint(0, checkerboard(8, true))
	assert.NotEqual(t, a.PHash, b.PHash)
}
