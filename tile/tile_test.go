package tile

import (
	"bytes"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTile returns one encoded tile whose pixel (x, y) carries the color
// index x^y, exercising all four bitplanes.
func testTile() []byte {
	t := make([]byte, Size)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := byte(x ^ y)
			bit := byte(1) << uint(7-x)
			if c&1 != 0 {
				t[y*2] |= bit
			}
			if c&2 != 0 {
				t[y*2+1] |= bit
			}
			if c&4 != 0 {
				t[planeBytes+y*2] |= bit
			}
			if c&8 != 0 {
				t[planeBytes+y*2+1] |= bit
			}
		}
	}
	return t
}

func TestDecode(t *testing.T) {
	m, err := Decode(testTile())
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, SheetColumns*8, 8), m.Bounds())
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			assert.Equal(t, uint8(x^y), m.ColorIndexAt(x, y))
		}
	}

	// Sheet padding beyond the last tile is color 0.
	assert.Equal(t, uint8(0), m.ColorIndexAt(8, 0))
	assert.Equal(t, uint8(0), m.ColorIndexAt(SheetColumns*8-1, 7))
}

func TestDecodeRows(t *testing.T) {
	data := bytes.Repeat(testTile(), SheetColumns+1)
	m, err := Decode(data)
	require.NoError(t, err)

	// 17 tiles wrap onto a second row.
	assert.Equal(t, image.Rect(0, 0, SheetColumns*8, 16), m.Bounds())
	assert.Equal(t, uint8(1), m.ColorIndexAt(1, 8))
}

func TestBitmap(t *testing.T) {
	// One tile renders as a single 8x8 image, not a padded sheet row.
	m, err := Bitmap(testTile())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), m.Bounds())
	assert.Equal(t, uint8(3), m.ColorIndexAt(1, 2))

	m, err = Bitmap(bytes.Repeat(testTile(), 3))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 24, 8), m.Bounds())

	// Beyond a full row it wraps like the sheet.
	m, err = Bitmap(bytes.Repeat(testTile(), SheetColumns+1))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, SheetColumns*8, 16), m.Bounds())

	_, err = Bitmap(make([]byte, Size-1))
	assert.ErrorIs(t, err, ErrAlignment)
}

func TestDecodeAlignment(t *testing.T) {
	for _, n := range []int{1, Size - 1, Size + 1, 2*Size - 7} {
		_, err := Decode(make([]byte, n))
		assert.ErrorIs(t, err, ErrAlignment)
	}

	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrAlignment)
}

func TestCount(t *testing.T) {
	tests := []struct {
		length   int
		expected int
	}{
		{0, 0},
		{Size, 1},
		{Size - 1, 0},
		{Size + 1, 0},
		{7 * Size, 7},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Count(make([]byte, tt.length)))
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	src := image.NewPaletted(image.Rect(0, 0, 8, 8), Grayscale())
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			src.SetColorIndex(x, y, uint8(x^y))
		}
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src))
	assert.Equal(t, Size, buf.Len())

	m, err := Decode(buf.Bytes())
	require.NoError(t, err)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			assert.Equal(t, src.ColorIndexAt(x, y), m.ColorIndexAt(x, y))
		}
	}
}

func TestEncodeDimensions(t *testing.T) {
	for _, r := range []image.Rectangle{
		image.Rect(0, 0, 7, 8),
		image.Rect(0, 0, 8, 9),
		image.Rect(0, 0, 0, 0),
	} {
		var buf bytes.Buffer
		assert.Error(t, Encode(&buf, image.NewPaletted(r, Grayscale())))
	}
}

func TestGrayscale(t *testing.T) {
	p := Grayscale()
	require.Len(t, p, 16)
	assert.Equal(t, p.Convert(p[0]), p[0])

	r, g, b, a := p[15].RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
	assert.Equal(t, uint32(0xffff), a)
	assert.Equal(t, uint32(0xffff), r)
}
