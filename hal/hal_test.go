package hal

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		src      []byte
		expected []byte
		consumed int
	}{
		{
			"Empty",
			[]byte{0xff},
			[]byte{},
			1,
		},
		{
			"Literal",
			[]byte{0x02, 0x01, 0x02, 0x03, 0xff},
			[]byte{0x01, 0x02, 0x03},
			5,
		},
		{
			"RLE8",
			[]byte{0x23, 0xab, 0xff},
			[]byte{0xab, 0xab, 0xab, 0xab},
			3,
		},
		{
			"RLE16",
			[]byte{0x41, 0x12, 0x34, 0xff},
			[]byte{0x12, 0x34, 0x12, 0x34},
			4,
		},
		{
			"Sequence",
			[]byte{0x63, 0x10, 0xff},
			[]byte{0x10, 0x11, 0x12, 0x13},
			3,
		},
		{
			"Copy",
			[]byte{0x03, 0x01, 0x02, 0x03, 0x04, 0x81, 0x00, 0x00, 0xff},
			[]byte{0x01, 0x02, 0x03, 0x04, 0x01, 0x02},
			9,
		},
		{
			"OverlappingCopy",
			[]byte{0x00, 0xaa, 0x87, 0x00, 0x00, 0xff},
			[]byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa},
			6,
		},
		{
			"RotatedCopy",
			[]byte{0x00, 0x0f, 0xa1, 0x00, 0x00, 0xff},
			[]byte{0x0f, 0xf0, 0x0f},
			6,
		},
		{
			"ReversedCopy",
			[]byte{0x01, 0x01, 0x02, 0xc1, 0x00, 0x01, 0xff},
			[]byte{0x01, 0x02, 0x02, 0x01},
			7,
		},
		{
			"LongForm",
			append([]byte{0xe4, 0x20, 0xaa}, 0xff),
			bytes.Repeat([]byte{0xaa}, 33),
			4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, consumed, err := Decode(tt.src, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
			assert.Equal(t, tt.consumed, consumed)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      []byte
		maxOut   int
		expected error
	}{
		{"NoInput", []byte{}, 0, ErrTruncated},
		{"NoTerminator", []byte{0x00, 0xaa}, 0, ErrTruncated},
		{"ShortLiteral", []byte{0x05, 0x01, 0x02}, 0, ErrTruncated},
		{"ShortLongForm", []byte{0xe4}, 0, ErrTruncated},
		{"InvalidLongMethod", []byte{0xfe, 0x00}, 0, ErrInvalidOpcode},
		{"ForwardReference", []byte{0x81, 0x00, 0x05, 0xff}, 0, ErrTruncated},
		{"ReverseBeforeStart", []byte{0x00, 0xaa, 0xc1, 0x00, 0x00, 0xff}, 0, ErrTruncated},
		{"Overflow", []byte{0x3f, 0xaa, 0xff}, 16, ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.src, tt.maxOut)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestDecodeConsumedOnError(t *testing.T) {
	// The stream position on failure must still be reported so callers
	// can log where a probe went wrong.
	_, consumed, err := Decode([]byte{0x00, 0xaa, 0xfe}, 0)
	assert.ErrorIs(t, err, ErrInvalidOpcode)
	assert.Equal(t, 3, consumed)
}

func TestEncodeSequence(t *testing.T) {
	src := make([]byte, 32)
	for i := range src {
		src[i] = byte(i)
	}

	out, err := Encode(src)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7f, 0x00, 0xff}, out)
}

func TestEncodeFullShortRuns(t *testing.T) {
	// A run of exactly 32 stores length bits 0x1f, which must not bleed
	// into the method bits of the command byte.
	t.Run("RLE8", func(t *testing.T) {
		out, err := Encode(bytes.Repeat([]byte{0xaa}, 32))
		require.NoError(t, err)
		assert.Equal(t, []byte{0x3f, 0xaa, 0xff}, out)
	})

	t.Run("RLE16", func(t *testing.T) {
		out, err := Encode(bytes.Repeat([]byte{0x12, 0x34}, 32))
		require.NoError(t, err)
		assert.Equal(t, []byte{0x5f, 0x12, 0x34, 0xff}, out)
	})
}

func TestEncodeEmpty(t *testing.T) {
	out, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff}, out)
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode(make([]byte, MaxOutput+1))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	noise := make([]byte, 4096)
	r.Read(noise)

	sparse := make([]byte, 4096)
	for i := 0; i < len(sparse); i += 97 {
		sparse[i] = byte(r.Intn(256))
	}

	tiled := make([]byte, 2048)
	for i := range tiled {
		tiled[i] = byte(i % 32)
	}

	tests := []struct {
		name string
		src  []byte
	}{
		{"Zeros", make([]byte, 1024)},
		{"UniformRun", bytes.Repeat([]byte{0x42}, 32)},
		{"UniformRunOdd", bytes.Repeat([]byte{0x42}, 33)},
		{"Incrementing", tiled},
		{"Sparse", sparse},
		{"Noise", noise},
		{"Single", []byte{0x42}},
		{"Pattern", bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 512)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := Encode(tt.src)
			require.NoError(t, err)

			out, consumed, err := Decode(packed, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.src, out)
			assert.Equal(t, len(packed), consumed)
		})
	}
}

func TestEncodeCompresses(t *testing.T) {
	src := make([]byte, 8192)
	packed, err := Encode(src)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(src)/100)
}
