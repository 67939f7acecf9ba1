/*
Package tile implements a decoder and encoder for 8 by 8 pixel 4-bit
planar tiles, the atomic unit of decompressed sprite data.

Each tile is 32 bytes: bitplanes 0 and 1 interleaved per row in the first
16 bytes, bitplanes 2 and 3 in the last 16. Decoded tiles are arranged
into a sheet of 16 tiles per row using a fixed 16-step grayscale ramp, so
the same pixel data always produces the same image.
*/
package tile

import "image/color"

const (
	tileWidth  = 8
	tileHeight = tileWidth
	planeBytes = 16
	numColors  = 16

	// Size is the number of bytes in one encoded tile.
	Size = 2 * planeBytes

	// SheetColumns is the number of tiles per sheet row.
	SheetColumns = 16
)

// Grayscale returns the fixed 16-tone palette used for decoded sheets.
func Grayscale() color.Palette {
	p := make(color.Palette, numColors)
	for i := range p {
		v := uint8(i * 255 / (numColors - 1))
		p[i] = color.RGBA{v, v, v, 0xff}
	}
	return p
}
