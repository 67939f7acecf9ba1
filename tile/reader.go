package tile

import (
	"errors"
	"image"
)

// ErrAlignment is returned when tile data is not a whole number of tiles.
var ErrAlignment = errors.New("tile: data length is not a multiple of the tile size")

// pixel extracts the 4-bit color index at (x, y) of a single encoded tile.
func pixel(t []byte, x, y int) uint8 {
	bit := uint(7 - x)
	p0 := t[y*2] >> bit & 1
	p1 := t[y*2+1] >> bit & 1
	p2 := t[planeBytes+y*2] >> bit & 1
	p3 := t[planeBytes+y*2+1] >> bit & 1
	return p0 | p1<<1 | p2<<2 | p3<<3
}

// Decode converts tile-aligned data into a paletted sheet image, 16 tiles
// per row with the final row padded with color 0. The same data always
// yields the same image.
func Decode(data []byte) (*image.Paletted, error) {
	if len(data) == 0 || len(data)%Size != 0 {
		return nil, ErrAlignment
	}
	return render(data, SheetColumns), nil
}

// Bitmap converts tile-aligned data into a paletted image sized to its
// content: no wider than the tile count, so a single tile becomes an 8x8
// image instead of one cell in a mostly blank sheet row. Comparisons use
// this form so padding cannot dominate them.
func Bitmap(data []byte) (*image.Paletted, error) {
	if len(data) == 0 || len(data)%Size != 0 {
		return nil, ErrAlignment
	}
	cols := len(data) / Size
	if cols > SheetColumns {
		cols = SheetColumns
	}
	return render(data, cols), nil
}

func render(data []byte, cols int) *image.Paletted {
	count := len(data) / Size
	rows := (count + cols - 1) / cols
	m := image.NewPaletted(image.Rect(0, 0, cols*tileWidth, rows*tileHeight), Grayscale())

	for i := 0; i < count; i++ {
		t := data[i*Size : (i+1)*Size]
		ox := i % cols * tileWidth
		oy := i / cols * tileHeight
		for y := 0; y < tileHeight; y++ {
			for x := 0; x < tileWidth; x++ {
				m.SetColorIndex(ox+x, oy+y, pixel(t, x, y))
			}
		}
	}

	return m
}

// Count returns the number of whole tiles in data, or 0 if the length is
// not tile-aligned.
func Count(data []byte) int {
	if len(data)%Size != 0 {
		return 0
	}
	return len(data) / Size
}
