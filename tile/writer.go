package tile

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/ericpauley/go-quantize/quantize"
)

type encoder struct {
	w io.Writer
}

func (e *encoder) encode(m *image.Paletted) error {
	b := m.Bounds()
	var t [Size]byte

	for oy := 0; oy < b.Dy(); oy += tileHeight {
		for ox := 0; ox < b.Dx(); ox += tileWidth {
			for i := range t {
				t[i] = 0
			}
			for y := 0; y < tileHeight; y++ {
				for x := 0; x < tileWidth; x++ {
					c := m.ColorIndexAt(ox+x, oy+y) & 0x0f
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
			if _, err := e.w.Write(t[:]); err != nil {
				return err
			}
		}
	}

	return nil
}

// Encode writes the Image m to w as planar tile data, row-major in tile
// order. The image dimensions must be multiples of 8. Images that are not
// paletted, or that carry more than 16 colors, are quantized first.
func Encode(w io.Writer, m image.Image) error {
	b := m.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 || b.Dx()%tileWidth != 0 || b.Dy()%tileHeight != 0 {
		return errors.New("tile: image dimensions must be multiples of 8")
	}

	pm, _ := m.(*image.Paletted)
	if pm == nil {
		if cp, ok := m.ColorModel().(color.Palette); ok && len(cp) <= numColors {
			pm = image.NewPaletted(b, cp)
			draw.Draw(pm, b, m, b.Min, draw.Src)
		}
	}
	if pm == nil || len(pm.Palette) > numColors {
		q := quantize.MedianCutQuantizer{}
		pm = image.NewPaletted(b, q.Quantize(make(color.Palette, 0, numColors), m))
		draw.Draw(pm, b, m, b.Min, draw.Src)
	}

	// Adjust image so that top-left corner is at (0, 0)
	if pm.Rect.Min != (image.Point{}) {
		dup := *pm
		dup.Rect = dup.Rect.Sub(dup.Rect.Min)
		pm = &dup
	}

	e := encoder{w: w}

	return e.encode(pm)
}
