package similarity

import (
	"image"
	"image/color"
)

// grayscale flattens a bitmap to 8-bit luminance with the origin at
// (0, 0).
func grayscale(m image.Image) *image.Gray {
	b := m.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.SetGray(x, y, color.GrayModel.Convert(m.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return g
}

// shrink box-averages g down to w by h cells of 16-bit accumulated
// luminance. Pure integer arithmetic keeps the result identical across
// platforms.
func shrink(g *image.Gray, w, h int) []uint32 {
	gw, gh := g.Rect.Dx(), g.Rect.Dy()
	cells := make([]uint32, w*h)
	counts := make([]uint32, w*h)

	for y := 0; y < gh; y++ {
		cy := y * h / gh
		for x := 0; x < gw; x++ {
			cx := x * w / gw
			cells[cy*w+cx] += uint32(g.GrayAt(x, y).Y)
			counts[cy*w+cx]++
		}
	}
	for i := range cells {
		if counts[i] > 0 {
			cells[i] /= counts[i]
		}
	}
	return cells
}

// averageHash is the 64-bit coarse structural signature: the bitmap is
// reduced to an 8x8 grid and each cell contributes one bit, set when the
// cell is brighter than the grid mean.
func averageHash(g *image.Gray) uint64 {
	cells := shrink(g, hashSide, hashSide)

	var sum uint64
	for _, c := range cells {
		sum += uint64(c)
	}
	avg := uint32(sum / uint64(len(cells)))

	var h uint64
	for i, c := range cells {
		if c > avg {
			h |= 1 << uint(i)
		}
	}
	return h
}

// differenceHash is the 64-bit gradient signature: a 9x8 grid where each
// bit records whether a cell is brighter than its left neighbour.
func differenceHash(g *image.Gray) uint64 {
	cells := shrink(g, hashSide+1, hashSide)

	var h uint64
	i := 0
	for y := 0; y < hashSide; y++ {
		for x := 0; x < hashSide; x++ {
			if cells[y*(hashSide+1)+x+1] > cells[y*(hashSide+1)+x] {
				h |= 1 << uint(i)
			}
			i++
		}
	}
	return h
}

// histogram is the normalized 16-bin tone distribution.
func histogram(g *image.Gray) [histoBins]float64 {
	var counts [histoBins]int
	n := g.Rect.Dx() * g.Rect.Dy()
	for y := 0; y < g.Rect.Dy(); y++ {
		for x := 0; x < g.Rect.Dx(); x++ {
			counts[int(g.GrayAt(x, y).Y)*histoBins/256]++
		}
	}

	var out [histoBins]float64
	if n == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = float64(c) / float64(n)
	}
	return out
}
