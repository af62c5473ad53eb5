package tile

import "image"

// NewTileSet partitions a canvas into tiles of at most edge pixels.
//
// Each axis is stepped independently from 0 to dimension-1 in strides of
// edge; the result is the cross product of the two sequences in row-major
// order. Tiles at the right and bottom may overhang the canvas.
func NewTileSet(size image.Point, edge int) []Tile {
	if edge <= 0 || size.X <= 0 || size.Y <= 0 {
		return nil
	}

	xs := steps(size.X, edge)
	ys := steps(size.Y, edge)

	tiles := make([]Tile, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			tiles = append(tiles, Tile{Origin: image.Pt(x, y), Edge: edge})
		}
	}

	return tiles
}

func steps(dimension, stride int) []int {
	var out []int
	for v := 0; v <= dimension-1; v += stride {
		out = append(out, v)
	}
	return out
}
