package capture

import (
	"fmt"
	"image"
	"image/draw"
	"os"
	"sort"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/kiesman99/mapraster/internal/backend"
	"github.com/kiesman99/mapraster/pkg/tile"
)

// Mosaic copies the tiles into a canvas of exactly size pixels.
//
// Tiles are composited in row-major order of their origin, so where clipped
// tiles overlap the later one wins. Pixels are copied, never blended. A
// bitmap that does not cover its tile's part of the canvas is a
// RenderFailure. The tile files are owned by Mosaic and removed once read,
// on error as well.
func Mosaic(size image.Point, tiles []CapturedTile) (*image.RGBA, errorsx.Error) {
	defer Discard(tiles)

	if size.X <= 0 || size.Y <= 0 {
		return nil, errorsx.Errorf("invalid canvas size %v", size)
	}

	sorted := append([]CapturedTile(nil), tiles...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Less(sorted[j].Tile)
	})

	canvas := image.NewRGBA(image.Rectangle{Max: size})
	for _, t := range sorted {
		img, err := tile.DecodeFile(t.Path)
		if err != nil {
			return nil, errorsx.Wrap(err, "tile", t.Origin.String())
		}

		want := t.Clip(canvas.Bounds())
		if want.Empty() {
			continue
		}

		src := img.Bounds()
		dst := image.Rectangle{Min: t.Origin, Max: t.Origin.Add(src.Size())}
		dst = dst.Intersect(want)
		if dst != want {
			return nil, errorsx.Wrap(&backend.RenderFailure{
				Op:      "mosaic",
				Message: fmt.Sprintf("tile at %v is %dx%d, expected at least %dx%d", t.Origin, src.Dx(), src.Dy(), want.Dx(), want.Dy()),
			}, "tile", t.Origin.String())
		}

		draw.Draw(canvas, dst, img, src.Min.Add(dst.Min.Sub(t.Origin)), draw.Src)
		os.Remove(t.Path)
	}

	return canvas, nil
}
