package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/kiesman99/mapraster/internal/backend"
)

// normalize crops the raw bitmap to the exact canvas, dropping any padding
// the renderer added right of or below it, and flattens it over white
func normalize(raw image.Image, size image.Point, backendName string) (*image.RGBA, errorsx.Error) {
	bounds := raw.Bounds()
	if bounds.Dx() < size.X || bounds.Dy() < size.Y {
		return nil, errorsx.Wrap(&backend.RenderFailure{
			Backend: backendName,
			Op:      "normalize",
			Message: fmt.Sprintf("bitmap is %dx%d, expected at least %dx%d", bounds.Dx(), bounds.Dy(), size.X, size.Y),
		})
	}

	out := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), raw, bounds.Min, draw.Over)

	return out, nil
}
