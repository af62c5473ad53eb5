package backend

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/kiesman99/mapraster/pkg/tile"
)

// ProbeSize is the nominal edge of the reference document
const ProbeSize = 1000

const probeDocument = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" version="1.1" width="1000px" height="1000px" viewBox="0 0 1000 1000"></svg>
`

// ScaleFactor is the ratio of rendered to requested pixels for one backend
type ScaleFactor float64

// Request returns the size to ask the backend for so that it renders px
// pixels
func (s ScaleFactor) Request(px int) int {
	if s <= 0 {
		return px
	}
	// tolerance keeps exact ratios from rounding up a pixel
	return int(math.Ceil(float64(px)/float64(s) - 1e-9))
}

// RequestSize applies Request to both dimensions
func (s ScaleFactor) RequestSize(size image.Point) image.Point {
	return image.Pt(s.Request(size.X), s.Request(size.Y))
}

// Probe measures the device scaling of a backend by rendering a reference
// document of known size. Backends that size exactly get a factor of 1
// without running anything.
func Probe(ctx context.Context, b Backend, dir string) (ScaleFactor, errorsx.Error) {
	if !b.NeedsScaleProbe() {
		return 1, nil
	}

	document := filepath.Join(dir, "probe.svg")
	if err := os.WriteFile(document, []byte(probeDocument), 0600); err != nil {
		return 0, errorsx.Wrap(err)
	}

	sess, err := b.Open(ctx, document, dir)
	if err != nil {
		return 0, err
	}

	output := filepath.Join(dir, "probe.png")
	_, err = sess.Capture(ctx, image.Rect(0, 0, ProbeSize, ProbeSize), output)
	if closeErr := sess.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}

	img, decodeErr := tile.DecodeFile(output)
	if decodeErr != nil {
		return 0, failure(b.Name(), "probe", "could not read the probe bitmap", decodeErr, "")
	}

	width := img.Bounds().Dx()
	if width <= 0 {
		return 0, failure(b.Name(), "probe", fmt.Sprintf("probe bitmap is %v", img.Bounds()), nil, "")
	}

	return ScaleFactor(float64(width) / ProbeSize), nil
}
