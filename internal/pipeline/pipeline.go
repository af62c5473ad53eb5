// Package pipeline turns an SVG map scene into a georeferenced raster.
//
// A render selects a backend, measures its device scaling when needed,
// prepares the scene, captures it directly or tile by tile, and normalises
// the bitmap into the output format. Any failure aborts the whole render.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/goutil/logpkg"
	"github.com/kiesman99/mapraster/internal/backend"
	"github.com/kiesman99/mapraster/internal/capture"
	"github.com/kiesman99/mapraster/internal/scene"
	"github.com/kiesman99/mapraster/pkg/frame"
	"github.com/kiesman99/mapraster/pkg/tile"
)

// cssPixelsPerInch is the resolution browsers lay SVG out at
const cssPixelsPerInch = 96

// Pipeline renders scenes with backends from a registry
type Pipeline struct {
	config   Config
	registry *backend.Registry
	logger   *logpkg.Logger
}

// New creates a pipeline
func New(config Config, registry *backend.Registry, logger *logpkg.Logger) (*Pipeline, errorsx.Error) {
	if err := config.validate(); err != nil {
		return nil, errorsx.Wrap(err)
	}
	if config.PPI == 0 {
		config.PPI = DefaultPPI
	}

	return &Pipeline{
		config:   config,
		registry: registry,
		logger:   logger,
	}, nil
}

// Render runs one render and returns the encoded raster and world file
func (p *Pipeline) Render(ctx context.Context, req Request) (*Result, errorsx.Error) {
	if err := req.validate(); err != nil {
		return nil, errorsx.Wrap(err)
	}

	ppi := p.config.PPI
	if req.PPI > 0 {
		ppi = req.PPI
	}

	doc, err := scene.Parse(req.Scene)
	if err != nil {
		return nil, errorsx.Wrap(&ValidationError{"scene", err.Error()})
	}

	// checked before any backend runs
	if err := doc.ResolveReferences(req.SceneDir); err != nil {
		return nil, errorsx.Wrap(err)
	}

	width, height := doc.Width, doc.Height
	if req.Map.WidthMM > 0 {
		width = scene.Length{Value: req.Map.WidthMM, Unit: "mm"}
	}
	if req.Map.HeightMM > 0 {
		height = scene.Length{Value: req.Map.HeightMM, Unit: "mm"}
	}

	dimensions := image.Pt(
		int(math.Round(width.Inches()*ppi)),
		int(math.Round(height.Inches()*ppi)),
	)
	if dimensions.X <= 0 || dimensions.Y <= 0 {
		return nil, errorsx.Wrap(&ValidationError{"size", fmt.Sprintf("%s x %s at %g ppi is less than a pixel", width, height, ppi)})
	}

	transform, xerr := contentTransform(doc, req.Map.Rotation)
	if xerr != nil {
		return nil, xerr
	}

	b, xerr := p.registry.Select(p.config.Backend, p.config.BackendPaths, p.config.backendOptions())
	if xerr != nil {
		return nil, xerr
	}

	p.logger.Info("rendering %dx%d px at %g ppi with %s", dimensions.X, dimensions.Y, ppi, b.Name())

	dir, err := os.MkdirTemp(p.config.TempDir, "mapraster-")
	if err != nil {
		return nil, errorsx.Wrap(err)
	}
	if p.config.KeepTemp {
		p.logger.Info("keeping intermediate files in %s", dir)
	} else {
		defer os.RemoveAll(dir)
	}

	scale, xerr := backend.Probe(ctx, b, dir)
	if xerr != nil {
		return nil, xerr
	}
	if b.NeedsScaleProbe() {
		p.logger.Debug("%s renders at %g device pixels per pixel", b.Name(), float64(scale))
	}

	document := filepath.Join(dir, "scene.svg")
	rewritten := doc.Rewrite(scene.RewriteOptions{
		Zoom:         ppi / cssPixelsPerInch / float64(scale),
		Width:        width,
		Height:       height,
		Transform:    transform,
		ClipOverflow: true,
	})
	if err := os.WriteFile(document, rewritten, 0600); err != nil {
		return nil, errorsx.Wrap(err)
	}

	raw, tiles, xerr := p.capture(ctx, b, document, dir, dimensions, scale)
	if xerr != nil {
		return nil, xerr
	}

	img, xerr := normalize(raw, dimensions, b.Name())
	if xerr != nil {
		return nil, xerr
	}

	data, err := tile.Encode(img, req.Format, ppi)
	if err != nil {
		return nil, errorsx.Wrap(err, "format", req.Format.String())
	}

	resolution := Resolution(req.Map.Scale, ppi)

	return &Result{
		ImageData:     data,
		WorldFileData: tile.WorldFile(resolution, req.Map.Rotation, req.Map.OriginX, req.Map.OriginY),
		Format:        req.Format,
		Width:         dimensions.X,
		Height:        dimensions.Y,
		PPI:           ppi,
		Resolution:    resolution,
		Backend:       b.Name(),
		ScaleFactor:   float64(scale),
		Tiles:         tiles,
	}, nil
}

// capture opens a session on the prepared document and returns the raw
// bitmap, tiled when the canvas is larger than the backend can capture at
// once
func (p *Pipeline) capture(ctx context.Context, b backend.Backend, document, dir string, dimensions image.Point, scale backend.ScaleFactor) (img image.Image, tiles int, err errorsx.Error) {
	sess, err := b.Open(ctx, document, dir)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		closeErr := sess.Close()
		if closeErr == nil {
			return
		}
		if err != nil {
			p.logger.Warn("closing %s after a failed capture: %s", b.Name(), closeErr.Error())
			return
		}
		img, err = nil, closeErr
	}()

	limit := b.MaxCapture()
	if limit > 0 && (dimensions.X > limit || dimensions.Y > limit) {
		set := tile.NewTileSet(dimensions, limit)
		p.logger.Info("capturing %d tiles of %dpx", len(set), limit)

		captured, err := capture.Tiled(ctx, sess, set, dir, p.logger)
		if err != nil {
			return nil, 0, err
		}
		mosaic, err := capture.Mosaic(dimensions, captured)
		if err != nil {
			if rf, ok := backend.IsRenderFailure(err); ok && rf.Backend == "" {
				rf.Backend = b.Name()
			}
			return nil, 0, err
		}
		return mosaic, len(set), nil
	}

	path := filepath.Join(dir, "raw.png")
	if err := capture.Direct(ctx, sess, scale.RequestSize(dimensions), path); err != nil {
		return nil, 0, err
	}

	raw, decodeErr := tile.DecodeFile(path)
	if decodeErr != nil {
		return nil, 0, errorsx.Wrap(&backend.RenderFailure{
			Backend: b.Name(),
			Op:      "capture",
			Message: "bitmap is unreadable",
			Err:     decodeErr,
		})
	}

	return raw, 0, nil
}

// contentTransform returns the SVG transform that draws the rotated map
// content onto the frame, or "" for an unrotated map
func contentTransform(doc *scene.Document, rotation float64) (string, errorsx.Error) {
	if rotation == 0 {
		return "", nil
	}

	w, h := doc.UserSize()
	f, err := frame.New(w, h, rotation)
	if err != nil {
		return "", errorsx.Wrap(err)
	}

	transform := f.SVGTransform()
	if minX, minY := doc.ViewBox[0], doc.ViewBox[1]; minX != 0 || minY != 0 {
		transform = fmt.Sprintf("translate(%g %g) %s", minX, minY, transform)
	}

	return transform, nil
}

// Resolution is the ground size in metres of one pixel of a 1:scale map
// printed at ppi
func Resolution(scale, ppi float64) float64 {
	return scale * 0.0254 / ppi
}
