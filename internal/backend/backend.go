// Package backend drives external tools that turn an SVG document into a
// bitmap.
//
// Two families are supported. Command backends run a one-shot tool per
// capture (headless browsers, wkhtmltoimage, inkscape). Protocol backends
// keep one process alive and scroll its viewport on request, which lets a
// canvas larger than the tool's window be captured tile by tile.
package backend

import (
	"context"
	"image"
	"time"

	"github.com/jamesrr39/goutil/errorsx"
)

// Backend is one rendering tool
type Backend interface {
	Name() string
	// NeedsScaleProbe reports whether the tool applies device scaling that
	// has to be measured before sizes can be requested
	NeedsScaleProbe() bool
	// MaxCapture is the largest width or height one capture can produce,
	// or 0 for no limit
	MaxCapture() int
	// Open starts a session for the document. Relative paths in the tool's
	// output are resolved against dir.
	Open(ctx context.Context, document, dir string) (Session, errorsx.Error)
}

// Session captures bitmaps of one document. Close must be called on every
// path once the session is open.
type Session interface {
	// Capture renders the viewport into a bitmap file at outPath and returns
	// the origin the backend actually captured from
	Capture(ctx context.Context, viewport image.Rectangle, outPath string) (image.Point, errorsx.Error)
	Close() errorsx.Error
}

// Options are shared by all backends built from a registry
type Options struct {
	// TileSize is the window edge of protocol backends
	TileSize int
	// SettleDelay is how long a protocol backend waits after scrolling
	SettleDelay time.Duration
	// Timeout bounds each round-trip with the backend process
	Timeout time.Duration
}

// Default option values
const (
	DefaultTileSize    = 2000
	DefaultSettleDelay = time.Second
	DefaultTimeout     = 2 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.TileSize <= 0 {
		o.TileSize = DefaultTileSize
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}
