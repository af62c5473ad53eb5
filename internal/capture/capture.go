// Package capture runs capture passes against a backend session and
// assembles tiles into one canvas.
package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/goutil/logpkg"
	"github.com/kiesman99/mapraster/internal/backend"
	"github.com/kiesman99/mapraster/pkg/tile"
)

// CapturedTile is a tile bitmap on disk, tagged with the origin the backend
// captured it from
type CapturedTile struct {
	tile.Tile
	Path string
}

// TileFilename names the bitmap of the tile requested at origin
func TileFilename(origin image.Point) string {
	return fmt.Sprintf("tile.%d.%d.png", origin.X, origin.Y)
}

// Direct captures the whole viewport in one request
func Direct(ctx context.Context, sess backend.Session, viewport image.Point, path string) errorsx.Error {
	if _, err := sess.Capture(ctx, image.Rectangle{Max: viewport}, path); err != nil {
		return err
	}
	return nil
}

// Tiled captures every tile in order. Either all tiles are captured or an
// error is returned and no tile files are left behind.
func Tiled(ctx context.Context, sess backend.Session, tiles []tile.Tile, dir string, logger *logpkg.Logger) ([]CapturedTile, errorsx.Error) {
	queue := append([]tile.Tile(nil), tiles...)
	captured := make([]CapturedTile, 0, len(queue))

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		if err := ctx.Err(); err != nil {
			Discard(captured)
			return nil, errorsx.Wrap(err)
		}

		path := filepath.Join(dir, TileFilename(next.Origin))
		origin, err := sess.Capture(ctx, next.Bounds(), path)
		if err != nil {
			Discard(captured)
			return nil, errorsx.Wrap(err, "tile", next.Origin.String())
		}

		captured = append(captured, CapturedTile{
			Tile: tile.Tile{Origin: origin, Edge: next.Edge},
			Path: path,
		})
		logger.Debug("captured tile %d/%d at %v (requested %v)", len(captured), len(tiles), origin, next.Origin)
	}

	return captured, nil
}

// Discard removes the bitmaps of captured tiles
func Discard(tiles []CapturedTile) {
	for _, t := range tiles {
		os.Remove(t.Path)
	}
}
