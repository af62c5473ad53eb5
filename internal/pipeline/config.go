package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/kiesman99/mapraster/internal/backend"
	"github.com/kiesman99/mapraster/pkg/tile"
)

// Config holds everything that stays the same between renders
type Config struct {
	// Backend selects a backend by name, empty for the first available
	Backend string
	// BackendPaths maps backend names to executables
	BackendPaths map[string]string
	// PPI is the default output resolution in pixels per inch
	PPI float64
	// TempDir is where run directories are created, empty for the system default
	TempDir string
	// TileSize is the window edge for tiled backends
	TileSize    int
	SettleDelay time.Duration
	// Timeout bounds each round-trip with a backend
	Timeout time.Duration
	// KeepTemp leaves run directories in place for debugging
	KeepTemp bool
}

// DefaultPPI is used when neither the config nor the request sets one
const DefaultPPI = 300

// ValidationError is returned for requests that cannot be rendered as given
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c Config) validate() error {
	if c.PPI < 0 || math.IsNaN(c.PPI) || math.IsInf(c.PPI, 0) {
		return &ValidationError{"ppi", "must be a positive number"}
	}
	if c.TileSize < 0 {
		return &ValidationError{"tile-size", "must not be negative"}
	}
	if c.Timeout < 0 {
		return &ValidationError{"timeout", "must not be negative"}
	}
	return nil
}

func (c Config) backendOptions() backend.Options {
	return backend.Options{
		TileSize:    c.TileSize,
		SettleDelay: c.SettleDelay,
		Timeout:     c.Timeout,
	}
}

// Map is the geometry of the map being rendered
type Map struct {
	// Scale is the map scale denominator, 25000 for 1:25000
	Scale float64
	// Rotation of the map frame in degrees
	Rotation float64
	// WidthMM and HeightMM replace the scene's physical size when set
	WidthMM, HeightMM float64
	// OriginX and OriginY are the world coordinates of the top left corner
	// of the map, not the centre of its first pixel
	OriginX, OriginY float64
}

// Request is one render
type Request struct {
	// Scene is the SVG document
	Scene []byte
	// SceneDir resolves relative image references in the scene
	SceneDir string
	Map      Map
	Format   tile.Format
	// PPI overrides Config.PPI when set
	PPI float64
}

func (r *Request) validate() error {
	if len(r.Scene) == 0 {
		return &ValidationError{"scene", "is empty"}
	}
	if !(r.Map.Scale > 0) || math.IsInf(r.Map.Scale, 0) {
		return &ValidationError{"scale", "must be a positive number"}
	}
	if math.IsNaN(r.Map.Rotation) || math.IsInf(r.Map.Rotation, 0) {
		return &ValidationError{"rotation", "must be a finite number"}
	}
	if r.Map.WidthMM < 0 || r.Map.HeightMM < 0 {
		return &ValidationError{"size", "must not be negative"}
	}
	if r.PPI < 0 || math.IsNaN(r.PPI) || math.IsInf(r.PPI, 0) {
		return &ValidationError{"ppi", "must be a positive number"}
	}
	return nil
}

// Result is a rendered raster and its world file
type Result struct {
	ImageData     []byte
	WorldFileData []byte
	Format        tile.Format
	Width         int
	Height        int
	PPI           float64
	// Resolution is the ground size of one pixel in metres
	Resolution  float64
	Backend     string
	ScaleFactor float64
	Tiles       int
}
