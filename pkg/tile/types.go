package tile

import (
	"fmt"
	"image"
	"strings"
)

// Output format constants
const (
	FormatPNG Format = iota
	FormatTIFF
)

// Format is an output raster encoding
type Format int

// ParseFormat parses a format name as given on the command line or in a request
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "png":
		return FormatPNG, nil
	case "tif", "tiff", "geotiff":
		return FormatTIFF, nil
	default:
		return 0, fmt.Errorf("unknown format: %s", name)
	}
}

func (f Format) String() string {
	switch f {
	case FormatTIFF:
		return "tiff"
	default:
		return "png"
	}
}

// ContentType returns the MIME type for the format
func (f Format) ContentType() string {
	if f == FormatTIFF {
		return "image/tiff"
	}
	return "image/png"
}

// Tile is a square sub-region of a canvas, captured independently
type Tile struct {
	Origin image.Point
	Edge   int
}

// Bounds returns the unclipped tile rectangle
func (t Tile) Bounds() image.Rectangle {
	return image.Rectangle{Min: t.Origin, Max: t.Origin.Add(image.Pt(t.Edge, t.Edge))}
}

// Clip returns the part of the tile inside the given canvas bounds
func (t Tile) Clip(canvas image.Rectangle) image.Rectangle {
	return t.Bounds().Intersect(canvas)
}

// Less orders tiles row-major by origin
func (t Tile) Less(other Tile) bool {
	if t.Origin.Y != other.Origin.Y {
		return t.Origin.Y < other.Origin.Y
	}
	return t.Origin.X < other.Origin.X
}
