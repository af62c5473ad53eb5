package tile

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// WorldFile generates world file data.
//
// resolution is in world units per pixel and rotation in degrees.
// (cornerX, cornerY) are the world coordinates of the top left corner of
// the raster. World files locate the centre of the top left pixel, so the
// written origin is half a pixel in along both rotated axes.
func WorldFile(resolution, rotation, cornerX, cornerY float64) []byte {
	s, c := math.Sincos(rotation * math.Pi / 180)
	a, d := resolution*c, resolution*s
	b, e := resolution*s, -resolution*c

	var buf bytes.Buffer
	// A, D, B, E, C, F
	fmt.Fprintf(&buf, "%24.10f\n", a)
	fmt.Fprintf(&buf, "%24.10f\n", d)
	fmt.Fprintf(&buf, "%24.10f\n", b)
	fmt.Fprintf(&buf, "%24.10f\n", e)
	fmt.Fprintf(&buf, "%24.10f\n", cornerX+(a+b)/2)
	fmt.Fprintf(&buf, "%24.10f\n", cornerY+(d+e)/2)
	return buf.Bytes()
}

// WorldFilePath returns the world file name that goes with a raster file
func WorldFilePath(filename string, format Format) string {
	ext := ".pgw"
	if format == FormatTIFF {
		ext = ".tfw"
	}

	if idx := strings.LastIndex(filename, "."); idx > strings.LastIndex(filename, string(filepath.Separator)) {
		return filename[:idx] + ext
	}
	return filename + ext
}
