// Package frame derives the transform that draws a rotated map frame onto an
// axis-aligned canvas.
//
// Map content is drawn in the axis-aligned coordinates of its extent (the
// rotated bounding box of the frame). The transform rotates that content by
// the map rotation and translates it so that the frame's corners land on the
// canvas corners. The canvas is the frame itself.
package frame

import (
	"fmt"
	"math"

	"seehuhn.de/go/geom/matrix"
)

// degenerateEpsilon bounds |tan²(r) - 1| below which the closed form divides
// by (almost) zero.
const degenerateEpsilon = 1e-9

// GeometryError is returned for inputs that have no usable transform.
type GeometryError struct {
	Width, Height float64
	Rotation      float64
	Reason        string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("frame %gx%g rotated %g°: %s", e.Width, e.Height, e.Rotation, e.Reason)
}

// Frame is the translate+rotate transform for one map frame.
type Frame struct {
	// Width and Height of the frame, which is also the canvas size.
	Width, Height float64
	// Rotation in degrees. Zero means the transform is the identity.
	Rotation float64
	// TranslateX and TranslateY are applied after the rotation.
	TranslateX, TranslateY float64
	// ExtentWidth and ExtentHeight are the axis-aligned size of the map
	// content before rotation.
	ExtentWidth, ExtentHeight float64
}

// New computes the frame transform for a width x height frame rotated by
// rotation degrees.
func New(width, height, rotation float64) (*Frame, error) {
	if math.IsNaN(rotation) || math.IsInf(rotation, 0) {
		return nil, &GeometryError{width, height, rotation, "rotation is not a finite number"}
	}
	if !(width > 0) || !(height > 0) || math.IsInf(width, 0) || math.IsInf(height, 0) {
		return nil, &GeometryError{width, height, rotation, "frame size must be positive and finite"}
	}

	f := &Frame{
		Width:        width,
		Height:       height,
		Rotation:     rotation,
		ExtentWidth:  width,
		ExtentHeight: height,
	}
	if rotation == 0 {
		return f, nil
	}

	f.ExtentWidth, f.ExtentHeight = Extent(width, height, rotation)

	x, y, ok := closedForm(f.ExtentWidth, f.ExtentHeight, rotation)
	if !ok {
		x, y = cornerRotation(width, height, rotation)
	}
	f.TranslateX, f.TranslateY = x, -y

	if math.IsNaN(f.TranslateX) || math.IsNaN(f.TranslateY) {
		return nil, &GeometryError{width, height, rotation, "transform is undefined"}
	}

	return f, nil
}

// Extent returns the rotated bounding box of a width x height rectangle.
func Extent(width, height, rotation float64) (float64, float64) {
	s, c := math.Sincos(rotation * math.Pi / 180)
	s, c = math.Abs(s), math.Abs(c)
	return width*c + height*s, width*s + height*c
}

// closedForm takes the content extent w x h and returns the translation
// (x, y) of translate(x, -y) rotate(r). It reports false where the formula
// does not apply.
func closedForm(w, h, rotation float64) (float64, float64, bool) {
	if math.Abs(rotation) >= 90 {
		return 0, 0, false
	}
	t := math.Tan(rotation * math.Pi / 180)
	if math.Abs(t*t-1) < degenerateEpsilon {
		return 0, 0, false
	}
	d := (t*t - 1) * math.Sqrt(t*t+1)

	var x, y float64
	if t >= 0 {
		y = math.Abs(t * (h*t - w) / d)
		x = math.Abs(t * y)
	} else {
		x = -math.Abs(t * (h + w*t) / d)
		y = -math.Abs(t * x)
	}
	return x, y, true
}

// cornerRotation finds the same translation by placing the frame inside its
// extent and mapping the frame origin back to (0, 0). It is defined for every
// finite rotation.
func cornerRotation(width, height, rotation float64) (float64, float64) {
	// the frame as seen in content coordinates is rotated by -rotation
	inverse := matrix.RotateDeg(-rotation)
	minX, minY := math.Inf(1), math.Inf(1)
	for _, p := range [][2]float64{{0, 0}, {width, 0}, {0, height}, {width, height}} {
		x, y := apply(inverse, p[0], p[1])
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
	}

	// frame origin in content coordinates, then rotated forward
	ox, oy := apply(matrix.RotateDeg(rotation), -minX, -minY)
	return -ox, oy
}

// Matrix returns the transform as an affine matrix, rotation first.
func (f *Frame) Matrix() matrix.Matrix {
	if f.Rotation == 0 {
		return matrix.Identity
	}
	return matrix.RotateDeg(f.Rotation).Mul(matrix.Translate(f.TranslateX, f.TranslateY))
}

// Apply maps a point in content coordinates to canvas coordinates.
func (f *Frame) Apply(x, y float64) (float64, float64) {
	return apply(f.Matrix(), x, y)
}

// IsIdentity reports whether the frame leaves content unchanged.
func (f *Frame) IsIdentity() bool {
	return f.Rotation == 0
}

// SVGTransform renders the transform as an SVG transform attribute value.
func (f *Frame) SVGTransform() string {
	if f.IsIdentity() {
		return ""
	}
	return fmt.Sprintf("translate(%s %s) rotate(%s)", formatFloat(f.TranslateX), formatFloat(f.TranslateY), formatFloat(f.Rotation))
}

func apply(m matrix.Matrix, x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

func formatFloat(v float64) string {
	if v == 0 {
		// avoid "-0"
		return "0"
	}
	return fmt.Sprintf("%.6f", v)
}
