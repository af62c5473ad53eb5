package frame

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seehuhn.de/go/geom/matrix"
)

const eps = 1e-6

func TestNew_ZeroRotationIsIdentity(t *testing.T) {
	f, err := New(800, 600, 0)
	require.NoError(t, err)

	assert.True(t, f.IsIdentity())
	assert.Equal(t, matrix.Identity, f.Matrix())
	assert.Equal(t, 800.0, f.Width)
	assert.Equal(t, 600.0, f.Height)
	assert.Equal(t, 800.0, f.ExtentWidth)
	assert.Equal(t, 600.0, f.ExtentHeight)
	assert.Equal(t, "", f.SVGTransform())
}

// frameCorners returns the corners of the map frame in content coordinates,
// i.e. rotated by -rotation and shifted into the extent.
func frameCorners(width, height, rotation float64) [][2]float64 {
	inverse := matrix.RotateDeg(-rotation)
	corners := [][2]float64{{0, 0}, {width, 0}, {width, height}, {0, height}}
	minX, minY := math.Inf(1), math.Inf(1)
	for i, c := range corners {
		x, y := apply(inverse, c[0], c[1])
		corners[i] = [2]float64{x, y}
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
	}
	for i := range corners {
		corners[i][0] -= minX
		corners[i][1] -= minY
	}
	return corners
}

func TestNew_FrameCornersLandOnCanvas(t *testing.T) {
	const width, height = 420.0, 297.0

	for r := -89.5; r < 90; r += 0.5 {
		if r == 0 || r == 45 || r == -45 {
			continue
		}
		f, err := New(width, height, r)
		require.NoError(t, err, "rotation %g", r)

		for i, c := range frameCorners(width, height, r) {
			x, y := f.Apply(c[0], c[1])
			assert.True(t, x > -eps && x < width+eps, "rotation %g corner %d: x=%g", r, i, x)
			assert.True(t, y > -eps && y < height+eps, "rotation %g corner %d: y=%g", r, i, y)
		}

		// the frame origin goes to the canvas origin
		x, y := f.Apply(frameCorners(width, height, r)[0][0], frameCorners(width, height, r)[0][1])
		assert.InDelta(t, 0, x, eps, "rotation %g", r)
		assert.InDelta(t, 0, y, eps, "rotation %g", r)
	}
}

func TestClosedFormMatchesCornerRotation(t *testing.T) {
	type testCase struct {
		width, height, rotation float64
	}
	testCases := []testCase{
		{420, 297, 10},
		{420, 297, -10},
		{297, 420, 30},
		{297, 420, -60},
		{1000, 1000, 12.5},
		{100, 2000, 80},
		{100, 2000, -80},
	}

	for _, tc := range testCases {
		w, h := Extent(tc.width, tc.height, tc.rotation)
		x1, y1, ok := closedForm(w, h, tc.rotation)
		require.True(t, ok)

		x2, y2 := cornerRotation(tc.width, tc.height, tc.rotation)
		assert.InDelta(t, x2, x1, eps, "%#v", tc)
		assert.InDelta(t, y2, y1, eps, "%#v", tc)
	}
}

func TestNew_DegenerateAngles(t *testing.T) {
	for _, r := range []float64{45, -45, 90, -90, 135, -135, 180} {
		f, err := New(420, 297, r)
		require.NoError(t, err, "rotation %g", r)

		assert.False(t, math.IsNaN(f.TranslateX), "rotation %g", r)
		assert.False(t, math.IsNaN(f.TranslateY), "rotation %g", r)

		for i, c := range frameCorners(420, 297, r) {
			x, y := f.Apply(c[0], c[1])
			assert.True(t, x > -eps && x < 420+eps, "rotation %g corner %d: x=%g", r, i, x)
			assert.True(t, y > -eps && y < 297+eps, "rotation %g corner %d: y=%g", r, i, y)
		}
	}
}

func TestNew_InvalidInput(t *testing.T) {
	_, err := New(420, 297, math.NaN())
	require.Error(t, err)
	assert.IsType(t, &GeometryError{}, err)

	_, err = New(0, 297, 10)
	require.Error(t, err)
	assert.IsType(t, &GeometryError{}, err)

	_, err = New(420, math.Inf(1), 10)
	require.Error(t, err)
}

func TestExtent(t *testing.T) {
	w, h := Extent(100, 50, 90)
	assert.InDelta(t, 50, w, eps)
	assert.InDelta(t, 100, h, eps)

	w, h = Extent(100, 100, 45)
	assert.InDelta(t, 100*math.Sqrt2, w, eps)
	assert.InDelta(t, 100*math.Sqrt2, h, eps)
}

func TestSVGTransform(t *testing.T) {
	f := &Frame{Rotation: 30, TranslateX: 12.5, TranslateY: -4}
	assert.Equal(t, "translate(12.500000 -4.000000) rotate(30.000000)", f.SVGTransform())
}
