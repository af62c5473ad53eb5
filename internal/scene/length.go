package scene

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// unitsPerInch for the absolute SVG length units. No unit means CSS pixels.
var unitsPerInch = map[string]float64{
	"":   96,
	"px": 96,
	"in": 1,
	"mm": 25.4,
	"cm": 2.54,
	"pt": 72,
	"pc": 6,
}

var lengthRegexp = regexp.MustCompile(`^\s*([+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)\s*([A-Za-z%]*)\s*$`)

// Length is a physical SVG length such as "297mm"
type Length struct {
	Value float64
	Unit  string
}

// ParseLength parses an SVG length with an absolute unit
func ParseLength(s string) (Length, error) {
	m := lengthRegexp.FindStringSubmatch(s)
	if m == nil {
		return Length{}, fmt.Errorf("invalid length %q", s)
	}
	unit := strings.ToLower(m[2])
	if _, ok := unitsPerInch[unit]; !ok {
		return Length{}, fmt.Errorf("length %q does not use an absolute unit", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Length{}, fmt.Errorf("invalid length %q: %v", s, err)
	}
	if value <= 0 {
		return Length{}, fmt.Errorf("length %q must be positive", s)
	}
	return Length{Value: value, Unit: unit}, nil
}

// Inches converts the length to inches
func (l Length) Inches() float64 {
	return l.Value / unitsPerInch[l.Unit]
}

// Millimetres converts the length to millimetres
func (l Length) Millimetres() float64 {
	return l.Inches() * 25.4
}

// Pixels converts the length to CSS pixels (96 per inch)
func (l Length) Pixels() float64 {
	return l.Inches() * 96
}

// Scale multiplies the length, keeping its unit
func (l Length) Scale(factor float64) Length {
	return Length{Value: l.Value * factor, Unit: l.Unit}
}

func (l Length) String() string {
	return strconv.FormatFloat(l.Value, 'f', -1, 64) + l.Unit
}
