// Package color converts light states between colour modes, interpolates
// transitions and maps states to per-channel duty cycles. Every function is
// pure and safe to call from any context.
package color

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/dokzlo13/bulbd/internal/light"
)

// D65 white point chromaticity, used for black or degenerate inputs.
const (
	whiteX = 0.3127
	whiteY = 0.3290
)

// HueDegrees maps an ecosystem hue (0..65535) onto [0, 360).
func HueDegrees(hue uint32) float64 {
	return float64(hue%light.HueModulus) * 360.0 / light.HueModulus
}

// MiredsToXY places a colour temperature on the Planckian locus using the
// Kim et al. cubic spline approximation.
func MiredsToXY(mireds uint16) (x, y float64) {
	m := light.ClampMireds(int64(mireds))
	t := 1e6 / float64(m)
	t2, t3 := t*t, t*t*t

	if t <= 4000 {
		x = -0.2661239e9/t3 - 0.2343589e6/t2 + 0.8776956e3/t + 0.179910
	} else {
		x = -3.0258469e9/t3 + 2.1070379e6/t2 + 0.2226347e3/t + 0.240390
	}

	x2, x3 := x*x, x*x*x
	switch {
	case t <= 2222:
		y = -1.1063814*x3 - 1.34811020*x2 + 2.18555832*x - 0.20219683
	case t <= 4000:
		y = -0.9549476*x3 - 1.37418593*x2 + 2.09137015*x - 0.16748867
	default:
		y = 3.0817580*x3 - 5.87338670*x2 + 3.75112997*x - 0.37001483
	}
	return x, y
}

// XYToMireds estimates the correlated colour temperature of a chromaticity
// with McCamy's approximation and clamps it to the device range.
func XYToMireds(x, y float64) uint16 {
	d := 0.1858 - y
	if d == 0 {
		return light.MaxMireds
	}
	n := (x - 0.3320) / d
	cct := 449*n*n*n + 3525*n*n + 6823.3*n + 5520.33
	if cct <= 0 {
		return light.MaxMireds
	}
	return light.ClampMireds(int64(math.Round(1e6 / cct)))
}

// HSToXY converts ecosystem hue/saturation to chromaticity.
func HSToXY(hue uint32, sat uint16) (x, y float64) {
	c := colorful.Hsv(HueDegrees(hue), float64(sat)/light.MaxSaturation, 1)
	x, y, _ = c.Xyy()
	return x, y
}

// XYToHS converts chromaticity to ecosystem hue/saturation at full value.
func XYToHS(x, y float64) (hue uint32, sat uint16) {
	r, g, b := xyToLinear(x, y)
	h, s, _ := colorful.LinearRgb(r, g, b).Hsv()
	hue = uint32(math.Round(h*light.HueModulus/360)) % light.HueModulus
	sat = light.ClampSaturation(int64(math.Round(s * light.MaxSaturation)))
	return hue, sat
}

// XY returns the chromaticity of s whatever its active mode.
func XY(s light.State) (x, y float64) {
	switch s.ColorMode {
	case light.ModeHS:
		return HSToXY(s.Hue, s.Saturation)
	case light.ModeCT:
		return MiredsToXY(s.Mireds)
	default:
		return s.X, s.Y
	}
}

// ConvertMode re-expresses s in mode, filling that mode's fields from the
// currently active ones. Brightness and power are untouched.
func ConvertMode(s light.State, mode light.ColorMode) light.State {
	if s.ColorMode == mode {
		return s
	}
	x, y := XY(s)
	switch mode {
	case light.ModeXY:
		s.X, s.Y = light.ClampUnit(x), light.ClampUnit(y)
	case light.ModeHS:
		s.Hue, s.Saturation = XYToHS(x, y)
	case light.ModeCT:
		s.Mireds = XYToMireds(x, y)
	}
	s.ColorMode = mode
	return s
}

// LinearRGB returns the linear-light RGB of s's colour normalised so that the
// strongest primary is 1. Brightness is not applied.
func LinearRGB(s light.State) (r, g, b float64) {
	switch s.ColorMode {
	case light.ModeHS:
		c := colorful.Hsv(HueDegrees(s.Hue), float64(light.ClampSaturation(int64(s.Saturation)))/light.MaxSaturation, 1)
		r, g, b = c.LinearRgb()
		return normalize(r, g, b)
	default:
		x, y := XY(s)
		return xyToLinear(x, y)
	}
}

// xyToLinear maps a chromaticity to normalised linear sRGB, pulling
// out-of-gamut primaries back to zero.
func xyToLinear(x, y float64) (r, g, b float64) {
	x, y = light.ClampUnit(x), light.ClampUnit(y)
	if y < 1e-6 {
		x, y = whiteX, whiteY
	}
	r, g, b = colorful.XyzToLinearRgb(colorful.XyyToXyz(x, y, 1))
	return normalize(r, g, b)
}

func normalize(r, g, b float64) (float64, float64, float64) {
	r, g, b = math.Max(r, 0), math.Max(g, 0), math.Max(b, 0)
	m := math.Max(r, math.Max(g, b))
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return 1, 1, 1
	}
	return r / m, g / m, b / m
}
