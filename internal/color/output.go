package color

import (
	"math"

	"github.com/dokzlo13/bulbd/internal/light"
)

// MaxLayoutChannels is the widest layout (rgbw).
const MaxLayoutChannels = 4

// Duties holds the duty cycles of one light's channels, in layout order:
// dim: [level]; cct: [warm, cool]; rgb: [r, g, b]; rgbw: [r, g, b, w].
type Duties struct {
	N int
	V [MaxLayoutChannels]uint16
}

// Intensities maps a state to duty cycles in [0, top] for the given layout.
// The state is clamped first, so no input can produce an out-of-range duty.
func Intensities(s light.State, layout light.Layout, top uint16) Duties {
	d := Duties{N: layout.Channels()}
	if !s.Power || top == 0 {
		return d
	}
	s = s.Clamp()
	level := float64(s.Brightness) / light.MaxBrightness

	switch layout {
	case light.LayoutDimmable:
		d.V[0] = scale(level, top)

	case light.LayoutCCT:
		m := s.Mireds
		if s.ColorMode != light.ModeCT {
			m = ConvertMode(s, light.ModeCT).Mireds
		}
		warm := float64(m-light.MinMireds) / float64(light.MaxMireds-light.MinMireds)
		d.V[0] = scale(level*warm, top)
		d.V[1] = scale(level*(1-warm), top)

	case light.LayoutRGB:
		r, g, b := LinearRGB(s)
		d.V[0] = scale(level*r, top)
		d.V[1] = scale(level*g, top)
		d.V[2] = scale(level*b, top)

	case light.LayoutRGBW:
		r, g, b := LinearRGB(s)
		w := math.Min(r, math.Min(g, b))
		d.V[0] = scale(level*(r-w), top)
		d.V[1] = scale(level*(g-w), top)
		d.V[2] = scale(level*(b-w), top)
		d.V[3] = scale(level*w, top)
	}
	return d
}

func scale(v float64, top uint16) uint16 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return top
	}
	return uint16(math.Round(v * float64(top)))
}
