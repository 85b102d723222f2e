package color

import (
	"math"

	"github.com/dokzlo13/bulbd/internal/light"
)

// Fraction quantises elapsed/total onto [0, 1]. A zero-length transition is
// complete immediately.
func Fraction(elapsed, total uint16) float64 {
	if total == 0 || elapsed >= total {
		return 1
	}
	return float64(elapsed) / float64(total)
}

// Interpolate returns the state a fraction f of the way from start to target.
// f <= 0 yields start and f >= 1 yields target, both exactly. In between,
// every numeric field moves linearly, hue along the shorter arc. When the
// modes differ, start is first re-expressed in target's mode.
//
// Power switches on at the first step of a fade-in and switches off only at
// completion; the brightness ramp runs from or to the minimum in those cases.
func Interpolate(start, target light.State, f float64) light.State {
	if !(f > 0) {
		return start
	}
	if f >= 1 {
		return target
	}

	from := ConvertMode(start, target.ColorMode)
	out := target

	out.Power = target.Power || start.Power

	fromBri, toBri := from.Brightness, target.Brightness
	switch {
	case !start.Power && target.Power:
		fromBri = light.MinBrightness
	case start.Power && !target.Power:
		toBri = light.MinBrightness
	}
	out.Brightness = lerpU16(fromBri, toBri, f)

	out.Hue = lerpHue(from.Hue, target.Hue, f)
	out.Saturation = lerpU16(from.Saturation, target.Saturation, f)
	out.Mireds = lerpU16(from.Mireds, target.Mireds, f)
	out.X = from.X + (target.X-from.X)*f
	out.Y = from.Y + (target.Y-from.Y)*f

	return out.Clamp()
}

func lerpU16(a, b uint16, f float64) uint16 {
	v := float64(a) + (float64(b)-float64(a))*f
	return uint16(math.Round(v))
}

// lerpHue walks the shorter way around the hue circle.
func lerpHue(a, b uint32, f float64) uint32 {
	const mod = light.HueModulus
	d := (int64(b%mod) - int64(a%mod)) % mod
	if d > mod/2 {
		d -= mod
	} else if d < -mod/2 {
		d += mod
	}
	v := int64(math.Round(float64(a%mod) + float64(d)*f))
	v %= mod
	if v < 0 {
		v += mod
	}
	return uint32(v)
}
