// Package light holds the device data model shared by the store, the render
// loop and the control service.
package light

// Capacity limits. The light table and the output channel map are fixed-size
// arrays sized by these constants; nothing grows at run time.
const (
	MaxLights   = 16
	MaxChannels = 64
)

// Device-declared bounds for the at-rest state.
const (
	MinBrightness = 1
	MaxBrightness = 254
	MaxHue        = 65535
	HueModulus    = 65536
	MaxSaturation = 254
	MinMireds     = 153
	MaxMireds     = 500
)

// ColorMode selects which colour fields of a State are authoritative.
type ColorMode uint8

const (
	ModeHS ColorMode = iota
	ModeXY
	ModeCT
)

// String returns the ecosystem name of the mode.
func (m ColorMode) String() string {
	switch m {
	case ModeHS:
		return "hs"
	case ModeXY:
		return "xy"
	case ModeCT:
		return "ct"
	default:
		return "unknown"
	}
}

// ParseColorMode is the inverse of String.
func ParseColorMode(s string) (ColorMode, bool) {
	switch s {
	case "hs":
		return ModeHS, true
	case "xy":
		return ModeXY, true
	case "ct":
		return ModeCT, true
	}
	return 0, false
}

// MarshalText encodes the mode by name so persisted blobs stay readable.
func (m ColorMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name; unknown names fall back to ct.
func (m *ColorMode) UnmarshalText(b []byte) error {
	mode, ok := ParseColorMode(string(b))
	if !ok {
		mode = ModeCT
	}
	*m = mode
	return nil
}

// State is one light's state. Exactly one ColorMode is active; the fields of
// the other modes are kept but not rendered.
type State struct {
	Power           bool      `json:"on"`
	Brightness      uint16    `json:"bri"`
	ColorMode       ColorMode `json:"colormode"`
	Hue             uint32    `json:"hue"`
	Saturation      uint16    `json:"sat"`
	X               float64   `json:"x"`
	Y               float64   `json:"y"`
	Mireds          uint16    `json:"ct"`
	TransitionTicks uint16    `json:"transition_ticks"`
}

// Default is the compiled-in boot state: off, full brightness, neutral white.
func Default() State {
	return State{
		Power:      false,
		Brightness: MaxBrightness,
		ColorMode:  ModeCT,
		Hue:        8418,
		Saturation: 140,
		X:          0.4573,
		Y:          0.41,
		Mireds:     366,
	}
}

// Clamp constrains every numeric field to its declared bounds. A hue equal
// to the modulus wraps to zero; anything above it clamps to MaxHue.
func (s State) Clamp() State {
	s.Brightness = clampU16(s.Brightness, MinBrightness, MaxBrightness)
	s.Hue = ClampHue(int64(s.Hue))
	s.Saturation = clampU16(s.Saturation, 0, MaxSaturation)
	s.X = clampUnit(s.X)
	s.Y = clampUnit(s.Y)
	s.Mireds = clampU16(s.Mireds, MinMireds, MaxMireds)
	if s.ColorMode > ModeCT {
		s.ColorMode = ModeCT
	}
	return s
}

// Valid reports whether s is already within bounds.
func (s State) Valid() bool {
	return s == s.Clamp()
}

// ClampBrightness maps any integer onto [MinBrightness, MaxBrightness].
func ClampBrightness(v int64) uint16 {
	return uint16(clampInt(v, MinBrightness, MaxBrightness))
}

// ClampHue maps an integer onto [0, MaxHue], wrapping exactly-modulus values.
func ClampHue(v int64) uint32 {
	if v == HueModulus {
		return 0
	}
	return uint32(clampInt(v, 0, MaxHue))
}

// ClampSaturation maps any integer onto [0, MaxSaturation].
func ClampSaturation(v int64) uint16 {
	return uint16(clampInt(v, 0, MaxSaturation))
}

// ClampMireds maps any integer onto [MinMireds, MaxMireds].
func ClampMireds(v int64) uint16 {
	return uint16(clampInt(v, MinMireds, MaxMireds))
}

// ClampUnit maps a chromaticity coordinate onto [0, 1].
func ClampUnit(v float64) float64 {
	return clampUnit(v)
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampU16(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampUnit(v float64) float64 {
	// NaN compares false everywhere; pin it to 0.
	if !(v >= 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
