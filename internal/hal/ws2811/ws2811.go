// Package ws2811 drives WS2811/NeoPixel LED strips. Pixel colours are
// encoded into 32-bit pulse items (two timed half periods each) and written
// to a pulse transmitter device.
package ws2811

import (
	"errors"
	"fmt"
	"time"
)

// ErrOverflow is returned when a pulse does not fit the 15-bit tick field.
var ErrOverflow = errors.New("ws2811: pulse duration overflows 15 bits")

// Color is a 0x00RRGGBB value.
type Color uint32

// RGB packs three 8-bit components.
func RGB(r, g, b uint8) Color {
	return Color(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// GRB reorders the colour into the strip's wire order.
func (c Color) GRB() uint32 {
	r := uint32(c>>16) & 0xff
	g := uint32(c>>8) & 0xff
	b := uint32(c) & 0xff
	return g<<16 | r<<8 | b
}

// ColorGroup is a run of consecutive pixels sharing one colour.
type ColorGroup struct {
	Count uint16
	Color Color
}

// Timings are the high/low half periods of the 0 and 1 symbols.
type Timings struct {
	T0H, T0L time.Duration
	T1H, T1L time.Duration
}

var (
	NeoPixel = Timings{T0H: 350 * time.Nanosecond, T0L: 800 * time.Nanosecond, T1H: 750 * time.Nanosecond, T1L: 600 * time.Nanosecond}
	WS2811HS = Timings{T0H: 300 * time.Nanosecond, T0L: 1000 * time.Nanosecond, T1H: 700 * time.Nanosecond, T1L: 600 * time.Nanosecond}
)

// TimingsByName resolves the configuration names "neopixel" and "ws2811_hs".
func TimingsByName(name string) (Timings, error) {
	switch name {
	case "", "neopixel":
		return NeoPixel, nil
	case "ws2811_hs", "ws2811hs":
		return WS2811HS, nil
	}
	return Timings{}, fmt.Errorf("ws2811: unknown timing %q", name)
}

// Item is one pulse item: duration0 | level0<<15 in the low half and
// duration1 | level1<<15 in the high half.
type Item uint32

const (
	durationMask = 0x7fff
	levelBit     = 0x8000
)

// NewItem packs two half periods.
func NewItem(d0 uint16, l0 bool, d1 uint16, l1 bool) Item {
	h0 := uint32(d0) & durationMask
	if l0 {
		h0 |= levelBit
	}
	h1 := uint32(d1) & durationMask
	if l1 {
		h1 |= levelBit
	}
	return Item(h0 | h1<<16)
}

func (i Item) Duration0() uint16 { return uint16(uint32(i) & durationMask) }
func (i Item) Level0() bool      { return uint32(i)&levelBit != 0 }
func (i Item) Duration1() uint16 { return uint16(uint32(i>>16) & durationMask) }
func (i Item) Level1() bool      { return uint32(i>>16)&levelBit != 0 }

// NanosToTicks converts a duration to transmitter clock ticks, rounding to
// the nearest tick.
func NanosToTicks(clockHz uint32, d time.Duration) (uint16, error) {
	if d < 0 {
		return 0, ErrOverflow
	}
	const nsPerSecond = uint64(time.Second)
	v := (uint64(clockHz)*uint64(d) + nsPerSecond/2) / nsPerSecond
	if v&^durationMask != 0 {
		return 0, ErrOverflow
	}
	return uint16(v), nil
}

// Encoder turns colours into pulse items for one clock and timing set.
type Encoder struct {
	zero Item
	one  Item
}

// NewEncoder precomputes the 0 and 1 symbols.
func NewEncoder(clockHz uint32, t Timings) (Encoder, error) {
	var ticks [4]uint16
	for i, d := range [4]time.Duration{t.T0H, t.T0L, t.T1H, t.T1L} {
		v, err := NanosToTicks(clockHz, d)
		if err != nil {
			return Encoder{}, fmt.Errorf("%w: %v at %d Hz", err, d, clockHz)
		}
		ticks[i] = v
	}
	return Encoder{
		zero: NewItem(ticks[0], true, ticks[1], false),
		one:  NewItem(ticks[2], true, ticks[3], false),
	}, nil
}

// AppendGroups appends 24 items per pixel, most significant bit first in
// GRB order.
func (e Encoder) AppendGroups(dst []Item, groups []ColorGroup) []Item {
	for _, g := range groups {
		v := g.Color.GRB()
		for n := uint16(0); n < g.Count; n++ {
			for bit := 23; bit >= 0; bit-- {
				if v&(1<<bit) != 0 {
					dst = append(dst, e.one)
				} else {
					dst = append(dst, e.zero)
				}
			}
		}
	}
	return dst
}

// Groups collapses consecutive equal pixels into runs.
func Groups(dst []ColorGroup, pixels []Color) []ColorGroup {
	for _, c := range pixels {
		if n := len(dst); n > 0 && dst[n-1].Color == c && dst[n-1].Count < ^uint16(0) {
			dst[n-1].Count++
			continue
		}
		dst = append(dst, ColorGroup{Count: 1, Color: c})
	}
	return dst
}
