package light

import (
	"encoding/json"
	"math"
	"net"
	"regexp"
	"testing"
)

func TestClampBrightness(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want uint16
	}{
		{"below_min", MinBrightness - 1, MinBrightness},
		{"negative", -20, MinBrightness},
		{"min", MinBrightness, MinBrightness},
		{"mid", 200, 200},
		{"max", MaxBrightness, MaxBrightness},
		{"above_max", MaxBrightness + 1, MaxBrightness},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampBrightness(tt.in); got != tt.want {
				t.Errorf("ClampBrightness(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestClampHue(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want uint32
	}{
		{"zero", 0, 0},
		{"max", MaxHue, MaxHue},
		{"modulus_wraps", MaxHue + 1, 0},
		{"far_above_clamps", 70000, MaxHue},
		{"negative", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampHue(tt.in); got != tt.want {
				t.Errorf("ClampHue(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestStateClamp(t *testing.T) {
	s := State{
		Brightness: 0,
		Hue:        HueModulus,
		Saturation: 999,
		X:          1.5,
		Y:          math.NaN(),
		Mireds:     20,
		ColorMode:  ColorMode(9),
	}

	got := s.Clamp()
	want := State{
		Brightness: MinBrightness,
		Hue:        0,
		Saturation: MaxSaturation,
		X:          1,
		Y:          0,
		Mireds:     MinMireds,
		ColorMode:  ModeCT,
	}
	if got != want {
		t.Errorf("Clamp() = %+v, want %+v", got, want)
	}
	if !got.Valid() {
		t.Error("clamped state reports invalid")
	}
	if !Default().Valid() {
		t.Error("default state is out of bounds")
	}
}

func TestColorModeJSON(t *testing.T) {
	data, err := json.Marshal(State{ColorMode: ModeXY, Brightness: 10, Mireds: 200})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var back State
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.ColorMode != ModeXY {
		t.Errorf("ColorMode = %v, want xy", back.ColorMode)
	}
}

func TestLayoutSupports(t *testing.T) {
	tests := []struct {
		layout Layout
		mode   ColorMode
		want   bool
	}{
		{LayoutDimmable, ModeCT, false},
		{LayoutCCT, ModeCT, true},
		{LayoutCCT, ModeXY, false},
		{LayoutCCT, ModeHS, false},
		{LayoutRGB, ModeHS, true},
		{LayoutRGBW, ModeXY, true},
	}

	for _, tt := range tests {
		t.Run(tt.layout.String()+"/"+tt.mode.String(), func(t *testing.T) {
			if got := tt.layout.Supports(tt.mode); got != tt.want {
				t.Errorf("Supports() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDescriptorSerialNumber(t *testing.T) {
	d := Descriptor{BridgeID: "001788FFFE4A1B2C"}
	if got := d.SerialNumber(); got != "0017884A1B2C" {
		t.Errorf("SerialNumber() = %q", got)
	}
}

func TestBridgeIDFromMAC(t *testing.T) {
	mac, _ := net.ParseMAC("00:17:88:4a:1b:2c")
	id, err := BridgeIDFromMAC(mac)
	if err != nil || id != "001788FFFE4A1B2C" {
		t.Errorf("BridgeIDFromMAC() = %q, %v", id, err)
	}
	if _, err := BridgeIDFromMAC(net.HardwareAddr{1, 2, 3}); err == nil {
		t.Error("short MAC accepted")
	}
	if id := RandomBridgeID(); !regexp.MustCompile(`^[0-9A-F]{16}$`).MatchString(id) {
		t.Errorf("RandomBridgeID() = %q", id)
	}
}
