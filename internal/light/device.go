package light

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// Layout is the physical channel arrangement behind a light.
type Layout uint8

const (
	LayoutDimmable Layout = iota
	LayoutCCT
	LayoutRGB
	LayoutRGBW
)

// ParseLayout accepts the configuration names dim, cct, rgb and rgbw.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "dim", "dimmable":
		return LayoutDimmable, nil
	case "cct", "ct":
		return LayoutCCT, nil
	case "rgb":
		return LayoutRGB, nil
	case "rgbw":
		return LayoutRGBW, nil
	}
	return 0, fmt.Errorf("unknown light layout %q", s)
}

// String returns the configuration name.
func (l Layout) String() string {
	switch l {
	case LayoutDimmable:
		return "dim"
	case LayoutCCT:
		return "cct"
	case LayoutRGB:
		return "rgb"
	case LayoutRGBW:
		return "rgbw"
	default:
		return "unknown"
	}
}

// Channels is the number of output channels the layout occupies.
func (l Layout) Channels() int {
	switch l {
	case LayoutCCT:
		return 2
	case LayoutRGB:
		return 3
	case LayoutRGBW:
		return 4
	default:
		return 1
	}
}

// Supports reports whether the layout can render mode.
func (l Layout) Supports(mode ColorMode) bool {
	switch l {
	case LayoutRGB, LayoutRGBW:
		return true
	case LayoutCCT:
		return mode == ModeCT
	default:
		return false
	}
}

// HasColor reports whether the layout carries any colour fields at all.
func (l Layout) HasColor() bool {
	return l != LayoutDimmable
}

// TypeName is the light type string the ecosystem's apps expect.
func (l Layout) TypeName() string {
	switch l {
	case LayoutCCT:
		return "Color temperature light"
	case LayoutRGB, LayoutRGBW:
		return "Extended color light"
	default:
		return "Dimmable light"
	}
}

// NativeMode is the mode a fresh light of this layout starts in.
func (l Layout) NativeMode() ColorMode {
	if l == LayoutRGB || l == LayoutRGBW {
		return ModeXY
	}
	return ModeCT
}

// Info is the immutable identity of one light.
type Info struct {
	ID           int
	Name         string
	Layout       Layout
	FirstChannel int
	ModelID      string
	UniqueID     string
	SwVersion    string
}

// Descriptor is the bridge identity announced by discovery and the config
// endpoint. It is set once at boot.
type Descriptor struct {
	Name       string
	BridgeID   string
	ModelID    string
	SwVersion  string
	APIVersion string
	MAC        string
}

// SerialNumber is the bridge id without the FFFE infix, as used in UPnP.
func (d Descriptor) SerialNumber() string {
	id := d.BridgeID
	if len(id) == 16 {
		return id[:6] + id[10:]
	}
	return id
}

// BridgeIDFromMAC builds the 16 hex digit bridge id from a 48-bit MAC by
// inserting FFFE in the middle, as the ecosystem's bridges do.
func BridgeIDFromMAC(mac net.HardwareAddr) (string, error) {
	if len(mac) != 6 {
		return "", fmt.Errorf("bridge id needs a 48-bit MAC, got %d bytes", len(mac))
	}
	h := strings.ToUpper(strings.ReplaceAll(mac.String(), ":", ""))
	return h[:6] + "FFFE" + h[6:], nil
}

// RandomBridgeID derives a bridge id from a fresh UUID. It is used when no
// MAC is available and changes on every boot.
func RandomBridgeID() string {
	h := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return h[:16]
}
