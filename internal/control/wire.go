package control

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/dokzlo13/bulbd/internal/light"
)

const manufacturer = "bulbd"

// LightState is the state object of a light resource. Colour fields are
// omitted for layouts that cannot render them.
type LightState struct {
	On        bool        `json:"on"`
	Bri       uint16      `json:"bri"`
	Hue       *uint32     `json:"hue,omitempty"`
	Sat       *uint16     `json:"sat,omitempty"`
	Effect    string      `json:"effect,omitempty"`
	XY        *[2]float64 `json:"xy,omitempty"`
	CT        *uint16     `json:"ct,omitempty"`
	Alert     string      `json:"alert"`
	ColorMode string      `json:"colormode,omitempty"`
	Mode      string      `json:"mode"`
	Reachable bool        `json:"reachable"`
}

// Light is a light resource.
type Light struct {
	State            LightState `json:"state"`
	Type             string     `json:"type"`
	Name             string     `json:"name"`
	ModelID          string     `json:"modelid"`
	ManufacturerName string     `json:"manufacturername"`
	ProductName      string     `json:"productname"`
	UniqueID         string     `json:"uniqueid"`
	SwVersion        string     `json:"swversion"`
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// NewLight renders a light's identity and state in wire form.
func NewLight(info light.Info, st light.State) Light {
	ls := LightState{
		On:        st.Power,
		Bri:       st.Brightness,
		Alert:     "none",
		Mode:      "homeautomation",
		Reachable: true,
	}
	switch info.Layout {
	case light.LayoutCCT:
		ct := st.Mireds
		ls.CT = &ct
		ls.ColorMode = light.ModeCT.String()
	case light.LayoutRGB, light.LayoutRGBW:
		hue, sat, ct := st.Hue, st.Saturation, st.Mireds
		xy := [2]float64{round4(st.X), round4(st.Y)}
		ls.Hue, ls.Sat, ls.CT, ls.XY = &hue, &sat, &ct, &xy
		ls.Effect = "none"
		ls.ColorMode = st.ColorMode.String()
	}
	return Light{
		State:            ls,
		Type:             info.Layout.TypeName(),
		Name:             info.Name,
		ModelID:          info.ModelID,
		ManufacturerName: manufacturer,
		ProductName:      info.Layout.TypeName(),
		UniqueID:         info.UniqueID,
		SwVersion:        info.SwVersion,
	}
}

// PublicConfig is served without a username.
type PublicConfig struct {
	Name             string  `json:"name"`
	DatastoreVersion string  `json:"datastoreversion"`
	SwVersion        string  `json:"swversion"`
	APIVersion       string  `json:"apiversion"`
	MAC              string  `json:"mac"`
	BridgeID         string  `json:"bridgeid"`
	FactoryNew       bool    `json:"factorynew"`
	ReplacesBridgeID *string `json:"replacesbridgeid"`
	ModelID          string  `json:"modelid"`
	StarterKitID     string  `json:"starterkitid"`
}

// WhitelistEntry is one authorised application.
type WhitelistEntry struct {
	LastUseDate string `json:"last use date"`
	CreateDate  string `json:"create date"`
	Name        string `json:"name"`
}

// Config is the full bridge configuration.
type Config struct {
	PublicConfig
	IPAddress      string                    `json:"ipaddress"`
	Netmask        string                    `json:"netmask"`
	Gateway        string                    `json:"gateway"`
	DHCP           bool                      `json:"dhcp"`
	ProxyAddress   string                    `json:"proxyaddress"`
	ProxyPort      int                       `json:"proxyport"`
	UTC            string                    `json:"UTC"`
	LocalTime      string                    `json:"localtime"`
	Timezone       string                    `json:"timezone"`
	ZigbeeChannel  int                       `json:"zigbeechannel"`
	LinkButton     bool                      `json:"linkbutton"`
	PortalServices bool                      `json:"portalservices"`
	Whitelist      map[string]WhitelistEntry `json:"whitelist"`
}

// FullState is the body of GET /api/<user>.
type FullState struct {
	Lights        map[string]Light `json:"lights"`
	Groups        struct{}         `json:"groups"`
	Config        Config           `json:"config"`
	Schedules     struct{}         `json:"schedules"`
	Scenes        struct{}         `json:"scenes"`
	Rules         struct{}         `json:"rules"`
	Sensors       struct{}         `json:"sensors"`
	ResourceLinks struct{}         `json:"resourcelinks"`
}

const timeLayout = "2006-01-02T15:04:05"

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

// field is one member of a JSON object, kept in document order.
type field struct {
	name string
	raw  json.RawMessage
}

// parseObject splits a JSON object into its members in order. A repeated key
// replaces the earlier value in place.
func parseObject(body []byte) ([]field, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, false
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		name, ok := tok.(string)
		if !ok {
			return nil, false
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, false
		}
		replaced := false
		for i := range fields {
			if fields[i].name == name {
				fields[i].raw = raw
				replaced = true
				break
			}
		}
		if !replaced {
			fields = append(fields, field{name: name, raw: raw})
		}
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return fields, true
}

// decodeInt accepts an integral JSON number and saturates it to int64 range
// well beyond any device bound.
func decodeInt(raw json.RawMessage) (int64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	const limit = 1 << 40
	switch {
	case f > limit:
		return limit, true
	case f < -limit:
		return -limit, true
	}
	return int64(f), true
}

func decodeXY(raw json.RawMessage) ([2]float64, bool) {
	var xy []float64
	if err := json.Unmarshal(raw, &xy); err != nil || len(xy) != 2 {
		return [2]float64{}, false
	}
	if math.IsNaN(xy[0]) || math.IsNaN(xy[1]) {
		return [2]float64{}, false
	}
	return [2]float64{xy[0], xy[1]}, true
}

// rawText renders a rejected value for an error description.
func rawText(raw json.RawMessage) string {
	s := string(bytes.TrimSpace(raw))
	if uq, err := strconv.Unquote(s); err == nil {
		return uq
	}
	return s
}
