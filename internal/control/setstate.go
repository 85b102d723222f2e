package control

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/color"
	"github.com/dokzlo13/bulbd/internal/light"
	"github.com/dokzlo13/bulbd/internal/store"
)

// stateChange is a validated light state write. Values are kept as sent;
// clamping happens when the change is applied and echoed.
type stateChange struct {
	order []string

	on                *bool
	bri, hue, sat, ct *int64
	xy                *[2]float64
	transition        *int64
}

func (c *stateChange) modes() []string {
	var m []string
	if c.hue != nil || c.sat != nil {
		m = append(m, "hs")
	}
	if c.xy != nil {
		m = append(m, "xy")
	}
	if c.ct != nil {
		m = append(m, "ct")
	}
	return m
}

// decodeState validates each recognised member of a state body. Unknown
// members are ignored.
func decodeState(fields []field, addr string) (stateChange, *Error) {
	var c stateChange
	for _, f := range fields {
		switch f.name {
		case "on":
			var v bool
			if err := json.Unmarshal(f.raw, &v); err != nil {
				return c, errInvalidValue(addr+"/on", rawText(f.raw), "on")
			}
			c.on = &v
		case "bri", "hue", "sat", "ct", "transitiontime":
			v, ok := decodeInt(f.raw)
			if !ok {
				return c, errInvalidValue(addr+"/"+f.name, rawText(f.raw), f.name)
			}
			switch f.name {
			case "bri":
				c.bri = &v
			case "hue":
				c.hue = &v
			case "sat":
				c.sat = &v
			case "ct":
				c.ct = &v
			default:
				c.transition = &v
			}
		case "xy":
			v, ok := decodeXY(f.raw)
			if !ok {
				return c, errInvalidValue(addr+"/xy", rawText(f.raw), "xy")
			}
			c.xy = &v
		default:
			continue
		}
		c.order = append(c.order, f.name)
	}
	return c, nil
}

// validate checks the change against the light's layout.
func (c *stateChange) validate(layout light.Layout, addr string) *Error {
	applied := 0
	for _, name := range c.order {
		if name != "transitiontime" {
			applied++
		}
	}
	if applied == 0 {
		return errMissing(addr)
	}

	modes := c.modes()
	if len(modes) > 1 {
		return errInvalidValue(addr, "conflicting color modes", modes[0]+"+"+modes[1])
	}

	for _, name := range c.order {
		var mode light.ColorMode
		switch name {
		case "hue", "sat":
			mode = light.ModeHS
		case "xy":
			mode = light.ModeXY
		case "ct":
			mode = light.ModeCT
		default:
			continue
		}
		if !layout.Supports(mode) {
			return errParamNotAvailable(addr+"/"+name, name)
		}
	}
	return nil
}

func (c *stateChange) mutation() store.Mutation {
	return func(base light.State) light.State {
		if c.on != nil {
			base.Power = *c.on
		}
		if c.bri != nil {
			base.Brightness = light.ClampBrightness(*c.bri)
		}
		if c.hue != nil || c.sat != nil {
			base = color.ConvertMode(base, light.ModeHS)
			if c.hue != nil {
				base.Hue = light.ClampHue(*c.hue)
			}
			if c.sat != nil {
				base.Saturation = light.ClampSaturation(*c.sat)
			}
		}
		if c.xy != nil {
			base.X, base.Y = light.ClampUnit(c.xy[0]), light.ClampUnit(c.xy[1])
			base.ColorMode = light.ModeXY
		}
		if c.ct != nil {
			base.Mireds = light.ClampMireds(*c.ct)
			base.ColorMode = light.ModeCT
		}
		return base
	}
}

// echo returns the success entries in request order with clamped values.
func (c *stateChange) echo(addr string) []map[string]map[string]any {
	out := make([]map[string]map[string]any, 0, len(c.order))
	for _, name := range c.order {
		var v any
		switch name {
		case "on":
			v = *c.on
		case "bri":
			v = light.ClampBrightness(*c.bri)
		case "hue":
			v = light.ClampHue(*c.hue)
		case "sat":
			v = light.ClampSaturation(*c.sat)
		case "ct":
			v = light.ClampMireds(*c.ct)
		case "xy":
			v = [2]float64{light.ClampUnit(c.xy[0]), light.ClampUnit(c.xy[1])}
		case "transitiontime":
			v = clampTransition(*c.transition)
		}
		out = append(out, map[string]map[string]any{"success": {addr + "/" + name: v}})
	}
	return out
}

func clampTransition(v int64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v)
}

func (s *Service) setState(req Request) (any, bool, *Error) {
	addr := "/lights/" + req.Light + "/state"

	fields, ok := parseObject(req.Body)
	if !ok {
		return nil, false, errInvalidJSON(addr)
	}

	s.enter(PhaseValidating)
	info, perr := s.lookup(req.User, req.Light, "/lights/"+req.Light)
	if perr != nil {
		return nil, false, perr
	}
	change, perr := decodeState(fields, addr)
	if perr != nil {
		return nil, false, perr
	}
	if perr := change.validate(info.Layout, addr); perr != nil {
		return nil, false, perr
	}

	ticks := s.defaultTicks
	if change.transition != nil {
		// transitiontime counts 100 ms steps.
		ticks = s.ticksFor(time.Duration(clampTransition(*change.transition)) * 100 * time.Millisecond)
	}

	s.enter(PhaseApplying)
	m := change.mutation()
	st, changed, err := s.store.Write(info.ID, ticks, m)
	if errors.Is(err, store.ErrLockContention) {
		st, changed, err = s.store.Write(info.ID, ticks, m)
	}
	if err != nil {
		if errors.Is(err, store.ErrUnknownLight) {
			return nil, false, errNotAvailable("/lights/" + req.Light)
		}
		log.Warn().Err(err).Int("light", info.ID).Msg("State write rejected")
		return nil, false, errBusy(addr)
	}

	if changed && s.opts.OnChange != nil {
		s.opts.OnChange()
	}
	log.Debug().
		Int("light", info.ID).
		Bool("changed", changed).
		Bool("on", st.Power).
		Uint16("bri", st.Brightness).
		Stringer("colormode", st.ColorMode).
		Uint16("ticks", ticks).
		Msg("Light state written")

	return change.echo(addr), changed, nil
}
