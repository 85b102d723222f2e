package control

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/dokzlo13/bulbd/internal/light"
	"github.com/dokzlo13/bulbd/internal/store"
)

func newTestService(t *testing.T, mutate func(*Options)) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New([]light.Info{
		{ID: 1, Name: "Strip", Layout: light.LayoutRGB, FirstChannel: 0, ModelID: "LCT015", UniqueID: "00:17:88:01:00:00:00:01-0b"},
		{ID: 2, Name: "Desk", Layout: light.LayoutCCT, FirstChannel: 3, ModelID: "LTW001"},
		{ID: 3, Name: "Hall", Layout: light.LayoutDimmable, FirstChannel: 5, ModelID: "LWB010"},
	}, 0)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	opts := Options{
		Descriptor: light.Descriptor{Name: "bulbd", BridgeID: "001788FFFE4A1B2C", ModelID: "BSB002", SwVersion: "1953188020", APIVersion: "1.53.0", MAC: "00:17:88:4a:1b:2c"},
		IP:         "192.168.1.20",
		Tick:       20 * time.Millisecond,
		LinkButton: true,
		Now:        func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(st, opts), st
}

func put(s *Service, id, body string) Response {
	return s.Handle(Request{Op: OpSetState, Method: "PUT", User: "u", Light: id, Body: []byte(body)})
}

func TestPhaseNext(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseIdle, PhaseParsing, true},
		{PhaseParsing, PhaseValidating, true},
		{PhaseValidating, PhaseApplying, true},
		{PhaseApplying, PhaseResponding, true},
		{PhaseParsing, PhaseResponding, true},
		{PhaseResponding, PhaseIdle, true},
		{PhaseIdle, PhaseApplying, false},
		{PhaseParsing, PhaseApplying, false},
		{PhaseIdle, PhaseResponding, false},
		{PhaseApplying, PhaseIdle, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"_to_"+tt.to.String(), func(t *testing.T) {
			if got := tt.from.next(tt.to); got != tt.want {
				t.Errorf("next() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetStateThenRead(t *testing.T) {
	s, st := newTestService(t, nil)

	resp := put(s, "1", `{"bri":200}`)
	if resp.Err != nil {
		t.Fatalf("unexpected error %+v", resp.Err)
	}
	if got, want := string(resp.Body), `[{"success":{"/lights/1/state/bri":200}}]`; got != want {
		t.Errorf("body = %s, want %s", got, want)
	}

	cur, err := st.Read(1)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cur.Brightness != 200 {
		t.Errorf("stored brightness = %d, want 200", cur.Brightness)
	}

	get := s.Handle(Request{Op: OpGetLight, User: "u", Light: "1"})
	var l Light
	if err := json.Unmarshal(get.Body, &l); err != nil {
		t.Fatalf("decode light: %v (%s)", err, get.Body)
	}
	if l.State.Bri != 200 || l.Type != "Extended color light" {
		t.Errorf("light = %+v", l)
	}
}

func TestSetStateClampsAndEchoes(t *testing.T) {
	s, st := newTestService(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "hue_above_range",
			body: `{"hue":70000}`,
			want: `[{"success":{"/lights/1/state/hue":65535}}]`,
		},
		{
			name: "request_order",
			body: `{"on":true,"bri":300,"xy":[0.7,1.2]}`,
			want: `[{"success":{"/lights/1/state/on":true}},{"success":{"/lights/1/state/bri":254}},{"success":{"/lights/1/state/xy":[0.7,1]}}]`,
		},
		{
			name: "unknown_fields_ignored",
			body: `{"alert":"select","sat":-4}`,
			want: `[{"success":{"/lights/1/state/sat":0}}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := put(s, "1", tt.body)
			if string(resp.Body) != tt.want {
				t.Errorf("body = %s, want %s", resp.Body, tt.want)
			}
		})
	}

	cur, _ := st.Read(1)
	if !cur.Valid() {
		t.Errorf("stored state out of bounds: %+v", cur)
	}
}

func TestSetStateIdempotent(t *testing.T) {
	s, st := newTestService(t, nil)

	first := put(s, "1", `{"on":true,"hue":1000,"sat":200}`)
	stateA, _ := st.Read(1)
	second := put(s, "1", `{"on":true,"hue":1000,"sat":200}`)
	stateB, _ := st.Read(1)

	if string(first.Body) != string(second.Body) {
		t.Errorf("responses differ:\n%s\n%s", first.Body, second.Body)
	}
	if stateA != stateB {
		t.Errorf("states differ: %+v vs %+v", stateA, stateB)
	}
	if !first.Changed || second.Changed {
		t.Errorf("Changed = %v/%v, want true/false", first.Changed, second.Changed)
	}
}

func TestSetStateErrors(t *testing.T) {
	tests := []struct {
		name     string
		light    string
		body     string
		wantType int
		wantAddr string
		wantKind Kind
	}{
		{"malformed_json", "1", `{"bri":`, TypeInvalidJSON, "/lights/1/state", KindParse},
		{"not_an_object", "1", `[1,2]`, TypeInvalidJSON, "/lights/1/state", KindParse},
		{"trailing_garbage", "1", `{"bri":1} x`, TypeInvalidJSON, "/lights/1/state", KindParse},
		{"unknown_light", "9", `{"bri":1}`, TypeResourceNotAvailable, "/lights/9", KindValidation},
		{"non_numeric_light", "abc", `{"bri":1}`, TypeResourceNotAvailable, "/lights/abc", KindValidation},
		{"conflicting_modes", "1", `{"hue":1,"ct":300}`, TypeInvalidValue, "/lights/1/state", KindValidation},
		{"mode_not_supported", "2", `{"hue":1}`, TypeParameterNotAvailable, "/lights/2/state/hue", KindValidation},
		{"no_colour_on_dimmer", "3", `{"ct":300}`, TypeParameterNotAvailable, "/lights/3/state/ct", KindValidation},
		{"wrong_type", "1", `{"on":"yes"}`, TypeInvalidValue, "/lights/1/state/on", KindValidation},
		{"fractional", "1", `{"bri":1.5}`, TypeInvalidValue, "/lights/1/state/bri", KindValidation},
		{"bad_xy", "1", `{"xy":[0.1]}`, TypeInvalidValue, "/lights/1/state/xy", KindValidation},
		{"empty", "1", `{}`, TypeMissingParameters, "/lights/1/state", KindValidation},
		{"only_transition", "1", `{"transitiontime":4}`, TypeMissingParameters, "/lights/1/state", KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, st := newTestService(t, nil)
			before, _ := st.Snapshot()

			resp := put(s, tt.light, tt.body)
			if resp.Err == nil {
				t.Fatalf("expected error, body = %s", resp.Body)
			}
			if resp.Err.Type != tt.wantType || resp.Err.Address != tt.wantAddr {
				t.Errorf("error = %+v, want type %d at %s", resp.Err, tt.wantType, tt.wantAddr)
			}
			if resp.Err.Kind() != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", resp.Err.Kind(), tt.wantKind)
			}

			var body []map[string]Error
			if err := json.Unmarshal(resp.Body, &body); err != nil || len(body) != 1 {
				t.Fatalf("error body %s: %v", resp.Body, err)
			}
			if body[0]["error"].Type != tt.wantType {
				t.Errorf("wire type = %d", body[0]["error"].Type)
			}

			after, _ := st.Snapshot()
			for i := range before {
				if before[i] != after[i] {
					t.Errorf("state changed on rejected request: %+v -> %+v", before[i], after[i])
				}
			}
		})
	}
}

func TestParseErrorSkipsApplying(t *testing.T) {
	var phases []Phase
	s, _ := newTestService(t, func(o *Options) {
		o.OnPhase = func(p Phase) { phases = append(phases, p) }
	})

	put(s, "1", `not json`)
	want := []Phase{PhaseParsing, PhaseResponding, PhaseIdle}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}

	phases = nil
	put(s, "1", `{"on":true}`)
	want = []Phase{PhaseParsing, PhaseValidating, PhaseApplying, PhaseResponding, PhaseIdle}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	if s.Phase() != PhaseIdle {
		t.Errorf("Phase() = %v after request, want idle", s.Phase())
	}
}

func TestTransitionTimeToTicks(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		defaultTr time.Duration
		wantTicks uint16
	}{
		{"explicit", `{"on":true,"transitiontime":10}`, 0, 50},
		{"zero_is_immediate", `{"on":true,"transitiontime":0}`, 400 * time.Millisecond, 0},
		{"default_applies", `{"on":true}`, 400 * time.Millisecond, 20},
		{"rounds_up", `{"on":true}`, 30 * time.Millisecond, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, st := newTestService(t, func(o *Options) { o.DefaultTransition = tt.defaultTr })
			if resp := put(s, "1", tt.body); resp.Err != nil {
				t.Fatalf("error %+v", resp.Err)
			}

			var frames [light.MaxLights]store.Frame
			st.Frames(&frames)
			f := frames[0]
			if tt.wantTicks == 0 {
				if f.Pending || !f.State.Power {
					t.Errorf("expected immediate change, frame = %+v", f)
				}
				return
			}
			if !f.Pending || f.Transition.Total != tt.wantTicks {
				t.Errorf("transition = %+v (pending %v), want %d ticks", f.Transition, f.Pending, tt.wantTicks)
			}
		})
	}
}

func TestOnChangeNotified(t *testing.T) {
	calls := 0
	s, _ := newTestService(t, func(o *Options) { o.OnChange = func() { calls++ } })

	put(s, "1", `{"bri":10}`)
	put(s, "1", `{"bri":10}`)
	put(s, "1", `{"bri":`)
	if calls != 1 {
		t.Errorf("OnChange calls = %d, want 1", calls)
	}
}

var usernamePattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestCreateUser(t *testing.T) {
	t.Run("link_button_closed", func(t *testing.T) {
		s, _ := newTestService(t, func(o *Options) { o.LinkButton = false })
		resp := s.Handle(Request{Op: OpCreateUser, Body: []byte(`{"devicetype":"app#phone"}`)})
		if resp.Err == nil || resp.Err.Type != TypeLinkButtonNotPressed {
			t.Errorf("error = %+v, want 101", resp.Err)
		}
	})

	t.Run("missing_devicetype", func(t *testing.T) {
		s, _ := newTestService(t, nil)
		resp := s.Handle(Request{Op: OpCreateUser, Body: []byte(`{}`)})
		if resp.Err == nil || resp.Err.Type != TypeMissingParameters {
			t.Errorf("error = %+v, want 5", resp.Err)
		}
	})

	t.Run("success_and_auth", func(t *testing.T) {
		s, _ := newTestService(t, func(o *Options) { o.RequireAuth = true })

		denied := s.Handle(Request{Op: OpListLights, User: "nobody"})
		if denied.Err == nil || denied.Err.Type != TypeUnauthorized {
			t.Fatalf("error = %+v, want 1", denied.Err)
		}

		resp := s.Handle(Request{Op: OpCreateUser, Body: []byte(`{"devicetype":"app#phone","generateclientkey":true}`)})
		var body []map[string]map[string]string
		if err := json.Unmarshal(resp.Body, &body); err != nil || len(body) != 1 {
			t.Fatalf("body %s: %v", resp.Body, err)
		}
		user := body[0]["success"]["username"]
		if !usernamePattern.MatchString(user) {
			t.Errorf("username = %q", user)
		}
		if len(body[0]["success"]["clientkey"]) != 32 {
			t.Errorf("clientkey = %q", body[0]["success"]["clientkey"])
		}

		ok := s.Handle(Request{Op: OpListLights, User: user})
		if ok.Err != nil {
			t.Fatalf("authorised list failed: %+v", ok.Err)
		}
		var lights map[string]Light
		if err := json.Unmarshal(ok.Body, &lights); err != nil {
			t.Fatalf("decode lights: %v", err)
		}
		if len(lights) != 3 || lights["2"].Type != "Color temperature light" {
			t.Errorf("lights = %+v", lights)
		}
		if lights["3"].State.CT != nil || lights["3"].State.ColorMode != "" {
			t.Errorf("dimmable light exposes colour fields: %+v", lights["3"].State)
		}

		cfg := s.Handle(Request{Op: OpConfig, User: user})
		var c Config
		if err := json.Unmarshal(cfg.Body, &c); err != nil {
			t.Fatalf("decode config: %v", err)
		}
		if _, ok := c.Whitelist[user]; !ok {
			t.Errorf("whitelist = %+v, missing %s", c.Whitelist, user)
		}
		if c.BridgeID != "001788FFFE4A1B2C" || c.IPAddress != "192.168.1.20" {
			t.Errorf("config = %+v", c)
		}
	})
}

func TestWhitelistEvictsOldest(t *testing.T) {
	var w Whitelist
	now := time.Now()
	first := w.Add("first", now)
	for i := 0; i < MaxUsers; i++ {
		w.Add("app", now)
	}
	if w.Touch(first, now) {
		t.Error("oldest user survived a full rotation")
	}
	if len(w.Entries()) != MaxUsers {
		t.Errorf("entries = %d, want %d", len(w.Entries()), MaxUsers)
	}
}

func TestFullStateAndUnsupported(t *testing.T) {
	s, _ := newTestService(t, nil)

	resp := s.Handle(Request{Op: OpFullState, User: "u"})
	var full map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &full); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"lights", "groups", "config", "schedules", "scenes", "rules", "sensors", "resourcelinks"} {
		if _, ok := full[key]; !ok {
			t.Errorf("full state missing %q", key)
		}
	}

	pub := s.Handle(Request{Op: OpPublicConfig})
	var pc PublicConfig
	if err := json.Unmarshal(pub.Body, &pc); err != nil || pc.ModelID != "BSB002" {
		t.Errorf("public config = %+v, %v", pc, err)
	}

	bad := s.Handle(Request{Op: OpUnsupported, Method: "DELETE", Path: "/lights/1"})
	if bad.Err == nil || bad.Err.Type != TypeMethodNotAvailable {
		t.Errorf("error = %+v, want 4", bad.Err)
	}
}
