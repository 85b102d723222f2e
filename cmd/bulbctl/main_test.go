package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/bulbd/internal/api"
	"github.com/dokzlo13/bulbd/internal/control"
	"github.com/dokzlo13/bulbd/internal/light"
	"github.com/dokzlo13/bulbd/internal/store"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "default on", want: `{"on":true}`},
		{name: "off", args: []string{"-off"}, want: `{"on":false}`},
		{name: "bri and xy", args: []string{"-bri", "100", "-xy", "0.5, 0.25"}, want: `{"on":true,"bri":100,"xy":[0.5,0.25]}`},
		{name: "transition", args: []string{"-transition", "1.5s"}, want: `{"on":true,"transitiontime":15}`},
		{name: "zero hue and sat", args: []string{"-hue", "0", "-sat", "0"}, want: `{"on":true,"hue":0,"sat":0}`},
		{name: "immediate", args: []string{"-transition", "0s"}, want: `{"on":true,"transitiontime":0}`},
		{name: "zero bri", args: []string{"-bri", "0"}, want: `{"on":true,"bri":0}`},
		{name: "bri range", args: []string{"-bri", "300"}, wantErr: true},
		{name: "hue range", args: []string{"-hue", "70000"}, wantErr: true},
		{name: "bad xy", args: []string{"-xy", "0.3"}, wantErr: true},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := parseState(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseState() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			body, err := json.Marshal(st)
			if err != nil {
				t.Fatal(err)
			}
			if string(body) != tt.want {
				t.Errorf("body = %s, want %s", body, tt.want)
			}
		})
	}
}

func newDevice(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.New([]light.Info{
		{ID: 1, Name: "Strip", Layout: light.LayoutRGB, ModelID: "LCT015"},
		{ID: 2, Name: "Hall", Layout: light.LayoutDimmable, FirstChannel: 3, ModelID: "LWB010"},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	svc := control.New(st, control.Options{
		Descriptor:        light.Descriptor{Name: "bulbd", BridgeID: "001788FFFE4A1B2C", ModelID: "BSB002"},
		LinkButton:        true,
		Tick:              20 * time.Millisecond,
		DefaultTransition: 400 * time.Millisecond,
	})
	srv := api.NewServer("127.0.0.1", 0, func(c *api.Call) bool {
		go c.Reply(svc.Handle(c.Request))
		return true
	}, nil, time.Second)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func TestCommandsAgainstDevice(t *testing.T) {
	ts, st := newDevice(t)

	var out bytes.Buffer
	if err := run([]string{"-host", ts.URL, "pair"}, &out); err != nil {
		t.Fatalf("pair: %v", err)
	}
	user := strings.TrimSpace(out.String())
	if user == "" {
		t.Fatal("pair printed no username")
	}

	out.Reset()
	if err := run([]string{"-host", ts.URL, "-user", user, "set", "2", "-bri", "200", "-transition", "0s"}, &out); err != nil {
		t.Fatalf("set: %v", err)
	}
	cur, err := st.Read(2)
	if err != nil {
		t.Fatal(err)
	}
	if !cur.Power || cur.Brightness != 200 {
		t.Errorf("state = %+v", cur)
	}

	out.Reset()
	if err := run([]string{"-host", ts.URL, "-user", user, "set", "1", "-hue", "0", "-sat", "254", "-transition", "0s"}, &out); err != nil {
		t.Fatalf("set hue 0: %v", err)
	}
	cur, _ = st.Read(1)
	if cur.ColorMode != light.ModeHS || cur.Hue != 0 || cur.Saturation != 254 {
		t.Errorf("state = %+v, want red", cur)
	}
	if cur.TransitionTicks != 0 {
		t.Errorf("transition ticks = %d, want immediate", cur.TransitionTicks)
	}

	// Without -transition the device default applies: 400ms at a 20ms tick.
	if err := run([]string{"-host", ts.URL, "-user", user, "set", "2", "-bri", "100"}, &out); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cur, _ = st.Read(2); cur.TransitionTicks != 20 {
		t.Errorf("transition ticks = %d, want 20", cur.TransitionTicks)
	}

	if err := run([]string{"-host", ts.URL, "-user", user, "set", "9"}, &out); err == nil {
		t.Error("set on unknown light: want error")
	}

	out.Reset()
	if err := run([]string{"-host", ts.URL, "-user", user, "lights"}, &out); err != nil {
		t.Fatalf("lights: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || !strings.Contains(lines[1], "Strip") || !strings.Contains(lines[2], "Hall") {
		t.Errorf("lights output:\n%s", out.String())
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no host", []string{"lights"}},
		{"no command", []string{"-host", "127.0.0.1"}},
		{"unknown command", []string{"-host", "127.0.0.1", "dance"}},
		{"bad id", []string{"-host", "127.0.0.1", "set", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BULBD_HOST", "")
			if err := run(tt.args, &bytes.Buffer{}); err == nil {
				t.Error("want error")
			}
		})
	}
}
