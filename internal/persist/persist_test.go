package persist

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/bulbd/internal/db"
	"github.com/dokzlo13/bulbd/internal/light"
	"github.com/dokzlo13/bulbd/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New([]light.Info{
		{ID: 1, Name: "Strip", Layout: light.LayoutRGB},
		{ID: 2, Name: "Hall", Layout: light.LayoutDimmable, FirstChannel: 3},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func setBri(t *testing.T, st *store.Store, id int, bri uint16) {
	t.Helper()
	_, _, err := st.Write(id, 0, func(s light.State) light.State {
		s.Power = true
		s.Brightness = bri
		return s
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		blob    string
		wantErr error
		wantN   int
	}{
		{"valid", `{"version":1,"lights":[{"id":1,"state":{"on":true,"bri":10,"colormode":"ct","ct":300}}]}`, nil, 1},
		{"empty lights", `{"version":1,"lights":[]}`, nil, 0},
		{"future version", `{"version":2,"lights":[]}`, ErrUnsupportedVersion, 0},
		{"missing version", `{"lights":[]}`, ErrUnsupportedVersion, 0},
		{"truncated", `{"version":1,"lig`, ErrCorrupt, 0},
		{"not json", "\x00\xff", ErrCorrupt, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Decode([]byte(tt.blob))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if len(entries) != tt.wantN {
				t.Errorf("got %d entries, want %d", len(entries), tt.wantN)
			}
		})
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	src := newStore(t)
	setBri(t, src, 1, 42)
	entries, err := src.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	blob, err := Encode(entries)
	if err != nil {
		t.Fatal(err)
	}
	mem := &Memory{}
	if err := mem.Save(blob); err != nil {
		t.Fatal(err)
	}

	dst := newStore(t)
	n, err := Restore(mem, dst)
	if err != nil || n != 2 {
		t.Fatalf("Restore() = %d, %v", n, err)
	}
	got, _ := dst.Read(1)
	if !got.Power || got.Brightness != 42 {
		t.Errorf("restored state = %+v", got)
	}
}

func TestRestoreMissingAndCorrupt(t *testing.T) {
	st := newStore(t)
	before, _ := st.Read(1)

	n, err := Restore(&Memory{}, st)
	if err != nil || n != 0 {
		t.Errorf("missing blob: Restore() = %d, %v", n, err)
	}

	mem := &Memory{}
	mem.Save([]byte("garbage"))
	if _, err := Restore(mem, st); !errors.Is(err, ErrCorrupt) {
		t.Errorf("corrupt blob: error = %v", err)
	}
	if after, _ := st.Read(1); after != before {
		t.Errorf("failed restore changed state: %+v", after)
	}
}

func TestRestoreClampsAndSkipsUnknown(t *testing.T) {
	mem := &Memory{}
	mem.Save([]byte(`{"version":1,"lights":[
		{"id":1,"state":{"on":true,"bri":900,"colormode":"hs","hue":1,"sat":999}},
		{"id":7,"state":{"on":true,"bri":1}}
	]}`))
	st := newStore(t)

	n, err := Restore(mem, st)
	if err != nil || n != 1 {
		t.Fatalf("Restore() = %d, %v", n, err)
	}
	got, _ := st.Read(1)
	if got.Brightness != light.MaxBrightness || got.Saturation != 254 {
		t.Errorf("values not clamped: %+v", got)
	}
}

func TestSaverSkipsIdentical(t *testing.T) {
	st := newStore(t)
	mem := &Memory{}
	s := NewSaver(st, mem, 0)

	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if mem.Saves() != 1 {
		t.Errorf("saves = %d, want 1", mem.Saves())
	}

	setBri(t, st, 2, 5)
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if mem.Saves() != 2 {
		t.Errorf("saves = %d, want 2", mem.Saves())
	}
	if got := s.Stats(); got.Saves != 2 || got.Skipped != 1 {
		t.Errorf("stats = %+v", got)
	}
}

func TestSaverPrime(t *testing.T) {
	st := newStore(t)
	entries, _ := st.Snapshot()
	blob, _ := Encode(entries)

	mem := &Memory{}
	s := NewSaver(st, mem, 0)
	s.Prime(blob)
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if mem.Saves() != 0 {
		t.Errorf("primed saver rewrote unchanged state")
	}
}

func TestSaverRunThrottlesAndFlushes(t *testing.T) {
	st := newStore(t)
	mem := &Memory{}
	s := NewSaver(st, mem, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	setBri(t, st, 1, 10)
	s.Notify()
	deadline := time.Now().Add(2 * time.Second)
	for mem.Saves() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("first notification not saved")
		}
		time.Sleep(time.Millisecond)
	}

	// Throttled: the next save waits an hour unless shutdown flushes it.
	setBri(t, st, 1, 20)
	s.Notify()
	s.Notify()
	time.Sleep(20 * time.Millisecond)
	if mem.Saves() != 1 {
		t.Fatalf("saves = %d before interval elapsed", mem.Saves())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if mem.Saves() != 2 {
		t.Errorf("saves = %d after shutdown, want final flush", mem.Saves())
	}

	raw, _, _ := mem.Load()
	entries, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].State.Brightness != 20 {
		t.Errorf("final blob bri = %d", entries[0].State.Brightness)
	}
}

func TestSaverFailureCounted(t *testing.T) {
	st := newStore(t)
	mem := &Memory{}
	mem.FailWith(errors.New("flash worn out"))
	s := NewSaver(st, mem, 0)

	s.flush()
	if got := s.Stats().Failures; got != 1 {
		t.Errorf("failures = %d", got)
	}

	mem.FailWith(nil)
	s.flush()
	if mem.Saves() != 1 {
		t.Errorf("save after recovery not written")
	}
}

func TestSQLiteBackend(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer database.Close()

	b := NewSQLite(database.DB, "")
	if _, ok, err := b.Load(); err != nil || ok {
		t.Fatalf("empty Load() ok = %v, err = %v", ok, err)
	}

	for _, payload := range []string{`{"version":1,"lights":[]}`, `{"version":1,"lights":[{"id":1}]}`} {
		if err := b.Save([]byte(payload)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	got, ok, err := b.Load()
	if err != nil || !ok || string(got) != `{"version":1,"lights":[{"id":1}]}` {
		t.Errorf("Load() = %s, %v, %v", got, ok, err)
	}
	if v, err := b.Version(); err != nil || v != 2 {
		t.Errorf("Version() = %d, %v", v, err)
	}
}
