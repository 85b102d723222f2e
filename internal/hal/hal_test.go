package hal

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestRecorder(t *testing.T) {
	r, err := NewRecorder(4, 255)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	tests := []struct {
		name    string
		ch      int
		duty    uint16
		want    uint16
		wantErr error
	}{
		{"in_range", 0, 100, 100, nil},
		{"clamped", 1, 300, 255, nil},
		{"negative_channel", -1, 1, 0, ErrChannelRange},
		{"past_end", 4, 1, 0, ErrChannelRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Set(tt.ch, tt.duty)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Set() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && r.Duty(tt.ch) != tt.want {
				t.Errorf("Duty() = %d, want %d", r.Duty(tt.ch), tt.want)
			}
		})
	}
}

func TestRecorderFailureInjection(t *testing.T) {
	r, _ := NewRecorder(2, 100)
	r.Fail(1, true)

	if err := r.Set(1, 50); !errors.Is(err, ErrInjected) {
		t.Errorf("Set(failing) error = %v, want ErrInjected", err)
	}
	if err := r.Set(0, 50); err != nil {
		t.Errorf("Set(healthy) error = %v", err)
	}

	r.FailNextFlush()
	if err := r.Flush(); !errors.Is(err, ErrInjected) {
		t.Errorf("Flush() error = %v, want ErrInjected", err)
	}
	if err := r.Flush(); err != nil {
		t.Errorf("second Flush() error = %v", err)
	}

	sets, flushes := r.Counts()
	if sets != 2 || flushes != 2 {
		t.Errorf("Counts() = %d, %d, want 2, 2", sets, flushes)
	}
}

func TestActiveLow(t *testing.T) {
	r, _ := NewRecorder(1, 1000)
	out := ActiveLow(r)

	tests := []struct {
		logical, physical uint16
	}{
		{0, 1000},
		{1000, 0},
		{250, 750},
		{5000, 0},
	}

	for _, tt := range tests {
		if err := out.Set(0, tt.logical); err != nil {
			t.Fatalf("Set(%d) error = %v", tt.logical, err)
		}
		if got := r.Duty(0); got != tt.physical {
			t.Errorf("logical %d -> physical %d, want %d", tt.logical, got, tt.physical)
		}
	}
}

func fakeChip(t *testing.T, channels int) string {
	t.Helper()
	root := t.TempDir()
	chip := filepath.Join(root, "pwmchip0")
	for ch := 0; ch < channels; ch++ {
		dir := filepath.Join(chip, "pwm"+strconv.Itoa(ch))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func readAttr(t *testing.T, root string, ch int, attr string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, "pwmchip0", "pwm"+strconv.Itoa(ch), attr))
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(b))
}

func TestSysfs(t *testing.T) {
	root := fakeChip(t, 2)

	s, err := OpenSysfs(SysfsConfig{Root: root, Channels: 2, PeriodNs: 1_000_000, Top: 1000})
	if err != nil {
		t.Fatalf("OpenSysfs() error = %v", err)
	}
	if got := readAttr(t, root, 1, "period"); got != "1000000" {
		t.Errorf("period = %q", got)
	}
	if got := readAttr(t, root, 0, "enable"); got != "1" {
		t.Errorf("enable = %q", got)
	}

	if err := s.Set(1, 250); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := readAttr(t, root, 1, "duty_cycle"); got != "250000" {
		t.Errorf("duty_cycle = %q, want 250000", got)
	}
	if err := s.Set(2, 1); !errors.Is(err, ErrChannelRange) {
		t.Errorf("Set(2) error = %v, want ErrChannelRange", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := readAttr(t, root, 0, "enable"); got != "0" {
		t.Errorf("enable after Close = %q", got)
	}
}
