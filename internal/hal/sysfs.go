package hal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dokzlo13/bulbd/internal/light"
)

// SysfsConfig selects a Linux PWM chip exposed under /sys/class/pwm.
type SysfsConfig struct {
	Root     string // defaults to /sys/class/pwm
	Chip     int
	Channels int
	PeriodNs uint64
	Top      uint16
}

// Sysfs drives the channels of one PWM chip through the kernel's sysfs
// interface. Duties are scaled from [0, Top] onto [0, period].
type Sysfs struct {
	dir    string
	n      int
	top    uint16
	period uint64
	buf    []byte
}

// OpenSysfs exports and enables every channel of the chip.
func OpenSysfs(cfg SysfsConfig) (*Sysfs, error) {
	if cfg.Root == "" {
		cfg.Root = "/sys/class/pwm"
	}
	if cfg.Channels <= 0 || cfg.Channels > light.MaxChannels {
		return nil, fmt.Errorf("sysfs pwm: %d channels, limit %d", cfg.Channels, light.MaxChannels)
	}
	if cfg.PeriodNs == 0 {
		return nil, errors.New("sysfs pwm: period must be positive")
	}
	if cfg.Top == 0 {
		return nil, errors.New("sysfs pwm: top must be positive")
	}

	s := &Sysfs{
		dir:    filepath.Join(cfg.Root, "pwmchip"+strconv.Itoa(cfg.Chip)),
		n:      cfg.Channels,
		top:    cfg.Top,
		period: cfg.PeriodNs,
		buf:    make([]byte, 0, 24),
	}

	for ch := 0; ch < s.n; ch++ {
		if err := s.export(ch); err != nil {
			return nil, err
		}
		if err := s.write(ch, "period", cfg.PeriodNs); err != nil {
			return nil, err
		}
		if err := s.write(ch, "duty_cycle", 0); err != nil {
			return nil, err
		}
		if err := s.write(ch, "enable", 1); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Sysfs) channelDir(ch int) string {
	return filepath.Join(s.dir, "pwm"+strconv.Itoa(ch))
}

func (s *Sysfs) export(ch int) error {
	if _, err := os.Stat(s.channelDir(ch)); err == nil {
		return nil
	}
	if err := os.WriteFile(filepath.Join(s.dir, "export"), []byte(strconv.Itoa(ch)), 0o644); err != nil {
		return fmt.Errorf("export pwm%d: %w", ch, err)
	}
	return nil
}

func (s *Sysfs) write(ch int, attr string, v uint64) error {
	s.buf = strconv.AppendUint(s.buf[:0], v, 10)
	if err := os.WriteFile(filepath.Join(s.channelDir(ch), attr), s.buf, 0o644); err != nil {
		return fmt.Errorf("pwm%d %s: %w", ch, attr, err)
	}
	return nil
}

func (s *Sysfs) Channels() int { return s.n }
func (s *Sysfs) Top() uint16   { return s.top }

func (s *Sysfs) Set(ch int, duty uint16) error {
	if err := checkChannel(ch, s.n); err != nil {
		return err
	}
	ns := uint64(clampDuty(duty, s.top)) * s.period / uint64(s.top)
	return s.write(ch, "duty_cycle", ns)
}

// Flush is a no-op: sysfs writes take effect immediately.
func (s *Sysfs) Flush() error { return nil }

// Close disables every channel.
func (s *Sysfs) Close() error {
	var errs []error
	for ch := 0; ch < s.n; ch++ {
		if err := s.write(ch, "enable", 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
