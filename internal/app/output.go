package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/config"
	"github.com/dokzlo13/bulbd/internal/hal"
	"github.com/dokzlo13/bulbd/internal/hal/mqttout"
	"github.com/dokzlo13/bulbd/internal/hal/ws2811"
)

// openOutput builds the configured hardware backend.
func openOutput(cfg config.OutputConfig) (hal.Output, error) {
	top := uint16(cfg.Top)

	var (
		out hal.Output
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		out, err = hal.NewRecorder(cfg.Channels, top)

	case config.DriverSysfs:
		out, err = hal.OpenSysfs(hal.SysfsConfig{
			Root:     cfg.Sysfs.Root,
			Chip:     cfg.Sysfs.Chip,
			Channels: cfg.Channels,
			PeriodNs: uint64(cfg.Sysfs.PeriodNs),
			Top:      top,
		})

	case config.DriverWS2811:
		out, err = openStrip(cfg)

	case config.DriverMQTT:
		out, err = mqttout.Dial(mqttout.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			Topic:          cfg.MQTT.Topic,
			Channels:       cfg.Channels,
			Top:            top,
			ConnectTimeout: cfg.MQTT.ConnectTimeout.Duration(),
			WriteTimeout:   cfg.MQTT.WriteTimeout.Duration(),
		})

	default:
		err = fmt.Errorf("unknown output driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s output: %w", cfg.Driver, err)
	}

	if cfg.ActiveLow {
		out = hal.ActiveLow(out)
	}
	log.Info().
		Str("driver", cfg.Driver).
		Int("channels", out.Channels()).
		Uint16("top", out.Top()).
		Bool("active_low", cfg.ActiveLow).
		Msg("Output opened")
	return out, nil
}

func openStrip(cfg config.OutputConfig) (hal.Output, error) {
	timings, err := ws2811.TimingsByName(cfg.WS2811.Timing)
	if err != nil {
		return nil, err
	}
	pixels := (cfg.Channels + 2) / 3
	f, err := os.OpenFile(cfg.WS2811.Device, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	strip, err := ws2811.NewStrip(f, pixels, uint32(cfg.WS2811.ClockHz), timings)
	if err != nil {
		f.Close()
		return nil, err
	}
	return strip, nil
}
