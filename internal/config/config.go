package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/bulbd/internal/light"
)

// Config represents the application configuration
type Config struct {
	Bridge          BridgeConfig      `yaml:"bridge"`
	HTTP            HTTPConfig        `yaml:"http"`
	Discovery       DiscoveryConfig   `yaml:"discovery"`
	Scheduler       SchedulerConfig   `yaml:"scheduler"`
	Control         ControlConfig     `yaml:"control"`
	Output          OutputConfig      `yaml:"output"`
	Lights          []LightConfig     `yaml:"lights"`
	Persistence     PersistenceConfig `yaml:"persistence"`
	Log             LogConfig         `yaml:"log"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// BridgeConfig is the identity the device announces
type BridgeConfig struct {
	Name       string `yaml:"name"`
	BridgeID   string `yaml:"bridge_id"` // 16 hex digits; derived from MAC when empty
	ModelID    string `yaml:"model_id"`
	SwVersion  string `yaml:"sw_version"`
	APIVersion string `yaml:"api_version"`
	MAC        string `yaml:"mac"`       // looked up from Interface when empty
	Interface  string `yaml:"interface"` // NIC to advertise on; empty picks the first usable one
	IP         string `yaml:"ip"`        // advertised address; looked up when empty
	Netmask    string `yaml:"netmask"`
	Gateway    string `yaml:"gateway"`
}

// HTTPConfig contains control API server settings
type HTTPConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	ReplyTimeout Duration `yaml:"reply_timeout"` // How long a request waits for the network task
}

// DiscoveryConfig contains SSDP and mDNS settings
type DiscoveryConfig struct {
	SSDP SSDPConfig `yaml:"ssdp"`
	MDNS MDNSConfig `yaml:"mdns"`
}

// SSDPConfig contains SSDP responder settings
type SSDPConfig struct {
	Enabled        *bool    `yaml:"enabled"` // default: true
	Addr           string   `yaml:"addr"`
	TTL            int      `yaml:"ttl"`
	Loopback       bool     `yaml:"loopback"`
	NotifyInterval Duration `yaml:"notify_interval"` // 0 disables alive announcements
	Server         string   `yaml:"server"`          // SERVER header
}

// MDNSConfig contains mDNS advertisement settings
type MDNSConfig struct {
	Enabled  *bool  `yaml:"enabled"` // default: true
	Instance string `yaml:"instance"`
	Host     string `yaml:"host"`
}

// SchedulerConfig contains executor settings
type SchedulerConfig struct {
	Tick         Duration `yaml:"tick"`          // Render period (default: 20ms)
	QueueSize    int      `yaml:"queue_size"`    // Network task inbox size (default: 64)
	SpinAttempts int      `yaml:"spin_attempts"` // State store lock attempts (default: 64)
}

// ControlConfig contains control API behaviour
type ControlConfig struct {
	DefaultTransition *Duration `yaml:"default_transition"` // default: 400ms, 0 = immediate
	LinkButton        bool      `yaml:"link_button"`        // Allow new users to pair
	RequireAuth       bool      `yaml:"require_auth"`       // Reject unknown usernames
}

// OutputConfig selects and configures the hardware backend
type OutputConfig struct {
	Driver    string       `yaml:"driver"` // memory, sysfs, ws2811, mqtt
	Channels  int          `yaml:"channels"`
	Top       int          `yaml:"top"` // Full-scale duty
	ActiveLow bool         `yaml:"active_low"`
	Sysfs     SysfsConfig  `yaml:"sysfs"`
	WS2811    WS2811Config `yaml:"ws2811"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
}

// SysfsConfig contains Linux PWM settings
type SysfsConfig struct {
	Root     string `yaml:"root"`
	Chip     int    `yaml:"chip"`
	PeriodNs int    `yaml:"period_ns"`
}

// WS2811Config contains addressable strip settings
type WS2811Config struct {
	Device  string `yaml:"device"`   // Pulse item sink, e.g. a character device
	ClockHz int    `yaml:"clock_hz"` // Pulse generator clock
	Timing  string `yaml:"timing"`   // neopixel or ws2811_hs
}

// MQTTConfig contains remote PWM settings
type MQTTConfig struct {
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Topic          string   `yaml:"topic"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"` // Publisher gives up on a stalled broker (default: 2s)
}

// LightConfig describes one light
type LightConfig struct {
	Name      string `yaml:"name"`
	Layout    string `yaml:"layout"`  // dim, cct, rgb, rgbw
	Channel   int    `yaml:"channel"` // First output channel
	ModelID   string `yaml:"model_id"`
	UniqueID  string `yaml:"unique_id"`
	SwVersion string `yaml:"sw_version"`
}

// PersistenceConfig contains state persistence settings
type PersistenceConfig struct {
	Driver      string   `yaml:"driver"` // sqlite, memory, none
	Path        string   `yaml:"path"`
	MinInterval Duration `yaml:"min_interval"` // Minimum time between saves
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Output drivers
const (
	DriverMemory = "memory"
	DriverSysfs  = "sysfs"
	DriverWS2811 = "ws2811"
	DriverMQTT   = "mqtt"
)

// GetEnabled returns whether SSDP is on (default: true)
func (c *SSDPConfig) GetEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GetEnabled returns whether mDNS is on (default: true)
func (c *MDNSConfig) GetEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GetDefaultTransition returns the transition applied when a request omits one
func (c *ControlConfig) GetDefaultTransition() time.Duration {
	if c.DefaultTransition == nil {
		return 400 * time.Millisecond
	}
	return c.DefaultTransition.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Bridge defaults
	if cfg.Bridge.Name == "" {
		cfg.Bridge.Name = "bulbd"
	}
	if cfg.Bridge.ModelID == "" {
		cfg.Bridge.ModelID = "BSB002"
	}
	if cfg.Bridge.SwVersion == "" {
		cfg.Bridge.SwVersion = "1953188020"
	}
	if cfg.Bridge.APIVersion == "" {
		cfg.Bridge.APIVersion = "1.53.0"
	}
	if cfg.Bridge.Netmask == "" {
		cfg.Bridge.Netmask = "255.255.255.0"
	}

	// HTTP defaults
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 80
	}
	if cfg.HTTP.ReplyTimeout == 0 {
		cfg.HTTP.ReplyTimeout = Duration(2 * time.Second)
	}

	// Discovery defaults
	if cfg.Discovery.SSDP.Addr == "" {
		cfg.Discovery.SSDP.Addr = ":1900"
	}
	if cfg.Discovery.SSDP.TTL == 0 {
		cfg.Discovery.SSDP.TTL = 2
	}

	// Scheduler defaults
	if cfg.Scheduler.Tick == 0 {
		cfg.Scheduler.Tick = Duration(20 * time.Millisecond)
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 64
	}
	if cfg.Scheduler.SpinAttempts == 0 {
		cfg.Scheduler.SpinAttempts = 64
	}

	// Output defaults
	if cfg.Output.Driver == "" {
		cfg.Output.Driver = DriverMemory
	}
	if cfg.Output.Channels == 0 {
		cfg.Output.Channels = cfg.channelsNeeded()
	}
	if cfg.Output.Top == 0 {
		switch cfg.Output.Driver {
		case DriverWS2811:
			cfg.Output.Top = 0xff
		default:
			cfg.Output.Top = 0xffff
		}
	}
	if cfg.Output.Sysfs.Root == "" {
		cfg.Output.Sysfs.Root = "/sys/class/pwm"
	}
	if cfg.Output.Sysfs.PeriodNs == 0 {
		cfg.Output.Sysfs.PeriodNs = 1_000_000 // 1 kHz
	}
	if cfg.Output.WS2811.ClockHz == 0 {
		cfg.Output.WS2811.ClockHz = 40_000_000
	}
	if cfg.Output.WS2811.Timing == "" {
		cfg.Output.WS2811.Timing = "neopixel"
	}
	if cfg.Output.MQTT.Topic == "" {
		cfg.Output.MQTT.Topic = "bulbd/pwm"
	}
	if cfg.Output.MQTT.ConnectTimeout == 0 {
		cfg.Output.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}

	// Light defaults
	for i := range cfg.Lights {
		l := &cfg.Lights[i]
		if l.Name == "" {
			l.Name = fmt.Sprintf("Light %d", i+1)
		}
		if l.Layout == "" {
			l.Layout = "dim"
		}
	}

	// Persistence defaults
	if cfg.Persistence.Driver == "" {
		cfg.Persistence.Driver = "sqlite"
	}
	if cfg.Persistence.Path == "" {
		cfg.Persistence.Path = "./bulbd.sqlite"
	}
	if cfg.Persistence.MinInterval == 0 {
		cfg.Persistence.MinInterval = Duration(5 * time.Second)
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// channelsNeeded is one past the highest channel any light uses.
func (cfg *Config) channelsNeeded() int {
	n := 0
	for _, l := range cfg.Lights {
		layout, err := light.ParseLayout(l.Layout)
		if err != nil {
			continue
		}
		if end := l.Channel + layout.Channels(); end > n {
			n = end
		}
	}
	return n
}

// Validate checks limits that cannot be fixed by defaults
func (cfg *Config) Validate() error {
	var errs []error
	if len(cfg.Lights) == 0 {
		errs = append(errs, errors.New("no lights configured"))
	}
	if len(cfg.Lights) > light.MaxLights {
		errs = append(errs, fmt.Errorf("%d lights configured, limit %d", len(cfg.Lights), light.MaxLights))
	}
	for i, l := range cfg.Lights {
		if _, err := light.ParseLayout(l.Layout); err != nil {
			errs = append(errs, fmt.Errorf("lights[%d]: %w", i, err))
		}
		if l.Channel < 0 {
			errs = append(errs, fmt.Errorf("lights[%d]: negative channel", i))
		}
	}
	if cfg.Output.Channels > light.MaxChannels {
		errs = append(errs, fmt.Errorf("%d output channels, limit %d", cfg.Output.Channels, light.MaxChannels))
	}
	if cfg.Output.Top <= 0 || cfg.Output.Top > 0xffff {
		errs = append(errs, fmt.Errorf("output top %d out of range", cfg.Output.Top))
	}
	switch cfg.Output.Driver {
	case DriverMemory, DriverSysfs:
	case DriverWS2811:
		if cfg.Output.WS2811.Device == "" {
			errs = append(errs, errors.New("output.ws2811.device is required"))
		}
	case DriverMQTT:
		if cfg.Output.MQTT.Broker == "" {
			errs = append(errs, errors.New("output.mqtt.broker is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown output driver %q", cfg.Output.Driver))
	}
	switch cfg.Persistence.Driver {
	case "sqlite", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown persistence driver %q", cfg.Persistence.Driver))
	}
	if cfg.Scheduler.Tick.Duration() < time.Millisecond {
		errs = append(errs, fmt.Errorf("scheduler tick %v too short", cfg.Scheduler.Tick.Duration()))
	}
	return errors.Join(errs...)
}

// LightInfos converts the light list into store identities. Ids are
// assigned 1..n in configuration order.
func (cfg *Config) LightInfos() ([]light.Info, error) {
	infos := make([]light.Info, 0, len(cfg.Lights))
	for i, l := range cfg.Lights {
		layout, err := light.ParseLayout(l.Layout)
		if err != nil {
			return nil, fmt.Errorf("lights[%d]: %w", i, err)
		}
		info := light.Info{
			ID:           i + 1,
			Name:         l.Name,
			Layout:       layout,
			FirstChannel: l.Channel,
			ModelID:      l.ModelID,
			UniqueID:     l.UniqueID,
			SwVersion:    l.SwVersion,
		}
		if info.ModelID == "" {
			info.ModelID = defaultModel(layout)
		}
		if info.SwVersion == "" {
			info.SwVersion = "1.0.0"
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func defaultModel(l light.Layout) string {
	switch l {
	case light.LayoutCCT:
		return "LTW001"
	case light.LayoutRGB, light.LayoutRGBW:
		return "LCT015"
	default:
		return "LWB010"
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
