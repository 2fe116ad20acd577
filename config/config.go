// Package config loads the daemon configuration.
//
// Config is YAML at /etc/uplinkd/config.yaml by default. A missing file is
// not an error: defaults describe a factory-fresh device that boots straight
// into setup mode on wlan0.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"uplink"
)

// Duration wraps time.Duration so YAML can carry values like "2s" or "15m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full daemon configuration.
type Config struct {
	// Interface is the physical radio the orchestrator owns.
	Interface string `yaml:"interface"`

	AP       APSection       `yaml:"ap"`
	Retry    RetrySection    `yaml:"retry"`
	Verify   VerifySection   `yaml:"verify"`
	Monitor  MonitorSection  `yaml:"monitor"`
	HTTP     HTTPSection     `yaml:"http"`
	Paths    PathsSection    `yaml:"paths"`
	Binaries BinariesSection `yaml:"binaries"`
	Log      LogSection      `yaml:"log"`
	NTP      NTPSection      `yaml:"ntp"`
	Tracing  TracingSection  `yaml:"tracing"`
}

// APSection configures the setup access point.
type APSection struct {
	VirtualInterface string `yaml:"virtual_interface"`
	SSID             string `yaml:"ssid"`
	Passphrase       string `yaml:"passphrase"` // empty runs an open network
	Channel          int    `yaml:"channel"`
	GatewayCIDR      string `yaml:"gateway_cidr"`
	DHCPRangeStart   string `yaml:"dhcp_range_start"`
	DHCPRangeEnd     string `yaml:"dhcp_range_end"`
	UplinkInterface  string `yaml:"uplink_interface"` // NAT egress; empty disables NAT
}

// RetrySection bounds a whole connect transition.
type RetrySection struct {
	ConnectAttempts    int      `yaml:"connect_attempts"`
	ConnectBackoff     Duration `yaml:"connect_backoff"`
	AssociationTimeout Duration `yaml:"association_timeout"`
}

// VerifySection bounds the post-association verification poll.
type VerifySection struct {
	Interval Duration `yaml:"interval"`
	Attempts int      `yaml:"attempts"`
}

// MonitorSection controls drop detection while in station mode.
type MonitorSection struct {
	Interval Duration `yaml:"interval"`
}

// HTTPSection configures the control API listener.
type HTTPSection struct {
	Listen       string      `yaml:"listen"`
	ReadTimeout  Duration    `yaml:"read_timeout"`
	WriteTimeout Duration    `yaml:"write_timeout"`
	IdleTimeout  Duration    `yaml:"idle_timeout"`
	Metrics      bool        `yaml:"metrics"`
	Auth         AuthSection `yaml:"auth"`
}

// AuthSection enables bearer-token auth on mutating endpoints.
type AuthSection struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
}

// PathsSection locates persistent and runtime state.
type PathsSection struct {
	StateDir string `yaml:"state_dir"` // credential store + journal
	RunDir   string `yaml:"run_dir"`   // generated daemon configs, control sockets
}

// BinariesSection overrides tool paths; defaults resolve via PATH.
type BinariesSection struct {
	IW            string `yaml:"iw"`
	WPASupplicant string `yaml:"wpa_supplicant"`
	Hostapd       string `yaml:"hostapd"`
	Dnsmasq       string `yaml:"dnsmasq"`
	DHCPClient    string `yaml:"dhcp_client"`
}

// LogSection configures slog output and the optional rotating file sink.
type LogSection struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// NTPSection configures the clock-offset checker.
type NTPSection struct {
	Enabled   bool     `yaml:"enabled"`
	Pool      string   `yaml:"pool"`
	Interval  Duration `yaml:"interval"`
	MaxOffset Duration `yaml:"max_offset"`
}

// TracingSection configures the OpenTelemetry trace pipeline.
type TracingSection struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"` // stdout | otlp
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration of a factory-fresh device.
func Default() *Config {
	return &Config{
		Interface: "wlan0",
		AP: APSection{
			VirtualInterface: "uap0",
			SSID:             "uplink-setup",
			Channel:          6,
			GatewayCIDR:      "192.168.4.1/24",
			DHCPRangeStart:   "192.168.4.50",
			DHCPRangeEnd:     "192.168.4.150",
			UplinkInterface:  "eth0",
		},
		Retry: RetrySection{
			ConnectAttempts:    3,
			ConnectBackoff:     Duration(2 * time.Second),
			AssociationTimeout: Duration(15 * time.Second),
		},
		Verify: VerifySection{
			Interval: Duration(time.Second),
			Attempts: 15,
		},
		Monitor: MonitorSection{
			Interval: Duration(15 * time.Second),
		},
		HTTP: HTTPSection{
			Listen:      ":9090",
			ReadTimeout: Duration(15 * time.Second),
			// Connect blocks until the retry ceiling resolves; the write
			// window must outlast the worst case (~3 attempts x ~35s).
			WriteTimeout: Duration(3 * time.Minute),
			IdleTimeout:  Duration(time.Minute),
			Metrics:      true,
		},
		Paths: PathsSection{
			StateDir: "/var/lib/uplinkd",
			RunDir:   "/run/uplinkd",
		},
		Binaries: BinariesSection{
			IW:            "iw",
			WPASupplicant: "wpa_supplicant",
			Hostapd:       "hostapd",
			Dnsmasq:       "dnsmasq",
			DHCPClient:    "udhcpc",
		},
		Log: LogSection{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		NTP: NTPSection{
			Pool:      "pool.ntp.org",
			Interval:  Duration(time.Minute),
			MaxOffset: Duration(500 * time.Millisecond),
		},
		Tracing: TracingSection{
			ServiceName: "uplinkd",
			Exporter:    "stdout",
			SampleRatio: 1.0,
		},
	}
}

// Load reads the config file. A missing file returns Default() (not an
// error); a present file overrides defaults field by field.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency. Called by Load; exposed for
// callers that build a Config in code.
func (c *Config) Validate() error {
	if c.Interface == "" {
		return errors.New("interface must be set")
	}
	if c.AP.VirtualInterface == "" {
		return errors.New("ap.virtual_interface must be set")
	}
	if c.AP.VirtualInterface == c.Interface {
		return errors.New("ap.virtual_interface must differ from the physical interface")
	}
	if _, err := c.AccessPoint(); err != nil {
		return err
	}
	if c.Retry.ConnectAttempts < 1 {
		return errors.New("retry.connect_attempts must be at least 1")
	}
	if c.Retry.AssociationTimeout.Std() <= 0 {
		return errors.New("retry.association_timeout must be positive")
	}
	if c.Verify.Attempts < 1 {
		return errors.New("verify.attempts must be at least 1")
	}
	if c.Verify.Interval.Std() <= 0 {
		return errors.New("verify.interval must be positive")
	}
	if c.Monitor.Interval.Std() <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	if c.HTTP.Listen == "" {
		return errors.New("http.listen must be set")
	}
	if c.HTTP.Auth.Enabled && c.HTTP.Auth.Secret == "" {
		return errors.New("http.auth.secret must be set when auth is enabled")
	}
	if c.NTP.Enabled && c.NTP.Pool == "" {
		return errors.New("ntp.pool must be set when ntp is enabled")
	}
	switch c.Tracing.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter %q not supported", c.Tracing.Exporter)
	}
	return nil
}

// Redacted returns a copy safe to show over the control API: secrets are
// blanked, structure and everything else preserved.
func (c *Config) Redacted() *Config {
	out := *c
	if out.AP.Passphrase != "" {
		out.AP.Passphrase = "REDACTED"
	}
	if out.HTTP.Auth.Secret != "" {
		out.HTTP.Auth.Secret = "REDACTED"
	}
	return &out
}

// AccessPoint resolves the AP section into the typed config the AP
// Service Manager consumes.
func (c *Config) AccessPoint() (uplink.APConfig, error) {
	gw, err := netip.ParsePrefix(c.AP.GatewayCIDR)
	if err != nil {
		return uplink.APConfig{}, fmt.Errorf("parse ap.gateway_cidr: %w", err)
	}
	start, err := netip.ParseAddr(c.AP.DHCPRangeStart)
	if err != nil {
		return uplink.APConfig{}, fmt.Errorf("parse ap.dhcp_range_start: %w", err)
	}
	end, err := netip.ParseAddr(c.AP.DHCPRangeEnd)
	if err != nil {
		return uplink.APConfig{}, fmt.Errorf("parse ap.dhcp_range_end: %w", err)
	}

	ap := uplink.APConfig{
		SSID:            c.AP.SSID,
		Passphrase:      c.AP.Passphrase,
		Channel:         c.AP.Channel,
		Interface:       c.AP.VirtualInterface,
		DHCPRangeStart:  start,
		DHCPRangeEnd:    end,
		GatewayCIDR:     gw,
		UplinkInterface: c.AP.UplinkInterface,
	}
	if err := ap.Validate(); err != nil {
		return uplink.APConfig{}, err
	}
	return ap, nil
}
