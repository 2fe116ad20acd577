package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interface != "wlan0" {
		t.Errorf("Interface = %q, want wlan0", cfg.Interface)
	}
	if cfg.AP.SSID != "uplink-setup" {
		t.Errorf("AP.SSID = %q, want uplink-setup", cfg.AP.SSID)
	}
	if got := cfg.Retry.ConnectBackoff.Std(); got != 2*time.Second {
		t.Errorf("ConnectBackoff = %v, want 2s", got)
	}
	if cfg.Verify.Attempts != 15 {
		t.Errorf("Verify.Attempts = %d, want 15", cfg.Verify.Attempts)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
interface: wlp2s0
ap:
  ssid: field-unit-7
  channel: 11
retry:
  connect_backoff: 5s
monitor:
  interval: 30s
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interface != "wlp2s0" {
		t.Errorf("Interface = %q, want wlp2s0", cfg.Interface)
	}
	if cfg.AP.Channel != 11 {
		t.Errorf("AP.Channel = %d, want 11", cfg.AP.Channel)
	}
	if got := cfg.Retry.ConnectBackoff.Std(); got != 5*time.Second {
		t.Errorf("ConnectBackoff = %v, want 5s", got)
	}
	if got := cfg.Monitor.Interval.Std(); got != 30*time.Second {
		t.Errorf("Monitor.Interval = %v, want 30s", got)
	}
	// Untouched sections keep their defaults.
	if cfg.AP.GatewayCIDR != "192.168.4.1/24" {
		t.Errorf("GatewayCIDR = %q, want default", cfg.AP.GatewayCIDR)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("monitor:\n  interval: fifteen\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted an unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(*Config) {},
		},
		{
			name:    "virtual interface collides with physical",
			mutate:  func(c *Config) { c.AP.VirtualInterface = c.Interface },
			wantErr: "must differ",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Retry.ConnectAttempts = 0 },
			wantErr: "connect_attempts",
		},
		{
			name:    "auth without secret",
			mutate:  func(c *Config) { c.HTTP.Auth.Enabled = true },
			wantErr: "auth.secret",
		},
		{
			name:    "dhcp range outside subnet",
			mutate:  func(c *Config) { c.AP.DHCPRangeStart = "10.0.0.50" },
			wantErr: "dhcp range",
		},
		{
			name:    "unknown tracing exporter",
			mutate:  func(c *Config) { c.Tracing.Exporter = "jaeger" },
			wantErr: "not supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate passed, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestAccessPoint(t *testing.T) {
	cfg := Default()
	ap, err := cfg.AccessPoint()
	if err != nil {
		t.Fatalf("AccessPoint: %v", err)
	}
	if ap.Interface != "uap0" {
		t.Errorf("Interface = %q, want uap0", ap.Interface)
	}
	if got := ap.GatewayCIDR.Addr().String(); got != "192.168.4.1" {
		t.Errorf("gateway = %s, want 192.168.4.1", got)
	}
	if got := ap.DHCPRangeStart.String(); got != "192.168.4.50" {
		t.Errorf("range start = %s, want 192.168.4.50", got)
	}
}
