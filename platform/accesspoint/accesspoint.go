// Package accesspoint runs the setup access point: hostapd for the radio,
// dnsmasq for DHCP, and the NAT rules that give AP clients uplink access.
//
// The orchestrator prepares the virtual interface and its gateway address
// before Start; this package owns only the daemons and kernel rules bound
// to that interface.
package accesspoint

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"sync"

	"uplink"
	"uplink/infra/nat"
	"uplink/platform/procrun"
)

// NAT installs and removes the forwarding rules for the AP subnet.
type NAT interface {
	Install(ctx context.Context, spec nat.Spec) error
	Remove(ctx context.Context) error
}

// AddressReader reports the first IPv4 address on an interface.
type AddressReader interface {
	InterfaceAddress(ctx context.Context, iface string) (netip.Addr, error)
}

type process interface {
	Start() error
	Stop(ctx context.Context) error
	Running() bool
}

// Config holds the static configuration for the AP service manager.
type Config struct {
	// RunDir receives the generated daemon configs.
	RunDir string
	// HostapdBin and DnsmasqBin default to PATH lookups.
	HostapdBin string
	DnsmasqBin string
	// NAT manages forwarding rules; nil disables NAT entirely.
	NAT NAT
	// Addresses reads interface addresses for health checks. Required.
	Addresses AddressReader
}

// Manager implements the AP service contract.
type Manager struct {
	runDir     string
	hostapdBin string
	dnsmasqBin string
	nat        NAT
	addrs      AddressReader
	newProc    func(name, binary string, args ...string) process

	mu      sync.Mutex
	hostapd process
	dnsmasq process
	current *uplink.APConfig
}

// New creates an AP service manager.
func New(cfg Config) *Manager {
	if cfg.HostapdBin == "" {
		cfg.HostapdBin = "hostapd"
	}
	if cfg.DnsmasqBin == "" {
		cfg.DnsmasqBin = "dnsmasq"
	}
	return &Manager{
		runDir:     cfg.RunDir,
		hostapdBin: cfg.HostapdBin,
		dnsmasqBin: cfg.DnsmasqBin,
		nat:        cfg.NAT,
		addrs:      cfg.Addresses,
		newProc: func(name, binary string, args ...string) process {
			return procrun.New(name, binary, args...)
		},
	}
}

// Start rollback steps, in bring-up order.
const (
	stepHostapd = iota
	stepDnsmasq
)

// Start renders fresh daemon configs and brings the stack up in order:
// hostapd, dnsmasq, NAT. On failure at any step, everything already
// started is torn down in reverse and an APStartError names the failing
// subsystem. A running AP is stopped and replaced.
func (m *Manager) Start(ctx context.Context, cfg uplink.APConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if err := m.stopLocked(ctx); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(m.runDir, 0o755); err != nil {
		return &uplink.APStartError{Subsystem: "hostapd", Err: fmt.Errorf("create run directory: %w", err)}
	}

	// hostapd.conf carries the AP passphrase.
	if err := os.WriteFile(m.hostapdConf(), []byte(renderHostapd(cfg)), 0o600); err != nil {
		return &uplink.APStartError{Subsystem: "hostapd", Err: fmt.Errorf("write config: %w", err)}
	}
	if err := os.WriteFile(m.dnsmasqConf(), []byte(renderDnsmasq(cfg)), 0o644); err != nil {
		return &uplink.APStartError{Subsystem: "dhcp", Err: fmt.Errorf("write config: %w", err)}
	}

	hostapd := m.newProc("hostapd", m.hostapdBin, m.hostapdConf())
	if err := hostapd.Start(); err != nil {
		return &uplink.APStartError{Subsystem: "hostapd", Err: err}
	}
	m.hostapd = hostapd

	dnsmasq := m.newProc("dnsmasq", m.dnsmasqBin, "--no-daemon", "--conf-file="+m.dnsmasqConf())
	if err := dnsmasq.Start(); err != nil {
		m.teardownFrom(ctx, stepHostapd)
		return &uplink.APStartError{Subsystem: "dhcp", Err: err}
	}
	m.dnsmasq = dnsmasq

	if m.nat != nil && cfg.UplinkInterface != "" {
		spec := nat.Spec{APInterface: cfg.Interface, Subnet: cfg.GatewayCIDR, Uplink: cfg.UplinkInterface}
		if err := m.nat.Install(ctx, spec); err != nil {
			// A failed install can leave some of its rules behind.
			if rmErr := m.nat.Remove(ctx); rmErr != nil {
				slog.Error("rollback: nat remove", "err", rmErr)
			}
			m.teardownFrom(ctx, stepDnsmasq)
			return &uplink.APStartError{Subsystem: "nat", Err: err}
		}
	}

	m.current = &cfg
	slog.Info("Access point started.", "ssid", cfg.SSID, "iface", cfg.Interface, "channel", cfg.Channel)
	return nil
}

// Stop removes the NAT rules this manager installed and halts dnsmasq and
// hostapd, reverse of bring-up order. Idempotent; continues through errors
// and returns the first one encountered.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var firstErr error

	if m.nat != nil {
		if err := m.nat.Remove(ctx); err != nil {
			firstErr = fmt.Errorf("nat remove: %w", err)
		}
	}
	if m.dnsmasq != nil {
		if err := m.dnsmasq.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("dnsmasq stop: %w", err)
		}
		m.dnsmasq = nil
	}
	if m.hostapd != nil {
		if err := m.hostapd.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("hostapd stop: %w", err)
		}
		m.hostapd = nil
	}

	m.current = nil
	return firstErr
}

// teardownFrom stops components in reverse from the given step (inclusive).
// Called during Start rollback. Caller must hold m.mu.
//
// Steps: 0=hostapd, 1=dnsmasq.
func (m *Manager) teardownFrom(ctx context.Context, lastSuccessful int) {
	if lastSuccessful >= stepDnsmasq && m.dnsmasq != nil {
		if err := m.dnsmasq.Stop(ctx); err != nil {
			slog.Error("rollback: dnsmasq stop", "err", err)
		}
		m.dnsmasq = nil
	}
	if lastSuccessful >= stepHostapd && m.hostapd != nil {
		if err := m.hostapd.Stop(ctx); err != nil {
			slog.Error("rollback: hostapd stop", "err", err)
		}
		m.hostapd = nil
	}
}

// Healthy reports whether both daemons are running and the AP interface
// carries the configured gateway address. Command success at start time
// proves nothing once the daemons have been up for a while.
func (m *Manager) Healthy(ctx context.Context) bool {
	m.mu.Lock()
	cfg := m.current
	hostapd, dnsmasq := m.hostapd, m.dnsmasq
	m.mu.Unlock()

	if cfg == nil || hostapd == nil || dnsmasq == nil {
		return false
	}
	if !hostapd.Running() || !dnsmasq.Running() {
		return false
	}

	addr, err := m.addrs.InterfaceAddress(ctx, cfg.Interface)
	if err != nil {
		slog.Warn("Health check could not read AP address.", "iface", cfg.Interface, "err", err)
		return false
	}
	return addr == cfg.GatewayCIDR.Addr()
}

func (m *Manager) hostapdConf() string {
	return filepath.Join(m.runDir, "hostapd.conf")
}

func (m *Manager) dnsmasqConf() string {
	return filepath.Join(m.runDir, "dnsmasq.conf")
}
