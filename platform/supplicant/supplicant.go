// Package supplicant manages wpa_supplicant: one generated configuration
// artifact and at most one live process per interface.
//
// Connect is synchronous. Launching the process proves nothing about the
// network, so it blocks until the kernel reports association to the
// requested SSID or the timeout lapses.
package supplicant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"uplink"
	"uplink/infra/wifiinfo"
	"uplink/platform/procrun"
)

// Link reads kernel association state; satisfied by wifiinfo.Client.
type Link interface {
	Association(ctx context.Context, iface string) (wifiinfo.Association, error)
}

type process interface {
	Start() error
	Stop(ctx context.Context) error
	Running() bool
}

// Config holds the static configuration for the supplicant manager.
type Config struct {
	// Binary is the wpa_supplicant path; resolved via PATH when empty.
	Binary string
	// RunDir receives config files and control sockets.
	RunDir string
	// Poll is the association check interval; defaults to 500ms.
	Poll time.Duration
	// Link reads association state. Required.
	Link Link
}

// Manager implements the supplicant contract.
type Manager struct {
	binary  string
	runDir  string
	poll    time.Duration
	link    Link
	newProc func(name, binary string, args ...string) process

	mu    sync.Mutex
	procs map[string]process
}

// New creates a supplicant manager.
func New(cfg Config) *Manager {
	if cfg.Binary == "" {
		cfg.Binary = "wpa_supplicant"
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 500 * time.Millisecond
	}
	return &Manager{
		binary: cfg.Binary,
		runDir: cfg.RunDir,
		poll:   cfg.Poll,
		link:   cfg.Link,
		newProc: func(name, binary string, args ...string) process {
			return procrun.New(name, binary, args...)
		},
		procs: make(map[string]process),
	}
}

// Connect writes the credential config for iface, launches wpa_supplicant,
// and blocks until the kernel reports association to the requested SSID or
// timeout elapses. Any live process for iface is torn down first, so at
// most one supplicant per interface ever runs.
//
// A timeout is reported in the result, not as an error: the caller's retry
// policy decides what happens next.
func (m *Manager) Connect(ctx context.Context, iface string, cred uplink.UplinkCredential, timeout time.Duration) (uplink.AssociationResult, error) {
	if err := m.Disconnect(ctx, iface); err != nil {
		return uplink.AssociationResult{}, err
	}

	sockDir := m.socketDir(iface)
	if err := os.MkdirAll(sockDir, 0o755); err != nil {
		return uplink.AssociationResult{}, fmt.Errorf("create control socket directory: %w", err)
	}
	conf := m.confPath(iface)
	if err := os.WriteFile(conf, []byte(renderConfig(sockDir, cred)), 0o600); err != nil {
		return uplink.AssociationResult{}, fmt.Errorf("write supplicant config: %w", err)
	}

	proc := m.newProc("wpa_supplicant:"+iface, m.binary, "-i", iface, "-c", conf)
	if err := proc.Start(); err != nil {
		return uplink.AssociationResult{}, fmt.Errorf("%w on %s: %v", uplink.ErrSupplicantLaunch, iface, err)
	}
	m.mu.Lock()
	m.procs[iface] = proc
	m.mu.Unlock()

	slog.Info("Supplicant started, waiting for association.",
		"iface", iface, "ssid", cred.SSID, "timeout", timeout)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := m.waitAssociated(waitCtx, iface, cred.SSID); err != nil {
		if ctx.Err() != nil {
			return uplink.AssociationResult{}, ctx.Err()
		}
		// A flailing supplicant would fight the next attempt for the
		// radio; tear this one down before reporting.
		if derr := m.Disconnect(ctx, iface); derr != nil {
			slog.Warn("Cleanup after failed association failed.", "iface", iface, "err", derr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("association to %q on %s: %w", cred.SSID, iface, uplink.ErrAssociationTimeout)
		}
		return uplink.AssociationResult{Reason: err}, nil
	}

	slog.Info("Association established.", "iface", iface, "ssid", cred.SSID)
	return uplink.AssociationResult{Associated: true}, nil
}

// Disconnect stops any live supplicant for iface and removes its control
// socket and configuration artifact. Idempotent.
func (m *Manager) Disconnect(ctx context.Context, iface string) error {
	m.mu.Lock()
	proc := m.procs[iface]
	delete(m.procs, iface)
	m.mu.Unlock()

	if proc != nil {
		if err := proc.Stop(ctx); err != nil {
			return fmt.Errorf("stop supplicant on %s: %w", iface, err)
		}
	}

	if err := os.Remove(m.confPath(iface)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove supplicant config: %w", err)
	}
	if err := os.RemoveAll(m.socketDir(iface)); err != nil {
		return fmt.Errorf("remove control socket directory: %w", err)
	}
	return nil
}

// Running reports whether a supplicant process is live for iface.
func (m *Manager) Running(iface string) bool {
	m.mu.Lock()
	proc := m.procs[iface]
	m.mu.Unlock()
	return proc != nil && proc.Running()
}

func (m *Manager) waitAssociated(ctx context.Context, iface, ssid string) error {
	check := func() error {
		assoc, err := m.link.Association(ctx, iface)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !assoc.Associated || assoc.SSID != ssid {
			return fmt.Errorf("%s not associated to %q yet", iface, ssid)
		}
		return nil
	}
	return backoff.Retry(check, backoff.WithContext(backoff.NewConstantBackOff(m.poll), ctx))
}

func (m *Manager) confPath(iface string) string {
	return filepath.Join(m.runDir, "wpa-"+iface+".conf")
}

func (m *Manager) socketDir(iface string) string {
	return filepath.Join(m.runDir, "wpa", iface)
}

// renderConfig produces the wpa_supplicant configuration for one
// credential. The file carries a plaintext passphrase; callers write it
// with mode 0600. The SSID is emitted in hex form: it is caller-supplied
// text, and hex cannot terminate the directive or the network block no
// matter what bytes it holds.
func renderConfig(ctrlDir string, cred uplink.UplinkCredential) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ctrl_interface=%s\n", ctrlDir)
	b.WriteString("\nnetwork={\n")
	fmt.Fprintf(&b, "\tssid=%x\n", cred.SSID)
	fmt.Fprintf(&b, "\tpsk=\"%s\"\n", cred.Passphrase)
	b.WriteString("\tscan_ssid=1\n")
	if cred.Priority != 0 {
		fmt.Fprintf(&b, "\tpriority=%d\n", cred.Priority)
	}
	b.WriteString("}\n")
	return b.String()
}
