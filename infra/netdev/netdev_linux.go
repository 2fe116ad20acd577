//go:build linux

package netdev

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os/exec"
	"strings"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"uplink"
)

// linkOps is the slice of netlink the manager drives; a seam for tests.
// ByName reports a missing link as errLinkMissing so callers need no
// knowledge of netlink's error types.
type linkOps interface {
	ByName(name string) (netlink.Link, error)
	SetUp(link netlink.Link) error
	SetDown(link netlink.Link) error
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
}

var errLinkMissing = errors.New("link not found")

type sysLinks struct{}

func systemLinks() linkOps { return sysLinks{} }

func (sysLinks) ByName(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil, fmt.Errorf("%q: %w", name, errLinkMissing)
		}
		return nil, err
	}
	return link, nil
}

func (sysLinks) SetUp(link netlink.Link) error   { return netlink.LinkSetUp(link) }
func (sysLinks) SetDown(link netlink.Link) error { return netlink.LinkSetDown(link) }

func (sysLinks) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrAdd(link, addr)
}

func (sysLinks) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrDel(link, addr)
}

func (sysLinks) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}

// State reports the kernel's current view of iface.
func (m *Manager) State(ctx context.Context, iface string) (uplink.RadioInterface, error) {
	link, err := m.nl.ByName(iface)
	if err != nil {
		if errors.Is(err, errLinkMissing) {
			return uplink.RadioInterface{}, fmt.Errorf("interface %q: %w", iface, uplink.ErrRadioUnavailable)
		}
		return uplink.RadioInterface{}, &uplink.InterfaceError{Op: "inspect", Iface: iface, Err: err}
	}

	state := uplink.RadioInterface{
		Name: iface,
		Up:   link.Attrs().Flags&unix.IFF_UP != 0,
	}

	out, err := m.run.Output(ctx, m.iw, "dev", iface, "info")
	if err != nil {
		return state, &uplink.InterfaceError{Op: "inspect mode", Iface: iface, Err: iwError(err)}
	}
	state.Mode = parseInfoMode(out)
	return state, nil
}

// SetManaged places iface in client (station) mode.
func (m *Manager) SetManaged(ctx context.Context, iface string) error {
	return m.setMode(ctx, iface, uplink.IfaceModeManaged)
}

// SetAPMode places iface in access-point mode.
func (m *Manager) SetAPMode(ctx context.Context, iface string) error {
	return m.setMode(ctx, iface, uplink.IfaceModeAP)
}

// setMode brings the link down, switches the wireless type, and brings it
// back up. An interface already in the requested mode and up is left alone.
func (m *Manager) setMode(ctx context.Context, iface string, mode uplink.IfaceMode) error {
	current, err := m.State(ctx, iface)
	if err != nil {
		return err
	}
	if current.Mode == mode && current.Up {
		return nil
	}

	link, err := m.nl.ByName(iface)
	if err != nil {
		return &uplink.InterfaceError{Op: "find", Iface: iface, Err: err}
	}
	if err := m.nl.SetDown(link); err != nil {
		return &uplink.InterfaceError{Op: "set down", Iface: iface, Err: err}
	}

	iwType := "managed"
	if mode == uplink.IfaceModeAP {
		iwType = "__ap"
	}
	if _, err := m.run.Output(ctx, m.iw, "dev", iface, "set", "type", iwType); err != nil {
		return &uplink.InterfaceError{Op: "set type " + iwType, Iface: iface, Err: iwError(err)}
	}

	if err := m.nl.SetUp(link); err != nil {
		return &uplink.InterfaceError{Op: "set up", Iface: iface, Err: err}
	}
	return nil
}

// CreateAPInterface binds a new AP-mode virtual interface to the physical
// radio. A leftover virtual interface must be destroyed first; creation on
// top of one fails so the caller never adopts stale daemon state.
func (m *Manager) CreateAPInterface(ctx context.Context, phy, name string) error {
	if _, err := m.nl.ByName(phy); err != nil {
		if errors.Is(err, errLinkMissing) {
			return fmt.Errorf("physical interface %q: %w", phy, uplink.ErrRadioUnavailable)
		}
		return &uplink.InterfaceError{Op: "find", Iface: phy, Err: err}
	}
	if _, err := m.nl.ByName(name); err == nil {
		return fmt.Errorf("virtual interface %q exists: %w", name, uplink.ErrInterfaceBusy)
	}

	if _, err := m.run.Output(ctx, m.iw, "dev", phy, "interface", "add", name, "type", "__ap"); err != nil {
		if isBusy(err) {
			return fmt.Errorf("add virtual interface %q: %w", name, uplink.ErrInterfaceBusy)
		}
		return &uplink.InterfaceError{Op: "add virtual interface", Iface: phy, Err: iwError(err)}
	}
	return nil
}

// DestroyAPInterface removes the virtual interface. Absence is not an error.
func (m *Manager) DestroyAPInterface(ctx context.Context, name string) error {
	if _, err := m.nl.ByName(name); err != nil {
		if errors.Is(err, errLinkMissing) {
			return nil
		}
		return &uplink.InterfaceError{Op: "find", Iface: name, Err: err}
	}
	if _, err := m.run.Output(ctx, m.iw, "dev", name, "del"); err != nil {
		return &uplink.InterfaceError{Op: "delete virtual interface", Iface: name, Err: iwError(err)}
	}
	return nil
}

// AssignStaticAddress flushes whatever addresses iface carries, assigns
// cidr, and makes sure the link is up. Only the AP-mode virtual interface
// is addressed this way; station mode takes its address from DHCP.
func (m *Manager) AssignStaticAddress(ctx context.Context, iface string, cidr netip.Prefix) error {
	if err := m.FlushAddresses(ctx, iface); err != nil {
		return err
	}

	link, err := m.nl.ByName(iface)
	if err != nil {
		return &uplink.InterfaceError{Op: "find", Iface: iface, Err: err}
	}

	addr := &netlink.Addr{IPNet: ptrIPNet(prefixToIPNet(cidr))}
	if err := m.nl.AddrAdd(link, addr); err != nil && !errors.Is(err, unix.EEXIST) {
		return &uplink.InterfaceError{Op: "assign address", Iface: iface, Err: err}
	}

	if link.Attrs().Flags&unix.IFF_UP == 0 {
		if err := m.nl.SetUp(link); err != nil {
			return &uplink.InterfaceError{Op: "set up", Iface: iface, Err: err}
		}
	}
	return nil
}

// FlushAddresses removes every address from iface. Used when leaving
// station mode so a stale DHCP lease never masquerades as connectivity.
func (m *Manager) FlushAddresses(_ context.Context, iface string) error {
	link, err := m.nl.ByName(iface)
	if err != nil {
		return &uplink.InterfaceError{Op: "find", Iface: iface, Err: err}
	}

	addrs, err := m.nl.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return &uplink.InterfaceError{Op: "list addresses", Iface: iface, Err: err}
	}
	for _, addr := range addrs {
		if addr.IPNet == nil {
			continue
		}
		if err := m.nl.AddrDel(link, &addr); err != nil && !errors.Is(err, unix.EADDRNOTAVAIL) {
			return &uplink.InterfaceError{Op: "flush addresses", Iface: iface, Err: err}
		}
	}
	return nil
}

// InterfaceAddress returns the first global unicast IPv4 address on iface,
// or the zero Addr when none is assigned.
func (m *Manager) InterfaceAddress(_ context.Context, iface string) (netip.Addr, error) {
	link, err := m.nl.ByName(iface)
	if err != nil {
		if errors.Is(err, errLinkMissing) {
			return netip.Addr{}, fmt.Errorf("interface %q: %w", iface, uplink.ErrRadioUnavailable)
		}
		return netip.Addr{}, &uplink.InterfaceError{Op: "find", Iface: iface, Err: err}
	}
	addrs, err := m.nl.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return netip.Addr{}, &uplink.InterfaceError{Op: "list addresses", Iface: iface, Err: err}
	}
	for _, addr := range addrs {
		if addr.IPNet == nil {
			continue
		}
		pref, err := ipNetToPrefix(*addr.IPNet)
		if err != nil {
			continue
		}
		if a := pref.Addr(); a.IsGlobalUnicast() {
			return a, nil
		}
	}
	return netip.Addr{}, nil
}

// Scan triggers an active scan on iface and parses the visible networks.
// Radios coming out of a mode change report EBUSY for a moment; one retry
// after a second of settling covers that.
func (m *Manager) Scan(ctx context.Context, iface string) ([]uplink.Network, error) {
	out, err := m.run.Output(ctx, m.iw, "dev", iface, "scan")
	if err != nil && isBusy(err) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
		out, err = m.run.Output(ctx, m.iw, "dev", iface, "scan")
	}
	if err != nil {
		return nil, &uplink.InterfaceError{Op: "scan", Iface: iface, Err: iwError(err)}
	}
	return parseScanOutput(out), nil
}

// iwError surfaces iw's stderr, which carries the reason the exit code hides.
func iwError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return err
}

func isBusy(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && strings.Contains(string(exitErr.Stderr), "Device or resource busy")
}

func ptrIPNet(n net.IPNet) *net.IPNet { return &n }

func prefixToIPNet(pref netip.Prefix) net.IPNet {
	bits := 32
	if pref.Addr().Is6() {
		bits = 128
	}
	return net.IPNet{IP: pref.Addr().AsSlice(), Mask: net.CIDRMask(pref.Bits(), bits)}
}

func ipNetToPrefix(n net.IPNet) (netip.Prefix, error) {
	a, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, fmt.Errorf("invalid IP %v", n.IP)
	}
	one, _ := n.Mask.Size()
	return netip.PrefixFrom(a.Unmap(), one), nil
}
