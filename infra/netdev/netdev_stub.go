//go:build !linux

package netdev

import (
	"context"
	"fmt"
	"net/netip"
	"runtime"

	"uplink"
)

// linkOps has no use off Linux; the constructor still needs the type.
type linkOps interface{}

func systemLinks() linkOps { return nil }

func errUnsupported() error {
	return fmt.Errorf("radio control not supported on %s", runtime.GOOS)
}

func (m *Manager) State(context.Context, string) (uplink.RadioInterface, error) {
	return uplink.RadioInterface{}, errUnsupported()
}

func (m *Manager) SetManaged(context.Context, string) error { return errUnsupported() }

func (m *Manager) SetAPMode(context.Context, string) error { return errUnsupported() }

func (m *Manager) CreateAPInterface(context.Context, string, string) error {
	return errUnsupported()
}

func (m *Manager) DestroyAPInterface(context.Context, string) error { return nil }

func (m *Manager) AssignStaticAddress(context.Context, string, netip.Prefix) error {
	return errUnsupported()
}

func (m *Manager) FlushAddresses(context.Context, string) error { return errUnsupported() }

func (m *Manager) InterfaceAddress(context.Context, string) (netip.Addr, error) {
	return netip.Addr{}, errUnsupported()
}

func (m *Manager) Scan(context.Context, string) ([]uplink.Network, error) {
	return nil, errUnsupported()
}
