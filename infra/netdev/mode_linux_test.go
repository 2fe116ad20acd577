//go:build linux

package netdev

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/vishvananda/netlink"
)

type fakeLinks struct {
	links map[string]netlink.Link
	calls []string
}

func (f *fakeLinks) ByName(name string) (netlink.Link, error) {
	l, ok := f.links[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, errLinkMissing)
	}
	return l, nil
}

func (f *fakeLinks) SetUp(l netlink.Link) error {
	f.calls = append(f.calls, "up "+l.Attrs().Name)
	l.Attrs().Flags |= net.FlagUp
	return nil
}

func (f *fakeLinks) SetDown(l netlink.Link) error {
	f.calls = append(f.calls, "down "+l.Attrs().Name)
	l.Attrs().Flags &^= net.FlagUp
	return nil
}

func (f *fakeLinks) AddrAdd(l netlink.Link, addr *netlink.Addr) error {
	f.calls = append(f.calls, "addradd "+l.Attrs().Name+" "+addr.IPNet.String())
	return nil
}

func (f *fakeLinks) AddrDel(l netlink.Link, addr *netlink.Addr) error {
	f.calls = append(f.calls, "addrdel "+l.Attrs().Name)
	return nil
}

func (f *fakeLinks) AddrList(netlink.Link, int) ([]netlink.Addr, error) {
	return nil, nil
}

func upLink(name string) netlink.Link {
	return &netlink.GenericLink{LinkAttrs: netlink.LinkAttrs{Name: name, Flags: net.FlagUp}}
}

const infoManaged = "Interface wlan0\n\ttype managed\n\twiphy 0\n"
const infoAP = "Interface wlan0\n\ttype AP\n\twiphy 0\n"

func TestSetAPModeSwitchesType(t *testing.T) {
	run := &scriptedRunner{outputs: []scriptedOutput{
		{out: []byte(infoManaged)}, // iw info during State
		{},                         // iw set type __ap
	}}
	nl := &fakeLinks{links: map[string]netlink.Link{"wlan0": upLink("wlan0")}}
	m := &Manager{iw: "iw", run: run, nl: nl}

	if err := m.SetAPMode(context.Background(), "wlan0"); err != nil {
		t.Fatalf("SetAPMode: %v", err)
	}

	if want := []string{"down wlan0", "up wlan0"}; strings.Join(nl.calls, ",") != strings.Join(want, ",") {
		t.Errorf("link calls = %v, want %v", nl.calls, want)
	}
	last := run.calls[len(run.calls)-1]
	if strings.Join(last, " ") != "iw dev wlan0 set type __ap" {
		t.Errorf("final iw call = %v", last)
	}
}

func TestSetAPModeAlreadySetIsNoOp(t *testing.T) {
	run := &scriptedRunner{outputs: []scriptedOutput{
		{out: []byte(infoAP)},
	}}
	nl := &fakeLinks{links: map[string]netlink.Link{"wlan0": upLink("wlan0")}}
	m := &Manager{iw: "iw", run: run, nl: nl}

	if err := m.SetAPMode(context.Background(), "wlan0"); err != nil {
		t.Fatalf("SetAPMode: %v", err)
	}

	// The interface is already an up AP: no down/type/up cycle, which
	// would kick every associated client.
	if len(nl.calls) != 0 {
		t.Errorf("link calls = %v, want none", nl.calls)
	}
	for _, call := range run.calls {
		if strings.Contains(strings.Join(call, " "), "set type") {
			t.Errorf("mode reapplied: %v", call)
		}
	}
}

func TestSetManagedFromAPCycles(t *testing.T) {
	run := &scriptedRunner{outputs: []scriptedOutput{
		{out: []byte(infoAP)},
		{},
	}}
	nl := &fakeLinks{links: map[string]netlink.Link{"wlan0": upLink("wlan0")}}
	m := &Manager{iw: "iw", run: run, nl: nl}

	if err := m.SetManaged(context.Background(), "wlan0"); err != nil {
		t.Fatalf("SetManaged: %v", err)
	}
	last := run.calls[len(run.calls)-1]
	if strings.Join(last, " ") != "iw dev wlan0 set type managed" {
		t.Errorf("final iw call = %v", last)
	}
}
