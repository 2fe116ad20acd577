package accesspoint

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"sync"
	"testing"

	"uplink"
	"uplink/infra/nat"
)

type fakeProc struct {
	name     string
	startErr error

	mu      sync.Mutex
	running bool
	stops   int
}

func (p *fakeProc) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.running = true
	return nil
}

func (p *fakeProc) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.stops++
	return nil
}

func (p *fakeProc) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

type fakeNAT struct {
	installErr error

	mu       sync.Mutex
	installs []nat.Spec
	removes  int
}

func (n *fakeNAT) Install(_ context.Context, spec nat.Spec) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.installErr != nil {
		return n.installErr
	}
	n.installs = append(n.installs, spec)
	return nil
}

func (n *fakeNAT) Remove(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removes++
	return nil
}

type fakeAddrs struct {
	addr netip.Addr
	err  error
}

func (a *fakeAddrs) InterfaceAddress(context.Context, string) (netip.Addr, error) {
	return a.addr, a.err
}

func testAPConfig() uplink.APConfig {
	return uplink.APConfig{
		SSID:            "uplink-setup",
		Passphrase:      "changeme123",
		Channel:         6,
		Interface:       "uap0",
		DHCPRangeStart:  netip.MustParseAddr("192.168.4.50"),
		DHCPRangeEnd:    netip.MustParseAddr("192.168.4.150"),
		GatewayCIDR:     netip.MustParsePrefix("192.168.4.1/24"),
		UplinkInterface: "eth0",
	}
}

type testEnv struct {
	m     *Manager
	nat   *fakeNAT
	addrs *fakeAddrs
	procs map[string][]*fakeProc
	fail  map[string]error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		nat:   &fakeNAT{},
		addrs: &fakeAddrs{addr: netip.MustParseAddr("192.168.4.1")},
		procs: make(map[string][]*fakeProc),
		fail:  make(map[string]error),
	}
	env.m = New(Config{
		RunDir:    t.TempDir(),
		NAT:       env.nat,
		Addresses: env.addrs,
	})
	env.m.newProc = func(name, _ string, _ ...string) process {
		p := &fakeProc{name: name, startErr: env.fail[name]}
		env.procs[name] = append(env.procs[name], p)
		return p
	}
	return env
}

func (e *testEnv) proc(name string) *fakeProc {
	list := e.procs[name]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func TestStartBringsUpStack(t *testing.T) {
	env := newTestEnv(t)
	cfg := testAPConfig()

	if err := env.m.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if p := env.proc("hostapd"); p == nil || !p.Running() {
		t.Error("hostapd not running")
	}
	if p := env.proc("dnsmasq"); p == nil || !p.Running() {
		t.Error("dnsmasq not running")
	}
	if len(env.nat.installs) != 1 {
		t.Fatalf("NAT installed %d times, want 1", len(env.nat.installs))
	}
	spec := env.nat.installs[0]
	if spec.APInterface != "uap0" || spec.Uplink != "eth0" {
		t.Errorf("NAT spec = %+v", spec)
	}

	info, err := os.Stat(env.m.hostapdConf())
	if err != nil {
		t.Fatalf("stat hostapd.conf: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("hostapd.conf permissions = %o, want 600", perm)
	}

	if !env.m.Healthy(context.Background()) {
		t.Error("Healthy = false after successful Start")
	}
}

func TestStartHostapdFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fail["hostapd"] = errors.New("invalid channel")

	err := env.m.Start(context.Background(), testAPConfig())

	var apErr *uplink.APStartError
	if !errors.As(err, &apErr) {
		t.Fatalf("Start error = %v, want APStartError", err)
	}
	if apErr.Subsystem != "hostapd" {
		t.Errorf("Subsystem = %q, want hostapd", apErr.Subsystem)
	}
	if env.proc("dnsmasq") != nil {
		t.Error("dnsmasq was started despite hostapd failure")
	}
	if len(env.nat.installs) != 0 {
		t.Error("NAT rules installed despite hostapd failure")
	}
}

func TestStartDnsmasqFailureRollsBackHostapd(t *testing.T) {
	env := newTestEnv(t)
	env.fail["dnsmasq"] = errors.New("address in use")

	err := env.m.Start(context.Background(), testAPConfig())

	var apErr *uplink.APStartError
	if !errors.As(err, &apErr) {
		t.Fatalf("Start error = %v, want APStartError", err)
	}
	if apErr.Subsystem != "dhcp" {
		t.Errorf("Subsystem = %q, want dhcp", apErr.Subsystem)
	}
	if p := env.proc("hostapd"); p == nil || p.Running() {
		t.Error("hostapd left running after dnsmasq failure")
	}
}

func TestStartNATFailureRollsBackDaemons(t *testing.T) {
	env := newTestEnv(t)
	env.nat.installErr = errors.New("iptables missing")

	err := env.m.Start(context.Background(), testAPConfig())

	var apErr *uplink.APStartError
	if !errors.As(err, &apErr) {
		t.Fatalf("Start error = %v, want APStartError", err)
	}
	if apErr.Subsystem != "nat" {
		t.Errorf("Subsystem = %q, want nat", apErr.Subsystem)
	}
	if p := env.proc("hostapd"); p == nil || p.Running() {
		t.Error("hostapd left running after NAT failure")
	}
	if p := env.proc("dnsmasq"); p == nil || p.Running() {
		t.Error("dnsmasq left running after NAT failure")
	}
	if env.m.Healthy(context.Background()) {
		t.Error("Healthy = true after failed Start")
	}
	if env.nat.removes != 1 {
		t.Errorf("nat removes = %d, want 1; a failed install can leave rules behind", env.nat.removes)
	}
}

func TestStopIdempotent(t *testing.T) {
	env := newTestEnv(t)

	if err := env.m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}

	if err := env.m.Start(context.Background(), testAPConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := env.m.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if env.nat.removes == 0 {
		t.Error("NAT rules never removed")
	}
	if p := env.proc("hostapd"); p.Running() {
		t.Error("hostapd still running after Stop")
	}
	if env.m.Healthy(context.Background()) {
		t.Error("Healthy = true after Stop")
	}
}

func TestRestartReplacesStack(t *testing.T) {
	env := newTestEnv(t)

	if err := env.m.Start(context.Background(), testAPConfig()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	first := env.proc("hostapd")

	if err := env.m.Start(context.Background(), testAPConfig()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first.Running() {
		t.Error("first hostapd still running after restart")
	}
	if second := env.proc("hostapd"); second == first || !second.Running() {
		t.Error("restart did not launch a fresh hostapd")
	}
}

func TestHealthyChecksDaemonsAndAddress(t *testing.T) {
	env := newTestEnv(t)
	if err := env.m.Start(context.Background(), testAPConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !env.m.Healthy(context.Background()) {
		t.Fatal("Healthy = false with both daemons up and address set")
	}

	// Wrong address on the AP interface.
	env.addrs.addr = netip.MustParseAddr("10.0.0.1")
	if env.m.Healthy(context.Background()) {
		t.Error("Healthy = true with wrong gateway address")
	}
	env.addrs.addr = netip.MustParseAddr("192.168.4.1")

	// A daemon died underneath us.
	env.proc("dnsmasq").Stop(context.Background())
	if env.m.Healthy(context.Background()) {
		t.Error("Healthy = true with dnsmasq dead")
	}
}
