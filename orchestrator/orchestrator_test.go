package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"uplink"
	"uplink/verify"
)

// recorder collects call names across fakes so tests can assert ordering
// between components.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

type fakeIfaces struct {
	rec          *recorder
	scanNetworks []uplink.Network
	scanErr      error
	scanBlock    chan struct{} // when set, Scan waits for it to close
}

func (f *fakeIfaces) State(context.Context, string) (uplink.RadioInterface, error) {
	return uplink.RadioInterface{}, nil
}

func (f *fakeIfaces) SetManaged(_ context.Context, iface string) error {
	f.rec.add("ifaces.setmanaged " + iface)
	return nil
}

func (f *fakeIfaces) SetAPMode(_ context.Context, iface string) error {
	f.rec.add("ifaces.setapmode " + iface)
	return nil
}

func (f *fakeIfaces) CreateAPInterface(_ context.Context, phy, virt string) error {
	f.rec.add("ifaces.createap " + virt)
	return nil
}

func (f *fakeIfaces) DestroyAPInterface(_ context.Context, virt string) error {
	f.rec.add("ifaces.destroyap " + virt)
	return nil
}

func (f *fakeIfaces) AssignStaticAddress(_ context.Context, iface string, cidr netip.Prefix) error {
	f.rec.add(fmt.Sprintf("ifaces.assign %s %s", iface, cidr))
	return nil
}

func (f *fakeIfaces) FlushAddresses(_ context.Context, iface string) error {
	f.rec.add("ifaces.flush " + iface)
	return nil
}

func (f *fakeIfaces) Scan(ctx context.Context, _ string) ([]uplink.Network, error) {
	f.rec.add("ifaces.scan")
	if f.scanBlock != nil {
		select {
		case <-f.scanBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.scanNetworks, f.scanErr
}

type fakeSupplicant struct {
	rec *recorder

	mu       sync.Mutex
	result   uplink.AssociationResult
	err      error
	connects int
	block    chan struct{} // when set, Connect waits for it to close
}

func (f *fakeSupplicant) Connect(ctx context.Context, iface string, cred uplink.UplinkCredential, _ time.Duration) (uplink.AssociationResult, error) {
	f.rec.add("supplicant.connect " + cred.SSID)
	f.mu.Lock()
	f.connects++
	res, err, block := f.result, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return uplink.AssociationResult{}, ctx.Err()
		}
	}
	return res, err
}

func (f *fakeSupplicant) Disconnect(_ context.Context, iface string) error {
	f.rec.add("supplicant.disconnect " + iface)
	return nil
}

func (f *fakeSupplicant) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeSupplicant) setResult(res uplink.AssociationResult, err error) {
	f.mu.Lock()
	f.result, f.err = res, err
	f.mu.Unlock()
}

type fakeAP struct {
	rec *recorder

	mu        sync.Mutex
	startErrs []error // consumed per Start; exhausted means success
	starts    []uplink.APConfig
	stops     int
	healthy   bool
	running   bool
}

func (f *fakeAP) Start(_ context.Context, cfg uplink.APConfig) error {
	f.rec.add("ap.start")
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			return err
		}
	}
	f.starts = append(f.starts, cfg)
	f.running = true
	f.healthy = true
	return nil
}

func (f *fakeAP) Stop(context.Context) error {
	f.rec.add("ap.stop")
	f.mu.Lock()
	f.stops++
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeAP) Healthy(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running && f.healthy
}

func (f *fakeAP) startConfigs() []uplink.APConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.starts)
}

type fakeDHCP struct {
	rec *recorder
}

func (f *fakeDHCP) Acquire(_ context.Context, iface string) error {
	f.rec.add("dhcp.acquire " + iface)
	return nil
}

type fakeVerifier struct {
	mu          sync.Mutex
	ip          netip.Addr
	verifyQueue []uplink.ConnectivityReport // Verify pops; empty means connected
	waitErr     error
	currentSSID string
}

func (f *fakeVerifier) Verify(context.Context, string) (uplink.ConnectivityReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.verifyQueue) > 0 {
		report := f.verifyQueue[0]
		f.verifyQueue = f.verifyQueue[1:]
		return report, nil
	}
	return uplink.ConnectivityReport{
		Associated: true,
		SSID:       f.currentSSID,
		IP:         f.ip,
		CheckedAt:  time.Now(),
	}, nil
}

func (f *fakeVerifier) WaitVerified(_ context.Context, _ string, ssid string, _ verify.Policy) (uplink.ConnectivityReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return uplink.ConnectivityReport{CheckedAt: time.Now()}, f.waitErr
	}
	f.currentSSID = ssid
	return uplink.ConnectivityReport{
		Associated: true,
		SSID:       ssid,
		IP:         f.ip,
		CheckedAt:  time.Now(),
	}, nil
}

func (f *fakeVerifier) pushVerify(reports ...uplink.ConnectivityReport) {
	f.mu.Lock()
	f.verifyQueue = append(f.verifyQueue, reports...)
	f.mu.Unlock()
}

type fakeStore struct {
	mu      sync.Mutex
	cred    uplink.UplinkCredential
	has     bool
	journal []uplink.TransitionAttempt
}

func (f *fakeStore) SaveCredential(cred uplink.UplinkCredential) error {
	f.mu.Lock()
	f.cred, f.has = cred, true
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) LoadCredential() (uplink.UplinkCredential, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred, f.has, nil
}

func (f *fakeStore) ClearCredentials() error {
	f.mu.Lock()
	f.cred, f.has = uplink.UplinkCredential{}, false
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) AppendTransition(att uplink.TransitionAttempt) error {
	f.mu.Lock()
	f.journal = append(f.journal, att)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) stored() (uplink.UplinkCredential, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred, f.has
}

func (f *fakeStore) journaled() []uplink.TransitionAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.journal)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sleeps)
}

type harness struct {
	orch   *Orchestrator
	ifaces *fakeIfaces
	supp   *fakeSupplicant
	ap     *fakeAP
	verif  *fakeVerifier
	store  *fakeStore
	clock  *fakeClock
	rec    *recorder
}

func testAPConfig(t *testing.T) uplink.APConfig {
	t.Helper()
	return uplink.APConfig{
		SSID:            "uplink-setup",
		Channel:         6,
		Interface:       "uap0",
		DHCPRangeStart:  netip.MustParseAddr("192.168.4.50"),
		DHCPRangeEnd:    netip.MustParseAddr("192.168.4.150"),
		GatewayCIDR:     netip.MustParsePrefix("192.168.4.1/24"),
		UplinkInterface: "eth0",
	}
}

func newHarness(t *testing.T, monitorInterval time.Duration) *harness {
	t.Helper()

	rec := &recorder{}
	h := &harness{
		ifaces: &fakeIfaces{rec: rec},
		supp:   &fakeSupplicant{rec: rec, result: uplink.AssociationResult{Associated: true}},
		ap:     &fakeAP{rec: rec},
		verif:  &fakeVerifier{ip: netip.MustParseAddr("192.168.1.23")},
		store:  &fakeStore{},
		clock:  newFakeClock(),
		rec:    rec,
	}

	cfg := Config{
		Interface:          "wlan0",
		AP:                 testAPConfig(t),
		Retry:              RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second},
		AssociationTimeout: 15 * time.Second,
		Verify:             verify.Policy{Interval: time.Millisecond, Attempts: 1},
		MonitorInterval:    monitorInterval,
	}
	orch, err := New(cfg, Deps{
		Interfaces:  h.ifaces,
		Supplicant:  h.supp,
		AccessPoint: h.ap,
		DHCP:        &fakeDHCP{rec: rec},
		Verifier:    h.verif,
		Store:       h.store,
		Clock:       h.clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := h.orch.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func indexOf(calls []string, name string) int {
	return slices.Index(calls, name)
}

func TestBootWithoutCredentialEntersAPMode(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.start(t)

	waitFor(t, "ap mode", func() bool { return h.orch.Status().Mode == uplink.ModeAP })

	starts := h.ap.startConfigs()
	if len(starts) != 1 {
		t.Fatalf("ap starts = %d, want 1", len(starts))
	}
	cfg := starts[0]
	if got, want := cfg.DHCPRangeStart.String(), "192.168.4.50"; got != want {
		t.Errorf("dhcp range start = %s, want %s", got, want)
	}
	if got, want := cfg.DHCPRangeEnd.String(), "192.168.4.150"; got != want {
		t.Errorf("dhcp range end = %s, want %s", got, want)
	}

	if got, want := h.orch.Status().IP.String(), "192.168.4.1"; got != want {
		t.Errorf("status ip = %s, want %s", got, want)
	}

	calls := h.rec.snapshot()
	create := indexOf(calls, "ifaces.createap uap0")
	assign := indexOf(calls, "ifaces.assign uap0 192.168.4.1/24")
	start := indexOf(calls, "ap.start")
	if create < 0 || assign < 0 || start < 0 {
		t.Fatalf("missing bring-up calls in %v", calls)
	}
	if !(create < assign && assign < start) {
		t.Errorf("bring-up order wrong: create=%d assign=%d start=%d", create, assign, start)
	}
}

func TestBootWithCredentialReachesStation(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.store.cred = uplink.UplinkCredential{SSID: "HomeNet", Passphrase: "secret123"}
	h.store.has = true
	h.start(t)

	waitFor(t, "station mode", func() bool { return h.orch.Status().Mode == uplink.ModeStation })

	st := h.orch.Status()
	if st.SSID != "HomeNet" {
		t.Errorf("ssid = %q, want %q", st.SSID, "HomeNet")
	}
	if st.LastError != nil {
		t.Errorf("last error = %v, want nil", st.LastError)
	}
}

func TestConnectReachesStationAndPersists(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.start(t)
	waitFor(t, "ap mode", func() bool { return h.orch.Status().Mode == uplink.ModeAP })

	cred := uplink.UplinkCredential{SSID: "HomeNet", Passphrase: "secret123"}
	st, err := h.orch.Connect(context.Background(), cred)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if st.Mode != uplink.ModeStation {
		t.Fatalf("mode = %s, want station", st.Mode)
	}
	if st.SSID != "HomeNet" {
		t.Errorf("ssid = %q, want %q", st.SSID, "HomeNet")
	}
	if got, want := st.IP.String(), "192.168.1.23"; got != want {
		t.Errorf("ip = %s, want %s", got, want)
	}

	stored, ok := h.store.stored()
	if !ok || stored != cred {
		t.Errorf("stored credential = %+v ok=%v, want %+v", stored, ok, cred)
	}

	// The AP stack must be fully gone before the supplicant starts: at
	// most one of the two owns the radio at any time.
	calls := h.rec.snapshot()
	stop := indexOf(calls, "ap.stop")
	destroy := indexOf(calls, "ifaces.destroyap uap0")
	managed := indexOf(calls, "ifaces.setmanaged wlan0")
	connect := indexOf(calls, "supplicant.connect HomeNet")
	if stop < 0 || destroy < 0 || managed < 0 || connect < 0 {
		t.Fatalf("missing transition calls in %v", calls)
	}
	if !(stop < destroy && destroy < managed && managed < connect) {
		t.Errorf("teardown order wrong: stop=%d destroy=%d managed=%d connect=%d",
			stop, destroy, managed, connect)
	}
}

func TestConnectInvalidCredentialRejected(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.start(t)
	waitFor(t, "ap mode", func() bool { return h.orch.Status().Mode == uplink.ModeAP })

	_, err := h.orch.Connect(context.Background(), uplink.UplinkCredential{SSID: "x", Passphrase: "short"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := h.supp.connectCount(); got != 0 {
		t.Errorf("supplicant connects = %d, want 0", got)
	}
}

func TestConnectRetryCeilingThenFallback(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.start(t)
	waitFor(t, "ap mode", func() bool { return h.orch.Status().Mode == uplink.ModeAP })

	h.supp.setResult(uplink.AssociationResult{
		Associated: false,
		Reason:     fmt.Errorf("association to %q: %w", "Nonexistent", uplink.ErrAssociationTimeout),
	}, nil)

	st, err := h.orch.Connect(context.Background(), uplink.UplinkCredential{SSID: "Nonexistent", Passphrase: "whatever8"})
	if err == nil {
		t.Fatal("expected connect to fail")
	}
	if !errors.Is(err, uplink.ErrTransitionTimeout) {
		t.Errorf("error = %v, want ErrTransitionTimeout", err)
	}
	if !errors.Is(err, uplink.ErrAssociationTimeout) {
		t.Errorf("error = %v, want wrapped ErrAssociationTimeout", err)
	}

	if got := h.supp.connectCount(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	sleeps := h.clock.slept()
	if len(sleeps) != 2 {
		t.Fatalf("backoff sleeps = %v, want two", sleeps)
	}
	for _, d := range sleeps {
		if d < 2*time.Second {
			t.Errorf("backoff = %v, want >= 2s", d)
		}
	}

	// Exhaustion falls back to setup mode, keeping the failure visible.
	if st.Mode != uplink.ModeAP {
		t.Errorf("mode = %s, want ap after fallback", st.Mode)
	}
	if !errors.Is(st.LastError, uplink.ErrAssociationTimeout) {
		t.Errorf("last error = %v, want ErrAssociationTimeout", st.LastError)
	}

	// Nothing unverified lands in the store.
	if _, ok := h.store.stored(); ok {
		t.Error("failed connect must not persist a credential")
	}

	journal := h.store.journaled()
	var failed *uplink.TransitionAttempt
	for i := range journal {
		if journal[i].Outcome == uplink.OutcomeFailed {
			failed = &journal[i]
		}
	}
	if failed == nil {
		t.Fatal("no failed attempt journaled")
	}
	if failed.Attempts != 3 {
		t.Errorf("journaled attempts = %d, want 3", failed.Attempts)
	}
}

func TestFallbackRetriesOnMonitorTick(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	// First two AP bring-ups fail: boot lands in Failed, a later tick
	// succeeds.
	h.ap.startErrs = []error{errors.New("hostapd refused"), errors.New("hostapd refused")}
	h.start(t)

	waitFor(t, "eventual ap mode", func() bool { return h.orch.Status().Mode == uplink.ModeAP })
}

func TestDropDetectionReconnects(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.store.cred = uplink.UplinkCredential{SSID: "HomeNet", Passphrase: "secret123"}
	h.store.has = true
	h.start(t)

	waitFor(t, "station mode", func() bool { return h.orch.Status().Mode == uplink.ModeStation })
	before := h.supp.connectCount()

	// One disassociated reading on the next tick; the orchestrator must
	// reconnect with the persisted credential, unprompted.
	h.verif.pushVerify(uplink.ConnectivityReport{Associated: false, CheckedAt: time.Now()})

	waitFor(t, "auto-reconnect", func() bool { return h.supp.connectCount() > before })
	waitFor(t, "station mode again", func() bool {
		st := h.orch.Status()
		return st.Mode == uplink.ModeStation && st.SSID == "HomeNet"
	})
}

func TestDisconnectClearsCredentialAndEntersAP(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.store.cred = uplink.UplinkCredential{SSID: "HomeNet", Passphrase: "secret123"}
	h.store.has = true
	h.start(t)
	waitFor(t, "station mode", func() bool { return h.orch.Status().Mode == uplink.ModeStation })

	st, err := h.orch.Disconnect(context.Background())
	if err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if st.Mode != uplink.ModeAP {
		t.Errorf("mode = %s, want ap", st.Mode)
	}
	if _, ok := h.store.stored(); ok {
		t.Error("disconnect must clear the persisted credential")
	}

	// Supplicant teardown precedes AP bring-up on the shared radio.
	calls := h.rec.snapshot()
	lastDisc := -1
	for i, c := range calls {
		if c == "supplicant.disconnect wlan0" {
			lastDisc = i
		}
	}
	lastStart := -1
	for i, c := range calls {
		if c == "ap.start" {
			lastStart = i
		}
	}
	if lastDisc < 0 || lastStart < 0 || lastDisc > lastStart {
		t.Errorf("supplicant.disconnect at %d not before final ap.start at %d", lastDisc, lastStart)
	}
}

func TestDisconnectAlreadyInAPModeIsNoOp(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.start(t)
	waitFor(t, "ap mode", func() bool { return h.orch.Status().Mode == uplink.ModeAP })

	startsBefore := len(h.ap.startConfigs())
	st, err := h.orch.Disconnect(context.Background())
	if err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if st.Mode != uplink.ModeAP {
		t.Errorf("mode = %s, want ap", st.Mode)
	}
	if got := len(h.ap.startConfigs()); got != startsBefore {
		t.Errorf("ap starts = %d, want %d", got, startsBefore)
	}
}

func TestScanRejectedMidTransition(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.ifaces.scanNetworks = []uplink.Network{{SSID: "HomeNet", SignalStrength: 80}}
	h.start(t)
	waitFor(t, "ap mode", func() bool { return h.orch.Status().Mode == uplink.ModeAP })

	block := make(chan struct{})
	h.supp.mu.Lock()
	h.supp.block = block
	h.supp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.orch.Connect(context.Background(), uplink.UplinkCredential{SSID: "HomeNet", Passphrase: "secret123"})
	}()

	waitFor(t, "transition in flight", h.orch.inTransition)
	if _, err := h.orch.Scan(context.Background()); !errors.Is(err, uplink.ErrBusy) {
		t.Errorf("scan error = %v, want ErrBusy", err)
	}

	close(block)
	<-done

	networks, err := h.orch.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan after transition: %v", err)
	}
	if len(networks) != 1 || networks[0].SSID != "HomeNet" {
		t.Errorf("networks = %+v, want HomeNet", networks)
	}
}

func TestScanHoldsTheLoop(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.ifaces.scanNetworks = []uplink.Network{{SSID: "HomeNet", SignalStrength: 80}}
	h.ifaces.scanBlock = make(chan struct{})
	h.start(t)
	waitFor(t, "ap mode", func() bool { return h.orch.Status().Mode == uplink.ModeAP })

	scanDone := make(chan []uplink.Network, 1)
	go func() {
		networks, _ := h.orch.Scan(context.Background())
		scanDone <- networks
	}()
	waitFor(t, "scan in flight", func() bool {
		return indexOf(h.rec.snapshot(), "ifaces.scan") >= 0
	})

	connDone := make(chan struct{})
	go func() {
		defer close(connDone)
		_, _ = h.orch.Connect(context.Background(), uplink.UplinkCredential{SSID: "HomeNet", Passphrase: "secret123"})
	}()

	// The connect is queued behind the scan; nothing may touch the radio
	// until the scan returns.
	time.Sleep(20 * time.Millisecond)
	if got := h.supp.connectCount(); got != 0 {
		t.Fatalf("supplicant connects during scan = %d, want 0", got)
	}

	close(h.ifaces.scanBlock)
	networks := <-scanDone
	<-connDone

	if len(networks) != 1 || networks[0].SSID != "HomeNet" {
		t.Errorf("networks = %+v, want HomeNet", networks)
	}
	calls := h.rec.snapshot()
	scan := indexOf(calls, "ifaces.scan")
	connect := indexOf(calls, "supplicant.connect HomeNet")
	if scan < 0 || connect < 0 || scan > connect {
		t.Errorf("ifaces.scan at %d not before supplicant.connect at %d", scan, connect)
	}
}
