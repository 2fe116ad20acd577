// Package orchestrator is the mode state machine for the single physical
// radio. It sequences the supplicant and access-point managers so exactly
// one mode is active, retries failed transitions within a bounded ceiling,
// and falls back to AP mode whenever a connect exhausts its attempts, so
// the device is always reachable over some network.
//
// All mode-affecting work runs on one goroutine: requests are queued FIFO
// and the drop monitor ticks on the same loop, so transitions and
// verification reads never interleave.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"uplink"
	"uplink/observe"
	"uplink/verify"
)

// RetryPolicy bounds one whole connect transition: the number of times
// the ConnectingSTA sequence is attempted and the pause between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy matches field experience: radios intermittently fail
// a single association, so one retry is usually enough and three always
// settles it.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second}

// Config carries the static parameters of the state machine.
type Config struct {
	// Interface is the physical radio.
	Interface string
	// AP describes the setup access point, including the virtual
	// interface bound to the radio.
	AP uplink.APConfig
	// Retry bounds a whole connect transition.
	Retry RetryPolicy
	// AssociationTimeout bounds one supplicant association wait.
	AssociationTimeout time.Duration
	// Verify bounds the post-association verification poll.
	Verify verify.Policy
	// MonitorInterval is the cadence of drop detection in station mode.
	MonitorInterval time.Duration
}

// Deps are the collaborators the orchestrator drives. All but Clock and
// Metrics are required.
type Deps struct {
	Interfaces  InterfaceController
	Supplicant  Supplicant
	AccessPoint AccessPoint
	DHCP        DHCPClient
	Verifier    Verifier
	Store       CredentialStore
	Clock       Clock              // defaults to the system clock
	Metrics     *observe.Collector // optional
}

type requestKind uint8

const (
	reqConnect requestKind = iota
	reqDisconnect
	reqScan
)

type result struct {
	status   uplink.ConnectivityStatus
	networks []uplink.Network
	err      error
}

type request struct {
	kind  requestKind
	cred  uplink.UplinkCredential
	ctx   context.Context // scan only: the radio read honors the caller's deadline
	reply chan result
}

// Orchestrator owns the radio's mode. It is safe for concurrent use; all
// mutation funnels through the single loop goroutine.
type Orchestrator struct {
	cfg    Config
	ifaces InterfaceController
	supp   Supplicant
	ap     AccessPoint
	dhcp   DHCPClient
	verif  Verifier
	store  CredentialStore
	clock  Clock
	m      *observe.Collector
	tracer trace.Tracer

	requests chan request

	mu            sync.Mutex
	status        uplink.ConnectivityStatus
	transitioning bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New validates deps and builds an orchestrator in ModeUninitialized.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case cfg.Interface == "":
		return nil, errors.New("orchestrator: interface must be set")
	case deps.Interfaces == nil:
		return nil, errors.New("orchestrator: interface controller is required")
	case deps.Supplicant == nil:
		return nil, errors.New("orchestrator: supplicant manager is required")
	case deps.AccessPoint == nil:
		return nil, errors.New("orchestrator: access point manager is required")
	case deps.DHCP == nil:
		return nil, errors.New("orchestrator: dhcp client is required")
	case deps.Verifier == nil:
		return nil, errors.New("orchestrator: verifier is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: credential store is required")
	}
	if err := cfg.AP.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.AssociationTimeout <= 0 {
		cfg.AssociationTimeout = 15 * time.Second
	}
	if cfg.Verify.Attempts < 1 {
		cfg.Verify = verify.DefaultPolicy
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 15 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}

	return &Orchestrator{
		cfg:      cfg,
		ifaces:   deps.Interfaces,
		supp:     deps.Supplicant,
		ap:       deps.AccessPoint,
		dhcp:     deps.DHCP,
		verif:    deps.Verifier,
		store:    deps.Store,
		clock:    deps.Clock,
		m:        deps.Metrics,
		tracer:   otel.Tracer("uplink/orchestrator"),
		requests: make(chan request, 8),
		status:   uplink.ConnectivityStatus{Mode: uplink.ModeUninitialized},
	}, nil
}

// Start runs the boot transition and launches the loop goroutine. The boot
// action depends on the store: a persisted credential means the device has
// joined a network before and should rejoin it; none means setup mode.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})

	go func() {
		defer close(o.done)
		o.run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for it to drain. The radio is left in
// whatever mode it reached: a restart of the daemon must not take a
// working uplink down.
func (o *Orchestrator) Stop() error {
	if o.cancel != nil {
		o.cancel()
		<-o.done
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context) {
	o.boot(ctx)

	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-o.requests:
			o.handle(ctx, req)
		case <-ticker.C:
			o.monitorTick(ctx)
		}
	}
}

func (o *Orchestrator) boot(ctx context.Context) {
	cred, ok, err := o.store.LoadCredential()
	if err != nil {
		slog.Error("Loading the persisted credential failed; entering setup mode.", "err", err)
		ok = false
	}

	if ok {
		slog.Info("Boot: persisted credential found, reconnecting.", "ssid", cred.SSID)
		if _, err := o.connect(ctx, cred); err != nil {
			slog.Warn("Boot reconnect failed.", "ssid", cred.SSID, "err", err)
		}
		return
	}

	slog.Info("Boot: no persisted credential, entering setup mode.")
	if _, err := o.disconnect(ctx); err != nil {
		slog.Error("Boot AP bring-up failed.", "err", err)
	}
}

func (o *Orchestrator) handle(ctx context.Context, req request) {
	var res result
	switch req.kind {
	case reqConnect:
		res.status, res.err = o.connect(ctx, req.cred)
	case reqDisconnect:
		res.status, res.err = o.disconnect(ctx)
	case reqScan:
		res.networks, res.err = o.scanNow(req.ctx)
	}
	req.reply <- res
}

// Connect queues a transition to station mode with cred and blocks until
// the transition reaches a terminal outcome or ctx expires. A transition
// already begun keeps running even if the caller gives up waiting.
func (o *Orchestrator) Connect(ctx context.Context, cred uplink.UplinkCredential) (uplink.ConnectivityStatus, error) {
	if err := cred.Validate(); err != nil {
		return o.Status(), fmt.Errorf("connect request: %w", err)
	}
	return o.submit(ctx, request{kind: reqConnect, cred: cred, reply: make(chan result, 1)})
}

// Disconnect queues the transition back to setup (AP) mode and clears the
// persisted credential, so the device stays in setup mode across reboots.
func (o *Orchestrator) Disconnect(ctx context.Context) (uplink.ConnectivityStatus, error) {
	return o.submit(ctx, request{kind: reqDisconnect, reply: make(chan result, 1)})
}

func (o *Orchestrator) submit(ctx context.Context, req request) (uplink.ConnectivityStatus, error) {
	select {
	case o.requests <- req:
	case <-ctx.Done():
		return o.Status(), ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.status, res.err
	case <-ctx.Done():
		return o.Status(), ctx.Err()
	}
}

// Scan lists visible networks on the physical radio. Rejected while a
// transition is in flight: the radio cannot scan mid-reconfiguration. The
// read itself runs on the loop goroutine, so a monitor tick that begins a
// fallback can never reconfigure the radio under a running scan.
func (o *Orchestrator) Scan(ctx context.Context) ([]uplink.Network, error) {
	if o.inTransition() {
		return nil, uplink.ErrBusy
	}
	req := request{kind: reqScan, ctx: ctx, reply: make(chan result, 1)}
	select {
	case o.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.networks, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) scanNow(ctx context.Context) ([]uplink.Network, error) {
	networks, err := o.ifaces.Scan(ctx, o.cfg.Interface)
	if err != nil {
		return nil, err
	}
	o.m.RecordScan()
	return networks, nil
}

// Status returns the current connectivity snapshot. The loop refreshes it
// on every transition and monitor tick.
func (o *Orchestrator) Status() uplink.ConnectivityStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// APHealthy reports the access-point manager's health, for /healthz.
func (o *Orchestrator) APHealthy(ctx context.Context) bool {
	return o.ap.Healthy(ctx)
}

func (o *Orchestrator) inTransition() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transitioning
}

func (o *Orchestrator) setTransitioning(v bool) {
	o.mu.Lock()
	o.transitioning = v
	o.mu.Unlock()
}

// setMode moves the snapshot through the legal transition graph and
// mirrors the mode into metrics.
func (o *Orchestrator) setMode(to uplink.Mode) {
	o.mu.Lock()
	o.status.Mode = o.status.Mode.Transition(to)
	o.mu.Unlock()
	o.m.SetMode(to)
}

func (o *Orchestrator) updateStatus(mut func(*uplink.ConnectivityStatus)) {
	o.mu.Lock()
	mut(&o.status)
	o.mu.Unlock()
}

func spanAttrs(cred uplink.UplinkCredential) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("uplink.ssid", cred.SSID))
}
