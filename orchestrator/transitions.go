package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/google/uuid"

	"uplink"
)

// connect drives the whole ConnectingSTA transition: up to
// Retry.MaxAttempts passes over the connect sequence with a constant
// backoff in between. Exhaustion lands in Failed and immediately falls
// back to AP mode, ahead of anything queued, so the device stays
// reachable.
func (o *Orchestrator) connect(ctx context.Context, cred uplink.UplinkCredential) (uplink.ConnectivityStatus, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.connect", spanAttrs(cred))
	defer span.End()

	o.setTransitioning(true)
	defer o.setTransitioning(false)

	att := o.beginAttempt(uplink.ModeStation)
	o.setMode(uplink.ModeConnecting)
	o.updateStatus(func(s *uplink.ConnectivityStatus) {
		s.SSID = cred.SSID
		s.IP = netip.Addr{}
		s.LastError = nil
	})

	var lastErr error
	for attempt := 1; attempt <= o.cfg.Retry.MaxAttempts; attempt++ {
		att.Attempts = attempt
		if attempt > 1 {
			slog.Info("Retrying connect.", "ssid", cred.SSID, "attempt", attempt, "backoff", o.cfg.Retry.Backoff)
			if err := o.clock.Sleep(ctx, o.cfg.Retry.Backoff); err != nil {
				lastErr = err
				break
			}
		}

		report, err := o.connectOnce(ctx, cred)
		if err == nil {
			if serr := o.store.SaveCredential(cred); serr != nil {
				slog.Error("Persisting the verified credential failed.", "ssid", cred.SSID, "err", serr)
			}
			o.setMode(uplink.ModeStation)
			o.updateStatus(func(s *uplink.ConnectivityStatus) {
				s.SSID = report.SSID
				s.IP = report.IP
				s.VerifiedAt = report.CheckedAt
				s.LastError = nil
			})
			o.finishAttempt(att, uplink.OutcomeSucceeded, nil)
			slog.Info("Connected.", "ssid", cred.SSID, "ip", report.IP, "attempt", attempt)
			return o.Status(), nil
		}

		lastErr = err
		slog.Warn("Connect attempt failed.", "ssid", cred.SSID, "attempt", attempt, "err", err)
		if ctx.Err() != nil {
			break
		}
	}

	reason := fmt.Errorf("connect to %q: %w", cred.SSID, errors.Join(uplink.ErrTransitionTimeout, lastErr))
	o.setMode(uplink.ModeFailed)
	o.updateStatus(func(s *uplink.ConnectivityStatus) { s.LastError = reason })
	o.finishAttempt(att, uplink.OutcomeFailed, reason)

	// Tear down whatever half-started station state the last attempt left
	// behind before the fallback reuses the radio.
	if err := o.supp.Disconnect(ctx, o.cfg.Interface); err != nil {
		slog.Warn("Supplicant teardown after failed connect.", "err", err)
	}
	o.fallbackToAP(ctx)
	return o.Status(), reason
}

// connectOnce is one pass over the station sequence. The AP stack must be
// fully gone before the radio re-enters managed mode: the kernel refuses
// the mode change while the virtual AP interface exists.
func (o *Orchestrator) connectOnce(ctx context.Context, cred uplink.UplinkCredential) (uplink.ConnectivityReport, error) {
	var zero uplink.ConnectivityReport

	if err := o.ap.Stop(ctx); err != nil {
		return zero, fmt.Errorf("stop access point: %w", err)
	}
	if err := o.ifaces.DestroyAPInterface(ctx, o.cfg.AP.Interface); err != nil {
		return zero, err
	}
	if err := o.ifaces.SetManaged(ctx, o.cfg.Interface); err != nil {
		return zero, err
	}

	res, err := o.supp.Connect(ctx, o.cfg.Interface, cred, o.cfg.AssociationTimeout)
	if err != nil {
		return zero, err
	}
	if !res.Associated {
		return zero, res.Reason
	}

	if err := o.dhcp.Acquire(ctx, o.cfg.Interface); err != nil {
		// The verifier is the ground truth for addressing; a slow lease
		// may still land within the verification window.
		slog.Warn("DHCP acquisition failed, verification will decide.", "iface", o.cfg.Interface, "err", err)
	}

	report, err := o.verif.WaitVerified(ctx, o.cfg.Interface, cred.SSID, o.cfg.Verify)
	if err != nil {
		return zero, err
	}
	return report, nil
}

// disconnect is the explicit "enter setup mode" transition. The persisted
// credential is cleared first, so a reboot lands in setup mode too instead
// of chasing the network the operator just left.
func (o *Orchestrator) disconnect(ctx context.Context) (uplink.ConnectivityStatus, error) {
	if st := o.Status(); st.Mode == uplink.ModeAP {
		return st, nil
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.enter_ap")
	defer span.End()

	o.setTransitioning(true)
	defer o.setTransitioning(false)

	att := o.beginAttempt(uplink.ModeAP)
	att.Attempts = 1

	if err := o.store.ClearCredentials(); err != nil {
		slog.Error("Clearing persisted credentials failed.", "err", err)
	}

	if err := o.enterAP(ctx); err != nil {
		o.setMode(uplink.ModeFailed)
		o.updateStatus(func(s *uplink.ConnectivityStatus) { s.LastError = err })
		o.finishAttempt(att, uplink.OutcomeFailed, err)
		return o.Status(), err
	}

	o.setMode(uplink.ModeAP)
	o.updateStatus(func(s *uplink.ConnectivityStatus) {
		s.SSID = ""
		s.IP = o.cfg.AP.GatewayCIDR.Addr()
		s.LastError = nil
	})
	o.finishAttempt(att, uplink.OutcomeSucceeded, nil)
	slog.Info("Setup mode active.", "ssid", o.cfg.AP.SSID)
	return o.Status(), nil
}

// enterAP brings up the setup access point: supplicant gone, stale station
// addressing flushed, a fresh virtual AP interface with the gateway
// address, then the daemon stack. Every step is idempotent, so re-running
// after a partial failure converges instead of erroring.
func (o *Orchestrator) enterAP(ctx context.Context) error {
	if err := o.supp.Disconnect(ctx, o.cfg.Interface); err != nil {
		return fmt.Errorf("stop supplicant: %w", err)
	}
	if err := o.ifaces.FlushAddresses(ctx, o.cfg.Interface); err != nil {
		return err
	}
	if err := o.ifaces.DestroyAPInterface(ctx, o.cfg.AP.Interface); err != nil {
		return err
	}
	if err := o.ifaces.CreateAPInterface(ctx, o.cfg.Interface, o.cfg.AP.Interface); err != nil {
		return err
	}
	if err := o.ifaces.SetAPMode(ctx, o.cfg.AP.Interface); err != nil {
		return err
	}
	if err := o.ifaces.AssignStaticAddress(ctx, o.cfg.AP.Interface, o.cfg.AP.GatewayCIDR); err != nil {
		return err
	}
	return o.ap.Start(ctx, o.cfg.AP)
}

// fallbackToAP re-enters AP mode after a failure, keeping LastError so
// the operator can read what went wrong from the setup network. A failed
// bring-up leaves the mode Failed; the monitor tick keeps retrying until
// the device is reachable again.
func (o *Orchestrator) fallbackToAP(ctx context.Context) {
	slog.Info("Falling back to setup mode.")
	if err := o.enterAP(ctx); err != nil {
		slog.Error("Fallback AP bring-up failed; will retry.", "err", err)
		return
	}
	o.setMode(uplink.ModeAP)
	o.updateStatus(func(s *uplink.ConnectivityStatus) {
		s.SSID = ""
		s.IP = o.cfg.AP.GatewayCIDR.Addr()
	})
}

// monitorTick runs on the loop goroutine between transitions. In station
// mode it detects silent drops; in Failed mode it retries the fallback;
// in AP mode it restarts an unhealthy AP stack.
func (o *Orchestrator) monitorTick(ctx context.Context) {
	switch o.Status().Mode {
	case uplink.ModeStation:
		o.checkStation(ctx)
	case uplink.ModeFailed:
		o.setTransitioning(true)
		o.fallbackToAP(ctx)
		o.setTransitioning(false)
	case uplink.ModeAP:
		if o.ap.Healthy(ctx) {
			return
		}
		slog.Warn("Access point unhealthy, restarting it.")
		o.setTransitioning(true)
		defer o.setTransitioning(false)
		if err := o.enterAP(ctx); err != nil {
			slog.Error("Access point restart failed.", "err", err)
		}
	}
}

func (o *Orchestrator) checkStation(ctx context.Context) {
	current := o.Status().SSID

	report, err := o.verif.Verify(ctx, o.cfg.Interface)
	if err == nil && report.Connected() && report.SSID == current {
		o.updateStatus(func(s *uplink.ConnectivityStatus) {
			s.IP = report.IP
			s.VerifiedAt = report.CheckedAt
		})
		return
	}
	if err != nil {
		slog.Warn("Station verification failed.", "iface", o.cfg.Interface, "err", err)
	}

	o.m.RecordDrop()
	slog.Warn("Connectivity drop detected.", "ssid", current)

	cred, ok, err := o.store.LoadCredential()
	if err != nil {
		slog.Error("Loading the persisted credential failed.", "err", err)
	}
	if ok {
		if _, cerr := o.connect(ctx, cred); cerr != nil {
			slog.Warn("Auto-reconnect failed.", "ssid", cred.SSID, "err", cerr)
		}
		return
	}

	// Station mode with no stored credential means the store was cleared
	// under us. Nothing to rejoin; back to setup mode.
	o.setTransitioning(true)
	defer o.setTransitioning(false)
	o.setMode(uplink.ModeFailed)
	o.updateStatus(func(s *uplink.ConnectivityStatus) {
		s.LastError = fmt.Errorf("connectivity to %q lost and no credential persisted", current)
	})
	o.fallbackToAP(ctx)
}

func (o *Orchestrator) beginAttempt(target uplink.Mode) *uplink.TransitionAttempt {
	return &uplink.TransitionAttempt{
		ID:        uuid.NewString(),
		Target:    target,
		StartedAt: o.clock.Now(),
		Outcome:   uplink.OutcomePending,
	}
}

// finishAttempt journals the finished transition and records its metrics.
// Journal failures are logged, never surfaced: diagnostics must not fail
// a transition that already succeeded on the radio.
func (o *Orchestrator) finishAttempt(att *uplink.TransitionAttempt, outcome uplink.TransitionOutcome, reason error) {
	att.FinishedAt = o.clock.Now()
	att.Outcome = outcome
	att.Reason = reason

	if err := o.store.AppendTransition(*att); err != nil {
		slog.Error("Journaling the transition failed.", "id", att.ID, "err", err)
	}
	o.m.RecordTransition(att.Target, outcome, att.FinishedAt.Sub(att.StartedAt))
}
