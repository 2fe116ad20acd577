package uplink

import (
	"net/netip"
	"time"
)

// ConnectivityStatus is a point-in-time snapshot of the device's uplink
// state. Derived on demand; never independently mutated.
type ConnectivityStatus struct {
	Mode       Mode
	SSID       string
	IP         netip.Addr
	VerifiedAt time.Time
	LastError  error
}

// ConnectivityReport is the Verifier's single-shot measurement of one
// interface: link-layer association plus IP presence.
type ConnectivityReport struct {
	Associated bool
	SSID       string
	IP         netip.Addr
	CheckedAt  time.Time
}

// Connected reports whether the interface is both associated and addressed.
func (r ConnectivityReport) Connected() bool {
	return r.Associated && r.IP.IsValid()
}

// AssociationResult is the outcome of one supplicant connect call.
// Reason is set when Associated is false.
type AssociationResult struct {
	Associated bool
	Reason     error
}

// TransitionOutcome is the terminal disposition of a transition attempt.
type TransitionOutcome uint8

const (
	OutcomePending TransitionOutcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o TransitionOutcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TransitionAttempt records one state-machine step. Ephemeral in process;
// a copy lands in the journal once the outcome is terminal.
type TransitionAttempt struct {
	ID         string
	Target     Mode
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    TransitionOutcome
	Reason     error
}
