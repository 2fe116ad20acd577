package uplink

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions callers branch on with errors.Is.
var (
	// ErrRadioUnavailable: the expected physical interface is missing.
	ErrRadioUnavailable = errors.New("physical radio interface not present")

	// ErrInterfaceBusy: a virtual AP interface already exists; the caller
	// must destroy it before creating another.
	ErrInterfaceBusy = errors.New("virtual access point interface already exists")

	// ErrSupplicantLaunch: the authentication process could not be started.
	ErrSupplicantLaunch = errors.New("supplicant process failed to launch")

	// ErrAssociationTimeout: link-layer association was not observed in
	// time. Not fatal; the orchestrator retries within its ceiling.
	ErrAssociationTimeout = errors.New("association not confirmed before timeout")

	// ErrTransitionTimeout: the bounded-retry ceiling for a whole transition
	// was exhausted.
	ErrTransitionTimeout = errors.New("transition attempts exhausted")

	// ErrBusy: a transition is in progress and the requested operation
	// cannot run beside it.
	ErrBusy = errors.New("transition in progress")
)

// InterfaceError reports a failed kernel-level operation on a named
// interface, including the interface disappearing mid-operation.
type InterfaceError struct {
	Op    string
	Iface string
	Err   error
}

func (e *InterfaceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Iface, e.Err)
}

func (e *InterfaceError) Unwrap() error { return e.Err }

// APStartError reports which access-point subsystem failed to come up.
type APStartError struct {
	Subsystem string // "hostapd", "dhcp" or "nat"
	Err       error
}

func (e *APStartError) Error() string {
	return fmt.Sprintf("start access point %s: %v", e.Subsystem, e.Err)
}

func (e *APStartError) Unwrap() error { return e.Err }
