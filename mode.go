package uplink

import "uplink/internal/check"

// Mode is the orchestrator's externally visible state.
type Mode uint8

const (
	ModeUninitialized Mode = iota
	ModeAP
	ModeConnecting
	ModeStation
	ModeFailed
)

func (m Mode) String() string {
	switch m {
	case ModeUninitialized:
		return "uninitialized"
	case ModeAP:
		return "ap"
	case ModeConnecting:
		return "connecting"
	case ModeStation:
		return "station"
	case ModeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transition validates a mode change against the legal graph and returns
// the new mode. Illegal transitions keep the current mode.
func (m Mode) Transition(to Mode) Mode {
	ok := false
	switch m {
	case ModeUninitialized:
		ok = to == ModeConnecting || to == ModeAP || to == ModeFailed
	case ModeAP:
		ok = to == ModeConnecting || to == ModeFailed
	case ModeConnecting:
		ok = to == ModeStation || to == ModeFailed
	case ModeStation:
		ok = to == ModeConnecting || to == ModeAP || to == ModeFailed
	case ModeFailed:
		ok = to == ModeConnecting || to == ModeAP
	}
	check.Assertf(ok, "mode transition: %s -> %s", m, to)
	if !ok {
		return m
	}
	return to
}

// ParseMode maps the names produced by Mode.String back to Modes.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "uninitialized":
		return ModeUninitialized, true
	case "ap":
		return ModeAP, true
	case "connecting":
		return ModeConnecting, true
	case "station":
		return ModeStation, true
	case "failed":
		return ModeFailed, true
	default:
		return ModeUninitialized, false
	}
}

// IfaceMode is the kernel-level wireless mode of an interface.
type IfaceMode uint8

const (
	IfaceModeUnknown IfaceMode = iota
	IfaceModeManaged
	IfaceModeAP
)

func (m IfaceMode) String() string {
	switch m {
	case IfaceModeManaged:
		return "managed"
	case IfaceModeAP:
		return "ap"
	default:
		return "unknown"
	}
}

// RadioInterface is the state of the physical radio resource.
// There is exactly one per device; only the orchestrator mutates it.
type RadioInterface struct {
	Name      string
	Mode      IfaceMode
	Up        bool
	VirtualAP string // AP-mode virtual interface bound to this radio, when present
}
