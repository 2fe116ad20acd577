package httpapi

import (
	"errors"
	"net/http"

	"uplink"
)

// Error codes carried in the envelope. Stable: the setup UI branches on
// them.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeBusy               = "BUSY"
	CodeRadioUnavailable   = "RADIO_UNAVAILABLE"
	CodeAssociationTimeout = "ASSOCIATION_TIMEOUT"
	CodeSupplicantFailure  = "SUPPLICANT_FAILURE"
	CodeAPStartFailure     = "AP_START_FAILURE"
	CodeTransitionTimeout  = "TRANSITION_TIMEOUT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeInternal           = "INTERNAL"
)

// errorStatus maps orchestrator errors onto HTTP status and envelope
// code. Association timeout is checked before the transition ceiling:
// the joined exhaustion error carries both, and the more specific reason
// is the one the operator can act on.
func errorStatus(err error) (int, string) {
	var apErr *uplink.APStartError
	switch {
	case errors.Is(err, uplink.ErrBusy):
		return http.StatusConflict, CodeBusy
	case errors.Is(err, uplink.ErrRadioUnavailable):
		return http.StatusServiceUnavailable, CodeRadioUnavailable
	case errors.Is(err, uplink.ErrAssociationTimeout):
		return http.StatusBadGateway, CodeAssociationTimeout
	case errors.Is(err, uplink.ErrSupplicantLaunch):
		return http.StatusBadGateway, CodeSupplicantFailure
	case errors.As(err, &apErr):
		return http.StatusBadGateway, CodeAPStartFailure
	case errors.Is(err, uplink.ErrTransitionTimeout):
		return http.StatusBadGateway, CodeTransitionTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
