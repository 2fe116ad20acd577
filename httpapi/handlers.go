package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"uplink"
	"uplink/internal/buildinfo"
)

// statusPayload is the wire shape of ConnectivityStatus.
type statusPayload struct {
	Mode       string `json:"mode"`
	SSID       string `json:"ssid,omitempty"`
	IP         string `json:"ip,omitempty"`
	VerifiedAt string `json:"verifiedAt,omitempty"`
	LastError  string `json:"lastError,omitempty"`
}

func toStatusPayload(st uplink.ConnectivityStatus) statusPayload {
	out := statusPayload{Mode: st.Mode.String(), SSID: st.SSID}
	if st.IP.IsValid() {
		out.IP = st.IP.String()
	}
	if !st.VerifiedAt.IsZero() {
		out.VerifiedAt = st.VerifiedAt.UTC().Format(time.RFC3339)
	}
	if st.LastError != nil {
		out.LastError = st.LastError.Error()
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, toStatusPayload(s.orch.Status()))
}

type networkPayload struct {
	SSID           string `json:"ssid"`
	SignalStrength int    `json:"signalStrength"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	networks, err := s.orch.Scan(r.Context())
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	out := make([]networkPayload, 0, len(networks))
	for _, n := range networks {
		out = append(out, networkPayload{SSID: n.SSID, SignalStrength: n.SignalStrength})
	}
	writeSuccess(w, map[string]any{"networks": out})
}

type connectRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// handleConnect blocks until the transition reaches its terminal outcome;
// the response carries the final status either way. The server's write
// timeout is sized to outlast the retry ceiling.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStrict[connectRequest](r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	cred := uplink.UplinkCredential{SSID: req.SSID, Passphrase: req.Password}
	if err := cred.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	st, err := s.orch.Connect(r.Context(), cred)
	if err != nil {
		status, code := errorStatus(err)
		writeJSON(w, status, Response{
			Result:  "error",
			Code:    code,
			Message: err.Error(),
			Data:    toStatusPayload(st),
		})
		return
	}
	writeSuccess(w, toStatusPayload(st))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Disconnect(r.Context())
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeSuccess(w, toStatusPayload(st))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.orch.Status()

	health := map[string]any{
		"status":  "ok",
		"mode":    st.Mode.String(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"version": buildinfo.Version,
	}
	if st.Mode == uplink.ModeAP {
		health["apHealthy"] = s.orch.APHealthy(r.Context())
	}
	if s.opts.Clock != nil {
		clock := s.opts.Clock.Status()
		health["ntp"] = map[string]any{
			"phase":  clock.Phase.String(),
			"offset": clock.Offset.String(),
		}
	} else {
		health["ntp"] = map[string]any{"phase": "disabled"}
	}

	writeSuccess(w, health)
}

// handleConfig serves the running configuration with secrets redacted.
// The YAML round trip turns the config struct into plain maps so the
// envelope can carry it as JSON.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	raw, err := yaml.Marshal(s.opts.Config.Redacted())
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "render config")
		return
	}
	var out map[string]any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "render config")
		return
	}
	writeSuccess(w, out)
}

type eventPayload struct {
	ID         string `json:"id"`
	Target     string `json:"target"`
	Attempts   int    `json:"attempts"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	attempts, err := s.opts.Journal.RecentTransitions(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	out := make([]eventPayload, 0, len(attempts))
	for _, att := range attempts {
		event := eventPayload{
			ID:         att.ID,
			Target:     att.Target.String(),
			Attempts:   att.Attempts,
			StartedAt:  att.StartedAt.UTC().Format(time.RFC3339),
			FinishedAt: att.FinishedAt.UTC().Format(time.RFC3339),
			Outcome:    att.Outcome.String(),
		}
		if att.Reason != nil {
			event.Reason = att.Reason.Error()
		}
		out = append(out, event)
	}
	writeSuccess(w, map[string]any{"transitions": out})
}

// decodeStrict rejects unknown fields and trailing garbage, so a typo in
// the setup UI fails loudly instead of silently connecting to nothing.
func decodeStrict[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode request: %w", err)
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return out, errors.New("decode request: trailing data")
	}
	return out, nil
}
