// Package httpapi is the control surface the setup UI talks to. It is a
// thin client of the orchestrator: request validation and JSON shapes
// live here, every mode decision lives there.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"uplink"
	"uplink/config"
	"uplink/health/ntp"
)

// Orchestrator is the control API's view of the mode state machine.
type Orchestrator interface {
	Status() uplink.ConnectivityStatus
	Scan(ctx context.Context) ([]uplink.Network, error)
	Connect(ctx context.Context, cred uplink.UplinkCredential) (uplink.ConnectivityStatus, error)
	Disconnect(ctx context.Context) (uplink.ConnectivityStatus, error)
	APHealthy(ctx context.Context) bool
}

// Journal reads the transition history for diagnostics.
type Journal interface {
	RecentTransitions(limit int) ([]uplink.TransitionAttempt, error)
}

// ClockHealth reports the NTP checker's latest measurement.
type ClockHealth interface {
	Status() ntp.Status
}

// Options carries the optional collaborators and the HTTP tuning knobs.
type Options struct {
	// Journal backs GET /events; nil disables the endpoint.
	Journal Journal
	// Clock backs the NTP section of /healthz; nil reports "disabled".
	Clock ClockHealth
	// Config backs GET /config (served redacted); nil disables.
	Config *config.Config
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// Auth guards the mutating endpoints.
	Auth config.AuthSection

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server serves the control API.
type Server struct {
	orch    Orchestrator
	opts    Options
	auth    authMiddleware
	started time.Time
	httpSrv *http.Server
}

// NewServer wires the routes. The orchestrator is required.
func NewServer(orch Orchestrator, opts Options) *Server {
	s := &Server{
		orch: orch,
		opts: opts,
		auth: authMiddleware{
			enabled: opts.Auth.Enabled,
			secret:  []byte(opts.Auth.Secret),
			issuer:  opts.Auth.Issuer,
		},
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /scan", s.handleScan)
	mux.HandleFunc("POST /connect", s.auth.require(ScopeControl, s.handleConnect))
	mux.HandleFunc("GET /disconnect", s.auth.require(ScopeControl, s.handleDisconnect))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if opts.Config != nil {
		mux.HandleFunc("GET /config", s.handleConfig)
	}
	if opts.Journal != nil {
		mux.HandleFunc("GET /events", s.handleEvents)
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

// Handler exposes the route table, for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe serves on addr until ctx is cancelled, then drains with
// a bounded shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("Control API listening.", "addr", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
