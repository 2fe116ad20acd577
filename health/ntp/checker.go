// Package ntp watches the device clock against an NTP pool. Field units
// authenticate telemetry uploads over TLS; a clock skewed past certificate
// tolerance looks like a network failure, so the offset is surfaced in
// /healthz and metrics where it can be told apart from one.
package ntp

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"uplink/internal/check"
	"uplink/observe"
)

const (
	defaultPool      = "pool.ntp.org"
	defaultInterval  = time.Minute
	defaultMaxOffset = 500 * time.Millisecond
)

// Phase is the checker's view of clock health.
type Phase uint8

const (
	PhaseUnchecked Phase = iota + 1
	PhaseHealthy
	PhaseSkewed
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseUnchecked:
		return "unchecked"
	case PhaseHealthy:
		return "healthy"
	case PhaseSkewed:
		return "skewed"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the result of the latest query.
type Status struct {
	Phase     Phase
	Offset    time.Duration
	Error     string
	CheckedAt time.Time
}

// Config parameterizes the checker; zero values take defaults.
type Config struct {
	Pool      string
	Interval  time.Duration
	MaxOffset time.Duration
	// Metrics receives the measured offset; optional.
	Metrics *observe.Collector
}

// Checker periodically queries the pool and keeps the latest Status.
type Checker struct {
	pool      string
	interval  time.Duration
	maxOffset time.Duration
	metrics   *observe.Collector

	mu     sync.RWMutex
	status Status

	// QueryFunc overrides the NTP query, for tests.
	QueryFunc func(pool string) (time.Duration, error)
}

// NewChecker builds a checker; Run starts it.
func NewChecker(cfg Config) *Checker {
	if cfg.Pool == "" {
		cfg.Pool = defaultPool
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxOffset <= 0 {
		cfg.MaxOffset = defaultMaxOffset
	}
	return &Checker{
		pool:      cfg.Pool,
		interval:  cfg.Interval,
		maxOffset: cfg.MaxOffset,
		metrics:   cfg.Metrics,
		status:    Status{Phase: PhaseUnchecked},
	}
}

// Run queries once immediately and then on every interval tick until ctx
// is cancelled.
func (c *Checker) Run(ctx context.Context) {
	check.Assert(c.interval > 0, "ntp checker: interval must be positive")

	c.checkOnce()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkOnce()
		}
	}
}

func (c *Checker) checkOnce() {
	offset, err := c.query()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if err != nil {
		c.status = Status{Phase: PhaseError, Error: err.Error(), CheckedAt: now}
		return
	}

	phase := PhaseSkewed
	if offset.Abs() < c.maxOffset {
		phase = PhaseHealthy
	}
	c.status = Status{Phase: phase, Offset: offset, CheckedAt: now}
	c.metrics.SetClockOffset(offset)
}

func (c *Checker) query() (time.Duration, error) {
	if c.QueryFunc != nil {
		return c.QueryFunc(c.pool)
	}
	resp, err := ntp.Query(c.pool)
	if err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Status returns the latest measurement.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
