// Package observe wires Prometheus metrics and OpenTelemetry tracing for
// the daemon. Everything here tolerates re-registration so tests and
// restarts never trip over the global registry.
package observe

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"uplink"
)

// Collector bundles the daemon's Prometheus metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Mode                *prometheus.GaugeVec
	Transitions         *prometheus.CounterVec
	TransitionDurations *prometheus.HistogramVec
	DropsDetected       prometheus.Counter
	Scans               prometheus.Counter
	ClockOffset         prometheus.Gauge
}

// NewCollector registers the daemon metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	mode := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "uplink_mode",
		Help: "Current orchestrator mode; exactly one series is 1.",
	}, []string{"mode"})
	mode, err := registerGaugeVec(reg, mode, "uplink_mode")
	if err != nil {
		return nil, err
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_transitions_total",
		Help: "Finished mode transitions, labeled by target mode and outcome.",
	}, []string{"target", "outcome"})
	transitions, err = registerCounterVec(reg, transitions, "uplink_transitions_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uplink_transition_duration_seconds",
		Help:    "Wall time of finished transitions, labeled by target mode.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90, 120},
	}, []string{"target"})
	durations, err = registerHistogramVec(reg, durations, "uplink_transition_duration_seconds")
	if err != nil {
		return nil, err
	}

	drops, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uplink_drops_detected_total",
		Help: "Silent connectivity drops detected by the station monitor.",
	}), "uplink_drops_detected_total")
	if err != nil {
		return nil, err
	}
	scans, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uplink_scans_total",
		Help: "Network scans served.",
	}), "uplink_scans_total")
	if err != nil {
		return nil, err
	}
	offset, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "uplink_clock_offset_seconds",
		Help: "Last measured NTP clock offset.",
	}), "uplink_clock_offset_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:            gatherer,
		Mode:                mode,
		Transitions:         transitions,
		TransitionDurations: durations,
		DropsDetected:       drops,
		Scans:               scans,
		ClockOffset:         offset,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var allModes = []uplink.Mode{
	uplink.ModeUninitialized,
	uplink.ModeAP,
	uplink.ModeConnecting,
	uplink.ModeStation,
	uplink.ModeFailed,
}

// SetMode marks m as the current mode and clears the others.
func (c *Collector) SetMode(m uplink.Mode) {
	if c == nil || c.Mode == nil {
		return
	}
	for _, mode := range allModes {
		v := 0.0
		if mode == m {
			v = 1.0
		}
		c.Mode.WithLabelValues(mode.String()).Set(v)
	}
}

// RecordTransition counts one finished transition and its wall time.
func (c *Collector) RecordTransition(target uplink.Mode, outcome uplink.TransitionOutcome, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.Transitions != nil {
		c.Transitions.WithLabelValues(target.String(), outcome.String()).Inc()
	}
	if c.TransitionDurations != nil {
		c.TransitionDurations.WithLabelValues(target.String()).Observe(elapsed.Seconds())
	}
}

// RecordDrop counts one detected connectivity drop.
func (c *Collector) RecordDrop() {
	if c == nil || c.DropsDetected == nil {
		return
	}
	c.DropsDetected.Inc()
}

// RecordScan counts one served network scan.
func (c *Collector) RecordScan() {
	if c == nil || c.Scans == nil {
		return
	}
	c.Scans.Inc()
}

// SetClockOffset records the last NTP offset measurement.
func (c *Collector) SetClockOffset(offset time.Duration) {
	if c == nil || c.ClockOffset == nil {
		return
	}
	c.ClockOffset.Set(offset.Seconds())
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
