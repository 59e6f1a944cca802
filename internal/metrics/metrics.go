// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the engine's collectors. All fields are safe for concurrent
// use; a nil *Set disables instrumentation.
type Set struct {
	registry *prometheus.Registry

	// RendersTotal counts completed render passes.
	RendersTotal prometheus.Counter

	// RenderRequests counts render requests before coalescing.
	RenderRequests prometheus.Counter

	// EventsTotal counts processed realtime events by outcome
	// (applied, buffered, ignored, failed).
	EventsTotal *prometheus.CounterVec

	// BufferedEvents tracks events currently held by the reorder queue.
	BufferedEvents prometheus.Gauge

	// ReplayFailures counts events that still failed after their replay.
	ReplayFailures prometheus.Counter

	// AnimationWaits counts render passes deferred behind exit animations.
	AnimationWaits prometheus.Counter
}

// New creates a Set registered against a fresh registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Set{
		registry: reg,
		RendersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "todosync_renders_total",
			Help: "Completed render passes.",
		}),
		RenderRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "todosync_render_requests_total",
			Help: "Render requests before debounce coalescing.",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "todosync_events_total",
			Help: "Processed realtime events by outcome.",
		}, []string{"outcome"}),
		BufferedEvents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "todosync_buffered_events",
			Help: "Events currently buffered by the reorder queue.",
		}),
		ReplayFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "todosync_replay_failures_total",
			Help: "Events that failed after their single timed replay.",
		}),
		AnimationWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "todosync_animation_waits_total",
			Help: "Render passes deferred behind exit animations.",
		}),
	}
}

// Registry returns the registry backing the set, for exposure via an HTTP
// metrics handler.
func (s *Set) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}
