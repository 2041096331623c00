// Package metrics counts auth activity events with Prometheus collectors.
package metrics

import (
	"context"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portal_auth"

// Sink is an auth.ActivitySink that counts phase transitions and events.
type Sink struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	events      *prometheus.CounterVec
	next        auth.ActivitySink
}

var _ auth.ActivitySink = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithRegistry registers the collectors on registry instead of a private one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(s *Sink) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithNext forwards every event to next after counting it.
func WithNext(next auth.ActivitySink) Option {
	return func(s *Sink) {
		s.next = next
	}
}

// NewSink creates the sink and registers its collectors.
func NewSink(opts ...Option) (*Sink, error) {
	s := &Sink{
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Auth state machine phase transitions",
		},
		[]string{"from", "to"},
	)

	s.events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Auth activity events by type",
		},
		[]string{"event"},
	)

	for _, c := range []prometheus.Collector{s.transitions, s.events} {
		if err := s.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Registry exposes the registry the collectors live on.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Record implements auth.ActivitySink.
func (s *Sink) Record(ctx context.Context, event auth.ActivityEvent) error {
	s.events.WithLabelValues(string(event.EventType)).Inc()
	if event.EventType == auth.ActivityEventPhaseChanged {
		s.transitions.WithLabelValues(string(event.FromPhase), string(event.ToPhase)).Inc()
	}
	if s.next != nil {
		return s.next.Record(ctx, event)
	}
	return nil
}
