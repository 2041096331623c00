package metrics

import (
	"context"
	"errors"
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_CountsTransitionsAndEvents(t *testing.T) {
	sink, err := NewSink()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, auth.ActivityEvent{
		EventType: auth.ActivityEventPhaseChanged,
		FromPhase: auth.PhaseLoading,
		ToPhase:   auth.PhaseUnauthenticated,
	}))
	require.NoError(t, sink.Record(ctx, auth.ActivityEvent{
		EventType: auth.ActivityEventPhaseChanged,
		FromPhase: auth.PhaseLoading,
		ToPhase:   auth.PhaseUnauthenticated,
	}))
	require.NoError(t, sink.Record(ctx, auth.ActivityEvent{
		EventType: auth.ActivityEventPhoneVerified,
	}))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.transitions.WithLabelValues("loading", "unauthenticated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues(string(auth.ActivityEventPhaseChanged))))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues(string(auth.ActivityEventPhoneVerified))))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.transitions))
}

func TestSink_ForwardsToNext(t *testing.T) {
	var seen []auth.ActivityEventType
	boom := errors.New("downstream")

	sink, err := NewSink(WithNext(auth.ActivitySinkFunc(func(_ context.Context, e auth.ActivityEvent) error {
		seen = append(seen, e.EventType)
		return boom
	})))
	require.NoError(t, err)

	err = sink.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventGuardRedirect})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventGuardRedirect}, seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues(string(auth.ActivityEventGuardRedirect))))
}

func TestSink_SharedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	sink, err := NewSink(WithRegistry(registry))
	require.NoError(t, err)
	assert.Same(t, registry, sink.Registry())

	_, err = NewSink(WithRegistry(registry))
	assert.Error(t, err)
}
