package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventPhaseChanged          ActivityEventType = "auth.phase.changed"
	ActivityEventResolutionDiscarded   ActivityEventType = "auth.resolution.discarded"
	ActivityEventSessionCreated        ActivityEventType = "auth.session.created"
	ActivityEventSessionCreateFailed   ActivityEventType = "auth.session.create_failed"
	ActivityEventSessionDestroyed      ActivityEventType = "auth.session.destroyed"
	ActivityEventPhoneChallengeSent    ActivityEventType = "auth.phone.challenge_sent"
	ActivityEventPhoneRateLimited      ActivityEventType = "auth.phone.rate_limited"
	ActivityEventPhoneVerified         ActivityEventType = "auth.phone.verified"
	ActivityEventPhoneLinkIncomplete   ActivityEventType = "auth.phone.link_incomplete"
	ActivityEventGuardRedirect         ActivityEventType = "auth.guard.redirect"
	ActivityEventUserRegistered        ActivityEventType = "auth.user.registered"
	ActivityEventProviderSignOutFailed ActivityEventType = "auth.provider.sign_out_failed"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType   ActivityEventType
	IdentityUID string
	FromPhase   Phase
	ToPhase     Phase
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

// NormalizeActivitySink never returns nil.
func NormalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// RecordActivity stamps and forwards event to sink, logging sink failures.
func RecordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := NormalizeActivitySink(sink).Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
