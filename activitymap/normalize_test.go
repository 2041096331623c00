package activitymap_test

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType:   auth.ActivityEventPhaseChanged,
		IdentityUID: "U100",
		FromPhase:   auth.PhaseAuthenticating,
		ToPhase:     auth.PhaseNeedsPhoneVerification,
		Metadata: map[string]any{
			"provider": "liff",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "U100" {
		t.Fatalf("expected actor_id U100, got %q", out.ActorID)
	}
	if out.Verb != string(auth.ActivityEventPhaseChanged) {
		t.Fatalf("expected verb %q, got %q", auth.ActivityEventPhaseChanged, out.Verb)
	}
	if out.ObjectType != "identity" {
		t.Fatalf("expected object_type identity, got %q", out.ObjectType)
	}
	if out.ObjectID != "U100" {
		t.Fatalf("expected object_id U100, got %q", out.ObjectID)
	}
	if out.Channel != "portal_auth" {
		t.Fatalf("expected channel portal_auth, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["provider"] != "liff" {
		t.Fatalf("expected metadata provider liff, got %#v", out.Metadata["provider"])
	}
	if out.Metadata[activitymap.MetadataKeyFromPhase] != string(auth.PhaseAuthenticating) {
		t.Fatalf("expected from_phase authenticating, got %#v", out.Metadata[activitymap.MetadataKeyFromPhase])
	}
	if out.Metadata[activitymap.MetadataKeyToPhase] != string(auth.PhaseNeedsPhoneVerification) {
		t.Fatalf("expected to_phase needs_phone_verification, got %#v", out.Metadata[activitymap.MetadataKeyToPhase])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	event := auth.ActivityEvent{
		EventType:   auth.ActivityEventPhoneChallengeSent,
		IdentityUID: "U200",
		Metadata: map[string]any{
			"verification_id": "v-1",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("phone_challenge"),
		activitymap.WithObjectIDResolver(func(e auth.ActivityEvent) string {
			if v, ok := e.Metadata["verification_id"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "phone_challenge" {
		t.Fatalf("expected object_type phone_challenge, got %q", out.ObjectType)
	}
	if out.ObjectID != "v-1" {
		t.Fatalf("expected object_id v-1, got %q", out.ObjectID)
	}
	if _, ok := out.Metadata[activitymap.MetadataKeyFromPhase]; ok {
		t.Fatalf("expected no phase metadata for non transition events")
	}
	if out.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set when input is zero")
	}
}

func TestNormalizeActorFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  auth.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses identity uid when present",
			event:  auth.ActivityEvent{IdentityUID: "U1"},
			expect: "U1",
		},
		{
			name:   "uses default fallback when identity missing",
			event:  auth.ActivityEvent{},
			expect: "anonymous",
		},
		{
			name:   "uses configured fallback when identity missing",
			event:  auth.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("guard")},
			expect: "guard",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestSinkForwardsNormalized(t *testing.T) {
	var got []activitymap.Normalized
	sink := activitymap.Sink(func(n activitymap.Normalized) error {
		got = append(got, n)
		return nil
	}, activitymap.WithDefaultChannel("audit"))

	auth.RecordActivity(t.Context(), sink, auth.NopLogger(), auth.ActivityEvent{
		EventType:   auth.ActivityEventSessionCreated,
		IdentityUID: "U9",
	})

	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	if got[0].Channel != "audit" || got[0].ActorID != "U9" {
		t.Fatalf("unexpected record %+v", got[0])
	}
}
