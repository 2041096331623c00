package phone

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
)

// Status is the phone verification flow status.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusChallengeSent Status = "challenge_sent"
	StatusVerifying     Status = "verifying"
	StatusVerified      Status = "verified"
	StatusFailed        Status = "failed"
	StatusRateLimited   Status = "rate_limited"
	StatusExpired       Status = "expired"
)

// RetryAfterKey is the metadata key providers use to report a cool-down in seconds.
const RetryAfterKey = auth.MetaRetryAfterSeconds

// Challenge is the handle returned when a code was sent.
type Challenge struct {
	VerificationID string    `json:"verificationId"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Provider issues and confirms one-time codes.
type Provider interface {
	SendChallenge(ctx context.Context, e164 string) (Challenge, error)
	ConfirmCode(ctx context.Context, verificationID, code string) (auth.PhoneCredential, error)
}

// Completer is implemented by providers that keep a confirmed challenge
// until the phone was linked.
type Completer interface {
	Complete(ctx context.Context, verificationID string) error
}

// Linker attaches a confirmed phone credential to an account. Both the
// credential and the account link must be stored, or neither.
type Linker interface {
	LinkPhone(ctx context.Context, identity auth.RawIdentity, cred auth.PhoneCredential) error
}

// IdentitySource reports the identity the phone will be linked to.
type IdentitySource interface {
	CurrentIdentity() *auth.RawIdentity
}

// VerifiedHook runs once after a phone was verified and linked.
type VerifiedHook func(ctx context.Context, cred auth.PhoneCredential)

// PhoneAuthState is the observable state of a verification flow.
type PhoneAuthState struct {
	Status         Status        `json:"status"`
	IsVerifying    bool          `json:"isVerifying"`
	IsVerified     bool          `json:"isVerified"`
	PhoneNumber    string        `json:"phoneNumber,omitempty"`
	PhoneUID       string        `json:"phoneUid,omitempty"`
	VerificationID string        `json:"verificationId,omitempty"`
	ExpiresAt      time.Time     `json:"expiresAt,omitempty"`
	RetryAfter     time.Duration `json:"retryAfter,omitempty"`
	Error          error         `json:"-"`
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithRegion sets the default region for numbers without a country prefix.
func WithRegion(region string) Option {
	return func(v *Verifier) {
		if region != "" {
			v.region = region
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithActivitySink publishes flow events.
func WithActivitySink(sink auth.ActivitySink) Option {
	return func(v *Verifier) {
		v.sink = auth.NormalizeActivitySink(sink)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(v *Verifier) {
		if clock != nil {
			v.now = clock
		}
	}
}

// Verifier drives one phone verification flow for the signed in identity.
type Verifier struct {
	provider Provider
	linker   Linker
	identity IdentitySource
	region   string
	logger   auth.Logger
	sink     auth.ActivitySink
	now      func() time.Time

	mu           sync.Mutex
	state        PhoneAuthState
	rateLimitEnd time.Time
	cred         *auth.PhoneCredential
	verifiedCode string
	hooks        []VerifiedHook
}

// NewVerifier returns an idle verifier.
func NewVerifier(provider Provider, linker Linker, identity IdentitySource, opts ...Option) *Verifier {
	v := &Verifier{
		provider: provider,
		linker:   linker,
		identity: identity,
		region:   DefaultRegion,
		logger:   auth.DefaultLogger("auth:phone"),
		sink:     auth.NormalizeActivitySink(nil),
		now:      time.Now,
		state:    PhoneAuthState{Status: StatusIdle},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// OnVerified registers a hook fired after a successful link.
func (v *Verifier) OnVerified(hook VerifiedHook) {
	if hook == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hooks = append(v.hooks, hook)
}

// State returns a copy of the flow state.
func (v *Verifier) State() PhoneAuthState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Reset returns the flow to idle.
func (v *Verifier) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = PhoneAuthState{Status: StatusIdle}
	v.rateLimitEnd = time.Time{}
	v.cred = nil
	v.verifiedCode = ""
}

// SubmitPhone validates raw and asks the provider to send a code.
func (v *Verifier) SubmitPhone(ctx context.Context, raw string) (PhoneAuthState, error) {
	v.mu.Lock()
	if v.state.IsVerifying {
		v.mu.Unlock()
		return v.State(), auth.ErrVerificationInProgress
	}
	if v.state.Status == StatusVerified {
		state := v.state
		v.mu.Unlock()
		return state, nil
	}
	if v.state.Status == StatusRateLimited && v.now().Before(v.rateLimitEnd) {
		v.state.RetryAfter = v.rateLimitEnd.Sub(v.now())
		state := v.state
		v.mu.Unlock()
		return state, state.Error
	}

	e164, err := Normalize(raw, v.region)
	if err != nil {
		v.state = PhoneAuthState{Status: StatusFailed, Error: err}
		state := v.state
		v.mu.Unlock()
		return state, err
	}

	v.state = PhoneAuthState{Status: v.state.Status, IsVerifying: true, PhoneNumber: e164}
	v.cred = nil
	v.verifiedCode = ""
	v.mu.Unlock()

	challenge, err := v.provider.SendChallenge(ctx, e164)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.IsVerifying = false

	if err != nil {
		if auth.IsKind(err, auth.KindRateLimited) {
			retry := RetryAfter(err)
			v.rateLimitEnd = v.now().Add(retry)
			v.state.Status = StatusRateLimited
			v.state.RetryAfter = retry
			v.state.Error = err
			v.record(ctx, auth.ActivityEventPhoneRateLimited, map[string]any{"retry_after": retry.String()})
			return v.state, err
		}
		v.state.Status = StatusFailed
		v.state.Error = err
		v.logger.Warn("phone challenge failed", "phone", Mask(e164), "kind", auth.ErrorKind(err))
		return v.state, err
	}

	v.state.Status = StatusChallengeSent
	v.state.VerificationID = challenge.VerificationID
	v.state.ExpiresAt = challenge.ExpiresAt
	v.state.Error = nil
	v.record(ctx, auth.ActivityEventPhoneChallengeSent, map[string]any{"phone": Mask(e164)})
	return v.state, nil
}

// SubmitCode confirms the one-time code and links the phone to the current
// identity. Re-submitting the code that already verified returns the cached
// result. After a LinkIncomplete failure re-submitting it retries the link only.
func (v *Verifier) SubmitCode(ctx context.Context, code string) (PhoneAuthState, error) {
	v.mu.Lock()
	if v.state.IsVerifying {
		v.mu.Unlock()
		return v.State(), auth.ErrVerificationInProgress
	}

	if v.cred != nil {
		if code != v.verifiedCode {
			state := v.state
			v.mu.Unlock()
			return state, auth.ErrInvalidCode.Clone().WithMetadata(map[string]any{
				"reason": "challenge already confirmed",
			})
		}
		if v.state.Status == StatusVerified {
			state := v.state
			v.mu.Unlock()
			return state, nil
		}
		v.mu.Unlock()
		return v.RetryLink(ctx)
	}

	switch v.state.Status {
	case StatusChallengeSent, StatusFailed:
	default:
		state := v.state
		v.mu.Unlock()
		return state, auth.ErrNoActiveChallenge
	}
	if v.state.VerificationID == "" {
		state := v.state
		v.mu.Unlock()
		return state, auth.ErrNoActiveChallenge
	}

	if !v.state.ExpiresAt.IsZero() && !v.now().Before(v.state.ExpiresAt) {
		v.expireLocked()
		state := v.state
		v.mu.Unlock()
		return state, state.Error
	}

	verificationID := v.state.VerificationID
	v.state.Status = StatusVerifying
	v.state.IsVerifying = true
	v.state.Error = nil
	v.mu.Unlock()

	cred, err := v.provider.ConfirmCode(ctx, verificationID, code)

	v.mu.Lock()
	v.state.IsVerifying = false
	if err != nil {
		switch auth.ErrorKind(err) {
		case auth.KindChallengeExpired:
			v.expireLocked()
			v.state.Error = err
		case auth.KindRateLimited:
			retry := RetryAfter(err)
			v.rateLimitEnd = v.now().Add(retry)
			v.state.Status = StatusRateLimited
			v.state.RetryAfter = retry
			v.state.Error = err
		default:
			v.state.Status = StatusFailed
			v.state.Error = err
		}
		state := v.state
		v.mu.Unlock()
		return state, err
	}

	if cred.PhoneNumber == "" {
		cred.PhoneNumber = v.state.PhoneNumber
	}
	v.cred = &cred
	v.verifiedCode = code
	v.state.PhoneUID = cred.PhoneUID
	v.mu.Unlock()

	return v.link(ctx)
}

// RetryLink re-attempts the account link after a LinkIncomplete failure
// without confirming a new code.
func (v *Verifier) RetryLink(ctx context.Context) (PhoneAuthState, error) {
	v.mu.Lock()
	if v.state.IsVerifying {
		v.mu.Unlock()
		return v.State(), auth.ErrVerificationInProgress
	}
	if v.cred == nil {
		state := v.state
		v.mu.Unlock()
		return state, auth.ErrNoActiveChallenge
	}
	if v.state.Status == StatusVerified {
		state := v.state
		v.mu.Unlock()
		return state, nil
	}
	v.mu.Unlock()

	return v.link(ctx)
}

func (v *Verifier) link(ctx context.Context) (PhoneAuthState, error) {
	v.mu.Lock()
	cred := *v.cred
	v.state.Status = StatusVerifying
	v.state.IsVerifying = true
	v.mu.Unlock()

	var err error
	var identity *auth.RawIdentity
	if v.identity != nil {
		identity = v.identity.CurrentIdentity()
	}
	if identity == nil {
		err = auth.ErrLinkIncomplete.Clone().WithMetadata(map[string]any{
			"reason": "no signed in identity",
		})
	} else if v.linker == nil {
		err = auth.ErrLinkIncomplete.Clone().WithMetadata(map[string]any{
			"reason": "no linker configured",
		})
	} else if linkErr := v.linker.LinkPhone(ctx, *identity, cred); linkErr != nil {
		if auth.IsKind(linkErr, auth.KindLinkIncomplete) {
			err = linkErr
		} else {
			err = auth.WrapError(auth.ErrLinkIncomplete, linkErr, map[string]any{"uid": identity.UID})
		}
	}

	if err != nil {
		v.mu.Lock()
		v.state.IsVerifying = false
		v.state.Status = StatusFailed
		v.state.IsVerified = false
		v.state.Error = err
		state := v.state
		v.record(ctx, auth.ActivityEventPhoneLinkIncomplete, map[string]any{"phone": Mask(cred.PhoneNumber)})
		v.mu.Unlock()
		v.logger.Warn("phone confirmed but link incomplete", "phone", Mask(cred.PhoneNumber), "error", err)
		return state, err
	}

	v.complete(ctx, cred)

	v.mu.Lock()
	v.state.IsVerifying = false
	v.state.Status = StatusVerified
	v.state.IsVerified = true
	v.state.PhoneUID = cred.PhoneUID
	v.state.Error = nil
	state := v.state
	hooks := append([]VerifiedHook(nil), v.hooks...)
	v.record(ctx, auth.ActivityEventPhoneVerified, map[string]any{"phone": Mask(cred.PhoneNumber)})
	v.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx, cred)
	}
	return state, nil
}

func (v *Verifier) complete(ctx context.Context, cred auth.PhoneCredential) {
	completer, ok := v.provider.(Completer)
	if !ok || cred.VerificationID == "" {
		return
	}
	if err := completer.Complete(ctx, cred.VerificationID); err != nil {
		v.logger.Warn("confirmed challenge not released", "verification_id", cred.VerificationID, "error", err)
	}
}

func (v *Verifier) expireLocked() {
	v.state.Status = StatusExpired
	v.state.VerificationID = ""
	v.state.ExpiresAt = time.Time{}
	v.state.Error = auth.ErrChallengeExpired
}

func (v *Verifier) record(ctx context.Context, eventType auth.ActivityEventType, meta map[string]any) {
	uid := ""
	if v.identity != nil {
		if id := v.identity.CurrentIdentity(); id != nil {
			uid = id.UID
		}
	}
	auth.RecordActivity(ctx, v.sink, v.logger, auth.ActivityEvent{
		EventType:   eventType,
		IdentityUID: uid,
		Metadata:    meta,
		OccurredAt:  v.now(),
	})
}

// RetryAfter reads the cool-down a provider attached to a RateLimited error.
func RetryAfter(err error) time.Duration {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return 0
	}
	switch v := richErr.Metadata[RetryAfterKey].(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	}
	return 0
}
