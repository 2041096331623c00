package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MachineOption customizes Machine construction.
type MachineOption func(*Machine)

// WithMachineClock injects a custom clock (useful for tests).
func WithMachineClock(clock func() time.Time) MachineOption {
	return func(m *Machine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithMachineActivitySink sets the ActivitySink used to publish phase changes.
func WithMachineActivitySink(sink ActivitySink) MachineOption {
	return func(m *Machine) {
		m.activitySink = NormalizeActivitySink(sink)
	}
}

// WithMachineLogger overrides the logger.
func WithMachineLogger(logger Logger) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMachineEnvironment records the environment the provider was selected for.
func WithMachineEnvironment(env Environment) MachineOption {
	return func(m *Machine) {
		if env != "" {
			m.env = env
		}
	}
}

// WithSsrSnapshot seeds the machine with the server render snapshot.
func WithSsrSnapshot(snapshot *SsrAuthSnapshot) MachineOption {
	return func(m *Machine) {
		if snapshot != nil {
			snap := *snapshot
			m.snapshot = &snap
		}
	}
}

// WithSessionBridge makes the machine create a server session once an
// identity resolves to a registered user, and destroy it on sign out.
func WithSessionBridge(bridge SessionBridge) MachineOption {
	return func(m *Machine) {
		m.bridge = bridge
	}
}

// Machine is the single writer of AuthenticationState. All provider
// callbacks and resolution results are funneled through one channel and
// applied in order by Run.
type Machine struct {
	provider     IdentityProvider
	resolver     UserResolver
	bridge       SessionBridge
	env          Environment
	snapshot     *SsrAuthSnapshot
	transitions  map[Phase]map[Phase]struct{}
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink

	events  chan machineEvent
	done    chan struct{}
	started atomic.Bool
	signIn  atomic.Bool

	mu    sync.RWMutex
	state AuthenticationState

	watchMu  sync.Mutex
	watchers map[int]chan AuthenticationState
	watchSeq int

	// owned by the Run goroutine
	seq           uint64
	cancelResolve context.CancelFunc
	unsubscribe   Unsubscribe
	sessionUID    string
	sessionTail   chan struct{}
}

type machineEvent interface{}

type identityEvent struct {
	identity *RawIdentity
}

type resolvedEvent struct {
	seq      uint64
	identity RawIdentity
	user     *RegisteredUser
	err      error
}

type signInEvent struct {
	active bool
	err    error
}

type sessionResultEvent struct {
	uid string
	err error
}

type refreshEvent struct{}

type retryEvent struct{}

// NewMachine returns a machine driving provider. provider may be nil in
// the server environment, in which case the machine stays in loading and
// decisions rely on the SSR snapshot.
func NewMachine(provider IdentityProvider, resolver UserResolver, opts ...MachineOption) *Machine {
	m := &Machine{
		provider: provider,
		resolver: resolver,
		env:      EnvironmentBrowser,
		transitions: map[Phase]map[Phase]struct{}{
			PhaseLoading: {
				PhaseUnauthenticated: {},
				PhaseAuthenticating:  {},
			},
			PhaseUnauthenticated: {
				PhaseAuthenticating:         {},
				PhaseUserRegistered:         {},
				PhaseNeedsPhoneVerification: {},
			},
			PhaseAuthenticating: {
				PhaseUnauthenticated:        {},
				PhaseUserRegistered:         {},
				PhaseNeedsPhoneVerification: {},
			},
			PhaseUserRegistered: {
				PhaseUnauthenticated:        {},
				PhaseAuthenticating:         {},
				PhaseNeedsPhoneVerification: {},
			},
			PhaseNeedsPhoneVerification: {
				PhaseUserRegistered:  {},
				PhaseUnauthenticated: {},
				PhaseAuthenticating:  {},
			},
			PhaseError: {
				PhaseLoading:         {},
				PhaseUnauthenticated: {},
				PhaseAuthenticating:  {},
			},
		},
		now:          time.Now,
		logger:       DefaultLogger("auth:machine"),
		activitySink: noopActivitySink{},
		events:       make(chan machineEvent, 64),
		done:         make(chan struct{}),
		watchers:     map[int]chan AuthenticationState{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if provider == nil {
		m.env = EnvironmentServer
	}

	m.state = AuthenticationState{
		Phase:       PhaseLoading,
		Environment: m.env,
	}

	return m
}

// CanTransition reports whether the machine allows moving from one phase to another.
// Every phase may move to error and to itself.
func (m *Machine) CanTransition(from, to Phase) bool {
	if from == to || to == PhaseError {
		return true
	}
	if allowed, ok := m.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// State returns a copy of the current state.
func (m *Machine) State() AuthenticationState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Snapshot returns the SSR snapshot the machine was seeded with, if any.
func (m *Machine) Snapshot() *SsrAuthSnapshot {
	if m.snapshot == nil {
		return nil
	}
	snap := *m.snapshot
	return &snap
}

// Done is closed once Run returns.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Watch registers an observer. The channel always holds the latest state;
// intermediate states may be coalesced for slow readers.
func (m *Machine) Watch() (<-chan AuthenticationState, Unsubscribe) {
	ch := make(chan AuthenticationState, 1)

	m.watchMu.Lock()
	id := m.watchSeq
	m.watchSeq++
	m.watchers[id] = ch
	m.watchMu.Unlock()

	ch <- m.State()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.watchMu.Lock()
			delete(m.watchers, id)
			m.watchMu.Unlock()
		})
	}
}

// Run initializes the provider subscription and applies events until ctx
// is cancelled. It must be called exactly once.
func (m *Machine) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"reason": "machine already running",
		})
	}
	defer close(m.done)
	defer m.teardown()

	m.initialize(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

// SignIn asks the selected provider to sign in. The resulting identity
// reaches the machine through the provider's change channel.
func (m *Machine) SignIn(ctx context.Context) (*RawIdentity, error) {
	if m.provider == nil {
		return nil, ErrProviderUnavailable
	}
	if !m.signIn.CompareAndSwap(false, true) {
		return nil, ErrAuthenticationInProgress
	}
	defer m.signIn.Store(false)

	m.enqueue(signInEvent{active: true})
	identity, err := m.provider.SignIn(ctx)
	m.enqueue(signInEvent{active: false, err: err})

	if err != nil {
		m.logger.Info("sign in failed", "provider", m.provider.Name(), "kind", ErrorKind(err))
		return nil, err
	}
	return identity, nil
}

// SignOut always succeeds locally. Remote failures are logged by the provider.
func (m *Machine) SignOut(ctx context.Context) error {
	if m.provider == nil {
		m.enqueue(identityEvent{})
		return nil
	}
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("provider sign out failed, clearing local state", "error", err)
		m.enqueue(identityEvent{})
	}
	return nil
}

// Refresh re-resolves the current identity, e.g. after a phone link
// changed the registered user.
func (m *Machine) Refresh() {
	m.enqueue(refreshEvent{})
}

// Retry re-runs initialization after an error phase.
func (m *Machine) Retry() {
	m.enqueue(retryEvent{})
}

func (m *Machine) enqueue(ev machineEvent) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Machine) initialize(ctx context.Context) {
	if m.provider == nil {
		m.logger.Debug("no identity provider selected, staying in loading", "environment", m.env)
		return
	}

	if err := m.provider.Init(ctx); err != nil {
		m.logger.Error("identity provider init failed", "provider", m.provider.Name(), "error", err)
		m.fail(ctx, WrapError(ErrProviderUnavailable, err, map[string]any{
			"provider": m.provider.Name(),
		}))
		return
	}

	m.unsubscribe = m.provider.OnChange(func(identity *RawIdentity) {
		m.enqueue(identityEvent{identity: identity})
	})

	m.handleIdentity(ctx, m.provider.CurrentIdentity())
}

func (m *Machine) teardown() {
	if m.cancelResolve != nil {
		m.cancelResolve()
		m.cancelResolve = nil
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Machine) handle(ctx context.Context, ev machineEvent) {
	switch e := ev.(type) {
	case identityEvent:
		m.handleIdentity(ctx, e.identity)
	case resolvedEvent:
		m.handleResolved(ctx, e)
	case signInEvent:
		next := m.current()
		next.IsAuthenticating = e.active
		m.commit(ctx, next)
	case sessionResultEvent:
		if e.err != nil && m.sessionUID == e.uid {
			m.sessionUID = ""
		}
	case refreshEvent:
		cur := m.current()
		if cur.RawIdentity == nil {
			return
		}
		m.seq++
		m.startResolution(ctx, m.seq, *cur.RawIdentity)
	case retryEvent:
		if m.current().Phase != PhaseError {
			return
		}
		m.teardown()
		next := m.current()
		next.Phase = PhaseLoading
		next.Err = nil
		m.commit(ctx, next)
		m.initialize(ctx)
	}
}

func (m *Machine) handleIdentity(ctx context.Context, identity *RawIdentity) {
	m.seq++
	if m.cancelResolve != nil {
		m.cancelResolve()
		m.cancelResolve = nil
	}

	cur := m.current()

	if identity == nil {
		next := cur
		next.Phase = PhaseUnauthenticated
		next.RawIdentity = nil
		next.RegisteredUser = nil
		next.Err = nil
		m.commit(ctx, next)
		m.destroySession(ctx)
		return
	}

	id := *identity
	next := cur
	next.RawIdentity = &id
	next.Err = nil

	refresh := cur.RawIdentity.SameSubject(&id) &&
		(cur.Phase == PhaseUserRegistered || cur.Phase == PhaseNeedsPhoneVerification)
	if !refresh {
		next.Phase = PhaseAuthenticating
		next.RegisteredUser = nil
	}
	m.commit(ctx, next)

	m.startResolution(ctx, m.seq, id)
}

func (m *Machine) startResolution(ctx context.Context, seq uint64, identity RawIdentity) {
	if m.cancelResolve != nil {
		m.cancelResolve()
	}
	rctx, cancel := context.WithCancel(ctx)
	m.cancelResolve = cancel

	go func() {
		user, err := m.resolve(rctx, identity)
		m.enqueue(resolvedEvent{seq: seq, identity: identity, user: user, err: err})
	}()
}

func (m *Machine) resolve(ctx context.Context, identity RawIdentity) (*RegisteredUser, error) {
	if m.resolver == nil {
		return nil, ErrFetch
	}
	return m.resolver.FindRegisteredUser(ctx, identity)
}

func (m *Machine) handleResolved(ctx context.Context, ev resolvedEvent) {
	cur := m.current()

	if ev.seq != m.seq || !cur.RawIdentity.SameSubject(&ev.identity) {
		m.logger.Debug("discarding stale resolution", "uid", ev.identity.UID, "seq", ev.seq, "current_seq", m.seq)
		RecordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
			EventType:   ActivityEventResolutionDiscarded,
			IdentityUID: ev.identity.UID,
			OccurredAt:  m.now(),
		})
		return
	}
	m.cancelResolve = nil

	if ev.err != nil {
		if cur.Phase == PhaseAuthenticating {
			m.fail(ctx, WrapError(ErrFetch, ev.err, map[string]any{"uid": ev.identity.UID}))
			return
		}
		m.logger.Warn("refresh of registered user failed, keeping state", "uid", ev.identity.UID, "error", ev.err)
		return
	}

	next := cur
	next.Err = nil
	switch {
	case ev.user == nil:
		next.Phase = PhaseUnauthenticated
		next.RegisteredUser = nil
	case !ev.user.PhoneVerified:
		u := *ev.user
		next.Phase = PhaseNeedsPhoneVerification
		next.RegisteredUser = &u
	default:
		u := *ev.user
		next.Phase = PhaseUserRegistered
		next.RegisteredUser = &u
	}
	m.commit(ctx, next)

	if next.RegisteredUser != nil {
		m.createSession(ctx, ev.identity)
	}
}

func (m *Machine) fail(ctx context.Context, err error) {
	next := m.current()
	next.Phase = PhaseError
	next.Err = err
	next.IsAuthenticating = false
	m.commit(ctx, next)
}

func (m *Machine) current() AuthenticationState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

func (m *Machine) commit(ctx context.Context, next AuthenticationState) {
	m.mu.Lock()
	from := m.state.Phase
	if !m.CanTransition(from, next.Phase) {
		m.mu.Unlock()
		m.logger.Error("rejected phase transition", "from", from, "to", next.Phase)
		return
	}
	m.state = next.Clone()
	m.mu.Unlock()

	m.broadcast(next)

	if from != next.Phase {
		uid := ""
		if next.RawIdentity != nil {
			uid = next.RawIdentity.UID
		}
		RecordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
			EventType:   ActivityEventPhaseChanged,
			IdentityUID: uid,
			FromPhase:   from,
			ToPhase:     next.Phase,
			OccurredAt:  m.now(),
		})
	}
}

func (m *Machine) broadcast(state AuthenticationState) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	for _, ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- state.Clone()
	}
}

func (m *Machine) createSession(ctx context.Context, identity RawIdentity) {
	if m.bridge == nil || identity.IDToken == "" || m.sessionUID == identity.UID {
		return
	}
	m.sessionUID = identity.UID

	m.sessionCall(func() {
		err := m.bridge.CreateSession(ctx, identity.IDToken)
		if err != nil {
			m.logger.Warn("session create failed", "uid", identity.UID, "error", err)
			RecordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
				EventType:   ActivityEventSessionCreateFailed,
				IdentityUID: identity.UID,
				Metadata:    map[string]any{"kind": ErrorKind(err)},
				OccurredAt:  m.now(),
			})
		} else {
			RecordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
				EventType:   ActivityEventSessionCreated,
				IdentityUID: identity.UID,
				OccurredAt:  m.now(),
			})
		}
		m.enqueue(sessionResultEvent{uid: identity.UID, err: err})
	})
}

func (m *Machine) destroySession(ctx context.Context) {
	if m.bridge == nil || m.sessionUID == "" {
		return
	}
	uid := m.sessionUID
	m.sessionUID = ""

	m.sessionCall(func() {
		if err := m.bridge.DestroySession(ctx); err != nil {
			m.logger.Warn("session destroy failed, local state already cleared", "uid", uid, "error", err)
			return
		}
		RecordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
			EventType:   ActivityEventSessionDestroyed,
			IdentityUID: uid,
			OccurredAt:  m.now(),
		})
	})
}

// sessionCall runs call after every bridge call queued before it, so a
// destroy never overtakes a create still in flight.
func (m *Machine) sessionCall(call func()) {
	prev := m.sessionTail
	done := make(chan struct{})
	m.sessionTail = done

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		call()
	}()
}

// CurrentIdentity returns the identity the machine currently tracks.
func (m *Machine) CurrentIdentity() *RawIdentity {
	return m.State().RawIdentity
}
