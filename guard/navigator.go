package guard

import (
	"context"
	"net/url"
	"sync"

	auth "github.com/goliatone/go-portal-auth"
)

// StateSource is the read side of the auth state machine.
type StateSource interface {
	State() auth.AuthenticationState
	Watch() (<-chan auth.AuthenticationState, auth.Unsubscribe)
}

// NavigatorOption configures a Navigator.
type NavigatorOption func(*Navigator)

// WithSnapshot seeds the first decisions before the state settles.
func WithSnapshot(snapshot *auth.SsrAuthSnapshot) NavigatorOption {
	return func(n *Navigator) {
		if snapshot != nil {
			snap := *snapshot
			n.snapshot = &snap
		}
	}
}

// WithDeepLink restores the pre-auth destination of source on first run.
func WithDeepLink(source InitialPathSource) NavigatorOption {
	return func(n *Navigator) {
		n.deepLink = source
	}
}

// Navigator re-evaluates the guard on every state change and every
// location change and publishes each new decision.
type Navigator struct {
	guard    *Guard
	source   StateSource
	snapshot *auth.SsrAuthSnapshot
	deepLink InitialPathSource

	navigations chan *url.URL
	decisions   chan Decision
	done        chan struct{}

	mu       sync.RWMutex
	location *url.URL
	decision Decision
}

// NewNavigator creates a navigator starting at location.
func NewNavigator(g *Guard, source StateSource, location *url.URL, opts ...NavigatorOption) *Navigator {
	if location == nil {
		location = &url.URL{Path: "/"}
	}
	n := &Navigator{
		guard:       g,
		source:      source,
		navigations: make(chan *url.URL, 16),
		decisions:   make(chan Decision, 1),
		done:        make(chan struct{}),
		location:    location,
		decision:    Decision{Kind: Pending},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Navigate reports a location change. It is dropped once Run has returned.
func (n *Navigator) Navigate(location *url.URL) {
	if location == nil {
		return
	}
	select {
	case n.navigations <- location:
	case <-n.done:
	}
}

// Done is closed once Run returns.
func (n *Navigator) Done() <-chan struct{} {
	return n.done
}

// Decision returns the latest decision.
func (n *Navigator) Decision() Decision {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.decision
}

// Location returns the location the latest decision was made for.
func (n *Navigator) Location() *url.URL {
	n.mu.RLock()
	defer n.mu.RUnlock()
	u := *n.location
	return &u
}

// Decisions delivers decisions as they change. Slow readers only see the latest.
func (n *Navigator) Decisions() <-chan Decision {
	return n.decisions
}

// Run evaluates until ctx is cancelled. A restored deep link is published
// as a redirect and state changes are held back until the next Navigate.
func (n *Navigator) Run(ctx context.Context) error {
	defer close(n.done)

	states, unsubscribe := n.source.Watch()
	defer unsubscribe()

	state := n.source.State()

	restored := false
	if link, ok := n.guard.RestoreDeepLink(n.deepLink, n.Location()); ok {
		if target, err := url.ParseRequestURI(link); err == nil {
			n.publish(target, Decision{Kind: Redirect, Location: link})
			restored = true
		}
	}
	if !restored {
		n.evaluate(state, nil)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next, ok := <-states:
			if !ok {
				return nil
			}
			state = next
			if !restored {
				n.evaluate(state, nil)
			}
		case location := <-n.navigations:
			restored = false
			n.evaluate(state, location)
		}
	}
}

func (n *Navigator) evaluate(state auth.AuthenticationState, location *url.URL) {
	if location == nil {
		location = n.Location()
	}
	decision := n.guard.Decide(location, state, n.snapshot)

	n.mu.RLock()
	unchanged := n.decision == decision && n.location.String() == location.String()
	n.mu.RUnlock()
	if unchanged {
		return
	}
	n.publish(location, decision)
}

func (n *Navigator) publish(location *url.URL, decision Decision) {
	n.mu.Lock()
	n.location = location
	n.decision = decision
	n.mu.Unlock()

	select {
	case <-n.decisions:
	default:
	}
	n.decisions <- decision
}
