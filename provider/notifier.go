package provider

import (
	"slices"
	"sync"

	auth "github.com/goliatone/go-portal-auth"
)

// Notifier fans out identity changes to subscribers. Emit holds a lock for
// the whole delivery so subscribers observe events in emission order.
type Notifier struct {
	emitMu sync.Mutex

	mu   sync.Mutex
	subs map[int]func(*auth.RawIdentity)
	next int
}

// Subscribe registers cb and returns its detach function.
func (n *Notifier) Subscribe(cb func(*auth.RawIdentity)) auth.Unsubscribe {
	if cb == nil {
		return func() {}
	}

	n.mu.Lock()
	if n.subs == nil {
		n.subs = map[int]func(*auth.RawIdentity){}
	}
	id := n.next
	n.next++
	n.subs[id] = cb
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Emit delivers identity to every subscriber registered at call time.
func (n *Notifier) Emit(identity *auth.RawIdentity) {
	n.emitMu.Lock()
	defer n.emitMu.Unlock()

	n.mu.Lock()
	ids := make([]int, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	subs := make([]func(*auth.RawIdentity), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, n.subs[id])
	}
	n.mu.Unlock()

	for _, cb := range subs {
		var out *auth.RawIdentity
		if identity != nil {
			cp := *identity
			out = &cp
		}
		cb(out)
	}
}

// Len returns the number of active subscribers.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
