package callstate

import "sync/atomic"

// subscription is one listener handle. since is the notification sequence
// number current when the listener subscribed; it only receives later ones.
type subscription[L any] struct {
	token  uint64
	since  uint64
	fn     L
	active atomic.Bool
}

func (s *subscription[L]) receives(seq uint64) bool {
	return s.active.Load() && seq > s.since
}

// registry is an ordered set of listeners. It is not safe for concurrent use;
// the coordinator guards it with its own mutex.
type registry[L any] struct {
	nextToken uint64
	subs      []*subscription[L]
}

func (r *registry[L]) add(fn L, since uint64) *subscription[L] {
	r.nextToken++
	s := &subscription[L]{token: r.nextToken, since: since, fn: fn}
	s.active.Store(true)
	r.subs = append(r.subs, s)
	return s
}

// remove deactivates the listener with the given token. Unknown tokens are
// ignored, which makes repeated unsubscribes harmless.
func (r *registry[L]) remove(token uint64) bool {
	for i, s := range r.subs {
		if s.token == token {
			s.active.Store(false)
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (r *registry[L]) snapshot() []*subscription[L] {
	out := make([]*subscription[L], len(r.subs))
	copy(out, r.subs)
	return out
}

func (r *registry[L]) len() int {
	return len(r.subs)
}
