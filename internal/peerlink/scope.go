package peerlink

import "sync"

// Scope is a deterministic, LIFO teardown list realizing the scope-bound
// destruction contract: every Peer, every LinkInterface, and the Controller
// each own a Scope, and releasing it synchronously runs every registered
// cleanup in reverse registration order. A Scope without a language-level
// destructor is the portable replacement for the container-of teardown
// pattern of the original implementation this design is distilled from.
type Scope struct {
	mu       sync.Mutex
	closers  []func()
	released bool
}

// NewScope returns an empty, live Scope.
func NewScope() *Scope {
	return &Scope{}
}

// Defer registers f to run when the scope is released. Calling Defer on an
// already-released scope runs f immediately — releasing a scope must be
// irrevocable, and a caller that loses the release race should still see
// its cleanup happen.
func (s *Scope) Defer(f func()) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		f()
		return
	}
	s.closers = append(s.closers, f)
	s.mu.Unlock()
}

// Release runs every registered closer in LIFO order exactly once. It is
// safe to call Release more than once; only the first call has effect.
func (s *Scope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// Live reports whether the scope has not yet been released.
func (s *Scope) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.released
}
