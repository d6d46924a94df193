package httpapi

import (
	"sync"
	"sync/atomic"
)

// SessionTracker counts live dictation sessions and supports graceful
// draining. When draining, new sessions are refused while in-flight ones
// finish naturally.
//
// mu makes the draining check and wg.Add in Add atomic, so no session can
// slip in between StartDraining and Wait.
type SessionTracker struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{}
}

// Add registers a new session. It returns false while draining.
func (t *SessionTracker) Add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return false
	}
	t.wg.Add(1)
	t.count.Add(1)
	return true
}

// Done marks a session as finished. Call exactly once per successful Add.
func (t *SessionTracker) Done() {
	t.count.Add(-1)
	t.wg.Done()
}

// StartDraining makes every later Add return false.
func (t *SessionTracker) StartDraining() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.draining = true
}

func (t *SessionTracker) IsDraining() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draining
}

// ActiveCount returns the number of live sessions.
func (t *SessionTracker) ActiveCount() int64 {
	return t.count.Load()
}

// Wait blocks until every added session is done.
func (t *SessionTracker) Wait() {
	t.wg.Wait()
}
