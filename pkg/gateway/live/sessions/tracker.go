// Package sessions tracks the live voice sessions of one gateway
// process so capacity can be enforced at accept time and every client
// can be warned and drained at shutdown.
package sessions

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle exposes the controls a tracked session offers the gateway.
// Cancel tears the session down; Warn pushes a notice frame to its
// client. Either may be nil.
type Handle struct {
	Cancel func()
	Warn   func(where, message string) error
}

// Tracker counts live sessions against a limit and coordinates
// draining them. A zero limit admits any number of sessions.
type Tracker struct {
	limit    int
	draining atomic.Bool

	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker(limit int) *Tracker {
	return &Tracker{
		limit:    limit,
		sessions: make(map[string]*trackedSession),
	}
}

// Register claims a session slot under sessionID. It reports false at
// capacity so the caller can refuse the connection before upgrading.
// The returned func releases the slot and is safe to call twice.
//
// The handle's controls usually do not exist yet at accept time; bind
// them with Bind once the session is constructed.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func(), ok bool) {
	if t == nil {
		return func() {}, true
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[sessionID]
	if old == nil && t.limit > 0 && len(t.sessions) >= t.limit {
		t.mu.Unlock()
		return nil, false
	}
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }, true
}

// Bind attaches the session's cancel and warn controls to an already
// registered slot.
func (t *Tracker) Bind(sessionID string, h Handle) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if entry := t.sessions[sessionID]; entry != nil {
		entry.handle = h
	}
	t.mu.Unlock()
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions != nil && t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// WarnAll pushes a notice to every tracked client, best effort.
func (t *Tracker) WarnAll(where, message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(where, message string) error
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(where, message)
		sent++
	}
	return sent
}

// CancelAll tears down every tracked session.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every session has unregistered or ctx expires,
// reporting true on a clean drain.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// SetDraining marks the tracker as draining so accept paths can start
// refusing new sessions before the existing ones are torn down.
func (t *Tracker) SetDraining(draining bool) {
	if t == nil {
		return
	}
	t.draining.Store(draining)
}

// IsDraining reports whether a drain has started.
func (t *Tracker) IsDraining() bool {
	if t == nil {
		return false
	}
	return t.draining.Load()
}

// Drain warns every client, cancels all sessions and waits for their
// run loops to exit, reporting true on a clean drain. New sessions are
// refused from the first call onward.
func (t *Tracker) Drain(ctx context.Context, message string) bool {
	if t == nil {
		return true
	}
	t.SetDraining(true)
	t.WarnAll("session", message)
	t.CancelAll()
	return t.Wait(ctx)
}
