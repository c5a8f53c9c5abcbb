package stream

import (
	"context"
	"sync"

	"job-status-stream/internal/entity"
)

// Entry is the registry record for one job's shared connection. All fields are guarded
// by the owning Registry's mutex and only registry methods change them.
type Entry struct {
	jobID    entity.JobID
	refCount int
	subs     []*Subscription

	live     bool
	terminal bool
	removed  bool
	last     *entity.StatusUpdate
	seq      uint64
	retry    RetryState

	conn   Conn
	cancel context.CancelFunc

	// wake interrupts a pending reconnect wait; buffered so kicks never block
	wake chan struct{}
}

func (e *Entry) JobID() entity.JobID { return e.jobID }

func (e *Entry) kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

type entryView struct {
	refCount int
	live     bool
	terminal bool
	last     *entity.StatusUpdate
	seq      uint64
	retry    RetryState
}

// Registry maps job ids to their single shared connection entry.
type Registry struct {
	mu      sync.Mutex
	entries map[entity.JobID]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[entity.JobID]*Entry)}
}

// Acquire attaches sub to jobID's entry, creating the entry with refCount 1 when none
// exists. created reports whether the caller must start the connection.
func (r *Registry) Acquire(jobID entity.JobID, sub *Subscription) (e *Entry, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok {
		e = &Entry{jobID: jobID, wake: make(chan struct{}, 1)}
		r.entries[jobID] = e
		created = true
	}
	e.refCount++
	if sub != nil {
		e.subs = append(e.subs, sub)
	}
	return e, created
}

// Release detaches sub and returns the remaining refCount. When it reaches zero the
// entry is removed in the same call and returned for teardown. Releasing a subscription
// that is not attached changes nothing.
func (r *Registry) Release(jobID entity.JobID, sub *Subscription) (refCount int, removed *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok {
		return 0, nil
	}
	if sub != nil {
		idx := -1
		for i, s := range e.subs {
			if s == sub {
				idx = i
				break
			}
		}
		if idx < 0 {
			return e.refCount, nil
		}
		e.subs = append(e.subs[:idx:idx], e.subs[idx+1:]...)
	}
	if e.refCount > 0 {
		e.refCount--
	}
	if e.refCount > 0 {
		return e.refCount, nil
	}
	r.deleteLocked(e)
	return 0, e
}

// Remove unconditionally deletes jobID's entry and returns it, or nil.
func (r *Registry) Remove(jobID entity.JobID) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok {
		return nil
	}
	r.deleteLocked(e)
	return e
}

// RemoveAll empties the registry and returns what it held.
func (r *Registry) RemoveAll() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	for _, e := range out {
		r.deleteLocked(e)
	}
	return out
}

// RefCount reports the subscriber count for jobID.
func (r *Registry) RefCount(jobID entity.JobID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok {
		return 0, false
	}
	return e.refCount, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries returns a snapshot of the registered entries.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *Registry) deleteLocked(e *Entry) {
	if cur, ok := r.entries[e.jobID]; ok && cur == e {
		delete(r.entries, e.jobID)
	}
	e.removed = true
	e.live = false
}

// removeEntry deletes e only if it is still the registered entry for its job.
func (r *Registry) removeEntry(e *Entry) ([]*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.removed {
		return nil, false
	}
	subs := append([]*Subscription(nil), e.subs...)
	r.deleteLocked(e)
	return subs, true
}

func (r *Registry) start(e *Entry, cancel context.CancelFunc, retry RetryState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.cancel = cancel
	e.retry = retry
}

func (r *Registry) view(e *Entry) entryView {
	r.mu.Lock()
	defer r.mu.Unlock()

	return entryView{
		refCount: e.refCount,
		live:     e.live,
		terminal: e.terminal,
		last:     e.last,
		seq:      e.seq,
		retry:    e.retry,
	}
}

// attachConn records an opened transport. It fails when e was removed meanwhile; the
// caller then owns conn and must close it.
func (r *Registry) attachConn(e *Entry, conn Conn) ([]*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.removed {
		return nil, false
	}
	e.conn = conn
	e.live = true
	e.retry.Attempts = 0
	return append([]*Subscription(nil), e.subs...), true
}

// takeConn hands the attached transport to exactly one caller.
func (r *Registry) takeConn(e *Entry) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := e.conn
	e.conn = nil
	e.live = false
	return c
}

// markDown records a transport failure and returns the new attempt count.
func (r *Registry) markDown(e *Entry) (RetryState, []*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.removed {
		return RetryState{}, nil, false
	}
	e.live = false
	e.retry.Attempts++
	return e.retry, append([]*Subscription(nil), e.subs...), true
}

// observe stores u as the last known status and returns the sequence number together
// with the subscribers attached right now.
func (r *Registry) observe(e *Entry, u entity.StatusUpdate) (uint64, []*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.removed || e.terminal {
		return 0, nil, false
	}
	e.seq++
	e.last = &u
	e.retry.Attempts = 0
	if u.Status.IsTerminal() {
		e.terminal = true
	}
	return e.seq, append([]*Subscription(nil), e.subs...), true
}

// stale lists entries that are neither live nor terminal.
func (r *Registry) stale() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Entry
	for _, e := range r.entries {
		if !e.live && !e.terminal {
			out = append(out, e)
		}
	}
	return out
}
