package stream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"job-status-stream/internal/entity"
)

// Snapshot is the reactive projection a UI renders for one subscription.
type Snapshot struct {
	Update    *entity.StatusUpdate
	Err       error
	Connected bool
}

// Subscription is one observer's interest in one job.
type Subscription struct {
	ID    uuid.UUID
	JobID entity.JobID

	stream   *Stream
	observer Observer
	detached atomic.Bool

	// cbMu serialises observer callbacks; mu guards the projection only, so observers
	// may call Snapshot from inside a callback.
	cbMu      sync.Mutex
	mu        sync.Mutex
	lastSeq   uint64
	update    *entity.StatusUpdate
	err       error
	connected bool
}

func newSubscription(s *Stream, jobID entity.JobID, obs Observer) *Subscription {
	return &Subscription{
		ID:       uuid.New(),
		JobID:    jobID,
		stream:   s,
		observer: obs,
	}
}

// Disconnect releases this subscription's reference. See Stream.Disconnect.
func (s *Subscription) Disconnect(urgent bool) {
	s.stream.Disconnect(s, urgent)
}

// Active reports whether the subscription still receives updates.
func (s *Subscription) Active() bool {
	return !s.detached.Load()
}

func (s *Subscription) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Update: s.update, Err: s.err, Connected: s.connected}
}

func (s *Subscription) detach() bool {
	return s.detached.CompareAndSwap(false, true)
}

// deliver hands u to the observer unless the subscription was detached or has already
// seen seq.
func (s *Subscription) deliver(seq uint64, u entity.StatusUpdate) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	if s.detached.Load() {
		return
	}
	s.mu.Lock()
	if seq <= s.lastSeq {
		s.mu.Unlock()
		return
	}
	s.lastSeq = seq
	s.update = &u
	s.err = nil
	s.mu.Unlock()

	s.observer.OnUpdate(u)
}

func (s *Subscription) fail(err error) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	if s.detached.Load() {
		return
	}
	s.mu.Lock()
	s.err = err
	s.connected = false
	s.mu.Unlock()

	s.observer.OnError(err)
}

func (s *Subscription) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
