package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"job-status-stream/internal/entity"
	xlog "job-status-stream/internal/log"
	"job-status-stream/internal/metrics"
)

const (
	DefaultBatchWindow   = time.Second
	DefaultNotifyTimeout = 5 * time.Second
)

// Batcher coalesces disconnect notices issued within one window into a single call.
// Notification failures are logged and never reported back to local teardown.
type Batcher struct {
	notifier Notifier
	window   time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	pending []entity.JobID
	index   map[entity.JobID]struct{}
	timer   *time.Timer
	closed  bool
	// counts armed or running flush timers
	inflight sync.WaitGroup
}

func NewBatcher(n Notifier, window time.Duration, logger zerolog.Logger) *Batcher {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	return &Batcher{
		notifier: n,
		window:   window,
		timeout:  DefaultNotifyTimeout,
		log:      logger,
		index:    make(map[entity.JobID]struct{}),
	}
}

// Enqueue adds jobID to the pending set and arms the flush timer if it is not armed.
func (b *Batcher) Enqueue(jobID entity.JobID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.log.Debug().Str(xlog.FieldJobID, string(jobID)).Msg("batcher closed, disconnect notice dropped")
		return
	}
	if _, ok := b.index[jobID]; ok {
		return
	}
	b.index[jobID] = struct{}{}
	b.pending = append(b.pending, jobID)

	if b.timer == nil {
		b.inflight.Add(1)
		b.timer = time.AfterFunc(b.window, b.onTimer)
	}
}

func (b *Batcher) onTimer() {
	defer b.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	_ = b.Flush(ctx)
}

// Pending returns the ids waiting for the next flush, in enqueue order.
func (b *Batcher) Pending() []entity.JobID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]entity.JobID(nil), b.pending...)
}

func (b *Batcher) isPending(jobID entity.JobID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.index[jobID]
	return ok
}

// Flush sends every pending id in one call and clears the set and the timer.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	ids := b.pending
	b.pending = nil
	b.index = make(map[entity.JobID]struct{})
	if b.timer != nil {
		if b.timer.Stop() {
			b.inflight.Done()
		}
		b.timer = nil
	}
	b.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	err := b.notifier.DisconnectBatch(ctx, ids)
	metrics.IncDisconnectNotice("batch", err == nil)
	if err != nil {
		b.log.Warn().Err(err).Int(xlog.FieldCount, len(ids)).Msg("batch disconnect notice failed")
		return err
	}
	b.log.Debug().Int(xlog.FieldCount, len(ids)).Msg("batch disconnect notice sent")
	return nil
}

// Cancel withdraws a pending notice for jobID, used when the job is subscribed again
// before the batch went out. The timer is stopped once nothing is left to send.
func (b *Batcher) Cancel(jobID entity.JobID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.removeLocked(jobID) {
		return false
	}
	if len(b.pending) == 0 && b.timer != nil {
		if b.timer.Stop() {
			b.inflight.Done()
		}
		b.timer = nil
	}
	return true
}

func (b *Batcher) removeLocked(jobID entity.JobID) bool {
	if _, ok := b.index[jobID]; !ok {
		return false
	}
	delete(b.index, jobID)
	for i, id := range b.pending {
		if id == jobID {
			b.pending = append(b.pending[:i:i], b.pending[i+1:]...)
			break
		}
	}
	return true
}

// FlushUrgent sends an immediate single-job notice, taking jobID out of any pending batch.
func (b *Batcher) FlushUrgent(ctx context.Context, jobID entity.JobID) error {
	b.mu.Lock()
	b.removeLocked(jobID)
	b.mu.Unlock()

	err := b.notifier.Disconnect(ctx, jobID)
	metrics.IncDisconnectNotice("urgent", err == nil)
	if err != nil {
		b.log.Warn().Err(err).Str(xlog.FieldJobID, string(jobID)).Msg("urgent disconnect notice failed")
		return err
	}
	b.log.Debug().Str(xlog.FieldJobID, string(jobID)).Msg("urgent disconnect notice sent")
	return nil
}

// Close stops the timer and flushes what is still pending. Later enqueues are dropped.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		if b.timer.Stop() {
			b.inflight.Done()
		}
		b.timer = nil
	}
	b.mu.Unlock()

	b.inflight.Wait()
	return b.Flush(ctx)
}
