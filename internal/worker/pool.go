package worker

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"job-status-stream/internal/entity"
	xlog "job-status-stream/internal/log"
	"job-status-stream/internal/metrics"
)

const DefaultBuffer = 256

// Pool persists accepted status updates off the streaming path. Submit never blocks:
// when the buffer is full the update is dropped and counted. Updates for one job always
// go to the same worker, so they are written in the order they were submitted.
type Pool struct {
	processor *Processor
	log       zerolog.Logger

	queues []chan entity.StatusUpdate

	mu      sync.RWMutex
	stopped bool
}

// NewPool splits buffer evenly across workers; each worker owns one queue.
func NewPool(processor *Processor, workers, buffer int, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	per := buffer / workers
	if per < 1 {
		per = 1
	}
	queues := make([]chan entity.StatusUpdate, workers)
	for i := range queues {
		queues[i] = make(chan entity.StatusUpdate, per)
	}
	return &Pool{
		processor: processor,
		log:       logger,
		queues:    queues,
	}
}

// Record implements stream.Recorder.
func (p *Pool) Record(u entity.StatusUpdate) {
	p.Submit(u)
}

// Submit queues u on its job's worker and reports whether it was accepted.
func (p *Pool) Submit(u entity.StatusUpdate) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		metrics.RecorderDropped.Inc()
		return false
	}
	select {
	case p.queues[p.shard(u.JobID)] <- u:
		return true
	default:
		metrics.RecorderDropped.Inc()
		p.log.Warn().Str(xlog.FieldJobID, string(u.JobID)).Msg("recorder buffer full, update dropped")
		return false
	}
}

func (p *Pool) shard(jobID entity.JobID) int {
	return int(xxhash.Sum64String(string(jobID)) % uint64(len(p.queues)))
}

// Run starts the workers and blocks until ctx ends. Updates already queued are written
// before it returns.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info().Int("workers", len(p.queues)).Msg("recorder pool started")

	var wg sync.WaitGroup
	for i, q := range p.queues {
		wg.Add(1)
		go func(n int, q <-chan entity.StatusUpdate) {
			defer wg.Done()
			logger := p.log.With().Int("worker", n).Logger()
			for u := range q {
				// the stream is shutting down with ctx; finish queued writes regardless
				if err := p.processor.Process(context.WithoutCancel(ctx), u); err != nil {
					logger.Warn().Err(err).Str(xlog.FieldJobID, string(u.JobID)).Msg("persist status failed")
				}
			}
		}(i+1, q)
	}

	<-ctx.Done()

	p.mu.Lock()
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	wg.Wait()
	p.log.Info().Msg("recorder pool stopped")
}
