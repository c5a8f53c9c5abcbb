package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-status-stream/internal/entity"
	"job-status-stream/internal/worker"
)

type memStore struct {
	mu    sync.Mutex
	saved []entity.StatusUpdate
	err   error
	gate  chan struct{}
}

func (m *memStore) put(ctx context.Context, u entity.StatusUpdate) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, u)
	return nil
}

func (m *memStore) Save(ctx context.Context, u entity.StatusUpdate) error   { return m.put(ctx, u) }
func (m *memStore) Append(ctx context.Context, u entity.StatusUpdate) error { return m.put(ctx, u) }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func TestProcessor_WritesBothStores(t *testing.T) {
	cache, journal := &memStore{}, &memStore{}
	p := worker.NewProcessor(cache, journal, zerolog.Nop())

	require.NoError(t, p.Process(context.Background(), entity.StatusUpdate{JobID: "a", Status: entity.StatusPending}))
	assert.Equal(t, 1, cache.count())
	assert.Equal(t, 1, journal.count())
}

func TestProcessor_NilStoresAndErrors(t *testing.T) {
	require.NoError(t, worker.NewProcessor(nil, nil, zerolog.Nop()).Process(context.Background(), entity.StatusUpdate{JobID: "a"}))

	journal := &memStore{err: errors.New("db down")}
	cache := &memStore{}
	err := worker.NewProcessor(cache, journal, zerolog.Nop()).Process(context.Background(), entity.StatusUpdate{JobID: "a"})
	assert.ErrorContains(t, err, "journal")
	assert.Equal(t, 1, cache.count(), "cache write is not skipped when the journal fails")
}

func TestPool_DrainsOnStop(t *testing.T) {
	cache := &memStore{}
	pool := worker.NewPool(worker.NewProcessor(cache, nil, zerolog.Nop()), 2, 16, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		assert.True(t, pool.Submit(entity.StatusUpdate{JobID: "a", Status: entity.StatusProcessing}))
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.Equal(t, 10, cache.count())
	assert.False(t, pool.Submit(entity.StatusUpdate{JobID: "late"}))
}

func TestPool_DropsWhenFull(t *testing.T) {
	cache := &memStore{gate: make(chan struct{})}
	pool := worker.NewPool(worker.NewProcessor(cache, nil, zerolog.Nop()), 1, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	// one update blocks in the worker, one fills the buffer
	require.True(t, pool.Submit(entity.StatusUpdate{JobID: "1"}))
	require.Eventually(t, func() bool { return pool.Submit(entity.StatusUpdate{JobID: "2"}) }, time.Second, time.Millisecond)
	assert.False(t, pool.Submit(entity.StatusUpdate{JobID: "3"}))

	close(cache.gate)
	cancel()
	<-done
	assert.Equal(t, 2, cache.count())
}

type slowStepCache struct {
	mu    sync.Mutex
	slow  entity.ProcessingStep
	steps map[entity.JobID][]entity.ProcessingStep
}

func (c *slowStepCache) Save(ctx context.Context, u entity.StatusUpdate) error {
	if u.ProcessingStep == c.slow {
		time.Sleep(50 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps[u.JobID] = append(c.steps[u.JobID], u.ProcessingStep)
	return nil
}

func (c *slowStepCache) last(jobID entity.JobID) []entity.ProcessingStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entity.ProcessingStep(nil), c.steps[jobID]...)
}

func TestPool_KeepsPerJobOrderAcrossWorkers(t *testing.T) {
	cache := &slowStepCache{slow: entity.StepVoiceGenerating, steps: map[entity.JobID][]entity.ProcessingStep{}}
	pool := worker.NewPool(worker.NewProcessor(cache, nil, zerolog.Nop()), 4, 64, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	jobs := []entity.JobID{"story-1", "story-2", "story-3", "story-4", "story-5"}
	for _, job := range jobs {
		require.True(t, pool.Submit(entity.StatusUpdate{JobID: job, Status: entity.StatusProcessing, ProcessingStep: entity.StepVoiceGenerating}))
		require.True(t, pool.Submit(entity.StatusUpdate{JobID: job, Status: entity.StatusProcessing, ProcessingStep: entity.StepImageGenerating}))
	}
	cancel()
	<-done

	for _, job := range jobs {
		assert.Equal(t,
			[]entity.ProcessingStep{entity.StepVoiceGenerating, entity.StepImageGenerating},
			cache.last(job), "job %s", job)
	}
}
