package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-status-stream/internal/auth"
	"job-status-stream/internal/entity"
	"job-status-stream/internal/repository/postgresql"
	redisrepo "job-status-stream/internal/repository/redis"
	"job-status-stream/internal/service"
	"job-status-stream/internal/stream"
)

// ---- fakes ----

type idleTransport struct{}

func (idleTransport) Open(ctx context.Context, jobID entity.JobID, token string) (stream.Conn, error) {
	return &idleConn{closed: make(chan struct{})}, nil
}

type idleConn struct{ closed chan struct{} }

func (c *idleConn) Recv(ctx context.Context) (stream.Frame, error) {
	select {
	case <-ctx.Done():
		return stream.Frame{}, ctx.Err()
	case <-c.closed:
		return stream.Frame{}, errors.New("closed")
	}
}

func (c *idleConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Disconnect(context.Context, entity.JobID) error        { return nil }
func (nopNotifier) DisconnectBatch(context.Context, []entity.JobID) error { return nil }

type cacheStub map[entity.JobID]entity.StatusUpdate

func (c cacheStub) Get(ctx context.Context, id entity.JobID) (entity.StatusUpdate, error) {
	u, ok := c[id]
	if !ok {
		return entity.StatusUpdate{}, redisrepo.ErrNotFound
	}
	return u, nil
}

type journalStub struct {
	rows []entity.StatusUpdate
}

func (j *journalStub) History(ctx context.Context, id entity.JobID, limit int) ([]entity.StatusUpdate, error) {
	return j.rows, nil
}

func (j *journalStub) Latest(ctx context.Context, id entity.JobID) (entity.StatusUpdate, error) {
	if len(j.rows) == 0 {
		return entity.StatusUpdate{}, postgresql.ErrNotFound
	}
	return j.rows[len(j.rows)-1], nil
}

// ---- helpers ----

func newStream(t *testing.T) *stream.Stream {
	t.Helper()
	s, err := stream.New(stream.Options{
		Transport:   idleTransport{},
		Tokens:      auth.Static("t"),
		Notifier:    nopNotifier{},
		BatchWindow: 10 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

// ---- tests ----

func TestStatusService_SubscribeLifecycle(t *testing.T) {
	st := newStream(t)
	svc := service.NewStatusService(st, nil, nil)

	id, err := svc.Subscribe(" job-1 ", nil)
	require.NoError(t, err)

	view, err := svc.Subscription(id)
	require.NoError(t, err)
	assert.Equal(t, entity.JobID("job-1"), view.JobID)
	assert.True(t, view.Active)
	assert.Len(t, svc.Subscriptions(), 1)

	n, ok := st.Registry().RefCount("job-1")
	require.True(t, ok)
	assert.Equal(t, 1, n)

	require.NoError(t, svc.Unsubscribe(id, true))
	assert.ErrorIs(t, svc.Unsubscribe(id, true), service.ErrSubscriptionNotFound)
	_, err = svc.Subscription(id)
	assert.ErrorIs(t, err, service.ErrSubscriptionNotFound)
	assert.Zero(t, st.Registry().Len())
}

func TestStatusService_SubscribeValidation(t *testing.T) {
	svc := service.NewStatusService(newStream(t), nil, nil)
	_, err := svc.Subscribe("  ", nil)
	assert.ErrorIs(t, err, service.ErrInvalidJobID)
	assert.ErrorIs(t, svc.Unsubscribe(uuid.New(), false), service.ErrSubscriptionNotFound)
}

func TestStatusService_Visibility(t *testing.T) {
	svc := service.NewStatusService(newStream(t), nil, nil)
	assert.True(t, svc.Visible())
	svc.SetVisible(false)
	assert.False(t, svc.Visible())
}

func TestStatusService_LastKnown(t *testing.T) {
	cache := cacheStub{"a": {JobID: "a", Status: entity.StatusProcessing}}
	journal := &journalStub{rows: []entity.StatusUpdate{
		{JobID: "b", Status: entity.StatusPending},
		{JobID: "b", Status: entity.StatusCompleted},
	}}
	svc := service.NewStatusService(newStream(t), cache, journal)
	ctx := context.Background()

	u, err := svc.LastKnown(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, u.Status)

	u, err = svc.LastKnown(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, u.Status)

	_, err = service.NewStatusService(newStream(t), cache, nil).LastKnown(ctx, "zzz")
	assert.ErrorIs(t, err, service.ErrStatusUnknown)
}

type failingCache struct{ err error }

func (c failingCache) Get(context.Context, entity.JobID) (entity.StatusUpdate, error) {
	return entity.StatusUpdate{}, c.err
}

func TestStatusService_LastKnown_StoreFailureIsNotUnknown(t *testing.T) {
	ctx := context.Background()
	down := errors.New("dial tcp: connection refused")

	_, err := service.NewStatusService(newStream(t), failingCache{err: down}, nil).LastKnown(ctx, "a")
	assert.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, service.ErrStatusUnknown)

	// the journal still answers when only the cache is down
	journal := &journalStub{rows: []entity.StatusUpdate{{JobID: "a", Status: entity.StatusFailed}}}
	u, err := service.NewStatusService(newStream(t), failingCache{err: down}, journal).LastKnown(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, u.Status)

	_, err = service.NewStatusService(newStream(t), failingCache{err: redisrepo.ErrNotFound}, &journalStub{}).LastKnown(ctx, "a")
	assert.ErrorIs(t, err, service.ErrStatusUnknown)
}

func TestStatusService_History(t *testing.T) {
	_, err := service.NewStatusService(newStream(t), nil, nil).History(context.Background(), "a", 10)
	assert.ErrorIs(t, err, service.ErrHistoryUnavailable)

	journal := &journalStub{rows: []entity.StatusUpdate{{JobID: "a", Status: entity.StatusPending}}}
	rows, err := service.NewStatusService(newStream(t), nil, journal).History(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
