package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"job-status-stream/internal/entity"
	"job-status-stream/internal/repository/postgresql"
	redisrepo "job-status-stream/internal/repository/redis"
	"job-status-stream/internal/stream"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrStatusUnknown        = errors.New("status unknown")
	ErrHistoryUnavailable   = errors.New("status history not configured")
	ErrInvalidJobID         = errors.New("jobId is required")
)

// Streamer is the live status stream (implementation: stream.Stream).
type Streamer interface {
	Connect(jobID entity.JobID, obs stream.Observer) (*stream.Subscription, error)
	SetVisible(visible bool)
	Visible() bool
}

// StatusCache reads the last persisted status (implementation: redisrepo.StatusCache).
type StatusCache interface {
	Get(ctx context.Context, jobID entity.JobID) (entity.StatusUpdate, error)
}

// StatusJournal reads persisted history (implementation: postgresql.StatusJournal).
type StatusJournal interface {
	History(ctx context.Context, jobID entity.JobID, limit int) ([]entity.StatusUpdate, error)
	Latest(ctx context.Context, jobID entity.JobID) (entity.StatusUpdate, error)
}

// SubscriptionView is what the local API reports for one subscription.
type SubscriptionView struct {
	ID     uuid.UUID
	JobID  entity.JobID
	Active bool
	stream.Snapshot
}

// StatusService keeps the subscriptions opened through the local API and answers
// status lookups from the persistence layer. Cache and journal may be nil.
type StatusService struct {
	stream  Streamer
	cache   StatusCache
	journal StatusJournal

	mu   sync.RWMutex
	subs map[uuid.UUID]*stream.Subscription
}

func NewStatusService(s Streamer, cache StatusCache, journal StatusJournal) *StatusService {
	return &StatusService{
		stream:  s,
		cache:   cache,
		journal: journal,
		subs:    make(map[uuid.UUID]*stream.Subscription),
	}
}

func (s *StatusService) Subscribe(jobID entity.JobID, obs stream.Observer) (uuid.UUID, error) {
	jobID = entity.JobID(strings.TrimSpace(string(jobID)))
	if jobID == "" {
		return uuid.Nil, ErrInvalidJobID
	}

	sub, err := s.stream.Connect(jobID, obs)
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	s.subs[sub.ID] = sub
	s.mu.Unlock()
	return sub.ID, nil
}

func (s *StatusService) Unsubscribe(id uuid.UUID, urgent bool) error {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.Disconnect(urgent)
	return nil
}

func (s *StatusService) Subscription(id uuid.UUID) (SubscriptionView, error) {
	s.mu.RLock()
	sub, ok := s.subs[id]
	s.mu.RUnlock()

	if !ok {
		return SubscriptionView{}, ErrSubscriptionNotFound
	}
	return SubscriptionView{
		ID:       sub.ID,
		JobID:    sub.JobID,
		Active:   sub.Active(),
		Snapshot: sub.Snapshot(),
	}, nil
}

// Subscriptions lists every open subscription.
func (s *StatusService) Subscriptions() []SubscriptionView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SubscriptionView, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, SubscriptionView{ID: sub.ID, JobID: sub.JobID, Active: sub.Active(), Snapshot: sub.Snapshot()})
	}
	return out
}

func (s *StatusService) SetVisible(visible bool) { s.stream.SetVisible(visible) }

func (s *StatusService) Visible() bool { return s.stream.Visible() }

// LastKnown returns the cached status, falling back to the newest journal entry. A miss
// in every store is ErrStatusUnknown; a store failure is returned as is unless another
// store answered.
func (s *StatusService) LastKnown(ctx context.Context, jobID entity.JobID) (entity.StatusUpdate, error) {
	var errs []error
	if s.cache != nil {
		u, err := s.cache.Get(ctx, jobID)
		switch {
		case err == nil:
			return u, nil
		case !errors.Is(err, redisrepo.ErrNotFound):
			errs = append(errs, fmt.Errorf("status cache: %w", err))
		}
	}
	if s.journal != nil {
		u, err := s.journal.Latest(ctx, jobID)
		switch {
		case err == nil:
			return u, nil
		case !errors.Is(err, postgresql.ErrNotFound):
			errs = append(errs, fmt.Errorf("status journal: %w", err))
		}
	}
	if len(errs) > 0 {
		return entity.StatusUpdate{}, errors.Join(errs...)
	}
	return entity.StatusUpdate{}, ErrStatusUnknown
}

func (s *StatusService) History(ctx context.Context, jobID entity.JobID, limit int) ([]entity.StatusUpdate, error) {
	if s.journal == nil {
		return nil, ErrHistoryUnavailable
	}
	rows, err := s.journal.History(ctx, jobID, limit)
	if errors.Is(err, postgresql.ErrNotFound) {
		return nil, ErrStatusUnknown
	}
	return rows, err
}
