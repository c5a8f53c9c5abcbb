package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"job-status-stream/internal/entity"
	xlog "job-status-stream/internal/log"
)

const writeTimeout = 3 * time.Second

// StatusCache holds the last known status per job (implementation: redisrepo.StatusCache).
type StatusCache interface {
	Save(ctx context.Context, u entity.StatusUpdate) error
}

// StatusJournal appends every update (implementation: postgresql.StatusJournal).
type StatusJournal interface {
	Append(ctx context.Context, u entity.StatusUpdate) error
}

// Processor writes one update to every configured store. Either store may be nil.
type Processor struct {
	cache   StatusCache
	journal StatusJournal
	log     zerolog.Logger
}

func NewProcessor(cache StatusCache, journal StatusJournal, logger zerolog.Logger) *Processor {
	return &Processor{cache: cache, journal: journal, log: logger}
}

func (p *Processor) Process(ctx context.Context, u entity.StatusUpdate) error {
	start := time.Now()

	var errs []error
	if p.cache != nil {
		if err := p.write(ctx, p.cache.Save, u); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if p.journal != nil {
		if err := p.write(ctx, p.journal.Append, u); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}

	p.log.Debug().
		Str(xlog.FieldJobID, string(u.JobID)).
		Str(xlog.FieldStatus, string(u.Status)).
		Dur("duration", time.Since(start)).
		Bool("ok", len(errs) == 0).
		Msg("status persisted")
	return errors.Join(errs...)
}

func (p *Processor) write(ctx context.Context, fn func(context.Context, entity.StatusUpdate) error, u entity.StatusUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return fn(ctx, u)
}
