package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"job-status-stream/internal/entity"
)

var ErrNotFound = errors.New("not found")

const DefaultHistoryLimit = 100

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// StatusJournal is an append-only log of every status update the client accepted.
type StatusJournal struct {
	db DB
}

func NewStatusJournal(db DB) *StatusJournal {
	return &StatusJournal{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS job_status_events (
    id              BIGSERIAL PRIMARY KEY,
    job_id          TEXT        NOT NULL,
    status          TEXT        NOT NULL,
    processing_step TEXT,
    error_message   TEXT,
    video_url       TEXT,
    occurred_at     TIMESTAMPTZ NOT NULL,
    recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS job_status_events_job_idx ON job_status_events (job_id, id);
`

func (j *StatusJournal) EnsureSchema(ctx context.Context) error {
	_, err := j.db.Exec(ctx, schema)
	return err
}

func (j *StatusJournal) Append(ctx context.Context, u entity.StatusUpdate) error {
	const q = `
INSERT INTO job_status_events (job_id, status, processing_step, error_message, video_url, occurred_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6);
`
	occurred := u.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	_, err := j.db.Exec(ctx, q,
		string(u.JobID),
		string(u.Status),
		string(u.ProcessingStep),
		u.ErrorMessage,
		u.VideoURL,
		occurred,
	)
	return err
}

// History returns up to limit updates for jobID, oldest first.
func (j *StatusJournal) History(ctx context.Context, jobID entity.JobID, limit int) ([]entity.StatusUpdate, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}

	const q = `
SELECT job_id, status, processing_step, error_message, video_url, occurred_at
FROM (
    SELECT * FROM job_status_events WHERE job_id = $1 ORDER BY id DESC LIMIT $2
) recent
ORDER BY id;
`
	rows, err := j.db.Query(ctx, q, string(jobID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.StatusUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Latest returns the newest journaled update for jobID.
func (j *StatusJournal) Latest(ctx context.Context, jobID entity.JobID) (entity.StatusUpdate, error) {
	const q = `
SELECT job_id, status, processing_step, error_message, video_url, occurred_at
FROM job_status_events
WHERE job_id = $1
ORDER BY id DESC
LIMIT 1;
`
	u, err := scanUpdate(j.db.QueryRow(ctx, q, string(jobID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.StatusUpdate{}, ErrNotFound
		}
		return entity.StatusUpdate{}, err
	}
	return u, nil
}

func scanUpdate(row pgx.Row) (entity.StatusUpdate, error) {
	var (
		u          entity.StatusUpdate
		jobID      string
		status     string
		step       *string // NULL => nil
		errMessage *string
		videoURL   *string
	)
	if err := row.Scan(&jobID, &status, &step, &errMessage, &videoURL, &u.OccurredAt); err != nil {
		return entity.StatusUpdate{}, err
	}

	u.JobID = entity.JobID(jobID)
	u.Status = entity.Status(status)
	if step != nil {
		u.ProcessingStep = entity.ProcessingStep(*step)
	}
	if errMessage != nil {
		u.ErrorMessage = *errMessage
	}
	if videoURL != nil {
		u.VideoURL = *videoURL
	}
	return u, nil
}
