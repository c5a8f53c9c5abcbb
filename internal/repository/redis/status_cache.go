package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"job-status-stream/internal/entity"
)

var ErrNotFound = errors.New("status not cached")

const (
	keyPrefix  = "video:status:"
	DefaultTTL = 24 * time.Hour
)

// StatusCache keeps the last known status per job, keyed the same way the video
// backend keys it.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusCache(rdb *redis.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StatusCache{rdb: rdb, ttl: ttl}
}

func Key(jobID entity.JobID) string {
	return keyPrefix + string(jobID)
}

// Save overwrites the cached status unless the cached one is terminal and u is not.
func (c *StatusCache) Save(ctx context.Context, u entity.StatusUpdate) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}

	key := Key(u.JobID)
	if u.Status.IsTerminal() {
		return c.rdb.Set(ctx, key, raw, c.ttl).Err()
	}

	// a late non-terminal write must not clobber a terminal status
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := get(ctx, tx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil && cur.Status.IsTerminal() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, raw, c.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (c *StatusCache) Get(ctx context.Context, jobID entity.JobID) (entity.StatusUpdate, error) {
	return get(ctx, c.rdb, Key(jobID))
}

func (c *StatusCache) Delete(ctx context.Context, jobID entity.JobID) error {
	return c.rdb.Del(ctx, Key(jobID)).Err()
}

func (c *StatusCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, cmd getter, key string) (entity.StatusUpdate, error) {
	raw, err := cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.StatusUpdate{}, ErrNotFound
	}
	if err != nil {
		return entity.StatusUpdate{}, err
	}

	var u entity.StatusUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return entity.StatusUpdate{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return u, nil
}
