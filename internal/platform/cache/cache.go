// Package cache provides an optional read cache for task board listings.
// The redis implementation is used when an address is configured; the
// no-op implementation keeps call sites unconditional otherwise.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/madfam-io/madlab/internal/app/domain/task"
	"github.com/madfam-io/madlab/pkg/logger"
)

// TaskCache caches task listings keyed by project and filter.
type TaskCache interface {
	GetTasks(ctx context.Context, key string) ([]task.Task, bool)
	SetTasks(ctx context.Context, key string, tasks []task.Task)
	InvalidateProject(ctx context.Context, projectID string)
}

const keyPrefix = "madlab:tasks"

// Key derives the cache key for a project listing with the given filter.
func Key(projectID string, f task.Filter) string {
	return strings.Join([]string{
		keyPrefix, projectID, string(f.Status), string(f.Priority), f.AssigneeID,
	}, ":")
}

// Noop is a TaskCache that caches nothing.
type Noop struct{}

func (Noop) GetTasks(context.Context, string) ([]task.Task, bool) { return nil, false }
func (Noop) SetTasks(context.Context, string, []task.Task)        {}
func (Noop) InvalidateProject(context.Context, string)            {}

// Redis is a TaskCache backed by a redis instance.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

var _ TaskCache = (*Redis)(nil)

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration, log *logger.Logger) (*Redis, error) {
	if log == nil {
		log = logger.NewDefault("cache")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl, log: log}, nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) GetTasks(ctx context.Context, key string) ([]task.Task, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.WithError(err).Debug("cache read failed")
		}
		return nil, false
	}
	var tasks []task.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, false
	}
	return tasks, true
}

func (r *Redis) SetTasks(ctx context.Context, key string, tasks []task.Task) {
	raw, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		r.log.WithError(err).Debug("cache write failed")
	}
}

func (r *Redis) InvalidateProject(ctx context.Context, projectID string) {
	pattern := fmt.Sprintf("%s:%s:*", keyPrefix, projectID)
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.log.WithError(err).Debug("cache invalidation failed")
	}
}
