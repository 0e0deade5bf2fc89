package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key written by RedisStore.
const keyPrefix = "gotune:run:"

// RedisStore keeps the latest checkpoint of each run in Redis. It does not
// keep a trial read model.
type RedisStore struct {
	cli    *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to the Redis server at url (redis://host:port/db).
func NewRedisStore(ctx context.Context, url string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedisStore(ctx, redis.NewClient(opts), logger)
}

func newRedisStore(ctx context.Context, cli *redis.Client, logger *slog.Logger) (*RedisStore, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cli.Options().Addr, err)
	}
	logger = logger.With("component", "store", "backend", "redis")
	logger.Info("connected to redis", "addr", cli.Options().Addr)
	return &RedisStore{cli: cli, logger: logger}, nil
}

func checkpointKey(runID string) string {
	return keyPrefix + runID + ":checkpoint"
}

func savedAtKey(runID string) string {
	return keyPrefix + runID + ":saved_at"
}

// SaveCheckpoint overwrites the run's checkpoint.
func (r *RedisStore) SaveCheckpoint(ctx context.Context, runID string, data []byte) error {
	r.logger.Debug("redis", "op", "set", "key", checkpointKey(runID), "bytes", len(data))
	_, err := r.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, checkpointKey(runID), data, 0)
		p.Set(ctx, savedAtKey(runID), time.Now().UTC().Format(time.RFC3339Nano), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the run's checkpoint, or nil if there is none.
func (r *RedisStore) LatestCheckpoint(ctx context.Context, runID string) ([]byte, error) {
	data, err := r.cli.Get(ctx, checkpointKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

// deleteRun removes everything stored for a run.
func (r *RedisStore) deleteRun(ctx context.Context, runID string) error {
	return r.cli.Del(ctx, checkpointKey(runID), savedAtKey(runID)).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.cli.Close()
}
