// Package store wraps the single shared key-value + list + hash + set
// backend every other component persists through. It is the only package
// that issues Redis commands; everything else speaks in terms of
// namespaced keys and typed hash fields.
package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is the namespaced handle every registry/cache is built on. It holds
// two client connections: one for ordinary request-path commands and one
// reserved for the blocking list pop used by transcript handoff, so a slow
// blocking read can never stall HTTP traffic.
type Store struct {
	rdb      *redis.Client
	blocking *redis.Client
	prefix   string
	log      zerolog.Logger
}

// Connect dials the store and verifies connectivity with a PING.
func Connect(ctx context.Context, storeURL, prefix string, log zerolog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	blockingOpts := *opts
	blocking := redis.NewClient(&blockingOpts)
	if err := blocking.Ping(ctx).Err(); err != nil {
		rdb.Close()
		blocking.Close()
		return nil, fmt.Errorf("ping store (blocking conn): %w", err)
	}

	log.Info().Str("url", maskDSN(storeURL)).Str("prefix", prefix).Msg("store connected")

	return &Store{rdb: rdb, blocking: blocking, prefix: prefix, log: log}, nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// Key namespaces a logical key under the configured prefix, e.g.
// Key("cli", clientID) -> "whisper:cli:AB12".
func (s *Store) Key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() {
	s.log.Info().Msg("closing store connections")
	s.rdb.Close()
	s.blocking.Close()
}

// PoolStats exposes the underlying client's connection pool stats for metrics.
func (s *Store) PoolStats() *redis.PoolStats {
	return s.rdb.PoolStats()
}

// --- string / get-and-set primitives ---

// GetSet atomically replaces the value at key and returns the prior value.
// An empty, non-error result means the key had no prior value. If ttl is
// non-zero, the new value expires after ttl in the same command (SET ... GET
// EX), so a crash between the write and the expiry can never leave a mark
// with no TTL — this is the first-writer-wins primitive AuthzCache is
// built on.
func (s *Store) GetSet(ctx context.Context, key, value string, ttl time.Duration) (prior string, err error) {
	args := redis.SetArgs{Get: true}
	if ttl > 0 {
		args.TTL = ttl
	}
	prior, err = s.rdb.SetArgs(ctx, key, value, args).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return prior, nil
}

// SetNX sets key to value with ttl only if it does not already exist. It
// reports whether the set happened (true) or the key already existed
// (false) — the shape the duplicate-POST suppression cache needs when it
// only cares about "did I see this before", not the prior value.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (set bool, err error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

// --- hash primitives (entity records) ---

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.rdb.HSet(ctx, key, args...).Err()
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// --- list primitives (content chunks, handoff queues) ---

func (s *Store) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.rdb.LPush(ctx, key, args...).Err()
}

func (s *Store) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.rdb.RPush(ctx, key, args...).Err()
}

// LRange returns list elements in the given range (0, -1 = entire list).
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, start, stop).Result()
}

func (s *Store) LRem(ctx context.Context, key string, value string) error {
	return s.rdb.LRem(ctx, key, 0, value).Err()
}

// Trim replaces the list contents wholesale — used to rewrite the
// conversation transcript-id list down to only live entries.
func (s *Store) Trim(ctx context.Context, key string, values []string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		args := make([]interface{}, len(values))
		for i, v := range values {
			args[i] = v
		}
		pipe.RPush(ctx, key, args...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// BRPopLPush blocks (up to timeout) on the dedicated connection, popping
// the tail of src and pushing it onto the head of dst atomically. Used by
// both the suspend-confirmation move and transcript handoff consumption.
func (s *Store) BRPopLPush(ctx context.Context, src, dst string, timeout time.Duration) (string, bool, error) {
	v, err := s.blocking.BRPopLPush(ctx, src, dst, timeout).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// --- set primitives ---

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SAdd(ctx, key, args...).Err()
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return s.rdb.SIsMember(ctx, key, member).Result()
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}
