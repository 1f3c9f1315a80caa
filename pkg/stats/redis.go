package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in Redis hashes:
//
//	<prefix>:total              outcome -> count
//	<prefix>:provider:<name>    outcome -> count
//	<prefix>:kind:<kind>        outcome -> count
//	<prefix>:minute:<yyyymmddhhmm> outcome -> count (expires after ttl)
//
// The provider and kind names are tracked in sets so Snapshot can find them.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	// ttl applies to the per-minute buckets only; totals never expire.
	ttl time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithTTL sets the expiry of per-minute buckets.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "intelgate:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to addr and checks the connection with a ping.
func Dial(ctx context.Context, addr string, opts ...RedisOption) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis stats ping: %w", err)
	}
	return NewRedisStore(rdb, opts...), nil
}

func (s *RedisStore) minuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

// Record counts one event in a single pipeline.
func (s *RedisStore) Record(ctx context.Context, e models.Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	field := string(e.Outcome)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucket := s.minuteKey(at)
	pipe.HIncrBy(ctx, bucket, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucket, s.ttl)
	}

	if e.Provider != "" {
		pipe.SAdd(ctx, s.prefix+":providers", e.Provider)
		pipe.HIncrBy(ctx, s.prefix+":provider:"+e.Provider, field, 1)
	}
	if e.Kind != "" {
		pipe.SAdd(ctx, s.prefix+":kinds", string(e.Kind))
		pipe.HIncrBy(ctx, s.prefix+":kind:"+string(e.Kind), field, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Snapshot reads every counter hash.
func (s *RedisStore) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		ByProvider: make(map[string]Counters),
		ByKind:     make(map[string]Counters),
	}

	total, err := s.counters(ctx, s.prefix+":total")
	if err != nil {
		return snap, err
	}
	snap.Total = total

	if err := s.group(ctx, "providers", "provider", snap.ByProvider); err != nil {
		return snap, err
	}
	if err := s.group(ctx, "kinds", "kind", snap.ByKind); err != nil {
		return snap, err
	}
	return snap, nil
}

// Minute returns the counters of the bucket containing at.
func (s *RedisStore) Minute(ctx context.Context, at time.Time) (Counters, error) {
	return s.counters(ctx, s.minuteKey(at))
}

func (s *RedisStore) group(ctx context.Context, set, prefix string, out map[string]Counters) error {
	names, err := s.rdb.SMembers(ctx, s.prefix+":"+set).Result()
	if err != nil {
		return fmt.Errorf("read %s: %w", set, err)
	}
	for _, name := range names {
		c, err := s.counters(ctx, s.prefix+":"+prefix+":"+name)
		if err != nil {
			return err
		}
		out[name] = c
	}
	return nil
}

func (s *RedisStore) counters(ctx context.Context, key string) (Counters, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	c := make(Counters, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s[%s]: %w", key, field, err)
		}
		c[models.Outcome(field)] = n
	}
	return c, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
