// Package redisstore keeps poll cursors and editing-session option caches
// in Redis, for deployments that run several runtime processes.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowpilot/flowpilot/internal/poll"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

const DefaultPrefix = "flowpilot:"

type Config struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	Prefix     string        `yaml:"prefix" default:"flowpilot:"`
	OptionsTTL time.Duration `yaml:"options_ttl" default:"30m"`
}

// NewClient returns a client for cfg and checks it is reachable.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// CursorStore implements poll.CursorStore with WATCH/MULTI so concurrent
// processes cannot both advance a cursor from the same base.
type CursorStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewCursorStore(rdb redis.UniversalClient, prefix string) *CursorStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &CursorStore{rdb: rdb, prefix: prefix}
}

func (s *CursorStore) key(k poll.Key) string {
	return s.prefix + "cursor:" + joinKey(k.WorkflowID, k.TriggerNodeID)
}

// joinKey length-prefixes each part so ids containing the separator cannot
// collide: ("a:b", "c") and ("a", "b:c") map to different keys.
func joinKey(parts ...string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

func (s *CursorStore) GetCursor(ctx context.Context, key poll.Key) (poll.Cursor, error) {
	return readCursor(ctx, s.rdb, s.key(key))
}

var errStale = errors.New("stale cursor")

func (s *CursorStore) CompareAndSetCursor(ctx context.Context, key poll.Key, expected poll.Cursor, next int64) (bool, error) {
	k := s.key(key)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readCursor(ctx, tx, k)
		if err != nil {
			return err
		}
		if cur != expected {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, next, 0)
			return nil
		})
		return err
	}, k)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("set cursor %s: %w", key, err)
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readCursor(ctx context.Context, c getter, k string) (poll.Cursor, error) {
	v, err := c.Get(ctx, k).Int64()
	if errors.Is(err, redis.Nil) {
		return poll.Cursor{}, nil
	}
	if err != nil {
		return poll.Cursor{}, fmt.Errorf("get cursor %s: %w", k, err)
	}
	return poll.Cursor{Millis: v, Set: true}, nil
}

// OptionsCache implements resolver.OptionsCache. Entries expire after ttl
// even if the session is never ended explicitly.
type OptionsCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewOptionsCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *OptionsCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &OptionsCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *OptionsCache) entryKey(k resolver.CacheKey) string {
	return c.prefix + "options:" + joinKey(k.SessionID, k.ConnectionID, k.NodeID, k.FieldID)
}

func (c *OptionsCache) sessionKey(sessionID string) string {
	return c.prefix + "options-session:" + sessionID
}

func (c *OptionsCache) Get(ctx context.Context, key resolver.CacheKey) ([]schema.Option, bool, error) {
	data, err := c.rdb.Get(ctx, c.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var opts []schema.Option
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, false, fmt.Errorf("decode cached options: %w", err)
	}
	return opts, true, nil
}

func (c *OptionsCache) Put(ctx context.Context, key resolver.CacheKey, opts []schema.Option) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	ek, sk := c.entryKey(key), c.sessionKey(key.SessionID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ek, data, c.ttl)
		pipe.SAdd(ctx, sk, ek)
		pipe.Expire(ctx, sk, c.ttl)
		return nil
	})
	return err
}

func (c *OptionsCache) EndSession(ctx context.Context, sessionID string) error {
	sk := c.sessionKey(sessionID)
	keys, err := c.rdb.SMembers(ctx, sk).Result()
	if err != nil {
		return err
	}
	return c.rdb.Del(ctx, append(keys, sk)...).Err()
}
