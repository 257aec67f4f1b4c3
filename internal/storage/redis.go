package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	logx "ghwatch/pkg/logx"
)

const (
	redisCursorsKey = "ghwatch:cursors"
	redisAuditKey   = "ghwatch:audit"
)

type redisStore struct {
	rdb   *redis.Client
	log   logx.Logger
	limit int64
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("storage.url is required for redis driver")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedisStore(redis.NewClient(opt), cfg.AuditLimit, log)
}

func newRedisStore(rdb *redis.Client, limit int64, log logx.Logger) (*redisStore, error) {
	if limit <= 0 {
		limit = 10000
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisStore{rdb: rdb, log: log, limit: limit}, nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) SaveCursors(ctx context.Context, cursors map[string]time.Time) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, redisCursorsKey)
		if len(cursors) == 0 {
			return nil
		}
		vals := make(map[string]any, len(cursors))
		for id, at := range cursors {
			vals[id] = at.UTC().Format(time.RFC3339Nano)
		}
		p.HSet(ctx, redisCursorsKey, vals)
		return nil
	})
	return err
}

func (s *redisStore) LoadCursors(ctx context.Context) (map[string]time.Time, error) {
	raw, err := s.rdb.HGetAll(ctx, redisCursorsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(raw))
	for id, v := range raw {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			s.log.Warn("skipping malformed cursor", logx.String("entity", id), logx.Err(err))
			continue
		}
		out[id] = at
	}
	return out, nil
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := msgpack.Marshal(&e)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, redisAuditKey, b)
		p.LTrim(ctx, redisAuditKey, -s.limit, -1)
		return nil
	})
	return err
}
