package redis_session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jandive/jandive/config"
	"github.com/jandive/jandive/internal/session"
)

const historyKey = "jandive:history"

// Store persists session history in a Redis list so it survives restarts.
type Store struct {
	client *redis.Client
	limit  int64
}

func NewStore(ctx context.Context, cfg config.RedisConfig, limit int64) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if limit <= 0 {
		limit = 500
	}
	return &Store{client: client, limit: limit}, nil
}

func (s *Store) Append(ctx context.Context, e session.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, historyKey, raw)
	pipe.LTrim(ctx, historyKey, -s.limit, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Recent(ctx context.Context, n int) ([]session.Entry, error) {
	if n <= 0 {
		n = int(s.limit)
	}
	raws, err := s.client.LRange(ctx, historyKey, int64(-n), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]session.Entry, 0, len(raws))
	for _, raw := range raws {
		var e session.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }
