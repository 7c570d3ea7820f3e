package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/m3rciful/botmaker/core/logger"
)

// RedisStore checkpoints sessions in Redis so a restart does not drop
// conversations in flight. Each session lives under <prefix><userID> and
// expires after the idle timeout.
type RedisStore struct {
	client *goredis.Client
	prefix string
	idle   time.Duration
	codec  *Codec
	now    func() time.Time
}

// NewRedisStore wires a store over an existing client.
func NewRedisStore(client *goredis.Client, prefix string, idle time.Duration, codec *Codec) *RedisStore {
	if codec == nil {
		codec = NewCodec()
	}
	return &RedisStore{client: client, prefix: prefix, idle: idle, codec: codec, now: time.Now}
}

func (r *RedisStore) key(userID int64) string {
	return r.prefix + strconv.FormatInt(userID, 10)
}

// Get loads the user's session. A payload that no longer decodes is
// discarded and reported as absent.
func (r *RedisStore) Get(ctx context.Context, userID int64) (*Session, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get redis session: %w", err)
	}

	s, err := r.codec.Decode(data)
	if err != nil {
		logger.Session.Warn("dropping undecodable session",
			slog.String("event", "session.decode"),
			slog.Int64("user_id", userID),
			logger.Err(err),
		)
		_ = r.client.Del(ctx, r.key(userID)).Err()
		return nil, nil
	}
	return s, nil
}

// Set writes s and refreshes its expiry.
func (r *RedisStore) Set(ctx context.Context, userID int64, s *Session) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if s == nil {
		return r.Clear(ctx, userID)
	}
	stored := *s
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = r.now()
	}
	data, err := r.codec.Encode(&stored)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(userID), data, r.idle).Err(); err != nil {
		return fmt.Errorf("set redis session: %w", err)
	}
	return nil
}

// Clear deletes the user's session.
func (r *RedisStore) Clear(ctx context.Context, userID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("clear redis session: %w", err)
	}
	return nil
}
