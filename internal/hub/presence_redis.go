package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/config"
	"github.com/chaincast/session/internal/domain"
)

const defaultKeyPrefix = "chaincast:"

// RedisPresence keeps one set of user ids per room.
type RedisPresence struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// DialRedis connects and pings the configured server.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info().Str("module", "hub.presence").Str("addr", cfg.Addr).Msg("redis connected")
	return NewRedisPresence(client, ""), nil
}

func NewRedisPresence(client *redis.Client, keyPrefix string) *RedisPresence {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisPresence{client: client, keyPrefix: keyPrefix, ttl: 12 * time.Hour}
}

func (r *RedisPresence) membersKey(room domain.RoomID) string {
	return fmt.Sprintf("%sroom:%s:members", r.keyPrefix, room)
}

func (r *RedisPresence) Add(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	key := r.membersKey(room)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, string(user))
	// stale sets from crashed instances expire on their own
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: add %s to %s: %w", user, key, err)
	}
	return nil
}

func (r *RedisPresence) Remove(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	key := r.membersKey(room)
	if err := r.client.SRem(ctx, key, string(user)).Err(); err != nil {
		return fmt.Errorf("redis: remove %s from %s: %w", user, key, err)
	}
	return nil
}

func (r *RedisPresence) Count(ctx context.Context, room domain.RoomID) (int, error) {
	key := r.membersKey(room)
	n, err := r.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count %s: %w", key, err)
	}
	return int(n), nil
}

func (r *RedisPresence) Clear(ctx context.Context, room domain.RoomID) error {
	key := r.membersKey(room)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: clear %s: %w", key, err)
	}
	return nil
}

func (r *RedisPresence) Close() error { return r.client.Close() }
