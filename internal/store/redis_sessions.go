package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/feed"
)

// Compile-time interface check.
var _ feed.SessionStore = (*RedisSessionStore)(nil)

const redisSessionPrefix = "feed:session:"

// redisKV is the subset of redis.Cmdable the session store uses.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSessionStore keeps feed sessions as JSON values with a TTL.
type RedisSessionStore struct {
	client redisKV
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisSessionStore creates a store on client. A zero ttl uses feed.SessionTTL.
func NewRedisSessionStore(client redis.Cmdable, ttl time.Duration) *RedisSessionStore {
	return newRedisSessionStore(client, ttl)
}

func newRedisSessionStore(client redisKV, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = feed.SessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl, now: time.Now}
}

func redisSessionKey(userID string, mode feed.Mode) string {
	return redisSessionPrefix + userID + ":" + string(mode)
}

// GetSession returns the session or nil, nil.
func (r *RedisSessionStore) GetSession(ctx context.Context, userID string, mode feed.Mode) (*feed.Session, error) {
	data, err := r.client.Get(ctx, redisSessionKey(userID, mode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed session: %w", err)
	}
	var sess feed.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode feed session: %w", err)
	}
	sess.RecentPhotoIDs = feed.AppendRecent(nil, sess.RecentPhotoIDs, feed.RecentWindow)
	return &sess, nil
}

// UpsertSession rewrites the session and refreshes its TTL.
func (r *RedisSessionStore) UpsertSession(ctx context.Context, userID string, mode feed.Mode, seed string, recentIDs []string) error {
	now := r.now().UTC()
	sess := feed.Session{
		UserID:         userID,
		Mode:           mode,
		Seed:           seed,
		RecentPhotoIDs: feed.AppendRecent(nil, recentIDs, feed.RecentWindow),
		LastSeenAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	existing, err := r.GetSession(ctx, userID, mode)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("Could not read existing feed session, overwriting")
	} else if existing != nil {
		sess.CreatedAt = existing.CreatedAt
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode feed session: %w", err)
	}
	if err := r.client.Set(ctx, redisSessionKey(userID, mode), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set feed session: %w", err)
	}
	return nil
}
