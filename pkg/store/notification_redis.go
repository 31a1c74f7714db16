package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"worksheethub/pkg/catalog"
	"worksheethub/pkg/domain"
)

const (
	notificationKeyPrefix  = "notifications:"
	defaultNotificationCap = 200
	redisOpTimeout         = 3 * time.Second
)

// RedisNotificationStore keeps each user's notification feed in a
// sorted set scored by creation time, capped at a fixed length. It
// suits deployments that poll notifications frequently and do not want
// that traffic on the primary database.
type RedisNotificationStore struct {
	client *redis.Client
	cap    int64
}

// NewRedisNotificationStore builds a Redis-backed notification store.
func NewRedisNotificationStore(addr, password string) *RedisNotificationStore {
	return &RedisNotificationStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		cap: defaultNotificationCap,
	}
}

func notificationKey(userID string) string {
	return notificationKeyPrefix + userID
}

// SaveNotification writes the record into the user's feed. A record
// with an already-present id replaces the existing member, so retried
// fan-outs with deterministic ids cannot duplicate.
func (s *RedisNotificationStore) SaveNotification(n domain.Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	key := notificationKey(n.UserID)

	if err := s.removeByID(ctx, key, n.ID); err != nil {
		return err
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(n.CreatedAt.UnixNano()),
		Member: string(raw),
	}).Err(); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	// Keep only the newest entries.
	if err := s.client.ZRemRangeByRank(ctx, key, 0, -(s.cap + 1)).Err(); err != nil {
		return fmt.Errorf("trim notifications: %w", err)
	}
	return nil
}

// ListNotificationsForUser returns the newest records first.
func (s *RedisNotificationStore) ListNotificationsForUser(userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		return []domain.Notification{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	members, err := s.client.ZRevRange(ctx, notificationKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	records := make([]domain.Notification, 0, len(members))
	for _, member := range members {
		var n domain.Notification
		if err := json.Unmarshal([]byte(member), &n); err != nil {
			continue
		}
		records = append(records, n)
	}
	return records, nil
}

// MarkNotificationRead rewrites the matching member with Read set,
// preserving its score so feed order is unchanged.
func (s *RedisNotificationStore) MarkNotificationRead(userID, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	key := notificationKey(userID)
	members, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	for _, member := range members {
		raw, ok := member.Member.(string)
		if !ok {
			continue
		}
		var n domain.Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		if n.ID != id {
			continue
		}
		n.Read = true
		updated, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		if err := s.client.ZRem(ctx, key, raw).Err(); err != nil {
			return fmt.Errorf("replace notification: %w", err)
		}
		if err := s.client.ZAdd(ctx, key, redis.Z{Score: member.Score, Member: string(updated)}).Err(); err != nil {
			return fmt.Errorf("replace notification: %w", err)
		}
		return nil
	}
	return catalog.ErrNotFound
}

func (s *RedisNotificationStore) removeByID(ctx context.Context, key, id string) error {
	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	for _, member := range members {
		var n domain.Notification
		if err := json.Unmarshal([]byte(member), &n); err != nil {
			continue
		}
		if n.ID == id {
			if err := s.client.ZRem(ctx, key, member).Err(); err != nil {
				return fmt.Errorf("dedupe notification: %w", err)
			}
		}
	}
	return nil
}
