package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fieldclock/internal/idempotency/domain"
)

const redisKeyPrefix = "fieldclock:idem:"

type redisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore keeps records as JSON values expiring with the record TTL.
func NewRedisStore(client *redis.Client) domain.Store {
	return &redisStore{client: client, now: time.Now}
}

func (s *redisStore) Get(ctx context.Context, key string) (*domain.Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record domain.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *redisStore) PutIfAbsent(ctx context.Context, record *domain.Record) (bool, error) {
	if record == nil {
		return false, errors.New("missing_idempotency_record")
	}
	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return false, nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, redisKeyPrefix+record.Key, payload, ttl).Result()
}

// PurgeExpired is a no-op: Redis expires keys itself.
func (s *redisStore) PurgeExpired(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}
