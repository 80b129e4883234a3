package ratelimit

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fieldclock/internal/config"
)

const keyClockEvent = "fieldclock:clock_event:%s:%s"

// ClockEventLimiter throttles clock-in/clock-out per worker with a token
// bucket sized by the attendance policy.
type ClockEventLimiter struct {
	bucket *TokenBucket
	policy *config.PolicyHolder
}

func NewClockEventLimiter(client *redis.Client, policy *config.PolicyHolder) *ClockEventLimiter {
	if client == nil {
		return nil
	}
	return &ClockEventLimiter{
		bucket: NewTokenBucket(client),
		policy: policy,
	}
}

// Allow always admits when the limiter is not configured.
func (l *ClockEventLimiter) Allow(ctx context.Context, companyID, userID snowflake.ID) (bool, error) {
	if l == nil || l.bucket == nil {
		return true, nil
	}
	p := l.policy.Get()
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyClockEvent, companyID, userID), p.ClockEventRate, p.ClockEventBurst)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
