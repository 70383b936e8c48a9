package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billarchive/internal/config"
)

const keyTriggerCaller = "billarchive:trigger:caller:%s"

// TriggerLimiter throttles the archive trigger endpoints per caller.
type TriggerLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewTriggerLimiter(cfg config.Config, client *redis.Client) (*TriggerLimiter, error) {
	limitCfg := cfg.TriggerRateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("trigger rate limit requires redis")
	}
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		return nil, errors.New("trigger rate limit must be positive")
	}
	return &TriggerLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.Rate,
		burst:   limitCfg.Burst,
	}, nil
}

func (l *TriggerLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *TriggerLimiter) AllowCaller(ctx context.Context, caller string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyTriggerCaller, strings.TrimSpace(caller)), l.rate, l.burst)
}
