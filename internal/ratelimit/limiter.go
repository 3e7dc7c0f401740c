package ratelimit

import "context"

// RateLimiter controls outbound generation throughput per provider key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
