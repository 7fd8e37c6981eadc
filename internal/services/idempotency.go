package services

import (
	"context"
	"time"

	"github.com/campusmart/backend/internal/logger"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseLease deletes the lease only if this process still owns it
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IdempotencyGuard collapses concurrent webhook deliveries and verification
// polls for one reference into a single in-flight attempt. The conditional
// status update in the ledger stays the authority; the guard fails open.
type IdempotencyGuard struct {
	redis   *redis.Client
	ttl     time.Duration
	owner   string
	metrics *Metrics
}

func NewIdempotencyGuard(rdb *redis.Client, ttl time.Duration, metrics *Metrics) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &IdempotencyGuard{redis: rdb, ttl: ttl, owner: uuid.NewString(), metrics: metrics}
}

func leaseKey(key string) string { return "wallet:lease:" + key }

// Claim tries to take the lease for key. When another caller holds it, ok is
// false and the caller should answer from stored state.
func (g *IdempotencyGuard) Claim(ctx context.Context, source, key string) (release func(), ok bool) {
	noop := func() {}
	if g == nil || g.redis == nil {
		return noop, true
	}

	acquired, err := g.redis.SetNX(ctx, leaseKey(key), g.owner, g.ttl).Result()
	if err != nil {
		logger.Warnf("[IDEMPOTENCY] lease for %s unavailable, continuing: %v", key, err)
		return noop, true
	}
	if !acquired {
		g.metrics.IdempotentReplay(source)
		return noop, false
	}

	return func() {
		// Outlive a cancelled request context so the lease is not left behind
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseLease.Run(rctx, g.redis, []string{leaseKey(key)}, g.owner).Err(); err != nil && err != redis.Nil {
			logger.Warnf("[IDEMPOTENCY] release of %s failed: %v", key, err)
		}
	}, true
}

// Lock is a named mutex for background jobs such as the reconciliation sweep
func (g *IdempotencyGuard) Lock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool) {
	if g == nil || g.redis == nil {
		return func() {}, true
	}
	key := "wallet:mutex:" + name
	acquired, err := g.redis.SetNX(ctx, key, g.owner, ttl).Result()
	if err != nil {
		logger.Warnf("[IDEMPOTENCY] mutex %s unavailable, continuing: %v", name, err)
		return func() {}, true
	}
	if !acquired {
		return func() {}, false
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseLease.Run(rctx, g.redis, []string{key}, g.owner).Err(); err != nil && err != redis.Nil {
			logger.Warnf("[IDEMPOTENCY] release of mutex %s failed: %v", name, err)
		}
	}, true
}
