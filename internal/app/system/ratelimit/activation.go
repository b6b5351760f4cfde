package ratelimit

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// ActivationLimiter throttles code activation attempts. It tracks both the
// client address and the signed-in user so that guessing codes is slow
// whether an attacker rotates accounts or addresses.
type ActivationLimiter struct {
	byIP   Attempts
	byUser Attempts
	log    *zap.Logger
}

// NewActivationLimiter combines an address limiter and a user limiter.
// Either may be nil to disable that dimension.
func NewActivationLimiter(byIP, byUser Attempts, logger *zap.Logger) *ActivationLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivationLimiter{byIP: byIP, byUser: byUser, log: logger}
}

// Check reports whether an activation attempt by user from r may proceed.
// A limiter that cannot answer (for example Redis being unreachable) does
// not block the attempt; the failure is logged.
func (al *ActivationLimiter) Check(ctx context.Context, r *http.Request, user string) bool {
	if al == nil {
		return true
	}
	if !al.allow(ctx, al.byIP, "ip:"+ClientIP(r)) {
		return false
	}
	if user != "" && !al.allow(ctx, al.byUser, "user:"+user) {
		return false
	}
	return true
}

func (al *ActivationLimiter) allow(ctx context.Context, a Attempts, key string) bool {
	if a == nil {
		return true
	}
	ok, err := a.Attempt(ctx, key)
	if err != nil {
		al.log.Warn("activation rate limiter unavailable; allowing attempt",
			zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

// Close releases the resources of in-process limiters. Shared limiters such
// as *RedisLimiter do not own their client and are left alone.
func (al *ActivationLimiter) Close() {
	if al == nil {
		return
	}
	for _, a := range []Attempts{al.byIP, al.byUser} {
		if c, ok := a.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
