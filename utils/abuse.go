package utils

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Per-IP throttles for registration and guest comments. Every check fails
// open when Redis is missing or erroring.

func abuseKey(scope, kind, ip string, extra ...string) string {
	key := "abuse:" + scope + ":" + kind + ":" + ip
	for _, e := range extra {
		key += ":" + e
	}
	return key
}

// CooldownTry reports whether ip may act in scope again; a true result starts
// a new cooldown window.
func CooldownTry(ctx context.Context, scope, ip string, window time.Duration) bool {
	rc := GetRedis()
	if rc == nil || window <= 0 {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	ok, err := rc.SetNX(ctx, abuseKey(scope, "cooldown", ip), "1", window).Result()
	if err != nil {
		return true
	}
	return ok
}

// DailyLimitCheck reports whether ip is still below limit successes today.
func DailyLimitCheck(ctx context.Context, scope, ip string, limit int) bool {
	rc := GetRedis()
	if rc == nil || limit <= 0 {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	n, err := rc.Get(ctx, abuseKey(scope, "day", ip, time.Now().Format("20060102"))).Int()
	if errors.Is(err, redis.Nil) {
		return true
	}
	if err != nil {
		return true
	}
	return n < limit
}

// DailyIncrement counts one success for ip today.
func DailyIncrement(ctx context.Context, scope, ip string) {
	rc := GetRedis()
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	key := abuseKey(scope, "day", ip, time.Now().Format("20060102"))
	if err := rc.Incr(ctx, key).Err(); err == nil {
		_ = rc.Expire(ctx, key, 24*time.Hour).Err()
	}
}
