package utils

import (
	"context"
	"sync"
	"time"
)

var (
	// revoked token IDs when Redis is not configured
	revoked   = map[string]time.Time{}
	revokedMu sync.Mutex
)

func revokedKey(id string) string {
	return "jwt:revoked:" + id
}

// RevokeToken blocks a token ID until its natural expiry (logout).
func RevokeToken(ctx context.Context, id string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if id == "" || ttl <= 0 {
		return
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rc.Set(ctx, revokedKey(id), "1", ttl).Err(); err != nil {
			Sugar.Warnf("revoke token failed: %v", err)
		}
		return
	}
	revokedMu.Lock()
	revoked[id] = expiresAt
	revokedMu.Unlock()
}

// IsTokenRevoked reports whether a token ID was revoked before expiry.
// Redis errors fail open to avoid locking everybody out.
func IsTokenRevoked(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		n, err := rc.Exists(ctx, revokedKey(id)).Result()
		return err == nil && n > 0
	}
	revokedMu.Lock()
	defer revokedMu.Unlock()
	exp, ok := revoked[id]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(revoked, id)
		return false
	}
	return true
}
