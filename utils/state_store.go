package utils

import (
	"context"
	"sync"
	"time"
)

type stateEntry struct {
	provider  string
	expiresAt time.Time
}

var (
	stateStore   = map[string]stateEntry{}
	stateStoreMu sync.Mutex
)

func stateKey(state string) string {
	return "oauth:state:" + state
}

// SaveState stores a single-use OAuth state bound to provider.
func SaveState(ctx context.Context, state, provider string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rc.Set(ctx, stateKey(state), provider, ttl).Err(); err != nil {
			Sugar.Warnf("save oauth state failed: %v", err)
		}
		return
	}
	stateStoreMu.Lock()
	stateStore[state] = stateEntry{provider: provider, expiresAt: time.Now().Add(ttl)}
	stateStoreMu.Unlock()
}

// ConsumeState removes the state and reports whether it was issued for provider.
func ConsumeState(ctx context.Context, state, provider string) bool {
	if state == "" {
		return false
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		v, err := rc.GetDel(ctx, stateKey(state)).Result()
		return err == nil && v == provider
	}
	stateStoreMu.Lock()
	entry, ok := stateStore[state]
	delete(stateStore, state)
	stateStoreMu.Unlock()
	return ok && entry.provider == provider && time.Now().Before(entry.expiresAt)
}
