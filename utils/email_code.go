package utils

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"
)

type codeEntry struct {
	code      string
	expiresAt time.Time
}

var (
	// email codes when Redis is not configured
	emailCodes   = map[string]codeEntry{}
	emailCodesMu sync.Mutex
)

// NewVerificationCode returns n random decimal digits.
func NewVerificationCode(n int) (string, error) {
	if n <= 0 {
		n = 6
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + v.Int64()))
	}
	return b.String(), nil
}

// the code is bound to both the account and the address it was mailed to
func emailCodeKey(userID uint, email string) string {
	return "verify:email:" + strconv.FormatUint(uint64(userID), 10) + ":" + strings.ToLower(strings.TrimSpace(email))
}

// SaveEmailCode stores a verification code for ttl, replacing any earlier one.
func SaveEmailCode(ctx context.Context, userID uint, email, code string, ttl time.Duration) {
	key := emailCodeKey(userID, email)
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rc.Set(ctx, key, code, ttl).Err(); err == nil {
			return
		}
		Sugar.Warnw("save email code failed, using memory", "user_id", userID)
	}
	emailCodesMu.Lock()
	emailCodes[key] = codeEntry{code: code, expiresAt: time.Now().Add(ttl)}
	emailCodesMu.Unlock()
}

// ConsumeEmailCode reports whether code matches and deletes it either way,
// so every code allows a single attempt.
func ConsumeEmailCode(ctx context.Context, userID uint, email, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	key := emailCodeKey(userID, email)
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if v, err := rc.GetDel(ctx, key).Result(); err == nil {
			return subtle.ConstantTimeCompare([]byte(v), []byte(code)) == 1
		}
	}
	emailCodesMu.Lock()
	entry, ok := emailCodes[key]
	delete(emailCodes, key)
	emailCodesMu.Unlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(entry.code), []byte(code)) == 1
}
