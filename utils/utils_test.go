package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/engage/config"
)

func TestRenderBodyPlainEscapes(t *testing.T) {
	out := RenderBody("  <script>alert(1)</script>\nsecond line  ", false)
	assert.NotContains(t, out, "<script")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "<br")
	assert.Contains(t, out, "second line")
}

func TestRenderBodyMarkdown(t *testing.T) {
	out := RenderBody("**bold** see https://example.com\n<img src=x onerror=alert(1)>", true)
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, `rel="nofollow`)
	assert.NotContains(t, out, "onerror")
}

func TestPasswordRules(t *testing.T) {
	assert.ErrorIs(t, ValidatePassword("short"), ErrWeakPassword)
	_, err := HashPassword(string(make([]byte, 73)))
	assert.ErrorIs(t, err, ErrWeakPassword)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse!"))
	assert.False(t, CheckPassword("", "correct horse"))
}

func TestTokenRoundTrip(t *testing.T) {
	c, err := config.Parse(t.TempDir() + "/none.json")
	require.NoError(t, err)
	c.JWTSecret = "test-secret"
	config.Set(c)

	token, err := GenerateToken(7, "alice", time.Hour)
	require.NoError(t, err)
	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.EqualValues(t, 7, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)

	expired, err := GenerateToken(7, "alice", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired)
	assert.Error(t, err)

	c.JWTSecret = "rotated"
	config.Set(c)
	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestRevokeWithoutRedis(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsTokenRevoked(ctx, "jti-1"))
	RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour))
	assert.True(t, IsTokenRevoked(ctx, "jti-1"))

	RevokeToken(ctx, "jti-2", time.Now().Add(-time.Second))
	assert.False(t, IsTokenRevoked(ctx, "jti-2"))
	assert.False(t, IsTokenRevoked(ctx, ""))
}

func TestOAuthStateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	SaveState(ctx, "abc", "github", time.Minute)
	assert.False(t, ConsumeState(ctx, "abc", "google"))
	assert.False(t, ConsumeState(ctx, "abc", "github"))

	SaveState(ctx, "def", "github", time.Minute)
	assert.True(t, ConsumeState(ctx, "def", "github"))
	assert.False(t, ConsumeState(ctx, "def", "github"))
}

func TestAbuseChecksFailOpenWithoutRedis(t *testing.T) {
	ctx := context.Background()
	assert.True(t, CooldownTry(ctx, "comment", "10.0.0.1", time.Minute))
	assert.True(t, CooldownTry(ctx, "comment", "10.0.0.1", time.Minute))
	assert.True(t, DailyLimitCheck(ctx, "register", "10.0.0.1", 1))
	DailyIncrement(ctx, "register", "10.0.0.1")
}

func TestCommentTreeKeyIsScopedByAsset(t *testing.T) {
	assert.Equal(t, "cache:comments:asset:12:2:50", CommentTreeKey(12, 2, 50))
	assert.NotEqual(t, commentTreePrefix(1), CommentTreeKey(12, 1, 50)[:len(commentTreePrefix(1))])
}

func TestEmailCodeSingleAttempt(t *testing.T) {
	ctx := context.Background()
	code, err := NewVerificationCode(6)
	require.NoError(t, err)
	require.Len(t, code, 6)

	SaveEmailCode(ctx, 3, "Me@Example.com", code, time.Minute)
	assert.False(t, ConsumeEmailCode(ctx, 4, "me@example.com", code), "bound to the account")
	assert.True(t, ConsumeEmailCode(ctx, 3, "me@example.com ", code))
	assert.False(t, ConsumeEmailCode(ctx, 3, "me@example.com", code))

	SaveEmailCode(ctx, 3, "me@example.com", code, time.Minute)
	wrong := "x" + code[1:]
	assert.False(t, ConsumeEmailCode(ctx, 3, "me@example.com", wrong))
	assert.False(t, ConsumeEmailCode(ctx, 3, "me@example.com", code), "a wrong guess burns the code")
}
