package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/engage/config"
	"github.com/cppla/engage/models"
	"github.com/cppla/engage/services"
	"github.com/cppla/engage/spam"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type captureMailer struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (m *captureMailer) Send(_ context.Context, to []string, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rcpt := range to {
		m.bodies[rcpt] = body
	}
	return nil
}

func (m *captureMailer) codeFor(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return regexp.MustCompile(`\d{6}`).FindString(m.bodies[email])
}

type harness struct {
	t      *testing.T
	router http.Handler
	mail   *captureMailer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg, err := config.Parse(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	cfg.JWTSecret = "router-test"
	cfg.GinMode = "test"
	cfg.GinPath = ""
	cfg.RateLimitPerMinute = 1000
	cfg.AdminUsernames = []string{"mod"}
	cfg.Comments.ModerateGuests = true
	cfg.Cleanup.Enabled = false
	config.Set(cfg)

	db, err := gorm.Open(gormlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Asset{}, &models.Comment{}))

	chain := spam.NewChain(zap.NewNop(), time.Second, spam.NewWordList([]string{"casino"}, []string{"viagra"}))
	comments := services.NewCommentService(db, chain, cfg, zap.NewNop())
	cleanup := services.NewCleanupService(comments.Comments(), 10, zap.NewNop())
	mail := &captureMailer{bodies: map[string]string{}}
	router := SetupRouter(cfg, Deps{DB: db, Comments: comments, Cleanup: cleanup, Mailer: mail})
	return &harness{t: t, router: router, mail: mail}
}

func (h *harness) do(method, path, token string, body interface{}) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (h *harness) register(username, email string) string {
	h.t.Helper()
	code, env := h.do(http.MethodPost, "/api/v1/auth/register", "", obj{"username": username, "email": email, "password": "s3cret-pass"})
	require.Equal(h.t, http.StatusOK, code, env.Message)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(h.t, json.Unmarshal(env.Data, &out))
	require.NotEmpty(h.t, out.Token)
	return out.Token
}

type obj = map[string]interface{}

type commentData struct {
	ID         uint   `json:"id"`
	State      string `json:"state"`
	AuthorName string `json:"author_name"`
	IsGuest    bool   `json:"is_guest"`
	BodyHTML   string `json:"body_html"`
}

func (h *harness) publicTree(assetPath string) []commentData {
	h.t.Helper()
	code, env := h.do(http.MethodGet, assetPath, "", nil)
	require.Equal(h.t, http.StatusOK, code)
	var tree struct {
		Items []commentData `json:"items"`
	}
	require.NoError(h.t, json.Unmarshal(env.Data, &tree))
	return tree.Items
}

func TestGuestCommentModerationFlow(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(http.MethodPost, "/api/v1/assets/5/comments", "", obj{"body": "first!", "name": "Ann", "email": "ann@example.com"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, "comment awaits moderation", env.Message)
	var held commentData
	require.NoError(t, json.Unmarshal(env.Data, &held))
	assert.True(t, held.IsGuest)

	assert.Empty(t, h.publicTree("/api/v1/assets/5/comments"))

	mod := h.register("mod", "mod@example.com")
	member := h.register("bob", "bob@example.com")

	publish := fmt.Sprintf("/api/v1/admin/comments/%d/publish", held.ID)
	code, _ = h.do(http.MethodPost, publish, member, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = h.do(http.MethodPost, publish, "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = h.do(http.MethodPost, publish, mod, nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	items := h.publicTree("/api/v1/assets/5/comments")
	require.Len(t, items, 1)
	assert.Equal(t, "Ann", items[0].AuthorName)
	assert.Contains(t, items[0].BodyHTML, "first!")

	code, env = h.do(http.MethodGet, "/api/v1/assets/5/comments/count", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"asset_id":5,"count":1}`, string(env.Data))
}

func TestMemberCommentsPublishImmediately(t *testing.T) {
	h := newHarness(t)
	token := h.register("carol", "carol@example.com")

	code, env := h.do(http.MethodPost, "/api/v1/assets/9/comments", token, obj{"body": "hello"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, "success", env.Message)
	var created commentData
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "published", created.State)
	edit := fmt.Sprintf("/api/v1/comments/%d", created.ID)

	code, env = h.do(http.MethodPost, "/api/v1/assets/9/comments", token, obj{"body": "buy viagra now"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, 42200, env.Code)

	code, _ = h.do(http.MethodPatch, edit, token, obj{"body": "hello again"})
	assert.Equal(t, http.StatusOK, code)

	other := h.register("dave", "dave@example.com")
	code, _ = h.do(http.MethodPatch, edit, other, obj{"body": "hijack"})
	assert.Equal(t, http.StatusForbidden, code)

	items := h.publicTree("/api/v1/assets/9/comments")
	require.Len(t, items, 1)
	assert.Contains(t, items[0].BodyHTML, "hello again")
	assert.False(t, items[0].IsGuest)
}

func TestUnknownCommentLooksForbidden(t *testing.T) {
	h := newHarness(t)
	mod := h.register("mod", "mod@example.com")

	code, _ := h.do(http.MethodPost, "/api/v1/admin/comments/404/publish", mod, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := h.do(http.MethodPost, "/api/v1/assets/1/comments", "", obj{"body": "reply", "name": "X", "email": "x@example.com", "parent_id": 77})
	assert.Equal(t, http.StatusForbidden, code, env.Message)
}

func TestValidationAndRoutes(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(http.MethodPost, "/api/v1/assets/1/comments", "", obj{"body": "no author"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 40020, env.Code)

	code, _ = h.do(http.MethodGet, "/api/v1/assets/abc/comments", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = h.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, 40400, env.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newHarness(t)
	token := h.register("erin", "erin@example.com")

	code, _ := h.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = h.do(http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, code)
	code, env := h.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, 40104, env.Code)
}

func TestVerifiedEmailClaimsGuestComments(t *testing.T) {
	h := newHarness(t)
	code, env := h.do(http.MethodPost, "/api/v1/assets/3/comments", "", obj{"body": "as a guest", "name": "Fay", "email": "fay@example.com"})
	require.Equal(t, http.StatusCreated, code, env.Message)

	token := h.register("fay", "FAY@example.com")
	exported := func() int {
		code, env := h.do(http.MethodGet, "/api/v1/privacy/export", token, nil)
		require.Equal(t, http.StatusOK, code)
		var out struct {
			Comments []json.RawMessage `json:"comments"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &out))
		return len(out.Comments)
	}
	assert.Zero(t, exported(), "unverified address must not reach guest comments")

	code, _ = h.do(http.MethodPost, "/api/v1/auth/email/verify", token, obj{"code": "000000"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = h.do(http.MethodPost, "/api/v1/auth/email/send-code", token, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	sent := h.mail.codeFor("FAY@example.com")
	require.Len(t, sent, 6)

	code, env = h.do(http.MethodPost, "/api/v1/auth/email/verify", token, obj{"code": sent})
	require.Equal(t, http.StatusOK, code, env.Message)
	var verified struct {
		Claimed int64 `json:"claimed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &verified))
	assert.EqualValues(t, 1, verified.Claimed)
	assert.Equal(t, 1, exported())

	code, _ = h.do(http.MethodPost, "/api/v1/auth/email/verify", token, obj{"code": sent})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPaginationReportsServedPageSize(t *testing.T) {
	h := newHarness(t)
	mod := h.register("mod", "mod@example.com")
	code, env := h.do(http.MethodPost, "/api/v1/assets/2/comments", mod, obj{"body": "only one"})
	require.Equal(t, http.StatusCreated, code, env.Message)

	pagination := func(path, token string) map[string]int64 {
		code, env := h.do(http.MethodGet, path, token, nil)
		require.Equal(t, http.StatusOK, code, env.Message)
		var out struct {
			Pagination map[string]int64 `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &out))
		return out.Pagination
	}

	p := pagination("/api/v1/assets/2/comments?page=0&page_size=1000", "")
	assert.EqualValues(t, 1, p["page"])
	assert.EqualValues(t, 200, p["page_size"])
	assert.EqualValues(t, 1, p["total"])

	p = pagination("/api/v1/admin/comments?page_size=1000", mod)
	assert.EqualValues(t, 200, p["page_size"])

	p = pagination("/api/v1/admin/assets/2/comments?page_size=-4", mod)
	assert.EqualValues(t, 50, p["page_size"])
}
