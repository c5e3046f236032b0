package spam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func akismetServer(t *testing.T, handler http.HandlerFunc) *Akismet {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAkismet(AkismetConfig{Key: "k3y", Blog: "https://blog.example", IsTest: true, BaseURL: srv.URL}, srv.Client())
}

func TestAkismetCommentCheck(t *testing.T) {
	var (
		mu   sync.Mutex
		form map[string]string
	)
	a := akismetServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/comment-check", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		mu.Unlock()
		switch r.PostForm.Get("comment_content") {
		case "spam":
			_, _ = w.Write([]byte("true"))
		case "blatant":
			w.Header().Set("X-akismet-pro-tip", "discard")
			_, _ = w.Write([]byte("true"))
		default:
			_, _ = w.Write([]byte("false"))
		}
	})
	ctx := context.Background()

	res, err := a.Check(ctx, Snapshot{Body: "hello", AuthorEmail: "a@example.com", IP: "127.0.0.1"}, true)
	require.NoError(t, err)
	assert.Equal(t, Clean, res.Verdict)
	mu.Lock()
	assert.Equal(t, "1", form["is_test"])
	assert.Equal(t, "a@example.com", form["comment_author_email"])
	assert.Equal(t, "k3y", form["api_key"])
	assert.NotContains(t, form, "recheck_reason")
	mu.Unlock()

	res, err = a.Check(ctx, Snapshot{Body: "spam"}, false)
	require.NoError(t, err)
	assert.Equal(t, Spam, res.Verdict)
	mu.Lock()
	assert.Equal(t, "edit", form["recheck_reason"])
	mu.Unlock()

	res, err = a.Check(ctx, Snapshot{Body: "blatant"}, true)
	require.NoError(t, err)
	assert.Equal(t, Discard, res.Verdict)
}

func TestAkismetErrors(t *testing.T) {
	a := akismetServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/comment-check" {
			w.Header().Set("X-akismet-debug-help", "Empty \"blog\" value")
			_, _ = w.Write([]byte("invalid"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	ctx := context.Background()

	_, err := a.Check(ctx, Snapshot{Body: "x"}, true)
	require.ErrorIs(t, err, ErrAkismetResponse)
	assert.Contains(t, err.Error(), "Empty")

	assert.ErrorIs(t, a.ReportSpam(ctx, Snapshot{}), ErrAkismetResponse)
}

func TestAkismetSubmitAndVerify(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	a := akismetServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/verify-key" {
			_, _ = w.Write([]byte("valid"))
			return
		}
		_, _ = w.Write([]byte("Thanks for making the web a better place."))
	})
	ctx := context.Background()

	require.NoError(t, a.ReportSpam(ctx, Snapshot{Body: "x"}))
	require.NoError(t, a.ReportHam(ctx, Snapshot{Body: "x"}))
	ok, err := a.VerifyKey(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/submit-spam", "/submit-ham", "/verify-key"}, paths)
}

func TestAkismetFailureIsCleanInChain(t *testing.T) {
	a := akismetServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	out := NewChain(nil, 0, a).Check(context.Background(), Snapshot{Body: "x"}, true)
	assert.Equal(t, Clean, out.Verdict)
	assert.Error(t, out.Results[0].Err)
}
