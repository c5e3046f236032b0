package spam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AkismetConfig holds the Akismet account settings.
type AkismetConfig struct {
	Key    string
	Blog   string
	IsTest bool
	// BaseURL overrides https://<key>.rest.akismet.com/1.1
	BaseURL string
}

// Akismet checks comments against the Akismet service and reports
// moderator corrections back to it.
type Akismet struct {
	cfg    AkismetConfig
	client *http.Client
}

var ErrAkismetResponse = errors.New("unexpected akismet response")

// NewAkismet creates a checker. client may be nil.
func NewAkismet(cfg AkismetConfig, client *http.Client) *Akismet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Akismet{cfg: cfg, client: client}
}

func (a *Akismet) Name() string { return "akismet" }

func (a *Akismet) endpoint(method string) string {
	base := a.cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.rest.akismet.com/1.1", a.cfg.Key)
	}
	return strings.TrimRight(base, "/") + "/" + method
}

func (a *Akismet) form(s Snapshot) url.Values {
	v := url.Values{}
	v.Set("api_key", a.cfg.Key)
	v.Set("blog", a.cfg.Blog)
	v.Set("user_ip", s.IP)
	v.Set("user_agent", s.UserAgent)
	v.Set("referrer", s.Referrer)
	v.Set("permalink", s.Permalink)
	v.Set("comment_type", "comment")
	v.Set("comment_author", s.AuthorName)
	v.Set("comment_author_email", s.AuthorEmail)
	v.Set("comment_content", s.Body)
	if !s.CreatedOn.IsZero() {
		v.Set("comment_date_gmt", s.CreatedOn.UTC().Format(time.RFC3339))
	}
	if s.Language != "" {
		v.Set("blog_lang", s.Language)
	}
	if a.cfg.IsTest {
		v.Set("is_test", "1")
	}
	return v
}

func (a *Akismet) post(ctx context.Context, method string, form url.Values) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(method), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "engage/1.0 | akismet-go")
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("akismet %s: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, "", fmt.Errorf("akismet %s: read body: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %s returned %d", ErrAkismetResponse, method, resp.StatusCode)
	}
	return resp, strings.TrimSpace(string(body)), nil
}

func unexpected(method, body string, resp *http.Response) error {
	if help := resp.Header.Get("X-akismet-debug-help"); help != "" {
		return fmt.Errorf("%w: %s returned %q (%s)", ErrAkismetResponse, method, body, help)
	}
	return fmt.Errorf("%w: %s returned %q", ErrAkismetResponse, method, body)
}

// Check calls comment-check. Edits are sent with recheck_reason=edit.
func (a *Akismet) Check(ctx context.Context, s Snapshot, isNew bool) (Result, error) {
	form := a.form(s)
	if !isNew {
		form.Set("recheck_reason", "edit")
	}
	resp, body, err := a.post(ctx, "comment-check", form)
	if err != nil {
		return Result{}, err
	}
	diag := map[string]string{}
	if guid := resp.Header.Get("X-akismet-guid"); guid != "" {
		diag["guid"] = guid
	}
	switch body {
	case "true":
		if resp.Header.Get("X-akismet-pro-tip") == "discard" {
			diag["pro_tip"] = "discard"
			return Result{Verdict: Discard, Diagnostics: diag}, nil
		}
		return Result{Verdict: Spam, Diagnostics: diag}, nil
	case "false":
		return Result{Verdict: Clean, Diagnostics: diag}, nil
	default:
		return Result{}, unexpected("comment-check", body, resp)
	}
}

func (a *Akismet) submit(ctx context.Context, method string, s Snapshot) error {
	resp, body, err := a.post(ctx, method, a.form(s))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(body, "Thanks") {
		return unexpected(method, body, resp)
	}
	return nil
}

// ReportSpam calls submit-spam.
func (a *Akismet) ReportSpam(ctx context.Context, s Snapshot) error {
	return a.submit(ctx, "submit-spam", s)
}

// ReportHam calls submit-ham.
func (a *Akismet) ReportHam(ctx context.Context, s Snapshot) error {
	return a.submit(ctx, "submit-ham", s)
}

// VerifyKey reports whether the configured key is accepted for the blog.
func (a *Akismet) VerifyKey(ctx context.Context) (bool, error) {
	form := url.Values{}
	form.Set("key", a.cfg.Key)
	form.Set("api_key", a.cfg.Key)
	form.Set("blog", a.cfg.Blog)
	resp, body, err := a.post(ctx, "verify-key", form)
	if err != nil {
		return false, err
	}
	switch body {
	case "valid":
		return true, nil
	case "invalid":
		return false, nil
	default:
		return false, unexpected("verify-key", body, resp)
	}
}
