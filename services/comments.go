package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/engage/config"
	"github.com/cppla/engage/models"
	"github.com/cppla/engage/spam"
	"github.com/cppla/engage/store"
)

// commentNamespace seeds the UUIDv5 comment hashes.
var commentNamespace = uuid.MustParse("6f1c8f5e-4b7e-5a43-9d1c-3f0f4c2b8a11")

const maxPageSize = 200

// Screener is the spam chain as seen by the workflow.
type Screener interface {
	Check(ctx context.Context, s spam.Snapshot, isNew bool) spam.Outcome
	ReportSpam(ctx context.Context, s spam.Snapshot) error
	ReportHam(ctx context.Context, s spam.Snapshot) error
}

// Notifier delivers moderator notifications.
type Notifier interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// TreeCache drops cached public pages when an asset's visible tree changes.
type TreeCache interface {
	InvalidateAsset(ctx context.Context, assetID uint)
}

type noCache struct{}

func (noCache) InvalidateAsset(context.Context, uint) {}

// Submission is a new comment as received from a client.
type Submission struct {
	AssetID     uint   `json:"asset_id" validate:"required"`
	ParentID    uint   `json:"parent_id"`
	Body        string `json:"body" validate:"required"`
	Name        string `json:"name" validate:"max=255"`
	Email       string `json:"email" validate:"omitempty,email,max=255"`
	IP          string `json:"-" validate:"omitempty,ip"`
	UserAgent   string `json:"-" validate:"max=512"`
	Referrer    string `json:"-"`
	Language    string `json:"-"`
	AcceptTerms bool   `json:"accept_terms"`
}

// TreeRequest pages through an asset's tree. Page is 1-based.
type TreeRequest struct {
	AssetID  uint
	Page     int
	PageSize int
	States   []models.CommentState
}

// Option customizes a CommentService.
type Option func(*CommentService)

func WithNotifier(n Notifier) Option { return func(s *CommentService) { s.notifier = n } }

func WithTreeCache(c TreeCache) Option { return func(s *CommentService) { s.cache = c } }

func WithAvatars(r AvatarResolver) Option { return func(s *CommentService) { s.avatars = r } }

// WithRenderer sets how bodies become HTML in views.
func WithRenderer(fn func(string) string) Option { return func(s *CommentService) { s.render = fn } }

func WithClock(now func() time.Time) Option { return func(s *CommentService) { s.now = now } }

// CommentService runs the moderation state machine over the tree store.
type CommentService struct {
	comments *store.CommentStore
	assets   *store.AssetStore
	users    *store.UserStore
	screen   Screener
	notifier Notifier
	cache    TreeCache
	avatars  AvatarResolver
	render   func(string) string
	cfg      config.AppConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewCommentService(db *gorm.DB, screen Screener, cfg config.AppConfig, log *zap.Logger, opts ...Option) *CommentService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &CommentService{
		comments: store.NewCommentStore(db),
		assets:   store.NewAssetStore(db),
		users:    store.NewUserStore(db),
		screen:   screen,
		cache:    noCache{},
		avatars:  NoAvatars{},
		render:   html.EscapeString,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Comments exposes the underlying tree store for maintenance jobs.
func (s *CommentService) Comments() *store.CommentStore {
	return s.comments
}

func (s *CommentService) permalink(assetID uint) string {
	if s.cfg.Comments.PermalinkFormat == "" {
		return ""
	}
	return fmt.Sprintf(s.cfg.Comments.PermalinkFormat, assetID)
}

func (s *CommentService) validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", invalid("body", "body is required")
	}
	if max := s.cfg.Comments.MaxBodyLength; max > 0 && len([]rune(body)) > max {
		return "", invalid("body", "body must be at most %d characters long", max)
	}
	return body, nil
}

func (s *CommentService) skipScreening(ident Identity) bool {
	return ident.IsManager() && s.cfg.Spam.SkipManagers
}

// initialState applies the manual approval policy to a clean submission.
func (s *CommentService) initialState(ident Identity) models.CommentState {
	if ident.IsManager() {
		return models.StatePublished
	}
	if s.cfg.Comments.ModerateAll || (ident.IsGuest() && s.cfg.Comments.ModerateGuests) {
		return models.StateUnpublished
	}
	return models.StatePublished
}

func commentHash(assetID uint, created time.Time, author string) string {
	seed := fmt.Sprintf("%d|%d|%s", assetID, created.UnixNano(), strings.ToLower(author))
	return uuid.NewSHA1(commentNamespace, []byte(seed)).String()
}

// Submit validates, screens and stores a new comment. Blatant spam is
// dropped and reported as ErrBlatantSpam without touching storage.
func (s *CommentService) Submit(ctx context.Context, ident Identity, sub Submission) (*models.Comment, error) {
	if err := validateStruct(sub); err != nil {
		return nil, err
	}
	body, err := s.validateBody(sub.Body)
	if err != nil {
		return nil, err
	}
	if ident.IsGuest() {
		if strings.TrimSpace(sub.Name) == "" {
			return nil, invalid("name", "name is required")
		}
		if strings.TrimSpace(sub.Email) == "" {
			return nil, invalid("email", "email is required")
		}
	}
	if s.cfg.Comments.RequireConsent && !sub.AcceptTerms && !ident.IsManager() {
		return nil, invalid("accept_terms", "terms must be accepted")
	}

	now := s.now()
	if !ident.IsManager() {
		asset, err := s.assets.Get(ctx, sub.AssetID)
		if err != nil {
			return nil, fmt.Errorf("load asset: %w: %v", ErrPersistence, err)
		}
		if asset != nil && asset.ClosedAt(now, s.cfg.Comments.CloseAfterDays) {
			return nil, ErrCommentsClosed
		}
	}

	c := &models.Comment{
		Body:      body,
		IP:        sub.IP,
		UserAgent: sub.UserAgent,
		CreatedOn: now,
	}
	snap := spam.Snapshot{
		Body:      body,
		IP:        sub.IP,
		UserAgent: sub.UserAgent,
		CreatedOn: now,
		Permalink: s.permalink(sub.AssetID),
		Referrer:  sub.Referrer,
		Language:  sub.Language,
	}
	author := strings.TrimSpace(sub.Email)
	if ident.IsGuest() {
		c.Name = strings.TrimSpace(sub.Name)
		c.Email = author
		snap.AuthorName, snap.AuthorEmail = c.Name, c.Email
	} else {
		uid := ident.UserID
		c.CreatedBy = &uid
		snap.AuthorID = uid
		snap.AuthorName, snap.AuthorEmail = ident.Username, ident.Email
		author = fmt.Sprintf("user:%d", uid)
	}

	c.State = s.initialState(ident)
	if !s.skipScreening(ident) {
		out := s.screen.Check(ctx, snap, true)
		switch out.Verdict {
		case spam.Discard:
			discardedTotal.Inc()
			s.log.Warn("discarded blatant spam submission",
				zap.Uint("asset_id", sub.AssetID),
				zap.String("ip", sub.IP))
			return nil, ErrBlatantSpam
		case spam.Spam:
			c.State = models.StateSpam
		}
	}
	c.Hash = commentHash(sub.AssetID, now, author)

	insert := s.comments.InsertReply
	if ident.IsManager() {
		insert = s.comments.Insert
	}
	if _, err := insert(ctx, sub.ParentID, sub.AssetID, c); err != nil {
		return nil, storeError("insert comment", err)
	}
	submissionsTotal.WithLabelValues(c.State.String()).Inc()
	s.log.Info("comment submitted",
		zap.Uint("id", c.ID),
		zap.Uint("asset_id", c.AssetID),
		zap.Stringer("state", c.State))

	if c.State == models.StatePublished {
		s.cache.InvalidateAsset(ctx, c.AssetID)
	} else if !ident.IsManager() {
		s.notifyModerators(c)
	}
	return c, nil
}

func (s *CommentService) canEdit(ident Identity, c *models.Comment) bool {
	if ident.IsManager() {
		return true
	}
	if ident.IsGuest() || c.CreatedBy == nil || *c.CreatedBy != ident.UserID {
		return false
	}
	window := s.cfg.Comments.EditWindowMinutes
	if window < 0 {
		return true
	}
	return s.now().Sub(c.CreatedOn) <= time.Duration(window)*time.Minute
}

// Edit replaces a comment body after re-screening it as an edit.
func (s *CommentService) Edit(ctx context.Context, ident Identity, id uint, body string) (*models.Comment, error) {
	c, err := s.comments.Find(ctx, id)
	if err != nil {
		return nil, storeError("find comment", err)
	}
	if !s.canEdit(ident, c) {
		return nil, ErrAccessDenied
	}
	body, err = s.validateBody(body)
	if err != nil {
		return nil, err
	}

	state := c.State
	if !s.skipScreening(ident) {
		snap := s.snapshot(ctx, c)
		snap.Body = body
		switch s.screen.Check(ctx, snap, false).Verdict {
		case spam.Discard:
			discardedTotal.Inc()
			s.log.Warn("discarded blatant spam edit", zap.Uint("id", id))
			return nil, ErrBlatantSpam
		case spam.Spam:
			state = models.StateSpam
		}
	}

	var editor *uint
	if !ident.IsGuest() {
		uid := ident.UserID
		editor = &uid
	}
	if err := s.comments.UpdateBody(ctx, id, body, state, editor); err != nil {
		return nil, storeError("update comment", err)
	}
	moderationTotal.WithLabelValues("edit").Inc()
	s.cache.InvalidateAsset(ctx, c.AssetID)
	c.Body, c.State, c.ModifiedBy = body, state, editor
	return c, nil
}

// snapshot rebuilds the spam view of a stored comment.
func (s *CommentService) snapshot(ctx context.Context, c *models.Comment) spam.Snapshot {
	snap := spam.Snapshot{
		Body:        c.Body,
		AuthorName:  c.Name,
		AuthorEmail: c.Email,
		IP:          c.IP,
		UserAgent:   c.UserAgent,
		CreatedOn:   c.CreatedOn,
		Permalink:   s.permalink(c.AssetID),
	}
	if c.CreatedBy != nil {
		snap.AuthorID = *c.CreatedBy
		if u, err := s.users.Find(ctx, *c.CreatedBy); err == nil {
			snap.AuthorName, snap.AuthorEmail = u.Username, u.Email
		}
	}
	return snap
}

func (s *CommentService) setState(ctx context.Context, id uint, state models.CommentState, action string) error {
	c, err := s.comments.Find(ctx, id)
	if err != nil {
		return storeError(action, err)
	}
	if err := s.comments.SetState(ctx, id, state); err != nil {
		return storeError(action, err)
	}
	moderationTotal.WithLabelValues(action).Inc()
	s.log.Info("comment moderated", zap.Uint("id", id), zap.String("action", action))
	s.cache.InvalidateAsset(ctx, c.AssetID)
	return nil
}

func (s *CommentService) Publish(ctx context.Context, id uint) error {
	return s.setState(ctx, id, models.StatePublished, "publish")
}

func (s *CommentService) Unpublish(ctx context.Context, id uint) error {
	return s.setState(ctx, id, models.StateUnpublished, "unpublish")
}

// MarkPossibleSpam flags a comment as spam whatever its current state.
func (s *CommentService) MarkPossibleSpam(ctx context.Context, id uint) error {
	return s.setState(ctx, id, models.StateSpam, "possible_spam")
}

// ReportSpam tells the learning checkers about the comment, then removes it
// and its replies. Reporter failures are logged and never block the removal.
func (s *CommentService) ReportSpam(ctx context.Context, id uint) error {
	c, err := s.comments.Find(ctx, id)
	if err != nil {
		return storeError("report spam", err)
	}
	if err := s.screen.ReportSpam(ctx, s.snapshot(ctx, c)); err != nil {
		s.log.Warn("spam report not delivered", zap.Uint("id", id), zap.Error(err))
	}
	n, err := s.comments.Remove(ctx, id)
	if err != nil {
		return storeError("report spam", err)
	}
	moderationTotal.WithLabelValues("report_spam").Inc()
	s.log.Info("comment reported as spam", zap.Uint("id", id), zap.Int64("removed", n))
	s.cache.InvalidateAsset(ctx, c.AssetID)
	return nil
}

// ReportHam forwards a false positive to the learning checkers and publishes.
func (s *CommentService) ReportHam(ctx context.Context, id uint) error {
	c, err := s.comments.Find(ctx, id)
	if err != nil {
		return storeError("report ham", err)
	}
	if err := s.screen.ReportHam(ctx, s.snapshot(ctx, c)); err != nil {
		s.log.Warn("ham report not delivered", zap.Uint("id", id), zap.Error(err))
	}
	return s.setState(ctx, id, models.StatePublished, "report_ham")
}

// Delete removes a comment and its replies.
func (s *CommentService) Delete(ctx context.Context, id uint) error {
	c, err := s.comments.Find(ctx, id)
	if err != nil {
		return storeError("delete comment", err)
	}
	if _, err := s.comments.Remove(ctx, id); err != nil {
		return storeError("delete comment", err)
	}
	moderationTotal.WithLabelValues("delete").Inc()
	s.cache.InvalidateAsset(ctx, c.AssetID)
	return nil
}

// Find returns one comment.
func (s *CommentService) Find(ctx context.Context, id uint) (*models.Comment, error) {
	c, err := s.comments.Find(ctx, id)
	return c, storeError("find comment", err)
}

// Tree returns one page of an asset's tree. Only managers may look past
// published comments.
func (s *CommentService) Tree(ctx context.Context, ident Identity, req TreeRequest) (*store.TreePage, error) {
	page, size := s.NormalizePage(req.Page, req.PageSize)
	states := []models.CommentState{models.StatePublished}
	if ident.IsManager() && req.States != nil {
		states = req.States
	}
	out, err := s.comments.Tree(ctx, store.TreeQuery{
		AssetID: req.AssetID,
		States:  states,
		Offset:  (page - 1) * size,
		Limit:   size,
	})
	if err != nil {
		return nil, storeError("load tree", err)
	}
	out.Page, out.PageSize = page, size
	return out, nil
}

// NormalizePage clamps a requested page and page size to the served range.
func (s *CommentService) NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = s.cfg.Comments.PageSize
	}
	if size < 1 {
		size = 50
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// Count returns the number of publicly visible comments of an asset.
func (s *CommentService) Count(ctx context.Context, assetID uint) (int64, error) {
	n, err := s.comments.CountDescendants(ctx, assetID, models.StatePublished)
	if err != nil {
		return 0, storeError("count comments", err)
	}
	return n, nil
}

// List is the moderation console query.
func (s *CommentService) List(ctx context.Context, q store.ListQuery) ([]models.Comment, int64, error) {
	q.Page, q.PageSize = s.NormalizePage(q.Page, q.PageSize)
	items, total, err := s.comments.List(ctx, q)
	if err != nil {
		return nil, 0, storeError("list comments", err)
	}
	return items, total, nil
}

// Stats counts comments per state.
func (s *CommentService) Stats(ctx context.Context) (map[string]int64, error) {
	counts, err := s.comments.CountByState(ctx)
	if err != nil {
		return nil, storeError("count states", err)
	}
	out := make(map[string]int64, len(counts))
	for st, n := range counts {
		out[st.String()] = n
	}
	return out, nil
}

// SaveAsset stores per-asset settings such as closing comments.
func (s *CommentService) SaveAsset(ctx context.Context, a *models.Asset) error {
	if a.ID == 0 {
		return invalid("asset_id", "asset_id is required")
	}
	if err := s.assets.Upsert(ctx, a); err != nil {
		return fmt.Errorf("save asset: %w: %v", ErrPersistence, err)
	}
	s.cache.InvalidateAsset(ctx, a.ID)
	return nil
}

func (s *CommentService) notifyModerators(c *models.Comment) {
	to := s.cfg.Comments.NotifyEmails
	if s.notifier == nil || len(to) == 0 {
		return
	}
	subject := fmt.Sprintf("Comment #%d awaits moderation (%s)", c.ID, c.State)
	author := c.Name
	if author == "" {
		author = "registered user"
	}
	body := fmt.Sprintf("Asset: %d\nAuthor: %s\nState: %s\n\n%s\n", c.AssetID, author, c.State, excerpt(c.Body, 500))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notifier.Send(ctx, to, subject, body); err != nil {
			s.log.Warn("moderator notification failed", zap.Uint("id", c.ID), zap.Error(err))
		}
	}()
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
