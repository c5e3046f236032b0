package services

import (
	"context"
	"time"

	"github.com/cppla/engage/models"
	"github.com/cppla/engage/store"
)

// CommentView is the public rendering of a tree entry.
type CommentView struct {
	ID         uint      `json:"id"`
	ParentID   *uint     `json:"parent_id,omitempty"`
	Depth      int       `json:"depth"`
	State      string    `json:"state"`
	AuthorName string    `json:"author_name"`
	IsGuest    bool      `json:"is_guest"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	ProfileURL string    `json:"profile_url,omitempty"`
	BodyHTML   string    `json:"body_html"`
	Hash       string    `json:"hash"`
	CreatedOn  time.Time `json:"created_on"`
	Edited     bool      `json:"edited"`
}

// Present resolves authors and renders bodies for a slice of entries.
// Comments whose account is gone are shown under the pseudonym.
func (s *CommentService) Present(ctx context.Context, entries []store.Entry) ([]CommentView, error) {
	var ids []uint
	seen := make(map[uint]bool)
	for _, e := range entries {
		if by := e.Comment.CreatedBy; by != nil && !seen[*by] {
			seen[*by] = true
			ids = append(ids, *by)
		}
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, storeError("load authors", err)
	}

	out := make([]CommentView, 0, len(entries))
	for _, e := range entries {
		c := e.Comment
		author := Author{Name: c.Name, Email: c.Email}
		if c.CreatedBy != nil {
			if u, ok := users[*c.CreatedBy]; ok {
				author = Author{UserID: u.ID, Username: u.Username, Name: u.Username, Email: u.Email, AvatarURL: u.AvatarURL}
			} else {
				author = Author{Name: store.PseudonymName}
			}
		}
		v := CommentView{
			ID:         c.ID,
			ParentID:   c.ParentID,
			Depth:      e.Depth,
			State:      c.State.String(),
			AuthorName: author.Name,
			IsGuest:    c.IsGuest(),
			BodyHTML:   s.render(c.Body),
			Hash:       c.Hash,
			CreatedOn:  c.CreatedOn,
			Edited:     c.ModifiedBy != nil,
		}
		if author.Email != "" || author.AvatarURL != "" {
			v.AvatarURL, v.ProfileURL = s.avatars.Resolve(author)
		}
		out = append(out, v)
	}
	return out, nil
}

// ExportRecord is one comment in a personal data export.
type ExportRecord struct {
	ID        uint      `json:"id"`
	AssetID   uint      `json:"asset_id"`
	ParentID  *uint     `json:"parent_id,omitempty"`
	State     string    `json:"state"`
	Body      string    `json:"body"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedOn time.Time `json:"created_on"`
}

// ClaimGuestComments attaches guest comments filed under email to the
// account. It is a no-op unless own-comment claiming is enabled.
func (s *CommentService) ClaimGuestComments(ctx context.Context, userID uint, email string) (int64, error) {
	if !s.cfg.Comments.OwnComments {
		return 0, nil
	}
	n, err := s.comments.ClaimByEmail(ctx, userID, email)
	if err != nil {
		return 0, storeError("claim comments", err)
	}
	if n > 0 {
		s.log.Sugar().Infow("guest comments claimed", "user_id", userID, "count", n)
		s.InvalidateAll(ctx)
	}
	return n, nil
}

// Erase pseudonymizes every comment keyed to the account or guest email
// and returns the affected IDs.
func (s *CommentService) Erase(ctx context.Context, userID uint, email string) ([]uint, error) {
	ids, err := s.comments.Pseudonymize(ctx, userID, email, s.cfg.Privacy.EraseBodies)
	if err != nil {
		return nil, storeError("erase comments", err)
	}
	s.log.Sugar().Infow("comments pseudonymized", "user_id", userID, "count", len(ids))
	if len(ids) > 0 {
		s.InvalidateAll(ctx)
	}
	return ids, nil
}

// InvalidateAll drops the cached public trees of every asset.
func (s *CommentService) InvalidateAll(ctx context.Context) {
	assets, err := s.comments.AssetIDs(ctx)
	if err != nil {
		s.log.Sugar().Warnw("list assets for cache invalidation", "error", err)
		return
	}
	for _, id := range assets {
		s.cache.InvalidateAsset(ctx, id)
	}
}

// Export returns every comment keyed to the account or guest email.
func (s *CommentService) Export(ctx context.Context, userID uint, email string) ([]ExportRecord, error) {
	items, err := s.comments.ForIdentity(ctx, userID, email)
	if err != nil {
		return nil, storeError("export comments", err)
	}
	out := make([]ExportRecord, 0, len(items))
	for _, c := range items {
		out = append(out, exportRecord(c))
	}
	return out, nil
}

func exportRecord(c models.Comment) ExportRecord {
	return ExportRecord{
		ID:        c.ID,
		AssetID:   c.AssetID,
		ParentID:  c.ParentID,
		State:     c.State.String(),
		Body:      c.Body,
		Name:      c.Name,
		Email:     c.Email,
		IP:        c.IP,
		UserAgent: c.UserAgent,
		CreatedOn: c.CreatedOn,
	}
}
