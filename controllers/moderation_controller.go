package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/engage/config"
	"github.com/cppla/engage/middleware"
	"github.com/cppla/engage/models"
	"github.com/cppla/engage/services"
	"github.com/cppla/engage/store"
	"github.com/cppla/engage/utils"
)

// ModerationController exposes the moderation console. Every route sits
// behind ManagerRequired.
type ModerationController struct {
	comments *services.CommentService
	cleanup  *services.CleanupService
}

// NewModerationController creates a ModerationController.
func NewModerationController(comments *services.CommentService, cleanup *services.CleanupService) *ModerationController {
	return &ModerationController{comments: comments, cleanup: cleanup}
}

// moderationItem shows the fields hidden from public views.
type moderationItem struct {
	ID         uint      `json:"id"`
	AssetID    uint      `json:"asset_id"`
	ParentID   *uint     `json:"parent_id,omitempty"`
	State      string    `json:"state"`
	Body       string    `json:"body"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	CreatedBy  *uint     `json:"created_by,omitempty"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedOn  time.Time `json:"created_on"`
	ModifiedOn time.Time `json:"modified_on"`
}

func toModerationItem(c models.Comment) moderationItem {
	return moderationItem{
		ID:         c.ID,
		AssetID:    c.AssetID,
		ParentID:   c.ParentID,
		State:      c.State.String(),
		Body:       c.Body,
		Name:       c.Name,
		Email:      c.Email,
		CreatedBy:  c.CreatedBy,
		IP:         c.IP,
		UserAgent:  c.UserAgent,
		CreatedOn:  c.CreatedOn,
		ModifiedOn: c.ModifiedOn,
	}
}

func parseState(s string) (models.CommentState, bool) {
	for _, st := range []models.CommentState{models.StatePublished, models.StateUnpublished, models.StateSpam} {
		if strings.EqualFold(s, st.String()) {
			return st, true
		}
	}
	return 0, false
}

// ListComments filters comments across assets, newest first.
func (m *ModerationController) ListComments(ctx *gin.Context) {
	q := store.ListQuery{
		AssetID: uint(queryInt(ctx, "asset_id", 0)),
		Email:   strings.TrimSpace(ctx.Query("email")),
		Search:  strings.TrimSpace(ctx.Query("search")),
	}
	q.Page, q.PageSize = m.comments.NormalizePage(queryInt(ctx, "page", 1), queryInt(ctx, "page_size", 0))
	if raw := strings.TrimSpace(ctx.Query("state")); raw != "" {
		st, ok := parseState(raw)
		if !ok {
			utils.Error(ctx, http.StatusBadRequest, 40021, "unknown state")
			return
		}
		q.State = &st
	}

	items, total, err := m.comments.List(ctx.Request.Context(), q)
	if err != nil {
		respondError(ctx, err)
		return
	}
	out := make([]moderationItem, 0, len(items))
	for _, c := range items {
		out = append(out, toModerationItem(c))
	}
	utils.Success(ctx, gin.H{
		"items":      out,
		"pagination": utils.Pagination{Page: q.Page, PageSize: q.PageSize, Total: total},
	})
}

// Tree returns an asset's tree in the requested states.
func (m *ModerationController) Tree(ctx *gin.Context) {
	assetID, ok := paramID(ctx, "assetId")
	if !ok {
		return
	}
	states := []models.CommentState{models.StatePublished, models.StateUnpublished, models.StateSpam}
	if raw := strings.TrimSpace(ctx.Query("states")); raw != "" {
		states = states[:0]
		for _, part := range strings.Split(raw, ",") {
			st, ok := parseState(strings.TrimSpace(part))
			if !ok {
				utils.Error(ctx, http.StatusBadRequest, 40021, "unknown state")
				return
			}
			states = append(states, st)
		}
	}
	page, err := m.comments.Tree(ctx.Request.Context(), middleware.CurrentIdentity(ctx), services.TreeRequest{
		AssetID:  assetID,
		Page:     queryInt(ctx, "page", 1),
		PageSize: queryInt(ctx, "page_size", 0),
		States:   states,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	items := make([]gin.H, 0, len(page.Entries))
	for _, e := range page.Entries {
		items = append(items, gin.H{"depth": e.Depth, "comment": toModerationItem(e.Comment)})
	}
	utils.Success(ctx, gin.H{
		"items":      items,
		"total":      page.Total,
		"pagination": utils.Pagination{Page: page.Page, PageSize: page.PageSize, Total: page.Total},
	})
}

// Transition applies a moderation action named by the route.
func (m *ModerationController) Transition(action string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		var err error
		rc := ctx.Request.Context()
		switch action {
		case "publish":
			err = m.comments.Publish(rc, id)
		case "unpublish":
			err = m.comments.Unpublish(rc, id)
		case "possible-spam":
			err = m.comments.MarkPossibleSpam(rc, id)
		case "report-spam":
			err = m.comments.ReportSpam(rc, id)
		case "report-ham":
			err = m.comments.ReportHam(rc, id)
		default:
			utils.Error(ctx, http.StatusNotFound, 40400, "unknown action")
			return
		}
		if err != nil {
			respondError(ctx, err)
			return
		}
		utils.Success(ctx, gin.H{"id": id, "action": action})
	}
}

// EditComment lets a moderator rewrite any comment.
func (m *ModerationController) EditComment(ctx *gin.Context) {
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	c, err := m.comments.Edit(ctx.Request.Context(), middleware.CurrentIdentity(ctx), id, req.Body)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, toModerationItem(*c))
}

// DeleteComment removes a comment and its replies.
func (m *ModerationController) DeleteComment(ctx *gin.Context) {
	id, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	if err := m.comments.Delete(ctx.Request.Context(), id); err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"id": id})
}

// Stats returns comment counts per state.
func (m *ModerationController) Stats(ctx *gin.Context) {
	counts, err := m.comments.Stats(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, counts)
}

// SaveAsset stores the title, URL and closed flag of an asset.
func (m *ModerationController) SaveAsset(ctx *gin.Context) {
	id, ok := paramID(ctx, "assetId")
	if !ok {
		return
	}
	var req struct {
		Title  string `json:"title" binding:"max=255"`
		URL    string `json:"url" binding:"omitempty,url,max=1024"`
		Closed bool   `json:"closed"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	asset := &models.Asset{ID: id, Title: strings.TrimSpace(req.Title), URL: strings.TrimSpace(req.URL), CommentsClosed: req.Closed}
	if err := m.comments.SaveAsset(ctx.Request.Context(), asset); err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, asset)
}

// RunCleanup purges old spam now. max_days and max_time default to the
// configured values.
func (m *ModerationController) RunCleanup(ctx *gin.Context) {
	cfg := config.Get().Cleanup
	var req struct {
		MaxDays *int `json:"max_days"`
		MaxTime *int `json:"max_time"`
	}
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
			return
		}
	}
	maxDays, maxTime := cfg.MaxDays, cfg.MaxTimeSeconds
	if req.MaxDays != nil {
		maxDays = *req.MaxDays
	}
	if req.MaxTime != nil {
		maxTime = *req.MaxTime
	}

	rep, err := m.cleanup.PurgeSpam(ctx.Request.Context(), maxDays, time.Duration(maxTime)*time.Second)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"cutoff":    rep.Cutoff,
		"removed":   rep.Removed,
		"batches":   rep.Batches,
		"timed_out": rep.TimedOut,
		"elapsed":   rep.Elapsed.String(),
	})
}
