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

// CommentController serves the public comment endpoints.
type CommentController struct {
	svc *services.CommentService
}

// NewCommentController creates a CommentController.
func NewCommentController(svc *services.CommentService) *CommentController {
	return &CommentController{svc: svc}
}

type treeResponse struct {
	Items      []services.CommentView `json:"items"`
	Ancestors  []services.CommentView `json:"ancestors"`
	Pagination utils.Pagination       `json:"pagination"`
}

// ListComments returns one page of the published tree of an asset.
func (c *CommentController) ListComments(ctx *gin.Context) {
	assetID, ok := paramID(ctx, "assetId")
	if !ok {
		return
	}
	cfg := config.Get()
	page, size := c.svc.NormalizePage(queryInt(ctx, "page", 1), queryInt(ctx, "page_size", cfg.Comments.PageSize))

	key := utils.CommentTreeKey(assetID, page, size)
	if b, ok := utils.CacheGetBytes(ctx.Request.Context(), key); ok {
		ctx.Data(http.StatusOK, "application/json", b)
		return
	}

	tree, err := c.svc.Tree(ctx.Request.Context(), services.Identity{}, services.TreeRequest{AssetID: assetID, Page: page, PageSize: size})
	if err != nil {
		respondError(ctx, err)
		return
	}
	resp, err := c.present(ctx, tree)
	if err != nil {
		respondError(ctx, err)
		return
	}

	wrapper := utils.JSONResponse{Code: 0, Message: "success", Data: resp}
	utils.CacheSetJSON(ctx.Request.Context(), key, wrapper, time.Duration(cfg.Comments.CacheSeconds)*time.Second)
	utils.Success(ctx, resp)
}

func (c *CommentController) present(ctx *gin.Context, tree *store.TreePage) (treeResponse, error) {
	items, err := c.svc.Present(ctx.Request.Context(), tree.Entries)
	if err != nil {
		return treeResponse{}, err
	}
	ancestors, err := c.svc.Present(ctx.Request.Context(), tree.Ancestors)
	if err != nil {
		return treeResponse{}, err
	}
	return treeResponse{
		Items:      items,
		Ancestors:  ancestors,
		Pagination: utils.Pagination{Page: tree.Page, PageSize: tree.PageSize, Total: tree.Total},
	}, nil
}

// CountComments returns the number of published comments of an asset.
func (c *CommentController) CountComments(ctx *gin.Context) {
	assetID, ok := paramID(ctx, "assetId")
	if !ok {
		return
	}
	n, err := c.svc.Count(ctx.Request.Context(), assetID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"asset_id": assetID, "count": n})
}

type createCommentRequest struct {
	ParentID      uint   `json:"parent_id"`
	Body          string `json:"body"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	AcceptTerms   bool   `json:"accept_terms"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

// CreateComment files a comment as the caller or as a guest.
func (c *CommentController) CreateComment(ctx *gin.Context) {
	assetID, ok := paramID(ctx, "assetId")
	if !ok {
		return
	}
	var req createCommentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	cfg := config.Get()
	ident := middleware.CurrentIdentity(ctx)
	ip := ctx.ClientIP()
	if ident.IsGuest() {
		if cfg.Comments.CaptchaForGuests && !utils.VerifyCaptcha(strings.TrimSpace(req.CaptchaID), strings.TrimSpace(req.CaptchaAnswer)) {
			utils.Error(ctx, http.StatusBadRequest, 40042, "captcha is wrong or expired")
			return
		}
		window := time.Duration(cfg.Comments.GuestCooldownSeconds) * time.Second
		if !utils.CooldownTry(ctx.Request.Context(), "comment", ip, window) {
			utils.Error(ctx, http.StatusTooManyRequests, 42910, "too many comments, try again later")
			return
		}
	}

	comment, err := c.svc.Submit(ctx.Request.Context(), ident, services.Submission{
		AssetID:     assetID,
		ParentID:    req.ParentID,
		Body:        req.Body,
		Name:        req.Name,
		Email:       req.Email,
		IP:          ip,
		UserAgent:   truncate(ctx.Request.UserAgent(), 512),
		Referrer:    ctx.Request.Referer(),
		Language:    ctx.GetHeader("Accept-Language"),
		AcceptTerms: req.AcceptTerms,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	views, err := c.svc.Present(ctx.Request.Context(), []store.Entry{{Comment: *comment, Depth: comment.Depth()}})
	if err != nil {
		respondError(ctx, err)
		return
	}
	message := "success"
	if comment.State != models.StatePublished {
		message = "comment awaits moderation"
	}
	utils.Respond(ctx, http.StatusCreated, 0, message, views[0])
}

// EditComment replaces the body of the caller's comment.
func (c *CommentController) EditComment(ctx *gin.Context) {
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

	comment, err := c.svc.Edit(ctx.Request.Context(), middleware.CurrentIdentity(ctx), id, req.Body)
	if err != nil {
		respondError(ctx, err)
		return
	}
	views, err := c.svc.Present(ctx.Request.Context(), []store.Entry{{Comment: *comment, Depth: comment.Depth()}})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, views[0])
}

// Captcha returns a fresh captcha id and base64 image (data URI).
func (c *CommentController) Captcha(ctx *gin.Context) {
	id, b64, err := utils.GenerateCaptcha()
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to generate captcha")
		return
	}
	utils.Success(ctx, gin.H{"id": id, "image": b64})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
