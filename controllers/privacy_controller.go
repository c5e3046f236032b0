package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/engage/middleware"
	"github.com/cppla/engage/models"
	"github.com/cppla/engage/services"
	"github.com/cppla/engage/utils"
)

// PrivacyController serves personal data export and erasure, both for the
// caller and, for moderators, on behalf of any account or guest email.
type PrivacyController struct {
	db       *gorm.DB
	comments *services.CommentService
}

// NewPrivacyController creates a PrivacyController.
func NewPrivacyController(db *gorm.DB, comments *services.CommentService) *PrivacyController {
	return &PrivacyController{db: db, comments: comments}
}

// ExportMine returns every comment of the caller. Guest comments under the
// account email are included once that email is verified.
func (p *PrivacyController) ExportMine(ctx *gin.Context) {
	ident := middleware.CurrentIdentity(ctx)
	p.export(ctx, ident.UserID, ownEmail(ident))
}

// EraseMine pseudonymizes every comment of the caller.
func (p *PrivacyController) EraseMine(ctx *gin.Context) {
	ident := middleware.CurrentIdentity(ctx)
	p.erase(ctx, ident.UserID, ownEmail(ident))
}

func ownEmail(ident services.Identity) string {
	if !ident.EmailVerified {
		return ""
	}
	return ident.Email
}

// ExportUser exports the comments of an account, or of a guest email when
// the route id is 0 and ?email= is given.
func (p *PrivacyController) ExportUser(ctx *gin.Context) {
	userID, email, ok := p.target(ctx)
	if !ok {
		return
	}
	p.export(ctx, userID, email)
}

// EraseUser pseudonymizes the comments of an account or guest email.
func (p *PrivacyController) EraseUser(ctx *gin.Context) {
	userID, email, ok := p.target(ctx)
	if !ok {
		return
	}
	p.erase(ctx, userID, email)
}

func (p *PrivacyController) target(ctx *gin.Context) (uint, string, bool) {
	if strings.TrimSpace(ctx.Param("id")) == "0" {
		email := strings.TrimSpace(ctx.Query("email"))
		if email == "" {
			utils.Error(ctx, http.StatusBadRequest, 40051, "email is required for guest requests")
			return 0, "", false
		}
		return 0, email, true
	}
	id, ok := paramID(ctx, "id")
	if !ok {
		return 0, "", false
	}
	var user models.User
	if err := p.db.WithContext(ctx.Request.Context()).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
			return 0, "", false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50050, "failed to get user")
		return 0, "", false
	}
	return user.ID, user.Email, true
}

func (p *PrivacyController) export(ctx *gin.Context, userID uint, email string) {
	records, err := p.comments.Export(ctx.Request.Context(), userID, email)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"comments": records})
}

func (p *PrivacyController) erase(ctx *gin.Context, userID uint, email string) {
	ids, err := p.comments.Erase(ctx.Request.Context(), userID, email)
	if err != nil {
		respondError(ctx, err)
		return
	}
	if ids == nil {
		ids = []uint{}
	}
	utils.Success(ctx, gin.H{"erased": ids})
}
