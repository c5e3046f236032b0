package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/cppla/engage/config"
	"github.com/cppla/engage/controllers"
	"github.com/cppla/engage/middleware"
	"github.com/cppla/engage/services"
	"github.com/cppla/engage/store"
	"github.com/cppla/engage/utils"
)

// Deps are the long-lived services the HTTP layer calls into.
type Deps struct {
	DB       *gorm.DB
	Comments *services.CommentService
	Cleanup  *services.CleanupService
	// Mailer sends email verification codes; nil disables them.
	Mailer services.Notifier
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, deps Deps) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.GinPath != "" {
		gl := utils.NewRollingFileLogger(cfg, cfg.GinPath)
		r.Use(ginzap.Ginzap(gl, time.RFC3339, true))
		r.Use(ginzap.RecoveryWithZap(gl, true))
	} else {
		r.Use(gin.Recovery())
	}
	r.Use(middleware.RequestMetrics())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.NewAuth(store.NewUserStore(deps.DB))
	commentController := controllers.NewCommentController(deps.Comments)
	authController := controllers.NewAuthController(deps.DB, deps.Comments, deps.Mailer)
	privacyController := controllers.NewPrivacyController(deps.DB, deps.Comments)
	moderation := controllers.NewModerationController(deps.Comments, deps.Cleanup)

	limit := middleware.RateLimit(cfg.RateLimitPerMinute)
	api := r.Group("/api/v1")

	api.GET("/assets/:assetId/comments", commentController.ListComments)
	api.GET("/assets/:assetId/comments/count", commentController.CountComments)
	api.POST("/assets/:assetId/comments", limit, auth.OptionalAuth(), commentController.CreateComment)
	api.PATCH("/comments/:id", limit, auth.AuthRequired(), commentController.EditComment)
	api.GET("/captcha", limit, commentController.Captcha)

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimit(cfg.RateLimitPerMinute))
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.GET("/oauth/:provider/login", authController.OAuthRedirect)
	authGroup.GET("/oauth/:provider/callback", authController.OAuthCallback)
	authGroup.POST("/logout", auth.AuthRequired(), authController.Logout)
	authGroup.GET("/me", auth.AuthRequired(), authController.Me)
	authGroup.POST("/email/send-code", auth.AuthRequired(), authController.SendEmailCode)
	authGroup.POST("/email/verify", auth.AuthRequired(), authController.VerifyEmail)

	privacy := api.Group("/privacy")
	privacy.Use(auth.AuthRequired())
	privacy.GET("/export", privacyController.ExportMine)
	privacy.POST("/erase", privacyController.EraseMine)

	admin := api.Group("/admin")
	admin.Use(auth.AuthRequired(), middleware.ManagerRequired())
	admin.GET("/comments", moderation.ListComments)
	admin.GET("/assets/:assetId/comments", moderation.Tree)
	for _, action := range []string{"publish", "unpublish", "possible-spam", "report-spam", "report-ham"} {
		admin.POST("/comments/:id/"+action, moderation.Transition(action))
	}
	admin.PATCH("/comments/:id", moderation.EditComment)
	admin.DELETE("/comments/:id", moderation.DeleteComment)
	admin.GET("/stats", moderation.Stats)
	admin.PUT("/assets/:assetId", moderation.SaveAsset)
	admin.POST("/cleanup", moderation.RunCleanup)
	admin.GET("/users/:id/export", privacyController.ExportUser)
	admin.POST("/users/:id/erase", privacyController.EraseUser)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
