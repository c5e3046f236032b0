package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cppla/engage/config"
	"github.com/cppla/engage/models"
	"github.com/cppla/engage/routes"
	"github.com/cppla/engage/services"
	"github.com/cppla/engage/spam"
	"github.com/cppla/engage/utils"
)

func main() {
	cfg := config.Load()

	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()
	if cfg.JWTSecret == "" {
		utils.Sugar.Fatal("JWT secret is not configured; set App.JWTSecret or JWT_SECRET")
	}

	utils.InitRedis(cfg)
	db := config.InitDatabase(&models.User{}, &models.Asset{}, &models.Comment{})

	chain := buildSpamChain(cfg, utils.Logger)
	opts := []services.Option{
		services.WithTreeCache(utils.TreeCache{}),
		services.WithAvatars(services.NewAvatarResolver(cfg.Avatar)),
		services.WithRenderer(func(body string) string { return utils.RenderBody(body, cfg.Comments.Markdown) }),
	}
	var mailer services.Notifier
	if m := utils.NewMailer(cfg); m.Enabled() {
		mailer = m
		opts = append(opts, services.WithNotifier(m))
	}
	comments := services.NewCommentService(db, chain, cfg, utils.Logger.Named("comments"), opts...)
	cleanup := services.NewCleanupService(comments.Comments(), cfg.Cleanup.BatchSize, utils.Logger.Named("cleanup"))
	cleanup.OnPurged = comments.InvalidateAll

	scheduler := cron.New()
	if _, err := services.StartSpamCleaner(scheduler, cleanup, cfg.Cleanup, utils.Logger.Named("cleanup")); err != nil {
		utils.Sugar.Fatalf("invalid cleanup schedule %q: %v", cfg.Cleanup.Schedule, err)
	}
	scheduler.Start()

	r := routes.SetupRouter(cfg, routes.Deps{DB: db, Comments: comments, Cleanup: cleanup, Mailer: mailer})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	err := utils.GraceServer(":"+cfg.AppPort, r, func(ctx context.Context) {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
		}
	})
	if err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}

// buildSpamChain assembles the local word list and, when a key is
// configured, Akismet.
func buildSpamChain(cfg config.AppConfig, log *zap.Logger) *spam.Chain {
	var checkers []spam.Checker
	if len(cfg.Spam.BlockedWords) > 0 || len(cfg.Spam.DiscardWords) > 0 {
		checkers = append(checkers, spam.NewWordList(cfg.Spam.BlockedWords, cfg.Spam.DiscardWords))
	}
	if cfg.Spam.AkismetKey != "" {
		ak := spam.NewAkismet(spam.AkismetConfig{
			Key:     cfg.Spam.AkismetKey,
			Blog:    cfg.Spam.AkismetBlog,
			IsTest:  cfg.Spam.AkismetIsTest,
			BaseURL: cfg.Spam.AkismetBaseURL,
		}, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		valid, err := ak.VerifyKey(ctx)
		cancel()
		switch {
		case err != nil:
			log.Warn("akismet key check failed, keeping checker", zap.Error(err))
			checkers = append(checkers, ak)
		case !valid:
			log.Error("akismet rejected the configured key, checker disabled")
		default:
			checkers = append(checkers, ak)
		}
	}
	timeout := time.Duration(cfg.Spam.TimeoutSeconds) * time.Second
	log.Info("spam chain ready", zap.Int("checkers", len(checkers)), zap.Duration("timeout", timeout))
	return spam.NewChain(log.Named("spam"), timeout, checkers...)
}
