package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/engage/config"
	"github.com/cppla/engage/models"
	"github.com/cppla/engage/services"
	"github.com/cppla/engage/store"
	"github.com/cppla/engage/utils"
)

type cleanupOptions struct {
	maxTime   int
	maxDays   int
	batchSize int
	verify    bool
}

func init() {
	rootCmd.AddCommand(newCleanupCmd())
}

func newCleanupCmd() *cobra.Command {
	var opts cleanupOptions
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete spam comments older than --max-days",
		Long: `Deletes comments in the spam state whose age is at least --max-days,
in batches until none are left or --max-time seconds have passed. Spam that
still has replies other than aged spam is left in place. Flags left unset fall back to the Cleanup section of
the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if err := utils.InitLogger(cfg); err != nil {
				return err
			}
			defer func() { _ = utils.Logger.Sync() }()

			if !cmd.Flags().Changed("max-time") {
				opts.maxTime = cfg.Cleanup.MaxTimeSeconds
			}
			if !cmd.Flags().Changed("max-days") {
				opts.maxDays = cfg.Cleanup.MaxDays
			}
			if !cmd.Flags().Changed("batch-size") {
				opts.batchSize = cfg.Cleanup.BatchSize
			}

			utils.InitRedis(cfg)
			db, err := config.OpenDatabase(cfg, &models.User{}, &models.Asset{}, &models.Comment{})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			return runCleanup(cmd.Context(), cmd.OutOrStdout(), db, opts, utils.TreeCache{}, utils.Logger.Named("cleanup"))
		},
	}
	cmd.Flags().IntVar(&opts.maxTime, "max-time", 60, "time budget in seconds (minimum 1)")
	cmd.Flags().IntVar(&opts.maxDays, "max-days", 30, "minimum age in days of the spam to delete (minimum 0)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 100, "comments deleted per batch")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "check every comment tree after the purge")
	return cmd
}

func runCleanup(ctx context.Context, out io.Writer, db *gorm.DB, opts cleanupOptions, cache services.TreeCache, log *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.maxTime < 1 {
		opts.maxTime = 1
	}
	if opts.maxDays < 0 {
		opts.maxDays = 0
	}

	comments := store.NewCommentStore(db)
	svc := services.NewCleanupService(comments, opts.batchSize, log)
	svc.OnBatch = func(batch int, removed, total int64) {
		fmt.Fprintf(out, "batch %d: removed %s (total %s)\n", batch, humanize.Comma(removed), humanize.Comma(total))
	}

	fmt.Fprintf(out, "purging spam older than %d days (budget %ds)\n", opts.maxDays, opts.maxTime)
	rep, err := svc.PurgeSpam(ctx, opts.maxDays, time.Duration(opts.maxTime)*time.Second)
	if err != nil {
		return err
	}

	assets, err := comments.AssetIDs(ctx)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	if rep.Removed > 0 {
		for _, id := range assets {
			cache.InvalidateAsset(ctx, id)
		}
	}

	status := "done"
	if rep.TimedOut {
		status = "stopped at time budget"
	}
	fmt.Fprintf(out, "%s: removed %s comments created before %s (%s) in %s\n",
		status, humanize.Comma(rep.Removed), rep.Cutoff.Format(time.RFC3339), humanize.Time(rep.Cutoff), rep.Elapsed.Round(time.Millisecond))

	if opts.verify {
		for _, id := range assets {
			if err := comments.CheckIntegrity(ctx, id); err != nil {
				return fmt.Errorf("verify: %w", err)
			}
		}
		fmt.Fprintf(out, "verified %s comment trees\n", humanize.Comma(int64(len(assets))))
	}
	return nil
}
