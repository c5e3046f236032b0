package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cppla/engage/config"
	"github.com/cppla/engage/store"
)

// PurgeReport summarizes one spam purge run.
type PurgeReport struct {
	Cutoff   time.Time
	Removed  int64
	Batches  int
	Elapsed  time.Duration
	TimedOut bool
}

// CleanupService deletes old spam in bounded batches.
type CleanupService struct {
	comments  *store.CommentStore
	batchSize int
	log       *zap.Logger
	now       func() time.Time

	// OnBatch, when set, is called after every batch with the running total.
	OnBatch func(batch int, removed, total int64)
	// OnPurged, when set, is called once per run that removed something.
	OnPurged func(ctx context.Context)
}

func NewCleanupService(comments *store.CommentStore, batchSize int, log *zap.Logger) *CleanupService {
	if batchSize < 1 {
		batchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CleanupService{comments: comments, batchSize: batchSize, log: log, now: time.Now}
}

// PurgeSpam removes spam at least maxDays old until nothing is left or the
// budget is spent. The budget is checked between batches, so a run may
// overshoot it by one batch. maxDays is floored at 0 and budget at 1s.
func (s *CleanupService) PurgeSpam(ctx context.Context, maxDays int, budget time.Duration) (rep PurgeReport, err error) {
	if maxDays < 0 {
		maxDays = 0
	}
	if budget < time.Second {
		budget = time.Second
	}
	start := s.now()
	rep.Cutoff = start.Add(-time.Duration(maxDays) * 24 * time.Hour)
	defer func() { rep.Elapsed = s.now().Sub(start) }()

	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		var n int64
		n, err = s.comments.DeleteSpamBatch(ctx, rep.Cutoff, s.batchSize)
		rep.Removed += n
		purgedTotal.Add(float64(n))
		if err != nil {
			s.log.Error("spam purge batch failed", zap.Int("batch", rep.Batches+1), zap.Error(err))
			return rep, storeError("purge spam", err)
		}
		if n == 0 {
			break
		}
		rep.Batches++
		if s.OnBatch != nil {
			s.OnBatch(rep.Batches, n, rep.Removed)
		}
		if s.now().Sub(start) >= budget {
			rep.TimedOut = true
			break
		}
	}

	if rep.Removed > 0 && s.OnPurged != nil {
		s.OnPurged(ctx)
	}
	s.log.Info("spam purge finished",
		zap.Time("cutoff", rep.Cutoff),
		zap.Int64("removed", rep.Removed),
		zap.Int("batches", rep.Batches),
		zap.Bool("timed_out", rep.TimedOut))
	return rep, nil
}

// StartSpamCleaner schedules PurgeSpam on the configured cron schedule.
// It returns without scheduling when cleanup is disabled.
func StartSpamCleaner(c *cron.Cron, svc *CleanupService, cfg config.CleanupConfig, log *zap.Logger) (cron.EntryID, error) {
	if !cfg.Enabled {
		return 0, nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	budget := time.Duration(cfg.MaxTimeSeconds) * time.Second
	id, err := c.AddFunc(cfg.Schedule, func() {
		if _, err := svc.PurgeSpam(context.Background(), cfg.MaxDays, budget); err != nil {
			log.Warn("scheduled spam purge failed", zap.Error(err))
		}
	})
	if err != nil {
		return 0, err
	}
	log.Info("spam cleaner scheduled", zap.String("schedule", cfg.Schedule), zap.Int("max_days", cfg.MaxDays))
	return id, nil
}
