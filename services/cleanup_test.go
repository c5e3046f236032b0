package services

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/engage/config"
	"github.com/cppla/engage/models"
	"github.com/cppla/engage/store"
)

func TestPurgeSpamAgeBoundary(t *testing.T) {
	db := openTestDB(t)
	comments := store.NewCommentStore(db)
	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	add := func(body string, st models.CommentState, age time.Duration) *models.Comment {
		c, err := comments.Insert(ctx, 0, 3, &models.Comment{Body: body, State: st, CreatedOn: now.Add(-age)})
		require.NoError(t, err)
		return c
	}
	day := 24 * time.Hour
	exact := add("exactly 30 days", models.StateSpam, 30*day)
	young := add("29 days", models.StateSpam, 29*day)
	add("old but published", models.StatePublished, 90*day)
	for i := 0; i < 5; i++ {
		add("ancient", models.StateSpam, 100*day)
	}

	svc := NewCleanupService(comments, 2, nil)
	svc.now = func() time.Time { return now }
	var batches []int64
	svc.OnBatch = func(_ int, removed, _ int64) { batches = append(batches, removed) }
	purged := 0
	svc.OnPurged = func(_ context.Context) { purged++ }

	rep, err := svc.PurgeSpam(ctx, 30, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 6, rep.Removed)
	assert.Equal(t, []int64{2, 2, 2}, batches)
	assert.False(t, rep.TimedOut)
	assert.Equal(t, 1, purged)
	assert.Equal(t, now.Add(-30*day), rep.Cutoff)

	_, err = comments.Find(ctx, exact.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = comments.Find(ctx, young.ID)
	assert.NoError(t, err)
	require.NoError(t, comments.CheckIntegrity(ctx, 3))

	rep, err = svc.PurgeSpam(ctx, -5, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.Removed, "negative age floors at zero")
}

func TestPurgeSpamNeverTouchesPublishedReplies(t *testing.T) {
	db := openTestDB(t)
	comments := store.NewCommentStore(db)
	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	spam, err := comments.Insert(ctx, 0, 4, &models.Comment{Body: "spam", State: models.StateSpam, CreatedOn: now.Add(-60 * day)})
	require.NoError(t, err)
	reply, err := comments.Insert(ctx, spam.ID, 4, &models.Comment{Body: "reply", State: models.StatePublished, CreatedOn: now.Add(-59 * day)})
	require.NoError(t, err)

	svc := NewCleanupService(comments, 10, nil)
	svc.now = func() time.Time { return now }
	rep, err := svc.PurgeSpam(ctx, 30, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, rep.Removed)

	got, err := comments.Find(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, "reply", got.Body)
	require.NoError(t, comments.CheckIntegrity(ctx, 4))

	// once the reply is gone the spam ages out normally
	_, err = comments.Remove(ctx, reply.ID)
	require.NoError(t, err)
	rep, err = svc.PurgeSpam(ctx, 30, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.Removed)
}

func TestPurgeSpamStopsAtBudget(t *testing.T) {
	db := openTestDB(t)
	comments := store.NewCommentStore(db)
	start := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, err := comments.Insert(ctx, 0, 1, &models.Comment{Body: "x", State: models.StateSpam, CreatedOn: start.Add(-365 * 24 * time.Hour)})
		require.NoError(t, err)
	}

	svc := NewCleanupService(comments, 1, nil)
	clock := start
	svc.now = func() time.Time { return clock }
	svc.OnBatch = func(int, int64, int64) { clock = clock.Add(2 * time.Second) }

	rep, err := svc.PurgeSpam(ctx, 30, time.Second)
	require.NoError(t, err)
	assert.True(t, rep.TimedOut)
	assert.EqualValues(t, 1, rep.Removed)
	assert.Equal(t, 1, rep.Batches)
}

func TestStartSpamCleaner(t *testing.T) {
	c := cron.New()
	svc := NewCleanupService(store.NewCommentStore(openTestDB(t)), 10, nil)

	id, err := StartSpamCleaner(c, svc, config.CleanupConfig{Enabled: false, Schedule: "@hourly"}, nil)
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Empty(t, c.Entries())

	id, err = StartSpamCleaner(c, svc, config.CleanupConfig{Enabled: true, Schedule: "@hourly", MaxDays: 30, MaxTimeSeconds: 60}, nil)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, c.Entries(), 1)

	_, err = StartSpamCleaner(c, svc, config.CleanupConfig{Enabled: true, Schedule: "not a schedule"}, nil)
	assert.Error(t, err)
}
