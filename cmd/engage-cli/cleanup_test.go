package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/engage/models"
	"github.com/cppla/engage/store"
)

type recordingCache struct {
	mu     sync.Mutex
	assets []uint
}

func (c *recordingCache) InvalidateAsset(_ context.Context, id uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets = append(c.assets, id)
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Comment{}, &models.Asset{}, &models.User{}))
	return db
}

func TestRunCleanupPurgesOldSpam(t *testing.T) {
	db := openDB(t)
	comments := store.NewCommentStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	add := func(assetID uint, state models.CommentState, age time.Duration) {
		_, err := comments.Insert(ctx, 0, assetID, &models.Comment{Body: "x", State: state, CreatedOn: now.Add(-age)})
		require.NoError(t, err)
	}
	day := 24 * time.Hour
	add(1, models.StateSpam, 60*day)
	add(1, models.StateSpam, 90*day)
	add(1, models.StateSpam, day)
	add(2, models.StatePublished, 90*day)
	add(2, models.StateSpam, 45*day)

	var out bytes.Buffer
	cache := &recordingCache{}
	err := runCleanup(ctx, &out, db, cleanupOptions{maxTime: 0, maxDays: 30, batchSize: 2, verify: true}, cache, zap.NewNop())
	require.NoError(t, err)

	var left int64
	require.NoError(t, db.Model(&models.Comment{}).Where("asset_root IS NULL").Count(&left).Error)
	assert.EqualValues(t, 2, left)

	text := out.String()
	assert.Contains(t, text, "batch 1: removed 2 (total 2)")
	assert.Contains(t, text, "done: removed 3 comments")
	assert.Contains(t, text, "verified 2 comment trees")
	assert.ElementsMatch(t, []uint{1, 2}, cache.assets)
}

func TestRunCleanupNothingToDo(t *testing.T) {
	db := openDB(t)
	var out bytes.Buffer
	cache := &recordingCache{}

	err := runCleanup(context.Background(), &out, db, cleanupOptions{maxTime: 5, maxDays: -1, batchSize: 10}, cache, zap.NewNop())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "purging spam older than 0 days")
	assert.Contains(t, out.String(), "done: removed 0 comments")
	assert.Empty(t, cache.assets)
}

func TestCleanupFlags(t *testing.T) {
	cmd := newCleanupCmd()
	for _, name := range []string{"max-time", "max-days", "batch-size", "verify"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "60", cmd.Flags().Lookup("max-time").DefValue)
}
