package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/engage/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseDefaultsWithoutFile(t *testing.T) {
	c, err := Parse(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "8080", c.AppPort)
	assert.Equal(t, "mysql", c.DBDriver)
	assert.True(t, c.Comments.OwnComments)
	assert.True(t, c.Spam.SkipManagers)
	assert.Equal(t, 15, c.Comments.EditWindowMinutes)
	assert.Equal(t, "@hourly", c.Cleanup.Schedule)
	assert.Equal(t, 30, c.Cleanup.MaxDays)
	assert.Equal(t, 100, c.Cleanup.BatchSize)
}

func TestParseGroupedSections(t *testing.T) {
	path := writeConfig(t, `{
		"app": {"AppPort": "9000", "JWTSecret": "s3cret"},
		"database": {"Driver": "postgres"},
		"admin": {"Usernames": ["Alice"]},
		"comments": {"ModerateGuests": true, "OwnComments": false, "NotifyEmails": ["mod@example.com"]},
		"spam": {"AkismetKey": "abc", "TimeoutSeconds": 2, "BlockedWords": ["casino"]},
		"privacy": {"EraseBodies": true},
		"cleanup": {"Enabled": false, "MaxDays": 7}
	}`)
	c, err := Parse(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", c.AppPort)
	assert.Equal(t, "s3cret", c.JWTSecret)
	assert.Equal(t, "5432", c.DBPort)
	assert.True(t, c.Comments.ModerateGuests)
	assert.False(t, c.Comments.OwnComments)
	assert.Equal(t, []string{"mod@example.com"}, c.Comments.NotifyEmails)
	assert.Equal(t, "abc", c.Spam.AkismetKey)
	assert.Equal(t, 2, c.Spam.TimeoutSeconds)
	assert.Equal(t, []string{"casino"}, c.Spam.BlockedWords)
	assert.True(t, c.Privacy.EraseBodies)
	assert.False(t, c.Cleanup.Enabled)
	assert.Equal(t, 7, c.Cleanup.MaxDays)
	assert.True(t, c.IsAdmin("alice"))
	assert.False(t, c.IsAdmin("bob"))
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"cleanup": {"MaxDays": 7}, "spam": {"AkismetKey": "file"}}`)
	t.Setenv("CLEANUP_MAX_DAYS", "3")
	t.Setenv("AKISMET_KEY", "env")
	t.Setenv("SPAM_DISCARD_WORDS", "viagra, ,pills")

	c, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Cleanup.MaxDays)
	assert.Equal(t, "env", c.Spam.AkismetKey)
	assert.Equal(t, []string{"viagra", "pills"}, c.Spam.DiscardWords)
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse(writeConfig(t, `{"app": `))
	assert.Error(t, err)
}

func TestOpenDatabaseSQLite(t *testing.T) {
	c, err := Parse(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	c.DBDriver = "sqlite"
	c.DatabaseURI = "file::memory:"
	c.LogLevel = "silent"

	conn, err := OpenDatabase(c, &models.User{}, &models.Comment{}, &models.Asset{})
	require.NoError(t, err)
	assert.True(t, conn.Migrator().HasTable(&models.Comment{}))

	c.DBDriver = "oracle"
	_, err = OpenDatabase(c)
	assert.Error(t, err)
}
