package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// CommentsConfig controls submission and moderation policy.
type CommentsConfig struct {
	// ModerateGuests holds guest comments as unpublished until approved.
	ModerateGuests bool
	// ModerateAll holds every non-manager comment.
	ModerateAll bool
	// OwnComments claims guest comments when an account with the same email logs in.
	OwnComments       bool
	CaptchaForGuests  bool
	RequireConsent    bool
	EditWindowMinutes int
	CloseAfterDays    int
	MaxBodyLength     int
	PageSize          int
	CacheSeconds      int
	// GuestCooldownSeconds spaces out guest submissions per IP.
	GuestCooldownSeconds int
	Markdown             bool
	NotifyEmails         []string
	// PermalinkFormat receives the asset ID, e.g. "https://example.com/a/%d".
	PermalinkFormat string
}

// SpamConfig configures the checker chain.
type SpamConfig struct {
	AkismetKey     string
	AkismetBlog    string
	AkismetIsTest  bool
	AkismetBaseURL string
	TimeoutSeconds int
	SkipManagers   bool
	BlockedWords   []string
	DiscardWords   []string
}

type AvatarConfig struct {
	Enabled          bool
	Size             int
	Default          string
	ProfileURLFormat string
}

type PrivacyConfig struct {
	EraseBodies bool
}

// CleanupConfig drives the age-based spam purge.
type CleanupConfig struct {
	Enabled        bool
	Schedule       string
	MaxDays        int
	MaxTimeSeconds int
	BatchSize      int
}

// AppConfig holds file and environment driven configuration values.
// Secrets have no defaults and must come from config.json, .env or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	RateLimitPerMinute int
	AllowedOrigins     []string
	OAuthRedirectBase  string
	GinMode            string
	GinPath            string

	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string

	GitHubClientID     string
	GitHubClientSecret string
	GoogleClientID     string
	GoogleClientSecret string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTLS      bool

	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	AdminUsernames         []string
	RegisterMaxPerIPPerDay int

	Comments CommentsConfig
	Spam     SpamConfig
	Avatar   AvatarConfig
	Privacy  PrivacyConfig
	Cleanup  CleanupConfig
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration once during boot.
// Precedence: .env -> config/config.json -> defaults -> environment overrides.
func Load() AppConfig {
	if loaded {
		return cfg
	}
	_ = godotenv.Load()

	c, err := Parse(filepath.Join("config", "config.json"))
	if err != nil {
		log.Fatalf("invalid config/config.json: %v", err)
	}
	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// Set replaces the cached configuration.
func Set(c AppConfig) {
	cfg = c
	loaded = true
}

// Parse builds a configuration from the JSON file at path (missing is fine),
// defaults and environment variables.
func Parse(path string) (AppConfig, error) {
	c := AppConfig{
		Comments: CommentsConfig{OwnComments: true},
		Spam:     SpamConfig{SkipManagers: true},
		Avatar:   AvatarConfig{Enabled: true},
		Cleanup:  CleanupConfig{Enabled: true},
	}
	if err := loadJSONConfig(path, &c); err != nil {
		return AppConfig{}, err
	}
	applyDefaults(&c)
	applyEnvOverrides(&c)
	return c, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads the grouped JSON file into out if present.
// Returns an error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if s, ok := m[key].(string); ok {
			return s
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		switch t := m[key].(type) {
		case float64:
			return int(t)
		case json.Number:
			i, _ := t.Int64()
			return int(i)
		}
		return 0
	}
	// setBool only touches dst when the key is present, so defaults of true survive.
	setBool := func(m map[string]any, key string, dst *bool) {
		if b, ok := m[key].(bool); ok {
			*dst = b
		}
	}
	getStringSlice := func(m map[string]any, key string) []string {
		arr, ok := m[key].([]any)
		if !ok {
			return nil
		}
		res := make([]string, 0, len(arr))
		for _, it := range arr {
			if s, ok := it.(string); ok {
				res = append(res, s)
			}
		}
		return res
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		out.RateLimitPerMinute = getInt(app, "RateLimitPerMinute")
		out.AllowedOrigins = getStringSlice(app, "AllowedOrigins")
		out.OAuthRedirectBase = getString(app, "OAuthRedirectBase")
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DBDriver = getString(dbs, "Driver")
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		out.RedisPort = getInt(rds, "RedisPort")
		out.RedisDB = getInt(rds, "RedisDB")
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if oa, ok := raw["oauth"].(map[string]any); ok {
		out.GitHubClientID = getString(oa, "GitHubClientID")
		out.GitHubClientSecret = getString(oa, "GitHubClientSecret")
		out.GoogleClientID = getString(oa, "GoogleClientID")
		out.GoogleClientSecret = getString(oa, "GoogleClientSecret")
	}

	if adm, ok := raw["admin"].(map[string]any); ok {
		out.AdminUsernames = getStringSlice(adm, "Usernames")
		out.RegisterMaxPerIPPerDay = getInt(adm, "RegisterMaxPerIPPerDay")
	}

	if sm, ok := raw["smtp"].(map[string]any); ok {
		out.SMTPHost = getString(sm, "SMTPHost")
		out.SMTPPort = getInt(sm, "SMTPPort")
		out.SMTPUsername = getString(sm, "SMTPUsername")
		out.SMTPPassword = getString(sm, "SMTPPassword")
		out.SMTPFrom = getString(sm, "SMTPFrom")
		out.SMTPFromName = getString(sm, "SMTPFromName")
		setBool(sm, "SMTPTLS", &out.SMTPTLS)
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		out.LogLevel = getString(lg, "Level")
		out.LogPath = getString(lg, "Path")
		out.GinMode = getString(lg, "GinMode")
		out.GinPath = getString(lg, "GinPath")
		out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
		out.LogMaxBackups = getInt(lg, "MaxBackups")
		out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
		setBool(lg, "Compress", &out.LogCompress)
	}

	if cm, ok := raw["comments"].(map[string]any); ok {
		c := &out.Comments
		setBool(cm, "ModerateGuests", &c.ModerateGuests)
		setBool(cm, "ModerateAll", &c.ModerateAll)
		setBool(cm, "OwnComments", &c.OwnComments)
		setBool(cm, "CaptchaForGuests", &c.CaptchaForGuests)
		setBool(cm, "RequireConsent", &c.RequireConsent)
		setBool(cm, "Markdown", &c.Markdown)
		c.EditWindowMinutes = getInt(cm, "EditWindowMinutes")
		c.CloseAfterDays = getInt(cm, "CloseAfterDays")
		c.MaxBodyLength = getInt(cm, "MaxBodyLength")
		c.PageSize = getInt(cm, "PageSize")
		c.CacheSeconds = getInt(cm, "CacheSeconds")
		c.GuestCooldownSeconds = getInt(cm, "GuestCooldownSeconds")
		c.NotifyEmails = getStringSlice(cm, "NotifyEmails")
		c.PermalinkFormat = getString(cm, "PermalinkFormat")
	}

	if sp, ok := raw["spam"].(map[string]any); ok {
		s := &out.Spam
		s.AkismetKey = getString(sp, "AkismetKey")
		s.AkismetBlog = getString(sp, "AkismetBlog")
		s.AkismetBaseURL = getString(sp, "AkismetBaseURL")
		setBool(sp, "AkismetIsTest", &s.AkismetIsTest)
		setBool(sp, "SkipManagers", &s.SkipManagers)
		s.TimeoutSeconds = getInt(sp, "TimeoutSeconds")
		s.BlockedWords = getStringSlice(sp, "BlockedWords")
		s.DiscardWords = getStringSlice(sp, "DiscardWords")
	}

	if av, ok := raw["avatar"].(map[string]any); ok {
		setBool(av, "Enabled", &out.Avatar.Enabled)
		out.Avatar.Size = getInt(av, "Size")
		out.Avatar.Default = getString(av, "Default")
		out.Avatar.ProfileURLFormat = getString(av, "ProfileURLFormat")
	}

	if pv, ok := raw["privacy"].(map[string]any); ok {
		setBool(pv, "EraseBodies", &out.Privacy.EraseBodies)
	}

	if cl, ok := raw["cleanup"].(map[string]any); ok {
		setBool(cl, "Enabled", &out.Cleanup.Enabled)
		out.Cleanup.Schedule = getString(cl, "Schedule")
		out.Cleanup.MaxDays = getInt(cl, "MaxDays")
		out.Cleanup.MaxTimeSeconds = getInt(cl, "MaxTimeSeconds")
		out.Cleanup.BatchSize = getInt(cl, "BatchSize")
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.OAuthRedirectBase == "" {
		c.OAuthRedirectBase = "http://localhost:8080"
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		switch c.DBDriver {
		case "postgres":
			c.DBPort = "5432"
		default:
			c.DBPort = "3306"
		}
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "engage"
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}

	if c.RegisterMaxPerIPPerDay == 0 {
		c.RegisterMaxPerIPPerDay = 5
	}
	if c.Comments.EditWindowMinutes == 0 {
		c.Comments.EditWindowMinutes = 15
	}
	if c.Comments.MaxBodyLength == 0 {
		c.Comments.MaxBodyLength = 10000
	}
	if c.Comments.PageSize == 0 {
		c.Comments.PageSize = 50
	}
	if c.Comments.CacheSeconds == 0 {
		c.Comments.CacheSeconds = 60
	}
	if c.Spam.TimeoutSeconds == 0 {
		c.Spam.TimeoutSeconds = 5
	}
	if c.Avatar.Size == 0 {
		c.Avatar.Size = 80
	}
	if c.Avatar.Default == "" {
		c.Avatar.Default = "identicon"
	}
	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = "@hourly"
	}
	if c.Cleanup.MaxDays == 0 {
		c.Cleanup.MaxDays = 30
	}
	if c.Cleanup.MaxTimeSeconds == 0 {
		c.Cleanup.MaxTimeSeconds = 60
	}
	if c.Cleanup.BatchSize == 0 {
		c.Cleanup.BatchSize = 100
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("DB_DRIVER", ""); v != "" {
		c.DBDriver = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("GITHUB_CLIENT_ID", ""); v != "" {
		c.GitHubClientID = v
	}
	if v := getEnv("GITHUB_CLIENT_SECRET", ""); v != "" {
		c.GitHubClientSecret = v
	}
	if v := getEnv("GOOGLE_CLIENT_ID", ""); v != "" {
		c.GoogleClientID = v
	}
	if v := getEnv("GOOGLE_CLIENT_SECRET", ""); v != "" {
		c.GoogleClientSecret = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	if v := getEnv("OAUTH_REDIRECT_BASE_URL", ""); v != "" {
		c.OAuthRedirectBase = v
	}
	if v := getEnv("SMTP_HOST", ""); v != "" {
		c.SMTPHost = v
	}
	if v := getEnv("SMTP_PORT", ""); v != "" {
		c.SMTPPort = mustParseInt(v)
	}
	if v := getEnv("SMTP_USERNAME", ""); v != "" {
		c.SMTPUsername = v
	}
	if v := getEnv("SMTP_PASSWORD", ""); v != "" {
		c.SMTPPassword = v
	}
	if v := getEnv("SMTP_FROM", ""); v != "" {
		c.SMTPFrom = v
	}
	if v := getEnv("SMTP_FROM_NAME", ""); v != "" {
		c.SMTPFromName = v
	}
	if v := getEnv("SMTP_TLS", ""); v != "" {
		c.SMTPTLS = v == "true"
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	c.AdminUsernames = readListEnv("ADMIN_USERNAMES", c.AdminUsernames)

	// comments
	if v := getEnv("COMMENTS_MODERATE_GUESTS", ""); v != "" {
		c.Comments.ModerateGuests = v == "true"
	}
	if v := getEnv("COMMENTS_MODERATE_ALL", ""); v != "" {
		c.Comments.ModerateAll = v == "true"
	}
	if v := getEnv("COMMENTS_OWN_COMMENTS", ""); v != "" {
		c.Comments.OwnComments = v == "true"
	}
	if v := getEnv("COMMENTS_CAPTCHA_FOR_GUESTS", ""); v != "" {
		c.Comments.CaptchaForGuests = v == "true"
	}
	if v := getEnv("COMMENTS_EDIT_WINDOW_MINUTES", ""); v != "" {
		c.Comments.EditWindowMinutes = mustParseInt(v)
	}
	c.Comments.NotifyEmails = readListEnv("COMMENTS_NOTIFY_EMAILS", c.Comments.NotifyEmails)

	// spam
	if v := getEnv("AKISMET_KEY", ""); v != "" {
		c.Spam.AkismetKey = v
	}
	if v := getEnv("AKISMET_BLOG", ""); v != "" {
		c.Spam.AkismetBlog = v
	}
	if v := getEnv("AKISMET_IS_TEST", ""); v != "" {
		c.Spam.AkismetIsTest = v == "true"
	}
	if v := getEnv("SPAM_TIMEOUT_SECONDS", ""); v != "" {
		c.Spam.TimeoutSeconds = mustParseInt(v)
	}
	c.Spam.BlockedWords = readListEnv("SPAM_BLOCKED_WORDS", c.Spam.BlockedWords)
	c.Spam.DiscardWords = readListEnv("SPAM_DISCARD_WORDS", c.Spam.DiscardWords)

	if v := getEnv("PRIVACY_ERASE_BODIES", ""); v != "" {
		c.Privacy.EraseBodies = v == "true"
	}

	// cleanup
	if v := getEnv("CLEANUP_ENABLED", ""); v != "" {
		c.Cleanup.Enabled = v == "true"
	}
	if v := getEnv("CLEANUP_SCHEDULE", ""); v != "" {
		c.Cleanup.Schedule = v
	}
	if v := getEnv("CLEANUP_MAX_DAYS", ""); v != "" {
		c.Cleanup.MaxDays = mustParseInt(v)
	}
	if v := getEnv("CLEANUP_MAX_TIME", ""); v != "" {
		c.Cleanup.MaxTimeSeconds = mustParseInt(v)
	}
	if v := getEnv("CLEANUP_BATCH_SIZE", ""); v != "" {
		c.Cleanup.BatchSize = mustParseInt(v)
	}
}

// IsAdmin reports whether username is configured as a moderator.
func (c AppConfig) IsAdmin(username string) bool {
	for _, name := range c.AdminUsernames {
		if strings.EqualFold(strings.TrimSpace(name), username) {
			return true
		}
	}
	return false
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func readListEnv(key string, defaults []string) []string {
	if raw := os.Getenv(key); raw != "" {
		return splitAndTrim(raw)
	}
	return defaults
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
