package cfg

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port                string
	Environment         string
	LogLevel            string
	LogFile             string
	DatabasePath        string
	LegacyDatabasePath  string
	DBMaxOpenConns      int
	DBMaxIdleConns      int
	DBQueryTimeout      time.Duration
	CleanupInterval     time.Duration
	RecentLimit         int
	MaxPasteSize        int64
	BaseURL             string
	RedisURL            string
	RedisUsername       string
	RedisPassword       Secret
	RedisTimeout        time.Duration
	RevealCacheSize     int
	SessionTTL          time.Duration
	SessionCookieSecure bool
	ContextTimeout      time.Duration
	AllowedOrigins      []string
	TrustedProxies      []string
	MetricsUser         string
	MetricsPass         Secret
}

// Load reads configuration from the environment. Values from an env file
// (ENV_FILE, default .env) fill in keys that are not already set.
func Load() (*Cfg, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrapf(err, "load %s", envFile)
		}
	}
	c := &Cfg{}
	c.Port = getEnv("PORT", "5000")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFile = getEnv("LOG_FILE", "")
	c.DatabasePath = getEnv("DATABASE_PATH", filepath.Join("data", "rujukan.db"))
	c.LegacyDatabasePath = getEnv("LEGACY_DATABASE_PATH", "pastebin.db")
	c.BaseURL = strings.TrimRight(getEnv("BASE_URL", ""), "/")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	var err error
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	c.RecentLimit, err = getInt("RECENT_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 512*1024)
	if err != nil {
		return nil, err
	}
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	c.RevealCacheSize, err = getInt("REVEAL_CACHE_SIZE", 10000)
	if err != nil {
		return nil, err
	}
	c.SessionTTL, err = getDuration("SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	c.SessionCookieSecure, err = getBool("SESSION_COOKIE_SECURE", c.Environment == "production")
	if err != nil {
		return nil, err
	}
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.LegacyDatabasePath != "" && c.LegacyDatabasePath == c.DatabasePath {
		return errors.New("LEGACY_DATABASE_PATH must differ from DATABASE_PATH")
	}
	if c.DBMaxOpenConns <= 0 {
		return errors.New("DB_MAX_OPEN_CONNS must be positive")
	}
	if c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns {
		return errors.New("DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS")
	}
	if c.DBQueryTimeout < 100*time.Millisecond {
		return errors.New("DB_QUERY_TIMEOUT must be at least 100ms")
	}
	if c.CleanupInterval < time.Minute {
		return errors.New("CLEANUP_INTERVAL must be at least 1 minute")
	}
	if c.RecentLimit < 1 || c.RecentLimit > 100 {
		return errors.New("RECENT_LIMIT must be between 1 and 100")
	}
	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("BASE_URL must be an absolute http(s) URL")
		}
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
	}
	if c.RedisTimeout <= 0 {
		return errors.New("REDIS_TIMEOUT must be positive")
	}
	if c.RevealCacheSize <= 0 || c.RevealCacheSize > 100000 {
		return errors.New("REVEAL_CACHE_SIZE must be between 1 and 100000")
	}
	if c.SessionTTL < time.Minute {
		return errors.New("SESSION_TTL must be at least 1 minute")
	}
	if c.ContextTimeout <= 0 {
		return errors.New("CONTEXT_TIMEOUT must be positive")
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
		if !c.SessionCookieSecure {
			return errors.New("SESSION_COOKIE_SECURE must be true in production")
		}
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getBool(key string, fallback bool) (bool, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid bool for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
