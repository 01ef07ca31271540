package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	for _, k := range []string{
		"PORT", "ENVIRONMENT", "DATABASE_PATH", "CLEANUP_INTERVAL", "RECENT_LIMIT",
		"MAX_PASTE_SIZE", "REDIS_URL", "SESSION_COOKIE_SECURE", "METRICS_USER", "METRICS_PASS",
		"ALLOWED_ORIGINS", "BASE_URL", "REDIS_TIMEOUT",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Port != "5000" {
		t.Errorf("Port = %s", c.Port)
	}
	if c.DatabasePath != filepath.Join("data", "rujukan.db") {
		t.Errorf("DatabasePath = %s", c.DatabasePath)
	}
	if c.CleanupInterval != 10*time.Minute {
		t.Errorf("CleanupInterval = %v", c.CleanupInterval)
	}
	if c.SessionCookieSecure {
		t.Error("cookies should not be Secure-only in development")
	}
	if err := Validate(c); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	isolateEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "PORT=8089\nRECENT_LIMIT=25\nALLOWED_ORIGINS=https://a.example, https://b.example\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", envFile)
	t.Cleanup(func() {
		os.Unsetenv("PORT")
		os.Unsetenv("RECENT_LIMIT")
		os.Unsetenv("ALLOWED_ORIGINS")
	})
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Port != "8089" || c.RecentLimit != 25 {
		t.Errorf("env file not applied: port=%s limit=%d", c.Port, c.RecentLimit)
	}
	if len(c.AllowedOrigins) != 2 || c.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", c.AllowedOrigins)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	isolateEnv(t)
	t.Setenv("CLEANUP_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	isolateEnv(t)
	base, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		mutate func(c *Cfg)
	}{
		{"bad port", func(c *Cfg) { c.Port = "http" }},
		{"no db", func(c *Cfg) { c.DatabasePath = "" }},
		{"legacy equals db", func(c *Cfg) { c.LegacyDatabasePath = c.DatabasePath }},
		{"recent limit", func(c *Cfg) { c.RecentLimit = 0 }},
		{"paste size", func(c *Cfg) { c.MaxPasteSize = 20 * 1024 * 1024 }},
		{"redis scheme", func(c *Cfg) { c.RedisURL = "http://localhost:6379" }},
		{"redis timeout zero", func(c *Cfg) { c.RedisTimeout = 0 }},
		{"redis timeout negative", func(c *Cfg) { c.RedisTimeout = -time.Second }},
		{"base url", func(c *Cfg) { c.BaseURL = "example.com" }},
		{"cleanup interval", func(c *Cfg) { c.CleanupInterval = time.Second }},
		{"production metrics", func(c *Cfg) {
			c.Environment = "production"
			c.SessionCookieSecure = true
		}},
	}
	if err := Validate(base); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			if err := Validate(&c); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSecretString(t *testing.T) {
	s := NewSecret("hunter2")
	if s.String() != "***REDACTED***" {
		t.Errorf("secret leaked via String(): %s", s.String())
	}
	s.Wipe()
	if s.Value() == "hunter2" {
		t.Error("Wipe did not clear the secret")
	}
}
