package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string
	Port   int

	// Postgres (pgxpool DSN)
	DBDSN string

	// Redis (token/TTL cache)
	RedisAddr string
	RedisPass string
	RedisDB   int

	// Remote store (Lark-style bitable API)
	LarkBaseURL   string
	LarkAuthURL   string
	LarkAppID     string
	LarkAppSecret string
	LarkAppToken  string
	LarkTableID   string

	// Reconciliation loop
	SyncEnabled  bool
	SyncInterval time.Duration

	// Calendar dates are derived in this timezone.
	ReferenceTZ string

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.Port = getInt("PORT", 8080)

	// --- Postgres: prefer DATABASE_URL if present, else build from POSTGRES_*
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL != "" {
		cfg.DBDSN = dbURL
	} else {
		addr := getEnv("POSTGRES_ADDR", "")
		user := getEnv("POSTGRES_USER", "")
		pass := getEnv("POSTGRES_PASSWORD", "")
		db := getEnv("POSTGRES_DB", "")
		sslmode := getEnv("POSTGRES_SSLMODE", "disable")
		cfg.DBDSN = buildPostgresURL(addr, user, pass, db, sslmode)
	}

	// --- Redis
	cfg.RedisAddr = getEnv("REDIS_ADDR", "127.0.0.1:6379")
	cfg.RedisPass = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getInt("REDIS_DB", 0)

	// --- Remote store
	cfg.LarkBaseURL = getEnv("LARK_BASE_URL", "https://open.larksuite.com/open-apis/bitable/v1/apps")
	cfg.LarkAuthURL = getEnv("LARK_AUTH_URL", "https://open.larksuite.com/open-apis/auth/v3/tenant_access_token/internal")
	cfg.LarkAppID = getEnv("LARK_APP_ID", "")
	cfg.LarkAppSecret = getEnv("LARK_APP_SECRET", "")
	cfg.LarkAppToken = getEnv("LARK_APP_TOKEN", "")
	cfg.LarkTableID = getEnv("LARK_TABLE_ID", "")

	// --- Reconciliation loop
	cfg.SyncEnabled = getBool("SYNC_ENABLED", true)
	cfg.SyncInterval = getDuration("SYNC_INTERVAL", 3*time.Second)

	cfg.ReferenceTZ = getEnv("REFERENCE_TZ", "Local")

	// --- Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	// --- Validation (fail fast)
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("missing database config: provide DATABASE_URL or POSTGRES_ADDR/POSTGRES_USER/POSTGRES_PASSWORD/POSTGRES_DB")
	}
	if cfg.SyncEnabled {
		if cfg.LarkAppID == "" || cfg.LarkAppSecret == "" {
			return nil, fmt.Errorf("missing LARK_APP_ID/LARK_APP_SECRET (required when SYNC_ENABLED)")
		}
		if cfg.LarkAppToken == "" || cfg.LarkTableID == "" {
			return nil, fmt.Errorf("missing LARK_APP_TOKEN/LARK_TABLE_ID (required when SYNC_ENABLED)")
		}
	}
	if cfg.SyncInterval < time.Second {
		return nil, fmt.Errorf("SYNC_INTERVAL must be at least 1s, got %s", cfg.SyncInterval)
	}

	return cfg, nil
}

// Location resolves the reference timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.ReferenceTZ == "" || strings.EqualFold(c.ReferenceTZ, "Local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.ReferenceTZ)
}

// buildPostgresURL builds a safe postgres URL DSN (handles special characters).
func buildPostgresURL(addr, user, pass, db, sslmode string) string {
	if addr == "" || user == "" || db == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   addr,
		Path:   "/" + db,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
