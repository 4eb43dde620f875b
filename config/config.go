package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tutorflow/db"
	"tutorflow/dispute"
)

type Config struct {
	DatabaseURL string
	JWTSecret   string
	HTTPAddr    string
	Environment string

	DBApplicationName string
	DBMaxConns        int
	DBMinConns        int
	DBMaxConnIdleTime time.Duration

	ReconciliationWindow time.Duration
	StaffReviewWindow    time.Duration
	SweepInterval        time.Duration
	SweepBatchSize       int

	RelayInterval    time.Duration
	RelayBatchSize   int
	RelayMaxAttempts int

	CatalogPath string

	KafkaBrokers []string
	KafkaTopic   string

	RedisURL string

	TelegramToken       string
	TelegramStaffChatID int64
}

// Load reads an optional .env file and then the process environment. It
// reports whether a .env file was found so the caller can log it once a
// logger exists.
func Load() (*Config, bool, error) {
	fromFile := godotenv.Load(".env") == nil
	cfg, err := FromEnv(os.LookupEnv)
	return cfg, fromFile, err
}

// FromEnv builds a Config from lookup, applying defaults and validating.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		DatabaseURL: r.str("DATABASE_URL", ""),
		JWTSecret:   r.str("JWT_SECRET", ""),
		HTTPAddr:    r.str("HTTP_ADDR", ":8080"),
		Environment: r.str("ENV", "development"),

		DBApplicationName: r.str("DB_APPLICATION_NAME", db.DefaultApplicationName),
		DBMaxConns:        r.integer("DB_MAX_CONNS", 0),
		DBMinConns:        r.integer("DB_MIN_CONNS", 0),
		DBMaxConnIdleTime: r.duration("DB_MAX_CONN_IDLE_TIME", 0),

		ReconciliationWindow: r.duration("RECONCILIATION_WINDOW", 24*time.Hour),
		StaffReviewWindow:    r.duration("STAFF_REVIEW_WINDOW", 72*time.Hour),
		SweepInterval:        r.duration("SWEEP_INTERVAL", time.Minute),
		SweepBatchSize:       r.integer("SWEEP_BATCH_SIZE", 100),

		RelayInterval:    r.duration("RELAY_INTERVAL", 2*time.Second),
		RelayBatchSize:   r.integer("RELAY_BATCH_SIZE", 50),
		RelayMaxAttempts: r.integer("RELAY_MAX_ATTEMPTS", 5),

		CatalogPath: r.str("CATALOG_PATH", ""),

		KafkaBrokers: r.list("KAFKA_BROKERS"),
		KafkaTopic:   r.str("KAFKA_TOPIC", "disputes.events"),

		RedisURL: r.str("REDIS_URL", ""),

		TelegramToken:       r.str("TELEGRAM_TOKEN", ""),
		TelegramStaffChatID: r.int64Value("TELEGRAM_STAFF_CHAT_ID", 0),
	}

	if r.err != nil {
		return nil, r.err
	}
	if cfg.ReconciliationWindow <= 0 {
		return nil, fmt.Errorf("config: RECONCILIATION_WINDOW must be positive")
	}
	if cfg.SweepInterval <= 0 || cfg.RelayInterval <= 0 {
		return nil, fmt.Errorf("config: SWEEP_INTERVAL and RELAY_INTERVAL must be positive")
	}
	// EscalateExpired promotes at most dispute.MaxPageSize rows per call.
	if cfg.SweepBatchSize < 1 || cfg.SweepBatchSize > dispute.MaxPageSize {
		return nil, fmt.Errorf("config: SWEEP_BATCH_SIZE must be between 1 and %d", dispute.MaxPageSize)
	}
	if cfg.RelayBatchSize < 1 || cfg.RelayMaxAttempts < 1 {
		return nil, fmt.Errorf("config: RELAY_BATCH_SIZE and RELAY_MAX_ATTEMPTS must be positive")
	}
	if cfg.DBMaxConns < 0 || cfg.DBMinConns < 0 || cfg.DBMaxConnIdleTime < 0 {
		return nil, fmt.Errorf("config: DB pool settings must not be negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("config: DB_MIN_CONNS must not exceed DB_MAX_CONNS")
	}
	if cfg.TelegramToken != "" && cfg.TelegramStaffChatID == 0 {
		return nil, fmt.Errorf("config: TELEGRAM_STAFF_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}

	return cfg, nil
}

// RequireDatabase fails when no DATABASE_URL was supplied.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required but not set")
	}
	return nil
}

// RequireAuth fails when no JWT_SECRET was supplied.
func (c *Config) RequireAuth() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required but not set")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// reader accumulates the first parse error so FromEnv stays linear.
type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) int64Value(key string, def int64) int64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) list(key string) []string {
	v, ok := r.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
