package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	NapcatBaseURL string
	NapcatToken   string
	NapcatWSURL   string
	RetryAttempts int
	PingInterval  time.Duration

	SourceMode   string // poll | ws
	EgressMode   string // http | ws | auto
	EgressDryRun bool

	BatchSize      int
	PollInterval   time.Duration
	IdleInterval   time.Duration
	RequestTimeout time.Duration
	GroupChatType  int
	AllowedGroups  []string

	StoreBackend   string // file | redis | sqlite | postgres
	DataFile       string
	CursorFile     string
	PersistCursor  bool
	RedisURL       string
	RedisKeyPrefix string
	SQLitePath     string
	DatabaseURL    string

	MessagesDir         string
	AllowVenueOverwrite bool
	Location            *time.Location
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		RetryAttempts:  3,
		PingInterval:   30 * time.Second,
		SourceMode:     "poll",
		EgressMode:     "http",
		BatchSize:      10,
		PollInterval:   time.Second,
		IdleInterval:   2 * time.Second,
		RequestTimeout: 5 * time.Second,
		GroupChatType:  1,
		StoreBackend:   "file",
		DataFile:       "arcade_data.json",
		PersistCursor:  true,
		RedisKeyPrefix: "arcade",
		SQLitePath:     "arcade.db",
		Location:       time.Local,
	}

	cfg.NapcatBaseURL = strings.TrimSpace(os.Getenv("NAPCAT_BASE_URL"))
	cfg.NapcatToken = strings.TrimSpace(os.Getenv("NAPCAT_TOKEN"))
	cfg.NapcatWSURL = strings.TrimSpace(os.Getenv("NAPCAT_WS_URL"))

	if v := strings.TrimSpace(os.Getenv("NAPCAT_RETRY_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetryAttempts = n
		}
	}
	cfg.PingInterval = envDuration("WS_PING_INTERVAL", cfg.PingInterval)

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("SOURCE_MODE"))); v != "" {
		cfg.SourceMode = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("EGRESS_MODE"))); v != "" {
		cfg.EgressMode = v
	}
	cfg.EgressDryRun = envBool("EGRESS_DRYRUN", false)

	if v := strings.TrimSpace(os.Getenv("BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GROUP_CHAT_TYPE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GroupChatType = n
		}
	}
	cfg.PollInterval = envDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.IdleInterval = envDuration("IDLE_INTERVAL", cfg.IdleInterval)
	cfg.RequestTimeout = envDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.AllowedGroups = splitList(os.Getenv("ALLOWED_GROUPS"))

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))); v != "" {
		cfg.StoreBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("DATA_FILE")); v != "" {
		cfg.DataFile = v
	}
	cfg.CursorFile = strings.TrimSpace(os.Getenv("CURSOR_FILE"))
	if cfg.CursorFile == "" {
		cfg.CursorFile = cfg.DataFile + ".cursor"
	}
	cfg.PersistCursor = envBool("PERSIST_CURSOR", cfg.PersistCursor)
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("REDIS_KEY_PREFIX")); v != "" {
		cfg.RedisKeyPrefix = v
	}
	if v := strings.TrimSpace(os.Getenv("SQLITE_PATH")); v != "" {
		cfg.SQLitePath = v
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.AllowVenueOverwrite = envBool("ALLOW_VENUE_OVERWRITE", false)

	if v := strings.TrimSpace(os.Getenv("TIMEZONE")); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return nil, fmt.Errorf("TIMEZONE: %w", err)
		}
		cfg.Location = loc
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.NapcatBaseURL == "" {
		return errors.New("NAPCAT_BASE_URL is required")
	}
	switch c.SourceMode {
	case "poll":
	case "ws":
		if c.NapcatWSURL == "" {
			return errors.New("NAPCAT_WS_URL is required when SOURCE_MODE=ws")
		}
	default:
		return fmt.Errorf("unsupported SOURCE_MODE %q", c.SourceMode)
	}
	switch c.EgressMode {
	case "http":
	case "ws", "auto":
		if c.NapcatWSURL == "" {
			return fmt.Errorf("NAPCAT_WS_URL is required when EGRESS_MODE=%s", c.EgressMode)
		}
	default:
		return fmt.Errorf("unsupported EGRESS_MODE %q", c.EgressMode)
	}
	switch c.StoreBackend {
	case "file", "sqlite":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

// GroupAllowed reports whether replies may be produced for the group.
func (c *AppConfig) GroupAllowed(groupID string) bool {
	if len(c.AllowedGroups) == 0 {
		return true
	}
	for _, g := range c.AllowedGroups {
		if g == groupID {
			return true
		}
	}
	return false
}

func envBool(key string, def bool) bool {
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

// envDuration accepts "1500ms"/"2s" or a bare number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
