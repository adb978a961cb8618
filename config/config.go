// Package config reads service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Config holds every setting shared by the binaries.
type Config struct {
	ConnectionString string
	TasksTable       string
	ProjectsTable    string
	CategoriesTable  string
	SettingsTable    string
	ChangesQueue     string
	ChangesChannel   string

	RedisConnection string
	SnapshotTTL     time.Duration
	IdempotencyTTL  time.Duration

	WriteTimeout   time.Duration
	CommandWorkers int
	CommandBuffer  int
	CreateGrace    time.Duration

	Auth0Domain   string
	Auth0Audience string
	AuthTestMode  bool
	TestJWTSecret string

	Port string

	CalendarID      string
	CalendarUserID  string
	CredentialsFile string
	TokenFile       string
	PollInterval    time.Duration
	SessionIdle     time.Duration
}

// Load reads the configuration. Values that fail to parse fall back to their
// defaults with a warning.
func Load() Config {
	return Config{
		ConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:       envString("TASKS_TABLE", "Tasks"),
		ProjectsTable:    envString("PROJECTS_TABLE", "Projects"),
		CategoriesTable:  envString("CATEGORIES_TABLE", "Categories"),
		SettingsTable:    envString("SETTINGS_TABLE", "UserSettings"),
		ChangesQueue:     envString("CHANGES_QUEUE", "task-changes"),
		ChangesChannel:   envString("CHANGES_CHANNEL", "gtd-changes"),
		RedisConnection:  os.Getenv("REDIS_CONNECTION_STRING"),
		SnapshotTTL:      envDur("SNAPSHOT_CACHE_TTL", 5*time.Minute),
		IdempotencyTTL:   envDur("IDEMPOTENCY_TTL", 24*time.Hour),
		WriteTimeout:     envDur("WRITE_TIMEOUT", 15*time.Second),
		CommandWorkers:   envInt("COMMAND_WORKERS", 8),
		CommandBuffer:    envInt("COMMAND_BUFFER", 256),
		CreateGrace:      envDur("CREATE_GRACE", 30*time.Second),
		Auth0Domain:      os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience:    os.Getenv("AUTH0_AUDIENCE"),
		AuthTestMode:     os.Getenv("AUTH0_TEST_MODE") == "1",
		TestJWTSecret:    os.Getenv("TEST_JWT_SECRET"),
		Port:             envString("API_PORT", "8080"),
		CalendarID:       envString("GOOGLE_CALENDAR_ID", "primary"),
		CalendarUserID:   os.Getenv("CALENDAR_USER_ID"),
		CredentialsFile:  envString("GOOGLE_CREDENTIALS_FILE", "credentials.json"),
		TokenFile:        envString("GOOGLE_TOKEN_FILE", "token.json"),
		PollInterval:     envDur("QUEUE_POLL_INTERVAL", time.Second),
		SessionIdle:      envDur("SESSION_IDLE_TIMEOUT", 30*time.Minute),
	}
}

// ValidateStorage reports the first missing storage setting.
func (c Config) ValidateStorage() error {
	switch {
	case c.ConnectionString == "":
		return errors.New("missing STORAGE_CONNECTION_STRING")
	case c.RedisConnection == "":
		return errors.New("missing REDIS_CONNECTION_STRING")
	}
	return nil
}

// SetupLogging applies DEBUG and LOG_FORMAT to the standard logger.
func SetupLogging() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

// RedisOptions accepts either a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.WithField("key", key).Warnf("invalid value %q, using %d", v, def)
		return def
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.WithField("key", key).Warnf("invalid duration %q, using %s", v, def)
		return def
	}
	return d
}
