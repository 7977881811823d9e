// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes bot identity, the
// target channel, operator allow-list, storage, broadcast pacing, session
// backend, HTTP server settings, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "relay-bot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// BotConfig describes the chat-platform identity and conversation settings.
type BotConfig struct {
	Token            string        // BOT_TOKEN
	Username         string        // BOT_USERNAME, without '@'
	Name             string        // BOT_NAME, shown in the byline
	ChannelUsername  string        // CHANNEL_USERNAME, without '@'
	DiscussionChatID int64         // DISCUSSION_CHAT_ID (linked group, 0 = none)
	OperatorIDs      []int64       // OPERATOR_IDS (comma separated)
	TextsDir         string        // TEXTS_DIR with start/rules/policy/work.txt
	DisplayCap       int           // DISPLAY_CAP runes shown in the detail view
	MaxBodyRunes     int           // MAX_BODY_RUNES accepted for publication
	UpdateMode       string        // polling|webhook
	WebhookSecret    string        // WEBHOOK_SECRET
	UpdateTimeout    time.Duration // per-update processing deadline
	Workers          int           // concurrent update handlers
	ChatRPS          float64       // per-chat inbound update rate
	ChatBurst        int
}

// BroadcastConfig controls the announcement dispatcher.
type BroadcastConfig struct {
	BatchSize  int           // users per batch
	MaxBatches int           // safety cap on scheduled batches
	Interval   time.Duration // delay per batch index
	SendRPS    float64       // per-recipient send pacing
}

// ShortenerConfig configures the optional URL-shortening collaborator.
type ShortenerConfig struct {
	URL     string // SHORTENER_URL; the long URL is appended query-escaped
	Timeout time.Duration
}

// SessionConfig selects where conversation state lives.
type SessionConfig struct {
	Backend   string // memory|redis
	RedisAddr string
	RedisDB   int
	TTL       time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Storage
	DBPath string // SQLite path

	// Rate limiting (HTTP)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Bot       BotConfig
	Broadcast BroadcastConfig
	Shortener ShortenerConfig
	Session   SessionConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "3000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "relay.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Bot: BotConfig{
			Token:            getenv("BOT_TOKEN", ""),
			Username:         strings.TrimPrefix(getenv("BOT_USERNAME", ""), "@"),
			Name:             getenv("BOT_NAME", "Alone"),
			ChannelUsername:  strings.TrimPrefix(getenv("CHANNEL_USERNAME", "alone_speakchnl"), "@"),
			DiscussionChatID: getint64("DISCUSSION_CHAT_ID", 0),
			TextsDir:         getenv("TEXTS_DIR", "."),
			DisplayCap:       getint("DISPLAY_CAP", 30),
			MaxBodyRunes:     getint("MAX_BODY_RUNES", 3500),
			UpdateMode:       strings.ToLower(getenv("UPDATE_MODE", "polling")),
			WebhookSecret:    getenv("WEBHOOK_SECRET", ""),
			UpdateTimeout:    getdur("UPDATE_TIMEOUT", 30*time.Second),
			Workers:          getint("UPDATE_WORKERS", 16),
			ChatRPS:          getfloat("CHAT_RPS", 2.0),
			ChatBurst:        getint("CHAT_BURST", 5),
		},
		Broadcast: BroadcastConfig{
			BatchSize:  getint("BROADCAST_BATCH_SIZE", 25),
			MaxBatches: getint("BROADCAST_MAX_BATCHES", 10),
			Interval:   getdur("BROADCAST_INTERVAL", time.Minute),
			SendRPS:    getfloat("BROADCAST_RPS", 20),
		},
		Shortener: ShortenerConfig{
			URL:     getenv("SHORTENER_URL", ""),
			Timeout: getdur("SHORTENER_TIMEOUT", 3*time.Second),
		},
		Session: SessionConfig{
			Backend:   strings.ToLower(getenv("SESSION_BACKEND", "memory")),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getint("REDIS_DB", 0),
			TTL:       getdur("SESSION_TTL", 7*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "relay-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	ops, err := parseIDs(getenv("OPERATOR_IDS", ""))
	if err != nil {
		return cfg, errors.New("OPERATOR_IDS must be a comma separated list of integers")
	}
	cfg.Bot.OperatorIDs = ops

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if strings.TrimSpace(cfg.Bot.ChannelUsername) == "" {
		return cfg, errors.New("CHANNEL_USERNAME must not be empty")
	}
	if cfg.Bot.DisplayCap < 1 {
		return cfg, errors.New("DISPLAY_CAP must be >= 1")
	}
	if cfg.Bot.MaxBodyRunes < 1 {
		return cfg, errors.New("MAX_BODY_RUNES must be >= 1")
	}
	switch cfg.Bot.UpdateMode {
	case "polling":
	case "webhook":
		if cfg.Bot.WebhookSecret == "" {
			return cfg, errors.New("WEBHOOK_SECRET is required when UPDATE_MODE=webhook")
		}
	default:
		return cfg, errors.New("UPDATE_MODE must be one of: polling, webhook")
	}
	if cfg.Bot.UpdateTimeout <= 0 {
		return cfg, errors.New("UPDATE_TIMEOUT must be > 0")
	}
	if cfg.Bot.Workers < 1 {
		return cfg, errors.New("UPDATE_WORKERS must be >= 1")
	}
	if cfg.Bot.ChatRPS <= 0 || cfg.Bot.ChatBurst < 1 {
		return cfg, errors.New("CHAT_RPS must be > 0 and CHAT_BURST >= 1")
	}
	if cfg.Broadcast.BatchSize < 1 || cfg.Broadcast.MaxBatches < 1 {
		return cfg, errors.New("BROADCAST_BATCH_SIZE and BROADCAST_MAX_BATCHES must be >= 1")
	}
	if cfg.Broadcast.Interval < 0 {
		return cfg, errors.New("BROADCAST_INTERVAL must be >= 0")
	}
	if cfg.Broadcast.SendRPS <= 0 {
		return cfg, errors.New("BROADCAST_RPS must be > 0")
	}
	if cfg.Shortener.Timeout <= 0 {
		return cfg, errors.New("SHORTENER_TIMEOUT must be > 0")
	}
	switch cfg.Session.Backend {
	case "memory", "redis":
	default:
		return cfg, errors.New("SESSION_BACKEND must be one of: memory, redis")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseIDs parses a comma separated list of platform identities.
func parseIDs(s string) ([]int64, error) {
	parts := splitCSV(s)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
