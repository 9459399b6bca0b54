// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, idempotency, saga
// execution, health thresholds, rate limiting, and observability.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-sync-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SagaConfig defines saga orchestration settings.
type SagaConfig struct {
	Workers        int           // max concurrent async saga executions
	MaxAttempts    int           // default attempts per step for transient failures
	InitialBackoff time.Duration // first retry delay
	MaxBackoff     time.Duration // retry delay ceiling
	StepTimeout    time.Duration // default per-step deadline
	StuckAfter     time.Duration // age after which a non-terminal saga is flagged
	Retention      time.Duration // how long terminal executions are kept
}

// HealthConfig defines transaction health monitor settings.
type HealthConfig struct {
	Window              time.Duration // evaluation window for classification
	DegradedFailureRate float64       // failure rate at which an operation degrades
	CriticalFailureRate float64       // failure rate at which an operation goes critical
	MaxInfraErrors      int64         // deadlock+timeout ceiling before critical
	MinSamples          int64         // attempts required before classifying
	Buffer              int           // recorder channel capacity
	SnapshotTTL         time.Duration // snapshot memoization lifetime
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

	// App
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL  time.Duration // how long a given Idempotency-Key is valid
	JanitorInterval time.Duration // expired-record sweep cadence
	JanitorBatch    int           // max rows deleted per sweep

	// Saga orchestration
	Saga SagaConfig

	// Transaction health
	Health HealthConfig

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
		Port:              getenv("PORT", "8080"),
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

		// App
		DBPath: getenv("DB_PATH", "sync.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 25.0),
		RateBurst: getint("RATE_BURST", 50),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL:  getdur("IDEMPOTENCY_TTL", 24*time.Hour),
		JanitorInterval: getdur("JANITOR_INTERVAL", 10*time.Minute),
		JanitorBatch:    getint("JANITOR_BATCH", 500),

		// Saga orchestration
		Saga: SagaConfig{
			Workers:        getint("SAGA_WORKERS", 8),
			MaxAttempts:    getint("SAGA_MAX_ATTEMPTS", 3),
			InitialBackoff: getdur("SAGA_INITIAL_BACKOFF", 100*time.Millisecond),
			MaxBackoff:     getdur("SAGA_MAX_BACKOFF", 2*time.Second),
			StepTimeout:    getdur("SAGA_STEP_TIMEOUT", 10*time.Second),
			StuckAfter:     getdur("SAGA_STUCK_AFTER", 15*time.Minute),
			Retention:      getdur("SAGA_RETENTION", 7*24*time.Hour),
		},

		// Transaction health
		Health: HealthConfig{
			Window:              getdur("HEALTH_WINDOW", time.Hour),
			DegradedFailureRate: getfloat("HEALTH_DEGRADED_RATE", 0.05),
			CriticalFailureRate: getfloat("HEALTH_CRITICAL_RATE", 0.25),
			MaxInfraErrors:      int64(getint("HEALTH_MAX_INFRA_ERRORS", 10)),
			MinSamples:          int64(getint("HEALTH_MIN_SAMPLES", 5)),
			Buffer:              getint("HEALTH_BUFFER", 1024),
			SnapshotTTL:         getdur("HEALTH_SNAPSHOT_TTL", 15*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-sync-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.JanitorInterval <= 0 {
		return cfg, errors.New("JANITOR_INTERVAL must be > 0")
	}
	if cfg.JanitorBatch < 1 {
		return cfg, errors.New("JANITOR_BATCH must be >= 1")
	}
	if cfg.Saga.Workers < 1 {
		return cfg, errors.New("SAGA_WORKERS must be >= 1")
	}
	if cfg.Saga.MaxAttempts < 1 {
		return cfg, errors.New("SAGA_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Saga.InitialBackoff <= 0 || cfg.Saga.MaxBackoff < cfg.Saga.InitialBackoff {
		return cfg, errors.New("saga backoff durations must be positive and ordered")
	}
	if cfg.Saga.StepTimeout <= 0 {
		return cfg, errors.New("SAGA_STEP_TIMEOUT must be > 0")
	}
	if cfg.Saga.StuckAfter <= 0 {
		return cfg, errors.New("SAGA_STUCK_AFTER must be > 0")
	}
	if cfg.Saga.Retention <= 0 {
		return cfg, errors.New("SAGA_RETENTION must be > 0")
	}
	if cfg.Health.Window <= 0 {
		return cfg, errors.New("HEALTH_WINDOW must be > 0")
	}
	if cfg.Health.DegradedFailureRate < 0 || cfg.Health.DegradedFailureRate > 1 ||
		cfg.Health.CriticalFailureRate < 0 || cfg.Health.CriticalFailureRate > 1 {
		return cfg, errors.New("health failure rates must be in [0,1]")
	}
	if cfg.Health.CriticalFailureRate < cfg.Health.DegradedFailureRate {
		return cfg, errors.New("HEALTH_CRITICAL_RATE must be >= HEALTH_DEGRADED_RATE")
	}
	if cfg.Health.MaxInfraErrors < 0 {
		return cfg, errors.New("HEALTH_MAX_INFRA_ERRORS must be >= 0")
	}
	if cfg.Health.MinSamples < 0 {
		return cfg, errors.New("HEALTH_MIN_SAMPLES must be >= 0")
	}
	if cfg.Health.Buffer < 1 {
		return cfg, errors.New("HEALTH_BUFFER must be >= 1")
	}
	if cfg.Health.SnapshotTTL < 0 {
		return cfg, errors.New("HEALTH_SNAPSHOT_TTL must be >= 0")
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
