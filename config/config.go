package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"ratecheck/scheduler"
	"ratecheck/scraper"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting. All values come from the environment,
// optionally seeded from a .env file.
type Config struct {
	// Engine
	BookingHost       string
	Concurrency       int
	JitterMin         time.Duration
	JitterMax         time.Duration
	DefaultCurrency   string
	NavigationTimeout time.Duration
	PageTimeout       time.Duration
	ListingTimeout    time.Duration
	RoomsTimeout      time.Duration
	BreakdownTimeout  time.Duration
	ConsentTimeout    time.Duration
	PauseMin          time.Duration
	PauseMax          time.Duration
	MaxCandidates     int
	CityBonus         float64
	MaxRows           int
	ResolverCacheSize int
	ResolverCacheTTL  time.Duration

	// Fallback
	FallbackEnabled  bool
	FallbackBaseURL  string
	FallbackTimeout  time.Duration
	FallbackRPS      float64
	FallbackBurst    int
	BypassCloudflare bool

	// Browser
	Headless   bool
	BrowserBin string

	// API server
	Port             string
	AccessHash       string
	RateLimit        float64
	CORSOrigins      []string
	Workers          int
	QueueSize        int
	MaxPairs         int
	TaskRetention    time.Duration
	MaxRequestSize   int64
	ShutdownTimeout  time.Duration
	SchedulerEnabled bool

	// Scheduled batches
	Schedule  string
	BatchFile string
	ExportDir string

	// Observability
	LogLevel     string
	OTELEndpoint string
	OTELHeaders  map[string]string
	ServiceName  string
}

// Load reads .env when present and builds the configuration from the
// environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	return &Config{
		BookingHost:       getEnv("RATECHECK_BOOKING_HOST", scraper.BookingHost),
		Concurrency:       getEnvInt("RATECHECK_CONCURRENCY", 4),
		JitterMin:         getEnvDuration("RATECHECK_JITTER_MIN", 250*time.Millisecond),
		JitterMax:         getEnvDuration("RATECHECK_JITTER_MAX", 800*time.Millisecond),
		DefaultCurrency:   strings.ToUpper(getEnv("RATECHECK_CURRENCY", "EUR")),
		NavigationTimeout: getEnvDuration("RATECHECK_NAV_TIMEOUT", 30*time.Second),
		PageTimeout:       getEnvDuration("RATECHECK_PAGE_TIMEOUT", 15*time.Second),
		ListingTimeout:    getEnvDuration("RATECHECK_LISTING_TIMEOUT", 20*time.Second),
		RoomsTimeout:      getEnvDuration("RATECHECK_ROOMS_TIMEOUT", 15*time.Second),
		BreakdownTimeout:  getEnvDuration("RATECHECK_BREAKDOWN_TIMEOUT", 1500*time.Millisecond),
		ConsentTimeout:    getEnvDuration("RATECHECK_CONSENT_TIMEOUT", 3*time.Second),
		PauseMin:          getEnvDuration("RATECHECK_PAUSE_MIN", 250*time.Millisecond),
		PauseMax:          getEnvDuration("RATECHECK_PAUSE_MAX", 800*time.Millisecond),
		MaxCandidates:     getEnvInt("RATECHECK_MAX_CANDIDATES", 30),
		CityBonus:         getEnvFloat("RATECHECK_CITY_BONUS", 15),
		MaxRows:           getEnvInt("RATECHECK_MAX_ROWS", 15),
		ResolverCacheSize: getEnvInt("RATECHECK_RESOLVER_CACHE_SIZE", 512),
		ResolverCacheTTL:  getEnvDuration("RATECHECK_RESOLVER_CACHE_TTL", 12*time.Hour),

		FallbackEnabled:  getEnvBool("RATECHECK_FALLBACK_ENABLED", true),
		FallbackBaseURL:  getEnv("RATECHECK_FALLBACK_BASE_URL", ""),
		FallbackTimeout:  getEnvDuration("RATECHECK_FALLBACK_TIMEOUT", 20*time.Second),
		FallbackRPS:      getEnvFloat("RATECHECK_FALLBACK_RPS", 2),
		FallbackBurst:    getEnvInt("RATECHECK_FALLBACK_BURST", 2),
		BypassCloudflare: getEnvBool("RATECHECK_CLOUDFLARE_BYPASS", true),

		Headless:   getEnvBool("RATECHECK_HEADLESS", true),
		BrowserBin: getEnv("RATECHECK_BROWSER_BIN", ""),

		Port:             getEnv("PORT", "8080"),
		AccessHash:       strings.ToLower(getEnv("RATECHECK_ACCESS_HASH", "")),
		RateLimit:        getEnvFloat("API_RATE_LIMIT", 5),
		CORSOrigins:      getEnvList("API_CORS_ORIGINS", []string{"*"}),
		Workers:          getEnvInt("RATECHECK_WORKERS", 2),
		QueueSize:        getEnvInt("RATECHECK_QUEUE_SIZE", 100),
		MaxPairs:         getEnvInt("RATECHECK_MAX_PAIRS", 500),
		TaskRetention:    getEnvDuration("RATECHECK_TASK_RETENTION", time.Hour),
		MaxRequestSize:   getEnvInt64("API_MAX_REQUEST_SIZE", 1<<20),
		ShutdownTimeout:  getEnvDuration("API_SHUTDOWN_TIMEOUT", 15*time.Second),
		SchedulerEnabled: getEnvBool("RATECHECK_SCHEDULER_ENABLED", true),

		Schedule:  getEnv("RATECHECK_SCHEDULE", ""),
		BatchFile: getEnv("RATECHECK_BATCH_FILE", ""),
		ExportDir: getEnv("RATECHECK_EXPORT_DIR", "."),

		LogLevel:     getEnv("RATECHECK_LOG_LEVEL", "info"),
		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELHeaders:  getEnvMap("OTEL_EXPORTER_OTLP_HEADERS"),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "ratecheck"),
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("RATECHECK_CONCURRENCY must be at least 1, got %d", c.Concurrency))
	}
	if c.JitterMax < c.JitterMin {
		errs = append(errs, fmt.Errorf("RATECHECK_JITTER_MAX (%s) is below RATECHECK_JITTER_MIN (%s)", c.JitterMax, c.JitterMin))
	}
	if _, err := scheduler.NormalizeCurrency(c.DefaultCurrency, ""); err != nil {
		errs = append(errs, fmt.Errorf("RATECHECK_CURRENCY: %w", err))
	}
	if c.AccessHash != "" && !isSHA256Hex(c.AccessHash) {
		errs = append(errs, errors.New("RATECHECK_ACCESS_HASH must be a hex SHA-256 digest"))
	}
	if (c.Schedule == "") != (c.BatchFile == "") && c.SchedulerEnabled {
		errs = append(errs, errors.New("RATECHECK_SCHEDULE and RATECHECK_BATCH_FILE must be set together"))
	}
	return errors.Join(errs...)
}

// ScheduleEnabled reports whether a scheduled batch is configured.
func (c *Config) ScheduleEnabled() bool {
	return c.SchedulerEnabled && c.Schedule != "" && c.BatchFile != ""
}

func (c *Config) Site() *scraper.BookingSite {
	return scraper.NewBookingSite(c.BookingHost)
}

func (c *Config) BrowserOptions() scraper.BrowserOptions {
	return scraper.BrowserOptions{
		Bin:               c.BrowserBin,
		Headless:          c.Headless,
		NavigationTimeout: c.NavigationTimeout,
		ConsentTimeout:    c.ConsentTimeout,
	}
}

func (c *Config) EngineConfig() scraper.EngineConfig {
	return scraper.EngineConfig{
		Resolver: scraper.ResolverOptions{
			MaxCandidates:  c.MaxCandidates,
			CityBonus:      c.CityBonus,
			ListingTimeout: c.ListingTimeout,
			PauseMin:       c.PauseMin,
			PauseMax:       c.PauseMax,
			CacheSize:      c.ResolverCacheSize,
			CacheTTL:       c.ResolverCacheTTL,
		},
		Extractor: scraper.ExtractorOptions{
			MaxRows:          c.MaxRows,
			RoomsTimeout:     c.RoomsTimeout,
			BreakdownTimeout: c.BreakdownTimeout,
			PauseMin:         c.PauseMin / 2,
			PauseMax:         c.PauseMax / 2,
		},
		Fallback: scraper.FallbackOptions{
			BaseURL:           c.FallbackBaseURL,
			Timeout:           c.FallbackTimeout,
			RequestsPerSecond: c.FallbackRPS,
			Burst:             c.FallbackBurst,
			BypassCloudflare:  c.BypassCloudflare,
		},
		PageTimeout:     c.PageTimeout,
		FallbackEnabled: c.FallbackEnabled,
	}
}

func (c *Config) CoordinatorOptions() scheduler.CoordinatorOptions {
	return scheduler.CoordinatorOptions{
		Concurrency:     c.Concurrency,
		JitterMin:       c.JitterMin,
		JitterMax:       c.JitterMax,
		DefaultCurrency: c.DefaultCurrency,
	}
}

func (c *Config) TaskManagerOptions() scheduler.TaskManagerOptions {
	return scheduler.TaskManagerOptions{
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
		MaxPairs:  c.MaxPairs,
		Retention: c.TaskRetention,
	}
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvMap parses "k1=v1,k2=v2" as used by the OTLP header variables.
func getEnvMap(key string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
