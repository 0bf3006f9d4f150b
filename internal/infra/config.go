package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Process modes decide which loops a binary runs.
const (
	ProcessModeAll    = "all"
	ProcessModeAPI    = "api"
	ProcessModeWorker = "worker"
)

// Database drivers accepted by DATABASE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseDriver string
	DatabaseURL    string
	JWTSecret      string
	ProcessMode    string

	ProviderAPIKey  string
	ProviderBaseURL string
	ProviderModel   string
	ProviderTimeout time.Duration

	EphemeralMediaHosts  []string
	StorageProvider      string
	StorageBucket        string
	StorageRegion        string
	StorageEndpoint      string
	StoragePathStyle     bool
	StorageAccessKey     string
	StorageSecretKey     string
	StoragePublicBaseURL string
	StoragePath          string
	StorageTimeout       time.Duration
	FFmpegPath           string

	SweepInterval      time.Duration
	SweepBatchSize     int
	GenerationTimeout  time.Duration
	RecoveryStaleAfter time.Duration

	DBBreakerThreshold int
	DBBreakerCooldown  time.Duration
	DBRetryMax         int
	DBRetryBaseDelay   time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           port,
		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		ProcessMode:    strings.ToLower(getEnv("PROCESS_MODE", ProcessModeAll)),

		ProviderAPIKey:  strings.TrimSpace(os.Getenv("PROVIDER_API_KEY")),
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.replicate.com/v1"),
		ProviderModel:   os.Getenv("PROVIDER_MODEL"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT_SECONDS", time.Second, 30*time.Second),

		EphemeralMediaHosts:  getEnvList("EPHEMERAL_MEDIA_HOSTS", []string{"replicate.delivery", "pbxt.replicate.delivery"}),
		StorageProvider:      strings.ToLower(getEnv("STORAGE_PROVIDER", "local")),
		StorageBucket:        os.Getenv("STORAGE_BUCKET"),
		StorageRegion:        getEnv("STORAGE_REGION", "us-east-1"),
		StorageEndpoint:      os.Getenv("STORAGE_ENDPOINT"),
		StoragePathStyle:     getEnvBool("STORAGE_PATH_STYLE", false),
		StorageAccessKey:     os.Getenv("STORAGE_ACCESS_KEY_ID"),
		StorageSecretKey:     os.Getenv("STORAGE_SECRET_ACCESS_KEY"),
		StoragePublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%s/static", port)),
		StoragePath:          getEnv("STORAGE_PATH", "./data/media"),
		StorageTimeout:       getEnvDuration("STORAGE_TIMEOUT_SECONDS", time.Second, 60*time.Second),
		FFmpegPath:           os.Getenv("FFMPEG_PATH"),

		SweepInterval:      getEnvDuration("SWEEP_INTERVAL_SECONDS", time.Second, 180*time.Second),
		SweepBatchSize:     getEnvInt("SWEEP_BATCH_SIZE", 25),
		GenerationTimeout:  getEnvDuration("GENERATION_TIMEOUT_MINUTES", time.Minute, 10*time.Minute),
		RecoveryStaleAfter: getEnvDuration("RECOVERY_STALE_AFTER_SECONDS", time.Second, 120*time.Second),

		DBBreakerThreshold: getEnvInt("DB_BREAKER_THRESHOLD", 5),
		DBBreakerCooldown:  getEnvDuration("DB_BREAKER_COOLDOWN_SECONDS", time.Second, 30*time.Second),
		DBRetryMax:         getEnvInt("DB_RETRY_MAX", 3),
		DBRetryBaseDelay:   getEnvDuration("DB_RETRY_BASE_DELAY_MS", time.Millisecond, 100*time.Millisecond),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("DATABASE_DRIVER must be %q or %q", DriverPostgres, DriverSQLite)
	}

	if cfg.DatabaseURL == "" {
		if cfg.DatabaseDriver != DriverSQLite {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		cfg.DatabaseURL = "./data/mediarecon.db"
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.ProcessMode {
	case ProcessModeAll, ProcessModeAPI, ProcessModeWorker:
	default:
		return nil, fmt.Errorf("PROCESS_MODE must be one of all, api, worker")
	}

	switch cfg.StorageProvider {
	case "local":
	case "s3":
		if cfg.StorageBucket == "" {
			return nil, fmt.Errorf("STORAGE_BUCKET is required when STORAGE_PROVIDER=s3")
		}
	default:
		return nil, fmt.Errorf("STORAGE_PROVIDER must be s3 or local")
	}

	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 25
	}

	return cfg, nil
}

// RunsSweep reports whether the durable storage sweep should start in this process.
func (c *Config) RunsSweep() bool {
	return c.ProcessMode == ProcessModeAll || c.ProcessMode == ProcessModeWorker
}

// ServesAPI reports whether the HTTP surface should start in this process.
func (c *Config) ServesAPI() bool {
	return c.ProcessMode == ProcessModeAll || c.ProcessMode == ProcessModeAPI
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads an integer count of unit. Non-positive values fall back.
func getEnvDuration(key string, unit, fallback time.Duration) time.Duration {
	n := getEnvInt(key, -1)
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * unit
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	seen := map[string]struct{}{}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
