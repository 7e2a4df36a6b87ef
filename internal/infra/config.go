package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	LedgerDriverPostgres = "postgres"
	LedgerDriverSQLite   = "sqlite"

	StorageDriverFS = "fs"
	StorageDriverS3 = "s3"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	LogLevel           string
	Port               string
	DatabaseURL        string
	DBMaxConns         int
	DBMinConns         int
	LedgerDriver       string
	SQLitePath         string
	JWTSecret          string
	PublicBaseURL      string
	ReplicateAPIToken  string
	ReplicateBaseURL   string
	WebhookSecret      string
	StorageDriver      string
	StoragePath        string
	StorageBaseURL     string
	StorageBucket      string
	S3Endpoint         string
	S3Region           string
	S3AccessKeyID      string
	S3SecretAccessKey  string
	S3PublicBaseURL    string
	GeoIPDBPath        string
	ModelCatalogPath   string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	ProviderTimeout    time.Duration
	DownloadTimeout    time.Duration
	RateLimitPerMin    int
	SweepInterval      time.Duration
	SweepStaleAfter    time.Duration
	SweepBatch         int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		LogLevel:           strings.ToLower(os.Getenv("LOG_LEVEL")),
		Port:               port,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:         getEnvInt("DB_MIN_CONNS", 1),
		LedgerDriver:       strings.ToLower(getEnv("LEDGER_DRIVER", LedgerDriverPostgres)),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/palette.db"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		ReplicateAPIToken:  os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:   getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		WebhookSecret:      os.Getenv("REPLICATE_WEBHOOK_SECRET"),
		StorageDriver:      strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFS)),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     strings.TrimRight(getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"), "/"),
		StorageBucket:      getEnv("STORAGE_BUCKET", "directors-palette"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3AccessKeyID:      os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:  os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3PublicBaseURL:    strings.TrimRight(os.Getenv("S3_PUBLIC_BASE_URL"), "/"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		ModelCatalogPath:   os.Getenv("MODEL_CATALOG_PATH"),
		CORSAllowedOrigins: getEnvCSV("CORS_ALLOWED_ORIGINS", nil),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		ProviderTimeout:    time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)),
		DownloadTimeout:    time.Second * time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 120)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		SweepInterval:      time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)),
		SweepStaleAfter:    time.Second * time.Duration(getEnvInt("SWEEP_STALE_AFTER_SECONDS", 300)),
		SweepBatch:         getEnvInt("SWEEP_BATCH", 25),
	}

	switch cfg.LedgerDriver {
	case LedgerDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case LedgerDriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported LEDGER_DRIVER %q", cfg.LedgerDriver)
	}

	if cfg.DBMaxConns < 1 || cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS/DB_MAX_CONNS %d/%d", cfg.DBMinConns, cfg.DBMaxConns)
	}

	switch cfg.StorageDriver {
	case StorageDriverFS, StorageDriverS3:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.ReplicateAPIToken == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN is required")
	}

	return cfg, nil
}

// WebhookURL is the callback registered with every submitted prediction.
func (c *Config) WebhookURL() string {
	return c.PublicBaseURL + "/api/webhooks/replicate"
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

func getEnvCSV(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
