package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	ColdStore ColdStoreConfig

	TriggerRateLimit RateLimitConfig

	ArchiveRetentionDays int
	ArchivalConfigFile   string

	// ArchiverEnabledJobs limits which archiver jobs run in this process.
	// Empty runs all of them.
	ArchiverEnabledJobs []string
	ArchiverRunInterval time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// MetadataTTL bounds how long record_id -> metadata entries live in redis.
	MetadataTTL time.Duration
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// RateLimitConfig throttles the archive trigger endpoints per caller.
// It needs redis.
type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

type ColdStoreConfig struct {
	Backend     string
	Container   string
	Prefix      string
	Path        string
	Compression string

	AzureConnectionString string
	S3Endpoint            string
	S3UseSSL              bool
	GCSEndpoint           string
}

const (
	ColdStoreAzure      = "azure"
	ColdStoreS3         = "s3"
	ColdStoreGCS        = "gcs"
	ColdStoreFilesystem = "filesystem"
	ColdStoreMemory     = "memory"

	CompressionNone   = "none"
	CompressionSnappy = "snappy"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "billarchive"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billarchive"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "billarchive.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:        strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          getenvInt("REDIS_DB", 0),
			MetadataTTL: getenvDuration("REDIS_METADATA_TTL", 24*time.Hour),
		},
		ColdStore: ColdStoreConfig{
			Backend:               strings.ToLower(getenv("COLD_STORE_BACKEND", ColdStoreAzure)),
			Container:             getenv("COLD_STORE_CONTAINER", "billing-archives"),
			Prefix:                getenv("COLD_STORE_PREFIX", "billing/"),
			Path:                  getenv("COLD_STORE_PATH", "./archive"),
			Compression:           strings.ToLower(getenv("COLD_STORE_COMPRESSION", CompressionNone)),
			AzureConnectionString: strings.TrimSpace(getenv("AZURE_STORAGE_CONNECTION_STRING", "")),
			S3Endpoint:            strings.TrimSpace(getenv("S3_ENDPOINT", "")),
			S3UseSSL:              getenvBool("S3_USE_SSL", true),
			GCSEndpoint:           strings.TrimSpace(getenv("GCS_ENDPOINT", "")),
		},
		TriggerRateLimit: RateLimitConfig{
			Enabled: getenvBool("TRIGGER_RATE_LIMIT_ENABLED", false),
			Rate:    getenvFloat("TRIGGER_RATE_LIMIT_RATE", 5),
			Burst:   getenvInt("TRIGGER_RATE_LIMIT_BURST", 20),
		},
		ArchiveRetentionDays: getenvInt("ARCHIVE_RETENTION_DAYS", 90),
		ArchivalConfigFile:   strings.TrimSpace(getenv("ARCHIVAL_CONFIG_FILE", "")),
		ArchiverEnabledJobs:  getenvList("ARCHIVER_ENABLED_JOBS"),
		ArchiverRunInterval:  getenvDuration("ARCHIVER_RUN_INTERVAL", 0),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
