package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Values come from the environment,
// optionally seeded by a .env file.
type Config struct {
	// Storage
	DatabasePath string

	// Logging
	LogLevel  string
	LogFormat string

	// Deduplication and review
	LooseWindowDays       int
	AmountTolerance       float64
	AutoFinalizeThreshold float64

	// Categorization
	GeminiModel           string
	CategorizeBatchSize   int
	CategorizeMaxAttempts int
	CategorizeBackoff     time.Duration
	CategorizeRatePerMin  int
	CategorizeOnIngest    bool

	// Export and archive targets
	GCPProject       string
	BigQueryDataset  string
	ElasticsearchURL string
	ArchiveBucket    string

	// Services
	APIPort      string
	ParseWorkers int
}

// Load reads .env (current or parent directory) and builds a Config.
// A missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the process environment only.
func FromEnv() *Config {
	return &Config{
		DatabasePath: getEnv("DATABASE_PATH", "ledger.db"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		LooseWindowDays:       getEnvAsInt("LOOSE_WINDOW_DAYS", 30),
		AmountTolerance:       getEnvAsFloat("AMOUNT_TOLERANCE", 0.01),
		AutoFinalizeThreshold: getEnvAsFloat("AUTO_FINALIZE_THRESHOLD", 0.90),

		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		CategorizeBatchSize:   getEnvAsInt("CATEGORIZE_BATCH_SIZE", 50),
		CategorizeMaxAttempts: getEnvAsInt("CATEGORIZE_MAX_ATTEMPTS", 3),
		CategorizeBackoff:     getEnvAsDuration("CATEGORIZE_BACKOFF", 2*time.Second),
		CategorizeRatePerMin:  getEnvAsInt("CATEGORIZE_RATE_PER_MIN", 30),
		CategorizeOnIngest:    getEnvAsBool("CATEGORIZE_ON_INGEST", false),

		GCPProject:       getEnv("GCP_PROJECT", ""),
		BigQueryDataset:  getEnv("BQ_DATASET", "finance"),
		ElasticsearchURL: getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
		ArchiveBucket:    getEnv("ARCHIVE_BUCKET", ""),

		APIPort:      getEnv("API_PORT", "8080"),
		ParseWorkers: getEnvAsInt("PARSE_WORKERS", 4),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
