package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	LocalStoreDir   string
	DatabaseURL     string
	Env             string

	TargetsFile     string
	DefaultStrategy string

	AmountAbsTolerance float64
	AmountPctTolerance float64
	DateDaysTolerance  int
	FuzzyThreshold     float64

	ExtractTimeout  time.Duration
	FetchTimeout    time.Duration
	FetchAttempts   int
	FetchRetryDelay time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		DatabaseURL:     dbURL,
		Env:             env,

		TargetsFile:     getEnv("TARGETS_FILE", ""),
		DefaultStrategy: getEnv("RECONCILE_STRATEGY", "loose"),

		AmountAbsTolerance: getFloat("AMOUNT_ABS_TOLERANCE", 0.01),
		AmountPctTolerance: getFloat("AMOUNT_PCT_TOLERANCE", 0.005),
		DateDaysTolerance:  getInt("DATE_DAYS_TOLERANCE", 1),
		FuzzyThreshold:     getFloat("FUZZY_THRESHOLD", 0.85),

		ExtractTimeout:  getDuration("EXTRACT_TIMEOUT", 30*time.Second),
		FetchTimeout:    getDuration("FETCH_TIMEOUT", 20*time.Second),
		FetchAttempts:   getInt("FETCH_ATTEMPTS", 3),
		FetchRetryDelay: getDuration("FETCH_RETRY_DELAY", time.Second),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using default", key, raw)
		return def
	}
	return val
}

func getInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using default", key, raw)
		return def
	}
	return val
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using default", key, raw)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}
