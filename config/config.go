package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kevinaaaquil/booknook/backend/features"
	"go.uber.org/zap"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Port          string
	MongoURI      string
	DBName        string
	StoreDriver   string
	S3Bucket      string
	S3Region      string
	S3AccessKeyID string
	S3SecretKey   string
	AuthEmail     string
	AuthPass      string
	JWTSecret     string
	MaxUploadMB   int64

	// LoginRateLimit is login attempts allowed per client IP per minute.
	LoginRateLimit int

	// CORSOrigins empty means any origin.
	CORSOrigins []string

	LogLevel  string
	LogFormat string

	RedisURL          string
	GoogleBooksAPIKey string
	NYTAPIKey         string

	CatalogTimeout time.Duration
	StageTimeout   time.Duration
	CacheTTL       time.Duration

	CategoryThreshold     int
	SimilarityWeights     features.Weights
	RecommendDefaultLimit int
}

func Load() (*Config, error) {
	_ = os.Setenv("AWS_REGION", getEnv("AWS_REGION", "us-east-1"))

	weights := features.DefaultWeights
	if v := getEnv("SIMILARITY_WEIGHTS", ""); v != "" {
		w, err := features.ParseWeights(v)
		if err != nil {
			return nil, fmt.Errorf("SIMILARITY_WEIGHTS: %w", err)
		}
		weights = w
	}

	driver := strings.ToLower(getEnv("STORE_DRIVER", StoreMongo))
	if driver != StoreMongo && driver != StoreMemory {
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMongo, StoreMemory, driver)
	}

	return &Config{
		Port:          getEnv("PORT", "8080"),
		MongoURI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		DBName:        getEnv("MONGODB_DB", "booknook"),
		StoreDriver:   driver,
		S3Bucket:      getEnv("AWS_S3_BUCKET", ""),
		S3Region:      getEnv("AWS_REGION", "us-east-1"),
		S3AccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AuthEmail:     getEnv("AUTH_EMAIL", "user@example.com"),
		AuthPass:      getEnv("AUTH_PASSWORD", "password"),
		JWTSecret:     getEnv("JWT_SECRET", "change-me-in-production"),
		MaxUploadMB:   int64(getPositiveInt("MAX_UPLOAD_MB", 50)),
		CORSOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),

		LoginRateLimit: getPositiveInt("LOGIN_RATE_LIMIT", 10),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		RedisURL:          getEnv("REDIS_URL", ""),
		GoogleBooksAPIKey: getEnv("GOOGLE_BOOKS_API_KEY", ""),
		NYTAPIKey:         getEnv("NYT_API_KEY", ""),

		CatalogTimeout: time.Duration(getPositiveInt("CATALOG_TIMEOUT_SECONDS", 10)) * time.Second,
		StageTimeout:   time.Duration(getPositiveInt("STAGE_TIMEOUT_SECONDS", 15)) * time.Second,
		CacheTTL:       time.Duration(getPositiveInt("CACHE_TTL_HOURS", 24)) * time.Hour,

		CategoryThreshold:     getPositiveInt("CATEGORY_THRESHOLD", features.DefaultCategoryThreshold),
		SimilarityWeights:     weights,
		RecommendDefaultLimit: getPositiveInt("RECOMMEND_DEFAULT_LIMIT", 10),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getPositiveInt falls back when the value is unset, malformed or not positive.
func getPositiveInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// RequiredEnvVars must be set outside of the in-memory development mode.
var RequiredEnvVars = []string{
	"MONGODB_URI",
	"MONGODB_DB",
	"JWT_SECRET",
	"AUTH_EMAIL",
	"AUTH_PASSWORD",
	"AWS_S3_BUCKET",
	"AWS_REGION",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
}

// OptionalEnvVars are logged at startup so you can confirm they are loaded when set.
var OptionalEnvVars = []string{
	"PORT",
	"STORE_DRIVER",
	"MAX_UPLOAD_MB",
	"LOGIN_RATE_LIMIT",
	"CORS_ALLOWED_ORIGINS",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"REDIS_URL",
	"GOOGLE_BOOKS_API_KEY",
	"NYT_API_KEY",
	"CATALOG_TIMEOUT_SECONDS",
	"STAGE_TIMEOUT_SECONDS",
	"CACHE_TTL_HOURS",
	"CATEGORY_THRESHOLD",
	"SIMILARITY_WEIGHTS",
	"RECOMMEND_DEFAULT_LIMIT",
}

var secretEnvVars = map[string]bool{
	"AWS_ACCESS_KEY_ID":     true,
	"AWS_SECRET_ACCESS_KEY": true,
	"AUTH_PASSWORD":         true,
	"JWT_SECRET":            true,
	"REDIS_URL":             true,
	"GOOGLE_BOOKS_API_KEY":  true,
	"NYT_API_KEY":           true,
}

// ValidateEnv checks that required env vars are set and logs the status of
// the optional ones without printing secrets.
func ValidateEnv(log *zap.Logger) error {
	var missing []string
	for _, key := range RequiredEnvVars {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			missing = append(missing, key)
		} else {
			log.Debug("env loaded", zap.String("key", key))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env: %s (set these in .env or environment)", strings.Join(missing, ", "))
	}
	for _, key := range OptionalEnvVars {
		v := strings.TrimSpace(os.Getenv(key))
		switch {
		case v == "":
			log.Debug("env not set (optional)", zap.String("key", key))
		case secretEnvVars[key]:
			log.Info("env loaded", zap.String("key", key))
		default:
			log.Info("env loaded", zap.String("key", key), zap.String("value", v))
		}
	}
	if os.Getenv("JWT_SECRET") == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be set to a strong secret (not the default change-me-in-production)")
	}
	return nil
}
