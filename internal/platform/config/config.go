package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses values such as "400ms" or "10s". Unset, empty, invalid
// or negative values yield fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
}

// GetEnvBool accepts the forms understood by strconv.ParseBool.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// Settings is the viewer's runtime configuration.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	ValidationDebounce time.Duration
	FetchTimeout       time.Duration
	FetchMaxBytes      int64
	ValidateRateLimit  int
	TrustForwardedTLS  bool

	RegistryBackend string
	SQLitePath      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
}

// FromEnv reads Settings from the environment, applying defaults.
func FromEnv() Settings {
	return Settings{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		ValidationDebounce: GetEnvDuration("VALIDATION_DEBOUNCE", 400*time.Millisecond),
		FetchTimeout:       GetEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		FetchMaxBytes:      int64(GetEnvInt("FETCH_MAX_BYTES", 64<<10)),
		ValidateRateLimit:  GetEnvInt("VALIDATE_RATE_LIMIT", 60),
		TrustForwardedTLS:  GetEnvBool("TRUST_FORWARDED_PROTO", false),

		RegistryBackend: GetEnv("REGISTRY_BACKEND", "memory"),
		SQLitePath:      GetEnv("SQLITE_PATH", "streams.db"),
		RedisAddr:       GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   GetEnv("REDIS_PASSWORD", ""),
		RedisDB:         GetEnvInt("REDIS_DB", 0),
	}
}
