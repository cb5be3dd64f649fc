// Package config loads the settings of the harness programs from the environment.
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
// to load from specific files; with no paths, ".env" is used.
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

// GetEnvDuration returns the duration value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid duration.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// Run contains the settings of a conformance run.
type Run struct {
	// address of the virtual origin HTTP server.
	ListenAddress string
	// base URL used to map request paths to virtual source URIs.
	BaseURL string
	// maximum size of each chunk returned by the virtual source.
	BlockSize int
	// delivery rate of the virtual source, 0 means unpaced.
	BytesPerSecond int
	// maximum number of scenarios executed concurrently.
	Parallelism int
	// timeout of each scenario.
	Timeout time.Duration
	// scenario names to run, empty means all.
	Scenarios string
	LogLevel  string
	LogFormat string
}

// LoadRun loads the run settings.
// A missing .env file is not an error.
func LoadRun(paths ...string) Run {
	Load(paths...) //nolint:errcheck

	return Run{
		ListenAddress:  GetEnv("DEMUXCHECK_LISTEN_ADDRESS", ":8888"),
		BaseURL:        GetEnv("DEMUXCHECK_BASE_URL", "http://unit.test"),
		BlockSize:      GetEnvInt("DEMUXCHECK_BLOCK_SIZE", 0),
		BytesPerSecond: GetEnvInt("DEMUXCHECK_BYTES_PER_SECOND", 0),
		Parallelism:    GetEnvInt("DEMUXCHECK_PARALLELISM", 4),
		Timeout:        GetEnvDuration("DEMUXCHECK_TIMEOUT", 30*time.Second),
		Scenarios:      GetEnv("DEMUXCHECK_SCENARIOS", ""),
		LogLevel:       GetEnv("DEMUXCHECK_LOG_LEVEL", "info"),
		LogFormat:      GetEnv("DEMUXCHECK_LOG_FORMAT", "text"),
	}
}
