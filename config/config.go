// Package config loads process configuration from the environment.
//
// Design Notes:
//   - godotenv.Load is best-effort: a missing .env is fine in production,
//     where real environment variables are already set (see
//     garyellow-ntpu-linebot-go/internal/config for the same idiom).
//   - Every field has a default except GITHUB_REPO and GITHUB_TOKEN, which
//     are left empty when unset and which the caller is expected to supply
//     in any real deployment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the monitor needs.
type Config struct {
	// CORS
	AllowedOrigin string

	// Content store (GitHub Contents API)
	GitHubRepo   string
	GitHubBranch string
	GitHubDir    string
	GitHubToken  string

	// Domain feeds
	VATSIMDataURL  string
	MembersBaseURL string

	// HTTP
	Port string

	// Logging
	LogLevel string

	// Tick budget overrides, mainly for tests.
	MaxTickDuration time.Duration
	SubreqBudget    int
	FetchTimeout    time.Duration

	// REST API per-IP rate limit.
	RateLimitPerSec float64
	RateLimitBurst  int
}

// Load reads configuration from the environment, loading a local .env
// first if present. Missing required values are left as empty strings;
// callers that need a hard failure should check those explicitly.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AllowedOrigin: getenv("ALLOWED_ORIGIN", "*"),

		GitHubRepo:   os.Getenv("GITHUB_REPO"),
		GitHubBranch: getenv("GITHUB_BRANCH", "main"),
		GitHubDir:    getenv("GITHUB_DIR", "cf-cache"),
		GitHubToken:  os.Getenv("GITHUB_TOKEN"),

		VATSIMDataURL:  getenv("VATSIM_DATA_URL", "https://data.vatsim.net/v3/vatsim-data.json"),
		MembersBaseURL: getenv("MEMBERS_BASE_URL", "https://core.vatsim.net/api"),

		Port: getenv("PORT", "8080"),

		LogLevel: getenv("LOG_LEVEL", "info"),

		MaxTickDuration: getenvDuration("MAX_TICK_MS", 12_000*time.Millisecond),
		SubreqBudget:    getenvInt("SUBREQ_BUDGET_PER_TICK", 120),
		FetchTimeout:    getenvDuration("FETCH_TIMEOUT_MS", 25_000*time.Millisecond),

		RateLimitPerSec: getenvFloat("RATE_LIMIT_PER_SEC", 5),
		RateLimitBurst:  getenvInt("RATE_LIMIT_BURST", 20),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
