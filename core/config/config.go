package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all process-wide configuration for the engine.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env  string
	Port string

	LLM   LLMConfig
	OTel  OTelConfig
	Redis RedisConfig
	Arango ArangoConfig

	// Scheduler constants, §6 of the spec.
	MaxIterations         int
	MaxToolRetries        int
	ToolExecutionTimeout  int // seconds
	ToolSelectionTimeout  int // seconds
	SimilarityThreshold   float64
	LogDir                string
	PlanStoreBackend      string // "file" | "arango"
	NodeID                int64  // snowflake node id
}

type LLMConfig struct {
	Provider string // "openai" | "anthropic"
	APIKey   string
	BaseURL  string
	Model    string
}

type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Headers        string
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

type RedisConfig struct {
	URL string
}

type ArangoConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

// Load reads a .env file if present, then loads configuration from environment
// variables, falling back to development-friendly defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:  getEnv("ENGINE_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", "openai"),
			APIKey:   getEnv("LLM_API_KEY", ""),
			BaseURL:  getEnv("LLM_BASE_URL", ""),
			Model:    getEnv("LLM_MODEL", ""),
		},
		OTel: OTelConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "toolmesh-engine"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Arango: ArangoConfig{
			URL:      getEnv("ARANGO_URL", ""),
			Username: getEnv("ARANGO_USERNAME", ""),
			Password: getEnv("ARANGO_PASSWORD", ""),
			Database: getEnv("ARANGO_DATABASE", "toolmesh"),
		},
		MaxIterations:        getEnvInt("MAX_ITERATIONS", 15),
		MaxToolRetries:       getEnvInt("MAX_TOOL_RETRIES", 3),
		ToolExecutionTimeout: getEnvInt("TOOL_EXECUTION_TIMEOUT", 60),
		ToolSelectionTimeout: getEnvInt("TOOL_SELECTION_TIMEOUT", 15),
		SimilarityThreshold:  getEnvFloat("SIMILARITY_THRESHOLD", 0.7),
		LogDir:               getEnv("LOG_DIR", "execution_logs"),
		PlanStoreBackend:     getEnv("PLAN_STORE_BACKEND", "file"),
		NodeID:               int64(getEnvInt("SNOWFLAKE_NODE_ID", 1)),
	}
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
