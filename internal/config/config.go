// Package config loads process configuration from the environment and
// watches a YAML file for runtime-tunable retrieval knobs.
package config

import (
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"

	appErrors "mnemo-backend/pkg/errors"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerAddress string `validate:"required"`
	Environment   string

	// Store selection: "memory", "dynamodb", or "sqlite"
	StoreBackend string `validate:"oneof=memory dynamodb sqlite"`

	// AWS configuration (dynamodb backend)
	AWSRegion     string
	DynamoDBTable string

	// SQLite configuration (sqlite backend)
	SQLitePath string

	// Embedding provider: "genai" or "ollama"
	EmbeddingProvider string `validate:"oneof=genai ollama"`
	GenAIAPIKey       string
	GenAIModel        string
	OllamaEndpoint    string
	OllamaModel       string

	// Background worker pool
	WorkerCount      int `validate:"gt=0"`
	WorkerQueueDepth int `validate:"gt=0"`
	WorkerTimeoutMS  int `validate:"gt=0"`

	// Logging and features
	LogLevel      string
	EnableMetrics bool
	EnableTracing bool
	OTLPEndpoint  string

	// Dynamic retrieval configuration file (optional; watched when set)
	DynamicConfigPath string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		StoreBackend:  getEnv("STORE_BACKEND", "memory"),
		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", "mnemo"),
		SQLitePath:    getEnv("SQLITE_PATH", "mnemo.db"),

		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
		GenAIAPIKey:       getEnv("GENAI_API_KEY", ""),
		GenAIModel:        getEnv("GENAI_MODEL", "gemini-embedding-001"),
		OllamaEndpoint:    getEnv("OLLAMA_ENDPOINT", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "embeddinggemma"),

		WorkerCount:      getEnvInt("WORKER_COUNT", 4),
		WorkerQueueDepth: getEnvInt("WORKER_QUEUE_DEPTH", 256),
		WorkerTimeoutMS:  getEnvInt("WORKER_TIMEOUT_MS", 30000),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),
		OTLPEndpoint:  getEnv("OTLP_ENDPOINT", ""),

		DynamicConfigPath: getEnv("DYNAMIC_CONFIG_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints plus the cross-field rules the
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return appErrors.NewConfiguration("invalid configuration: " + err.Error())
	}
	if c.EmbeddingProvider == "genai" && c.GenAIAPIKey == "" {
		return appErrors.NewConfiguration("GENAI_API_KEY is required when EMBEDDING_PROVIDER=genai")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
