package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string

	// Graph store: postgres, sqlite, neo4j or memory
	GraphBackend string
	DatabaseDSN  string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Extraction service: openai (any OpenAI-compatible endpoint, e.g. LiteLLM),
	// anthropic, or static (fixed payload read from ExtractionStaticFile)
	ExtractionProvider   string
	ExtractionStaticFile string
	LiteLLMURL           string
	ModelID              string
	ExtractionAPIKey     string
	AnthropicAPIKey      string
	AnthropicModel       string
	BreakerMinRequests   uint32
	BreakerFailRatio     float64
	BreakerOpenTimeout   time.Duration

	// Pipeline
	PipelineMode       string // local or temporal
	CheckpointBackend  string // memory, table or redis
	PipelinePolicyFile string

	// Redis checkpoints
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CheckpointTTL time.Duration

	// Temporal
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string
	WorkerConcurrency int

	// Observability
	TracingEnabled bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  getEnv("ENV", "development"),
		LogLevel:             getEnv("LOG_LEVEL", ""),
		AllowedOrigins:       splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		GraphBackend:         strings.ToLower(getEnv("GRAPH_BACKEND", "sqlite")),
		DatabaseDSN:          getEnv("DATABASE_DSN", "kgraph.db"),
		Neo4jURI:             getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:            getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:        getEnv("NEO4J_PASSWORD", "password"),
		ExtractionProvider:   strings.ToLower(getEnv("EXTRACTION_PROVIDER", "openai")),
		ExtractionStaticFile: getEnv("EXTRACTION_STATIC_FILE", ""),
		LiteLLMURL:           getEnv("LITELLM_URL", "http://localhost:4000"),
		ModelID:              getEnv("MODEL_ID", "openrouter/anthropic/claude-3.5-sonnet"),
		ExtractionAPIKey:     getEnv("OPENROUTER_API_KEY", ""),
		AnthropicAPIKey:      getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:       getEnv("ANTHROPIC_MODEL", ""),
		BreakerMinRequests:   uint32(getEnvInt("BREAKER_MIN_REQUESTS", 5)),
		BreakerFailRatio:     getEnvFloat("BREAKER_FAILURE_RATIO", 0.8),
		BreakerOpenTimeout:   getEnvDuration("BREAKER_OPEN_TIMEOUT", 60*time.Second),
		PipelineMode:         strings.ToLower(getEnv("PIPELINE_MODE", "local")),
		CheckpointBackend:    strings.ToLower(getEnv("CHECKPOINT_BACKEND", "table")),
		PipelinePolicyFile:   getEnv("PIPELINE_POLICY_FILE", ""),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		CheckpointTTL:        getEnvDuration("CHECKPOINT_TTL", 7*24*time.Hour),
		TemporalHostPort:     getEnv("TEMPORAL_HOSTPORT", "localhost:7233"),
		TemporalNamespace:    getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue:    getEnv("TEMPORAL_TASK_QUEUE", "kgraph-pipeline"),
		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 4),
		TracingEnabled:       getEnv("TRACING_ENABLED", "false") == "true",
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.GraphBackend {
	case "postgres", "sqlite":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for GRAPH_BACKEND=%s", c.GraphBackend)
		}
	case "neo4j":
		if c.Neo4jURI == "" || c.Neo4jUser == "" {
			return fmt.Errorf("NEO4J_URI and NEO4J_USER are required for GRAPH_BACKEND=neo4j")
		}
	case "memory":
	default:
		return fmt.Errorf("GRAPH_BACKEND must be one of postgres, sqlite, neo4j, memory (got %q)", c.GraphBackend)
	}

	switch c.ExtractionProvider {
	case "openai":
		if c.LiteLLMURL == "" {
			return fmt.Errorf("LITELLM_URL is required")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for EXTRACTION_PROVIDER=anthropic")
		}
	case "static":
		if c.ExtractionStaticFile == "" {
			return fmt.Errorf("EXTRACTION_STATIC_FILE is required for EXTRACTION_PROVIDER=static")
		}
	default:
		return fmt.Errorf("EXTRACTION_PROVIDER must be openai, anthropic or static (got %q)", c.ExtractionProvider)
	}
	if c.ModelID == "" {
		return fmt.Errorf("MODEL_ID is required")
	}

	switch c.PipelineMode {
	case "local", "temporal":
	default:
		return fmt.Errorf("PIPELINE_MODE must be local or temporal (got %q)", c.PipelineMode)
	}

	switch c.CheckpointBackend {
	case "memory", "redis":
	case "table":
		if c.GraphBackend != "postgres" && c.GraphBackend != "sqlite" {
			return fmt.Errorf("CHECKPOINT_BACKEND=table requires GRAPH_BACKEND postgres or sqlite")
		}
	default:
		return fmt.Errorf("CHECKPOINT_BACKEND must be memory, table or redis (got %q)", c.CheckpointBackend)
	}

	// the worker and the API process must see the same checkpoints
	if c.PipelineMode == "temporal" && c.CheckpointBackend == "memory" {
		return fmt.Errorf("PIPELINE_MODE=temporal requires CHECKPOINT_BACKEND table or redis")
	}

	if c.BreakerFailRatio <= 0 || c.BreakerFailRatio > 1 {
		return fmt.Errorf("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping blank entries
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
