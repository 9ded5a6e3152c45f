package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
	BackendMock   = "mock"
)

type Config struct {
	HTTPPort    string
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	JWTSecret   string

	GenerationBackend string
	GeminiAPIKey      string
	GeminiModel       string
	OpenAIBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string
	GenerationTimeout time.Duration
	MaxTokens         int
	Temperature       float64

	PersonaCatalogPath string
	CallerLabel        string
	HideForbidden      bool
	StoreRetryLimit    int
}

// Load reads the .env file (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "practice_sessions.db"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		GenerationBackend: strings.ToLower(getEnv("GENERATION_BACKEND", BackendGemini)),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://router.huggingface.co"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "meta-llama/Meta-Llama-3-8B-Instruct"),
		GenerationTimeout: getEnvAsDuration("GENERATION_TIMEOUT", 30*time.Second),
		MaxTokens:         getEnvAsInt("GENERATION_MAX_TOKENS", 200),
		Temperature:       getEnvAsFloat("GENERATION_TEMPERATURE", 0.8),

		PersonaCatalogPath: getEnv("PERSONA_CATALOG", ""),
		CallerLabel:        getEnv("CALLER_LABEL", "MSL"),
		HideForbidden:      getEnvAsBool("HIDE_FORBIDDEN", true),
		StoreRetryLimit:    getEnvAsInt("STORE_RETRY_LIMIT", 3),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the keys the selected generation backend depends on.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	switch c.GenerationBackend {
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required for the gemini backend")
		}
	case BackendOpenAI:
		if c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_BASE_URL environment variable is required for the openai backend")
		}
	case BackendMock:
	default:
		return fmt.Errorf("unknown GENERATION_BACKEND %q", c.GenerationBackend)
	}

	if c.MaxTokens <= 0 {
		return fmt.Errorf("GENERATION_MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.StoreRetryLimit < 1 {
		c.StoreRetryLimit = 1
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
