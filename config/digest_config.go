package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Environment string
	Mode        string // "once" runs a single batch, "worker" loops on an interval

	// Digest
	UserID         string
	Variant        string // A/B variant label recorded with each run
	BatchLimit     int
	WorkerInterval time.Duration

	// Database
	DBPath            string
	DBPoolSize        int
	DBBusyTimeoutMS   int
	LockRetryAttempts int
	LockRetryBaseMS   int

	// LLM
	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	LLMMaxTokens     int
	LLMTemperature   float64
	LLMTopP          float64
	LLMTimeoutSec    int
	LLMMaxRetries    int
	PromptVersion    string
	FewshotLimit     int
	FewshotMinSupport int

	// Learning
	LearningMinConfidence float64

	// Invalid-JSON breaker
	JSONBreakerThreshold  int
	JSONBreakerWindowSec  int
	JSONBreakerCooldownSec int

	// Mail provider
	ProviderKind     string // "gmail" or "local"
	GmailUserEmail   string
	GmailAccessToken string
	LocalMailboxPath string

	// Rule configs
	TypeMapperPath string
	GuardrailPath  string

	// Pipeline
	Parallel        bool
	ParallelWorkers int

	// Feature gates
	TestMode         bool
	HybridRenderer   bool
	FeedbackDisabled bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		Mode:        getEnv("DIGEST_MODE", "once"),

		// Digest
		UserID:         getEnv("DIGEST_USER_ID", "default"),
		Variant:        getEnv("DIGEST_VARIANT", "baseline"),
		BatchLimit:     getEnvInt("DIGEST_BATCH_LIMIT", 100),
		WorkerInterval: time.Duration(getEnvInt("DIGEST_INTERVAL_MIN", 60)) * time.Minute,

		// Database
		DBPath:            getEnv("DB_PATH", "digest.db"),
		DBPoolSize:        getEnvInt("DB_POOL_SIZE", 5),
		DBBusyTimeoutMS:   getEnvInt("DB_BUSY_TIMEOUT_MS", 5000),
		LockRetryAttempts: getEnvInt("DB_LOCK_RETRY_ATTEMPTS", 5),
		LockRetryBaseMS:   getEnvInt("DB_LOCK_RETRY_BASE_MS", 10),

		// LLM
		LLMBaseURL:        getEnv("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		LLMAPIKey:         getEnv("GEMINI_API_KEY", ""),
		LLMModel:          getEnv("LLM_MODEL", "gemini-2.0-flash"),
		LLMMaxTokens:      getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature:    getEnvFloat("LLM_TEMPERATURE", 0.1),
		LLMTopP:           getEnvFloat("LLM_TOP_P", 0.95),
		LLMTimeoutSec:     getEnvInt("LLM_TIMEOUT_SEC", 30),
		LLMMaxRetries:     getEnvInt("LLM_MAX_RETRIES", 3),
		PromptVersion:     getEnv("PROMPT_VERSION", "v4"),
		FewshotLimit:      getEnvInt("FEWSHOT_LIMIT", 8),
		FewshotMinSupport: getEnvInt("FEWSHOT_MIN_SUPPORT", 3),

		// Learning
		LearningMinConfidence: getEnvFloat("LEARNING_MIN_CONFIDENCE", 0.85),

		// Invalid-JSON breaker
		JSONBreakerThreshold:   getEnvInt("JSON_BREAKER_THRESHOLD", 3),
		JSONBreakerWindowSec:   getEnvInt("JSON_BREAKER_WINDOW_SEC", 300),
		JSONBreakerCooldownSec: getEnvInt("JSON_BREAKER_COOLDOWN_SEC", 60),

		// Mail provider
		ProviderKind:     getEnv("MAIL_PROVIDER", "local"),
		GmailUserEmail:   getEnv("GMAIL_USER_EMAIL", "me"),
		GmailAccessToken: getEnv("GMAIL_ACCESS_TOKEN", ""),
		LocalMailboxPath: getEnv("LOCAL_MAILBOX_PATH", "testdata/mailbox.json"),

		// Rule configs
		TypeMapperPath: getEnv("TYPE_MAPPER_PATH", "configs/type_mapper.yaml"),
		GuardrailPath:  getEnv("GUARDRAIL_PATH", "configs/guardrails.yaml"),

		// Pipeline
		Parallel:        getEnvBool("PIPELINE_PARALLEL", false),
		ParallelWorkers: getEnvInt("PIPELINE_WORKERS", 4),

		// Feature gates
		TestMode:         getEnvBool("TEST_MODE", false),
		HybridRenderer:   getEnvBool("HYBRID_RENDERER", false),
		FeedbackDisabled: getEnvBool("FEEDBACK_DISABLED", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Mode != "once" && c.Mode != "worker" {
		return fmt.Errorf("invalid DIGEST_MODE %q (want once or worker)", c.Mode)
	}
	if c.ProviderKind != "gmail" && c.ProviderKind != "local" {
		return fmt.Errorf("invalid MAIL_PROVIDER %q (want gmail or local)", c.ProviderKind)
	}
	if c.DBPoolSize <= 0 {
		return fmt.Errorf("DB_POOL_SIZE must be positive, got %d", c.DBPoolSize)
	}
	if c.ParallelWorkers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", c.ParallelWorkers)
	}
	if c.LearningMinConfidence < 0 || c.LearningMinConfidence > 1 {
		return fmt.Errorf("LEARNING_MIN_CONFIDENCE out of range: %v", c.LearningMinConfidence)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
