package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Job store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Job dispatch modes.
const (
	DispatchInProcess = "inprocess"
	DispatchSQS       = "sqs"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	DatabaseURL     string
	JobStore        string
	SQLitePath      string

	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	OllamaHost      string

	CRMBaseURL       string
	CRMClientID      string
	CRMClientSecret  string
	CRMTokenURL      string
	SearchAPIURL     string
	SearchAPIKey     string
	KnowledgeBaseURL string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	JobDispatch          string
	SQSQueueURL          string
	SQSVisibilitySeconds int
	WorkerConcurrency    int
	ShutdownTimeout      time.Duration

	AgentProfilesFile string
	LogFile           string
	LogLevel          string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	store := normalizeJobStore(getEnv("JOB_STORE", ""), dbURL)

	if env == "production" && store == StorePostgres && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,
		JobStore:        store,
		SQLitePath:      getEnv("SQLITE_PATH", "./data/jobs.db"),

		LLMProvider:     normalizeProvider(getEnv("LLM_PROVIDER", "placeholder")),
		LLMModel:        getEnv("LLM_MODEL", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),

		CRMBaseURL:       getEnv("CRM_BASE_URL", ""),
		CRMClientID:      getEnv("CRM_CLIENT_ID", ""),
		CRMClientSecret:  getEnv("CRM_CLIENT_SECRET", ""),
		CRMTokenURL:      getEnv("CRM_TOKEN_URL", ""),
		SearchAPIURL:     getEnv("SEARCH_API_URL", ""),
		SearchAPIKey:     getEnv("SEARCH_API_KEY", ""),
		KnowledgeBaseURL: getEnv("KNOWLEDGE_BASE_URL", ""),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		JobDispatch:          normalizeDispatch(getEnv("JOB_DISPATCH", DispatchInProcess)),
		SQSQueueURL:          getEnv("SQS_QUEUE_URL", ""),
		SQSVisibilitySeconds: getEnvInt("SQS_VISIBILITY_TIMEOUT_SECONDS", 1200),
		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 4),
		ShutdownTimeout:      time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,

		AgentProfilesFile: getEnv("AGENT_PROFILES_FILE", ""),
		LogFile:           getEnv("LOG_FILE", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
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
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

// normalizeJobStore defaults to postgres when a DATABASE_URL is present.
func normalizeJobStore(raw, dbURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case StorePostgres, "pg":
		return StorePostgres
	case StoreSQLite:
		return StoreSQLite
	case StoreMemory:
		return StoreMemory
	}
	if strings.TrimSpace(dbURL) != "" {
		return StorePostgres
	}
	return StoreMemory
}

func normalizeDispatch(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), DispatchSQS) {
		return DispatchSQS
	}
	return DispatchInProcess
}

func normalizeProvider(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
