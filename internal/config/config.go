package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config 应用配置
type Config struct {
	Env         string
	AppSecret   string
	DatabaseURL string
	JWTExpiry   time.Duration
	Port        string
	LogLevel    string
	LogFormat   string

	Embedding EmbeddingConfig
	Vector    VectorConfig
	Pipeline  PipelineConfig

	RecommendCacheTTL time.Duration
	TMDBAPIKey        string
	TMDBBaseURL       string
}

// EmbeddingConfig 向量生成服务配置
type EmbeddingConfig struct {
	Provider     string // ollama | gemini | openai
	Dimensions   int
	OllamaHost   string
	OllamaModel  string
	GeminiAPIKey string
	GeminiModel  string
	OpenAIURL    string
	OpenAIKey    string
	OpenAIModel  string
}

// VectorConfig 向量索引配置
type VectorConfig struct {
	Backend      string // pgvector | qdrant | memory
	QdrantURL    string
	QdrantAPIKey string
	CacheSize    int
}

// PipelineConfig 批量嵌入任务配置
type PipelineConfig struct {
	BatchSize   int
	BatchDelay  time.Duration
	RatePolicy  string // fixed | token | none
	RateRPS     float64
	CallTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Interval    time.Duration
}

// Load 加载配置
func Load() *Config {
	expiryHours := getEnvInt("JWT_EXPIRY_HOURS", 72)

	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_NAME", "movierec")
	dbSSL := getEnv("DB_SSLMODE", "disable")

	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPass, dbHost, dbPort, dbName, dbSSL)

	appSecret := getEnv("APP_SECRET", getEnv("JWT_SECRET", "your-secret-key-change-in-production"))

	if getEnv("APP_ENV", "development") == "production" && appSecret == "your-secret-key-change-in-production" {
		fmt.Println("【严重警告】生产环境正在使用默认密钥！请立即设置 APP_SECRET 环境变量。")
	}

	return &Config{
		Env:         getEnv("APP_ENV", "development"),
		AppSecret:   appSecret,
		DatabaseURL: getEnv("DATABASE_URL", dbURL),
		JWTExpiry:   time.Duration(expiryHours) * time.Hour,
		Port:        getEnv("PORT", "5005"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		Embedding: EmbeddingConfig{
			Provider:     getEnv("EMBEDDING_PROVIDER", "ollama"),
			Dimensions:   getEnvInt("EMBEDDING_DIMENSIONS", 768),
			OllamaHost:   getEnv("OLLAMA_HOST", "http://localhost:11434"),
			OllamaModel:  getEnv("OLLAMA_MODEL", "nomic-embed-text"),
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			GeminiModel:  getEnv("GEMINI_EMBED_MODEL", "text-embedding-004"),
			OpenAIURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:  getEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		},
		Vector: VectorConfig{
			Backend:      getEnv("VECTOR_BACKEND", "pgvector"),
			QdrantURL:    getEnv("QDRANT_URL", "http://localhost:6333"),
			QdrantAPIKey: getEnv("QDRANT_API_KEY", ""),
			CacheSize:    getEnvInt("QUERY_VECTOR_CACHE_SIZE", 1000),
		},
		Pipeline: PipelineConfig{
			BatchSize:   getEnvInt("EMBED_BATCH_SIZE", 50),
			BatchDelay:  getEnvDuration("EMBED_BATCH_DELAY", 20*time.Second),
			RatePolicy:  getEnv("EMBED_RATE_POLICY", "fixed"),
			RateRPS:     getEnvFloat("EMBED_RATE_RPS", 0.05),
			CallTimeout: getEnvDuration("EMBED_CALL_TIMEOUT", 30*time.Second),
			MaxRetries:  getEnvInt("EMBED_MAX_RETRIES", 2),
			RetryDelay:  getEnvDuration("EMBED_RETRY_DELAY", 2*time.Second),
			Interval:    getEnvDuration("EMBEDDING_INTERVAL", 0),
		},
		RecommendCacheTTL: getEnvDuration("RECOMMEND_CACHE_TTL", time.Hour),
		TMDBAPIKey:        getEnv("TMDB_API_KEY", ""),
		TMDBBaseURL:       getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration 支持 "20s" 这类写法，也兼容纯数字（按秒）
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
