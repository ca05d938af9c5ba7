package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	SQLite      SQLiteConfig
	Milvus      MilvusConfig
	Redis       RedisConfig
	LLM         LLMConfig
	Ingestion   IngestionConfig
	Chat        ChatConfig
	ObjectStore ObjectStoreConfig
	Analysis    AnalysisConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint         string
	APIKey           string
	CollectionPrefix string
	VectorDim        int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	// Endpoint overrides the provider's default API base URL, for
	// proxies and OpenAI-compatible gateways.
	Endpoint       string
	Temperature    float32
	MaxTokens      int
	EmbeddingModel string
	EmbeddingDim   int
	// FallbackEmbeddings substitutes synthetic vectors when the embedding
	// service is unreachable. Never enable outside local development.
	FallbackEmbeddings bool
}

type IngestionConfig struct {
	MaxChunkSize       int
	CrawlBatchSize     int
	CrawlBatchDelayMS  int
	CrawlTimeoutSec    int
	EmbedDelayMS       int
	UpsertBatchSize    int
	RetryInitialDelayS int
	RetryMaxAttempts   int
}

type ChatConfig struct {
	RelevanceThreshold float32
	HistoryTurns       int
	ApologyMessage     string
}

type ObjectStoreConfig struct {
	Root string
}

type AnalysisConfig struct {
	Endpoint    string
	APIKey      string
	MaxPolls    int
	IntervalSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/tenantbot")

	viper.SetEnvPrefix("TENANTBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/tenantbot.db")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionPrefix", "kb")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)
	viper.SetDefault("llm.fallbackEmbeddings", false)

	viper.SetDefault("ingestion.maxChunkSize", 1000)
	viper.SetDefault("ingestion.crawlBatchSize", 5)
	viper.SetDefault("ingestion.crawlBatchDelayMS", 500)
	viper.SetDefault("ingestion.crawlTimeoutSec", 10)
	viper.SetDefault("ingestion.embedDelayMS", 100)
	viper.SetDefault("ingestion.upsertBatchSize", 100)
	viper.SetDefault("ingestion.retryInitialDelayS", 2)
	viper.SetDefault("ingestion.retryMaxAttempts", 3)

	viper.SetDefault("chat.relevanceThreshold", 0.5)
	viper.SetDefault("chat.historyTurns", 10)
	viper.SetDefault("chat.apologyMessage",
		"I'm sorry, I wasn't able to generate a response just now. Please try again in a moment.")

	viper.SetDefault("objectstore.root", "./data/artifacts")

	viper.SetDefault("analysis.maxPolls", 30)
	viper.SetDefault("analysis.intervalSec", 2)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
