package config

import (
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Worker     WorkerConfig
	Scoring    ScoringConfig
	Uniqueness UniquenessConfig
	Emitter    EmitterConfig
	Filter     FilterConfig
	Logging    LoggingConfig
	Tracing    TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// WorkerConfig describes one consumer's assignment. Horizontal scale comes
// from running more worker processes with distinct consumer names inside
// the same group.
type WorkerConfig struct {
	ProjectID    string        `mapstructure:"project_id"`
	Platform     string        `mapstructure:"platform"`
	Group        string        `mapstructure:"group"`
	ConsumerName string        `mapstructure:"consumer_name"`
	BatchSize    int           `mapstructure:"batch_size"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
}

type ScoringConfig struct {
	Weights          WeightsConfig `mapstructure:"weights"`
	SentimentURL     string        `mapstructure:"sentiment_url"`
	SentimentTimeout time.Duration `mapstructure:"sentiment_timeout"`
	Value            ValueConfig   `mapstructure:"value"`
}

type WeightsConfig struct {
	Sentiment  float64 `mapstructure:"sentiment"`
	Value      float64 `mapstructure:"value"`
	Uniqueness float64 `mapstructure:"uniqueness"`
}

type ValueConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateRPS     float64       `mapstructure:"rate_rps"`
	RateBurst   int           `mapstructure:"rate_burst"`
	Temperature float32       `mapstructure:"temperature"`
}

type UniquenessConfig struct {
	Backend        string        `mapstructure:"backend"` // "milvus" or "memory"
	WindowDays     int           `mapstructure:"window_days"`
	TopK           int           `mapstructure:"top_k"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	EmbeddingDim   int           `mapstructure:"embedding_dim"`
	Milvus         MilvusConfig  `mapstructure:"milvus"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type MilvusConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Collection string `mapstructure:"collection"`
}

type EmitterConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Type    string      `mapstructure:"type"` // "redis" or "kafka"
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// FilterConfig carries CEL expressions; an envelope matching any rule is
// classified as ignored before dispatch.
type FilterConfig struct {
	IgnoreRules []string `mapstructure:"ignore_rules"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
