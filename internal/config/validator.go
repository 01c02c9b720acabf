package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"ally/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateWorker(cfg.Worker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateScoring(cfg.Scoring); err != nil {
		errors = append(errors, err)
	}

	if err := validateUniqueness(cfg.Uniqueness); err != nil {
		errors = append(errors, err)
	}

	if err := validateEmitter(cfg.Emitter); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Worker.Group == "" {
		cfg.Worker.Group = constants.DefaultConsumerGroup
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = constants.DefaultReadBatchSize
	}
	if cfg.Worker.BlockTimeout <= 0 {
		cfg.Worker.BlockTimeout = constants.DefaultReadBlock
	}
	if cfg.Scoring.Weights == (WeightsConfig{}) {
		cfg.Scoring.Weights = WeightsConfig{
			Sentiment:  constants.DefaultSentimentWeight,
			Value:      constants.DefaultValueWeight,
			Uniqueness: constants.DefaultUniquenessWeight,
		}
	}
	if cfg.Scoring.SentimentTimeout <= 0 {
		cfg.Scoring.SentimentTimeout = constants.SentimentTimeout
	}
	if cfg.Scoring.Value.Model == "" {
		cfg.Scoring.Value.Model = constants.DefaultValueModel
	}
	if cfg.Scoring.Value.Timeout <= 0 {
		cfg.Scoring.Value.Timeout = constants.ValueScorerTimeout
	}
	if cfg.Uniqueness.Backend == "" {
		cfg.Uniqueness.Backend = "memory"
	}
	if cfg.Uniqueness.TopK <= 0 {
		cfg.Uniqueness.TopK = constants.DefaultUniquenessTopK
	}
	if cfg.Uniqueness.EmbeddingModel == "" {
		cfg.Uniqueness.EmbeddingModel = constants.DefaultEmbeddingModel
	}
	if cfg.Uniqueness.EmbeddingDim <= 0 {
		cfg.Uniqueness.EmbeddingDim = constants.DefaultEmbeddingDim
	}
	if cfg.Uniqueness.Milvus.Collection == "" {
		cfg.Uniqueness.Milvus.Collection = constants.MilvusCollection
	}
	if cfg.Uniqueness.Timeout <= 0 {
		cfg.Uniqueness.Timeout = constants.UniquenessTimeout
	}
	if cfg.Server.ReadTimeoutSeconds <= 0 {
		cfg.Server.ReadTimeoutSeconds = 10 * time.Second
	}
	if cfg.Server.WriteTimeoutSeconds <= 0 {
		cfg.Server.WriteTimeoutSeconds = 10 * time.Second
	}
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateWorker(cfg WorkerConfig) error {
	if cfg.ProjectID == "" {
		return &ValidationError{
			Field:   "worker.project_id",
			Message: "project id is required",
		}
	}

	if cfg.Platform == "" {
		return &ValidationError{
			Field:   "worker.platform",
			Message: "platform is required",
		}
	}

	if cfg.ConsumerName == "" {
		return &ValidationError{
			Field:   "worker.consumer_name",
			Message: "consumer name is required; each worker instance needs a distinct identity within the group",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if err := validateRedis(cfg.Redis); err != nil {
		return err
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	// The ingest, dead-letter, and scored streams all live in Redis, so
	// a reachable Redis is mandatory for every binary in this repo.
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateScoring(cfg ScoringConfig) error {
	if cfg.Weights.Sentiment < 0 || cfg.Weights.Value < 0 || cfg.Weights.Uniqueness < 0 {
		return &ValidationError{
			Field:   "scoring.weights",
			Message: "weights must be non-negative",
		}
	}

	if cfg.Weights.Sentiment+cfg.Weights.Value+cfg.Weights.Uniqueness <= 0 {
		return &ValidationError{
			Field:   "scoring.weights",
			Message: "at least one weight must be strictly positive",
		}
	}

	if cfg.SentimentURL == "" {
		return &ValidationError{
			Field:   "scoring.sentiment_url",
			Message: "sentiment scorer URL is required",
		}
	}

	if u, err := url.Parse(cfg.SentimentURL); err != nil || u.Scheme == "" || u.Host == "" {
		return &ValidationError{
			Field:   "scoring.sentiment_url",
			Message: fmt.Sprintf("invalid URL: %s", cfg.SentimentURL),
		}
	}

	if cfg.Value.BaseURL != "" {
		if u, err := url.Parse(cfg.Value.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{
				Field:   "scoring.value.base_url",
				Message: fmt.Sprintf("invalid URL: %s", cfg.Value.BaseURL),
			}
		}
	}

	return nil
}

func validateUniqueness(cfg UniquenessConfig) error {
	switch cfg.Backend {
	case "", "memory":
	case "milvus":
		if cfg.Milvus.Endpoint == "" {
			return &ValidationError{
				Field:   "uniqueness.milvus.endpoint",
				Message: "Milvus endpoint is required for the milvus backend",
			}
		}
	default:
		return &ValidationError{
			Field:   "uniqueness.backend",
			Message: fmt.Sprintf("unknown backend: %s (supported: memory, milvus)", cfg.Backend),
		}
	}

	if cfg.WindowDays < 0 {
		return &ValidationError{
			Field:   "uniqueness.window_days",
			Message: "window_days must be non-negative",
		}
	}

	return nil
}

func validateEmitter(cfg EmitterConfig) error {
	if !cfg.Enabled {
		return nil
	}

	switch cfg.Type {
	case "", "redis":
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return &ValidationError{
				Field:   "emitter.kafka.brokers",
				Message: "at least one Kafka broker is required",
			}
		}
		if cfg.Kafka.Topic == "" {
			return &ValidationError{
				Field:   "emitter.kafka.topic",
				Message: "Kafka topic is required",
			}
		}
	default:
		return &ValidationError{
			Field:   "emitter.type",
			Message: fmt.Sprintf("unknown emitter type: %s (supported: redis, kafka)", cfg.Type),
		}
	}

	return nil
}
