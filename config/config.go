// Package config loads process-level settings for the ragify binaries.
//
// Settings are resolved in order: built-in defaults, then the YAML file, then
// environment variables. The result is validated before it is returned.
// Library users configure components with functional options instead and
// never need this package.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/poiesic/ragify/ai"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the merged settings fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root of the settings tree.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	AI        AIConfig        `yaml:"ai"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Objects   ObjectsConfig   `yaml:"objects"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StoreConfig selects the metadata store.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=badger postgres"`
	Path   string `yaml:"path" validate:"required_if=Driver badger"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// IndexConfig selects the vector index. The badger index shares the
// metadata store's database when both use badger.
type IndexConfig struct {
	Driver           string        `yaml:"driver" validate:"oneof=badger qdrant milvus"`
	Path             string        `yaml:"path"`
	CollectionPrefix string        `yaml:"collection_prefix" validate:"required"`
	BatchSize        int           `yaml:"batch_size" validate:"gte=1"`
	ContentHashIDs   bool          `yaml:"content_hash_ids"`
	ConnectAttempts  int           `yaml:"connect_attempts" validate:"gte=1"`
	ConnectInterval  time.Duration `yaml:"connect_interval"`
	Qdrant           QdrantConfig  `yaml:"qdrant"`
	Milvus           MilvusConfig  `yaml:"milvus"`
}

// QdrantConfig holds the Qdrant REST connection.
type QdrantConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// MilvusConfig holds the Milvus gRPC connection.
type MilvusConfig struct {
	Address  string `yaml:"address"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

// AIConfig configures the OpenAI-compatible embedding and generation backends.
type AIConfig struct {
	EmbeddingHost   string  `yaml:"embedding_host" validate:"required,url"`
	GenerationHost  string  `yaml:"generation_host" validate:"required,url"`
	EmbeddingModel  string  `yaml:"embedding_model" validate:"required"`
	GenerationModel string  `yaml:"generation_model" validate:"required"`
	APIKey          string  `yaml:"api_key"`
	Dimensions      int     `yaml:"dimensions" validate:"gte=1"`
	Temperature     float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	BatchSize       int     `yaml:"batch_size" validate:"gte=1"`
	Concurrency     int     `yaml:"concurrency" validate:"gte=1"`
}

// ChunkingConfig sizes the chunk windows in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size" validate:"gte=1"`
	Overlap int `yaml:"overlap" validate:"gte=0,ltfield=Size"`
}

// RetrievalConfig tunes retrieval and answer synthesis.
type RetrievalConfig struct {
	Limit           int      `yaml:"limit" validate:"gte=1"`
	MinScore        *float32 `yaml:"min_score,omitempty" validate:"omitempty,gte=-1,lte=1"`
	KeywordBoost    float32  `yaml:"keyword_boost" validate:"gte=1"`
	MaxContextChars int      `yaml:"max_context_chars" validate:"gte=1"`
}

// IngestionConfig tunes the job queue and the reconciler.
type IngestionConfig struct {
	Workers           int           `yaml:"workers" validate:"gte=1"`
	QueueCapacity     int           `yaml:"queue_capacity" validate:"gte=1"`
	EmbedAttempts     int           `yaml:"embed_attempts" validate:"gte=1"`
	EmbedDelay        time.Duration `yaml:"embed_delay"`
	GracePeriod       time.Duration `yaml:"grace_period"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" validate:"gt=0"`
}

// ObjectsConfig configures the optional S3-compatible upload of original files.
type ObjectsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// KafkaConfig configures the optional Kafka job transport. It is disabled
// when Brokers is empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty" validate:"dive,hostname_port"`
	Topic   string   `yaml:"topic" validate:"required_with=Brokers"`
	GroupID string   `yaml:"group_id" validate:"required_with=Brokers"`
}

// MetricsConfig configures the worker's Prometheus endpoint. An empty
// address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns settings for a single-node setup backed by badger and a
// local OpenAI-compatible server.
func Default() *Config {
	a := ai.DefaultConfig()
	return &Config{
		Store: StoreConfig{Driver: "badger", Path: "ragify-data"},
		Index: IndexConfig{
			Driver:           "badger",
			CollectionPrefix: "ragify",
			BatchSize:        100,
			ConnectAttempts:  3,
			ConnectInterval:  5 * time.Second,
			Qdrant:           QdrantConfig{URL: "http://localhost:6333", Timeout: 10 * time.Second},
			Milvus:           MilvusConfig{Address: "localhost:19530"},
		},
		AI: AIConfig{
			EmbeddingHost:   a.EmbeddingHost,
			GenerationHost:  a.GenerationHost,
			EmbeddingModel:  a.EmbeddingModel,
			GenerationModel: a.GenerationModel,
			Dimensions:      a.Dimensions,
			Temperature:     a.Temperature,
			BatchSize:       32,
			Concurrency:     4,
		},
		Chunking: ChunkingConfig{Size: 500, Overlap: 50},
		Retrieval: RetrievalConfig{
			Limit:           5,
			KeywordBoost:    1,
			MaxContextChars: 12000,
		},
		Ingestion: IngestionConfig{
			Workers:           4,
			QueueCapacity:     256,
			EmbedAttempts:     3,
			EmbedDelay:        500 * time.Millisecond,
			GracePeriod:       15 * time.Minute,
			ReconcileInterval: 5 * time.Minute,
		},
		Objects: ObjectsConfig{Bucket: "ragify", Region: "us-east-1"},
		Kafka:   KafkaConfig{Topic: "ragify.ingestion", GroupID: "ragify-workers"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ProviderConfig converts the AI section into the provider configuration.
func (c *Config) ProviderConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithDimensions(c.AI.Dimensions),
		ai.WithTemperature(c.AI.Temperature),
	)
}

// Save writes c as YAML.
func Save(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
