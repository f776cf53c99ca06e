package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RAGIFY_"

// LoadDotEnv loads variables from the given .env files, or ./.env when none
// are given. Variables already set in the environment win. Missing files
// are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

type override struct {
	name string
	set  func(c *Config, v string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func duration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

var overrides = []override{
	{"STORE_DRIVER", str(func(c *Config) *string { return &c.Store.Driver })},
	{"STORE_PATH", str(func(c *Config) *string { return &c.Store.Path })},
	{"STORE_DSN", str(func(c *Config) *string { return &c.Store.DSN })},
	{"INDEX_DRIVER", str(func(c *Config) *string { return &c.Index.Driver })},
	{"INDEX_PATH", str(func(c *Config) *string { return &c.Index.Path })},
	{"INDEX_COLLECTION_PREFIX", str(func(c *Config) *string { return &c.Index.CollectionPrefix })},
	{"INDEX_CONTENT_HASH_IDS", boolean(func(c *Config) *bool { return &c.Index.ContentHashIDs })},
	{"QDRANT_URL", str(func(c *Config) *string { return &c.Index.Qdrant.URL })},
	{"QDRANT_API_KEY", str(func(c *Config) *string { return &c.Index.Qdrant.APIKey })},
	{"MILVUS_ADDRESS", str(func(c *Config) *string { return &c.Index.Milvus.Address })},
	{"MILVUS_USERNAME", str(func(c *Config) *string { return &c.Index.Milvus.Username })},
	{"MILVUS_PASSWORD", str(func(c *Config) *string { return &c.Index.Milvus.Password })},
	{"EMBEDDING_HOST", str(func(c *Config) *string { return &c.AI.EmbeddingHost })},
	{"EMBEDDING_MODEL", str(func(c *Config) *string { return &c.AI.EmbeddingModel })},
	{"EMBEDDING_DIMENSIONS", integer(func(c *Config) *int { return &c.AI.Dimensions })},
	{"GENERATION_HOST", str(func(c *Config) *string { return &c.AI.GenerationHost })},
	{"GENERATION_MODEL", str(func(c *Config) *string { return &c.AI.GenerationModel })},
	{"API_KEY", str(func(c *Config) *string { return &c.AI.APIKey })},
	{"WORKERS", integer(func(c *Config) *int { return &c.Ingestion.Workers })},
	{"GRACE_PERIOD", duration(func(c *Config) *time.Duration { return &c.Ingestion.GracePeriod })},
	{"RECONCILE_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Ingestion.ReconcileInterval })},
	{"OBJECTS_ENABLED", boolean(func(c *Config) *bool { return &c.Objects.Enabled })},
	{"OBJECTS_ENDPOINT", str(func(c *Config) *string { return &c.Objects.Endpoint })},
	{"OBJECTS_ACCESS_KEY", str(func(c *Config) *string { return &c.Objects.AccessKey })},
	{"OBJECTS_SECRET_KEY", str(func(c *Config) *string { return &c.Objects.SecretKey })},
	{"OBJECTS_BUCKET", str(func(c *Config) *string { return &c.Objects.Bucket })},
	{"MIN_SCORE", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return err
		}
		score := float32(f)
		c.Retrieval.MinScore = &score
		return nil
	}},
	{"KAFKA_BROKERS", func(c *Config, v string) error {
		c.Kafka.Brokers = splitList(v)
		return nil
	}},
	{"KAFKA_TOPIC", str(func(c *Config) *string { return &c.Kafka.Topic })},
	{"METRICS_ADDR", str(func(c *Config) *string { return &c.Metrics.Addr })},
}

// applyEnv applies RAGIFY_* overrides. OPENAI_API_KEY is honored when
// RAGIFY_API_KEY is unset.
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		c.AI.APIKey = v
	}
	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, EnvPrefix, o.name, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
