package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "badger", cfg.Store.Driver)
	assert.Equal(t, "badger", cfg.Index.Driver)
	assert.Nil(t, cfg.Retrieval.MinScore)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.Objects.Enabled)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeFile(t, "ragify.yaml", `
store:
  driver: postgres
  dsn: postgres://ragify@localhost/ragify?sslmode=disable
index:
  driver: qdrant
  qdrant:
    url: http://qdrant:6333
ai:
  embedding_model: text-embedding-3-small
  dimensions: 1536
chunking:
  size: 800
  overlap: 100
retrieval:
  min_score: 0.25
ingestion:
  reconcile_interval: 30s
kafka:
  brokers: [kafka-1:9092, kafka-2:9092]
`)
	cfg, err := load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "qdrant", cfg.Index.Driver)
	assert.Equal(t, "http://qdrant:6333", cfg.Index.Qdrant.URL)
	assert.Equal(t, 10*time.Second, cfg.Index.Qdrant.Timeout, "unset nested fields keep defaults")
	assert.Equal(t, "text-embedding-3-small", cfg.AI.EmbeddingModel)
	assert.Equal(t, Default().AI.GenerationModel, cfg.AI.GenerationModel)
	assert.Equal(t, 1536, cfg.AI.Dimensions)
	assert.Equal(t, 800, cfg.Chunking.Size)
	require.NotNil(t, cfg.Retrieval.MinScore)
	assert.InDelta(t, 0.25, *cfg.Retrieval.MinScore, 1e-6)
	assert.Equal(t, 30*time.Second, cfg.Ingestion.ReconcileInterval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ragify.ingestion", cfg.Kafka.Topic)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "store: [unclosed")
	_, err := load(path, env(nil))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "ragify.yaml", "ai:\n  api_key: from-file\n")
	cfg, err := load(path, env(map[string]string{
		"RAGIFY_INDEX_DRIVER":         "milvus",
		"RAGIFY_MILVUS_ADDRESS":       "milvus:19530",
		"RAGIFY_EMBEDDING_DIMENSIONS": "384",
		"RAGIFY_KAFKA_BROKERS":        " a:9092, ,b:9092 ",
		"RAGIFY_OBJECTS_ENABLED":      "true",
		"RAGIFY_OBJECTS_ENDPOINT":     "minio:9000",
		"RAGIFY_GRACE_PERIOD":         "1h",
		"RAGIFY_MIN_SCORE":            "0.5",
		"OPENAI_API_KEY":              "sk-env",
	}))
	require.NoError(t, err)

	assert.Equal(t, "milvus", cfg.Index.Driver)
	assert.Equal(t, "milvus:19530", cfg.Index.Milvus.Address)
	assert.Equal(t, 384, cfg.AI.Dimensions)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Objects.Enabled)
	assert.Equal(t, time.Hour, cfg.Ingestion.GracePeriod)
	assert.InDelta(t, 0.5, *cfg.Retrieval.MinScore, 1e-6)
	assert.Equal(t, "sk-env", cfg.AI.APIKey)
}

func TestRagifyAPIKeyWinsOverOpenAIKey(t *testing.T) {
	cfg, err := load("", env(map[string]string{
		"OPENAI_API_KEY": "sk-openai",
		"RAGIFY_API_KEY": "sk-ragify",
	}))
	require.NoError(t, err)
	assert.Equal(t, "sk-ragify", cfg.AI.APIKey)
}

func TestEnvParseErrors(t *testing.T) {
	for name, value := range map[string]string{
		"RAGIFY_WORKERS":         "many",
		"RAGIFY_OBJECTS_ENABLED": "perhaps",
		"RAGIFY_GRACE_PERIOD":    "soon",
		"RAGIFY_MIN_SCORE":       "high",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := load("", env(map[string]string{name: value}))
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store driver", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }},
		{"unknown index driver", func(c *Config) { c.Index.Driver = "faiss" }},
		{"overlap not below size", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }},
		{"zero dimensions", func(c *Config) { c.AI.Dimensions = 0 }},
		{"bad embedding host", func(c *Config) { c.AI.EmbeddingHost = "not a url" }},
		{"keyword boost below one", func(c *Config) { c.Retrieval.KeywordBoost = 0.5 }},
		{"min score out of range", func(c *Config) { s := float32(2); c.Retrieval.MinScore = &s }},
		{"objects without endpoint", func(c *Config) { c.Objects.Enabled = true }},
		{"broker without port", func(c *Config) { c.Kafka.Brokers = []string{"kafka"} }},
		{"brokers without topic", func(c *Config) {
			c.Kafka.Brokers = []string{"kafka:9092"}
			c.Kafka.Topic = ""
		}},
		{"zero reconcile interval", func(c *Config) { c.Ingestion.ReconcileInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Index.Driver = "qdrant"
	require.NoError(t, Save(path, cfg))

	loaded, err := load(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestProviderConfig(t *testing.T) {
	cfg := Default()
	cfg.AI.APIKey = "sk-test"
	cfg.AI.Dimensions = 1024

	p := cfg.ProviderConfig()
	assert.Equal(t, "sk-test", p.APIKey)
	assert.Equal(t, 1024, p.Dimensions)
	assert.Equal(t, cfg.AI.EmbeddingModel, p.EmbeddingModel)
	require.NoError(t, p.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "RAGIFY_TEST_DOTENV=loaded\nRAGIFY_TEST_DOTENV_PRESET=overwritten\n")
	t.Setenv("RAGIFY_TEST_DOTENV_PRESET", "kept")
	os.Unsetenv("RAGIFY_TEST_DOTENV")
	t.Cleanup(func() { os.Unsetenv("RAGIFY_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("RAGIFY_TEST_DOTENV"))
	assert.Equal(t, "kept", os.Getenv("RAGIFY_TEST_DOTENV_PRESET"))
}
