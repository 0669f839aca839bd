package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfigDefaults 未配置时使用默认值
func TestLoadConfigDefaults(t *testing.T) {
	require.NoError(t, LoadConfig())
	cfg := GetAppConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "8002", cfg.Server.Port)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 100, cfg.Embedding.MaxBatchSize)
	assert.Equal(t, 3, cfg.Embedding.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Embedding.RetryBackoff)
	assert.Equal(t, 24*time.Hour, cfg.Embedding.CacheTTL)

	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "chat_messages", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, 1536, cfg.VectorStore.Qdrant.VectorSize)
	assert.Equal(t, "cosine", cfg.VectorStore.Qdrant.Distance)

	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxLimit)

	assert.Equal(t, "messages.sent", cfg.Kafka.MessagesTopic)
	assert.Equal(t, "messages.deleted", cfg.Kafka.DeletesTopic)
	assert.Equal(t, "messages.index-retry", cfg.Kafka.RetryTopic)
	assert.Equal(t, "msgsearch-ingest", cfg.Kafka.GroupID)
	assert.False(t, cfg.Kafka.Enabled)

	assert.Equal(t, 24000, cfg.Embedding.MaxInputChars)
	assert.Equal(t, "msgsearch", cfg.Consul.ServiceName)
	assert.Equal(t, "msgsearch-1", cfg.Consul.ServiceID)
}

// TestLoadConfigEnvOverrides 常用环境变量覆盖默认值
func TestLoadConfigEnvOverrides(t *testing.T) {
	os.Setenv("PORT", "9100")
	os.Setenv("OPENAI_API_KEY", "sk-test")
	os.Setenv("QDRANT_ENDPOINT", "http://qdrant.internal:6333")
	os.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("OPENAI_API_KEY")
		os.Unsetenv("QDRANT_ENDPOINT")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	require.NoError(t, LoadConfig())
	cfg := GetAppConfig()

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "http://qdrant.internal:6333", cfg.VectorStore.Qdrant.Endpoint)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Kafka.Brokers)
}
