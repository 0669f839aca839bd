package config

import (
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Consul      ConsulConfig      `mapstructure:"consul"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Search      SearchConfig      `mapstructure:"search"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Enabled       bool     `mapstructure:"enabled"`
	GroupID       string   `mapstructure:"group_id"`
	MessagesTopic string   `mapstructure:"messages_topic"`
	DeletesTopic  string   `mapstructure:"deletes_topic"`
	RetryTopic    string   `mapstructure:"retry_topic"`
}

type ConsulConfig struct {
	Address     string `mapstructure:"address"`
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	ServiceID   string `mapstructure:"service_id"`
}

// EmbeddingConfig 向量化服务配置
// 模型与维度成对版本化：变更任意一个都会使已缓存/已索引向量失效，
// 需要全量重建索引
type EmbeddingConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
	MaxInputChars int           `mapstructure:"max_input_chars"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type VectorStoreConfig struct {
	Provider string       `mapstructure:"provider"` // qdrant | milvus
	Qdrant   QdrantConfig `mapstructure:"qdrant"`
	Milvus   MilvusConfig `mapstructure:"milvus"`
}

type QdrantConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	TLS        bool          `mapstructure:"tls"`
	VectorSize int           `mapstructure:"vector_size"`
	Distance   string        `mapstructure:"distance"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type MilvusConfig struct {
	Address    string        `mapstructure:"address"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	Collection string        `mapstructure:"collection"`
	Database   string        `mapstructure:"database"`
	TLS        bool          `mapstructure:"tls"`
	VectorSize int           `mapstructure:"vector_size"`
	Distance   string        `mapstructure:"distance"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

var AppConfig *Config

func LoadConfig() error {
	// 设置默认值
	viper.SetDefault("server.port", "8002")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.group_id", "msgsearch-ingest")
	viper.SetDefault("kafka.messages_topic", "messages.sent")
	viper.SetDefault("kafka.deletes_topic", "messages.deleted")
	viper.SetDefault("kafka.retry_topic", "messages.index-retry")
	viper.SetDefault("consul.address", "localhost:8500")
	viper.SetDefault("consul.enabled", false)
	viper.SetDefault("consul.service_name", "msgsearch")
	viper.SetDefault("consul.service_id", "msgsearch-1")

	// 向量化配置默认值
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.base_url", "")
	viper.SetDefault("embedding.max_batch_size", 100)
	viper.SetDefault("embedding.max_input_chars", 24000)
	viper.SetDefault("embedding.max_retries", 3)
	viper.SetDefault("embedding.retry_backoff", "500ms")
	viper.SetDefault("embedding.timeout", "30s")
	viper.SetDefault("embedding.cache_ttl", "24h")

	// 向量存储配置默认值
	viper.SetDefault("vector_store.provider", "qdrant")
	viper.SetDefault("vector_store.qdrant.endpoint", "http://localhost:6333")
	viper.SetDefault("vector_store.qdrant.collection", "chat_messages")
	viper.SetDefault("vector_store.qdrant.tls", false)
	viper.SetDefault("vector_store.qdrant.vector_size", 1536)
	viper.SetDefault("vector_store.qdrant.distance", "cosine")
	viper.SetDefault("vector_store.qdrant.timeout", "10s")
	viper.SetDefault("vector_store.milvus.address", "localhost:19530")
	viper.SetDefault("vector_store.milvus.collection", "chat_messages")
	viper.SetDefault("vector_store.milvus.database", "default")
	viper.SetDefault("vector_store.milvus.tls", false)
	viper.SetDefault("vector_store.milvus.vector_size", 1536)
	viper.SetDefault("vector_store.milvus.distance", "cosine")
	viper.SetDefault("vector_store.milvus.timeout", "10s")

	// 检索配置默认值
	viper.SetDefault("search.default_limit", 10)
	viper.SetDefault("search.max_limit", 100)
	viper.SetDefault("search.timeout", "5s")
	viper.SetDefault("search.max_retries", 3)
	viper.SetDefault("search.retry_backoff", "1s")

	// 读取环境变量
	viper.SetEnvPrefix("MSGSEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 常用环境变量的显式映射
	if port := os.Getenv("PORT"); port != "" {
		viper.Set("server.port", port)
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		viper.Set("redis.host", redisHost)
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		viper.Set("redis.port", redisPort)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		viper.Set("redis.password", redisPassword)
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("embedding.api_key", apiKey)
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		viper.Set("embedding.base_url", baseURL)
	}
	if endpoint := os.Getenv("QDRANT_ENDPOINT"); endpoint != "" {
		viper.Set("vector_store.qdrant.endpoint", endpoint)
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		viper.Set("vector_store.qdrant.api_key", apiKey)
	}
	if address := os.Getenv("MILVUS_ADDRESS"); address != "" {
		viper.Set("vector_store.milvus.address", address)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		viper.Set("kafka.brokers", strings.Split(brokers, ","))
	}

	// 可选配置文件
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return err
	}

	AppConfig = cfg
	return nil
}

// GetAppConfig 获取全局配置实例
func GetAppConfig() *Config {
	return AppConfig
}

// WatchConfig 监听配置文件变更并热加载
// 部分变更（如向量维度）需要重启服务才能生效
func WatchConfig(onChange func(*Config)) {
	viper.OnConfigChange(func(in fsnotify.Event) {
		cfg := &Config{}
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		AppConfig = cfg
		if onChange != nil {
			onChange(cfg)
		}
	})
	viper.WatchConfig()
}
