package di

import (
	"fmt"

	"go.uber.org/dig"

	"github.com/aihub/msgsearch-go/internal/config"
	"github.com/aihub/msgsearch-go/internal/database"
	"github.com/aihub/msgsearch-go/internal/semantic"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	// 注册配置
	if err := container.Provide(func() (*config.Config, error) {
		cfg := config.GetAppConfig()
		if cfg == nil {
			return nil, fmt.Errorf("config not loaded")
		}
		return cfg, nil
	}); err != nil {
		return err
	}

	// 注册向量缓存：Redis可用时优先，否则降级为进程内缓存
	if err := container.Provide(func(cfg *config.Config) semantic.EmbeddingCache {
		if database.RedisClient != nil {
			return semantic.NewRedisEmbeddingCache(database.RedisClient, cfg.Embedding.Model, cfg.Embedding.CacheTTL)
		}
		return semantic.NewMemoryEmbeddingCache(cfg.Embedding.Model, cfg.Embedding.CacheTTL)
	}); err != nil {
		return err
	}

	// 注册向量化服务
	if err := container.Provide(func(cfg *config.Config) semantic.Embedder {
		return semantic.NewOpenAIEmbedder(cfg.Embedding)
	}); err != nil {
		return err
	}

	// 注册向量索引：按配置选择Qdrant或Milvus后端
	if err := container.Provide(func(cfg *config.Config) (semantic.VectorIndex, error) {
		switch cfg.VectorStore.Provider {
		case "milvus":
			return semantic.NewMilvusVectorIndex(semantic.MilvusOptions{
				Address:      cfg.VectorStore.Milvus.Address,
				Username:     cfg.VectorStore.Milvus.Username,
				Password:     cfg.VectorStore.Milvus.Password,
				Collection:   cfg.VectorStore.Milvus.Collection,
				Database:     cfg.VectorStore.Milvus.Database,
				VectorSize:   cfg.VectorStore.Milvus.VectorSize,
				Distance:     cfg.VectorStore.Milvus.Distance,
				UseTLS:       cfg.VectorStore.Milvus.TLS,
				Timeout:      cfg.VectorStore.Milvus.Timeout,
				MaxRetries:   cfg.Search.MaxRetries,
				RetryBackoff: cfg.Search.RetryBackoff,
				MaxLimit:     cfg.Search.MaxLimit,
			})
		case "qdrant", "":
			return semantic.NewQdrantVectorIndex(semantic.QdrantOptions{
				Endpoint:     cfg.VectorStore.Qdrant.Endpoint,
				APIKey:       cfg.VectorStore.Qdrant.APIKey,
				Collection:   cfg.VectorStore.Qdrant.Collection,
				VectorSize:   cfg.VectorStore.Qdrant.VectorSize,
				Distance:     cfg.VectorStore.Qdrant.Distance,
				UseTLS:       cfg.VectorStore.Qdrant.TLS,
				Timeout:      cfg.VectorStore.Qdrant.Timeout,
				MaxRetries:   cfg.Search.MaxRetries,
				RetryBackoff: cfg.Search.RetryBackoff,
				MaxLimit:     cfg.Search.MaxLimit,
			})
		default:
			return nil, fmt.Errorf("unknown vector store provider: %s", cfg.VectorStore.Provider)
		}
	}); err != nil {
		return err
	}

	// 注册入库管道
	if err := container.Provide(semantic.NewIngestionPipeline); err != nil {
		return err
	}

	// 注册检索服务
	if err := container.Provide(func(cache semantic.EmbeddingCache, embedder semantic.Embedder, index semantic.VectorIndex, cfg *config.Config) *semantic.SearchService {
		return semantic.NewSearchService(cache, embedder, index,
			cfg.Search.DefaultLimit, cfg.Search.MaxLimit, cfg.Search.Timeout)
	}); err != nil {
		return err
	}

	return nil
}
