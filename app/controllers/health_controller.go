package controllers

import (
	"net/http"

	"github.com/aihub/msgsearch-go/internal/di"
	"github.com/aihub/msgsearch-go/internal/semantic"
)

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
	cache    semantic.EmbeddingCache
	embedder semantic.Embedder
	index    semantic.VectorIndex
}

// NewHealthController 创建健康检查控制器
func NewHealthController(cache semantic.EmbeddingCache, embedder semantic.Embedder, index semantic.VectorIndex) *HealthController {
	return &HealthController{
		cache:    cache,
		embedder: embedder,
		index:    index,
	}
}

// Prepare beego按类型重建控制器实例，未导出字段从容器补齐
func (c *HealthController) Prepare() {
	if (c.cache == nil || c.embedder == nil || c.index == nil) && di.GetContainer() != nil {
		_ = di.Invoke(func(cache semantic.EmbeddingCache, embedder semantic.Embedder, index semantic.VectorIndex) {
			c.cache = cache
			c.embedder = embedder
			c.index = index
		})
	}
}

// Health 就绪检查：向量化服务或索引不可用时返回503
// 缓存不可用只降级不拒绝服务
func (c *HealthController) Health() {
	embedderReady := c.embedder.Ready()
	indexReady := c.index.Ready()
	cacheReady := c.cache.Ready()

	status := http.StatusOK
	statusText := "ok"
	if !embedderReady || !indexReady {
		status = http.StatusServiceUnavailable
		statusText = "degraded"
	}

	c.JSON(status, map[string]interface{}{
		"status": statusText,
		"checks": map[string]bool{
			"embedder": embedderReady,
			"index":    indexReady,
			"cache":    cacheReady,
		},
	})
}
