package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/aihub/msgsearch-go/internal/di"
	"github.com/aihub/msgsearch-go/internal/semantic"
)

// SearchController 语义检索控制器
type SearchController struct {
	BaseController
	searchService *semantic.SearchService
	validate      *validator.Validate
}

// NewSearchController 创建检索控制器
func NewSearchController(searchService *semantic.SearchService) *SearchController {
	return &SearchController{
		searchService: searchService,
		validate:      validator.New(),
	}
}

// Prepare beego按类型重建控制器实例，未导出字段从容器补齐
func (c *SearchController) Prepare() {
	if c.searchService == nil && di.GetContainer() != nil {
		_ = di.Invoke(func(ss *semantic.SearchService) {
			c.searchService = ss
		})
	}
	if c.validate == nil {
		c.validate = validator.New()
	}
}

// SearchRequest 检索请求体
type SearchRequest struct {
	Query string `json:"query" validate:"required"`
	Limit int    `json:"limit" validate:"gte=0,lte=1000"`
}

// Search 在调用方名下的消息中做语义检索
func (c *SearchController) Search() {
	userID, ok := c.getAuthenticatedUserID()
	if !ok {
		return
	}

	var req SearchRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求体格式错误")
		return
	}
	if err := c.validate.Struct(&req); err != nil {
		c.JSONError(http.StatusBadRequest, "查询参数不能为空")
		return
	}

	results, err := c.searchService.Search(c.Ctx.Request.Context(), userID, req.Query, req.Limit)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"results": results,
		"query":   req.Query,
		"count":   len(results),
	})
}

// GetCacheStats 获取向量缓存统计
func (c *SearchController) GetCacheStats() {
	hits, misses, hitRate := c.searchService.CacheStats()
	c.JSONSuccess(map[string]interface{}{
		"hits":     hits,
		"misses":   misses,
		"hit_rate": hitRate,
	})
}
