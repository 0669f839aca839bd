package semantic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/msgsearch-go/internal/errors"
	"github.com/aihub/msgsearch-go/internal/logger"
)

// SearchService 语义检索服务
// 查询向量走与入库相同的缓存路径，重复查询直接命中缓存
type SearchService struct {
	cache        EmbeddingCache
	embedder     Embedder
	index        VectorIndex
	defaultLimit int
	maxLimit     int
	timeout      time.Duration
}

// NewSearchService 创建检索服务
func NewSearchService(cache EmbeddingCache, embedder Embedder, index VectorIndex, defaultLimit, maxLimit int, timeout time.Duration) *SearchService {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if maxLimit <= 0 {
		maxLimit = 100
	}
	return &SearchService{
		cache:        cache,
		embedder:     embedder,
		index:        index,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		timeout:      timeout,
	}
}

// Search 返回userID名下与查询语义最相近的消息
// limit为0时取默认值，超过上限时截断，负数视为无效
func (s *SearchService) Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	start := time.Now()

	if strings.TrimSpace(userID) == "" {
		searchesTotal.WithLabelValues("invalid").Inc()
		return nil, apperrors.NewInvalidQueryError("user id is empty")
	}
	text := NormalizeText(query)
	if text == "" {
		searchesTotal.WithLabelValues("invalid").Inc()
		return nil, apperrors.NewInvalidQueryError("query is empty")
	}
	if limit < 0 {
		searchesTotal.WithLabelValues("invalid").Inc()
		return nil, apperrors.NewInvalidQueryError("limit must be positive")
	}
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// 缓存优先，精确匹配规范化后的查询文本
	vector, hit := s.cache.Get(ctx, text)
	if !hit {
		vectors, err := s.embedder.Embed(ctx, []string{text})
		if err != nil {
			searchesTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("search for user %s: %w", userID, err)
		}
		vector = vectors[0]
		s.cache.Put(ctx, text, vector)
	}

	scored, err := s.index.Query(ctx, VectorQuery{
		UserID: userID,
		Vector: vector,
		Limit:  limit,
	})
	if err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		logger.Error("vector query failed",
			zap.String("user_id", userID),
			zap.String("query", text),
			zap.Error(err))
		return nil, fmt.Errorf("search for user %s: %w", userID, err)
	}

	results := make([]SearchResult, 0, len(scored))
	for _, item := range scored {
		results = append(results, SearchResult{
			MessageID:  item.Point.Payload.MessageID,
			Text:       item.Point.Payload.Text,
			Score:      item.Score,
			Timestamp:  time.Unix(item.Point.Payload.Timestamp, 0).UTC(),
			SenderID:   item.Point.Payload.SenderID,
			ReceiverID: item.Point.Payload.ReceiverID,
		})
	}

	// 得分降序，同分时较新消息在前，保证重复查询的稳定排序
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	searchesTotal.WithLabelValues("ok").Inc()
	searchDuration.Observe(time.Since(start).Seconds())
	return results, nil
}

// CacheStats 返回向量缓存的命中统计
func (s *SearchService) CacheStats() (hits, misses int64, hitRate float64) {
	type statsProvider interface {
		Stats() *CacheHitStats
	}
	if provider, ok := s.cache.(statsProvider); ok {
		return provider.Stats().Snapshot()
	}
	return 0, 0, 0
}
