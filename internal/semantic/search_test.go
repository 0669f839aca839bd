package semantic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/msgsearch-go/internal/errors"
)

func scoredPoint(messageID string, score float64, ts time.Time) ScoredPoint {
	return ScoredPoint{
		Point: IndexedPoint{
			VectorID: VectorIDForMessage(messageID),
			Payload: PointPayload{
				UserID:    "user-a",
				MessageID: messageID,
				Text:      "text of " + messageID,
				Timestamp: ts.Unix(),
				SenderID:  "user-a",
			},
		},
		Score: score,
	}
}

func newTestSearchService(index *fakeIndex, embedder *fakeEmbedder) *SearchService {
	cache := NewMemoryEmbeddingCache("fake-model", time.Minute)
	return NewSearchService(cache, embedder, index, 10, 100, 0)
}

// TestSearchRejectsInvalidInput 无效查询快速失败，不触发任何网络调用
func TestSearchRejectsInvalidInput(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	service := newTestSearchService(index, embedder)
	ctx := context.Background()

	_, err := service.Search(ctx, "", "hello", 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidQuery))

	_, err = service.Search(ctx, "user-a", "   ", 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidQuery))

	_, err = service.Search(ctx, "user-a", "hello", -1)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidQuery))

	assert.Equal(t, 0, embedder.calls)
}

// TestSearchLimitDefaults limit为0取默认值，超过上限截断
func TestSearchLimitDefaults(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	service := newTestSearchService(index, embedder)
	ctx := context.Background()

	_, err := service.Search(ctx, "user-a", "hello", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, index.lastQuery.Limit)

	_, err = service.Search(ctx, "user-a", "hello", 5000)
	require.NoError(t, err)
	assert.Equal(t, 100, index.lastQuery.Limit)

	_, err = service.Search(ctx, "user-a", "hello", 25)
	require.NoError(t, err)
	assert.Equal(t, 25, index.lastQuery.Limit)
}

// TestSearchScopedToUser 检索只在调用方名下的消息中进行
func TestSearchScopedToUser(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	service := newTestSearchService(index, embedder)

	_, err := service.Search(context.Background(), "user-a", "hello", 0)
	require.NoError(t, err)
	assert.Equal(t, "user-a", index.lastQuery.UserID)
}

// TestSearchOrdering 得分降序，同分时较新消息在前
func TestSearchOrdering(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	index.queryResult = []ScoredPoint{
		scoredPoint("msg-low", 0.41, newer),
		scoredPoint("msg-tie-old", 0.87, older),
		scoredPoint("msg-top", 0.93, older),
		scoredPoint("msg-tie-new", 0.87, newer),
	}
	service := newTestSearchService(index, embedder)

	results, err := service.Search(context.Background(), "user-a", "hello", 0)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "msg-top", results[0].MessageID)
	assert.Equal(t, "msg-tie-new", results[1].MessageID)
	assert.Equal(t, "msg-tie-old", results[2].MessageID)
	assert.Equal(t, "msg-low", results[3].MessageID)

	// 重复查询排序稳定
	again, err := service.Search(context.Background(), "user-a", "hello", 0)
	require.NoError(t, err)
	assert.Equal(t, results, again)
}

// TestSearchQueryVectorCached 重复查询命中缓存，不再向量化
func TestSearchQueryVectorCached(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	service := newTestSearchService(index, embedder)
	ctx := context.Background()

	_, err := service.Search(ctx, "user-a", "where are we meeting", 0)
	require.NoError(t, err)
	_, err = service.Search(ctx, "user-a", "  where   are we meeting ", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, embedder.calls)
}

// TestSearchEmptyIndex 空结果是成功而非错误
func TestSearchEmptyIndex(t *testing.T) {
	service := newTestSearchService(newFakeIndex(), &fakeEmbedder{})

	results, err := service.Search(context.Background(), "user-a", "hello", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestSearchIndexErrorPropagates 索引错误携带原始错误码上抛
func TestSearchIndexErrorPropagates(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	index.queryErr = apperrors.NewCollectionNotFoundError("chat_messages")
	service := newTestSearchService(index, embedder)

	_, err := service.Search(context.Background(), "user-a", "hello", 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCollectionNotFound))
}

// TestSearchEmbedErrorPropagates 向量化失败时不查询索引
func TestSearchEmbedErrorPropagates(t *testing.T) {
	embedder := &fakeEmbedder{err: apperrors.NewProviderUnavailableError(3)}
	index := newFakeIndex()
	index.queryResult = []ScoredPoint{scoredPoint("msg-1", 0.5, time.Now())}
	service := newTestSearchService(index, embedder)

	_, err := service.Search(context.Background(), "user-a", "hello", 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProviderUnavailable))
	assert.Empty(t, index.lastQuery.UserID)
}

// TestSearchResultFields 结果字段来自点的payload
func TestSearchResultFields(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	index := newFakeIndex()
	index.queryResult = []ScoredPoint{scoredPoint("msg-42", 0.88, ts)}
	service := newTestSearchService(index, &fakeEmbedder{})

	results, err := service.Search(context.Background(), "user-a", "hello", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "msg-42", results[0].MessageID)
	assert.Equal(t, "text of msg-42", results[0].Text)
	assert.Equal(t, 0.88, results[0].Score)
	assert.Equal(t, ts, results[0].Timestamp)
	assert.Equal(t, "user-a", results[0].SenderID)
}

// TestSearchCacheStats 命中率统计透出
func TestSearchCacheStats(t *testing.T) {
	service := newTestSearchService(newFakeIndex(), &fakeEmbedder{})
	ctx := context.Background()

	service.Search(ctx, "user-a", "hello", 0)
	service.Search(ctx, "user-a", "hello", 0)

	hits, misses, hitRate := service.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.InDelta(t, 0.5, hitRate, 0.001)
}
