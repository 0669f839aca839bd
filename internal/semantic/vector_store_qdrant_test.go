package semantic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/msgsearch-go/internal/errors"
)

func testQdrantOptions(endpoint string) QdrantOptions {
	return QdrantOptions{
		Endpoint:     endpoint,
		Collection:   "chat_messages",
		VectorSize:   4,
		Distance:     "cosine",
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		MaxLimit:     100,
	}
}

// TestQdrantEnsureCollectionCreates 集合不存在时创建
func TestQdrantEnsureCollectionCreates(t *testing.T) {
	var createBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/chat_messages":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":{"error":"Not found"}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chat_messages":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
			w.Write([]byte(`{"result":true,"status":"ok"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	index, err := NewQdrantVectorIndex(testQdrantOptions(srv.URL))
	require.NoError(t, err)
	require.NoError(t, index.EnsureCollection(context.Background()))

	vectors := createBody["vectors"].(map[string]interface{})
	assert.Equal(t, float64(4), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

// TestQdrantEnsureCollectionSchemaMismatch 维度不一致时拒绝启动
func TestQdrantEnsureCollectionSchemaMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":768,"distance":"Cosine"}}}}}`))
	}))
	defer srv.Close()

	index, err := NewQdrantVectorIndex(testQdrantOptions(srv.URL))
	require.NoError(t, err)

	err = index.EnsureCollection(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSchemaMismatch))
}

// TestQdrantEnsureCollectionSchemaMatch 已存在且schema一致时直接复用
func TestQdrantEnsureCollectionSchemaMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":4,"distance":"Cosine"}}}}}`))
	}))
	defer srv.Close()

	index, err := NewQdrantVectorIndex(testQdrantOptions(srv.URL))
	require.NoError(t, err)
	assert.NoError(t, index.EnsureCollection(context.Background()))
}

// TestQdrantUpsertBatch 批量写入携带完整payload
func TestQdrantUpsertBatch(t *testing.T) {
	var upsertBody struct {
		Points []struct {
			ID      string                 `json:"id"`
			Vector  []float32              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/collections/chat_messages/points", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&upsertBody))
		w.Write([]byte(`{"result":{"status":"completed"},"status":"ok"}`))
	}))
	defer srv.Close()

	index, err := NewQdrantVectorIndex(testQdrantOptions(srv.URL))
	require.NoError(t, err)

	point := PointForMessage(Message{
		ID:         "msg-1",
		SenderID:   "user-a",
		ReceiverID: "user-b",
		Text:       "hello world",
		CreatedAt:  time.Unix(1700000000, 0),
	}, []float32{1, 2, 3, 4})

	require.NoError(t, index.UpsertBatch(context.Background(), []IndexedPoint{point}))

	require.Len(t, upsertBody.Points, 1)
	sent := upsertBody.Points[0]
	assert.Equal(t, VectorIDForMessage("msg-1"), sent.ID)
	assert.Equal(t, []float32{1, 2, 3, 4}, sent.Vector)
	assert.Equal(t, "user-a", sent.Payload["user_id"])
	assert.Equal(t, "msg-1", sent.Payload["message_id"])
	assert.Equal(t, "hello world", sent.Payload["text"])
	assert.Equal(t, float64(1700000000), sent.Payload["timestamp"])
}

// TestQdrantUpsertDimensionMismatch 维度不符的点在请求前拒绝
func TestQdrantUpsertDimensionMismatch(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	defer srv.Close()

	index, err := NewQdrantVectorIndex(testQdrantOptions(srv.URL))
	require.NoError(t, err)

	point := IndexedPoint{VectorID: VectorIDForMessage("msg-1"), Vector: []float32{1, 2}}
	err = index.UpsertBatch(context.Background(), []IndexedPoint{point})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSchemaMismatch))
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
}

// TestQdrantQuery 查询强制带user_id过滤，解析结果
func TestQdrantQuery(t *testing.T) {
	var searchBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/chat_messages/points/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&searchBody))
		w.Write([]byte(`{"result":[
			{"id":"vec-1","score":0.91,"payload":{"user_id":"user-a","message_id":"msg-1","text":"hello","timestamp":1700000000,"sender_id":"user-a","receiver_id":"user-b"}},
			{"id":"vec-2","score":0.42,"payload":{"user_id":"user-a","message_id":"msg-2","text":"bye","timestamp":1700000100,"sender_id":"user-a","receiver_id":""}}
		]}`))
	}))
	defer srv.Close()

	index, err := NewQdrantVectorIndex(testQdrantOptions(srv.URL))
	require.NoError(t, err)

	results, err := index.Query(context.Background(), VectorQuery{
		UserID: "user-a",
		Vector: []float32{1, 2, 3, 4},
		Limit:  5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 0.91, results[0].Score)
	assert.Equal(t, "msg-1", results[0].Point.Payload.MessageID)
	assert.Equal(t, int64(1700000000), results[0].Point.Payload.Timestamp)
	assert.Equal(t, "user-b", results[0].Point.Payload.ReceiverID)

	// 检索必须在服务端按user_id过滤
	filter := searchBody["filter"].(map[string]interface{})
	must := filter["must"].([]interface{})
	require.Len(t, must, 1)
	cond := must[0].(map[string]interface{})
	assert.Equal(t, "user_id", cond["key"])
	assert.Equal(t, map[string]interface{}{"value": "user-a"}, cond["match"])

	assert.Equal(t, float64(5), searchBody["limit"])
	assert.Equal(t, false, searchBody["with_vector"])
}

// TestQdrantQueryEmptyVector 空向量快速失败
func TestQdrantQueryEmptyVector(t *testing.T) {
	index, err := NewQdrantVectorIndex(testQdrantOptions("http://localhost:6333"))
	require.NoError(t, err)

	_, err = index.Query(context.Background(), VectorQuery{UserID: "user-a"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidQuery))
}

// TestQdrantQueryCollectionNotFound 集合不存在与空结果是不同的失败
func TestQdrantQueryCollectionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":{"error":"Collection not found"}}`))
	}))
	defer srv.Close()

	index, err := NewQdrantVectorIndex(testQdrantOptions(srv.URL))
	require.NoError(t, err)

	_, err = index.Query(context.Background(), VectorQuery{
		UserID: "user-a",
		Vector: []float32{1, 2, 3, 4},
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCollectionNotFound))
}

// TestQdrantRetriesTransientFailures 5xx按瞬时故障重试，耗尽后IndexUnavailable
func TestQdrantRetriesTransientFailures(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := testQdrantOptions(srv.URL)
	opts.MaxRetries = 3
	index, err := NewQdrantVectorIndex(opts)
	require.NoError(t, err)

	_, err = index.Query(context.Background(), VectorQuery{
		UserID: "user-a",
		Vector: []float32{1, 2, 3, 4},
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeIndexUnavailable))
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

// TestQdrantRetryThenRecover 瞬时故障恢复后请求成功
func TestQdrantRetryThenRecover(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	index, err := NewQdrantVectorIndex(testQdrantOptions(srv.URL))
	require.NoError(t, err)

	results, err := index.Query(context.Background(), VectorQuery{
		UserID: "user-a",
		Vector: []float32{1, 2, 3, 4},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

// TestQdrantDeletePoint 删除条件同时限定owner与消息ID，
// 其他用户名下的同名消息不受影响
func TestQdrantDeletePoint(t *testing.T) {
	var deleteBody struct {
		Filter struct {
			Must []struct {
				Key   string `json:"key"`
				Match struct {
					Value string `json:"value"`
				} `json:"match"`
			} `json:"must"`
		} `json:"filter"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/chat_messages/points/delete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&deleteBody))
		w.Write([]byte(`{"result":{"status":"completed"},"status":"ok"}`))
	}))
	defer srv.Close()

	index, err := NewQdrantVectorIndex(testQdrantOptions(srv.URL))
	require.NoError(t, err)

	require.NoError(t, index.DeletePoint(context.Background(), "user-a", "msg-1"))

	conditions := map[string]string{}
	for _, cond := range deleteBody.Filter.Must {
		conditions[cond.Key] = cond.Match.Value
	}
	assert.Equal(t, "user-a", conditions["user_id"])
	assert.Equal(t, "msg-1", conditions["message_id"])
}

// TestQdrantCancelledContext 调用方取消立即返回
func TestQdrantCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	index, err := NewQdrantVectorIndex(testQdrantOptions(srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = index.Query(ctx, VectorQuery{UserID: "user-a", Vector: []float32{1, 2, 3, 4}})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCancelled))
}
