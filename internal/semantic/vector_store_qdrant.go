package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/aihub/msgsearch-go/internal/errors"
)

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	Endpoint     string
	APIKey       string
	Collection   string
	VectorSize   int
	Distance     string
	UseTLS       bool
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	MaxLimit     int
}

type qdrantVectorIndex struct {
	client       *http.Client
	endpoint     string
	apiKey       string
	collection   string
	vectorSize   int
	distance     string
	maxRetries   int
	retryBackoff time.Duration
	maxLimit     int
}

// NewQdrantVectorIndex 创建Qdrant向量索引
func NewQdrantVectorIndex(opts QdrantOptions) (VectorIndex, error) {
	if opts.Endpoint == "" {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.Endpoint = fmt.Sprintf("%s://localhost:6333", scheme)
	}
	if !strings.HasPrefix(opts.Endpoint, "http") {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.Endpoint = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
	}

	if opts.Collection == "" {
		opts.Collection = "chat_messages"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Distance == "" {
		opts.Distance = "Cosine"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &qdrantVectorIndex{
		client: &http.Client{
			Timeout: timeout,
		},
		endpoint:     strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:       opts.APIKey,
		collection:   opts.Collection,
		vectorSize:   opts.VectorSize,
		distance:     formatDistance(opts.Distance),
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		maxLimit:     opts.MaxLimit,
	}, nil
}

func formatDistance(value string) string {
	switch strings.ToLower(value) {
	case "dot", "dotproduct":
		return "Dot"
	case "euclid", "l2":
		return "Euclid"
	default:
		return "Cosine"
	}
}

// transientQdrantError 传输失败与5xx可重试
type transientQdrantError struct {
	cause error
}

func (e *transientQdrantError) Error() string {
	return e.cause.Error()
}

func (e *transientQdrantError) Unwrap() error {
	return e.cause
}

func (s *qdrantVectorIndex) EnsureCollection(ctx context.Context) error {
	body, statusCode, err := s.requestWithRetry(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", s.collection), nil)
	if err != nil {
		return err
	}

	if statusCode == http.StatusOK {
		return s.verifySchema(body)
	}
	if statusCode != http.StatusNotFound {
		return apperrors.NewIndexUnavailableError(s.maxRetries).WithCause(
			fmt.Errorf("qdrant status %d while checking collection %s", statusCode, s.collection))
	}

	createBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.vectorSize,
			"distance": s.distance,
		},
	}
	_, createStatus, err := s.requestWithRetry(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), createBody)
	if err != nil {
		return err
	}
	if createStatus >= 300 && createStatus != http.StatusConflict {
		return apperrors.NewIndexUnavailableError(s.maxRetries).WithCause(
			fmt.Errorf("qdrant status %d while creating collection %s", createStatus, s.collection))
	}
	return nil
}

// verifySchema 已存在集合的维度与距离类型必须与配置一致，
// 不一致的旧向量不可比，禁止混用
func (s *qdrantVectorIndex) verifySchema(body []byte) error {
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return apperrors.NewSchemaMismatchError(s.collection, "unreadable collection info").WithCause(err)
	}

	vectors := resp.Result.Config.Params.Vectors
	if vectors.Size != 0 && vectors.Size != s.vectorSize {
		return apperrors.NewSchemaMismatchError(s.collection,
			fmt.Sprintf("dimension %d, configured %d", vectors.Size, s.vectorSize))
	}
	if vectors.Distance != "" && !strings.EqualFold(vectors.Distance, s.distance) {
		return apperrors.NewSchemaMismatchError(s.collection,
			fmt.Sprintf("distance %s, configured %s", vectors.Distance, s.distance))
	}
	return nil
}

func (s *qdrantVectorIndex) Upsert(ctx context.Context, point IndexedPoint) error {
	return s.UpsertBatch(ctx, []IndexedPoint{point})
}

func (s *qdrantVectorIndex) UpsertBatch(ctx context.Context, points []IndexedPoint) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]map[string]interface{}, 0, len(points))
	for _, point := range points {
		if len(point.Vector) != s.vectorSize {
			return apperrors.NewSchemaMismatchError(s.collection,
				fmt.Sprintf("point %s has dimension %d, collection expects %d", point.VectorID, len(point.Vector), s.vectorSize))
		}
		qdrantPoints = append(qdrantPoints, map[string]interface{}{
			"id":     point.VectorID,
			"vector": point.Vector,
			"payload": map[string]interface{}{
				"user_id":     point.Payload.UserID,
				"message_id":  point.Payload.MessageID,
				"text":        point.Payload.Text,
				"timestamp":   point.Payload.Timestamp,
				"sender_id":   point.Payload.SenderID,
				"receiver_id": point.Payload.ReceiverID,
			},
		})
	}

	body := map[string]interface{}{"points": qdrantPoints}
	raw, statusCode, err := s.requestWithRetry(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", s.collection), body)
	if err != nil {
		return err
	}
	if statusCode == http.StatusNotFound {
		return apperrors.NewCollectionNotFoundError(s.collection)
	}
	if statusCode >= 300 {
		return apperrors.NewIndexUnavailableError(s.maxRetries).WithCause(
			fmt.Errorf("qdrant upsert status %d: %s", statusCode, string(raw)))
	}
	return nil
}

func (s *qdrantVectorIndex) Query(ctx context.Context, req VectorQuery) ([]ScoredPoint, error) {
	if len(req.Vector) == 0 {
		return nil, apperrors.NewInvalidQueryError("query vector is empty")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	must := []map[string]interface{}{
		{
			"key":   "user_id",
			"match": map[string]interface{}{"value": req.UserID},
		},
	}
	for key, value := range req.Filters {
		must = append(must, map[string]interface{}{
			"key":   key,
			"match": map[string]interface{}{"value": value},
		})
	}

	body := map[string]interface{}{
		"vector":       req.Vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
		"filter":       map[string]interface{}{"must": must},
	}

	raw, statusCode, err := s.requestWithRetry(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/search", s.collection), body)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusNotFound {
		// 集合不存在与空结果是不同的失败
		return nil, apperrors.NewCollectionNotFoundError(s.collection)
	}
	if statusCode >= 300 {
		return nil, apperrors.NewIndexUnavailableError(s.maxRetries).WithCause(
			fmt.Errorf("qdrant search status %d: %s", statusCode, string(raw)))
	}

	var searchResp struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &searchResp); err != nil {
		return nil, apperrors.NewIndexUnavailableError(s.maxRetries).WithCause(err)
	}

	results := make([]ScoredPoint, 0, len(searchResp.Result))
	for _, item := range searchResp.Result {
		payload := item.Payload
		point := IndexedPoint{
			Payload: PointPayload{
				UserID:     payloadString(payload, "user_id"),
				MessageID:  payloadString(payload, "message_id"),
				Text:       payloadString(payload, "text"),
				Timestamp:  payloadInt64(payload, "timestamp"),
				SenderID:   payloadString(payload, "sender_id"),
				ReceiverID: payloadString(payload, "receiver_id"),
			},
		}
		if id, ok := item.ID.(string); ok {
			point.VectorID = id
		}
		results = append(results, ScoredPoint{Point: point, Score: item.Score})
	}
	return results, nil
}

// DeletePoint 按过滤条件删除，owner不匹配的点不会被删掉
func (s *qdrantVectorIndex) DeletePoint(ctx context.Context, userID, messageID string) error {
	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "user_id", "match": map[string]interface{}{"value": userID}},
				{"key": "message_id", "match": map[string]interface{}{"value": messageID}},
			},
		},
	}
	raw, statusCode, err := s.requestWithRetry(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection), body)
	if err != nil {
		return err
	}
	if statusCode == http.StatusNotFound {
		return apperrors.NewCollectionNotFoundError(s.collection)
	}
	if statusCode >= 300 {
		return apperrors.NewIndexUnavailableError(s.maxRetries).WithCause(
			fmt.Errorf("qdrant delete status %d: %s", statusCode, string(raw)))
	}
	return nil
}

func (s *qdrantVectorIndex) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, statusCode, err := s.doRequest(ctx, http.MethodGet, "/collections", nil)
	return err == nil && statusCode == http.StatusOK
}

func payloadString(payload map[string]interface{}, key string) string {
	if val, ok := payload[key].(string); ok {
		return val
	}
	return ""
}

func payloadInt64(payload map[string]interface{}, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// requestWithRetry 有界重试的HTTP请求
// 传输错误与5xx按瞬时故障重试，耗尽后归类为IndexUnavailable；
// 其余状态码原样交给调用方判定
func (s *qdrantVectorIndex) requestWithRetry(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	var respBody []byte
	var statusCode int

	err := retryTransient(ctx, s.maxRetries, s.retryBackoff, "vector index", func() error {
		var err error
		respBody, statusCode, err = s.doRequest(ctx, method, path, body)
		if err != nil {
			return &transientQdrantError{cause: err}
		}
		if statusCode >= 500 {
			return &transientQdrantError{cause: fmt.Errorf("qdrant status %d: %s", statusCode, string(respBody))}
		}
		return nil
	}, func(err error) bool {
		var transient *transientQdrantError
		return stderrors.As(err, &transient)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if stderrors.As(err, &appErr) {
			return nil, 0, appErr
		}
		return nil, 0, apperrors.NewIndexUnavailableError(s.maxRetries).WithCause(err)
	}
	return respBody, statusCode, nil
}

func (s *qdrantVectorIndex) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return respBody, resp.StatusCode, nil
}
