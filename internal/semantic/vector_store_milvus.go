package semantic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	apperrors "github.com/aihub/msgsearch-go/internal/errors"
	"github.com/aihub/msgsearch-go/internal/logger"
	"go.uber.org/zap"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address      string
	Username     string
	Password     string
	Collection   string
	Database     string
	VectorSize   int
	Distance     string
	UseTLS       bool
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	MaxLimit     int
}

type milvusVectorIndex struct {
	milvusClient client.Client
	collection   string
	vectorSize   int
	distance     string
	maxRetries   int
	retryBackoff time.Duration
	maxLimit     int
}

// NewMilvusVectorIndex 创建Milvus向量索引
func NewMilvusVectorIndex(opts MilvusOptions) (VectorIndex, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "chat_messages"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Distance == "" {
		opts.Distance = "COSINE"
	}
	if opts.Database == "" {
		opts.Database = "default"
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

	milvusClient, err := client.NewClient(
		context.Background(),
		client.Config{
			Address:       opts.Address,
			DBName:        opts.Database,
			Username:      opts.Username,
			Password:      opts.Password,
			EnableTLSAuth: opts.UseTLS,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorIndex{
		milvusClient: milvusClient,
		collection:   opts.Collection,
		vectorSize:   opts.VectorSize,
		distance:     formatMilvusDistance(opts.Distance),
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		maxLimit:     opts.MaxLimit,
	}, nil
}

func formatMilvusDistance(value string) string {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return "IP"
	case "L2", "EUCLIDEAN":
		return "L2"
	default:
		return "COSINE"
	}
}

func (s *milvusVectorIndex) EnsureCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return s.classifyError(err, false)
	}

	if hasCollection {
		return s.verifySchema(ctx)
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "chat message embeddings",
		Fields: []*entity.Field{
			{
				Name:       "vector_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "message_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "user_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "sender_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "receiver_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:     "timestamp",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "vector",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.vectorSize)},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return s.classifyError(err, false)
	}

	var index entity.Index
	index, err = entity.NewIndexHNSW(entity.MetricType(s.distance), 8, 64)
	if err != nil {
		index, err = entity.NewIndexIvfFlat(entity.MetricType(s.distance), 128)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
		// 索引创建失败不影响写入，检索退化为暴力扫描
		logger.Warn("failed to create milvus index", zap.String("collection", s.collection), zap.Error(err))
	}

	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return s.classifyError(err, false)
	}
	return nil
}

// verifySchema 校验已存在集合的向量维度
func (s *milvusVectorIndex) verifySchema(ctx context.Context) error {
	coll, err := s.milvusClient.DescribeCollection(ctx, s.collection)
	if err != nil {
		return s.classifyError(err, false)
	}
	if coll == nil || coll.Schema == nil {
		return nil
	}
	for _, field := range coll.Schema.Fields {
		if field.Name != "vector" {
			continue
		}
		if dimStr, ok := field.TypeParams["dim"]; ok {
			dim, err := strconv.Atoi(dimStr)
			if err == nil && dim != s.vectorSize {
				return apperrors.NewSchemaMismatchError(s.collection,
					fmt.Sprintf("dimension %d, configured %d", dim, s.vectorSize))
			}
		}
	}
	return nil
}

func (s *milvusVectorIndex) Upsert(ctx context.Context, point IndexedPoint) error {
	return s.UpsertBatch(ctx, []IndexedPoint{point})
}

func (s *milvusVectorIndex) UpsertBatch(ctx context.Context, points []IndexedPoint) error {
	if len(points) == 0 {
		return nil
	}

	vectorIDs := make([]string, 0, len(points))
	messageIDs := make([]string, 0, len(points))
	userIDs := make([]string, 0, len(points))
	senderIDs := make([]string, 0, len(points))
	receiverIDs := make([]string, 0, len(points))
	texts := make([]string, 0, len(points))
	timestamps := make([]int64, 0, len(points))
	vectors := make([][]float32, 0, len(points))

	for _, point := range points {
		if len(point.Vector) != s.vectorSize {
			return apperrors.NewSchemaMismatchError(s.collection,
				fmt.Sprintf("point %s has dimension %d, collection expects %d", point.VectorID, len(point.Vector), s.vectorSize))
		}
		vectorIDs = append(vectorIDs, point.VectorID)
		messageIDs = append(messageIDs, point.Payload.MessageID)
		userIDs = append(userIDs, point.Payload.UserID)
		senderIDs = append(senderIDs, point.Payload.SenderID)
		receiverIDs = append(receiverIDs, point.Payload.ReceiverID)
		texts = append(texts, point.Payload.Text)
		timestamps = append(timestamps, point.Payload.Timestamp)
		vectors = append(vectors, point.Vector)
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("vector_id", vectorIDs),
		entity.NewColumnVarChar("message_id", messageIDs),
		entity.NewColumnVarChar("user_id", userIDs),
		entity.NewColumnVarChar("sender_id", senderIDs),
		entity.NewColumnVarChar("receiver_id", receiverIDs),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnInt64("timestamp", timestamps),
		entity.NewColumnFloatVector("vector", s.vectorSize, vectors),
	}

	return retryTransient(ctx, s.maxRetries, s.retryBackoff, "vector index", func() error {
		_, err := s.milvusClient.Upsert(ctx, s.collection, "", columns...)
		if err != nil {
			return s.classifyError(err, true)
		}
		return nil
	}, apperrors.IsRetryable)
}

func (s *milvusVectorIndex) Query(ctx context.Context, req VectorQuery) ([]ScoredPoint, error) {
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

	// 用户过滤在存储端执行
	expr := fmt.Sprintf(`user_id == "%s"`, escapeMilvusString(req.UserID))
	for key, value := range req.Filters {
		switch v := value.(type) {
		case string:
			expr += fmt.Sprintf(` && %s == "%s"`, key, escapeMilvusString(v))
		case int, int64, float64:
			expr += fmt.Sprintf(` && %s == %v`, key, v)
		}
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	queryVector := entity.FloatVector(req.Vector)

	var searchResults []client.SearchResult
	err := retryTransient(ctx, s.maxRetries, s.retryBackoff, "vector index", func() error {
		var err error
		searchResults, err = s.milvusClient.Search(
			ctx,
			s.collection,
			[]string{},
			expr,
			[]string{"message_id", "user_id", "sender_id", "receiver_id", "text", "timestamp"},
			[]entity.Vector{queryVector},
			"vector",
			entity.MetricType(s.distance),
			limit,
			sp,
		)
		if err != nil {
			return s.classifyError(err, true)
		}
		return nil
	}, apperrors.IsRetryable)
	if err != nil {
		return nil, err
	}

	if len(searchResults) == 0 {
		return []ScoredPoint{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, s.classifyError(result.Err, false)
	}
	if result.ResultCount == 0 {
		return []ScoredPoint{}, nil
	}

	var vectorIDs []string
	if idCol, ok := result.IDs.(*entity.ColumnVarChar); ok {
		vectorIDs = idCol.Data()
	}

	fieldData := map[string][]string{}
	var timestamps []int64
	for _, field := range result.Fields {
		switch col := field.(type) {
		case *entity.ColumnVarChar:
			fieldData[field.Name()] = col.Data()
		case *entity.ColumnInt64:
			if field.Name() == "timestamp" {
				timestamps = col.Data()
			}
		}
	}

	stringAt := func(name string, i int) string {
		if vals, ok := fieldData[name]; ok && i < len(vals) {
			return vals[i]
		}
		return ""
	}

	points := make([]ScoredPoint, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		point := IndexedPoint{
			Payload: PointPayload{
				MessageID:  stringAt("message_id", i),
				UserID:     stringAt("user_id", i),
				SenderID:   stringAt("sender_id", i),
				ReceiverID: stringAt("receiver_id", i),
				Text:       stringAt("text", i),
			},
		}
		if i < len(vectorIDs) {
			point.VectorID = vectorIDs[i]
		}
		if i < len(timestamps) {
			point.Payload.Timestamp = timestamps[i]
		}
		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		points = append(points, ScoredPoint{Point: point, Score: score})
	}
	return points, nil
}

// DeletePoint 删除表达式同时限定owner与消息ID
func (s *milvusVectorIndex) DeletePoint(ctx context.Context, userID, messageID string) error {
	expr := fmt.Sprintf(`vector_id == "%s" && user_id == "%s"`,
		escapeMilvusString(VectorIDForMessage(messageID)), escapeMilvusString(userID))
	return retryTransient(ctx, s.maxRetries, s.retryBackoff, "vector index", func() error {
		if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
			return s.classifyError(err, true)
		}
		return nil
	}, apperrors.IsRetryable)
}

func (s *milvusVectorIndex) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

// classifyError 区分集合缺失与瞬时故障
// transient=true时返回可重试的IndexUnavailable（单次尝试计数）
func (s *milvusVectorIndex) classifyError(err error, transient bool) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "not exist") {
		return apperrors.NewCollectionNotFoundError(s.collection).WithCause(err)
	}
	if transient {
		return apperrors.NewIndexUnavailableError(1).WithCause(err)
	}
	return apperrors.NewIndexUnavailableError(s.maxRetries).WithCause(err)
}

// escapeMilvusString 转义表达式中的引号与反斜杠
func escapeMilvusString(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}
