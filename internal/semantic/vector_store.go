package semantic

import "context"

// VectorQuery 向量检索请求
// UserID过滤在存储端执行，保证过滤后top-K的正确性
type VectorQuery struct {
	UserID  string
	Vector  []float32
	Limit   int
	Filters map[string]interface{} // 额外的payload等值过滤
}

// VectorIndex 向量索引抽象
type VectorIndex interface {
	// EnsureCollection 幂等建集合；已存在时校验维度与距离类型
	EnsureCollection(ctx context.Context) error
	// Upsert 按VectorID覆盖写入
	Upsert(ctx context.Context, point IndexedPoint) error
	UpsertBatch(ctx context.Context, points []IndexedPoint) error
	// Query 返回按相似度降序排列的结果
	Query(ctx context.Context, req VectorQuery) ([]ScoredPoint, error)
	// DeletePoint 按messageID级联删除，删除范围限定在userID所属的向量内
	DeletePoint(ctx context.Context, userID, messageID string) error
	Ready() bool
}
