package semantic

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message 外部消息存储中的消息记录
// 本服务只在入库时读取，不拥有也不修改消息本身
type Message struct {
	ID         string    `json:"id" validate:"required"`
	SenderID   string    `json:"sender_id" validate:"required"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text" validate:"required"`
	CreatedAt  time.Time `json:"created_at"`
}

// PointPayload 向量点携带的元数据，schema是对外契约的一部分
type PointPayload struct {
	UserID     string `json:"user_id"`
	MessageID  string `json:"message_id"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"` // unix秒
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

// IndexedPoint 写入向量索引的完整点
type IndexedPoint struct {
	VectorID string
	Vector   []float32
	Payload  PointPayload
}

// ScoredPoint 检索返回的点及其相似度得分
type ScoredPoint struct {
	Point IndexedPoint
	Score float64
}

// SearchResult 检索结果，按请求构造，不持久化
type SearchResult struct {
	MessageID  string    `json:"message_id"`
	Text       string    `json:"text"`
	Score      float64   `json:"score"` // 余弦相似度，范围[-1,1]
	Timestamp  time.Time `json:"timestamp"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
}

// vectorIDNamespace 消息ID到向量ID的确定性派生命名空间
var vectorIDNamespace = uuid.MustParse("8a9e9f34-6f3b-4c21-9a65-0d3a52c1b7de")

// VectorIDForMessage 由messageID确定性派生向量ID
// 同一消息重复入库时覆盖而非新增
func VectorIDForMessage(messageID string) string {
	return uuid.NewSHA1(vectorIDNamespace, []byte(messageID)).String()
}

// NormalizeText 规范化文本：去除首尾空白，折叠内部连续空白
// 缓存键和向量化都基于规范化后的文本
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// PointForMessage 由消息和向量构造索引点
func PointForMessage(msg Message, vector []float32) IndexedPoint {
	return IndexedPoint{
		VectorID: VectorIDForMessage(msg.ID),
		Vector:   vector,
		Payload: PointPayload{
			UserID:     msg.SenderID,
			MessageID:  msg.ID,
			Text:       NormalizeText(msg.Text),
			Timestamp:  msg.CreatedAt.Unix(),
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
		},
	}
}
