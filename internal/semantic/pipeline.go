package semantic

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/aihub/msgsearch-go/internal/errors"
	"github.com/aihub/msgsearch-go/internal/logger"
)

// IngestionPipeline 消息入库管道：消息 → 向量 → 索引点
// 对不同消息可并发调用；对同一消息重复调用等价于覆盖写入
type IngestionPipeline struct {
	cache    EmbeddingCache
	embedder Embedder
	index    VectorIndex
}

// NewIngestionPipeline 创建入库管道
func NewIngestionPipeline(cache EmbeddingCache, embedder Embedder, index VectorIndex) *IngestionPipeline {
	return &IngestionPipeline{
		cache:    cache,
		embedder: embedder,
		index:    index,
	}
}

// IndexMessage 将一条已持久化的消息写入向量索引
// 向量化失败时消息保持未索引状态，错误返回给调用方安排重试；
// 索引写入失败时缓存条目仍然有效，重试会跳过向量化
func (p *IngestionPipeline) IndexMessage(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		ingestFailuresTotal.WithLabelValues("validate").Inc()
		return err
	}

	text := NormalizeText(msg.Text)

	vector, hit := p.cache.Get(ctx, text)
	if !hit {
		vectors, err := p.embedder.Embed(ctx, []string{text})
		if err != nil {
			ingestFailuresTotal.WithLabelValues("embed").Inc()
			logger.Error("message embedding failed",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			return fmt.Errorf("index message %s: %w", msg.ID, err)
		}
		vector = vectors[0]
		p.cache.Put(ctx, text, vector)
	}

	point := PointForMessage(msg, vector)
	if err := p.index.Upsert(ctx, point); err != nil {
		ingestFailuresTotal.WithLabelValues("upsert").Inc()
		logger.Error("message index write failed",
			zap.String("message_id", msg.ID),
			zap.String("vector_id", point.VectorID),
			zap.Error(err))
		return fmt.Errorf("index message %s: %w", msg.ID, err)
	}

	ingestedTotal.Inc()
	return nil
}

// IndexMessages 批量入库
// 缓存未命中的文本合并为一次批量向量化调用，输出顺序与未命中顺序一致
func (p *IngestionPipeline) IndexMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, msg := range msgs {
		if err := validateMessage(msg); err != nil {
			ingestFailuresTotal.WithLabelValues("validate").Inc()
			return err
		}
	}

	vectors := make([][]float32, len(msgs))
	missTexts := make([]string, 0, len(msgs))
	missIdx := make([]int, 0, len(msgs))

	for i, msg := range msgs {
		text := NormalizeText(msg.Text)
		if vector, hit := p.cache.Get(ctx, text); hit {
			vectors[i] = vector
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		embedded, err := p.embedder.Embed(ctx, missTexts)
		if err != nil {
			ingestFailuresTotal.WithLabelValues("embed").Inc()
			return fmt.Errorf("index batch of %d messages: %w", len(msgs), err)
		}
		for j, vector := range embedded {
			i := missIdx[j]
			vectors[i] = vector
			p.cache.Put(ctx, missTexts[j], vector)
		}
	}

	points := make([]IndexedPoint, len(msgs))
	for i, msg := range msgs {
		points[i] = PointForMessage(msg, vectors[i])
	}
	if err := p.index.UpsertBatch(ctx, points); err != nil {
		ingestFailuresTotal.WithLabelValues("upsert").Inc()
		return fmt.Errorf("index batch of %d messages: %w", len(msgs), err)
	}

	ingestedTotal.Add(float64(len(msgs)))
	return nil
}

// RemoveMessage 消息删除时的级联删除
// 删除限定在userID（消息发送者）名下，owner不匹配时索引点保持不变；
// 静默跳过会导致索引与消息存储不一致，失败必须上报
func (p *IngestionPipeline) RemoveMessage(ctx context.Context, userID, messageID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.NewInvalidInputError("user id is empty")
	}
	if strings.TrimSpace(messageID) == "" {
		return apperrors.NewInvalidInputError("message id is empty")
	}
	if err := p.index.DeletePoint(ctx, userID, messageID); err != nil {
		ingestFailuresTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("remove message %s: %w", messageID, err)
	}
	return nil
}

func validateMessage(msg Message) error {
	if strings.TrimSpace(msg.ID) == "" {
		return apperrors.NewInvalidInputError("message id is empty")
	}
	if strings.TrimSpace(msg.SenderID) == "" {
		return apperrors.NewInvalidInputError("message sender id is empty")
	}
	if NormalizeText(msg.Text) == "" {
		return apperrors.NewInvalidInputError("message text is empty")
	}
	return nil
}
