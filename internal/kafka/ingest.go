package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	apperrors "github.com/aihub/msgsearch-go/internal/errors"
	"github.com/aihub/msgsearch-go/internal/logger"
	"github.com/aihub/msgsearch-go/internal/semantic"
)

// RetryEnvelope 重试主题上的消息包装
type RetryEnvelope struct {
	Message   semantic.Message `json:"message"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error"`
	FailedAt  time.Time        `json:"failed_at"`
}

// DeleteEvent 消息删除事件，user_id为消息发送者
type DeleteEvent struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

// IngestHandler 消息发送事件处理器
// 瞬时失败送入重试主题异地重试；校验失败直接丢弃（重试无意义）
func IngestHandler(pipeline *semantic.IngestionPipeline, producer *Producer, retryTopic string) MessageHandler {
	return func(ctx context.Context, raw *sarama.ConsumerMessage) error {
		var msg semantic.Message
		attempts := 0

		// 重试主题上的消息带RetryEnvelope包装
		var envelope RetryEnvelope
		if err := json.Unmarshal(raw.Value, &envelope); err == nil && envelope.Message.ID != "" {
			msg = envelope.Message
			attempts = envelope.Attempts
		} else if err := json.Unmarshal(raw.Value, &msg); err != nil {
			return fmt.Errorf("undecodable message event at offset %d: %w", raw.Offset, err)
		}

		err := pipeline.IndexMessage(ctx, msg)
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) {
			logger.Warn("dropping unindexable message",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			return err
		}

		if producer == nil || retryTopic == "" {
			return err
		}
		retry := RetryEnvelope{
			Message:   msg,
			Attempts:  attempts + 1,
			LastError: err.Error(),
			FailedAt:  time.Now().UTC(),
		}
		if sendErr := producer.SendJSON(retryTopic, msg.ID, retry); sendErr != nil {
			logger.Error("failed to schedule ingest retry",
				zap.String("message_id", msg.ID),
				zap.Error(sendErr))
		}
		return err
	}
}

// DeleteHandler 消息删除事件处理器，级联删除索引中的向量
func DeleteHandler(pipeline *semantic.IngestionPipeline) MessageHandler {
	return func(ctx context.Context, raw *sarama.ConsumerMessage) error {
		var event DeleteEvent
		if err := json.Unmarshal(raw.Value, &event); err != nil {
			return fmt.Errorf("undecodable delete event at offset %d: %w", raw.Offset, err)
		}
		return pipeline.RemoveMessage(ctx, event.UserID, event.MessageID)
	}
}
