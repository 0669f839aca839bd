package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/msgsearch-go/internal/logger"
)

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer Kafka消费者：订阅消息事件主题，驱动入库管道
type Consumer struct {
	consumer sarama.ConsumerGroup
	groupID  string
	topics   []string
	handlers map[string]MessageHandler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewConsumer 创建Kafka消费者组
func NewConsumer(brokers []string, groupID string, topics []string) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		consumer: consumerGroup,
		groupID:  groupID,
		topics:   topics,
		handlers: make(map[string]MessageHandler),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// RegisterHandler 注册主题对应的消息处理器，必须在Start之前调用
func (c *Consumer) RegisterHandler(topic string, handler MessageHandler) {
	if c == nil {
		return
	}
	c.handlers[topic] = handler
	logger.Info("registered kafka handler", zap.String("topic", topic))
}

// Start 启动消费循环
func (c *Consumer) Start() {
	if c == nil || c.consumer == nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				logger.Info("kafka consumer stopped")
				return
			default:
				handler := &consumerGroupHandler{handlers: c.handlers}
				if err := c.consumer.Consume(c.ctx, c.topics, handler); err != nil {
					logger.Error("kafka consume error", zap.Error(err))
					time.Sleep(time.Second)
				}
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			logger.Error("kafka consumer group error", zap.Error(err))
		}
	}()
}

// Close 停止消费并等待处理中的消息完成
func (c *Consumer) Close() error {
	if c == nil || c.consumer == nil {
		return nil
	}
	c.cancel()
	err := c.consumer.Close()
	c.wg.Wait()
	return err
}

type consumerGroupHandler struct {
	handlers map[string]MessageHandler
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 逐条分发；处理失败的消息由处理器自行送入重试主题，
// 这里始终推进offset避免阻塞分区
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		handler, ok := h.handlers[message.Topic]
		if !ok {
			logger.Warn("no handler for kafka topic", zap.String("topic", message.Topic))
			session.MarkMessage(message, "")
			continue
		}
		if err := handler(session.Context(), message); err != nil {
			logger.Error("kafka message handling failed",
				zap.String("topic", message.Topic),
				zap.Int64("offset", message.Offset),
				zap.Error(err))
		}
		session.MarkMessage(message, "")
	}
	return nil
}
