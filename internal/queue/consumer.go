package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Handler 处理一条事件。返回错误会触发有限次重试。
type Handler interface {
	Handle(ctx context.Context, ev OrderEvent) error
}

// Consumer 从 Kafka 读取订单事件，处理完成后再提交 offset。
type Consumer struct {
	r          *kafka.Reader
	handler    Handler
	logger     *zap.Logger
	maxRetries int
}

func NewConsumer(brokers []string, topic, groupID string, handler Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		handler:    handler,
		logger:     logger,
		maxRetries: 3,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}

		var ev OrderEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.logger.Warn("consumer unmarshal", zap.Error(err))
		} else {
			msgCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &m.Headers})
			if err := c.handleWithRetry(msgCtx, ev); err != nil {
				// 重试耗尽后放弃，避免阻塞分区
				c.logger.Error("consumer handle event", zap.String("event_id", ev.EventID), zap.Error(err))
			}
		}

		if err := c.r.CommitMessages(ctx, m); err != nil {
			c.logger.Warn("consumer commit", zap.Error(err))
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, ev OrderEvent) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.handler.Handle(ctx, ev)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < c.maxRetries {
			backoff := time.Duration(attempt) * time.Second
			c.logger.Warn("retrying event",
				zap.String("event_id", ev.EventID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}
