package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Producer 封装 Kafka 写入器。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 创建生产者：
// - Hash + Key: 同一订单的事件落到同一分区，保持顺序。
// - RequireAll: 等待 ISR 副本确认，降低消息丢失风险。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close 释放 writer 资源。
func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条事件，订单事件以 order_no 为 key。
func (p *Producer) Publish(ctx context.Context, ev OrderEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := ev.OrderNo
	if key == "" {
		key = ev.EventID
	}
	var headers []kafka.Header
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &headers})
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   b,
		Headers: headers,
	})
}
