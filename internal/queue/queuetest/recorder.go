// Package queuetest 提供测试用的内存事件写入端。
package queuetest

import (
	"context"
	"errors"
	"sync"

	"decant_shop/internal/queue"
)

// EventRecorder 内存版 outbox，记录写入的事件。
type EventRecorder struct {
	mu     sync.Mutex
	events []queue.OrderEvent
	// FailNext 非零时下一次 Append 返回错误
	FailNext int
}

func (r *EventRecorder) Append(_ context.Context, ev queue.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailNext > 0 {
		r.FailNext--
		return errors.New("outbox unavailable")
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *EventRecorder) Events() []queue.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.OrderEvent(nil), r.events...)
}

// OfType 过滤某类事件。
func (r *EventRecorder) OfType(t queue.EventType) []queue.OrderEvent {
	var out []queue.OrderEvent
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
