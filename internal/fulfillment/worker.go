package fulfillment

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer 取消超时未支付的订单并释放预占。
type Expirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Worker 周期性补跑未完成的流水线并清理过期预占。
type Worker struct {
	pipeline *Pipeline
	expirer  Expirer
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func NewWorker(pipeline *Pipeline, expirer Expirer, ttl, interval time.Duration, logger *zap.Logger) *Worker {
	return &Worker{pipeline: pipeline, expirer: expirer, ttl: ttl, interval: interval, logger: logger}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick 执行一轮补跑与清理。
func (w *Worker) Tick(ctx context.Context) {
	if n, err := w.pipeline.Reconcile(ctx); err != nil {
		w.logger.Error("reconcile pipelines", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("reconciled pipelines", zap.Int("orders", n))
	}
	if n, err := w.expirer.ExpireStale(ctx, w.ttl); err != nil {
		w.logger.Error("expire reservations", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("expired pending orders", zap.Int("orders", n))
	}
}
