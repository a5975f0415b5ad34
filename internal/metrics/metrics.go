// Package metrics 汇总 Prometheus 指标：HTTP 请求与下单/支付/库存业务计数。
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	checkoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_total",
			Help: "Checkout attempts by result",
		},
		[]string{"result"},
	)

	webhookTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_total",
			Help: "Payment webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	stockSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_decrement_skipped_total",
			Help: "Order lines whose product or variant no longer exists at payment time",
		},
	)

	pipelineStepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_step_total",
			Help: "Post-payment pipeline step executions by step and result",
		},
		[]string{"step", "result"},
	)

	emailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Transactional emails by kind and result",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(checkoutTotal)
	prometheus.MustRegister(webhookTotal)
	prometheus.MustRegister(stockSkippedTotal)
	prometheus.MustRegister(pipelineStepTotal)
	prometheus.MustRegister(emailsTotal)
}

func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordCheckout(result string) { checkoutTotal.WithLabelValues(result).Inc() }

func RecordWebhook(outcome string) { webhookTotal.WithLabelValues(outcome).Inc() }

func RecordStockSkipped(n int) { stockSkippedTotal.Add(float64(n)) }

func RecordPipelineStep(step, result string) { pipelineStepTotal.WithLabelValues(step, result).Inc() }

func RecordEmail(kind, result string) { emailsTotal.WithLabelValues(kind, result).Inc() }
