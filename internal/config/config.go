package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	AppEnv   string

	// DBDriver: sqlite | postgres
	DBDriver string
	DBDSN    string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（订单事件入流，Relay 异步转 Kafka）
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string

	JWTSecret    string
	TokenTTL     time.Duration
	CookieSecure bool

	// 前端地址用于支付回跳，API 地址用于 webhook 回调
	ClientURL string
	APIURL    string

	MPAccessToken   string
	MPBaseURL       string
	ProviderTimeout time.Duration

	StripeSecretKey string

	ResendAPIKey  string
	EmailFrom     string
	EmailFromName string
	// 两封邮件之间的最小间隔，避免触发邮件服务商限流
	EmailInterval time.Duration

	// 运费策略：小计达到阈值包邮，否则收固定运费（CLP）
	FreeShippingThreshold int64
	StandardShipping      int64
	Currency              string

	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration

	// 待支付订单的库存预占时长与清理周期
	ReservationTTL time.Duration
	SweepInterval  time.Duration

	JaegerEndpoint string
	CORSOrigin     string
}

func (c AppConfig) IsDev() bool { return c.AppEnv == "dev" }

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		AppEnv:             getEnv("APP_ENV", "dev"),
		DBDriver:           getEnv("DB_DRIVER", "sqlite"),
		DBDSN:              getEnv("DB_DSN", "decant_shop.db"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "decant-order-events"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "decant-email-dispatcher"),
		OrderEventStream:   getEnv("ORDER_EVENT_STREAM", "decant_shop:order_events"),
		OrderEventGroup:    getEnv("ORDER_EVENT_GROUP", "decant-relay-group"),
		OrderEventConsumer: getEnv("ORDER_EVENT_CONSUMER", "decant-relay-1"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		TokenTTL:           24 * time.Hour,
		ClientURL:          strings.TrimRight(getEnv("CLIENT_URL", "http://localhost:5173"), "/"),
		APIURL:             strings.TrimRight(getEnv("API_URL", "http://localhost:8080"), "/"),
		MPAccessToken:      getEnv("MP_ACCESS_TOKEN", ""),
		MPBaseURL:          strings.TrimRight(getEnv("MP_BASE_URL", "https://api.mercadopago.com"), "/"),
		ProviderTimeout:    10 * time.Second,
		StripeSecretKey:    getEnv("STRIPE_SECRET_KEY", ""),
		ResendAPIKey:       getEnv("RESEND_API_KEY", ""),
		EmailFrom:          getEnv("EMAIL_FROM", "pedidos@decants.cl"),
		EmailFromName:      getEnv("EMAIL_FROM_NAME", "Decants"),
		EmailInterval:      700 * time.Millisecond,
		Currency:           getEnv("CURRENCY", "CLP"),
		CheckoutRateLimit:  20,
		CheckoutRateWindow: time.Minute,
		ReservationTTL:     2 * time.Hour,
		SweepInterval:      time.Minute,
		JaegerEndpoint:     getEnv("JAEGER_ENDPOINT", ""),
		CORSOrigin:         getEnv("CORS_ORIGIN", "http://localhost:5173"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	ttlHour, err := getEnvInt("TOKEN_TTL_HOUR", int(cfg.TokenTTL.Hours()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid TOKEN_TTL_HOUR: %w", err)
	}
	if ttlHour <= 0 {
		return AppConfig{}, fmt.Errorf("TOKEN_TTL_HOUR must be > 0")
	}
	cfg.TokenTTL = time.Duration(ttlHour) * time.Hour

	if cfg.CookieSecure, err = getEnvBool("COOKIE_SECURE", !cfg.IsDev()); err != nil {
		return AppConfig{}, fmt.Errorf("invalid COOKIE_SECURE: %w", err)
	}

	timeoutSec, err := getEnvInt("PROVIDER_TIMEOUT_SEC", int(cfg.ProviderTimeout.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid PROVIDER_TIMEOUT_SEC: %w", err)
	}
	if timeoutSec <= 0 {
		return AppConfig{}, fmt.Errorf("PROVIDER_TIMEOUT_SEC must be > 0")
	}
	cfg.ProviderTimeout = time.Duration(timeoutSec) * time.Second

	threshold, err := getEnvInt("FREE_SHIPPING_THRESHOLD", 40000)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid FREE_SHIPPING_THRESHOLD: %w", err)
	}
	shipping, err := getEnvInt("STANDARD_SHIPPING", 4500)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid STANDARD_SHIPPING: %w", err)
	}
	if threshold < 0 || shipping < 0 {
		return AppConfig{}, fmt.Errorf("shipping amounts must be >= 0")
	}
	cfg.FreeShippingThreshold = int64(threshold)
	cfg.StandardShipping = int64(shipping)

	rateLimit, err := getEnvInt("CHECKOUT_RATE_LIMIT", cfg.CheckoutRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("CHECKOUT_RATE_LIMIT must be > 0")
	}
	cfg.CheckoutRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("CHECKOUT_RATE_WINDOW_SEC", int(cfg.CheckoutRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("CHECKOUT_RATE_WINDOW_SEC must be > 0")
	}
	cfg.CheckoutRateWindow = time.Duration(rateWindowSec) * time.Second

	reservationMin, err := getEnvInt("RESERVATION_TTL_MIN", int(cfg.ReservationTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RESERVATION_TTL_MIN: %w", err)
	}
	if reservationMin <= 0 {
		return AppConfig{}, fmt.Errorf("RESERVATION_TTL_MIN must be > 0")
	}
	cfg.ReservationTTL = time.Duration(reservationMin) * time.Minute

	sweepSec, err := getEnvInt("SWEEP_INTERVAL_SEC", int(cfg.SweepInterval.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SWEEP_INTERVAL_SEC: %w", err)
	}
	if sweepSec <= 0 {
		return AppConfig{}, fmt.Errorf("SWEEP_INTERVAL_SEC must be > 0")
	}
	cfg.SweepInterval = time.Duration(sweepSec) * time.Second

	emailMs, err := getEnvInt("EMAIL_INTERVAL_MS", int(cfg.EmailInterval.Milliseconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid EMAIL_INTERVAL_MS: %w", err)
	}
	if emailMs < 0 {
		return AppConfig{}, fmt.Errorf("EMAIL_INTERVAL_MS must be >= 0")
	}
	cfg.EmailInterval = time.Duration(emailMs) * time.Millisecond

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return AppConfig{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	if cfg.JWTSecret == "" {
		if !cfg.IsDev() {
			return AppConfig{}, fmt.Errorf("JWT_SECRET must not be empty")
		}
		cfg.JWTSecret = "dev-secret"
	}
	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if cfg.OrderEventStream == "" || cfg.OrderEventGroup == "" || cfg.OrderEventConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM/GROUP/CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
