package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"order_ledger/internal/ledger"

	"github.com/joho/godotenv"
)

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"

	TransferModeOutbox = "outbox" // Redis Stream → Relay → Kafka
	TransferModeDirect = "direct" // 直接写 Kafka

	RateLimitBackendRedis = "redis"
	RateLimitBackendLocal = "local"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka 集群地址（逗号分隔）、出账 Topic、流水消费者组
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// 出账请求的投递方式，outbox 模式下的 Redis Stream 参数
	TransferMode     string
	TransferStream   string
	TransferGroup    string
	TransferConsumer string
	EnableJournal    bool

	// 订单锁：local 单实例，redis 多实例
	LockBackend string
	LockTTL     time.Duration
	// 单次 pay/refund 的处理超时（含等锁）
	RequestTimeout time.Duration

	// pay/refund 按账户限流
	RateLimitBackend string
	PayRateLimit     int
	PayRateWindow    time.Duration

	// 账本策略
	Policy ledger.Policy

	// JWTSecret 非空时要求 Bearer Token，sub 为账户 ID；为空时信任网关注入的 X-Account-ID。
	JWTSecret string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load 读取并校验配置，缺失时使用默认值。当前目录存在 .env 时先加载。
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := AppConfig{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DBPath:           getEnv("DB_PATH", "order_ledger.db"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          0,
		KafkaBrokers:     splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "order-ledger-transfers"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "order-ledger-journal"),
		TransferMode:     getEnv("TRANSFER_MODE", TransferModeOutbox),
		TransferStream:   getEnv("TRANSFER_STREAM", "order_ledger:transfer_events"),
		TransferGroup:    getEnv("TRANSFER_GROUP", "order-ledger-relay-group"),
		TransferConsumer: getEnv("TRANSFER_CONSUMER", "order-ledger-relay-1"),
		EnableJournal:    true,
		LockBackend:      getEnv("LOCK_BACKEND", LockBackendLocal),
		LockTTL:          10 * time.Second,
		RequestTimeout:   5 * time.Second,
		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", RateLimitBackendRedis),
		PayRateLimit:     20,
		PayRateWindow:    time.Second,
		JWTSecret:        os.Getenv("JWT_SECRET"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          os.Getenv("LOG_FILE"),
		LogMaxSizeMB:     100,
		LogMaxBackups:    7,
		LogMaxAgeDays:    30,
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.EnableJournal, err = getEnvBool("ENABLE_JOURNAL", cfg.EnableJournal); err != nil {
		return AppConfig{}, fmt.Errorf("invalid ENABLE_JOURNAL: %w", err)
	}

	lockTTLSec, err := getEnvInt("ORDER_LOCK_TTL_SEC", int(cfg.LockTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_LOCK_TTL_SEC: %w", err)
	}
	if lockTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("ORDER_LOCK_TTL_SEC must be > 0")
	}
	cfg.LockTTL = time.Duration(lockTTLSec) * time.Second

	timeoutMS, err := getEnvInt("REQUEST_TIMEOUT_MS", int(cfg.RequestTimeout.Milliseconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REQUEST_TIMEOUT_MS: %w", err)
	}
	if timeoutMS <= 0 {
		return AppConfig{}, fmt.Errorf("REQUEST_TIMEOUT_MS must be > 0")
	}
	cfg.RequestTimeout = time.Duration(timeoutMS) * time.Millisecond

	rateLimit, err := getEnvInt("PAY_RATE_LIMIT", cfg.PayRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid PAY_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("PAY_RATE_LIMIT must be > 0")
	}
	cfg.PayRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("PAY_RATE_WINDOW_SEC", int(cfg.PayRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid PAY_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("PAY_RATE_WINDOW_SEC must be > 0")
	}
	cfg.PayRateWindow = time.Duration(rateWindowSec) * time.Second

	if cfg.LogMaxSizeMB, err = getEnvInt("LOG_MAX_SIZE_MB", cfg.LogMaxSizeMB); err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOG_MAX_SIZE_MB: %w", err)
	}
	if cfg.LogMaxBackups, err = getEnvInt("LOG_MAX_BACKUPS", cfg.LogMaxBackups); err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOG_MAX_BACKUPS: %w", err)
	}
	if cfg.LogMaxAgeDays, err = getEnvInt("LOG_MAX_AGE_DAYS", cfg.LogMaxAgeDays); err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOG_MAX_AGE_DAYS: %w", err)
	}

	if cfg.Policy.Duplicate, err = ledger.ParseDuplicatePolicy(os.Getenv("DUPLICATE_POLICY")); err != nil {
		return AppConfig{}, fmt.Errorf("invalid DUPLICATE_POLICY: %w", err)
	}
	if cfg.Policy.RefundCaller, err = ledger.ParseRefundCaller(os.Getenv("REFUND_CALLER")); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REFUND_CALLER: %w", err)
	}
	if cfg.Policy.RefundAmount, err = ledger.ParseRefundAmount(os.Getenv("REFUND_AMOUNT")); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REFUND_AMOUNT: %w", err)
	}

	switch cfg.TransferMode {
	case TransferModeOutbox, TransferModeDirect:
	default:
		return AppConfig{}, fmt.Errorf("TRANSFER_MODE must be %q or %q", TransferModeOutbox, TransferModeDirect)
	}
	switch cfg.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return AppConfig{}, fmt.Errorf("LOCK_BACKEND must be %q or %q", LockBackendLocal, LockBackendRedis)
	}
	switch cfg.RateLimitBackend {
	case RateLimitBackendRedis, RateLimitBackendLocal:
	default:
		return AppConfig{}, fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q", RateLimitBackendRedis, RateLimitBackendLocal)
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

	return cfg, nil
}

// NeedsRedis 判断当前配置是否依赖 Redis。
func (c AppConfig) NeedsRedis() bool {
	return c.TransferMode == TransferModeOutbox ||
		c.LockBackend == LockBackendRedis ||
		c.RateLimitBackend == RateLimitBackendRedis
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
