package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order_ledger/internal/config"
	"order_ledger/internal/ledger"
	"order_ledger/internal/middleware"
	"order_ledger/internal/queue"
	"order_ledger/internal/router"
	"order_ledger/internal/store"
	"order_ledger/pkg/logger"
	rediskey "order_ledger/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel, logger.FileConfig{
		Path:       cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 连接 SQLite，自动建表；SQLite 只允许单写，连接数限制为 1
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatal("db open", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("db handle", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(1)
	if err := store.Migrate(db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}
	st := store.NewGormStore(db)

	// 2. Redis（outbox / 分布式锁 / 限流任一启用时需要）
	var rdb *rd.Client
	if cfg.NeedsRedis() {
		rdb = rd.NewClient(&rd.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer rdb.Close()
	}

	// 3. 出账通道：outbox 模式写 Redis Stream，Relay 转发 Kafka；direct 模式直接写 Kafka
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	var transferer ledger.Transferer = producer
	if cfg.TransferMode == config.TransferModeOutbox {
		transferer = queue.NewStreamOutbox(rdb, cfg.TransferStream)
		relay := queue.NewRelay(rdb, producer, cfg.TransferStream, cfg.TransferGroup, cfg.TransferConsumer, log.Named("relay"))
		go relay.Run(ctx)
	}

	if cfg.EnableJournal {
		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, st, log.Named("journal"))
		defer consumer.Close()
		go consumer.Run(ctx)
	}

	// 4. 订单锁
	var locker ledger.Locker = ledger.NewLocalLocker()
	if cfg.LockBackend == config.LockBackendRedis {
		locker = rediskey.NewOrderLocker(rdb, cfg.LockTTL, 0, func(orderID string, err error) {
			log.Warn("release order lock", zap.String("order_id", orderID), zap.Error(err))
		})
	}

	l := ledger.New(st, transferer,
		ledger.WithLocker(locker),
		ledger.WithPolicy(cfg.Policy),
		ledger.WithLogger(log.Named("ledger")))

	// 5. 限流
	var rateLimit gin.HandlerFunc
	if cfg.RateLimitBackend == config.RateLimitBackendRedis {
		rateLimit = middleware.RedisRateLimit(rdb, cfg.PayRateLimit, cfg.PayRateWindow)
	} else {
		rateLimit = middleware.NewLocalRateLimiter(cfg.PayRateLimit, cfg.PayRateWindow).Middleware()
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logger(log.Named("http")))
	router.Setup(r, router.Deps{
		Ledger:         l,
		Transfers:      st,
		Account:        middleware.Account(cfg.JWTSecret),
		RateLimit:      rateLimit,
		RequestTimeout: cfg.RequestTimeout,
		Log:            log,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http serve", zap.Error(err))
		}
	}()
	log.Info("order ledger started",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("transfer_mode", cfg.TransferMode),
		zap.String("lock_backend", cfg.LockBackend),
		zap.Stringer("duplicate_policy", cfg.Policy.Duplicate),
		zap.Stringer("refund_caller", cfg.Policy.RefundCaller),
		zap.Stringer("refund_amount", cfg.Policy.RefundAmount))

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	log.Info("order ledger stopped")
}
