package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order_ledger/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	journalRetryMin = 200 * time.Millisecond
	journalRetryMax = 10 * time.Second
)

// errMalformedTransfer 消息无法解析或字段不合法，重试也不会成功。
var errMalformedTransfer = errors.New("malformed transfer event")

// Journal 记录出账流水；重复 transfer_id 返回 inserted=false。
type Journal interface {
	RecordTransfer(ctx context.Context, t *model.Transfer) (inserted bool, err error)
}

// messageReader 是 Consumer 用到的 kafka.Reader 子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 从 Kafka 读取出账事件并写入流水表，供按订单查询。
// offset 只在落表成功（或消息确认无法处理）之后提交，落表失败会退避重试同一条消息。
type Consumer struct {
	r       messageReader
	journal Journal
	log     *zap.Logger
	retry   time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, journal Journal, log *zap.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		journal: journal,
		log:     log,
		retry:   journalRetryMin,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}
		if err := c.process(ctx, m); err != nil {
			return // 只有 ctx 结束才会返回错误，未提交的消息下次启动重新投递
		}
		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			// 提交失败会导致重复投递，落表按 transfer_id 幂等
			c.log.Warn("consumer commit offset",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

// process 落表一条消息：脏消息记录后跳过，落表失败按指数退避重试直到成功或 ctx 结束。
func (c *Consumer) process(ctx context.Context, m kafka.Message) error {
	backoff := c.retry
	if backoff <= 0 {
		backoff = journalRetryMin
	}
	for {
		err := c.handle(ctx, m.Value)
		if err == nil {
			return nil
		}
		if errors.Is(err, errMalformedTransfer) {
			c.log.Error("consumer drop malformed transfer",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			return nil
		}

		c.log.Warn("consumer journal transfer, will retry",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if backoff *= 2; backoff > journalRetryMax {
			backoff = journalRetryMax
		}
	}
}

// handle 解析并落表一条出账事件。重复消息直接当作成功。
func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var msg TransferMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", errMalformedTransfer, err)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errMalformedTransfer, err)
	}

	inserted, err := c.journal.RecordTransfer(ctx, msg.ToModel())
	if err != nil {
		return fmt.Errorf("record transfer %s: %w", msg.TransferID, err)
	}
	if !inserted {
		c.log.Debug("duplicate transfer event", zap.String("transfer_id", msg.TransferID))
		return nil
	}
	c.log.Info("transfer journaled",
		zap.String("transfer_id", msg.TransferID),
		zap.String("order_id", msg.OrderID),
		zap.String("kind", msg.Kind),
		zap.Uint64("amount", msg.Amount))
	return nil
}
