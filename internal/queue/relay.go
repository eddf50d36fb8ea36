package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	relayBatch        = 16
	relayBlock        = 2 * time.Second
	relayReadBackoff  = 300 * time.Millisecond
	relayPublishRetry = 200 * time.Millisecond
)

// publisher 把出账事件写入 Kafka；*Producer 实现它。
type publisher interface {
	Publish(ctx context.Context, msg TransferMessage) error
}

// Relay 将 Redis Stream 中的出账事件异步转发到 Kafka。
// 语义：发布 Kafka 成功后才 ACK Stream，失败则保留消息等待重试。
type Relay struct {
	rdb *rd.Client
	pub publisher
	log *zap.Logger

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, producer *Producer, stream, group, consumer string, log *zap.Logger) *Relay {
	return &Relay{
		rdb:      rdb,
		pub:      producer,
		log:      log,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.log.Error("relay ensure group", zap.String("stream", r.stream), zap.Error(err))
		return
	}

	for ctx.Err() == nil {
		entries, err := r.nextBatch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.log.Warn("relay read stream", zap.String("stream", r.stream), zap.Error(err))
			sleepCtx(ctx, relayReadBackoff)
			continue
		}

		for _, xm := range entries {
			if err := r.forward(ctx, xm); err != nil {
				// 未 ACK 的事件留在 pending 中，下一轮优先重发，保持同一订单的顺序
				sleepCtx(ctx, relayPublishRetry)
				break
			}
		}
	}
}

// nextBatch 先取本消费者的 pending（上次发布失败或进程重启遗留），没有再阻塞读新事件。
func (r *Relay) nextBatch(ctx context.Context) ([]rd.XMessage, error) {
	pending, err := r.readGroup(ctx, "0", 0)
	if err != nil || len(pending) > 0 {
		return pending, err
	}
	return r.readGroup(ctx, ">", relayBlock)
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (r *Relay) readGroup(ctx context.Context, id string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, id},
		Count:    relayBatch,
		Block:    block,
	}).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []rd.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// forward 发布一条出账事件并确认。解析失败的事件记录后直接确认丢弃。
func (r *Relay) forward(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseTransferEvent(xm.Values)
	if err != nil {
		r.log.Error("relay drop malformed transfer event", zap.String("entry_id", xm.ID), zap.Error(err))
		if ackErr := r.ack(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("ack malformed entry %s: %w", xm.ID, ackErr)
		}
		return nil
	}

	fields := []zap.Field{
		zap.String("entry_id", xm.ID),
		zap.String("transfer_id", msg.TransferID),
		zap.String("order_id", msg.OrderID),
		zap.String("kind", msg.Kind),
		zap.Uint64("amount", msg.Amount),
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pub.Publish(pubCtx, msg); err != nil {
		r.log.Warn("relay publish transfer", append(fields, zap.Error(err))...)
		return fmt.Errorf("publish transfer %s: %w", msg.TransferID, err)
	}
	if err := r.ack(ctx, xm.ID); err != nil {
		// 已发布但未确认，下一轮会重复发布；流水按 transfer_id 去重
		r.log.Warn("relay ack transfer", append(fields, zap.Error(err))...)
		return fmt.Errorf("ack transfer %s: %w", msg.TransferID, err)
	}
	r.log.Debug("relay forwarded transfer", fields...)
	return nil
}

// ack 确认并删除 Stream 条目，Stream 只保留未转发的事件。
func (r *Relay) ack(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// parseTransferEvent 从 Stream 字段还原出账事件，字段布局见 streamValues。
func parseTransferEvent(values map[string]interface{}) (TransferMessage, error) {
	field := func(key string) (string, error) {
		v, ok := values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		default:
			return "", fmt.Errorf("field %s: unsupported type %T", key, v)
		}
	}

	var (
		msg TransferMessage
		err error
	)
	for key, dst := range map[string]*string{
		"transfer_id": &msg.TransferID,
		"order_id":    &msg.OrderID,
		"kind":        &msg.Kind,
		"destination": &msg.Destination,
	} {
		if *dst, err = field(key); err != nil {
			return TransferMessage{}, err
		}
	}

	amount, err := field("amount")
	if err != nil {
		return TransferMessage{}, err
	}
	if msg.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return TransferMessage{}, fmt.Errorf("invalid amount %q", amount)
	}
	requestedAt, err := field("requested_at")
	if err != nil {
		return TransferMessage{}, err
	}
	if msg.RequestedAt, err = strconv.ParseInt(requestedAt, 10, 64); err != nil {
		return TransferMessage{}, fmt.Errorf("invalid requested_at %q", requestedAt)
	}

	if err := msg.Validate(); err != nil {
		return TransferMessage{}, err
	}
	return msg, nil
}
