package queue

import (
	"context"
	"fmt"
	"strconv"

	"order_ledger/internal/ledger"

	rd "github.com/redis/go-redis/v9"
)

// StreamOutbox 把出账请求追加到 Redis Stream，由 Relay 异步转发到 Kafka。
// XADD 成功即视为受理，账本无需等待 Kafka 可用。
type StreamOutbox struct {
	rdb    *rd.Client
	stream string
}

func NewStreamOutbox(rdb *rd.Client, stream string) *StreamOutbox {
	return &StreamOutbox{rdb: rdb, stream: stream}
}

func (o *StreamOutbox) Transfer(ctx context.Context, req ledger.TransferRequest) error {
	msg := NewTransferMessage(req)
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid transfer: %w", err)
	}
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		Values: streamValues(msg),
	}).Err()
}

func streamValues(msg TransferMessage) map[string]interface{} {
	return map[string]interface{}{
		"transfer_id":  msg.TransferID,
		"order_id":     msg.OrderID,
		"kind":         msg.Kind,
		"destination":  msg.Destination,
		"amount":       strconv.FormatUint(msg.Amount, 10),
		"requested_at": strconv.FormatInt(msg.RequestedAt, 10),
	}
}
