package queue

import (
	"fmt"
	"time"

	"order_ledger/internal/ledger"
	"order_ledger/internal/model"
)

// TransferMessage 是写入 Redis Stream / Kafka 的出账事件。
type TransferMessage struct {
	TransferID  string `json:"transfer_id"`
	OrderID     string `json:"order_id"`
	Kind        string `json:"kind"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
	RequestedAt int64  `json:"requested_at"` // unix 纳秒
}

// NewTransferMessage 由账本的出账请求构造事件。
func NewTransferMessage(req ledger.TransferRequest) TransferMessage {
	return TransferMessage{
		TransferID:  req.TransferID,
		OrderID:     req.OrderID,
		Kind:        string(req.Kind),
		Destination: req.Destination,
		Amount:      req.Amount,
		RequestedAt: req.RequestedAt.UnixNano(),
	}
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m TransferMessage) Validate() error {
	if m.TransferID == "" {
		return fmt.Errorf("transfer_id is required")
	}
	if m.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	switch model.TransferKind(m.Kind) {
	case model.TransferChange, model.TransferRefund:
	default:
		return fmt.Errorf("unknown kind %q", m.Kind)
	}
	if m.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if m.Kind == string(model.TransferChange) && m.Amount == 0 {
		return fmt.Errorf("change amount must be > 0")
	}
	return nil
}

// ToModel 转换为出账流水记录。
func (m TransferMessage) ToModel() *model.Transfer {
	return &model.Transfer{
		TransferID:  m.TransferID,
		OrderID:     m.OrderID,
		Kind:        model.TransferKind(m.Kind),
		Destination: m.Destination,
		Amount:      m.Amount,
		RequestedAt: time.Unix(0, m.RequestedAt).UTC(),
		Status:      model.TransferStatusRequested,
	}
}
