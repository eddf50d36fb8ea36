package model

import "time"

// TransferKind 区分找零与退款两类出账。
type TransferKind string

const (
	TransferChange TransferKind = "change"
	TransferRefund TransferKind = "refund"
)

// TransferStatusRequested 表示转账请求已被记录，结算由外部资金服务负责。
const TransferStatusRequested = "requested"

// Transfer 出账流水：消费者从 Kafka 读取转账请求后落表，便于按订单追溯。
type Transfer struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	TransferID  string       `gorm:"size:64;uniqueIndex;not null" json:"transfer_id"`
	OrderID     string       `gorm:"size:128;not null;index" json:"order_id"`
	Kind        TransferKind `gorm:"size:16;not null" json:"kind"`
	Destination string       `gorm:"size:128;not null" json:"destination"`
	Amount      uint64       `gorm:"not null" json:"amount"`
	RequestedAt time.Time    `gorm:"not null" json:"requested_at"`
	Status      string       `gorm:"size:16;not null" json:"status"`
}

func (Transfer) TableName() string { return "transfers" }
