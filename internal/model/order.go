package model

import "time"

// Order 支付订单：order_id 由调用方提供，同一 order_id 至多一条记录。
type Order struct {
	OrderID        string `gorm:"primaryKey;size:128" json:"order_id"`
	PayerID        string `gorm:"size:128;not null;index" json:"payer_id"`
	Amount         uint64 `gorm:"not null" json:"amount"`          // 订单声明金额
	ReceivedAmount uint64 `gorm:"not null" json:"received_amount"` // 实际附带的存款
	IsCompleted    bool   `gorm:"not null" json:"is_completed"`
	IsRefund       bool   `gorm:"not null" json:"is_refund"`

	// CreatedAt 由账本在首次支付时写入，退款改写时原样保留。
	CreatedAt time.Time `gorm:"autoCreateTime:false;not null" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// 显式实现结构，确定表名
func (Order) TableName() string { return "orders" }
