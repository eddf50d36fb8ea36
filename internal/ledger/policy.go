package ledger

import (
	"fmt"
	"strings"
)

// DuplicatePolicy 决定对已存在的 order_id 再次支付时的行为。
type DuplicatePolicy int

const (
	// AllowOverwrite 新支付整行覆盖旧记录，旧的支付历史丢失。
	AllowOverwrite DuplicatePolicy = iota
	// RejectDuplicate 已存在记录时拒绝支付，返回 ErrDuplicateOrder。
	RejectDuplicate
)

// RefundCaller 决定谁可以发起退款。
type RefundCaller int

const (
	// AnyCaller 任何账户都可以退款，款项打给发起人。
	AnyCaller RefundCaller = iota
	// PayerOnly 仅最近一次支付的账户可以退款。
	PayerOnly
)

// RefundAmount 决定退款金额取订单金额还是实收金额。
type RefundAmount int

const (
	OrderAmount RefundAmount = iota
	ReceivedAmount
)

// Policy 汇总账本的可配置策略，零值即参考行为：
// 覆盖重复支付、任何人可退款、退还订单金额。
type Policy struct {
	Duplicate    DuplicatePolicy
	RefundCaller RefundCaller
	RefundAmount RefundAmount
}

func (p DuplicatePolicy) String() string {
	switch p {
	case AllowOverwrite:
		return "allow_overwrite"
	case RejectDuplicate:
		return "reject_duplicate"
	}
	return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
}

func (c RefundCaller) String() string {
	switch c {
	case AnyCaller:
		return "any"
	case PayerOnly:
		return "payer"
	}
	return fmt.Sprintf("RefundCaller(%d)", int(c))
}

func (a RefundAmount) String() string {
	switch a {
	case OrderAmount:
		return "amount"
	case ReceivedAmount:
		return "received"
	}
	return fmt.Sprintf("RefundAmount(%d)", int(a))
}

// ParseDuplicatePolicy 解析配置中的重复支付策略。
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow_overwrite":
		return AllowOverwrite, nil
	case "reject_duplicate":
		return RejectDuplicate, nil
	}
	return 0, fmt.Errorf("unknown duplicate policy %q", s)
}

// ParseRefundCaller 解析退款发起人策略。
func ParseRefundCaller(s string) (RefundCaller, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return AnyCaller, nil
	case "payer":
		return PayerOnly, nil
	}
	return 0, fmt.Errorf("unknown refund caller policy %q", s)
}

// ParseRefundAmount 解析退款金额策略。
func ParseRefundAmount(s string) (RefundAmount, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "amount":
		return OrderAmount, nil
	case "received":
		return ReceivedAmount, nil
	}
	return 0, fmt.Errorf("unknown refund amount policy %q", s)
}
