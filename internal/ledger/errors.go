package ledger

import (
	"errors"

	"order_ledger/internal/store"
)

// 账本错误均为终态错误：账本内部不重试，调用方修正参数后重新提交。
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientDeposit = errors.New("attached deposit is less than order amount")
	ErrNotFound            = store.ErrNotFound
	ErrAlreadyRefunded     = errors.New("order already refunded")
	ErrDuplicateOrder      = errors.New("order already exists")
	ErrRefundForbidden     = errors.New("requester is not allowed to refund this order")
)
