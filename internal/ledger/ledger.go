package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"order_ledger/internal/model"
	"order_ledger/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransferRequest 是交给外部资金服务的一次出账请求。
type TransferRequest struct {
	TransferID  string
	OrderID     string
	Kind        model.TransferKind
	Destination string
	Amount      uint64
	RequestedAt time.Time
}

// Transferer 接收出账请求。返回 nil 只表示请求已被受理，不代表到账；
// 账本不等待结算结果，结算失败也不会回滚订单。
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

// MaxAmount 是可入账的最大金额，受限于 SQLite 的有符号 64 位整数列。
const MaxAmount uint64 = math.MaxInt64

// Clock 提供当前时间，用于 created_at。
type Clock func() time.Time

// PayRequest 是一次支付调用的输入。
type PayRequest struct {
	OrderID         string
	OrderAmount     uint64
	AttachedDeposit uint64
	PayerID         string
}

// Ledger 实现支付、查询、退款三个操作及其状态迁移。
type Ledger struct {
	store      store.Store
	transferer Transferer
	locker     Locker
	clock      Clock
	policy     Policy
	log        *zap.Logger
}

type Option func(*Ledger)

func WithLocker(lk Locker) Option { return func(l *Ledger) { l.locker = lk } }

func WithClock(c Clock) Option { return func(l *Ledger) { l.clock = c } }

func WithPolicy(p Policy) Option { return func(l *Ledger) { l.policy = p } }

func WithLogger(log *zap.Logger) Option { return func(l *Ledger) { l.log = log } }

// New 创建账本；未指定时使用进程内锁、系统时钟与参考策略。
func New(st store.Store, tr Transferer, opts ...Option) *Ledger {
	l := &Ledger{
		store:      st,
		transferer: tr,
		locker:     NewLocalLocker(),
		clock:      func() time.Time { return time.Now().UTC() },
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PayOrder 记录一笔支付并返回找零金额。
// 流程：
// 1. 参数校验（金额不超过 MaxAmount），存款不足直接拒绝，不产生任何状态
// 2. 按 order_id 加锁，开启事务
// 3. 按重复支付策略检查已有记录
// 4. 写订单；有找零时在同一事务内提交找零出账请求
// 出账请求失败则订单写入一并回滚。
func (l *Ledger) PayOrder(ctx context.Context, req PayRequest) (uint64, error) {
	if req.OrderID == "" {
		return 0, fmt.Errorf("%w: order_id is required", ErrInvalidArgument)
	}
	if req.PayerID == "" {
		return 0, fmt.Errorf("%w: payer_id is required", ErrInvalidArgument)
	}
	if req.OrderAmount > MaxAmount || req.AttachedDeposit > MaxAmount {
		return 0, fmt.Errorf("%w: amount exceeds %d", ErrInvalidArgument, MaxAmount)
	}
	if req.AttachedDeposit < req.OrderAmount {
		return 0, fmt.Errorf("%w: deposit %d < amount %d", ErrInsufficientDeposit, req.AttachedDeposit, req.OrderAmount)
	}

	unlock, err := l.locker.Lock(ctx, req.OrderID)
	if err != nil {
		return 0, fmt.Errorf("lock order %s: %w", req.OrderID, err)
	}
	defer unlock()

	var change uint64
	err = l.store.Transaction(ctx, func(tx store.Store) error {
		if l.policy.Duplicate == RejectDuplicate {
			exists, err := tx.Contains(ctx, req.OrderID)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: %s", ErrDuplicateOrder, req.OrderID)
			}
		}

		now := l.clock()
		order := &model.Order{
			OrderID:        req.OrderID,
			PayerID:        req.PayerID,
			Amount:         req.OrderAmount,
			ReceivedAmount: req.AttachedDeposit,
			IsCompleted:    true,
			IsRefund:       false,
			CreatedAt:      now,
		}
		if err := tx.Insert(ctx, order); err != nil {
			return err
		}

		if req.AttachedDeposit > req.OrderAmount {
			change = req.AttachedDeposit - req.OrderAmount
			return l.requestTransfer(ctx, TransferRequest{
				OrderID:     req.OrderID,
				Kind:        model.TransferChange,
				Destination: req.PayerID,
				Amount:      change,
				RequestedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.log.Info("order paid",
		zap.String("order_id", req.OrderID),
		zap.String("payer_id", req.PayerID),
		zap.Uint64("amount", req.OrderAmount),
		zap.Uint64("received_amount", req.AttachedDeposit),
		zap.Uint64("change", change))
	return change, nil
}

// GetOrder 只读查询，不存在时返回 ErrNotFound。
func (l *Ledger) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrInvalidArgument)
	}
	return l.store.Get(ctx, orderID)
}

// Refund 退款给发起人并将订单标记为已退款。
// created_at、amount、received_amount、is_completed 原样保留，
// payer_id 改为发起人。同一订单只能退款一次。
func (l *Ledger) Refund(ctx context.Context, orderID, requesterID string) (bool, error) {
	if orderID == "" {
		return false, fmt.Errorf("%w: order_id is required", ErrInvalidArgument)
	}
	if requesterID == "" {
		return false, fmt.Errorf("%w: requester_id is required", ErrInvalidArgument)
	}

	unlock, err := l.locker.Lock(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	defer unlock()

	var refunded uint64
	err = l.store.Transaction(ctx, func(tx store.Store) error {
		order, err := tx.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.IsRefund {
			return fmt.Errorf("%w: %s", ErrAlreadyRefunded, orderID)
		}
		if l.policy.RefundCaller == PayerOnly && order.PayerID != requesterID {
			return fmt.Errorf("%w: %s", ErrRefundForbidden, orderID)
		}

		refunded = order.Amount
		if l.policy.RefundAmount == ReceivedAmount {
			refunded = order.ReceivedAmount
		}

		next := *order
		next.PayerID = requesterID
		next.IsRefund = true
		if err := tx.Insert(ctx, &next); err != nil {
			return err
		}

		return l.requestTransfer(ctx, TransferRequest{
			OrderID:     orderID,
			Kind:        model.TransferRefund,
			Destination: requesterID,
			Amount:      refunded,
			RequestedAt: l.clock(),
		})
	})
	if err != nil {
		return false, err
	}

	l.log.Info("order refunded",
		zap.String("order_id", orderID),
		zap.String("requester_id", requesterID),
		zap.Uint64("refund_amount", refunded))
	return true, nil
}

func (l *Ledger) requestTransfer(ctx context.Context, req TransferRequest) error {
	req.TransferID = uuid.NewString()
	if err := l.transferer.Transfer(ctx, req); err != nil {
		return fmt.Errorf("request %s transfer for order %s: %w", req.Kind, req.OrderID, err)
	}
	return nil
}
