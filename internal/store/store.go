package store

import (
	"context"
	"errors"
	"fmt"

	"order_ledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound 表示 order_id 不存在。
var ErrNotFound = errors.New("order not found")

// Store 是 order_id → Order 的持久映射。
// Insert 不做唯一性校验，生命周期正确性由调用方负责。
type Store interface {
	Insert(ctx context.Context, order *model.Order) error
	Get(ctx context.Context, orderID string) (*model.Order, error)
	Contains(ctx context.Context, orderID string) (bool, error)
	// Transaction 在单个数据库事务内执行 fn，fn 返回错误则整体回滚。
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// GormStore 基于 gorm 的 Store 实现。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate 建表：orders 与 transfers。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Order{}, &model.Transfer{})
}

// Insert 以 order_id 为键整行覆盖写入。
func (s *GormStore) Insert(ctx context.Context, order *model.Order) error {
	if order.OrderID == "" {
		return fmt.Errorf("insert order: empty order_id")
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			UpdateAll: true,
		}).
		Create(order).Error
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.OrderID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return &o, nil
}

func (s *GormStore) Contains(ctx context.Context, orderID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Order{}).Where("order_id = ?", orderID).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("contains order %s: %w", orderID, err)
	}
	return n > 0, nil
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// ListTransfers 按请求时间返回某订单的出账流水。
func (s *GormStore) ListTransfers(ctx context.Context, orderID string) ([]model.Transfer, error) {
	var list []model.Transfer
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("requested_at ASC, id ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list transfers %s: %w", orderID, err)
	}
	return list, nil
}

// RecordTransfer 写入出账流水；transfer_id 重复时视为已记录。
func (s *GormStore) RecordTransfer(ctx context.Context, t *model.Transfer) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transfer_id"}},
			DoNothing: true,
		}).
		Create(t)
	if res.Error != nil {
		return false, fmt.Errorf("record transfer %s: %w", t.TransferID, res.Error)
	}
	return res.RowsAffected == 1, nil
}
