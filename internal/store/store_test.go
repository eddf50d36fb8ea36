package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"order_ledger/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func TestInsertGetContains(t *testing.T) {
	s := NewGormStore(openTestDB(t))
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ok, err := s.Contains(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "o1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Insert(ctx, &model.Order{
		OrderID: "o1", PayerID: "alice", Amount: 10, ReceivedAmount: 12,
		IsCompleted: true, CreatedAt: created,
	}))

	ok, err = s.Contains(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)

	o, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "alice", o.PayerID)
	assert.Equal(t, uint64(10), o.Amount)
	assert.Equal(t, uint64(12), o.ReceivedAmount)
	assert.True(t, o.IsCompleted)
	assert.False(t, o.IsRefund)
	assert.True(t, created.Equal(o.CreatedAt))
}

func TestInsertOverwrites(t *testing.T) {
	s := NewGormStore(openTestDB(t))
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, &model.Order{OrderID: "o1", PayerID: "alice", Amount: 10, ReceivedAmount: 10, IsCompleted: true, CreatedAt: created}))
	require.NoError(t, s.Insert(ctx, &model.Order{OrderID: "o1", PayerID: "bob", Amount: 10, ReceivedAmount: 10, IsCompleted: true, IsRefund: true, CreatedAt: created}))

	var n int64
	require.NoError(t, s.db.Model(&model.Order{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	o, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "bob", o.PayerID)
	assert.True(t, o.IsRefund)
	assert.True(t, created.Equal(o.CreatedAt))
}

func TestInsertRejectsEmptyID(t *testing.T) {
	s := NewGormStore(openTestDB(t))
	assert.Error(t, s.Insert(context.Background(), &model.Order{PayerID: "alice"}))
}

func TestTransactionRollback(t *testing.T) {
	s := NewGormStore(openTestDB(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.Insert(ctx, &model.Order{OrderID: "o1", PayerID: "alice", CreatedAt: time.Now()}); err != nil {
			return err
		}
		ok, err := tx.Contains(ctx, "o1")
		require.NoError(t, err)
		assert.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ok, err := s.Contains(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordTransferIdempotent(t *testing.T) {
	s := NewGormStore(openTestDB(t))
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tr := &model.Transfer{
		TransferID: "t1", OrderID: "o1", Kind: model.TransferChange,
		Destination: "alice", Amount: 5, RequestedAt: at, Status: model.TransferStatusRequested,
	}
	inserted, err := s.RecordTransfer(ctx, tr)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *tr
	dup.ID = 0
	inserted, err = s.RecordTransfer(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, func() error {
		_, err := s.RecordTransfer(ctx, &model.Transfer{
			TransferID: "t2", OrderID: "o1", Kind: model.TransferRefund,
			Destination: "alice", Amount: 10, RequestedAt: at.Add(time.Minute), Status: model.TransferStatusRequested,
		})
		return err
	}())

	list, err := s.ListTransfers(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].TransferID)
	assert.Equal(t, model.TransferRefund, list[1].Kind)

	list, err = s.ListTransfers(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, list)
}
