package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"order_ledger/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReader 按顺序返回消息，读完后阻塞到 ctx 结束，并记录提交的 offset。
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	next      int
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.next < len(r.msgs) {
		m := r.msgs[r.next]
		r.next++
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

// flakyJournal 前 failures 次写入返回错误。
type flakyJournal struct {
	mu       sync.Mutex
	failures int
	attempts map[string]int
	recorded []string
}

func (j *flakyJournal) RecordTransfer(_ context.Context, t *model.Transfer) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts[t.TransferID]++
	if j.failures != 0 {
		if j.failures > 0 {
			j.failures--
		}
		return false, errors.New("database is locked")
	}
	j.recorded = append(j.recorded, t.TransferID)
	return true, nil
}

func (j *flakyJournal) snapshot() (map[string]int, []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	attempts := make(map[string]int, len(j.attempts))
	for k, v := range j.attempts {
		attempts[k] = v
	}
	return attempts, append([]string(nil), j.recorded...)
}

func transferMessage(t *testing.T, offset int64, transferID string) kafka.Message {
	t.Helper()
	msg := sampleMessage()
	msg.TransferID = transferID
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func runConsumer(c *Consumer) (cancel func()) {
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	return func() {
		stop()
		<-done
	}
}

func TestConsumerCommitsOnlyAfterJournal(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		transferMessage(t, 0, "t-1"),
		{Offset: 1, Value: []byte("{not json")},
		transferMessage(t, 2, "t-2"),
	}}
	j := &flakyJournal{failures: 2, attempts: map[string]int{}}
	c := &Consumer{r: r, journal: j, log: zap.NewNop(), retry: time.Millisecond}

	stop := runConsumer(c)
	defer stop()

	require.Eventually(t, func() bool { return len(r.offsets()) == 3 }, 2*time.Second, 5*time.Millisecond)
	// 脏消息跳过但仍提交，避免卡住分区
	assert.Equal(t, []int64{0, 1, 2}, r.offsets())

	attempts, recorded := j.snapshot()
	assert.Equal(t, 3, attempts["t-1"])
	assert.Equal(t, 1, attempts["t-2"])
	assert.Equal(t, []string{"t-1", "t-2"}, recorded)
}

func TestConsumerKeepsOffsetWhileJournalDown(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{transferMessage(t, 0, "t-1")}}
	j := &flakyJournal{failures: -1, attempts: map[string]int{}}
	c := &Consumer{r: r, journal: j, log: zap.NewNop(), retry: time.Millisecond}

	stop := runConsumer(c)
	require.Eventually(t, func() bool {
		attempts, _ := j.snapshot()
		return attempts["t-1"] >= 3
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Empty(t, r.offsets())
	_, recorded := j.snapshot()
	assert.Empty(t, recorded)
}
