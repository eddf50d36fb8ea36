package ledger

import (
	"context"
	"sync"
)

// Locker 为单个 order_id 提供互斥，保证读-改-写不被并发调用交错。
type Locker interface {
	Lock(ctx context.Context, orderID string) (unlock func(), err error)
}

// LocalLocker 进程内按 key 加锁，适用于单实例部署。
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[orderID]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[orderID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(orderID, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(orderID, kl)
		})
	}, nil
}

// release 引用计数归零时回收 key，避免 map 无限增长。
func (l *LocalLocker) release(orderID string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, orderID)
	}
	l.mu.Unlock()
}
