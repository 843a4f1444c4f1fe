package ledger

import (
	"context"
	"sync"
	"time"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
)

// Locker 为一组账户提供互斥访问。实现必须按地址升序加锁以避免死锁。
type Locker interface {
	Acquire(ctx context.Context, keys []address.Address) (Lease, error)
}

// Lease 代表一次成功的加锁。分布式锁可能在持有期间过期，
// 写入账本前必须检查 Err；Release 可重复调用。
type Lease interface {
	Err() error
	Release()
}

// funcLease 是不会失效的本地锁。
type funcLease struct {
	once    sync.Once
	release func()
}

func (l *funcLease) Err() error { return nil }

func (l *funcLease) Release() { l.once.Do(l.release) }

// ErrLockTimeout 表示在超时前未能获得全部账户锁。
var ErrLockTimeout = xerrors.New(xerrors.CodeLockTimeout, "account lock not acquired")

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker 是进程内的按账户加锁实现。
type MemoryLocker struct {
	mu      sync.Mutex
	slots   map[address.Address]*lockSlot
	timeout time.Duration
}

// NewMemoryLocker 创建 MemoryLocker。timeout 为 0 时仅受 ctx 约束。
func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	return &MemoryLocker{slots: make(map[address.Address]*lockSlot), timeout: timeout}
}

// Acquire 实现 Locker 接口。
func (l *MemoryLocker) Acquire(ctx context.Context, keys []address.Address) (Lease, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	ordered := address.SortUnique(keys)
	held := make([]*lockSlot, 0, len(ordered))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
		}
		l.mu.Lock()
		for _, key := range ordered {
			l.unref(key)
		}
		l.mu.Unlock()
	}

	l.mu.Lock()
	slots := make([]*lockSlot, len(ordered))
	for i, key := range ordered {
		slot, ok := l.slots[key]
		if !ok {
			slot = &lockSlot{ch: make(chan struct{}, 1)}
			l.slots[key] = slot
		}
		slot.refs++
		slots[i] = slot
	}
	l.mu.Unlock()

	for _, slot := range slots {
		select {
		case slot.ch <- struct{}{}:
			held = append(held, slot)
		case <-ctx.Done():
			releaseHeld()
			return nil, xerrors.Wrap(xerrors.CodeLockTimeout, ctx.Err(), "获取账户锁超时")
		}
	}

	return &funcLease{release: releaseHeld}, nil
}

func (l *MemoryLocker) unref(key address.Address) {
	slot, ok := l.slots[key]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs <= 0 {
		delete(l.slots, key)
	}
}

var _ Locker = (*MemoryLocker)(nil)
