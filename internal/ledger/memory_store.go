package ledger

import (
	"context"
	"sync"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
)

// MemoryStore 以内存方式保存账户状态，适用于开发与测试。
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[address.Address]*Account
	processed map[string]struct{}
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[address.Address]*Account),
		processed: make(map[string]struct{}),
	}
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, addr address.Address) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[addr]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account.Clone(), nil
}

// Begin 实现 Store 接口。
func (m *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memoryTx{
		store:     m,
		staged:    make(map[address.Address]*Account),
		processed: make(map[string]struct{}),
	}, nil
}

// Len 返回已提交账户数量。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	store     *MemoryStore
	staged    map[address.Address]*Account
	processed map[string]struct{}
	done      bool
}

func (t *memoryTx) Get(ctx context.Context, addr address.Address) (*Account, error) {
	if t.done {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "事务已结束")
	}
	if staged, ok := t.staged[addr]; ok {
		return staged.Clone(), nil
	}
	return t.store.Get(ctx, addr)
}

func (t *memoryTx) Put(_ context.Context, account *Account) error {
	if t.done {
		return xerrors.New(xerrors.CodeStorageFailure, "事务已结束")
	}
	if account == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "account 不能为空")
	}
	t.staged[account.Address] = account.Clone()
	return nil
}

func (t *memoryTx) MarkProcessed(_ context.Context, txID string) error {
	if txID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易 ID 不能为空")
	}
	if _, ok := t.processed[txID]; ok {
		return ErrDuplicateTransaction
	}
	t.store.mu.RLock()
	_, seen := t.store.processed[txID]
	t.store.mu.RUnlock()
	if seen {
		return ErrDuplicateTransaction
	}
	t.processed[txID] = struct{}{}
	return nil
}

// Commit 在一次加锁中应用全部暂存写入，保证读者看不到半提交状态。
func (t *memoryTx) Commit() error {
	if t.done {
		return xerrors.New(xerrors.CodeStorageFailure, "事务已结束")
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for txID := range t.processed {
		if _, seen := t.store.processed[txID]; seen {
			return ErrDuplicateTransaction
		}
	}
	for txID := range t.processed {
		t.store.processed[txID] = struct{}{}
	}
	for addr, account := range t.staged {
		if !account.Exists() {
			delete(t.store.accounts, addr)
			continue
		}
		t.store.accounts[addr] = account
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	t.done = true
	t.staged = nil
	t.processed = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
