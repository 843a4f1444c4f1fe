package ledger

import (
	"context"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
)

// Account 是账本中的一条持久化记录，以派生地址或钱包地址为键。
type Account struct {
	Address  address.Address `json:"address"`
	Owner    address.Address `json:"owner"`
	Lamports uint64          `json:"lamports"`
	Data     []byte          `json:"data"`
}

// Clone 返回账户的深拷贝，避免调用方修改存储内部状态。
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Data != nil {
		clone.Data = append([]byte(nil), a.Data...)
	}
	return &clone
}

// Exists 判断账户是否已被分配：持有 lamports 或数据即视为存在。
func (a *Account) Exists() bool {
	return a != nil && (a.Lamports > 0 || len(a.Data) > 0)
}

var (
	// ErrAccountNotFound 表示地址上没有任何账户。
	ErrAccountNotFound = xerrors.New(xerrors.CodeNotFound, "account not found")
	// ErrDuplicateTransaction 表示同一交易 ID 已经提交过。
	ErrDuplicateTransaction = xerrors.New(xerrors.CodeDuplicateTransaction, "transaction already processed")
)

// Store 抽象账户状态的持久化接口。
type Store interface {
	// Get 读取已提交的账户快照。
	Get(ctx context.Context, addr address.Address) (*Account, error)
	// Begin 开启一个原子写批次，所有写入在 Commit 前对外不可见。
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx 是一次交易内的读写视图。
type Tx interface {
	Get(ctx context.Context, addr address.Address) (*Account, error)
	Put(ctx context.Context, account *Account) error
	// MarkProcessed 记录交易 ID，重复时返回 ErrDuplicateTransaction。
	MarkProcessed(ctx context.Context, txID string) error
	Commit() error
	Rollback() error
}
