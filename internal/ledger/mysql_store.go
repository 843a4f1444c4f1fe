package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"sort"
	"strings"
	"time"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"

	"github.com/go-sql-driver/mysql"
)

// MySQLConfig 描述账本数据库连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MySQLStore 使用 MySQL 持久化账户状态与已处理交易。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 打开数据库连接并执行内置迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &MySQLStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行账本迁移失败")
	}
	return store, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

const selectAccountSQL = `SELECT address, owner, lamports, data FROM ledger_accounts WHERE address = ?`

// Get 实现 Store 接口。
func (s *MySQLStore) Get(ctx context.Context, addr address.Address) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, selectAccountSQL, addr.String()))
}

// Begin 实现 Store 接口。
func (s *MySQLStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启账本事务失败")
	}
	return &mysqlTx{ctx: ctx, tx: tx, staged: make(map[address.Address]*Account)}, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		addrText  string
		ownerText string
		lamports  uint64
		data      []byte
	)
	if err := row.Scan(&addrText, &ownerText, &lamports, &data); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账户失败")
	}
	addr, err := address.Parse(addrText)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "账户地址损坏")
	}
	owner, err := address.Parse(ownerText)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "账户所有者损坏")
	}
	return &Account{Address: addr, Owner: owner, Lamports: lamports, Data: data}, nil
}

type mysqlTx struct {
	ctx    context.Context
	tx     *sql.Tx
	staged map[address.Address]*Account
	done   bool
}

const selectAccountForUpdateSQL = selectAccountSQL + ` FOR UPDATE`

func (t *mysqlTx) Get(ctx context.Context, addr address.Address) (*Account, error) {
	if t.done {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "事务已结束")
	}
	if staged, ok := t.staged[addr]; ok {
		return staged.Clone(), nil
	}
	return scanAccount(t.tx.QueryRowContext(ctx, selectAccountForUpdateSQL, addr.String()))
}

func (t *mysqlTx) Put(_ context.Context, account *Account) error {
	if t.done {
		return xerrors.New(xerrors.CodeStorageFailure, "事务已结束")
	}
	if account == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "account 不能为空")
	}
	t.staged[account.Address] = account.Clone()
	return nil
}

const insertTransactionSQL = `INSERT INTO ledger_transactions (id, processed_at) VALUES (?, ?)`

func (t *mysqlTx) MarkProcessed(ctx context.Context, txID string) error {
	if strings.TrimSpace(txID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易 ID 不能为空")
	}
	if _, err := t.tx.ExecContext(ctx, insertTransactionSQL, txID, time.Now().Unix()); err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrDuplicateTransaction
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录交易失败")
	}
	return nil
}

const upsertAccountSQL = `INSERT INTO ledger_accounts (address, owner, lamports, data, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE owner = VALUES(owner), lamports = VALUES(lamports), data = VALUES(data), updated_at = VALUES(updated_at)`

const deleteAccountSQL = `DELETE FROM ledger_accounts WHERE address = ?`

// Commit 按地址顺序写回暂存账户后提交数据库事务。
func (t *mysqlTx) Commit() error {
	if t.done {
		return xerrors.New(xerrors.CodeStorageFailure, "事务已结束")
	}
	t.done = true

	addrs := make([]address.Address, 0, len(t.staged))
	for addr := range t.staged {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return address.Compare(addrs[i], addrs[j]) < 0 })

	now := time.Now().Unix()
	for _, addr := range addrs {
		account := t.staged[addr]
		var err error
		if account.Exists() {
			_, err = t.tx.ExecContext(t.ctx, upsertAccountSQL, addr.String(), account.Owner.String(), account.Lamports, account.Data, now)
		} else {
			_, err = t.tx.ExecContext(t.ctx, deleteAccountSQL, addr.String())
		}
		if err != nil {
			_ = t.tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入账户失败", xerrors.WithMetadata("address", addr.String()))
		}
	}
	if err := t.tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交账本事务失败")
	}
	return nil
}

func (t *mysqlTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.staged = nil
	if err := t.tx.Rollback(); err != nil && !stdErrors.Is(err, sql.ErrTxDone) {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "回滚账本事务失败")
	}
	return nil
}

var _ Store = (*MySQLStore)(nil)
