package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	xerrors "Awe-Chain/internal/errors"

	"github.com/go-sql-driver/mysql"
)

func TestMySQLStoreGet(t *testing.T) {
	t.Parallel()

	addr := testAddr(1)
	owner := testAddr(2)
	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectAccountSQL, mockRowsData{
			columns: []string{"address", "owner", "lamports", "data"},
			values:  [][]driver.Value{{addr.String(), owner.String(), int64(1500), []byte{7, 8}}},
		}),
		queryOp(selectAccountSQL, mockRowsData{columns: []string{"address", "owner", "lamports", "data"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	acct, err := store.Get(context.Background(), addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.Address != addr || acct.Owner != owner || acct.Lamports != 1500 || len(acct.Data) != 2 {
		t.Fatalf("unexpected account %+v", acct)
	}
	if _, err := store.Get(context.Background(), testAddr(3)); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreTransactionCommit(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		execOp(insertTransactionSQL, mockResult{rowsAffected: 1}),
		queryOp(selectAccountForUpdateSQL, mockRowsData{columns: []string{"address", "owner", "lamports", "data"}}),
		execOp(upsertAccountSQL, mockResult{rowsAffected: 1}),
		execOp(deleteAccountSQL, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.MarkProcessed(ctx, "tx-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if _, err := tx.Get(ctx, testAddr(1)); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_ = tx.Put(ctx, &Account{Address: testAddr(1), Owner: testAddr(9), Lamports: 1, Data: []byte{1}})
	_ = tx.Put(ctx, &Account{Address: testAddr(2)})
	if acct, err := tx.Get(ctx, testAddr(1)); err != nil || acct.Lamports != 1 {
		t.Fatalf("expected staged read, got %+v %v", acct, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestMySQLStoreDuplicateTransaction(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		{typ: opExec, query: insertTransactionSQL, err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}},
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.MarkProcessed(ctx, "tx-1"); xerrors.CodeOf(err) != xerrors.CodeDuplicateTransaction {
		t.Fatalf("expected duplicate transaction, got %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
}

func TestMySQLStoreRunMigrations(t *testing.T) {
	t.Parallel()

	steps, err := loadMigrationSteps(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(steps) != 1 || steps[0].version != "0001" || len(steps[0].statements) != 2 {
		t.Fatalf("unexpected migration steps %+v", steps)
	}

	ops := []mockOperation{
		execOp(createSchemaMigrationsSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(steps[0].statements[0], mockResult{}),
		execOp(steps[0].statements[1], mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func TestMySQLStoreSkipsAppliedMigrations(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(createSchemaMigrationsSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &MySQLStore{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func TestMigrationVersion(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"0001_create_ledger.sql": "0001",
		"0002.sql":               "0002",
	}
	for name, want := range cases {
		if got := migrationVersion(name); got != want {
			t.Fatalf("migrationVersion(%q) = %q, want %q", name, got, want)
		}
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-ledger-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation    { return mockOperation{typ: opBegin} }
func commitOp() mockOperation   { return mockOperation{typ: opCommit} }
func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()
	if got := int(atomic.LoadInt32(&d.idx)); got != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", got, len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, op.err
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.driver.next(opBegin, ""); err != nil {
		return nil, err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	_, err := t.driver.next(opCommit, "")
	return err
}

func (t *mockTx) Rollback() error {
	_, err := t.driver.next(opRollback, "")
	return err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
