package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
)

func testAddr(b byte) address.Address {
	var a address.Address
	a[0] = b
	a[31] = b
	return a
}

func TestMemoryStoreCommitAndRollback(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	owner := testAddr(9)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Put(ctx, &Account{Address: testAddr(1), Owner: owner, Lamports: 10, Data: []byte{1, 2}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Get(ctx, testAddr(1)); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("staged write must not be visible before commit, got %v", err)
	}
	staged, err := tx.Get(ctx, testAddr(1))
	if err != nil || staged.Lamports != 10 {
		t.Fatalf("tx must read its own writes: %+v %v", staged, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := store.Get(ctx, testAddr(1))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Owner != owner || got.Lamports != 10 || len(got.Data) != 2 {
		t.Fatalf("unexpected account %+v", got)
	}
	got.Data[0] = 0xff
	again, _ := store.Get(ctx, testAddr(1))
	if again.Data[0] != 1 {
		t.Fatal("Get must return a copy")
	}

	tx, _ = store.Begin(ctx)
	_ = tx.Put(ctx, &Account{Address: testAddr(1), Owner: owner, Lamports: 99})
	_ = tx.Put(ctx, &Account{Address: testAddr(2), Owner: owner, Lamports: 1})
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if acct, _ := store.Get(ctx, testAddr(1)); acct.Lamports != 10 {
		t.Fatalf("rollback leaked write: %+v", acct)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 account, got %d", store.Len())
	}
	if err := tx.Commit(); err == nil {
		t.Fatal("commit after rollback must fail")
	}
}

func TestMemoryStoreDeletesEmptyAccounts(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	tx, _ := store.Begin(ctx)
	_ = tx.Put(ctx, &Account{Address: testAddr(1), Lamports: 5})
	_ = tx.Commit()

	tx, _ = store.Begin(ctx)
	_ = tx.Put(ctx, &Account{Address: testAddr(1)})
	_ = tx.Commit()

	if _, err := store.Get(ctx, testAddr(1)); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("drained account should be removed, got %v", err)
	}
}

func TestMemoryStoreDuplicateTransaction(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	tx, _ := store.Begin(ctx)
	if err := tx.MarkProcessed(ctx, "tx-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := tx.MarkProcessed(ctx, "tx-1"); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate inside tx, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx, _ = store.Begin(ctx)
	err := tx.MarkProcessed(ctx, "tx-1")
	if xerrors.CodeOf(err) != xerrors.CodeDuplicateTransaction {
		t.Fatalf("expected duplicate code, got %v", err)
	}
	_ = tx.Rollback()

	tx, _ = store.Begin(ctx)
	if err := tx.MarkProcessed(ctx, ""); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestMemoryLockerSerializesOverlappingKeys(t *testing.T) {
	t.Parallel()

	locker := NewMemoryLocker(0)
	ctx := context.Background()
	keys := []address.Address{testAddr(3), testAddr(1), testAddr(2)}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// 每个协程以不同顺序传入键，排序后不会死锁。
			ordered := []address.Address{keys[i%3], keys[(i+1)%3], keys[(i+2)%3]}
			lease, err := locker.Acquire(ctx, ordered)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			lease.Release()
		}(i)
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxSeen)
	}
	locker.mu.Lock()
	remaining := len(locker.slots)
	locker.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected lock slots to be reclaimed, %d left", remaining)
	}
}

func TestMemoryLockerTimeout(t *testing.T) {
	t.Parallel()

	locker := NewMemoryLocker(20 * time.Millisecond)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, []address.Address{testAddr(1)})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.Err() != nil {
		t.Fatalf("memory lease reported %v", lease.Err())
	}
	if _, err := locker.Acquire(ctx, []address.Address{testAddr(2), testAddr(1)}); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}

	// 超时路径必须释放已获得的锁。
	other, err := locker.Acquire(ctx, []address.Address{testAddr(2)})
	if err != nil {
		t.Fatalf("key 2 should be free after timeout: %v", err)
	}
	other.Release()
	lease.Release()
	lease.Release()

	again, err := locker.Acquire(ctx, []address.Address{testAddr(1)})
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestRedisLockerDefaults(t *testing.T) {
	t.Parallel()

	l := newRedisLocker(nil, RedisLockerConfig{})
	if l.prefix != "awe:lock:" || l.ttl != 10*time.Second || l.retry != 20*time.Millisecond {
		t.Fatalf("unexpected defaults %+v", l)
	}
	if got := l.key(address.Zero); got != "awe:lock:11111111111111111111111111111111" {
		t.Fatalf("unexpected key %s", got)
	}
	if _, err := NewRedisLocker(context.Background(), RedisLockerConfig{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRedisLeaseRenewsUntilReleased(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		renewals int
		released bool
	)
	lease := startRedisLease(30*time.Millisecond, func(context.Context) (bool, error) {
		mu.Lock()
		renewals++
		mu.Unlock()
		return true, nil
	}, func() {
		mu.Lock()
		released = true
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)
	if err := lease.Err(); err != nil {
		t.Fatalf("healthy lease reported %v", err)
	}
	lease.Release()
	lease.Release()

	mu.Lock()
	defer mu.Unlock()
	if renewals == 0 || !released {
		t.Fatalf("expected renewals and release, got %d renewals released=%v", renewals, released)
	}
}

func TestRedisLeaseReportsLostLock(t *testing.T) {
	t.Parallel()

	lease := startRedisLease(30*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	}, func() {})
	defer lease.Release()

	deadline := time.After(time.Second)
	for lease.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("lost lock was never reported")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !errors.Is(lease.Err(), ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", lease.Err())
	}
}

func TestRedisLeaseExpiresWhenRenewalKeepsFailing(t *testing.T) {
	t.Parallel()

	lease := startRedisLease(30*time.Millisecond, func(context.Context) (bool, error) {
		return false, errors.New("connection refused")
	}, func() {})
	defer lease.Release()

	deadline := time.After(time.Second)
	for lease.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("expired lock was never reported")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if xerrors.CodeOf(lease.Err()) != xerrors.CodeLockTimeout {
		t.Fatalf("expected lock timeout, got %v", lease.Err())
	}
}
