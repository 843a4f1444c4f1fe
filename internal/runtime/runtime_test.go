package runtime

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/events"
	"Awe-Chain/internal/ledger"
)

var stubID = func() address.Address {
	var id address.Address
	copy(id[:], "stub-program-id-for-runtime-test")
	return id
}()

const (
	opWrite byte = iota
	opFail
	opCreateVault
	opMoveLamports
	opEmit
	opCreateVaultBadSeeds
)

// stubProgram exercises runtime behaviours from inside a program.
type stubProgram struct{}

func (stubProgram) ID() address.Address { return stubID }
func (stubProgram) Name() string        { return "stub" }

func (stubProgram) Process(ic *InvokeContext, accounts []*AccountInfo, data []byte) error {
	switch data[0] {
	case opWrite:
		copy(accounts[0].Data(), data[1:])
		return nil
	case opFail:
		return xerrors.New(xerrors.CodeInvalidInstruction, "stub failure")
	case opCreateVault, opCreateVaultBadSeeds:
		payer, vault := accounts[0], accounts[1]
		seeds := [][]byte{[]byte("vault"), payer.Key[:]}
		_, bump := address.MustFindProgramAddress(seeds, stubID)
		if data[0] == opCreateVaultBadSeeds {
			bump--
		}
		signer := append(seeds, []byte{bump})
		ix := CreateAccountInstruction(payer.Key, vault.Key, MinimumBalance(int(data[1])), uint64(data[1]), stubID)
		if err := ic.Invoke(ix, signer); err != nil {
			return err
		}
		vault.Data()[0] = 0xaa
		return nil
	case opMoveLamports:
		accounts[0].SetLamports(accounts[0].Lamports() - 1)
		accounts[1].SetLamports(accounts[1].Lamports() + 1)
		return nil
	case opEmit:
		ic.Log("hello %s", accounts[0].Key)
		ic.Emit("ProbeEmitted", map[string]string{"depth": "1"})
		return nil
	default:
		return xerrors.New(xerrors.CodeInvalidInstruction, "unknown stub op")
	}
}

type fixture struct {
	rt    *Runtime
	store *ledger.MemoryStore
	bus   *events.MemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	bus := events.NewMemoryBus(16)
	rt := New(store, ledger.NewMemoryLocker(0), WithPublisher(bus))
	if err := rt.Register(stubProgram{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &fixture{rt: rt, store: store, bus: bus}
}

func newWallet(t *testing.T) (address.Address, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return address.FromPublicKey(pub), priv
}

func (f *fixture) fund(t *testing.T, addr address.Address, lamports uint64) {
	t.Helper()
	if _, err := f.rt.Airdrop(context.Background(), addr, lamports); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, addr address.Address) uint64 {
	t.Helper()
	acct, err := f.store.Get(context.Background(), addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return acct.Lamports
}

func vaultFor(payer address.Address) address.Address {
	vault, _ := address.MustFindProgramAddress([][]byte{[]byte("vault"), payer[:]}, stubID)
	return vault
}

func createVaultTx(payer address.Address, op byte) *Transaction {
	return NewTransaction(Instruction{
		ProgramID: stubID,
		Accounts:  []AccountMeta{Signer(payer), Writable(vaultFor(payer)), Readonly(SystemProgramID)},
		Data:      []byte{op, 4},
	})
}

func TestSystemTransferAndSignatures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, aliceKey := newWallet(t)
	bob, _ := newWallet(t)
	f.fund(t, alice, 1000)
	ctx := context.Background()

	tx := NewTransaction(TransferInstruction(alice, bob, 400))
	if _, err := f.rt.Execute(ctx, tx); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized without signature, got %v", err)
	}

	_, mallory := newWallet(t)
	tx.Sign(mallory)
	if _, err := f.rt.Execute(ctx, tx); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized with wrong signer, got %v", err)
	}

	tx.Signatures = nil
	tx.Sign(aliceKey)
	receipt, err := f.rt.Execute(ctx, tx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if receipt.ID != tx.ID || len(receipt.Logs) == 0 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if f.balance(t, alice) != 600 || f.balance(t, bob) != 400 {
		t.Fatalf("unexpected balances alice=%d bob=%d", f.balance(t, alice), f.balance(t, bob))
	}

	if _, err := f.rt.Execute(ctx, tx); xerrors.CodeOf(err) != xerrors.CodeDuplicateTransaction {
		t.Fatalf("expected duplicate transaction, got %v", err)
	}

	overdraw := NewTransaction(TransferInstruction(alice, bob, 601))
	overdraw.Sign(aliceKey)
	if _, err := f.rt.Execute(ctx, overdraw); xerrors.CodeOf(err) != CodeInsufficientLamports {
		t.Fatalf("expected insufficient lamports, got %v", err)
	}
}

func TestTamperedMessageFailsVerification(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, aliceKey := newWallet(t)
	bob, _ := newWallet(t)
	f.fund(t, alice, 1000)

	tx := NewTransaction(TransferInstruction(alice, bob, 10))
	tx.Sign(aliceKey)
	tx.Instructions[0] = TransferInstruction(alice, bob, 999)
	if _, err := f.rt.Execute(context.Background(), tx); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("expected signature failure, got %v", err)
	}
	if f.balance(t, bob) != 0 {
		t.Fatal("tampered transfer must not apply")
	}
}

func TestCreateAccountWithDerivedSigner(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	payer, payerKey := newWallet(t)
	f.fund(t, payer, 10_000_000)
	ctx := context.Background()

	tx := createVaultTx(payer, opCreateVault)
	tx.Sign(payerKey)
	if _, err := f.rt.Execute(ctx, tx); err != nil {
		t.Fatalf("create vault: %v", err)
	}

	vault, err := f.store.Get(ctx, vaultFor(payer))
	if err != nil {
		t.Fatalf("get vault: %v", err)
	}
	if vault.Owner != stubID || len(vault.Data) != 4 || vault.Data[0] != 0xaa || vault.Lamports != MinimumBalance(4) {
		t.Fatalf("unexpected vault %+v", vault)
	}
	if f.balance(t, payer) != 10_000_000-MinimumBalance(4) {
		t.Fatalf("payer not debited: %d", f.balance(t, payer))
	}

	again := createVaultTx(payer, opCreateVault)
	again.Sign(payerKey)
	if _, err := f.rt.Execute(ctx, again); xerrors.CodeOf(err) != xerrors.CodeAllocationFailed {
		t.Fatalf("expected allocation failure for address in use, got %v", err)
	}
}

func TestCreateAccountRejectsWrongSeedsAndPoorPayer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	payer, payerKey := newWallet(t)
	f.fund(t, payer, 10_000_000)
	ctx := context.Background()

	tx := createVaultTx(payer, opCreateVaultBadSeeds)
	tx.Sign(payerKey)
	_, err := f.rt.Execute(ctx, tx)
	if code := xerrors.CodeOf(err); code != xerrors.CodeInvalidSeed {
		t.Fatalf("expected invalid seed, got %v", err)
	}

	poor, poorKey := newWallet(t)
	f.fund(t, poor, 10)
	tx = createVaultTx(poor, opCreateVault)
	tx.Sign(poorKey)
	if _, err := f.rt.Execute(ctx, tx); xerrors.CodeOf(err) != xerrors.CodeAllocationFailed {
		t.Fatalf("expected allocation failure, got %v", err)
	}
	if f.balance(t, poor) != 10 {
		t.Fatal("failed allocation must not debit the payer")
	}
}

func TestNonOwnerMutationsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, aliceKey := newWallet(t)
	bob, _ := newWallet(t)
	f.fund(t, alice, 100)
	f.fund(t, bob, 100)
	ctx := context.Background()

	// stub does not own alice's wallet, so it may neither debit nor write it.
	move := NewTransaction(Instruction{ProgramID: stubID, Accounts: []AccountMeta{Signer(alice), Writable(bob)}, Data: []byte{opMoveLamports}})
	move.Sign(aliceKey)
	if _, err := f.rt.Execute(ctx, move); xerrors.CodeOf(err) != xerrors.CodeConstraintViolation {
		t.Fatalf("expected constraint violation for foreign debit, got %v", err)
	}

	// a read-only account is immutable even for its owner's program.
	payer, payerKey := newWallet(t)
	f.fund(t, payer, 10_000_000)
	create := createVaultTx(payer, opCreateVault)
	create.Sign(payerKey)
	if _, err := f.rt.Execute(ctx, create); err != nil {
		t.Fatalf("create vault: %v", err)
	}
	write := NewTransaction(Instruction{ProgramID: stubID, Accounts: []AccountMeta{Readonly(vaultFor(payer)), ReadonlySigner(payer)}, Data: []byte{opWrite, 1}})
	write.Sign(payerKey)
	if _, err := f.rt.Execute(ctx, write); xerrors.CodeOf(err) != xerrors.CodeConstraintViolation {
		t.Fatalf("expected constraint violation for read-only write, got %v", err)
	}
}

func TestFailedInstructionRollsBackWholeTransaction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, aliceKey := newWallet(t)
	bob, _ := newWallet(t)
	f.fund(t, alice, 1000)

	tx := NewTransaction(
		TransferInstruction(alice, bob, 500),
		Instruction{ProgramID: stubID, Accounts: []AccountMeta{Readonly(alice)}, Data: []byte{opFail}},
	)
	tx.Sign(aliceKey)
	if _, err := f.rt.Execute(context.Background(), tx); xerrors.CodeOf(err) != xerrors.CodeInvalidInstruction {
		t.Fatalf("expected stub failure, got %v", err)
	}
	if f.balance(t, alice) != 1000 || f.balance(t, bob) != 0 {
		t.Fatal("partial transaction leaked into the ledger")
	}

	// the id was never committed, so a corrected resubmission is accepted.
	tx.Instructions = tx.Instructions[:1]
	tx.Signatures = nil
	tx.Sign(aliceKey)
	if _, err := f.rt.Execute(context.Background(), tx); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, aliceKey := newWallet(t)

	tx := NewTransaction(Instruction{ProgramID: stubID, Accounts: []AccountMeta{ReadonlySigner(alice)}, Data: []byte{opEmit}})
	tx.Sign(aliceKey)
	receipt, err := f.rt.Execute(context.Background(), tx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(receipt.Events) != 1 || receipt.Events[0].Type != "ProbeEmitted" || receipt.Events[0].Transaction != tx.ID {
		t.Fatalf("unexpected events %+v", receipt.Events)
	}
	recent := f.bus.Recent(0)
	if len(recent) != 1 || recent[0].Program != stubID.String() {
		t.Fatalf("event not published: %+v", recent)
	}

	failing := NewTransaction(
		Instruction{ProgramID: stubID, Accounts: []AccountMeta{ReadonlySigner(alice)}, Data: []byte{opEmit}},
		Instruction{ProgramID: stubID, Data: []byte{opFail}},
	)
	failing.Sign(aliceKey)
	if _, err := f.rt.Execute(context.Background(), failing); err == nil {
		t.Fatal("expected failure")
	}
	if len(f.bus.Recent(0)) != 1 {
		t.Fatal("events of a failed transaction must not be published")
	}
}

func TestUnknownProgramAndLimits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, aliceKey := newWallet(t)
	ctx := context.Background()

	tx := NewTransaction(Instruction{ProgramID: alice, Accounts: []AccountMeta{ReadonlySigner(alice)}})
	tx.Sign(aliceKey)
	if _, err := f.rt.Execute(ctx, tx); xerrors.CodeOf(err) != xerrors.CodeInvalidInstruction {
		t.Fatalf("expected unknown program, got %v", err)
	}
	if _, err := f.rt.Execute(ctx, &Transaction{ID: "x"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for empty tx, got %v", err)
	}
	if err := f.rt.Register(stubProgram{}); err == nil {
		t.Fatal("duplicate registration must fail")
	}
	if _, err := f.rt.Airdrop(ctx, stubID, 1); err == nil {
		t.Fatal("airdrop to program must fail")
	}
	if len(f.rt.Programs()) != 2 {
		t.Fatalf("expected stub and system, got %+v", f.rt.Programs())
	}
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	t.Parallel()

	alice, aliceKey := newWallet(t)
	bob, _ := newWallet(t)
	tx := NewTransaction(TransferInstruction(alice, bob, 7))
	tx.Sign(aliceKey)

	raw, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Transaction
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := decoded.verifySignatures(); err != nil {
		t.Fatalf("decoded transaction must still verify: %v", err)
	}
}

func TestConcurrentTransfersConserveLamports(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, aliceKey := newWallet(t)
	bob, bobKey := newWallet(t)
	f.fund(t, alice, 1000)
	f.fund(t, bob, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var tx *Transaction
			if i%2 == 0 {
				tx = NewTransaction(TransferInstruction(alice, bob, 10))
				tx.Sign(aliceKey)
			} else {
				tx = NewTransaction(TransferInstruction(bob, alice, 5))
				tx.Sign(bobKey)
			}
			if _, err := f.rt.Execute(context.Background(), tx); err != nil {
				t.Errorf("execute: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if a, b := f.balance(t, alice), f.balance(t, bob); a+b != 2000 || a != 1000-100+50 {
		t.Fatalf("unexpected balances alice=%d bob=%d", a, b)
	}
}

func TestCreateAccountOnPrefundedAddress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	for _, prefund := range []uint64{1, MinimumBalance(4) + 5} {
		payer, payerKey := newWallet(t)
		f.fund(t, payer, 10_000_000)
		f.fund(t, vaultFor(payer), prefund)

		tx := createVaultTx(payer, opCreateVault)
		tx.Sign(payerKey)
		if _, err := f.rt.Execute(ctx, tx); err != nil {
			t.Fatalf("create vault over %d lamports: %v", prefund, err)
		}
		vault, err := f.store.Get(ctx, vaultFor(payer))
		if err != nil {
			t.Fatalf("get vault: %v", err)
		}
		want := max(prefund, MinimumBalance(4))
		if vault.Owner != stubID || vault.Lamports != want || len(vault.Data) != 4 {
			t.Fatalf("unexpected vault %+v", vault)
		}
		if paid := 10_000_000 - f.balance(t, payer); paid != want-prefund {
			t.Fatalf("payer covered %d lamports, expected %d", paid, want-prefund)
		}
	}
}

type expiredLocker struct{}

func (expiredLocker) Acquire(context.Context, []address.Address) (ledger.Lease, error) {
	return expiredLease{}, nil
}

type expiredLease struct{}

func (expiredLease) Err() error { return xerrors.New(xerrors.CodeLockTimeout, "lock expired") }
func (expiredLease) Release()   {}

func TestExpiredLeaseAbortsCommit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, aliceKey := newWallet(t)
	bob, _ := newWallet(t)
	f.fund(t, alice, 1_000)
	ctx := context.Background()

	tx := NewTransaction(TransferInstruction(alice, bob, 300))
	tx.Sign(aliceKey)
	stale := New(f.store, expiredLocker{})
	if _, err := stale.Execute(ctx, tx); xerrors.CodeOf(err) != xerrors.CodeLockTimeout {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if f.balance(t, alice) != 1_000 || f.balance(t, bob) != 0 {
		t.Fatal("transfer committed without a valid lock")
	}

	// the aborted attempt must not burn the transaction id
	if _, err := f.rt.Execute(ctx, tx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.balance(t, bob) != 300 {
		t.Fatalf("bob has %d", f.balance(t, bob))
	}
}
