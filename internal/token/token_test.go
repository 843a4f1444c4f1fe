package token

import (
	"context"
	"crypto/ed25519"
	"testing"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/ledger"
	"Awe-Chain/internal/runtime"
)

type harness struct {
	t     *testing.T
	rt    *runtime.Runtime
	store *ledger.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := ledger.NewMemoryStore()
	rt := runtime.New(store, ledger.NewMemoryLocker(0))
	if err := rt.Register(Program{}); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if err := rt.Register(AssociatedProgram{}); err != nil {
		t.Fatalf("register ata: %v", err)
	}
	return &harness{t: t, rt: rt, store: store}
}

func (h *harness) wallet(lamports uint64) (address.Address, ed25519.PrivateKey) {
	h.t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		h.t.Fatalf("generate key: %v", err)
	}
	addr := address.FromPublicKey(pub)
	if lamports > 0 {
		if _, err := h.rt.Airdrop(context.Background(), addr, lamports); err != nil {
			h.t.Fatalf("airdrop: %v", err)
		}
	}
	return addr, priv
}

func (h *harness) exec(signers []ed25519.PrivateKey, ixs ...runtime.Instruction) error {
	tx := runtime.NewTransaction(ixs...)
	tx.Sign(signers...)
	_, err := h.rt.Execute(context.Background(), tx)
	return err
}

func (h *harness) mustExec(signers []ed25519.PrivateKey, ixs ...runtime.Instruction) {
	h.t.Helper()
	if err := h.exec(signers, ixs...); err != nil {
		h.t.Fatalf("execute: %v", err)
	}
}

func (h *harness) createMint(payer address.Address, payerKey ed25519.PrivateKey, decimals uint8, freeze *address.Address) address.Address {
	h.t.Helper()
	mint, mintKey := h.wallet(0)
	h.mustExec([]ed25519.PrivateKey{payerKey, mintKey},
		runtime.CreateAccountInstruction(payer, mint, runtime.MinimumBalance(MintSize), MintSize, ProgramID),
		InitializeMintInstruction(mint, decimals, payer, freeze),
	)
	return mint
}

func (h *harness) account(addr address.Address) *Account {
	h.t.Helper()
	raw, err := h.store.Get(context.Background(), addr)
	if err != nil {
		h.t.Fatalf("get %s: %v", addr, err)
	}
	acct, err := UnpackAccount(raw.Data)
	if err != nil {
		h.t.Fatalf("unpack: %v", err)
	}
	return acct
}

func TestPackRoundTrip(t *testing.T) {
	t.Parallel()

	authority := address.MustParse("6RNWX7FVHCbiw7ivee5amUt4CzsCGkoj5T2QZdVWWYkh")
	mint := &Mint{MintAuthority: &authority, Supply: 42, Decimals: 6, Initialized: true}
	decoded, err := UnpackMint(mint.Pack())
	if err != nil {
		t.Fatalf("unpack mint: %v", err)
	}
	if *decoded.MintAuthority != authority || decoded.Supply != 42 || decoded.Decimals != 6 || decoded.FreezeAuthority != nil {
		t.Fatalf("unexpected mint %+v", decoded)
	}

	acct := &Account{Mint: authority, Owner: address.Zero, Amount: 7, Delegate: &authority, DelegatedAmount: 3, State: StateFrozen}
	back, err := UnpackAccount(acct.Pack())
	if err != nil {
		t.Fatalf("unpack account: %v", err)
	}
	if back.Amount != 7 || back.DelegatedAmount != 3 || *back.Delegate != authority || !back.Frozen() {
		t.Fatalf("unexpected account %+v", back)
	}
	if _, err := UnpackAccount(make([]byte, 10)); err == nil {
		t.Fatal("expected short data error")
	}
}

func TestMintTransferAndDelegate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	alice, aliceKey := h.wallet(1_000_000_000)
	bob, bobKey := h.wallet(1_000_000_000)
	delegate, delegateKey := h.wallet(0)
	mint := h.createMint(alice, aliceKey, 6, nil)

	aliceATA := AssociatedAddress(alice, mint)
	bobATA := AssociatedAddress(bob, mint)
	h.mustExec([]ed25519.PrivateKey{aliceKey},
		CreateAssociatedInstruction(alice, alice, mint),
		CreateAssociatedInstruction(alice, bob, mint),
		MintToInstruction(mint, aliceATA, alice, 5_000_000),
	)
	if got := h.account(aliceATA); got.Amount != 5_000_000 || got.Owner != alice || got.Mint != mint {
		t.Fatalf("unexpected alice ata %+v", got)
	}

	h.mustExec([]ed25519.PrivateKey{aliceKey}, TransferCheckedInstruction(aliceATA, mint, bobATA, alice, 1_000_000, 6))
	if h.account(aliceATA).Amount != 4_000_000 || h.account(bobATA).Amount != 1_000_000 {
		t.Fatal("transfer did not move funds")
	}

	err := h.exec([]ed25519.PrivateKey{aliceKey}, TransferCheckedInstruction(aliceATA, mint, bobATA, alice, 1, 9))
	if xerrors.CodeOf(err) != CodeDecimalsMismatch {
		t.Fatalf("expected decimals mismatch, got %v", err)
	}
	err = h.exec([]ed25519.PrivateKey{aliceKey}, TransferCheckedInstruction(aliceATA, mint, bobATA, alice, 4_000_001, 6))
	if xerrors.CodeOf(err) != CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	err = h.exec([]ed25519.PrivateKey{bobKey}, TransferCheckedInstruction(aliceATA, mint, bobATA, bob, 1, 6))
	if xerrors.CodeOf(err) != CodeOwnerMismatch {
		t.Fatalf("expected owner mismatch, got %v", err)
	}

	h.mustExec([]ed25519.PrivateKey{aliceKey}, ApproveInstruction(aliceATA, delegate, alice, 300))
	h.mustExec([]ed25519.PrivateKey{delegateKey}, TransferCheckedInstruction(aliceATA, mint, bobATA, delegate, 200, 6))
	if got := h.account(aliceATA); got.DelegatedAmount != 100 || got.Delegate == nil || *got.Delegate != delegate {
		t.Fatalf("unexpected allowance %+v", got)
	}
	err = h.exec([]ed25519.PrivateKey{delegateKey}, TransferCheckedInstruction(aliceATA, mint, bobATA, delegate, 101, 6))
	if xerrors.CodeOf(err) != CodeInsufficientFunds {
		t.Fatalf("expected allowance exhausted, got %v", err)
	}
	h.mustExec([]ed25519.PrivateKey{delegateKey}, TransferCheckedInstruction(aliceATA, mint, bobATA, delegate, 100, 6))
	if got := h.account(aliceATA); got.Delegate != nil || got.DelegatedAmount != 0 {
		t.Fatalf("spent allowance must clear the delegate: %+v", got)
	}

	h.mustExec([]ed25519.PrivateKey{aliceKey}, ApproveInstruction(aliceATA, delegate, alice, 50))
	h.mustExec([]ed25519.PrivateKey{aliceKey}, RevokeInstruction(aliceATA, alice))
	err = h.exec([]ed25519.PrivateKey{delegateKey}, TransferCheckedInstruction(aliceATA, mint, bobATA, delegate, 1, 6))
	if xerrors.CodeOf(err) != CodeOwnerMismatch {
		t.Fatalf("expected revoked delegate to fail, got %v", err)
	}

	if total := h.account(aliceATA).Amount + h.account(bobATA).Amount; total != 5_000_000 {
		t.Fatalf("supply not conserved: %d", total)
	}
}

func TestMintMismatchAndFreeze(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	alice, aliceKey := h.wallet(1_000_000_000)
	bob, _ := h.wallet(0)
	mintA := h.createMint(alice, aliceKey, 6, &alice)
	mintB := h.createMint(alice, aliceKey, 6, nil)

	aliceA := AssociatedAddress(alice, mintA)
	bobB := AssociatedAddress(bob, mintB)
	h.mustExec([]ed25519.PrivateKey{aliceKey},
		CreateAssociatedInstruction(alice, alice, mintA),
		CreateAssociatedInstruction(alice, bob, mintB),
		MintToInstruction(mintA, aliceA, alice, 10),
	)

	err := h.exec([]ed25519.PrivateKey{aliceKey}, TransferCheckedInstruction(aliceA, mintA, bobB, alice, 1, 6))
	if xerrors.CodeOf(err) != CodeMintMismatch {
		t.Fatalf("expected mint mismatch, got %v", err)
	}

	bobA := AssociatedAddress(bob, mintA)
	h.mustExec([]ed25519.PrivateKey{aliceKey},
		CreateAssociatedIdempotentInstruction(alice, bob, mintA),
		CreateAssociatedIdempotentInstruction(alice, bob, mintA),
		FreezeAccountInstruction(aliceA, mintA, alice),
	)
	err = h.exec([]ed25519.PrivateKey{aliceKey}, TransferCheckedInstruction(aliceA, mintA, bobA, alice, 1, 6))
	if xerrors.CodeOf(err) != CodeAccountFrozen {
		t.Fatalf("expected frozen account, got %v", err)
	}
	h.mustExec([]ed25519.PrivateKey{aliceKey}, ThawAccountInstruction(aliceA, mintA, alice))
	h.mustExec([]ed25519.PrivateKey{aliceKey}, TransferCheckedInstruction(aliceA, mintA, bobA, alice, 1, 6))

	err = h.exec([]ed25519.PrivateKey{aliceKey}, FreezeAccountInstruction(bobB, mintB, alice))
	if xerrors.CodeOf(err) != CodeOwnerMismatch {
		t.Fatalf("mint without freeze authority must reject freeze, got %v", err)
	}
}

func TestAssociatedAccountRules(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	alice, aliceKey := h.wallet(1_000_000_000)
	mint := h.createMint(alice, aliceKey, 0, nil)

	h.mustExec([]ed25519.PrivateKey{aliceKey}, CreateAssociatedInstruction(alice, alice, mint))
	err := h.exec([]ed25519.PrivateKey{aliceKey}, CreateAssociatedInstruction(alice, alice, mint))
	if xerrors.CodeOf(err) != xerrors.CodeAllocationFailed {
		t.Fatalf("expected allocation failure on second create, got %v", err)
	}

	ix := CreateAssociatedInstruction(alice, alice, mint)
	ix.Accounts[1] = runtime.Writable(AssociatedAddress(mint, alice))
	if err := h.exec([]ed25519.PrivateKey{aliceKey}, ix); xerrors.CodeOf(err) != xerrors.CodeInvalidSeed {
		t.Fatalf("expected invalid seed for wrong ata, got %v", err)
	}

	raw, err := h.store.Get(context.Background(), AssociatedAddress(alice, mint))
	if err != nil {
		t.Fatalf("get ata: %v", err)
	}
	if raw.Owner != ProgramID || raw.Lamports != runtime.MinimumBalance(AccountSize) {
		t.Fatalf("unexpected ata account %+v", raw)
	}
}

func TestMintToRequiresAuthority(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	alice, aliceKey := h.wallet(1_000_000_000)
	bob, bobKey := h.wallet(1_000_000_000)
	mint := h.createMint(alice, aliceKey, 2, nil)
	bobATA := AssociatedAddress(bob, mint)
	h.mustExec([]ed25519.PrivateKey{bobKey}, CreateAssociatedInstruction(bob, bob, mint))

	err := h.exec([]ed25519.PrivateKey{bobKey}, MintToInstruction(mint, bobATA, bob, 1))
	if xerrors.CodeOf(err) != CodeOwnerMismatch {
		t.Fatalf("expected owner mismatch, got %v", err)
	}
	err = h.exec([]ed25519.PrivateKey{aliceKey}, MintToInstruction(mint, bobATA, alice, ^uint64(0)))
	if err != nil {
		t.Fatalf("mint max: %v", err)
	}
	err = h.exec([]ed25519.PrivateKey{aliceKey}, MintToInstruction(mint, bobATA, alice, 1))
	if xerrors.CodeOf(err) != xerrors.CodeOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestUIAmountConversion(t *testing.T) {
	t.Parallel()

	if got := ToUIAmount(1_500_000, 6).String(); got != "1.5" {
		t.Fatalf("ui amount = %s", got)
	}
	if got := ToUIAmount(42, 0).String(); got != "42" {
		t.Fatalf("ui amount = %s", got)
	}
	amount, err := ParseUIAmount(" 2.000001 ", 6)
	if err != nil || amount != 2_000_001 {
		t.Fatalf("parse = %d %v", amount, err)
	}
	if _, err := ParseUIAmount("0.0000001", 6); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected precision error, got %v", err)
	}
	if _, err := ParseUIAmount("-1", 6); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected negative error, got %v", err)
	}
	if _, err := ParseUIAmount("18446744073709551616", 0); xerrors.CodeOf(err) != xerrors.CodeOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := ParseUIAmount("abc", 6); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected parse error, got %v", err)
	}
}
