package token

import (
	"encoding/binary"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/runtime"

	"github.com/ethereum/go-ethereum/common/math"
)

// Program implements mints, token accounts, delegation and checked transfers.
type Program struct{}

// ID implements runtime.Program.
func (Program) ID() address.Address { return ProgramID }

// Name implements runtime.Program.
func (Program) Name() string { return "token" }

// Process implements runtime.Program.
func (Program) Process(ic *runtime.InvokeContext, accounts []*runtime.AccountInfo, data []byte) error {
	if len(data) == 0 {
		return xerrors.New(xerrors.CodeInvalidInstruction, "empty token instruction")
	}
	tag, payload := data[0], data[1:]
	switch tag {
	case ixInitializeMint:
		if len(payload) != 1+32+36 || len(accounts) < 1 {
			return xerrors.New(xerrors.CodeInvalidInstruction, "malformed initialize mint")
		}
		authority, _ := address.FromBytes(payload[1:33])
		return initializeMint(accounts[0], payload[0], authority, getOptional(payload[33:69]))
	case ixInitializeAccount:
		if len(accounts) < 3 {
			return xerrors.New(xerrors.CodeInvalidInstruction, "malformed initialize account")
		}
		return initializeAccount(accounts[0], accounts[1], accounts[2])
	case ixApprove:
		amount, err := readAmount(payload, 0)
		if err != nil || len(accounts) < 3 {
			return xerrors.New(xerrors.CodeInvalidInstruction, "malformed approve")
		}
		return approve(ic, accounts[0], accounts[1], accounts[2], amount)
	case ixRevoke:
		if len(accounts) < 2 {
			return xerrors.New(xerrors.CodeInvalidInstruction, "malformed revoke")
		}
		return revoke(accounts[0], accounts[1])
	case ixMintTo:
		amount, err := readAmount(payload, 0)
		if err != nil || len(accounts) < 3 {
			return xerrors.New(xerrors.CodeInvalidInstruction, "malformed mint to")
		}
		return mintTo(ic, accounts[0], accounts[1], accounts[2], amount)
	case ixFreezeAccount, ixThawAccount:
		if len(accounts) < 3 {
			return xerrors.New(xerrors.CodeInvalidInstruction, "malformed freeze")
		}
		return setFrozen(accounts[0], accounts[1], accounts[2], tag == ixFreezeAccount)
	case ixTransferChecked:
		amount, err := readAmount(payload, 1)
		if err != nil || len(accounts) < 4 {
			return xerrors.New(xerrors.CodeInvalidInstruction, "malformed transfer checked")
		}
		return transferChecked(ic, accounts[0], accounts[1], accounts[2], accounts[3], amount, payload[8])
	default:
		return xerrors.Newf(xerrors.CodeInvalidInstruction, "unknown token instruction %d", tag)
	}
}

func readAmount(payload []byte, trailing int) (uint64, error) {
	if len(payload) != 8+trailing {
		return 0, xerrors.New(xerrors.CodeInvalidInstruction, "bad amount payload")
	}
	return binary.LittleEndian.Uint64(payload[:8]), nil
}

func requireOwned(info *runtime.AccountInfo) error {
	if info.Owner() != ProgramID {
		return xerrors.New(xerrors.CodeConstraintViolation, "account is not owned by the token program",
			xerrors.WithMetadata("account", info.Key.String()))
	}
	return nil
}

// LoadMint decodes an initialized mint owned by the token program.
func LoadMint(info *runtime.AccountInfo) (*Mint, error) {
	if err := requireOwned(info); err != nil {
		return nil, err
	}
	mint, err := UnpackMint(info.Data())
	if err != nil {
		return nil, err
	}
	if !mint.Initialized {
		return nil, xerrors.New(xerrors.CodeAccountNotInitialized, "mint is not initialized",
			xerrors.WithMetadata("account", info.Key.String()))
	}
	return mint, nil
}

// LoadAccount decodes an initialized token account owned by the token program.
func LoadAccount(info *runtime.AccountInfo) (*Account, error) {
	if err := requireOwned(info); err != nil {
		return nil, err
	}
	acct, err := UnpackAccount(info.Data())
	if err != nil {
		return nil, err
	}
	if !acct.Initialized() {
		return nil, xerrors.New(xerrors.CodeAccountNotInitialized, "token account is not initialized",
			xerrors.WithMetadata("account", info.Key.String()))
	}
	return acct, nil
}

func initializeMint(info *runtime.AccountInfo, decimals uint8, authority address.Address, freeze *address.Address) error {
	if err := requireOwned(info); err != nil {
		return err
	}
	existing, err := UnpackMint(info.Data())
	if err != nil {
		return err
	}
	if existing.Initialized {
		return xerrors.New(xerrors.CodeAllocationFailed, "mint already initialized")
	}
	mint := &Mint{MintAuthority: &authority, Decimals: decimals, Initialized: true, FreezeAuthority: freeze}
	info.SetData(mint.Pack())
	return nil
}

func initializeAccount(info, mintInfo, owner *runtime.AccountInfo) error {
	if err := requireOwned(info); err != nil {
		return err
	}
	existing, err := UnpackAccount(info.Data())
	if err != nil {
		return err
	}
	if existing.Initialized() {
		return xerrors.New(xerrors.CodeAllocationFailed, "token account already initialized")
	}
	if _, err := LoadMint(mintInfo); err != nil {
		return err
	}
	acct := &Account{Mint: mintInfo.Key, Owner: owner.Key, State: StateInitialized}
	info.SetData(acct.Pack())
	return nil
}

func approve(ic *runtime.InvokeContext, sourceInfo, delegate, owner *runtime.AccountInfo, amount uint64) error {
	source, err := LoadAccount(sourceInfo)
	if err != nil {
		return err
	}
	if source.Frozen() {
		return xerrors.New(CodeAccountFrozen, "")
	}
	if source.Owner != owner.Key || !owner.IsSigner {
		return xerrors.New(CodeOwnerMismatch, "approve must be signed by the account owner")
	}
	key := delegate.Key
	source.Delegate = &key
	source.DelegatedAmount = amount
	sourceInfo.SetData(source.Pack())
	ic.Log("Approve %d to %s", amount, key)
	return nil
}

func revoke(sourceInfo, owner *runtime.AccountInfo) error {
	source, err := LoadAccount(sourceInfo)
	if err != nil {
		return err
	}
	if source.Owner != owner.Key || !owner.IsSigner {
		return xerrors.New(CodeOwnerMismatch, "revoke must be signed by the account owner")
	}
	source.Delegate = nil
	source.DelegatedAmount = 0
	sourceInfo.SetData(source.Pack())
	return nil
}

func mintTo(ic *runtime.InvokeContext, mintInfo, destInfo, authority *runtime.AccountInfo, amount uint64) error {
	mint, err := LoadMint(mintInfo)
	if err != nil {
		return err
	}
	dest, err := LoadAccount(destInfo)
	if err != nil {
		return err
	}
	if dest.Mint != mintInfo.Key {
		return xerrors.New(CodeMintMismatch, "")
	}
	if dest.Frozen() {
		return xerrors.New(CodeAccountFrozen, "")
	}
	if mint.MintAuthority == nil || *mint.MintAuthority != authority.Key || !authority.IsSigner {
		return xerrors.New(CodeOwnerMismatch, "mint to must be signed by the mint authority")
	}
	supply, overflow := math.SafeAdd(mint.Supply, amount)
	if overflow {
		return xerrors.New(xerrors.CodeOverflow, "mint supply overflows")
	}
	balance, overflow := math.SafeAdd(dest.Amount, amount)
	if overflow {
		return xerrors.New(xerrors.CodeOverflow, "destination balance overflows")
	}
	mint.Supply, dest.Amount = supply, balance
	mintInfo.SetData(mint.Pack())
	destInfo.SetData(dest.Pack())
	ic.Log("MintTo %d", amount)
	return nil
}

func setFrozen(info, mintInfo, authority *runtime.AccountInfo, frozen bool) error {
	acct, err := LoadAccount(info)
	if err != nil {
		return err
	}
	mint, err := LoadMint(mintInfo)
	if err != nil {
		return err
	}
	if acct.Mint != mintInfo.Key {
		return xerrors.New(CodeMintMismatch, "")
	}
	if mint.FreezeAuthority == nil || *mint.FreezeAuthority != authority.Key || !authority.IsSigner {
		return xerrors.New(CodeOwnerMismatch, "freeze must be signed by the freeze authority")
	}
	if frozen == acct.Frozen() {
		return xerrors.New(xerrors.CodeConstraintViolation, "account already in requested state")
	}
	if frozen {
		acct.State = StateFrozen
	} else {
		acct.State = StateInitialized
	}
	info.SetData(acct.Pack())
	return nil
}

func transferChecked(ic *runtime.InvokeContext, sourceInfo, mintInfo, destInfo, authority *runtime.AccountInfo, amount uint64, decimals uint8) error {
	source, err := LoadAccount(sourceInfo)
	if err != nil {
		return err
	}
	dest, err := LoadAccount(destInfo)
	if err != nil {
		return err
	}
	mint, err := LoadMint(mintInfo)
	if err != nil {
		return err
	}
	if source.Mint != mintInfo.Key || dest.Mint != mintInfo.Key {
		return xerrors.New(CodeMintMismatch, "", xerrors.WithMetadata("mint", mintInfo.Key.String()))
	}
	if decimals != mint.Decimals {
		return xerrors.Newf(CodeDecimalsMismatch, "expected %d decimals, mint has %d", decimals, mint.Decimals)
	}
	if source.Frozen() || dest.Frozen() {
		return xerrors.New(CodeAccountFrozen, "")
	}
	if !authority.IsSigner {
		return xerrors.New(xerrors.CodeUnauthorized, "transfer authority did not sign")
	}

	remaining, underflow := math.SafeSub(source.Amount, amount)
	if underflow {
		return xerrors.Newf(CodeInsufficientFunds, "balance %d below %d", source.Amount, amount)
	}
	switch {
	case source.Owner == authority.Key:
	case source.Delegate != nil && *source.Delegate == authority.Key:
		allowance, short := math.SafeSub(source.DelegatedAmount, amount)
		if short {
			return xerrors.Newf(CodeInsufficientFunds, "delegated allowance %d below %d", source.DelegatedAmount, amount)
		}
		source.DelegatedAmount = allowance
		if allowance == 0 {
			source.Delegate = nil
		}
	default:
		return xerrors.New(CodeOwnerMismatch, "", xerrors.WithMetadata("authority", authority.Key.String()))
	}

	if sourceInfo.Key == destInfo.Key {
		sourceInfo.SetData(source.Pack())
		return nil
	}
	credited, overflow := math.SafeAdd(dest.Amount, amount)
	if overflow {
		return xerrors.New(xerrors.CodeOverflow, "destination balance overflows")
	}
	source.Amount, dest.Amount = remaining, credited
	sourceInfo.SetData(source.Pack())
	destInfo.SetData(dest.Pack())
	ic.Log("TransferChecked %d", amount)
	return nil
}

var _ runtime.Program = Program{}
