package token

import (
	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/runtime"
)

// AssociatedProgramID is the associated token account program id.
var AssociatedProgramID = address.MustParse("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

const (
	ataCreate           byte = 0
	ataCreateIdempotent byte = 1
)

func associatedSeeds(wallet, mint address.Address) [][]byte {
	return [][]byte{wallet[:], ProgramID[:], mint[:]}
}

// FindAssociatedAddress derives the canonical token account of wallet for mint.
func FindAssociatedAddress(wallet, mint address.Address) (address.Address, uint8) {
	return address.MustFindProgramAddress(associatedSeeds(wallet, mint), AssociatedProgramID)
}

// AssociatedAddress is FindAssociatedAddress without the bump.
func AssociatedAddress(wallet, mint address.Address) address.Address {
	addr, _ := FindAssociatedAddress(wallet, mint)
	return addr
}

func associatedInstruction(tag byte, payer, wallet, mint address.Address) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: AssociatedProgramID,
		Accounts: []runtime.AccountMeta{
			runtime.Signer(payer),
			runtime.Writable(AssociatedAddress(wallet, mint)),
			runtime.Readonly(wallet),
			runtime.Readonly(mint),
			runtime.Readonly(runtime.SystemProgramID),
			runtime.Readonly(ProgramID),
		},
		Data: []byte{tag},
	}
}

// CreateAssociatedInstruction creates the associated account and fails if it exists.
func CreateAssociatedInstruction(payer, wallet, mint address.Address) runtime.Instruction {
	return associatedInstruction(ataCreate, payer, wallet, mint)
}

// CreateAssociatedIdempotentInstruction succeeds when a matching account already exists.
func CreateAssociatedIdempotentInstruction(payer, wallet, mint address.Address) runtime.Instruction {
	return associatedInstruction(ataCreateIdempotent, payer, wallet, mint)
}

// AssociatedProgram allocates token accounts at addresses derived from
// (wallet, token program, mint).
type AssociatedProgram struct{}

// ID implements runtime.Program.
func (AssociatedProgram) ID() address.Address { return AssociatedProgramID }

// Name implements runtime.Program.
func (AssociatedProgram) Name() string { return "associated-token" }

// Process implements runtime.Program.
func (AssociatedProgram) Process(ic *runtime.InvokeContext, accounts []*runtime.AccountInfo, data []byte) error {
	tag := ataCreate
	if len(data) > 0 {
		tag = data[0]
	}
	if tag != ataCreate && tag != ataCreateIdempotent {
		return xerrors.Newf(xerrors.CodeInvalidInstruction, "unknown associated token instruction %d", tag)
	}
	if len(accounts) < 6 {
		return xerrors.New(xerrors.CodeInvalidInstruction, "associated token instruction needs 6 accounts")
	}
	payer, ata, wallet, mint, system, tokenProgram := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4], accounts[5]
	if system.Key != runtime.SystemProgramID || tokenProgram.Key != ProgramID {
		return xerrors.New(xerrors.CodeConstraintViolation, "unexpected program account")
	}

	seeds := associatedSeeds(wallet.Key, mint.Key)
	expected, bump := address.MustFindProgramAddress(seeds, AssociatedProgramID)
	if ata.Key != expected {
		return xerrors.New(xerrors.CodeInvalidSeed, "associated account address mismatch",
			xerrors.WithMetadata("expected", expected.String()),
			xerrors.WithMetadata("actual", ata.Key.String()))
	}

	if ata.IsAllocated() && tag == ataCreateIdempotent {
		existing, err := LoadAccount(ata)
		if err != nil {
			return err
		}
		if existing.Owner != wallet.Key || existing.Mint != mint.Key {
			return xerrors.New(xerrors.CodeConstraintViolation, "existing associated account does not match wallet and mint")
		}
		return nil
	}

	signer := append(seeds, []byte{bump})
	create := runtime.CreateAccountInstruction(payer.Key, ata.Key, runtime.MinimumBalance(AccountSize), AccountSize, ProgramID)
	if err := ic.Invoke(create, signer); err != nil {
		return err
	}
	ic.Log("Initialize the associated token account")
	return ic.Invoke(InitializeAccountInstruction(ata.Key, mint.Key, wallet.Key))
}

var _ runtime.Program = AssociatedProgram{}
