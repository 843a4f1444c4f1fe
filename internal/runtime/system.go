package runtime

import (
	"encoding/binary"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common/math"
)

var (
	// SystemProgramID owns every wallet and every unallocated address.
	SystemProgramID = address.Zero
	// NativeLoaderID owns the synthetic accounts of registered programs.
	NativeLoaderID = address.MustParse("NativeLoader1111111111111111111111111111111")
)

const (
	// AccountStorageOverhead is the per-account byte overhead charged as rent.
	AccountStorageOverhead = 128
	// LamportsPerByte is the rent-exempt price of one stored byte.
	LamportsPerByte = 6960
	// MaxAccountDataLen bounds the space of a newly created account.
	MaxAccountDataLen = 10 * 1024 * 1024
)

// CodeInsufficientLamports marks a system transfer the payer cannot fund.
const CodeInsufficientLamports xerrors.Code = "INSUFFICIENT_LAMPORTS"

func init() {
	xerrors.Register(CodeInsufficientLamports, xerrors.Attributes{Message: "insufficient lamports", Severity: xerrors.SeverityInfo})
}

// MinimumBalance returns the rent-exempt balance for an account of space bytes.
func MinimumBalance(space int) uint64 {
	return (AccountStorageOverhead + uint64(space)) * LamportsPerByte
}

const (
	systemCreateAccount uint32 = 0
	systemAssign        uint32 = 1
	systemTransfer      uint32 = 2
)

// SystemProgram allocates accounts and moves lamports between wallets.
type SystemProgram struct{}

// ID implements Program.
func (SystemProgram) ID() address.Address { return SystemProgramID }

// Name implements Program.
func (SystemProgram) Name() string { return "system" }

// Process implements Program.
func (SystemProgram) Process(ic *InvokeContext, accounts []*AccountInfo, data []byte) error {
	if len(data) < 4 {
		return xerrors.New(xerrors.CodeInvalidInstruction, "system instruction too short")
	}
	tag, payload := binary.LittleEndian.Uint32(data), data[4:]
	switch tag {
	case systemCreateAccount:
		if len(payload) != 8+8+address.Size || len(accounts) < 2 {
			return xerrors.New(xerrors.CodeInvalidInstruction, "malformed create account")
		}
		lamports := binary.LittleEndian.Uint64(payload[0:8])
		space := binary.LittleEndian.Uint64(payload[8:16])
		owner, _ := address.FromBytes(payload[16:])
		return createAccount(ic, accounts[0], accounts[1], lamports, space, owner)
	case systemAssign:
		if len(payload) != address.Size || len(accounts) < 1 {
			return xerrors.New(xerrors.CodeInvalidInstruction, "malformed assign")
		}
		owner, _ := address.FromBytes(payload)
		target := accounts[0]
		if !target.IsSigner {
			return xerrors.New(xerrors.CodeUnauthorized, "assign requires the account signature",
				xerrors.WithMetadata("account", target.Key.String()))
		}
		if target.Owner() != SystemProgramID {
			return xerrors.New(xerrors.CodeConstraintViolation, "account is not owned by the system program")
		}
		target.Assign(owner)
		return nil
	case systemTransfer:
		if len(payload) != 8 || len(accounts) < 2 {
			return xerrors.New(xerrors.CodeInvalidInstruction, "malformed transfer")
		}
		return transferLamports(accounts[0], accounts[1], binary.LittleEndian.Uint64(payload))
	default:
		return xerrors.Newf(xerrors.CodeInvalidInstruction, "unknown system instruction %d", tag)
	}
}

func createAccount(ic *InvokeContext, funder, target *AccountInfo, lamports, space uint64, owner address.Address) error {
	if !funder.IsSigner || !target.IsSigner {
		return xerrors.New(xerrors.CodeUnauthorized, "create account requires funder and new account signatures")
	}
	if space > MaxAccountDataLen {
		return xerrors.Newf(xerrors.CodeAllocationFailed, "requested space %d exceeds %d", space, MaxAccountDataLen)
	}
	if target.IsAllocated() {
		return xerrors.New(xerrors.CodeAllocationFailed, "account already in use",
			xerrors.WithMetadata("account", target.Key.String()))
	}
	// A prefunded address keeps its balance; the funder only covers the shortfall.
	var shortfall uint64
	if target.Lamports() < lamports {
		shortfall = lamports - target.Lamports()
	}
	if funder.Lamports() < shortfall {
		return xerrors.New(xerrors.CodeAllocationFailed, "funder cannot cover the new account balance",
			xerrors.WithMetadata("funder", funder.Key.String()))
	}
	funder.SetLamports(funder.Lamports() - shortfall)
	target.SetLamports(target.Lamports() + shortfall)
	target.SetData(make([]byte, space))
	target.Assign(owner)
	ic.logs = append(ic.logs, "Program log: allocated "+target.Key.String())
	return nil
}

func transferLamports(from, to *AccountInfo, lamports uint64) error {
	if !from.IsSigner {
		return xerrors.New(xerrors.CodeUnauthorized, "transfer requires the sender signature",
			xerrors.WithMetadata("account", from.Key.String()))
	}
	if from.DataLen() > 0 {
		return xerrors.New(xerrors.CodeConstraintViolation, "transfer source must not carry data")
	}
	remaining, underflow := math.SafeSub(from.Lamports(), lamports)
	if underflow {
		return xerrors.New(CodeInsufficientLamports, "", xerrors.WithMetadata("account", from.Key.String()))
	}
	credited, overflow := math.SafeAdd(to.Lamports(), lamports)
	if overflow {
		return xerrors.New(xerrors.CodeOverflow, "recipient balance overflows")
	}
	from.SetLamports(remaining)
	to.SetLamports(credited)
	return nil
}

// CreateAccountInstruction funds and allocates newAccount for owner.
func CreateAccountInstruction(funder, newAccount address.Address, lamports, space uint64, owner address.Address) Instruction {
	data := make([]byte, 4+8+8+address.Size)
	binary.LittleEndian.PutUint32(data, systemCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []AccountMeta{Signer(funder), Signer(newAccount)},
		Data:      data,
	}
}

// AssignInstruction hands a system-owned account to another program.
func AssignInstruction(account, owner address.Address) Instruction {
	data := make([]byte, 4+address.Size)
	binary.LittleEndian.PutUint32(data, systemAssign)
	copy(data[4:], owner[:])
	return Instruction{ProgramID: SystemProgramID, Accounts: []AccountMeta{Signer(account)}, Data: data}
}

// TransferInstruction moves lamports between system-owned accounts.
func TransferInstruction(from, to address.Address, lamports uint64) Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data, systemTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []AccountMeta{Signer(from), Writable(to)},
		Data:      data,
	}
}
