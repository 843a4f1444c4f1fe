package token

import (
	"encoding/binary"

	"Awe-Chain/internal/address"
	"Awe-Chain/internal/runtime"
)

// ProgramID is the token program id.
var ProgramID = address.MustParse("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

const (
	ixInitializeMint    byte = 0
	ixInitializeAccount byte = 1
	ixApprove           byte = 4
	ixRevoke            byte = 5
	ixMintTo            byte = 7
	ixFreezeAccount     byte = 10
	ixThawAccount       byte = 11
	ixTransferChecked   byte = 12
)

// InitializeMintInstruction sets up an allocated mint account.
func InitializeMintInstruction(mint address.Address, decimals uint8, mintAuthority address.Address, freezeAuthority *address.Address) runtime.Instruction {
	data := make([]byte, 2+32+36)
	data[0] = ixInitializeMint
	data[1] = decimals
	copy(data[2:34], mintAuthority[:])
	putOptional(data[34:70], freezeAuthority)
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.Writable(mint)},
		Data:      data,
	}
}

// InitializeAccountInstruction binds an allocated token account to mint and owner.
func InitializeAccountInstruction(account, mint, owner address.Address) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.Writable(account), runtime.Readonly(mint), runtime.Readonly(owner)},
		Data:      []byte{ixInitializeAccount},
	}
}

func amountData(tag byte, amount uint64, extra ...byte) []byte {
	data := make([]byte, 9, 9+len(extra))
	data[0] = tag
	binary.LittleEndian.PutUint64(data[1:], amount)
	return append(data, extra...)
}

// ApproveInstruction lets delegate spend up to amount from source.
func ApproveInstruction(source, delegate, owner address.Address, amount uint64) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.Writable(source), runtime.Readonly(delegate), runtime.ReadonlySigner(owner)},
		Data:      amountData(ixApprove, amount),
	}
}

// RevokeInstruction clears any delegate on source.
func RevokeInstruction(source, owner address.Address) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.Writable(source), runtime.ReadonlySigner(owner)},
		Data:      []byte{ixRevoke},
	}
}

// MintToInstruction issues new tokens into destination.
func MintToInstruction(mint, destination, authority address.Address, amount uint64) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.Writable(mint), runtime.Writable(destination), runtime.ReadonlySigner(authority)},
		Data:      amountData(ixMintTo, amount),
	}
}

// FreezeAccountInstruction blocks transfers out of and into account.
func FreezeAccountInstruction(account, mint, freezeAuthority address.Address) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.Writable(account), runtime.Readonly(mint), runtime.ReadonlySigner(freezeAuthority)},
		Data:      []byte{ixFreezeAccount},
	}
}

// ThawAccountInstruction reverses FreezeAccountInstruction.
func ThawAccountInstruction(account, mint, freezeAuthority address.Address) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts:  []runtime.AccountMeta{runtime.Writable(account), runtime.Readonly(mint), runtime.ReadonlySigner(freezeAuthority)},
		Data:      []byte{ixThawAccount},
	}
}

// TransferCheckedInstruction moves amount from source to destination,
// asserting the mint and its decimals. authority is the owner or delegate.
func TransferCheckedInstruction(source, mint, destination, authority address.Address, amount uint64, decimals uint8) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			runtime.Writable(source),
			runtime.Readonly(mint),
			runtime.Writable(destination),
			runtime.ReadonlySigner(authority),
		},
		Data: amountData(ixTransferChecked, amount, decimals),
	}
}
