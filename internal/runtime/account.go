package runtime

import (
	"bytes"

	"Awe-Chain/internal/address"
	"Awe-Chain/internal/ledger"
)

// AccountInfo is a program's view of one account within an invocation.
// Views of the same address share the underlying working copy.
type AccountInfo struct {
	Key        address.Address
	IsSigner   bool
	IsWritable bool
	Executable bool

	acct *ledger.Account
}

// Owner returns the program that owns the account.
func (a *AccountInfo) Owner() address.Address { return a.acct.Owner }

// Lamports returns the account balance.
func (a *AccountInfo) Lamports() uint64 { return a.acct.Lamports }

// Data returns the live data slice; in-place edits are visible to the runtime.
func (a *AccountInfo) Data() []byte { return a.acct.Data }

// DataLen returns the length of the account data.
func (a *AccountInfo) DataLen() int { return len(a.acct.Data) }

// IsAllocated reports whether the account carries data or belongs to a
// program other than the system program. A wallet that was only sent
// lamports is not allocated and can still be created.
func (a *AccountInfo) IsAllocated() bool {
	return len(a.acct.Data) > 0 || a.acct.Owner != SystemProgramID
}

// SetData replaces the account data.
func (a *AccountInfo) SetData(data []byte) { a.acct.Data = append([]byte(nil), data...) }

// SetLamports replaces the account balance.
func (a *AccountInfo) SetLamports(v uint64) { a.acct.Lamports = v }

// Assign transfers ownership to another program.
func (a *AccountInfo) Assign(owner address.Address) { a.acct.Owner = owner }

type accountState struct {
	owner    address.Address
	lamports uint64
	data     []byte
}

func snapshotOf(acct *ledger.Account) accountState {
	return accountState{owner: acct.Owner, lamports: acct.Lamports, data: append([]byte(nil), acct.Data...)}
}

func (s accountState) equal(acct *ledger.Account) bool {
	return s.owner == acct.Owner && s.lamports == acct.Lamports && bytes.Equal(s.data, acct.Data)
}
