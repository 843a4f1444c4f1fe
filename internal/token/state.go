package token

import (
	"encoding/binary"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
)

const (
	// MintSize is the packed length of a mint account.
	MintSize = 82
	// AccountSize is the packed length of a token account.
	AccountSize = 165
)

// AccountState tracks whether a token account may move funds.
type AccountState uint8

const (
	StateUninitialized AccountState = iota
	StateInitialized
	StateFrozen
)

func (s AccountState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateFrozen:
		return "frozen"
	default:
		return "uninitialized"
	}
}

// Mint describes a fungible token.
type Mint struct {
	MintAuthority   *address.Address `json:"mint_authority,omitempty"`
	Supply          uint64           `json:"supply"`
	Decimals        uint8            `json:"decimals"`
	Initialized     bool             `json:"initialized"`
	FreezeAuthority *address.Address `json:"freeze_authority,omitempty"`
}

// Account is a balance of one mint held for one owner.
type Account struct {
	Mint            address.Address  `json:"mint"`
	Owner           address.Address  `json:"owner"`
	Amount          uint64           `json:"amount"`
	Delegate        *address.Address `json:"delegate,omitempty"`
	State           AccountState     `json:"state"`
	DelegatedAmount uint64           `json:"delegated_amount"`
	CloseAuthority  *address.Address `json:"close_authority,omitempty"`
}

// Initialized reports whether the account has been set up for a mint.
func (a *Account) Initialized() bool { return a.State != StateUninitialized }

// Frozen reports whether the account is frozen.
func (a *Account) Frozen() bool { return a.State == StateFrozen }

// optional keys are packed as a 4-byte tag followed by 32 bytes.
func putOptional(dst []byte, key *address.Address) {
	if key == nil {
		binary.LittleEndian.PutUint32(dst, 0)
		clear(dst[4:36])
		return
	}
	binary.LittleEndian.PutUint32(dst, 1)
	copy(dst[4:36], key[:])
}

func getOptional(src []byte) *address.Address {
	if binary.LittleEndian.Uint32(src) == 0 {
		return nil
	}
	key, _ := address.FromBytes(src[4:36])
	return &key
}

// Pack encodes the mint into its fixed layout.
func (m *Mint) Pack() []byte {
	out := make([]byte, MintSize)
	putOptional(out[0:36], m.MintAuthority)
	binary.LittleEndian.PutUint64(out[36:44], m.Supply)
	out[44] = m.Decimals
	if m.Initialized {
		out[45] = 1
	}
	putOptional(out[46:82], m.FreezeAuthority)
	return out
}

// UnpackMint decodes a mint account.
func UnpackMint(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, xerrors.Newf(xerrors.CodeConstraintViolation, "mint data is %d bytes, want %d", len(data), MintSize)
	}
	return &Mint{
		MintAuthority:   getOptional(data[0:36]),
		Supply:          binary.LittleEndian.Uint64(data[36:44]),
		Decimals:        data[44],
		Initialized:     data[45] == 1,
		FreezeAuthority: getOptional(data[46:82]),
	}, nil
}

// Pack encodes the token account into its fixed layout. The native-token
// option at [109:121] is always empty.
func (a *Account) Pack() []byte {
	out := make([]byte, AccountSize)
	copy(out[0:32], a.Mint[:])
	copy(out[32:64], a.Owner[:])
	binary.LittleEndian.PutUint64(out[64:72], a.Amount)
	putOptional(out[72:108], a.Delegate)
	out[108] = byte(a.State)
	binary.LittleEndian.PutUint64(out[121:129], a.DelegatedAmount)
	putOptional(out[129:165], a.CloseAuthority)
	return out
}

// UnpackAccount decodes a token account.
func UnpackAccount(data []byte) (*Account, error) {
	if len(data) != AccountSize {
		return nil, xerrors.Newf(xerrors.CodeConstraintViolation, "token account data is %d bytes, want %d", len(data), AccountSize)
	}
	mint, _ := address.FromBytes(data[0:32])
	owner, _ := address.FromBytes(data[32:64])
	state := AccountState(data[108])
	if state > StateFrozen {
		return nil, xerrors.Newf(xerrors.CodeConstraintViolation, "invalid token account state %d", state)
	}
	return &Account{
		Mint:            mint,
		Owner:           owner,
		Amount:          binary.LittleEndian.Uint64(data[64:72]),
		Delegate:        getOptional(data[72:108]),
		State:           state,
		DelegatedAmount: binary.LittleEndian.Uint64(data[121:129]),
		CloseAuthority:  getOptional(data[129:165]),
	}, nil
}
