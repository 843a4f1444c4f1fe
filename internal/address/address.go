package address

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"

	"github.com/mr-tron/base58"
)

// Size is the length in bytes of every account address.
const Size = 32

// Address names an account in the ledger. Wallet addresses are ed25519 public
// keys; program-derived addresses are guaranteed to sit off the curve.
type Address [Size]byte

// Zero is the all-zero address, also used as the system program id.
var Zero Address

// ErrInvalidAddress is returned when text or bytes cannot be decoded.
var ErrInvalidAddress = errors.New("invalid address")

// FromBytes copies a 32-byte slice into an Address.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// FromPublicKey converts an ed25519 public key into an Address.
func FromPublicKey(pub ed25519.PublicKey) Address {
	var a Address
	copy(a[:], pub)
	return a
}

// Parse decodes a base58 address.
func Parse(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return FromBytes(raw)
}

// MustParse is Parse for package-level constants.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("address: %q: %v", s, err))
	}
	return a
}

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the raw address.
func (a Address) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, a[:])
	return out
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Zero
}

// PublicKey views the address as an ed25519 public key.
func (a Address) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(a.Bytes())
}

// MarshalText implements encoding.TextMarshaler so JSON/YAML carry base58.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Compare orders addresses bytewise.
func Compare(a, b Address) int {
	return bytes.Compare(a[:], b[:])
}

// SortUnique returns the distinct addresses of in, sorted ascending.
func SortUnique(in []Address) []Address {
	seen := make(map[Address]struct{}, len(in))
	out := make([]Address, 0, len(in))
	for _, a := range in {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return Compare(out[i], out[j]) < 0 })
	return out
}
