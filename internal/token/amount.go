package token

import (
	"math/big"
	"strings"

	xerrors "Awe-Chain/internal/errors"

	"github.com/shopspring/decimal"
)

// ToUIAmount scales a base-unit amount down by the mint's decimals.
func ToUIAmount(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
}

// ParseUIAmount parses a human amount such as "1.5" into base units.
func ParseUIAmount(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid token amount",
			xerrors.WithMetadata("amount", s))
	}
	return FromUIAmount(d, decimals)
}

// FromUIAmount converts a human amount into base units. Amounts that are
// negative, carry more precision than the mint, or exceed u64 are rejected.
func FromUIAmount(d decimal.Decimal, decimals uint8) (uint64, error) {
	if d.IsNegative() {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "token amount is negative",
			xerrors.WithMetadata("amount", d.String()))
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "amount %s has more than %d decimal places", d, decimals)
	}
	base := scaled.BigInt()
	if !base.IsUint64() {
		return 0, xerrors.New(xerrors.CodeOverflow, "token amount exceeds u64",
			xerrors.WithMetadata("amount", d.String()))
	}
	return base.Uint64(), nil
}
