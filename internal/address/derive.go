package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	// MaxSeeds bounds the number of seeds, including the bump seed.
	MaxSeeds = 16
	// MaxSeedLen bounds each individual seed.
	MaxSeedLen = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	// ErrMaxSeedLengthExceeded is returned for a seed longer than MaxSeedLen
	// or a seed list longer than MaxSeeds.
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	// ErrOnCurve is returned when a seed/bump combination hashes onto the
	// ed25519 curve and therefore could have a private key.
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")
	// ErrNoViableBump is returned when every bump lands on the curve.
	ErrNoViableBump = errors.New("unable to find a viable program address bump")
)

// IsOnCurve reports whether b decodes to a valid ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != Size {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress hashes seeds (the bump, if any, passed as the last
// seed) together with the owning program id. The result must lie off the
// curve so that no private key can ever sign for it.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, fmt.Errorf("%w: %d seeds", ErrMaxSeedLengthExceeded, len(seeds))
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Address{}, fmt.Errorf("%w: seed of %d bytes", ErrMaxSeedLengthExceeded, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))
	sum := h.Sum(nil)
	if IsOnCurve(sum) {
		return Address{}, ErrOnCurve
	}
	return FromBytes(sum)
}

// FindProgramAddress searches bumps from 255 downwards and returns the first
// off-curve address together with its canonical bump.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Address{}, 0, fmt.Errorf("%w: %d seeds", ErrMaxSeedLengthExceeded, len(seeds))
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableBump
}

// MustFindProgramAddress is FindProgramAddress for seeds known to be valid.
func MustFindProgramAddress(seeds [][]byte, programID Address) (Address, uint8) {
	addr, bump, err := FindProgramAddress(seeds, programID)
	if err != nil {
		panic(fmt.Sprintf("address: derive: %v", err))
	}
	return addr, bump
}

// VerifyProgramAddress checks that expected is the derivation of seeds with
// the given bump under programID.
func VerifyProgramAddress(seeds [][]byte, bump uint8, programID, expected Address) bool {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	withBump[len(seeds)] = []byte{bump}
	addr, err := CreateProgramAddress(withBump, programID)
	return err == nil && addr == expected
}
