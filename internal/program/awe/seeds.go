package awe

import (
	"Awe-Chain/internal/address"
)

// ProgramID is the awe program id.
var ProgramID = address.MustParse("6RNWX7FVHCbiw7ivee5amUt4CzsCGkoj5T2QZdVWWYkh")

// Seed labels. Every program-owned address is one of these labels followed
// by zero or more account keys.
const (
	MetadataSeed = "awe_metadata"
	CreatorSeed  = "agent_creator"
	DelegateSeed = "delegate"
)

func metadataSeeds(authority address.Address) [][]byte {
	return [][]byte{[]byte(MetadataSeed), authority.Bytes()}
}

func creatorSeeds(metadata, user address.Address) [][]byte {
	return [][]byte{[]byte(CreatorSeed), metadata.Bytes(), user.Bytes()}
}

func delegateSeeds() [][]byte {
	return [][]byte{[]byte(DelegateSeed)}
}

// FindMetadataAddress derives the metadata record of authority.
func FindMetadataAddress(authority address.Address) (address.Address, uint8) {
	return address.MustFindProgramAddress(metadataSeeds(authority), ProgramID)
}

// FindCreatorAddress derives the creator counter of user under metadata.
func FindCreatorAddress(metadata, user address.Address) (address.Address, uint8) {
	return address.MustFindProgramAddress(creatorSeeds(metadata, user), ProgramID)
}

// FindDelegateAddress derives the delegate authority shared by every
// metadata and user. It has no storage and no private key.
func FindDelegateAddress() (address.Address, uint8) {
	return address.MustFindProgramAddress(delegateSeeds(), ProgramID)
}

// MetadataAddress is FindMetadataAddress without the bump.
func MetadataAddress(authority address.Address) address.Address {
	addr, _ := FindMetadataAddress(authority)
	return addr
}

// CreatorAddress is FindCreatorAddress without the bump.
func CreatorAddress(metadata, user address.Address) address.Address {
	addr, _ := FindCreatorAddress(metadata, user)
	return addr
}

// DelegateAddress is FindDelegateAddress without the bump.
func DelegateAddress() address.Address {
	addr, _ := FindDelegateAddress()
	return addr
}

// withBump appends the bump seed, producing the signer seeds a CPI needs.
func withBump(seeds [][]byte, bump uint8) [][]byte {
	return append(seeds, []byte{bump})
}
