package awe

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
)

// DiscriminatorSize prefixes every record and every instruction.
const DiscriminatorSize = 8

const (
	// MetadataSpace is discriminator, mint, collector and price.
	MetadataSpace = DiscriminatorSize + 32 + 32 + 8
	// CreatorSpace is discriminator and the one-byte agent count.
	CreatorSpace = DiscriminatorSize + 1
)

func discriminator(namespace, name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var out [DiscriminatorSize]byte
	copy(out[:], sum[:DiscriminatorSize])
	return out
}

var (
	metadataDiscriminator = discriminator("account", "AweMetadata")
	creatorDiscriminator  = discriminator("account", "AgentCreator")
)

// Metadata fixes the payment mint, collector and price for one authority.
type Metadata struct {
	Mint       address.Address `json:"mint"`
	Collector  address.Address `json:"collector"`
	AgentPrice uint64          `json:"agent_price"`
}

// Marshal encodes the record with its discriminator.
func (m *Metadata) Marshal() []byte {
	out := make([]byte, MetadataSpace)
	copy(out, metadataDiscriminator[:])
	copy(out[8:40], m.Mint[:])
	copy(out[40:72], m.Collector[:])
	binary.LittleEndian.PutUint64(out[72:80], m.AgentPrice)
	return out
}

// DecodeMetadata parses a metadata record.
func DecodeMetadata(data []byte) (*Metadata, error) {
	if len(data) < MetadataSpace || !bytes.Equal(data[:8], metadataDiscriminator[:]) {
		return nil, xerrors.New(xerrors.CodeConstraintViolation, "account is not a metadata record")
	}
	m := &Metadata{AgentPrice: binary.LittleEndian.Uint64(data[72:80])}
	copy(m.Mint[:], data[8:40])
	copy(m.Collector[:], data[40:72])
	return m, nil
}

// CreatorCounter counts the agents a user bought under one metadata.
type CreatorCounter struct {
	AgentCount uint8 `json:"agent_count"`
}

// Marshal encodes the record with its discriminator.
func (c *CreatorCounter) Marshal() []byte {
	out := make([]byte, CreatorSpace)
	copy(out, creatorDiscriminator[:])
	out[8] = c.AgentCount
	return out
}

// DecodeCreatorCounter parses a creator counter record.
func DecodeCreatorCounter(data []byte) (*CreatorCounter, error) {
	if len(data) < CreatorSpace || !bytes.Equal(data[:8], creatorDiscriminator[:]) {
		return nil, xerrors.New(xerrors.CodeConstraintViolation, "account is not a creator counter")
	}
	return &CreatorCounter{AgentCount: data[8]}, nil
}
