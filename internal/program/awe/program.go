// Package awe sells agent creator licenses paid for in a fungible token.
//
// An authority publishes a Metadata record fixing the payment mint, the
// collector token account and the agent price. Users then buy agents: the
// first purchase allocates their CreatorCounter, later ones increment it.
// Every purchase moves the price from the user's token account to the
// collector, signed by the program's delegate authority.
package awe

import (
	"encoding/binary"
	"fmt"
	"strings"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/internal/token"
)

// OverflowPolicy decides what happens when a creator buys a 256th agent.
type OverflowPolicy string

const (
	// OverflowReject fails the purchase with OVERFLOW.
	OverflowReject OverflowPolicy = "reject"
	// OverflowWrap wraps the count back to zero.
	OverflowWrap OverflowPolicy = "wrap"
)

// ParseOverflowPolicy accepts "reject", "wrap" or empty for reject.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverflowReject:
		return OverflowReject, nil
	case OverflowWrap:
		return OverflowWrap, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Instruction names as they appear in discriminators and logs.
const (
	InitMetadataName   = "init_awe_metadata"
	UpdateMetadataName = "update_awe_metadata"
	InitCreatorName    = "init_agent_creator"
	CreateAgentName    = "create_agent"
)

var (
	initMetadataDiscriminator   = discriminator("global", InitMetadataName)
	updateMetadataDiscriminator = discriminator("global", UpdateMetadataName)
	initCreatorDiscriminator    = discriminator("global", InitCreatorName)
	createAgentDiscriminator    = discriminator("global", CreateAgentName)
)

// Program is the awe program.
type Program struct {
	overflow OverflowPolicy
}

// Option configures the program.
type Option func(*Program)

// WithOverflowPolicy sets the agent count overflow behaviour.
func WithOverflowPolicy(policy OverflowPolicy) Option {
	return func(p *Program) {
		if policy != "" {
			p.overflow = policy
		}
	}
}

// New creates the program with the reject overflow policy unless overridden.
func New(opts ...Option) *Program {
	p := &Program{overflow: OverflowReject}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// ID implements runtime.Program.
func (p *Program) ID() address.Address { return ProgramID }

// Name implements runtime.Program.
func (p *Program) Name() string { return "awe" }

// OverflowPolicy reports the configured overflow behaviour.
func (p *Program) OverflowPolicy() OverflowPolicy { return p.overflow }

// Process implements runtime.Program.
func (p *Program) Process(ic *runtime.InvokeContext, accounts []*runtime.AccountInfo, data []byte) error {
	if len(data) < DiscriminatorSize {
		return xerrors.New(xerrors.CodeInvalidInstruction, "instruction data shorter than discriminator")
	}
	var disc [DiscriminatorSize]byte
	copy(disc[:], data)
	payload := data[DiscriminatorSize:]
	switch disc {
	case initMetadataDiscriminator:
		return p.initMetadata(ic, accounts, payload)
	case updateMetadataDiscriminator:
		return p.updateMetadata(ic, accounts, payload)
	case initCreatorDiscriminator:
		return p.initCreator(ic, accounts)
	case createAgentDiscriminator:
		return p.createAgent(ic, accounts)
	default:
		return xerrors.New(xerrors.CodeInvalidInstruction, "unknown awe instruction")
	}
}

func priceData(disc [DiscriminatorSize]byte, price uint64) []byte {
	data := make([]byte, DiscriminatorSize+8)
	copy(data, disc[:])
	binary.LittleEndian.PutUint64(data[DiscriminatorSize:], price)
	return data
}

// InitMetadataInstruction creates the metadata of authority.
func InitMetadataInstruction(authority, mint, collector address.Address, agentPrice uint64) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			runtime.Signer(authority),
			runtime.Readonly(mint),
			runtime.Writable(MetadataAddress(authority)),
			runtime.Readonly(collector),
			runtime.Readonly(runtime.SystemProgramID),
		},
		Data: priceData(initMetadataDiscriminator, agentPrice),
	}
}

// UpdateMetadataInstruction overwrites mint, collector and price of the
// metadata of authority.
func UpdateMetadataInstruction(authority, mint, collector address.Address, agentPrice uint64) runtime.Instruction {
	ix := InitMetadataInstruction(authority, mint, collector, agentPrice)
	ix.Data = priceData(updateMetadataDiscriminator, agentPrice)
	return ix
}

// InitCreatorInstruction pays for the first agent of user and allocates
// its creator counter.
func InitCreatorInstruction(user, metadata, mint, collector, sender address.Address) runtime.Instruction {
	ix := CreateAgentInstruction(user, metadata, mint, collector, sender)
	ix.Accounts[0] = runtime.Signer(user)
	ix.Accounts = append(ix.Accounts, runtime.Readonly(runtime.SystemProgramID))
	ix.Data = append([]byte(nil), initCreatorDiscriminator[:]...)
	return ix
}

// CreateAgentInstruction pays for one more agent of user.
func CreateAgentInstruction(user, metadata, mint, collector, sender address.Address) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: ProgramID,
		Accounts: []runtime.AccountMeta{
			runtime.ReadonlySigner(user),
			runtime.Readonly(metadata),
			runtime.Readonly(mint),
			runtime.Writable(collector),
			runtime.Writable(CreatorAddress(metadata, user)),
			runtime.Writable(sender),
			runtime.Readonly(DelegateAddress()),
			runtime.Readonly(token.ProgramID),
		},
		Data: append([]byte(nil), createAgentDiscriminator[:]...),
	}
}

var _ runtime.Program = (*Program)(nil)
