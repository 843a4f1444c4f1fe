package awe

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"

	"Awe-Chain/internal/address"
	"Awe-Chain/internal/ledger"
	program "Awe-Chain/internal/program/awe"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/internal/token"
	"Awe-Chain/pkg/logger"
)

// Session runs multi-step flows against a Backend.
type Session struct {
	backend Backend
	logger  *slog.Logger
}

// NewSession binds the flows to backend.
func NewSession(backend Backend) *Session {
	return &Session{backend: backend, logger: logger.Named("sdk")}
}

// Backend returns the underlying backend.
func (s *Session) Backend() Backend { return s.backend }

// AddressOf returns the address of a signing key.
func AddressOf(key ed25519.PrivateKey) address.Address {
	return address.FromPublicKey(key.Public().(ed25519.PublicKey))
}

// Send signs the instructions with signers and submits them as one transaction.
func (s *Session) Send(ctx context.Context, signers []ed25519.PrivateKey, ixs ...runtime.Instruction) (*runtime.Receipt, error) {
	tx := runtime.NewTransaction(ixs...)
	tx.Sign(signers...)
	receipt, err := s.backend.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("transaction committed", slog.String("tx_id", receipt.ID), slog.Int("instructions", len(ixs)))
	return receipt, nil
}

// lookup returns nil without error when addr holds no allocated account.
// A system-owned address that was only sent lamports counts as missing.
func (s *Session) lookup(ctx context.Context, addr address.Address) (*ledger.Account, error) {
	acct, err := s.backend.Account(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !acct.Exists() || (len(acct.Data) == 0 && acct.Owner == runtime.SystemProgramID) {
		return nil, nil
	}
	return acct, nil
}

// Mint reads a mint account.
func (s *Session) Mint(ctx context.Context, mint address.Address) (*token.Mint, error) {
	acct, err := s.backend.Account(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("load mint %s: %w", mint, err)
	}
	return token.UnpackMint(acct.Data)
}

// TokenAccount reads a token account.
func (s *Session) TokenAccount(ctx context.Context, addr address.Address) (*token.Account, error) {
	acct, err := s.backend.Account(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("load token account %s: %w", addr, err)
	}
	return token.UnpackAccount(acct.Data)
}

// Metadata reads the metadata owned by authority.
func (s *Session) Metadata(ctx context.Context, authority address.Address) (*program.Metadata, error) {
	acct, err := s.backend.Account(ctx, program.MetadataAddress(authority))
	if err != nil {
		return nil, err
	}
	return program.DecodeMetadata(acct.Data)
}

// AgentCount reads the counter of user under the metadata owned by authority.
// It returns zero when the user has not bought the initial license.
func (s *Session) AgentCount(ctx context.Context, authority, user address.Address) (uint8, error) {
	acct, err := s.lookup(ctx, program.CreatorAddress(program.MetadataAddress(authority), user))
	if err != nil || acct == nil {
		return 0, err
	}
	counter, err := program.DecodeCreatorCounter(acct.Data)
	if err != nil {
		return 0, err
	}
	return counter.AgentCount, nil
}

// CreateMint allocates and initializes a new mint whose authority is payer.
func (s *Session) CreateMint(ctx context.Context, payer ed25519.PrivateKey, decimals uint8) (address.Address, error) {
	pub, mintKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return address.Zero, fmt.Errorf("generate mint key: %w", err)
	}
	mint, owner := address.FromPublicKey(pub), AddressOf(payer)
	_, err = s.Send(ctx, []ed25519.PrivateKey{payer, mintKey},
		runtime.CreateAccountInstruction(owner, mint, runtime.MinimumBalance(token.MintSize), token.MintSize, token.ProgramID),
		token.InitializeMintInstruction(mint, decimals, owner, nil),
	)
	if err != nil {
		return address.Zero, err
	}
	return mint, nil
}

// GetOrCreateATA returns the associated token account of owner for mint,
// creating it with payer's lamports when missing.
func (s *Session) GetOrCreateATA(ctx context.Context, payer ed25519.PrivateKey, owner, mint address.Address) (address.Address, error) {
	ata := token.AssociatedAddress(owner, mint)
	existing, err := s.lookup(ctx, ata)
	if err != nil {
		return address.Zero, err
	}
	if existing != nil {
		return ata, nil
	}
	if _, err := s.Send(ctx, []ed25519.PrivateKey{payer},
		token.CreateAssociatedIdempotentInstruction(AddressOf(payer), owner, mint)); err != nil {
		return address.Zero, err
	}
	return ata, nil
}

// MintTokens issues amount base units into owner's associated account,
// creating it first when needed. authority must be the mint authority.
func (s *Session) MintTokens(ctx context.Context, authority ed25519.PrivateKey, mint, owner address.Address, amount uint64) (address.Address, error) {
	payer := AddressOf(authority)
	ata := token.AssociatedAddress(owner, mint)
	_, err := s.Send(ctx, []ed25519.PrivateKey{authority},
		token.CreateAssociatedIdempotentInstruction(payer, owner, mint),
		token.MintToInstruction(mint, ata, payer, amount),
	)
	if err != nil {
		return address.Zero, err
	}
	return ata, nil
}

// GetOrCreateMetadata returns the metadata owned by authority, initializing
// it with mint, collector and price when it does not exist. created reports
// whether a transaction was sent.
func (s *Session) GetOrCreateMetadata(ctx context.Context, authority ed25519.PrivateKey, mint, collector address.Address, price uint64) (record *program.Metadata, created bool, err error) {
	signer := AddressOf(authority)
	existing, err := s.lookup(ctx, program.MetadataAddress(signer))
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		record, err := program.DecodeMetadata(existing.Data)
		return record, false, err
	}
	if _, err := s.Send(ctx, []ed25519.PrivateKey{authority},
		program.InitMetadataInstruction(signer, mint, collector, price)); err != nil {
		return nil, false, err
	}
	return &program.Metadata{Mint: mint, Collector: collector, AgentPrice: price}, true, nil
}

// UpdateMetadata overwrites the metadata owned by authority.
func (s *Session) UpdateMetadata(ctx context.Context, authority ed25519.PrivateKey, mint, collector address.Address, price uint64) (*runtime.Receipt, error) {
	return s.Send(ctx, []ed25519.PrivateKey{authority},
		program.UpdateMetadataInstruction(AddressOf(authority), mint, collector, price))
}

// AgentResult summarises a paid agent creation.
type AgentResult struct {
	Receipt     *runtime.Receipt
	Creator     address.Address
	AgentCount  uint8
	Initialized bool
}

// CreateAgent pays the current price of the metadata owned by
// metadataAuthority out of user's associated token account. The delegate
// authority is approved for exactly the price in the same transaction; the
// first purchase initializes the counter, later ones increment it.
func (s *Session) CreateAgent(ctx context.Context, user ed25519.PrivateKey, metadataAuthority address.Address) (*AgentResult, error) {
	userAddr := AddressOf(user)
	metadata := program.MetadataAddress(metadataAuthority)
	record, err := s.Metadata(ctx, metadataAuthority)
	if err != nil {
		return nil, fmt.Errorf("load metadata of %s: %w", metadataAuthority, err)
	}
	sender := token.AssociatedAddress(userAddr, record.Mint)
	creator := program.CreatorAddress(metadata, userAddr)

	existing, err := s.lookup(ctx, creator)
	if err != nil {
		return nil, err
	}
	paid := program.CreateAgentInstruction(userAddr, metadata, record.Mint, record.Collector, sender)
	if existing == nil {
		paid = program.InitCreatorInstruction(userAddr, metadata, record.Mint, record.Collector, sender)
	}
	receipt, err := s.Send(ctx, []ed25519.PrivateKey{user},
		token.ApproveInstruction(sender, program.DelegateAddress(), userAddr, record.AgentPrice),
		paid,
	)
	if err != nil {
		return nil, err
	}
	count, err := s.AgentCount(ctx, metadataAuthority, userAddr)
	if err != nil {
		return nil, err
	}
	return &AgentResult{Receipt: receipt, Creator: creator, AgentCount: count, Initialized: existing == nil}, nil
}
