package awe

import (
	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/internal/token"
)

func requireCount(accounts []*runtime.AccountInfo, want int, ix string) error {
	if len(accounts) < want {
		return xerrors.Newf(xerrors.CodeInvalidInstruction, "%s expects %d accounts, got %d", ix, want, len(accounts))
	}
	return nil
}

func requireSigner(info *runtime.AccountInfo) error {
	if !info.IsSigner {
		return xerrors.New(xerrors.CodeUnauthorized, "signer did not sign the transaction",
			xerrors.WithMetadata("account", info.Key.String()))
	}
	return nil
}

func requireWritable(info *runtime.AccountInfo, role string) error {
	if !info.IsWritable {
		return xerrors.New(xerrors.CodeConstraintViolation, role+" must be writable",
			xerrors.WithMetadata("account", info.Key.String()))
	}
	return nil
}

func requireProgram(info *runtime.AccountInfo, id address.Address, role string) error {
	if info.Key != id || !info.Executable {
		return xerrors.New(xerrors.CodeConstraintViolation, role+" is not the expected program",
			xerrors.WithMetadata("account", info.Key.String()),
			xerrors.WithMetadata("expected", id.String()))
	}
	return nil
}

func requireDerived(info *runtime.AccountInfo, expected address.Address, role string) error {
	if info.Key != expected {
		return xerrors.New(xerrors.CodeInvalidSeed, role+" does not match its derived address",
			xerrors.WithMetadata("account", info.Key.String()),
			xerrors.WithMetadata("expected", expected.String()))
	}
	return nil
}

func requireOwnedRecord(info *runtime.AccountInfo, role string) error {
	if !info.IsAllocated() {
		return xerrors.New(xerrors.CodeAccountNotInitialized, role+" does not exist",
			xerrors.WithMetadata("account", info.Key.String()))
	}
	if info.Owner() != ProgramID {
		return xerrors.New(xerrors.CodeConstraintViolation, role+" is not owned by the awe program",
			xerrors.WithMetadata("account", info.Key.String()))
	}
	return nil
}

func loadMetadata(info *runtime.AccountInfo) (*Metadata, error) {
	if err := requireOwnedRecord(info, "metadata"); err != nil {
		return nil, err
	}
	return DecodeMetadata(info.Data())
}

func loadCreator(info *runtime.AccountInfo) (*CreatorCounter, error) {
	if err := requireOwnedRecord(info, "agent creator"); err != nil {
		return nil, err
	}
	return DecodeCreatorCounter(info.Data())
}

// loadTokenAccountOf decodes a token account and asserts it holds mint.
func loadTokenAccountOf(info *runtime.AccountInfo, mint address.Address, role string) (*token.Account, error) {
	acct, err := token.LoadAccount(info)
	if err != nil {
		return nil, err
	}
	if acct.Mint != mint {
		return nil, xerrors.New(xerrors.CodeConstraintViolation, role+" belongs to another mint",
			xerrors.WithMetadata("account", info.Key.String()),
			xerrors.WithMetadata("mint", acct.Mint.String()))
	}
	return acct, nil
}

// metadataAccounts is the account set of InitMetadata and UpdateMetadata.
type metadataAccounts struct {
	signer    *runtime.AccountInfo
	mint      *runtime.AccountInfo
	metadata  *runtime.AccountInfo
	collector *runtime.AccountInfo
	bump      uint8
}

func parseMetadataAccounts(accounts []*runtime.AccountInfo, ix string) (*metadataAccounts, error) {
	if err := requireCount(accounts, 5, ix); err != nil {
		return nil, err
	}
	a := &metadataAccounts{signer: accounts[0], mint: accounts[1], metadata: accounts[2], collector: accounts[3]}
	if err := requireSigner(a.signer); err != nil {
		return nil, err
	}
	if err := requireWritable(a.signer, "signer"); err != nil {
		return nil, err
	}
	if err := requireProgram(accounts[4], runtime.SystemProgramID, "system program"); err != nil {
		return nil, err
	}
	expected, bump := FindMetadataAddress(a.signer.Key)
	if err := requireDerived(a.metadata, expected, "metadata"); err != nil {
		return nil, err
	}
	a.bump = bump
	if err := requireWritable(a.metadata, "metadata"); err != nil {
		return nil, err
	}
	if _, err := token.LoadMint(a.mint); err != nil {
		return nil, err
	}
	if _, err := loadTokenAccountOf(a.collector, a.mint.Key, "collector"); err != nil {
		return nil, err
	}
	return a, nil
}

// creatorAccounts is the account set of InitCreator and CreateAgent.
type creatorAccounts struct {
	signer    *runtime.AccountInfo
	metadata  *runtime.AccountInfo
	mint      *runtime.AccountInfo
	collector *runtime.AccountInfo
	creator   *runtime.AccountInfo
	sender    *runtime.AccountInfo
	delegate  *runtime.AccountInfo

	record       *Metadata
	decimals     uint8
	creatorBump  uint8
	delegateBump uint8
}

func parseCreatorAccounts(accounts []*runtime.AccountInfo, ix string, init bool) (*creatorAccounts, error) {
	want := 8
	if init {
		want = 9
	}
	if err := requireCount(accounts, want, ix); err != nil {
		return nil, err
	}
	a := &creatorAccounts{
		signer:    accounts[0],
		metadata:  accounts[1],
		mint:      accounts[2],
		collector: accounts[3],
		creator:   accounts[4],
		sender:    accounts[5],
		delegate:  accounts[6],
	}
	if err := requireSigner(a.signer); err != nil {
		return nil, err
	}
	if err := requireProgram(accounts[7], token.ProgramID, "token program"); err != nil {
		return nil, err
	}
	if init {
		if err := requireWritable(a.signer, "signer"); err != nil {
			return nil, err
		}
		if err := requireProgram(accounts[8], runtime.SystemProgramID, "system program"); err != nil {
			return nil, err
		}
	}

	record, err := loadMetadata(a.metadata)
	if err != nil {
		return nil, err
	}
	if record.Mint != a.mint.Key {
		return nil, xerrors.New(xerrors.CodeConstraintViolation, "metadata mint does not match the mint account",
			xerrors.WithMetadata("expected", record.Mint.String()))
	}
	if record.Collector != a.collector.Key {
		return nil, xerrors.New(xerrors.CodeConstraintViolation, "metadata collector does not match the collector account",
			xerrors.WithMetadata("expected", record.Collector.String()))
	}
	a.record = record

	mint, err := token.LoadMint(a.mint)
	if err != nil {
		return nil, err
	}
	a.decimals = mint.Decimals
	if _, err := loadTokenAccountOf(a.collector, a.mint.Key, "collector"); err != nil {
		return nil, err
	}
	if _, err := loadTokenAccountOf(a.sender, a.mint.Key, "sender"); err != nil {
		return nil, err
	}
	for _, w := range []struct {
		info *runtime.AccountInfo
		role string
	}{{a.collector, "collector"}, {a.creator, "agent creator"}, {a.sender, "sender"}} {
		if err := requireWritable(w.info, w.role); err != nil {
			return nil, err
		}
	}

	expected, bump := FindCreatorAddress(a.metadata.Key, a.signer.Key)
	if err := requireDerived(a.creator, expected, "agent creator"); err != nil {
		return nil, err
	}
	a.creatorBump = bump

	delegate, delegateBump := FindDelegateAddress()
	if err := requireDerived(a.delegate, delegate, "delegate"); err != nil {
		return nil, err
	}
	if a.delegate.Owner() != runtime.SystemProgramID {
		return nil, xerrors.New(xerrors.CodeConstraintViolation, "delegate must be a system account")
	}
	a.delegateBump = delegateBump
	return a, nil
}
