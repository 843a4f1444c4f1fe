package runtime

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

const (
	// MaxInstructions bounds the instructions carried by one transaction.
	MaxInstructions = 32
	// MaxAccountsPerInstruction bounds the account list of one instruction.
	MaxAccountsPerInstruction = 64
	// MaxInstructionData bounds the payload of one instruction.
	MaxInstructionData = 1232

	messageDomain = "awe-tx-v1"
)

// AccountMeta names one account an instruction touches, with its privileges.
type AccountMeta struct {
	Pubkey     address.Address `json:"pubkey"`
	IsSigner   bool            `json:"is_signer"`
	IsWritable bool            `json:"is_writable"`
}

// Signer builds a writable signer meta.
func Signer(addr address.Address) AccountMeta {
	return AccountMeta{Pubkey: addr, IsSigner: true, IsWritable: true}
}

// ReadonlySigner builds a read-only signer meta.
func ReadonlySigner(addr address.Address) AccountMeta {
	return AccountMeta{Pubkey: addr, IsSigner: true}
}

// Writable builds a writable non-signer meta.
func Writable(addr address.Address) AccountMeta {
	return AccountMeta{Pubkey: addr, IsWritable: true}
}

// Readonly builds a read-only non-signer meta.
func Readonly(addr address.Address) AccountMeta {
	return AccountMeta{Pubkey: addr}
}

// Instruction is one program invocation.
type Instruction struct {
	ProgramID address.Address `json:"program_id"`
	Accounts  []AccountMeta   `json:"accounts"`
	Data      hexutil.Bytes   `json:"data"`
}

// Signature pairs a signer with its ed25519 signature over the message.
type Signature struct {
	Pubkey    address.Address `json:"pubkey"`
	Signature hexutil.Bytes   `json:"signature"`
}

// Transaction is the unit of atomic execution.
type Transaction struct {
	ID           string        `json:"id"`
	Instructions []Instruction `json:"instructions"`
	Signatures   []Signature   `json:"signatures"`
}

// NewTransaction wraps instructions with a fresh transaction id.
func NewTransaction(instructions ...Instruction) *Transaction {
	return &Transaction{ID: uuid.NewString(), Instructions: instructions}
}

// Message returns the canonical bytes covered by every signature.
func (tx *Transaction) Message() []byte {
	var buf bytes.Buffer
	buf.WriteString(messageDomain)
	writeBytes(&buf, []byte(tx.ID))
	writeUint32(&buf, uint32(len(tx.Instructions)))
	for _, ix := range tx.Instructions {
		buf.Write(ix.ProgramID[:])
		writeUint32(&buf, uint32(len(ix.Accounts)))
		for _, meta := range ix.Accounts {
			buf.Write(meta.Pubkey[:])
			var flags byte
			if meta.IsSigner {
				flags |= 1
			}
			if meta.IsWritable {
				flags |= 2
			}
			buf.WriteByte(flags)
		}
		writeBytes(&buf, ix.Data)
	}
	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

// Sign adds or replaces the signature of every key over the current message.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) {
	msg := tx.Message()
	for _, key := range keys {
		pub := address.FromPublicKey(key.Public().(ed25519.PublicKey))
		sig := Signature{Pubkey: pub, Signature: ed25519.Sign(key, msg)}
		replaced := false
		for i := range tx.Signatures {
			if tx.Signatures[i].Pubkey == pub {
				tx.Signatures[i] = sig
				replaced = true
				break
			}
		}
		if !replaced {
			tx.Signatures = append(tx.Signatures, sig)
		}
	}
}

// RequiredSigners lists every account flagged as signer, in first-seen order.
func (tx *Transaction) RequiredSigners() []address.Address {
	seen := make(map[address.Address]struct{})
	var out []address.Address
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if !meta.IsSigner {
				continue
			}
			if _, ok := seen[meta.Pubkey]; ok {
				continue
			}
			seen[meta.Pubkey] = struct{}{}
			out = append(out, meta.Pubkey)
		}
	}
	return out
}

// validate checks structural limits.
func (tx *Transaction) validate() error {
	if tx == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "transaction is nil")
	}
	if tx.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "transaction id is empty")
	}
	if len(tx.ID) > 64 {
		return xerrors.New(xerrors.CodeInvalidArgument, "transaction id longer than 64 bytes")
	}
	if len(tx.Instructions) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "transaction has no instructions")
	}
	if len(tx.Instructions) > MaxInstructions {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "transaction has %d instructions, limit %d", len(tx.Instructions), MaxInstructions)
	}
	for i, ix := range tx.Instructions {
		if len(ix.Accounts) > MaxAccountsPerInstruction {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "instruction %d names %d accounts, limit %d", i, len(ix.Accounts), MaxAccountsPerInstruction)
		}
		if len(ix.Data) > MaxInstructionData {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "instruction %d carries %d bytes, limit %d", i, len(ix.Data), MaxInstructionData)
		}
	}
	return nil
}

// verifySignatures returns the set of keys whose signatures verify, failing
// if any declared signer is missing or any attached signature is bad.
func (tx *Transaction) verifySignatures() (map[address.Address]bool, error) {
	msg := tx.Message()
	signed := make(map[address.Address]bool, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		if len(sig.Signature) != ed25519.SignatureSize || !ed25519.Verify(sig.Pubkey.PublicKey(), msg, sig.Signature) {
			return nil, xerrors.New(xerrors.CodeUnauthorized, fmt.Sprintf("invalid signature for %s", sig.Pubkey),
				xerrors.WithMetadata("signer", sig.Pubkey.String()))
		}
		signed[sig.Pubkey] = true
	}
	for _, required := range tx.RequiredSigners() {
		if !signed[required] {
			return nil, xerrors.New(xerrors.CodeUnauthorized, fmt.Sprintf("missing signature for %s", required),
				xerrors.WithMetadata("signer", required.String()))
		}
	}
	return signed, nil
}
