// Package awe is the client SDK for the agent-creator license gate. It builds
// and signs transactions for the awe, token and associated token programs and
// runs the common end-to-end flows against either a remote node (Client) or an
// in-process runtime (Local).
package awe

import (
	"context"

	"Awe-Chain/internal/address"
	"Awe-Chain/internal/ledger"
	"Awe-Chain/internal/runtime"
)

// Backend is the chain surface the flows need.
type Backend interface {
	Submit(ctx context.Context, tx *runtime.Transaction) (*runtime.Receipt, error)
	Account(ctx context.Context, addr address.Address) (*ledger.Account, error)
	Airdrop(ctx context.Context, addr address.Address, lamports uint64) (uint64, error)
}

// Local runs flows directly against a runtime in the same process.
type Local struct {
	Runtime *runtime.Runtime
}

// Submit implements Backend.
func (l Local) Submit(ctx context.Context, tx *runtime.Transaction) (*runtime.Receipt, error) {
	return l.Runtime.Execute(ctx, tx)
}

// Account implements Backend.
func (l Local) Account(ctx context.Context, addr address.Address) (*ledger.Account, error) {
	return l.Runtime.Account(ctx, addr)
}

// Airdrop implements Backend.
func (l Local) Airdrop(ctx context.Context, addr address.Address, lamports uint64) (uint64, error) {
	return l.Runtime.Airdrop(ctx, addr, lamports)
}

var _ Backend = Local{}
