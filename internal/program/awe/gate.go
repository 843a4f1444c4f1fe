package awe

import (
	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/internal/token"
)

// payAgentPrice moves the stored agent price from the sender to the
// collector, signed by the delegate authority. Decimals come from the live
// mint loaded during validation.
func payAgentPrice(ic *runtime.InvokeContext, a *creatorAccounts) error {
	ix := token.TransferCheckedInstruction(a.sender.Key, a.mint.Key, a.collector.Key, a.delegate.Key, a.record.AgentPrice, a.decimals)
	if err := ic.Invoke(ix, withBump(delegateSeeds(), a.delegateBump)); err != nil {
		return xerrors.Wrap(xerrors.CodeTransferFailed, err, "agent price transfer rejected",
			xerrors.WithMetadata("cause", string(xerrors.CodeOf(err))),
			xerrors.WithMetadata("sender", a.sender.Key.String()))
	}
	return nil
}

// allocate creates a program-owned record at a derived address, paid by payer.
func allocate(ic *runtime.InvokeContext, payer, target address.Address, space int, signerSeeds [][]byte) error {
	ix := runtime.CreateAccountInstruction(payer, target, runtime.MinimumBalance(space), uint64(space), ProgramID)
	return ic.Invoke(ix, signerSeeds)
}
