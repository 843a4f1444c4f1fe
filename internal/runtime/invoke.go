package runtime

import (
	"context"
	"fmt"
	"strings"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/events"
	"Awe-Chain/internal/ledger"

	"github.com/ethereum/go-ethereum/common/math"
)

// Program is native code registered with the runtime under a fixed id.
type Program interface {
	ID() address.Address
	Name() string
	Process(ic *InvokeContext, accounts []*AccountInfo, data []byte) error
}

type privilege struct {
	signer   bool
	writable bool
}

type frame struct {
	program    address.Address
	infos      []*AccountInfo
	privileges map[address.Address]privilege
	pre        map[address.Address]accountState
}

func (f *frame) snapshot(working map[address.Address]*ledger.Account) {
	f.pre = make(map[address.Address]accountState, len(f.privileges))
	for key := range f.privileges {
		f.pre[key] = snapshotOf(working[key])
	}
}

// InvokeContext carries the state of one transaction through every program
// invocation, including cross-program calls.
type InvokeContext struct {
	ctx     context.Context
	rt      *Runtime
	txID    string
	working map[address.Address]*ledger.Account
	frames  []*frame
	logs    []string
	events  []events.Event
}

// Context returns the request context.
func (ic *InvokeContext) Context() context.Context { return ic.ctx }

// TransactionID returns the id of the executing transaction.
func (ic *InvokeContext) TransactionID() string { return ic.txID }

// ProgramID returns the id of the currently executing program.
func (ic *InvokeContext) ProgramID() address.Address {
	if len(ic.frames) == 0 {
		return address.Zero
	}
	return ic.frames[len(ic.frames)-1].program
}

// Depth returns the current invocation depth, 1 for top-level instructions.
func (ic *InvokeContext) Depth() int { return len(ic.frames) }

// Log appends a program log line.
func (ic *InvokeContext) Log(format string, args ...any) {
	ic.logs = append(ic.logs, "Program log: "+fmt.Sprintf(format, args...))
}

// Emit records a typed event, published only if the transaction commits.
func (ic *InvokeContext) Emit(eventType string, attrs map[string]string) {
	ic.events = append(ic.events, events.Event{
		Type:        eventType,
		Program:     ic.ProgramID().String(),
		Transaction: ic.txID,
		Attributes:  attrs,
		OccurredAt:  ic.rt.now().UTC(),
	})
}

// Invoke performs a cross-program call. Each entry of signerSeeds is a full
// seed list, bump included, proving the calling program controls that
// derived address so it may appear as a signer.
func (ic *InvokeContext) Invoke(ix Instruction, signerSeeds ...[][]byte) error {
	if len(ic.frames) == 0 {
		return xerrors.New(xerrors.CodeInvalidInstruction, "cross-program call outside of a program")
	}
	caller := ic.frames[len(ic.frames)-1]

	pdaSigners := make(map[address.Address]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		pda, err := address.CreateProgramAddress(seeds, caller.program)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidSeed, err, "signer seeds do not derive a program address")
		}
		pdaSigners[pda] = true
	}

	for _, meta := range ix.Accounts {
		granted, ok := caller.privileges[meta.Pubkey]
		if !ok {
			return xerrors.New(xerrors.CodeInvalidArgument, "cross-program call names an account the caller did not receive",
				xerrors.WithMetadata("account", meta.Pubkey.String()))
		}
		if meta.IsWritable && !granted.writable {
			return xerrors.New(xerrors.CodeConstraintViolation, "cross-program call escalates writable privilege",
				xerrors.WithMetadata("account", meta.Pubkey.String()))
		}
		if meta.IsSigner && !granted.signer && !pdaSigners[meta.Pubkey] {
			if len(signerSeeds) > 0 {
				return xerrors.New(xerrors.CodeInvalidSeed, "signer seeds do not reproduce the signing authority",
					xerrors.WithMetadata("account", meta.Pubkey.String()))
			}
			return xerrors.New(xerrors.CodeUnauthorized, "cross-program call escalates signer privilege",
				xerrors.WithMetadata("account", meta.Pubkey.String()))
		}
	}

	// 调用方到目前为止的修改先按调用方身份校验，回来后再以新状态为基准。
	if err := ic.verify(caller); err != nil {
		return err
	}
	err := ic.run(ix)
	caller.snapshot(ic.working)
	return err
}

func (ic *InvokeContext) run(ix Instruction) error {
	prog, ok := ic.rt.program(ix.ProgramID)
	if !ok {
		return xerrors.New(xerrors.CodeInvalidInstruction, "unknown program",
			xerrors.WithMetadata("program", ix.ProgramID.String()))
	}
	if len(ic.frames) >= ic.rt.maxDepth {
		return xerrors.Newf(xerrors.CodeInvalidInstruction, "call depth %d exceeds limit %d", len(ic.frames)+1, ic.rt.maxDepth)
	}

	f := &frame{
		program:    ix.ProgramID,
		infos:      make([]*AccountInfo, len(ix.Accounts)),
		privileges: make(map[address.Address]privilege, len(ix.Accounts)),
	}
	for i, meta := range ix.Accounts {
		acct, ok := ic.working[meta.Pubkey]
		if !ok {
			return xerrors.New(xerrors.CodeInvalidArgument, "instruction names an account outside the transaction",
				xerrors.WithMetadata("account", meta.Pubkey.String()))
		}
		f.infos[i] = &AccountInfo{
			Key:        meta.Pubkey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			Executable: ic.rt.IsProgram(meta.Pubkey),
			acct:       acct,
		}
		p := f.privileges[meta.Pubkey]
		p.signer = p.signer || meta.IsSigner
		p.writable = p.writable || meta.IsWritable
		f.privileges[meta.Pubkey] = p
	}
	f.snapshot(ic.working)

	ic.frames = append(ic.frames, f)
	ic.logs = append(ic.logs, fmt.Sprintf("Program %s invoke [%d]", ix.ProgramID, len(ic.frames)))
	err := prog.Process(ic, f.infos, ix.Data)
	if err == nil {
		err = ic.verify(f)
	}
	ic.frames = ic.frames[:len(ic.frames)-1]

	if err != nil {
		ic.logs = append(ic.logs, fmt.Sprintf("Program %s failed: %s", ix.ProgramID, strings.TrimSpace(err.Error())))
		ic.rt.observer.ObserveInstruction(prog.Name(), string(xerrors.CodeOf(err)))
		return err
	}
	ic.logs = append(ic.logs, fmt.Sprintf("Program %s success", ix.ProgramID))
	ic.rt.observer.ObserveInstruction(prog.Name(), "ok")
	return nil
}

// verify enforces what the frame's program may have changed: only writable
// accounts, data and ownership only on accounts it owned, debits only from
// accounts it owned, and no lamports created or destroyed.
func (ic *InvokeContext) verify(f *frame) error {
	var before, after uint64
	for key, pre := range f.pre {
		acct := ic.working[key]
		var overflow bool
		if before, overflow = math.SafeAdd(before, pre.lamports); overflow {
			return xerrors.New(xerrors.CodeOverflow, "lamport total overflows")
		}
		if after, overflow = math.SafeAdd(after, acct.Lamports); overflow {
			return xerrors.New(xerrors.CodeOverflow, "lamport total overflows")
		}
		if pre.equal(acct) {
			continue
		}

		priv := f.privileges[key]
		switch {
		case !priv.writable || ic.rt.IsProgram(key):
			return violation("read-only account modified", key, f.program)
		case pre.owner != acct.Owner && pre.owner != f.program:
			return violation("account ownership changed by non-owner", key, f.program)
		case !bytesEqual(pre.data, acct.Data) && pre.owner != f.program:
			return violation("account data modified by non-owner", key, f.program)
		case acct.Lamports < pre.lamports && pre.owner != f.program:
			return violation("lamports debited by non-owner", key, f.program)
		}
	}
	if before != after {
		return xerrors.Newf(xerrors.CodeConstraintViolation, "instruction changed total lamports from %d to %d", before, after)
	}
	return nil
}

func violation(msg string, key, program address.Address) error {
	return xerrors.New(xerrors.CodeConstraintViolation, msg,
		xerrors.WithMetadata("account", key.String()),
		xerrors.WithMetadata("program", program.String()))
}

func bytesEqual(a, b []byte) bool {
	return string(a) == string(b)
}
