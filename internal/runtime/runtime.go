package runtime

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/events"
	"Awe-Chain/internal/ledger"
	"Awe-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common/math"
)

// Receipt is returned for every committed transaction.
type Receipt struct {
	ID     string         `json:"id"`
	Logs   []string       `json:"logs"`
	Events []events.Event `json:"events"`
}

// Observer receives execution outcomes, typically for metrics.
type Observer interface {
	ObserveTransaction(outcome string, code xerrors.Code, duration time.Duration)
	ObserveInstruction(program, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveTransaction(string, xerrors.Code, time.Duration) {}
func (nopObserver) ObserveInstruction(string, string)                      {}

// ProgramInfo describes a registered program.
type ProgramInfo struct {
	ID   address.Address `json:"id"`
	Name string          `json:"name"`
}

// Runtime executes signed transactions against the ledger. Each call runs as
// one critical section: locks, ledger transaction, instructions, commit.
type Runtime struct {
	store     ledger.Store
	locker    ledger.Locker
	publisher events.Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	maxDepth  int

	mu       sync.RWMutex
	programs map[address.Address]Program
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithPublisher publishes committed events.
func WithPublisher(p events.Publisher) Option {
	return func(r *Runtime) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithObserver receives execution outcomes.
func WithObserver(o Observer) Option {
	return func(r *Runtime) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithLogger overrides the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMaxDepth bounds nested cross-program calls.
func WithMaxDepth(depth int) Option {
	return func(r *Runtime) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// New creates a runtime with the system program pre-registered.
func New(store ledger.Store, locker ledger.Locker, opts ...Option) *Runtime {
	if locker == nil {
		locker = ledger.NewMemoryLocker(0)
	}
	r := &Runtime{
		store:     store,
		locker:    locker,
		publisher: events.Nop{},
		observer:  nopObserver{},
		logger:    logger.Named("runtime"),
		now:       time.Now,
		maxDepth:  4,
		programs:  make(map[address.Address]Program),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.programs[SystemProgramID] = SystemProgram{}
	return r
}

// Register adds a program. Ids must be unique.
func (r *Runtime) Register(p Program) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "program is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.programs[p.ID()]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, "program already registered",
			xerrors.WithMetadata("program", p.ID().String()))
	}
	r.programs[p.ID()] = p
	r.logger.Info("program registered", slog.String("program", p.ID().String()), slog.String("name", p.Name()))
	return nil
}

func (r *Runtime) program(id address.Address) (Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[id]
	return p, ok
}

// IsProgram reports whether addr is a registered program id.
func (r *Runtime) IsProgram(addr address.Address) bool {
	_, ok := r.program(addr)
	return ok
}

// Programs lists registered programs sorted by name.
func (r *Runtime) Programs() []ProgramInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProgramInfo, 0, len(r.programs))
	for id, p := range r.programs {
		out = append(out, ProgramInfo{ID: id, Name: p.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Account reads committed state. Registered programs read as executable
// accounts owned by the native loader.
func (r *Runtime) Account(ctx context.Context, addr address.Address) (*ledger.Account, error) {
	if r.IsProgram(addr) {
		return &ledger.Account{Address: addr, Owner: NativeLoaderID, Lamports: 1}, nil
	}
	return r.store.Get(ctx, addr)
}

// Execute verifies, runs and atomically commits a transaction.
func (r *Runtime) Execute(ctx context.Context, tx *Transaction) (*Receipt, error) {
	start := r.now()
	receipt, err := r.execute(ctx, tx)
	elapsed := r.now().Sub(start)

	attrs := []any{slog.Duration("duration", elapsed)}
	if tx != nil {
		attrs = append(attrs, slog.String("tx_id", tx.ID), slog.Int("instructions", len(tx.Instructions)))
		if signers := tx.RequiredSigners(); len(signers) > 0 {
			attrs = append(attrs, slog.String("fee_payer", signers[0].String()))
		}
	}
	if err != nil {
		code := xerrors.CodeOf(err)
		r.observer.ObserveTransaction("failed", code, elapsed)
		attrs = append(attrs, slog.String("code", string(code)), slog.String("error", err.Error()))
		logger.Audit().Warn("transaction rejected", attrs...)
		return nil, err
	}
	r.observer.ObserveTransaction("committed", "", elapsed)
	logger.Audit().Info("transaction committed", append(attrs, slog.Int("events", len(receipt.Events)))...)

	if len(receipt.Events) > 0 {
		if pubErr := r.publisher.Publish(ctx, receipt.Events...); pubErr != nil {
			r.logger.Warn("publish events failed", slog.String("tx_id", receipt.ID), slog.String("error", pubErr.Error()))
		}
	}
	return receipt, nil
}

func (r *Runtime) execute(ctx context.Context, tx *Transaction) (*Receipt, error) {
	if err := tx.validate(); err != nil {
		return nil, err
	}
	if _, err := tx.verifySignatures(); err != nil {
		return nil, err
	}

	keys := make([]address.Address, 0, 8)
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if !r.IsProgram(meta.Pubkey) {
				keys = append(keys, meta.Pubkey)
			}
		}
	}
	keys = address.SortUnique(keys)

	lease, err := r.locker.Acquire(ctx, keys)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	ltx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "begin ledger transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = ltx.Rollback()
		}
	}()

	if err := ltx.MarkProcessed(ctx, tx.ID); err != nil {
		return nil, err
	}

	ic := &InvokeContext{
		ctx:     ctx,
		rt:      r,
		txID:    tx.ID,
		working: make(map[address.Address]*ledger.Account, len(keys)),
	}
	loaded := make(map[address.Address]accountState, len(keys))
	for _, key := range keys {
		acct, err := ltx.Get(ctx, key)
		switch {
		case err == nil:
		case stdErrors.Is(err, ledger.ErrAccountNotFound):
			acct = &ledger.Account{Address: key, Owner: SystemProgramID}
		default:
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load account", xerrors.WithMetadata("account", key.String()))
		}
		ic.working[key] = acct
		loaded[key] = snapshotOf(acct)
	}
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if r.IsProgram(meta.Pubkey) {
				ic.working[meta.Pubkey] = &ledger.Account{Address: meta.Pubkey, Owner: NativeLoaderID, Lamports: 1}
			}
		}
	}

	for _, ix := range tx.Instructions {
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeLockTimeout, err, "request cancelled")
		}
		if err := ic.run(ix); err != nil {
			return nil, err
		}
	}

	for _, key := range keys {
		acct := ic.working[key]
		if loaded[key].equal(acct) {
			continue
		}
		if err := ltx.Put(ctx, acct); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "stage account", xerrors.WithMetadata("account", key.String()))
		}
	}
	if err := lease.Err(); err != nil {
		return nil, err
	}
	if err := ltx.Commit(); err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeDuplicateTransaction {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit ledger transaction")
	}
	committed = true

	return &Receipt{ID: tx.ID, Logs: ic.logs, Events: ic.events}, nil
}

// Airdrop credits lamports to addr from the faucet and returns the new balance.
func (r *Runtime) Airdrop(ctx context.Context, addr address.Address, lamports uint64) (uint64, error) {
	if lamports == 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "airdrop amount must be positive")
	}
	if r.IsProgram(addr) {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "cannot airdrop to a program")
	}
	lease, err := r.locker.Acquire(ctx, []address.Address{addr})
	if err != nil {
		return 0, err
	}
	defer lease.Release()

	ltx, err := r.store.Begin(ctx)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "begin ledger transaction")
	}
	acct, err := ltx.Get(ctx, addr)
	if stdErrors.Is(err, ledger.ErrAccountNotFound) {
		acct, err = &ledger.Account{Address: addr, Owner: SystemProgramID}, nil
	}
	if err != nil {
		_ = ltx.Rollback()
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load account")
	}
	balance, overflow := math.SafeAdd(acct.Lamports, lamports)
	if overflow {
		_ = ltx.Rollback()
		return 0, xerrors.New(xerrors.CodeOverflow, "airdrop overflows balance")
	}
	acct.Lamports = balance
	if err := ltx.Put(ctx, acct); err != nil {
		_ = ltx.Rollback()
		return 0, err
	}
	if err := lease.Err(); err != nil {
		_ = ltx.Rollback()
		return 0, err
	}
	if err := ltx.Commit(); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit airdrop")
	}
	logger.Audit().Info("airdrop", slog.String("account", addr.String()), slog.Uint64("lamports", lamports))
	return balance, nil
}
