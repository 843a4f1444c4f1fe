package metrics

import (
	"time"

	xerrors "Awe-Chain/internal/errors"
)

var (
	transactions = newCounterVec("awe_transactions_total",
		"Transactions executed by outcome and error code.", "outcome", "code")
	instructions = newCounterVec("awe_instructions_total",
		"Program invocations by program and outcome.", "program", "outcome")
	transactionLatency = newHistogramVec("awe_transaction_duration_seconds",
		"Transaction execution time in seconds.",
		[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}, "outcome")
)

// Observer records runtime outcomes into the process-wide collector. It
// satisfies runtime.Observer.
type Observer struct{}

// ObserveTransaction counts a transaction by outcome and error code.
func (Observer) ObserveTransaction(outcome string, code xerrors.Code, duration time.Duration) {
	transactions.inc(outcome, string(code))
	transactionLatency.observe(duration, outcome)
}

// ObserveInstruction counts one program invocation, cross-program calls included.
func (Observer) ObserveInstruction(program, outcome string) {
	instructions.inc(program, outcome)
}
