package awe

import (
	"context"
	"crypto/ed25519"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/internal/token"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

// DefaultBatchSize is the number of recipients per transaction. Each
// recipient costs two instructions.
const DefaultBatchSize = 8

// Transfer is one row of a batch payout, in whole-token units.
type Transfer struct {
	To     address.Address
	Amount decimal.Decimal
}

// ParseTransfers reads "address,amount" rows. A first row whose amount
// column is not a number is treated as a header.
func ParseTransfers(r io.Reader) ([]Transfer, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	var out []Transfer
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		amount, amountErr := decimal.NewFromString(strings.TrimSpace(row[1]))
		if amountErr != nil && line == 1 {
			continue
		}
		if amountErr != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q: %w", line, row[1], amountErr)
		}
		to, err := address.Parse(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid address %q: %w", line, row[0], err)
		}
		out = append(out, Transfer{To: to, Amount: amount})
	}
	return out, nil
}

// BatchResult reports what a batch transfer committed.
type BatchResult struct {
	Receipts   []*runtime.Receipt
	Recipients int
	Total      uint64
}

// BatchTransfer pays every transfer from the associated account of from,
// creating recipient accounts as needed. All amounts are validated against
// the mint's decimals and the sender's balance before anything is sent.
// Batches commit independently; on failure the result holds the batches
// already committed.
func (s *Session) BatchTransfer(ctx context.Context, from ed25519.PrivateKey, mint address.Address, transfers []Transfer, batchSize int) (*BatchResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if limit := runtime.MaxInstructions / 2; batchSize > limit {
		batchSize = limit
	}
	mintState, err := s.Mint(ctx, mint)
	if err != nil {
		return nil, err
	}

	owner := AddressOf(from)
	source := token.AssociatedAddress(owner, mint)
	amounts := make([]uint64, len(transfers))
	var total uint64
	for i, tr := range transfers {
		amount, err := token.FromUIAmount(tr.Amount, mintState.Decimals)
		if err != nil {
			return nil, fmt.Errorf("transfer %d to %s: %w", i+1, tr.To, err)
		}
		if amount == 0 {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "transfer %d to %s is zero", i+1, tr.To)
		}
		sum, overflow := math.SafeAdd(total, amount)
		if overflow {
			return nil, xerrors.New(xerrors.CodeOverflow, "batch total exceeds u64")
		}
		amounts[i], total = amount, sum
	}
	balance, err := s.TokenAccount(ctx, source)
	if err != nil {
		return nil, err
	}
	if balance.Amount < total {
		return nil, xerrors.Newf(token.CodeInsufficientFunds, "batch needs %s, source holds %s",
			token.ToUIAmount(total, mintState.Decimals), token.ToUIAmount(balance.Amount, mintState.Decimals))
	}

	result := &BatchResult{}
	for start := 0; start < len(transfers); start += batchSize {
		end := min(start+batchSize, len(transfers))
		ixs := make([]runtime.Instruction, 0, 2*(end-start))
		for i := start; i < end; i++ {
			to := transfers[i].To
			ixs = append(ixs,
				token.CreateAssociatedIdempotentInstruction(owner, to, mint),
				token.TransferCheckedInstruction(source, mint, token.AssociatedAddress(to, mint), owner, amounts[i], mintState.Decimals),
			)
		}
		receipt, err := s.Send(ctx, []ed25519.PrivateKey{from}, ixs...)
		if err != nil {
			return result, fmt.Errorf("batch %d-%d: %w", start+1, end, err)
		}
		result.Receipts = append(result.Receipts, receipt)
		result.Recipients += end - start
		for i := start; i < end; i++ {
			result.Total += amounts[i]
		}
		s.logger.Info("batch transfer committed", slog.String("tx_id", receipt.ID), slog.Int("recipients", end-start))
	}
	return result, nil
}
