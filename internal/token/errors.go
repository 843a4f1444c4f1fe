package token

import xerrors "Awe-Chain/internal/errors"

// Token program failure codes. Callers that gate payments on a transfer
// usually fold these into their own error.
const (
	CodeInsufficientFunds xerrors.Code = "INSUFFICIENT_FUNDS"
	CodeMintMismatch      xerrors.Code = "MINT_MISMATCH"
	CodeDecimalsMismatch  xerrors.Code = "DECIMALS_MISMATCH"
	CodeAccountFrozen     xerrors.Code = "ACCOUNT_FROZEN"
	CodeOwnerMismatch     xerrors.Code = "OWNER_MISMATCH"
)

func init() {
	xerrors.Register(CodeInsufficientFunds, xerrors.Attributes{Message: "insufficient token balance or allowance", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeMintMismatch, xerrors.Attributes{Message: "token account belongs to another mint", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeDecimalsMismatch, xerrors.Attributes{Message: "decimals do not match the mint", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAccountFrozen, xerrors.Attributes{Message: "token account is frozen", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeOwnerMismatch, xerrors.Attributes{Message: "authority is neither owner nor delegate", Severity: xerrors.SeverityWarning})
}
