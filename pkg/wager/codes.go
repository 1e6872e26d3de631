package wager

import "errors"

// Stable error codes returned across the service boundary.
const (
	CodeInvalidAddress            = "invalid_address"
	CodeInvalidSessionID          = "invalid_session_id"
	CodeInvalidRewardID           = "invalid_reward_id"
	CodeInvalidSignature          = "invalid_signature"
	CodeInvalidAmount             = "invalid_amount"
	CodeInvalidDifficulty         = "invalid_difficulty"
	CodeInvalidOutcome            = "invalid_outcome"
	CodeInvalidProgress           = "invalid_progress"
	CodeSessionExists             = "session_exists"
	CodeValidation                = "validation_error"
	CodeAccountNotFound           = "account_not_found"
	CodeNotFound                  = "not_found"
	CodeInsufficientFunds         = "insufficient_funds"
	CodeInsufficientTreasuryFunds = "insufficient_treasury_funds"
	CodeAlreadySettled            = "already_settled"
	CodeAlreadyClaimed            = "already_claimed"
	CodeDepositProofUsed          = "deposit_proof_used"
	CodeVerificationFailed        = "verification_failed"
	CodeExternalTransfer          = "external_transfer_error"
	CodeExternalTimeout           = "external_timeout"
	CodeReconciliationRequired    = "reconciliation_required"
	CodeShuttingDown              = "shutting_down"
	CodeInternal                  = "internal_error"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidAddress, CodeInvalidAddress},
	{ErrInvalidSessionID, CodeInvalidSessionID},
	{ErrInvalidRewardID, CodeInvalidRewardID},
	{ErrInvalidSignature, CodeInvalidSignature},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrInvalidDifficulty, CodeInvalidDifficulty},
	{ErrInvalidOutcome, CodeInvalidOutcome},
	{ErrInvalidProgress, CodeInvalidProgress},
	{ErrSessionExists, CodeSessionExists},
	{ErrValidation, CodeValidation},
	{ErrAccountNotFound, CodeAccountNotFound},
	{ErrNotFound, CodeNotFound},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrInsufficientTreasuryFunds, CodeInsufficientTreasuryFunds},
	{ErrAlreadySettled, CodeAlreadySettled},
	{ErrAlreadyClaimed, CodeAlreadyClaimed},
	{ErrReconciliationRequired, CodeReconciliationRequired},
	{ErrDepositProofUsed, CodeDepositProofUsed},
	{ErrVerificationFailed, CodeVerificationFailed},
	{ErrExternalTimeout, CodeExternalTimeout},
	{ErrExternalTransfer, CodeExternalTransfer},
	{ErrShuttingDown, CodeShuttingDown},
}

// ErrorCode maps an error returned by Service to its stable code.
// Unrecognized errors map to CodeInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, candidate := range errorCodes {
		if errors.Is(err, candidate.err) {
			return candidate.code
		}
	}
	return CodeInternal
}

// IsIdempotencyGuard reports whether err is a benign already-done signal.
func IsIdempotencyGuard(err error) bool {
	return errors.Is(err, ErrAlreadySettled) || errors.Is(err, ErrAlreadyClaimed)
}
