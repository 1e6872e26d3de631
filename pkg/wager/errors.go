package wager

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wager service.
var (
	ErrValidation                = errors.New("validation error")
	ErrNotFound                  = errors.New("not found")
	ErrAccountNotFound           = errors.New("account not found")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrInsufficientTreasuryFunds = errors.New("insufficient treasury funds")
	ErrAlreadySettled            = errors.New("session already settled")
	ErrAlreadyClaimed            = errors.New("reward already claimed")
	ErrVerificationFailed        = errors.New("deposit verification failed")
	ErrExternalTransfer          = errors.New("external transfer failed")
	ErrExternalTimeout           = errors.New("external outcome unknown")
	ErrReconciliationRequired    = errors.New("reconciliation required")
	ErrInvalidServiceConfig      = errors.New("invalid service config")
	ErrShuttingDown              = errors.New("service shutting down")
)

// Refinements of the errors above. errors.Is matches both the refinement and its category.
var (
	ErrInvalidAddress    = fmt.Errorf("%w: invalid address", ErrValidation)
	ErrInvalidSessionID  = fmt.Errorf("%w: invalid session id", ErrValidation)
	ErrInvalidRewardID   = fmt.Errorf("%w: invalid reward id", ErrValidation)
	ErrInvalidSignature  = fmt.Errorf("%w: invalid signature", ErrValidation)
	ErrInvalidAmount     = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidDifficulty = fmt.Errorf("%w: invalid difficulty", ErrValidation)
	ErrInvalidOutcome    = fmt.Errorf("%w: invalid outcome", ErrValidation)
	ErrInvalidProgress   = fmt.Errorf("%w: invalid moves or elapsed time", ErrValidation)
	ErrSessionExists     = fmt.Errorf("%w: session already exists", ErrValidation)

	ErrSessionNotFound = fmt.Errorf("%w: session", ErrNotFound)
	ErrRewardNotFound  = fmt.Errorf("%w: reward", ErrNotFound)
	ErrPayoutNotFound  = fmt.Errorf("%w: payout", ErrNotFound)
	ErrWagerNotFound   = fmt.Errorf("%w: wager", ErrNotFound)

	ErrTransferNotFound  = fmt.Errorf("%w: transfer not found", ErrVerificationFailed)
	ErrDepositProofUsed  = fmt.Errorf("%w: deposit proof already used", ErrVerificationFailed)
	ErrTransferMismatch  = fmt.Errorf("%w: transfer does not match", ErrVerificationFailed)
	ErrTransferUnsettled = fmt.Errorf("%w: transfer not confirmed", ErrVerificationFailed)

	// ErrRewardLockLost is returned by a store when a claim finalize matched no row.
	ErrRewardLockLost = errors.New("reward payout lock lost")
	// ErrPayoutClosed is returned by a store when a payout transition matched no row.
	ErrPayoutClosed = errors.New("payout already closed")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
