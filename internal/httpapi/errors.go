package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"github.com/gin-gonic/gin"
)

const (
	codeUnauthorized   = "unauthorized"
	codeInvalidPayload = "invalid_payload"
	codeInternal       = wager.CodeInternal

	messageInternal = "internal error"
)

var benignMessages = map[string]string{
	wager.CodeAlreadyClaimed:         "reward already claimed",
	wager.CodeAlreadySettled:         "session already settled",
	wager.CodeExternalTimeout:        "transfer submitted; outcome pending confirmation",
	wager.CodeReconciliationRequired: "transfer confirmed; recording is pending reconciliation",
	wager.CodeShuttingDown:           "service is shutting down; retry shortly",
}

// statusFor maps a service error onto an HTTP status. Transfers whose outcome is not yet
// recorded answer 202.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wager.ErrSessionExists),
		errors.Is(err, wager.ErrAlreadySettled),
		errors.Is(err, wager.ErrAlreadyClaimed),
		errors.Is(err, wager.ErrDepositProofUsed):
		return http.StatusConflict
	case errors.Is(err, wager.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, wager.ErrNotFound), errors.Is(err, wager.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, wager.ErrInsufficientFunds), errors.Is(err, wager.ErrVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wager.ErrInsufficientTreasuryFunds), errors.Is(err, wager.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, wager.ErrExternalTransfer):
		return http.StatusBadGateway
	case errors.Is(err, wager.ErrExternalTimeout), errors.Is(err, wager.ErrReconciliationRequired):
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func serviceErrorResponse(err error) gin.H {
	code := wager.ErrorCode(err)
	if code == wager.CodeInternal {
		return errorResponse(codeInternal, messageInternal)
	}
	if message, ok := benignMessages[code]; ok {
		return errorResponse(code, message)
	}
	return errorResponse(code, err.Error())
}
