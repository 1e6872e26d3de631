package wager

import "time"

// Status values carried by OperationLog.
const (
	OperationStatusOK                     = "ok"
	OperationStatusError                  = "error"
	OperationStatusNoop                   = "noop"
	OperationStatusPending                = "pending"
	OperationStatusReconciliationRequired = "reconciliation_required"
)

const (
	operationPlaceWager     = "place_wager"
	operationSettleSession  = "settle_session"
	operationClaimReward    = "claim_reward"
	operationDeposit        = "deposit"
	operationWithdraw       = "withdraw"
	operationFinalizePayout = "finalize_payout"
	operationFailPayout     = "fail_payout"
	operationReconcile      = "reconcile_payout"

	errorSubjectDeposit = "deposit"
	errorSubjectPayout  = "payout"
	errorCodeFinalize   = "finalize"

	depositPurposeWager   = "wager"
	depositPurposeBalance = "balance"

	reasonLockLost       = "claim_lock_lost"
	reasonPayoutClosed   = "payout_closed_before_confirmation"
	reasonFinalizeFailed = "finalize_write_failed"

	defaultPayoutTimeout = 90 * time.Second
	reconcileBatchSize   = 100
	defaultListLimit     = 50
	maxListLimit         = 200
)
