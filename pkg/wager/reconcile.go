package wager

import (
	"context"
	"errors"
	"time"
)

// ReconcileReport summarizes one ReconcilePayouts pass.
type ReconcileReport struct {
	Checked                int
	Confirmed              int
	Failed                 int
	StillPending           int
	ReconciliationRequired int
}

// ReconcilePayouts re-polls PENDING payouts older than grace and drives each one to a terminal
// state when the chain has an answer. Payouts with an unknown outcome stay PENDING.
func (service *Service) ReconcilePayouts(ctx context.Context, grace time.Duration) (ReconcileReport, error) {
	var report ReconcileReport
	payouts, err := service.store.ListPendingPayouts(ctx, service.now().Add(-grace), reconcileBatchSize)
	if err != nil {
		return report, err
	}
	for _, payout := range payouts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		status, err := service.submitter.PayoutStatus(ctx, payout.Signature, payout.LastValidBlockHeight)
		if err != nil {
			service.logOperation(ctx, OperationLog{
				Operation: operationReconcile,
				Address:   payout.Address,
				PayoutID:  payout.PayoutID,
				Amount:    payout.Amount,
				Signature: payout.Signature,
				Status:    OperationStatusPending,
				Error:     err,
			})
			report.StillPending++
			continue
		}
		switch status {
		case ChainStatusConfirmed:
			if err := service.finalizePayout(ctx, payout); err != nil {
				if errors.Is(err, ErrReconciliationRequired) {
					report.ReconciliationRequired++
					continue
				}
				return report, err
			}
			report.Confirmed++
		case ChainStatusFailed, ChainStatusExpired:
			if err := service.failPayout(ctx, payout); err != nil {
				return report, err
			}
			report.Failed++
		default:
			report.StillPending++
		}
	}
	return report, nil
}

// PendingReconciliation returns reconciliation events not yet handed to an exporter.
func (service *Service) PendingReconciliation(ctx context.Context, limit int) ([]ReconciliationEvent, error) {
	return service.store.ListUnexportedReconciliationEvents(ctx, clampLimit(limit))
}

// MarkReconciliationExported flags events as delivered to an exporter.
func (service *Service) MarkReconciliationExported(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	return service.store.MarkReconciliationEventsExported(ctx, eventIDs)
}
