package wager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// reserveFunc claims the local resource a payout draws from, inside the payout's opening transaction.
type reserveFunc func(ctx context.Context, transactionStore Store, payout Payout) error

// openPayout signs the transfer, then records it as PENDING together with its reservation.
// The signature is durable before anything reaches the chain, so a crash after submission
// leaves a row the reconciler can poll.
func (service *Service) openPayout(ctx context.Context, operation string, purpose PayoutPurpose, address Address, amount Lamports, referenceID string, reserve reserveFunc) (Payout, PreparedPayout, error) {
	if service.isClosing() {
		return Payout{}, PreparedPayout{}, WrapError(operation, errorSubjectPayout, CodeShuttingDown, ErrShuttingDown)
	}
	payoutID := service.newID()
	prepared, err := service.submitter.PreparePayout(ctx, address, amount, payoutMemo(payoutID, purpose, referenceID))
	if err != nil {
		err = classifyPrepareError(err)
		return Payout{}, PreparedPayout{}, WrapError(operation, errorSubjectPayout, ErrorCode(err), err)
	}
	createdAt := service.now()
	payout := Payout{
		PayoutID:             payoutID,
		Address:              address,
		Amount:               amount,
		Purpose:              purpose,
		ReferenceID:          referenceID,
		Status:               PayoutStatusPending,
		Signature:            prepared.Signature,
		LastValidBlockHeight: prepared.LastValidBlockHeight,
		CreatedAt:            createdAt,
		UpdatedAt:            createdAt,
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := reserve(ctx, transactionStore, payout); err != nil {
			return err
		}
		return transactionStore.CreatePayout(ctx, payout)
	})
	if err != nil {
		return Payout{}, PreparedPayout{}, err
	}
	return payout, prepared, nil
}

// payoutMemo is the on-chain memo of a payout transfer.
func payoutMemo(payoutID string, purpose PayoutPurpose, referenceID string) string {
	return fmt.Sprintf("wager:%s:%s:%s", purpose, referenceID, payoutID)
}

// dispatchPayout submits on a context detached from the caller and resolves the payout locally
// once the chain answers. If the caller gives up first it gets ErrExternalTimeout while the
// goroutine still drives the payout to a terminal state or leaves it PENDING for the reconciler.
func (service *Service) dispatchPayout(ctx context.Context, payout Payout, prepared PreparedPayout) error {
	if !service.trackDispatch() {
		// Shutdown began after the payout was recorded: it was never sent, so the reconciler
		// fails it once its blockhash expires.
		service.logOperation(ctx, OperationLog{
			Operation: operationFinalizePayout,
			Address:   payout.Address,
			PayoutID:  payout.PayoutID,
			Amount:    payout.Amount,
			Signature: payout.Signature,
			Status:    OperationStatusPending,
			Error:     ErrShuttingDown,
		})
		return WrapError(operationFinalizePayout, errorSubjectPayout, CodeExternalTimeout, fmt.Errorf("%w: %v", ErrExternalTimeout, ErrShuttingDown))
	}
	detached := context.WithoutCancel(ctx)
	result := make(chan error, 1)
	go func() {
		defer service.inflight.Done()
		submitCtx, cancel := context.WithTimeout(detached, service.payoutTimeout)
		submitErr := service.submitter.SubmitPayout(submitCtx, prepared)
		cancel()
		result <- service.resolvePayout(detached, payout, submitErr)
	}()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return WrapError(operationFinalizePayout, errorSubjectPayout, CodeExternalTimeout, fmt.Errorf("%w: caller left before confirmation: %v", ErrExternalTimeout, ctx.Err()))
	}
}

// trackDispatch counts one detached submission unless Shutdown has begun.
func (service *Service) trackDispatch() bool {
	service.dispatchMutex.Lock()
	defer service.dispatchMutex.Unlock()
	if service.closing {
		return false
	}
	service.inflight.Add(1)
	return true
}

func (service *Service) isClosing() bool {
	service.dispatchMutex.Lock()
	defer service.dispatchMutex.Unlock()
	return service.closing
}

func (service *Service) resolvePayout(ctx context.Context, payout Payout, submitErr error) error {
	if submitErr == nil {
		return service.finalizePayout(ctx, payout)
	}
	classified := classifySubmitError(submitErr)
	if errors.Is(classified, ErrExternalTimeout) {
		service.logOperation(ctx, OperationLog{
			Operation: operationFinalizePayout,
			Address:   payout.Address,
			PayoutID:  payout.PayoutID,
			Amount:    payout.Amount,
			Signature: payout.Signature,
			Status:    OperationStatusPending,
			Error:     classified,
		})
		return WrapError(operationFinalizePayout, errorSubjectPayout, CodeExternalTimeout, classified)
	}
	if err := service.failPayout(ctx, payout); err != nil {
		return err
	}
	return WrapError(operationFailPayout, errorSubjectPayout, ErrorCode(classified), classified)
}

// finalizePayout commits a confirmed transfer: payout CONFIRMED plus the bookkeeping of its purpose.
func (service *Service) finalizePayout(ctx context.Context, payout Payout) error {
	confirmedAt := service.now()
	var claimed Reward
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.TransitionPayout(ctx, payout.PayoutID, PayoutStatusPending, PayoutStatusConfirmed, confirmedAt); err != nil {
			return err
		}
		switch payout.Purpose {
		case PayoutPurposeReward:
			rewardID, err := NewRewardID(payout.ReferenceID)
			if err != nil {
				return err
			}
			if err := transactionStore.MarkRewardClaimed(ctx, rewardID, payout.PayoutID, payout.Signature, confirmedAt); err != nil {
				return err
			}
			reward, err := transactionStore.GetReward(ctx, rewardID)
			if err != nil {
				return err
			}
			if !reward.SessionID.IsZero() {
				if err := transactionStore.MarkSessionClaimed(ctx, reward.SessionID, payout.Signature); err != nil {
					return err
				}
			}
			entry := service.newEntry(payout.Address, EntryReward, payout.Amount, "", payout.Signature, rewardMetadata(reward), confirmedAt)
			if err := transactionStore.InsertEntry(ctx, entry); err != nil {
				return err
			}
			claimed = reward
		case PayoutPurposeWithdrawal:
			entry := service.newEntry(payout.Address, EntryWithdrawal, payout.Amount, "", payout.Signature, "", confirmedAt)
			if err := transactionStore.InsertEntry(ctx, entry); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: payout purpose %q", ErrValidation, payout.Purpose)
		}
		return nil
	})
	if err == nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationFinalizePayout,
			Address:   payout.Address,
			RewardID:  claimed.RewardID,
			PayoutID:  payout.PayoutID,
			Amount:    payout.Amount,
			Signature: payout.Signature,
		})
		eventType := EventRewardClaimed
		if payout.Purpose == PayoutPurposeWithdrawal {
			eventType = EventWithdrawalCompleted
		}
		service.notify(ctx, Event{
			Type:       eventType,
			Address:    payout.Address,
			SessionID:  claimed.SessionID,
			RewardID:   claimed.RewardID,
			PayoutID:   payout.PayoutID,
			Amount:     payout.Amount,
			Signature:  payout.Signature,
			OccurredAt: confirmedAt,
		})
		return nil
	}
	if !errors.Is(err, ErrPayoutClosed) && !errors.Is(err, ErrRewardLockLost) {
		// The payout row is still PENDING; the reconciler retries the finalize.
		service.logOperation(ctx, OperationLog{
			Operation: operationFinalizePayout,
			Address:   payout.Address,
			PayoutID:  payout.PayoutID,
			Amount:    payout.Amount,
			Signature: payout.Signature,
			Reason:    reasonFinalizeFailed,
			Status:    OperationStatusReconciliationRequired,
			Error:     err,
		})
		return WrapError(operationFinalizePayout, errorSubjectPayout, errorCodeFinalize, fmt.Errorf("%w: %v", ErrReconciliationRequired, err))
	}
	if service.alreadyFinalized(ctx, payout) {
		return nil
	}
	reason := reasonPayoutClosed
	if errors.Is(err, ErrRewardLockLost) {
		reason = reasonLockLost
	}
	return service.requireReconciliation(ctx, payout, reason, err)
}

// alreadyFinalized reports whether a concurrent finalize committed the same payout.
func (service *Service) alreadyFinalized(ctx context.Context, payout Payout) bool {
	current, err := service.store.GetPayout(ctx, payout.PayoutID)
	if err != nil || current.Status != PayoutStatusConfirmed {
		return false
	}
	if payout.Purpose != PayoutPurposeReward {
		return true
	}
	rewardID, err := NewRewardID(payout.ReferenceID)
	if err != nil {
		return false
	}
	reward, err := service.store.GetReward(ctx, rewardID)
	return err == nil && reward.Claimed && reward.ClaimSignature == payout.Signature
}

// failPayout closes a payout that definitely did not land and gives back what it reserved.
func (service *Service) failPayout(ctx context.Context, payout Payout) error {
	failedAt := service.now()
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.TransitionPayout(ctx, payout.PayoutID, PayoutStatusPending, PayoutStatusFailed, failedAt); err != nil {
			return err
		}
		switch payout.Purpose {
		case PayoutPurposeReward:
			rewardID, err := NewRewardID(payout.ReferenceID)
			if err != nil {
				return err
			}
			return transactionStore.ReleaseRewardLock(ctx, rewardID, payout.PayoutID)
		case PayoutPurposeWithdrawal:
			return transactionStore.CreditAccount(ctx, payout.Address, payout.Amount, failedAt)
		default:
			return fmt.Errorf("%w: payout purpose %q", ErrValidation, payout.Purpose)
		}
	})
	if errors.Is(err, ErrPayoutClosed) {
		err = nil
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationFailPayout,
		Address:   payout.Address,
		PayoutID:  payout.PayoutID,
		Amount:    payout.Amount,
		Signature: payout.Signature,
		Error:     err,
	})
	return err
}

// requireReconciliation records a transfer that landed without its local bookkeeping.
func (service *Service) requireReconciliation(ctx context.Context, payout Payout, reason string, cause error) error {
	event := ReconciliationEvent{
		EventID:   service.newID(),
		PayoutID:  payout.PayoutID,
		Address:   payout.Address,
		Amount:    payout.Amount,
		Signature: payout.Signature,
		Reason:    reason,
		CreatedAt: service.now(),
	}
	// The transfer landed, so the payout stops being polled; the event carries the follow-up.
	insertErr := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		err := transactionStore.TransitionPayout(ctx, payout.PayoutID, PayoutStatusPending, PayoutStatusConfirmed, event.CreatedAt)
		if err != nil && !errors.Is(err, ErrPayoutClosed) {
			return err
		}
		return transactionStore.InsertReconciliationEvent(ctx, event)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReconcile,
		Address:   payout.Address,
		PayoutID:  payout.PayoutID,
		Amount:    payout.Amount,
		Signature: payout.Signature,
		Reason:    reason,
		Status:    OperationStatusReconciliationRequired,
		Error:     errors.Join(cause, insertErr),
	})
	service.notify(ctx, Event{
		Type:       EventReconciliationRequired,
		Address:    payout.Address,
		PayoutID:   payout.PayoutID,
		Amount:     payout.Amount,
		Signature:  payout.Signature,
		OccurredAt: event.CreatedAt,
	})
	return WrapError(operationFinalizePayout, errorSubjectPayout, reason, fmt.Errorf("%w: signature %s: %v", ErrReconciliationRequired, payout.Signature, cause))
}

// classifySubmitError keeps definite failures and treats everything else as an unknown outcome.
func classifySubmitError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExternalTransfer) || errors.Is(err, ErrInsufficientTreasuryFunds) || errors.Is(err, ErrExternalTimeout) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrExternalTimeout, err)
}

// classifyPrepareError treats every failure as definite: nothing has been submitted yet.
func classifyPrepareError(err error) error {
	if errors.Is(err, ErrExternalTransfer) || errors.Is(err, ErrInsufficientTreasuryFunds) {
		return err
	}
	return fmt.Errorf("%w: prepare: %v", ErrExternalTransfer, err)
}

func rewardMetadata(reward Reward) string {
	encoded, err := json.Marshal(map[string]string{
		"reward_id":  reward.RewardID.String(),
		"session_id": reward.SessionID.String(),
	})
	if err != nil {
		return ""
	}
	return string(encoded)
}
