package wager

import (
	"context"
	"errors"
	"fmt"
)

// ClaimResult is returned by ClaimReward once the payout is confirmed and recorded.
type ClaimResult struct {
	Signature Signature
	Reward    Reward
}

// ClaimReward pays out an unclaimed reward to its owner exactly once.
//
// No transaction is held across the transfer: the reward is locked to a PENDING payout first,
// the signed transfer is submitted outside the store, and a single conditional write marks the
// reward claimed after confirmation.
func (service *Service) ClaimReward(ctx context.Context, rewardID RewardID, claimant Address) (ClaimResult, error) {
	result, payoutID, operationError := service.claimReward(ctx, rewardID, claimant)
	entry := OperationLog{
		Operation: operationClaimReward,
		Address:   claimant,
		RewardID:  rewardID,
		PayoutID:  payoutID,
		Amount:    result.Reward.Amount,
		Signature: result.Signature,
		Error:     operationError,
	}
	switch {
	case errors.Is(operationError, ErrAlreadyClaimed):
		entry.Status = OperationStatusNoop
	case errors.Is(operationError, ErrReconciliationRequired):
		entry.Status = OperationStatusReconciliationRequired
	case errors.Is(operationError, ErrExternalTimeout):
		entry.Status = OperationStatusPending
	}
	service.logOperation(ctx, entry)
	if operationError != nil {
		return ClaimResult{}, operationError
	}
	return result, nil
}

func (service *Service) claimReward(ctx context.Context, rewardID RewardID, claimant Address) (ClaimResult, string, error) {
	if rewardID.IsZero() {
		return ClaimResult{}, "", fmt.Errorf("%w: reward id is required", ErrInvalidRewardID)
	}
	if claimant.IsZero() {
		return ClaimResult{}, "", fmt.Errorf("%w: claimant is required", ErrInvalidAddress)
	}
	reward, err := service.store.GetReward(ctx, rewardID)
	if err != nil {
		return ClaimResult{}, "", err
	}
	if reward.Address != claimant {
		return ClaimResult{}, "", ErrRewardNotFound
	}
	if reward.Claimed || reward.PayoutID != "" {
		return ClaimResult{}, "", ErrAlreadyClaimed
	}
	payout, prepared, err := service.openPayout(ctx, operationClaimReward, PayoutPurposeReward, claimant, reward.Amount, rewardID.String(),
		func(ctx context.Context, transactionStore Store, payout Payout) error {
			return transactionStore.LockRewardForPayout(ctx, rewardID, payout.PayoutID)
		})
	if err != nil {
		return ClaimResult{}, "", err
	}
	if err := service.dispatchPayout(ctx, payout, prepared); err != nil {
		return ClaimResult{Signature: payout.Signature, Reward: reward}, payout.PayoutID, err
	}
	reward.Claimed = true
	reward.ClaimSignature = payout.Signature
	reward.PayoutID = payout.PayoutID
	if current, err := service.store.GetReward(ctx, rewardID); err == nil {
		reward = current
	}
	return ClaimResult{Signature: payout.Signature, Reward: reward}, payout.PayoutID, nil
}
