package wager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// SettleRequest reports the final result of a session.
type SettleRequest struct {
	SessionID      SessionID
	Moves          int
	ElapsedSeconds int
	Outcome        Outcome
}

// SettlementResult carries the finalized session and, on a win, the reward created for it.
type SettlementResult struct {
	Session GameSession
	Reward  *Reward
}

// SettleSession finalizes a session exactly once. A repeated call returns the current session
// together with ErrAlreadySettled and changes nothing.
func (service *Service) SettleSession(ctx context.Context, request SettleRequest) (SettlementResult, error) {
	result, operationError := service.settleSession(ctx, request)
	entry := OperationLog{
		Operation: operationSettleSession,
		Address:   result.Session.Address,
		SessionID: request.SessionID,
		Amount:    result.Session.WagerAmount,
		Reason:    string(request.Outcome),
		Error:     operationError,
	}
	if errors.Is(operationError, ErrAlreadySettled) {
		entry.Status = OperationStatusNoop
	}
	if result.Reward != nil {
		entry.RewardID = result.Reward.RewardID
	}
	service.logOperation(ctx, entry)
	if operationError != nil {
		return result, operationError
	}
	event := Event{
		Type:      EventSessionSettled,
		Address:   result.Session.Address,
		SessionID: result.Session.SessionID,
		Outcome:   result.Session.Outcome,
		Amount:    result.Session.WagerAmount,
	}
	if result.Reward != nil {
		event.RewardID = result.Reward.RewardID
		event.Amount = result.Reward.Amount
	}
	service.notify(ctx, event)
	return result, nil
}

func (service *Service) settleSession(ctx context.Context, request SettleRequest) (SettlementResult, error) {
	if err := validateSettle(request); err != nil {
		return SettlementResult{}, err
	}
	var result SettlementResult
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		session, err := transactionStore.GetSession(ctx, request.SessionID)
		if err != nil {
			return err
		}
		if session.Outcome != OutcomeUnresolved {
			return ErrAlreadySettled
		}
		settledAt := service.now()
		if err := transactionStore.SettleSession(ctx, request.SessionID, request.Outcome, request.Moves, request.ElapsedSeconds, settledAt); err != nil {
			return err
		}
		wager, err := transactionStore.GetWagerBySession(ctx, request.SessionID)
		if err != nil {
			return err
		}
		session.Outcome = request.Outcome
		session.Moves = request.Moves
		session.ElapsedSeconds = request.ElapsedSeconds
		session.SettledAt = &settledAt

		metadata, err := json.Marshal(map[string]any{
			"session_id":      session.SessionID.String(),
			"difficulty":      session.Difficulty.String(),
			"moves":           session.Moves,
			"elapsed_seconds": session.ElapsedSeconds,
		})
		if err != nil {
			return err
		}
		kind := EntryLose
		if session.Outcome == OutcomeWon {
			kind = EntryWin
		}
		entry := service.newEntry(session.Address, kind, session.WagerAmount, wager.WagerID, Signature{}, string(metadata), settledAt)
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		result.Session = session
		if session.Outcome != OutcomeWon {
			return nil
		}
		rewardID, err := NewRewardID(service.newID())
		if err != nil {
			return err
		}
		reward := Reward{
			RewardID:    rewardID,
			Address:     session.Address,
			Amount:      RewardAmount(session.WagerAmount, session.Difficulty),
			Description: fmt.Sprintf("Won %s session %s", session.Difficulty, session.SessionID),
			SessionID:   session.SessionID,
			CreatedAt:   settledAt,
		}
		if err := transactionStore.CreateReward(ctx, reward); err != nil {
			return err
		}
		result.Reward = &reward
		return nil
	})
	if errors.Is(err, ErrAlreadySettled) {
		current, readErr := service.store.GetSession(ctx, request.SessionID)
		if readErr != nil {
			return SettlementResult{}, readErr
		}
		return SettlementResult{Session: current}, err
	}
	if err != nil {
		return SettlementResult{}, err
	}
	return result, nil
}

// RewardAmount is the wager scaled by the tier multiplier, rounded down to whole lamports.
func RewardAmount(wagerAmount Lamports, difficulty Difficulty) Lamports {
	return wagerAmount.Scale(difficulty.Multiplier())
}

func validateSettle(request SettleRequest) error {
	if request.SessionID.IsZero() {
		return fmt.Errorf("%w: session id is required", ErrInvalidSessionID)
	}
	if request.Moves < 0 || request.ElapsedSeconds < 0 {
		return ErrInvalidProgress
	}
	if request.Outcome != OutcomeWon && request.Outcome != OutcomeLost {
		return fmt.Errorf("%w: outcome must be %s or %s", ErrInvalidOutcome, OutcomeWon, OutcomeLost)
	}
	return nil
}
