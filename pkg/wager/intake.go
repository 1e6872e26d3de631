package wager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// PlaceWagerRequest stakes Amount on a new session. A non-zero DepositSignature switches the
// wager to deposit mode: the stake is funded by that on-chain transfer, not the custodial balance.
type PlaceWagerRequest struct {
	Address          Address
	Amount           Lamports
	SessionID        SessionID
	Difficulty       Difficulty
	DepositSignature Signature
}

// PlaceWagerResult is returned by PlaceWager.
type PlaceWagerResult struct {
	Wager   Wager
	Session GameSession
	Balance Lamports
}

// PlaceWager records a wager, its UNRESOLVED session and the BID entry atomically.
func (service *Service) PlaceWager(ctx context.Context, request PlaceWagerRequest) (PlaceWagerResult, error) {
	var result PlaceWagerResult
	operationError := service.placeWager(ctx, request, &result)
	service.logOperation(ctx, OperationLog{
		Operation: operationPlaceWager,
		Address:   request.Address,
		SessionID: request.SessionID,
		Amount:    request.Amount,
		Signature: request.DepositSignature,
		Error:     operationError,
	})
	if operationError != nil {
		return PlaceWagerResult{}, operationError
	}
	service.notify(ctx, Event{
		Type:       EventWagerPlaced,
		Address:    result.Wager.Address,
		SessionID:  result.Session.SessionID,
		Amount:     result.Wager.Amount,
		Signature:  result.Wager.DepositSignature,
		OccurredAt: result.Wager.CreatedAt,
	})
	return result, nil
}

func (service *Service) placeWager(ctx context.Context, request PlaceWagerRequest, result *PlaceWagerResult) error {
	if err := validatePlaceWager(request); err != nil {
		return err
	}
	depositMode := !request.DepositSignature.IsZero()
	if depositMode {
		// Chain reads happen before any transaction is opened.
		if _, err := service.verifyTransfer(ctx, request.Address, request.DepositSignature, request.Amount); err != nil {
			return WrapError(operationPlaceWager, errorSubjectDeposit, ErrorCode(err), err)
		}
	}
	createdAt := service.now()
	session := GameSession{
		SessionID:   request.SessionID,
		Address:     request.Address,
		WagerAmount: request.Amount,
		Difficulty:  request.Difficulty,
		Outcome:     OutcomeUnresolved,
		CreatedAt:   createdAt,
	}
	wager := Wager{
		WagerID:          service.newID(),
		Address:          request.Address,
		SessionID:        request.SessionID,
		Amount:           request.Amount,
		Status:           WagerStatusSuccess,
		DepositSignature: request.DepositSignature,
		CreatedAt:        createdAt,
	}
	metadata, err := json.Marshal(map[string]string{
		"session_id": request.SessionID.String(),
		"difficulty": request.Difficulty.String(),
	})
	if err != nil {
		return err
	}
	var balance Lamports
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if depositMode {
			if _, err := transactionStore.UpsertAccount(ctx, request.Address, createdAt); err != nil {
				return err
			}
			proof := DepositProof{
				Signature: request.DepositSignature,
				Address:   request.Address,
				Amount:    request.Amount,
				Purpose:   depositPurposeWager,
				CreatedAt: createdAt,
			}
			if err := transactionStore.RecordDepositProof(ctx, proof); err != nil {
				return err
			}
		} else if err := transactionStore.DebitAccount(ctx, request.Address, request.Amount, createdAt); err != nil {
			return err
		}
		if err := transactionStore.CreateSession(ctx, session); err != nil {
			return err
		}
		if err := transactionStore.CreateWager(ctx, wager); err != nil {
			return err
		}
		entry := service.newEntry(request.Address, EntryBid, request.Amount, wager.WagerID, request.DepositSignature, string(metadata), createdAt)
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		account, err := transactionStore.GetAccount(ctx, request.Address)
		if err != nil {
			return err
		}
		balance = account.Balance
		return nil
	})
	if err != nil {
		return err
	}
	*result = PlaceWagerResult{Wager: wager, Session: session, Balance: balance}
	return nil
}

func validatePlaceWager(request PlaceWagerRequest) error {
	if request.Address.IsZero() {
		return fmt.Errorf("%w: address is required", ErrInvalidAddress)
	}
	if request.Amount <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if request.SessionID.IsZero() {
		return fmt.Errorf("%w: session id is required", ErrInvalidSessionID)
	}
	if _, err := ParseDifficulty(request.Difficulty.String()); err != nil {
		return err
	}
	return nil
}

// verifyTransfer confirms signature moved expected from sender to the treasury.
// A zero expected amount accepts any positive amount.
func (service *Service) verifyTransfer(ctx context.Context, sender Address, signature Signature, expected Lamports) (ObservedTransfer, error) {
	transfer, err := service.verifier.LookupTransfer(ctx, signature)
	if err != nil {
		if errors.Is(err, ErrVerificationFailed) || errors.Is(err, ErrExternalTimeout) {
			return ObservedTransfer{}, err
		}
		return ObservedTransfer{}, fmt.Errorf("%w: %v", ErrExternalTimeout, err)
	}
	if transfer.Failed || !transfer.Confirmed {
		return ObservedTransfer{}, ErrTransferUnsettled
	}
	if transfer.Sender != sender {
		return ObservedTransfer{}, fmt.Errorf("%w: sender %s", ErrTransferMismatch, transfer.Sender)
	}
	if transfer.Recipient != service.treasury {
		return ObservedTransfer{}, fmt.Errorf("%w: recipient %s", ErrTransferMismatch, transfer.Recipient)
	}
	if transfer.Amount <= 0 {
		return ObservedTransfer{}, fmt.Errorf("%w: empty transfer", ErrTransferMismatch)
	}
	if expected > 0 && transfer.Amount != expected {
		return ObservedTransfer{}, fmt.Errorf("%w: amount %s, expected %s", ErrTransferMismatch, transfer.Amount, expected)
	}
	return transfer, nil
}
