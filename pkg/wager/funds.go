package wager

import (
	"context"
	"errors"
	"fmt"
)

// Deposit credits a verified on-chain transfer from address to the treasury into the custodial
// balance. Each signature funds at most one deposit or wager.
func (service *Service) Deposit(ctx context.Context, address Address, signature Signature) (Account, error) {
	account, amount, operationError := service.deposit(ctx, address, signature)
	service.logOperation(ctx, OperationLog{
		Operation: operationDeposit,
		Address:   address,
		Amount:    amount,
		Signature: signature,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	service.notify(ctx, Event{
		Type:       EventDepositCredited,
		Address:    address,
		Amount:     amount,
		Signature:  signature,
		OccurredAt: account.UpdatedAt,
	})
	return account, nil
}

func (service *Service) deposit(ctx context.Context, address Address, signature Signature) (Account, Lamports, error) {
	if address.IsZero() {
		return Account{}, 0, fmt.Errorf("%w: address is required", ErrInvalidAddress)
	}
	if signature.IsZero() {
		return Account{}, 0, fmt.Errorf("%w: signature is required", ErrInvalidSignature)
	}
	transfer, err := service.verifyTransfer(ctx, address, signature, 0)
	if err != nil {
		return Account{}, 0, WrapError(operationDeposit, errorSubjectDeposit, ErrorCode(err), err)
	}
	creditedAt := service.now()
	var account Account
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.UpsertAccount(ctx, address, creditedAt); err != nil {
			return err
		}
		proof := DepositProof{
			Signature: signature,
			Address:   address,
			Amount:    transfer.Amount,
			Purpose:   depositPurposeBalance,
			CreatedAt: creditedAt,
		}
		if err := transactionStore.RecordDepositProof(ctx, proof); err != nil {
			return err
		}
		if err := transactionStore.CreditAccount(ctx, address, transfer.Amount, creditedAt); err != nil {
			return err
		}
		entry := service.newEntry(address, EntryDeposit, transfer.Amount, "", signature, "", creditedAt)
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		account, err = transactionStore.GetAccount(ctx, address)
		return err
	})
	if err != nil {
		return Account{}, transfer.Amount, err
	}
	return account, transfer.Amount, nil
}

// WithdrawResult is returned by Withdraw once the transfer is confirmed and recorded.
type WithdrawResult struct {
	PayoutID  string
	Signature Signature
	Amount    Lamports
	Account   Account
}

// Withdraw debits the custodial balance and transfers amount from the treasury to address.
// A definite transfer failure refunds the debit.
func (service *Service) Withdraw(ctx context.Context, address Address, amount Lamports) (WithdrawResult, error) {
	result, operationError := service.withdraw(ctx, address, amount)
	entry := OperationLog{
		Operation: operationWithdraw,
		Address:   address,
		PayoutID:  result.PayoutID,
		Amount:    amount,
		Signature: result.Signature,
		Error:     operationError,
	}
	switch {
	case errors.Is(operationError, ErrReconciliationRequired):
		entry.Status = OperationStatusReconciliationRequired
	case errors.Is(operationError, ErrExternalTimeout):
		entry.Status = OperationStatusPending
	}
	service.logOperation(ctx, entry)
	if operationError != nil {
		return result, operationError
	}
	return result, nil
}

func (service *Service) withdraw(ctx context.Context, address Address, amount Lamports) (WithdrawResult, error) {
	if address.IsZero() {
		return WithdrawResult{}, fmt.Errorf("%w: address is required", ErrInvalidAddress)
	}
	if amount <= 0 {
		return WithdrawResult{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	current, err := service.store.GetAccount(ctx, address)
	if err != nil {
		return WithdrawResult{}, err
	}
	if current.Balance < amount {
		return WithdrawResult{}, ErrInsufficientFunds
	}
	withdrawalID := service.newID()
	payout, prepared, err := service.openPayout(ctx, operationWithdraw, PayoutPurposeWithdrawal, address, amount, withdrawalID,
		func(ctx context.Context, transactionStore Store, payout Payout) error {
			return transactionStore.DebitAccount(ctx, address, amount, payout.CreatedAt)
		})
	if err != nil {
		return WithdrawResult{}, err
	}
	result := WithdrawResult{PayoutID: payout.PayoutID, Signature: payout.Signature, Amount: amount}
	if err := service.dispatchPayout(ctx, payout, prepared); err != nil {
		return result, err
	}
	account, err := service.store.GetAccount(ctx, address)
	if err != nil {
		return result, err
	}
	result.Account = account
	return result, nil
}
