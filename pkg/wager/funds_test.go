package wager_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
)

func TestDepositCreditsVerifiedTransferOnce(test *testing.T) {
	test.Parallel()
	notifier := &recorderNotifier{}
	fixture := newHarness(test, wager.WithNotifier(notifier))
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	signature := mustSignature(test, "deposit-balance-1")
	fixture.chain.addTransfer(wager.ObservedTransfer{
		Signature: signature,
		Sender:    player,
		Recipient: mustAddress(test, treasuryAddressValue),
		Amount:    mustAmount(test, "2.25"),
		Confirmed: true,
	})

	account, err := fixture.service.Deposit(ctx, player, signature)
	if err != nil {
		test.Fatalf("deposit failed: %v", err)
	}
	if account.Balance != mustAmount(test, "2.25") {
		test.Fatalf(errorMismatchMessage, mustAmount(test, "2.25"), account.Balance)
	}
	deposit := findKind(test, fixture.entries(test, player), wager.EntryDeposit)
	if deposit.Signature != signature || deposit.Amount != mustAmount(test, "2.25") {
		test.Fatalf("unexpected DEPOSIT entry: %+v", deposit)
	}

	_, err = fixture.service.Deposit(ctx, player, signature)
	if !errors.Is(err, wager.ErrDepositProofUsed) || wager.ErrorCode(err) != wager.CodeDepositProofUsed {
		test.Fatalf("expected reused deposit to fail, got %v", err)
	}
	if got := fixture.balance(test, player); got != mustAmount(test, "2.25") {
		test.Fatalf("reused deposit changed balance to %s", got)
	}
	types := notifier.types()
	if len(types) != 1 || types[0] != wager.EventDepositCredited {
		test.Fatalf("unexpected notifications: %v", types)
	}
}

func TestDepositRejectsForeignTransfer(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	player := mustAddress(test, playerAddressValue)
	signature := mustSignature(test, "deposit-foreign")
	fixture.chain.addTransfer(wager.ObservedTransfer{
		Signature: signature,
		Sender:    mustAddress(test, otherAddressValue),
		Recipient: mustAddress(test, treasuryAddressValue),
		Amount:    mustAmount(test, "1"),
		Confirmed: true,
	})
	_, err := fixture.service.Deposit(context.Background(), player, signature)
	if !errors.Is(err, wager.ErrTransferMismatch) {
		test.Fatalf(errorMismatchMessage, wager.ErrTransferMismatch, err)
	}
	var operationError wager.OperationError
	if !errors.As(err, &operationError) || operationError.Operation() != "deposit" || operationError.Code() != wager.CodeVerificationFailed {
		test.Fatalf("expected wrapped deposit error, got %#v", err)
	}
}

func TestWithdrawPaysOutAndRecordsEntry(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	player := mustAddress(test, playerAddressValue)
	fixture.fund(test, player, "3")

	result, err := fixture.service.Withdraw(context.Background(), player, mustAmount(test, "1.25"))
	if err != nil {
		test.Fatalf("withdraw failed: %v", err)
	}
	if result.Account.Balance != mustAmount(test, "1.75") || result.Signature.String() != "SIG1" {
		test.Fatalf("unexpected withdraw result: %+v", result)
	}
	withdrawal := findKind(test, fixture.entries(test, player), wager.EntryWithdrawal)
	if withdrawal.Amount != mustAmount(test, "1.25") || withdrawal.Signature != result.Signature {
		test.Fatalf("unexpected WITHDRAWAL entry: %+v", withdrawal)
	}
	payout, err := fixture.store.GetPayout(context.Background(), result.PayoutID)
	if err != nil || payout.Status != wager.PayoutStatusConfirmed || payout.Purpose != wager.PayoutPurposeWithdrawal {
		test.Fatalf("unexpected payout: %+v (%v)", payout, err)
	}
}

func TestWithdrawRefundsOnDefiniteFailure(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	player := mustAddress(test, playerAddressValue)
	fixture.fund(test, player, "3")
	fixture.chain.failNextSubmit(wager.ErrExternalTransfer)

	result, err := fixture.service.Withdraw(context.Background(), player, mustAmount(test, "2"))
	if !errors.Is(err, wager.ErrExternalTransfer) {
		test.Fatalf(errorMismatchMessage, wager.ErrExternalTransfer, err)
	}
	if got := fixture.balance(test, player); got != mustAmount(test, "3") {
		test.Fatalf("expected refund to 3, got %s", got)
	}
	payout, err := fixture.store.GetPayout(context.Background(), result.PayoutID)
	if err != nil || payout.Status != wager.PayoutStatusFailed {
		test.Fatalf("expected failed payout: %+v (%v)", payout, err)
	}
	if countKind(fixture.entries(test, player), wager.EntryWithdrawal) != 0 {
		test.Fatalf("failed withdrawal wrote an entry")
	}
}

func TestWithdrawTimeoutHoldsDebitUntilReconciled(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	fixture.fund(test, player, "3")
	fixture.chain.failNextSubmit(wager.ErrExternalTimeout)

	result, err := fixture.service.Withdraw(ctx, player, mustAmount(test, "1"))
	if !errors.Is(err, wager.ErrExternalTimeout) {
		test.Fatalf(errorMismatchMessage, wager.ErrExternalTimeout, err)
	}
	if got := fixture.balance(test, player); got != mustAmount(test, "2") {
		test.Fatalf("pending withdrawal must keep the debit, got %s", got)
	}
	fixture.chain.setStatus(result.Signature, wager.ChainStatusFailed)
	fixture.clock.Advance(time.Hour)
	report, err := fixture.service.ReconcilePayouts(ctx, time.Minute)
	if err != nil || report.Failed != 1 {
		test.Fatalf("unexpected reconcile report: %+v (%v)", report, err)
	}
	if got := fixture.balance(test, player); got != mustAmount(test, "3") {
		test.Fatalf("reconciled failure must refund, got %s", got)
	}
}

func TestWithdrawGuards(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)

	if _, err := fixture.service.Withdraw(ctx, player, mustAmount(test, "1")); !errors.Is(err, wager.ErrAccountNotFound) {
		test.Fatalf(errorMismatchMessage, wager.ErrAccountNotFound, err)
	}
	fixture.fund(test, player, "1")
	if _, err := fixture.service.Withdraw(ctx, player, mustAmount(test, "2")); !errors.Is(err, wager.ErrInsufficientFunds) {
		test.Fatalf(errorMismatchMessage, wager.ErrInsufficientFunds, err)
	}
	if _, err := fixture.service.Withdraw(ctx, player, 0); !errors.Is(err, wager.ErrInvalidAmount) {
		test.Fatalf(errorMismatchMessage, wager.ErrInvalidAmount, err)
	}
	if fixture.chain.submissions() != 0 {
		test.Fatalf("guarded withdrawals must not reach the chain")
	}
}
