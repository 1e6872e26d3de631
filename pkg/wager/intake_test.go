package wager_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
)

func TestPlaceWagerValidation(test *testing.T) {
	test.Parallel()
	player := mustAddress(test, playerAddressValue)
	sessionID := mustSessionID(test, "session-v")
	amount := mustAmount(test, "1")
	testCases := []struct {
		name    string
		request wager.PlaceWagerRequest
		wantErr error
	}{
		{
			name:    "missing address",
			request: wager.PlaceWagerRequest{Amount: amount, SessionID: sessionID, Difficulty: wager.DifficultyEasy},
			wantErr: wager.ErrInvalidAddress,
		},
		{
			name:    "zero amount",
			request: wager.PlaceWagerRequest{Address: player, SessionID: sessionID, Difficulty: wager.DifficultyEasy},
			wantErr: wager.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			request: wager.PlaceWagerRequest{Address: player, Amount: -5, SessionID: sessionID, Difficulty: wager.DifficultyEasy},
			wantErr: wager.ErrInvalidAmount,
		},
		{
			name:    "missing session",
			request: wager.PlaceWagerRequest{Address: player, Amount: amount, Difficulty: wager.DifficultyEasy},
			wantErr: wager.ErrInvalidSessionID,
		},
		{
			name:    "unknown difficulty",
			request: wager.PlaceWagerRequest{Address: player, Amount: amount, SessionID: sessionID, Difficulty: "extreme"},
			wantErr: wager.ErrInvalidDifficulty,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fixture := newHarness(test)
			fixture.fund(test, player, "5")
			_, err := fixture.service.PlaceWager(context.Background(), testCase.request)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
			if !errors.Is(err, wager.ErrValidation) {
				test.Fatalf("expected validation category, got %v", err)
			}
			if got := fixture.balance(test, player); got != mustAmount(test, "5") {
				test.Fatalf("balance changed to %s", got)
			}
		})
	}
}

func TestPlaceWagerDebitModeUnknownAccount(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	_, err := fixture.service.PlaceWager(context.Background(), wager.PlaceWagerRequest{
		Address:    mustAddress(test, otherAddressValue),
		Amount:     mustAmount(test, "1"),
		SessionID:  mustSessionID(test, "session-u"),
		Difficulty: wager.DifficultyHard,
	})
	if !errors.Is(err, wager.ErrAccountNotFound) {
		test.Fatalf(errorMismatchMessage, wager.ErrAccountNotFound, err)
	}
	if wager.ErrorCode(err) != wager.CodeAccountNotFound {
		test.Fatalf(errorMismatchMessage, wager.CodeAccountNotFound, wager.ErrorCode(err))
	}
}

func TestPlaceWagerRejectsDuplicateSession(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	player := mustAddress(test, playerAddressValue)
	fixture.fund(test, player, "5")
	fixture.placeWager(test, player, "1", "session-dup", wager.DifficultyEasy)

	_, err := fixture.service.PlaceWager(context.Background(), wager.PlaceWagerRequest{
		Address:    player,
		Amount:     mustAmount(test, "2"),
		SessionID:  mustSessionID(test, "session-dup"),
		Difficulty: wager.DifficultyHard,
	})
	if !errors.Is(err, wager.ErrSessionExists) {
		test.Fatalf(errorMismatchMessage, wager.ErrSessionExists, err)
	}
	if got := fixture.balance(test, player); got != mustAmount(test, "4") {
		test.Fatalf("rolled back debit expected balance 4, got %s", got)
	}
	if countKind(fixture.entries(test, player), wager.EntryBid) != 1 {
		test.Fatalf("expected a single BID entry")
	}
}

func TestPlaceWagerDepositMode(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	treasury := mustAddress(test, treasuryAddressValue)
	proof := mustSignature(test, "deposit-sig-1")
	fixture.chain.addTransfer(wager.ObservedTransfer{
		Signature: proof,
		Sender:    player,
		Recipient: treasury,
		Amount:    mustAmount(test, "0.5"),
		Confirmed: true,
	})
	request := wager.PlaceWagerRequest{
		Address:          player,
		Amount:           mustAmount(test, "0.5"),
		SessionID:        mustSessionID(test, "session-deposit"),
		Difficulty:       wager.DifficultyHard,
		DepositSignature: proof,
	}
	result, err := fixture.service.PlaceWager(ctx, request)
	if err != nil {
		test.Fatalf("deposit-mode wager failed: %v", err)
	}
	if result.Balance != 0 || fixture.balance(test, player) != 0 {
		test.Fatalf("deposit-mode wager must not touch the custodial balance")
	}
	if result.Wager.DepositSignature != proof {
		test.Fatalf("wager did not record proof: %+v", result.Wager)
	}
	bid := findKind(test, fixture.entries(test, player), wager.EntryBid)
	if bid.Signature != proof {
		test.Fatalf("BID entry missing proof signature: %+v", bid)
	}

	request.SessionID = mustSessionID(test, "session-replay")
	_, err = fixture.service.PlaceWager(ctx, request)
	if !errors.Is(err, wager.ErrDepositProofUsed) || !errors.Is(err, wager.ErrVerificationFailed) {
		test.Fatalf("expected reused proof to fail verification, got %v", err)
	}
	if _, err := fixture.store.GetSession(ctx, request.SessionID); !errors.Is(err, wager.ErrNotFound) {
		test.Fatalf("replayed proof created a session: %v", err)
	}
}

func TestPlaceWagerDepositModeVerificationFailures(test *testing.T) {
	test.Parallel()
	player := mustAddress(test, playerAddressValue)
	treasury := mustAddress(test, treasuryAddressValue)
	other := mustAddress(test, otherAddressValue)
	testCases := []struct {
		name     string
		transfer *wager.ObservedTransfer
		wantErr  error
	}{
		{name: "not found", wantErr: wager.ErrTransferNotFound},
		{
			name:     "wrong sender",
			transfer: &wager.ObservedTransfer{Sender: other, Recipient: treasury, Amount: mustAmount(test, "1"), Confirmed: true},
			wantErr:  wager.ErrTransferMismatch,
		},
		{
			name:     "wrong recipient",
			transfer: &wager.ObservedTransfer{Sender: player, Recipient: other, Amount: mustAmount(test, "1"), Confirmed: true},
			wantErr:  wager.ErrTransferMismatch,
		},
		{
			name:     "wrong amount",
			transfer: &wager.ObservedTransfer{Sender: player, Recipient: treasury, Amount: mustAmount(test, "0.9"), Confirmed: true},
			wantErr:  wager.ErrTransferMismatch,
		},
		{
			name:     "unconfirmed",
			transfer: &wager.ObservedTransfer{Sender: player, Recipient: treasury, Amount: mustAmount(test, "1")},
			wantErr:  wager.ErrTransferUnsettled,
		},
		{
			name:     "failed on chain",
			transfer: &wager.ObservedTransfer{Sender: player, Recipient: treasury, Amount: mustAmount(test, "1"), Confirmed: true, Failed: true},
			wantErr:  wager.ErrTransferUnsettled,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fixture := newHarness(test)
			proof := mustSignature(test, "proof-"+testCase.name[:3])
			if testCase.transfer != nil {
				transfer := *testCase.transfer
				transfer.Signature = proof
				fixture.chain.addTransfer(transfer)
			}
			_, err := fixture.service.PlaceWager(context.Background(), wager.PlaceWagerRequest{
				Address:          player,
				Amount:           mustAmount(test, "1"),
				SessionID:        mustSessionID(test, "session-proof"),
				Difficulty:       wager.DifficultyEasy,
				DepositSignature: proof,
			})
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
			if wager.ErrorCode(err) != wager.CodeVerificationFailed {
				test.Fatalf(errorMismatchMessage, wager.CodeVerificationFailed, wager.ErrorCode(err))
			}
			if _, err := fixture.store.GetAccount(context.Background(), player); !errors.Is(err, wager.ErrAccountNotFound) {
				test.Fatalf("failed verification created an account: %v", err)
			}
		})
	}
}

func TestPlaceWagerVerifierTimeout(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	fixture.chain.lookupErr = errors.New("connection reset")
	_, err := fixture.service.PlaceWager(context.Background(), wager.PlaceWagerRequest{
		Address:          mustAddress(test, playerAddressValue),
		Amount:           mustAmount(test, "1"),
		SessionID:        mustSessionID(test, "session-timeout"),
		Difficulty:       wager.DifficultyEasy,
		DepositSignature: mustSignature(test, "proof-timeout"),
	})
	if !errors.Is(err, wager.ErrExternalTimeout) {
		test.Fatalf(errorMismatchMessage, wager.ErrExternalTimeout, err)
	}
}
