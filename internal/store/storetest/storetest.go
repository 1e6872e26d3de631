// Package storetest holds the behavioural contract every wager.Store implementation must satisfy.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"github.com/stretchr/testify/require"
)

const (
	playerAddressValue = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	otherAddressValue  = "HN7cABqLq46Es1jh92dQQisAq662SmxELLLsHHe4YWrH"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(test *testing.T) wager.Store

var errRollback = errors.New("rollback")

// Run exercises factory-built stores against the contract.
func Run(test *testing.T, factory Factory) {
	test.Run("accounts", func(test *testing.T) { testAccounts(test, factory(test)) })
	test.Run("transaction_rollback", func(test *testing.T) { testRollback(test, factory(test)) })
	test.Run("sessions", func(test *testing.T) { testSessions(test, factory(test)) })
	test.Run("wagers_and_proofs", func(test *testing.T) { testWagersAndProofs(test, factory(test)) })
	test.Run("entries", func(test *testing.T) { testEntries(test, factory(test)) })
	test.Run("rewards", func(test *testing.T) { testRewards(test, factory(test)) })
	test.Run("payouts", func(test *testing.T) { testPayouts(test, factory(test)) })
	test.Run("reconciliation_events", func(test *testing.T) { testReconciliationEvents(test, factory(test)) })
}

func baseTime() time.Time {
	return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
}

func mustAddress(test *testing.T, raw string) wager.Address {
	test.Helper()
	address, err := wager.NewAddress(raw)
	require.NoError(test, err)
	return address
}

func mustSessionID(test *testing.T, raw string) wager.SessionID {
	test.Helper()
	sessionID, err := wager.NewSessionID(raw)
	require.NoError(test, err)
	return sessionID
}

func mustRewardID(test *testing.T, raw string) wager.RewardID {
	test.Helper()
	rewardID, err := wager.NewRewardID(raw)
	require.NoError(test, err)
	return rewardID
}

func mustSignature(test *testing.T, raw string) wager.Signature {
	test.Helper()
	signature, err := wager.NewSignature(raw)
	require.NoError(test, err)
	return signature
}

func testAccounts(test *testing.T, store wager.Store) {
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	at := baseTime()

	_, err := store.GetAccount(ctx, player)
	require.ErrorIs(test, err, wager.ErrAccountNotFound)
	require.ErrorIs(test, store.DebitAccount(ctx, player, 1, at), wager.ErrAccountNotFound)
	require.ErrorIs(test, store.CreditAccount(ctx, player, 1, at), wager.ErrAccountNotFound)

	account, err := store.UpsertAccount(ctx, player, at)
	require.NoError(test, err)
	require.Equal(test, player, account.Address)
	require.Equal(test, wager.Lamports(0), account.Balance)

	require.NoError(test, store.CreditAccount(ctx, player, 500, at))
	account, err = store.UpsertAccount(ctx, player, at.Add(time.Minute))
	require.NoError(test, err)
	require.Equal(test, wager.Lamports(500), account.Balance, "upsert must not reset an existing balance")

	require.ErrorIs(test, store.DebitAccount(ctx, player, 501, at), wager.ErrInsufficientFunds)
	require.NoError(test, store.DebitAccount(ctx, player, 500, at))
	account, err = store.GetAccount(ctx, player)
	require.NoError(test, err)
	require.Equal(test, wager.Lamports(0), account.Balance)
}

func testRollback(test *testing.T, store wager.Store) {
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	at := baseTime()
	_, err := store.UpsertAccount(ctx, player, at)
	require.NoError(test, err)

	err = store.WithTx(ctx, func(ctx context.Context, txStore wager.Store) error {
		if err := txStore.CreditAccount(ctx, player, 100, at); err != nil {
			return err
		}
		return errRollback
	})
	require.ErrorIs(test, err, errRollback)
	account, err := store.GetAccount(ctx, player)
	require.NoError(test, err)
	require.Equal(test, wager.Lamports(0), account.Balance)

	require.NoError(test, store.WithTx(ctx, func(ctx context.Context, txStore wager.Store) error {
		return txStore.CreditAccount(ctx, player, 100, at)
	}))
	account, err = store.GetAccount(ctx, player)
	require.NoError(test, err)
	require.Equal(test, wager.Lamports(100), account.Balance)
}

func newSession(test *testing.T, raw string) wager.GameSession {
	return wager.GameSession{
		SessionID:   mustSessionID(test, raw),
		Address:     mustAddress(test, playerAddressValue),
		WagerAmount: 1_000,
		Difficulty:  wager.DifficultyMedium,
		Outcome:     wager.OutcomeUnresolved,
		CreatedAt:   baseTime(),
	}
}

func testSessions(test *testing.T, store wager.Store) {
	ctx := context.Background()
	session := newSession(test, "session-contract")

	_, err := store.GetSession(ctx, session.SessionID)
	require.ErrorIs(test, err, wager.ErrSessionNotFound)
	require.NoError(test, store.CreateSession(ctx, session))
	require.ErrorIs(test, store.CreateSession(ctx, session), wager.ErrSessionExists)

	settledAt := baseTime().Add(time.Minute)
	require.NoError(test, store.SettleSession(ctx, session.SessionID, wager.OutcomeWon, 42, 90, settledAt))
	require.ErrorIs(test, store.SettleSession(ctx, session.SessionID, wager.OutcomeLost, 1, 1, settledAt), wager.ErrAlreadySettled)
	require.ErrorIs(test, store.SettleSession(ctx, mustSessionID(test, "missing"), wager.OutcomeLost, 1, 1, settledAt), wager.ErrSessionNotFound)

	stored, err := store.GetSession(ctx, session.SessionID)
	require.NoError(test, err)
	require.Equal(test, wager.OutcomeWon, stored.Outcome)
	require.Equal(test, 42, stored.Moves)
	require.Equal(test, 90, stored.ElapsedSeconds)
	require.Equal(test, wager.DifficultyMedium, stored.Difficulty)
	require.NotNil(test, stored.SettledAt)
	require.False(test, stored.Claimed)

	signature := mustSignature(test, "SIG-session")
	require.NoError(test, store.MarkSessionClaimed(ctx, session.SessionID, signature))
	require.NoError(test, store.MarkSessionClaimed(ctx, session.SessionID, signature))
	stored, err = store.GetSession(ctx, session.SessionID)
	require.NoError(test, err)
	require.True(test, stored.Claimed)
	require.Equal(test, signature, stored.ClaimSignature)
}

func testWagersAndProofs(test *testing.T, store wager.Store) {
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	sessionID := mustSessionID(test, "session-wager")
	signature := mustSignature(test, "SIG-deposit")
	record := wager.Wager{
		WagerID:          "wager-1",
		Address:          player,
		SessionID:        sessionID,
		Amount:           2_000,
		Status:           wager.WagerStatusSuccess,
		DepositSignature: signature,
		CreatedAt:        baseTime(),
	}

	_, err := store.GetWagerBySession(ctx, sessionID)
	require.ErrorIs(test, err, wager.ErrWagerNotFound)
	require.NoError(test, store.CreateWager(ctx, record))
	duplicate := record
	duplicate.WagerID = "wager-2"
	require.ErrorIs(test, store.CreateWager(ctx, duplicate), wager.ErrSessionExists)

	stored, err := store.GetWagerBySession(ctx, sessionID)
	require.NoError(test, err)
	require.Equal(test, "wager-1", stored.WagerID)
	require.Equal(test, wager.Lamports(2_000), stored.Amount)
	require.Equal(test, signature, stored.DepositSignature)

	proof := wager.DepositProof{Signature: signature, Address: player, Amount: 2_000, Purpose: "wager", CreatedAt: baseTime()}
	require.NoError(test, store.RecordDepositProof(ctx, proof))
	proof.Purpose = "balance"
	require.ErrorIs(test, store.RecordDepositProof(ctx, proof), wager.ErrDepositProofUsed)
}

func testEntries(test *testing.T, store wager.Store) {
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	other := mustAddress(test, otherAddressValue)
	kinds := []wager.EntryKind{wager.EntryBid, wager.EntryLose, wager.EntryDeposit}
	for index, kind := range kinds {
		require.NoError(test, store.InsertEntry(ctx, wager.LedgerEntry{
			EntryID:      "entry-" + string(kind),
			Address:      player,
			Kind:         kind,
			Amount:       wager.Lamports(index + 1),
			Status:       wager.EntryStatusSuccess,
			MetadataJSON: `{"index":1}`,
			CreatedAt:    baseTime().Add(time.Duration(index) * time.Second),
		}))
	}
	require.NoError(test, store.InsertEntry(ctx, wager.LedgerEntry{
		EntryID:   "entry-other",
		Address:   other,
		Kind:      wager.EntryBid,
		Amount:    9,
		Status:    wager.EntryStatusSuccess,
		CreatedAt: baseTime(),
	}))

	page, err := store.ListEntries(ctx, player, time.Time{}, 2)
	require.NoError(test, err)
	require.Len(test, page, 2)
	require.Equal(test, wager.EntryDeposit, page[0].Kind)
	require.Equal(test, wager.EntryLose, page[1].Kind)
	require.JSONEq(test, `{"index":1}`, page[0].MetadataJSON)

	rest, err := store.ListEntries(ctx, player, page[1].CreatedAt, 10)
	require.NoError(test, err)
	require.Len(test, rest, 1)
	require.Equal(test, wager.EntryBid, rest[0].Kind)

	others, err := store.ListEntries(ctx, other, time.Time{}, 10)
	require.NoError(test, err)
	require.Len(test, others, 1)
}

func newReward(test *testing.T, raw string, sessionRaw string, offset time.Duration) wager.Reward {
	return wager.Reward{
		RewardID:    mustRewardID(test, raw),
		Address:     mustAddress(test, playerAddressValue),
		Amount:      1_500,
		Description: "Won MEDIUM session " + sessionRaw,
		SessionID:   mustSessionID(test, sessionRaw),
		CreatedAt:   baseTime().Add(offset),
	}
}

func testRewards(test *testing.T, store wager.Store) {
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	first := newReward(test, "reward-1", "session-r1", 0)
	second := newReward(test, "reward-2", "session-r2", time.Second)
	require.NoError(test, store.CreateReward(ctx, first))
	require.NoError(test, store.CreateReward(ctx, second))
	require.ErrorIs(test, store.CreateReward(ctx, first), wager.ErrAlreadyClaimed)

	_, err := store.GetReward(ctx, mustRewardID(test, "missing"))
	require.ErrorIs(test, err, wager.ErrRewardNotFound)
	require.ErrorIs(test, store.LockRewardForPayout(ctx, mustRewardID(test, "missing"), "payout-x"), wager.ErrRewardNotFound)

	require.NoError(test, store.LockRewardForPayout(ctx, first.RewardID, "payout-a"))
	require.ErrorIs(test, store.LockRewardForPayout(ctx, first.RewardID, "payout-b"), wager.ErrAlreadyClaimed)

	signature := mustSignature(test, "SIG-reward")
	at := baseTime().Add(time.Minute)
	require.ErrorIs(test, store.MarkRewardClaimed(ctx, first.RewardID, "payout-b", signature, at), wager.ErrRewardLockLost)

	require.NoError(test, store.ReleaseRewardLock(ctx, first.RewardID, "payout-b"))
	locked, err := store.GetReward(ctx, first.RewardID)
	require.NoError(test, err)
	require.Equal(test, "payout-a", locked.PayoutID, "release by a foreign payout must keep the lock")

	require.NoError(test, store.ReleaseRewardLock(ctx, first.RewardID, "payout-a"))
	require.NoError(test, store.LockRewardForPayout(ctx, first.RewardID, "payout-c"))
	require.NoError(test, store.MarkRewardClaimed(ctx, first.RewardID, "payout-c", signature, at))
	require.ErrorIs(test, store.MarkRewardClaimed(ctx, first.RewardID, "payout-c", signature, at), wager.ErrRewardLockLost)
	require.ErrorIs(test, store.LockRewardForPayout(ctx, first.RewardID, "payout-d"), wager.ErrAlreadyClaimed)

	claimed, err := store.GetReward(ctx, first.RewardID)
	require.NoError(test, err)
	require.True(test, claimed.Claimed)
	require.Equal(test, signature, claimed.ClaimSignature)
	require.NotNil(test, claimed.ClaimedAt)
	require.Equal(test, first.SessionID, claimed.SessionID)

	unclaimed, err := store.ListUnclaimedRewards(ctx, player)
	require.NoError(test, err)
	require.Len(test, unclaimed, 1)
	require.Equal(test, second.RewardID, unclaimed[0].RewardID)
}

func newPayout(test *testing.T, payoutID string, signature string, createdAt time.Time) wager.Payout {
	return wager.Payout{
		PayoutID:             payoutID,
		Address:              mustAddress(test, playerAddressValue),
		Amount:               1_500,
		Purpose:              wager.PayoutPurposeReward,
		ReferenceID:          "reward-1",
		Status:               wager.PayoutStatusPending,
		Signature:            mustSignature(test, signature),
		LastValidBlockHeight: 1234,
		CreatedAt:            createdAt,
		UpdatedAt:            createdAt,
	}
}

func testPayouts(test *testing.T, store wager.Store) {
	ctx := context.Background()
	older := newPayout(test, "payout-old", "SIG-old", baseTime())
	newer := newPayout(test, "payout-new", "SIG-new", baseTime().Add(time.Hour))
	require.NoError(test, store.CreatePayout(ctx, older))
	require.NoError(test, store.CreatePayout(ctx, newer))

	_, err := store.GetPayout(ctx, "missing")
	require.ErrorIs(test, err, wager.ErrPayoutNotFound)

	pending, err := store.ListPendingPayouts(ctx, baseTime().Add(time.Minute), 10)
	require.NoError(test, err)
	require.Len(test, pending, 1)
	require.Equal(test, "payout-old", pending[0].PayoutID)
	require.Equal(test, uint64(1234), pending[0].LastValidBlockHeight)

	at := baseTime().Add(2 * time.Hour)
	require.NoError(test, store.TransitionPayout(ctx, older.PayoutID, wager.PayoutStatusPending, wager.PayoutStatusConfirmed, at))
	require.ErrorIs(test, store.TransitionPayout(ctx, older.PayoutID, wager.PayoutStatusPending, wager.PayoutStatusFailed, at), wager.ErrPayoutClosed)

	stored, err := store.GetPayout(ctx, older.PayoutID)
	require.NoError(test, err)
	require.Equal(test, wager.PayoutStatusConfirmed, stored.Status)
	require.Equal(test, older.Signature, stored.Signature)

	pending, err = store.ListPendingPayouts(ctx, baseTime().Add(24*time.Hour), 10)
	require.NoError(test, err)
	require.Len(test, pending, 1)
	require.Equal(test, "payout-new", pending[0].PayoutID)
}

func testReconciliationEvents(test *testing.T, store wager.Store) {
	ctx := context.Background()
	for index, eventID := range []string{"event-1", "event-2"} {
		require.NoError(test, store.InsertReconciliationEvent(ctx, wager.ReconciliationEvent{
			EventID:   eventID,
			PayoutID:  "payout-" + eventID,
			Address:   mustAddress(test, playerAddressValue),
			Amount:    1_500,
			Signature: mustSignature(test, "SIG-"+eventID),
			Reason:    "claim_lock_lost",
			CreatedAt: baseTime().Add(time.Duration(index) * time.Second),
		}))
	}
	events, err := store.ListUnexportedReconciliationEvents(ctx, 10)
	require.NoError(test, err)
	require.Len(test, events, 2)
	require.Equal(test, "event-1", events[0].EventID)

	require.NoError(test, store.MarkReconciliationEventsExported(ctx, []string{"event-1"}))
	require.NoError(test, store.MarkReconciliationEventsExported(ctx, nil))
	events, err = store.ListUnexportedReconciliationEvents(ctx, 10)
	require.NoError(test, err)
	require.Len(test, events, 1)
	require.Equal(test, "event-2", events[0].EventID)
}
