package wager_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/wager/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
)

const concurrentClaimers = 16

func TestClaimRewardIsExactlyOnceUnderConcurrency(test *testing.T) {
	test.Parallel()
	assertClaimExactlyOnce(test, newHarness(test))
}

// assertClaimExactlyOnce races concurrent claims of one fresh reward through fixture.
func assertClaimExactlyOnce(test *testing.T, fixture *harness) {
	test.Helper()
	player := mustAddress(test, playerAddressValue)
	reward := fixture.winReward(test, player, "session-race")

	var (
		waitGroup sync.WaitGroup
		start     = make(chan struct{})
		results   = make(chan error, concurrentClaimers)
	)
	for index := 0; index < concurrentClaimers; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			<-start
			_, err := fixture.service.ClaimReward(context.Background(), reward.RewardID, player)
			results <- err
		}()
	}
	close(start)
	waitGroup.Wait()
	close(results)

	successes, alreadyClaimed := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, wager.ErrAlreadyClaimed):
			alreadyClaimed++
		default:
			test.Fatalf("unexpected claim error: %v", err)
		}
	}
	if successes != 1 || alreadyClaimed != concurrentClaimers-1 {
		test.Fatalf("expected 1 success and %d already-claimed, got %d and %d", concurrentClaimers-1, successes, alreadyClaimed)
	}
	if fixture.chain.submissions() != 1 {
		test.Fatalf("expected exactly one transfer, got %d", fixture.chain.submissions())
	}
	if countKind(fixture.entries(test, player), wager.EntryReward) != 1 {
		test.Fatalf("expected exactly one REWARD entry")
	}
}

func TestEqualPayoutsCarryDistinctMemos(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	player := mustAddress(test, playerAddressValue)
	first := fixture.winReward(test, player, "session-twin-a")
	second := fixture.winReward(test, player, "session-twin-b")
	if first.Amount != second.Amount {
		test.Fatalf("expected equal rewards, got %s and %s", first.Amount, second.Amount)
	}

	firstClaim, err := fixture.service.ClaimReward(context.Background(), first.RewardID, player)
	if err != nil {
		test.Fatalf("claim first reward: %v", err)
	}
	secondClaim, err := fixture.service.ClaimReward(context.Background(), second.RewardID, player)
	if err != nil {
		test.Fatalf("claim second reward: %v", err)
	}
	fixture.chain.mutex.Lock()
	memos := append([]string(nil), fixture.chain.memos...)
	fixture.chain.mutex.Unlock()
	if len(memos) != 2 || memos[0] == memos[1] {
		test.Fatalf("expected two distinct memos, got %q", memos)
	}
	claims := []wager.ClaimResult{firstClaim, secondClaim}
	for index, claim := range claims {
		if !strings.Contains(memos[index], claim.Reward.PayoutID) || !strings.Contains(memos[index], claim.Reward.RewardID.String()) {
			test.Fatalf("memo %q does not name payout %q of reward %s", memos[index], claim.Reward.PayoutID, claim.Reward.RewardID)
		}
	}
}

func TestClaimRewardRejectsOtherOwner(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	player := mustAddress(test, playerAddressValue)
	reward := fixture.winReward(test, player, "session-owner")

	_, err := fixture.service.ClaimReward(context.Background(), reward.RewardID, mustAddress(test, otherAddressValue))
	if !errors.Is(err, wager.ErrNotFound) {
		test.Fatalf(errorMismatchMessage, wager.ErrNotFound, err)
	}
	rewardID, _ := wager.NewRewardID("missing-reward")
	_, err = fixture.service.ClaimReward(context.Background(), rewardID, player)
	if !errors.Is(err, wager.ErrRewardNotFound) {
		test.Fatalf(errorMismatchMessage, wager.ErrRewardNotFound, err)
	}
	if fixture.chain.submissions() != 0 {
		test.Fatalf("rejected claims must not transfer")
	}
}

func TestClaimRewardDefiniteFailureLeavesRewardClaimable(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		failure error
		code    string
	}{
		{name: "rejected", failure: wager.ErrExternalTransfer, code: wager.CodeExternalTransfer},
		{name: "treasury short", failure: wager.ErrInsufficientTreasuryFunds, code: wager.CodeInsufficientTreasuryFunds},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fixture := newHarness(test)
			ctx := context.Background()
			player := mustAddress(test, playerAddressValue)
			reward := fixture.winReward(test, player, "session-fail")
			fixture.chain.failNextSubmit(testCase.failure)

			_, err := fixture.service.ClaimReward(ctx, reward.RewardID, player)
			if !errors.Is(err, testCase.failure) {
				test.Fatalf(errorMismatchMessage, testCase.failure, err)
			}
			if wager.ErrorCode(err) != testCase.code {
				test.Fatalf(errorMismatchMessage, testCase.code, wager.ErrorCode(err))
			}
			stored, err := fixture.store.GetReward(ctx, reward.RewardID)
			if err != nil {
				test.Fatalf("get reward: %v", err)
			}
			if stored.Claimed || stored.PayoutID != "" {
				test.Fatalf("reward should be claimable again: %+v", stored)
			}
			if countKind(fixture.entries(test, player), wager.EntryReward) != 0 {
				test.Fatalf("failed payout wrote a REWARD entry")
			}

			claim, err := fixture.service.ClaimReward(ctx, reward.RewardID, player)
			if err != nil {
				test.Fatalf("retry claim failed: %v", err)
			}
			if claim.Signature.String() != "SIG2" {
				test.Fatalf("expected a fresh signature, got %s", claim.Signature)
			}
		})
	}
}

func TestClaimRewardPrepareFailureMutatesNothing(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	player := mustAddress(test, playerAddressValue)
	reward := fixture.winReward(test, player, "session-prepare")
	fixture.chain.prepareErr = errors.New("blockhash unavailable")

	_, err := fixture.service.ClaimReward(context.Background(), reward.RewardID, player)
	if !errors.Is(err, wager.ErrExternalTransfer) {
		test.Fatalf(errorMismatchMessage, wager.ErrExternalTransfer, err)
	}
	stored, err := fixture.store.GetReward(context.Background(), reward.RewardID)
	if err != nil || stored.PayoutID != "" {
		test.Fatalf("reward locked after prepare failure: %+v (%v)", stored, err)
	}
}

func TestClaimRewardTimeoutIsResolvedByReconciler(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	reward := fixture.winReward(test, player, "session-timeout")
	fixture.chain.failNextSubmit(wager.ErrExternalTimeout)

	_, err := fixture.service.ClaimReward(ctx, reward.RewardID, player)
	if !errors.Is(err, wager.ErrExternalTimeout) {
		test.Fatalf(errorMismatchMessage, wager.ErrExternalTimeout, err)
	}
	locked, err := fixture.store.GetReward(ctx, reward.RewardID)
	if err != nil || locked.Claimed || locked.PayoutID == "" {
		test.Fatalf("expected a locked, unclaimed reward: %+v (%v)", locked, err)
	}
	if _, err := fixture.service.ClaimReward(ctx, reward.RewardID, player); !errors.Is(err, wager.ErrAlreadyClaimed) {
		test.Fatalf("claim with a pending payout must not resubmit, got %v", err)
	}

	report, err := fixture.service.ReconcilePayouts(ctx, time.Minute)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.Checked != 0 {
		test.Fatalf("payouts inside the grace window must be skipped: %+v", report)
	}

	fixture.clock.Advance(2 * time.Minute)
	report, err = fixture.service.ReconcilePayouts(ctx, time.Minute)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.Checked != 1 || report.StillPending != 1 {
		test.Fatalf("unknown status must stay pending: %+v", report)
	}

	fixture.chain.setStatus(mustSignature(test, "SIG1"), wager.ChainStatusConfirmed)
	report, err = fixture.service.ReconcilePayouts(ctx, time.Minute)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.Confirmed != 1 {
		test.Fatalf("expected one confirmed payout: %+v", report)
	}
	claimed, err := fixture.store.GetReward(ctx, reward.RewardID)
	if err != nil || !claimed.Claimed || claimed.ClaimSignature.String() != "SIG1" {
		test.Fatalf("reconciler did not finalize the claim: %+v (%v)", claimed, err)
	}
	if countKind(fixture.entries(test, player), wager.EntryReward) != 1 {
		test.Fatalf("expected one REWARD entry")
	}
	if fixture.chain.submissions() != 1 {
		test.Fatalf("reconciler must never resubmit")
	}
}

func TestReconcileExpiredPayoutReleasesReward(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	reward := fixture.winReward(test, player, "session-expired")
	fixture.chain.failNextSubmit(wager.ErrExternalTimeout)
	if _, err := fixture.service.ClaimReward(ctx, reward.RewardID, player); !errors.Is(err, wager.ErrExternalTimeout) {
		test.Fatalf(errorMismatchMessage, wager.ErrExternalTimeout, err)
	}
	fixture.chain.setStatus(mustSignature(test, "SIG1"), wager.ChainStatusExpired)
	fixture.clock.Advance(time.Hour)

	report, err := fixture.service.ReconcilePayouts(ctx, time.Minute)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.Failed != 1 {
		test.Fatalf("expected one failed payout: %+v", report)
	}
	released, err := fixture.store.GetReward(ctx, reward.RewardID)
	if err != nil || released.Claimed || released.PayoutID != "" {
		test.Fatalf("expected claimable reward: %+v (%v)", released, err)
	}
	if _, err := fixture.service.ClaimReward(ctx, reward.RewardID, player); err != nil {
		test.Fatalf("reclaim failed: %v", err)
	}
}

func TestClaimRewardSurvivesCallerCancellation(test *testing.T) {
	test.Parallel()
	fixture := newHarness(test)
	player := mustAddress(test, playerAddressValue)
	reward := fixture.winReward(test, player, "session-cancel")
	gate := make(chan struct{})
	fixture.chain.submitGate = gate

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := fixture.service.ClaimReward(ctx, reward.RewardID, player)
		done <- err
	}()
	for fixture.chain.submissions() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, wager.ErrExternalTimeout) {
		test.Fatalf(errorMismatchMessage, wager.ErrExternalTimeout, err)
	}

	close(gate)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := fixture.service.Shutdown(shutdownCtx); err != nil {
		test.Fatalf("shutdown: %v", err)
	}
	claimed, err := fixture.store.GetReward(context.Background(), reward.RewardID)
	if err != nil || !claimed.Claimed {
		test.Fatalf("detached payout did not finish bookkeeping: %+v (%v)", claimed, err)
	}
}

// lockLosingStore drops the claim write the way a concurrent writer would.
type lockLosingStore struct {
	*memstore.Store
}

func (store *lockLosingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wager.Store) error) error {
	return store.Store.WithTx(ctx, func(ctx context.Context, txStore wager.Store) error {
		return fn(ctx, &lockLosingStore{Store: txStore.(*memstore.Store)})
	})
}

func (store *lockLosingStore) MarkRewardClaimed(context.Context, wager.RewardID, string, wager.Signature, time.Time) error {
	return wager.ErrRewardLockLost
}

func TestClaimRewardLostWriteRequiresReconciliation(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	logger := &recorderLogger{}
	notifier := &recorderNotifier{}
	fixture := newHarnessWithStore(test, store, &lockLosingStore{Store: store}, wager.WithOperationLogger(logger), wager.WithNotifier(notifier))
	ctx := context.Background()
	player := mustAddress(test, playerAddressValue)
	reward := fixture.winReward(test, player, "session-lost")

	_, err := fixture.service.ClaimReward(ctx, reward.RewardID, player)
	if !errors.Is(err, wager.ErrReconciliationRequired) {
		test.Fatalf(errorMismatchMessage, wager.ErrReconciliationRequired, err)
	}
	if wager.ErrorCode(err) != wager.CodeReconciliationRequired {
		test.Fatalf(errorMismatchMessage, wager.CodeReconciliationRequired, wager.ErrorCode(err))
	}
	events, err := fixture.service.PendingReconciliation(ctx, 10)
	if err != nil {
		test.Fatalf("list reconciliation events: %v", err)
	}
	if len(events) != 1 || events[0].Signature.String() != "SIG1" || events[0].Amount != reward.Amount {
		test.Fatalf("unexpected reconciliation events: %+v", events)
	}
	if err := fixture.service.MarkReconciliationExported(ctx, []string{events[0].EventID}); err != nil {
		test.Fatalf("mark exported: %v", err)
	}
	if remaining, _ := fixture.service.PendingReconciliation(ctx, 10); len(remaining) != 0 {
		test.Fatalf("expected exported events to be hidden, got %+v", remaining)
	}
	claims := logger.find("claim_reward")
	if len(claims) != 1 || claims[0].Status != wager.OperationStatusReconciliationRequired {
		test.Fatalf("claim must be logged as reconciliation required: %+v", claims)
	}
	sawEvent := false
	for _, eventType := range notifier.types() {
		if eventType == wager.EventReconciliationRequired {
			sawEvent = true
		}
		if eventType == wager.EventRewardClaimed {
			test.Fatalf("lost write must not be reported as claimed")
		}
	}
	if !sawEvent {
		test.Fatalf("expected reconciliation notification")
	}
}
