package wager_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/wager/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
)

const (
	playerAddressValue   = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	treasuryAddressValue = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	otherAddressValue    = "HN7cABqLq46Es1jh92dQQisAq662SmxELLLsHHe4YWrH"
	errorMismatchMessage = "expected %v, got %v"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newTestClock() *testClock {
	return &testClock{now: baseTime}
}

func (clock *testClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.now = clock.now.Add(time.Millisecond)
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.now = clock.now.Add(duration)
}

// fakeChain serves both chain collaborators.
type fakeChain struct {
	mutex       sync.Mutex
	transfers   map[string]wager.ObservedTransfer
	lookupErr   error
	prepareErr  error
	submitErrs  []error
	submitGate  chan struct{}
	statuses    map[string]wager.ChainStatus
	prepared    int
	submitted   []wager.PreparedPayout
	memos       []string
	submitCalls int
	prepareHook func()
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		transfers: map[string]wager.ObservedTransfer{},
		statuses:  map[string]wager.ChainStatus{},
	}
}

func (chain *fakeChain) addTransfer(transfer wager.ObservedTransfer) {
	chain.mutex.Lock()
	defer chain.mutex.Unlock()
	chain.transfers[transfer.Signature.String()] = transfer
}

func (chain *fakeChain) failNextSubmit(err error) {
	chain.mutex.Lock()
	defer chain.mutex.Unlock()
	chain.submitErrs = append(chain.submitErrs, err)
}

func (chain *fakeChain) setStatus(signature wager.Signature, status wager.ChainStatus) {
	chain.mutex.Lock()
	defer chain.mutex.Unlock()
	chain.statuses[signature.String()] = status
}

func (chain *fakeChain) submissions() int {
	chain.mutex.Lock()
	defer chain.mutex.Unlock()
	return chain.submitCalls
}

func (chain *fakeChain) LookupTransfer(_ context.Context, signature wager.Signature) (wager.ObservedTransfer, error) {
	chain.mutex.Lock()
	defer chain.mutex.Unlock()
	if chain.lookupErr != nil {
		return wager.ObservedTransfer{}, chain.lookupErr
	}
	transfer, found := chain.transfers[signature.String()]
	if !found {
		return wager.ObservedTransfer{}, wager.ErrTransferNotFound
	}
	return transfer, nil
}

func (chain *fakeChain) PreparePayout(_ context.Context, recipient wager.Address, amount wager.Lamports, memo string) (wager.PreparedPayout, error) {
	chain.mutex.Lock()
	hook := chain.prepareHook
	chain.mutex.Unlock()
	if hook != nil {
		hook()
	}
	chain.mutex.Lock()
	defer chain.mutex.Unlock()
	if chain.prepareErr != nil {
		return wager.PreparedPayout{}, chain.prepareErr
	}
	chain.prepared++
	chain.memos = append(chain.memos, memo)
	signature, err := wager.NewSignature(fmt.Sprintf("SIG%d", chain.prepared))
	if err != nil {
		return wager.PreparedPayout{}, err
	}
	return wager.PreparedPayout{
		Signature:            signature,
		Recipient:            recipient,
		Amount:               amount,
		LastValidBlockHeight: 1000,
	}, nil
}

func (chain *fakeChain) SubmitPayout(ctx context.Context, payout wager.PreparedPayout) error {
	chain.mutex.Lock()
	chain.submitCalls++
	chain.submitted = append(chain.submitted, payout)
	gate := chain.submitGate
	var submitErr error
	if len(chain.submitErrs) > 0 {
		submitErr = chain.submitErrs[0]
		chain.submitErrs = chain.submitErrs[1:]
	}
	chain.mutex.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", wager.ErrExternalTimeout, ctx.Err())
		}
	}
	return submitErr
}

func (chain *fakeChain) PayoutStatus(_ context.Context, signature wager.Signature, _ uint64) (wager.ChainStatus, error) {
	chain.mutex.Lock()
	defer chain.mutex.Unlock()
	status, found := chain.statuses[signature.String()]
	if !found {
		return wager.ChainStatusUnknown, nil
	}
	return status, nil
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []wager.OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry wager.OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) find(operation string) []wager.OperationLog {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	var matches []wager.OperationLog
	for _, entry := range logger.entries {
		if entry.Operation == operation {
			matches = append(matches, entry)
		}
	}
	return matches
}

type recorderNotifier struct {
	mutex  sync.Mutex
	events []wager.Event
}

func (notifier *recorderNotifier) Notify(_ context.Context, event wager.Event) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	notifier.events = append(notifier.events, event)
}

func (notifier *recorderNotifier) types() []wager.EventType {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	var types []wager.EventType
	for _, event := range notifier.events {
		types = append(types, event.Type)
	}
	return types
}

type harness struct {
	store   wager.Store
	chain   *fakeChain
	clock   *testClock
	service *wager.Service
}

func newHarness(test *testing.T, options ...wager.ServiceOption) *harness {
	test.Helper()
	store := memstore.New()
	return newHarnessWithStore(test, store, store, options...)
}

func newHarnessWithStore(test *testing.T, store wager.Store, serviceStore wager.Store, options ...wager.ServiceOption) *harness {
	test.Helper()
	chain := newFakeChain()
	clock := newTestClock()
	service, err := wager.NewService(serviceStore, chain, chain, mustAddress(test, treasuryAddressValue), clock.Now, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	test.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	})
	return &harness{store: store, chain: chain, clock: clock, service: service}
}

func (fixture *harness) fund(test *testing.T, address wager.Address, amount string) {
	test.Helper()
	ctx := context.Background()
	if _, err := fixture.store.UpsertAccount(ctx, address, baseTime); err != nil {
		test.Fatalf("upsert account: %v", err)
	}
	if err := fixture.store.CreditAccount(ctx, address, mustAmount(test, amount), baseTime); err != nil {
		test.Fatalf("credit account: %v", err)
	}
}

func (fixture *harness) balance(test *testing.T, address wager.Address) wager.Lamports {
	test.Helper()
	account, err := fixture.store.GetAccount(context.Background(), address)
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	return account.Balance
}

func (fixture *harness) entries(test *testing.T, address wager.Address) []wager.LedgerEntry {
	test.Helper()
	entries, err := fixture.store.ListEntries(context.Background(), address, time.Time{}, 1000)
	if err != nil {
		test.Fatalf("list entries: %v", err)
	}
	return entries
}

func (fixture *harness) placeWager(test *testing.T, address wager.Address, amount string, sessionID string, difficulty wager.Difficulty) wager.PlaceWagerResult {
	test.Helper()
	result, err := fixture.service.PlaceWager(context.Background(), wager.PlaceWagerRequest{
		Address:    address,
		Amount:     mustAmount(test, amount),
		SessionID:  mustSessionID(test, sessionID),
		Difficulty: difficulty,
	})
	if err != nil {
		test.Fatalf("place wager: %v", err)
	}
	return result
}

func (fixture *harness) settle(test *testing.T, sessionID string, outcome wager.Outcome) wager.SettlementResult {
	test.Helper()
	result, err := fixture.service.SettleSession(context.Background(), wager.SettleRequest{
		SessionID:      mustSessionID(test, sessionID),
		Moves:          42,
		ElapsedSeconds: 90,
		Outcome:        outcome,
	})
	if err != nil {
		test.Fatalf("settle session: %v", err)
	}
	return result
}

// winReward funds address, plays one medium session and wins it.
func (fixture *harness) winReward(test *testing.T, address wager.Address, sessionID string) wager.Reward {
	test.Helper()
	fixture.fund(test, address, "5")
	fixture.placeWager(test, address, "1", sessionID, wager.DifficultyMedium)
	result := fixture.settle(test, sessionID, wager.OutcomeWon)
	if result.Reward == nil {
		test.Fatalf("expected reward")
	}
	return *result.Reward
}

func countKind(entries []wager.LedgerEntry, kind wager.EntryKind) int {
	count := 0
	for _, entry := range entries {
		if entry.Kind == kind {
			count++
		}
	}
	return count
}

func findKind(test *testing.T, entries []wager.LedgerEntry, kind wager.EntryKind) wager.LedgerEntry {
	test.Helper()
	for _, entry := range entries {
		if entry.Kind == kind {
			return entry
		}
	}
	test.Fatalf("no %s entry in %+v", kind, entries)
	return wager.LedgerEntry{}
}

func mustAddress(test *testing.T, raw string) wager.Address {
	test.Helper()
	address, err := wager.NewAddress(raw)
	if err != nil {
		test.Fatalf("invalid address %q: %v", raw, err)
	}
	return address
}

func mustSessionID(test *testing.T, raw string) wager.SessionID {
	test.Helper()
	sessionID, err := wager.NewSessionID(raw)
	if err != nil {
		test.Fatalf("invalid session id %q: %v", raw, err)
	}
	return sessionID
}

func mustSignature(test *testing.T, raw string) wager.Signature {
	test.Helper()
	signature, err := wager.NewSignature(raw)
	if err != nil {
		test.Fatalf("invalid signature %q: %v", raw, err)
	}
	return signature
}

func mustAmount(test *testing.T, raw string) wager.Lamports {
	test.Helper()
	amount, err := wager.ParseAmount(raw)
	if err != nil {
		test.Fatalf("invalid amount %q: %v", raw, err)
	}
	return amount
}
