// Package memstore keeps wager state in process memory. Transactions run against a copy of the
// state that replaces the committed copy only when the callback succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
)

type state struct {
	accounts map[string]wager.Account
	sessions map[string]wager.GameSession
	wagers   map[string]wager.Wager
	entries  []wager.LedgerEntry
	rewards  map[string]wager.Reward
	payouts  map[string]wager.Payout
	proofs   map[string]wager.DepositProof
	events   []wager.ReconciliationEvent
}

func newState() *state {
	return &state{
		accounts: map[string]wager.Account{},
		sessions: map[string]wager.GameSession{},
		wagers:   map[string]wager.Wager{},
		rewards:  map[string]wager.Reward{},
		payouts:  map[string]wager.Payout{},
		proofs:   map[string]wager.DepositProof{},
	}
}

func (current *state) clone() *state {
	next := newState()
	for key, value := range current.accounts {
		next.accounts[key] = value
	}
	for key, value := range current.sessions {
		next.sessions[key] = value
	}
	for key, value := range current.wagers {
		next.wagers[key] = value
	}
	for key, value := range current.rewards {
		next.rewards[key] = value
	}
	for key, value := range current.payouts {
		next.payouts[key] = value
	}
	for key, value := range current.proofs {
		next.proofs[key] = value
	}
	next.entries = append([]wager.LedgerEntry(nil), current.entries...)
	next.events = append([]wager.ReconciliationEvent(nil), current.events...)
	return next
}

// Store implements wager.Store in memory.
type Store struct {
	mutex     *sync.Mutex
	committed **state
	working   *state
}

// New returns an empty Store.
func New() *Store {
	initial := newState()
	return &Store{mutex: &sync.Mutex{}, committed: &initial}
}

// WithTx runs fn against a private copy of the state and commits it when fn returns nil.
// Transactions are serialized.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wager.Store) error) error {
	if store.working != nil {
		return fn(ctx, store)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	working := (*store.committed).clone()
	transactionStore := &Store{mutex: store.mutex, committed: store.committed, working: working}
	if err := fn(ctx, transactionStore); err != nil {
		return err
	}
	*store.committed = working
	return nil
}

// view runs read against the visible state.
func (store *Store) view(read func(current *state)) {
	if store.working != nil {
		read(store.working)
		return
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	read(*store.committed)
}

// update runs write in its own transaction unless one is already open.
func (store *Store) update(ctx context.Context, write func(current *state) error) error {
	if store.working != nil {
		return write(store.working)
	}
	return store.WithTx(ctx, func(ctx context.Context, txStore wager.Store) error {
		return write(txStore.(*Store).working)
	})
}

func (store *Store) GetAccount(_ context.Context, address wager.Address) (wager.Account, error) {
	var (
		account wager.Account
		found   bool
	)
	store.view(func(current *state) {
		account, found = current.accounts[address.String()]
	})
	if !found {
		return wager.Account{}, wager.ErrAccountNotFound
	}
	return account, nil
}

func (store *Store) UpsertAccount(ctx context.Context, address wager.Address, at time.Time) (wager.Account, error) {
	var account wager.Account
	err := store.update(ctx, func(current *state) error {
		existing, found := current.accounts[address.String()]
		if !found {
			existing = wager.Account{Address: address, CreatedAt: at, UpdatedAt: at}
			current.accounts[address.String()] = existing
		}
		account = existing
		return nil
	})
	return account, err
}

func (store *Store) DebitAccount(ctx context.Context, address wager.Address, amount wager.Lamports, at time.Time) error {
	return store.update(ctx, func(current *state) error {
		account, found := current.accounts[address.String()]
		if !found {
			return wager.ErrAccountNotFound
		}
		if account.Balance < amount {
			return wager.ErrInsufficientFunds
		}
		account.Balance -= amount
		account.UpdatedAt = at
		current.accounts[address.String()] = account
		return nil
	})
}

func (store *Store) CreditAccount(ctx context.Context, address wager.Address, amount wager.Lamports, at time.Time) error {
	return store.update(ctx, func(current *state) error {
		account, found := current.accounts[address.String()]
		if !found {
			return wager.ErrAccountNotFound
		}
		account.Balance += amount
		account.UpdatedAt = at
		current.accounts[address.String()] = account
		return nil
	})
}

func (store *Store) CreateSession(ctx context.Context, session wager.GameSession) error {
	return store.update(ctx, func(current *state) error {
		if _, found := current.sessions[session.SessionID.String()]; found {
			return wager.ErrSessionExists
		}
		current.sessions[session.SessionID.String()] = session
		return nil
	})
}

func (store *Store) GetSession(_ context.Context, sessionID wager.SessionID) (wager.GameSession, error) {
	var (
		session wager.GameSession
		found   bool
	)
	store.view(func(current *state) {
		session, found = current.sessions[sessionID.String()]
	})
	if !found {
		return wager.GameSession{}, wager.ErrSessionNotFound
	}
	return session, nil
}

func (store *Store) SettleSession(ctx context.Context, sessionID wager.SessionID, outcome wager.Outcome, moves int, elapsedSeconds int, at time.Time) error {
	return store.update(ctx, func(current *state) error {
		session, found := current.sessions[sessionID.String()]
		if !found {
			return wager.ErrSessionNotFound
		}
		if session.Outcome != wager.OutcomeUnresolved {
			return wager.ErrAlreadySettled
		}
		settledAt := at
		session.Outcome = outcome
		session.Moves = moves
		session.ElapsedSeconds = elapsedSeconds
		session.SettledAt = &settledAt
		current.sessions[sessionID.String()] = session
		return nil
	})
}

func (store *Store) MarkSessionClaimed(ctx context.Context, sessionID wager.SessionID, signature wager.Signature) error {
	return store.update(ctx, func(current *state) error {
		session, found := current.sessions[sessionID.String()]
		if !found {
			return wager.ErrSessionNotFound
		}
		session.Claimed = true
		session.ClaimSignature = signature
		current.sessions[sessionID.String()] = session
		return nil
	})
}

func (store *Store) CreateWager(ctx context.Context, record wager.Wager) error {
	return store.update(ctx, func(current *state) error {
		if _, found := current.wagers[record.SessionID.String()]; found {
			return wager.ErrSessionExists
		}
		current.wagers[record.SessionID.String()] = record
		return nil
	})
}

func (store *Store) GetWagerBySession(_ context.Context, sessionID wager.SessionID) (wager.Wager, error) {
	var (
		record wager.Wager
		found  bool
	)
	store.view(func(current *state) {
		record, found = current.wagers[sessionID.String()]
	})
	if !found {
		return wager.Wager{}, wager.ErrWagerNotFound
	}
	return record, nil
}

func (store *Store) RecordDepositProof(ctx context.Context, proof wager.DepositProof) error {
	return store.update(ctx, func(current *state) error {
		if _, found := current.proofs[proof.Signature.String()]; found {
			return wager.ErrDepositProofUsed
		}
		current.proofs[proof.Signature.String()] = proof
		return nil
	})
}

func (store *Store) InsertEntry(ctx context.Context, entry wager.LedgerEntry) error {
	return store.update(ctx, func(current *state) error {
		current.entries = append(current.entries, entry)
		return nil
	})
}

func (store *Store) ListEntries(_ context.Context, address wager.Address, before time.Time, limit int) ([]wager.LedgerEntry, error) {
	var entries []wager.LedgerEntry
	store.view(func(current *state) {
		for index := len(current.entries) - 1; index >= 0; index-- {
			entry := current.entries[index]
			if entry.Address != address {
				continue
			}
			if !before.IsZero() && !entry.CreatedAt.Before(before) {
				continue
			}
			entries = append(entries, entry)
		}
	})
	sort.SliceStable(entries, func(left, right int) bool {
		return entries[left].CreatedAt.After(entries[right].CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (store *Store) CreateReward(ctx context.Context, reward wager.Reward) error {
	return store.update(ctx, func(current *state) error {
		if _, found := current.rewards[reward.RewardID.String()]; found {
			return wager.ErrAlreadyClaimed
		}
		current.rewards[reward.RewardID.String()] = reward
		return nil
	})
}

func (store *Store) GetReward(_ context.Context, rewardID wager.RewardID) (wager.Reward, error) {
	var (
		reward wager.Reward
		found  bool
	)
	store.view(func(current *state) {
		reward, found = current.rewards[rewardID.String()]
	})
	if !found {
		return wager.Reward{}, wager.ErrRewardNotFound
	}
	return reward, nil
}

func (store *Store) ListUnclaimedRewards(_ context.Context, address wager.Address) ([]wager.Reward, error) {
	var rewards []wager.Reward
	store.view(func(current *state) {
		for _, reward := range current.rewards {
			if reward.Address == address && !reward.Claimed {
				rewards = append(rewards, reward)
			}
		}
	})
	sort.Slice(rewards, func(left, right int) bool {
		if rewards[left].CreatedAt.Equal(rewards[right].CreatedAt) {
			return rewards[left].RewardID.String() < rewards[right].RewardID.String()
		}
		return rewards[left].CreatedAt.Before(rewards[right].CreatedAt)
	})
	return rewards, nil
}

func (store *Store) LockRewardForPayout(ctx context.Context, rewardID wager.RewardID, payoutID string) error {
	return store.update(ctx, func(current *state) error {
		reward, found := current.rewards[rewardID.String()]
		if !found {
			return wager.ErrRewardNotFound
		}
		if reward.Claimed || reward.PayoutID != "" {
			return wager.ErrAlreadyClaimed
		}
		reward.PayoutID = payoutID
		current.rewards[rewardID.String()] = reward
		return nil
	})
}

func (store *Store) ReleaseRewardLock(ctx context.Context, rewardID wager.RewardID, payoutID string) error {
	return store.update(ctx, func(current *state) error {
		reward, found := current.rewards[rewardID.String()]
		if !found || reward.Claimed || reward.PayoutID != payoutID {
			return nil
		}
		reward.PayoutID = ""
		current.rewards[rewardID.String()] = reward
		return nil
	})
}

func (store *Store) MarkRewardClaimed(ctx context.Context, rewardID wager.RewardID, payoutID string, signature wager.Signature, at time.Time) error {
	return store.update(ctx, func(current *state) error {
		reward, found := current.rewards[rewardID.String()]
		if !found || reward.Claimed || reward.PayoutID != payoutID {
			return wager.ErrRewardLockLost
		}
		claimedAt := at
		reward.Claimed = true
		reward.ClaimSignature = signature
		reward.ClaimedAt = &claimedAt
		current.rewards[rewardID.String()] = reward
		return nil
	})
}

func (store *Store) CreatePayout(ctx context.Context, payout wager.Payout) error {
	return store.update(ctx, func(current *state) error {
		if _, found := current.payouts[payout.PayoutID]; found {
			return wager.ErrPayoutClosed
		}
		current.payouts[payout.PayoutID] = payout
		return nil
	})
}

func (store *Store) GetPayout(_ context.Context, payoutID string) (wager.Payout, error) {
	var (
		payout wager.Payout
		found  bool
	)
	store.view(func(current *state) {
		payout, found = current.payouts[payoutID]
	})
	if !found {
		return wager.Payout{}, wager.ErrPayoutNotFound
	}
	return payout, nil
}

func (store *Store) ListPendingPayouts(_ context.Context, createdBefore time.Time, limit int) ([]wager.Payout, error) {
	var payouts []wager.Payout
	store.view(func(current *state) {
		for _, payout := range current.payouts {
			if payout.Status == wager.PayoutStatusPending && payout.CreatedAt.Before(createdBefore) {
				payouts = append(payouts, payout)
			}
		}
	})
	sort.Slice(payouts, func(left, right int) bool {
		return payouts[left].CreatedAt.Before(payouts[right].CreatedAt)
	})
	if limit > 0 && len(payouts) > limit {
		payouts = payouts[:limit]
	}
	return payouts, nil
}

func (store *Store) TransitionPayout(ctx context.Context, payoutID string, from wager.PayoutStatus, to wager.PayoutStatus, at time.Time) error {
	return store.update(ctx, func(current *state) error {
		payout, found := current.payouts[payoutID]
		if !found || payout.Status != from {
			return wager.ErrPayoutClosed
		}
		payout.Status = to
		payout.UpdatedAt = at
		current.payouts[payoutID] = payout
		return nil
	})
}

func (store *Store) InsertReconciliationEvent(ctx context.Context, event wager.ReconciliationEvent) error {
	return store.update(ctx, func(current *state) error {
		current.events = append(current.events, event)
		return nil
	})
}

func (store *Store) ListUnexportedReconciliationEvents(_ context.Context, limit int) ([]wager.ReconciliationEvent, error) {
	var events []wager.ReconciliationEvent
	store.view(func(current *state) {
		for _, event := range current.events {
			if !event.Exported {
				events = append(events, event)
			}
		}
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (store *Store) MarkReconciliationEventsExported(ctx context.Context, eventIDs []string) error {
	marked := make(map[string]struct{}, len(eventIDs))
	for _, eventID := range eventIDs {
		marked[eventID] = struct{}{}
	}
	return store.update(ctx, func(current *state) error {
		for index := range current.events {
			if _, found := marked[current.events[index].EventID]; found {
				current.events[index].Exported = true
			}
		}
		return nil
	})
}
