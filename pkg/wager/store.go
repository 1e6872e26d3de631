package wager

import (
	"context"
	"time"
)

// Store is the persistence contract used by Service.
// Conditional methods report a lost race with a domain error instead of a driver error.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetAccount(ctx context.Context, address Address) (Account, error)
	UpsertAccount(ctx context.Context, address Address, at time.Time) (Account, error)
	// DebitAccount subtracts amount only while balance >= amount.
	DebitAccount(ctx context.Context, address Address, amount Lamports, at time.Time) error
	CreditAccount(ctx context.Context, address Address, amount Lamports, at time.Time) error

	CreateSession(ctx context.Context, session GameSession) error
	GetSession(ctx context.Context, sessionID SessionID) (GameSession, error)
	// SettleSession moves an UNRESOLVED session to outcome; ErrAlreadySettled otherwise.
	SettleSession(ctx context.Context, sessionID SessionID, outcome Outcome, moves int, elapsedSeconds int, at time.Time) error
	MarkSessionClaimed(ctx context.Context, sessionID SessionID, signature Signature) error

	CreateWager(ctx context.Context, wager Wager) error
	GetWagerBySession(ctx context.Context, sessionID SessionID) (Wager, error)
	// RecordDepositProof stores a funding signature once; ErrDepositProofUsed on reuse.
	RecordDepositProof(ctx context.Context, proof DepositProof) error

	InsertEntry(ctx context.Context, entry LedgerEntry) error
	ListEntries(ctx context.Context, address Address, before time.Time, limit int) ([]LedgerEntry, error)

	CreateReward(ctx context.Context, reward Reward) error
	GetReward(ctx context.Context, rewardID RewardID) (Reward, error)
	ListUnclaimedRewards(ctx context.Context, address Address) ([]Reward, error)
	// LockRewardForPayout binds payoutID to an unclaimed, unlocked reward; ErrAlreadyClaimed otherwise.
	LockRewardForPayout(ctx context.Context, rewardID RewardID, payoutID string) error
	ReleaseRewardLock(ctx context.Context, rewardID RewardID, payoutID string) error
	// MarkRewardClaimed flips claimed while payoutID still holds the lock; ErrRewardLockLost otherwise.
	MarkRewardClaimed(ctx context.Context, rewardID RewardID, payoutID string, signature Signature, at time.Time) error

	CreatePayout(ctx context.Context, payout Payout) error
	GetPayout(ctx context.Context, payoutID string) (Payout, error)
	ListPendingPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]Payout, error)
	// TransitionPayout moves a payout from one status to another; ErrPayoutClosed when it is no longer in from.
	TransitionPayout(ctx context.Context, payoutID string, from PayoutStatus, to PayoutStatus, at time.Time) error

	InsertReconciliationEvent(ctx context.Context, event ReconciliationEvent) error
	ListUnexportedReconciliationEvents(ctx context.Context, limit int) ([]ReconciliationEvent, error)
	MarkReconciliationEventsExported(ctx context.Context, eventIDs []string) error
}

// ObservedTransfer is a native transfer read back from the chain.
type ObservedTransfer struct {
	Signature Signature
	Sender    Address
	Recipient Address
	Amount    Lamports
	Confirmed bool
	Failed    bool
}

// PreparedPayout is a signed, not yet submitted transfer out of the treasury.
type PreparedPayout struct {
	Signature            Signature
	Recipient            Address
	Amount               Lamports
	LastValidBlockHeight uint64
	Payload              []byte
}

// ChainStatus is the observed state of an earlier submission.
type ChainStatus string

const (
	ChainStatusConfirmed ChainStatus = "confirmed"
	ChainStatusFailed    ChainStatus = "failed"
	ChainStatusExpired   ChainStatus = "expired"
	ChainStatusUnknown   ChainStatus = "unknown"
)

// TransferVerifier reads transfers from the external ledger.
type TransferVerifier interface {
	// LookupTransfer returns ErrTransferNotFound or ErrExternalTimeout when the chain cannot answer.
	LookupTransfer(ctx context.Context, signature Signature) (ObservedTransfer, error)
}

// PayoutSubmitter moves value out of the treasury.
type PayoutSubmitter interface {
	// PreparePayout signs a transfer that embeds memo; distinct memos yield distinct signatures.
	PreparePayout(ctx context.Context, recipient Address, amount Lamports, memo string) (PreparedPayout, error)
	// SubmitPayout returns nil once the transfer is confirmed, ErrExternalTimeout when the outcome
	// is unknown, and ErrExternalTransfer or ErrInsufficientTreasuryFunds on a definite failure.
	SubmitPayout(ctx context.Context, payout PreparedPayout) error
	PayoutStatus(ctx context.Context, signature Signature, lastValidBlockHeight uint64) (ChainStatus, error)
}
