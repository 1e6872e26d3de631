package wager

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wager operation.
type OperationLog struct {
	Operation string
	Address   Address
	SessionID SessionID
	RewardID  RewardID
	PayoutID  string
	Amount    Lamports
	Signature Signature
	Reason    string
	Status    string
	Error     error
}

// EventType names a notification emitted after a commit.
type EventType string

const (
	EventWagerPlaced            EventType = "wager.placed"
	EventSessionSettled         EventType = "session.settled"
	EventRewardClaimed          EventType = "reward.claimed"
	EventDepositCredited        EventType = "deposit.credited"
	EventWithdrawalCompleted    EventType = "withdrawal.completed"
	EventReconciliationRequired EventType = "payout.reconciliation_required"
)

// Event is handed to a Notifier once the corresponding write has committed.
type Event struct {
	Type       EventType
	Address    Address
	SessionID  SessionID
	RewardID   RewardID
	PayoutID   string
	Outcome    Outcome
	Amount     Lamports
	Signature  Signature
	OccurredAt time.Time
}

// Notifier receives post-commit notifications. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, event Event)

// Notify calls the function.
func (notifierFunc NotifierFunc) Notify(ctx context.Context, event Event) {
	notifierFunc(ctx, event)
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithNotifier wires a post-commit notification callback.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithIDGenerator replaces the uuid generator used for wager, reward, entry and payout ids.
func WithIDGenerator(newID func() string) ServiceOption {
	return func(service *Service) {
		if newID != nil {
			service.newID = newID
		}
	}
}

// WithPayoutTimeout bounds how long a detached payout may take before it is left to the reconciler.
func WithPayoutTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.payoutTimeout = timeout
		}
	}
}
