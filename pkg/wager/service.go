package wager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service contains the wager settlement logic over a Store and the chain collaborators.
type Service struct {
	store         Store
	verifier      TransferVerifier
	submitter     PayoutSubmitter
	treasury      Address
	nowFn         func() time.Time
	logger        OperationLogger
	notifier      Notifier
	newID         func() string
	payoutTimeout time.Duration

	// dispatchMutex orders inflight.Add against Shutdown.
	dispatchMutex sync.Mutex
	closing       bool
	inflight      sync.WaitGroup
}

// NewService wires a Service. The treasury address is the recipient of every deposit proof.
func NewService(store Store, verifier TransferVerifier, submitter PayoutSubmitter, treasury Address, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if verifier == nil {
		return nil, fmt.Errorf("%w: transfer verifier is nil", ErrInvalidServiceConfig)
	}
	if submitter == nil {
		return nil, fmt.Errorf("%w: payout submitter is nil", ErrInvalidServiceConfig)
	}
	if treasury.IsZero() {
		return nil, fmt.Errorf("%w: treasury address is empty", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:         store,
		verifier:      verifier,
		submitter:     submitter,
		treasury:      treasury,
		nowFn:         now,
		newID:         uuid.NewString,
		payoutTimeout: defaultPayoutTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Treasury returns the configured treasury address.
func (service *Service) Treasury() Address {
	return service.treasury
}

// Shutdown refuses new payouts, then waits for detached payouts to reach a local terminal
// state or for ctx to end.
func (service *Service) Shutdown(ctx context.Context) error {
	service.dispatchMutex.Lock()
	service.closing = true
	service.dispatchMutex.Unlock()
	done := make(chan struct{})
	go func() {
		service.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Balance returns the custodial account of address.
func (service *Service) Balance(ctx context.Context, address Address) (Account, error) {
	if address.IsZero() {
		return Account{}, ErrInvalidAddress
	}
	return service.store.GetAccount(ctx, address)
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = OperationStatusError
		} else {
			entry.Status = OperationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) notify(ctx context.Context, event Event) {
	if service.notifier == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = service.now()
	}
	service.notifier.Notify(ctx, event)
}

func (service *Service) newEntry(address Address, kind EntryKind, amount Lamports, wagerID string, signature Signature, metadata string, at time.Time) LedgerEntry {
	if metadata == "" {
		metadata = "{}"
	}
	return LedgerEntry{
		EntryID:      service.newID(),
		Address:      address,
		Kind:         kind,
		Amount:       amount,
		Status:       EntryStatusSuccess,
		WagerID:      wagerID,
		Signature:    signature,
		MetadataJSON: metadata,
		CreatedAt:    at,
	}
}
