package wager

import (
	"context"
	"fmt"
	"time"
)

// ListUnclaimedRewards returns rewards of address that have not been paid out yet.
func (service *Service) ListUnclaimedRewards(ctx context.Context, address Address) ([]Reward, error) {
	if address.IsZero() {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidAddress)
	}
	return service.store.ListUnclaimedRewards(ctx, address)
}

// ListEntries pages the ledger of address, newest first, strictly before the given time.
// A zero before lists from the newest entry.
func (service *Service) ListEntries(ctx context.Context, address Address, before time.Time, limit int) ([]LedgerEntry, error) {
	if address.IsZero() {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidAddress)
	}
	return service.store.ListEntries(ctx, address, before, clampLimit(limit))
}

// GetSession returns the stored session.
func (service *Service) GetSession(ctx context.Context, sessionID SessionID) (GameSession, error) {
	if sessionID.IsZero() {
		return GameSession{}, fmt.Errorf("%w: session id is required", ErrInvalidSessionID)
	}
	return service.store.GetSession(ctx, sessionID)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
