package gormstore

import (
	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
)

func mapAccount(model Account) (wager.Account, error) {
	address, err := wager.NewAddress(model.Address)
	if err != nil {
		return wager.Account{}, err
	}
	return wager.Account{
		Address:   address,
		Balance:   wager.Lamports(model.BalanceLamports),
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}, nil
}

func mapSession(model GameSession) (wager.GameSession, error) {
	sessionID, err := wager.NewSessionID(model.SessionID)
	if err != nil {
		return wager.GameSession{}, err
	}
	address, err := wager.NewAddress(model.Address)
	if err != nil {
		return wager.GameSession{}, err
	}
	difficulty, err := wager.ParseDifficulty(model.Difficulty)
	if err != nil {
		return wager.GameSession{}, err
	}
	outcome, err := wager.ParseOutcome(model.Outcome)
	if err != nil {
		return wager.GameSession{}, err
	}
	signature, err := parseOptionalSignature(model.ClaimSignature)
	if err != nil {
		return wager.GameSession{}, err
	}
	return wager.GameSession{
		SessionID:      sessionID,
		Address:        address,
		WagerAmount:    wager.Lamports(model.WagerLamports),
		Difficulty:     difficulty,
		Moves:          model.Moves,
		ElapsedSeconds: model.ElapsedSeconds,
		Outcome:        outcome,
		Claimed:        model.Claimed,
		ClaimSignature: signature,
		CreatedAt:      model.CreatedAt,
		SettledAt:      model.SettledAt,
	}, nil
}

func mapWager(model Wager) (wager.Wager, error) {
	address, err := wager.NewAddress(model.Address)
	if err != nil {
		return wager.Wager{}, err
	}
	sessionID, err := wager.NewSessionID(model.SessionID)
	if err != nil {
		return wager.Wager{}, err
	}
	status, err := wager.ParseWagerStatus(model.Status)
	if err != nil {
		return wager.Wager{}, err
	}
	signature, err := parseOptionalSignature(model.DepositSignature)
	if err != nil {
		return wager.Wager{}, err
	}
	return wager.Wager{
		WagerID:          model.WagerID,
		Address:          address,
		SessionID:        sessionID,
		Amount:           wager.Lamports(model.AmountLamports),
		Status:           status,
		DepositSignature: signature,
		CreatedAt:        model.CreatedAt,
	}, nil
}

func mapLedgerEntry(model LedgerEntry) (wager.LedgerEntry, error) {
	address, err := wager.NewAddress(model.Address)
	if err != nil {
		return wager.LedgerEntry{}, err
	}
	kind, err := wager.ParseEntryKind(model.Kind)
	if err != nil {
		return wager.LedgerEntry{}, err
	}
	signature, err := parseOptionalSignature(model.Signature)
	if err != nil {
		return wager.LedgerEntry{}, err
	}
	metadata := string(model.Metadata)
	if metadata == "" {
		metadata = defaultMetadataJSON
	}
	return wager.LedgerEntry{
		EntryID:      model.EntryID,
		Address:      address,
		Kind:         kind,
		Amount:       wager.Lamports(model.AmountLamports),
		Status:       model.Status,
		WagerID:      derefString(model.WagerID),
		Signature:    signature,
		MetadataJSON: metadata,
		CreatedAt:    model.CreatedAt,
	}, nil
}

func mapReward(model Reward) (wager.Reward, error) {
	rewardID, err := wager.NewRewardID(model.RewardID)
	if err != nil {
		return wager.Reward{}, err
	}
	address, err := wager.NewAddress(model.Address)
	if err != nil {
		return wager.Reward{}, err
	}
	var sessionID wager.SessionID
	if model.SessionID != nil {
		sessionID, err = wager.NewSessionID(*model.SessionID)
		if err != nil {
			return wager.Reward{}, err
		}
	}
	signature, err := parseOptionalSignature(model.ClaimSignature)
	if err != nil {
		return wager.Reward{}, err
	}
	return wager.Reward{
		RewardID:       rewardID,
		Address:        address,
		Amount:         wager.Lamports(model.AmountLamports),
		Description:    model.Description,
		Claimed:        model.Claimed,
		SessionID:      sessionID,
		PayoutID:       derefString(model.PayoutID),
		ClaimSignature: signature,
		CreatedAt:      model.CreatedAt,
		ClaimedAt:      model.ClaimedAt,
	}, nil
}

func mapPayout(model Payout) (wager.Payout, error) {
	address, err := wager.NewAddress(model.Address)
	if err != nil {
		return wager.Payout{}, err
	}
	purpose, err := wager.ParsePayoutPurpose(model.Purpose)
	if err != nil {
		return wager.Payout{}, err
	}
	status, err := wager.ParsePayoutStatus(model.Status)
	if err != nil {
		return wager.Payout{}, err
	}
	signature, err := wager.NewSignature(model.Signature)
	if err != nil {
		return wager.Payout{}, err
	}
	return wager.Payout{
		PayoutID:             model.PayoutID,
		Address:              address,
		Amount:               wager.Lamports(model.AmountLamports),
		Purpose:              purpose,
		ReferenceID:          model.ReferenceID,
		Status:               status,
		Signature:            signature,
		LastValidBlockHeight: uint64(model.LastValidBlockHeight),
		CreatedAt:            model.CreatedAt,
		UpdatedAt:            model.UpdatedAt,
	}, nil
}

func mapReconciliationEvent(model ReconciliationEvent) (wager.ReconciliationEvent, error) {
	address, err := wager.NewAddress(model.Address)
	if err != nil {
		return wager.ReconciliationEvent{}, err
	}
	signature, err := wager.NewSignature(model.Signature)
	if err != nil {
		return wager.ReconciliationEvent{}, err
	}
	return wager.ReconciliationEvent{
		EventID:   model.EventID,
		PayoutID:  model.PayoutID,
		Address:   address,
		Amount:    wager.Lamports(model.AmountLamports),
		Signature: signature,
		Reason:    model.Reason,
		Exported:  model.Exported,
		CreatedAt: model.CreatedAt,
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func optionalSignature(signature wager.Signature) *string {
	return optionalString(signature.String())
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func parseOptionalSignature(value *string) (wager.Signature, error) {
	if value == nil || *value == "" {
		return wager.Signature{}, nil
	}
	return wager.NewSignature(*value)
}
