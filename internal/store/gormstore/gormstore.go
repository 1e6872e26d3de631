package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON        = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintCode       = 19
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectSession        = "session"
	errorSubjectWager          = "wager"
	errorSubjectDepositProof   = "deposit_proof"
	errorSubjectEntry          = "entry"
	errorSubjectReward         = "reward"
	errorSubjectPayout         = "payout"
	errorSubjectReconciliation = "reconciliation"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeUpdate            = "update"
	errorCodeUpdateStatus      = "update_status"
)

// Store implements wager.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wager.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetAccount(ctx context.Context, address wager.Address) (wager.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).Where("address = ?", address.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wager.Account{}, wager.ErrAccountNotFound
	}
	if err != nil {
		return wager.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return wager.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) UpsertAccount(ctx context.Context, address wager.Address, at time.Time) (wager.Account, error) {
	model := Account{Address: address.String(), CreatedAt: at, UpdatedAt: at}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "address"}}, DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return wager.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return store.GetAccount(ctx, address)
}

func (store *Store) DebitAccount(ctx context.Context, address wager.Address, amount wager.Lamports, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("address = ? AND balance_lamports >= ?", address.String(), amount.Int64()).
		Updates(map[string]any{
			"balance_lamports": gorm.Expr("balance_lamports - ?", amount.Int64()),
			"updated_at":       at,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if _, err := store.GetAccount(ctx, address); err != nil {
		return err
	}
	return wager.ErrInsufficientFunds
}

func (store *Store) CreditAccount(ctx context.Context, address wager.Address, amount wager.Lamports, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("address = ?", address.String()).
		Updates(map[string]any{
			"balance_lamports": gorm.Expr("balance_lamports + ?", amount.Int64()),
			"updated_at":       at,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wager.ErrAccountNotFound
	}
	return nil
}

func (store *Store) CreateSession(ctx context.Context, session wager.GameSession) error {
	model := GameSession{
		SessionID:      session.SessionID.String(),
		Address:        session.Address.String(),
		WagerLamports:  session.WagerAmount.Int64(),
		Difficulty:     session.Difficulty.String(),
		Moves:          session.Moves,
		ElapsedSeconds: session.ElapsedSeconds,
		Outcome:        session.Outcome.String(),
		Claimed:        session.Claimed,
		ClaimSignature: optionalSignature(session.ClaimSignature),
		CreatedAt:      session.CreatedAt,
		SettledAt:      session.SettledAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectSession, errorCodeDuplicate, wager.ErrSessionExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetSession(ctx context.Context, sessionID wager.SessionID) (wager.GameSession, error) {
	var model GameSession
	err := store.db.WithContext(ctx).Where("session_id = ?", sessionID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wager.GameSession{}, wager.ErrSessionNotFound
	}
	if err != nil {
		return wager.GameSession{}, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	session, err := mapSession(model)
	if err != nil {
		return wager.GameSession{}, wrapStoreError(errorSubjectSession, errorCodeInvalid, err)
	}
	return session, nil
}

func (store *Store) SettleSession(ctx context.Context, sessionID wager.SessionID, outcome wager.Outcome, moves int, elapsedSeconds int, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&GameSession{}).
		Where("session_id = ? AND outcome = ?", sessionID.String(), wager.OutcomeUnresolved.String()).
		Updates(map[string]any{
			"outcome":         outcome.String(),
			"moves":           moves,
			"elapsed_seconds": elapsedSeconds,
			"settled_at":      at,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSession, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if _, err := store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return wager.ErrAlreadySettled
}

func (store *Store) MarkSessionClaimed(ctx context.Context, sessionID wager.SessionID, signature wager.Signature) error {
	result := store.db.WithContext(ctx).
		Model(&GameSession{}).
		Where("session_id = ?", sessionID.String()).
		Updates(map[string]any{
			"claimed":         true,
			"claim_signature": signature.String(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSession, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wager.ErrSessionNotFound
	}
	return nil
}

func (store *Store) CreateWager(ctx context.Context, record wager.Wager) error {
	model := Wager{
		WagerID:          record.WagerID,
		Address:          record.Address.String(),
		SessionID:        record.SessionID.String(),
		AmountLamports:   record.Amount.Int64(),
		Status:           string(record.Status),
		DepositSignature: optionalSignature(record.DepositSignature),
		CreatedAt:        record.CreatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectWager, errorCodeDuplicate, wager.ErrSessionExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectWager, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetWagerBySession(ctx context.Context, sessionID wager.SessionID) (wager.Wager, error) {
	var model Wager
	err := store.db.WithContext(ctx).Where("session_id = ?", sessionID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wager.Wager{}, wager.ErrWagerNotFound
	}
	if err != nil {
		return wager.Wager{}, wrapStoreError(errorSubjectWager, errorCodeGet, err)
	}
	record, err := mapWager(model)
	if err != nil {
		return wager.Wager{}, wrapStoreError(errorSubjectWager, errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) RecordDepositProof(ctx context.Context, proof wager.DepositProof) error {
	model := DepositProof{
		Signature:      proof.Signature.String(),
		Address:        proof.Address.String(),
		AmountLamports: proof.Amount.Int64(),
		Purpose:        proof.Purpose,
		CreatedAt:      proof.CreatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectDepositProof, errorCodeDuplicate, wager.ErrDepositProofUsed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectDepositProof, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry wager.LedgerEntry) error {
	model := LedgerEntry{
		EntryID:        entry.EntryID,
		Address:        entry.Address.String(),
		Kind:           string(entry.Kind),
		AmountLamports: entry.Amount.Int64(),
		Status:         entry.Status,
		WagerID:        optionalString(entry.WagerID),
		Signature:      optionalSignature(entry.Signature),
		Metadata:       datatypesJSON(entry.MetadataJSON),
		CreatedAt:      entry.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, address wager.Address, before time.Time, limit int) ([]wager.LedgerEntry, error) {
	query := store.db.WithContext(ctx).Where("address = ?", address.String())
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}
	var rows []LedgerEntry
	err := withLimit(query.Order("created_at DESC"), limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]wager.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) CreateReward(ctx context.Context, reward wager.Reward) error {
	model := Reward{
		RewardID:       reward.RewardID.String(),
		Address:        reward.Address.String(),
		AmountLamports: reward.Amount.Int64(),
		Description:    reward.Description,
		Claimed:        reward.Claimed,
		SessionID:      optionalString(reward.SessionID.String()),
		PayoutID:       optionalString(reward.PayoutID),
		ClaimSignature: optionalSignature(reward.ClaimSignature),
		CreatedAt:      reward.CreatedAt,
		ClaimedAt:      reward.ClaimedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReward, errorCodeDuplicate, wager.ErrAlreadyClaimed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReward, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetReward(ctx context.Context, rewardID wager.RewardID) (wager.Reward, error) {
	var model Reward
	err := store.db.WithContext(ctx).Where("reward_id = ?", rewardID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wager.Reward{}, wager.ErrRewardNotFound
	}
	if err != nil {
		return wager.Reward{}, wrapStoreError(errorSubjectReward, errorCodeGet, err)
	}
	reward, err := mapReward(model)
	if err != nil {
		return wager.Reward{}, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
	}
	return reward, nil
}

func (store *Store) ListUnclaimedRewards(ctx context.Context, address wager.Address) ([]wager.Reward, error) {
	var rows []Reward
	err := store.db.WithContext(ctx).
		Where("address = ? AND claimed = ?", address.String(), false).
		Order("created_at ASC, reward_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReward, errorCodeList, err)
	}
	rewards := make([]wager.Reward, 0, len(rows))
	for _, row := range rows {
		reward, err := mapReward(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
		}
		rewards = append(rewards, reward)
	}
	return rewards, nil
}

func (store *Store) LockRewardForPayout(ctx context.Context, rewardID wager.RewardID, payoutID string) error {
	result := store.db.WithContext(ctx).
		Model(&Reward{}).
		Where("reward_id = ? AND claimed = ? AND payout_id IS NULL", rewardID.String(), false).
		Update("payout_id", payoutID)
	if result.Error != nil {
		return wrapStoreError(errorSubjectReward, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if _, err := store.GetReward(ctx, rewardID); err != nil {
		return err
	}
	return wager.ErrAlreadyClaimed
}

func (store *Store) ReleaseRewardLock(ctx context.Context, rewardID wager.RewardID, payoutID string) error {
	err := store.db.WithContext(ctx).
		Model(&Reward{}).
		Where("reward_id = ? AND claimed = ? AND payout_id = ?", rewardID.String(), false, payoutID).
		Update("payout_id", nil).Error
	if err != nil {
		return wrapStoreError(errorSubjectReward, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) MarkRewardClaimed(ctx context.Context, rewardID wager.RewardID, payoutID string, signature wager.Signature, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Reward{}).
		Where("reward_id = ? AND claimed = ? AND payout_id = ?", rewardID.String(), false, payoutID).
		Updates(map[string]any{
			"claimed":         true,
			"claim_signature": signature.String(),
			"claimed_at":      at,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReward, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wager.ErrRewardLockLost
	}
	return nil
}

func (store *Store) CreatePayout(ctx context.Context, payout wager.Payout) error {
	model := Payout{
		PayoutID:             payout.PayoutID,
		Address:              payout.Address.String(),
		AmountLamports:       payout.Amount.Int64(),
		Purpose:              string(payout.Purpose),
		ReferenceID:          payout.ReferenceID,
		Status:               string(payout.Status),
		Signature:            payout.Signature.String(),
		LastValidBlockHeight: int64(payout.LastValidBlockHeight),
		CreatedAt:            payout.CreatedAt,
		UpdatedAt:            payout.UpdatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPayout, errorCodeDuplicate, wager.ErrPayoutClosed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPayout(ctx context.Context, payoutID string) (wager.Payout, error) {
	var model Payout
	err := store.db.WithContext(ctx).Where("payout_id = ?", payoutID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wager.Payout{}, wager.ErrPayoutNotFound
	}
	if err != nil {
		return wager.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeGet, err)
	}
	payout, err := mapPayout(model)
	if err != nil {
		return wager.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	return payout, nil
}

func (store *Store) ListPendingPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]wager.Payout, error) {
	var rows []Payout
	query := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(wager.PayoutStatusPending), createdBefore).
		Order("created_at ASC")
	err := withLimit(query, limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeList, err)
	}
	payouts := make([]wager.Payout, 0, len(rows))
	for _, row := range rows {
		payout, err := mapPayout(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
		}
		payouts = append(payouts, payout)
	}
	return payouts, nil
}

func (store *Store) TransitionPayout(ctx context.Context, payoutID string, from wager.PayoutStatus, to wager.PayoutStatus, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Payout{}).
		Where("payout_id = ? AND status = ?", payoutID, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": at})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdateStatus, wager.ErrPayoutClosed)
	}
	return nil
}

func (store *Store) InsertReconciliationEvent(ctx context.Context, event wager.ReconciliationEvent) error {
	model := ReconciliationEvent{
		EventID:        event.EventID,
		PayoutID:       event.PayoutID,
		Address:        event.Address.String(),
		AmountLamports: event.Amount.Int64(),
		Signature:      event.Signature.String(),
		Reason:         event.Reason,
		Exported:       event.Exported,
		CreatedAt:      event.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectReconciliation, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListUnexportedReconciliationEvents(ctx context.Context, limit int) ([]wager.ReconciliationEvent, error) {
	var rows []ReconciliationEvent
	query := store.db.WithContext(ctx).Where("exported = ?", false).Order("created_at ASC")
	err := withLimit(query, limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReconciliation, errorCodeList, err)
	}
	events := make([]wager.ReconciliationEvent, 0, len(rows))
	for _, row := range rows {
		event, err := mapReconciliationEvent(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReconciliation, errorCodeInvalid, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (store *Store) MarkReconciliationEventsExported(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	err := store.db.WithContext(ctx).
		Model(&ReconciliationEvent{}).
		Where("event_id IN ?", eventIDs).
		Update("exported", true).Error
	if err != nil {
		return wrapStoreError(errorSubjectReconciliation, errorCodeUpdate, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wager.WrapError(errorOperationStore, subject, code, err)
}

func withLimit(query *gorm.DB, limit int) *gorm.DB {
	if limit <= 0 {
		return query
	}
	return query.Limit(limit)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
