package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolationCode      = "23505"
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectSession        = "session"
	errorSubjectWager          = "wager"
	errorSubjectDepositProof   = "deposit_proof"
	errorSubjectEntry          = "entry"
	errorSubjectReward         = "reward"
	errorSubjectPayout         = "payout"
	errorSubjectReconciliation = "reconciliation"
	errorSubjectTransaction    = "transaction"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeUpdate            = "update"
	errorCodeUpdateStatus      = "update_status"

	sqlUpsertAccount = `
		insert into accounts(address, balance_lamports, created_at, updated_at) values($1, 0, $2, $2)
		on conflict (address) do nothing
	`

	sqlSelectAccount = `
		select address, balance_lamports, created_at, updated_at from accounts where address = $1
	`

	sqlDebitAccount = `
		update accounts set balance_lamports = balance_lamports - $2, updated_at = $3
		where address = $1 and balance_lamports >= $2
	`

	sqlCreditAccount = `
		update accounts set balance_lamports = balance_lamports + $2, updated_at = $3
		where address = $1
	`

	sqlInsertSession = `
		insert into game_sessions(
			session_id, address, wager_lamports, difficulty, moves, elapsed_seconds, outcome, claimed, claim_signature, created_at, settled_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, nullif($9,''), $10, $11)
	`

	sqlSelectSession = `
		select session_id, address, wager_lamports, difficulty, moves, elapsed_seconds, outcome, claimed,
			coalesce(claim_signature,''), created_at, settled_at
		from game_sessions where session_id = $1
	`

	sqlSettleSession = `
		update game_sessions set outcome = $2, moves = $3, elapsed_seconds = $4, settled_at = $5
		where session_id = $1 and outcome = 'UNRESOLVED'
	`

	sqlMarkSessionClaimed = `
		update game_sessions set claimed = true, claim_signature = $2 where session_id = $1
	`

	sqlInsertWager = `
		insert into wagers(wager_id, address, session_id, amount_lamports, status, deposit_signature, created_at)
		values($1, $2, $3, $4, $5, nullif($6,''), $7)
	`

	sqlSelectWagerBySession = `
		select wager_id, address, session_id, amount_lamports, status, coalesce(deposit_signature,''), created_at
		from wagers where session_id = $1
	`

	sqlInsertDepositProof = `
		insert into deposit_proofs(signature, address, amount_lamports, purpose, created_at) values($1, $2, $3, $4, $5)
	`

	sqlInsertEntry = `
		insert into ledger_entries(entry_id, address, kind, amount_lamports, status, wager_id, signature, metadata, created_at)
		values($1, $2, $3, $4, $5, nullif($6,''), nullif($7,''), coalesce(nullif($8,''),'{}')::jsonb, $9)
	`

	sqlListEntries = `
		select entry_id, address, kind, amount_lamports, status, coalesce(wager_id,''), coalesce(signature,''),
			coalesce(metadata::text,'{}'), created_at
		from ledger_entries
		where address = $1 and ($2::timestamptz is null or created_at < $2)
		order by created_at desc
		limit $3
	`

	sqlInsertReward = `
		insert into rewards(
			reward_id, address, amount_lamports, description, claimed, session_id, payout_id, claim_signature, created_at, claimed_at
		)
		values($1, $2, $3, $4, $5, nullif($6,''), nullif($7,''), nullif($8,''), $9, $10)
	`

	sqlRewardColumns = `
		select reward_id, address, amount_lamports, description, claimed, coalesce(session_id,''),
			coalesce(payout_id,''), coalesce(claim_signature,''), created_at, claimed_at
		from rewards
	`

	sqlSelectReward = sqlRewardColumns + ` where reward_id = $1`

	sqlListUnclaimedRewards = sqlRewardColumns + ` where address = $1 and claimed = false order by created_at asc, reward_id asc`

	sqlLockReward = `
		update rewards set payout_id = $2 where reward_id = $1 and claimed = false and payout_id is null
	`

	sqlReleaseReward = `
		update rewards set payout_id = null where reward_id = $1 and claimed = false and payout_id = $2
	`

	sqlMarkRewardClaimed = `
		update rewards set claimed = true, claim_signature = $3, claimed_at = $4
		where reward_id = $1 and claimed = false and payout_id = $2
	`

	sqlInsertPayout = `
		insert into payouts(
			payout_id, address, amount_lamports, purpose, reference_id, status, signature, last_valid_block_height, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	sqlPayoutColumns = `
		select payout_id, address, amount_lamports, purpose, reference_id, status, signature, last_valid_block_height,
			created_at, updated_at
		from payouts
	`

	sqlSelectPayout = sqlPayoutColumns + ` where payout_id = $1`

	sqlListPendingPayouts = sqlPayoutColumns + ` where status = 'PENDING' and created_at < $1 order by created_at asc limit $2`

	sqlTransitionPayout = `
		update payouts set status = $3, updated_at = $4 where payout_id = $1 and status = $2
	`

	sqlInsertReconciliationEvent = `
		insert into reconciliation_events(event_id, payout_id, address, amount_lamports, signature, reason, exported, created_at)
		values($1, $2, $3, $4, $5, $6, $7, $8)
	`

	sqlListUnexportedEvents = `
		select event_id, payout_id, address, amount_lamports, signature, reason, exported, created_at
		from reconciliation_events where exported = false order by created_at asc limit $1
	`

	sqlMarkEventsExported = `
		update reconciliation_events set exported = true where event_id = any($1)
	`

	unboundedLimit = 1<<31 - 1
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements wager.Store using a pgx connection pool (autocommit).
// Inside WithTx the same type runs against the open transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wager.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, address wager.Address) (wager.Account, error) {
	var (
		addressValue string
		balance      int64
		account      wager.Account
	)
	err := store.db.QueryRow(ctx, sqlSelectAccount, address.String()).Scan(&addressValue, &balance, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return wager.Account{}, wager.ErrAccountNotFound
	}
	if err != nil {
		return wager.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account.Address, err = wager.NewAddress(addressValue)
	if err != nil {
		return wager.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	account.Balance = wager.Lamports(balance)
	return account, nil
}

func (store *Store) UpsertAccount(ctx context.Context, address wager.Address, at time.Time) (wager.Account, error) {
	if _, err := store.db.Exec(ctx, sqlUpsertAccount, address.String(), at); err != nil {
		return wager.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return store.GetAccount(ctx, address)
}

func (store *Store) DebitAccount(ctx context.Context, address wager.Address, amount wager.Lamports, at time.Time) error {
	tag, err := store.db.Exec(ctx, sqlDebitAccount, address.String(), amount.Int64(), at)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := store.GetAccount(ctx, address); err != nil {
		return err
	}
	return wager.ErrInsufficientFunds
}

func (store *Store) CreditAccount(ctx context.Context, address wager.Address, amount wager.Lamports, at time.Time) error {
	tag, err := store.db.Exec(ctx, sqlCreditAccount, address.String(), amount.Int64(), at)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wager.ErrAccountNotFound
	}
	return nil
}

func (store *Store) CreateSession(ctx context.Context, session wager.GameSession) error {
	_, err := store.db.Exec(ctx, sqlInsertSession,
		session.SessionID.String(),
		session.Address.String(),
		session.WagerAmount.Int64(),
		session.Difficulty.String(),
		session.Moves,
		session.ElapsedSeconds,
		session.Outcome.String(),
		session.Claimed,
		session.ClaimSignature.String(),
		session.CreatedAt,
		session.SettledAt,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectSession, errorCodeDuplicate, wager.ErrSessionExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetSession(ctx context.Context, sessionID wager.SessionID) (wager.GameSession, error) {
	var (
		sessionValue, addressValue, difficultyValue, outcomeValue, signatureValue string
		wagerLamports                                                             int64
		session                                                                   wager.GameSession
	)
	err := store.db.QueryRow(ctx, sqlSelectSession, sessionID.String()).Scan(
		&sessionValue,
		&addressValue,
		&wagerLamports,
		&difficultyValue,
		&session.Moves,
		&session.ElapsedSeconds,
		&outcomeValue,
		&session.Claimed,
		&signatureValue,
		&session.CreatedAt,
		&session.SettledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return wager.GameSession{}, wager.ErrSessionNotFound
	}
	if err != nil {
		return wager.GameSession{}, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	var parseErr error
	session.SessionID, parseErr = wager.NewSessionID(sessionValue)
	parseErr = errors.Join(parseErr, parseAddress(&session.Address, addressValue))
	session.Difficulty, err = wager.ParseDifficulty(difficultyValue)
	parseErr = errors.Join(parseErr, err)
	session.Outcome, err = wager.ParseOutcome(outcomeValue)
	parseErr = errors.Join(parseErr, err)
	session.ClaimSignature, err = parseOptionalSignature(signatureValue)
	parseErr = errors.Join(parseErr, err)
	if parseErr != nil {
		return wager.GameSession{}, wrapStoreError(errorSubjectSession, errorCodeInvalid, parseErr)
	}
	session.WagerAmount = wager.Lamports(wagerLamports)
	return session, nil
}

func (store *Store) SettleSession(ctx context.Context, sessionID wager.SessionID, outcome wager.Outcome, moves int, elapsedSeconds int, at time.Time) error {
	tag, err := store.db.Exec(ctx, sqlSettleSession, sessionID.String(), outcome.String(), moves, elapsedSeconds, at)
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return wager.ErrAlreadySettled
}

func (store *Store) MarkSessionClaimed(ctx context.Context, sessionID wager.SessionID, signature wager.Signature) error {
	tag, err := store.db.Exec(ctx, sqlMarkSessionClaimed, sessionID.String(), signature.String())
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wager.ErrSessionNotFound
	}
	return nil
}

func (store *Store) CreateWager(ctx context.Context, record wager.Wager) error {
	_, err := store.db.Exec(ctx, sqlInsertWager,
		record.WagerID,
		record.Address.String(),
		record.SessionID.String(),
		record.Amount.Int64(),
		string(record.Status),
		record.DepositSignature.String(),
		record.CreatedAt,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectWager, errorCodeDuplicate, wager.ErrSessionExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectWager, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetWagerBySession(ctx context.Context, sessionID wager.SessionID) (wager.Wager, error) {
	var (
		addressValue, sessionValue, statusValue, signatureValue string
		amount                                                  int64
		record                                                  wager.Wager
	)
	err := store.db.QueryRow(ctx, sqlSelectWagerBySession, sessionID.String()).Scan(
		&record.WagerID,
		&addressValue,
		&sessionValue,
		&amount,
		&statusValue,
		&signatureValue,
		&record.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return wager.Wager{}, wager.ErrWagerNotFound
	}
	if err != nil {
		return wager.Wager{}, wrapStoreError(errorSubjectWager, errorCodeGet, err)
	}
	parseErr := parseAddress(&record.Address, addressValue)
	record.SessionID, err = wager.NewSessionID(sessionValue)
	parseErr = errors.Join(parseErr, err)
	record.Status, err = wager.ParseWagerStatus(statusValue)
	parseErr = errors.Join(parseErr, err)
	record.DepositSignature, err = parseOptionalSignature(signatureValue)
	parseErr = errors.Join(parseErr, err)
	if parseErr != nil {
		return wager.Wager{}, wrapStoreError(errorSubjectWager, errorCodeInvalid, parseErr)
	}
	record.Amount = wager.Lamports(amount)
	return record, nil
}

func (store *Store) RecordDepositProof(ctx context.Context, proof wager.DepositProof) error {
	_, err := store.db.Exec(ctx, sqlInsertDepositProof,
		proof.Signature.String(),
		proof.Address.String(),
		proof.Amount.Int64(),
		proof.Purpose,
		proof.CreatedAt,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectDepositProof, errorCodeDuplicate, wager.ErrDepositProofUsed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectDepositProof, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry wager.LedgerEntry) error {
	_, err := store.db.Exec(ctx, sqlInsertEntry,
		entry.EntryID,
		entry.Address.String(),
		string(entry.Kind),
		entry.Amount.Int64(),
		entry.Status,
		entry.WagerID,
		entry.Signature.String(),
		entry.MetadataJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, address wager.Address, before time.Time, limit int) ([]wager.LedgerEntry, error) {
	var beforeValue *time.Time
	if !before.IsZero() {
		beforeValue = &before
	}
	rows, err := store.db.Query(ctx, sqlListEntries, address.String(), beforeValue, normalizeLimit(limit))
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func (store *Store) CreateReward(ctx context.Context, reward wager.Reward) error {
	_, err := store.db.Exec(ctx, sqlInsertReward,
		reward.RewardID.String(),
		reward.Address.String(),
		reward.Amount.Int64(),
		reward.Description,
		reward.Claimed,
		reward.SessionID.String(),
		reward.PayoutID,
		reward.ClaimSignature.String(),
		reward.CreatedAt,
		reward.ClaimedAt,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReward, errorCodeDuplicate, wager.ErrAlreadyClaimed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReward, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetReward(ctx context.Context, rewardID wager.RewardID) (wager.Reward, error) {
	rows, err := store.db.Query(ctx, sqlSelectReward, rewardID.String())
	if err != nil {
		return wager.Reward{}, wrapStoreError(errorSubjectReward, errorCodeGet, err)
	}
	defer rows.Close()
	rewards, err := scanRewards(rows)
	if err != nil {
		return wager.Reward{}, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
	}
	if len(rewards) == 0 {
		return wager.Reward{}, wager.ErrRewardNotFound
	}
	return rewards[0], nil
}

func (store *Store) ListUnclaimedRewards(ctx context.Context, address wager.Address) ([]wager.Reward, error) {
	rows, err := store.db.Query(ctx, sqlListUnclaimedRewards, address.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectReward, errorCodeList, err)
	}
	defer rows.Close()
	rewards, err := scanRewards(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
	}
	return rewards, nil
}

func (store *Store) LockRewardForPayout(ctx context.Context, rewardID wager.RewardID, payoutID string) error {
	tag, err := store.db.Exec(ctx, sqlLockReward, rewardID.String(), payoutID)
	if err != nil {
		return wrapStoreError(errorSubjectReward, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := store.GetReward(ctx, rewardID); err != nil {
		return err
	}
	return wager.ErrAlreadyClaimed
}

func (store *Store) ReleaseRewardLock(ctx context.Context, rewardID wager.RewardID, payoutID string) error {
	if _, err := store.db.Exec(ctx, sqlReleaseReward, rewardID.String(), payoutID); err != nil {
		return wrapStoreError(errorSubjectReward, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) MarkRewardClaimed(ctx context.Context, rewardID wager.RewardID, payoutID string, signature wager.Signature, at time.Time) error {
	tag, err := store.db.Exec(ctx, sqlMarkRewardClaimed, rewardID.String(), payoutID, signature.String(), at)
	if err != nil {
		return wrapStoreError(errorSubjectReward, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wager.ErrRewardLockLost
	}
	return nil
}

func (store *Store) CreatePayout(ctx context.Context, payout wager.Payout) error {
	_, err := store.db.Exec(ctx, sqlInsertPayout,
		payout.PayoutID,
		payout.Address.String(),
		payout.Amount.Int64(),
		string(payout.Purpose),
		payout.ReferenceID,
		string(payout.Status),
		payout.Signature.String(),
		int64(payout.LastValidBlockHeight),
		payout.CreatedAt,
		payout.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPayout, errorCodeDuplicate, wager.ErrPayoutClosed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPayout(ctx context.Context, payoutID string) (wager.Payout, error) {
	rows, err := store.db.Query(ctx, sqlSelectPayout, payoutID)
	if err != nil {
		return wager.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeGet, err)
	}
	defer rows.Close()
	payouts, err := scanPayouts(rows)
	if err != nil {
		return wager.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	if len(payouts) == 0 {
		return wager.Payout{}, wager.ErrPayoutNotFound
	}
	return payouts[0], nil
}

func (store *Store) ListPendingPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]wager.Payout, error) {
	rows, err := store.db.Query(ctx, sqlListPendingPayouts, createdBefore, normalizeLimit(limit))
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeList, err)
	}
	defer rows.Close()
	payouts, err := scanPayouts(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	return payouts, nil
}

func (store *Store) TransitionPayout(ctx context.Context, payoutID string, from wager.PayoutStatus, to wager.PayoutStatus, at time.Time) error {
	tag, err := store.db.Exec(ctx, sqlTransitionPayout, payoutID, string(from), string(to), at)
	if err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdateStatus, wager.ErrPayoutClosed)
	}
	return nil
}

func (store *Store) InsertReconciliationEvent(ctx context.Context, event wager.ReconciliationEvent) error {
	_, err := store.db.Exec(ctx, sqlInsertReconciliationEvent,
		event.EventID,
		event.PayoutID,
		event.Address.String(),
		event.Amount.Int64(),
		event.Signature.String(),
		event.Reason,
		event.Exported,
		event.CreatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectReconciliation, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListUnexportedReconciliationEvents(ctx context.Context, limit int) ([]wager.ReconciliationEvent, error) {
	rows, err := store.db.Query(ctx, sqlListUnexportedEvents, normalizeLimit(limit))
	if err != nil {
		return nil, wrapStoreError(errorSubjectReconciliation, errorCodeList, err)
	}
	defer rows.Close()
	var events []wager.ReconciliationEvent
	for rows.Next() {
		var (
			addressValue, signatureValue string
			amount                       int64
			event                        wager.ReconciliationEvent
		)
		if err := rows.Scan(&event.EventID, &event.PayoutID, &addressValue, &amount, &signatureValue, &event.Reason, &event.Exported, &event.CreatedAt); err != nil {
			return nil, wrapStoreError(errorSubjectReconciliation, errorCodeList, err)
		}
		parseErr := parseAddress(&event.Address, addressValue)
		event.Signature, err = wager.NewSignature(signatureValue)
		if parseErr = errors.Join(parseErr, err); parseErr != nil {
			return nil, wrapStoreError(errorSubjectReconciliation, errorCodeInvalid, parseErr)
		}
		event.Amount = wager.Lamports(amount)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReconciliation, errorCodeList, err)
	}
	return events, nil
}

func (store *Store) MarkReconciliationEventsExported(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	if _, err := store.db.Exec(ctx, sqlMarkEventsExported, eventIDs); err != nil {
		return wrapStoreError(errorSubjectReconciliation, errorCodeUpdate, err)
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]wager.LedgerEntry, error) {
	var entries []wager.LedgerEntry
	for rows.Next() {
		var (
			addressValue, kindValue, signatureValue string
			amount                                  int64
			entry                                   wager.LedgerEntry
		)
		if err := rows.Scan(
			&entry.EntryID,
			&addressValue,
			&kindValue,
			&amount,
			&entry.Status,
			&entry.WagerID,
			&signatureValue,
			&entry.MetadataJSON,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		parseErr := parseAddress(&entry.Address, addressValue)
		kind, err := wager.ParseEntryKind(kindValue)
		parseErr = errors.Join(parseErr, err)
		entry.Signature, err = parseOptionalSignature(signatureValue)
		if parseErr = errors.Join(parseErr, err); parseErr != nil {
			return nil, parseErr
		}
		entry.Kind = kind
		entry.Amount = wager.Lamports(amount)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanRewards(rows pgx.Rows) ([]wager.Reward, error) {
	var rewards []wager.Reward
	for rows.Next() {
		var (
			rewardValue, addressValue, sessionValue, signatureValue string
			amount                                                  int64
			reward                                                  wager.Reward
		)
		if err := rows.Scan(
			&rewardValue,
			&addressValue,
			&amount,
			&reward.Description,
			&reward.Claimed,
			&sessionValue,
			&reward.PayoutID,
			&signatureValue,
			&reward.CreatedAt,
			&reward.ClaimedAt,
		); err != nil {
			return nil, err
		}
		var parseErr error
		reward.RewardID, parseErr = wager.NewRewardID(rewardValue)
		parseErr = errors.Join(parseErr, parseAddress(&reward.Address, addressValue))
		if sessionValue != "" {
			sessionID, err := wager.NewSessionID(sessionValue)
			parseErr = errors.Join(parseErr, err)
			reward.SessionID = sessionID
		}
		signature, err := parseOptionalSignature(signatureValue)
		if parseErr = errors.Join(parseErr, err); parseErr != nil {
			return nil, parseErr
		}
		reward.ClaimSignature = signature
		reward.Amount = wager.Lamports(amount)
		rewards = append(rewards, reward)
	}
	return rewards, rows.Err()
}

func scanPayouts(rows pgx.Rows) ([]wager.Payout, error) {
	var payouts []wager.Payout
	for rows.Next() {
		var (
			addressValue, purposeValue, statusValue, signatureValue string
			amount, lastValidBlockHeight                            int64
			payout                                                  wager.Payout
		)
		if err := rows.Scan(
			&payout.PayoutID,
			&addressValue,
			&amount,
			&purposeValue,
			&payout.ReferenceID,
			&statusValue,
			&signatureValue,
			&lastValidBlockHeight,
			&payout.CreatedAt,
			&payout.UpdatedAt,
		); err != nil {
			return nil, err
		}
		parseErr := parseAddress(&payout.Address, addressValue)
		purpose, err := wager.ParsePayoutPurpose(purposeValue)
		parseErr = errors.Join(parseErr, err)
		status, err := wager.ParsePayoutStatus(statusValue)
		parseErr = errors.Join(parseErr, err)
		signature, err := wager.NewSignature(signatureValue)
		if parseErr = errors.Join(parseErr, err); parseErr != nil {
			return nil, parseErr
		}
		payout.Purpose = purpose
		payout.Status = status
		payout.Signature = signature
		payout.Amount = wager.Lamports(amount)
		payout.LastValidBlockHeight = uint64(lastValidBlockHeight)
		payouts = append(payouts, payout)
	}
	return payouts, rows.Err()
}

func parseAddress(target *wager.Address, raw string) error {
	address, err := wager.NewAddress(raw)
	if err != nil {
		return err
	}
	*target = address
	return nil
}

func parseOptionalSignature(raw string) (wager.Signature, error) {
	if raw == "" {
		return wager.Signature{}, nil
	}
	return wager.NewSignature(raw)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return unboundedLimit
	}
	return limit
}

func wrapStoreError(subject string, code string, err error) error {
	return wager.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
