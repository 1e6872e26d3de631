package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	Address         string    `gorm:"primaryKey"`
	BalanceLamports int64     `gorm:"not null;default:0;check:balance_lamports >= 0"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// GameSession mirrors the game_sessions table.
type GameSession struct {
	SessionID      string     `gorm:"primaryKey"`
	Address        string     `gorm:"not null;index:idx_sessions_address"`
	WagerLamports  int64      `gorm:"not null"`
	Difficulty     string     `gorm:"not null"`
	Moves          int        `gorm:"not null;default:0"`
	ElapsedSeconds int        `gorm:"not null;default:0"`
	Outcome        string     `gorm:"not null"`
	Claimed        bool       `gorm:"not null;default:false"`
	ClaimSignature *string    `gorm:""`
	CreatedAt      time.Time  `gorm:"not null"`
	SettledAt      *time.Time `gorm:""`
}

func (GameSession) TableName() string { return "game_sessions" }

// Wager mirrors the wagers table. A session carries exactly one wager.
type Wager struct {
	WagerID          string    `gorm:"primaryKey"`
	Address          string    `gorm:"not null;index:idx_wagers_address"`
	SessionID        string    `gorm:"not null;uniqueIndex:uniq_wagers_session"`
	AmountLamports   int64     `gorm:"not null"`
	Status           string    `gorm:"not null"`
	DepositSignature *string   `gorm:""`
	CreatedAt        time.Time `gorm:"not null"`
}

func (Wager) TableName() string { return "wagers" }

func (wager *Wager) BeforeCreate(tx *gorm.DB) error {
	if wager.WagerID == "" {
		wager.WagerID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID        string         `gorm:"primaryKey"`
	Address        string         `gorm:"not null;index:idx_ledger_address_created,priority:1"`
	Kind           string         `gorm:"not null"`
	AmountLamports int64          `gorm:"not null"`
	Status         string         `gorm:"not null"`
	WagerID        *string        `gorm:"index:idx_ledger_wager"`
	Signature      *string        `gorm:""`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_ledger_address_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Reward mirrors the rewards table. PayoutID is set while a payout holds the claim lock.
type Reward struct {
	RewardID       string     `gorm:"primaryKey"`
	Address        string     `gorm:"not null;index:idx_rewards_address_claimed,priority:1"`
	AmountLamports int64      `gorm:"not null"`
	Description    string     `gorm:"not null"`
	Claimed        bool       `gorm:"not null;default:false;index:idx_rewards_address_claimed,priority:2"`
	SessionID      *string    `gorm:"uniqueIndex:uniq_rewards_session"`
	PayoutID       *string    `gorm:""`
	ClaimSignature *string    `gorm:""`
	CreatedAt      time.Time  `gorm:"not null"`
	ClaimedAt      *time.Time `gorm:""`
}

func (Reward) TableName() string { return "rewards" }

// Payout mirrors the payouts table.
type Payout struct {
	PayoutID             string    `gorm:"primaryKey"`
	Address              string    `gorm:"not null"`
	AmountLamports       int64     `gorm:"not null"`
	Purpose              string    `gorm:"not null"`
	ReferenceID          string    `gorm:"not null;index:idx_payouts_reference"`
	Status               string    `gorm:"not null;index:idx_payouts_status_created,priority:1"`
	Signature            string    `gorm:"not null;uniqueIndex:uniq_payouts_signature"`
	LastValidBlockHeight int64     `gorm:"not null;default:0"`
	CreatedAt            time.Time `gorm:"not null;index:idx_payouts_status_created,priority:2"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (Payout) TableName() string { return "payouts" }

func (payout *Payout) BeforeCreate(tx *gorm.DB) error {
	if payout.PayoutID == "" {
		payout.PayoutID = uuid.NewString()
	}
	return nil
}

// DepositProof mirrors the deposit_proofs table; the primary key makes a signature single-use.
type DepositProof struct {
	Signature      string    `gorm:"primaryKey"`
	Address        string    `gorm:"not null"`
	AmountLamports int64     `gorm:"not null"`
	Purpose        string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (DepositProof) TableName() string { return "deposit_proofs" }

// ReconciliationEvent mirrors the reconciliation_events table.
type ReconciliationEvent struct {
	EventID        string    `gorm:"primaryKey"`
	PayoutID       string    `gorm:"not null"`
	Address        string    `gorm:"not null"`
	AmountLamports int64     `gorm:"not null"`
	Signature      string    `gorm:"not null"`
	Reason         string    `gorm:"not null"`
	Exported       bool      `gorm:"not null;default:false;index:idx_reconciliation_exported"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (ReconciliationEvent) TableName() string { return "reconciliation_events" }

func (event *ReconciliationEvent) BeforeCreate(tx *gorm.DB) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{
		&Account{},
		&GameSession{},
		&Wager{},
		&LedgerEntry{},
		&Reward{},
		&Payout{},
		&DepositProof{},
		&ReconciliationEvent{},
	}
}
