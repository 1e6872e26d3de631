package wager

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// LamportsPerSOL is the number of base units in one whole coin.
	LamportsPerSOL int64 = 1_000_000_000

	amountDecimals     = 9
	base58Alphabet     = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	minAddressLength   = 32
	maxAddressLength   = 44
	maxIdentifierBytes = 128
)

// Lamports is an amount in chain base units.
type Lamports int64

// NewLamports validates a strictly positive amount.
func NewLamports(raw int64) (Lamports, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Lamports(raw), nil
}

// ParseAmount converts a decimal coin string ("1.5") into lamports.
func ParseAmount(raw string) (Lamports, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return LamportsFromDecimal(value)
}

// LamportsFromDecimal converts a coin-denominated decimal into lamports.
func LamportsFromDecimal(value decimal.Decimal) (Lamports, error) {
	shifted := value.Shift(amountDecimals)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: more than %d fractional digits", ErrInvalidAmount, amountDecimals)
	}
	if !shifted.IsPositive() {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if shifted.GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("%w: too large", ErrInvalidAmount)
	}
	return Lamports(shifted.IntPart()), nil
}

// Int64 returns the raw base-unit value.
func (amount Lamports) Int64() int64 {
	return int64(amount)
}

// Decimal returns the coin-denominated value.
func (amount Lamports) Decimal() decimal.Decimal {
	return decimal.New(int64(amount), -amountDecimals)
}

// String formats the amount in coins.
func (amount Lamports) String() string {
	return amount.Decimal().String()
}

// Scale multiplies the amount by factor, rounding down to whole lamports.
func (amount Lamports) Scale(factor decimal.Decimal) Lamports {
	return Lamports(decimal.NewFromInt(int64(amount)).Mul(factor).Floor().IntPart())
}

// Address is a base58 wallet public key.
type Address struct {
	value string
}

// NewAddress validates and normalizes a wallet address.
func NewAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, fmt.Errorf("%w: empty value", ErrInvalidAddress)
	}
	if len(trimmed) < minAddressLength || len(trimmed) > maxAddressLength {
		return Address{}, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(trimmed))
	}
	for _, character := range trimmed {
		if !strings.ContainsRune(base58Alphabet, character) {
			return Address{}, fmt.Errorf("%w: non-base58 character %q", ErrInvalidAddress, character)
		}
	}
	return Address{value: trimmed}, nil
}

// String returns the normalized address.
func (address Address) String() string {
	return address.value
}

// IsZero reports whether the address is unset.
func (address Address) IsZero() bool {
	return address.value == ""
}

// SessionID identifies a game session; chosen by the client at wager time.
type SessionID struct {
	value string
}

// NewSessionID validates and normalizes a session id.
func NewSessionID(raw string) (SessionID, error) {
	value, err := normalizeIdentifier(raw)
	if err != nil {
		return SessionID{}, fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	return SessionID{value: value}, nil
}

// String returns the normalized identifier.
func (id SessionID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id SessionID) IsZero() bool {
	return id.value == ""
}

// RewardID identifies a reward.
type RewardID struct {
	value string
}

// NewRewardID validates and normalizes a reward id.
func NewRewardID(raw string) (RewardID, error) {
	value, err := normalizeIdentifier(raw)
	if err != nil {
		return RewardID{}, fmt.Errorf("%w: %v", ErrInvalidRewardID, err)
	}
	return RewardID{value: value}, nil
}

// String returns the normalized identifier.
func (id RewardID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id RewardID) IsZero() bool {
	return id.value == ""
}

// Signature is an external transaction signature.
type Signature struct {
	value string
}

// NewSignature validates and normalizes a transaction signature.
func NewSignature(raw string) (Signature, error) {
	value, err := normalizeIdentifier(raw)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return Signature{value: value}, nil
}

// String returns the normalized signature.
func (signature Signature) String() string {
	return signature.value
}

// IsZero reports whether the signature is unset.
func (signature Signature) IsZero() bool {
	return signature.value == ""
}

func normalizeIdentifier(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty value")
	}
	if len(trimmed) > maxIdentifierBytes {
		return "", fmt.Errorf("longer than %d bytes", maxIdentifierBytes)
	}
	if strings.ContainsAny(trimmed, " \t\r\n") {
		return "", fmt.Errorf("contains whitespace")
	}
	return trimmed, nil
}

// Difficulty is the tier that selects the reward multiplier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var difficultyMultipliers = map[Difficulty]decimal.Decimal{
	DifficultyEasy:   decimal.RequireFromString("1.1"),
	DifficultyMedium: decimal.RequireFromString("1.5"),
	DifficultyHard:   decimal.RequireFromString("3.0"),
}

// ParseDifficulty validates a difficulty tier.
func ParseDifficulty(raw string) (Difficulty, error) {
	difficulty := Difficulty(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := difficultyMultipliers[difficulty]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, raw)
	}
	return difficulty, nil
}

// Multiplier returns the fixed reward multiplier for the tier.
func (difficulty Difficulty) Multiplier() decimal.Decimal {
	return difficultyMultipliers[difficulty]
}

// String returns the tier name.
func (difficulty Difficulty) String() string {
	return string(difficulty)
}

// Outcome is the game session result.
type Outcome string

const (
	OutcomeUnresolved Outcome = "UNRESOLVED"
	OutcomeWon        Outcome = "WON"
	OutcomeLost       Outcome = "LOST"
)

// ParseOutcome parses a stored outcome value.
func ParseOutcome(raw string) (Outcome, error) {
	outcome := Outcome(strings.ToUpper(strings.TrimSpace(raw)))
	switch outcome {
	case OutcomeUnresolved, OutcomeWon, OutcomeLost:
		return outcome, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, raw)
	}
}

// ParseReportedOutcome parses an outcome reported by the game; only final outcomes are accepted.
func ParseReportedOutcome(raw string) (Outcome, error) {
	outcome, err := ParseOutcome(raw)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeUnresolved {
		return "", fmt.Errorf("%w: outcome must be %s or %s", ErrInvalidOutcome, OutcomeWon, OutcomeLost)
	}
	return outcome, nil
}

// String returns the outcome name.
func (outcome Outcome) String() string {
	return string(outcome)
}

// WagerStatus is the lifecycle of a wager.
type WagerStatus string

const (
	WagerStatusPending WagerStatus = "PENDING"
	WagerStatusSuccess WagerStatus = "SUCCESS"
	WagerStatusFailed  WagerStatus = "FAILED"
)

// ParseWagerStatus parses a stored wager status.
func ParseWagerStatus(raw string) (WagerStatus, error) {
	status := WagerStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case WagerStatusPending, WagerStatusSuccess, WagerStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: wager status %q", ErrValidation, raw)
	}
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryBid        EntryKind = "BID"
	EntryWin        EntryKind = "WIN"
	EntryLose       EntryKind = "LOSE"
	EntryReward     EntryKind = "REWARD"
	EntryWithdrawal EntryKind = "WITHDRAWAL"
	EntryDeposit    EntryKind = "DEPOSIT"
)

// ParseEntryKind parses a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	kind := EntryKind(strings.ToUpper(strings.TrimSpace(raw)))
	switch kind {
	case EntryBid, EntryWin, EntryLose, EntryReward, EntryWithdrawal, EntryDeposit:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: entry kind %q", ErrValidation, raw)
	}
}

// EntryStatusSuccess is the status of every committed entry.
const EntryStatusSuccess = "SUCCESS"

// PayoutStatus is the lifecycle of an external transfer attempt.
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "PENDING"
	PayoutStatusConfirmed PayoutStatus = "CONFIRMED"
	PayoutStatusFailed    PayoutStatus = "FAILED"
)

// ParsePayoutStatus parses a stored payout status.
func ParsePayoutStatus(raw string) (PayoutStatus, error) {
	status := PayoutStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case PayoutStatusPending, PayoutStatusConfirmed, PayoutStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: payout status %q", ErrValidation, raw)
	}
}

// PayoutPurpose says what a payout settles.
type PayoutPurpose string

const (
	PayoutPurposeReward     PayoutPurpose = "reward"
	PayoutPurposeWithdrawal PayoutPurpose = "withdrawal"
)

// ParsePayoutPurpose parses a stored payout purpose.
func ParsePayoutPurpose(raw string) (PayoutPurpose, error) {
	purpose := PayoutPurpose(strings.ToLower(strings.TrimSpace(raw)))
	switch purpose {
	case PayoutPurposeReward, PayoutPurposeWithdrawal:
		return purpose, nil
	default:
		return "", fmt.Errorf("%w: payout purpose %q", ErrValidation, raw)
	}
}

// Account holds the custodial balance of one wallet address.
type Account struct {
	Address   Address
	Balance   Lamports
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GameSession is one staked play of the game.
type GameSession struct {
	SessionID      SessionID
	Address        Address
	WagerAmount    Lamports
	Difficulty     Difficulty
	Moves          int
	ElapsedSeconds int
	Outcome        Outcome
	Claimed        bool
	ClaimSignature Signature
	CreatedAt      time.Time
	SettledAt      *time.Time
}

// Wager is the stake placed on a session.
type Wager struct {
	WagerID          string
	Address          Address
	SessionID        SessionID
	Amount           Lamports
	Status           WagerStatus
	DepositSignature Signature
	CreatedAt        time.Time
}

// LedgerEntry is an immutable audit line.
type LedgerEntry struct {
	EntryID      string
	Address      Address
	Kind         EntryKind
	Amount       Lamports
	Status       string
	WagerID      string
	Signature    Signature
	MetadataJSON string
	CreatedAt    time.Time
}

// Reward is a payout owed to an account after a win.
type Reward struct {
	RewardID       RewardID
	Address        Address
	Amount         Lamports
	Description    string
	Claimed        bool
	SessionID      SessionID
	PayoutID       string
	ClaimSignature Signature
	CreatedAt      time.Time
	ClaimedAt      *time.Time
}

// Payout is one external transfer attempt out of the treasury.
type Payout struct {
	PayoutID             string
	Address              Address
	Amount               Lamports
	Purpose              PayoutPurpose
	ReferenceID          string
	Status               PayoutStatus
	Signature            Signature
	LastValidBlockHeight uint64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DepositProof records an on-chain transfer that already funded the custodial side.
type DepositProof struct {
	Signature Signature
	Address   Address
	Amount    Lamports
	Purpose   string
	CreatedAt time.Time
}

// ReconciliationEvent is a payout that needs out-of-band resolution.
type ReconciliationEvent struct {
	EventID   string
	PayoutID  string
	Address   Address
	Amount    Lamports
	Signature Signature
	Reason    string
	Exported  bool
	CreatedAt time.Time
}
