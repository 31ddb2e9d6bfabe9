// Package domain contains core domain models for the RGS
//
// Key areas:
//   - Games and their type-specific configuration (slot, roulette)
//   - Play sessions scoped to a (user, game) pair
//   - The immutable transaction ledger
//   - Round results returned to callers and round records kept for audit
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places money is rounded to
const MoneyScale = 2

// RoundMoney rounds a monetary value to MoneyScale places
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// GameType tags which engine plays a game
type GameType string

const (
	GameTypeSlot     GameType = "slot"
	GameTypeRoulette GameType = "roulette"
)

// User is the external player entity; the core only reads and writes its balance
type User struct {
	ID        string          `json:"id" db:"id"`
	Username  string          `json:"username" db:"username"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Game represents a game definition together with its configuration.
// Exactly one of Slot or Roulette is set, matching Type.
type Game struct {
	ID       string                 `json:"id" yaml:"id"`
	Name     string                 `json:"name" yaml:"name"`
	Type     GameType               `json:"type" yaml:"type"`
	MinBet   decimal.Decimal        `json:"min_bet" yaml:"min_bet"`
	MaxBet   decimal.Decimal        `json:"max_bet" yaml:"max_bet"`
	Active   bool                   `json:"active" yaml:"active"`
	Slot     *SlotConfiguration     `json:"slot,omitempty" yaml:"slot,omitempty"`
	Roulette *RouletteConfiguration `json:"roulette,omitempty" yaml:"roulette,omitempty"`
}

// SessionStatus represents play session state
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// PlaySession aggregates counters for one (user, game) pair
type PlaySession struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	GameID         string          `json:"game_id" db:"game_id"`
	Status         SessionStatus   `json:"status" db:"status"`
	TotalSpins     int64           `json:"total_spins" db:"total_spins"`
	TotalBet       decimal.Decimal `json:"total_bet" db:"total_bet"`
	TotalWin       decimal.Decimal `json:"total_win" db:"total_win"`
	StartedAt      time.Time       `json:"started_at" db:"started_at"`
	LastActivityAt time.Time       `json:"last_activity_at" db:"last_activity_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty" db:"ended_at"`
}

// TransactionType represents transaction types
type TransactionType string

const (
	TxTypeBet        TransactionType = "bet"
	TxTypeWin        TransactionType = "win"
	TxTypeDeposit    TransactionType = "deposit"
	TxTypeWithdrawal TransactionType = "withdrawal"
	TxTypeBonus      TransactionType = "bonus"
	TxTypeRefund     TransactionType = "refund"
	TxTypeAdjustment TransactionType = "adjustment"
)

// TransactionStatus represents transaction state.
// Game rounds only ever write completed entries.
type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusFailed    TransactionStatus = "failed"
	TxStatusCancelled TransactionStatus = "cancelled"
)

// Transaction is an immutable ledger entry. BalanceAfter == BalanceBefore + Amount.
type Transaction struct {
	ID            string            `json:"id" db:"id"`
	UserID        string            `json:"user_id" db:"user_id"`
	SessionID     *string           `json:"session_id,omitempty" db:"session_id"`
	Type          TransactionType   `json:"type" db:"type"`
	Amount        decimal.Decimal   `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal   `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after" db:"balance_after"`
	Status        TransactionStatus `json:"status" db:"status"`
	Reference     string            `json:"reference" db:"reference"`
	Payload       json.RawMessage   `json:"payload,omitempty" db:"payload"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// FreeSpinGrant is a batch of free spins awarded to a user
type FreeSpinGrant struct {
	ID              string           `json:"id" db:"id"`
	UserID          string           `json:"user_id" db:"user_id"`
	Amount          int              `json:"amount" db:"amount"`
	Used            int              `json:"used" db:"used_amount"`
	Source          string           `json:"source" db:"source"`
	BetValue        *decimal.Decimal `json:"bet_value,omitempty" db:"bet_value"`
	GameRestriction *string          `json:"game_restriction,omitempty" db:"game_restriction"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty" db:"expires_at"`
	Active          bool             `json:"active" db:"is_active"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

// Remaining returns the number of unused spins
func (g *FreeSpinGrant) Remaining() int {
	if g.Used >= g.Amount {
		return 0
	}
	return g.Amount - g.Used
}

// Usable reports whether the grant can pay for a spin on gameID at now
func (g *FreeSpinGrant) Usable(gameID string, now time.Time) bool {
	if !g.Active || g.Remaining() == 0 {
		return false
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return false
	}
	return g.GameRestriction == nil || *g.GameRestriction == gameID
}

// BetPayload is the validated input of one round.
// Slots use BetAmount, ActivePaylines and UseFreeSpins; roulette uses Bets.
type BetPayload struct {
	BetAmount      decimal.Decimal `json:"bet_amount"`
	ActivePaylines []int           `json:"active_paylines,omitempty"`
	UseFreeSpins   bool            `json:"use_free_spins,omitempty"`
	Bets           []RouletteBet   `json:"bets,omitempty"`
}

// RoundResult is returned to the caller of PlayRound
type RoundResult struct {
	RoundID    string          `json:"round_id"`
	SessionID  string          `json:"session_id"`
	GameType   GameType        `json:"game_type"`
	BetAmount  decimal.Decimal `json:"bet_amount"`
	WinAmount  decimal.Decimal `json:"win_amount"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Hash       string          `json:"hash,omitempty"`
	LogFailed  bool            `json:"log_failed,omitempty"`
	Slot       *SlotRound      `json:"slot,omitempty"`
	Roulette   *RouletteRound  `json:"roulette,omitempty"`
}

// Position addresses one cell of the visible grid
type Position struct {
	Reel int `json:"reel"`
	Row  int `json:"row"`
}

// WinningLine describes one paying payline
type WinningLine struct {
	Payline int             `json:"payline"`
	Symbol  string          `json:"symbol"`
	Symbols []string        `json:"symbols"`
	Count   int             `json:"count"`
	Payout  decimal.Decimal `json:"payout"`
}

// ScatterResult describes the scatter evaluation of one scatter symbol
type ScatterResult struct {
	Symbol    string          `json:"symbol"`
	Count     int             `json:"count"`
	Payout    decimal.Decimal `json:"payout"`
	FreeSpins int             `json:"free_spins"`
	Positions []Position      `json:"positions,omitempty"`
}

// FreeSpinUsage is reported when a round was paid for by a free-spin grant
type FreeSpinUsage struct {
	GrantID   string          `json:"grant_id"`
	BetValue  decimal.Decimal `json:"bet_value"`
	Remaining int             `json:"remaining"`
}

// SlotRound is the slot-specific part of a round result
type SlotRound struct {
	ReelPositions    []int           `json:"reel_positions"`
	VisibleSymbols   [][]string      `json:"visible_symbols"`
	WinningLines     []WinningLine   `json:"winning_lines"`
	IsJackpot        bool            `json:"is_jackpot"`
	JackpotAmount    decimal.Decimal `json:"jackpot_amount"`
	Multiplier       int             `json:"multiplier"`
	FreeSpinsAwarded int             `json:"free_spins_awarded"`
	Scatters         []ScatterResult `json:"scatters,omitempty"`
	WildPositions    []Position      `json:"wild_positions,omitempty"`
	FreeSpin         *FreeSpinUsage  `json:"free_spin,omitempty"`
}

// RouletteBetResult is the outcome of one placed roulette bet
type RouletteBetResult struct {
	Type    BetType         `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Numbers []int           `json:"numbers"`
	Payout  decimal.Decimal `json:"payout"`
	Won     bool            `json:"won"`
}

// RouletteRound is the roulette-specific part of a round result
type RouletteRound struct {
	WinningNumber int                 `json:"winning_number"`
	Bets          []RouletteBetResult `json:"bets"`
	WheelType     WheelType           `json:"wheel_type"`
}

// RoundRecord is the structured record of a settled round emitted for audit and analytics
type RoundRecord struct {
	RoundID       string          `json:"round_id"`
	SessionID     string          `json:"session_id"`
	UserID        string          `json:"user_id"`
	GameID        string          `json:"game_id"`
	GameType      GameType        `json:"game_type"`
	BetAmount     decimal.Decimal `json:"bet_amount"`
	WinAmount     decimal.Decimal `json:"win_amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Outcome       json.RawMessage `json:"outcome"`
	LinesPlayed   int             `json:"lines_played"`
	BetPerLine    decimal.Decimal `json:"bet_per_line"`
	IsFreeSpin    bool            `json:"is_free_spin"`
	CompletedAt   time.Time       `json:"completed_at"`
	Hash          string          `json:"hash"`
	// BetValue is the amount the outcome was evaluated at, the grant's bet
	// value on a free spin. Not stored or hashed.
	BetValue      decimal.Decimal `json:"-"`
}

// NetResult returns win minus bet
func (r *RoundRecord) NetResult() decimal.Decimal {
	return r.WinAmount.Sub(r.BetAmount)
}
