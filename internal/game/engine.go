// Package game runs game rounds end to end.
//
// A round flows Validate → Session → Draw → Evaluate → Settle → Log → Result.
// Nothing is written before the outcome is drawn, and the balance, ledger,
// session counters, jackpot pool and free-spin grant change together in one
// store transaction. Logging the round record happens after commit and is
// best-effort.
package game

import (
	"context"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/wallet"
	"github.com/shopspring/decimal"
)

// Engine plays one game type. Prepare validates the payload without drawing
// anything; Play draws and evaluates the outcome of a prepared wager.
type Engine interface {
	Prepare(ctx context.Context, game *domain.Game, user *domain.User, payload *domain.BetPayload) (*Wager, error)
	Play(ctx context.Context, game *domain.Game, wager *Wager) (*Outcome, error)
}

// Wager is a validated bet ready to be played
type Wager struct {
	// Stake is debited from the balance; zero for a free spin
	Stake decimal.Decimal
	// Bet is the amount the outcome is evaluated at
	Bet      decimal.Decimal
	Paylines []int
	Grant    *domain.FreeSpinGrant
	Bets     []domain.RouletteBet
}

// IsFreeSpin reports whether a free-spin grant pays for the wager
func (w *Wager) IsFreeSpin() bool {
	return w.Grant != nil
}

// Outcome is the evaluated result of a wager, not yet settled
type Outcome struct {
	Payout   decimal.Decimal
	Slot     *domain.SlotRound
	Roulette *domain.RouletteRound
	Jackpot  *wallet.JackpotSettlement
	// LinesPlayed and BetPerLine are recorded for slot rounds
	LinesPlayed int
	BetPerLine  decimal.Decimal
}
