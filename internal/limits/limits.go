// Package limits enforces wager limits before any outcome is drawn.
//
// Key rules:
//   - The total wager of a round must lie within the game's [MinBet, MaxBet]
//   - The player's balance must cover the total wager
//   - Each roulette bet must lie within its bet-type table limit, or the
//     game's bounds when the type has no limit of its own
package limits

import (
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/roulette"
	"github.com/shopspring/decimal"
)

// Validator checks wagers against game and table limits
type Validator struct{}

// New creates a new validator
func New() *Validator {
	return &Validator{}
}

// Validate checks the total wager of a round against the game's bounds and the
// player's balance. Both checks always run; the bounds error wins when both fail.
func (v *Validator) Validate(game *domain.Game, user *domain.User, total decimal.Decimal) error {
	boundsErr := v.CheckBounds(game, total)
	balanceErr := v.CheckBalance(user, total)
	if boundsErr != nil {
		return boundsErr
	}
	return balanceErr
}

// CheckBounds rejects totals outside [game.MinBet, game.MaxBet]
func (v *Validator) CheckBounds(game *domain.Game, total decimal.Decimal) error {
	if !total.IsPositive() {
		return domain.InvalidBet("bet amount must be positive, got %s", total)
	}
	if total.LessThan(game.MinBet) {
		return domain.InvalidBet("bet %s below minimum %s", total, game.MinBet)
	}
	if total.GreaterThan(game.MaxBet) {
		return domain.InvalidBet("bet %s above maximum %s", total, game.MaxBet)
	}
	return nil
}

// CheckBalance rejects totals the player cannot cover
func (v *Validator) CheckBalance(user *domain.User, total decimal.Decimal) error {
	if user.Balance.LessThan(total) {
		return domain.InsufficientBalance("balance %s below wager %s", user.Balance, total)
	}
	return nil
}

// ValidateTableBets checks every roulette bet for shape and table limits and
// returns the total wager. One invalid bet rejects the whole round.
func (v *Validator) ValidateTableBets(game *domain.Game, bets []domain.RouletteBet) (decimal.Decimal, error) {
	if game.Roulette == nil {
		return decimal.Zero, domain.ConfigurationError("game %s has no roulette configuration", game.ID)
	}
	if len(bets) == 0 {
		return decimal.Zero, domain.InvalidBet("no bets placed")
	}

	total := decimal.Zero
	for i, bet := range bets {
		if err := roulette.CheckBet(bet, game.Roulette.WheelType); err != nil {
			return decimal.Zero, err
		}
		limit := TableLimit(game, bet.Type)
		if bet.Amount.LessThan(limit.Min) || bet.Amount.GreaterThan(limit.Max) {
			return decimal.Zero, domain.InvalidBet("bet %d: %s amount %s outside table limit [%s, %s]",
				i, bet.Type, bet.Amount, limit.Min, limit.Max)
		}
		total = total.Add(bet.Amount)
	}
	return total, nil
}

// TableLimit returns the limit for a bet type, falling back to the game's bounds
func TableLimit(game *domain.Game, betType domain.BetType) domain.Limit {
	if game.Roulette != nil {
		if l, ok := game.Roulette.TableLimits[betType]; ok {
			return l
		}
	}
	return domain.Limit{Min: game.MinBet, Max: game.MaxBet}
}
