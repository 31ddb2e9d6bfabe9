package game

import (
	"context"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/limits"
	"github.com/alexbotov/slotify-rgs/internal/rng"
	"github.com/alexbotov/slotify-rgs/internal/roulette"
)

// RouletteEngine plays roulette games
type RouletteEngine struct {
	wheel  *roulette.WheelGenerator
	limits *limits.Validator
}

// NewRouletteEngine creates a roulette engine drawing from src
func NewRouletteEngine(src rng.Source, v *limits.Validator) *RouletteEngine {
	return &RouletteEngine{
		wheel:  roulette.NewWheelGenerator(src),
		limits: v,
	}
}

// Prepare checks every bet against its table limit, then the round total
// against the game's bounds and the player's balance.
func (e *RouletteEngine) Prepare(ctx context.Context, game *domain.Game, user *domain.User, payload *domain.BetPayload) (*Wager, error) {
	if payload.UseFreeSpins {
		return nil, domain.InvalidBet("free spins are not available on roulette")
	}
	total, err := e.limits.ValidateTableBets(game, payload.Bets)
	if err != nil {
		return nil, err
	}
	if err := e.limits.Validate(game, user, total); err != nil {
		return nil, err
	}
	return &Wager{Stake: total, Bet: total, Bets: payload.Bets}, nil
}

// Play spins the wheel and settles every bet against the winning pocket
func (e *RouletteEngine) Play(ctx context.Context, game *domain.Game, wager *Wager) (*Outcome, error) {
	winning, err := e.wheel.Spin(game.Roulette.WheelType)
	if err != nil {
		return nil, err
	}
	results, payout := roulette.EvaluateBets(winning, wager.Bets)
	return &Outcome{
		Payout: domain.RoundMoney(payout),
		Roulette: &domain.RouletteRound{
			WinningNumber: winning,
			Bets:          results,
			WheelType:     game.Roulette.WheelType,
		},
	}, nil
}
