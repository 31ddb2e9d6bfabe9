package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexbotov/slotify-rgs/internal/audit"
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/freespin"
	"github.com/alexbotov/slotify-rgs/internal/limits"
	"github.com/alexbotov/slotify-rgs/internal/rng"
	"github.com/alexbotov/slotify-rgs/internal/slot"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/alexbotov/slotify-rgs/internal/wallet"
	"github.com/shopspring/decimal"
)

// jackpotScale matches the precision the pool is stored at
const jackpotScale = 6

// SlotEngine plays slot games
type SlotEngine struct {
	store     store.Store
	reels     *slot.ReelGenerator
	limits    *limits.Validator
	freeSpins *freespin.Service
}

// NewSlotEngine creates a slot engine drawing from src
func NewSlotEngine(s store.Store, src rng.Source, v *limits.Validator, fs *freespin.Service) *SlotEngine {
	return &SlotEngine{
		store:     s,
		reels:     slot.NewReelGenerator(src),
		limits:    v,
		freeSpins: fs,
	}
}

// Prepare resolves the active paylines and the stake. An empty payline list
// plays every line. A free spin takes its bet value from the grant and debits
// nothing.
func (e *SlotEngine) Prepare(ctx context.Context, game *domain.Game, user *domain.User, payload *domain.BetPayload) (*Wager, error) {
	cfg := game.Slot
	if cfg == nil {
		return nil, domain.ConfigurationError("game %s has no slot configuration", game.ID)
	}

	paylines := payload.ActivePaylines
	if len(paylines) == 0 {
		paylines = make([]int, len(cfg.Paylines))
		for i := range paylines {
			paylines[i] = i
		}
	}
	if err := slot.CheckPaylines(cfg, paylines); err != nil {
		return nil, err
	}

	if payload.UseFreeSpins {
		grant, err := e.freeSpins.Next(ctx, user.ID, game.ID)
		if err != nil {
			return nil, err
		}
		return &Wager{
			Stake:    decimal.Zero,
			Bet:      freespin.BetValue(grant, game),
			Paylines: paylines,
			Grant:    grant,
		}, nil
	}

	if err := e.limits.Validate(game, user, payload.BetAmount); err != nil {
		return nil, err
	}
	return &Wager{
		Stake:    payload.BetAmount,
		Bet:      payload.BetAmount,
		Paylines: paylines,
	}, nil
}

// Play spins the reels and evaluates the grid against the live jackpot pool
func (e *SlotEngine) Play(ctx context.Context, game *domain.Game, wager *Wager) (*Outcome, error) {
	cfg := *game.Slot
	var jackpot *wallet.JackpotSettlement
	if game.Slot.Jackpot != nil {
		pool, err := e.store.GetJackpot(ctx, game.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ConfigurationError("game %s has no jackpot pool", game.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read jackpot pool: %w", err)
		}
		rule := *game.Slot.Jackpot
		rule.Current = pool
		cfg.Jackpot = &rule
		jackpot = &wallet.JackpotSettlement{
			GameID:       game.ID,
			Contribution: wager.Stake.Mul(rule.ContributionRate).Round(jackpotScale),
			Expected:     pool,
			Seed:         rule.Seed,
		}
	}

	grid, err := e.reels.Spin(&cfg)
	if err != nil {
		return nil, err
	}
	ev, err := slot.Evaluate(&cfg, grid, wager.Bet, wager.Paylines)
	if err != nil {
		return nil, err
	}
	if jackpot != nil {
		jackpot.Won = ev.IsJackpot
	}

	round := &domain.SlotRound{
		ReelPositions:    grid.Positions,
		VisibleSymbols:   grid.Symbols,
		WinningLines:     ev.Lines,
		IsJackpot:        ev.IsJackpot,
		JackpotAmount:    ev.JackpotAmount,
		Multiplier:       ev.Multiplier,
		FreeSpinsAwarded: ev.FreeSpins,
		Scatters:         ev.Scatters,
		WildPositions:    ev.WildPositions,
	}
	if round.WinningLines == nil {
		round.WinningLines = []domain.WinningLine{}
	}
	if wager.IsFreeSpin() {
		round.FreeSpin = &domain.FreeSpinUsage{
			GrantID:   wager.Grant.ID,
			BetValue:  wager.Bet,
			Remaining: wager.Grant.Remaining() - 1,
		}
	}

	return &Outcome{
		Payout:      ev.Total,
		Slot:        round,
		Jackpot:     jackpot,
		LinesPlayed: len(wager.Paylines),
		BetPerLine:  wager.Bet.Div(decimal.NewFromInt(int64(len(cfg.Paylines)))).Round(audit.BetPerLineScale),
	}, nil
}
