// Package freespin manages free-spin grants. A grant pays for a number of
// slot spins on one game, or on any slot when unrestricted, until it is used
// up or expires.
package freespin

import (
	"context"
	"fmt"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// GrantRequest describes a new grant
type GrantRequest struct {
	UserID   string           `json:"user_id" validate:"required"`
	Amount   int              `json:"amount" validate:"required,gt=0,lte=1000"`
	Source   string           `json:"source" validate:"required"`
	BetValue *decimal.Decimal `json:"bet_value,omitempty"`
	GameID   *string          `json:"game_id,omitempty"`
	// ValidFor is the grant's lifetime; zero never expires
	ValidFor time.Duration `json:"valid_for,omitempty"`
}

// Service provides free-spin grant management
type Service struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a new free-spin service
func New(s store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  s,
		logger: logger.With().Str("component", "freespin").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source (for testing)
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Grant awards free spins to a player
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*domain.FreeSpinGrant, error) {
	if req.Amount <= 0 {
		return nil, domain.InvalidBet("free spin amount must be positive, got %d", req.Amount)
	}
	if req.BetValue != nil && !req.BetValue.IsPositive() {
		return nil, domain.InvalidBet("free spin bet value must be positive, got %s", req.BetValue)
	}
	if req.GameID != nil {
		game, err := s.store.GetGame(ctx, *req.GameID)
		if err != nil {
			return nil, domain.NotFound("game %s not found", *req.GameID)
		}
		if game.Type != domain.GameTypeSlot {
			return nil, domain.InvalidBet("free spins apply to slot games, %s is %s", game.ID, game.Type)
		}
	}

	now := s.now()
	g := &domain.FreeSpinGrant{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Amount:          req.Amount,
		Source:          req.Source,
		BetValue:        req.BetValue,
		GameRestriction: req.GameID,
		Active:          true,
		CreatedAt:       now,
	}
	if req.ValidFor > 0 {
		expires := now.Add(req.ValidFor)
		g.ExpiresAt = &expires
	}
	if err := s.store.CreateFreeSpinGrant(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to create free spin grant: %w", err)
	}

	s.logger.Info().
		Str("grant_id", g.ID).
		Str("user_id", g.UserID).
		Int("amount", g.Amount).
		Str("source", g.Source).
		Msg("Free spins granted")
	return g, nil
}

// Available returns the grants usable on gameID now, oldest first
func (s *Service) Available(ctx context.Context, userID, gameID string) ([]domain.FreeSpinGrant, error) {
	grants, err := s.store.ListFreeSpinGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list free spins: %w", err)
	}
	now := s.now()
	usable := grants[:0]
	for _, g := range grants {
		if g.Usable(gameID, now) {
			usable = append(usable, g)
		}
	}
	return usable, nil
}

// Remaining counts the spins available on gameID
func (s *Service) Remaining(ctx context.Context, userID, gameID string) (int, error) {
	grants, err := s.Available(ctx, userID, gameID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, g := range grants {
		n += g.Remaining()
	}
	return n, nil
}

// Next picks the grant that pays for the next spin: the oldest usable one
func (s *Service) Next(ctx context.Context, userID, gameID string) (*domain.FreeSpinGrant, error) {
	grants, err := s.Available(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, domain.InsufficientFreeSpins("no free spins available for game %s", gameID)
	}
	g := grants[0]
	return &g, nil
}

// BetValue is the stake a free spin is evaluated at: the grant's own value,
// else the game's minimum bet
func BetValue(g *domain.FreeSpinGrant, game *domain.Game) decimal.Decimal {
	if g.BetValue != nil {
		return *g.BetValue
	}
	return game.MinBet
}

// CleanupExpired deactivates every grant past its expiry
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireFreeSpinGrants(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire free spins: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("count", n).Msg("Expired free spin grants")
	}
	return n, nil
}
