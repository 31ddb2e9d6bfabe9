package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/audit"
	"github.com/alexbotov/slotify-rgs/internal/control"
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/freespin"
	"github.com/alexbotov/slotify-rgs/internal/limits"
	"github.com/alexbotov/slotify-rgs/internal/metrics"
	"github.com/alexbotov/slotify-rgs/internal/rng"
	"github.com/alexbotov/slotify-rgs/internal/session"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/alexbotov/slotify-rgs/internal/wallet"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const (
	defaultCacheSize = 128
	defaultCacheTTL  = 5 * time.Minute
)

// Dependencies are the collaborators a Service plays rounds with
type Dependencies struct {
	Store     store.Store
	RNG       rng.Source
	Sessions  *session.Manager
	Ledger    *wallet.Ledger
	FreeSpins *freespin.Service
	Audit     *audit.Service
	Control   *control.Service
	Metrics   *metrics.Metrics
}

// Options tune the game configuration cache
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Service plays rounds on any configured game
type Service struct {
	store     store.Store
	sessions  *session.Manager
	ledger    *wallet.Ledger
	freeSpins *freespin.Service
	audit     *audit.Service
	control   *control.Service
	metrics   *metrics.Metrics
	engines   map[domain.GameType]Engine
	games     *expirable.LRU[string, *domain.Game]
	logger    zerolog.Logger
}

// NewService creates a game service with a slot and a roulette engine
// drawing from deps.RNG
func NewService(deps Dependencies, opts Options, logger zerolog.Logger) *Service {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	v := limits.New()
	s := &Service{
		store:     deps.Store,
		sessions:  deps.Sessions,
		ledger:    deps.Ledger,
		freeSpins: deps.FreeSpins,
		audit:     deps.Audit,
		control:   deps.Control,
		metrics:   deps.Metrics,
		engines: map[domain.GameType]Engine{
			domain.GameTypeSlot:     NewSlotEngine(deps.Store, deps.RNG, v, deps.FreeSpins),
			domain.GameTypeRoulette: NewRouletteEngine(deps.RNG, v),
		},
		games:  expirable.NewLRU[string, *domain.Game](opts.CacheSize, nil, opts.CacheTTL),
		logger: logger.With().Str("component", "game").Logger(),
	}
	if s.control != nil {
		s.control.OnGameChange(s.Invalidate)
	}
	return s
}

// ListGames returns every configured game
func (s *Service) ListGames(ctx context.Context) ([]*domain.Game, error) {
	games, err := s.store.ListGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	return games, nil
}

// GetGameConfiguration returns a game with its configuration. Results are
// cached; the cached value must not be modified.
func (s *Service) GetGameConfiguration(ctx context.Context, gameID string) (*domain.Game, error) {
	if g, ok := s.games.Get(gameID); ok {
		return g, nil
	}
	g, err := s.store.GetGame(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("game %s not found", gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load game %s: %w", gameID, err)
	}
	s.games.Add(gameID, g)
	return g, nil
}

// Invalidate drops a cached game configuration
func (s *Service) Invalidate(gameID string) {
	s.games.Remove(gameID)
}

// PlayRound plays and settles one round of gameID for userID.
// Validation failures are returned before anything is drawn or written.
func (s *Service) PlayRound(ctx context.Context, gameID, userID string, payload *domain.BetPayload) (*domain.RoundResult, error) {
	start := time.Now()
	result, gameType, err := s.playRound(ctx, gameID, userID, payload)
	if err != nil {
		s.observeError(gameID, err)
		return nil, err
	}
	s.observeRound(gameID, gameType, result, time.Since(start))
	return result, nil
}

func (s *Service) playRound(ctx context.Context, gameID, userID string, payload *domain.BetPayload) (*domain.RoundResult, domain.GameType, error) {
	if payload == nil {
		return nil, "", domain.InvalidBet("missing bet payload")
	}
	if s.control != nil {
		if err := s.control.CheckAccess(gameID); err != nil {
			return nil, "", err
		}
	}

	game, err := s.GetGameConfiguration(ctx, gameID)
	if err != nil {
		return nil, "", err
	}
	if !game.Active {
		return nil, game.Type, domain.GameUnavailable("game %s is not active", gameID)
	}
	engine, ok := s.engines[game.Type]
	if !ok {
		return nil, game.Type, domain.ConfigurationError("no engine for game type %q", game.Type)
	}

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, game.Type, domain.NotFound("user %s not found", userID)
	}
	if err != nil {
		return nil, game.Type, fmt.Errorf("failed to load user: %w", err)
	}

	wager, err := engine.Prepare(ctx, game, user, payload)
	if err != nil {
		return nil, game.Type, err
	}

	sess, err := s.sessions.GetOrCreate(ctx, userID, gameID)
	if err != nil {
		return nil, game.Type, err
	}

	outcome, err := engine.Play(ctx, game, wager)
	if err != nil {
		return nil, game.Type, err
	}

	roundID := uuid.New().String()
	var detail any = outcome.Slot
	if outcome.Roulette != nil {
		detail = outcome.Roulette
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, game.Type, fmt.Errorf("failed to encode outcome: %w", err)
	}

	req := wallet.SettleRequest{
		RoundID:   roundID,
		UserID:    userID,
		SessionID: sess.ID,
		Bet:       wager.Stake,
		Payout:    outcome.Payout,
		Jackpot:   outcome.Jackpot,
		Payload:   raw,
	}
	if wager.IsFreeSpin() {
		req.FreeSpinGrantID = wager.Grant.ID
	}
	settled, err := s.ledger.Settle(ctx, req)
	if err != nil {
		return nil, game.Type, err
	}

	result := &domain.RoundResult{
		RoundID:    roundID,
		SessionID:  sess.ID,
		GameType:   game.Type,
		BetAmount:  domain.RoundMoney(wager.Stake),
		WinAmount:  outcome.Payout,
		NewBalance: settled.NewBalance,
		Slot:       outcome.Slot,
		Roulette:   outcome.Roulette,
	}

	record := &domain.RoundRecord{
		RoundID:       roundID,
		SessionID:     sess.ID,
		UserID:        userID,
		GameID:        gameID,
		GameType:      game.Type,
		BetAmount:     result.BetAmount,
		WinAmount:     outcome.Payout,
		BalanceBefore: settled.BalanceBefore,
		BalanceAfter:  settled.NewBalance,
		Outcome:       raw,
		LinesPlayed:   outcome.LinesPlayed,
		BetPerLine:    outcome.BetPerLine,
		IsFreeSpin:    wager.IsFreeSpin(),
		CompletedAt:   settled.SettledAt,
		BetValue:      wager.Bet,
	}
	if err := s.audit.LogRound(ctx, record); err != nil {
		s.logger.Error().Err(err).
			Str("event", audit.EventRoundLogFailed).
			Str("round_id", roundID).
			Str("user_id", userID).
			Str("game_id", gameID).
			Msg("Round settled but its record was not stored")
		if s.metrics != nil {
			s.metrics.RoundLogFailures.Inc()
		}
		result.LogFailed = true
	}
	result.Hash = record.Hash

	if s.metrics != nil {
		if outcome.Jackpot != nil && outcome.Jackpot.Won {
			s.metrics.JackpotsWon.WithLabelValues(gameID).Inc()
		}
		if wager.IsFreeSpin() {
			s.metrics.FreeSpinsUsed.WithLabelValues(gameID).Inc()
		}
	}
	return result, game.Type, nil
}

func (s *Service) observeRound(gameID string, gameType domain.GameType, r *domain.RoundResult, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	res := metrics.ResultLoss
	if r.WinAmount.IsPositive() {
		res = metrics.ResultWin
	}
	s.metrics.RoundsTotal.WithLabelValues(gameID, string(gameType), res).Inc()
	s.metrics.RoundDuration.WithLabelValues(string(gameType)).Observe(elapsed.Seconds())
	s.metrics.Wagered.WithLabelValues(gameID).Add(r.BetAmount.InexactFloat64())
	s.metrics.Paid.WithLabelValues(gameID).Add(r.WinAmount.InexactFloat64())
}

func (s *Service) observeError(gameID string, err error) {
	if s.metrics == nil {
		return
	}
	kind := domain.KindOf(err)
	if kind == "" {
		kind = "internal"
	}
	if kind == domain.KindNotFound {
		// gameID may be any caller-supplied string
		gameID = "unknown"
	}
	s.metrics.RoundErrors.WithLabelValues(gameID, string(kind)).Inc()
	if kind == domain.KindSettlementFailed {
		s.metrics.SettlementFailures.Inc()
	}
}

// RunJanitor closes stale sessions and expires free-spin grants every
// interval until ctx is done
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(ctx)
		}
	}
}

// Cleanup runs one janitor pass
func (s *Service) Cleanup(ctx context.Context) {
	closed, err := s.sessions.CloseStale(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to close stale sessions")
	}
	expired, err := s.freeSpins.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to expire free spin grants")
	}
	if s.metrics != nil {
		s.metrics.SessionsClosed.Add(float64(closed))
		s.metrics.GrantsExpired.Add(float64(expired))
	}
}
