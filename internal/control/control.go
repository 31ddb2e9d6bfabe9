// Package control provides gaming system control functionality
//
// Key Requirements:
//   - Operator must be able to disable all gaming on demand
//   - Individual games can be disabled, and that state survives restarts
//   - All state changes are logged as audit events
package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/audit"
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/rs/zerolog"
)

var (
	ErrGamingDisabled = errors.New("gaming is currently disabled")
	ErrGameDisabled   = errors.New("game is currently disabled")
)

// Status is the current gaming system state
type Status struct {
	GamingEnabled  bool       `json:"gaming_enabled"`
	DisabledAt     *time.Time `json:"disabled_at,omitempty"`
	DisabledBy     string     `json:"disabled_by,omitempty"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
	DisabledGames  []string   `json:"disabled_games"`
}

// Service is the operator kill switch checked before every round
type Service struct {
	store store.Store
	audit *audit.Service

	mu             sync.RWMutex
	gamingEnabled  bool
	disabledGames  map[string]bool
	disabledAt     *time.Time
	disabledBy     string
	disabledReason string
	listeners      []func(gameID string)
}

// New creates a new control service
func New(s store.Store, auditSvc *audit.Service) *Service {
	return &Service{
		store:         s,
		audit:         auditSvc,
		gamingEnabled: true,
		disabledGames: make(map[string]bool),
	}
}

// OnGameChange registers fn to run after a game is enabled or disabled
func (s *Service) OnGameChange(fn func(gameID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) notify(gameID string) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(gameID)
	}
}

// DisableAllGaming stops all gaming activity. It is not persisted: a restart
// resumes gaming.
func (s *Service) DisableAllGaming(ctx context.Context, reason, authorizedBy string) {
	s.mu.Lock()
	now := time.Now().UTC()
	s.gamingEnabled = false
	s.disabledAt = &now
	s.disabledBy = authorizedBy
	s.disabledReason = reason
	s.mu.Unlock()

	s.audit.Log(audit.EventGamingDisabled, zerolog.ErrorLevel,
		fmt.Sprintf("All gaming disabled: %s", reason),
		audit.WithField("authorized_by", authorizedBy),
		audit.WithField("reason", reason))
}

// EnableAllGaming resumes gaming operations
func (s *Service) EnableAllGaming(ctx context.Context, authorizedBy string) {
	s.mu.Lock()
	s.gamingEnabled = true
	s.disabledAt = nil
	s.disabledBy = ""
	s.disabledReason = ""
	s.mu.Unlock()

	s.audit.Log(audit.EventGamingEnabled, zerolog.InfoLevel,
		"All gaming enabled",
		audit.WithField("authorized_by", authorizedBy))
}

// DisableGame disables a specific game
func (s *Service) DisableGame(ctx context.Context, gameID, reason, authorizedBy string) error {
	if err := s.setGameActive(ctx, gameID, false); err != nil {
		return err
	}
	s.audit.Log(audit.EventGameDisabled, zerolog.WarnLevel,
		fmt.Sprintf("Game disabled: %s - %s", gameID, reason),
		audit.WithGame(gameID),
		audit.WithField("reason", reason),
		audit.WithField("authorized_by", authorizedBy))
	return nil
}

// EnableGame enables a specific game
func (s *Service) EnableGame(ctx context.Context, gameID, authorizedBy string) error {
	if err := s.setGameActive(ctx, gameID, true); err != nil {
		return err
	}
	s.audit.Log(audit.EventGameEnabled, zerolog.InfoLevel,
		fmt.Sprintf("Game enabled: %s", gameID),
		audit.WithGame(gameID),
		audit.WithField("authorized_by", authorizedBy))
	return nil
}

func (s *Service) setGameActive(ctx context.Context, gameID string, active bool) error {
	if err := s.store.SetGameActive(ctx, gameID, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("game %s not found", gameID)
		}
		return fmt.Errorf("failed to persist game state: %w", err)
	}

	s.mu.Lock()
	if active {
		delete(s.disabledGames, gameID)
	} else {
		s.disabledGames[gameID] = true
	}
	s.mu.Unlock()

	s.notify(gameID)
	return nil
}

// IsGamingEnabled checks if gaming is currently enabled
func (s *Service) IsGamingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gamingEnabled
}

// IsGameEnabled checks if a specific game is enabled
func (s *Service) IsGameEnabled(gameID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.disabledGames[gameID]
}

// GetSystemStatus returns current gaming system status
func (s *Service) GetSystemStatus() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &Status{
		GamingEnabled:  s.gamingEnabled,
		DisabledAt:     s.disabledAt,
		DisabledBy:     s.disabledBy,
		DisabledReason: s.disabledReason,
		DisabledGames:  make([]string, 0, len(s.disabledGames)),
	}
	for id := range s.disabledGames {
		status.DisabledGames = append(status.DisabledGames, id)
	}
	sort.Strings(status.DisabledGames)
	return status
}

// CheckAccess verifies a round may be played on gameID
func (s *Service) CheckAccess(gameID string) error {
	if !s.IsGamingEnabled() {
		return &domain.Error{Kind: domain.KindGameUnavailable, Message: "gaming is disabled", Err: ErrGamingDisabled}
	}
	if !s.IsGameEnabled(gameID) {
		return &domain.Error{Kind: domain.KindGameUnavailable, Message: fmt.Sprintf("game %s is disabled", gameID), Err: ErrGameDisabled}
	}
	return nil
}

// LoadState loads the disabled games from storage on startup
func (s *Service) LoadState(ctx context.Context) error {
	games, err := s.store.ListGames(ctx)
	if err != nil {
		return fmt.Errorf("failed to load game state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabledGames = make(map[string]bool)
	for _, g := range games {
		if !g.Active {
			s.disabledGames[g.ID] = true
		}
	}
	return nil
}
