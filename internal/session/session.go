// Package session manages play sessions: one active session per (user, game)
// pair that aggregates spin counters until it goes idle for longer than the
// configured lifetime.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxAttempts bounds how often GetOrCreate retries after losing a creation race
const maxAttempts = 3

// Manager provides play session lookup and lifecycle
type Manager struct {
	store    store.Store
	lifetime time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewManager creates a session manager. A non-positive lifetime never expires sessions.
func NewManager(s store.Store, lifetime time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    s,
		lifetime: lifetime,
		logger:   logger.With().Str("component", "session").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source (for testing)
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Lifetime returns the idle time after which a session is replaced
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

func (m *Manager) expired(s *domain.PlaySession, now time.Time) bool {
	return m.lifetime > 0 && now.Sub(s.LastActivityAt) > m.lifetime
}

// GetOrCreate returns the active session of the pair, replacing it with a
// fresh zeroed session when it has been idle longer than the lifetime.
// Concurrent callers for the same pair all receive the same session.
func (m *Manager) GetOrCreate(ctx context.Context, userID, gameID string) (*domain.PlaySession, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		now := m.now()

		current, err := m.store.GetActiveSession(ctx, userID, gameID)
		switch {
		case err == nil && !m.expired(current, now):
			return current, nil
		case err == nil:
			// losing this race to another closer is fine
			if _, err := m.store.CloseSession(ctx, current.ID, now); err != nil {
				return nil, fmt.Errorf("failed to close expired session: %w", err)
			}
			m.logger.Debug().
				Str("session_id", current.ID).
				Str("user_id", userID).
				Str("game_id", gameID).
				Msg("Closed expired play session")
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("failed to get active session: %w", err)
		}

		s := &domain.PlaySession{
			ID:             uuid.New().String(),
			UserID:         userID,
			GameID:         gameID,
			Status:         domain.SessionActive,
			StartedAt:      now,
			LastActivityAt: now,
		}
		err = m.store.CreateSession(ctx, s)
		if err == nil {
			m.logger.Info().
				Str("session_id", s.ID).
				Str("user_id", userID).
				Str("game_id", gameID).
				Msg("Play session started")
			return s, nil
		}
		if !errors.Is(err, store.ErrSessionExists) {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to obtain session for user %s on game %s after %d attempts", userID, gameID, maxAttempts)
}

// Get retrieves a session by id
func (m *Manager) Get(ctx context.Context, id string) (*domain.PlaySession, error) {
	s, err := m.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("session %s not found", id)
	}
	return s, err
}

// Close ends a session; closing an already closed session is a no-op
func (m *Manager) Close(ctx context.Context, id string) error {
	closed, err := m.store.CloseSession(ctx, id, m.now())
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound("session %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if closed {
		m.logger.Info().Str("session_id", id).Msg("Play session closed")
	}
	return nil
}

// CloseStale closes every active session idle for longer than the lifetime
func (m *Manager) CloseStale(ctx context.Context) (int64, error) {
	if m.lifetime <= 0 {
		return 0, nil
	}
	n, err := m.store.CloseStaleSessions(ctx, m.now().Add(-m.lifetime))
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	if n > 0 {
		m.logger.Info().Int64("count", n).Msg("Closed stale play sessions")
	}
	return n, nil
}
