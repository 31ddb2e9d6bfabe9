// Package audit records settled rounds and significant operator events.
//
// Every round record is sealed with a keyed BLAKE2b-256 hash over its
// canonical JSON form, stored, and published to live subscribers. Records
// fetched back from storage can be re-verified with Verify.
package audit

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// Event types
const (
	EventRoundCompleted = "round_completed"
	EventLargeWin       = "large_win"
	EventRoundLogFailed = "round_log_failed"
	EventDeposit        = "deposit"
	EventFreeSpinGrant  = "free_spin_grant"
	EventGamingDisabled = "gaming_disabled"
	EventGamingEnabled  = "gaming_enabled"
	EventGameDisabled   = "game_disabled"
	EventGameEnabled    = "game_enabled"
	EventRNGHealthCheck = "rng_health_check"
)

// Subscriber receives every round record after it is logged.
// Publish must not block.
type Subscriber interface {
	Publish(record *domain.RoundRecord)
}

// Service provides round logging and operator event logging
type Service struct {
	store              store.Store
	key                []byte
	largeWinMultiplier decimal.Decimal
	logger             zerolog.Logger

	mu          sync.RWMutex
	subscribers []Subscriber
}

// New creates a new audit service. key may be empty for an unkeyed hash and
// is at most 64 bytes. A non-positive largeWinMultiplier disables the
// large win event.
func New(s store.Store, key []byte, largeWinMultiplier decimal.Decimal, logger zerolog.Logger) (*Service, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("audit hash key is %d bytes, at most %d allowed", len(key), blake2b.Size)
	}
	return &Service{
		store:              s,
		key:                key,
		largeWinMultiplier: largeWinMultiplier,
		logger:             logger.With().Str("component", "audit").Logger(),
	}, nil
}

// Subscribe registers a live feed of round records
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// canonicalRound fixes the textual form of every field so a record hashes
// the same before storage and after a round trip through PostgreSQL
type canonicalRound struct {
	RoundID       string          `json:"round_id"`
	SessionID     string          `json:"session_id"`
	UserID        string          `json:"user_id"`
	GameID        string          `json:"game_id"`
	GameType      domain.GameType `json:"game_type"`
	BetAmount     string          `json:"bet_amount"`
	WinAmount     string          `json:"win_amount"`
	BalanceBefore string          `json:"balance_before"`
	BalanceAfter  string          `json:"balance_after"`
	Outcome       json.RawMessage `json:"outcome"`
	LinesPlayed   int             `json:"lines_played"`
	BetPerLine    string          `json:"bet_per_line"`
	IsFreeSpin    bool            `json:"is_free_spin"`
	CompletedAt   string          `json:"completed_at"`
}

// BetPerLineScale is the precision bet per line is recorded at
const BetPerLineScale = 4

func canonicalJSON(r *domain.RoundRecord) ([]byte, error) {
	outcome := json.RawMessage("null")
	if len(r.Outcome) > 0 {
		// re-encode through a generic value: sorted keys, no whitespace
		dec := json.NewDecoder(bytes.NewReader(r.Outcome))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("invalid outcome json: %w", err)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		outcome = b
	}
	money := func(d decimal.Decimal) string { return d.StringFixed(domain.MoneyScale) }
	return json.Marshal(canonicalRound{
		RoundID:       r.RoundID,
		SessionID:     r.SessionID,
		UserID:        r.UserID,
		GameID:        r.GameID,
		GameType:      r.GameType,
		BetAmount:     money(r.BetAmount),
		WinAmount:     money(r.WinAmount),
		BalanceBefore: money(r.BalanceBefore),
		BalanceAfter:  money(r.BalanceAfter),
		Outcome:       outcome,
		LinesPlayed:   r.LinesPlayed,
		BetPerLine:    r.BetPerLine.StringFixed(BetPerLineScale),
		IsFreeSpin:    r.IsFreeSpin,
		CompletedAt:   r.CompletedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	})
}

// Hash computes the tamper-evidence hash of a record; the Hash field is ignored
func (s *Service) Hash(r *domain.RoundRecord) (string, error) {
	payload, err := canonicalJSON(r)
	if err != nil {
		return "", err
	}
	h, err := blake2b.New256(s.key)
	if err != nil {
		return "", err
	}
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Seal sets the record's hash
func (s *Service) Seal(r *domain.RoundRecord) error {
	hash, err := s.Hash(r)
	if err != nil {
		return fmt.Errorf("failed to hash round %s: %w", r.RoundID, err)
	}
	r.Hash = hash
	return nil
}

// Verify reports whether the record still matches its hash
func (s *Service) Verify(r *domain.RoundRecord) (bool, error) {
	hash, err := s.Hash(r)
	if err != nil {
		return false, err
	}
	return hash == r.Hash, nil
}

// VerifyRound loads a stored round and verifies it
func (s *Service) VerifyRound(ctx context.Context, roundID string) (*domain.RoundRecord, bool, error) {
	r, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load round %s: %w", roundID, err)
	}
	ok, err := s.Verify(r)
	return r, ok, err
}

// LogRound seals, stores and publishes a settled round. The record's Hash is
// set even when storing fails.
func (s *Service) LogRound(ctx context.Context, r *domain.RoundRecord) error {
	if err := s.Seal(r); err != nil {
		return err
	}
	if err := s.store.SaveRound(ctx, r); err != nil {
		return fmt.Errorf("failed to save round %s: %w", r.RoundID, err)
	}

	s.logger.Info().
		Str("event", EventRoundCompleted).
		Str("round_id", r.RoundID).
		Str("user_id", r.UserID).
		Str("game_id", r.GameID).
		Str("bet", r.BetAmount.StringFixed(domain.MoneyScale)).
		Str("win", r.WinAmount.StringFixed(domain.MoneyScale)).
		Bool("free_spin", r.IsFreeSpin).
		Str("hash", r.Hash).
		Msg("Round completed")

	if s.isLargeWin(r) {
		s.logger.Warn().
			Str("event", EventLargeWin).
			Str("round_id", r.RoundID).
			Str("user_id", r.UserID).
			Str("game_id", r.GameID).
			Str("win", r.WinAmount.StringFixed(domain.MoneyScale)).
			Msg("Large win")
	}

	s.mu.RLock()
	subs := s.subscribers
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.Publish(r)
	}
	return nil
}

func (s *Service) isLargeWin(r *domain.RoundRecord) bool {
	if !s.largeWinMultiplier.IsPositive() {
		return false
	}
	stake := r.BetAmount
	if r.IsFreeSpin {
		stake = r.BetValue
	}
	return stake.IsPositive() && r.WinAmount.GreaterThanOrEqual(stake.Mul(s.largeWinMultiplier))
}

// EventOption is a functional option for configuring audit events
type EventOption func(e *zerolog.Event)

// WithUser sets the user ID for the event
func WithUser(userID string) EventOption {
	return func(e *zerolog.Event) {
		e.Str("user_id", userID)
	}
}

// WithGame sets the game ID for the event
func WithGame(gameID string) EventOption {
	return func(e *zerolog.Event) {
		e.Str("game_id", gameID)
	}
}

// WithField attaches an arbitrary value
func WithField(key string, value any) EventOption {
	return func(e *zerolog.Event) {
		e.Interface(key, value)
	}
}

// Log records a significant operator event
func (s *Service) Log(eventType string, level zerolog.Level, description string, opts ...EventOption) {
	e := s.logger.WithLevel(level).Str("event", eventType)
	for _, opt := range opts {
		opt(e)
	}
	e.Msg(description)
}
