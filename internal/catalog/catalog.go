// Package catalog loads game definitions from YAML.
//
// Paytables, paylines, reel strips and wheels are data: a game is added or
// retuned by editing the catalog file, never the engine.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/roulette"
	"github.com/alexbotov/slotify-rgs/internal/slot"
	"github.com/alexbotov/slotify-rgs/internal/store"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// File is the top level of a catalog document
type File struct {
	Games []domain.Game `yaml:"games"`
}

// Load reads and validates the catalog at path
func Load(path string) ([]*domain.Game, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document. Unknown fields are rejected.
func Parse(data []byte) ([]*domain.Game, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, domain.ConfigurationError("failed to decode catalog: %v", err)
	}

	games := make([]*domain.Game, 0, len(f.Games))
	seen := make(map[string]bool, len(f.Games))
	for i := range f.Games {
		g := &f.Games[i]
		if seen[g.ID] {
			return nil, domain.ConfigurationError("duplicate game id %q", g.ID)
		}
		seen[g.ID] = true
		if err := Validate(g); err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, nil
}

// Validate checks a game definition is playable
func Validate(g *domain.Game) error {
	if g.ID == "" {
		return domain.ConfigurationError("game id is required")
	}
	if !g.MinBet.IsPositive() || g.MaxBet.LessThan(g.MinBet) {
		return domain.ConfigurationError("game %s: bet bounds [%s, %s] invalid", g.ID, g.MinBet, g.MaxBet)
	}

	switch g.Type {
	case domain.GameTypeSlot:
		if g.Roulette != nil {
			return domain.ConfigurationError("game %s: slot carries a roulette configuration", g.ID)
		}
		if err := slot.Validate(g.Slot); err != nil {
			return fmt.Errorf("game %s: %w", g.ID, err)
		}
	case domain.GameTypeRoulette:
		if g.Slot != nil {
			return domain.ConfigurationError("game %s: roulette carries a slot configuration", g.ID)
		}
		if g.Roulette == nil {
			return domain.ConfigurationError("game %s: roulette configuration missing", g.ID)
		}
		if _, err := roulette.Pockets(g.Roulette.WheelType); err != nil {
			return fmt.Errorf("game %s: %w", g.ID, err)
		}
		for betType, l := range g.Roulette.TableLimits {
			if _, ok := roulette.Payouts[betType]; !ok {
				return domain.ConfigurationError("game %s: table limit for unknown bet type %q", g.ID, betType)
			}
			if !l.Min.IsPositive() || l.Max.LessThan(l.Min) {
				return domain.ConfigurationError("game %s: %s table limit [%s, %s] invalid", g.ID, betType, l.Min, l.Max)
			}
		}
	default:
		return domain.ConfigurationError("game %s: unknown type %q", g.ID, g.Type)
	}
	return nil
}

// Sync writes the catalog to the store. A game already stored keeps its
// active flag, so an operator's disable survives a restart.
func Sync(ctx context.Context, s store.Store, games []*domain.Game, logger zerolog.Logger) error {
	for _, g := range games {
		existing, err := s.GetGame(ctx, g.ID)
		switch {
		case err == nil:
			g.Active = existing.Active
		case errors.Is(err, store.ErrNotFound):
		default:
			return fmt.Errorf("failed to read game %s: %w", g.ID, err)
		}

		if err := s.SaveGame(ctx, g); err != nil {
			return fmt.Errorf("failed to save game %s: %w", g.ID, err)
		}
		logger.Info().
			Str("game_id", g.ID).
			Str("type", string(g.Type)).
			Bool("active", g.Active).
			Msg("Game loaded")
	}
	return nil
}
