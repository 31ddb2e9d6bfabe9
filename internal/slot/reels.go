// Package slot draws and evaluates slot machine rounds.
//
// The reel generator only touches the random source; Evaluate is a pure
// function of the configuration, the visible grid, the bet and the active
// paylines.
package slot

import (
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/rng"
)

// Outcome is a drawn slot grid.
// Symbols is indexed [reel][row].
type Outcome struct {
	Positions []int      `json:"positions"`
	Symbols   [][]string `json:"symbols"`
}

// Symbol returns the visible symbol at reel, row
func (o *Outcome) Symbol(reel, row int) string {
	return o.Symbols[reel][row]
}

// ReelGenerator draws independent reel stops from a random source
type ReelGenerator struct {
	rng rng.Source
}

// NewReelGenerator creates a new reel generator
func NewReelGenerator(src rng.Source) *ReelGenerator {
	return &ReelGenerator{rng: src}
}

// Spin draws one start position per reel and reads cfg.Rows consecutive
// symbols from it, wrapping around the strip.
func (g *ReelGenerator) Spin(cfg *domain.SlotConfiguration) (*Outcome, error) {
	if len(cfg.Reels) == 0 || cfg.Rows <= 0 {
		return nil, domain.ConfigurationError("slot has %d reels and %d rows", len(cfg.Reels), cfg.Rows)
	}
	alphabet := cfg.Alphabet()

	out := &Outcome{
		Positions: make([]int, len(cfg.Reels)),
		Symbols:   make([][]string, len(cfg.Reels)),
	}
	for i, strip := range cfg.Reels {
		if len(strip) == 0 {
			return nil, domain.ConfigurationError("reel %d has an empty strip", i)
		}
		pos, err := g.rng.IntRange(0, len(strip)-1)
		if err != nil {
			return nil, err
		}
		out.Positions[i] = pos
		out.Symbols[i] = Window(strip, pos, cfg.Rows)

		for row, sym := range out.Symbols[i] {
			if _, ok := alphabet[sym]; !ok {
				return nil, domain.ConfigurationError("unknown symbol %q on reel %d row %d", sym, i, row)
			}
		}
	}
	return out, nil
}

// Window returns rows symbols of strip starting at pos, wrapping modulo the strip length
func Window(strip []string, pos, rows int) []string {
	w := make([]string, rows)
	for r := 0; r < rows; r++ {
		w[r] = strip[(pos+r)%len(strip)]
	}
	return w
}
