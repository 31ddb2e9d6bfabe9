package domain

import (
	"github.com/shopspring/decimal"
)

// WildMultiplierMode selects how wild symbols on the grid scale the round payout
type WildMultiplierMode string

const (
	// WildMultiplierNone leaves payouts unscaled
	WildMultiplierNone WildMultiplierMode = "none"
	// WildMultiplierPerWild multiplies line and scatter payouts by 1 + wilds on the grid
	WildMultiplierPerWild WildMultiplierMode = "per_wild"
)

// JackpotStacking selects how a progressive jackpot combines with the wild multiplier
type JackpotStacking string

const (
	// JackpotAdditive adds the pool after the multiplier is applied
	JackpotAdditive JackpotStacking = "additive"
	// JackpotMultiplied adds the pool before the multiplier is applied
	JackpotMultiplied JackpotStacking = "multiplied"
)

// ScatterRule configures one scatter symbol
type ScatterRule struct {
	Symbol    string                  `json:"symbol" yaml:"symbol"`
	MinCount  int                     `json:"min_count" yaml:"min_count"`
	Payouts   map[int]decimal.Decimal `json:"payouts" yaml:"payouts"`
	FreeSpins map[int]int             `json:"free_spins" yaml:"free_spins"`
}

// JackpotRule configures the progressive jackpot of a slot game.
// Current is the live pool amount and is filled from storage, never from the catalog.
type JackpotRule struct {
	Symbol           string          `json:"symbol" yaml:"symbol"`
	Row              *int            `json:"row,omitempty" yaml:"row,omitempty"`
	Seed             decimal.Decimal `json:"seed" yaml:"seed"`
	ContributionRate decimal.Decimal `json:"contribution_rate" yaml:"contribution_rate"`
	Stacking         JackpotStacking `json:"stacking" yaml:"stacking"`
	Current          decimal.Decimal `json:"current" yaml:"-"`
}

// SlotConfiguration is the static configuration of a slot game
type SlotConfiguration struct {
	Reels          [][]string                         `json:"reels" yaml:"reels"`
	Rows           int                                `json:"rows" yaml:"rows"`
	Symbols        []string                           `json:"symbols,omitempty" yaml:"symbols,omitempty"`
	Paylines       [][]int                            `json:"paylines" yaml:"paylines"`
	Paytable       map[string]map[int]decimal.Decimal `json:"paytable" yaml:"paytable"`
	Wilds          []string                           `json:"wilds,omitempty" yaml:"wilds,omitempty"`
	Scatters       []ScatterRule                      `json:"scatters,omitempty" yaml:"scatters,omitempty"`
	WildMultiplier WildMultiplierMode                 `json:"wild_multiplier,omitempty" yaml:"wild_multiplier,omitempty"`
	Jackpot        *JackpotRule                       `json:"jackpot,omitempty" yaml:"jackpot,omitempty"`
	RTP            float64                            `json:"rtp,omitempty" yaml:"rtp,omitempty"`
}

// IsWild reports whether symbol belongs to the wild set
func (c *SlotConfiguration) IsWild(symbol string) bool {
	for _, w := range c.Wilds {
		if w == symbol {
			return true
		}
	}
	return false
}

// JackpotRow returns the grid row checked for the jackpot combination.
// Defaults to the center row (rows/2) when the rule does not name one.
func (c *SlotConfiguration) JackpotRow() int {
	if c.Jackpot != nil && c.Jackpot.Row != nil {
		return *c.Jackpot.Row
	}
	return c.Rows / 2
}

// Alphabet returns the set of symbols allowed on the reel strips.
// An explicit Symbols list wins; otherwise it is derived from the paytable,
// wilds, scatters and the jackpot symbol.
func (c *SlotConfiguration) Alphabet() map[string]struct{} {
	set := make(map[string]struct{})
	if len(c.Symbols) > 0 {
		for _, s := range c.Symbols {
			set[s] = struct{}{}
		}
		return set
	}
	for s := range c.Paytable {
		set[s] = struct{}{}
	}
	for _, s := range c.Wilds {
		set[s] = struct{}{}
	}
	for _, r := range c.Scatters {
		set[r.Symbol] = struct{}{}
	}
	if c.Jackpot != nil && c.Jackpot.Symbol != "" {
		set[c.Jackpot.Symbol] = struct{}{}
	}
	return set
}

// WheelType selects the roulette pocket layout
type WheelType string

const (
	WheelEuropean WheelType = "european"
	WheelAmerican WheelType = "american"
)

// BetType is a roulette bet kind
type BetType string

const (
	BetStraight BetType = "straight"
	BetSplit    BetType = "split"
	BetStreet   BetType = "street"
	BetCorner   BetType = "corner"
	BetLine     BetType = "line"
	BetDozen    BetType = "dozen"
	BetColumn   BetType = "column"
	BetRed      BetType = "red"
	BetBlack    BetType = "black"
	BetOdd      BetType = "odd"
	BetEven     BetType = "even"
	BetLow      BetType = "low"
	BetHigh     BetType = "high"
)

// Limit is a min/max wager bound
type Limit struct {
	Min decimal.Decimal `json:"min" yaml:"min"`
	Max decimal.Decimal `json:"max" yaml:"max"`
}

// RouletteConfiguration is the static configuration of a roulette game
type RouletteConfiguration struct {
	WheelType   WheelType         `json:"wheel_type" yaml:"wheel_type"`
	TableLimits map[BetType]Limit `json:"table_limits,omitempty" yaml:"table_limits,omitempty"`
}

// RouletteBet is one wager placed on the table
type RouletteBet struct {
	Type    BetType         `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Numbers []int           `json:"numbers,omitempty"`
}
