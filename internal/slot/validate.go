package slot

import (
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/shopspring/decimal"
)

// Validate checks that a slot configuration is structurally playable.
// Every failure is a configuration error; nothing is defaulted.
func Validate(cfg *domain.SlotConfiguration) error {
	if cfg == nil {
		return domain.ConfigurationError("slot configuration missing")
	}
	if len(cfg.Reels) < MinRun {
		return domain.ConfigurationError("slot needs at least %d reels, has %d", MinRun, len(cfg.Reels))
	}
	if cfg.Rows <= 0 {
		return domain.ConfigurationError("slot rows must be positive, got %d", cfg.Rows)
	}

	alphabet := cfg.Alphabet()
	for i, strip := range cfg.Reels {
		if len(strip) == 0 {
			return domain.ConfigurationError("reel %d has an empty strip", i)
		}
		for pos, sym := range strip {
			if _, ok := alphabet[sym]; !ok {
				return domain.ConfigurationError("unknown symbol %q on reel %d position %d", sym, i, pos)
			}
		}
	}

	if len(cfg.Paylines) == 0 {
		return domain.ConfigurationError("slot has no paylines")
	}
	for idx := range cfg.Paylines {
		if err := checkPayline(cfg, idx); err != nil {
			return err
		}
	}

	if len(cfg.Paytable) == 0 {
		return domain.ConfigurationError("slot has an empty paytable")
	}
	for sym, pays := range cfg.Paytable {
		if _, ok := alphabet[sym]; !ok {
			return domain.ConfigurationError("paytable symbol %q not in alphabet", sym)
		}
		for count, mult := range pays {
			if count < MinRun || count > len(cfg.Reels) {
				return domain.ConfigurationError("paytable %q count %d outside [%d, %d]", sym, count, MinRun, len(cfg.Reels))
			}
			if mult.IsNegative() {
				return domain.ConfigurationError("paytable %q count %d has negative multiplier", sym, count)
			}
		}
	}

	for _, w := range cfg.Wilds {
		if _, ok := alphabet[w]; !ok {
			return domain.ConfigurationError("wild %q not in alphabet", w)
		}
	}

	for _, rule := range cfg.Scatters {
		if _, ok := alphabet[rule.Symbol]; !ok {
			return domain.ConfigurationError("scatter %q not in alphabet", rule.Symbol)
		}
		if cfg.IsWild(rule.Symbol) {
			return domain.ConfigurationError("scatter %q is also wild", rule.Symbol)
		}
		for count, mult := range rule.Payouts {
			if count < 1 || mult.IsNegative() {
				return domain.ConfigurationError("scatter %q has invalid payout for count %d", rule.Symbol, count)
			}
		}
		for count, spins := range rule.FreeSpins {
			if count < 1 || spins < 0 {
				return domain.ConfigurationError("scatter %q has invalid free spins for count %d", rule.Symbol, count)
			}
		}
	}

	switch cfg.WildMultiplier {
	case "", domain.WildMultiplierNone, domain.WildMultiplierPerWild:
	default:
		return domain.ConfigurationError("unknown wild multiplier mode %q", cfg.WildMultiplier)
	}

	if jp := cfg.Jackpot; jp != nil {
		if _, ok := alphabet[jp.Symbol]; !ok {
			return domain.ConfigurationError("jackpot symbol %q not in alphabet", jp.Symbol)
		}
		if row := cfg.JackpotRow(); row < 0 || row >= cfg.Rows {
			return domain.ConfigurationError("jackpot row %d outside %d rows", row, cfg.Rows)
		}
		if jp.Seed.IsNegative() || jp.ContributionRate.IsNegative() || jp.ContributionRate.GreaterThan(decimal.NewFromInt(1)) {
			return domain.ConfigurationError("jackpot seed or contribution rate out of range")
		}
		switch jp.Stacking {
		case "", domain.JackpotAdditive, domain.JackpotMultiplied:
		default:
			return domain.ConfigurationError("unknown jackpot stacking %q", jp.Stacking)
		}
	}
	return nil
}
