package slot

import (
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/shopspring/decimal"
)

// MinRun is the shortest run of matching symbols that can pay on a line
const MinRun = 3

// Evaluation is the payout breakdown of one slot grid
type Evaluation struct {
	Lines         []domain.WinningLine
	Scatters      []domain.ScatterResult
	LineTotal     decimal.Decimal
	ScatterTotal  decimal.Decimal
	Multiplier    int
	WildPositions []domain.Position
	IsJackpot     bool
	JackpotAmount decimal.Decimal
	FreeSpins     int
	// Total is the round payout rounded to domain.MoneyScale places
	Total decimal.Decimal
}

// Evaluate computes the payout of grid for bet spread across the active paylines.
// Paylines are indexes into cfg.Paylines; each must be in range and appear once.
// The jackpot pays cfg.Jackpot.Current when the jackpot row is all jackpot symbols.
func Evaluate(cfg *domain.SlotConfiguration, grid *Outcome, bet decimal.Decimal, paylines []int) (*Evaluation, error) {
	if err := checkGrid(cfg, grid); err != nil {
		return nil, err
	}
	if err := CheckPaylines(cfg, paylines); err != nil {
		return nil, err
	}

	ev := &Evaluation{
		LineTotal:     decimal.Zero,
		ScatterTotal:  decimal.Zero,
		JackpotAmount: decimal.Zero,
		Multiplier:    1,
	}

	lineBet := bet.Div(decimal.NewFromInt(int64(len(cfg.Paylines))))
	for _, idx := range paylines {
		if err := checkPayline(cfg, idx); err != nil {
			return nil, err
		}
		line, ok := evaluateLine(cfg, grid, idx, lineBet)
		if !ok {
			continue
		}
		ev.LineTotal = ev.LineTotal.Add(line.Payout)
		line.Payout = domain.RoundMoney(line.Payout)
		ev.Lines = append(ev.Lines, line)
	}

	for _, rule := range cfg.Scatters {
		res := evaluateScatter(rule, grid, bet)
		if res.Count == 0 {
			continue
		}
		ev.ScatterTotal = ev.ScatterTotal.Add(res.Payout)
		ev.FreeSpins += res.FreeSpins
		res.Payout = domain.RoundMoney(res.Payout)
		ev.Scatters = append(ev.Scatters, res)
	}

	for reel := range grid.Symbols {
		for row, sym := range grid.Symbols[reel] {
			if cfg.IsWild(sym) {
				ev.WildPositions = append(ev.WildPositions, domain.Position{Reel: reel, Row: row})
			}
		}
	}
	if cfg.WildMultiplier == domain.WildMultiplierPerWild {
		ev.Multiplier = 1 + len(ev.WildPositions)
	}

	if cfg.Jackpot != nil {
		if row := cfg.JackpotRow(); row < 0 || row >= cfg.Rows {
			return nil, domain.ConfigurationError("jackpot row %d outside %d rows", row, cfg.Rows)
		}
	}
	if cfg.Jackpot != nil && jackpotHit(cfg, grid) {
		ev.IsJackpot = true
		ev.JackpotAmount = domain.RoundMoney(cfg.Jackpot.Current)
	}

	mult := decimal.NewFromInt(int64(ev.Multiplier))
	base := ev.LineTotal.Add(ev.ScatterTotal)
	var total decimal.Decimal
	if ev.IsJackpot && cfg.Jackpot.Stacking == domain.JackpotMultiplied {
		total = base.Add(ev.JackpotAmount).Mul(mult)
	} else {
		total = base.Mul(mult).Add(ev.JackpotAmount)
	}
	ev.Total = domain.RoundMoney(total)
	return ev, nil
}

// evaluateLine scores one payline; ok is false when the line does not pay
func evaluateLine(cfg *domain.SlotConfiguration, grid *Outcome, idx int, lineBet decimal.Decimal) (domain.WinningLine, bool) {
	template := cfg.Paylines[idx]
	symbols := make([]string, len(template))
	for reel, row := range template {
		symbols[reel] = grid.Symbol(reel, row)
	}

	anchor := resolveAnchor(cfg, symbols)

	run := 0
	for _, s := range symbols {
		if s != anchor && !cfg.IsWild(s) {
			break
		}
		run++
	}
	if run < MinRun {
		return domain.WinningLine{}, false
	}
	multiplier, ok := cfg.Paytable[anchor][run]
	if !ok {
		return domain.WinningLine{}, false
	}

	return domain.WinningLine{
		Payline: idx,
		Symbol:  anchor,
		Symbols: symbols,
		Count:   run,
		Payout:  multiplier.Mul(lineBet),
	}, true
}

// resolveAnchor returns the symbol a line is scored as. A leading wild takes
// the most frequent non-wild symbol on the line, ties going to the first seen.
// A line of only wilds keeps the wild as its anchor.
func resolveAnchor(cfg *domain.SlotConfiguration, symbols []string) string {
	anchor := symbols[0]
	if !cfg.IsWild(anchor) {
		return anchor
	}

	counts := make(map[string]int)
	var order []string
	for _, s := range symbols {
		if cfg.IsWild(s) {
			continue
		}
		if counts[s] == 0 {
			order = append(order, s)
		}
		counts[s]++
	}

	best := 0
	for _, s := range order {
		if counts[s] > best {
			anchor, best = s, counts[s]
		}
	}
	return anchor
}

func evaluateScatter(rule domain.ScatterRule, grid *Outcome, bet decimal.Decimal) domain.ScatterResult {
	res := domain.ScatterResult{Symbol: rule.Symbol, Payout: decimal.Zero}
	var positions []domain.Position
	for reel := range grid.Symbols {
		for row, sym := range grid.Symbols[reel] {
			if sym == rule.Symbol {
				positions = append(positions, domain.Position{Reel: reel, Row: row})
			}
		}
	}

	minCount := rule.MinCount
	if minCount <= 0 {
		minCount = MinRun
	}
	if len(positions) < minCount {
		return res
	}

	res.Count = len(positions)
	res.Positions = positions
	if mult, ok := rule.Payouts[res.Count]; ok {
		res.Payout = mult.Mul(bet)
	}
	res.FreeSpins = rule.FreeSpins[res.Count]
	return res
}

func jackpotHit(cfg *domain.SlotConfiguration, grid *Outcome) bool {
	row := cfg.JackpotRow()
	count := 0
	for reel := range grid.Symbols {
		if grid.Symbol(reel, row) == cfg.Jackpot.Symbol {
			count++
		}
	}
	return count == len(cfg.Reels)
}

func checkGrid(cfg *domain.SlotConfiguration, grid *Outcome) error {
	if grid == nil || len(grid.Symbols) != len(cfg.Reels) {
		return domain.ConfigurationError("grid does not match %d configured reels", len(cfg.Reels))
	}
	for reel, col := range grid.Symbols {
		if len(col) != cfg.Rows {
			return domain.ConfigurationError("reel %d shows %d rows, want %d", reel, len(col), cfg.Rows)
		}
	}
	return nil
}

func checkPayline(cfg *domain.SlotConfiguration, idx int) error {
	template := cfg.Paylines[idx]
	if len(template) != len(cfg.Reels) {
		return domain.ConfigurationError("payline %d covers %d reels, want %d", idx, len(template), len(cfg.Reels))
	}
	for reel, row := range template {
		if row < 0 || row >= cfg.Rows {
			return domain.ConfigurationError("payline %d references row %d on reel %d", idx, row, reel)
		}
	}
	return nil
}

// CheckPaylines rejects empty, out of range or repeated payline indexes
func CheckPaylines(cfg *domain.SlotConfiguration, paylines []int) error {
	if len(paylines) == 0 {
		return domain.InvalidBet("no active paylines")
	}
	seen := make(map[int]bool, len(paylines))
	for _, idx := range paylines {
		if idx < 0 || idx >= len(cfg.Paylines) {
			return domain.InvalidBet("payline %d out of range [0, %d)", idx, len(cfg.Paylines))
		}
		if seen[idx] {
			return domain.InvalidBet("payline %d selected twice", idx)
		}
		seen[idx] = true
	}
	return nil
}
