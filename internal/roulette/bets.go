package roulette

import (
	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/shopspring/decimal"
)

// Payouts is the fixed payout multiplier per bet type
var Payouts = map[domain.BetType]int64{
	domain.BetStraight: 35,
	domain.BetSplit:    17,
	domain.BetStreet:   11,
	domain.BetCorner:   8,
	domain.BetLine:     5,
	domain.BetDozen:    2,
	domain.BetColumn:   2,
	domain.BetRed:      1,
	domain.BetBlack:    1,
	domain.BetOdd:      1,
	domain.BetEven:     1,
	domain.BetLow:      1,
	domain.BetHigh:     1,
}

// numbered bet types and the most numbers each may cover
var numberedCardinality = map[domain.BetType]int{
	domain.BetStraight: 1,
	domain.BetSplit:    2,
	domain.BetStreet:   3,
	domain.BetCorner:   4,
	domain.BetLine:     6,
}

var redNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// IsRed reports whether n is in the red set
func IsRed(n int) bool { return redNumbers[n] }

// IsZero reports whether n is a green pocket (0 or 00)
func IsZero(n int) bool { return n == 0 || n == DoubleZero }

// IsNumbered reports whether a bet type needs explicit numbers
func IsNumbered(t domain.BetType) bool {
	_, ok := numberedCardinality[t]
	return ok
}

// Wins reports whether bet wins when the ball lands on n
func Wins(bet domain.RouletteBet, n int) bool {
	if IsNumbered(bet.Type) {
		for _, x := range bet.Numbers {
			if x == n {
				return true
			}
		}
		return false
	}
	if IsZero(n) {
		return false
	}

	switch bet.Type {
	case domain.BetDozen:
		if len(bet.Numbers) == 0 {
			return false
		}
		dozen := bet.Numbers[0]
		return dozen >= 1 && dozen <= 3 && (n-1)/12 == dozen-1
	case domain.BetColumn:
		if len(bet.Numbers) == 0 {
			return false
		}
		column := bet.Numbers[0]
		return column >= 1 && column <= 3 && n%3 == column%3
	case domain.BetRed:
		return IsRed(n)
	case domain.BetBlack:
		return !IsRed(n)
	case domain.BetOdd:
		return n%2 == 1
	case domain.BetEven:
		return n%2 == 0
	case domain.BetLow:
		return n >= 1 && n <= 18
	case domain.BetHigh:
		return n >= 19 && n <= 36
	}
	return false
}

// EvaluateBets settles every bet independently against the winning number
// and returns the per-bet results and their summed payout.
func EvaluateBets(winning int, bets []domain.RouletteBet) ([]domain.RouletteBetResult, decimal.Decimal) {
	results := make([]domain.RouletteBetResult, 0, len(bets))
	total := decimal.Zero
	for _, bet := range bets {
		res := domain.RouletteBetResult{
			Type:    bet.Type,
			Amount:  bet.Amount,
			Numbers: bet.Numbers,
			Payout:  decimal.Zero,
		}
		if Wins(bet, winning) {
			res.Won = true
			res.Payout = domain.RoundMoney(bet.Amount.Mul(decimal.NewFromInt(Payouts[bet.Type])))
			total = total.Add(res.Payout)
		}
		results = append(results, res)
	}
	return results, total
}

// CheckBet validates the shape of a bet for a wheel type: a known type, a
// positive amount, and numbers that fit the type.
func CheckBet(bet domain.RouletteBet, wheel domain.WheelType) error {
	if _, ok := Payouts[bet.Type]; !ok {
		return domain.InvalidBet("unknown bet type %q", bet.Type)
	}
	if !bet.Amount.IsPositive() {
		return domain.InvalidBet("%s bet amount must be positive", bet.Type)
	}

	if limit, ok := numberedCardinality[bet.Type]; ok {
		if len(bet.Numbers) == 0 {
			return domain.InvalidBet("%s bet requires numbers", bet.Type)
		}
		if len(bet.Numbers) > limit {
			return domain.InvalidBet("%s bet covers at most %d numbers, got %d", bet.Type, limit, len(bet.Numbers))
		}
		max := MaxNumber(wheel)
		seen := make(map[int]bool, len(bet.Numbers))
		for _, n := range bet.Numbers {
			if n < 0 || n > max {
				return domain.InvalidBet("number %d not on a %s wheel", n, wheel)
			}
			if seen[n] {
				return domain.InvalidBet("number %d repeated in %s bet", n, bet.Type)
			}
			seen[n] = true
		}
		return nil
	}

	switch bet.Type {
	case domain.BetDozen, domain.BetColumn:
		if len(bet.Numbers) != 1 || bet.Numbers[0] < 1 || bet.Numbers[0] > 3 {
			return domain.InvalidBet("%s bet requires one of 1, 2 or 3", bet.Type)
		}
	}
	return nil
}
