package roulette

import (
	"errors"
	"testing"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/rng"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var outsideBets = []domain.RouletteBet{
	{Type: domain.BetRed, Amount: decimal.NewFromInt(1)},
	{Type: domain.BetBlack, Amount: decimal.NewFromInt(1)},
	{Type: domain.BetOdd, Amount: decimal.NewFromInt(1)},
	{Type: domain.BetEven, Amount: decimal.NewFromInt(1)},
	{Type: domain.BetLow, Amount: decimal.NewFromInt(1)},
	{Type: domain.BetHigh, Amount: decimal.NewFromInt(1)},
	{Type: domain.BetDozen, Amount: decimal.NewFromInt(1), Numbers: []int{1}},
	{Type: domain.BetDozen, Amount: decimal.NewFromInt(1), Numbers: []int{2}},
	{Type: domain.BetDozen, Amount: decimal.NewFromInt(1), Numbers: []int{3}},
	{Type: domain.BetColumn, Amount: decimal.NewFromInt(1), Numbers: []int{1}},
	{Type: domain.BetColumn, Amount: decimal.NewFromInt(1), Numbers: []int{2}},
	{Type: domain.BetColumn, Amount: decimal.NewFromInt(1), Numbers: []int{3}},
}

func TestWheels(t *testing.T) {
	eu, err := Pockets(domain.WheelEuropean)
	require.NoError(t, err)
	assert.Len(t, eu, 37)
	assert.ElementsMatch(t, seq(0, 36), eu)

	us, err := Pockets(domain.WheelAmerican)
	require.NoError(t, err)
	assert.Len(t, us, 38)
	assert.ElementsMatch(t, seq(0, 37), us)

	_, err = Pockets("french")
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	assert.Len(t, redNumbers, 18)
	assert.Equal(t, "00", FormatNumber(DoubleZero))
	assert.Equal(t, "17", FormatNumber(17))
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestSpin(t *testing.T) {
	t.Run("IndexesPocketSequence", func(t *testing.T) {
		n, err := NewWheelGenerator(rng.NewFixed(19)).Spin(domain.WheelAmerican)
		require.NoError(t, err)
		assert.Equal(t, DoubleZero, n)

		n, err = NewWheelGenerator(rng.NewFixed(1)).Spin(domain.WheelEuropean)
		require.NoError(t, err)
		assert.Equal(t, 32, n)
	})

	t.Run("EuropeanNeverDoubleZero", func(t *testing.T) {
		gen := NewWheelGenerator(rng.New())
		for i := 0; i < 2000; i++ {
			n, err := gen.Spin(domain.WheelEuropean)
			require.NoError(t, err)
			require.True(t, n >= 0 && n <= 36)
		}
	})

	t.Run("UniformPockets", func(t *testing.T) {
		gen := NewWheelGenerator(rng.New())
		samples := make([]int, 38000)
		for i := range samples {
			n, err := gen.Spin(domain.WheelAmerican)
			require.NoError(t, err)
			samples[i] = n
		}
		chi, critical := rng.ChiSquare(samples, 38, 0.999)
		assert.Less(t, chi, critical)
	})
}

func TestZeroLosesOutsideBets(t *testing.T) {
	for _, zero := range []int{0, DoubleZero} {
		results, total := EvaluateBets(zero, outsideBets)
		for _, r := range results {
			assert.False(t, r.Won, "%s should lose on %s", r.Type, FormatNumber(zero))
		}
		assert.True(t, total.IsZero())
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		name   string
		bet    domain.RouletteBet
		number int
		won    bool
		payout string
	}{
		{"SeventeenIsBlack", domain.RouletteBet{Type: domain.BetRed, Amount: decimal.NewFromInt(10)}, 17, false, "0"},
		{"RedNineteen", domain.RouletteBet{Type: domain.BetRed, Amount: decimal.NewFromInt(10)}, 19, true, "10"},
		{"BlackSeventeen", domain.RouletteBet{Type: domain.BetBlack, Amount: decimal.NewFromInt(10)}, 17, true, "10"},
		{"StraightOne", domain.RouletteBet{Type: domain.BetStraight, Amount: decimal.NewFromInt(1), Numbers: []int{1}}, 1, true, "35"},
		{"StraightMiss", domain.RouletteBet{Type: domain.BetStraight, Amount: decimal.NewFromInt(1), Numbers: []int{1}}, 2, false, "0"},
		{"StraightDoubleZero", domain.RouletteBet{Type: domain.BetStraight, Amount: decimal.NewFromInt(1), Numbers: []int{DoubleZero}}, DoubleZero, true, "35"},
		{"StraightZero", domain.RouletteBet{Type: domain.BetStraight, Amount: decimal.NewFromInt(2), Numbers: []int{0}}, 0, true, "70"},
		{"Split", domain.RouletteBet{Type: domain.BetSplit, Amount: decimal.NewFromInt(2), Numbers: []int{8, 9}}, 9, true, "34"},
		{"Street", domain.RouletteBet{Type: domain.BetStreet, Amount: decimal.NewFromInt(1), Numbers: []int{7, 8, 9}}, 7, true, "11"},
		{"Corner", domain.RouletteBet{Type: domain.BetCorner, Amount: decimal.NewFromInt(1), Numbers: []int{1, 2, 4, 5}}, 5, true, "8"},
		{"Line", domain.RouletteBet{Type: domain.BetLine, Amount: decimal.NewFromInt(1), Numbers: []int{1, 2, 3, 4, 5, 6}}, 6, true, "5"},
		{"SecondDozen", domain.RouletteBet{Type: domain.BetDozen, Amount: decimal.NewFromInt(5), Numbers: []int{2}}, 24, true, "10"},
		{"SecondDozenMiss", domain.RouletteBet{Type: domain.BetDozen, Amount: decimal.NewFromInt(5), Numbers: []int{2}}, 25, false, "0"},
		{"ColumnOne", domain.RouletteBet{Type: domain.BetColumn, Amount: decimal.NewFromInt(5), Numbers: []int{1}}, 34, true, "10"},
		{"ColumnThree", domain.RouletteBet{Type: domain.BetColumn, Amount: decimal.NewFromInt(5), Numbers: []int{3}}, 36, true, "10"},
		{"ColumnTwoMiss", domain.RouletteBet{Type: domain.BetColumn, Amount: decimal.NewFromInt(5), Numbers: []int{2}}, 36, false, "0"},
		{"Odd", domain.RouletteBet{Type: domain.BetOdd, Amount: decimal.NewFromInt(3), Numbers: nil}, 35, true, "3"},
		{"Even", domain.RouletteBet{Type: domain.BetEven, Amount: decimal.NewFromInt(3)}, 35, false, "0"},
		{"Low", domain.RouletteBet{Type: domain.BetLow, Amount: decimal.NewFromInt(3)}, 18, true, "3"},
		{"High", domain.RouletteBet{Type: domain.BetHigh, Amount: decimal.NewFromInt(3)}, 19, true, "3"},
		{"Fractional", domain.RouletteBet{Type: domain.BetSplit, Amount: decimal.RequireFromString("0.25"), Numbers: []int{1, 2}}, 1, true, "4.25"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			results, total := EvaluateBets(tc.number, []domain.RouletteBet{tc.bet})
			require.Len(t, results, 1)
			assert.Equal(t, tc.won, results[0].Won)
			assert.True(t, decimal.RequireFromString(tc.payout).Equal(results[0].Payout), "payout %s", results[0].Payout)
			assert.True(t, total.Equal(results[0].Payout))
		})
	}
}

func TestEvaluateBetsSumsIndependently(t *testing.T) {
	bets := []domain.RouletteBet{
		{Type: domain.BetStraight, Amount: decimal.NewFromInt(1), Numbers: []int{17}},
		{Type: domain.BetBlack, Amount: decimal.NewFromInt(10)},
		{Type: domain.BetEven, Amount: decimal.NewFromInt(10)},
		{Type: domain.BetDozen, Amount: decimal.NewFromInt(4), Numbers: []int{2}},
	}
	results, total := EvaluateBets(17, bets)
	require.Len(t, results, 4)
	assert.True(t, results[0].Won)
	assert.True(t, results[1].Won)
	assert.False(t, results[2].Won)
	assert.True(t, results[3].Won)
	// 35 + 10 + 0 + 8
	assert.True(t, decimal.NewFromInt(53).Equal(total), "total %s", total)
}

func TestOutsideBetsPartitionTheWheel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 36).Draw(rt, "number")
		win := func(bt domain.BetType, numbers ...int) bool {
			return Wins(domain.RouletteBet{Type: bt, Numbers: numbers}, n)
		}

		if win(domain.BetRed) == win(domain.BetBlack) {
			rt.Fatalf("%d must be exactly one of red or black", n)
		}
		if win(domain.BetOdd) == win(domain.BetEven) {
			rt.Fatalf("%d must be exactly one of odd or even", n)
		}
		if win(domain.BetLow) == win(domain.BetHigh) {
			rt.Fatalf("%d must be exactly one of low or high", n)
		}
		dozens, columns := 0, 0
		for k := 1; k <= 3; k++ {
			if win(domain.BetDozen, k) {
				dozens++
			}
			if win(domain.BetColumn, k) {
				columns++
			}
		}
		if dozens != 1 || columns != 1 {
			rt.Fatalf("%d won %d dozens and %d columns", n, dozens, columns)
		}
	})
}

func TestCheckBet(t *testing.T) {
	one := decimal.NewFromInt(1)
	valid := []domain.RouletteBet{
		{Type: domain.BetStraight, Amount: one, Numbers: []int{0}},
		{Type: domain.BetCorner, Amount: one, Numbers: []int{1, 2, 4, 5}},
		{Type: domain.BetDozen, Amount: one, Numbers: []int{3}},
		{Type: domain.BetRed, Amount: one},
	}
	for _, bet := range valid {
		assert.NoError(t, CheckBet(bet, domain.WheelEuropean), "%s", bet.Type)
	}
	assert.NoError(t, CheckBet(domain.RouletteBet{Type: domain.BetStraight, Amount: one, Numbers: []int{DoubleZero}}, domain.WheelAmerican))

	invalid := map[string]domain.RouletteBet{
		"UnknownType":       {Type: "neighbours", Amount: one},
		"ZeroAmount":        {Type: domain.BetRed, Amount: decimal.Zero},
		"MissingNumbers":    {Type: domain.BetStraight, Amount: one},
		"TooManyNumbers":    {Type: domain.BetSplit, Amount: one, Numbers: []int{1, 2, 3}},
		"OffWheel":          {Type: domain.BetStraight, Amount: one, Numbers: []int{37}},
		"Negative":          {Type: domain.BetStraight, Amount: one, Numbers: []int{-1}},
		"Repeated":          {Type: domain.BetSplit, Amount: one, Numbers: []int{4, 4}},
		"DozenOutOfRange":   {Type: domain.BetDozen, Amount: one, Numbers: []int{4}},
		"ColumnMissing":     {Type: domain.BetColumn, Amount: one},
		"DozenManySelected": {Type: domain.BetDozen, Amount: one, Numbers: []int{1, 2}},
	}
	for name, bet := range invalid {
		t.Run(name, func(t *testing.T) {
			err := CheckBet(bet, domain.WheelEuropean)
			assert.True(t, errors.Is(err, domain.ErrInvalidBet), "got %v", err)
		})
	}
}
