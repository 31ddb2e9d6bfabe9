// Package roulette draws wheel outcomes and settles table bets.
//
// The American double zero pocket is encoded as DoubleZero (37) everywhere:
// in drawn outcomes, in bet numbers and in round results.
package roulette

import (
	"strconv"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/alexbotov/slotify-rgs/internal/rng"
)

// DoubleZero is the numeric encoding of the American "00" pocket
const DoubleZero = 37

var europeanWheel = []int{
	0, 32, 15, 19, 4, 21, 2, 25, 17, 34, 6, 27, 13, 36, 11, 30, 8, 23, 10, 5,
	24, 16, 33, 1, 20, 14, 31, 9, 22, 18, 29, 7, 28, 12, 35, 3, 26,
}

var americanWheel = []int{
	0, 28, 9, 26, 30, 11, 7, 20, 32, 17, 5, 22, 34, 15, 3, 24, 36, 13, 1, DoubleZero,
	27, 10, 25, 29, 12, 8, 19, 31, 18, 6, 21, 33, 16, 4, 23, 35, 14, 2,
}

// Pockets returns the pocket sequence of a wheel type in wheel order
func Pockets(wheel domain.WheelType) ([]int, error) {
	switch wheel {
	case domain.WheelEuropean, "":
		return europeanWheel, nil
	case domain.WheelAmerican:
		return americanWheel, nil
	}
	return nil, domain.ConfigurationError("unknown wheel type %q", wheel)
}

// MaxNumber returns the highest pocket number on a wheel type
func MaxNumber(wheel domain.WheelType) int {
	if wheel == domain.WheelAmerican {
		return DoubleZero
	}
	return 36
}

// FormatNumber renders a pocket number the way it is printed on the table
func FormatNumber(n int) string {
	if n == DoubleZero {
		return "00"
	}
	return strconv.Itoa(n)
}

// WheelGenerator draws winning pockets from a random source
type WheelGenerator struct {
	rng rng.Source
}

// NewWheelGenerator creates a new wheel generator
func NewWheelGenerator(src rng.Source) *WheelGenerator {
	return &WheelGenerator{rng: src}
}

// Spin draws one uniform index into the wheel's pocket sequence and returns its number
func (g *WheelGenerator) Spin(wheel domain.WheelType) (int, error) {
	pockets, err := Pockets(wheel)
	if err != nil {
		return 0, err
	}
	idx, err := g.rng.IntRange(0, len(pockets)-1)
	if err != nil {
		return 0, err
	}
	return pockets[idx], nil
}
