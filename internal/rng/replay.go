package rng

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Replay is a deterministic Source seeded with a fixed value.
// It is not suitable for real-money play and is only constructed by tests
// and the RTP simulator.
type Replay struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewReplay creates a replay source from seed
func NewReplay(seed uint64) *Replay {
	return &Replay{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// IntRange returns a pseudo-random integer in [min, max]
func (p *Replay) IntRange(min, max int) (int, error) {
	if min > max {
		return 0, fmt.Errorf("min %d cannot be greater than max %d", min, max)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + p.r.IntN(max-min+1), nil
}

// Float returns a pseudo-random float in [0, 1)
func (p *Replay) Float() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.r.Float64(), nil
}

// Fixed replays a scripted sequence of integers, one per IntRange call.
// A scripted value outside the requested range is returned as an error;
// it panics when the script runs out.
type Fixed struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewFixed creates a scripted source
func NewFixed(values ...int) *Fixed {
	return &Fixed{values: values}
}

func (f *Fixed) IntRange(min, max int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.values) {
		panic("rng: fixed source exhausted")
	}
	v := f.values[f.next]
	f.next++
	if v < min || v > max {
		return 0, fmt.Errorf("scripted value %d outside [%d, %d]", v, min, max)
	}
	return v, nil
}

func (f *Fixed) Float() (float64, error) {
	v, err := f.IntRange(0, 1<<30)
	if err != nil {
		return 0, err
	}
	return float64(v) / float64(1<<30+1), nil
}
