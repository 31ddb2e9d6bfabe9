// Package rng provides the random sources that determine game outcomes.
//
// Service is the production source backed by crypto/rand. It fails closed:
// when entropy cannot be read every draw returns a rng_unavailable error and
// no weaker generator is substituted. Replay is a seeded generator used only
// by tests and the offline RTP simulator.
package rng

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// Source draws uniform integers and floats for outcome generation
type Source interface {
	// IntRange returns a uniform integer in [min, max]
	IntRange(min, max int) (int, error)
	// Float returns a uniform float in [0, 1)
	Float() (float64, error)
}

// Service provides cryptographically strong random number generation
type Service struct {
	entropy io.Reader
	mu      sync.Mutex

	samplesGenerated int64
}

// New creates a new RNG service using crypto/rand
func New() *Service {
	return NewWithReader(rand.Reader)
}

// NewWithReader creates a service reading entropy from r
func NewWithReader(r io.Reader) *Service {
	return &Service{entropy: r}
}

// uint63n returns a uniform value in [0, n) using rejection sampling
// to eliminate modulo bias
func (s *Service) uint63n(n uint64) (uint64, error) {
	const max63 = uint64(1<<63 - 1)
	threshold := max63 - (max63 % n)

	s.mu.Lock()
	defer s.mu.Unlock()

	var buf [8]byte
	for {
		if _, err := io.ReadFull(s.entropy, buf[:]); err != nil {
			return 0, domain.RngUnavailable(fmt.Errorf("failed to read entropy: %w", err))
		}
		v := binary.BigEndian.Uint64(buf[:]) >> 1
		if v < threshold {
			s.samplesGenerated++
			return v % n, nil
		}
	}
}

// IntRange returns a random integer in range [min, max]
func (s *Service) IntRange(min, max int) (int, error) {
	if min > max {
		return 0, fmt.Errorf("min %d cannot be greater than max %d", min, max)
	}
	n, err := s.uint63n(uint64(max-min) + 1)
	if err != nil {
		return 0, err
	}
	return min + int(n), nil
}

// Float returns a random float in range [0.0, 1.0) with 53 bits of precision
func (s *Service) Float() (float64, error) {
	n, err := s.uint63n(1 << 53)
	if err != nil {
		return 0, err
	}
	return float64(n) / float64(1<<53), nil
}

// SamplesGenerated returns the number of draws served so far
func (s *Service) SamplesGenerated() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samplesGenerated
}

// HealthResult contains RNG health check results
type HealthResult struct {
	Healthy          bool      `json:"healthy"`
	Timestamp        time.Time `json:"timestamp"`
	SamplesGenerated int64     `json:"samples_generated"`
	ChiSquare        float64   `json:"chi_square"`
	CriticalValue    float64   `json:"critical_value"`
	ChiSquarePassed  bool      `json:"chi_square_passed"`
	Error            string    `json:"error,omitempty"`
}

const (
	healthSamples = 10000
	healthBins    = 100
)

// HealthCheck draws a fresh sample and runs a chi-square uniformity test on it
func (s *Service) HealthCheck() (*HealthResult, error) {
	samples := make([]int, healthSamples)
	for i := range samples {
		n, err := s.IntRange(0, healthBins-1)
		if err != nil {
			return &HealthResult{
				Timestamp: time.Now(),
				Error:     err.Error(),
			}, err
		}
		samples[i] = n
	}

	chi, critical := ChiSquare(samples, healthBins, 0.999)
	passed := chi < critical
	return &HealthResult{
		Healthy:          passed,
		Timestamp:        time.Now(),
		SamplesGenerated: s.SamplesGenerated(),
		ChiSquare:        chi,
		CriticalValue:    critical,
		ChiSquarePassed:  passed,
	}, nil
}

// ChiSquare returns the chi-square statistic of samples spread over bins
// equally likely categories, and the critical value at the given confidence
// for bins-1 degrees of freedom. Samples outside [0, bins) are ignored.
func ChiSquare(samples []int, bins int, confidence float64) (float64, float64) {
	counts := make([]int, bins)
	total := 0
	for _, v := range samples {
		if v < 0 || v >= bins {
			continue
		}
		counts[v]++
		total++
	}

	expected := float64(total) / float64(bins)
	var chi float64
	for _, c := range counts {
		diff := float64(c) - expected
		chi += diff * diff / expected
	}

	critical := distuv.ChiSquared{K: float64(bins - 1)}.Quantile(confidence)
	return chi, critical
}
