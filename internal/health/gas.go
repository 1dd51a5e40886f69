package health

import (
	"math/big"
	"sync"
	"time"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

const (
	// baselineMaxAge bounds how long a gas sample stays relevant.
	baselineMaxAge = 5 * time.Minute
	// baselineCap bounds per-chain sample memory.
	baselineCap = 100
)

// GasSample is one observed gas price.
type GasSample struct {
	Price *big.Int
	At    time.Time
}

// BaselineStore keeps a short per-chain history of observed gas prices. The
// coordinator records a sample per execution attempt; the health loop trims
// the history; spike detection compares the current price to the baseline.
type BaselineStore struct {
	now func() time.Time

	mu      sync.Mutex
	samples map[model.Chain][]GasSample
}

// NewBaselineStore builds an empty store.
func NewBaselineStore() *BaselineStore {
	return &BaselineStore{
		now:     time.Now,
		samples: make(map[model.Chain][]GasSample),
	}
}

// Record appends one gas-price observation for a chain.
func (s *BaselineStore) Record(chain model.Chain, price *big.Int) {
	if price == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[chain] = append(s.samples[chain], GasSample{
		Price: new(big.Int).Set(price),
		At:    s.now(),
	})
}

// Baseline returns the average of the chain's current samples, or nil when
// none exist.
func (s *BaselineStore) Baseline(chain model.Chain) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := s.samples[chain]
	if len(samples) == 0 {
		return nil
	}
	sum := new(big.Int)
	for _, sample := range samples {
		sum.Add(sum, sample.Price)
	}
	return sum.Quo(sum, big.NewInt(int64(len(samples))))
}

// Trim drops samples older than baselineMaxAge, then caps each chain's list
// at baselineCap keeping the most recent entries.
func (s *BaselineStore) Trim() {
	cutoff := s.now().Add(-baselineMaxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	for chain, samples := range s.samples {
		kept := samples[:0]
		for _, sample := range samples {
			if !sample.At.Before(cutoff) {
				kept = append(kept, sample)
			}
		}
		if len(kept) > baselineCap {
			kept = kept[len(kept)-baselineCap:]
		}
		if len(kept) == 0 {
			delete(s.samples, chain)
			continue
		}
		s.samples[chain] = kept
	}
}

// Len returns the sample count for a chain.
func (s *BaselineStore) Len(chain model.Chain) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples[chain])
}
