// Package fees holds the per-market fee tier schedule: a table sorted by
// protocol-token holding thresholds, each row carrying the maker, taker,
// and protocol fee rates that apply at or above its threshold. The matching
// engine itself never reads this table; the application layer resolves a
// user's tier when reporting or charging fees.
package fees

import (
	"fmt"
	"sort"
	"sync"

	"github.com/clobcore/matchbook/pkg/fixedpoint"
)

// RateDecimals is the precision fee rates are quoted at: a raw value of 30
// is 0.0030, i.e. 30 bps.
const RateDecimals = 4

// Rate constructs a fee rate from an integer at RateDecimals precision.
func Rate(raw uint64) (fixedpoint.FixedPoint, error) {
	return fixedpoint.FromU64(raw, RateDecimals)
}

// Tier is one rung of the schedule. A user holding at least MinHolding
// protocol tokens (and less than the next rung's threshold) trades at these
// rates.
type Tier struct {
	MinHolding uint64
	Maker      fixedpoint.FixedPoint
	Taker      fixedpoint.FixedPoint
	Protocol   fixedpoint.FixedPoint
}

// Schedule is a sorted tier table. The zero value is usable and resolves
// every holding to the zero-rate default tier.
type Schedule struct {
	mu    sync.RWMutex
	tiers []Tier // ascending by MinHolding, thresholds strictly unique
}

func NewSchedule() *Schedule { return &Schedule{} }

// SetTier updates the tier at t.MinHolding in place if one exists, and
// otherwise inserts t at its sorted position.
func (s *Schedule) SetTier(t Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.tiers), func(i int) bool {
		return s.tiers[i].MinHolding >= t.MinHolding
	})
	if i < len(s.tiers) && s.tiers[i].MinHolding == t.MinHolding {
		s.tiers[i] = t
		return
	}
	s.tiers = append(s.tiers, Tier{})
	copy(s.tiers[i+1:], s.tiers[i:])
	s.tiers[i] = t
}

// FindTier resolves holding to the greatest tier whose threshold does not
// exceed it (strict predecessor). Holdings below the lowest threshold get
// the zero-rate default tier and ok=false.
func (s *Schedule) FindTier(holding uint64) (Tier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := sort.Search(len(s.tiers), func(i int) bool {
		return s.tiers[i].MinHolding > holding
	})
	if i == 0 {
		return Tier{}, false
	}
	return s.tiers[i-1], true
}

// Tiers returns a copy of the table in ascending threshold order.
func (s *Schedule) Tiers() []Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tier, len(s.tiers))
	copy(out, s.tiers)
	return out
}

// Validate asserts the table is strictly sorted by threshold. SetTier
// preserves this by construction; Validate guards tables loaded from
// external configuration.
func (s *Schedule) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 1; i < len(s.tiers); i++ {
		if s.tiers[i-1].MinHolding >= s.tiers[i].MinHolding {
			return fmt.Errorf("fees: tiers unsorted at index %d (%d >= %d)",
				i, s.tiers[i-1].MinHolding, s.tiers[i].MinHolding)
		}
	}
	return nil
}
