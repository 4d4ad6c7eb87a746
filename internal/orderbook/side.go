package orderbook

import (
	"cmp"
	"math"
	"slices"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// priceKey normalises a price to micro-units so levels parsed from
// different strings ("0.5", "0.50") collapse onto one key.
func priceKey(p float64) int64 {
	return int64(math.Round(p * 1e6))
}

type level struct {
	key  int64
	size float64
}

// side is one half of an outcome's book kept sorted best-first: asks
// ascending, bids descending. The best level is always levels[0].
type side struct {
	levels []level
	desc   bool
}

func (s *side) compare(a, b int64) int {
	if s.desc {
		return cmp.Compare(b, a)
	}
	return cmp.Compare(a, b)
}

func (s *side) find(key int64) (int, bool) {
	return slices.BinarySearchFunc(s.levels, key, func(l level, k int64) int {
		return s.compare(l.key, k)
	})
}

// set upserts a level; size <= 0 removes it.
func (s *side) set(price, size float64) {
	key := priceKey(price)
	i, found := s.find(key)
	switch {
	case size <= 0 && found:
		s.levels = slices.Delete(s.levels, i, i+1)
	case size <= 0:
	case found:
		s.levels[i].size = size
	default:
		s.levels = slices.Insert(s.levels, i, level{key: key, size: size})
	}
}

// replace rebuilds the side from a full level list. Zero sizes are
// dropped and duplicate prices keep the last entry.
func (s *side) replace(src []domain.PriceLevel) {
	s.levels = s.levels[:0]
	for _, l := range src {
		s.set(l.Price, l.Size)
	}
}

func (s *side) best() (float64, bool) {
	if len(s.levels) == 0 {
		return 0, false
	}
	return float64(s.levels[0].key) / 1e6, true
}

func (s *side) depth(n int) []domain.PriceLevel {
	if n <= 0 || n > len(s.levels) {
		n = len(s.levels)
	}
	out := make([]domain.PriceLevel, n)
	for i := 0; i < n; i++ {
		out[i] = domain.PriceLevel{Price: float64(s.levels[i].key) / 1e6, Size: s.levels[i].size}
	}
	return out
}
