package presign

import (
	"math"
	"slices"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// Grid is the discretised (price, size) space an arena is signed over.
type Grid struct {
	Prices []float64
	Sizes  []float64
	Sides  []domain.OrderSide
}

// NewGrid spans minPrice..maxPrice in tick steps and scales baseSize by
// each multiplier. Only buy orders are presigned unless sides are given.
func NewGrid(minPrice, maxPrice, tick, baseSize float64, multipliers []float64, sides ...domain.OrderSide) Grid {
	if tick <= 0 {
		tick = 0.01
	}
	var g Grid
	steps := int(math.Round((maxPrice - minPrice) / tick))
	for i := 0; i <= steps; i++ {
		p := math.Round((minPrice+float64(i)*tick)*1e4) / 1e4
		if p > 0 && p < 1 {
			g.Prices = append(g.Prices, p)
		}
	}
	for _, m := range multipliers {
		if s := math.Floor(baseSize*m*100) / 100; s > 0 {
			g.Sizes = append(g.Sizes, s)
		}
	}
	g.Prices = dedupe(g.Prices, priceKey)
	g.Sizes = dedupe(g.Sizes, sizeKey)
	g.Sides = sides
	if len(g.Sides) == 0 {
		g.Sides = []domain.OrderSide{domain.OrderSideBuy}
	}
	return g
}

// Len is the number of payloads an arena over this grid holds.
func (g Grid) Len() int {
	return len(domain.Outcomes) * len(g.Sides) * len(g.Prices) * len(g.Sizes)
}

// priceKey discretises a price to 1e-4, below any venue tick.
func priceKey(p float64) int32 {
	return int32(math.Round(p * 1e4))
}

// sizeKey discretises a size to the venue's two-decimal share precision.
func sizeKey(s float64) int64 {
	return int64(math.Round(s * 100))
}

func dedupe[K int32 | int64](vals []float64, key func(float64) K) []float64 {
	slices.Sort(vals)
	return slices.CompactFunc(vals, func(a, b float64) bool { return key(a) == key(b) })
}
