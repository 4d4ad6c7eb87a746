package ladder

import (
	"math"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

const sizeEpsilon = 1e-9

// Rung is one planned order.
type Rung struct {
	Outcome domain.Outcome
	Side    domain.OrderSide
	Price   float64
	Size    float64
}

// PlanParams shapes a ladder.
type PlanParams struct {
	Capital float64
	Levels  int
	Spacing float64
	Margin  float64
	Tick    float64
	MinSize float64
	// Reference is the top price per outcome the ladder hangs from. Zero
	// entries fall back to a symmetric split below the ceiling.
	Reference [2]float64
	// Weight scales sizes per outcome; zero means 1.
	Weight [2]float64
}

func (p PlanParams) tick() float64 {
	if p.Tick <= 0 {
		return 0.01
	}
	return p.Tick
}

// floorTick rounds down to the tick grid, tolerating float noise.
func floorTick(x, tick float64) float64 {
	return math.Round(math.Floor(x/tick+1e-9)*tick*1e4) / 1e4
}

func floorSize(x float64) float64 {
	return math.Floor(x*100+1e-9) / 100
}

// Plan computes a paired buy ladder. Level i prices both outcomes
// i*spacing below the reference pair, which is first pushed under
// 1-margin. Every pair therefore costs at most 1-margin per share, and
// each level spends at most capital/levels, so the whole ladder spends
// at most capital.
func Plan(p PlanParams) []Rung {
	if p.Levels <= 0 || p.Capital <= 0 {
		return nil
	}
	tick := p.tick()
	spacing := math.Max(p.Spacing, tick)
	ceiling := 1 - p.Margin

	ref := p.Reference
	if ref[domain.OutcomeUp] <= 0 || ref[domain.OutcomeDown] <= 0 {
		ref = [2]float64{ceiling / 2, ceiling / 2}
	}
	if excess := ref[0] + ref[1] - ceiling; excess > 0 {
		ref[0] -= excess / 2
		ref[1] -= excess / 2
	}
	ref[0], ref[1] = floorTick(ref[0], tick), floorTick(ref[1], tick)
	for ref[0]+ref[1] > ceiling+sizeEpsilon {
		// Tick flooring can leave one tick of excess on odd splits.
		if ref[0] >= ref[1] {
			ref[0] = floorTick(ref[0]-tick, tick)
		} else {
			ref[1] = floorTick(ref[1]-tick, tick)
		}
	}

	weight := p.Weight
	for i := range weight {
		if weight[i] <= 0 {
			weight[i] = 1
		}
	}
	// Budget per level covers the heavier side's pair cost.
	heavier := math.Max(weight[0], weight[1])
	perLevel := p.Capital / float64(p.Levels)

	rungs := make([]Rung, 0, 2*p.Levels)
	for i := 0; i < p.Levels; i++ {
		step := float64(i) * spacing
		up := floorTick(ref[0]-step, tick)
		down := floorTick(ref[1]-step, tick)
		if up < tick || down < tick {
			break
		}
		base := floorSize(perLevel / ((up + down) * heavier))
		if base < p.MinSize || base <= 0 {
			continue
		}
		rungs = append(rungs,
			Rung{Outcome: domain.OutcomeUp, Side: domain.OrderSideBuy, Price: up, Size: floorSize(base * weight[0])},
			Rung{Outcome: domain.OutcomeDown, Side: domain.OrderSideBuy, Price: down, Size: floorSize(base * weight[1])},
		)
	}
	return rungs
}

// Cost sums price*size over buy rungs.
func Cost(rungs []Rung) float64 {
	var c float64
	for _, r := range rungs {
		if r.Side == domain.OrderSideBuy {
			c += r.Price * r.Size
		}
	}
	return c
}

// enforce drops buy rungs that would let some up/down pair cost more
// than 1-margin, then truncates so total buy cost stays within capital.
// A pair at exactly 1-margin is kept. Rungs are considered in order.
func enforce(rungs []Rung, margin, capital float64) []Rung {
	ceiling := 1 - margin
	var maxBuy [2]float64
	for _, r := range rungs {
		if r.Side == domain.OrderSideBuy && r.Price > maxBuy[r.Outcome] {
			maxBuy[r.Outcome] = r.Price
		}
	}
	// Lower the dearer side's cap until the top pair fits.
	limit := maxBuy
	if limit[0] > 0 && limit[1] > 0 {
		for limit[0]+limit[1] > ceiling+sizeEpsilon {
			hi := domain.OutcomeUp
			if limit[1] > limit[0] {
				hi = domain.OutcomeDown
			}
			limit[hi] = nextBelow(rungs, hi, limit[hi])
			if limit[hi] == 0 {
				break
			}
		}
	}

	out := rungs[:0:0]
	var spent float64
	for _, r := range rungs {
		if r.Size <= 0 || r.Price <= 0 || r.Price >= 1 {
			continue
		}
		if r.Side == domain.OrderSideBuy {
			if r.Price > limit[r.Outcome]+sizeEpsilon {
				continue
			}
			if capital > 0 && spent+r.Price*r.Size > capital+sizeEpsilon {
				continue
			}
			spent += r.Price * r.Size
		}
		out = append(out, r)
	}
	return out
}

// nextBelow is the highest buy price on o strictly below p, or 0.
func nextBelow(rungs []Rung, o domain.Outcome, p float64) float64 {
	var best float64
	for _, r := range rungs {
		if r.Side == domain.OrderSideBuy && r.Outcome == o && r.Price < p-sizeEpsilon && r.Price > best {
			best = r.Price
		}
	}
	return best
}
