// Package strategy holds the ladder strategies. Each variant answers the
// same three questions: what to rest on the book, what to do when a
// spread window opens, and what to do after a fill.
package strategy

import (
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/ladder"
)

// Config holds strategy configuration.
type Config struct {
	Name        string
	Size        float64 // snipe / entry size in shares
	MaxPosition float64 // per-outcome share cap
	TakeProfit  float64 // fraction over entry
	StopLoss    float64 // fraction under entry
	MinEdge     float64 // minimum 1-combined to snipe
	MinFillProb float64 // advisory veto below this; 0 disables
	ExitLead    time.Duration
	Params      map[string]any
}

// Factory builds a fresh strategy instance for one market.
type Factory func(cfg Config, logger *slog.Logger) ladder.Strategy

func (c Config) size(def float64) float64 {
	if c.Size > 0 {
		return c.Size
	}
	return def
}

func (c Config) maxPosition(def float64) float64 {
	if c.MaxPosition > 0 {
		return c.MaxPosition
	}
	return def
}

func (c Config) floatParam(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}

func (c Config) intParam(key string, def int) int {
	switch v := c.Params[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func floorTick(x, tick float64) float64 {
	return math.Round(math.Floor(x/tick+1e-9)*tick*1e4) / 1e4
}

func ceilTick(x, tick float64) float64 {
	return math.Round(math.Ceil(x/tick-1e-9)*tick*1e4) / 1e4
}

func floorSize(x float64) float64 {
	return math.Floor(x*100+1e-9) / 100
}
