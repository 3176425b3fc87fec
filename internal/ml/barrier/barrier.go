// Package barrier assigns triple-barrier outcome labels to a price path.
package barrier

import (
	"errors"
	"math"

	"selective-alpha/internal/ta"
)

const (
	Up   = 1
	None = 0
	Down = -1
)

type Config struct {
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
	MaxHold    int     `json:"max_hold"`
}

func DefaultConfig() Config {
	return Config{TakeProfit: 0.04, StopLoss: 0.03, MaxHold: 5}
}

func (c Config) Validate() error {
	switch {
	case c.TakeProfit < 0 || math.IsNaN(c.TakeProfit):
		return errors.New("take profit must be non-negative")
	case c.StopLoss < 0 || math.IsNaN(c.StopLoss):
		return errors.New("stop loss must be non-negative")
	case c.MaxHold < 0:
		return errors.New("max hold must be non-negative")
	}
	return nil
}

// Labels returns one label per bar. The forward window of bar i is
// closes[i+1 : min(n, i+1+MaxHold)]; the earlier barrier touch wins and a
// touch of both on the same bar counts as a stop-out. Missing closes are
// forward-filled first.
func Labels(closes []float64, cfg Config) []int {
	out := make([]int, len(closes))
	if len(closes) == 0 || cfg.Validate() != nil {
		return out
	}
	prices := ta.ForwardFill(closes)
	n := len(prices)
	for i := 0; i < n; i++ {
		p := prices[i]
		if math.IsNaN(p) || p <= 0 {
			continue
		}
		upper := p * (1 + cfg.TakeProfit)
		lower := p * (1 - cfg.StopLoss)
		end := i + 1 + cfg.MaxHold
		if end > n {
			end = n
		}
		for j := i + 1; j < end; j++ {
			hitUp := prices[j] >= upper
			hitDown := prices[j] <= lower
			if hitDown {
				out[i] = Down
				break
			}
			if hitUp {
				out[i] = Up
				break
			}
		}
	}
	return out
}

// Distribution counts labels by value.
type Distribution struct {
	Up   int `json:"up"`
	None int `json:"none"`
	Down int `json:"down"`
}

func Count(labels []int) Distribution {
	var d Distribution
	for _, l := range labels {
		switch {
		case l > 0:
			d.Up++
		case l < 0:
			d.Down++
		default:
			d.None++
		}
	}
	return d
}

func (d Distribution) Add(o Distribution) Distribution {
	return Distribution{Up: d.Up + o.Up, None: d.None + o.None, Down: d.Down + o.Down}
}
