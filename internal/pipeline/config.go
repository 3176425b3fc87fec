package pipeline

import (
	"errors"
	"fmt"

	"selective-alpha/internal/ml/barrier"
	"selective-alpha/internal/portfolio"
)

var (
	ErrNoInstruments = errors.New("pipeline: no instruments")
	ErrInvalidConfig = errors.New("pipeline: invalid config")
)

// MetaGate is the meta-model probability a selection must exceed.
const MetaGate = 0.5

type Config struct {
	Eps       float64
	Horizon   int
	Splits    int
	Barrier   barrier.Config
	RetThresh float64
	Portfolio portfolio.Options
	// CovLookback is the number of trailing one-bar returns used for the
	// covariance estimate.
	CovLookback int
	VaRAlpha    float64
	Workers     int
}

func DefaultConfig() Config {
	return Config{
		Eps:         0.1,
		Horizon:     5,
		Splits:      5,
		Barrier:     barrier.DefaultConfig(),
		RetThresh:   0.04,
		Portfolio:   portfolio.DefaultOptions(),
		CovLookback: 60,
		VaRAlpha:    0.05,
		Workers:     4,
	}
}

func (c Config) Validate() error {
	switch {
	case !(c.Eps > 0 && c.Eps < 1):
		return fmt.Errorf("%w: eps %.4f outside (0,1)", ErrInvalidConfig, c.Eps)
	case c.Horizon < 1:
		return fmt.Errorf("%w: horizon must be positive", ErrInvalidConfig)
	case c.Splits < 2:
		return fmt.Errorf("%w: need at least 2 splits", ErrInvalidConfig)
	case c.RetThresh < 0:
		return fmt.Errorf("%w: return threshold must be non-negative", ErrInvalidConfig)
	case c.Portfolio.MaxWeight <= 0 || c.Portfolio.MaxWeight > 1:
		return fmt.Errorf("%w: max weight %.4f outside (0,1]", ErrInvalidConfig, c.Portfolio.MaxWeight)
	case c.Portfolio.RiskAversion < 0 || c.Portfolio.TurnoverPenalty < 0:
		return fmt.Errorf("%w: optimizer penalties must be non-negative", ErrInvalidConfig)
	}
	if err := c.Barrier.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
