package services

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"deploy-keeper/internal/models"
)

// Backoff returns the delay to sleep after the given failed attempt (1-based).
// Implementations are monotonically non-decreasing in attempt.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same interval after every attempt.
type FixedBackoff struct {
	Interval time.Duration
}

func (b FixedBackoff) Delay(attempt int) time.Duration {
	return b.Interval
}

// LinearBackoff waits Step*attempt, capped at Max when Max is set.
type LinearBackoff struct {
	Step time.Duration
	Max  time.Duration
}

func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Step * time.Duration(attempt)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

/**
 * ExponentialBackoff doubles the delay after each attempt up to Max
 * @description
 * - Delay(1) == Initial, Delay(n) == min(Initial*Multiplier^(n-1), Max)
 * - Computed with cenkalti/backoff without randomization, so it stays monotonic
 */
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.RandomizationFactor = 0
	eb.Multiplier = b.Multiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 2
	}
	eb.MaxInterval = b.Max
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = time.Duration(1<<62 - 1)
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	d := eb.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	return d
}

// NewBackoff builds the delay function a plan asks for. Unknown kinds fall back to fixed.
func NewBackoff(spec models.BackoffSpec) Backoff {
	switch spec.Kind {
	case "linear":
		return LinearBackoff{Step: spec.Delay, Max: spec.Max}
	case "exponential":
		return ExponentialBackoff{Initial: spec.Delay, Max: spec.Max, Multiplier: 2}
	default:
		return FixedBackoff{Interval: spec.Delay}
	}
}
