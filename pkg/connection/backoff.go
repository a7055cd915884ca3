package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff constants for the log stream reconnection policy.
const (
	// InitialBackoff is the undamped delay for the first reconnection attempt.
	InitialBackoff = 1 * time.Second

	// MaxBackoff caps the undamped delay.
	MaxBackoff = 30 * time.Second

	// BackoffMultiplier is the growth factor between attempts.
	BackoffMultiplier = 1.5

	// MinJitter and MaxJitter bound the multiplicative jitter applied to the base delay.
	MinJitter = 0.85
	MaxJitter = 1.15

	// DefaultMaxAttempts is the reconnection budget before giving up.
	DefaultMaxAttempts = 10
)

// BackoffPolicy computes reconnection delays from an attempt number.
// It holds no state: the attempt counter lives in the Manager.
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MinJitter  float64
	MaxJitter  float64
}

// DefaultBackoffPolicy returns the policy used by the log stream.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		MinJitter:  MinJitter,
		MaxJitter:  MaxJitter,
	}
}

// withDefaults fills zero or invalid fields with the package defaults.
func (p BackoffPolicy) withDefaults() BackoffPolicy {
	if p.Initial <= 0 {
		p.Initial = InitialBackoff
	}
	if p.Max <= 0 {
		p.Max = MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = BackoffMultiplier
	}
	if p.MinJitter <= 0 && p.MaxJitter <= 0 {
		p.MinJitter, p.MaxJitter = MinJitter, MaxJitter
	}
	if p.MaxJitter < p.MinJitter {
		p.MinJitter, p.MaxJitter = p.MaxJitter, p.MinJitter
	}
	return p
}

// BaseDelay returns the undamped delay for attempt: min(Max, Initial*Multiplier^attempt).
func (p BackoffPolicy) BaseDelay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	if math.IsInf(base, 0) || base > float64(p.Max) {
		return p.Max
	}
	return time.Duration(base)
}

// Delay returns the jittered delay for attempt, floored to whole milliseconds.
// sample must be in [0, 1) and selects the jitter factor linearly between
// MinJitter and MaxJitter.
func (p BackoffPolicy) Delay(attempt int, sample float64) time.Duration {
	p = p.withDefaults()
	sample = math.Min(math.Max(sample, 0), 1)

	factor := p.MinJitter + sample*(p.MaxJitter-p.MinJitter)
	ms := math.Floor(float64(p.BaseDelay(attempt)) * factor / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

// NextDelay returns the jittered delay for attempt using a random jitter sample.
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	return p.Delay(attempt, rand.Float64())
}

// BackoffSequence returns the undamped delays of the default policy for the
// first n attempts.
func BackoffSequence(n int) []time.Duration {
	p := DefaultBackoffPolicy()
	seq := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		seq = append(seq, p.BaseDelay(i))
	}
	return seq
}
