package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls the delay between OpenVPN restarts.
type BackoffConfig struct {
	Initial    time.Duration // delay before the first restart
	Max        time.Duration // ceiling for the grown delay
	Multiplier float64       // growth per consecutive failure
	JitterPct  float64       // total jitter band as a fraction of the delay; 0.4 is ±20%
}

// DefaultBackoffConfig starts at 1s and doubles up to a minute, with ±20%
// jitter so a fleet of clients does not reconnect to a server in lockstep.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
		JitterPct:  0.4,
	}
}

// Backoff hands out restart delays for consecutive failures.
// A Backoff is owned by one supervisor and is not safe for concurrent use.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff returns a Backoff whose jitter sequence is fixed by seed.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// NewBackoffFromTime returns a Backoff seeded from the wall clock.
func NewBackoffFromTime(cfg BackoffConfig) *Backoff {
	return NewBackoff(time.Now().UnixNano(), cfg)
}

// Next returns the delay for the current failure and counts it.
func (b *Backoff) Next() time.Duration {
	d := b.Calculate()
	b.attempts++
	return d
}

// Calculate returns the delay Next would return, without counting it.
// Each call draws fresh jitter.
func (b *Backoff) Calculate() time.Duration {
	base := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))
	base = math.Min(base, float64(b.config.Max))

	if band := base * b.config.JitterPct; band > 0 {
		base += band * (b.rng.Float64() - 0.5)
	}
	return time.Duration(math.Max(base, 0))
}

// Reset forgets previous failures.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts is the number of failures counted since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// BackoffResetThreshold is how long a session must stay up before its
// exit is treated as a fresh failure rather than another one in a row.
const BackoffResetThreshold = 60 * time.Second

// ShouldReset reports whether the delay should drop back to Initial
// after a session that ran for uptime and exited with exitCode. A clean
// exit resets; so does any exit from a session that outlived the
// threshold. A short-lived session killed by a signal (128+n, such as
// 138 for SIGUSR1 or 143 for SIGTERM) keeps growing the delay.
func ShouldReset(uptime time.Duration, exitCode int) bool {
	return exitCode == 0 || uptime >= BackoffResetThreshold
}
