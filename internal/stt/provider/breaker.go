package provider

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerConfig holds circuit breaker tuning parameters
type BreakerConfig struct {
	Window      time.Duration // sliding window for the failure rate
	MinSamples  int           // calls required before the rate is meaningful
	FailureRate float64       // open threshold, 0..1
	Cooldown    time.Duration // open duration before a half-open probe
}

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

type outcome struct {
	at time.Time
	ok bool
}

// Breaker is a sliding-window circuit breaker around the provider. While open
// it refuses calls immediately so pipeline ticks stay cheap; after the
// cooldown a single probe decides whether to close again.
type Breaker struct {
	config BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    breakerState
	outcomes []outcome
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a circuit breaker
func NewBreaker(config BreakerConfig, logger *slog.Logger) *Breaker {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 10
	}
	if config.FailureRate <= 0 {
		config.FailureRate = 0.5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &Breaker{
		config: config,
		logger: logger,
	}
}

// Allow reports whether a call may proceed right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.openedAt) < b.config.Cooldown {
			return false
		}
		b.state = stateHalfOpen
		b.probing = false
		fallthrough
	case stateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Record feeds one call outcome into the window and drives state changes.
func (b *Breaker) Record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	if b.state == stateHalfOpen {
		b.probing = false
		if ok {
			b.state = stateClosed
			b.outcomes = nil
			b.logger.Info("Provider circuit closed after successful probe")
		} else {
			b.state = stateOpen
			b.openedAt = now
			b.logger.Warn("Provider circuit re-opened after failed probe")
		}
		return
	}

	b.outcomes = append(b.outcomes, outcome{at: now, ok: ok})
	b.trim(now)

	if b.state == stateClosed && b.shouldOpen() {
		b.state = stateOpen
		b.openedAt = now
		b.logger.Warn("Provider circuit opened",
			slog.Int("samples", len(b.outcomes)),
			slog.Float64("threshold", b.config.FailureRate),
		)
	}
}

func (b *Breaker) trim(now time.Time) {
	cutoff := now.Add(-b.config.Window)
	i := 0
	for i < len(b.outcomes) && b.outcomes[i].at.Before(cutoff) {
		i++
	}
	b.outcomes = b.outcomes[i:]
}

func (b *Breaker) shouldOpen() bool {
	if len(b.outcomes) < b.config.MinSamples {
		return false
	}

	failures := 0
	for _, o := range b.outcomes {
		if !o.ok {
			failures++
		}
	}
	return float64(failures)/float64(len(b.outcomes)) >= b.config.FailureRate
}

// Open reports whether the breaker is currently refusing calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && time.Since(b.openedAt) < b.config.Cooldown
}
