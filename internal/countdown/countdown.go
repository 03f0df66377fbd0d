// Package countdown derives the remaining time of a session from its absolute
// deadline and fires a single timeout signal when the deadline passes.
//
// Remaining time is recomputed from the wall clock on every tick instead of
// being decremented, so a suspended process or a late ticker cannot make the
// countdown drift.
package countdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Band is a presentation-only severity derived from remaining time.
type Band string

const (
	BandNormal   Band = "normal"
	BandLow      Band = "low"
	BandWarning  Band = "warning"
	BandCritical Band = "critical"
)

const (
	LowThreshold      = 300 * time.Second
	WarningThreshold  = 60 * time.Second
	CriticalThreshold = 30 * time.Second

	DefaultInterval = time.Second
)

// ErrNoDeadline is returned by ParseDeadline for an empty value.
var ErrNoDeadline = errors.New("countdown: deadline missing")

// BandFor maps remaining time onto a severity band.
func BandFor(remaining time.Duration) Band {
	switch {
	case remaining < CriticalThreshold:
		return BandCritical
	case remaining < WarningThreshold:
		return BandWarning
	case remaining < LowThreshold:
		return BandLow
	default:
		return BandNormal
	}
}

// naiveLayouts cover timestamps written without a zone offset. The interview
// API stores UTC without a suffix, so these are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDeadline parses an RFC 3339 timestamp, or a naive ISO-8601 timestamp
// interpreted as UTC.
func ParseDeadline(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrNoDeadline
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("countdown: unparseable deadline %q", raw)
}

// Tick is one observation of the countdown.
type Tick struct {
	Remaining time.Duration `json:"-"`
	Seconds   int           `json:"remaining_seconds"`
	Band      Band          `json:"band"`
	// Neutral is set when the deadline is unknown; Remaining is meaningless.
	Neutral bool `json:"neutral"`
	// Timeout is set only on the observation that tripped the latch.
	Timeout bool `json:"timeout"`
}

// Countdown tracks one deadline. Observe and Run may be called from different
// goroutines; the timeout latch is shared.
type Countdown struct {
	deadline time.Time
	valid    bool
	now      func() time.Time
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	last     time.Duration
	observed bool
	fired    bool
}

// Option configures a Countdown.
type Option func(*Countdown)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Countdown) {
		if now != nil {
			c.now = now
		}
	}
}

// WithInterval sets the tick cadence. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(c *Countdown) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger attaches a logger used to report timer anomalies.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Countdown) {
		c.log = log
	}
}

// New creates a countdown for rawDeadline. A missing or unparseable deadline
// yields a countdown that stays neutral and never times out.
func New(rawDeadline string, opts ...Option) *Countdown {
	c := &Countdown{
		now:      time.Now,
		interval: DefaultInterval,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	deadline, err := ParseDeadline(rawDeadline)
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("deadline", rawDeadline).
			Msg("Timer anomaly: countdown held neutral, timeout disabled")
		return c
	}
	c.deadline = deadline
	c.valid = true
	return c
}

// Valid reports whether the deadline parsed.
func (c *Countdown) Valid() bool {
	return c.valid
}

// Deadline returns the parsed deadline.
func (c *Countdown) Deadline() (time.Time, bool) {
	return c.deadline, c.valid
}

// Fired reports whether the timeout latch has tripped.
func (c *Countdown) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Observe computes the tick for now. Remaining time is rounded up to whole
// seconds and never increases between observations, even if the clock steps
// backwards. The first observation at zero trips the latch; later ones do not.
func (c *Countdown) Observe(now time.Time) Tick {
	if !c.valid {
		return Tick{Band: BandNormal, Neutral: true}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	remaining = ((remaining + time.Second - 1) / time.Second) * time.Second
	if c.observed && remaining > c.last {
		remaining = c.last
	}
	c.last = remaining
	c.observed = true

	tick := Tick{
		Remaining: remaining,
		Seconds:   int(remaining / time.Second),
		Band:      BandFor(remaining),
	}
	if remaining == 0 && !c.fired {
		c.fired = true
		tick.Timeout = true
	}
	return tick
}

// Peek computes remaining time for now without touching the latch or the
// monotonic floor.
func (c *Countdown) Peek(now time.Time) Tick {
	if !c.valid {
		return Tick{Band: BandNormal, Neutral: true}
	}
	remaining := c.deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	remaining = ((remaining + time.Second - 1) / time.Second) * time.Second
	return Tick{
		Remaining: remaining,
		Seconds:   int(remaining / time.Second),
		Band:      BandFor(remaining),
	}
}

// Run emits an observation immediately and then once per interval until the
// latch trips or ctx is cancelled. With an invalid deadline it emits a single
// neutral tick and waits for ctx.
func (c *Countdown) Run(ctx context.Context, emit func(Tick)) {
	if c.Fired() {
		return
	}

	tick := c.Observe(c.now())
	emit(tick)
	if tick.Timeout {
		return
	}
	if !c.valid {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick := c.Observe(c.now())
			emit(tick)
			if tick.Timeout || c.Fired() {
				return
			}
		}
	}
}
