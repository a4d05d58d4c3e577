package timectrl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SimClock is an interface for accessing mission time. Pipeline components
// depend on it rather than on a concrete controller.
type SimClock interface {
	// Now returns the current mission time.
	Now() time.Time
	// After returns a channel that receives the mission time once d has
	// elapsed in mission time.
	After(d time.Duration) <-chan time.Time
}

// Mode describes how the TimeController advances mission time.
type Mode int

const (
	// RealTime waits one Tick of wall-clock time between cycles.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "realtime", "real-time":
		return RealTime, nil
	case "accelerated", "fast":
		return Accelerated, nil
	default:
		return RealTime, fmt.Errorf("unknown time mode %q", s)
	}
}

// CycleFunc is invoked once per capture cycle with the mission time of the
// capture. Cycles are numbered from 1.
type CycleFunc func(ctx context.Context, cycle int, now time.Time)

type pending struct {
	at time.Time
	ch chan time.Time
}

// TimeController paces capture cycles and tracks mission time. It implements
// SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
	timers      []pending
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current mission time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves mission time to t, firing any After timers that become due.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	due := tc.takeDueLocked(t)
	tc.mu.Unlock()

	fire(due, t)
}

// After returns a channel that receives the mission time once it has advanced
// by at least d. Implements SimClock.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	tc.mu.Lock()
	now := tc.currentTime
	if d <= 0 {
		tc.mu.Unlock()
		ch <- now
		return ch
	}
	tc.timers = append(tc.timers, pending{at: now.Add(d), ch: ch})
	tc.mu.Unlock()
	return ch
}

// AddListener registers a callback invoked every time mission time advances.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance steps mission time by one Tick and notifies listeners.
func (tc *TimeController) Advance() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	now := tc.currentTime
	due := tc.takeDueLocked(now)
	listeners := append(([]func(time.Time))(nil), tc.listeners...)
	tc.mu.Unlock()

	fire(due, now)
	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Run invokes fn for cycles capture cycles, or until ctx is cancelled when
// cycles is zero. Between cycles mission time advances by Tick; in RealTime
// mode the controller also waits Tick of wall-clock time. No wait follows the
// last cycle. Run returns ctx.Err() if it stopped because of cancellation.
func (tc *TimeController) Run(ctx context.Context, cycles int, fn CycleFunc) error {
	for cycle := 1; cycles <= 0 || cycle <= cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(ctx, cycle, tc.Now())

		if cycles > 0 && cycle == cycles {
			break
		}
		if err := tc.wait(ctx); err != nil {
			return err
		}
		tc.Advance()
	}
	return nil
}

func (tc *TimeController) wait(ctx context.Context) error {
	if tc.Mode != RealTime || tc.Tick <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(tc.Tick)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (tc *TimeController) takeDueLocked(now time.Time) []pending {
	var due []pending
	kept := tc.timers[:0]
	for _, p := range tc.timers {
		if !p.at.After(now) {
			due = append(due, p)
			continue
		}
		kept = append(kept, p)
	}
	tc.timers = kept
	return due
}

func fire(due []pending, now time.Time) {
	for _, p := range due {
		p.ch <- now
	}
}
