package timectrl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestRunAcceleratedStepsByTick(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, Accelerated)

	var seen []time.Time
	var cycles []int
	err := tc.Run(context.Background(), 5, func(_ context.Context, cycle int, now time.Time) {
		cycles = append(cycles, cycle)
		seen = append(seen, now)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 5 {
		t.Fatalf("Run invoked fn %d times, want 5", len(seen))
	}
	for i, ts := range seen {
		if want := start.Add(time.Duration(i) * time.Second); !ts.Equal(want) {
			t.Fatalf("cycle %d time = %v, want %v", cycles[i], ts, want)
		}
		if cycles[i] != i+1 {
			t.Fatalf("cycle number = %d, want %d", cycles[i], i+1)
		}
	}
	// no trailing advance after the last cycle
	if got, want := tc.Now(), start.Add(4*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Run = %v, want %v", got, want)
	}
}

func TestRunRealTimeWaitsBetweenCycles(t *testing.T) {
	tc := NewTimeController(time.Now(), 10*time.Millisecond, RealTime)

	began := time.Now()
	if err := tc.Run(context.Background(), 3, func(context.Context, int, time.Time) {}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(began); elapsed < 20*time.Millisecond {
		t.Fatalf("Run took %v, want at least two 10ms waits", elapsed)
	}
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Millisecond, RealTime)
	ctx, cancel := context.WithCancel(context.Background())

	count := 0
	err := tc.Run(ctx, 0, func(context.Context, int, time.Time) {
		count++
		if count == 3 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if count != 3 {
		t.Fatalf("fn invoked %d times, want 3", count)
	}
}

func TestAfterFiresWhenMissionTimeAdvances(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, Accelerated)

	ch := tc.After(2 * time.Second)
	tc.Advance()
	select {
	case <-ch:
		t.Fatalf("After fired before its deadline")
	default:
	}
	tc.Advance()
	select {
	case got := <-ch:
		if want := start.Add(2 * time.Second); !got.Equal(want) {
			t.Fatalf("After delivered %v, want %v", got, want)
		}
	default:
		t.Fatalf("After did not fire at its deadline")
	}

	immediate := tc.After(0)
	if got := <-immediate; !got.Equal(tc.Now()) {
		t.Fatalf("After(0) delivered %v, want %v", got, tc.Now())
	}
}

func TestListenersObserveAdvance(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Minute, Accelerated)

	var mu sync.Mutex
	var ticks []time.Time
	tc.AddListener(func(now time.Time) {
		mu.Lock()
		defer mu.Unlock()
		ticks = append(ticks, now)
	})
	if err := tc.Run(context.Background(), 3, func(context.Context, int, time.Time) {}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("listener saw %d ticks, want 2", len(ticks))
	}
	if want := start.Add(2 * time.Minute); !ticks[1].Equal(want) {
		t.Fatalf("last tick = %v, want %v", ticks[1], want)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": RealTime, "realtime": RealTime, "Accelerated": Accelerated, "fast": Accelerated}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("warp"); err == nil {
		t.Fatalf("ParseMode accepted unknown mode")
	}
}
