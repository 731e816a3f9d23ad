package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestRealClock_NowAndSince(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v, expected >= %v", now, before)
	}
	if d := clock.Since(time.Now().Add(-time.Second)); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_NewTimer(t *testing.T) {
	timer := RealClock{}.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Error("timer did not fire")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(200 * time.Millisecond)
	clock.Sleep(300 * time.Millisecond)

	if got, want := clock.Now(), start.Add(500*time.Millisecond); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 200*time.Millisecond || sleeps[1] != 300*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockClock_TimerFiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	timer := clock.NewTimer(time.Minute)

	clock.Advance(30 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}
	if clock.PendingTimers() != 1 {
		t.Errorf("PendingTimers() = %d, want 1", clock.PendingTimers())
	}

	clock.Advance(30 * time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at deadline")
	}
	if clock.PendingTimers() != 0 {
		t.Errorf("PendingTimers() = %d, want 0", clock.PendingTimers())
	}
}

func TestMockTimer_StopAndReset(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop() on active timer should return true")
	}
	clock.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}

	timer.Reset(time.Second)
	clock.Advance(time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("reset timer did not fire")
	}
}

func TestMockTicker_FiresPeriodically(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		select {
		case <-ticker.C():
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTicker_Trigger(t *testing.T) {
	clock := NewMockClock(time.Time{})
	ticker := clock.NewTicker(time.Hour).(*MockTicker)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ticker.Trigger(at)

	select {
	case got := <-ticker.C():
		if !got.Equal(at) {
			t.Errorf("got %v, want %v", got, at)
		}
	default:
		t.Fatal("Trigger did not deliver")
	}
}

func TestSleepContext(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	if err := SleepContext(context.Background(), clock, time.Second); err != nil {
		t.Fatalf("SleepContext: %v", err)
	}
	if len(clock.Sleeps()) != 1 {
		t.Errorf("expected one recorded sleep, got %v", clock.Sleeps())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, RealClock{}, time.Hour); err != context.Canceled {
		t.Errorf("SleepContext on cancelled ctx = %v, want context.Canceled", err)
	}
}
