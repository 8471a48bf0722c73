package clock

import (
	"context"
	"testing"
	"time"
)

func TestRealNowUsesUTC(t *testing.T) {
	now := Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestRealAfterDelivers(t *testing.T) {
	select {
	case <-Real{}.After(5 * time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("After did not trigger within timeout")
	}
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewManual(start)

	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	m.Sleep(2 * time.Second)
	if got := m.Now(); !got.Equal(start.Add(2 * time.Second)) {
		t.Errorf("Sleep did not advance the clock, got %v", got)
	}

	fired := <-m.After(time.Second)
	if !fired.Equal(start.Add(3 * time.Second)) {
		t.Errorf("After delivered %v, want %v", fired, start.Add(3*time.Second))
	}

	m.Advance(-time.Hour)
	if got := m.Now(); !got.Equal(start.Add(3 * time.Second)) {
		t.Errorf("negative advance must be ignored, got %v", got)
	}

	m.Set(start)
	if got := UnixMilli(m); got != start.UnixMilli() {
		t.Errorf("UnixMilli() = %d, want %d", got, start.UnixMilli())
	}
}

func TestSleepContext(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	if err := SleepContext(context.Background(), m, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Now(); !got.Equal(time.Unix(1, 0)) {
		t.Fatalf("manual clock should advance by the sleep, got %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, Real{}, time.Hour); err == nil {
		t.Fatal("expected cancelled context to abort the sleep")
	}
}
