package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeAdvanceFiresTimer(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)
	timer := fc.NewTimer(time.Second)

	fc.Advance(500 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	fc.Advance(500 * time.Millisecond)
	select {
	case got := <-timer.C():
		if !got.Equal(start.Add(time.Second)) {
			t.Errorf("timer fired at %v, want %v", got, start.Add(time.Second))
		}
	default:
		t.Fatal("timer did not fire")
	}
}

func TestFakeStoppedTimerDoesNotFire(t *testing.T) {
	fc := NewFake(time.Now())
	timer := fc.NewTimer(time.Second)
	if !timer.Stop() {
		t.Fatal("Stop() on active timer should return true")
	}
	fc.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestAutoFakeWaitReturnsImmediately(t *testing.T) {
	start := time.Now()
	fc := NewAutoFake(start)

	if err := Wait(context.Background(), fc, time.Second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := Wait(context.Background(), fc, 2*time.Second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	waits := fc.Waits()
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Errorf("Waits() = %v, want [1s 2s]", waits)
	}
	if got := fc.Now().Sub(start); got != 3*time.Second {
		t.Errorf("clock advanced %v, want 3s", got)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	fc := NewFake(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, fc, time.Minute); err != context.Canceled {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestFakeTickerTicksOnAdvance(t *testing.T) {
	fc := NewFake(time.Now())
	ticker := fc.NewTicker(100 * time.Millisecond)
	fc.Advance(100 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not tick")
	}
	ticker.Stop()
	fc.Advance(100 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker ticked")
	default:
	}
}
