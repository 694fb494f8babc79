package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/taskbus/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second}, // clamped to attempt 1
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(20); got != 10*time.Second {
		t.Errorf("Delay(20) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)

	for attempt := 1; attempt <= 10; attempt++ {
		for range 50 {
			d := e.Delay(attempt)
			if d < 0 || d > 10*time.Second {
				t.Fatalf("Delay(%d) = %v, out of [0, 10s]", attempt, d)
			}
		}
	}
}

func TestStrategyFunc(t *testing.T) {
	s := backoff.StrategyFunc(func(attempt int) time.Duration {
		return time.Duration(attempt) * time.Millisecond
	})
	if got := s.Delay(3); got != 3*time.Millisecond {
		t.Errorf("Delay(3) = %v, want 3ms", got)
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if s == nil {
		t.Fatal("DefaultStrategy() returned nil")
	}
	for attempt := 1; attempt <= 20; attempt++ {
		if d := s.Delay(attempt); d < 0 || d > 5*time.Second {
			t.Errorf("Delay(%d) = %v, out of [0, 5s]", attempt, d)
		}
	}
}
