package throttle_test

import (
	"sync"
	"testing"
	"time"

	"github.com/steveoberholzer/ShareSync/throttle"
)

func newController() *throttle.Controller {
	return throttle.New(500*time.Millisecond,
		throttle.WithBounds(50*time.Millisecond, 5*time.Second),
		throttle.WithSuccessThreshold(10),
		throttle.WithReductionFactor(0.9),
		throttle.WithThrottleMultiplier(2),
	)
}

func TestReportSuccess_ReducesAfterThreshold(t *testing.T) {
	c := newController()

	for i := 0; i < 9; i++ {
		c.ReportSuccess()
		if got := c.Delay(); got != 500*time.Millisecond {
			t.Fatalf("Delay() after %d successes = %v, want 500ms", i+1, got)
		}
	}

	c.ReportSuccess() // tenth
	if got := c.Delay(); got != 450*time.Millisecond {
		t.Errorf("Delay() after 10 successes = %v, want 450ms", got)
	}
	if got := c.Stats().SuccessStreak; got != 0 {
		t.Errorf("SuccessStreak after reduction = %d, want 0", got)
	}
}

func TestReportThrottling_DoublesAndResetsStreak(t *testing.T) {
	c := newController()

	for i := 0; i < 10; i++ {
		c.ReportSuccess()
	}
	if got := c.Delay(); got != 450*time.Millisecond {
		t.Fatalf("setup: Delay() = %v, want 450ms", got)
	}

	c.ReportThrottling()
	if got := c.Delay(); got != 900*time.Millisecond {
		t.Errorf("Delay() after throttle = %v, want 900ms", got)
	}

	stats := c.Stats()
	if stats.SuccessStreak != 0 {
		t.Errorf("SuccessStreak after throttle = %d, want 0", stats.SuccessStreak)
	}
	if stats.ThrottleCount != 1 {
		t.Errorf("ThrottleCount = %d, want 1", stats.ThrottleCount)
	}
}

func TestDelay_RespectsBounds(t *testing.T) {
	c := newController()

	// Hammer with throttles; the delay must cap at the maximum.
	for i := 0; i < 20; i++ {
		c.ReportThrottling()
	}
	if got := c.Delay(); got != 5*time.Second {
		t.Errorf("Delay() after repeated throttles = %v, want 5s", got)
	}

	// Long success runs floor at the minimum.
	for i := 0; i < 1000; i++ {
		c.ReportSuccess()
	}
	if got := c.Delay(); got < 50*time.Millisecond {
		t.Errorf("Delay() after long success run = %v, below 50ms floor", got)
	}
}

func TestThrottledDelay_IsDoubleCurrent(t *testing.T) {
	c := newController()
	if got, want := c.ThrottledDelay(), 2*c.Delay(); got != want {
		t.Errorf("ThrottledDelay() = %v, want %v", got, want)
	}
}

func TestConcurrentReporters(t *testing.T) {
	c := newController()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if g%2 == 0 {
					c.ReportSuccess()
				} else {
					c.ReportThrottling()
				}
				_ = c.Delay()
			}
		}(g)
	}
	wg.Wait()

	got := c.Delay()
	if got < 50*time.Millisecond || got > 5*time.Second {
		t.Errorf("Delay() = %v, outside [50ms, 5s] after concurrent updates", got)
	}
}
