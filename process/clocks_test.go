package process_test

import (
	"testing"

	"github.com/coldharbor/ntwine/process"
)

func TestClocksAdvanceMovesWallAndPerformanceCounterTogether(t *testing.T) {
	c := process.NewClocks(1700000000, 0, 10000000)
	start := c.SystemTime100ns()
	startTicks := c.PerformanceCounter()

	c.Advance(20000000) // 2 seconds of NT ticks

	if got := c.SystemTime100ns() - start; got != 20000000 {
		t.Errorf("SystemTime100ns delta = %d, want 20000000", got)
	}
	if got := c.PerformanceCounter() - startTicks; got != 20000000 {
		t.Errorf("PerformanceCounter delta = %d, want 20000000 ticks at 10MHz for 2s", got)
	}
}

func TestClocksTickCount64TracksMilliseconds(t *testing.T) {
	c := process.NewClocks(0, 0, 10000000)
	c.Advance(10000) // 1ms of 100ns ticks
	if got := c.TickCount64(); got != 1 {
		t.Errorf("TickCount64() = %d, want 1", got)
	}
}

func TestClocksDefaultsFrequencyWhenZero(t *testing.T) {
	c := process.NewClocks(0, 0, 0)
	if c.PerformanceFrequency() != 10000000 {
		t.Errorf("PerformanceFrequency() = %d, want default 10MHz", c.PerformanceFrequency())
	}
}
