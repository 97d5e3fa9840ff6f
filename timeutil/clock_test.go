package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	ch := c.After(2 * time.Second)
	assert.Equal(t, 1, c.Waiters())

	c.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}
	assert.Equal(t, time.Second, c.Since(start))

	c.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(2*time.Second), got)
	default:
		t.Fatal("did not fire")
	}
	assert.Zero(t, c.Waiters())
}

func TestMockClockAfterZero(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := c.Now()
	assert.GreaterOrEqual(t, c.Since(before), time.Duration(0))
}
