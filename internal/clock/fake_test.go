package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_NowAndAdvance(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := Fake(start)

	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	later := start.Add(24 * time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestFakeClock_Ticker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	ticker := c.NewTicker(time.Minute)
	assert.Equal(t, 1, c.TickerCount())

	c.Advance(30 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case tick := <-ticker.C:
		assert.Equal(t, start.Add(time.Minute), tick)
	default:
		t.Fatal("ticker did not fire")
	}

	// Missed ticks collapse into the single buffered slot.
	c.Advance(5 * time.Minute)
	require.Len(t, ticker.C, 1)
	<-ticker.C

	ticker.Stop()
	assert.Equal(t, 0, c.TickerCount())
	c.Advance(time.Hour)
	assert.Len(t, ticker.C, 0)
}

func TestFakeClock_NewTickerPanicsOnZero(t *testing.T) {
	c := Fake(time.Now())
	assert.Panics(t, func() { c.NewTicker(0) })
}
