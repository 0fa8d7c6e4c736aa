package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func TestManualClock_StandsStill(t *testing.T) {
	clock := NewManualClock(start)
	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(start)

	assert.Equal(t, start.Add(time.Hour), clock.Advance(time.Hour))
	assert.Equal(t, start.Add(time.Hour), clock.Now())
}

func TestManualClock_Set(t *testing.T) {
	clock := NewManualClock(start)
	clock.Advance(time.Hour)

	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}

func TestManualClock_ConcurrentAccess(t *testing.T) {
	clock := NewManualClock(start)

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines * 2)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(goroutines*time.Second), clock.Now())
}
