package coordinator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLane_FIFO(t *testing.T) {
	l := newLane()
	for _, tok := range []string{"a", "b", "c"} {
		require.True(t, l.enqueue(newJob(&flow{token: tok})))
	}
	assert.Equal(t, 3, l.len())

	var got []string
	for {
		j, ok := l.tryDequeue()
		if !ok {
			break
		}
		got = append(got, j.flow.token)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Zero(t, l.len())
}

func TestLane_CloseDrainsQueuedJobs(t *testing.T) {
	l := newLane()
	for _, tok := range []string{"a", "b"} {
		require.True(t, l.enqueue(newJob(&flow{token: tok})))
	}
	l.close()
	assert.False(t, l.enqueue(newJob(&flow{token: "late"})))

	var got []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.drain(func(j *job) { got = append(got, j.flow.token) })
	}()
	wg.Wait()
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestLane_SkipsAbandonedJobs(t *testing.T) {
	l := newLane()
	kept, dropped := newJob(&flow{token: "kept"}), newJob(&flow{token: "dropped"})
	require.True(t, l.enqueue(dropped))
	require.True(t, l.enqueue(kept))
	require.True(t, dropped.abandon())
	l.close()

	var got []string
	l.drain(func(j *job) { got = append(got, j.flow.token) })
	assert.Equal(t, []string{"kept"}, got)
	assert.False(t, kept.abandon(), "already claimed by the worker")
}
