package journal

import "sync/atomic"

// clock is the monotonic logical clock that orders journal rows.
//
// Every row gets a strictly increasing seq, so transitions written from
// different lanes still have one total order, and reopening a journal
// continues where the file left off.
type clock struct {
	seq atomic.Int64
}

// newClockAt creates a clock whose next value is start+1.
func newClockAt(start int64) *clock {
	c := &clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *clock) Current() int64 {
	return c.seq.Load()
}
