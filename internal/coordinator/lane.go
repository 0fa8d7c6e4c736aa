package coordinator

import (
	"sync"
	"sync/atomic"
)

// Job claim states. A job is claimed exactly once: by the lane worker when it
// reaches the head, or by its submitter when the caller gives up first.
const (
	jobPending int32 = iota
	jobRunning
	jobAbandoned
)

// job is one submitted flow waiting for its lane.
type job struct {
	flow  *flow
	claim atomic.Int32
	done  chan struct{}
}

func newJob(f *flow) *job {
	return &job{flow: f, done: make(chan struct{})}
}

// start claims the job for the worker. False means the submitter abandoned it.
func (j *job) start() bool {
	return j.claim.CompareAndSwap(jobPending, jobRunning)
}

// abandon claims the job for the submitter. False means the worker already
// started it and the submitter must wait for done.
func (j *job) abandon() bool {
	return j.claim.CompareAndSwap(jobPending, jobAbandoned)
}

// lane is the FIFO of flows for one user. Only the head flow may hold a
// debit against that user's balance.
//
// The queue is unbounded: submitters block on their own job, not on the
// lane. A single worker goroutine drains it.
type lane struct {
	mu     sync.Mutex
	jobs   []*job
	closed bool
	signal chan struct{} // buffered, size 1
}

func newLane() *lane {
	return &lane{
		jobs:   make([]*job, 0, 4),
		signal: make(chan struct{}, 1),
	}
}

// enqueue adds a job to the back of the lane. False if the lane is closed.
func (l *lane) enqueue(j *job) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.jobs = append(l.jobs, j)

	// Coalesce: one pending signal is enough to wake the worker.
	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue pops the head job without blocking.
func (l *lane) tryDequeue() (*job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.jobs) == 0 {
		return nil, false
	}
	j := l.jobs[0]
	l.jobs[0] = nil
	if len(l.jobs) == 1 {
		l.jobs = l.jobs[:0]
	} else {
		l.jobs = l.jobs[1:]
	}
	return j, true
}

// wait signals that jobs may be available. It is closed by close.
func (l *lane) wait() <-chan struct{} {
	return l.signal
}

func (l *lane) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

// close refuses further jobs and wakes the worker. Jobs already queued still
// run.
func (l *lane) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.signal)
}

// drain runs jobs in order until the lane is closed and empty.
func (l *lane) drain(run func(*job)) {
	for {
		if j, ok := l.tryDequeue(); ok {
			if j.start() {
				run(j)
			}
			continue
		}
		if _, open := <-l.wait(); !open {
			for {
				j, ok := l.tryDequeue()
				if !ok {
					return
				}
				if j.start() {
					run(j)
				}
			}
		}
	}
}
