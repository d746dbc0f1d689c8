package hci

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rigado/btcontrol/worker"
)

// ScanRequest describes one discovery run.
type ScanRequest struct {
	LowEnergy bool
	Duration  time.Duration
	Limited   bool
	Passive   bool
}

// ScanJob runs at most one scan at a time on a worker pool. Load while a scan
// is queued or running is rejected, so a burst of requests yields one scan and
// one completion.
type ScanJob struct {
	pool *worker.Pool
	run  func(ScanRequest)
	done func(ScanRequest)

	inflight int32

	mu     sync.Mutex
	req    ScanRequest
	ticket *worker.Ticket
}

// NewScanJob returns a job executing run, then calling done, per accepted
// Load.
func NewScanJob(pool *worker.Pool, run, done func(ScanRequest)) *ScanJob {
	return &ScanJob{pool: pool, run: run, done: done}
}

// Load records req and queues the job. It reports false when a scan is
// already in flight.
func (j *ScanJob) Load(req ScanRequest) bool {
	if !atomic.CompareAndSwapInt32(&j.inflight, 0, 1) {
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.req = req
	j.ticket = j.pool.Submit(j.dispatch)
	select {
	case <-j.ticket.Done():
		// pool closed
		if !j.ticket.Ran() {
			atomic.StoreInt32(&j.inflight, 0)
			return false
		}
	default:
	}
	return true
}

// InFlight reports whether a scan is queued or running.
func (j *ScanJob) InFlight() bool {
	return atomic.LoadInt32(&j.inflight) == 1
}

// Revoke drops a queued scan, or waits for a running one to return.
func (j *ScanJob) Revoke() {
	j.mu.Lock()
	t := j.ticket
	j.mu.Unlock()
	if t == nil {
		return
	}
	if j.pool.Revoke(t) {
		atomic.StoreInt32(&j.inflight, 0)
		return
	}
	<-t.Done()
}

func (j *ScanJob) dispatch() {
	j.mu.Lock()
	req := j.req
	j.mu.Unlock()

	j.run(req)
	atomic.StoreInt32(&j.inflight, 0)
	if j.done != nil {
		j.done(req)
	}
}
