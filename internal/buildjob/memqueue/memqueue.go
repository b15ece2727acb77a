// Package memqueue is an in-memory FIFO implementation of
// buildjob.JobSource: a slice of pending jobs plus a set of in-flight
// job IDs, guarded by one mutex. It is scaffolding for exercising the
// distribution core in tests and demos, not a real dependency-graph
// scheduler (spec.md §1 Non-goals). Grounded on the teacher's
// master/queue/set.go Set[T], generalized into a small ordered-set-backed
// queue.
package memqueue

import (
	"sync"

	"github.com/InSimo/fastbuild/internal/buildjob"
)

type set[T comparable] struct {
	items map[T]struct{}
}

func newSet[T comparable]() set[T] {
	return set[T]{items: make(map[T]struct{})}
}

func (s *set[T]) add(item T)      { s.items[item] = struct{}{} }
func (s *set[T]) remove(item T)   { delete(s.items, item) }
func (s *set[T]) contains(item T) bool {
	_, ok := s.items[item]
	return ok
}
func (s *set[T]) len() int { return len(s.items) }

// Queue is a FIFO of pending jobs with a record of which job IDs are
// currently in flight (sent to a worker but not yet resolved).
type Queue struct {
	mu        sync.Mutex
	pending   []buildjob.Job
	inFlight  set[uint64]
}

// New builds an empty Queue.
func New() *Queue {
	return &Queue{inFlight: newSet[uint64]()}
}

// Submit adds a job to the back of the pending queue.
func (q *Queue) Submit(job buildjob.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
}

// NextDistributableJob pops the front of the queue, or returns nil.
func (q *Queue) NextDistributableJob() buildjob.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	job.SetDistributionState(buildjob.Sent)
	q.inFlight.add(job.JobID())
	return job
}

// StillWanted reports whether job is still tracked as in flight; a job
// that was requeued or completed by another path in the meantime (e.g.
// raced locally) is no longer wanted.
func (q *Queue) StillWanted(job buildjob.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight.contains(job.JobID())
}

// NumDistributableJobsAvailable is the count of jobs waiting to be sent.
func (q *Queue) NumDistributableJobsAvailable() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return uint32(len(q.pending))
}

// Requeue returns job to the front of the pending queue.
func (q *Queue) Requeue(job buildjob.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight.remove(job.JobID())
	job.SetDistributionState(buildjob.NotDistributed)
	q.pending = append([]buildjob.Job{job}, q.pending...)
}

// MarkSystemError increments the job's system-error count and requeues
// it, matching the core's retry-on-system-error policy (spec.md §4.E).
func (q *Queue) MarkSystemError(job buildjob.Job) {
	job.IncrementSystemErrorCount()
	q.Requeue(job)
}

// Complete removes job from in-flight tracking. success is recorded by
// the caller (e.g. internal/ledger); the queue itself only needs to
// know the job is no longer outstanding.
func (q *Queue) Complete(job buildjob.Job, success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight.remove(job.JobID())
}

// NumInFlight reports how many jobs are currently sent but unresolved.
func (q *Queue) NumInFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight.len()
}

var _ buildjob.JobSource = (*Queue)(nil)
