// Package queue carries notification jobs from the write pipeline to the
// fanout workers. A job references a persisted comment by id only; the
// worker re-reads current state, so a job stays valid however late it is
// processed.
package queue

import (
	"errors"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("notification queue full")
var ErrQueueClosed = errors.New("notification queue closed")

type Job struct {
	ID         string
	CommentID  int64
	EnqueuedAt time.Time
}

// Queue's jobs channel is never closed; shutdown is signalled through done
// only, so an Enqueue racing Close can fail but never panic.
type Queue struct {
	jobs      chan Job
	done      chan struct{}
	closeOnce sync.Once
}

func New(size int) *Queue {
	if size <= 0 {
		size = 128
	}
	return &Queue{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
	}
}

// Enqueue never blocks the caller: a full queue is reported as an error so
// the write pipeline can log the delivery risk and move on.
func (q *Queue) Enqueue(job Job) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	default:
		return ErrQueueFull
	}
}

func (q *Queue) Jobs() <-chan Job {
	return q.jobs
}

// Done is closed when the queue stops accepting jobs.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close stops accepting jobs. Workers drain what was already queued.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
