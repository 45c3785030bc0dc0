package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/m10chat/internal/types"
)

// ErrQueueClosed is returned by Enqueue after Stop.
var ErrQueueClosed = errors.New("send queue closed")

const laneBuffer = 100

// Job is one message waiting for a reply.
type Job struct {
	Origin  types.Origin
	Text    string
	Session *types.Session
	Ctx     context.Context
}

// Queue runs jobs on per-origin FIFO lanes. A global semaphore bounds how
// many lanes process at once; with a limit of 1 every job runs in enqueue
// order.
type Queue struct {
	lanes     map[types.Origin]chan *Job
	semaphore *semaphore.Weighted
	processor func(*Job) error
	pending   atomic.Int64
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that allows up to maxConcurrent jobs to execute
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64, processor func(*Job) error) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.Origin]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		processor: processor,
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes and waits for in-flight
// jobs to finish. Jobs still queued are dropped.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a job to its origin's lane, creating the lane (and its
// goroutine) on first use.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.ctx == nil {
		return ErrQueueClosed
	}

	lane, exists := q.lanes[job.Origin]
	if !exists {
		lane = make(chan *Job, laneBuffer)
		q.lanes[job.Origin] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	q.pending.Add(1)
	select {
	case lane <- job:
		return nil
	default:
		q.pending.Add(-1)
		return fmt.Errorf("queue full for origin %s", job.Origin)
	}
}

func (q *Queue) processLane(lane chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			q.run(job)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) run(job *Job) {
	defer q.pending.Add(-1)

	if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
		return
	}
	defer q.semaphore.Release(1)

	job.Ctx = q.ctx
	if err := q.processor(job); err != nil {
		slog.Error("reply job failed", "origin", string(job.Origin), "error", err)
	}
}

// WaitIdle blocks until no jobs are queued or running, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
