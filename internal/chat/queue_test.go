package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/m10chat/internal/types"
)

func TestQueueConcurrency(t *testing.T) {
	var running int32
	var maxSeen int32

	queue := NewQueue(2, func(job *Job) error {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})
	queue.Start(context.Background())
	defer queue.Stop()

	for i := 0; i < 5; i++ {
		job := &Job{Origin: types.Origin(fmt.Sprintf("origin-%d", i)), Text: "hi"}
		if err := queue.Enqueue(job); err != nil {
			t.Fatal(err)
		}
	}

	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue did not drain")
	}
	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestQueueSerializesAcrossOrigins(t *testing.T) {
	var mu sync.Mutex
	var order []string

	queue := NewQueue(1, func(job *Job) error {
		mu.Lock()
		order = append(order, job.Text)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	queue.Start(context.Background())
	defer queue.Stop()

	for i := 0; i < 3; i++ {
		if err := queue.Enqueue(&Job{Origin: types.OriginLocal, Text: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}

	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != fmt.Sprint(i) {
			t.Errorf("expected order[%d] = %d, got %s", i, i, v)
		}
	}
}

func TestQueueJobGetsContext(t *testing.T) {
	got := make(chan context.Context, 1)
	queue := NewQueue(1, func(job *Job) error {
		got <- job.Ctx
		return nil
	})
	queue.Start(context.Background())
	defer queue.Stop()

	if err := queue.Enqueue(&Job{Origin: types.OriginRelay}); err != nil {
		t.Fatal(err)
	}
	select {
	case ctx := <-got:
		if ctx == nil {
			t.Error("expected job context to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("job not processed")
	}
}

func TestQueueEnqueueAfterStop(t *testing.T) {
	queue := NewQueue(1, func(*Job) error { return nil })
	queue.Start(context.Background())
	queue.Stop()
	queue.Stop()

	if err := queue.Enqueue(&Job{Origin: types.OriginLocal}); err != ErrQueueClosed {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}
