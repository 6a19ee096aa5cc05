package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueSingleWorkerPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})
	q := NewQueue("events", func(_ context.Context, job Job) error {
		mu.Lock()
		seen = append(seen, job.Type)
		if len(seen) == 3 {
			close(done)
		}
		mu.Unlock()
		assert.NotEmpty(t, job.ID)
		return nil
	}, QueueConfig{Workers: 1})

	require.Error(t, q.Enqueue(Job{Type: "early"}))

	q.Start(context.Background())
	defer q.Stop()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Job{Type: name}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not processed")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestQueueRetriesFailedJob(t *testing.T) {
	var attempts int32
	done := make(chan struct{})
	q := NewQueue("retry", func(_ context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: 10 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "flaky"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestQueueRetryKeepsOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	failed := false
	done := make(chan struct{})
	q := NewQueue("ordered", func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		if job.Type == "a" && !failed {
			failed = true
			return errors.New("transient")
		}
		seen = append(seen, job.Type)
		if len(seen) == 2 {
			close(done)
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: 10 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "a"}))
	require.NoError(t, q.Enqueue(Job{Type: "b"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not processed")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestQueueReportsDroppedJob(t *testing.T) {
	dropped := make(chan Job, 1)
	q := NewQueue("drop", func(context.Context, Job) error {
		return errors.New("permanent")
	}, QueueConfig{Workers: 1, RetryDelay: time.Millisecond, OnDrop: func(job Job, err error) {
		assert.EqualError(t, err, "permanent")
		dropped <- job
	}})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "session.updated"}))
	select {
	case job := <-dropped:
		assert.Equal(t, "session.updated", job.Type)
		assert.Equal(t, 1, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("drop not reported")
	}
}

func TestSchedulerRegister(t *testing.T) {
	s := NewScheduler(nil)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, "resync", "@every 1h", func(context.Context) error { return nil }))
	assert.Error(t, s.Register(ctx, "broken", "not a spec", func(context.Context) error { return nil }))
	assert.Equal(t, 1, s.Entries())
	s.Start()
	s.Stop()
}
