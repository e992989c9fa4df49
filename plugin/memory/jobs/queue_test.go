package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startQueue(t *testing.T, q *Queue) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		q.Start(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return cancel
}

func TestQueueRunsTask(t *testing.T) {
	q := NewQueue(2, 16)
	done := make(chan Task, 1)
	q.Register(KindSummarize, func(_ context.Context, task Task) error {
		done <- task
		return nil
	})
	startQueue(t, q)

	require.True(t, q.Enqueue(Task{Key: "summarize/1", Kind: KindSummarize, SessionID: 1}))
	select {
	case task := <-done:
		require.Equal(t, int32(1), task.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestQueueDedupByKey(t *testing.T) {
	q := NewQueue(1, 16)

	release := make(chan struct{})
	var mu sync.Mutex
	runs := 0
	q.Register(KindSummarize, func(_ context.Context, _ Task) error {
		mu.Lock()
		runs++
		mu.Unlock()
		<-release
		return nil
	})
	startQueue(t, q)

	require.True(t, q.Enqueue(Task{Key: "summarize/1", Kind: KindSummarize}))
	// Same key is dropped while the first is pending.
	require.False(t, q.Enqueue(Task{Key: "summarize/1", Kind: KindSummarize}))
	// A different key is accepted.
	require.True(t, q.Enqueue(Task{Key: "summarize/2", Kind: KindSummarize}))

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Once completed, the key can be enqueued again.
	require.Eventually(t, func() bool {
		return q.Enqueue(Task{Key: "summarize/1", Kind: KindSummarize})
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueDeferredTask(t *testing.T) {
	q := NewQueue(1, 16)
	ran := make(chan time.Time, 1)
	q.Register(KindExtract, func(_ context.Context, _ Task) error {
		ran <- time.Now()
		return nil
	})
	startQueue(t, q)

	enqueued := time.Now()
	require.True(t, q.Enqueue(Task{
		Key:       "extract/1",
		Kind:      KindExtract,
		NotBefore: enqueued.Add(100 * time.Millisecond),
	}))

	select {
	case at := <-ran:
		require.GreaterOrEqual(t, at.Sub(enqueued), 100*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("deferred task never ran")
	}
}

func TestQueueTimerPrunedAfterFire(t *testing.T) {
	q := NewQueue(1, 16)
	ran := make(chan struct{}, 1)
	q.Register(KindExtract, func(_ context.Context, _ Task) error {
		ran <- struct{}{}
		return nil
	})
	startQueue(t, q)

	require.True(t, q.Enqueue(Task{
		Key:       "extract/1",
		Kind:      KindExtract,
		NotBefore: time.Now().Add(20 * time.Millisecond),
	}))
	q.mu.Lock()
	require.Len(t, q.timers, 1)
	q.mu.Unlock()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred task never ran")
	}

	// A fired timer does not linger in the deferral table.
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.timers) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueHandlerErrorDoesNotStick(t *testing.T) {
	q := NewQueue(1, 16)
	runs := make(chan struct{}, 2)
	q.Register(KindBrief, func(_ context.Context, _ Task) error {
		runs <- struct{}{}
		return context.DeadlineExceeded
	})
	startQueue(t, q)

	require.True(t, q.Enqueue(Task{Key: "brief/1", Kind: KindBrief}))
	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}

	// The failed key is released so the next sweep can retry it.
	require.Eventually(t, func() bool {
		return q.Enqueue(Task{Key: "brief/1", Kind: KindBrief})
	}, 2*time.Second, 10*time.Millisecond)
	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("retried task never ran")
	}
}
