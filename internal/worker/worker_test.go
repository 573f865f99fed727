package worker_test

import (
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/callrelay/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_HandlesTasksInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	w := worker.Start(worker.Config[int]{
		ChannelSize: 16,
		OnTask: func(n int) {
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
		},
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Send(i))
	}
	w.Stop()
	<-w.Done()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
}

func TestWorker_SendAfterStop(t *testing.T) {
	w := worker.Start(worker.Config[struct{}]{ChannelSize: 1, OnTask: func(struct{}) {}})
	w.Stop()
	w.Stop()

	assert.ErrorIs(t, w.Send(struct{}{}), worker.ErrWorkerClosed)
}

func TestWorker_TooBusy(t *testing.T) {
	block := make(chan struct{})
	w := worker.Start(worker.Config[int]{
		ChannelSize: 1,
		OnTask:      func(int) { <-block },
	})
	defer func() {
		close(block)
		w.Stop()
	}()

	require.NoError(t, w.Send(1))
	// wait for the first task to be picked up so the buffer is empty again
	require.Eventually(t, func() bool { return w.Send(2) == nil }, time.Second, time.Millisecond)
	assert.ErrorIs(t, w.Send(3), worker.ErrWorkerTooBusy)
}

func TestWorker_OnStop(t *testing.T) {
	stopped := make(chan struct{})
	w := worker.Start(worker.Config[int]{
		ChannelSize: 1,
		OnTask:      func(int) {},
		OnStop:      func() { close(stopped) },
	})
	w.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("OnStop was not called")
	}
}

func BenchmarkWorker_Send(b *testing.B) {
	w := worker.Start(worker.Config[struct{}]{ChannelSize: 1024, OnTask: func(struct{}) {}})
	for n := 0; n < b.N; n++ {
		_ = w.Send(struct{}{})
	}
	w.Stop()
}
