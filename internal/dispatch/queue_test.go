package dispatch

import (
	"fmt"
	"sync"
	"testing"

	"github.com/0xPuncker/jobkvs/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	assert.True(t, q.IsEmpty())

	_, ok := q.Dequeue()
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		q.Enqueue(types.NewJob("jobs", fmt.Sprintf("%d.job", i)))
	}
	assert.False(t, q.IsEmpty())
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.Remaining())

	for i := 0; i < 3; i++ {
		job, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("%d.job", i), job.Name)
	}

	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 3, q.Remaining())

	// Tail is reset once the queue drains.
	q.Enqueue(types.NewJob("jobs", "again.job"))
	job, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "again.job", job.Name)
}

func TestQueuePollPending(t *testing.T) {
	q := NewQueue()

	_, ok, pending := q.poll()
	assert.False(t, ok)
	assert.False(t, pending)

	q.Enqueue(types.NewJob("jobs", "a.job"))
	job, ok, pending := q.poll()
	require.True(t, ok)
	assert.Equal(t, "a.job", job.Name)
	assert.True(t, pending)

	_, ok, pending = q.poll()
	assert.False(t, ok)
	assert.True(t, pending, "a dequeued job that is not done is still pending")

	q.Done()
	_, ok, pending = q.poll()
	assert.False(t, ok)
	assert.False(t, pending)
}

func TestQueueConcurrentDequeue(t *testing.T) {
	const total = 1000
	q := NewQueue()

	var producers sync.WaitGroup
	for p := 0; p < 4; p++ {
		producers.Add(1)
		go func(p int) {
			defer producers.Done()
			for i := 0; i < total/4; i++ {
				q.Enqueue(types.NewJob("jobs", fmt.Sprintf("%d-%d.job", p, i)))
			}
		}(p)
	}
	producers.Wait()

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok := q.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen[job.Name]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for name, count := range seen {
		assert.Equal(t, 1, count, "job %s dequeued more than once", name)
	}
}
