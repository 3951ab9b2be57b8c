package dispatch

import (
	"sync"

	"github.com/0xPuncker/jobkvs/pkg/types"
)

type queueNode struct {
	job  *types.Job
	next *queueNode
}

// Queue is a FIFO of jobs. One mutex guards the list and the count of jobs
// that were enqueued but have not finished yet.
type Queue struct {
	mu        sync.Mutex
	head      *queueNode
	tail      *queueNode
	length    int
	remaining int
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends job to the tail and counts it as remaining work.
func (q *Queue) Enqueue(job *types.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := &queueNode{job: job}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.length++
	q.remaining++
}

// Dequeue removes and returns the head job, or false when the queue is empty.
func (q *Queue) Dequeue() (*types.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueLocked()
}

func (q *Queue) dequeueLocked() (*types.Job, bool) {
	n := q.head
	if n == nil {
		return nil, false
	}

	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.length--
	return n.job, true
}

// poll dequeues the head job. When there is none it reports whether any
// dequeued job is still being processed.
func (q *Queue) poll() (job *types.Job, ok bool, pending bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok = q.dequeueLocked()
	return job, ok, q.remaining > 0
}

// Done marks one dequeued job as finished.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remaining--
}

func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head == nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Remaining returns the number of jobs enqueued but not yet finished.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining
}
