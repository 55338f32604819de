package jobs

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Queue is the in-process priority queue. Lower priority numbers run first,
// FIFO within a priority. Claimed jobs hold a lease; a lease that outlives
// the heartbeat timeout is reaped back into the queue (visibility-timeout
// pattern). Delayed entries implement retry backoff.
type Queue struct {
	mu      sync.Mutex
	ready   readyHeap
	delayed []delayedItem
	leases  map[string]time.Time
	seq     int64
	notify  chan struct{}
}

type queueItem struct {
	jobID    string
	priority int
	seq      int64
}

type delayedItem struct {
	queueItem
	availableAt time.Time
}

type readyHeap []queueItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)        { *h = append(*h, x.(queueItem)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		leases: make(map[string]time.Time),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds a job. A positive delay holds it back (retry backoff).
func (q *Queue) Enqueue(jobID string, priority int, delay time.Duration) {
	q.mu.Lock()
	q.seq++
	it := queueItem{jobID: jobID, priority: priority, seq: q.seq}
	if delay > 0 {
		q.delayed = append(q.delayed, delayedItem{queueItem: it, availableAt: time.Now().Add(delay)})
	} else {
		heap.Push(&q.ready, it)
	}
	q.mu.Unlock()
	q.wake()
}

// Claim blocks until a job is available or ctx ends, then leases it.
func (q *Queue) Claim(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		q.promoteDelayed()
		if q.ready.Len() > 0 {
			it := heap.Pop(&q.ready).(queueItem)
			q.leases[it.jobID] = time.Now()
			q.mu.Unlock()
			return it.jobID, true
		}
		wait := q.nextDelay()
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", false
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack releases the lease after the job reached a terminal state or was
// re-enqueued explicitly.
func (q *Queue) Ack(jobID string) {
	q.mu.Lock()
	delete(q.leases, jobID)
	q.mu.Unlock()
}

// Heartbeat marks the lease as alive.
func (q *Queue) Heartbeat(jobID string) {
	q.mu.Lock()
	if _, ok := q.leases[jobID]; ok {
		q.leases[jobID] = time.Now()
	}
	q.mu.Unlock()
}

// ReapExpired returns jobs whose lease heartbeat is older than timeout to
// the queue and reports them. Attempt counts are untouched by design.
func (q *Queue) ReapExpired(timeout time.Duration, priorityOf func(jobID string) int) []string {
	cutoff := time.Now().Add(-timeout)
	q.mu.Lock()
	var reaped []string
	for jobID, hb := range q.leases {
		if hb.Before(cutoff) {
			delete(q.leases, jobID)
			q.seq++
			heap.Push(&q.ready, queueItem{jobID: jobID, priority: priorityOf(jobID), seq: q.seq})
			reaped = append(reaped, jobID)
		}
	}
	q.mu.Unlock()
	if len(reaped) > 0 {
		q.wake()
	}
	return reaped
}

// Len reports ready + delayed entries (not leases).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() + len(q.delayed)
}

func (q *Queue) promoteDelayed() {
	now := time.Now()
	kept := q.delayed[:0]
	for _, d := range q.delayed {
		if d.availableAt.After(now) {
			kept = append(kept, d)
			continue
		}
		heap.Push(&q.ready, d.queueItem)
	}
	q.delayed = kept
}

func (q *Queue) nextDelay() time.Duration {
	wait := 500 * time.Millisecond
	now := time.Now()
	for _, d := range q.delayed {
		if until := d.availableAt.Sub(now); until < wait {
			wait = until
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
