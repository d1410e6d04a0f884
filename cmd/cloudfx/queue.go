package main

// PendingQueue is a bounded FIFO of received command names.
//
// It is owned exclusively by the dispatch loop goroutine and therefore needs
// no locking. Enqueue beyond capacity silently drops the newest item; the
// items already queued keep their order.
type PendingQueue struct {
	items    []string
	capacity int
	dropped  uint64
}

func newPendingQueue(capacity int) *PendingQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &PendingQueue{
		items:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a command. Returns false when the queue is full and the
// command was dropped.
func (q *PendingQueue) Push(cmd string) bool {
	if len(q.items) >= q.capacity {
		q.dropped++
		return false
	}
	q.items = append(q.items, cmd)
	return true
}

// Pop removes and returns the oldest command.
func (q *PendingQueue) Pop() (string, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	cmd := q.items[0]
	// Shift rather than re-slice so the backing array never grows past
	// capacity over the process lifetime.
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	return cmd, true
}

func (q *PendingQueue) Len() int { return len(q.items) }

// Dropped returns the count of commands lost to overflow since startup.
func (q *PendingQueue) Dropped() uint64 { return q.dropped }
