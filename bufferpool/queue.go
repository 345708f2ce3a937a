package bufferpool

import (
	"context"
	"fmt"
	"sync"
)

// Queue is a FIFO of pool slots linked through their prev/next indices.
// Each queue has its own lock; operations on one queue never block another.
// Push wakes at most one goroutine blocked in Take.
type Queue struct {
	tag    List
	slots  []Message
	mu     sync.Mutex
	head   int32
	tail   int32
	length int
	notify chan struct{}
}

func newQueue(tag List, slots []Message) *Queue {
	return &Queue{
		tag:    tag,
		slots:  slots,
		head:   noSlot,
		tail:   noSlot,
		notify: make(chan struct{}, 1),
	}
}

// Pop removes and returns the head of the queue, or nil if it is empty.
func (q *Queue) Pop() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == noSlot {
		return nil
	}

	m := &q.slots[q.head]
	q.unlink(m)
	return m
}

// Push appends m to the tail of the queue. m must not be linked into any
// queue; violating that is a programming error and panics.
func (q *Queue) Push(m *Message) {
	q.mu.Lock()
	if m.list != ListNone {
		q.mu.Unlock()
		panic(fmt.Sprintf("bufferpool: slot %d pushed to %s while on %s", m.index, q.tag, m.list))
	}

	m.list = q.tag
	m.next = noSlot
	m.prev = q.tail
	if q.tail == noSlot {
		q.head = m.index
	} else {
		q.slots[q.tail].next = m.index
	}
	q.tail = m.index
	q.length++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Remove unlinks m from the middle of the queue.
//
// Returns:
//   - true if m was on this queue and has been removed, false otherwise
func (q *Queue) Remove(m *Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if m.list != q.tag {
		return false
	}

	q.unlink(m)
	return true
}

// Take pops the head of the queue, blocking until a message is pushed or
// ctx is done.
//
// Returns:
//   - The popped message, or ctx.Err() once ctx is done
func (q *Queue) Take(ctx context.Context) (*Message, error) {
	for {
		if m := q.Pop(); m != nil {
			return m, nil
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of messages currently on the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Drain pops every message and returns them in FIFO order.
func (q *Queue) Drain() []*Message {
	var out []*Message
	for m := q.Pop(); m != nil; m = q.Pop() {
		out = append(out, m)
	}

	return out
}

// unlink removes m from the list; caller must hold q.mu.
func (q *Queue) unlink(m *Message) {
	if m.prev == noSlot {
		q.head = m.next
	} else {
		q.slots[m.prev].next = m.next
	}

	if m.next == noSlot {
		q.tail = m.prev
	} else {
		q.slots[m.next].prev = m.prev
	}

	m.prev, m.next = noSlot, noSlot
	m.list = ListNone
	q.length--
}
