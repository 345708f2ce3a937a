// Package bufferpool provides a fixed-capacity arena of message slots shared
// by the ingress, dispatch and egress stages. Every slot is on exactly one of
// the free, ready or work queues, or assigned to the stage currently holding it.
package bufferpool

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned when the free queue is empty. The pool never
// grows; callers defer the triggering operation and retry later.
var ErrPoolExhausted = errors.New("bufferpool: no free message slots")

// Stats is a point-in-time population count. Free+Ready+Work+Assigned is
// always Size; at quiescent points Assigned is zero.
type Stats struct {
	Size     int
	Free     int
	Ready    int
	Work     int
	Assigned int
}

// Pool is the arena plus its three queues.
type Pool struct {
	slots []Message
	free  *Queue
	ready *Queue
	work  *Queue
}

// New allocates size slots and links all of them onto the free queue.
//
// Parameters:
//   - size: Number of slots; must be positive
//
// Returns:
//   - The new Pool, or an error if size is not positive
func New(size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("bufferpool: size must be positive, got %d", size)
	}

	slots := make([]Message, size)
	p := &Pool{
		slots: slots,
		free:  newQueue(ListFree, slots),
		ready: newQueue(ListReady, slots),
		work:  newQueue(ListWork, slots),
	}

	for i := range slots {
		slots[i].index = int32(i)
		slots[i].reset()
		p.free.Push(&slots[i])
	}

	return p, nil
}

// Size returns the fixed number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Ready returns the queue of reassembled inbound frames.
func (p *Pool) Ready() *Queue {
	return p.ready
}

// Work returns the queue of outbound frames.
func (p *Pool) Work() *Queue {
	return p.work
}

// Acquire pops an empty slot from the free queue.
//
// Returns:
//   - A reset Message owned by the caller
//   - ErrPoolExhausted if no slot is free
func (p *Pool) Acquire() (*Message, error) {
	m := p.free.Pop()
	if m == nil {
		return nil, ErrPoolExhausted
	}

	return m, nil
}

// Release resets m and returns it to the free queue.
func (p *Pool) Release(m *Message) {
	m.reset()
	p.free.Push(m)
}

// Stats returns the current population of each queue. The three counts are
// read under separate locks, so the snapshot is only exact when the pipeline
// is quiescent.
func (p *Pool) Stats() Stats {
	s := Stats{
		Size:  len(p.slots),
		Free:  p.free.Len(),
		Ready: p.ready.Len(),
		Work:  p.work.Len(),
	}
	s.Assigned = s.Size - s.Free - s.Ready - s.Work

	return s
}

// Reclaim moves every queued slot back to the free queue. It must only be
// called once no stage is running.
func (p *Pool) Reclaim() {
	for _, m := range p.ready.Drain() {
		p.Release(m)
	}

	for _, m := range p.work.Drain() {
		p.Release(m)
	}

	for i := range p.slots {
		if p.slots[i].list == ListNone {
			p.Release(&p.slots[i])
		}
	}
}
