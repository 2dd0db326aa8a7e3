package release

import (
	"container/heap"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chase3718/drumkeys/internal/keysynth"
)

// Pending is a held key waiting to be let go.
type Pending struct {
	IssuedAt time.Time
	Hold     time.Duration
	Key      keysynth.Key
	// Seq is assigned by the queue on push and increases monotonically.
	Seq uint64
}

// Deadline is the instant after which the key must be released.
func (p Pending) Deadline() time.Time { return p.IssuedAt.Add(p.Hold) }

// Due reports whether the hold has strictly elapsed at now. Releases err
// toward longer presses, never shorter.
func (p Pending) Due(now time.Time) bool { return now.Sub(p.IssuedAt) > p.Hold }

// Order selects how the queue picks its front record.
type Order int

const (
	// OrderFIFO releases in enqueue order. A long hold at the front delays
	// every record behind it, even ones whose own deadline has passed.
	OrderFIFO Order = iota
	// OrderDeadline releases the earliest deadline first.
	OrderDeadline
)

func (o Order) String() string {
	switch o {
	case OrderFIFO:
		return "fifo"
	case OrderDeadline:
		return "deadline"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// ParseOrder parses "fifo" or "deadline".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fifo", "":
		return OrderFIFO, nil
	case "deadline":
		return OrderDeadline, nil
	}
	return 0, fmt.Errorf("release: unknown order %q (want fifo or deadline)", s)
}

// -------------------- Stores --------------------

type store interface {
	push(p Pending)
	front() (Pending, bool)
	pop() Pending
	len() int
}

// ring is a growable FIFO ring buffer.
type ring struct {
	buf  []Pending
	head int
	n    int
}

func (r *ring) push(p Pending) {
	if r.n == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.n)%len(r.buf)] = p
	r.n++
}

func (r *ring) front() (Pending, bool) {
	if r.n == 0 {
		return Pending{}, false
	}
	return r.buf[r.head], true
}

func (r *ring) pop() Pending {
	p := r.buf[r.head]
	r.buf[r.head] = Pending{}
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return p
}

func (r *ring) len() int { return r.n }

func (r *ring) grow() {
	size := 2 * len(r.buf)
	if size == 0 {
		size = 16
	}
	buf := make([]Pending, size)
	for i := 0; i < r.n; i++ {
		buf[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.buf = buf
	r.head = 0
}

// deadlineHeap is a min-heap on Deadline, ties broken by Seq.
type deadlineHeap []Pending

func (h deadlineHeap) Len() int { return len(h) }
func (h deadlineHeap) Less(i, j int) bool {
	di, dj := h[i].Deadline(), h[j].Deadline()
	if di.Equal(dj) {
		return h[i].Seq < h[j].Seq
	}
	return di.Before(dj)
}
func (h deadlineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)   { *h = append(*h, x.(Pending)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h *deadlineHeap) push(p Pending) { heap.Push(h, p) }
func (h *deadlineHeap) pop() Pending   { return heap.Pop(h).(Pending) }
func (h *deadlineHeap) len() int       { return len(*h) }
func (h *deadlineHeap) front() (Pending, bool) {
	if len(*h) == 0 {
		return Pending{}, false
	}
	return (*h)[0], true
}

// -------------------- Queue --------------------

// Queue holds pending releases. All methods are safe for concurrent use; a
// single mutex guards the store.
type Queue struct {
	mu    sync.Mutex
	order Order
	s     store
	seq   uint64
}

// NewQueue returns an empty queue with the given ordering.
func NewQueue(order Order) *Queue {
	q := &Queue{order: order}
	switch order {
	case OrderDeadline:
		q.s = &deadlineHeap{}
	default:
		q.order = OrderFIFO
		q.s = &ring{}
	}
	return q
}

// Order returns the queue's ordering.
func (q *Queue) Order() Order { return q.order }

// Push appends p and returns it with its Seq assigned.
func (q *Queue) Push(p Pending) Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	p.Seq = q.seq
	q.s.push(p)
	return p
}

// Peek returns a copy of the front record.
func (q *Queue) Peek() (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.s.front()
}

// Pop removes and returns the front record.
func (q *Queue) Pop() (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.s.len() == 0 {
		return Pending{}, false
	}
	return q.s.pop(), true
}

// Len returns the number of pending records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.s.len()
}

// ReleaseDue releases the front record if it is due at now. fn runs with the
// queue locked and the record is popped only after fn succeeds; on error the
// record stays queued.
//
// When nothing was released, wait is how long until the front record falls
// due, or -1 if the queue is empty.
func (q *Queue) ReleaseDue(now time.Time, fn func(Pending) error) (released bool, wait time.Duration, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.s.front()
	if !ok {
		return false, -1, nil
	}
	if !p.Due(now) {
		return false, p.Hold - now.Sub(p.IssuedAt), nil
	}
	if err := fn(p); err != nil {
		return false, 0, err
	}
	q.s.pop()
	return true, 0, nil
}

// ReleaseNext releases the front record regardless of its deadline.
func (q *Queue) ReleaseNext(fn func(Pending) error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.s.front()
	if !ok {
		return false, nil
	}
	if err := fn(p); err != nil {
		return false, err
	}
	q.s.pop()
	return true, nil
}
