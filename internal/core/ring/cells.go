package ring

import "sync/atomic"

// SlotState is the per-slot flag. A slot only ever moves
// free -> pending -> processing -> done -> free.
type SlotState = uint32

const (
	SlotFree SlotState = iota
	SlotPending
	SlotProcessing
	SlotDone
)

// Cells is a fixed array of 32-bit words shared between the producer and the
// consumer. The atomic implementation is what both goroutines use; the plain
// one keeps the same sequential semantics for single-goroutine tests.
type Cells interface {
	Len() int
	Load(i int) uint32
	Store(i int, v uint32)
	CompareAndSwap(i int, old, new uint32) bool
	Add(i int, delta uint32) uint32
}

type atomicCells struct {
	v []atomic.Uint32
}

// NewAtomicCells allocates n zeroed atomic words.
func NewAtomicCells(n int) Cells {
	return &atomicCells{v: make([]atomic.Uint32, n)}
}

func (c *atomicCells) Len() int { return len(c.v) }
func (c *atomicCells) Load(i int) uint32 { return c.v[i].Load() }
func (c *atomicCells) Store(i int, v uint32) { c.v[i].Store(v) }
func (c *atomicCells) Add(i int, d uint32) uint32 { return c.v[i].Add(d) }
func (c *atomicCells) CompareAndSwap(i int, old, new uint32) bool {
	return c.v[i].CompareAndSwap(old, new)
}

type plainCells struct {
	v []uint32
}

// NewPlainCells allocates n zeroed words without any synchronisation.
func NewPlainCells(n int) Cells {
	return &plainCells{v: make([]uint32, n)}
}

func (c *plainCells) Len() int { return len(c.v) }
func (c *plainCells) Load(i int) uint32 { return c.v[i] }
func (c *plainCells) Store(i int, v uint32) { c.v[i] = v }
func (c *plainCells) Add(i int, d uint32) uint32 {
	c.v[i] += d
	return c.v[i]
}
func (c *plainCells) CompareAndSwap(i int, old, new uint32) bool {
	if c.v[i] != old {
		return false
	}
	c.v[i] = new
	return true
}

// notifier wakes a consumer parked waiting for work. A pending wake is kept
// in the buffered channel, so a Notify between the consumer's scan and its
// wait is never lost.
type notifier struct {
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{}, 1)}
}

func (n *notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *notifier) C() <-chan struct{} {
	return n.ch
}
