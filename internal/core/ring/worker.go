package ring

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/zeusync/ballphys/internal/core/collide"
	"github.com/zeusync/ballphys/internal/core/kernel"
)

// Worker is the persistent consumer. It is the only party that moves a slot
// from pending to processing to done. All state except the shared buffers is
// owned by the goroutine running Run (or by the caller of Handle and
// ProcessPending in sequential mode).
type Worker struct {
	inbox  chan Message
	outbox chan Message
	done   chan struct{}

	buf      *Buffers
	bricks   []collide.Brick
	brickSeq uint64
	parallel int

	// newest brick update posted by the producer, not yet applied
	latest atomic.Pointer[Message]
}

// NewWorker creates a worker that splits a slot across parallel goroutines
// when parallel > 1.
func NewWorker(parallel int) *Worker {
	return &Worker{
		inbox:    make(chan Message, 8),
		outbox:   make(chan Message, 64),
		done:     make(chan struct{}),
		parallel: parallel,
	}
}

// Outbox carries log and error messages back to the runtime. It is closed
// when Run returns.
func (w *Worker) Outbox() <-chan Message {
	return w.outbox
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Send delivers msg to a running worker. It reports false once the worker
// has exited.
func (w *Worker) Send(msg Message) bool {
	select {
	case w.inbox <- msg:
		return true
	case <-w.done:
		return false
	}
}

// PostBricks publishes a brick snapshot without blocking. Only the newest
// posted snapshot is kept; the worker picks it up before it runs the next
// slot, so a snapshot posted ahead of a submit is seen by that job. It
// reports false once the worker has exited.
func (w *Worker) PostBricks(msg Message) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	w.latest.Store(&msg)
	return true
}

// Run parks until a control message or a submit notification arrives and
// drains every pending slot on each wake.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer close(w.outbox)

	for {
		var wake <-chan struct{}
		if w.buf != nil {
			wake = w.buf.wake.C()
		}

		select {
		case <-ctx.Done():
			return
		case msg := <-w.inbox:
			if !w.Handle(msg) {
				return
			}
		case <-wake:
			if !w.drainInbox() {
				return
			}
			w.ProcessPending(ctx)
		}
	}
}

// drainInbox applies control messages queued before the wake so a brick
// update sent ahead of a submit is seen by that job.
func (w *Worker) drainInbox() bool {
	for {
		select {
		case msg := <-w.inbox:
			if !w.Handle(msg) {
				return false
			}
		default:
			return true
		}
	}
}

// Handle applies one control message. It returns false on shutdown.
func (w *Worker) Handle(msg Message) bool {
	switch msg.Type {
	case MessageInit:
		if msg.Init == nil || msg.Init.Buffers == nil {
			w.emit(MessageError, "init without buffers")
			return true
		}
		w.buf = msg.Init.Buffers
		w.bricks = msg.Init.Bricks
		w.brickSeq = msg.Seq
		w.emit(MessageLog, "worker initialised", "capacity", msg.Init.Capacity, "ring_size", msg.Init.RingSize)
	case MessageUpdateBricks:
		w.applyBricks(msg)
	case MessageShutdown:
		w.buf = nil
		return false
	default:
		w.emit(MessageLog, "unknown message", "type", string(msg.Type))
	}
	return true
}

// ProcessPending runs every slot currently flagged pending and returns how
// many it completed.
func (w *Worker) ProcessPending(ctx context.Context) int {
	if w.buf == nil {
		return 0
	}
	n := 0
	for slot := 0; slot < w.buf.RingSize; slot++ {
		if !w.buf.Flags.CompareAndSwap(slot, SlotPending, SlotProcessing) {
			continue
		}
		if p := w.latest.Swap(nil); p != nil {
			w.applyBricks(*p)
		}
		if err := w.process(ctx, slot); err != nil {
			// the slot is still handed back so the producer does not stall
			w.buf.Control.Add(ctrlFailed, 1)
			w.emit(MessageError, "slot failed", "slot", slot, "error", err.Error())
		}
		w.buf.Control.Add(ctrlCompleted, 1)
		w.buf.Flags.Store(slot, SlotDone)
		n++
	}
	return n
}

func (w *Worker) applyBricks(msg Message) {
	if msg.Seq != 0 && msg.Seq <= w.brickSeq {
		return
	}
	w.bricks = msg.Bricks
	w.brickSeq = msg.Seq
}

func (w *Worker) process(ctx context.Context, slot int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ring: worker panic: %v", r)
		}
	}()

	bricks := w.bricks
	b := w.buf.batch(slot, bricks)
	hits := w.buf.hitWindow(slot, b.Count)
	w.buf.SlotBricks[slot] = bricks

	if w.parallel > 1 && b.Count > w.parallel {
		return kernel.StepParallel(ctx, b, w.parallel, b.Positions, b.Velocities, hits)
	}
	kernel.StepInto(b, b.Positions, b.Velocities, hits)
	return nil
}

func (w *Worker) emit(t MessageType, args ...any) {
	select {
	case w.outbox <- Message{Type: t, Args: args}:
	default:
	}
}
