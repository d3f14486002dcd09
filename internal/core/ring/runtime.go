// Package ring runs kernel steps on a persistent consumer goroutine through a
// fixed ring of job slots. The producer writes ball state straight into a
// slot's windows of the shared buffers and reads the results back from the
// same windows, so nothing is copied on the way out.
package ring

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/ballphys/internal/core/collide"
	"github.com/zeusync/ballphys/internal/core/kernel"
	"github.com/zeusync/ballphys/internal/core/observability/diag"
	"github.com/zeusync/ballphys/internal/core/observability/log"
)

var (
	ErrInvalidSize     = errors.New("ring: capacity and ring size must be positive")
	ErrRuntimeDisabled = errors.New("ring: runtime disabled")
	ErrRuntimeClosed   = errors.New("ring: runtime closed")
)

type options struct {
	cells      func(int) Cells
	sequential bool
	parallel   int
	diag       diag.Recorder
}

type Option func(*options)

// WithPlainCells backs flags and counters with plain words. The consumer is
// then driven by the caller through Worker().ProcessPending.
func WithPlainCells() Option {
	return func(o *options) {
		o.cells = NewPlainCells
		o.sequential = true
	}
}

// WithSequentialWorker keeps atomic cells but does not start the consumer
// goroutine.
func WithSequentialWorker() Option {
	return func(o *options) { o.sequential = true }
}

// WithParallelism lets the consumer split large slots across n goroutines.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallel = n }
}

func WithDiagnostics(rec diag.Recorder) Option {
	return func(o *options) { o.diag = rec }
}

// Result is a zero-copy view of a completed slot. The slices alias the
// shared buffers and stay valid until the slot is submitted again.
type Result struct {
	JobID uint64
	Slot  int
	// BallIDs are the ids passed to the submit that produced this result,
	// in submission order.
	BallIDs    []string
	Positions  []float64
	Velocities []float64
	HitIndices []int32
	Damages    []float64
	Bricks     []collide.Brick
}

type Runtime struct {
	id     string
	logger log.Log
	opts   options

	buf    *Buffers
	worker *Worker
	cancel context.CancelFunc
	fwd    sync.WaitGroup

	// producer-owned, indexed by slot
	ballIDs [][]string
	jobIDs  []uint64

	nextJobID uint64
	bricks    []collide.Brick
	brickHash uint64
	brickSeq  uint64

	disabled atomic.Bool
	closed   bool
}

// Ensure allocates the shared buffers and starts the consumer.
func Ensure(logger log.Log, capacity, ringSize int, opts ...Option) (*Runtime, error) {
	if capacity < 1 || ringSize < 1 {
		return nil, fmt.Errorf("%w: capacity=%d ring_size=%d", ErrInvalidSize, capacity, ringSize)
	}

	o := options{cells: NewAtomicCells, diag: diag.Discard}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	r := &Runtime{
		id:     id,
		logger: log.OrNop(logger).With(log.String("component", "ring"), log.String("runtime_id", id)),
		opts:   o,
	}
	r.start(capacity, ringSize)

	mode := "shared ring"
	if ringSize == 1 {
		mode = "single slot"
	}
	r.logger.Info("ring runtime started",
		log.String("mode", mode),
		log.Int("capacity", capacity),
		log.Int("ring_size", ringSize),
		log.Bool("sequential", o.sequential))
	return r, nil
}

func (r *Runtime) ID() string { return r.id }
func (r *Runtime) Capacity() int { return r.buf.Capacity }
func (r *Runtime) RingSize() int { return r.buf.RingSize }
func (r *Runtime) Disabled() bool { return r.disabled.Load() }
func (r *Runtime) Buffers() *Buffers { return r.buf }
func (r *Runtime) Worker() *Worker { return r.worker }

// SlotState reports slot i's flag.
func (r *Runtime) SlotState(i int) SlotState {
	return r.buf.Flags.Load(i)
}

// SubmitJobIfIdle copies balls into the first free slot and wakes the
// consumer. It returns false when every slot is busy or the runtime is
// unusable; the caller steps synchronously for that frame instead.
func (r *Runtime) SubmitJobIfIdle(balls []kernel.Ball, delta float64, arena kernel.Arena) bool {
	if r.closed || r.disabled.Load() {
		return false
	}
	r.drainWorkerMessages()

	if len(balls) > r.buf.Capacity {
		r.grow(len(balls))
	}

	slot := -1
	for i := 0; i < r.buf.RingSize; i++ {
		if r.buf.Flags.Load(i) == SlotFree {
			slot = i
			break
		}
	}
	if slot < 0 {
		return false
	}

	buf := r.buf
	count := len(balls)
	pos := buf.vec3Window(buf.Positions, slot, count)
	vel := buf.vec3Window(buf.Velocities, slot, count)
	radii := buf.scalarWindow(buf.Radii, slot, count)
	damages := buf.scalarWindow(buf.Damages, slot, count)
	ids := make([]string, count)
	for i, b := range balls {
		copy(pos[i*3:i*3+3], b.Position[:])
		copy(vel[i*3:i*3+3], b.Velocity[:])
		radii[i] = b.Radius
		damages[i] = b.Damage
		ids[i] = b.ID
	}

	m := buf.meta(slot)
	m[metaCount] = float64(count)
	m[metaDelta] = delta
	m[metaArenaX] = arena.X
	m[metaArenaY] = arena.Y
	m[metaArenaZ] = arena.Z

	r.nextJobID++
	r.jobIDs[slot] = r.nextJobID
	r.ballIDs[slot] = ids

	buf.Flags.Store(slot, SlotPending)
	buf.Control.Add(ctrlSubmitted, 1)
	buf.wake.Notify()
	return true
}

// TakeResultIfReady returns the first completed slot and frees it, or nil.
func (r *Runtime) TakeResultIfReady() *Result {
	if r.closed {
		return nil
	}
	r.drainWorkerMessages()

	buf := r.buf
	for slot := 0; slot < buf.RingSize; slot++ {
		if buf.Flags.Load(slot) != SlotDone {
			continue
		}
		if buf.Control.Load(ctrlFailed) > 0 {
			r.disable("worker", fmt.Errorf("ring: consumer failed job %d", r.jobIDs[slot]))
			buf.Flags.Store(slot, SlotFree)
			return nil
		}

		count := int(buf.meta(slot)[metaCount])
		res := &Result{
			JobID:      r.jobIDs[slot],
			Slot:       slot,
			BallIDs:    r.ballIDs[slot],
			Positions:  buf.vec3Window(buf.Positions, slot, count),
			Velocities: buf.vec3Window(buf.Velocities, slot, count),
			HitIndices: buf.hitWindow(slot, count),
			Damages:    buf.scalarWindow(buf.Damages, slot, count),
			Bricks:     buf.SlotBricks[slot],
		}
		r.ballIDs[slot] = nil
		buf.Flags.Store(slot, SlotFree)
		return res
	}
	return nil
}

// UpdateBricks publishes a brick snapshot to the consumer. Jobs already
// processing keep the snapshot they started with. It reports whether the
// snapshot differed from the last one sent.
func (r *Runtime) UpdateBricks(bricks []collide.Brick) bool {
	if r.closed {
		return false
	}
	hash := collide.Fingerprint(bricks)
	if r.bricks != nil && hash == r.brickHash {
		return false
	}
	r.bricks = slices.Clone(bricks)
	if r.bricks == nil {
		r.bricks = []collide.Brick{}
	}
	r.brickHash = hash
	r.brickSeq++

	msg := Message{Type: MessageUpdateBricks, Bricks: r.bricks, Seq: r.brickSeq}
	if r.opts.sequential {
		r.send(msg)
		return true
	}
	if !r.worker.PostBricks(msg) {
		r.disable("send", fmt.Errorf("ring: worker exited before %s", msg.Type))
	}
	return true
}

// Close shuts the consumer down. Results not yet taken are lost.
func (r *Runtime) Close() error {
	if r.closed {
		return ErrRuntimeClosed
	}
	r.closed = true
	r.stop()
	r.logger.Info("ring runtime closed")
	return nil
}

func (r *Runtime) start(capacity, ringSize int) {
	r.buf = newBuffers(capacity, ringSize, r.opts.cells)
	r.ballIDs = make([][]string, ringSize)
	r.jobIDs = make([]uint64, ringSize)
	r.worker = NewWorker(r.opts.parallel)

	if !r.opts.sequential {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		r.fwd.Add(1)
		go func(w *Worker) {
			defer r.fwd.Done()
			for msg := range w.Outbox() {
				r.handleWorkerMessage(msg)
			}
		}(r.worker)
		go r.worker.Run(ctx)
	}

	r.send(Message{Type: MessageInit, Seq: r.brickSeq, Init: &InitPayload{
		Buffers:  r.buf,
		Bricks:   r.bricks,
		Capacity: capacity,
		RingSize: ringSize,
	}})
}

func (r *Runtime) stop() {
	r.send(Message{Type: MessageShutdown})
	if r.opts.sequential {
		r.drainWorkerMessages()
		return
	}
	<-r.worker.Done()
	r.cancel()
	r.fwd.Wait()
}

// grow replaces the buffers with ones at least count wide. Jobs in flight on
// the old buffers are dropped.
func (r *Runtime) grow(count int) {
	capacity := r.buf.Capacity
	for capacity < count {
		capacity *= 2
	}

	lost := 0
	for slot := 0; slot < r.buf.RingSize; slot++ {
		if r.buf.Flags.Load(slot) != SlotFree {
			lost++
		}
	}

	r.stop()
	r.start(capacity, r.buf.RingSize)
	r.logger.Warn("ring buffers reallocated",
		log.Int("capacity", capacity),
		log.Int("requested", count),
		log.Int("lost_jobs", lost))
}

func (r *Runtime) send(msg Message) {
	if r.opts.sequential {
		r.worker.Handle(msg)
		r.drainWorkerMessages()
		return
	}
	if !r.worker.Send(msg) && msg.Type != MessageShutdown {
		r.disable("send", fmt.Errorf("ring: worker exited before %s", msg.Type))
	}
}

func (r *Runtime) drainWorkerMessages() {
	if !r.opts.sequential {
		return
	}
	for {
		select {
		case msg := <-r.worker.outbox:
			r.handleWorkerMessage(msg)
		default:
			return
		}
	}
}

func (r *Runtime) handleWorkerMessage(msg Message) {
	text, fields := messageFields(msg.Args)
	switch msg.Type {
	case MessageError:
		r.logger.Error("worker: "+text, fields...)
		r.opts.diag.Record(diag.KindWorker, "ring.worker", errors.New(text))
		r.disable("worker", fmt.Errorf("ring: %s", text))
	default:
		r.logger.Debug("worker: "+text, fields...)
	}
}

func (r *Runtime) disable(source string, err error) {
	if !r.disabled.CompareAndSwap(false, true) {
		return
	}
	r.opts.diag.Record(diag.KindRuntimeDisabled, "ring."+source, err)
	r.logger.Warn("ring runtime disabled, falling back", log.String("source", source), log.Error(err))
}

// messageFields turns worker log args (a message followed by key/value
// pairs) into log fields.
func messageFields(args []any) (string, []log.Field) {
	if len(args) == 0 {
		return "", nil
	}
	text, _ := args[0].(string)
	var fields []log.Field
	for i := 1; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields = append(fields, log.Any(key, args[i+1]))
	}
	return text, fields
}
