// Package jobs offloads kernel steps to a persistent pool of worker
// goroutines. At most one job is in flight; the frame loop never blocks and
// picks the finished result up on a later frame.
package jobs

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeusync/ballphys/internal/core/collide"
	"github.com/zeusync/ballphys/internal/core/kernel"
	"github.com/zeusync/ballphys/internal/core/observability/diag"
	"github.com/zeusync/ballphys/internal/core/observability/log"
	"github.com/zeusync/ballphys/pkg/concurrent"
	"github.com/zeusync/ballphys/pkg/generic"
)

var (
	ErrRuntimeDisabled = errors.New("jobs: runtime disabled")
	ErrRuntimeClosed   = errors.New("jobs: runtime closed")
	ErrQueueFull       = errors.New("jobs: worker queue full")
)

// State of the runtime. Disabled is terminal.
type State int32

const (
	StateIdle State = iota
	StateReady
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Executor runs one contiguous chunk of a job on a pool worker.
type Executor interface {
	// Init is called once by EnsureRuntime; an error disables the runtime.
	Init(workers int) error
	Step(b kernel.Batch, outPos, outVel []float64, outHits []int32) error
}

type kernelExecutor struct{}

func (kernelExecutor) Init(int) error { return nil }

func (kernelExecutor) Step(b kernel.Batch, outPos, outVel []float64, outHits []int32) error {
	kernel.StepInto(b, outPos, outVel, outHits)
	return nil
}

// Input is one frame's offload request. TickSimulation takes ownership of
// the batch buffers and clears them from the Input.
type Input struct {
	BallIDs []string
	Batch   kernel.Batch
}

// Result is a completed job. Bricks is the snapshot HitIndices refer to.
type Result struct {
	JobID      uint64
	BallIDs    []string
	Positions  []float64
	Velocities []float64
	HitIndices []int32
	Damages    []float64
	Bricks     []collide.Brick
}

type job struct {
	id        uint64
	batch     kernel.Batch
	result    *Result
	remaining atomic.Int32
	failed    atomic.Pointer[error]
}

type chunk struct {
	job    *job
	lo, hi int
}

type Option func(*Runtime)

// WithExecutor replaces the in-process kernel executor.
func WithExecutor(e Executor) Option {
	return func(r *Runtime) { r.exec = e }
}

// WithDiagnostics routes dispatch failures to rec.
func WithDiagnostics(rec diag.Recorder) Option {
	return func(r *Runtime) { r.diag = rec }
}

type Runtime struct {
	logger log.Log
	diag   diag.Recorder
	exec   Executor

	mu      sync.Mutex
	state   atomic.Int32
	workers int
	chunks  chan chunk
	wg      sync.WaitGroup

	inFlight  atomic.Bool
	pending   atomic.Pointer[Result]
	nextJobID atomic.Uint64

	// job id -> ball ids, kept only while the job runs
	tracking sync.Map

	results *generic.Pool[*Result]
}

func New(logger log.Log, opts ...Option) *Runtime {
	r := &Runtime{
		logger: log.OrNop(logger).With(log.String("component", "jobs")),
		diag:   diag.Discard,
		exec:   kernelExecutor{},
		results: generic.NewPool(func() *Result {
			return &Result{}
		}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) State() State {
	return State(r.state.Load())
}

// Workers returns the pool size, zero before EnsureRuntime succeeds.
func (r *Runtime) Workers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workers
}

// EnsureRuntime starts the pool on first call. maxWorkers <= 0 selects
// max(1, NumCPU-1). A failed start disables the runtime for good.
func (r *Runtime) EnsureRuntime(maxWorkers int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case StateReady:
		return nil
	case StateDisabled:
		return ErrRuntimeDisabled
	}

	workers := maxWorkers
	if workers <= 0 {
		workers = concurrent.DefaultWorkers()
	}

	if err := r.exec.Init(workers); err != nil {
		r.disableLocked("init", err)
		return fmt.Errorf("jobs: start %d workers: %w", workers, err)
	}

	r.workers = workers
	r.chunks = make(chan chunk, workers)
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.workerLoop(r.chunks)
	}
	r.state.Store(int32(StateReady))

	r.logger.Info("worker pool started", log.Int("workers", workers))
	return nil
}

// TickSimulation dispatches input if the runtime is ready and idle. It
// returns false when the request was dropped; the caller steps synchronously
// for that frame instead.
func (r *Runtime) TickSimulation(input *Input) bool {
	if r.State() != StateReady || input == nil {
		return false
	}
	if !r.inFlight.CompareAndSwap(false, true) {
		return false
	}

	if err := input.Batch.Validate(); err != nil {
		r.inFlight.Store(false)
		r.disable("validate", err)
		return false
	}

	j := &job{
		id:     r.nextJobID.Add(1),
		batch:  input.Batch,
		result: r.results.Get(),
	}
	n := j.batch.Count
	j.result.JobID = j.id
	j.result.BallIDs = input.BallIDs
	j.result.Positions = generic.Grow(j.result.Positions, n*3)
	j.result.Velocities = generic.Grow(j.result.Velocities, n*3)
	j.result.HitIndices = generic.Grow(j.result.HitIndices, n)
	j.result.Damages = j.batch.Damages
	j.result.Bricks = j.batch.Bricks

	// the job owns the buffers from here on
	input.Batch = kernel.Batch{}
	input.BallIDs = nil

	r.tracking.Store(j.id, j.result.BallIDs)

	if n == 0 {
		r.complete(j)
		return true
	}

	parts := min(r.workers, n)
	size := (n + parts - 1) / parts
	j.remaining.Store(int32((n + size - 1) / size))

	for lo := 0; lo < n; lo += size {
		c := chunk{job: j, lo: lo, hi: min(lo+size, n)}
		select {
		case r.chunks <- c:
		default:
			r.fail(j, ErrQueueFull)
			return false
		}
	}

	r.logger.Debug("job dispatched", log.Uint64("job_id", j.id), log.Int("balls", n))
	return true
}

// TakePendingResult returns the last completed result and clears it.
func (r *Runtime) TakePendingResult() *Result {
	return r.pending.Swap(nil)
}

// Recycle hands a consumed result's buffers back for reuse. The result must
// not be used afterwards.
func (r *Runtime) Recycle(res *Result) {
	if res == nil {
		return
	}
	res.BallIDs = nil
	res.Damages = nil
	res.Bricks = nil
	r.results.Put(res)
}

// InFlight reports whether a job is currently running.
func (r *Runtime) InFlight() bool {
	return r.inFlight.Load()
}

// Close stops the pool and waits for running chunks. It must be called from
// the goroutine that calls TickSimulation. The runtime cannot be restarted.
func (r *Runtime) Close() error {
	r.mu.Lock()
	prev := r.State()
	r.state.Store(int32(StateDisabled))
	chunks := r.chunks
	r.chunks = nil
	r.mu.Unlock()

	if chunks != nil {
		close(chunks)
	}
	r.wg.Wait()

	if prev == StateDisabled && chunks == nil {
		return ErrRuntimeClosed
	}
	return nil
}

func (r *Runtime) workerLoop(chunks <-chan chunk) {
	defer r.wg.Done()
	for c := range chunks {
		r.runChunk(c)
	}
}

func (r *Runtime) runChunk(c chunk) {
	j := c.job
	err := r.stepChunk(c)
	if err != nil {
		j.failed.CompareAndSwap(nil, &err)
	}
	if j.remaining.Add(-1) != 0 {
		return
	}
	if errPtr := j.failed.Load(); errPtr != nil {
		r.fail(j, *errPtr)
		return
	}
	r.complete(j)
}

func (r *Runtime) stepChunk(c chunk) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("jobs: worker panic: %v", rec)
		}
	}()

	b := c.job.batch
	sub := kernel.Batch{
		Count:      c.hi - c.lo,
		Delta:      b.Delta,
		Arena:      b.Arena,
		Positions:  b.Positions[c.lo*3 : c.hi*3],
		Velocities: b.Velocities[c.lo*3 : c.hi*3],
		Radii:      b.Radii[c.lo:c.hi],
		Bricks:     b.Bricks,
	}
	res := c.job.result
	return r.exec.Step(sub, res.Positions[c.lo*3:c.hi*3], res.Velocities[c.lo*3:c.hi*3], res.HitIndices[c.lo:c.hi])
}

func (r *Runtime) complete(j *job) {
	r.tracking.Delete(j.id)
	r.pending.Store(j.result)
	r.inFlight.Store(false)
}

func (r *Runtime) fail(j *job, err error) {
	ids, _ := r.tracking.LoadAndDelete(j.id)
	ballIDs, _ := ids.([]string)
	r.logger.Error("job failed",
		log.Uint64("job_id", j.id),
		log.Strings("ball_ids", ballIDs),
		log.Error(err))
	r.disable("dispatch", err)
	r.inFlight.Store(false)
}

func (r *Runtime) disable(source string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disableLocked(source, err)
}

func (r *Runtime) disableLocked(source string, err error) {
	if r.State() == StateDisabled {
		return
	}
	r.state.Store(int32(StateDisabled))
	r.diag.Record(diag.KindRuntimeDisabled, "jobs."+source, err)
	r.logger.Warn("worker runtime disabled, falling back to synchronous stepping",
		log.String("source", source), log.Error(err))
}
