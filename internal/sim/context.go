// Package sim owns one running simulation: its balls and bricks, the
// offload runtimes it may use and the optional physics adapter. Each Frame
// picks the first usable stepping path (physics, ring, pool, synchronous)
// and publishes what happened on the event bus.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/ballphys/internal/core/collide"
	"github.com/zeusync/ballphys/internal/core/events/bus"
	"github.com/zeusync/ballphys/internal/core/jobs"
	"github.com/zeusync/ballphys/internal/core/kernel"
	"github.com/zeusync/ballphys/internal/core/observability/diag"
	"github.com/zeusync/ballphys/internal/core/observability/log"
	"github.com/zeusync/ballphys/internal/core/physics"
	"github.com/zeusync/ballphys/internal/core/ring"
)

var (
	ErrDuplicateID = errors.New("sim: duplicate id")
	ErrClosed      = errors.New("sim: context closed")
)

// Path is the way a frame advanced the simulation.
type Path uint8

const (
	PathNone Path = iota
	PathSync
	PathPool
	PathRing
	PathPhysics
	// PathWaiting means an offloaded job was still running and the frame
	// left the state untouched.
	PathWaiting
)

func (p Path) String() string {
	switch p {
	case PathSync:
		return "sync"
	case PathPool:
		return "pool"
	case PathRing:
		return "ring"
	case PathPhysics:
		return "physics"
	case PathWaiting:
		return "waiting"
	default:
		return "none"
	}
}

// Brick is a collide.Brick with the damage it can still take.
type Brick struct {
	collide.Brick
	Health float64
}

// Hit is one ball striking one brick.
type Hit struct {
	BallID    string  `msgpack:"ball" json:"ball"`
	BrickID   string  `msgpack:"brick" json:"brick"`
	Damage    float64 `msgpack:"damage" json:"damage"`
	Destroyed bool    `msgpack:"destroyed,omitempty" json:"destroyed,omitempty"`
}

// Report describes one frame. JobID is the offloaded job whose result was
// applied during the frame, zero if none.
type Report struct {
	Frame    uint64
	Path     Path
	JobID    uint64
	Hits     []Hit
	Contacts []physics.ContactEvent
}

type Option func(*Context)

// WithPool offloads frames to a worker pool. The context owns the runtime.
func WithPool(rt *jobs.Runtime) Option {
	return func(c *Context) { c.pool = rt }
}

// WithRing offloads frames to a shared ring. The context owns the runtime
// and prefers it over the pool.
func WithRing(rt *ring.Runtime) Option {
	return func(c *Context) { c.ring = rt }
}

// WithBus publishes frame, hit and contact events.
func WithBus(b bus.EventBus) Option {
	return func(c *Context) { c.bus = b }
}

// WithDiagnostics forwards every diagnostic entry to the bus, runtime
// degradations as bus.TypeRuntimeDisabled.
func WithDiagnostics(sink *diag.Sink) Option {
	return func(c *Context) { c.sink = sink }
}

type Context struct {
	logger log.Log
	arena  kernel.Arena
	bus    bus.EventBus
	sink   *diag.Sink

	pool    *jobs.Runtime
	ring    *ring.Runtime
	physics *physics.Adapter

	frame    atomic.Uint64
	inFlight Path
	closed   bool

	balls     []kernel.Ball
	ballIndex map[string]int
	rotations map[string]mgl64.Quat

	bricks     []Brick
	brickIndex map[string]int
	snapshot   []collide.Brick
	removed    []string
	dirty      bool
}

func New(logger log.Log, arena kernel.Arena, opts ...Option) *Context {
	c := &Context{
		logger:     log.OrNop(logger).With(log.String("component", "sim")),
		arena:      arena,
		ballIndex:  make(map[string]int),
		rotations:  make(map[string]mgl64.Quat),
		brickIndex: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink != nil && c.bus != nil {
		c.sink.OnRecord(c.forwardDiagnostic)
	}
	return c
}

// Frames returns how many frames have run.
func (c *Context) Frames() uint64 {
	return c.frame.Load()
}

// AttachPhysics initialises the adapter and mirrors the current balls and
// bricks into it. On error the adapter is not used and frames keep running
// on the kernel paths.
func (c *Context) AttachPhysics(a *physics.Adapter) error {
	if err := a.Init(); err != nil {
		c.logger.Warn("physics adapter unavailable, using collision math", log.Error(err))
		return err
	}
	for _, b := range c.balls {
		if err := a.AddBall(b); err != nil {
			return c.rejectPhysics(a, err)
		}
	}
	for _, b := range c.bricks {
		if err := a.AddBrick(b.Brick); err != nil {
			return c.rejectPhysics(a, err)
		}
	}
	c.physics = a
	c.logger.Info("physics adapter attached", log.String("world_id", a.ID()))
	return nil
}

func (c *Context) rejectPhysics(a *physics.Adapter, err error) error {
	c.logger.Warn("physics adapter rejected scene, using collision math", log.Error(err))
	return errors.Join(err, a.Destroy())
}

func (c *Context) AddBall(b kernel.Ball) error {
	if _, ok := c.ballIndex[b.ID]; ok {
		return fmt.Errorf("%w: ball %q", ErrDuplicateID, b.ID)
	}
	if c.physics != nil {
		if err := c.physics.AddBall(b); err != nil {
			return err
		}
	}
	c.ballIndex[b.ID] = len(c.balls)
	c.balls = append(c.balls, b)
	return nil
}

// RemoveBall reports whether the ball existed. Results of jobs already in
// flight skip it.
func (c *Context) RemoveBall(id string) bool {
	i, ok := c.ballIndex[id]
	if !ok {
		return false
	}
	c.balls = slices.Delete(c.balls, i, i+1)
	c.reindexBalls()
	delete(c.rotations, id)
	if c.physics != nil {
		c.physics.RemoveBall(id)
	}
	return true
}

func (c *Context) AddBrick(b Brick) error {
	if _, ok := c.brickIndex[b.ID]; ok {
		return fmt.Errorf("%w: brick %q", ErrDuplicateID, b.ID)
	}
	if c.physics != nil {
		if err := c.physics.AddBrick(b.Brick); err != nil {
			return err
		}
	}
	c.brickIndex[b.ID] = len(c.bricks)
	c.bricks = append(c.bricks, b)
	c.dirty = true
	return nil
}

func (c *Context) RemoveBrick(id string) bool {
	i, ok := c.brickIndex[id]
	if !ok {
		return false
	}
	c.bricks = slices.Delete(c.bricks, i, i+1)
	c.reindexBricks()
	c.removed = append(c.removed, id)
	c.dirty = true
	return true
}

// Balls returns a copy of the current balls in insertion order.
func (c *Context) Balls() []kernel.Ball {
	return slices.Clone(c.balls)
}

func (c *Context) Bricks() []Brick {
	return slices.Clone(c.bricks)
}

// Ball looks a ball up by id.
func (c *Context) Ball(id string) (kernel.Ball, bool) {
	i, ok := c.ballIndex[id]
	if !ok {
		return kernel.Ball{}, false
	}
	return c.balls[i], true
}

// Frame advances the simulation by delta seconds. It never blocks on an
// offloaded job.
func (c *Context) Frame(delta float64) Report {
	rep := Report{Frame: c.frame.Add(1)}
	if c.closed {
		return rep
	}
	c.syncBricks()

	if c.physics != nil {
		c.stepPhysics(delta, &rep)
	} else {
		c.stepOffload(delta, &rep)
	}

	c.syncBricks()
	c.publish(rep)
	return rep
}

// Close stops the runtimes and destroys the physics world. The context
// cannot run frames afterwards.
func (c *Context) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true

	var errs []error
	if c.ring != nil {
		errs = append(errs, c.ring.Close())
	}
	if c.pool != nil {
		errs = append(errs, c.pool.Close())
	}
	if c.physics != nil {
		errs = append(errs, c.physics.Destroy())
	}
	return errors.Join(errs...)
}

func (c *Context) stepOffload(delta float64, rep *Report) {
	c.collect(rep)

	if c.inFlight != PathNone {
		if c.alive(c.inFlight) {
			rep.Path = PathWaiting
			return
		}
		c.logger.Warn("offloaded job lost, stepping synchronously",
			log.String("path", c.inFlight.String()),
			log.Uint64("frame", rep.Frame))
		c.inFlight = PathNone
	}

	if c.alive(PathRing) && c.ring.SubmitJobIfIdle(c.balls, delta, c.arena) {
		c.inFlight = PathRing
		rep.Path = PathRing
		return
	}
	if c.alive(PathPool) && c.pool.TickSimulation(&jobs.Input{BallIDs: c.ballIDs(), Batch: c.pack(delta)}) {
		c.inFlight = PathPool
		rep.Path = PathPool
		return
	}
	c.stepSync(delta, rep)
}

func (c *Context) alive(p Path) bool {
	switch p {
	case PathRing:
		return c.ring != nil && !c.ring.Disabled()
	case PathPool:
		return c.pool != nil && c.pool.State() == jobs.StateReady
	default:
		return false
	}
}

// collect applies a finished offloaded job, if any.
func (c *Context) collect(rep *Report) {
	switch c.inFlight {
	case PathRing:
		res := c.ring.TakeResultIfReady()
		if res == nil {
			return
		}
		c.inFlight = PathNone
		rep.JobID = res.JobID
		c.apply(res.BallIDs, res.Positions, res.Velocities, res.HitIndices, res.Damages, res.Bricks, rep)
	case PathPool:
		res := c.pool.TakePendingResult()
		if res == nil {
			return
		}
		c.inFlight = PathNone
		rep.JobID = res.JobID
		c.apply(res.BallIDs, res.Positions, res.Velocities, res.HitIndices, res.Damages, res.Bricks, rep)
		c.pool.Recycle(res)
	}
}

func (c *Context) stepSync(delta float64, rep *Report) {
	rep.Path = PathSync
	res := kernel.Step(c.pack(delta))
	damages := make([]float64, len(c.balls))
	for i, b := range c.balls {
		damages[i] = b.Damage
	}
	c.apply(c.ballIDs(), res.Positions, res.Velocities, res.HitIndices, damages, c.snapshot, rep)
}

// apply writes stepped state back by ball id. hits index into bricks, the
// snapshot the job ran against.
func (c *Context) apply(ids []string, pos, vel []float64, hits []int32, damages []float64, bricks []collide.Brick, rep *Report) {
	for i, id := range ids {
		j, ok := c.ballIndex[id]
		if !ok {
			continue
		}
		b := &c.balls[j]
		copy(b.Position[:], pos[i*3:i*3+3])
		copy(b.Velocity[:], vel[i*3:i*3+3])

		if i >= len(hits) || hits[i] == kernel.NoHit || int(hits[i]) >= len(bricks) {
			continue
		}
		damage := b.Damage
		if i < len(damages) {
			damage = damages[i]
		}
		c.hitBrick(id, bricks[hits[i]].ID, damage, rep)
	}
}

func (c *Context) hitBrick(ballID, brickID string, damage float64, rep *Report) {
	i, ok := c.brickIndex[brickID]
	if !ok {
		// destroyed by an earlier hit
		return
	}
	h := Hit{BallID: ballID, BrickID: brickID, Damage: damage}
	c.bricks[i].Health -= damage
	if c.bricks[i].Health <= 0 {
		h.Destroyed = true
		c.RemoveBrick(brickID)
	}
	rep.Hits = append(rep.Hits, h)
}

func (c *Context) stepPhysics(delta float64, rep *Report) {
	if err := c.physics.Step(delta); err != nil {
		c.logger.Warn("physics step failed, detaching adapter", log.Error(err))
		if c.sink != nil {
			c.sink.Record(diag.KindRuntimeDisabled, "sim.physics", err)
		}
		if derr := c.physics.Destroy(); derr != nil {
			c.logger.Debug("physics destroy after failure", log.Error(derr))
		}
		c.physics = nil
		c.stepSync(delta, rep)
		return
	}
	rep.Path = PathPhysics

	for _, st := range c.physics.GetBallStates() {
		i, ok := c.ballIndex[st.ID]
		if !ok {
			continue
		}
		c.balls[i].Position = st.Position
		c.balls[i].Velocity = st.Velocity
		c.rotations[st.ID] = st.Rotation
	}

	rep.Contacts = c.physics.DrainContactEvents()
	for _, ev := range rep.Contacts {
		i, ok := c.ballIndex[ev.BallID]
		if !ok {
			continue
		}
		c.hitBrick(ev.BallID, ev.BrickID, c.balls[i].Damage, rep)
	}
}

// syncBricks rebuilds the kernel snapshot after brick changes and pushes
// it to the ring and the physics world.
func (c *Context) syncBricks() {
	if !c.dirty {
		return
	}
	c.dirty = false
	c.snapshot = make([]collide.Brick, len(c.bricks))
	for i, b := range c.bricks {
		c.snapshot[i] = b.Brick
	}
	if c.ring != nil {
		c.ring.UpdateBricks(c.snapshot)
	}
	if c.physics != nil {
		for _, id := range c.removed {
			c.physics.RemoveBrick(id)
		}
	}
	c.removed = c.removed[:0]
}

func (c *Context) pack(delta float64) kernel.Batch {
	states := make([]kernel.BallState, len(c.balls))
	damages := make([]float64, len(c.balls))
	for i, b := range c.balls {
		states[i] = b.BallState
		damages[i] = b.Damage
	}
	return kernel.Pack(states, damages, delta, c.arena, c.snapshot)
}

func (c *Context) ballIDs() []string {
	ids := make([]string, len(c.balls))
	for i, b := range c.balls {
		ids[i] = b.ID
	}
	return ids
}

func (c *Context) reindexBalls() {
	clear(c.ballIndex)
	for i, b := range c.balls {
		c.ballIndex[b.ID] = i
	}
}

func (c *Context) reindexBricks() {
	clear(c.brickIndex)
	for i, b := range c.bricks {
		c.brickIndex[b.ID] = i
	}
}

func (c *Context) publish(rep Report) {
	if c.bus == nil {
		return
	}
	events := make([]bus.Event, 0, len(rep.Hits)+len(rep.Contacts)+1)
	for _, ev := range rep.Contacts {
		events = append(events, bus.NewEvent(bus.TypeContact, "sim", rep.Frame, ev))
	}
	for _, h := range rep.Hits {
		events = append(events, bus.NewEvent(bus.TypeHit, "sim", rep.Frame, h))
	}
	events = append(events, bus.NewEvent(bus.TypeFrame, "sim", rep.Frame, c.Snapshot(rep)))

	if err := c.bus.PublishBatch(events...); err != nil {
		c.logger.Warn("frame subscribers failed", log.Uint64("frame", rep.Frame), log.Error(err))
	}
}

// forwardDiagnostic may run on a worker goroutine.
func (c *Context) forwardDiagnostic(e diag.Entry) {
	typ := bus.TypeDiagnostic
	if e.Kind == diag.KindRuntimeDisabled {
		typ = bus.TypeRuntimeDisabled
	}
	if err := c.bus.Publish(bus.NewEvent(typ, e.Source, c.frame.Load(), e)); err != nil {
		c.logger.Debug("diagnostic subscribers failed", log.Error(err))
	}
}

// Run steps one frame of delta seconds per tick until ctx is done, ticks is
// closed or frames have run. frames <= 0 means no limit.
func (c *Context) Run(ctx context.Context, ticks <-chan time.Time, delta float64, frames int) error {
	for n := 0; frames <= 0 || n < frames; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
		}
		c.Frame(delta)
	}
	return nil
}
