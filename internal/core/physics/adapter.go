// Package physics drives a native rigid-body engine behind a stable world
// interface. Everything the adapter reads from the engine goes through
// probes that accept several accessor and vector shapes, so engines with
// different conventions plug in without wrappers, and a misbehaving engine
// degrades to defaults instead of panicking into the frame loop.
package physics

import (
	stderrors "errors"
	"fmt"
	"reflect"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/ballphys/internal/core/collide"
	"github.com/zeusync/ballphys/internal/core/kernel"
	"github.com/zeusync/ballphys/internal/core/observability/diag"
	"github.com/zeusync/ballphys/internal/core/observability/log"
)

var (
	ErrNotReady      = errors.New("physics: world not ready")
	ErrInitializing  = errors.New("physics: world is initializing")
	ErrDestroyed     = errors.New("physics: world destroyed")
	ErrNoEngine      = errors.New("physics: no engine configured")
	ErrInvalidRadius = errors.New("physics: ball radius must be positive")
)

type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ImpulseMode reports how an impulse or torque reached the body.
type ImpulseMode uint8

const (
	ImpulseNone ImpulseMode = iota
	ImpulseObject
	ImpulseArray
	ImpulseNudge
)

func (m ImpulseMode) String() string {
	switch m {
	case ImpulseObject:
		return "object"
	case ImpulseArray:
		return "array"
	case ImpulseNudge:
		return "nudge"
	default:
		return "none"
	}
}

// NudgeFactor scales an impulse added straight to velocity when the engine
// offers no impulse API.
const NudgeFactor = 0.5

var (
	translationNames = []string{"Translation", "Position"}
	linvelNames      = []string{"Linvel", "LinearVelocity", "Velocity"}
	rotationNames    = []string{"Rotation", "Quaternion"}
	angvelNames      = []string{"Angvel", "AngularVelocity"}
	handleNames      = []string{"Handle", "ID"}

	setTranslationNames = []string{"SetTranslation", "SetPosition"}
	setLinvelNames      = []string{"SetLinvel", "SetLinearVelocity", "SetVelocity"}
	setAngvelNames      = []string{"SetAngvel", "SetAngularVelocity"}
	impulseMethodNames  = []string{"ApplyImpulse", "AddImpulse"}
	torqueMethodNames   = []string{"ApplyTorqueImpulse", "ApplyTorque", "AddTorque"}
	freeNames           = []string{"Free", "Close", "Destroy", "Dispose"}
)

// BallState is a ball as the engine currently sees it.
type BallState struct {
	ID              string
	Position        mgl64.Vec3
	Velocity        mgl64.Vec3
	Rotation        mgl64.Quat
	AngularVelocity mgl64.Vec3
}

type body struct {
	entity   Entity
	native   any
	collider any
	keys     []handleKey
	radius   float64
	position mgl64.Vec3
}

type Option func(*Adapter)

func WithGravity(g mgl64.Vec3) Option {
	return func(a *Adapter) { a.gravity = g }
}

func WithDiagnostics(rec diag.Recorder) Option {
	return func(a *Adapter) { a.diag = rec }
}

// WithOverlapEpsilon changes the tolerance of the overlap detector.
func WithOverlapEpsilon(eps float64) Option {
	return func(a *Adapter) { a.epsilon = eps }
}

// Adapter owns one native world. It is driven from the frame loop goroutine
// and is not safe for concurrent use.
type Adapter struct {
	id      string
	engine  Engine
	logger  log.Log
	diag    diag.Recorder
	gravity mgl64.Vec3
	epsilon float64

	state   State
	world   World
	probe   *prober
	handles *handleMap
	balls   map[string]*body
	bricks  map[string]*body

	source  contactSource
	pending []ContactEvent
}

func New(engine Engine, logger log.Log, opts ...Option) *Adapter {
	a := &Adapter{
		id:      uuid.NewString(),
		engine:  engine,
		diag:    diag.Discard,
		epsilon: OverlapEpsilon,
		handles: newHandleMap(),
		balls:   make(map[string]*body),
		bricks:  make(map[string]*body),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = log.OrNop(logger).With(log.String("component", "physics"), log.String("world_id", a.id))
	a.probe = newProber(a.diag)
	return a
}

func (a *Adapter) ID() string {
	return a.id
}

func (a *Adapter) State() State {
	return a.state
}

// Init creates the native world. On failure the adapter is back to
// uninitialized and Init may be retried.
func (a *Adapter) Init() (err error) {
	switch a.state {
	case StateReady:
		return nil
	case StateInitializing:
		return ErrInitializing
	case StateDestroyed:
		return ErrDestroyed
	}
	a.state = StateInitializing

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("physics: engine panicked creating world: %v", r)
		}
		if err != nil {
			a.state = StateUninitialized
			a.world = nil
			a.logger.Warn("physics world init failed", log.Error(err))
		}
	}()

	if a.engine == nil {
		return ErrNoEngine
	}
	w, err := a.engine.NewWorld(a.gravity)
	if err != nil {
		return errors.Wrap(err, "physics: create native world")
	}
	if w == nil {
		return errors.New("physics: engine returned a nil world")
	}

	a.world = w
	a.source = contactSource{}
	a.state = StateReady
	a.logger.Info("physics world ready", log.String("world", fmt.Sprintf("%T", w)))
	return nil
}

// AddBall creates a dynamic sphere, or moves an existing one.
func (a *Adapter) AddBall(ball kernel.Ball) error {
	if err := a.ready(); err != nil {
		return err
	}
	if ball.Radius <= 0 {
		return errors.Wrapf(ErrInvalidRadius, "ball %q radius %v", ball.ID, ball.Radius)
	}

	if existing, ok := a.balls[ball.ID]; ok {
		existing.radius = ball.Radius
		a.writeVec(existing.native, setTranslationNames, translationNames, ball.Position)
		a.writeVec(existing.native, setLinvelNames, linvelNames, ball.Velocity)
		return nil
	}

	b, err := a.create(
		Entity{Kind: EntityBall, ID: ball.ID},
		RigidBodyDesc{Kind: BodyDynamic, Translation: ball.Position, Linvel: ball.Velocity, CCD: true},
		ColliderDesc{Shape: ShapeBall, Radius: ball.Radius, Restitution: 1, ActiveEvents: true},
	)
	if err != nil {
		return err
	}
	b.radius = ball.Radius
	b.position = ball.Position
	a.balls[ball.ID] = b
	return nil
}

// AddBrick creates a fixed box with the shared brick half extents, or moves
// an existing one.
func (a *Adapter) AddBrick(brick collide.Brick) error {
	if err := a.ready(); err != nil {
		return err
	}

	if existing, ok := a.bricks[brick.ID]; ok {
		existing.position = brick.Position
		a.writeVec(existing.native, setTranslationNames, translationNames, brick.Position)
		return nil
	}

	b, err := a.create(
		Entity{Kind: EntityBrick, ID: brick.ID},
		RigidBodyDesc{Kind: BodyFixed, Translation: brick.Position},
		ColliderDesc{Shape: ShapeCuboid, HalfExtents: collide.BrickHalfExtents, Restitution: 1, ActiveEvents: true},
	)
	if err != nil {
		return err
	}
	b.position = brick.Position
	a.bricks[brick.ID] = b
	return nil
}

func (a *Adapter) RemoveBall(id string) bool {
	return a.remove(a.balls, id)
}

func (a *Adapter) RemoveBrick(id string) bool {
	return a.remove(a.bricks, id)
}

// Step advances the native world by the clamped delta. Without a native
// contact source the overlap detector runs after the step.
func (a *Adapter) Step(delta float64) (err error) {
	if err := a.ready(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("physics: native step panicked: %v", r)
		}
	}()

	if err := a.world.Step(collide.ClampDelta(delta)); err != nil {
		return errors.Wrap(err, "physics: native step")
	}

	if !a.source.resolved {
		a.source = resolveContactSource(a.world)
		if !a.source.found() {
			a.logger.Debug("no native contact source, using overlap detector")
		}
	}
	if !a.source.found() {
		a.pending = append(a.pending, a.detectOverlaps()...)
	}
	return nil
}

// DrainContactEvents returns the contacts since the last drain.
func (a *Adapter) DrainContactEvents() []ContactEvent {
	if a.state != StateReady {
		return nil
	}
	if !a.source.resolved {
		a.source = resolveContactSource(a.world)
	}
	if !a.source.found() {
		out := a.pending
		a.pending = nil
		return out
	}

	raw := a.fetchRaw()
	out := make([]ContactEvent, 0, len(raw))
	for _, ev := range raw {
		if e, ok := a.parseEvent(ev); ok {
			out = append(out, e)
		}
	}
	return out
}

// GetBallStates reads every ball back from the engine, ordered by id.
func (a *Adapter) GetBallStates() []BallState {
	if a.state != StateReady {
		return nil
	}
	out := make([]BallState, 0, len(a.balls))
	for _, id := range sortedKeys(a.balls) {
		b := a.balls[id]
		pos, _ := a.probe.readVec(b.native, "translation", translationNames)
		vel, _ := a.probe.readVec(b.native, "linvel", linvelNames)
		rot, _ := a.probe.readQuat(b.native, "rotation", rotationNames)
		ang, _ := a.probe.readVec(b.native, "angvel", angvelNames)
		out = append(out, BallState{ID: id, Position: pos, Velocity: vel, Rotation: rot, AngularVelocity: ang})
	}
	return out
}

func (a *Adapter) ApplyImpulseToBall(id string, impulse mgl64.Vec3) ImpulseMode {
	return a.applyToBall(id, impulse, impulseMethodNames, "linvel", linvelNames, setLinvelNames)
}

func (a *Adapter) ApplyTorqueToBall(id string, torque mgl64.Vec3) ImpulseMode {
	return a.applyToBall(id, torque, torqueMethodNames, "angvel", angvelNames, setAngvelNames)
}

// Destroy removes every body and frees the native world. Failures are
// collected and returned but never stop the teardown.
func (a *Adapter) Destroy() error {
	if a.state == StateDestroyed {
		return nil
	}
	var errs []error
	if a.state == StateReady {
		for _, m := range []map[string]*body{a.balls, a.bricks} {
			for _, b := range m {
				if err := a.removeNative(b); err != nil {
					errs = append(errs, err)
				}
			}
		}
		if _, err := callNoArgs(a.world, freeNames...); err != nil {
			a.diag.Record(diag.KindDispose, "world", err)
			errs = append(errs, err)
		}
	}
	clear(a.balls)
	clear(a.bricks)
	a.handles.reset()
	a.pending = nil
	a.world = nil
	a.state = StateDestroyed
	a.logger.Info("physics world destroyed", log.Int("errors", len(errs)))
	return stderrors.Join(errs...)
}

func (a *Adapter) ready() error {
	switch a.state {
	case StateReady:
		return nil
	case StateDestroyed:
		return ErrDestroyed
	default:
		return ErrNotReady
	}
}

func (a *Adapter) create(e Entity, bd RigidBodyDesc, cd ColliderDesc) (b *body, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("physics: engine panicked creating %s %q: %v", e.Kind, e.ID, r)
		}
	}()

	native, err := a.world.CreateRigidBody(bd)
	if err != nil {
		return nil, errors.Wrapf(err, "physics: create %s %q body", e.Kind, e.ID)
	}
	collider, err := a.world.CreateCollider(cd, native)
	if err != nil {
		_ = a.world.RemoveRigidBody(native)
		return nil, errors.Wrapf(err, "physics: create %s %q collider", e.Kind, e.ID)
	}

	b = &body{entity: e, native: native, collider: collider}
	for _, obj := range []any{native, collider} {
		k, ok := a.handleKey(obj)
		if !ok {
			continue
		}
		if !a.handles.put(k, e) {
			a.diag.Record(diag.KindHandle, e.ID,
				errors.Errorf("physics: %s %q shares engine key %s with another entity", e.Kind, e.ID, k.str))
			continue
		}
		b.keys = append(b.keys, k)
	}
	return b, nil
}

// handleKey is the engine's handle for obj, or obj itself when it has none.
func (a *Adapter) handleKey(obj any) (handleKey, bool) {
	if obj == nil {
		return handleKey{}, false
	}
	v := reflect.ValueOf(obj)
	if h, ok := a.probe.get(v, "handle", handleNames); ok {
		if k, ok := keyOf(h); ok {
			return k, true
		}
	}
	return keyOf(v)
}

func (a *Adapter) remove(m map[string]*body, id string) bool {
	if a.state != StateReady {
		return false
	}
	b, ok := m[id]
	if !ok {
		return false
	}
	_ = a.removeNative(b)
	delete(m, id)
	return true
}

func (a *Adapter) removeNative(b *body) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("physics: remove %s %q: %v", b.entity.Kind, b.entity.ID, r)
		}
		if err != nil {
			a.diag.Record(diag.KindDispose, b.entity.ID, err)
		}
	}()
	a.handles.drop(b.keys)
	return a.world.RemoveRigidBody(b.native)
}

func (a *Adapter) applyToBall(id string, vec mgl64.Vec3, methods []string, prop string, getters, setters []string) ImpulseMode {
	if a.state != StateReady {
		return ImpulseNone
	}
	b, ok := a.balls[id]
	if !ok {
		return ImpulseNone
	}

	if s, ok := a.probe.callVec(b.native, diag.KindImpulse, methods, vec); ok {
		if s == shapeObject {
			return ImpulseObject
		}
		return ImpulseArray
	}

	current, _ := a.probe.readVec(b.native, prop, getters)
	if a.writeVec(b.native, setters, getters, current.Add(vec.Mul(NudgeFactor))) {
		return ImpulseNudge
	}
	a.diag.Record(diag.KindImpulse, id, fmt.Errorf("physics: no way to change %s of ball %q", prop, id))
	return ImpulseNone
}

// writeVec tries setter methods first, then assignable fields.
func (a *Adapter) writeVec(obj any, setters, fields []string, vec mgl64.Vec3) bool {
	if _, ok := a.probe.callVec(obj, diag.KindProbe, setters, vec); ok {
		return true
	}
	return a.probe.setField(obj, diag.KindProbe, fields, vec)
}
