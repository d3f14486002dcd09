// Package refworld is a small rigid-body world: dynamic spheres against
// fixed boxes, explicit Euler integration and restitution-only impulses.
// Its API follows the handle and event-queue style of the engines the
// physics adapter targets, so the adapter can be exercised without cgo.
package refworld

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/ballphys/internal/core/physics"
)

var (
	ErrFreed            = errors.New("refworld: world freed")
	ErrUnknownBody      = errors.New("refworld: unknown body")
	ErrUnsupportedShape = errors.New("refworld: unsupported shape")
)

type (
	RigidBodyHandle uint32
	ColliderHandle  uint32
)

// Vector and Rotation are the object-shaped values the world hands out.
type Vector struct {
	X, Y, Z float64
}

type Rotation struct {
	X, Y, Z, W float64
}

func toVector(v mgl64.Vec3) Vector { return Vector{X: v[0], Y: v[1], Z: v[2]} }
func (v Vector) vec() mgl64.Vec3 { return mgl64.Vec3{v.X, v.Y, v.Z} }

// ContactEvent is queued when a sphere starts touching a box.
type ContactEvent struct {
	Collider1 ColliderHandle
	Collider2 ColliderHandle
	Started   bool
	Point     Vector
	Normal    Vector
	Impulse   float64
}

type EventQueue struct {
	events []ContactEvent
}

// Drain returns the queued events and empties the queue.
func (q *EventQueue) Drain() []ContactEvent {
	out := q.events
	q.events = nil
	return out
}

func (q *EventQueue) Len() int {
	return len(q.events)
}

type World struct {
	gravity   mgl64.Vec3
	bodies    map[RigidBodyHandle]*RigidBody
	colliders []*Collider
	queue     *EventQueue
	touching  map[[2]ColliderHandle]struct{}

	nextBody     uint32
	nextCollider uint32
	freed        bool
}

func New(gravity mgl64.Vec3) *World {
	return &World{
		gravity:  gravity,
		bodies:   make(map[RigidBodyHandle]*RigidBody),
		queue:    &EventQueue{},
		touching: make(map[[2]ColliderHandle]struct{}),
	}
}

// Engine creates reference worlds for the physics adapter.
type Engine struct{}

func (Engine) NewWorld(gravity mgl64.Vec3) (physics.World, error) {
	return New(gravity), nil
}

func (w *World) EventQueue() *EventQueue {
	return w.queue
}

func (w *World) Bodies() int {
	return len(w.bodies)
}

func (w *World) CreateRigidBody(desc physics.RigidBodyDesc) (any, error) {
	if w.freed {
		return nil, ErrFreed
	}
	w.nextBody++
	b := &RigidBody{
		handle:      RigidBodyHandle(w.nextBody),
		fixed:       desc.Kind == physics.BodyFixed,
		translation: desc.Translation,
		linvel:      desc.Linvel,
		rotation:    mgl64.QuatIdent(),
		invMass:     1,
		invInertia:  1,
	}
	if b.fixed {
		b.linvel = mgl64.Vec3{}
		b.invMass, b.invInertia = 0, 0
	}
	w.bodies[b.handle] = b
	return b, nil
}

func (w *World) CreateCollider(desc physics.ColliderDesc, parent any) (any, error) {
	if w.freed {
		return nil, ErrFreed
	}
	b, ok := parent.(*RigidBody)
	if !ok || w.bodies[b.handle] != b {
		return nil, fmt.Errorf("%w: %v", ErrUnknownBody, parent)
	}
	c := &Collider{
		parent:       b,
		shape:        desc.Shape,
		radius:       desc.Radius,
		half:         desc.HalfExtents,
		restitution:  desc.Restitution,
		activeEvents: desc.ActiveEvents,
	}
	switch desc.Shape {
	case physics.ShapeBall:
		if desc.Radius <= 0 {
			return nil, fmt.Errorf("%w: ball radius %v", ErrUnsupportedShape, desc.Radius)
		}
		// unit density sphere
		b.setMass(4.0 / 3.0 * math.Pi * desc.Radius * desc.Radius * desc.Radius)
	case physics.ShapeCuboid:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedShape, desc.Shape)
	}
	w.nextCollider++
	c.handle = ColliderHandle(w.nextCollider)
	b.colliders = append(b.colliders, c)
	w.colliders = append(w.colliders, c)
	return c, nil
}

func (w *World) RemoveRigidBody(body any) error {
	if w.freed {
		return ErrFreed
	}
	b, ok := body.(*RigidBody)
	if !ok || w.bodies[b.handle] != b {
		return fmt.Errorf("%w: %v", ErrUnknownBody, body)
	}
	delete(w.bodies, b.handle)
	kept := w.colliders[:0]
	for _, c := range w.colliders {
		if c.parent != b {
			kept = append(kept, c)
		}
	}
	clear(w.colliders[len(kept):])
	w.colliders = kept
	return nil
}

// Step integrates dynamic bodies, then pushes spheres out of boxes and
// reflects their velocity along the contact normal.
func (w *World) Step(dt float64) error {
	if w.freed {
		return ErrFreed
	}
	for _, b := range w.bodies {
		if b.fixed {
			continue
		}
		b.linvel = b.linvel.Add(w.gravity.Mul(dt))
		b.translation = b.translation.Add(b.linvel.Mul(dt))
		b.integrateRotation(dt)
	}

	now := make(map[[2]ColliderHandle]struct{}, len(w.touching))
	for _, sphere := range w.colliders {
		if sphere.shape != physics.ShapeBall || sphere.parent.fixed {
			continue
		}
		for _, box := range w.colliders {
			if box.shape != physics.ShapeCuboid || box.parent == sphere.parent {
				continue
			}
			point, normal, depth, ok := sphereBox(sphere, box)
			if !ok {
				continue
			}
			impulse := resolve(sphere, box, normal, depth)

			key := [2]ColliderHandle{sphere.handle, box.handle}
			now[key] = struct{}{}
			if _, was := w.touching[key]; was || !(sphere.activeEvents || box.activeEvents) {
				continue
			}
			w.queue.events = append(w.queue.events, ContactEvent{
				Collider1: sphere.handle,
				Collider2: box.handle,
				Started:   true,
				Point:     toVector(point),
				Normal:    toVector(normal),
				Impulse:   impulse,
			})
		}
	}
	w.touching = now
	return nil
}

// Free releases the world. Further calls fail with ErrFreed.
func (w *World) Free() {
	w.freed = true
	clear(w.bodies)
	w.colliders = nil
	w.queue.events = nil
}

func sphereBox(sphere, box *Collider) (point, normal mgl64.Vec3, depth float64, ok bool) {
	center := sphere.parent.translation
	boxPos := box.parent.translation
	lo, hi := boxPos.Sub(box.half), boxPos.Add(box.half)
	point = mgl64.Vec3{
		mgl64.Clamp(center[0], lo[0], hi[0]),
		mgl64.Clamp(center[1], lo[1], hi[1]),
		mgl64.Clamp(center[2], lo[2], hi[2]),
	}
	diff := center.Sub(point)
	dist := diff.Len()
	if dist >= sphere.radius {
		return point, normal, 0, false
	}
	if dist > 0 {
		return point, diff.Mul(1 / dist), sphere.radius - dist, true
	}

	// centre inside the box: leave through the nearest face
	best := math.Inf(1)
	for axis := 0; axis < 3; axis++ {
		if d := center[axis] - lo[axis]; d < best {
			best = d
			normal = mgl64.Vec3{}
			normal[axis] = -1
		}
		if d := hi[axis] - center[axis]; d < best {
			best = d
			normal = mgl64.Vec3{}
			normal[axis] = 1
		}
	}
	return point, normal, best + sphere.radius, true
}

func resolve(sphere, box *Collider, normal mgl64.Vec3, depth float64) float64 {
	b := sphere.parent
	b.translation = b.translation.Add(normal.Mul(depth))

	along := b.linvel.Dot(normal)
	if along >= 0 || b.invMass == 0 {
		return 0
	}
	e := math.Min(sphere.restitution, box.restitution)
	j := -(1 + e) * along / b.invMass
	b.linvel = b.linvel.Add(normal.Mul(j * b.invMass))
	return j
}
