package physics

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
)

// fakeBody exposes everything through plain fields.
type fakeBody struct {
	Handle      uint32
	Translation [3]float64
	Linvel      map[string]float64
	Rotation    []float64
}

// arrayBody exposes accessor methods that take and return arrays.
type arrayBody struct {
	id  uint32
	pos [3]float64
	vel []float64
}

func (b *arrayBody) Handle() uint32 { return b.id }
func (b *arrayBody) Translation() [3]float64 { return b.pos }
func (b *arrayBody) Linvel() []float64 { return b.vel }
func (b *arrayBody) SetTranslation(v []float64) {
	copy(b.pos[:], v)
}
func (b *arrayBody) SetLinvel(v []float64) {
	b.vel = append(b.vel[:0], v...)
}
func (b *arrayBody) ApplyImpulse(v [3]float64, _ bool) error {
	for i := range v {
		b.vel[i] += v[i]
	}
	return nil
}

type fakeCollider struct {
	Handle uint32
}

var errRemove = errors.New("remove failed")

type fakeWorld struct {
	arrays    bool
	next      uint32
	bodies    map[uint32]any
	steps     int
	freed     int
	removeErr error
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{bodies: make(map[uint32]any)}
}

func (w *fakeWorld) CreateRigidBody(desc RigidBodyDesc) (any, error) {
	w.next++
	if w.arrays {
		b := &arrayBody{id: w.next, pos: desc.Translation, vel: desc.Linvel[:]}
		w.bodies[w.next] = b
		return b, nil
	}
	b := &fakeBody{
		Handle:      w.next,
		Translation: desc.Translation,
		Linvel:      map[string]float64{"x": desc.Linvel[0], "y": desc.Linvel[1], "z": desc.Linvel[2]},
	}
	w.bodies[w.next] = b
	return b, nil
}

func (w *fakeWorld) CreateCollider(_ ColliderDesc, body any) (any, error) {
	switch b := body.(type) {
	case *fakeBody:
		return fakeCollider{Handle: 1000 + b.Handle}, nil
	case *arrayBody:
		return fakeCollider{Handle: 1000 + b.id}, nil
	}
	return nil, errors.New("unknown body")
}

func (w *fakeWorld) RemoveRigidBody(body any) error {
	if w.removeErr != nil {
		return w.removeErr
	}
	switch b := body.(type) {
	case *fakeBody:
		delete(w.bodies, b.Handle)
	case *arrayBody:
		delete(w.bodies, b.id)
	}
	return nil
}

func (w *fakeWorld) Step(dt float64) error {
	w.steps++
	for _, raw := range w.bodies {
		b, ok := raw.(*fakeBody)
		if !ok {
			continue
		}
		b.Translation[0] += b.Linvel["x"] * dt
		b.Translation[1] += b.Linvel["y"] * dt
		b.Translation[2] += b.Linvel["z"] * dt
	}
	return nil
}

func (w *fakeWorld) Free() {
	w.freed++
}

// queueWorld hands out events through a function-valued field.
type queueWorld struct {
	*fakeWorld
	ContactEvents func() []map[string]any
}

// sliceWorld keeps raw events in a plain field.
type sliceWorld struct {
	*fakeWorld
	Events []any
}

func engineFor(w World) Engine {
	return EngineFunc(func(mgl64.Vec3) (World, error) { return w, nil })
}
