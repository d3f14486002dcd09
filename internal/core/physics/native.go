package physics

import "github.com/go-gl/mathgl/mgl64"

type BodyKind uint8

const (
	BodyDynamic BodyKind = iota
	BodyFixed
)

type ShapeKind uint8

const (
	ShapeBall ShapeKind = iota
	ShapeCuboid
)

type RigidBodyDesc struct {
	Kind        BodyKind
	Translation mgl64.Vec3
	Linvel      mgl64.Vec3
	CCD         bool
}

type ColliderDesc struct {
	Shape        ShapeKind
	Radius       float64
	HalfExtents  mgl64.Vec3
	Restitution  float64
	Friction     float64
	ActiveEvents bool
}

// World is the part of a native engine the adapter calls directly: creating,
// removing and stepping bodies. Bodies, colliders, handles and contact
// events come back as opaque values and are read through probes.
type World interface {
	CreateRigidBody(desc RigidBodyDesc) (any, error)
	CreateCollider(desc ColliderDesc, body any) (any, error)
	RemoveRigidBody(body any) error
	Step(dt float64) error
}

// Engine creates native worlds.
type Engine interface {
	NewWorld(gravity mgl64.Vec3) (World, error)
}

type EngineFunc func(gravity mgl64.Vec3) (World, error)

func (f EngineFunc) NewWorld(gravity mgl64.Vec3) (World, error) {
	return f(gravity)
}
