package refworld

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/ballphys/internal/core/physics"
)

type RigidBody struct {
	handle      RigidBodyHandle
	fixed       bool
	translation mgl64.Vec3
	linvel      mgl64.Vec3
	rotation    mgl64.Quat
	angvel      mgl64.Vec3
	invMass     float64
	invInertia  float64
	colliders   []*Collider
}

func (b *RigidBody) Handle() RigidBodyHandle { return b.handle }
func (b *RigidBody) IsFixed() bool { return b.fixed }
func (b *RigidBody) Translation() Vector { return toVector(b.translation) }
func (b *RigidBody) Linvel() Vector { return toVector(b.linvel) }
func (b *RigidBody) Angvel() Vector { return toVector(b.angvel) }

func (b *RigidBody) Rotation() Rotation {
	return Rotation{X: b.rotation.V[0], Y: b.rotation.V[1], Z: b.rotation.V[2], W: b.rotation.W}
}

func (b *RigidBody) Mass() float64 {
	if b.invMass == 0 {
		return 0
	}
	return 1 / b.invMass
}

func (b *RigidBody) SetTranslation(v Vector, _ bool) {
	b.translation = v.vec()
}

func (b *RigidBody) SetLinvel(v Vector, _ bool) {
	if !b.fixed {
		b.linvel = v.vec()
	}
}

func (b *RigidBody) SetAngvel(v Vector, _ bool) {
	if !b.fixed {
		b.angvel = v.vec()
	}
}

// ApplyImpulse changes linear velocity by impulse / mass.
func (b *RigidBody) ApplyImpulse(impulse Vector, _ bool) {
	b.linvel = b.linvel.Add(impulse.vec().Mul(b.invMass))
}

func (b *RigidBody) ApplyTorqueImpulse(torque Vector, _ bool) {
	b.angvel = b.angvel.Add(torque.vec().Mul(b.invInertia))
}

func (b *RigidBody) setMass(mass float64) {
	if b.fixed || mass <= 0 {
		return
	}
	b.invMass = 1 / mass
	b.invInertia = b.invMass
}

func (b *RigidBody) integrateRotation(dt float64) {
	if b.angvel.Len() == 0 {
		return
	}
	spin := mgl64.Quat{V: b.angvel}.Mul(b.rotation).Scale(0.5 * dt)
	b.rotation = b.rotation.Add(spin).Normalize()
}

type Collider struct {
	handle       ColliderHandle
	parent       *RigidBody
	shape        physics.ShapeKind
	radius       float64
	half         mgl64.Vec3
	restitution  float64
	activeEvents bool
}

func (c *Collider) Handle() ColliderHandle { return c.handle }
func (c *Collider) Parent() RigidBodyHandle { return c.parent.handle }
