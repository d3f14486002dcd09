// Package collide holds the pure collision maths shared by every execution
// path of the ball/brick simulation. Nothing here allocates or keeps state.
package collide

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// MaxDelta bounds the per-frame time step regardless of real elapsed time.
const MaxDelta = 0.05

// Brick half extents are engine-wide; bricks carry no size of their own.
const (
	BrickHalfX = 1.0
	BrickHalfY = 0.5
	BrickHalfZ = 0.5
)

// BrickHalfExtents is the box size shared by CollisionMath and the engine adapter.
var BrickHalfExtents = mgl64.Vec3{BrickHalfX, BrickHalfY, BrickHalfZ}

// Axis names the separating axis of a ball/brick hit.
type Axis int8

const (
	AxisNone Axis = iota - 1
	AxisX
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return "none"
	}
}

type Brick struct {
	ID       string
	Position mgl64.Vec3
}

// Target is the sphere tested against a brick.
type Target struct {
	Position mgl64.Vec3
	Radius   float64
}

// Hit describes which velocity axis to invert and which brick was struck.
type Hit struct {
	Axis    Axis
	BrickID string
}

// ClampDelta caps delta at MaxDelta.
func ClampDelta(delta float64) float64 {
	return math.Min(delta, MaxDelta)
}

// ReflectIfOutOfBounds clamps pos into [-limit, limit] and reports whether it
// had to. The caller flips the matching velocity component on reflection.
func ReflectIfOutOfBounds(pos, limit float64) (value float64, reflected bool) {
	if pos < -limit {
		return -limit, true
	}
	if pos > limit {
		return limit, true
	}
	return pos, false
}

// ClosestPoint returns the point of the brick box centred at center that is
// closest to p.
func ClosestPoint(p, center mgl64.Vec3) mgl64.Vec3 {
	d := p.Sub(center)
	return mgl64.Vec3{
		center[0] + mgl64.Clamp(d[0], -BrickHalfX, BrickHalfX),
		center[1] + mgl64.Clamp(d[1], -BrickHalfY, BrickHalfY),
		center[2] + mgl64.Clamp(d[2], -BrickHalfZ, BrickHalfZ),
	}
}

// ResolveBrickCollision tests target against brick. On a hit the separating
// axis is the one with the largest distance to the closest point, ties
// resolved x before y before z.
func ResolveBrickCollision(target Target, brick Brick) (Hit, bool) {
	closest := ClosestPoint(target.Position, brick.Position)
	diff := target.Position.Sub(closest)
	if diff.Len() >= target.Radius {
		return Hit{Axis: AxisNone}, false
	}

	dx, dy, dz := math.Abs(diff[0]), math.Abs(diff[1]), math.Abs(diff[2])
	axis := AxisZ
	switch {
	case dx >= dy && dx >= dz:
		axis = AxisX
	case dy >= dz:
		axis = AxisY
	}
	return Hit{Axis: axis, BrickID: brick.ID}, true
}
