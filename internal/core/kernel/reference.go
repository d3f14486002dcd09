package kernel

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/ballphys/internal/core/collide"
)

// BallState is one ball in structured form.
type BallState struct {
	Position mgl64.Vec3
	Velocity mgl64.Vec3
	Radius   float64
}

// Ball is a simulated ball as the offload runtimes receive it.
type Ball struct {
	ID string
	BallState
	Damage float64
}

// StepBall advances a single ball. It is the readable reference the batched
// paths are checked against; hit is the struck brick's index or NoHit.
func StepBall(ball BallState, delta float64, arena Arena, bricks []collide.Brick) (out BallState, hit int32) {
	scale := collide.ClampDelta(delta) * FrameScale
	out = ball
	hit = NoHit

	limits := [3]float64{arena.X, arena.Y, arena.Z}
	for axis := 0; axis < 3; axis++ {
		p := ball.Position[axis] + ball.Velocity[axis]*scale
		p, reflected := collide.ReflectIfOutOfBounds(p, limits[axis])
		out.Position[axis] = p
		if reflected {
			out.Velocity[axis] = -out.Velocity[axis]
		}
	}

	for j, brick := range bricks {
		h, ok := collide.ResolveBrickCollision(collide.Target{Position: out.Position, Radius: ball.Radius}, brick)
		if !ok {
			continue
		}
		out.Velocity[h.Axis] = -out.Velocity[h.Axis]
		return out, int32(j)
	}
	return out, hit
}

// Pack flattens balls into a Batch ready for the batched entry points.
func Pack(balls []BallState, damages []float64, delta float64, arena Arena, bricks []collide.Brick) Batch {
	b := Batch{
		Count:      len(balls),
		Delta:      delta,
		Arena:      arena,
		Positions:  make([]float64, len(balls)*3),
		Velocities: make([]float64, len(balls)*3),
		Radii:      make([]float64, len(balls)),
		Damages:    make([]float64, len(balls)),
		Bricks:     bricks,
	}
	for i, ball := range balls {
		copy(b.Positions[i*3:i*3+3], ball.Position[:])
		copy(b.Velocities[i*3:i*3+3], ball.Velocity[:])
		b.Radii[i] = ball.Radius
		if i < len(damages) {
			b.Damages[i] = damages[i]
		}
	}
	return b
}
