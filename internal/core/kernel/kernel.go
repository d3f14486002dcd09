// Package kernel advances a batch of balls against a brick list. The same
// per-ball step backs the copy-returning, in-place and chunked-parallel
// entry points, so every execution path produces the same numbers.
package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/ballphys/internal/core/collide"
	"github.com/zeusync/ballphys/pkg/concurrent"
)

// NoHit marks a ball that struck no brick this step.
const NoHit int32 = -1

// FrameScale converts a clamped delta in seconds into 60 Hz frame units.
const FrameScale = 60.0

var (
	ErrNegativeCount = errors.New("kernel: negative ball count")
	ErrShortBuffer   = errors.New("kernel: buffer shorter than ball count")
)

// Arena holds the half sizes of the play field along each axis.
type Arena struct {
	X, Y, Z float64
}

func (a Arena) limit(axis int) float64 {
	switch axis {
	case 0:
		return a.X
	case 1:
		return a.Y
	default:
		return a.Z
	}
}

// Batch is one step's worth of input in flat form: ball i occupies
// Positions[3i:3i+3], Velocities[3i:3i+3], Radii[i] and Damages[i].
type Batch struct {
	Count      int
	Delta      float64
	Arena      Arena
	Positions  []float64
	Velocities []float64
	Radii      []float64
	Damages    []float64
	Bricks     []collide.Brick
}

// Result is the copy-mode output. HitIndices holds an index into the
// batch's Bricks or NoHit.
type Result struct {
	Positions  []float64
	Velocities []float64
	HitIndices []int32
}

// Validate reports whether the buffers can hold Count balls.
func (b Batch) Validate() error {
	if b.Count < 0 {
		return ErrNegativeCount
	}
	if len(b.Positions) < b.Count*3 || len(b.Velocities) < b.Count*3 || len(b.Radii) < b.Count {
		return fmt.Errorf("%w: count=%d positions=%d velocities=%d radii=%d",
			ErrShortBuffer, b.Count, len(b.Positions), len(b.Velocities), len(b.Radii))
	}
	return nil
}

// Step runs the batch and returns freshly allocated output arrays. The input
// buffers are not modified.
func Step(b Batch) Result {
	res := Result{
		Positions:  make([]float64, b.Count*3),
		Velocities: make([]float64, b.Count*3),
		HitIndices: make([]int32, b.Count),
	}
	StepInto(b, res.Positions, res.Velocities, res.HitIndices)
	return res
}

// StepInto runs the batch writing into caller supplied views. outPos and
// outVel may alias the batch's own Positions and Velocities.
func StepInto(b Batch, outPos, outVel []float64, outHits []int32) {
	stepRange(b, 0, b.Count, outPos, outVel, outHits)
}

// StepParallel runs StepInto with the balls split across workers goroutines.
// Balls are independent, so the result equals StepInto.
func StepParallel(ctx context.Context, b Batch, workers int, outPos, outVel []float64, outHits []int32) error {
	return concurrent.Chunks(ctx, b.Count, workers, func(_ context.Context, lo, hi int) error {
		stepRange(b, lo, hi, outPos, outVel, outHits)
		return nil
	})
}

func stepRange(b Batch, lo, hi int, outPos, outVel []float64, outHits []int32) {
	scale := collide.ClampDelta(b.Delta) * FrameScale

	for i := lo; i < hi; i++ {
		base := i * 3
		var pos, vel [3]float64
		copy(pos[:], b.Positions[base:base+3])
		copy(vel[:], b.Velocities[base:base+3])

		var next [3]float64
		for axis := 0; axis < 3; axis++ {
			next[axis] = pos[axis] + vel[axis]*scale
			if v, reflected := collide.ReflectIfOutOfBounds(next[axis], b.Arena.limit(axis)); reflected {
				next[axis] = v
				vel[axis] = -vel[axis]
			}
		}

		hitIndex := NoHit
		target := collide.Target{Position: mgl64.Vec3(next), Radius: b.Radii[i]}
		for j := range b.Bricks {
			if hit, ok := collide.ResolveBrickCollision(target, b.Bricks[j]); ok {
				vel[hit.Axis] = -vel[hit.Axis]
				hitIndex = int32(j)
				break
			}
		}

		copy(outPos[base:base+3], next[:])
		copy(outVel[base:base+3], vel[:])
		outHits[i] = hitIndex
	}
}
