package kernel

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/ballphys/internal/core/collide"
)

const tolerance = 1e-6

var testArena = Arena{X: 10, Y: 6, Z: 4}

func randomBalls(r *rand.Rand, n int) []BallState {
	balls := make([]BallState, n)
	for i := range balls {
		balls[i] = BallState{
			Position: mgl64.Vec3{r.Float64()*20 - 10, r.Float64()*12 - 6, r.Float64()*8 - 4},
			Velocity: mgl64.Vec3{r.Float64()*2 - 1, r.Float64()*2 - 1, r.Float64()*2 - 1},
			Radius:   0.2 + r.Float64()*0.4,
		}
	}
	return balls
}

func brickGrid() []collide.Brick {
	var bricks []collide.Brick
	for x := -6.0; x <= 6; x += 3 {
		for y := -3.0; y <= 3; y += 2 {
			bricks = append(bricks, collide.Brick{ID: "brick", Position: mgl64.Vec3{x, y, 0}})
		}
	}
	return bricks
}

func requireMatchesReference(t *testing.T, balls []BallState, b Batch, pos, vel []float64, hits []int32) {
	t.Helper()
	for i, ball := range balls {
		want, wantHit := StepBall(ball, b.Delta, b.Arena, b.Bricks)
		for axis := 0; axis < 3; axis++ {
			require.InDelta(t, want.Position[axis], pos[i*3+axis], tolerance, "ball %d pos[%d]", i, axis)
			require.InDelta(t, want.Velocity[axis], vel[i*3+axis], tolerance, "ball %d vel[%d]", i, axis)
		}
		require.Equal(t, wantHit, hits[i], "ball %d hit", i)
	}
}

func TestKernel_Parity(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	bricks := brickGrid()

	for _, delta := range []float64{1.0 / 60, 0.05 / 60, 0.004, 0.2} {
		balls := randomBalls(r, 257)
		b := Pack(balls, nil, delta, testArena, bricks)

		t.Run("Copy Mode", func(t *testing.T) {
			before := append([]float64(nil), b.Positions...)
			res := Step(b)
			require.Equal(t, before, b.Positions)
			requireMatchesReference(t, balls, b, res.Positions, res.Velocities, res.HitIndices)
		})

		t.Run("In Place Mode", func(t *testing.T) {
			pos := make([]float64, b.Count*3)
			vel := make([]float64, b.Count*3)
			hits := make([]int32, b.Count)
			StepInto(b, pos, vel, hits)
			requireMatchesReference(t, balls, b, pos, vel, hits)
		})

		t.Run("In Place Aliased", func(t *testing.T) {
			aliased := Pack(balls, nil, delta, testArena, bricks)
			hits := make([]int32, aliased.Count)
			StepInto(aliased, aliased.Positions, aliased.Velocities, hits)
			requireMatchesReference(t, balls, b, aliased.Positions, aliased.Velocities, hits)
		})

		t.Run("Parallel", func(t *testing.T) {
			pos := make([]float64, b.Count*3)
			vel := make([]float64, b.Count*3)
			hits := make([]int32, b.Count)
			require.NoError(t, StepParallel(context.Background(), b, 5, pos, vel, hits))
			requireMatchesReference(t, balls, b, pos, vel, hits)
		})
	}
}

func TestKernel_WallReflection(t *testing.T) {
	ball := BallState{Position: mgl64.Vec3{testArena.X - 0.1, 0, 0}, Velocity: mgl64.Vec3{1, 0, 0}, Radius: 0.5}
	res := Step(Pack([]BallState{ball}, nil, 1.0/60, testArena, nil))

	require.LessOrEqual(t, res.Positions[0], testArena.X)
	require.Less(t, res.Velocities[0], 0.0)
	require.Equal(t, NoHit, res.HitIndices[0])
}

func TestKernel_BrickTieBreak(t *testing.T) {
	ball := BallState{Position: mgl64.Vec3{-0.1, 0, 0}, Velocity: mgl64.Vec3{0.2, 0, 0}, Radius: 0.5}
	bricks := []collide.Brick{{ID: "origin", Position: mgl64.Vec3{}}}
	res := Step(Pack([]BallState{ball}, nil, 1.0/60, testArena, bricks))

	require.Equal(t, int32(0), res.HitIndices[0])
	require.Equal(t, "origin", bricks[res.HitIndices[0]].ID)
	require.InDelta(t, -0.2, res.Velocities[0], tolerance)
}

func TestKernel_FirstHitWins(t *testing.T) {
	ball := BallState{Position: mgl64.Vec3{0, 0, 0}, Velocity: mgl64.Vec3{0, 0, 0}, Radius: 0.5}
	bricks := []collide.Brick{
		{ID: "far-but-first", Position: mgl64.Vec3{1.2, 0, 0}},
		{ID: "centred", Position: mgl64.Vec3{0, 0, 0}},
	}
	_, hit := StepBall(ball, 1.0/60, testArena, bricks)
	require.Equal(t, int32(0), hit)
}

func TestKernel_DeltaIsClamped(t *testing.T) {
	ball := BallState{Position: mgl64.Vec3{0, 0, 0}, Velocity: mgl64.Vec3{0.01, 0, 0}, Radius: 0.1}
	out, _ := StepBall(ball, 10, testArena, nil)
	require.InDelta(t, 0.01*collide.MaxDelta*FrameScale, out.Position[0], tolerance)
}

func TestBatch_Validate(t *testing.T) {
	require.NoError(t, Pack(randomBalls(rand.New(rand.NewPCG(1, 2)), 3), nil, 0.01, testArena, nil).Validate())
	require.ErrorIs(t, Batch{Count: -1}.Validate(), ErrNegativeCount)
	require.ErrorIs(t, Batch{Count: 2, Positions: make([]float64, 3)}.Validate(), ErrShortBuffer)
}

func BenchmarkKernel_Step(b *testing.B) {
	r := rand.New(rand.NewPCG(3, 5))
	balls := randomBalls(r, 1024)
	batch := Pack(balls, nil, 1.0/60, testArena, brickGrid())
	pos := make([]float64, batch.Count*3)
	vel := make([]float64, batch.Count*3)
	hits := make([]int32, batch.Count)

	b.Run("Sequential", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			StepInto(batch, pos, vel, hits)
		}
	})

	b.Run("Parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = StepParallel(context.Background(), batch, 0, pos, vel, hits)
		}
	})
}
