package sim

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/ballphys/internal/core/collide"
	"github.com/zeusync/ballphys/internal/core/kernel"
)

const (
	BallRadius  = 0.25
	BallDamage  = 1.0
	BrickHealth = 3.0

	minSpeed = 0.05
	maxSpeed = 0.15
	brickGap = 0.2
)

// Layout places rows x cols bricks in a wall near the top of the arena and
// scatters balls through the lower half with random headings. The same seed
// always gives the same scene.
func Layout(arena kernel.Arena, balls, rows, cols int, seed uint64) ([]kernel.Ball, []Brick) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	stepX := collide.BrickHalfExtents[0]*2 + brickGap
	stepY := collide.BrickHalfExtents[1]*2 + brickGap
	startX := -float64(cols-1) * stepX / 2
	topY := arena.Y - collide.BrickHalfExtents[1] - brickGap

	bricks := make([]Brick, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			bricks = append(bricks, Brick{
				Brick: collide.Brick{
					ID:       fmt.Sprintf("brick-%d-%d", r, c),
					Position: mgl64.Vec3{startX + float64(c)*stepX, topY - float64(r)*stepY, 0},
				},
				Health: BrickHealth,
			})
		}
	}

	out := make([]kernel.Ball, balls)
	for i := range out {
		heading := randomDirection(rng)
		speed := minSpeed + rng.Float64()*(maxSpeed-minSpeed)
		out[i] = kernel.Ball{
			ID: fmt.Sprintf("ball-%d", i),
			BallState: kernel.BallState{
				Position: mgl64.Vec3{
					spread(rng, arena.X-BallRadius),
					-rng.Float64() * (arena.Y - BallRadius),
					spread(rng, arena.Z-BallRadius),
				},
				Velocity: heading.Mul(speed),
				Radius:   BallRadius,
			},
			Damage: BallDamage,
		}
	}
	return out, bricks
}

// Populate adds a generated scene to c.
func Populate(c *Context, balls []kernel.Ball, bricks []Brick) error {
	for _, b := range bricks {
		if err := c.AddBrick(b); err != nil {
			return err
		}
	}
	for _, b := range balls {
		if err := c.AddBall(b); err != nil {
			return err
		}
	}
	return nil
}

func spread(rng *rand.Rand, limit float64) float64 {
	return (rng.Float64()*2 - 1) * math.Max(limit, 0)
}

func randomDirection(rng *rand.Rand) mgl64.Vec3 {
	for {
		v := mgl64.Vec3{rng.Float64()*2 - 1, rng.Float64()*2 - 1, rng.Float64()*2 - 1}
		if l := v.Len(); l > 1e-3 && l <= 1 {
			return v.Mul(1 / l)
		}
	}
}
