package sim

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/ballphys/internal/core/collide"
	"github.com/zeusync/ballphys/internal/core/events/bus"
	"github.com/zeusync/ballphys/internal/core/jobs"
	"github.com/zeusync/ballphys/internal/core/kernel"
	"github.com/zeusync/ballphys/internal/core/observability/diag"
	"github.com/zeusync/ballphys/internal/core/observability/log"
	"github.com/zeusync/ballphys/internal/core/physics"
	"github.com/zeusync/ballphys/internal/core/ring"
	"github.com/zeusync/ballphys/internal/engine/refworld"
)

const frameDelta = 1.0 / 60

var arena = kernel.Arena{X: 10, Y: 6, Z: 4}

func testBalls() []kernel.Ball {
	return []kernel.Ball{
		{ID: "a", BallState: kernel.BallState{Position: mgl64.Vec3{1, 1, 0}, Velocity: mgl64.Vec3{0.1, -0.05, 0.02}, Radius: 0.25}, Damage: 1},
		{ID: "b", BallState: kernel.BallState{Position: mgl64.Vec3{9.95, -2, 1}, Velocity: mgl64.Vec3{0.2, 0, 0}, Radius: 0.25}, Damage: 1},
	}
}

func newContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	c := New(log.NewNop(), arena, opts...)
	require.NoError(t, Populate(c, testBalls(), nil))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func requireStepped(t *testing.T, c *Context, before []kernel.Ball) {
	t.Helper()
	for _, b := range before {
		want, _ := kernel.StepBall(b.BallState, frameDelta, arena, nil)
		got, ok := c.Ball(b.ID)
		require.True(t, ok, b.ID)
		assert.InDelta(t, 0, got.Position.Sub(want.Position).Len(), 1e-9, b.ID)
		assert.InDelta(t, 0, got.Velocity.Sub(want.Velocity).Len(), 1e-9, b.ID)
	}
}

func TestFrame_Sync(t *testing.T) {
	c := newContext(t)

	rep := c.Frame(frameDelta)
	require.Equal(t, PathSync, rep.Path)
	require.Equal(t, uint64(1), rep.Frame)
	requireStepped(t, c, testBalls())

	got, _ := c.Ball("b")
	assert.Less(t, got.Velocity[0], 0.0, "ball b reflects off the x wall")
}

func TestFrame_HitDamagesBrick(t *testing.T) {
	b := bus.New()
	var (
		mu   sync.Mutex
		hits []Hit
	)
	_, err := b.Subscribe(bus.TypeHit, func(ev bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		hits = append(hits, ev.Data.(Hit))
		return nil
	})
	require.NoError(t, err)

	c := New(log.NewNop(), arena, WithBus(b))
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.AddBrick(Brick{Brick: collide.Brick{ID: "wall"}, Health: 1.5}))
	require.NoError(t, c.AddBall(kernel.Ball{
		ID:        "ball",
		BallState: kernel.BallState{Position: mgl64.Vec3{0, -0.8, 0}, Velocity: mgl64.Vec3{0, 0.1, 0}, Radius: 0.25},
		Damage:    1,
	}))

	rep := c.Frame(frameDelta)
	require.Len(t, rep.Hits, 1)
	assert.Equal(t, Hit{BallID: "ball", BrickID: "wall", Damage: 1}, rep.Hits[0])
	require.Len(t, c.Bricks(), 1)
	assert.InDelta(t, 0.5, c.Bricks()[0].Health, 1e-12)

	ball, _ := c.Ball("ball")
	assert.Less(t, ball.Velocity[1], 0.0, "ball bounces back")

	// send it into the brick again
	require.True(t, c.RemoveBall("ball"))
	require.NoError(t, c.AddBall(kernel.Ball{
		ID:        "ball",
		BallState: kernel.BallState{Position: mgl64.Vec3{0, -0.8, 0}, Velocity: mgl64.Vec3{0, 0.1, 0}, Radius: 0.25},
		Damage:    1,
	}))
	rep = c.Frame(frameDelta)
	require.Len(t, rep.Hits, 1)
	assert.True(t, rep.Hits[0].Destroyed)
	assert.Empty(t, c.Bricks())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 2)
	assert.True(t, hits[1].Destroyed)
}

func TestFrame_Ring(t *testing.T) {
	rt, err := ring.Ensure(log.NewNop(), 8, 2, ring.WithPlainCells())
	require.NoError(t, err)
	c := newContext(t, WithRing(rt))

	rep := c.Frame(frameDelta)
	require.Equal(t, PathRing, rep.Path)
	require.Zero(t, rep.JobID)

	rep = c.Frame(frameDelta)
	require.Equal(t, PathWaiting, rep.Path, "state is left alone while the job runs")
	got, _ := c.Ball("a")
	require.Equal(t, testBalls()[0].Position, got.Position)

	require.Equal(t, 1, rt.Worker().ProcessPending(t.Context()))

	rep = c.Frame(frameDelta)
	require.Equal(t, uint64(1), rep.JobID)
	require.Equal(t, PathRing, rep.Path, "next job submitted in the same frame")
	requireStepped(t, c, testBalls())
}

func TestFrame_Pool(t *testing.T) {
	pool := jobs.New(log.NewNop())
	require.NoError(t, pool.EnsureRuntime(2))
	c := newContext(t, WithPool(pool))

	rep := c.Frame(frameDelta)
	require.Equal(t, PathPool, rep.Path)

	require.Eventually(t, func() bool { return !pool.InFlight() }, time.Second, time.Millisecond)

	rep = c.Frame(frameDelta)
	require.Equal(t, uint64(1), rep.JobID)
	requireStepped(t, c, testBalls())
}

func TestFrame_UnstartedPoolStepsSynchronously(t *testing.T) {
	c := newContext(t, WithPool(jobs.New(log.NewNop())))

	rep := c.Frame(frameDelta)
	require.Equal(t, PathSync, rep.Path)
	requireStepped(t, c, testBalls())
}

func TestFrame_Physics(t *testing.T) {
	c := newContext(t)
	a := physics.New(refworld.Engine{}, log.NewNop())
	require.NoError(t, c.AttachPhysics(a))
	require.Equal(t, physics.StateReady, a.State())

	rep := c.Frame(frameDelta)
	require.Equal(t, PathPhysics, rep.Path)

	got, _ := c.Ball("a")
	require.NotEqual(t, testBalls()[0].Position, got.Position)

	snap := c.Snapshot(rep)
	require.Len(t, snap.Balls, 2)
	assert.Len(t, snap.Balls[0].Rotation, 4)
}

func TestAttachPhysics_FailureKeepsKernelPath(t *testing.T) {
	c := newContext(t)
	broken := physics.EngineFunc(func(mgl64.Vec3) (physics.World, error) {
		return nil, errors.New("no engine")
	})

	require.Error(t, c.AttachPhysics(physics.New(broken, log.NewNop())))
	require.Equal(t, PathSync, c.Frame(frameDelta).Path)
}

func TestDiagnosticsReachTheBus(t *testing.T) {
	b := bus.New()
	sink := diag.NewSink(log.NewNop(), 8)

	var got []bus.Event
	_, err := b.Subscribe(bus.TypeAll, func(ev bus.Event) error {
		if ev.Type != bus.TypeFrame {
			got = append(got, ev)
		}
		return nil
	})
	require.NoError(t, err)

	_ = newContext(t, WithBus(b), WithDiagnostics(sink))
	sink.Record(diag.KindRuntimeDisabled, "jobs.dispatch", errors.New("boom"))
	sink.Record(diag.KindProbe, "physics.translation", errors.New("missing"))

	require.Len(t, got, 2)
	assert.Equal(t, bus.TypeRuntimeDisabled, got[0].Type)
	assert.Equal(t, "jobs.dispatch", got[0].Source)
	assert.Equal(t, bus.TypeDiagnostic, got[1].Type)
}

func TestContext_IDsAndClose(t *testing.T) {
	c := New(log.NewNop(), arena)
	require.NoError(t, c.AddBall(testBalls()[0]))
	require.ErrorIs(t, c.AddBall(testBalls()[0]), ErrDuplicateID)
	require.NoError(t, c.AddBrick(Brick{Brick: collide.Brick{ID: "x"}}))
	require.ErrorIs(t, c.AddBrick(Brick{Brick: collide.Brick{ID: "x"}}), ErrDuplicateID)

	require.False(t, c.RemoveBall("missing"))
	require.False(t, c.RemoveBrick("missing"))
	require.True(t, c.RemoveBrick("x"))

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Close(), ErrClosed)
	assert.Equal(t, PathNone, c.Frame(frameDelta).Path)
}

func TestLayout(t *testing.T) {
	balls, bricks := Layout(arena, 16, 3, 4, 7)
	require.Len(t, balls, 16)
	require.Len(t, bricks, 12)

	again, _ := Layout(arena, 16, 3, 4, 7)
	require.Equal(t, balls, again)

	for _, b := range balls {
		assert.LessOrEqual(t, b.Position[0], arena.X)
		assert.GreaterOrEqual(t, b.Position[0], -arena.X)
		assert.LessOrEqual(t, b.Position[1], 0.0)
		assert.InDelta(t, b.Velocity.Len(), (minSpeed+maxSpeed)/2, (maxSpeed-minSpeed)/2+1e-9)
	}
	for _, b := range bricks {
		assert.Equal(t, BrickHealth, b.Health)
		assert.Less(t, b.Position[1], arena.Y)
	}
}
