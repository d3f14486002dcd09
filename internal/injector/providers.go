package injector

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/wire"

	"github.com/zeusync/ballphys/internal/config"
	"github.com/zeusync/ballphys/internal/core/events/bus"
	"github.com/zeusync/ballphys/internal/core/jobs"
	"github.com/zeusync/ballphys/internal/core/kernel"
	"github.com/zeusync/ballphys/internal/core/observability/diag"
	"github.com/zeusync/ballphys/internal/core/observability/log"
	"github.com/zeusync/ballphys/internal/core/physics"
	"github.com/zeusync/ballphys/internal/core/ring"
	"github.com/zeusync/ballphys/internal/engine/refworld"
	"github.com/zeusync/ballphys/internal/sim"
	"github.com/zeusync/ballphys/internal/transport/stream"
)

// App is everything cmd/simd needs to run a simulation.
type App struct {
	Config *config.Config
	Logger log.Log
	Bus    bus.EventBus
	Diag   *diag.Sink
	Sim    *sim.Context
	// Stream is nil when the frame stream is disabled.
	Stream *stream.Server
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideBus,
	ProvideDiagnostics,
	ProvideSimulation,
	ProvideStream,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg *config.Config) (log.Log, func()) {
	logger := log.New(cfg.Level())
	return logger, func() { _ = logger.Sync() }
}

func ProvideBus() bus.EventBus {
	return bus.New()
}

func ProvideDiagnostics(cfg *config.Config, logger log.Log) *diag.Sink {
	return diag.NewSink(logger, cfg.Diagnostics.MaxEntries)
}

// ProvideSimulation builds the frame context with the configured offload
// runtime and, when enabled, a reference physics world. A runtime or engine
// that fails to start is logged and left out; frames then step on the next
// path down.
func ProvideSimulation(cfg *config.Config, logger log.Log, b bus.EventBus, sink *diag.Sink) (*sim.Context, func(), error) {
	opts := []sim.Option{sim.WithBus(b), sim.WithDiagnostics(sink)}

	switch cfg.Offload.Mode {
	case config.OffloadRing:
		rt, err := ring.Ensure(logger, cfg.Offload.RingCapacity, cfg.Offload.RingSize,
			ring.WithParallelism(cfg.Offload.Parallelism),
			ring.WithDiagnostics(sink))
		if err != nil {
			logger.Warn("ring runtime unavailable, stepping synchronously", log.Error(err))
			break
		}
		opts = append(opts, sim.WithRing(rt))
	case config.OffloadPool:
		pool := jobs.New(logger, jobs.WithDiagnostics(sink))
		if err := pool.EnsureRuntime(cfg.Offload.Workers); err != nil {
			logger.Warn("worker pool unavailable, stepping synchronously", log.Error(err))
		}
		opts = append(opts, sim.WithPool(pool))
	}

	arena := kernel.Arena{X: cfg.Arena.X, Y: cfg.Arena.Y, Z: cfg.Arena.Z}
	ctx := sim.New(logger, arena, opts...)

	balls, bricks := sim.Layout(arena, cfg.Loop.Balls, cfg.Loop.BrickRows, cfg.Loop.BrickCols, cfg.Loop.Seed)
	if err := sim.Populate(ctx, balls, bricks); err != nil {
		_ = ctx.Close()
		return nil, nil, err
	}

	if cfg.Physics.Enabled {
		adapter := physics.New(refworld.Engine{}, logger,
			physics.WithGravity(mgl64.Vec3(cfg.Physics.Gravity)),
			physics.WithOverlapEpsilon(cfg.Physics.OverlapEpsilon),
			physics.WithDiagnostics(sink))
		// on failure the context keeps the kernel paths
		_ = ctx.AttachPhysics(adapter)
	}

	cleanup := func() {
		if err := ctx.Close(); err != nil {
			logger.Warn("simulation shutdown", log.Error(err))
		}
	}
	return ctx, cleanup, nil
}

// ProvideStream attaches the frame stream to the bus. The caller starts and
// stops the listener.
func ProvideStream(cfg *config.Config, logger log.Log, b bus.EventBus) (*stream.Server, func(), error) {
	if !cfg.Stream.Enabled {
		return nil, func() {}, nil
	}
	srv := stream.New(stream.Config{
		Address:      cfg.Stream.Address,
		Path:         cfg.Stream.Path,
		WriteTimeout: cfg.Stream.WriteTimeout,
		Every:        cfg.Stream.Every,
	}, logger)
	sub, err := srv.Attach(b)
	if err != nil {
		return nil, nil, err
	}
	return srv, func() { _ = sub.Cancel() }, nil
}
