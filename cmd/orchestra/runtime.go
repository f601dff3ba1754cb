package main

import (
	"context"
	"fmt"

	"orchestra/internal/actionrunner"
	"orchestra/internal/config"
	"orchestra/internal/delay"
	"orchestra/internal/dispatch"
	"orchestra/internal/store"
	"orchestra/internal/telemetry"
)

// engineRuntime bundles the pieces a CLI command needs to drive the engine
// directly, without a running server: an opened and migrated store, and a
// Dispatcher with no transport, which applies every event it is handed
// synchronously against one transaction (see DESIGN.md's note on
// dispatcher.go's no-transport path).
type engineRuntime struct {
	cfg    *config.Config
	db     *store.DB
	store  *store.Store
	dsp    *dispatch.Dispatcher
	telem  *telemetry.Telemetry
	closed bool
}

func newEngineRuntime(ctx context.Context) (*engineRuntime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if enableOTEL {
		cfg.Telemetry.Enabled = true
	}
	if otelEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = otelEndpoint
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	st := store.New(db)

	telem, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	runners := actionrunner.NewRegistry()
	runners.SetDefault(actionrunner.EchoRunner{})

	dsp := dispatch.New(st, nil, runners, cfg.Namespace, 1).WithTelemetry(telem)

	return &engineRuntime{cfg: cfg, db: db, store: st, dsp: dsp, telem: telem}, nil
}

// newServerRuntime is the long-running counterpart used by `orchestra
// serve`: it wires a real NATS transport and the delay worker on top of the
// same store.
func newServerRuntime(ctx context.Context, workers int) (*engineRuntime, *dispatch.NATSEngine, *delay.Worker, error) {
	rt, err := newEngineRuntime(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := dispatch.EnvOptions()
	if workers > 0 {
		opts.WorkerPoolSize = workers
	}
	natsEngine, err := dispatch.NewEngine(opts)
	if err != nil {
		rt.Close()
		return nil, nil, nil, fmt.Errorf("failed to start event transport: %w", err)
	}

	// NewEngine returns a nil *NATSEngine when transport is disabled; pass a
	// true nil Engine through rather than a typed-nil interface value, or
	// the dispatcher's "no transport configured" check would never fire.
	var transport dispatch.Engine
	if natsEngine != nil {
		transport = natsEngine
	}

	runners := actionrunner.NewRegistry()
	runners.SetDefault(actionrunner.EchoRunner{})
	rt.dsp = dispatch.New(rt.store, transport, runners, rt.cfg.Namespace, opts.WorkerPoolSize).WithTelemetry(rt.telem)

	delayWorker := delay.New(rt.store, transport, rt.cfg.Namespace)

	return rt, natsEngine, delayWorker, nil
}

func (rt *engineRuntime) Close() {
	if rt.closed {
		return
	}
	rt.closed = true
	if rt.telem != nil {
		_ = rt.telem.Shutdown(context.Background())
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
}
