package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/courier/internal/callback"
	"github.com/roach88/courier/internal/config"
	"github.com/roach88/courier/internal/engine"
	"github.com/roach88/courier/internal/events"
	"github.com/roach88/courier/internal/ledger"
	"github.com/roach88/courier/internal/store"
	"github.com/roach88/courier/internal/transport"
)

// runtime is everything a command needs to run one engine operation.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	ledger *ledger.SQL
	engine *engine.Engine
	redis  *events.RedisSink

	// hooks delivers callbacks off the engine's critical section; Close
	// drains it before the store goes away.
	hooks     *engine.QueuedHook
	hooksDone chan error
}

// loadConfig layers the config file, environment and the --db flag.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// newLogger logs to w. --verbose selects debug; otherwise the configured
// level applies.
func newLogger(opts *RootOptions, cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level := slog.LevelDebug
	if !opts.Verbose {
		var err error
		if level, err = cfg.SlogLevel(); err != nil {
			return nil, err
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// openRuntime opens the store and ledger and builds an engine whose
// callbacks are logged, since the CLI has no destination runtime to call.
func openRuntime(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(opts, cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger, store: st}
	if err := rt.init(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) init(ctx context.Context) error {
	rt.ledger = ledger.NewSQL(rt.store.DB())
	if err := rt.ledger.Init(ctx); err != nil {
		return err
	}

	sinks := []engine.EventSink{events.NewLogSink(rt.logger, slog.LevelDebug)}
	if addr := rt.cfg.Events.RedisAddr; addr != "" {
		sink, err := events.DialRedis(ctx, addr, rt.cfg.RedisOptions()...)
		if err != nil {
			return err
		}
		rt.redis = sink
		sinks = append(sinks, sink)
	}

	seq, err := rt.store.MaxEventSeq(ctx)
	if err != nil {
		return err
	}
	clock := engine.NewClockAt(seq)

	dispatcher := callback.NewDispatcher(callback.NewLogExecutor(rt.logger),
		callback.WithEventLog(rt.store, clock),
		callback.WithSinks(sinks...),
	)

	rt.hooks = engine.NewQueuedHook(dispatcher)
	rt.hooksDone = make(chan error, 1)
	go func() {
		rt.hooksDone <- rt.hooks.Run(context.WithoutCancel(ctx))
	}()

	engOpts := append(rt.cfg.EngineOptions(),
		engine.WithClock(clock),
		engine.WithHook(rt.hooks),
		engine.WithTransport(transport.NewLoopback(transport.UUIDv7Generator{})),
		engine.WithSinks(sinks...),
	)
	rt.engine, err = engine.New(ctx, rt.store, rt.ledger, engOpts...)
	if err != nil {
		return err
	}
	dispatcher.Bind(rt.engine)
	return nil
}

// Close delivers pending callbacks, then releases the redis client and the
// database.
func (rt *runtime) Close() {
	if rt.hooks != nil {
		rt.hooks.Close()
		if err := <-rt.hooksDone; err != nil {
			rt.logger.Error("error draining callbacks", "error", err)
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Error("error closing redis", "error", err)
		}
	}
	if err := rt.store.Close(); err != nil {
		rt.logger.Error("error closing database", "error", err)
	}
}

// withRuntime opens a runtime, runs fn and closes the runtime. Failures to
// open are reported as command errors.
func withRuntime(opts *RootOptions, cmd *cobra.Command, op string, fn func(ctx context.Context, rt *runtime, f *OutputFormatter) error) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := openRuntime(ctx, opts, cmd)
	if err != nil {
		return f.Fail(op, err)
	}
	defer rt.Close()

	return fn(ctx, rt, f)
}
