// Package app wires all sonichess subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// mixer, output backend, sonifier, feed and HTTP server; Run drives them
// until the context ends; Shutdown tears down what Run does not own.
//
// For testing, inject test doubles via functional options (WithBackend,
// WithListener, etc.). When an option is not provided, New creates real
// implementations from the config and registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sonichess/internal/config"
	"github.com/MrWong99/sonichess/internal/feed"
	"github.com/MrWong99/sonichess/internal/health"
	"github.com/MrWong99/sonichess/internal/observe"
	"github.com/MrWong99/sonichess/internal/output"
	"github.com/MrWong99/sonichess/internal/sonify"
	"github.com/MrWong99/sonichess/pkg/audio/mixer"
)

const (
	// DefaultReclaimInterval is how often retired voices are collected.
	DefaultReclaimInterval = 50 * time.Millisecond

	// httpShutdownTimeout bounds the graceful HTTP shutdown inside Run.
	httpShutdownTimeout = 5 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	reg *config.Registry

	mu  sync.Mutex
	cfg *config.Config

	processor *mixer.Processor
	backend   output.Backend
	sonifier  *sonifierSlot
	feed      *feed.Server
	server    *http.Server
	listener  net.Listener
	watcher   *config.Watcher

	metrics   *observe.Metrics
	provider  *observe.Provider
	level     *slog.LevelVar
	reclaimEv time.Duration

	watchPath     string
	watchInterval time.Duration

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects an output backend instead of creating one from the
// registry.
func WithBackend(b output.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithProcessor injects the mixer instead of creating one from config.
func WithProcessor(p *mixer.Processor) Option {
	return func(a *App) { a.processor = p }
}

// WithListener injects the HTTP listener instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithProvider serves the provider's Prometheus registry at /metrics and
// records processor metrics on its meter provider.
func WithProvider(p *observe.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithMetrics records control-side metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets hot reloads change the log level of the handler built
// on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithReclaimInterval overrides [DefaultReclaimInterval].
func WithReclaimInterval(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.reclaimEv = d
		}
	}
}

// WithConfigFile watches path and applies hot-reloadable changes while Run
// is active.
func WithConfigFile(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// New creates an App by wiring all subsystems together. The registry comes
// from main.go and must know the configured sonifier and backend names.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		reg:       reg,
		cfg:       cfg,
		reclaimEv: DefaultReclaimInterval,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initProcessor(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init mixer: %w", err))
	}
	if err := a.initBackend(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init backend: %w", err))
	}
	if err := a.initSonifier(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init sonifier: %w", err))
	}
	if err := a.initHTTP(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init http: %w", err))
	}
	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.Reload, config.WithInterval(a.watchInterval))
		if err != nil {
			return nil, a.abort(fmt.Errorf("app: init watcher: %w", err))
		}
		a.watcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
	}

	slog.Info("app initialised",
		"backend", a.backend.Name(),
		"sonifier", a.sonifier.Name(),
		"listen_addr", a.listener.Addr().String(),
		"feed", cfg.Feed.Enabled,
	)
	return a, nil
}

// abort releases what New managed to set up before failing.
func (a *App) abort(err error) error {
	_ = a.Shutdown(context.Background())
	return err
}

func (a *App) initProcessor() error {
	if a.processor == nil {
		ac := a.cfg.Audio
		a.processor = mixer.New(
			mixer.WithQueueCapacity(ac.QueueCapacity),
			mixer.WithMaxVoices(ac.MaxVoices),
			mixer.WithChannels(ac.Channels),
			mixer.WithGain(float32(ac.Gain())),
		)
	}

	var mp metric.MeterProvider = otel.GetMeterProvider()
	if a.provider != nil {
		mp = a.provider.MeterProvider
	}
	reg, err := observe.ObserveProcessor(mp, a.processor)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, reg.Unregister)
	return nil
}

func (a *App) initBackend() error {
	if a.backend != nil {
		return nil
	}
	f := config.OutputFormat(a.cfg.Audio)
	b, err := a.reg.CreateBackend(a.cfg.Audio.Backend, a.processor, f)
	if err != nil {
		return err
	}
	if name := a.cfg.Audio.FallbackBackend; name != "" {
		fb, err := a.reg.CreateBackend(name, a.processor, f)
		if err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
		b = output.NewChain(b, []output.Backend{fb}, output.WithRetry(a.cfg.Audio.FallbackRetry))
	}
	a.backend = b
	return nil
}

func (a *App) initSonifier() error {
	s, err := a.buildSonifier(a.cfg.Sonifier)
	if err != nil {
		return err
	}
	a.sonifier = newSonifierSlot(s)
	a.closers = append(a.closers, a.sonifier.Close)
	return nil
}

func (a *App) buildSonifier(sc config.SonifierConfig) (sonify.Sonifier, error) {
	p, err := config.SonifierParams(sc, float64(a.cfg.Audio.SampleRate))
	if err != nil {
		return nil, err
	}
	return a.reg.CreateSonifier(sc.Name, a.processor, p, sonify.WithMetrics(a.metrics))
}

func (a *App) initHTTP() error {
	inner := http.NewServeMux()
	health.New(
		health.Running("backend", a.backend),
		health.Prepared("mixer", a.processor),
	).Register(inner)
	if a.provider != nil {
		inner.Handle("GET /metrics", a.provider.Handler())
	}

	// The feed upgrades to a websocket, so it bypasses the middleware's
	// response recorder.
	mux := http.NewServeMux()
	mux.Handle("/", observe.Middleware(a.metrics, "/healthz", "/readyz", "/metrics")(inner))
	if fc := a.cfg.Feed; fc.Enabled {
		a.feed = feed.New(a.sonifier,
			feed.WithRate(fc.RatePerSecond, fc.Burst),
			feed.WithMetrics(a.metrics),
		)
		mux.Handle(fc.Path, a.feed)
		a.closers = append(a.closers, func() error { a.feed.Close(); return nil })
	}

	if a.listener == nil {
		ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return err
		}
		a.listener = ln
	}
	a.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.closers = append(a.closers, func() error {
		if err := a.server.Close(); err != nil {
			return err
		}
		// Close does not close a listener Serve never saw.
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	return nil
}

// Addr returns the address the HTTP server listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Processor returns the mixer.
func (a *App) Processor() *mixer.Processor { return a.processor }

// Sonifier returns the active sonifier. It changes on hot reload.
func (a *App) Sonifier() sonify.Sonifier { return a.sonifier.Current() }

// Config returns the most recently applied config.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Run plays audio, serves HTTP and the feed, collects retired voices and
// watches the config file until ctx is cancelled or a subsystem fails.
// When ctx is done, Run returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.backend.Run(gctx); err != nil {
			return fmt.Errorf("app: backend %s: %w", a.backend.Name(), err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if a.feed != nil {
			a.feed.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		t := time.NewTicker(a.reclaimEv)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				a.processor.Reclaim()
				return nil
			case <-t.C:
				a.processor.Reclaim()
			}
		}
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running", "addr", a.listener.Addr().String())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Reload applies the hot-reloadable differences between old and new. It is
// the config watcher's callback and may be called directly. Restart-only
// fields and a sonifier that fails to build are not adopted into
// [App.Config].
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.GainChanged {
		a.processor.SetGain(float32(d.NewGain))
		slog.Info("master gain changed", "gain", d.NewGain)
	}
	if d.SonifierChanged {
		s, err := a.buildSonifier(d.NewSonifier)
		if err != nil {
			slog.Error("sonifier reload failed; keeping current sonifier", "name", d.NewSonifier.Name, "err", err)
			d.SonifierChanged = false
		} else {
			prev := a.sonifier.Swap(s)
			if err := prev.Close(); err != nil {
				slog.Warn("closing previous sonifier", "name", prev.Name(), "err", err)
			}
			slog.Info("sonifier changed", "name", s.Name())
		}
	}
	for _, field := range d.RestartRequired {
		slog.Warn("config change requires a restart to take effect", "field", field)
	}

	a.mu.Lock()
	a.cfg = d.Apply(old)
	a.mu.Unlock()
}

// Shutdown tears down all subsystems in init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		if a.provider != nil {
			if err := a.provider.Shutdown(ctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
