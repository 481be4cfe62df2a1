// Package app wires all hearken subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects the model
// registry, VAD engine and transport, Run serves until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithLoader, WithVADEngine, etc.). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hearken-audio/hearken/internal/config"
	"github.com/hearken-audio/hearken/internal/detect"
	"github.com/hearken-audio/hearken/internal/health"
	"github.com/hearken-audio/hearken/internal/info"
	"github.com/hearken-audio/hearken/internal/observe"
	"github.com/hearken-audio/hearken/internal/registry"
	"github.com/hearken-audio/hearken/internal/server"
	"github.com/hearken-audio/hearken/internal/session"
	"github.com/hearken-audio/hearken/pkg/vad"
	"github.com/hearken-audio/hearken/pkg/vad/silero"
	"github.com/hearken-audio/hearken/pkg/wake"
	sherpawake "github.com/hearken-audio/hearken/pkg/wake/sherpa"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	loader  wake.Loader
	vadEng  vad.Engine
	metrics *observe.Metrics

	reg     *registry.Registry
	watcher *registry.Watcher
	srv     *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLoader injects a model loader instead of the sherpa-onnx one.
func WithLoader(l wake.Loader) Option {
	return func(a *App) { a.loader = l }
}

// WithVADEngine injects a VAD engine instead of the Silero one.
func WithVADEngine(e vad.Engine) Option {
	return func(a *App) { a.vadEng = e }
}

// WithMetrics injects a metrics bundle instead of the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires the application from config. Preloading happens here, so a
// returned App is ready to detect on its first session.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.Default()
	}
	if a.loader == nil {
		a.loader = &sherpawake.Loader{}
	}

	reg, err := registry.New(a.loader, cfg.Models.BuiltinDir, cfg.Models.CustomDir)
	if err != nil {
		return nil, fmt.Errorf("app: init registry: %w", err)
	}
	a.reg = reg
	a.closers = append(a.closers, reg.Close)

	if err := reg.Preload(cfg.Models.Preload); err != nil {
		return nil, fmt.Errorf("app: preload models: %w", err)
	}
	slog.Info("models ready", "discovered", len(reg.List()), "preload", cfg.Models.Preload)

	a.watcher = registry.NewWatcher(reg, cfg.Models.CustomDir,
		time.Duration(cfg.Models.PollSeconds)*time.Second)
	if a.watcher != nil {
		a.closers = append(a.closers, func() error {
			a.watcher.Stop()
			return nil
		})
	}

	if a.vadEng == nil && cfg.VAD.Threshold > 0 {
		a.vadEng = &silero.Engine{ModelPath: cfg.VAD.ModelPath}
		slog.Info("vad enabled", "model", cfg.VAD.ModelPath, "threshold", cfg.VAD.Threshold)
	}

	a.srv = server.New(a.serverConfig(), slog.Default(), reg,
		info.NewPublisher(reg, Version), a.vadEng, a.metrics,
		health.New(health.Models(reg)))

	return a, nil
}

// Registry exposes the model registry, mainly for tests and probes.
func (a *App) Registry() *registry.Registry { return a.reg }

// Run serves sessions until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("hearken running", "addr", a.cfg.Server.ListenAddr, "version", Version)
	return a.srv.Run(ctx)
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires, remaining closers are skipped and the context
// error is returned.
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
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// serverConfig maps the file config onto the transport and session settings.
func (a *App) serverConfig() server.Config {
	sc := server.Config{
		ListenAddr: a.cfg.Server.ListenAddr,
		Session: session.Config{
			Detect: detect.Config{
				Threshold:        float32(a.cfg.Detection.Threshold),
				TriggerLevel:     a.cfg.Detection.TriggerLevel,
				Refractory:       time.Duration(a.cfg.Detection.RefractorySeconds * float64(time.Second)),
				DebugProbability: a.cfg.Detection.DebugProbability,
			},
			FrameSamples:     a.cfg.Audio.FrameSamples,
			SilencePrefillMs: a.cfg.Audio.SilencePrefillMs,
			VADThreshold:     a.cfg.VAD.Threshold,
		},
	}
	if a.cfg.Server.TLS != nil {
		sc.CertFile = a.cfg.Server.TLS.CertFile
		sc.KeyFile = a.cfg.Server.TLS.KeyFile
	}
	return sc
}
