// ABOUTME: Component wiring shared by the scan, daemon and history commands
// ABOUTME: Builds logger, tracing, remote client, gateway, poller, history and scan service

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/api"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/config"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/gateway"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/gcs"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/history"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/observability"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/poller"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/resilience"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/scan"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/virustotal"
)

// app holds the wired components. Close releases them in reverse order.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	tracing  *observability.TracerProvider
	remote   *virustotal.Client
	recorder history.Recorder
	scans    *scan.Service

	closers []func() error
}

type appOptions struct {
	// Notifier, when set, is told about every recorded outcome.
	Notifier scan.Notifier

	// LogOutput defaults to stderr so command output stays clean.
	LogOutput io.Writer
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return observability.NewLogger(observability.LoggingConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "hikmaai-sentinel",
		Version:     version,
	}, w)
}

// openHistory opens the configured recorder, or returns nil when disabled.
func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (history.Recorder, error) {
	if !cfg.HistoryEnabled() {
		return nil, nil
	}
	hc := cfg.HistoryStore()
	hc.Logger = logger
	if hc.Path != "" && cfg.History.Backend == history.BackendBadger {
		if err := os.MkdirAll(hc.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	if cfg.History.Backend == history.BackendSQLite {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return history.Open(ctx, hc)
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg, opts.LogOutput)
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.tracing, err = observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:       cfg.Tracing.Enabled,
		ServiceName:   "hikmaai-sentinel",
		Version:       version,
		Endpoint:      cfg.Tracing.Endpoint,
		Insecure:      cfg.Tracing.Insecure,
		SamplingRatio: cfg.Tracing.SamplingRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.tracing.Shutdown(context.Background()) })

	newBreaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         name,
			MaxFailures:  cfg.Remote.BreakerMaxFailures,
			ResetTimeout: cfg.Remote.BreakerResetTimeout,
			IsFailure:    virustotal.CountsAsFailure,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		})
	}
	a.remote = virustotal.NewClient(virustotal.ClientConfig{
		BaseURL:           cfg.Remote.BaseURL,
		APIKey:            cfg.Remote.APIKey,
		Timeout:           cfg.Remote.Timeout,
		RequestsPerMinute: cfg.Remote.RequestsPerMinute,
		UserAgent:         "hikmaai-sentinel/" + version,
		Breaker:           newBreaker("virustotal-submit"),
		PollBreaker:       newBreaker("virustotal-poll"),
	})

	gwCfg := gateway.Config{Remote: a.remote, Logger: logger}
	if cfg.GCS.Enabled {
		fetcher, err := gcs.NewClient(ctx, gcs.Config{
			AllowedBuckets:  cfg.GCS.AllowedBuckets,
			CredentialsFile: cfg.GCS.CredentialsFile,
			DownloadDir:     cfg.GCS.DownloadDir,
			MaxObjectSize:   cfg.GCS.MaxObjectSize,
			EmulatorHost:    cfg.GCS.EmulatorHost,
		})
		if err != nil {
			return nil, fmt.Errorf("creating gcs client: %w", err)
		}
		a.closers = append(a.closers, fetcher.Close)
		gwCfg.Fetcher = fetcher
	}
	gw, err := gateway.New(gwCfg)
	if err != nil {
		return nil, err
	}

	p, err := poller.New(a.remote, cfg.PollPolicy(), poller.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a.recorder, err = openHistory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if a.recorder != nil {
		a.closers = append(a.closers, a.recorder.Close)
	}

	a.scans, err = scan.New(scan.Config{
		Submitter: gw,
		Poller:    p,
		Recorder:  a.recorder,
		Notifier:  opts.Notifier,
		Audit:     observability.NewAuditLogger(logger),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.scans.Close)

	logger.Debug("components initialized",
		slog.String("remote", a.remote.BaseURL()),
		slog.String("history_backend", cfg.History.Backend),
		slog.Bool("gcs", cfg.GCS.Enabled),
		slog.Bool("tracing", a.tracing.IsEnabled()),
	)
	return a, nil
}

// healthChecks reports the remote breakers and the history store.
func (a *app) healthChecks() []api.HealthCheck {
	checks := []api.HealthCheck{{
		Name: "analysis_service",
		Check: func(context.Context) (string, error) {
			submit, poll := a.remote.Breaker().State(), a.remote.PollBreaker().State()
			status := fmt.Sprintf("submit circuit %s, poll circuit %s", submit, poll)
			if submit == resilience.StateOpen || poll == resilience.StateOpen {
				return "", errors.New(status)
			}
			return status, nil
		},
	}}
	if a.recorder != nil {
		checks = append(checks, api.HealthCheck{
			Name: "history",
			Check: func(ctx context.Context) (string, error) {
				_, err := a.recorder.ListOutcomes(ctx, 1)
				return a.cfg.History.Backend, err
			},
		})
	}
	return checks
}

// Close releases components in reverse creation order.
func (a *app) Close(context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
