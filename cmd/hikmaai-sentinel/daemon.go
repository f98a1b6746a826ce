// ABOUTME: Daemon command running the HTTP API and NATS request/reply as a service
// ABOUTME: Components run under one errgroup and shut down together on signal or failure

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/api"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/config"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/queue"
)

const shutdownTimeout = 10 * time.Second

func newDaemonCmd() *cobra.Command {
	var (
		httpAddr string
		natsURL  string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scan service",
		Long: `Start the sentinel daemon.

With --http-addr (or http.addr) it serves the REST API and WebSocket event
streams. With --nats-url (or nats.url, or SENTINEL_NATS_URL) it answers scan
requests on the configured subject and publishes recorded outcomes.
At least one of the two must be enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if natsURL != "" {
				cfg.NATS.URL = natsURL
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (e.g., :8080)")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL")

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	if cfg.HTTP.Addr == "" && cfg.NATS.URL == "" {
		return errors.New("nothing to serve: set an HTTP address or a NATS URL")
	}

	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting hikmaai-sentinel daemon",
		slog.String("version", version),
		slog.String("data_dir", cfg.DataDir),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.Bool("nats", cfg.NATS.URL != ""),
	)

	var (
		natsClient *queue.Client
		opts       = appOptions{LogOutput: os.Stdout}
	)
	if cfg.NATS.URL != "" {
		var err error
		natsClient, err = queue.NewClient(queue.NATSConfig{
			URL:            cfg.NATS.URL,
			Subject:        cfg.NATS.Subject,
			OutcomeSubject: cfg.NATS.OutcomeSubject,
			QueueGroup:     cfg.NATS.Queue,
			Name:           "hikmaai-sentinel",
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			RequestTimeout: cfg.NATS.RequestTimeout,
			MaxConcurrent:  cfg.NATS.MaxConcurrent,
		}, logger)
		if err != nil {
			return err
		}
		if err := natsClient.Connect(ctx); err != nil {
			return err
		}
		defer natsClient.Close()
		if pub := natsClient.Publisher(); pub != nil {
			opts.Notifier = pub
		}
	}

	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if natsClient != nil {
		if err := natsClient.Subscribe(gctx, queue.NewHandler(a.scans)); err != nil {
			return err
		}
	}

	if cfg.HTTP.Addr != "" {
		uploadDir := cfg.HTTP.UploadDir
		if uploadDir == "" {
			uploadDir = filepath.Join(cfg.DataDir, "uploads")
		}
		handler := api.NewHandler(api.HandlerConfig{
			Scans:          a.scans,
			History:        a.recorder,
			UploadDir:      uploadDir,
			MaxFileSize:    cfg.HTTP.MaxUploadSize,
			Checks:         daemonChecks(a, natsClient),
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Logger:         logger,
		})
		server := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting HTTP server", slog.String("addr", cfg.HTTP.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	logger.Info("daemon ready, waiting for requests")
	err = g.Wait()

	logger.Info("shutting down daemon")
	return err
}

func daemonChecks(a *app, nc *queue.Client) []api.HealthCheck {
	checks := a.healthChecks()
	if nc != nil {
		checks = append(checks, api.HealthCheck{
			Name: "nats",
			Check: func(context.Context) (string, error) {
				if !nc.IsConnected() {
					return "", errors.New("disconnected")
				}
				return "", nil
			},
		})
	}
	return checks
}
