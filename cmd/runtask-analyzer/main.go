// Command runtask-analyzer receives HCP Terraform run task webhooks, analyzes
// plans with an LLM and reports results back to HCP Terraform.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	cfhttp "github.com/Strob0t/runtask-analyzer/internal/adapter/http"
	cfotel "github.com/Strob0t/runtask-analyzer/internal/adapter/otel"
	"github.com/Strob0t/runtask-analyzer/internal/config"
	"github.com/Strob0t/runtask-analyzer/internal/logger"
	"github.com/Strob0t/runtask-analyzer/internal/middleware"
	"github.com/Strob0t/runtask-analyzer/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"event_bus", cfg.EventBus.Driver,
		"llm_provider", cfg.LLM.Provider,
		"secrets", cfg.Secrets.Driver,
		"runlog", cfg.RunLog.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := cfotel.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	app, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Ingress:      app.ingress,
		Envelopes:    app.runner,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Ready:        app.ready,
	}
	routerCfg := cfhttp.RouterConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		EventsAPIKey: cfg.Events.APIKey,
	}
	if cfg.Server.WebhookRate > 0 {
		routerCfg.Limiter = middleware.NewRateLimiter(cfg.Server.WebhookRate, cfg.Server.WebhookBurst)
	}
	if cfg.Events.APIKey != "" {
		routerCfg.MCP = app.tools.Handler()
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           cfhttp.NewRouter(handlers, routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if app.subscriber != nil {
		g.Go(func() error {
			cancel, err := app.subscriber.Subscribe(gctx, cfg.EventBus.DetailType, app.runner.Handle)
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			slog.Info("consuming run task events", "detail_type", cfg.EventBus.DetailType)
			<-gctx.Done()
			cancel()
			return nil
		})
	}

	if app.vault != nil {
		g.Go(func() error {
			reloadSecretsOnHangup(gctx, app)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		app.runner.Wait()
		return err
	})

	return g.Wait()
}

// reloadSecretsOnHangup re-reads environment secrets on SIGHUP and drops the
// cached copies.
func reloadSecretsOnHangup(ctx context.Context, app *application) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := app.vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			for _, id := range app.secretIDs {
				if err := app.secrets.Invalidate(ctx, id); err != nil {
					slog.Warn("secret cache invalidation failed", "secret", id, "error", err)
				}
			}
			slog.Info("secrets reloaded")
		}
	}
}

// Compile-time check that the runner satisfies the HTTP envelope sink.
var _ cfhttp.EnvelopeSink = (*service.Runner)(nil)
