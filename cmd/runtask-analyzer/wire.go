package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/runtask-analyzer/internal/adapter/amirelease"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/awsconf"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/bedrock"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/cloudwatch"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/eventbridge"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/github"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/hcp"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/litellm"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/mcp"
	cfnats "github.com/Strob0t/runtask-analyzer/internal/adapter/nats"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/natskv"
	cfotel "github.com/Strob0t/runtask-analyzer/internal/adapter/otel"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/postgres"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/ristretto"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/secretsmanager"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/tiered"
	"github.com/Strob0t/runtask-analyzer/internal/config"
	"github.com/Strob0t/runtask-analyzer/internal/port/cache"
	"github.com/Strob0t/runtask-analyzer/internal/port/eventbus"
	"github.com/Strob0t/runtask-analyzer/internal/port/ledger"
	"github.com/Strob0t/runtask-analyzer/internal/port/llm"
	"github.com/Strob0t/runtask-analyzer/internal/port/runlog"
	"github.com/Strob0t/runtask-analyzer/internal/port/secretstore"
	"github.com/Strob0t/runtask-analyzer/internal/resilience"
	"github.com/Strob0t/runtask-analyzer/internal/secrets"
	"github.com/Strob0t/runtask-analyzer/internal/service"
)

const (
	cacheBucket    = "RUNTASK_CACHE"
	releaseTTL     = 15 * time.Minute
	providerBR     = "Amazon Bedrock"
	providerLite   = "LiteLLM"
	controlTimeout = 10 * time.Second
)

// application holds the wired services and everything that must be closed.
type application struct {
	ingress    *service.IngressService
	runner     *service.Runner
	tools      *mcp.Server
	subscriber eventbus.Subscriber

	secrets   *secrets.Cached
	vault     *secrets.Vault
	secretIDs []string

	ready   func(ctx context.Context) error
	closers []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// wire builds every component selected by cfg.
func wire(ctx context.Context, cfg *config.Config) (app *application, err error) {
	app = &application{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg == nil {
			c, err := awsconf.Load(ctx, cfg.AWS.Region, cfotel.NewHTTPClient(0))
			if err != nil {
				return aws.Config{}, err
			}
			awsCfg = &c
		}
		return *awsCfg, nil
	}

	// --- Event bus ---
	var (
		publisher eventbus.Publisher
		bus       *cfnats.Bus
	)
	switch cfg.EventBus.Driver {
	case "nats":
		bus, err = cfnats.Connect(ctx, cfg.NATS.URL, cfg.EventBus.Name)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		bus.SetConcurrency(cfg.EventBus.Concurrency)
		app.closers = append(app.closers, func() { _ = bus.Drain() })
		publisher, app.subscriber = bus, bus
		slog.Info("nats connected", "url", cfg.NATS.URL)
	case "eventbridge":
		awsc, err := loadAWS()
		if err != nil {
			return nil, err
		}
		publisher = eventbridge.New(awsc, cfg.EventBus.Name)
	}

	// --- Caches ---
	l1, err := ristretto.New(cfg.Secrets.CacheSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	app.closers = append(app.closers, l1.Close)

	var shared cache.Cache
	if bus != nil {
		kv, err := bus.KeyValue(ctx, cacheBucket, releaseTTL)
		if err != nil {
			return nil, fmt.Errorf("cache bucket: %w", err)
		}
		shared = natskv.New(kv)
	}

	// --- Secrets ---
	app.secretIDs = []string{cfg.HCP.HMACSecretID}
	if cfg.HCP.UseEdgeSecret {
		app.secretIDs = append(app.secretIDs, cfg.HCP.EdgeSecretID)
	}
	if cfg.GitHub.TokenSecretID != "" {
		app.secretIDs = append(app.secretIDs, cfg.GitHub.TokenSecretID)
	}

	var source secretstore.Fetcher
	switch cfg.Secrets.Driver {
	case "env":
		app.vault, err = secrets.NewVault(secrets.EnvLoader(app.secretIDs...))
		if err != nil {
			return nil, fmt.Errorf("secrets: %w", err)
		}
		source = app.vault
	case "secretsmanager":
		awsc, err := loadAWS()
		if err != nil {
			return nil, err
		}
		source = secretsmanager.New(awsc)
	}
	// Secrets stay in process memory only.
	app.secrets = secrets.NewCached(source, tiered.New(l1, nil, cfg.Secrets.CacheTTL), cfg.Secrets.CacheTTL)

	// --- Postgres (run log) ---
	var pool *pgxpool.Pool
	if cfg.RunLog.Driver == "postgres" {
		pool, err = postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		app.closers = append(app.closers, pool.Close)
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}

	// --- Claim ledger ---
	claims, err := newLedger(ctx, app, cfg, bus, pool)
	if err != nil {
		return nil, err
	}

	var runLog runlog.Writer
	switch cfg.RunLog.Driver {
	case "cloudwatch":
		awsc, err := loadAWS()
		if err != nil {
			return nil, err
		}
		cw := cloudwatch.New(awsc, cfg.RunLog.LogGroupName)
		if cfg.HCP.CloudWatchLinks {
			runLog = cw
		} else {
			runLog = unlinked{cw}
		}
	case "postgres":
		runLog = postgres.NewRunLog(pool)
	}

	// --- LLM ---
	breaker := func(name string, opts ...resilience.Option) *resilience.Breaker {
		return resilience.NewBreaker(name, cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, opts...)
	}

	var (
		model     llm.Model
		guardrail llm.Guardrail
		provider  string
		gateway   *litellm.Client
	)
	switch cfg.LLM.Provider {
	case "bedrock":
		awsc, err := loadAWS()
		if err != nil {
			return nil, err
		}
		api := bedrock.NewAPI(awsc)
		m := bedrock.NewModel(api, cfg.LLM.ModelID, cfg.LLM.InferenceTimeout)
		m.SetBreaker(breaker("bedrock"))
		model, provider = m, providerBR
	case "litellm":
		c := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LLM.ModelID, cfg.LLM.InferenceTimeout)
		c.SetBreaker(breaker("litellm"))
		c.SetHTTPClient(cfotel.NewHTTPClient(cfg.LLM.InferenceTimeout))
		model, provider, gateway = c, providerLite, c
	}
	// The Bedrock guardrail screens output of either provider.
	guardrail, err = newGuardrail(cfg.LLM, loadAWS)
	if err != nil {
		return nil, err
	}

	// --- Upstreams ---
	hcpClient := hcp.NewClient(cfg.HCP.HostName, cfotel.NewHTTPClient(0), hcp.Options{
		CallbackTimeout: cfg.HCP.CallbackTimeout,
		PlanTimeout:     cfg.HCP.PlanTimeout,
		BundleTimeout:   cfg.HCP.BundleTimeout,
		BundleMaxBytes:  cfg.HCP.BundleMaxBytes,
	})
	hcpClient.SetBreaker(breaker("hcp", resilience.WithFailureFilter(hcp.Trips)))

	apiClient := cfotel.NewHTTPClient(controlTimeout)
	releases := amirelease.NewClient(cfg.GitHub.APIURL, apiClient, tiered.New(l1, shared, releaseTTL), releaseTTL)
	app.tools = mcp.NewServer(mcp.ServerConfig{
		Name:    cfg.Logging.Service,
		Version: version,
		APIKey:  cfg.Events.APIKey,
	}, mcp.ServerDeps{Releases: releases})

	// --- Services ---
	engine := service.NewFulfillmentEngine(
		service.FulfillmentConfig{ModelID: cfg.LLM.ModelID, Provider: provider, TrustedHost: cfg.HCP.HostName},
		service.FulfillmentDeps{
			Plans:     hcpClient,
			Model:     model,
			Loop:      service.NewToolLoop(model, app.tools, cfg.LLM.MaxToolRounds, cfg.LLM.Timeout, metrics),
			Guardrail: guardrail,
			RunLog:    runLog,
			Metrics:   metrics,
		},
	)
	dispatcher := service.NewCallbackDispatcher(hcpClient, github.NewClient(cfg.GitHub.APIURL, apiClient), app.secrets, cfg.GitHub.TokenSecretID, metrics)
	processor := service.NewRunTaskProcessor(
		service.NewRunTaskVerifier(cfg.EventBus.DetailType, cfg.Verify),
		claims,
		engine,
		dispatcher,
		metrics,
	)
	app.runner = service.NewRunner(processor.Handle, cfg.EventBus.Concurrency)

	app.ingress = service.NewIngressService(
		service.NewSignatureGate(app.secrets, cfg.HCP),
		service.NewEventForwarder(publisher, cfg.EventBus.DetailType),
		metrics,
	)

	app.ready = func(ctx context.Context) error {
		if bus != nil && !bus.IsConnected() {
			return errors.New("nats disconnected")
		}
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if gateway != nil {
			if _, err := gateway.Health(ctx); err != nil {
				return fmt.Errorf("litellm: %w", err)
			}
		}
		return nil
	}
	return app, nil
}

// newLedger picks the claim ledger. JetStream KV and Postgres share claims
// across replicas; the ristretto fallback is process local.
func newLedger(ctx context.Context, app *application, cfg *config.Config, bus *cfnats.Bus, pool *pgxpool.Pool) (ledger.Ledger, error) {
	switch {
	case bus != nil:
		kv, err := bus.KeyValue(ctx, cfg.NATS.LedgerBucket, cfg.NATS.LedgerTTL)
		if err != nil {
			return nil, fmt.Errorf("ledger bucket: %w", err)
		}
		return natskv.NewLedger(kv), nil
	case pool != nil:
		return postgres.NewLedger(pool), nil
	}
	l, err := ristretto.NewLedger(100_000, cfg.NATS.LedgerTTL)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	app.closers = append(app.closers, l.Close)
	slog.Warn("claim ledger is process local; duplicates across replicas are not suppressed")
	return l, nil
}

// newGuardrail builds the Bedrock guardrail when one is configured.
func newGuardrail(cfg config.LLM, loadAWS func() (aws.Config, error)) (llm.Guardrail, error) {
	if cfg.GuardrailID == "" {
		return nil, nil
	}
	awsc, err := loadAWS()
	if err != nil {
		return nil, fmt.Errorf("guardrail: %w", err)
	}
	return bedrock.NewGuardrail(bedrock.NewAPI(awsc), cfg.GuardrailID, cfg.GuardrailVersion), nil
}

// unlinked hides the console URL of a run log.
type unlinked struct{ runlog.Writer }

func (unlinked) URL(runlog.Cursor) string { return "" }
