package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"condor/balances"
	"condor/config"
	"condor/draft"
	"condor/gateway"
	"condor/gateway/idem"
	"condor/gateway/middleware"
	"condor/observability"
	"condor/observability/logging"
	telemetry "condor/observability/otel"
	"condor/prices"
	"condor/registry"
	"condor/storage"
	"condor/submit"
	"condor/txmon"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to condord configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CONDOR_ENV"))
	logger := logging.Setup("condord", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "condord",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("condord: load config: %v", err)
	}

	reg, err := registry.Load(cfg.TokenRegistry)
	if err != nil {
		log.Fatalf("condord: load token registry: %v", err)
	}

	store, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatalf("condord: open storage: %v", err)
	}
	defer store.Close()

	cache := prices.NewCache(cfg.Prices.MaxAge.Duration)
	sourceRegistry := prices.NewSourceRegistry()
	sources := make([]prices.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		built, err := sourceRegistry.Build(src.Name, src.Type, src.Endpoint, src.Assets)
		if err != nil {
			log.Fatalf("condord: build price source %s: %v", src.Name, err)
		}
		sources = append(sources, built)
	}
	coreMetrics := observability.Core()
	priceManager, err := prices.NewManager(cache, sources, reg.Symbols(), cfg.Prices.Interval.Duration,
		prices.WithRecorder(store), prices.WithLogger(logger),
		prices.WithRefreshCounter(coreMetrics.PriceRefreshes))
	if err != nil {
		log.Fatalf("condord: price manager: %v", err)
	}

	var balanceService *balances.Service
	var monitor *txmon.Monitor
	if rpcURL := strings.TrimSpace(cfg.Chain.RPCURL); rpcURL != "" {
		chainClient, err := ethclient.Dial(rpcURL)
		if err != nil {
			log.Fatalf("condord: dial chain rpc: %v", err)
		}
		defer chainClient.Close()
		fetcher, err := balances.NewFetcher(chainClient, reg)
		if err != nil {
			log.Fatalf("condord: balance fetcher: %v", err)
		}
		balanceService, err = balances.NewService(fetcher, cfg.Balances.Interval.Duration, logger)
		if err != nil {
			log.Fatalf("condord: balance service: %v", err)
		}
		monitor, err = txmon.New(chainClient, store, cfg.Monitor.Interval.Duration, cfg.Monitor.Linger.Duration, logger)
		if err != nil {
			log.Fatalf("condord: transaction monitor: %v", err)
		}
		if err := monitor.Restore(context.Background()); err != nil {
			logger.Warn("restore transaction watch set", "err", err)
		}
	} else {
		logger.Warn("chain rpc not configured; balances and transaction monitoring disabled")
	}

	broker, err := submit.NewSessionBroker(cfg.OrderEngine.BaseURL, cfg.OrderEngine.Timeout.Duration)
	if err != nil {
		log.Fatalf("condord: session broker: %v", err)
	}
	client, err := submit.NewClient(submit.Config{
		BaseURL: cfg.OrderEngine.BaseURL,
		Timeout: cfg.OrderEngine.Timeout.Duration,
	}, broker)
	if err != nil {
		log.Fatalf("condord: order engine client: %v", err)
	}

	var idemStore *idem.Store
	if path := strings.TrimSpace(cfg.IdemPath); path != "" {
		idemStore, err = idem.Open(path)
		if err != nil {
			log.Fatalf("condord: open idempotency store: %v", err)
		}
		defer idemStore.Close()
	}

	var balanceReader draft.BalanceReader
	if balanceService != nil {
		balanceReader = balanceService
	}
	composer := draft.NewComposer(balanceReader, nil, cfg.Drafts.IdleTTL.Duration, logger)

	srv, err := gateway.NewServer(gateway.Config{
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
		RateLimits: rateLimits(cfg.RateLimits),
		Observability: middleware.ObservabilityConfig{
			ServiceName: "condord",
			LogRequests: true,
			Enabled:     true,
		},
		SubmitTimeout: cfg.Drafts.SubmitTimeout.Duration,
	}, gateway.Deps{
		Composer: composer,
		Registry: reg,
		Prices:   cache,
		Balances: balanceService,
		Client:   client,
		Monitor:  monitor,
		Store:    store,
		Idem:     idemStore,
		Metrics:  coreMetrics,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("condord: gateway: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := priceManager.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("price manager exited", "err", err)
			stop()
		}
	}()
	go func() {
		if err := composer.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("draft sweeper exited", "err", err)
		}
	}()
	if balanceService != nil {
		go func() {
			if err := balanceService.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("balance service exited", "err", err)
			}
		}()
	}
	if monitor != nil {
		go func() {
			if err := monitor.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("transaction monitor exited", "err", err)
			}
		}()
	}
	go pruneLoop(rootCtx, store, idemStore, cfg.Prices.Retention.Duration)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("condord listening", "addr", cfg.ListenAddress)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", "err", err)
		os.Exit(1)
	}
}

// pruneLoop trims price history and stale idempotency keys once an hour.
func pruneLoop(ctx context.Context, store *storage.Store, idemStore *idem.Store, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-retention)
		if err := store.PrunePriceSnapshots(ctx, cutoff); err != nil && ctx.Err() == nil {
			log.Printf("condord: prune price snapshots: %v", err)
		}
		if idemStore != nil {
			if err := idemStore.Prune(ctx, cutoff); err != nil && ctx.Err() == nil {
				log.Printf("condord: prune idempotency keys: %v", err)
			}
		}
	}
}

func rateLimits(limits map[string]config.Limit) map[string]middleware.RateLimit {
	if len(limits) == 0 {
		return nil
	}
	out := make(map[string]middleware.RateLimit, len(limits))
	for name, limit := range limits {
		out[name] = middleware.RateLimit{
			RequestsPerMinute: limit.RequestsPerMinute,
			Burst:             limit.Burst,
		}
	}
	return out
}
