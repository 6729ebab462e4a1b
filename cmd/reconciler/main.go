package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/snow-ghost/costrecon/pkg/accounting"
	"github.com/snow-ghost/costrecon/pkg/cache"
	"github.com/snow-ghost/costrecon/pkg/calibration"
	"github.com/snow-ghost/costrecon/pkg/config"
	"github.com/snow-ghost/costrecon/pkg/cost"
	"github.com/snow-ghost/costrecon/pkg/datasource"
	"github.com/snow-ghost/costrecon/pkg/limiter"
	"github.com/snow-ghost/costrecon/pkg/observability"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
	"github.com/snow-ghost/costrecon/pkg/reconcile"
	"github.com/snow-ghost/costrecon/pkg/statement"
	"github.com/sony/gobreaker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	obs, err := observability.NewManager(cfg.ObservabilityConfig(), reg)
	if err != nil {
		return fmt.Errorf("failed to set up observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()
	logger := obs.GetLogger()

	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr, reg, logger)
	}

	registry, err := ratecard.NewDefaultRegistry(cfg.RateCardConfig())
	if err != nil {
		return fmt.Errorf("failed to register default rate cards: %w", err)
	}
	if cfg.RateCardsFile != "" {
		loaded, err := ratecard.NewLoader(cfg.RateCardsFile).LoadInto(registry)
		if err != nil {
			return fmt.Errorf("failed to load rate cards: %w", err)
		}
		logger.Info("Rate cards loaded", "file", cfg.RateCardsFile, "count", loaded)
	}

	catalog, closeCache, err := buildCatalog(ctx, cfg, obs)
	if err != nil {
		return err
	}
	defer closeCache()

	store, err := accounting.NewManager(cfg.AccountingConfig())
	if err != nil {
		return err
	}
	defer store.Close()

	calculator := cost.NewCalculator(registry, cfg.CostConfig())
	generator := statement.NewGenerator(catalog, calculator, obs, cfg.StatementConfig())
	calibrator := calibration.NewService(registry, cfg.CalibrationConfig(), obs)
	reconciler := reconcile.New(registry, generator, calibrator, store, obs)

	if _, err := reconciler.Restore(ctx); err != nil {
		return err
	}

	period := cfg.Period
	if period == "" {
		period = reconcile.LastClosedPeriod(time.Now())
	}

	result, err := reconciler.RunPeriod(ctx, period, reconcile.Options{
		Apply:        cfg.CalibrationAutoApply,
		ApplyOptions: calibration.ApplyOptions{MinConfidence: cfg.CalibrationMinConfidence},
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// buildCatalog registers the configured file sources behind cache and
// protection wrappers.
func buildCatalog(ctx context.Context, cfg *config.Config, obs *observability.Manager) (*datasource.Catalog, func(), error) {
	if cfg.OperationsFile == "" || cfg.BillingFile == "" {
		return nil, nil, fmt.Errorf("no data sources configured: set OPERATIONS_FILE and BILLING_FILE")
	}

	protectionConfig := cfg.ProtectionConfig()
	protectionConfig.Retry.OnRetry = func(ctx context.Context, attempt int, err error) {
		obs.RecordRetry(ctx, "fetch", limiter.RetryReason(err), attempt)
	}
	protectionConfig.OnStateChange = func(source string, from, to gobreaker.State) {
		obs.RecordCircuitBreaker(ctx, source, from.String(), to.String())
	}
	protection := limiter.NewProtectionManager(protectionConfig)

	cacheConfig := cache.DefaultCacheConfig()
	cacheConfig.MaxSize = cfg.FetchCacheSize
	cacheConfig.DefaultTTL = cfg.FetchCacheTTL
	cacheManager, err := cache.NewCacheManager(cacheConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create fetch cache: %w", err)
	}

	operations := datasource.NewProtectedOperations(datasource.NewFileOperations("operations-file", cfg.OperationsFile), protection)
	billingExport := datasource.NewProtectedBilling(datasource.NewFileBilling("billing-file", cfg.BillingFile), protection)

	catalog := datasource.NewCatalog()
	catalog.RegisterOperations(datasource.NewCachedOperations(operations, cacheManager, cfg.FetchCacheTTL, obs))
	catalog.RegisterBilling(datasource.NewCachedBilling(billingExport, cacheManager, cfg.FetchCacheTTL, obs))

	return catalog, cacheManager.Close, nil
}
