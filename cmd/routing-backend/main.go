package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/bearing-technology/routing-backend/internal/api"
	"github.com/bearing-technology/routing-backend/internal/clock"
	"github.com/bearing-technology/routing-backend/internal/edgecache"
	"github.com/bearing-technology/routing-backend/internal/history"
	"github.com/bearing-technology/routing-backend/internal/httpclient"
	"github.com/bearing-technology/routing-backend/internal/kvstore"
	"github.com/bearing-technology/routing-backend/internal/otc"
	"github.com/bearing-technology/routing-backend/internal/pipeline"
	"github.com/bearing-technology/routing-backend/internal/prefetch"
	"github.com/bearing-technology/routing-backend/internal/provider"
	"github.com/bearing-technology/routing-backend/internal/publisher"
	"github.com/bearing-technology/routing-backend/internal/rate"
	"github.com/bearing-technology/routing-backend/internal/router"
	"github.com/bearing-technology/routing-backend/internal/routing"
	"github.com/bearing-technology/routing-backend/internal/scoring"
	"github.com/bearing-technology/routing-backend/pkg/config"
	"github.com/bearing-technology/routing-backend/pkg/logger"
	"github.com/bearing-technology/routing-backend/pkg/secrets"
	"github.com/bearing-technology/routing-backend/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [routing-backend]...")

	clk := clock.System{}

	// --- Key-value store ---
	st, err := kvstore.NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	pub, err := publisher.New(nc, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- AWS Secrets Manager provider + credential cache ---
	var secretsProvider secrets.Provider
	if awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion); err != nil {
		logg.Warnw("AWS Secrets Manager unavailable; OTC reservations disabled and FX key falls back to env", "error", err)
	} else {
		secretsProvider = awsProvider
	}
	credCache := secrets.NewCache[secrets.VenueCredentials](cfg.CacheTTL)
	stopCleaner := make(chan struct{})
	go credCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	// --- Rate limiters and HTTP executors ---
	fxRateMgr := rate.NewManager(rate.Config{
		MinInterval: cfg.FXPairPacing,
		Burst:       1,
	})
	fxHTTP := &http.Client{Timeout: cfg.ProviderHTTPTimeout}
	fxExec := httpclient.New(logg.Desugar(), fxRateMgr, fxHTTP, 1, "fx", nil)

	otcRateMgr := rate.NewManager(rate.Config{
		MinInterval: 100 * time.Millisecond,
		Burst:       10,
	})
	otcHTTP := &http.Client{Timeout: 10 * time.Second}
	otcExec := httpclient.New(logg.Desugar(), otcRateMgr, otcHTTP, 2, "otc", nil)

	// --- Edge cache + providers ---
	cache := edgecache.New(st, clk, logg.Desugar())

	fxAPIKey := resolveFXAPIKey(ctx, secretsProvider, cfg)
	providers := []provider.QuoteProvider{
		provider.NewStaticProvider(clk),
		provider.NewFXProvider(logg.Desugar(), clk, fxExec, cfg.FXBaseURL, fxAPIKey, cfg.FXPairs),
		provider.NewBatchFXProvider(logg.Desugar(), clk, fxExec, cfg.FXBaseURL, fxAPIKey, cfg.FXPairs),
	}

	var dexStream *provider.DEXStreamProvider
	if cfg.DEXStreamURL != "" {
		dexStream = provider.NewDEXStreamProvider(logg.Desugar(), clk, cfg.DEXStreamURL)
		dexStream.Start(ctx)
		providers = append(providers, dexStream)
	} else {
		logg.Warn("DEX_STREAM_URL not configured; on-chain edges come from the static provider only")
	}

	// --- Prefetch orchestrator ---
	orchestrator := prefetch.New(logg.Desugar(), cache, providers, cfg.FastPrefetchPeriod, cfg.SlowPrefetchPeriod)
	orchestrator.Start(ctx)

	// --- Router + scorer ---
	rt := router.New(cache, clk, logg.Desugar(), cfg.DefaultIntermediates)
	scorer := scoring.New(scoring.Params{
		Volatility:      cfg.VolatilityParams,
		DefaultDailyVol: cfg.DefaultDailyVol,
		VenueRisk:       cfg.CounterpartyDefaults,
	})

	// --- OTC reservation client ---
	var otcClient pipeline.OTCReservationClient
	if secretsProvider != nil {
		otcClient = otc.NewClient(logg.Desugar(), otcExec, secretsProvider, credCache, "routing/otc/")
	}

	// --- Optional execution history ledger ---
	var historyWriter pipeline.HistoryWriter
	if cfg.HistoryDatabaseURL != "" {
		logg.Info("connecting to history ledger: ", utils.MaskDSN(cfg.HistoryDatabaseURL))
		pool, err := history.Connect(ctx, cfg.HistoryDatabaseURL)
		if err != nil {
			logg.Warnw("history ledger unavailable; terminal executions will not be mirrored", "error", err)
		} else {
			defer pool.Close()
			historyWriter = history.New(pool, logger.L(), cfg.ServiceName)
		}
	}

	// --- Pipeline + routing service ---
	pipe := pipeline.New(
		st,
		clk,
		logg.Desugar(),
		pipeline.Config{
			ProvisionalTTL: cfg.ProvisionalTTL,
			ReservedTTL:    cfg.ReservedTTL,
			DepositTTL:     cfg.DepositTTL,
			ExecutionTTL:   cfg.ExecutionTTL,
			Treasury: pipeline.TreasuryDetails{
				PixKey:       cfg.PixKey,
				SpeiClabe:    cfg.SpeiClabe,
				BankAccount:  cfg.BankAccount,
				BankName:     cfg.BankName,
				BankRouting:  cfg.BankRouting,
				MerchantName: cfg.MerchantName,
				MerchantCity: cfg.MerchantCity,
			},
		},
		otcClient,
		pub,
		historyWriter,
		pipeline.NewSimulatedStepExecutor(),
	)
	svc := routing.NewService(ctx, logg.Desugar(), cache, rt, scorer, pipe)

	// --- Fiber HTTP server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	handler := api.NewHandler(logg.Desugar(), svc, cfg.DepositWebhookSecret, cfg.DepositWebhookSigHeader)
	api.RegisterRoutes(app, nc, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[routing-backend] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"fast_period", cfg.FastPrefetchPeriod,
		"slow_period", cfg.SlowPrefetchPeriod,
		"providers", len(providers))

	<-ctx.Done()
	logg.Info("shutting down [routing-backend]...")

	close(stopCleaner)
	orchestrator.Stop()
	if dexStream != nil {
		dexStream.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}

// resolveFXAPIKey prefers Secrets Manager, then the FX_API_KEY env var.
func resolveFXAPIKey(ctx context.Context, provider secrets.Provider, cfg *config.Config) string {
	if provider != nil && cfg.FXAPIKeySecret != "" {
		raw, err := provider.GetSecret(ctx, cfg.FXAPIKeySecret)
		if err == nil {
			if key := raw["api_key"]; key != "" {
				return key
			}
		} else {
			logger.S().Warnw("failed to resolve FX API key from Secrets Manager", "error", err)
		}
	}
	return os.Getenv("FX_API_KEY")
}
