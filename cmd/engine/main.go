package main

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sonicx222/arbitrage-new-sub003/internal/breaker"
	"github.com/sonicx222/arbitrage-new-sub003/internal/config"
	"github.com/sonicx222/arbitrage-new-sub003/internal/engine"
	"github.com/sonicx222/arbitrage-new-sub003/internal/events"
	"github.com/sonicx222/arbitrage-new-sub003/internal/flashloan"
	"github.com/sonicx222/arbitrage-new-sub003/internal/health"
	"github.com/sonicx222/arbitrage-new-sub003/internal/locks"
	"github.com/sonicx222/arbitrage-new-sub003/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
	"github.com/sonicx222/arbitrage-new-sub003/internal/queue"
	"github.com/sonicx222/arbitrage-new-sub003/internal/quotes"
	"github.com/sonicx222/arbitrage-new-sub003/internal/rpc"
	"github.com/sonicx222/arbitrage-new-sub003/internal/simulation"
	"github.com/sonicx222/arbitrage-new-sub003/internal/stats"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("configuration rejected", "path", configPath, "error", err)
		os.Exit(1)
	}

	instanceID := cfg.Instance.Name
	if instanceID == "" {
		instanceID = "engine-" + uuid.NewString()[:8]
	}
	logger.Info("execution engine starting", "instance", instanceID, "env", cfg.Instance.Env)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher := events.NewPublisher(rdb, instanceID, logger)
	st := stats.New()
	prom := metrics.NewMetrics()

	q := queue.NewService(cfg.QueueConfig(), logger)
	q.OnPauseStateChange(func(paused bool) {
		if paused {
			prom.QueuePaused.Set(1)
		} else {
			prom.QueuePaused.Set(0)
		}
	})

	breakers := breaker.NewManager(cfg.BreakerConfig(), st, publisher, logger)
	breakers.SetMetrics(prom)

	providers, err := rpc.NewProviderService(ctx, cfg.Chains, cfg.BatchRPCConfig(), st, nil, logger)
	if err != nil {
		logger.Error("rpc provider setup failed", "error", err)
		os.Exit(1)
	}
	providers.SetMetrics(prom)
	providers.OnProviderReconnect(func(chain model.Chain) {
		logger.Info("rpc provider reconnected", "chain", chain)
	})
	providers.StartHealthChecks(ctx)

	registry := flashloan.NewRegistry(cfg.FlashLoans, func(chain model.Chain) flashloan.ContractCaller {
		if client := providers.GetProvider(chain); client != nil {
			return client
		}
		return nil
	}, nil, logger)

	tracker := locks.NewConflictTracker(cfg.TrackerConfig())
	lockManager := locks.NewManager(rdb, instanceID, cfg.LockTTL(), tracker, logger)

	simClient := simulation.NewClient(cfg.SimulationConfig(), logger)

	quoter := quotes.NewManager(
		func() bool { return cfg.Features.UseBatchedQuoter },
		nil, // no on-chain batch quoter deployed yet; flag routes to fallback
		func(_ context.Context, opp *model.Opportunity, chain model.Chain) (*quotes.ProfitEstimate, error) {
			estimate := &quotes.ProfitEstimate{ExpectedProfit: opp.ExpectedProfit.Big()}
			if p := registry.Provider(chain); p != nil {
				estimate.FlashLoanFee = p.CalculateFee(opp.AmountIn.Big()).FeeAmount
			}
			return estimate, nil
		},
		func(chain model.Chain, amount *big.Int) *big.Int {
			if p := registry.Provider(chain); p != nil {
				return p.CalculateFee(amount).FeeAmount
			}
			return new(big.Int)
		},
		func(ctx context.Context, chain model.Chain) (uint64, error) {
			client := providers.GetProvider(chain)
			if client == nil {
				return 0, errors.New("no rpc provider for chain")
			}
			return client.BlockNumber(ctx)
		},
		nil,
		logger,
	)

	baselines := health.NewBaselineStore()

	eng, err := engine.New(cfg, engine.Deps{
		Queue:     q,
		Breakers:  breakers,
		Registry:  registry,
		Providers: providers,
		Locks:     lockManager,
		Quoter:    quoter,
		Simulator: simulatorOrNil(simClient),
		Stats:     st,
		Publisher: publisher,
		Baselines: baselines,
		Metrics:   prom,
		Logger:    logger,
	}, rdb)
	if err != nil {
		logger.Error("engine setup failed", "error", err)
		os.Exit(1)
	}
	if err := eng.Start(ctx); err != nil {
		logger.Error("engine start failed", "error", err)
		os.Exit(1)
	}

	monitor := health.NewMonitor(cfg.HealthConfig(), health.Sources{
		InstanceName:         instanceID,
		QueueSize:            q.Size,
		QueuePaused:          q.IsPaused,
		ActiveExecutions:     eng.ActiveExecutions,
		PendingOpportunities: eng.PendingOpportunities,
		Stats:                st,
		Simulation:           simHealthOrNil(simClient),
		Tracker:              tracker,
		Baselines:            baselines,
		StaleCleaner:         eng.StaleCleaner(),
	}, publisher, logger)
	monitor.Start(ctx)

	var metricsServer *http.Server
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", cfg.Metrics.ListenAddr, "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", cfg.Metrics.ListenAddr)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	eng.Stop()
	monitor.Stop()
	providers.StopHealthChecks()
	providers.Clear()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	publisher.Detach()
	logger.Info("execution engine stopped")
}

// simulatorOrNil avoids storing a typed nil in the engine's Simulator
// interface when simulation is not configured.
func simulatorOrNil(c *simulation.Client) engine.Simulator {
	if c == nil {
		return nil
	}
	return c
}

func simHealthOrNil(c *simulation.Client) health.SimulationHealth {
	if c == nil {
		return nil
	}
	return c
}
