// Command modelgate is the main entry point for the model routing gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/modelgate/internal/cache"
	"github.com/example/modelgate/internal/config"
	"github.com/example/modelgate/internal/costgate"
	"github.com/example/modelgate/internal/facade"
	"github.com/example/modelgate/internal/health"
	"github.com/example/modelgate/internal/ledger"
	"github.com/example/modelgate/internal/observe"
	"github.com/example/modelgate/internal/registry"
	"github.com/example/modelgate/internal/router"
	"github.com/example/modelgate/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "modelgate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "modelgate: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("modelgate starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr, "providers", len(cfg.Providers))

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "modelgate"})
	if err != nil {
		slog.Error("failed to initialize telemetry", "err", err)
		return 1
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		slog.Error("failed to build gateway", "err", err)
		return 1
	}
	defer gw.shutdown(context.Background())

	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		diff := config.Diff(old, updated)
		slog.Info("configuration changed on disk", "log_level_changed", diff.LogLevelChanged, "providers_changed", diff.ProvidersChanged, "cache_changed", diff.CacheChanged)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	if cfg.Server.ListenAddr != "" {
		srv := newOpsServer(cfg.Server.ListenAddr, gw)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("gateway ready — press Ctrl+C to shut down", "models", len(gw.facade.ListModels()))
	<-ctx.Done()
	slog.Info("shutdown signal received, stopping…")
	return 0
}

// gateway bundles the composition root's collaborators so main can shut
// them down in reverse construction order.
type gateway struct {
	reg      *registry.Registry
	cache    *cache.Cache
	sessions *session.Store
	facade   *facade.Facade
}

func (g *gateway) shutdown(ctx context.Context) {
	g.sessions.Stop()
	g.cache.Stop()
	if err := g.reg.Shutdown(ctx); err != nil {
		slog.Error("registry shutdown error", "err", err)
	}
}

// buildGateway wires the gateway's composition root: the Ledger first
// (the Registry takes it), then the Registry, Cache, Cost Gate, Router and
// Session Store, and finally the Facade.
func buildGateway(ctx context.Context, cfg *config.Config) (*gateway, error) {
	var ledgerOpts []ledger.Option
	if cfg.Registry.MaxPerformanceEvents > 0 {
		ledgerOpts = append(ledgerOpts, ledger.WithMaxEvents(cfg.Registry.MaxPerformanceEvents))
	}
	led := ledger.New(ledgerOpts...)

	reg, err := registry.New(ctx, cfg, led)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	var cacheOpts []cache.Option
	if cfg.Cache.TTLSeconds > 0 {
		cacheOpts = append(cacheOpts, cache.WithDefaultTTL(time.Duration(cfg.Cache.TTLSeconds)*time.Second))
	}
	if cfg.Cache.RemoteAddr != "" {
		cacheOpts = append(cacheOpts, cache.WithRemote(redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RemoteAddr,
			Password: cfg.Cache.RemotePassword,
			DB:       cfg.Cache.RemoteDB,
		})))
	}
	c := cache.New(cacheOpts...)

	var gateOpts []costgate.Option
	if cfg.Costgate.EmergencyCostCeiling > 0 {
		gateOpts = append(gateOpts, costgate.WithEmergencyCostCeiling(cfg.Costgate.EmergencyCostCeiling))
	}
	if cfg.Costgate.EmergencyHourlyRequestCeiling > 0 {
		gateOpts = append(gateOpts, costgate.WithEmergencyHourlyRequestCeiling(cfg.Costgate.EmergencyHourlyRequestCeiling))
	}
	gate := costgate.New(gateOpts...)

	rt := router.New(reg, gate)

	maxContextTokens := 8192
	sessions := session.NewStore(maxContextTokens, facade.NewSummarizer(rt, reg))

	return &gateway{
		reg:      reg,
		cache:    c,
		sessions: sessions,
		facade:   facade.New(reg, rt, c, gate, sessions),
	}, nil
}

// newOpsServer serves the liveness/readiness probes and the Prometheus
// scrape endpoint. The full HTTP surface for Process and its siblings is
// out of scope; this server exists purely for operations tooling.
func newOpsServer(addr string, gw *gateway) *http.Server {
	mux := http.NewServeMux()

	h := health.New(health.Checker{
		Name: "registry",
		Check: func(ctx context.Context) error {
			if len(gw.facade.ListModels()) == 0 {
				return fmt.Errorf("no models currently advertised by any provider")
			}
			return nil
		},
	})
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{Addr: addr, Handler: observe.Middleware(observe.DefaultMetrics())(mux)}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
