// README: Entry point; loads config, wires the engine, starts HTTP server and background workers.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/config"
	httptransport "github.com/WOWMediaprod/Logisticsdash-sub001/internal/http"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/infra"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/maps"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/bridge"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/eta"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/hub"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/ingest"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/track"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	store := bridge.NewStore(dbPool, redisClient)
	cache := bridge.NewCache(store, cfg.Bridge.DestinationTTL, logger)

	calc := eta.NewCalculator(cfg.Tracking.StationaryWindow)
	registry := track.NewRegistry(cfg.Tracking, calc, cache, logger)

	var routes bridge.RouteEstimator
	if cfg.Maps.APIKey != "" {
		routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		routes = routeSvc
	}
	persistence := bridge.New(registry, store, cache, routes, cfg.Bridge.QueueSize, logger)

	subHub := hub.New(registry, cache, cfg.Hub.SendBuffer, logger)
	registry.SetEvictionHook(func(ref track.EntityRef) {
		subHub.NotifyEvicted(ref)
		cache.Forget(ref)
	})

	gateway := ingest.NewGateway(registry, subHub, persistence, cfg.Tracking, logger)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Gateway: gateway,
		Hub:     subHub,
		WS:      ws.NewHandler(subHub, logger),
		Logger:  logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go registry.RunSweeper(ctx)
	go persistence.RunDrain(ctx)
	go cache.RunRefresher(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("tracking engine listening", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
