// Package main runs the shard coordinator daemon.
//
// Pods register themselves against this process via the control surface
// served at ADDR (default :8080, see adapters/api); it keeps the shard
// assignment balanced and persists the cluster state in the selected
// backend (STORAGE=memory|nats|redis).
//
// Prometheus metrics are served at METRICS_ADDR (default :2121).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codewandler/shardmgr-go/adapters/api"
	natsadapter "github.com/codewandler/shardmgr-go/adapters/nats"
	promadapter "github.com/codewandler/shardmgr-go/adapters/prometheus"
	redisadapter "github.com/codewandler/shardmgr-go/adapters/redis"
	"github.com/codewandler/shardmgr-go/core/manager"
)

var (
	logLevel     = getEnv("LOG_LEVEL", "info")
	storageType  = getEnv("STORAGE", "memory")
	redisAddr    = getEnv("REDIS_ADDR", "localhost:6379")
	apiAddr      = getEnv("ADDR", ":8080")
	metricsAddr  = getEnv("METRICS_ADDR", ":2121")
	numShards    = getEnvInt("SHARDS", 300)
	rebalanceSec = getEnvInt("REBALANCE_INTERVAL_SECONDS", 20)
	ratePercent  = getEnvInt("REBALANCE_RATE_PERCENT", 2)
)

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, fmt.Sprintf("%d", fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newStorage(ctx context.Context) (manager.ClusterStorage, func(), error) {
	switch storageType {
	case "memory":
		return manager.NewMemoryStorage(), func() {}, nil
	case "nats":
		store, err := natsadapter.NewClusterStore(ctx, natsadapter.ClusterStoreConfig{
			Connect: natsadapter.ConnectDefault(),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "redis":
		store, err := redisadapter.NewClusterStore(ctx, redisadapter.ClusterStoreConfig{
			Addr: redisAddr,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", storageType)
	}
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := newStorage(ctx)
	if err != nil {
		log.Error("storage init failed", "storage", storageType, "error", err)
		os.Exit(1)
	}
	defer closeStorage()

	reg := prometheus.NewRegistry()
	metrics := promadapter.NewManagerMetrics(reg)

	pods := newPodsClient()
	mgr, err := manager.New(manager.Config{
		Context:           ctx,
		Log:               log,
		Metrics:           metrics,
		Storage:           storage,
		Pods:              pods,
		Health:            pods,
		NumberOfShards:    numShards,
		RebalanceInterval: time.Duration(rebalanceSec) * time.Second,
		RebalanceRate:     float64(ratePercent) / 100,
	})
	if err != nil {
		log.Error("manager init failed", "error", err)
		os.Exit(1)
	}

	apiSrv := &http.Server{
		Addr:    apiAddr,
		Handler: api.NewHandler(mgr, api.HandlerConfig{Log: log}),
	}
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server failed", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	log.Info("shard coordinator running",
		"addr", apiAddr,
		"storage", storageType,
		"shards", numShards,
		"rebalance_interval", time.Duration(rebalanceSec)*time.Second,
	)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
}
