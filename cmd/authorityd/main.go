// Command authorityd runs the Action Authority governance service: the
// FSM, context binding, policy engine, quorum gate, lease manager,
// execution dispatcher, and forensic log behind an HTTP control surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"quantumlife/internal/authority"
	"quantumlife/internal/authority/binding"
	"quantumlife/internal/authority/bridge"
	"quantumlife/internal/authority/forensic"
	"quantumlife/internal/authority/lease"
	"quantumlife/internal/authority/policy"
	"quantumlife/internal/authority/workorder"
	authconfig "quantumlife/internal/config"
	"quantumlife/internal/httpapi"
	authlog "quantumlife/internal/log"
	"quantumlife/internal/metrics"
)

var (
	version = "v0.1.0"
	commit  = "none"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to authorityd process config (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("authorityd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	authlog.Configure(authlog.Config{Level: "info", Service: "authorityd", Version: version})
	logger := authlog.WithComponent("main")

	cfg := authconfig.DefaultProcessConfig()
	if *configPath != "" {
		loaded, err := authconfig.LoadProcessConfig(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load process config")
		}
		cfg = loaded
	}
	authlog.Configure(authlog.Config{Level: cfg.LogLevel, Service: "authorityd", Version: version})
	logger = authlog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	forensicStore, closeForensic, err := forensicStoreFor(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open forensic store")
	}
	defer closeForensic()

	leaseStore, err := leaseStoreFor(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open lease store")
	}

	policyEngine := policy.New()
	if cfg.PolicyFile != "" {
		if err := policyEngine.WatchConfigFile(cfg.PolicyFile, func(path string) (*policy.Config, error) {
			return policy.LoadConfigFile(path, time.Now())
		}); err != nil {
			logger.Fatal().Err(err).Str("policy_file", cfg.PolicyFile).Msg("failed to watch policy file")
		}
	}
	defer policyEngine.Close()

	initialTuple := binding.Tuple{ContextID: uuid.NewString(), Timestamp: time.Now(), SourceHash: "authorityd.bootstrap"}
	core, err := authority.New(authority.Deps{
		ContextTuple:  initialTuple,
		ForensicStore: forensicStore,
		LeaseStore:    leaseStore,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build authority core")
	}
	core.Policy = policyEngine

	core.Bridges.Register(workorder.ExecutionDomain("loopback"), bridge.LoopbackBridge{})
	core.Bridges.Register(workorder.ExecutionDomain("guarded"), bridge.GuardedBridge{})

	// Monitor sweeps leaseStore directly; RedisStore does not implement
	// the session-enumeration interface Monitor needs, so a Redis-backed
	// deployment relies on key TTL expiry instead of the sweep loop
	// catching a session that silently stopped heartbeating.
	monitor := lease.NewMonitor(core.Lease, leaseStore, cfg.HeartbeatSweep)
	monitor.Start(ctx)
	defer monitor.Stop()

	promReg := prometheus.NewRegistry()
	metrics.NewRegistry(promReg)

	mux := http.NewServeMux()
	mux.Handle("/v1/", httpapi.New(core).Router())
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("authorityd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("authorityd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func forensicStoreFor(cfg authconfig.ProcessConfig) (forensic.Store, func(), error) {
	switch cfg.ForensicBackend {
	case "badger":
		store, err := forensic.OpenBadgerStore(cfg.ForensicPath)
		if err != nil {
			return nil, nil, fmt.Errorf("authorityd: open badger forensic store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return forensic.NewMemoryStore(), func() {}, nil
	}
}

func leaseStoreFor(cfg authconfig.ProcessConfig) (lease.Store, error) {
	switch cfg.LeaseBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return lease.NewRedisStore(rdb), nil
	default:
		return lease.NewMemoryStore(), nil
	}
}
