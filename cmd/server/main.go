package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"ballotdesk/internal/audit"
	"ballotdesk/internal/auth"
	"ballotdesk/internal/biometric"
	"ballotdesk/internal/cache"
	"ballotdesk/internal/cache/redismirror"
	"ballotdesk/internal/console"
	"ballotdesk/internal/ledger"
	"ballotdesk/internal/platform/config"
	"ballotdesk/internal/platform/httpserver"
	"ballotdesk/internal/platform/logger"
	"ballotdesk/internal/platform/metrics"
	"ballotdesk/internal/platform/redis"
	"ballotdesk/internal/platform/workers"
	"ballotdesk/internal/session"
	"ballotdesk/internal/store"
	httptransport "ballotdesk/internal/transport/http"
	"ballotdesk/pkg/platform/circuit"
)

const (
	auditInboxSize  = 256
	shutdownTimeout = 10 * time.Second
)

// main wires dependencies and owns the process lifecycle. Business logic lives
// in the internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("ballotdesk stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pool := workers.New(cfg.Workers.PoolSize, log)
	defer pool.Close()

	sessions, err := session.New(cfg.Database, cfg.Session, log, m)
	if err != nil {
		return err
	}
	defer sessions.Close()

	st := store.New(sessions, store.DialectFor(cfg.Database.Driver))
	if cfg.Database.Driver == session.DriverSQLite {
		if err := st.Migrate(ctx); err != nil {
			return err
		}
	}
	led := ledger.New(st)

	auditInbox := make(chan audit.Event, auditInboxSize)
	var auditStore audit.Store = audit.NewMemoryStore(cfg.Audit.Retention)
	if cfg.Audit.Sink == "sql" {
		if err := st.MigrateAudit(ctx); err != nil {
			log.Warn().Err(err).Msg("audit table unavailable, keeping audit events in memory")
		} else {
			auditStore = store.NewAuditLog(st)
		}
	}
	auditor := audit.NewPublisher(auditInbox, log)
	go func() {
		if err := audit.NewWorker(auditStore, auditInbox, log).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("audit worker stopped")
		}
	}()

	cacheOpts := []cache.Option{cache.WithTTL(cfg.Cache.TTL), cache.WithMetrics(m)}
	var snapshots httptransport.SnapshotReader
	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		// The mirror is optional; the console works without it.
		log.Warn().Err(err).Msg("redis unavailable, stats mirror disabled")
	}
	if rdb != nil {
		defer rdb.Close()
		log.Info().Str("addr", rdb.Addr()).Msg("stats mirror enabled")
		mirror := redismirror.New(rdb.Client, cfg.Redis.SnapshotTTL)
		breaker := circuit.New("redis_mirror",
			circuit.WithFailureThreshold(cfg.Redis.BreakerFailures),
			circuit.WithCooldown(cfg.Redis.BreakerCooldown),
		)
		cacheOpts = append(cacheOpts, cache.WithPublisher(redismirror.NewGuarded(mirror, breaker, log)))
		snapshots = mirror
	}
	dataCache := cache.New(console.NewSource(st, led), sessions, pool, log, cacheOpts...)

	device := biometric.NewSpoolDevice(cfg.Biometric.SpoolDir, cfg.Biometric.PollEvery, log)
	matcher := biometric.HammingMatcher{}
	authenticator := auth.New(device, matcher, st, auditor, pool, log, auth.WithMetrics(m))
	enroller := auth.NewEnroller(device, matcher, log)

	svc := console.New(st, led, sessions, dataCache, auditor, log,
		console.WithVerifier(boundedVerifier{auth: authenticator, limit: cfg.Biometric.VerifyLimit}),
		console.WithEnroller(boundedEnroller{enroller: enroller, limit: cfg.Biometric.VerifyLimit}),
	)

	monitor := console.NewMonitor(dataCache, svc, pool, cfg.Cache.RefreshInterval, log)
	rt := console.NewRuntime(sessions, monitor)
	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer rt.Stop()

	if _, err := sessions.GetConnection(ctx); err != nil {
		log.Warn().Err(err).Msg("backend not reachable at startup, operator must log in")
	} else {
		dataCache.SchedulePreload()
	}

	handler := httptransport.NewHandler(svc, sessions, log,
		httptransport.WithDashboardFeed(monitor),
		httptransport.WithAuditLog(auditStore),
		httptransport.WithSnapshots(snapshots),
		httptransport.WithGatherer(reg),
	)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	log.Info().Str("addr", cfg.Addr).Str("driver", cfg.Database.Driver).Msg("starting ballotdesk")
	err = httpserver.Run(ctx, srv, shutdownTimeout)
	log.Info().Msg("shut down")
	return err
}
