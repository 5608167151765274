// Package main runs the conquest encounter service: payment-gated attacks
// against a shared enemy, one active session at a time.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/r3e-forge/conquest/internal/chain"
	"github.com/r3e-forge/conquest/internal/config"
	"github.com/r3e-forge/conquest/internal/conquest"
	"github.com/r3e-forge/conquest/internal/metrics"
	"github.com/r3e-forge/conquest/internal/middleware"
	"github.com/r3e-forge/conquest/internal/payment"
	"github.com/r3e-forge/conquest/internal/server"
	"github.com/r3e-forge/conquest/pkg/logger"
)

func main() {
	cfg := config.LoadFromEnv()
	log := logger.New("conquest", cfg.LogLevel)

	store, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}

	ledger, err := chain.NewClient(chain.Config{
		RPCURL:    cfg.LedgerRPCURL,
		NetworkID: cfg.NetworkMagic,
		Timeout:   cfg.LedgerTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("create ledger client")
	}

	m := metrics.New("conquest")

	verifier := payment.NewVerifier(ledger, cfg.NetworkMagic, costContracts(cfg), log,
		payment.WithRetry(payment.RetryConfig{
			PollInterval: cfg.ConfirmPollInterval,
			WaitTimeout:  cfg.ConfirmWaitTimeout,
		}),
		payment.WithSettlementObserver(m.RecordLedgerWait),
	)

	svc := conquest.New(store, verifier, log)
	svc.WithMetrics(m)

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		svc.WithLeaderboardCache(conquest.NewLeaderboardCache(client, 0, log))
		log.WithField("addr", cfg.RedisAddr).Info("leaderboard cache enabled")
	}

	sweeper, err := svc.StartExpirySweep(cfg.SweepSchedule)
	if err != nil {
		log.WithError(err).Fatal("start expiry sweep")
	}
	defer sweeper.Stop()

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, log)
	stopCleanup := limiter.StartCleanup(5 * time.Minute)
	defer stopCleanup()

	srv := server.New(server.Config{
		Addr:           cfg.HTTPAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, svc, log, m, limiter)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Fatal("http server failed")
		}
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("shutdown incomplete")
		}
	}
}

// openStore selects Postgres when DATABASE_URL is set, running pending
// migrations first, and falls back to the in-memory store otherwise.
func openStore(cfg config.Config, log *logger.Logger) (conquest.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using in-memory store")
		return conquest.NewMemoryStore(), nil
	}

	migrator, err := migrate.New("file://"+cfg.MigrationsPath, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, err
	}
	srcErr, dbErr := migrator.Close()
	if srcErr != nil {
		return nil, srcErr
	}
	if dbErr != nil {
		return nil, dbErr
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	log.Info("connected to postgres")
	return conquest.NewPostgresStore(db), nil
}

func costContracts(cfg config.Config) map[conquest.AttackMode]payment.Cost {
	return map[conquest.AttackMode]payment.Cost{
		conquest.AttackModeSimple: {
			Asset:    cfg.SimpleAttackAsset,
			Amount:   cfg.SimpleAttackFee,
			Treasury: cfg.SimpleAttackTreasury,
		},
		conquest.AttackModeBulk: {
			Asset:    "native",
			Amount:   cfg.BulkAttackFee,
			Treasury: cfg.BulkAttackTreasury,
		},
	}
}
