// Command engine runs the reputation and credit economy HTTP service and its background jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldlink/reputation-engine/internal/api/economy"
	"github.com/fieldlink/reputation-engine/internal/config"
	"github.com/fieldlink/reputation-engine/internal/lock"
	"github.com/fieldlink/reputation-engine/internal/mattermost"
	"github.com/fieldlink/reputation-engine/internal/repository"
	"github.com/fieldlink/reputation-engine/internal/service/earning"
	"github.com/fieldlink/reputation-engine/internal/service/ledger"
	"github.com/fieldlink/reputation-engine/internal/service/quota"
	"github.com/fieldlink/reputation-engine/internal/service/rules"
	"github.com/fieldlink/reputation-engine/internal/service/scheduler"
	"github.com/fieldlink/reputation-engine/internal/service/spend"
	"github.com/fieldlink/reputation-engine/internal/service/trustscore"
	"github.com/fieldlink/reputation-engine/pkg/clock"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

// Server timeouts.
const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Engine stopped with error")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.Postgres.AutoMigrate {
		if err := repository.RunMigrations(cfg.Database.Postgres.URL(), log.Component("migrate")); err != nil {
			return err
		}
	}

	db, err := repository.NewDB(&cfg.Database.Postgres, log.Component("database"))
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	redisClient, err := lock.NewClient(ctx, &cfg.Database.Redis)
	if err != nil {
		return err
	}
	defer func() {
		_ = redisClient.Close()
	}()

	boundary, err := clock.NewDayBoundary(cfg.Economy.Timezone, cfg.Economy.DayStartHour)
	if err != nil {
		return err
	}
	clk := clock.Real{}

	locker := lock.NewLocker(redisClient, cfg.Economy.LockTTL, cfg.Economy.LockWait)
	guard := lock.NewGuard(locker, cfg.Economy.MaxRetries, log.Component("lock"))
	notifier := mattermost.NewClient(&cfg.Notifications.Mattermost, log.Component("mattermost"))

	// Repositories
	ledgerRepo := repository.NewLedgerRepository(db, cfg.Economy.DBLockTimeout)
	ruleRepo := repository.NewRuleRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	quotaRepo := repository.NewQuotaRepository(db, cfg.Economy.DBLockTimeout)
	reviewRepo := repository.NewReviewRepository(db)
	scoreRepo := repository.NewTrustScoreRepository(db)
	jobRepo := repository.NewJobRepository(db)

	// Services
	ledgerService := ledger.NewService(ledgerRepo, guard, notifier, clk, log.Component("ledger"))
	ruleService := rules.NewService(ruleRepo, auditRepo, notifier, log.Component("rules"))
	earningService := earning.NewService(ruleService, ledgerRepo, guard, clk, boundary, log.Component("earning"))
	spendService := spend.NewService(ledgerRepo, guard, clk, log.Component("spend"))
	trustService := trustscore.NewService(reviewRepo, scoreRepo, jobRepo, spendService, guard, notifier, cfg.Trust, clk, log.Component("trustscore"))
	quotaService := quota.NewService(quotaRepo, ledgerRepo, trustService, guard, cfg.Quota, clk, boundary, log.Component("quota"))

	seeded, err := ruleService.LoadSeed(ctx, cfg.Rules.SeedPath)
	if err != nil {
		return fmt.Errorf("failed to seed earning rules: %w", err)
	}
	log.Info().Int("inserted", seeded).Str("path", cfg.Rules.SeedPath).Msg("Earning rules seeded")

	sched := scheduler.NewService(&cfg.Scheduler, trustService, ledgerService, quotaService, log.Component("scheduler"))
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	metricsPath := ""
	if cfg.Metrics.Prometheus.Enabled {
		metricsPath = cfg.Metrics.Prometheus.Path
	}

	handler := economy.NewHandler(ledgerService, earningService, spendService, ruleService, quotaService, trustService, log.Component("api"))
	router := economy.NewRouter(handler, economy.RouterOptions{
		MetricsPath: metricsPath,
		HealthChecks: map[string]economy.HealthCheck{
			"postgres": func(context.Context) error { return db.Health() },
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	}, log.Component("http"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("environment", cfg.Server.Environment).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
