// Command balsamserver is the HPC job orchestrator server: it loads
// configuration, opens Postgres, applies migrations, wires every resource
// repository and the bulk/notify/metrics layers into the HTTP gateway, and
// serves until it receives SIGINT/SIGTERM. Grounded on
// cmd/gateway/main.go's wiring-then-listen-then-drain shape, trimmed of the
// marble/enclave/OAuth/CORS machinery this spec has no use for.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/tylern4/balsam/internal/apps"
	"github.com/tylern4/balsam/internal/batchjobs"
	"github.com/tylern4/balsam/internal/bulk"
	"github.com/tylern4/balsam/internal/events"
	"github.com/tylern4/balsam/internal/httpapi"
	"github.com/tylern4/balsam/internal/jobs"
	"github.com/tylern4/balsam/internal/notify"
	"github.com/tylern4/balsam/internal/platform/migrations"
	"github.com/tylern4/balsam/internal/schedadapter"
	"github.com/tylern4/balsam/internal/sessions"
	"github.com/tylern4/balsam/internal/sites"
	"github.com/tylern4/balsam/internal/transferitems"
	"github.com/tylern4/balsam/pkg/config"
	"github.com/tylern4/balsam/pkg/logger"
	"github.com/tylern4/balsam/pkg/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log := logger.New(cfg.Logging)

	db, err := openDB(cfg.Database)
	if err != nil {
		log.WithField("error", err).Fatal("open database")
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(context.Background(), db); err != nil {
			log.WithField("error", err).Fatal("apply migrations")
		}
	}

	bus := notify.New(notify.Config{
		QueueDepth:       cfg.Notify.QueueDepth,
		PublishPerSecond: cfg.Notify.PublishPerSecond,
	})
	defer bus.Close()

	sitesRepo := sites.New(db)
	appsRepo := apps.New(db)
	batchJobsRepo := batchjobs.New(db)
	jobsRepo := jobs.New(db)
	sessionsRepo := sessions.New(db)
	eventsRepo := events.New(db)
	transfersRepo := transferitems.New(db)
	bulkSvc := bulk.New(jobsRepo, batchJobsRepo, bus)

	router := httpapi.NewRouter(httpapi.Deps{
		Sites:         sitesRepo,
		Apps:          appsRepo,
		BatchJobs:     batchJobsRepo,
		Jobs:          jobsRepo,
		Sessions:      sessionsRepo,
		Events:        eventsRepo,
		Transfers:     transfersRepo,
		Bulk:          bulkSvc,
		Bus:           bus,
		Logger:        log,
		OwnerResolver: httpapi.HeaderOwnerResolver{},
	})

	sweepStop := runSessionSweeper(context.Background(), log, sessionsRepo, cfg.Session)
	defer sweepStop()

	if cfg.Scheduler.Enabled {
		schedStop := runSchedulerSweeper(context.Background(), log, batchJobsRepo, cfg.Scheduler)
		defer schedStop()
	}

	server := &http.Server{
		Addr:              cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("balsamserver starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err).Warn("shutdown error")
	}
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeSecs) * time.Second)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// runSessionSweeper periodically reaps Sessions whose heartbeat has expired
// (spec §4.4 "Heartbeat & expiry"), releasing their Jobs exactly as an
// explicit Close would. It returns a func that stops the loop.
func runSessionSweeper(ctx context.Context, log *logger.Logger, repo *sessions.Repository, cfg config.SessionConfig) func() {
	ticker := time.NewTicker(cfg.SweepInterval())
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				reaped, err := repo.SweepExpired(ctx, time.Now(), cfg.Expiry())
				if err != nil {
					log.WithField("error", err).Warn("session sweep failed")
					continue
				}
				if reaped > 0 {
					log.WithField("reaped", reaped).Info("swept expired sessions")
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// runSchedulerSweeper drives the asynchronous submit/poll half of the
// BatchJob lifecycle (spec §9.4, §11): it submits pending_submission
// BatchJobs to the Site's PBS scheduler and polls in-flight ones for status,
// through the same circuit-breaker+retry Adapter the teacher's own external
// calls use. It returns a func that stops the loop.
func runSchedulerSweeper(ctx context.Context, log *logger.Logger, repo *batchjobs.Repository, cfg config.SchedulerConfig) func() {
	cbConfig := resilience.LoggingConfig(resilience.Config{
		MaxFailures: cfg.CircuitMaxFailures,
		Timeout:     cfg.CircuitTimeout(),
		HalfOpenMax: cfg.CircuitHalfOpenMax,
	}, log)
	adapter := schedadapter.New(schedadapter.NewPBS(cfg.ScriptDir), cbConfig)
	sweeper := batchjobs.NewSweeper(repo, adapter, log)

	ticker := time.NewTicker(cfg.SweepInterval())
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := sweeper.SubmitPending(ctx); err != nil {
					log.WithField("error", err).Warn("batch job submission sweep failed")
				}
				if err := sweeper.PollStatus(ctx); err != nil {
					log.WithField("error", err).Warn("batch job status sweep failed")
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}
