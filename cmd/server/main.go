// Package main is the entry point for the oh-my-stock core: price-move
// detection over watched symbols, reason scoring for detected events, and the
// HTTP API the clients read alerts, briefs, and comparisons from.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ohmystock/ohmystock/internal/adapters"
	"github.com/ohmystock/ohmystock/internal/catalog"
	"github.com/ohmystock/ohmystock/internal/clock"
	"github.com/ohmystock/ohmystock/internal/config"
	"github.com/ohmystock/ohmystock/internal/database"
	"github.com/ohmystock/ohmystock/internal/detector"
	"github.com/ohmystock/ohmystock/internal/domain"
	"github.com/ohmystock/ohmystock/internal/feed"
	"github.com/ohmystock/ohmystock/internal/marketsession"
	"github.com/ohmystock/ohmystock/internal/modules/auth"
	authhandlers "github.com/ohmystock/ohmystock/internal/modules/auth/handlers"
	"github.com/ohmystock/ohmystock/internal/modules/briefs"
	briefhandlers "github.com/ohmystock/ohmystock/internal/modules/briefs/handlers"
	"github.com/ohmystock/ohmystock/internal/modules/compare"
	comparehandlers "github.com/ohmystock/ohmystock/internal/modules/compare/handlers"
	"github.com/ohmystock/ohmystock/internal/modules/events"
	eventhandlers "github.com/ohmystock/ohmystock/internal/modules/events/handlers"
	"github.com/ohmystock/ohmystock/internal/modules/feedback"
	feedbackhandlers "github.com/ohmystock/ohmystock/internal/modules/feedback/handlers"
	"github.com/ohmystock/ohmystock/internal/modules/notifications"
	notificationhandlers "github.com/ohmystock/ohmystock/internal/modules/notifications/handlers"
	"github.com/ohmystock/ohmystock/internal/modules/reports"
	reporthandlers "github.com/ohmystock/ohmystock/internal/modules/reports/handlers"
	"github.com/ohmystock/ohmystock/internal/modules/thresholds"
	thresholdhandlers "github.com/ohmystock/ohmystock/internal/modules/thresholds/handlers"
	"github.com/ohmystock/ohmystock/internal/modules/watchlist"
	watchlisthandlers "github.com/ohmystock/ohmystock/internal/modules/watchlist/handlers"
	"github.com/ohmystock/ohmystock/internal/observ"
	"github.com/ohmystock/ohmystock/internal/queue"
	"github.com/ohmystock/ohmystock/internal/reasons"
	"github.com/ohmystock/ohmystock/internal/scheduler"
	"github.com/ohmystock/ohmystock/internal/server"
	"github.com/ohmystock/ohmystock/pkg/logger"
)

const catalogVersion = "2025-08"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Msg("Starting oh-my-stock core")

	clk := clock.System{}
	ids := clock.System{}

	dbPath := ""
	if cfg.DataDir != "" {
		dbPath = filepath.Join(cfg.DataDir, "ohmystock.db")
	}
	db, err := database.New(database.Config{Path: dbPath, Name: "core"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()
	conn := db.Conn()
	log.Info().Str("path", dbPath).Msg("Database ready")

	registry := prometheus.NewRegistry()
	metrics := observ.New(registry)

	cat := catalog.New(catalogVersion, catalog.Seed())

	// Repositories.
	authRepo := auth.NewRepository(conn, log)
	watchRepo := watchlist.NewRepository(conn, log)
	threshRepo := thresholds.NewRepository(conn, log)
	eventsRepo := events.NewRepository(conn, log)
	feedbackRepo := feedback.NewRepository(conn, log)
	reportsRepo := reports.NewRepository(conn, log)
	notifRepo := notifications.NewRepository(conn, log)
	briefsRepo := briefs.NewRepository(conn, log)

	// Services.
	authSvc := auth.NewService(authRepo, clk, ids, cfg.JWTSecret, cfg.TokenTTL, cfg.BcryptCost, log)

	guard := adapters.DefaultGuardConfig(cfg.ReasonEngine.AdapterTimeout, cfg.ReasonEngine.AdapterRetries)
	sources := []adapters.Adapter{
		adapters.NewGuarded(feed.NewHeadlines("newswire", cat, clk.Now().UnixNano()), guard, log),
		adapters.NewGuarded(feed.NewHeadlines("disclosures", cat, clk.Now().UnixNano()+1), guard, log),
	}
	engine := reasons.New(sources, reasons.Config{
		Lookback:         cfg.ReasonEngine.Lookback,
		Trailing:         cfg.ReasonEngine.Trailing,
		FetchConcurrency: cfg.ReasonEngine.FetchConcurrency,
		Gate: reasons.Gate{
			AllowedDomains:   cfg.ReasonEngine.AllowedDomains,
			PublishTolerance: cfg.ReasonEngine.PublishTolerance,
		},
		Scorer: reasons.Scorer{ProximityHorizon: cfg.ReasonEngine.ProximityHorizon},
	}, eventsRepo, cat, clk, ids, metrics, log)

	notifier := notifications.NewNotifier(notifRepo, watchRepo, threshRepo, cfg.Notifier, cfg.Detector, clk, ids, metrics, log)
	det := detector.New(cfg.Detector, clk, ids, threshRepo, metrics, log)
	reportsSvc := reports.NewService(reportsRepo, eventsRepo, engine, clk, ids, log)
	compareSvc := compare.NewService(conn, eventsRepo, cfg.Compare, clk, log)
	builder := briefs.NewBuilder(briefsRepo, eventsRepo, watchRepo, cfg.Briefs, clk, ids, metrics, log)

	// Reason-engine worker pool; the notifier hooks in after each processed
	// event.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	work := queue.New(cfg.Detector.QueueSize, metrics, log)
	work.OnProcessed(notifier.Notify)
	work.Start(workerCtx, cfg.Detector.Workers, engine)

	sched := scheduler.New(log)
	registerJobs(sched, cfg, builder, notifier, det, compareSvc, log)
	if cfg.DevMode {
		simulator := feed.NewSimulator(det, work, cat, clk, log)
		if err := sched.AddJob("@every 15s", simulator); err != nil {
			log.Fatal().Err(err).Msg("Failed to register tick simulator")
		}
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:      log,
		DB:       db,
		Cfg:      cfg,
		IDs:      ids,
		Verifier: authSvc,
		Gatherer: registry,
		Deps: server.Deps{
			Auth:          authhandlers.NewHandler(authSvc, log),
			Watchlist:     watchlisthandlers.NewHandler(watchRepo, cat, clk, ids, log),
			Thresholds:    thresholdhandlers.NewHandler(threshRepo, cfg.Detector.DefaultThresholdPct, clk, log),
			Events:        eventhandlers.NewHandler(eventsRepo, reportsRepo, clk, log),
			Feedback:      feedbackhandlers.NewHandler(feedbackRepo, eventsRepo, clk, log),
			Reports:       reporthandlers.NewHandler(reportsSvc, reportsRepo, log),
			Notifications: notificationhandlers.NewHandler(notifRepo, log),
			Briefs:        briefhandlers.NewHandler(briefsRepo, clk, log),
			Compare:       comparehandlers.NewHandler(compareSvc, log),
		},
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	sched.Stop()
	stopWorkers()
	work.Wait()
	log.Info().Msg("Shutdown complete")
}

// registerJobs wires the periodic work: briefs on each market's wall clock,
// notification promotion, and state eviction.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	builder *briefs.Builder,
	notifier *notifications.Notifier,
	det *detector.Detector,
	compareSvc *compare.Service,
	log zerolog.Logger,
) {
	briefJob := func(name, briefType string, market domain.Market) scheduler.Job {
		return scheduler.JobFunc{JobName: name, Fn: func() error {
			builder.BuildForMarket(context.Background(), briefType, market)
			return nil
		}}
	}

	for _, market := range domain.Markets() {
		timezone, err := marketsession.Timezone(market)
		if err != nil {
			log.Fatal().Err(err).Msg("Unknown market timezone")
		}
		suffix := strings.ToLower(string(market))

		// Pre-market briefs land before the local open, post-close ones after
		// the local close.
		if err := sched.AddMarketJob(timezone, "30 8 * * MON-FRI",
			briefJob("pre_market_brief_"+suffix, briefs.TypePreMarket, market)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register pre-market brief job")
		}
		postClose := "0 16 * * MON-FRI"
		if market == domain.MarketUS {
			postClose = "30 16 * * MON-FRI"
		}
		if err := sched.AddMarketJob(timezone, postClose,
			briefJob("post_close_brief_"+suffix, briefs.TypePostClose, market)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register post-close brief job")
		}
	}

	promotion := fmt.Sprintf("@every %s", cfg.Notifier.PromotionInterval)
	if err := sched.AddJob(promotion, scheduler.JobFunc{JobName: "notification_promotion", Fn: func() error {
		notifier.PromoteStale(context.Background())
		return nil
	}}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register notification promotion job")
	}

	if err := sched.AddJob("@hourly", scheduler.JobFunc{JobName: "state_eviction", Fn: func() error {
		det.EvictStale()
		compareSvc.Evict(context.Background())
		return nil
	}}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register eviction job")
	}
}
