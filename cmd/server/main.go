package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pennine-ops/wms-alerting-go/internal/api"
	"github.com/pennine-ops/wms-alerting-go/internal/config"
	"github.com/pennine-ops/wms-alerting-go/internal/core/alerting"
	"github.com/pennine-ops/wms-alerting-go/internal/core/cache"
	"github.com/pennine-ops/wms-alerting-go/internal/core/metrics"
	"github.com/pennine-ops/wms-alerting-go/internal/database"
	"github.com/pennine-ops/wms-alerting-go/internal/websocket"
	"github.com/pennine-ops/wms-alerting-go/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer db.Close()

	// Run migrations
	if cfg.Database.Migration.AutoMigrate {
		if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
			log.Fatal("Failed to run migrations: ", err)
		}
	}

	// Create repositories
	repos := database.NewRepositories(db)

	// Shared state cache: Redis when enabled, in-process otherwise
	var cacheSvc cache.Service
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis, log)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, falling back to in-process cache")
			cacheSvc = cache.NewMemoryCache()
		} else {
			cacheSvc = redisCache
		}
	} else {
		cacheSvc = cache.NewMemoryCache()
	}
	defer cacheSvc.Close()

	// Metric sources for rule evaluation
	registry := metrics.NewRegistry(log)
	registry.Register(metrics.NewSystemProvider())
	registry.Register(metrics.NewDatabaseProvider(db))
	gauge := metrics.NewGaugeProvider()
	registry.SetFallback(gauge)

	// Alerting engine
	bus := alerting.NewEventBus(log)
	state := alerting.NewStateManager(
		repos.Alert, repos.Rule, repos.Suppression, cacheSvc, bus, log,
		config.Duration(cfg.Alerting.ActiveAlertTTL),
		config.Duration(cfg.Alerting.SuppressionDefault),
	)
	evaluator := alerting.NewEvaluator(
		repos.Rule, state, registry, log,
		config.Duration(cfg.Alerting.MinInterval),
		config.Duration(cfg.Alerting.EvaluationTimeout),
	)

	sendTimeout := config.Duration(cfg.Notifications.SendTimeout)
	providers := []alerting.Provider{
		alerting.NewEmailProvider(cfg.Notifications),
		alerting.NewChatProvider(sendTimeout),
		alerting.NewWebhookProvider(config.Duration(cfg.Notifications.WebhookTimeout)),
		alerting.NewSMSProvider(sendTimeout),
	}
	dispatcher := alerting.NewDispatcher(
		repos.Template, repos.Notification, repos.Alert, cacheSvc, bus, log,
		providers,
		cfg.Notifications.MaxRetries,
		config.Duration(cfg.Notifications.RetryBaseDelay),
		cfg.Notifications.PerMinuteLimit, cfg.Notifications.PerHourLimit,
		cfg.Notifications.QueueSize, cfg.Notifications.WorkerCount,
	)
	engine := alerting.NewEngine(
		state, evaluator, dispatcher, repos.Rule, repos.Escalation,
		cacheSvc, bus, log, cfg.Monitoring,
		config.Duration(cfg.Alerting.ResolvedRetention),
		config.Duration(cfg.Notifications.HistoryRetention),
	)
	alerting.NewInstrumentation("alerting", bus)

	// Load rule definitions from file
	if cfg.Alerting.RulesFile != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		count, err := alerting.LoadRulesFile(ctx, cfg.Alerting.RulesFile, repos.Rule, log)
		cancel()
		if err != nil {
			log.WithError(err).Warn("Failed to load rules file")
		} else {
			log.Infof("Loaded %d rules from %s", count, cfg.Alerting.RulesFile)
		}
	}

	// Create WebSocket hub and forward engine events to it
	wsHub := websocket.NewHub(log)
	go wsHub.Run()
	forwardEvents(bus, wsHub)

	// Start the engine
	if cfg.Alerting.Enabled {
		if err := engine.Start(context.Background()); err != nil {
			log.Fatal("Failed to start alerting engine: ", err)
		}
	}

	// Initialize router
	router := api.NewRouter(api.RouterDeps{
		Config:     cfg,
		Repos:      repos,
		Logger:     log,
		DB:         db,
		Cache:      cacheSvc,
		Hub:        wsHub,
		Engine:     engine,
		State:      state,
		Evaluator:  evaluator,
		Dispatcher: dispatcher,
		Registry:   registry,
		Gauge:      gauge,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		log.Infof("Starting alerting service on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	engine.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Info("Server exited")
}

// forwardEvents pushes engine events to connected WebSocket clients,
// filtered by each client's severity subscriptions.
func forwardEvents(bus *alerting.EventBus, hub *websocket.Hub) {
	bus.Subscribe(alerting.EventRuleTriggered, func(event alerting.Event) {
		hub.BroadcastAlert(event.Alert.Severity,
			websocket.AlertMessage(websocket.MessageTypeAlertTriggered, event.Alert))
	})
	bus.Subscribe(alerting.EventAlertResolved, func(event alerting.Event) {
		hub.BroadcastAlert(event.Alert.Severity,
			websocket.AlertMessage(websocket.MessageTypeAlertResolved, event.Alert))
	})
	bus.Subscribe(alerting.EventStateChanged, func(event alerting.Event) {
		hub.BroadcastAlert(event.Alert.Severity,
			websocket.StateChangeMessage(event.Alert, event.FromState, event.ToState))
	})
	bus.Subscribe(alerting.EventNotificationSent, func(event alerting.Event) {
		hub.BroadcastAlert(event.Alert.Severity,
			websocket.NotificationSentMessage(event.Alert, event.Channel))
	})
}
