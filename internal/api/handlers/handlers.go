package handlers

import (
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/pennine-ops/wms-alerting-go/internal/config"
	"github.com/pennine-ops/wms-alerting-go/internal/core/alerting"
	"github.com/pennine-ops/wms-alerting-go/internal/core/cache"
	"github.com/pennine-ops/wms-alerting-go/internal/core/metrics"
	"github.com/pennine-ops/wms-alerting-go/internal/database"
	"github.com/pennine-ops/wms-alerting-go/internal/websocket"
)

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	cfg        *config.Config
	repos      *database.Repositories
	logger     *logrus.Logger
	db         *sqlx.DB
	cache      cache.Service
	wsHub      *websocket.Hub
	engine     *alerting.Engine
	state      *alerting.StateManager
	evaluator  *alerting.Evaluator
	dispatcher *alerting.Dispatcher
	registry   *metrics.Registry
	gauge      *metrics.GaugeProvider
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	cfg *config.Config,
	repos *database.Repositories,
	logger *logrus.Logger,
	db *sqlx.DB,
	cacheSvc cache.Service,
	wsHub *websocket.Hub,
	engine *alerting.Engine,
	state *alerting.StateManager,
	evaluator *alerting.Evaluator,
	dispatcher *alerting.Dispatcher,
	registry *metrics.Registry,
	gauge *metrics.GaugeProvider,
) *Handlers {
	return &Handlers{
		cfg:        cfg,
		repos:      repos,
		logger:     logger,
		db:         db,
		cache:      cacheSvc,
		wsHub:      wsHub,
		engine:     engine,
		state:      state,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		registry:   registry,
		gauge:      gauge,
	}
}
