package main

import (
	"go.uber.org/zap"

	"renonotify/config"
	"renonotify/internal/api"
	"renonotify/internal/repository"
	"renonotify/internal/signal"
	"renonotify/internal/suppression"
	"renonotify/pkg/db"
	"renonotify/pkg/logger"
	redisclient "renonotify/pkg/redis"
)

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Redis
	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()

	// Init Repositories
	signalRepo := repository.NewSignalEventRepository(dbConn)
	suppressionRepo := repository.NewSuppressionRepository(dbConn)
	eventRepo := repository.NewEventRepository(dbConn)

	// Init Services
	emitter := signal.NewEmitter(dbConn, signalRepo, log)
	suppressionSvc := suppression.NewService(suppressionRepo, eventRepo, log)

	// Init Handlers
	signalHandler := api.NewSignalHandler(emitter, log)
	webhookHandler := api.NewWebhookHandler(suppressionSvc, log)
	healthHandler := api.NewHealthHandler(dbConn, rdb)

	// Router
	router := api.NewRouter(signalHandler, webhookHandler, healthHandler)

	log.Info("Starting API server", zap.String("port", cfg.Server.Port))
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatal("server start failed", zap.Error(err))
	}
}
