package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"renonotify/config"
	"renonotify/internal/dispatch"
	"renonotify/internal/hook"
	"renonotify/internal/lifecycle"
	"renonotify/internal/model"
	"renonotify/internal/provider"
	"renonotify/internal/reputation"
	"renonotify/internal/repository"
	"renonotify/internal/scheduler"
	sig "renonotify/internal/signal"
	"renonotify/internal/suppression"
	"renonotify/pkg/db"
	"renonotify/pkg/logger"
	"renonotify/pkg/mq"
	"renonotify/pkg/outbox"
	redisclient "renonotify/pkg/redis"
	"renonotify/pkg/util"
)

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting worker service...")

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Redis
	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduperWithLogger(rdb, time.Hour, log)

	// Init Repositories
	signalRepo := repository.NewSignalEventRepository(dbConn)
	hookRepo := repository.NewHookRepository(dbConn)
	templateRepo := repository.NewTemplateRepository(dbConn)
	contactRepo := repository.NewContactRepository(dbConn)
	queueRepo := repository.NewQueueRepository(dbConn)
	eventRepo := repository.NewEventRepository(dbConn)
	suppressionRepo := repository.NewSuppressionRepository(dbConn)
	reputationRepo := repository.NewReputationRepository(dbConn)
	requestRepo := repository.NewRequestRepository(dbConn)
	outboxRepo := outbox.NewRepository(dbConn)

	// Init RabbitMQ
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Outbox relay: moves recorded signals onto the broker.
	relay := outbox.NewRelay(outboxRepo, publisher, log).
		WithInterval(1 * time.Second).
		WithBatchSize(100)
	go relay.Start(ctx)

	// Hook resolver consumes signal.emitted and fills the queue.
	resolver := hook.NewResolver(hookRepo, templateRepo, contactRepo, signalRepo, queueRepo, eventRepo, deduper, log)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, "signal.emitted.resolve.q", sig.RoutingKeyEmitted, log)
	if err != nil {
		log.Fatal("failed to init resolver consumer", zap.Error(err))
	}
	consumer.SetHandler(resolver.HandleSignalEmitted)
	go func() {
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("resolver consumer failed", zap.Error(err))
		}
	}()
	defer consumer.Close()

	// Dispatcher
	gate := suppression.NewGate(suppressionRepo, log)
	suppressionSvc := suppression.NewService(suppressionRepo, eventRepo, log)
	alertCache := reputation.NewAlertCache(rdb, reputationRepo, log)
	providers := map[model.Channel]provider.Sender{
		model.ChannelEmail: provider.NewEmailProvider(cfg.Email, log),
		model.ChannelSMS:   provider.NewSMSProvider(cfg.SMS, log),
	}
	worker := dispatch.NewWorker(
		queueRepo,
		eventRepo,
		templateRepo,
		signalRepo,
		gate,
		suppressionSvc,
		alertCache,
		providers,
		dispatch.Options{
			BatchSize:   cfg.Dispatch.BatchSize,
			WorkerCount: cfg.Dispatch.WorkerCount,
			BaseDelay:   cfg.Dispatch.BaseDelay(),
			MaxDelay:    cfg.Dispatch.MaxDelay(),
			Cooldown:    cfg.Dispatch.Cooldown(),
			Budget:      cfg.Dispatch.Budget(),
		},
		log,
	)

	// Reputation aggregator
	aggregator := reputation.NewAggregator(
		eventRepo,
		reputationRepo,
		alertCache,
		reputation.Thresholds{
			BounceRate:    cfg.Reputation.BounceThreshold(),
			ComplaintRate: cfg.Reputation.ComplaintThreshold(),
		},
		log,
	)

	// Lifecycle processor
	emitter := sig.NewEmitter(dbConn, signalRepo, log)
	processor := lifecycle.NewProcessor(requestRepo, emitter, cfg.Lifecycle.StaleAfter(), cfg.Lifecycle.BatchSize, log)

	// Periodic jobs
	sched := scheduler.New(log)
	sched.Register(scheduler.Job{
		Name:     "dispatch",
		Interval: cfg.Dispatch.Interval(),
		Budget:   cfg.Dispatch.Budget(),
		Run: func(ctx context.Context) error {
			return worker.RunOnce(ctx, time.Now().UTC())
		},
	})
	sched.Register(scheduler.Job{
		Name:     "reputation-rollup",
		Interval: time.Hour,
		Budget:   5 * time.Minute,
		Run:      aggregator.AggregateToday,
	})
	sched.Register(scheduler.Job{
		Name:     "lifecycle",
		Interval: 24 * time.Hour,
		Budget:   time.Hour,
		Run: func(ctx context.Context) error {
			return processor.Tick(ctx, time.Now().UTC())
		},
	})

	// Outbox events parked after repeated publish failures get another
	// chance once the broker recovers.
	replayer := outbox.NewReplayService(outboxRepo, publisher)
	sched.Register(scheduler.Job{
		Name:     "outbox-replay",
		Interval: 10 * time.Minute,
		Budget:   time.Minute,
		Run: func(ctx context.Context) error {
			_, err := replayer.ReplayFailedEvents(ctx, 100)
			return err
		},
	})

	log.Info("Worker is ready")
	sched.Start(ctx)

	log.Info("Worker shut down")
}
