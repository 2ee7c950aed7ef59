package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/meetloop/fleet-backend/internal/db"
	"github.com/meetloop/fleet-backend/internal/handlers"
	"github.com/meetloop/fleet-backend/internal/logger"
	"github.com/meetloop/fleet-backend/internal/observability"
	"github.com/meetloop/fleet-backend/internal/queue"
	"github.com/meetloop/fleet-backend/internal/repos"
	"github.com/meetloop/fleet-backend/internal/server"
	"github.com/meetloop/fleet-backend/internal/services"
	"github.com/meetloop/fleet-backend/internal/workers"
	"github.com/meetloop/fleet-backend/internal/workers/strategies"
)

type App struct {
	Log         *logger.Logger
	DB          *gorm.DB
	Router      *gin.Engine
	Cfg         Config
	Workers     map[string]*workers.Worker
	DeployQueue *queue.DeploymentQueue

	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "fleet-backend",
		Environment: logMode,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	botRepo := repos.NewBotRepo(theDB, log)
	slotRepo := repos.NewPoolSlotRepo(theDB, log)

	clients := wireClients(ctx, cfg, slotRepo, log)
	pool := services.NewPoolService(slotRepo, clients.poolClient(), cfg.Coolify.PoolPrefix, log)

	deployQueue := queue.NewDeploymentQueue(cfg.DeployMaxConcurrent, cfg.DeployReservationTTL, nil, log)

	tun := strategies.Tunables{
		DeployingTimeout:     cfg.DeployingTimeout,
		HeartbeatFreshness:   cfg.HeartbeatFreshness,
		MaxRecoveryAttempts:  cfg.MaxRecoveryAttempts,
		MaxSkippedRecoveries: cfg.MaxSkippedRecoveries,
	}
	strategySet := []strategies.Strategy{
		strategies.NewOrphanedDeployingStrategy(botRepo, tun, log),
		strategies.NewCoolifyRecoveryStrategy(slotRepo, botRepo, clients.poolClient(), pool, tun, log),
		strategies.NewK8sRecoveryStrategy(botRepo, clients.jobClient(), tun, log),
		strategies.NewAWSRecoveryStrategy(botRepo, clients.taskClient(), tun, log),
	}

	healthRunner := workers.NewBotHealthWorker(botRepo, clients.byPlatform(), pool, cfg.HeartbeatTimeout, log)
	recoveryRunner := workers.NewBotRecoveryWorker(strategySet, deployQueue, log)
	syncRunner := workers.NewPoolSlotSyncWorker(slotRepo, botRepo, clients.poolClient(), log)

	workerSet := map[string]*workers.Worker{
		healthRunner.Name():   workers.NewWorker(healthRunner, cfg.HealthInterval, cfg.RunOnStart, log),
		recoveryRunner.Name(): workers.NewWorker(recoveryRunner, cfg.RecoveryInterval, cfg.RunOnStart, log),
		syncRunner.Name():     workers.NewWorker(syncRunner, cfg.SlotSyncInterval, cfg.RunOnStart, log),
	}

	opsHandler := handlers.NewOpsHandler(theDB, workerSet, deployQueue, log)
	router := server.NewRouter(server.RouterConfig{OpsHandler: opsHandler})

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Workers:      workerSet,
		DeployQueue:  deployQueue,
		otelShutdown: otelShutdown,
	}, nil
}

func (a *App) Start() {
	for _, worker := range a.Workers {
		worker.Start()
	}
	a.Log.Info("Workers started", "count", len(a.Workers))
}

func (a *App) Run() error {
	return a.Router.Run(a.Cfg.HTTPAddr)
}

func (a *App) Close(ctx context.Context) {
	for _, worker := range a.Workers {
		worker.Stop()
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
