// Точка входа rcd — процесс, который одновременно является хостом своих
// баз данных и участником чужих. Загружает конфигурацию, подключается к
// системному хранилищу PostgreSQL, применяет миграции, выбирает движок
// пользовательских баз, создаёт сервисный слой и API handlers, запускает
// topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/dynamoRando/rcd-sub000/internal/api/handlers"
	"github.com/dynamoRando/rcd-sub000/internal/api/middleware"
	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/backend/postgres"
	"github.com/dynamoRando/rcd-sub000/internal/backend/sqlite"
	"github.com/dynamoRando/rcd-sub000/internal/config"
	"github.com/dynamoRando/rcd-sub000/internal/database"
	"github.com/dynamoRando/rcd-sub000/internal/rcdclient"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/server"
	"github.com/dynamoRando/rcd-sub000/internal/service"
	"github.com/dynamoRando/rcd-sub000/internal/sqlinspect"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("rcd запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("backend", cfg.Backend),
		slog.String("host_name", cfg.HostName),
	)

	if os.Getenv("RCD_DEPHEALTH_GROUP") == "" {
		logger.Warn("RCD_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций системного хранилища
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Движок пользовательских баз
	var store backend.Backend
	switch cfg.Backend {
	case config.BackendSQLite:
		sb, err := sqlite.New(cfg.SQLiteDir, logger)
		if err != nil {
			logger.Error("Ошибка инициализации SQLite", slog.String("dir", cfg.SQLiteDir), slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer sb.Close()
		store = sb
	default:
		pb := postgres.New(pool, cfg.DatabaseDSN(), logger)
		defer pb.Close()
		store = pb
	}

	// 6. Repositories системного хранилища
	hostInfoRepo := repository.NewHostInfoRepository(pool)
	knownHostRepo := repository.NewKnownHostRepository(pool)
	cachedContractRepo := repository.NewCachedContractRepository(pool)
	loginRepo := repository.NewLoginRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)

	// 7. HTTP-клиент межузловых операций
	remote, err := rcdclient.New(cfg.RemoteTimeout, cfg.RemoteCACertPath, logger)
	if err != nil {
		logger.Error("Ошибка создания rcd-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Services
	inspector := sqlinspect.New()
	hostInfoSvc := service.NewHostInfoService(hostInfoRepo, cfg.HostName,
		service.Advertise{Addr: cfg.AdvertiseAddr, Port: cfg.AdvertisePort}, logger)
	databasesSvc := service.NewDatabaseService(store, logger)
	policiesSvc := service.NewPolicyService(databasesSvc, cfg.PolicyCacheSize, cfg.PolicyCacheTTL, logger)
	contractsSvc := service.NewContractService(databasesSvc, policiesSvc, hostInfoSvc, logger)
	participantsSvc := service.NewParticipantService(databasesSvc, contractsSvc, hostInfoSvc, remote, logger)
	authSvc := service.NewAuthService(loginRepo, tokenRepo, knownHostRepo, hostInfoSvc, cfg.JWTSecret, cfg.JWTTTL, logger)
	partialSvc := service.NewPartialService(databasesSvc, inspector, logger)
	pendingContractsSvc := service.NewPendingContractService(cachedContractRepo, knownHostRepo, partialSvc,
		hostInfoSvc, remote, logger)
	pendingActionsSvc := service.NewPendingActionService(databasesSvc, pendingContractsSvc, hostInfoSvc, remote, logger)
	ledgerSvc := service.NewLedgerService(databasesSvc, authSvc, logger)
	coordinator := service.NewCoordinator(databasesSvc, policiesSvc, inspector, hostInfoSvc, remote, logger)
	peerSvc := service.NewPeerService(authSvc, participantsSvc, pendingContractsSvc, partialSvc, ledgerSvc, logger)

	// 9. Идентичность хоста и начальный администратор
	if err := hostInfoSvc.Load(ctx); err != nil {
		logger.Error("Ошибка загрузки идентичности хоста", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.AdminUser != "" {
		if err := authSvc.EnsureAdmin(ctx, cfg.AdminUser, cfg.AdminPassword); err != nil {
			logger.Error("Ошибка создания администратора", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Warn("RCD_ADMIN_USER не задан, начальный администратор не создаётся")
	}

	// 10. topologymetrics — мониторинг зависимостей (PostgreSQL + удалённые rcd)
	var deps handlers.DependencyHealth
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "rcd",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		Peers:         cfg.DephealthPeers,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		deps = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. API handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), deps)
	clientHandler := handlers.NewClientHandler(handlers.Services{
		Auth:             authSvc,
		HostInfo:         hostInfoSvc,
		Databases:        databasesSvc,
		Policies:         policiesSvc,
		Contracts:        contractsSvc,
		Participants:     participantsSvc,
		PendingContracts: pendingContractsSvc,
		PendingActions:   pendingActionsSvc,
		Partial:          partialSvc,
		Ledger:           ledgerSvc,
		Coordinator:      coordinator,
	}, logger)
	apiHandler := handlers.NewAPIHandler(healthHandler, clientHandler, handlers.NewDataHandler(peerSvc))

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		middleware.Recoverer(logger),
	)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("rcd остановлен")
}
