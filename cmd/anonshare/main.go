// Точка входа AnonShare — брокера эфемерного обмена файлами и текстом.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/arturkryukov/anonshare/internal/api/handlers"
	"github.com/arturkryukov/anonshare/internal/config"
	"github.com/arturkryukov/anonshare/internal/localsrv"
	"github.com/arturkryukov/anonshare/internal/server"
	"github.com/arturkryukov/anonshare/internal/service"
	"github.com/arturkryukov/anonshare/internal/storage/payload"
	"github.com/arturkryukov/anonshare/internal/storage/resourcestore"
	"github.com/arturkryukov/anonshare/internal/storage/tokenstore"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("AnonShare запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("token_backend", cfg.TokenBackend),
	)

	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. Файловое хранилище полезных нагрузок relay-режима
	payloads, err := payload.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища файлов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 1.1 Отдельное временное хранилище локальных раздач.
	// Живёт вне ANSH_DATA_DIR: у локальных раздач нет записей
	// в хранилище метаданных, и sweeper не должен их видеть.
	localDir, err := os.MkdirTemp("", "anonshare-locshare-")
	if err != nil {
		logger.Error("Ошибка создания временной директории раздач", slog.String("error", err.Error()))
		os.Exit(1)
	}
	localPayloads, err := payload.New(localDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища раздач", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Хранилище метаданных ресурсов
	var resources resourcestore.Store
	var pgStore *resourcestore.PostgresStore
	if cfg.StoreBackend == "postgres" {
		pgStore, err = resourcestore.NewPostgresStore(ctx, resourcestore.PostgresOptions{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
			Timeout:  cfg.StoreTimeout,
		}, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		resources = pgStore
	} else {
		logger.Warn("Хранилище метаданных в памяти: записи не переживут перезапуск")
		resources = resourcestore.NewMemoryStore()
	}

	// 3. Хранилище токенов
	var tokens tokenstore.Store
	if cfg.TokenBackend == "redis" {
		redisStore, redisErr := tokenstore.NewRedisStore(ctx, tokenstore.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  cfg.StoreTimeout,
		}, logger)
		if redisErr != nil {
			logger.Error("Ошибка подключения к Redis", slog.String("error", redisErr.Error()))
			os.Exit(1)
		}
		tokens = redisStore
	} else {
		logger.Warn("Хранилище токенов в памяти: сессии не переживут перезапуск")
		tokens = tokenstore.NewMemoryStore()
	}

	// 4. Сервисы
	relaySvc := service.NewRelayService(resources, tokens, payloads, logger)

	// 5. Реестр локальных раздач
	registry := localsrv.NewRegistry(cfg.LocalStopGrace, logger)

	// 6. Фоновые процессы

	// 6.1 Sweeper — уборка истёкших записей и осиротевших файлов
	sweeper := service.NewSweeper(resources, payloads, cfg.SweepInterval, cfg.SweepMinAge, logger)
	sweeper.Start(ctx)

	// 6.2 topologymetrics — мониторинг зависимостей (только postgres)
	var dephealthSvc *service.DephealthService
	if pgStore != nil {
		db := stdlib.OpenDBFromPool(pgStore.Pool())
		dephealthSvc, err = service.NewDephealthService(
			cfg.ServiceID,
			cfg.DephealthGroup,
			db,
			cfg.PostgresURL(),
			cfg.DephealthCheckInterval,
			logger,
		)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 7. Handlers
	relayHandler := handlers.NewRelayHandler(relaySvc, cfg)
	localHandler := handlers.NewLocalHandler(registry, localPayloads, cfg, logger)
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, resources, tokens, cfg.StoreTimeout)

	apiHandler := handlers.NewAPIHandler(relayHandler, localHandler, healthHandler)

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	registry.StopAll()
	if err := os.RemoveAll(localDir); err != nil {
		logger.Warn("Не удалось удалить временную директорию раздач",
			slog.String("dir", localDir),
			slog.String("error", err.Error()),
		)
	}
	sweeper.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if pgStore != nil {
		pgStore.Close()
	}

	logger.Info("AnonShare остановлен")
}
