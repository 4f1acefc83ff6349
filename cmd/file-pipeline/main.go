// Точка входа файлового конвейера: приём, обработка и выдача файлов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/cloudascent/file-pipeline/internal/api/handlers"
	"github.com/cloudascent/file-pipeline/internal/api/middleware"
	"github.com/cloudascent/file-pipeline/internal/config"
	"github.com/cloudascent/file-pipeline/internal/database"
	"github.com/cloudascent/file-pipeline/internal/repository"
	"github.com/cloudascent/file-pipeline/internal/server"
	"github.com/cloudascent/file-pipeline/internal/service"
	"github.com/cloudascent/file-pipeline/internal/storage/objectstore"
	"github.com/cloudascent/file-pipeline/internal/storage/outbox"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("File Pipeline запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
	)

	// 3. Миграции схемы БД
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграции БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5. Хранилище блобов и outbox
	store, err := objectstore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ob, err := outbox.New(cfg.OutboxDir)
	if err != nil {
		logger.Error("Ошибка инициализации outbox", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Репозиторий и кэш метаданных
	repo := repository.NewFileRepository(pool)
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	// 7. Стартовая сверка: блобы без записей в БД удаляются
	if _, err := service.SweepOrphans(ctx, repo, store, logger); err != nil {
		logger.Warn("Ошибка сверки хранилища", slog.String("error", err.Error()))
	}

	// 8. Фоновый обработчик файлов (восстанавливает задачи из outbox)
	processor := service.NewProcessor(cfg, repo, store, ob, cache, logger)
	processor.Start()
	defer processor.Stop()

	// 9. Сервисы
	uploadSvc := service.NewUploadService(cfg, repo, store, ob, cache, processor, logger)
	querySvc := service.NewQueryService(repo, cache, logger)
	lifecycleSvc := service.NewLifecycleService(cfg, repo, store, ob, cache, logger)

	// 10. Handlers
	filesHandler := handlers.NewFilesHandler(uploadSvc, querySvc, lifecycleSvc, logger)
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool))
	apiHandler := handlers.NewAPIHandler(filesHandler, healthHandler, logger)

	// 11. Middleware: логирование, метрики, JWT
	middlewares := []func(http.Handler) http.Handler{
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
	}

	if cfg.AuthEnabled {
		jwtAuth, jwtErr := middleware.NewJWTAuth(cfg.JWKSURL, cfg.JWKSRefreshInterval, cfg.JWTLeeway, logger)
		if jwtErr != nil {
			logger.Error("Ошибка инициализации JWT auth", slog.String("error", jwtErr.Error()))
			os.Exit(1)
		}
		// Health и метрики доступны без токена
		middlewares = append(middlewares, server.JWTAuthWithExclusions(
			jwtAuth.Middleware(),
			"/health/", "/metrics",
		))
	} else {
		logger.Warn("Аутентификация отключена (FP_AUTH_ENABLED=false)")
	}

	// 12. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler, middlewares...)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("File Pipeline остановлен")
}
