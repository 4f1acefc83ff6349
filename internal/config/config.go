// Пакет config — загрузка и валидация конфигурации пайплайна файлов
// из переменных окружения. Префикс переменных — FP_.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера
	HTTPIdleTimeout time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Хранилище ---

	// Корневая директория блобов
	DataDir string
	// Директория outbox (по умолчанию <DataDir>/outbox)
	OutboxDir string
	// Максимальный размер файла в байтах (по умолчанию 50 МиБ)
	MaxFileSize int64
	// Базовый URL для ссылок на скачивание
	PublicBaseURL string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// --- Аутентификация ---

	// Включена ли проверка JWT (отключается для локальной разработки)
	AuthEnabled bool
	// URL JWKS endpoint
	JWKSURL string
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допуск рассинхронизации часов при валидации JWT
	JWTLeeway time.Duration

	// --- Кэш метаданных ---

	// Максимальное количество записей в LRU-кэше
	CacheSize int
	// TTL записи кэша
	CacheTTL time.Duration

	// --- Фоновая обработка ---

	// Количество воркеров обработки
	ProcessWorkers int
	// Таймаут обработки одного файла
	ProcessTimeout time.Duration
	// Окно "недавних загрузок" для аналитики
	RecentWindow time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop // последовательная загрузка параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// FP_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("FP_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("FP_PORT: %w", err)
	}

	// FP_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("FP_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("FP_LOG_LEVEL: %w", err)
	}

	// FP_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FP_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("FP_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FP_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("FP_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FP_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("FP_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FP_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("FP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FP_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Хранилище ---

	// FP_DATA_DIR — корневая директория блобов (обязательная)
	cfg.DataDir, err = getEnvRequired("FP_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// FP_OUTBOX_DIR — директория outbox (по умолчанию <DataDir>/outbox)
	cfg.OutboxDir = getEnvDefault("FP_OUTBOX_DIR", cfg.DataDir+"/outbox")

	// FP_MAX_FILE_SIZE — лимит размера файла (по умолчанию 50 МиБ)
	cfg.MaxFileSize, err = getEnvInt64("FP_MAX_FILE_SIZE", 50*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("FP_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FP_MAX_FILE_SIZE: значение должно быть > 0")
	}

	// FP_PUBLIC_URL — базовый URL для ссылок на скачивание
	cfg.PublicBaseURL = getEnvDefault("FP_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port))
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("FP_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("FP_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FP_DB_PORT: %w", err)
	}
	cfg.DBUser, err = getEnvRequired("FP_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("FP_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBName, err = getEnvRequired("FP_DB_NAME")
	if err != nil {
		return nil, err
	}

	// FP_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("FP_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("FP_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Аутентификация ---

	// FP_AUTH_ENABLED — проверка JWT (по умолчанию включена)
	cfg.AuthEnabled, err = getEnvBool("FP_AUTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("FP_AUTH_ENABLED: %w", err)
	}
	if cfg.AuthEnabled {
		cfg.JWKSURL, err = getEnvRequired("FP_JWKS_URL")
		if err != nil {
			return nil, err
		}
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("FP_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FP_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("FP_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FP_JWT_LEEWAY: %w", err)
	}

	// --- Кэш метаданных ---

	cfg.CacheSize, err = getEnvInt("FP_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("FP_CACHE_SIZE: %w", err)
	}
	cfg.CacheTTL, err = getEnvDuration("FP_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FP_CACHE_TTL: %w", err)
	}

	// --- Фоновая обработка ---

	cfg.ProcessWorkers, err = getEnvInt("FP_PROCESS_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("FP_PROCESS_WORKERS: %w", err)
	}
	if cfg.ProcessWorkers < 1 {
		return nil, fmt.Errorf("FP_PROCESS_WORKERS: значение должно быть >= 1")
	}
	cfg.ProcessTimeout, err = getEnvDuration("FP_PROCESS_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FP_PROCESS_TIMEOUT: %w", err)
	}
	cfg.RecentWindow, err = getEnvDuration("FP_RECENT_WINDOW", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FP_RECENT_WINDOW: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64-значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
