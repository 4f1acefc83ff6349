package config

import (
	"log/slog"
	"testing"
	"time"
)

// setRequiredEnv задаёт минимальный набор обязательных переменных.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FP_DATA_DIR", "/var/lib/file-pipeline")
	t.Setenv("FP_DB_HOST", "localhost")
	t.Setenv("FP_DB_USER", "pipeline")
	t.Setenv("FP_DB_PASSWORD", "secret")
	t.Setenv("FP_DB_NAME", "pipeline")
	t.Setenv("FP_AUTH_ENABLED", "false")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Port != 8040 {
		t.Errorf("Port = %d, ожидается 8040", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.MaxFileSize != 50*1024*1024 {
		t.Errorf("MaxFileSize = %d, ожидается 50 МиБ", cfg.MaxFileSize)
	}
	if cfg.OutboxDir != "/var/lib/file-pipeline/outbox" {
		t.Errorf("OutboxDir = %q, ожидается <DataDir>/outbox", cfg.OutboxDir)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode = %q, ожидается disable", cfg.DBSSLMode)
	}
	if cfg.ProcessTimeout != 2*time.Minute {
		t.Errorf("ProcessTimeout = %v, ожидается 2m", cfg.ProcessTimeout)
	}
	if cfg.RecentWindow != 7*24*time.Hour {
		t.Errorf("RecentWindow = %v, ожидается 168h", cfg.RecentWindow)
	}
	if cfg.CacheSize != 1000 {
		t.Errorf("CacheSize = %d, ожидается 1000", cfg.CacheSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FP_PORT", "9000")
	t.Setenv("FP_MAX_FILE_SIZE", "1048576")
	t.Setenv("FP_LOG_FORMAT", "text")
	t.Setenv("FP_PROCESS_WORKERS", "8")
	t.Setenv("FP_PUBLIC_URL", "https://files.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port = %d, ожидается 9000", cfg.Port)
	}
	if cfg.MaxFileSize != 1048576 {
		t.Errorf("MaxFileSize = %d, ожидается 1048576", cfg.MaxFileSize)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидается text", cfg.LogFormat)
	}
	if cfg.ProcessWorkers != 8 {
		t.Errorf("ProcessWorkers = %d, ожидается 8", cfg.ProcessWorkers)
	}
	// Хвостовой слэш обрезается
	if cfg.PublicBaseURL != "https://files.example.com" {
		t.Errorf("PublicBaseURL = %q", cfg.PublicBaseURL)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("FP_DATA_DIR", "")
	t.Setenv("FP_DB_HOST", "localhost")

	if _, err := Load(); err == nil {
		t.Error("ожидалась ошибка при отсутствии FP_DATA_DIR")
	}
}

func TestLoadAuthRequiresJWKS(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FP_AUTH_ENABLED", "true")
	t.Setenv("FP_JWKS_URL", "")

	if _, err := Load(); err == nil {
		t.Error("при включённой аутентификации FP_JWKS_URL обязателен")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"некорректный порт", "FP_PORT", "abc"},
		{"некорректный лимит", "FP_MAX_FILE_SIZE", "-1"},
		{"некорректный формат логов", "FP_LOG_FORMAT", "xml"},
		{"некорректный уровень логов", "FP_LOG_LEVEL", "verbose"},
		{"некорректный ssl mode", "FP_DB_SSL_MODE", "maybe"},
		{"нулевые воркеры", "FP_PROCESS_WORKERS", "0"},
		{"некорректный таймаут", "FP_PROCESS_TIMEOUT", "two minutes"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("ожидалась ошибка для %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.local",
		DBPort:     5433,
		DBUser:     "u",
		DBPassword: "p",
		DBName:     "files",
		DBSSLMode:  "disable",
	}
	expected := "host=db.local port=5433 dbname=files user=u password=p sslmode=disable"
	if dsn := cfg.DatabaseDSN(); dsn != expected {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", dsn, expected)
	}
}
