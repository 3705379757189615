// Пакет config — загрузка и валидация конфигурации AnonShare
// из переменных окружения.
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

// Config содержит все параметры конфигурации AnonShare.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Идентификатор сервиса для dephealth (имя вершины графа)
	ServiceID string
	// Путь к директории хранения файлов relay-режима
	DataDir string
	// Публичный базовый URL для формирования downloadUrl (опционально)
	PublicURL string
	// Бэкенд хранилища метаданных ресурсов: postgres или memory
	StoreBackend string
	// Бэкенд хранилища токенов: redis или memory
	TokenBackend string

	// Адрес Redis (host:port)
	RedisAddr string
	// Пароль Redis (опционально)
	RedisPassword string
	// Номер базы Redis
	RedisDB int

	// Параметры PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Таймаут операций с хранилищами
	StoreTimeout time.Duration
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// TTL сессии по умолчанию
	DefaultTTL time.Duration
	// Максимальный TTL сессии
	MaxTTL time.Duration
	// Интервал запуска уборки
	SweepInterval time.Duration
	// Минимальный возраст файла-кандидата на уборку
	SweepMinAge time.Duration

	// Диапазон портов локальных раздач
	LocalPortMin int
	LocalPortMax int
	// Пауза перед авто-остановкой раздачи после исчерпания лимита
	LocalStopGrace time.Duration

	// Ограничение частоты запросов: запросов в секунду и всплеск
	RateLimitRPS   float64
	RateLimitBurst int

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// ANSH_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("ANSH_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("ANSH_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("ANSH_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// ANSH_SERVICE_ID — идентификатор сервиса (по умолчанию "anonshare")
	cfg.ServiceID = getEnvDefault("ANSH_SERVICE_ID", "anonshare")

	// ANSH_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("ANSH_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// ANSH_PUBLIC_URL — базовый URL для downloadUrl (опционально)
	cfg.PublicURL = strings.TrimSuffix(getEnvDefault("ANSH_PUBLIC_URL", ""), "/")

	// ANSH_STORE_BACKEND — хранилище метаданных (по умолчанию memory)
	cfg.StoreBackend = getEnvDefault("ANSH_STORE_BACKEND", "memory")
	if cfg.StoreBackend != "postgres" && cfg.StoreBackend != "memory" {
		return nil, fmt.Errorf("ANSH_STORE_BACKEND: недопустимое значение %q, допустимые: postgres, memory", cfg.StoreBackend)
	}

	// ANSH_TOKEN_BACKEND — хранилище токенов (по умолчанию memory)
	cfg.TokenBackend = getEnvDefault("ANSH_TOKEN_BACKEND", "memory")
	if cfg.TokenBackend != "redis" && cfg.TokenBackend != "memory" {
		return nil, fmt.Errorf("ANSH_TOKEN_BACKEND: недопустимое значение %q, допустимые: redis, memory", cfg.TokenBackend)
	}

	// Redis — обязателен только при TokenBackend=redis
	if cfg.TokenBackend == "redis" {
		cfg.RedisAddr, err = getEnvRequired("ANSH_REDIS_ADDR")
		if err != nil {
			return nil, err
		}
	} else {
		cfg.RedisAddr = getEnvDefault("ANSH_REDIS_ADDR", "")
	}
	cfg.RedisPassword = getEnvDefault("ANSH_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("ANSH_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("ANSH_REDIS_DB: %w", err)
	}

	// PostgreSQL — обязателен только при StoreBackend=postgres
	if cfg.StoreBackend == "postgres" {
		if cfg.DBHost, err = getEnvRequired("ANSH_DB_HOST"); err != nil {
			return nil, err
		}
		if cfg.DBUser, err = getEnvRequired("ANSH_DB_USER"); err != nil {
			return nil, err
		}
		if cfg.DBPassword, err = getEnvRequired("ANSH_DB_PASSWORD"); err != nil {
			return nil, err
		}
		if cfg.DBName, err = getEnvRequired("ANSH_DB_NAME"); err != nil {
			return nil, err
		}
	}
	cfg.DBPort, err = getEnvInt("ANSH_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("ANSH_DB_PORT: %w", err)
	}
	cfg.DBSSLMode = getEnvDefault("ANSH_DB_SSLMODE", "disable")

	// ANSH_STORE_TIMEOUT — таймаут операций с хранилищами (по умолчанию 5s)
	cfg.StoreTimeout, err = getEnvDuration("ANSH_STORE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANSH_STORE_TIMEOUT: %w", err)
	}

	// ANSH_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GB)
	cfg.MaxFileSize, err = getEnvInt64("ANSH_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("ANSH_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("ANSH_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// ANSH_DEFAULT_TTL — TTL сессии по умолчанию (по умолчанию 1h)
	cfg.DefaultTTL, err = getEnvDuration("ANSH_DEFAULT_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ANSH_DEFAULT_TTL: %w", err)
	}

	// ANSH_MAX_TTL — максимальный TTL сессии (по умолчанию 168h)
	cfg.MaxTTL, err = getEnvDuration("ANSH_MAX_TTL", 168*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ANSH_MAX_TTL: %w", err)
	}
	if cfg.DefaultTTL > cfg.MaxTTL {
		return nil, fmt.Errorf("ANSH_DEFAULT_TTL (%s) не может превышать ANSH_MAX_TTL (%s)",
			cfg.DefaultTTL, cfg.MaxTTL)
	}

	// ANSH_SWEEP_INTERVAL — интервал уборки (по умолчанию 15m)
	cfg.SweepInterval, err = getEnvDuration("ANSH_SWEEP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("ANSH_SWEEP_INTERVAL: %w", err)
	}

	// ANSH_SWEEP_MIN_AGE — минимальный возраст файла для уборки (по умолчанию 10m)
	cfg.SweepMinAge, err = getEnvDuration("ANSH_SWEEP_MIN_AGE", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("ANSH_SWEEP_MIN_AGE: %w", err)
	}

	// ANSH_LOCAL_PORT_MIN / MAX — диапазон портов локальных раздач
	cfg.LocalPortMin, err = getEnvInt("ANSH_LOCAL_PORT_MIN", 1024)
	if err != nil {
		return nil, fmt.Errorf("ANSH_LOCAL_PORT_MIN: %w", err)
	}
	cfg.LocalPortMax, err = getEnvInt("ANSH_LOCAL_PORT_MAX", 65535)
	if err != nil {
		return nil, fmt.Errorf("ANSH_LOCAL_PORT_MAX: %w", err)
	}
	if cfg.LocalPortMin < 1 || cfg.LocalPortMax > 65535 || cfg.LocalPortMin > cfg.LocalPortMax {
		return nil, fmt.Errorf("недопустимый диапазон портов локальных раздач: %d-%d",
			cfg.LocalPortMin, cfg.LocalPortMax)
	}

	// ANSH_LOCAL_STOP_GRACE — пауза авто-остановки раздачи (по умолчанию 1s)
	cfg.LocalStopGrace, err = getEnvDuration("ANSH_LOCAL_STOP_GRACE", time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANSH_LOCAL_STOP_GRACE: %w", err)
	}

	// ANSH_RATE_LIMIT_RPS — запросов в секунду на клиента (по умолчанию 2)
	cfg.RateLimitRPS, err = getEnvFloat("ANSH_RATE_LIMIT_RPS", 2)
	if err != nil {
		return nil, fmt.Errorf("ANSH_RATE_LIMIT_RPS: %w", err)
	}
	// ANSH_RATE_LIMIT_BURST — всплеск на клиента (по умолчанию 20)
	cfg.RateLimitBurst, err = getEnvInt("ANSH_RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("ANSH_RATE_LIMIT_BURST: %w", err)
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return nil, fmt.Errorf("параметры rate limit должны быть положительными")
	}

	// ANSH_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s).
	// Должен быть меньше K8s terminationGracePeriodSeconds.
	cfg.ShutdownTimeout, err = getEnvDuration("ANSH_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANSH_SHUTDOWN_TIMEOUT: %w", err)
	}

	// ANSH_TLS_CERT / ANSH_TLS_KEY — TLS опционален, но либо оба, либо ни одного
	cfg.TLSCert = getEnvDefault("ANSH_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("ANSH_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("ANSH_TLS_CERT и ANSH_TLS_KEY задаются только вместе")
	}

	// ANSH_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("ANSH_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("ANSH_LOG_LEVEL: %w", err)
	}

	// ANSH_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("ANSH_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ANSH_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// ANSH_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("ANSH_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANSH_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// ANSH_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию "anonshare")
	cfg.DephealthGroup = getEnvDefault("ANSH_DEPHEALTH_GROUP", "anonshare")

	return cfg, nil
}

// PostgresURL собирает URL подключения к PostgreSQL.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
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

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
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

// getEnvFloat возвращает float64 значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
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
