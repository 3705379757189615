// redis.go — реализация Store поверх Redis (go-redis v9).
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore — хранилище токенов в Redis.
// TTL обеспечивается самим Redis (EX при SET), фоновых процессов
// истечения на стороне приложения нет.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
	logger  *slog.Logger
}

// RedisOptions — параметры подключения к Redis.
type RedisOptions struct {
	// Addr — адрес Redis (host:port)
	Addr string
	// Password — пароль (пустой = без аутентификации)
	Password string
	// DB — номер базы
	DB int
	// Timeout — ограничение длительности каждой операции.
	// Операция, не уложившаяся в таймаут, возвращает ErrUnavailable.
	Timeout time.Duration
}

// NewRedisStore создаёт хранилище токенов в Redis и проверяет подключение.
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis %s: %w", opts.Addr, err)
	}

	logger.Info("Подключение к Redis установлено", slog.String("addr", opts.Addr))

	return &RedisStore{
		client:  client,
		timeout: opts.Timeout,
		logger:  logger.With(slog.String("component", "tokenstore")),
	}, nil
}

// Get возвращает значение ключа или ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := s.client.Get(opCtx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", s.unavailable("GET", key, err)
	}
	return val, nil
}

// Set записывает ключ с TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("TTL ключа %s должен быть положительным, получено %s", key, ttl)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(opCtx, key, value, ttl).Err(); err != nil {
		return s.unavailable("SET", key, err)
	}
	return nil
}

// Del удаляет ключи.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(opCtx, keys...).Err(); err != nil {
		return s.unavailable("DEL", keys[0], err)
	}
	return nil
}

// Keys возвращает ключи по glob-шаблону через SCAN (не блокирует Redis
// в отличие от команды KEYS). Используется только Cancel-ом.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var result []string
	iter := s.client.Scan(opCtx, 0, pattern, 100).Iterator()
	for iter.Next(opCtx) {
		result = append(result, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, s.unavailable("SCAN", pattern, err)
	}
	return result, nil
}

// Ping проверяет доступность Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close закрывает подключение к Redis.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// unavailable логирует инфраструктурную ошибку и оборачивает её в ErrUnavailable.
// Сырые ошибки драйвера наружу не пропускаются.
func (s *RedisStore) unavailable(op, key string, err error) error {
	s.logger.Error("Ошибка Redis",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s %s", ErrUnavailable, op, key)
}
