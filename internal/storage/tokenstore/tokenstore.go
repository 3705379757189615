// Пакет tokenstore — волатильное key-value хранилище токенов с TTL.
//
// Три независимых пространства имён плюс blob метаданных владельца:
//   - access:<code>        → sessionId  (публичное, передаётся получателям)
//   - session:<sessionId>  → resourceId (внутреннее, наружу не выдаётся)
//   - owner:<ownerToken>   → sessionId  (только для владельца)
//   - metadata:<ownerToken> → JSON-сводка сессии
//
// Все четыре ключа одного ресурса записываются с одним TTL и истекают
// в один момент; продление не предусмотрено.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

// Ошибки хранилища токенов.
var (
	// ErrNotFound — ключ не существует или его TTL истёк.
	ErrNotFound = errors.New("ключ не найден")
	// ErrUnavailable — хранилище недоступно (транзиентная ошибка, можно повторить).
	ErrUnavailable = errors.New("хранилище токенов недоступно")
)

// Префиксы пространств имён.
const (
	prefixAccess   = "access:"
	prefixSession  = "session:"
	prefixOwner    = "owner:"
	prefixMetadata = "metadata:"
)

// AccessKey возвращает ключ access:<code>.
func AccessKey(code string) string { return prefixAccess + code }

// SessionKey возвращает ключ session:<sessionId>.
func SessionKey(sessionID string) string { return prefixSession + sessionID }

// OwnerKey возвращает ключ owner:<ownerToken>.
func OwnerKey(ownerToken string) string { return prefixOwner + ownerToken }

// MetadataKey возвращает ключ metadata:<ownerToken>.
func MetadataKey(ownerToken string) string { return prefixMetadata + ownerToken }

// AccessPattern — шаблон для обратного поиска по access-ключам (только Cancel).
const AccessPattern = prefixAccess + "*"

// Store — контракт волатильного хранилища токенов.
// Реализации: RedisStore (production), MemoryStore (dev/тесты).
// Инфраструктурные сбои оборачиваются в ErrUnavailable,
// отсутствующий или истёкший ключ — ErrNotFound.
type Store interface {
	// Get возвращает значение ключа.
	Get(ctx context.Context, key string) (string, error)
	// Set записывает ключ с TTL. ttl должен быть > 0.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del удаляет ключи. Отсутствующие ключи не считаются ошибкой.
	Del(ctx context.Context, keys ...string) error
	// Keys возвращает ключи по glob-шаблону.
	// Используется только обратным поиском в Cancel.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Ping проверяет доступность хранилища (readiness probe).
	Ping(ctx context.Context) error
}
