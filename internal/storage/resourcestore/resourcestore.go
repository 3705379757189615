// Пакет resourcestore — долговременное хранилище записей ресурсов.
//
// Одна запись на разделяемый ресурс: метаданные, опциональный bcrypt-хэш
// пароля, счётчик скачиваний и абсолютный момент истечения. Истёкшая
// запись для потребителя не существует: чтение возвращает ErrExpired,
// а сама запись удаляется при наблюдении и периодическим проходом
// DeleteExpired (эмуляция TTL-индекса на уровне хранилища).
package resourcestore

import (
	"context"
	"errors"

	"github.com/arturkryukov/anonshare/internal/domain/model"
)

// Ошибки хранилища ресурсов.
var (
	// ErrNotFound — запись не существует.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrExpired — запись существовала, но её срок жизни истёк.
	ErrExpired = errors.New("срок жизни ресурса истёк")
	// ErrLimitReached — лимит скачиваний исчерпан, инкремент отклонён.
	ErrLimitReached = errors.New("лимит скачиваний исчерпан")
	// ErrUnavailable — хранилище недоступно (транзиентная ошибка, можно повторить).
	ErrUnavailable = errors.New("хранилище ресурсов недоступно")
)

// Store — контракт долговременного хранилища ресурсов.
// Реализации: PostgresStore (production), MemoryStore (dev/тесты).
type Store interface {
	// Create сохраняет новую запись ресурса.
	Create(ctx context.Context, res *model.Resource) error

	// Get возвращает запись по id.
	// Истёкшая запись удаляется, возвращается ErrExpired.
	Get(ctx context.Context, id string) (*model.Resource, error)

	// Delete удаляет запись. Отсутствующая запись — не ошибка.
	Delete(ctx context.Context, id string) error

	// IncrementDownloadCount атомарно увеличивает счётчик скачиваний
	// с потолком maxDownloads (compare-and-increment на уровне хранилища:
	// два конкурентных вызова при одном оставшемся скачивании дают
	// ровно один успех). Возвращает новое значение счётчика или
	// ErrLimitReached / ErrNotFound / ErrExpired.
	IncrementDownloadCount(ctx context.Context, id string) (int, error)

	// ExistsByLocator сообщает, ссылается ли живая запись на данный
	// файл полезной нагрузки. Используется только sweeper-ом.
	ExistsByLocator(ctx context.Context, locator string) (bool, error)

	// DeleteExpired удаляет все истёкшие записи, возвращает их количество.
	// Вызывается sweeper-ом; для backend-ов с нативным TTL — no-op.
	DeleteExpired(ctx context.Context) (int, error)

	// Ping проверяет доступность хранилища (readiness probe).
	Ping(ctx context.Context) error
}
