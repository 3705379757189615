// postgres.go — реализация Store поверх PostgreSQL (pgx/v5).
//
// TTL эмулируется на уровне запросов: каждое чтение различает
// «нет строки» и «строка есть, но expire_at в прошлом» (ErrExpired),
// истёкшая строка удаляется при наблюдении, а DeleteExpired
// периодически вычищает остальные.
package resourcestore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arturkryukov/anonshare/internal/domain/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// resourceColumns — список столбцов таблицы resources для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const resourceColumns = `id, original_name, storage_locator, content_type, size_bytes,
	created_at, expire_at, password_hash, max_downloads, download_count,
	is_text, inline_text`

// PostgresOptions — параметры подключения к PostgreSQL.
type PostgresOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Timeout — ограничение длительности каждой операции.
	Timeout time.Duration
}

// DSN возвращает строку подключения pgx.
func (o PostgresOptions) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		o.User, o.Password, o.Host, o.Port, o.DBName, o.SSLMode)
}

// migrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (o PostgresOptions) migrateURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		o.User, o.Password, o.Host, o.Port, o.DBName, o.SSLMode)
}

// PostgresStore — хранилище ресурсов в PostgreSQL.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// NewPostgresStore подключается к PostgreSQL, применяет миграции
// из embedded FS и возвращает готовое хранилище.
func NewPostgresStore(ctx context.Context, opts PostgresOptions, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	if err := applyMigrations(opts); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", opts.Host),
		slog.Int("port", opts.Port),
		slog.String("database", opts.DBName),
	)

	return &PostgresStore{
		pool:    pool,
		timeout: opts.Timeout,
		logger:  logger.With(slog.String("component", "resourcestore")),
	}, nil
}

// applyMigrations применяет SQL-миграции из embedded FS.
func applyMigrations(opts PostgresOptions) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, opts.migrateURL())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}
	return nil
}

// Create сохраняет новую запись ресурса.
func (s *PostgresStore) Create(ctx context.Context, res *model.Resource) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `INSERT INTO resources (` + resourceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(opCtx, query,
		res.ID, res.OriginalName, nullString(res.StorageLocator), res.ContentType,
		res.SizeBytes, res.CreatedAt, res.ExpireAt, nullString(res.PasswordHash),
		res.MaxDownloads, res.DownloadCount, res.IsText, nullString(res.InlineText),
	)
	if err != nil {
		return s.unavailable("INSERT", res.ID, err)
	}
	return nil
}

// Get возвращает запись по id. Истёкшая строка удаляется,
// возвращается ErrExpired.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Resource, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`

	res, err := s.scanResource(s.pool.QueryRow(opCtx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, s.unavailable("SELECT", id, err)
	}

	if res.IsExpired(time.Now().UTC()) {
		// Эмуляция TTL-индекса: истёкшая строка удаляется при наблюдении
		if delErr := s.Delete(ctx, id); delErr != nil {
			s.logger.Warn("Не удалось удалить истёкшую запись",
				slog.String("id", id),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, ErrExpired
	}

	return res, nil
}

// Delete удаляет запись.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.pool.Exec(opCtx, `DELETE FROM resources WHERE id = $1`, id); err != nil {
		return s.unavailable("DELETE", id, err)
	}
	return nil
}

// IncrementDownloadCount атомарно увеличивает счётчик с потолком
// одним UPDATE: условие в WHERE делает проверку и инкремент
// неделимыми на уровне БД.
func (s *PostgresStore) IncrementDownloadCount(ctx context.Context, id string) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `UPDATE resources
		SET download_count = download_count + 1
		WHERE id = $1
		  AND expire_at > now()
		  AND (max_downloads IS NULL OR download_count < max_downloads)
		RETURNING download_count`

	var count int
	err := s.pool.QueryRow(opCtx, query, id).Scan(&count)
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, s.unavailable("UPDATE", id, err)
	}

	// UPDATE не нашёл строку: различаем отсутствие, истечение и лимит
	res, getErr := s.Get(ctx, id)
	switch {
	case errors.Is(getErr, ErrNotFound):
		return 0, ErrNotFound
	case errors.Is(getErr, ErrExpired):
		return 0, ErrExpired
	case getErr != nil:
		return 0, getErr
	case res.LimitReached():
		return res.DownloadCount, ErrLimitReached
	default:
		// Гонка: между UPDATE и SELECT запись изменилась. Считаем лимит.
		return res.DownloadCount, ErrLimitReached
	}
}

// ExistsByLocator сообщает, ссылается ли живая запись на файл.
func (s *PostgresStore) ExistsByLocator(ctx context.Context, locator string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT EXISTS(
		SELECT 1 FROM resources WHERE storage_locator = $1 AND expire_at > now()
	)`

	var exists bool
	if err := s.pool.QueryRow(opCtx, query, locator).Scan(&exists); err != nil {
		return false, s.unavailable("SELECT", locator, err)
	}
	return exists, nil
}

// DeleteExpired удаляет все истёкшие записи.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(opCtx, `DELETE FROM resources WHERE expire_at <= now()`)
	if err != nil {
		return 0, s.unavailable("DELETE", "expired", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping проверяет доступность PostgreSQL.
func (s *PostgresStore) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.pool.Ping(opCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Pool возвращает пул подключений (для dephealth pgcheck).
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close закрывает пул подключений.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// scanResource сканирует одну строку в model.Resource.
func (s *PostgresStore) scanResource(row pgx.Row) (*model.Resource, error) {
	res := &model.Resource{}
	var locator, passwordHash, inlineText *string

	err := row.Scan(
		&res.ID, &res.OriginalName, &locator, &res.ContentType, &res.SizeBytes,
		&res.CreatedAt, &res.ExpireAt, &passwordHash, &res.MaxDownloads,
		&res.DownloadCount, &res.IsText, &inlineText,
	)
	if err != nil {
		return nil, err
	}

	if locator != nil {
		res.StorageLocator = *locator
	}
	if passwordHash != nil {
		res.PasswordHash = *passwordHash
	}
	if inlineText != nil {
		res.InlineText = *inlineText
	}
	return res, nil
}

// nullString возвращает nil для пустой строки (NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// unavailable логирует инфраструктурную ошибку и оборачивает её в ErrUnavailable.
// Сырые ошибки драйвера наружу не пропускаются.
func (s *PostgresStore) unavailable(op, key string, err error) error {
	s.logger.Error("Ошибка PostgreSQL",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s %s", ErrUnavailable, op, key)
}

var _ Store = (*PostgresStore)(nil)
