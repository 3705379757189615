package service

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/arturkryukov/anonshare/internal/domain/model"
	"github.com/arturkryukov/anonshare/internal/storage/payload"
	"github.com/arturkryukov/anonshare/internal/storage/resourcestore"
)

// setupSweeperTestEnv создаёт sweeper на in-memory хранилище ресурсов.
// minAge = 0, чтобы только что созданные файлы сразу были кандидатами.
func setupSweeperTestEnv(t *testing.T) (*Sweeper, *resourcestore.MemoryStore, *payload.Store) {
	t.Helper()

	payloads, err := payload.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания payload.Store: %v", err)
	}

	resources := resourcestore.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	sw := NewSweeper(resources, payloads, time.Hour, 0, logger)
	return sw, resources, payloads
}

func TestSweeperRunOnce_Empty(t *testing.T) {
	sw, _, _ := setupSweeperTestEnv(t)

	result := sw.RunOnce(context.Background())

	if result.ExpiredRecords != 0 {
		t.Errorf("ExpiredRecords: хотели 0, получили %d", result.ExpiredRecords)
	}
	if result.OrphanedFiles != 0 {
		t.Errorf("OrphanedFiles: хотели 0, получили %d", result.OrphanedFiles)
	}
	if result.Errors != 0 {
		t.Errorf("Errors: хотели 0, получили %d", result.Errors)
	}
}

func TestSweeperRunOnce_DeletesExpiredRecords(t *testing.T) {
	sw, resources, _ := setupSweeperTestEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	expired := &model.Resource{
		ID:        "expired-id",
		IsText:    true,
		CreatedAt: now.Add(-2 * time.Hour),
		ExpireAt:  now.Add(-time.Hour),
	}
	alive := &model.Resource{
		ID:        "alive-id",
		IsText:    true,
		CreatedAt: now,
		ExpireAt:  now.Add(time.Hour),
	}
	if err := resources.Create(ctx, expired); err != nil {
		t.Fatalf("Ошибка Create: %v", err)
	}
	if err := resources.Create(ctx, alive); err != nil {
		t.Fatalf("Ошибка Create: %v", err)
	}

	result := sw.RunOnce(ctx)

	if result.ExpiredRecords != 1 {
		t.Errorf("ExpiredRecords: хотели 1, получили %d", result.ExpiredRecords)
	}
	if _, err := resources.Get(ctx, "alive-id"); err != nil {
		t.Errorf("Живая запись пострадала от уборки: %v", err)
	}
}

func TestSweeperRunOnce_DeletesOrphanedFiles(t *testing.T) {
	sw, resources, payloads := setupSweeperTestEnv(t)
	ctx := context.Background()

	// Осиротевший файл: на диске есть, записи нет
	orphan, err := payloads.Save(strings.NewReader("сирота"), "orphan.bin")
	if err != nil {
		t.Fatalf("Ошибка Save: %v", err)
	}

	// Файл с живой записью
	referenced, err := payloads.Save(strings.NewReader("живой"), "alive.bin")
	if err != nil {
		t.Fatalf("Ошибка Save: %v", err)
	}
	now := time.Now().UTC()
	res := &model.Resource{
		ID:             "alive-id",
		StorageLocator: referenced.Locator,
		CreatedAt:      now,
		ExpireAt:       now.Add(time.Hour),
	}
	if err := resources.Create(ctx, res); err != nil {
		t.Fatalf("Ошибка Create: %v", err)
	}

	result := sw.RunOnce(ctx)

	if result.OrphanedFiles != 1 {
		t.Errorf("OrphanedFiles: хотели 1, получили %d", result.OrphanedFiles)
	}
	if payloads.Exists(orphan.Locator) {
		t.Error("Осиротевший файл не удалён")
	}
	if !payloads.Exists(referenced.Locator) {
		t.Error("Файл с живой записью удалён по ошибке")
	}
}

func TestSweeperRunOnce_RespectsMinAge(t *testing.T) {
	payloads, err := payload.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания payload.Store: %v", err)
	}
	resources := resourcestore.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// minAge = 10 минут: свежие файлы не считаются сиротами
	sw := NewSweeper(resources, payloads, time.Hour, 10*time.Minute, logger)

	fresh, err := payloads.Save(strings.NewReader("только что загружен"), "fresh.bin")
	if err != nil {
		t.Fatalf("Ошибка Save: %v", err)
	}

	result := sw.RunOnce(context.Background())

	if result.OrphanedFiles != 0 {
		t.Errorf("OrphanedFiles: хотели 0, получили %d", result.OrphanedFiles)
	}
	if !payloads.Exists(fresh.Locator) {
		t.Error("Свежий файл удалён вопреки minAge")
	}
}

// Файлы локальных раздач живут в отдельном хранилище и не попадают
// под уборку: записей метаданных у них нет, и sweeper над relay-хранилищем
// не должен их видеть даже после minAge.
func TestSweeperRunOnce_SparesLocalSharePayloads(t *testing.T) {
	relayPayloads, err := payload.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания payload.Store: %v", err)
	}
	localPayloads, err := payload.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания payload.Store раздач: %v", err)
	}
	resources := resourcestore.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	sw := NewSweeper(resources, relayPayloads, time.Hour, 10*time.Minute, logger)

	saved, err := localPayloads.Save(strings.NewReader("файл активной раздачи"), "share.bin")
	if err != nil {
		t.Fatalf("Ошибка Save: %v", err)
	}
	// Состариваем файл далеко за minAge
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(localPayloads.FullPath(saved.Locator), old, old); err != nil {
		t.Fatalf("Ошибка Chtimes: %v", err)
	}

	result := sw.RunOnce(context.Background())

	if result.OrphanedFiles != 0 {
		t.Errorf("OrphanedFiles: хотели 0, получили %d", result.OrphanedFiles)
	}
	if !localPayloads.Exists(saved.Locator) {
		t.Error("Файл активной локальной раздачи удалён уборкой")
	}
}

// unavailableStore имитирует недоступное хранилище для проверки
// политики «не удалять файл при сбое проверки».
type unavailableStore struct {
	*resourcestore.MemoryStore
}

func (s *unavailableStore) ExistsByLocator(_ context.Context, _ string) (bool, error) {
	return false, resourcestore.ErrUnavailable
}

func (s *unavailableStore) DeleteExpired(_ context.Context) (int, error) {
	return 0, resourcestore.ErrUnavailable
}

func TestSweeperRunOnce_StoreUnavailable(t *testing.T) {
	payloads, err := payload.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания payload.Store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	store := &unavailableStore{MemoryStore: resourcestore.NewMemoryStore()}
	sw := NewSweeper(store, payloads, time.Hour, 0, logger)

	saved, err := payloads.Save(strings.NewReader("файл"), "keep.bin")
	if err != nil {
		t.Fatalf("Ошибка Save: %v", err)
	}

	result := sw.RunOnce(context.Background())

	if result.OrphanedFiles != 0 {
		t.Errorf("OrphanedFiles: хотели 0, получили %d", result.OrphanedFiles)
	}
	if result.Errors == 0 {
		t.Error("Ожидали учтённые ошибки при недоступном хранилище")
	}
	// Файл не тронут: нет положительного ответа «записи нет»
	if !payloads.Exists(saved.Locator) {
		t.Error("Файл удалён при недоступном хранилище")
	}
}
