package resourcestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arturkryukov/anonshare/internal/domain/model"
)

// newTestResource создаёт живой файловый ресурс.
func newTestResource(id string, maxDownloads *int) *model.Resource {
	now := time.Now().UTC()
	return &model.Resource{
		ID:             id,
		OriginalName:   "report.pdf",
		StorageLocator: "report_20260901_abcd1234.pdf",
		ContentType:    "application/pdf",
		SizeBytes:      1024,
		CreatedAt:      now,
		ExpireAt:       now.Add(time.Hour),
		MaxDownloads:   maxDownloads,
	}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res := newTestResource("res-1", nil)
	if err := s.Create(ctx, res); err != nil {
		t.Fatalf("Create: неожиданная ошибка: %v", err)
	}

	got, err := s.Get(ctx, "res-1")
	if err != nil {
		t.Fatalf("Get: неожиданная ошибка: %v", err)
	}
	if got.OriginalName != res.OriginalName || got.StorageLocator != res.StorageLocator {
		t.Errorf("метаданные не совпадают: хотели %+v, получили %+v", res, got)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "нет-такого")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("хотели ErrNotFound, получили %v", err)
	}
}

func TestMemoryStore_GetExpired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res := newTestResource("res-1", nil)
	_ = s.Create(ctx, res)

	s.SetClock(func() time.Time { return res.ExpireAt.Add(time.Second) })

	if _, err := s.Get(ctx, "res-1"); !errors.Is(err, ErrExpired) {
		t.Errorf("хотели ErrExpired, получили %v", err)
	}

	// Истёкшая запись удалена: повторное чтение — уже NotFound
	if _, err := s.Get(ctx, "res-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("после удаления хотели ErrNotFound, получили %v", err)
	}
}

func TestMemoryStore_IncrementWithCeiling(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	maxDL := 2
	_ = s.Create(ctx, newTestResource("res-1", &maxDL))

	for i := 1; i <= 2; i++ {
		count, err := s.IncrementDownloadCount(ctx, "res-1")
		if err != nil {
			t.Fatalf("инкремент %d: неожиданная ошибка: %v", i, err)
		}
		if count != i {
			t.Errorf("счётчик после инкремента %d: хотели %d, получили %d", i, i, count)
		}
	}

	// Третий инкремент — лимит
	count, err := s.IncrementDownloadCount(ctx, "res-1")
	if !errors.Is(err, ErrLimitReached) {
		t.Errorf("хотели ErrLimitReached, получили %v", err)
	}
	if count != 2 {
		t.Errorf("счётчик не должен расти после лимита: хотели 2, получили %d", count)
	}
}

func TestMemoryStore_IncrementConcurrent(t *testing.T) {
	// Квантификация узкого окна гонки из §конкурентность: при потолке 1
	// из N конкурентных инкрементов успешен ровно один.
	s := NewMemoryStore()
	ctx := context.Background()

	maxDL := 1
	_ = s.Create(ctx, newTestResource("res-1", &maxDL))

	const workers = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementDownloadCount(ctx, "res-1"); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	var got int
	for range successes {
		got++
	}
	if got != 1 {
		t.Errorf("конкурентные инкременты: хотели ровно 1 успех, получили %d", got)
	}
}

func TestMemoryStore_ExistsByLocator(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res := newTestResource("res-1", nil)
	_ = s.Create(ctx, res)

	exists, err := s.ExistsByLocator(ctx, res.StorageLocator)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !exists {
		t.Error("живая запись должна находиться по локатору")
	}

	exists, _ = s.ExistsByLocator(ctx, "чужой-файл.bin")
	if exists {
		t.Error("несуществующий локатор не должен находиться")
	}

	// После истечения — не находится
	s.SetClock(func() time.Time { return res.ExpireAt.Add(time.Second) })
	exists, _ = s.ExistsByLocator(ctx, res.StorageLocator)
	if exists {
		t.Error("истёкшая запись не должна находиться по локатору")
	}
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	live := newTestResource("live", nil)
	dead := newTestResource("dead", nil)
	dead.ExpireAt = time.Now().UTC().Add(-time.Minute)
	_ = s.Create(ctx, live)
	_ = s.Create(ctx, dead)

	count, err := s.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if count != 1 {
		t.Errorf("удалено записей: хотели 1, получили %d", count)
	}
	if _, err := s.Get(ctx, "live"); err != nil {
		t.Errorf("живая запись не должна удаляться: %v", err)
	}
}
