// memory.go — in-memory реализация Store для dev-режима и тестов.
package resourcestore

import (
	"context"
	"sync"
	"time"

	"github.com/arturkryukov/anonshare/internal/domain/model"
)

// MemoryStore — in-memory хранилище ресурсов.
// Истечение ленивое (проверка ExpireAt при чтении) плюс DeleteExpired
// для периодического прохода sweeper-а.
type MemoryStore struct {
	mu        sync.Mutex
	resources map[string]*model.Resource
	// now — источник времени, подменяется в тестах
	now func() time.Time
}

// NewMemoryStore создаёт пустое in-memory хранилище ресурсов.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*model.Resource),
		now:       time.Now,
	}
}

// Create сохраняет новую запись.
func (s *MemoryStore) Create(_ context.Context, res *model.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *res
	s.resources[res.ID] = &copied
	return nil
}

// Get возвращает копию записи, ErrNotFound или ErrExpired.
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	if res.IsExpired(s.now()) {
		delete(s.resources, id)
		return nil, ErrExpired
	}

	copied := *res
	return &copied, nil
}

// Delete удаляет запись.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.resources, id)
	return nil
}

// IncrementDownloadCount атомарно увеличивает счётчик с потолком.
// Проверка и инкремент выполняются под одним мьютексом — два
// конкурентных вызова при одном оставшемся скачивании дают ровно
// один успех.
func (s *MemoryStore) IncrementDownloadCount(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.resources[id]
	if !ok {
		return 0, ErrNotFound
	}
	if res.IsExpired(s.now()) {
		delete(s.resources, id)
		return 0, ErrExpired
	}
	if res.LimitReached() {
		return res.DownloadCount, ErrLimitReached
	}

	res.DownloadCount++
	return res.DownloadCount, nil
}

// ExistsByLocator сообщает, ссылается ли живая запись на файл.
func (s *MemoryStore) ExistsByLocator(_ context.Context, locator string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, res := range s.resources {
		if res.StorageLocator == locator && !res.IsExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

// DeleteExpired удаляет все истёкшие записи.
func (s *MemoryStore) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for id, res := range s.resources {
		if res.IsExpired(now) {
			delete(s.resources, id)
			count++
		}
	}
	return count, nil
}

// Ping всегда успешен: хранилище в памяти процесса.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// SetClock подменяет источник времени. Только для тестов.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

var _ Store = (*MemoryStore)(nil)
