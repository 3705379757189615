// memory.go — in-memory реализация Store для dev-режима и тестов.
package tokenstore

import (
	"context"
	"path"
	"sync"
	"time"
)

// entry — значение с моментом истечения.
type entry struct {
	value    string
	expireAt time.Time
}

// MemoryStore — in-memory хранилище токенов.
// Истечение ленивое: ключ проверяется на TTL при чтении,
// фоновой горутины-чистильщика нет (по контракту TTL — забота
// самого хранилища, а не приложения).
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	// now — источник времени, подменяется в тестах
	now func() time.Time
}

// NewMemoryStore создаёт пустое in-memory хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get возвращает значение ключа. Истёкший ключ удаляется и
// возвращается ErrNotFound — неотличимо от несуществующего.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	if s.now().After(e.expireAt) {
		delete(s.entries, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set записывает ключ с TTL.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{
		value:    value,
		expireAt: s.now().Add(ttl),
	}
	return nil
}

// Del удаляет ключи.
func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// Keys возвращает живые ключи по glob-шаблону (path.Match).
func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var result []string
	for key, e := range s.entries {
		if now.After(e.expireAt) {
			delete(s.entries, key)
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			result = append(result, key)
		}
	}
	return result, nil
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

// Проверка соответствия контракту на этапе компиляции.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
