package tokenstore

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

func TestMemoryStore_SetGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, AccessKey("abc12345"), "session-1", time.Hour); err != nil {
		t.Fatalf("Set: неожиданная ошибка: %v", err)
	}

	val, err := s.Get(ctx, AccessKey("abc12345"))
	if err != nil {
		t.Fatalf("Get: неожиданная ошибка: %v", err)
	}
	if val != "session-1" {
		t.Errorf("значение: хотели %q, получили %q", "session-1", val)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "нет-такого")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("хотели ErrNotFound, получили %v", err)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	s.SetClock(func() time.Time { return base })

	if err := s.Set(ctx, "session:s1", "res-1", time.Hour); err != nil {
		t.Fatalf("Set: неожиданная ошибка: %v", err)
	}

	// До истечения — доступен
	if _, err := s.Get(ctx, "session:s1"); err != nil {
		t.Fatalf("ключ должен жить до TTL: %v", err)
	}

	// После истечения — ErrNotFound
	s.SetClock(func() time.Time { return base.Add(time.Hour + time.Second) })
	if _, err := s.Get(ctx, "session:s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("после TTL хотели ErrNotFound, получили %v", err)
	}
}

func TestMemoryStore_Del(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Set(ctx, "a", "1", time.Hour)
	_ = s.Set(ctx, "b", "2", time.Hour)

	if err := s.Del(ctx, "a", "b", "несуществующий"); err != nil {
		t.Fatalf("Del: неожиданная ошибка: %v", err)
	}

	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("после Del хотели ErrNotFound, получили %v", err)
	}
}

func TestMemoryStore_KeysPattern(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Set(ctx, AccessKey("code1111"), "s1", time.Hour)
	_ = s.Set(ctx, AccessKey("code2222"), "s2", time.Hour)
	_ = s.Set(ctx, SessionKey("s1"), "res-1", time.Hour)
	_ = s.Set(ctx, OwnerKey("owner-tok"), "s1", time.Hour)

	keys, err := s.Keys(ctx, AccessPattern)
	if err != nil {
		t.Fatalf("Keys: неожиданная ошибка: %v", err)
	}

	sort.Strings(keys)
	want := []string{AccessKey("code1111"), AccessKey("code2222")}
	if len(keys) != len(want) {
		t.Fatalf("количество ключей: хотели %d, получили %d (%v)", len(want), len(keys), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("ключ %d: хотели %q, получили %q", i, want[i], keys[i])
		}
	}
}

func TestMemoryStore_KeysSkipsExpired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	s.SetClock(func() time.Time { return base })
	_ = s.Set(ctx, AccessKey("живой000"), "s1", time.Hour)
	_ = s.Set(ctx, AccessKey("мертвый0"), "s2", time.Minute)

	s.SetClock(func() time.Time { return base.Add(30 * time.Minute) })

	keys, err := s.Keys(ctx, AccessPattern)
	if err != nil {
		t.Fatalf("Keys: неожиданная ошибка: %v", err)
	}
	if len(keys) != 1 || keys[0] != AccessKey("живой000") {
		t.Errorf("хотели только живой ключ, получили %v", keys)
	}
}
