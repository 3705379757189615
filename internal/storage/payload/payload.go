// Пакет payload — операции с файлами полезной нагрузки relay-режима.
// Обеспечивает streaming-запись, чтение, удаление и перечисление
// кандидатов для sweeper-а.
package payload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store — управление файлами полезной нагрузки на диске.
type Store struct {
	// dataDir — корневая директория хранения (ANSH_DATA_DIR)
	dataDir string
}

// SaveResult — результат сохранения полезной нагрузки.
type SaveResult struct {
	// Locator — имя файла в dataDir (storage locator записи ресурса)
	Locator string
	// Size — размер записанных данных в байтах
	Size int64
}

// New создаёт Store. Создаёт директорию, если её нет.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// Save записывает данные из reader на диск.
// Формат имени: {name}_{timestamp}_{uuid}.{ext}
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется. Sweeper никогда не увидит
// наполовину записанный файл под финальным именем.
func (s *Store) Save(reader io.Reader, originalName string) (*SaveResult, error) {
	locator := generateLocator(originalName)
	fullPath := filepath.Join(s.dataDir, locator)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{Locator: locator, Size: size}, nil
}

// Open открывает файл полезной нагрузки для чтения.
// Вызывающий код обязан закрыть файл.
func (s *Store) Open(locator string) (*os.File, error) {
	f, err := os.Open(filepath.Join(s.dataDir, locator))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", locator)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", locator, err)
	}
	return f, nil
}

// Delete удаляет файл. Отсутствующий файл — не ошибка.
func (s *Store) Delete(locator string) error {
	err := os.Remove(filepath.Join(s.dataDir, locator))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", locator, err)
	}
	return nil
}

// Exists проверяет существование файла.
func (s *Store) Exists(locator string) bool {
	_, err := os.Stat(filepath.Join(s.dataDir, locator))
	return err == nil
}

// FullPath возвращает абсолютный путь к файлу.
func (s *Store) FullPath(locator string) string {
	return filepath.Join(s.dataDir, locator)
}

// DataDir возвращает путь к директории данных.
func (s *Store) DataDir() string {
	return s.dataDir
}

// ListOlderThan возвращает локаторы файлов, изменённых раньше cutoff.
// Временные файлы (.tmp) пропускаются: их докатит или удалит Save.
// Используется sweeper-ом: возраст-порог защищает файлы, чья запись
// ресурса ещё не успела закоммититься.
func (s *Store) ListOlderThan(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", s.dataDir, err)
	}

	var result []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			result = append(result, e.Name())
		}
	}
	return result, nil
}

// generateLocator генерирует имя файла для хранения на диске.
// Формат: {name}_{timestamp}_{uuid}{ext}
// Пример: photo_20260901150405_a1b2c3d4.jpg
func generateLocator(originalName string) string {
	ext := filepath.Ext(originalName)
	name := sanitize(strings.TrimSuffix(originalName, ext))

	if len(name) > 50 {
		name = name[:50]
	}

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s_%s_%s%s", name, ts, uid, ext)
}

// sanitize убирает небезопасные символы из строки для использования
// в имени файла. Оставляет буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}
