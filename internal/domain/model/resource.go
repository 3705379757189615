// Пакет model — доменные модели AnonShare.
// Resource — единая структура метаданных разделяемого ресурса
// (файл на диске или inline-текст), используется relay-режимом.
package model

import (
	"time"
)

// Resource — метаданные одного разделяемого ресурса.
// Инвариант: ровно одно из двух — либо StorageLocator непустой (файл),
// либо IsText=true и InlineText непустой (текст).
type Resource struct {
	// ID — уникальный идентификатор ресурса (UUID v4), неизменяемый
	ID string `json:"id"`

	// OriginalName — отображаемое имя полезной нагрузки
	OriginalName string `json:"original_name"`

	// StorageLocator — имя файла полезной нагрузки на диске
	// (относительно ANSH_DATA_DIR). Пустой для текстовых ресурсов.
	StorageLocator string `json:"storage_locator,omitempty"`

	// ContentType — MIME-тип полезной нагрузки
	ContentType string `json:"content_type"`

	// SizeBytes — размер полезной нагрузки в байтах
	SizeBytes int64 `json:"size_bytes"`

	// CreatedAt — момент создания (UTC), неизменяемый
	CreatedAt time.Time `json:"created_at"`

	// ExpireAt — абсолютный момент истечения. После него запись
	// считается несуществующей и удаляется хранилищем.
	ExpireAt time.Time `json:"expire_at"`

	// PasswordHash — bcrypt-хэш пароля доступа. Пустой = без пароля.
	// Открытый пароль никогда не сохраняется.
	PasswordHash string `json:"-"`

	// MaxDownloads — лимит скачиваний. nil = без лимита.
	MaxDownloads *int `json:"max_downloads,omitempty"`

	// DownloadCount — количество успешных скачиваний.
	// Увеличивается только при успешной авторизованной выдаче.
	DownloadCount int `json:"download_count"`

	// IsText — true для текстового ресурса (StorageLocator пустой,
	// полезная нагрузка в InlineText).
	IsText bool `json:"is_text"`

	// InlineText — текстовая полезная нагрузка (возможно, зашифрованная
	// на клиенте; для сервера — непрозрачный blob).
	InlineText string `json:"-"`
}

// IsExpired проверяет, истёк ли срок жизни ресурса.
func (r *Resource) IsExpired(now time.Time) bool {
	return now.After(r.ExpireAt)
}

// LimitReached проверяет, исчерпан ли лимит скачиваний.
func (r *Resource) LimitReached() bool {
	return r.MaxDownloads != nil && r.DownloadCount >= *r.MaxDownloads
}

// PasswordProtected возвращает true, если ресурс защищён паролем.
func (r *Resource) PasswordProtected() bool {
	return r.PasswordHash != ""
}

// SessionSummary — денормализованная сводка сессии для владельца.
// Сохраняется как JSON-blob в token store по ключу metadata:<ownerToken>
// и позволяет показать статус сессии без join с хранилищем ресурсов.
type SessionSummary struct {
	// AccessCode — публичный код доступа
	AccessCode string `json:"access_code"`
	// SessionID — внутренний идентификатор сессии
	SessionID string `json:"session_id"`
	// ResourceID — идентификатор ресурса
	ResourceID string `json:"resource_id"`
	// OriginalName — имя полезной нагрузки
	OriginalName string `json:"original_name"`
	// SizeBytes — размер полезной нагрузки
	SizeBytes int64 `json:"size_bytes"`
	// ContentType — MIME-тип
	ContentType string `json:"content_type"`
	// IsText — текстовый ресурс
	IsText bool `json:"is_text"`
	// PasswordProtected — ресурс защищён паролем
	PasswordProtected bool `json:"password_protected"`
	// MaxDownloads — лимит скачиваний (nil = без лимита)
	MaxDownloads *int `json:"max_downloads,omitempty"`
	// CreatedAt — момент создания сессии
	CreatedAt time.Time `json:"created_at"`
	// ExpireAt — момент истечения сессии
	ExpireAt time.Time `json:"expire_at"`
}
