// Пакет service — бизнес-логика AnonShare.
// relay.go — менеджер relay-сессий: создание разделяемого ресурса,
// разрешение кода доступа, выдача полезной нагрузки, отмена владельцем.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/arturkryukov/anonshare/internal/api/errors"
	"github.com/arturkryukov/anonshare/internal/domain/model"
	"github.com/arturkryukov/anonshare/internal/password"
	"github.com/arturkryukov/anonshare/internal/storage/payload"
	"github.com/arturkryukov/anonshare/internal/storage/resourcestore"
	"github.com/arturkryukov/anonshare/internal/storage/tokenstore"
	"github.com/arturkryukov/anonshare/internal/token"
)

// Prometheus метрики relay-режима.
var (
	// sessionsCreatedTotal — количество созданных relay-сессий.
	sessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ansh_sessions_created_total",
		Help: "Общее количество созданных relay-сессий",
	})

	// sessionsCancelledTotal — количество сессий, отменённых владельцем.
	sessionsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ansh_sessions_cancelled_total",
		Help: "Общее количество сессий, отменённых владельцем",
	})

	// downloadsTotal — количество выдач полезной нагрузки.
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansh_downloads_total",
		Help: "Общее количество выдач полезной нагрузки",
	}, []string{"mode", "result"})
)

// Error — ошибка сервисного слоя с HTTP-кодом и машиночитаемым кодом.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// svcError — конструктор Error.
func svcError(status int, code, message string) *Error {
	return &Error{StatusCode: status, Code: code, Message: message}
}

// CreateParams — параметры создания relay-сессии.
// Ровно одно из двух: Reader (файл) или Text (inline-текст).
type CreateParams struct {
	// Reader — поток данных файла (nil в текстовом режиме)
	Reader io.Reader
	// OriginalName — отображаемое имя полезной нагрузки
	OriginalName string
	// ContentType — MIME-тип
	ContentType string
	// Text — текстовая полезная нагрузка (возможно, зашифрованная клиентом)
	Text string
	// IsText — true для текстового режима
	IsText bool
	// TTL — срок жизни сессии, > 0
	TTL time.Duration
	// Password — пароль доступа (пустой = без пароля)
	Password string
	// MaxDownloads — лимит скачиваний (nil = без лимита)
	MaxDownloads *int
}

// CreateResult — результат создания relay-сессии.
type CreateResult struct {
	// AccessCode — публичный код доступа для получателей
	AccessCode string `json:"accessCode"`
	// OwnerToken — приватный токен владельца
	OwnerToken string `json:"ownerToken"`
	// ExpireAt — момент истечения сессии
	ExpireAt time.Time `json:"expiresAt"`
}

// Metadata — метаданные ресурса, возвращаемые Resolve.
type Metadata struct {
	Name              string    `json:"name"`
	SizeBytes         int64     `json:"size"`
	ContentType       string    `json:"mimeType"`
	IsText            bool      `json:"isText"`
	PasswordProtected bool      `json:"passwordProtected"`
	DownloadCount     int       `json:"downloads"`
	MaxDownloads      *int      `json:"maxDownloads,omitempty"`
	ExpireAt          time.Time `json:"expiresAt"`
}

// RetrieveResult — результат выдачи полезной нагрузки.
// Для файлового ресурса File != nil (вызывающий код обязан закрыть),
// для текстового File == nil и текст в Resource.InlineText.
type RetrieveResult struct {
	Resource *model.Resource
	File     *os.File
}

// SessionStatus — лёгкий статус сессии для поллинга получателем.
type SessionStatus struct {
	Valid     bool      `json:"valid"`
	ExpireAt  time.Time `json:"expiresAt"`
	Downloads int       `json:"downloads"`
}

// OwnerStatusResult — сводка сессии для владельца плюс живые счётчики.
type OwnerStatusResult struct {
	model.SessionSummary
	// DownloadCount — текущее значение счётчика из хранилища ресурсов
	DownloadCount int `json:"downloads"`
}

// RelayService — менеджер relay-сессий.
type RelayService struct {
	resources resourcestore.Store
	tokens    tokenstore.Store
	payloads  *payload.Store
	logger    *slog.Logger
}

// NewRelayService создаёт менеджер relay-сессий.
func NewRelayService(
	resources resourcestore.Store,
	tokens tokenstore.Store,
	payloads *payload.Store,
	logger *slog.Logger,
) *RelayService {
	return &RelayService{
		resources: resources,
		tokens:    tokens,
		payloads:  payloads,
		logger:    logger.With(slog.String("component", "relay_service")),
	}
}

// CreateSession создаёт разделяемый ресурс и возвращает пару
// {accessCode, ownerToken}.
//
// Порядок записи важен: публичный ключ access:<code> пишется последним,
// поэтому сбой на любом из предыдущих шагов не оставит разрешимого
// кода доступа, указывающего на несуществующие данные. При ошибке
// всё уже записанное откатывается (best-effort).
func (s *RelayService) CreateSession(ctx context.Context, params CreateParams) (*CreateResult, *Error) {
	if params.TTL <= 0 {
		return nil, svcError(http.StatusBadRequest, apierrors.CodeValidationError,
			"TTL сессии должен быть положительным")
	}
	if params.IsText == (params.Reader != nil) {
		return nil, svcError(http.StatusBadRequest, apierrors.CodeValidationError,
			"требуется ровно одно из двух: файл или текст")
	}
	if params.MaxDownloads != nil && *params.MaxDownloads <= 0 {
		return nil, svcError(http.StatusBadRequest, apierrors.CodeValidationError,
			"лимит скачиваний должен быть положительным")
	}

	now := time.Now().UTC()
	res := &model.Resource{
		ID:           token.NewSessionID(),
		OriginalName: params.OriginalName,
		ContentType:  params.ContentType,
		CreatedAt:    now,
		ExpireAt:     now.Add(params.TTL),
		MaxDownloads: params.MaxDownloads,
		IsText:       params.IsText,
	}

	// 1. Полезная нагрузка: файл на диск или inline-текст в запись
	if params.IsText {
		if params.Text == "" {
			return nil, svcError(http.StatusBadRequest, apierrors.CodeValidationError,
				"текстовая полезная нагрузка пуста")
		}
		res.InlineText = params.Text
		res.SizeBytes = int64(len(params.Text))
	} else {
		saved, err := s.payloads.Save(params.Reader, params.OriginalName)
		if err != nil {
			s.logger.Error("Ошибка сохранения полезной нагрузки", slog.String("error", err.Error()))
			return nil, svcError(http.StatusInternalServerError, apierrors.CodeInternalError,
				"не удалось сохранить файл")
		}
		res.StorageLocator = saved.Locator
		res.SizeBytes = saved.Size
	}

	// 2. Пароль хэшируется, открытый текст не сохраняется
	if params.Password != "" {
		digest, err := password.Hash(params.Password)
		if err != nil {
			s.rollbackPayload(res)
			return nil, svcError(http.StatusInternalServerError, apierrors.CodeInternalError,
				"не удалось обработать пароль")
		}
		res.PasswordHash = digest
	}

	// 3. Запись ресурса
	if err := s.resources.Create(ctx, res); err != nil {
		s.rollbackPayload(res)
		return nil, s.storeError(err, "создания записи ресурса")
	}

	// 4. Токены
	accessCode, err := token.NewAccessCode()
	if err != nil {
		s.rollback(ctx, res, nil)
		return nil, svcError(http.StatusInternalServerError, apierrors.CodeInternalError,
			"не удалось сгенерировать код доступа")
	}
	ownerToken, err := token.NewOwnerToken()
	if err != nil {
		s.rollback(ctx, res, nil)
		return nil, svcError(http.StatusInternalServerError, apierrors.CodeInternalError,
			"не удалось сгенерировать токен владельца")
	}
	sessionID := token.NewSessionID()

	summary := model.SessionSummary{
		AccessCode:        accessCode,
		SessionID:         sessionID,
		ResourceID:        res.ID,
		OriginalName:      res.OriginalName,
		SizeBytes:         res.SizeBytes,
		ContentType:       res.ContentType,
		IsText:            res.IsText,
		PasswordProtected: res.PasswordProtected(),
		MaxDownloads:      res.MaxDownloads,
		CreatedAt:         res.CreatedAt,
		ExpireAt:          res.ExpireAt,
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		s.rollback(ctx, res, nil)
		return nil, svcError(http.StatusInternalServerError, apierrors.CodeInternalError,
			"не удалось сериализовать сводку сессии")
	}

	// 5. Четыре ключа с одним TTL; access:<code> — строго последним
	writes := []struct{ key, value string }{
		{tokenstore.SessionKey(sessionID), res.ID},
		{tokenstore.OwnerKey(ownerToken), sessionID},
		{tokenstore.MetadataKey(ownerToken), string(summaryJSON)},
		{tokenstore.AccessKey(accessCode), sessionID},
	}
	var written []string
	for _, w := range writes {
		if err := s.tokens.Set(ctx, w.key, w.value, params.TTL); err != nil {
			s.rollback(ctx, res, written)
			return nil, s.storeError(err, "записи токенов сессии")
		}
		written = append(written, w.key)
	}

	sessionsCreatedTotal.Inc()
	s.logger.Info("Relay-сессия создана",
		slog.String("resource_id", res.ID),
		slog.String("session_id", sessionID),
		slog.Bool("is_text", res.IsText),
		slog.Int64("size", res.SizeBytes),
		slog.Time("expire_at", res.ExpireAt),
	)

	return &CreateResult{
		AccessCode: accessCode,
		OwnerToken: ownerToken,
		ExpireAt:   res.ExpireAt,
	}, nil
}

// Resolve разрешает код доступа в метаданные ресурса.
// Никогда не мутирует счётчики: безопасен для поллинга.
//
// Порядок проверок (каждая даёт отличимый исход):
//  1. access:<code> → sessionId → resourceId → запись: NotFound/Expired
//  2. пароль не передан при установленном: PasswordRequired
//     (метаданные не раскрываются неаутентифицированным запросам)
//  3. пароль не совпал: InvalidCredential
//  4. лимит скачиваний: DownloadLimitReached
//
// Пароль проверяется строго до лимита: состояние счётчика не
// раскрывается неаутентифицированному вызову.
func (s *RelayService) Resolve(ctx context.Context, accessCode, pass string) (*Metadata, *Error) {
	res, svcErr := s.lookup(ctx, accessCode)
	if svcErr != nil {
		return nil, svcErr
	}

	if res.PasswordProtected() {
		if pass == "" {
			// Только факт защиты паролем, без имени/размера/типа
			return nil, svcError(http.StatusUnauthorized, apierrors.CodePasswordRequired,
				"ресурс защищён паролем")
		}
		if !password.Compare(pass, res.PasswordHash) {
			return nil, svcError(http.StatusUnauthorized, apierrors.CodeInvalidCredential,
				"неверный пароль")
		}
	}

	if res.LimitReached() {
		return nil, svcError(http.StatusForbidden, apierrors.CodeDownloadLimitReached,
			"лимит скачиваний исчерпан")
	}

	return s.metadata(res), nil
}

// Retrieve выдаёт полезную нагрузку. Повторяет все проверки Resolve,
// затем атомарно увеличивает счётчик с потолком на уровне хранилища
// (свежая проверка лимита непосредственно перед инкрементом).
//
// Политика подсчёта: инкремент до начала выдачи — начатая передача
// расходует единицу лимита, даже если клиент оборвал соединение.
func (s *RelayService) Retrieve(ctx context.Context, accessCode, pass string) (*RetrieveResult, *Error) {
	res, svcErr := s.lookup(ctx, accessCode)
	if svcErr != nil {
		downloadsTotal.WithLabelValues("relay", "denied").Inc()
		return nil, svcErr
	}

	if res.PasswordProtected() {
		if pass == "" {
			downloadsTotal.WithLabelValues("relay", "denied").Inc()
			return nil, svcError(http.StatusUnauthorized, apierrors.CodePasswordRequired,
				"ресурс защищён паролем")
		}
		if !password.Compare(pass, res.PasswordHash) {
			downloadsTotal.WithLabelValues("relay", "denied").Inc()
			return nil, svcError(http.StatusUnauthorized, apierrors.CodeInvalidCredential,
				"неверный пароль")
		}
	}

	// Свежая проверка лимита и инкремент — одна атомарная операция хранилища
	count, err := s.resources.IncrementDownloadCount(ctx, res.ID)
	if err != nil {
		downloadsTotal.WithLabelValues("relay", "denied").Inc()
		switch {
		case errors.Is(err, resourcestore.ErrLimitReached):
			return nil, svcError(http.StatusForbidden, apierrors.CodeDownloadLimitReached,
				"лимит скачиваний исчерпан")
		case errors.Is(err, resourcestore.ErrNotFound):
			return nil, svcError(http.StatusNotFound, apierrors.CodeNotFound, "сессия не найдена")
		case errors.Is(err, resourcestore.ErrExpired):
			return nil, svcError(http.StatusGone, apierrors.CodeExpired, "срок жизни сессии истёк")
		default:
			return nil, s.storeError(err, "инкремента счётчика")
		}
	}
	res.DownloadCount = count

	if res.IsText {
		downloadsTotal.WithLabelValues("relay", "success").Inc()
		s.logger.Debug("Текст выдан",
			slog.String("resource_id", res.ID),
			slog.Int("download_count", count),
		)
		return &RetrieveResult{Resource: res}, nil
	}

	f, err := s.payloads.Open(res.StorageLocator)
	if err != nil {
		downloadsTotal.WithLabelValues("relay", "error").Inc()
		s.logger.Error("Файл полезной нагрузки не найден на диске",
			slog.String("resource_id", res.ID),
			slog.String("locator", res.StorageLocator),
			slog.String("error", err.Error()),
		)
		return nil, svcError(http.StatusNotFound, apierrors.CodeNotFound,
			"файл не найден на сервере")
	}

	downloadsTotal.WithLabelValues("relay", "success").Inc()
	s.logger.Debug("Файл выдан",
		slog.String("resource_id", res.ID),
		slog.Int("download_count", count),
	)
	return &RetrieveResult{Resource: res, File: f}, nil
}

// Status возвращает лёгкий статус сессии для поллинга.
// Без побочных эффектов.
func (s *RelayService) Status(ctx context.Context, accessCode string) (*SessionStatus, *Error) {
	res, svcErr := s.lookup(ctx, accessCode)
	if svcErr != nil {
		return nil, svcErr
	}
	return &SessionStatus{
		Valid:     true,
		ExpireAt:  res.ExpireAt,
		Downloads: res.DownloadCount,
	}, nil
}

// OwnerStatus возвращает сводку сессии по токену владельца плюс
// живой счётчик скачиваний из хранилища ресурсов.
func (s *RelayService) OwnerStatus(ctx context.Context, ownerToken string) (*OwnerStatusResult, *Error) {
	raw, err := s.tokens.Get(ctx, tokenstore.MetadataKey(ownerToken))
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, svcError(http.StatusNotFound, apierrors.CodeNotFound,
				"сессия не найдена или истекла")
		}
		return nil, s.storeError(err, "чтения сводки сессии")
	}

	var summary model.SessionSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return nil, svcError(http.StatusInternalServerError, apierrors.CodeInternalError,
			"повреждённая сводка сессии")
	}

	result := &OwnerStatusResult{SessionSummary: summary}

	// Живой счётчик: сбой чтения не фатален, сводка полезна и без него
	if res, err := s.resources.Get(ctx, summary.ResourceID); err == nil {
		result.DownloadCount = res.DownloadCount
	}

	return result, nil
}

// Cancel завершает сессию по токену владельца: удаляет файл полезной
// нагрузки, запись ресурса и все четыре токен-ключа. Ключ access:<code>
// находится обратным сканом по пространству access:* — осознанный
// размен простоты на O(N) при отмене.
func (s *RelayService) Cancel(ctx context.Context, ownerToken string) *Error {
	sessionID, err := s.tokens.Get(ctx, tokenstore.OwnerKey(ownerToken))
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return svcError(http.StatusNotFound, apierrors.CodeNotFound,
				"сессия не найдена или истекла")
		}
		return s.storeError(err, "чтения токена владельца")
	}

	resourceID, err := s.tokens.Get(ctx, tokenstore.SessionKey(sessionID))
	if err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
		return s.storeError(err, "чтения сессии")
	}

	// Полезная нагрузка и запись ресурса
	if resourceID != "" {
		if res, getErr := s.resources.Get(ctx, resourceID); getErr == nil && res.StorageLocator != "" {
			if delErr := s.payloads.Delete(res.StorageLocator); delErr != nil {
				s.logger.Warn("Не удалось удалить файл полезной нагрузки",
					slog.String("locator", res.StorageLocator),
					slog.String("error", delErr.Error()),
				)
			}
		}
		if delErr := s.resources.Delete(ctx, resourceID); delErr != nil {
			return s.storeError(delErr, "удаления записи ресурса")
		}
	}

	// Обратный поиск access-ключа по sessionId
	keys := []string{
		tokenstore.OwnerKey(ownerToken),
		tokenstore.MetadataKey(ownerToken),
		tokenstore.SessionKey(sessionID),
	}
	accessKeys, err := s.tokens.Keys(ctx, tokenstore.AccessPattern)
	if err != nil {
		s.logger.Warn("Обратный поиск access-ключа не удался",
			slog.String("error", err.Error()),
		)
	} else {
		for _, key := range accessKeys {
			val, getErr := s.tokens.Get(ctx, key)
			if getErr == nil && val == sessionID {
				keys = append(keys, key)
				break
			}
		}
	}

	if err := s.tokens.Del(ctx, keys...); err != nil {
		return s.storeError(err, "удаления токенов сессии")
	}

	sessionsCancelledTotal.Inc()
	s.logger.Info("Сессия отменена владельцем",
		slog.String("session_id", sessionID),
		slog.String("resource_id", resourceID),
	)
	return nil
}

// lookup разрешает accessCode → sessionId → resourceId → запись ресурса.
func (s *RelayService) lookup(ctx context.Context, accessCode string) (*model.Resource, *Error) {
	sessionID, err := s.tokens.Get(ctx, tokenstore.AccessKey(accessCode))
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, svcError(http.StatusNotFound, apierrors.CodeNotFound,
				"сессия не найдена или истекла")
		}
		return nil, s.storeError(err, "чтения кода доступа")
	}

	resourceID, err := s.tokens.Get(ctx, tokenstore.SessionKey(sessionID))
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, svcError(http.StatusNotFound, apierrors.CodeNotFound,
				"сессия не найдена или истекла")
		}
		return nil, s.storeError(err, "чтения сессии")
	}

	res, err := s.resources.Get(ctx, resourceID)
	if err != nil {
		switch {
		case errors.Is(err, resourcestore.ErrNotFound):
			return nil, svcError(http.StatusNotFound, apierrors.CodeNotFound,
				"метаданные ресурса не найдены")
		case errors.Is(err, resourcestore.ErrExpired):
			return nil, svcError(http.StatusGone, apierrors.CodeExpired,
				"срок жизни сессии истёк")
		default:
			return nil, s.storeError(err, "чтения записи ресурса")
		}
	}

	return res, nil
}

// metadata собирает Metadata из записи ресурса.
func (s *RelayService) metadata(res *model.Resource) *Metadata {
	return &Metadata{
		Name:              res.OriginalName,
		SizeBytes:         res.SizeBytes,
		ContentType:       res.ContentType,
		IsText:            res.IsText,
		PasswordProtected: res.PasswordProtected(),
		DownloadCount:     res.DownloadCount,
		MaxDownloads:      res.MaxDownloads,
		ExpireAt:          res.ExpireAt,
	}
}

// rollbackPayload удаляет файл полезной нагрузки при откате.
func (s *RelayService) rollbackPayload(res *model.Resource) {
	if res.StorageLocator == "" {
		return
	}
	if err := s.payloads.Delete(res.StorageLocator); err != nil {
		s.logger.Warn("Откат: не удалось удалить полезную нагрузку",
			slog.String("locator", res.StorageLocator),
			slog.String("error", err.Error()),
		)
	}
}

// rollback откатывает частично созданную сессию: полезная нагрузка,
// запись ресурса, уже записанные токен-ключи. Best-effort: остатки
// доберёт TTL и sweeper.
func (s *RelayService) rollback(ctx context.Context, res *model.Resource, writtenKeys []string) {
	if len(writtenKeys) > 0 {
		if err := s.tokens.Del(ctx, writtenKeys...); err != nil {
			s.logger.Warn("Откат: не удалось удалить токены",
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.resources.Delete(ctx, res.ID); err != nil {
		s.logger.Warn("Откат: не удалось удалить запись ресурса",
			slog.String("resource_id", res.ID),
			slog.String("error", err.Error()),
		)
	}
	s.rollbackPayload(res)
}

// storeError переводит инфраструктурную ошибку хранилищ в Error.
// Транзиентные сбои — STORE_UNAVAILABLE (клиент может повторить).
func (s *RelayService) storeError(err error, action string) *Error {
	if errors.Is(err, tokenstore.ErrUnavailable) || errors.Is(err, resourcestore.ErrUnavailable) {
		return svcError(http.StatusServiceUnavailable, apierrors.CodeStoreUnavailable,
			"хранилище временно недоступно, повторите запрос")
	}
	s.logger.Error("Неожиданная ошибка хранилища",
		slog.String("action", action),
		slog.String("error", err.Error()),
	)
	return svcError(http.StatusInternalServerError, apierrors.CodeInternalError,
		fmt.Sprintf("ошибка %s", action))
}
