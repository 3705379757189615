// relay.go — HTTP handlers relay-режима: загрузка, метаданные,
// скачивание, статус сессии, кабинет владельца, отмена.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/anonshare/internal/api/errors"
	"github.com/arturkryukov/anonshare/internal/config"
	"github.com/arturkryukov/anonshare/internal/service"
)

// RelayHandler — обработчик relay endpoints.
type RelayHandler struct {
	svc *service.RelayService
	cfg *config.Config
}

// NewRelayHandler создаёт обработчик relay endpoints.
func NewRelayHandler(svc *service.RelayService, cfg *config.Config) *RelayHandler {
	return &RelayHandler{svc: svc, cfg: cfg}
}

// Upload обрабатывает POST /upload.
// Multipart form: file или text (ровно одно), expireSeconds (опционально),
// password (опционально), maxDownloads (опционально).
func (h *RelayHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Жёсткий потолок на размер тела запроса
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+(1<<20))

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB buffer
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w,
				fmt.Sprintf("Файл превышает максимальный размер %d байт", h.cfg.MaxFileSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	params := service.CreateParams{
		Password: r.FormValue("password"),
	}

	// TTL: expireSeconds в секундах, потолок MaxTTL
	params.TTL = h.cfg.DefaultTTL
	if raw := r.FormValue("expireSeconds"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			apierrors.ValidationError(w, "expireSeconds: ожидается положительное целое число")
			return
		}
		params.TTL = time.Duration(seconds) * time.Second
	}
	if params.TTL > h.cfg.MaxTTL {
		params.TTL = h.cfg.MaxTTL
	}

	// Лимит скачиваний
	if raw := r.FormValue("maxDownloads"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			apierrors.ValidationError(w, "maxDownloads: ожидается положительное целое число")
			return
		}
		params.MaxDownloads = &limit
	}

	// Полезная нагрузка: файл или текст
	text := r.FormValue("text")
	file, header, fileErr := r.FormFile("file")
	switch {
	case fileErr == nil && text != "":
		file.Close()
		apierrors.ValidationError(w, "Передайте либо 'file', либо 'text', но не оба")
		return
	case fileErr == nil:
		defer file.Close()
		if header.Size > h.cfg.MaxFileSize {
			apierrors.FileTooLarge(w,
				fmt.Sprintf("Файл превышает максимальный размер %d байт", h.cfg.MaxFileSize))
			return
		}
		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		params.Reader = file
		params.OriginalName = header.Filename
		params.ContentType = contentType
	case text != "":
		params.IsText = true
		params.Text = text
		params.OriginalName = "text"
		params.ContentType = "text/plain; charset=utf-8"
	default:
		apierrors.ValidationError(w, "Требуется поле 'file' или 'text'")
		return
	}

	result, svcErr := h.svc.CreateSession(r.Context(), params)
	if svcErr != nil {
		apierrors.WriteError(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}

	resp := map[string]any{
		"accessCode": result.AccessCode,
		"ownerToken": result.OwnerToken,
		"expiresAt":  result.ExpireAt,
	}
	if h.cfg.PublicURL != "" {
		resp["downloadUrl"] = fmt.Sprintf("%s/download/%s", h.cfg.PublicURL, result.AccessCode)
	}

	writeJSON(w, http.StatusCreated, resp)
}

// SessionInfo обрабатывает GET /session-info/{accessCode}.
// Возвращает метаданные без изменения счётчиков.
func (h *RelayHandler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	accessCode := chi.URLParam(r, "accessCode")
	pass := r.URL.Query().Get("password")

	meta, svcErr := h.svc.Resolve(r.Context(), accessCode, pass)
	if svcErr != nil {
		apierrors.WriteError(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

// Download обрабатывает GET /download/{accessCode}.
// Файл отдаётся attachment-потоком, текст — JSON-объектом.
func (h *RelayHandler) Download(w http.ResponseWriter, r *http.Request) {
	accessCode := chi.URLParam(r, "accessCode")
	pass := r.URL.Query().Get("password")

	result, svcErr := h.svc.Retrieve(r.Context(), accessCode, pass)
	if svcErr != nil {
		apierrors.WriteError(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}

	if result.Resource.IsText {
		writeJSON(w, http.StatusOK, map[string]any{
			"isText": true,
			"text":   result.Resource.InlineText,
		})
		return
	}

	defer result.File.Close()

	w.Header().Set("Content-Type", result.Resource.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", result.Resource.OriginalName))
	w.Header().Set("Content-Length", strconv.FormatInt(result.Resource.SizeBytes, 10))

	// Обрыв передачи клиентом не откатывает счётчик
	_, _ = io.Copy(w, result.File)
}

// CheckSession обрабатывает GET /check-session/{accessCode}.
// Лёгкий поллинг: несуществующая или истёкшая сессия — valid=false, не ошибка.
func (h *RelayHandler) CheckSession(w http.ResponseWriter, r *http.Request) {
	accessCode := chi.URLParam(r, "accessCode")

	status, svcErr := h.svc.Status(r.Context(), accessCode)
	if svcErr != nil {
		if svcErr.Code == apierrors.CodeNotFound || svcErr.Code == apierrors.CodeExpired {
			writeJSON(w, http.StatusOK, map[string]any{"valid": false})
			return
		}
		apierrors.WriteError(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// SessionData обрабатывает GET /session-data/{ownerToken}.
// Сводка сессии для владельца.
func (h *RelayHandler) SessionData(w http.ResponseWriter, r *http.Request) {
	ownerToken := chi.URLParam(r, "ownerToken")

	result, svcErr := h.svc.OwnerStatus(r.Context(), ownerToken)
	if svcErr != nil {
		apierrors.WriteError(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// EndSession обрабатывает POST /endsession.
// Тело: {"ownerToken": "..."}.
func (h *RelayHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OwnerToken string `json:"ownerToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OwnerToken == "" {
		apierrors.ValidationError(w, "Требуется поле 'ownerToken'")
		return
	}

	if svcErr := h.svc.Cancel(r.Context(), body.OwnerToken); svcErr != nil {
		apierrors.WriteError(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ended": true})
}

// writeJSON сериализует ответ в JSON.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
