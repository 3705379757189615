// local.go — HTTP handlers локального (LAN) режима раздачи:
// запуск и остановка раздач, статистика, проверка порта, определение IP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/anonshare/internal/api/errors"
	"github.com/arturkryukov/anonshare/internal/config"
	"github.com/arturkryukov/anonshare/internal/localsrv"
	"github.com/arturkryukov/anonshare/internal/netaddr"
	"github.com/arturkryukov/anonshare/internal/password"
	"github.com/arturkryukov/anonshare/internal/storage/payload"
	"github.com/arturkryukov/anonshare/internal/token"
)

// LocalHandler — обработчик endpoints локального режима.
type LocalHandler struct {
	registry *localsrv.Registry
	payloads *payload.Store
	cfg      *config.Config
	logger   *slog.Logger
}

// NewLocalHandler создаёт обработчик endpoints локального режима.
// payloads — отдельное хранилище файлов раздач, НЕ relay-хранилище:
// у раздач нет записей метаданных, и попав в область работы sweeper
// их файлы были бы удалены как осиротевшие.
func NewLocalHandler(
	registry *localsrv.Registry,
	payloads *payload.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *LocalHandler {
	return &LocalHandler{
		registry: registry,
		payloads: payloads,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "local_handler")),
	}
}

// Start обрабатывает POST /locshare/start.
// Multipart form: file или text (ровно одно), port (обязательно),
// password и maxDownloads (опционально).
func (h *LocalHandler) Start(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+(1<<20))

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w,
				fmt.Sprintf("Файл превышает максимальный размер %d байт", h.cfg.MaxFileSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	port, err := strconv.Atoi(r.FormValue("port"))
	if err != nil {
		apierrors.ValidationError(w, "port: ожидается целое число")
		return
	}
	if port < h.cfg.LocalPortMin || port > h.cfg.LocalPortMax {
		apierrors.ValidationError(w,
			fmt.Sprintf("port: значение вне диапазона %d-%d", h.cfg.LocalPortMin, h.cfg.LocalPortMax))
		return
	}

	share := localsrv.Share{}

	var maxDownloads *int
	if raw := r.FormValue("maxDownloads"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			apierrors.ValidationError(w, "maxDownloads: ожидается положительное целое число")
			return
		}
		maxDownloads = &limit
	}
	share.MaxDownloads = maxDownloads

	pass := r.FormValue("password")
	if pass != "" {
		hash, err := password.Hash(pass)
		if err != nil {
			apierrors.InternalError(w, "Не удалось обработать пароль")
			return
		}
		share.PasswordHash = hash
	}

	// Полезная нагрузка: файл на диск или inline-текст
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
		saved, err := h.payloads.Save(file, header.Filename)
		if err != nil {
			h.logger.Error("Ошибка сохранения файла раздачи", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Не удалось сохранить файл")
			return
		}
		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		locator := saved.Locator
		share.FileName = header.Filename
		share.ContentType = contentType
		share.FilePath = h.payloads.FullPath(locator)
		share.SizeBytes = saved.Size
		share.Cleanup = func() {
			if err := h.payloads.Delete(locator); err != nil {
				h.logger.Warn("Не удалось удалить файл остановленной раздачи",
					slog.String("locator", locator),
					slog.String("error", err.Error()),
				)
			}
		}
	case text != "":
		share.FileName = "text"
		share.Text = text
		share.IsText = true
		share.SizeBytes = int64(len(text))
	default:
		apierrors.ValidationError(w, "Требуется поле 'file' или 'text'")
		return
	}

	if _, err := h.registry.Start(port, share); err != nil {
		if share.Cleanup != nil {
			share.Cleanup()
		}
		if errors.Is(err, localsrv.ErrPortInUse) {
			apierrors.PortInUse(w, fmt.Sprintf("Порт %d уже занят", port))
			return
		}
		h.logger.Error("Ошибка запуска локальной раздачи",
			slog.Int("port", port),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Не удалось запустить раздачу")
		return
	}

	// Connection token с обнаруженным LAN-адресом
	host := netaddr.LocalIP()
	accessKey, err := token.Encode(token.ConnectionToken{
		Host:     host,
		Port:     port,
		FileName: share.FileName,
		Password: pass,
		IsText:   share.IsText,
	})
	if err != nil {
		h.registry.Stop(port)
		apierrors.InternalError(w, "Не удалось сформировать токен подключения")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"accessKey": accessKey,
		"host":      host,
		"port":      port,
		"fileName":  share.FileName,
		"isText":    share.IsText,
	})
}

// Stop обрабатывает POST /locshare/stop.
// Тело: {"port": N}.
func (h *LocalHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Port int `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Port == 0 {
		apierrors.ValidationError(w, "Требуется поле 'port'")
		return
	}

	if !h.registry.Stop(body.Port) {
		apierrors.NotFound(w, fmt.Sprintf("На порту %d нет активной раздачи", body.Port))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"stopped": true, "port": body.Port})
}

// Stats обрабатывает GET /locshare/stats/{port}.
func (h *LocalHandler) Stats(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		apierrors.ValidationError(w, "port: ожидается целое число")
		return
	}

	stats, ok := h.registry.Stats(port)
	if !ok {
		apierrors.NotFound(w, fmt.Sprintf("На порту %d нет активной раздачи", port))
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// CheckPort обрабатывает GET /locshare/check-port/{port}.
// Проверяет и реестр, и фактическую возможность привязки.
func (h *LocalHandler) CheckPort(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		apierrors.ValidationError(w, "port: ожидается целое число")
		return
	}
	if port < h.cfg.LocalPortMin || port > h.cfg.LocalPortMax {
		writeJSON(w, http.StatusOK, map[string]any{
			"available": false,
			"reason": fmt.Sprintf("порт вне диапазона %d-%d",
				h.cfg.LocalPortMin, h.cfg.LocalPortMax),
		})
		return
	}

	available, reason := h.registry.PortAvailable(port)
	resp := map[string]any{"available": available}
	if reason != "" {
		resp["reason"] = reason
	}
	writeJSON(w, http.StatusOK, resp)
}

// LocalIP обрабатывает GET /locshare/local-ip.
// Возвращает адреса интерфейсов и предпочитаемый LAN-адрес.
func (h *LocalHandler) LocalIP(w http.ResponseWriter, _ *http.Request) {
	addrs, err := netaddr.LocalAddrs()
	if err != nil {
		h.logger.Error("Ошибка перечисления интерфейсов", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось определить локальные адреса")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"preferred":  netaddr.LocalIP(),
		"interfaces": addrs,
	})
}

// Connect обрабатывает GET /locshare/connect/{accessKey}.
// Декодирует connection token в параметры подключения; битый токен
// или токен с публичным адресом — ошибка, не частичная запись.
func (h *LocalHandler) Connect(w http.ResponseWriter, r *http.Request) {
	accessKey := chi.URLParam(r, "accessKey")

	ct, err := token.Decode(accessKey)
	if err != nil {
		if errors.Is(err, token.ErrNonPrivateHost) {
			apierrors.NetworkOriginRejected(w, "Токен указывает на адрес вне локальной сети")
			return
		}
		apierrors.MalformedToken(w, "Некорректный токен подключения")
		return
	}

	writeJSON(w, http.StatusOK, ct)
}
