// instance.go — один локальный сервер раздачи: собственный chi-роутер
// поверх http.Server, фильтр происхождения по адресу клиента,
// счётчик скачиваний под мьютексом.
package localsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/arturkryukov/anonshare/internal/api/errors"
	"github.com/arturkryukov/anonshare/internal/netaddr"
	"github.com/arturkryukov/anonshare/internal/password"
)

// Share — полезная нагрузка локальной раздачи.
// Ровно одно из двух: FilePath (файл на диске) или Text.
type Share struct {
	// FileName — отображаемое имя
	FileName string
	// ContentType — MIME-тип
	ContentType string
	// FilePath — полный путь к файлу на диске (пусто для текста)
	FilePath string
	// SizeBytes — размер полезной нагрузки
	SizeBytes int64
	// Text — текстовая полезная нагрузка
	Text string
	// IsText — true для текстового режима
	IsText bool
	// PasswordHash — bcrypt-хэш пароля (пусто = без пароля)
	PasswordHash string
	// MaxDownloads — лимит скачиваний (nil = без лимита)
	MaxDownloads *int
	// Cleanup вызывается после остановки раздачи (удаление файла)
	Cleanup func()
}

// Stats — статистика активной раздачи.
type Stats struct {
	Port         int       `json:"port"`
	FileName     string    `json:"fileName"`
	IsText       bool      `json:"isText"`
	Downloads    int       `json:"downloads"`
	MaxDownloads *int      `json:"maxDownloads,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
}

// Instance — один локальный сервер раздачи.
type Instance struct {
	port      int
	share     Share
	registry  *Registry
	srv       *http.Server
	logger    *slog.Logger
	startedAt time.Time

	mu        sync.Mutex // защищает downloads и stopped
	downloads int
	stopped   bool
}

// newInstance собирает инстанс с роутером, но не слушает порт.
func newInstance(port int, share Share, registry *Registry) *Instance {
	inst := &Instance{
		port:      port,
		share:     share,
		registry:  registry,
		logger:    registry.logger.With(slog.Int("port", port)),
		startedAt: time.Now().UTC(),
	}

	router := chi.NewRouter()
	// Паника в обработчике не должна уронить весь процесс
	router.Use(chimiddleware.Recoverer)
	router.Use(inst.privateOriginOnly)
	router.Get("/info", inst.handleInfo)
	router.Get("/download", inst.handleDownload)
	router.Get("/ping", inst.handlePing)

	inst.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // раздача большого файла по LAN
	}
	return inst
}

// serve запускает обслуживание на готовом listener-е.
func (inst *Instance) serve(ln net.Listener) {
	go func() {
		if err := inst.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			inst.logger.Error("Локальный сервер завершился с ошибкой",
				slog.String("error", err.Error()),
			)
		}
	}()
}

// shutdown гасит сервер и выполняет cleanup. Идемпотентен.
func (inst *Instance) shutdown() {
	inst.mu.Lock()
	if inst.stopped {
		inst.mu.Unlock()
		return
	}
	inst.stopped = true
	inst.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := inst.srv.Shutdown(ctx); err != nil {
		inst.logger.Warn("Ошибка остановки локального сервера",
			slog.String("error", err.Error()),
		)
	}

	if inst.share.Cleanup != nil {
		inst.share.Cleanup()
	}
}

// Stats возвращает статистику раздачи.
func (inst *Instance) Stats() *Stats {
	inst.mu.Lock()
	downloads := inst.downloads
	inst.mu.Unlock()

	return &Stats{
		Port:         inst.port,
		FileName:     inst.share.FileName,
		IsText:       inst.share.IsText,
		Downloads:    downloads,
		MaxDownloads: inst.share.MaxDownloads,
		StartedAt:    inst.startedAt,
	}
}

// privateOriginOnly отклоняет запросы не из локальной сети:
// разрешены только loopback и RFC1918-адреса клиента.
func (inst *Instance) privateOriginOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := netaddr.RemoteHost(r.RemoteAddr)
		if !netaddr.IsPrivate(host) {
			inst.logger.Warn("Запрос отклонён: адрес вне локальной сети",
				slog.String("remote", host),
			)
			apierrors.NetworkOriginRejected(w, "доступ только из локальной сети")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleInfo — метаданные раздачи. Пароль не требуется: получатель
// видит имя и размер до ввода пароля.
func (inst *Instance) handleInfo(w http.ResponseWriter, r *http.Request) {
	inst.mu.Lock()
	downloads := inst.downloads
	inst.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"fileName":          inst.share.FileName,
		"size":              inst.share.SizeBytes,
		"mimeType":          inst.share.ContentType,
		"isText":            inst.share.IsText,
		"passwordProtected": inst.share.PasswordHash != "",
		"downloads":         downloads,
		"maxDownloads":      inst.share.MaxDownloads,
	})
}

// handlePing — живость раздачи для поллинга отправителем.
func (inst *Instance) handlePing(w http.ResponseWriter, r *http.Request) {
	inst.mu.Lock()
	downloads := inst.downloads
	inst.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "active",
		"downloads":    downloads,
		"maxDownloads": inst.share.MaxDownloads,
	})
}

// handleDownload — выдача полезной нагрузки.
//
// Проверка пароля, затем проверка лимита и инкремент под одним
// мьютексом: при одном оставшемся скачивании два конкурентных запроса
// дают ровно один успех. Инкремент до начала передачи: оборванная
// передача расходует единицу лимита.
func (inst *Instance) handleDownload(w http.ResponseWriter, r *http.Request) {
	if inst.share.PasswordHash != "" {
		pass := r.URL.Query().Get("password")
		if pass == "" {
			apierrors.PasswordRequired(w, "раздача защищена паролем")
			return
		}
		if !password.Compare(pass, inst.share.PasswordHash) {
			apierrors.InvalidCredential(w, "неверный пароль")
			return
		}
	}

	// Проверка лимита и инкремент — атомарно
	inst.mu.Lock()
	if inst.stopped {
		inst.mu.Unlock()
		apierrors.NotFound(w, "раздача остановлена")
		return
	}
	if inst.share.MaxDownloads != nil && inst.downloads >= *inst.share.MaxDownloads {
		inst.mu.Unlock()
		apierrors.DownloadLimitReached(w, "лимит скачиваний исчерпан")
		return
	}
	inst.downloads++
	reached := inst.share.MaxDownloads != nil && inst.downloads >= *inst.share.MaxDownloads
	downloads := inst.downloads
	inst.mu.Unlock()

	if reached {
		// Лимит исчерпан этим скачиванием: авто-остановка после паузы
		inst.registry.scheduleStop(inst.port)
	}

	localDownloadsTotal.Inc()
	inst.logger.Info("Выдача полезной нагрузки",
		slog.Int("download_count", downloads),
		slog.Bool("limit_reached", reached),
	)

	if inst.share.IsText {
		writeJSON(w, http.StatusOK, map[string]any{
			"isText": true,
			"text":   inst.share.Text,
		})
		return
	}

	f, err := os.Open(inst.share.FilePath)
	if err != nil {
		inst.logger.Error("Файл раздачи не найден на диске",
			slog.String("path", inst.share.FilePath),
			slog.String("error", err.Error()),
		)
		apierrors.NotFound(w, "файл не найден на сервере")
		return
	}
	defer f.Close()

	contentType := inst.share.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(inst.share.FileName))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", inst.share.FileName))

	http.ServeContent(w, r, inst.share.FileName, inst.startedAt, f)
}

// writeJSON сериализует ответ в JSON.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
