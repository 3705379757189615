// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/arturkryukov/anonshare/internal/config"
	"github.com/arturkryukov/anonshare/internal/storage/resourcestore"
	"github.com/arturkryukov/anonshare/internal/storage/tokenstore"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к директории данных (для проверки FS)
	dataDir string
	// resources и tokens — хранилища, опрашиваемые readiness probe
	resources resourcestore.Store
	tokens    tokenstore.Store
	// timeout — потолок на один ping
	timeout time.Duration
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(
	dataDir string,
	resources resourcestore.Store,
	tokens tokenstore.Store,
	timeout time.Duration,
) *HealthHandler {
	return &HealthHandler{
		version:   config.Version,
		dataDir:   dataDir,
		resources: resources,
		tokens:    tokens,
		timeout:   timeout,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "anonshare",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директорию данных, хранилище ресурсов, хранилище токенов.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	checks := map[string]any{
		"filesystem":     h.checkFilesystem(),
		"resource_store": h.checkPing(r.Context(), h.resources.Ping),
		"token_store":    h.checkPing(r.Context(), h.tokens.Ping),
	}
	for _, check := range checks {
		if m, ok := check.(map[string]any); ok && m["status"] != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"checks":    checks,
	})
}

// checkFilesystem проверяет доступность директории данных на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	info, err := os.Stat(h.dataDir)
	if err != nil || !info.IsDir() {
		return map[string]any{"status": statusFail, "error": "директория данных недоступна"}
	}

	probe, err := os.CreateTemp(h.dataDir, ".health-*")
	if err != nil {
		return map[string]any{"status": statusFail, "error": "директория данных не доступна на запись"}
	}
	probe.Close()
	os.Remove(probe.Name())

	return map[string]any{"status": "ok"}
}

// checkPing опрашивает хранилище с таймаутом.
func (h *HealthHandler) checkPing(ctx context.Context, ping func(context.Context) error) map[string]any {
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := ping(pingCtx); err != nil {
		return map[string]any{"status": statusFail, "error": err.Error()}
	}
	return map[string]any{"status": "ok"}
}
