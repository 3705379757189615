// Пакет localsrv — менеджер временных HTTP-серверов локального (LAN)
// режима раздачи. Каждая раздача — отдельный http.Server на своём
// порту, живущий до остановки владельцем или исчерпания лимита.
package localsrv

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики локального режима
var (
	// localServersActive — количество активных локальных серверов.
	localServersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ansh_local_servers_active",
		Help: "Количество активных локальных серверов раздачи",
	})

	// localSharesStartedTotal — количество запущенных раздач.
	localSharesStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ansh_local_shares_started_total",
		Help: "Общее количество запущенных локальных раздач",
	})

	// localDownloadsTotal — количество выдач в локальном режиме.
	localDownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ansh_local_downloads_total",
		Help: "Общее количество выдач полезной нагрузки в локальном режиме",
	})
)

// ErrPortInUse — порт уже занят: нашей же раздачей или чужим процессом.
var ErrPortInUse = errors.New("порт уже занят")

// Registry — реестр активных локальных серверов, один сервер на порт.
type Registry struct {
	mu        sync.Mutex
	instances map[int]*Instance

	stopGrace time.Duration
	logger    *slog.Logger
}

// NewRegistry создаёт пустой реестр.
// stopGrace — пауза перед авто-остановкой после исчерпания лимита,
// даёт последнему ответу дойти до клиента.
func NewRegistry(stopGrace time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		instances: make(map[int]*Instance),
		stopGrace: stopGrace,
		logger:    logger.With(slog.String("component", "localsrv")),
	}
}

// Start запускает локальный сервер раздачи на порту.
//
// Порт резервируется в реестре до привязки сокета: два конкурентных
// Start на один порт дают ровно один успех и один ErrPortInUse.
// Занятость порта чужим процессом (EADDRINUSE) — тоже ErrPortInUse.
// При любом сбое резервация снимается.
func (r *Registry) Start(port int, share Share) (*Instance, error) {
	inst := newInstance(port, share, r)

	// Атомарная резервация порта в реестре
	r.mu.Lock()
	if _, busy := r.instances[port]; busy {
		r.mu.Unlock()
		return nil, ErrPortInUse
	}
	r.instances[port] = inst
	r.mu.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		r.remove(port)
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, ErrPortInUse
		}
		return nil, fmt.Errorf("привязка порта %d: %w", port, err)
	}

	inst.serve(ln)

	localServersActive.Inc()
	localSharesStartedTotal.Inc()
	r.logger.Info("Локальная раздача запущена",
		slog.Int("port", port),
		slog.String("file_name", share.FileName),
		slog.Bool("is_text", share.IsText),
	)
	return inst, nil
}

// Stop останавливает сервер на порту и снимает его с учёта.
// Возвращает false, если на порту нет активной раздачи. Идемпотентен.
func (r *Registry) Stop(port int) bool {
	r.mu.Lock()
	inst, ok := r.instances[port]
	if ok {
		delete(r.instances, port)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	inst.shutdown()
	localServersActive.Dec()
	r.logger.Info("Локальная раздача остановлена", slog.Int("port", port))
	return true
}

// StopAll останавливает все активные раздачи. Вызывается при
// завершении процесса.
func (r *Registry) StopAll() {
	for _, port := range r.Active() {
		r.Stop(port)
	}
}

// Stats возвращает статистику раздачи на порту.
func (r *Registry) Stats(port int) (*Stats, bool) {
	r.mu.Lock()
	inst, ok := r.instances[port]
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	return inst.Stats(), true
}

// Active возвращает отсортированный список портов с активными раздачами.
func (r *Registry) Active() []int {
	r.mu.Lock()
	ports := make([]int, 0, len(r.instances))
	for port := range r.instances {
		ports = append(ports, port)
	}
	r.mu.Unlock()

	sort.Ints(ports)
	return ports
}

// PortAvailable проверяет доступность порта: сначала реестр, затем
// пробная привязка сокета — ловит занятость порта чужим процессом.
func (r *Registry) PortAvailable(port int) (bool, string) {
	r.mu.Lock()
	_, busy := r.instances[port]
	r.mu.Unlock()
	if busy {
		return false, "порт занят активной раздачей"
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false, "порт занят другим процессом"
	}
	ln.Close()
	return true, ""
}

// remove снимает резервацию без остановки (сбой до запуска сервера).
func (r *Registry) remove(port int) {
	r.mu.Lock()
	delete(r.instances, port)
	r.mu.Unlock()
}

// scheduleStop планирует авто-остановку раздачи после исчерпания
// лимита. Пауза stopGrace даёт текущему ответу завершиться.
func (r *Registry) scheduleStop(port int) {
	time.AfterFunc(r.stopGrace, func() {
		if r.Stop(port) {
			r.logger.Info("Раздача остановлена по исчерпанию лимита",
				slog.Int("port", port),
			)
		}
	})
}
