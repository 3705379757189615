// sweeper.go — сервис фоновой уборки осиротевших данных.
//
// Sweeper выполняет две задачи:
//  1. Удаляет истёкшие записи ресурсов из хранилища (TTL прошёл)
//  2. Удаляет с диска файлы, на которые не ссылается ни одна живая запись
//
// Запускается как горутина с периодическим тикером (ANSH_SWEEP_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/anonshare/internal/storage/payload"
	"github.com/arturkryukov/anonshare/internal/storage/resourcestore"
)

// Prometheus метрики sweeper
var (
	// sweepRunsTotal — количество запусков уборки.
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ansh_sweep_runs_total",
		Help: "Общее количество запусков уборки",
	})

	// sweepRecordsDeletedTotal — количество удалённых истёкших записей.
	sweepRecordsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ansh_sweep_records_deleted_total",
		Help: "Общее количество истёкших записей, удалённых уборкой",
	})

	// sweepFilesDeletedTotal — количество удалённых осиротевших файлов.
	sweepFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ansh_sweep_files_deleted_total",
		Help: "Общее количество осиротевших файлов, удалённых уборкой",
	})

	// sweepDurationSeconds — длительность выполнения уборки.
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ansh_sweep_duration_seconds",
		Help:    "Длительность выполнения уборки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepResult — результат одного запуска уборки.
type SweepResult struct {
	// ExpiredRecords — количество удалённых истёкших записей
	ExpiredRecords int
	// OrphanedFiles — количество удалённых осиротевших файлов
	OrphanedFiles int
	// Errors — количество ошибок при обработке
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// Sweeper — сервис фоновой уборки.
type Sweeper struct {
	resources resourcestore.Store
	payloads  *payload.Store
	interval  time.Duration
	minAge    time.Duration // файлы моложе minAge не трогаем: загрузка могла ещё не завершиться
	logger    *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewSweeper создаёт сервис уборки.
func NewSweeper(
	resources resourcestore.Store,
	payloads *payload.Store,
	interval time.Duration,
	minAge time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		resources: resources,
		payloads:  payloads,
		interval:  interval,
		minAge:    minAge,
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновую горутину уборки с периодическим тикером.
// Вызывается один раз при старте приложения.
func (sw *Sweeper) Start(ctx context.Context) {
	swCtx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel

	go sw.run(swCtx)

	sw.logger.Info("Sweeper запущен",
		slog.String("interval", sw.interval.String()),
		slog.String("min_age", sw.minAge.String()),
	)
}

// Stop останавливает фоновый процесс уборки.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.logger.Info("Sweeper остановлен")
}

// run — основной цикл фоновой горутины.
func (sw *Sweeper) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	sw.RunOnce(ctx)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл уборки.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
//
// Порядок обработки:
//  1. Удаление истёкших записей из хранилища ресурсов
//  2. Удаление файлов без живой записи (только старше minAge)
func (sw *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	sw.logger.Debug("Запуск уборки начат")

	// Фаза 1: истёкшие записи
	deleted, err := sw.resources.DeleteExpired(ctx)
	if err != nil {
		sw.logger.Error("Ошибка удаления истёкших записей",
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
	result.ExpiredRecords = deleted

	// Фаза 2: осиротевшие файлы
	orphaned, errCount := sw.deleteOrphans(ctx)
	result.OrphanedFiles = orphaned
	result.Errors += errCount

	result.Duration = time.Since(start)

	// Обновляем Prometheus метрики
	sweepRunsTotal.Inc()
	sweepRecordsDeletedTotal.Add(float64(result.ExpiredRecords))
	sweepFilesDeletedTotal.Add(float64(result.OrphanedFiles))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	sw.logger.Info("Уборка завершена",
		slog.Int("expired_records", result.ExpiredRecords),
		slog.Int("orphaned_files", result.OrphanedFiles),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// deleteOrphans удаляет файлы, на которые не ссылается ни одна живая
// запись ресурса. Кандидаты — только файлы старше minAge, чтобы не
// снести файл, запись о котором ещё не успела появиться.
//
// Файл удаляется только при положительном ответе хранилища «записи
// нет»; при недоступности хранилища файл остаётся до следующего цикла.
func (sw *Sweeper) deleteOrphans(ctx context.Context) (deleted, errCount int) {
	cutoff := time.Now().UTC().Add(-sw.minAge)

	locators, err := sw.payloads.ListOlderThan(cutoff)
	if err != nil {
		sw.logger.Error("Ошибка сканирования каталога данных",
			slog.String("error", err.Error()),
		)
		return 0, 1
	}

	for _, locator := range locators {
		exists, err := sw.resources.ExistsByLocator(ctx, locator)
		if err != nil {
			if !errors.Is(err, resourcestore.ErrUnavailable) {
				sw.logger.Error("Ошибка проверки записи по локатору",
					slog.String("locator", locator),
					slog.String("error", err.Error()),
				)
			}
			errCount++
			continue
		}
		if exists {
			continue
		}

		if err := sw.payloads.Delete(locator); err != nil {
			sw.logger.Error("Ошибка удаления осиротевшего файла",
				slog.String("locator", locator),
				slog.String("error", err.Error()),
			)
			errCount++
			continue
		}

		sw.logger.Debug("Осиротевший файл удалён",
			slog.String("locator", locator),
		)
		deleted++
	}

	return deleted, errCount
}
