// processor.go — фоновая обработка файлов.
//
// Воркеры читают задачи из внутренней очереди. Каждая задача
// продублирована записью в outbox: при рестарте незавершённые
// задачи восстанавливаются, периодический re-scan подбирает
// задачи, не попавшие в очередь.
//
// Переходы статусов только вперёд: pending → processing →
// completed | failed. Терминальный статус не перезаписывается.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cloudascent/file-pipeline/internal/config"
	"github.com/cloudascent/file-pipeline/internal/domain/model"
	"github.com/cloudascent/file-pipeline/internal/repository"
	"github.com/cloudascent/file-pipeline/internal/storage/objectstore"
	"github.com/cloudascent/file-pipeline/internal/storage/outbox"
)

// Prometheus-метрики обработки.
var (
	processingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_processing_total",
		Help: "Количество завершённых обработок по результату.",
	}, []string{"result"})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fp_processing_duration_seconds",
		Help:    "Длительность обработки одного файла.",
		Buckets: prometheus.DefBuckets,
	})
	processingQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fp_processing_queue_depth",
		Help: "Текущая глубина очереди обработки.",
	})
)

// Processor — пул воркеров фоновой обработки.
type Processor struct {
	cfg    *config.Config
	repo   repository.FileRepository
	store  *objectstore.Store
	outbox *outbox.Outbox
	cache  *CacheService
	logger *slog.Logger

	queue  chan *outbox.Entry
	stopCh chan struct{}
	wg     sync.WaitGroup

	// analyze подменяется в тестах медленным анализатором
	analyze func(ctx context.Context, fileType model.FileType, fullPath string) (*model.ProcessingResults, error)

	// inFlight защищает от двойной обработки одного файла
	// (планирование при загрузке + периодический re-scan)
	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

// NewProcessor создаёт пул обработки.
func NewProcessor(
	cfg *config.Config,
	repo repository.FileRepository,
	store *objectstore.Store,
	ob *outbox.Outbox,
	cache *CacheService,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		cfg:      cfg,
		repo:     repo,
		store:    store,
		outbox:   ob,
		cache:    cache,
		logger:   logger.With(slog.String("component", "processor")),
		queue:    make(chan *outbox.Entry, 1024),
		stopCh:   make(chan struct{}),
		inFlight: make(map[string]struct{}),
		analyze:  analyzeFile,
	}
}

// Start восстанавливает незавершённые задачи из outbox и запускает
// воркеров. Повторный вызов игнорируется.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	recovered := p.recover()

	for i := 0; i < p.cfg.ProcessWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	// Периодический re-scan outbox подбирает задачи,
	// не попавшие в очередь (переполнение, гонки при останове)
	p.wg.Add(1)
	go p.rescanLoop()

	p.logger.Info("Обработка запущена",
		slog.Int("workers", p.cfg.ProcessWorkers),
		slog.Int("recovered", recovered),
	)
}

// Stop останавливает воркеров и дожидается завершения текущих задач.
func (p *Processor) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("Обработка остановлена")
}

// Schedule ставит задачу в очередь обработки.
// Не блокирует: при переполненной очереди задача остаётся
// только в outbox и будет подобрана re-scan'ом.
func (p *Processor) Schedule(entry *outbox.Entry) {
	select {
	case p.queue <- entry:
		processingQueueDepth.Set(float64(len(p.queue)))
	default:
		p.logger.Warn("Очередь обработки переполнена, задача отложена",
			slog.String("file_id", entry.FileID),
		)
	}
}

// recover читает незавершённые задачи из outbox и ставит их в очередь.
func (p *Processor) recover() int {
	pending, err := p.outbox.RecoverPending()
	if err != nil {
		p.logger.Error("Ошибка восстановления outbox", slog.String("error", err.Error()))
		return 0
	}
	for _, entry := range pending {
		p.Schedule(entry)
	}
	return len(pending)
}

func (p *Processor) rescanLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.recover()
		}
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case entry := <-p.queue:
			processingQueueDepth.Set(float64(len(p.queue)))
			p.process(entry)
		}
	}
}

// process выполняет одну задачу обработки.
func (p *Processor) process(entry *outbox.Entry) {
	// Защита от параллельной обработки одного файла
	p.mu.Lock()
	if _, busy := p.inFlight[entry.FileID]; busy {
		p.mu.Unlock()
		return
	}
	p.inFlight[entry.FileID] = struct{}{}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.inFlight, entry.FileID)
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProcessTimeout)
	defer cancel()

	logger := p.logger.With(slog.String("file_id", entry.FileID))

	// Состояние записи определяет, что делать с задачей
	record, err := p.repo.GetByID(ctx, entry.FileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Файл удалён до обработки, задача снимается
			p.completeOutbox(entry.FileID, logger)
			return
		}
		logger.Error("Ошибка чтения записи перед обработкой", slog.String("error", err.Error()))
		return
	}
	if record.ProcessingStatus.IsTerminal() {
		// Обработка уже завершена (например, до рестарта)
		p.completeOutbox(entry.FileID, logger)
		return
	}

	if record.ProcessingStatus == model.StatusPending {
		taken, err := p.repo.MarkProcessing(ctx, entry.FileID)
		if err != nil {
			logger.Error("Ошибка перевода в processing", slog.String("error", err.Error()))
			return
		}
		if !taken {
			// Файл перехвачен параллельным переводом
			return
		}
	}
	// Статус processing без terminal: обработка возобновляется
	// (рестарт посреди анализа), охрана SetTerminal исключает гонки

	if err := p.outbox.MarkAttempt(entry.FileID); err != nil {
		logger.Warn("Не удалось отметить попытку в outbox", slog.String("error", err.Error()))
	}

	started := time.Now()
	results, analyzeErr := p.runAnalysis(ctx, model.FileType(entry.FileType), p.store.FullPath(entry.StoragePath))
	processingDuration.Observe(time.Since(started).Seconds())

	status := model.StatusCompleted
	if analyzeErr != nil {
		status = model.StatusFailed
		if results == nil {
			results = &model.ProcessingResults{}
		}
		results.Error = analyzeErr.Error()
		logger.Warn("Анализ завершился ошибкой",
			slog.String("file_type", entry.FileType),
			slog.String("error", analyzeErr.Error()),
		)
	}

	// Терминальная запись: отдельный контекст, таймаут анализа
	// не должен помешать зафиксировать результат
	writeCtx, writeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer writeCancel()

	applied, err := p.repo.SetTerminal(writeCtx, entry.FileID, status, results)
	if err != nil {
		logger.Error("Ошибка записи терминального статуса", slog.String("error", err.Error()))
		return
	}
	if !applied {
		// Запись уже терминальна или удалена: результат отбрасывается
		logger.Debug("Терминальный статус уже зафиксирован")
	}

	p.completeOutbox(entry.FileID, logger)
	p.cache.Delete(entry.FileID)
	processingTotal.WithLabelValues(string(status)).Inc()

	logger.Info("Обработка завершена",
		slog.String("status", string(status)),
		slog.Duration("duration", time.Since(started)),
	)
}

// runAnalysis выполняет анализатор под таймаутом обработки.
// Анализаторы работают с файлом напрямую и не опрашивают контекст,
// поэтому истечение таймаута отслеживается снаружи: результат
// зависшего анализатора отбрасывается, файл получает failed.
func (p *Processor) runAnalysis(ctx context.Context, fileType model.FileType, fullPath string) (*model.ProcessingResults, error) {
	type outcome struct {
		results *model.ProcessingResults
		err     error
	}

	ch := make(chan outcome, 1)
	go func() {
		results, err := p.analyze(ctx, fileType, fullPath)
		ch <- outcome{results: results, err: err}
	}()

	select {
	case out := <-ch:
		return out.results, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("анализ прерван по таймауту %s", p.cfg.ProcessTimeout)
	}
}

func (p *Processor) completeOutbox(fileID string, logger *slog.Logger) {
	if err := p.outbox.Complete(fileID); err != nil {
		logger.Error("Ошибка снятия задачи из outbox", slog.String("error", err.Error()))
	}
}
