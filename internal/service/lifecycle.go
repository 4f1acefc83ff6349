// lifecycle.go — операции жизненного цикла файла: обновление
// метаданных, удаление, скачивание, агрегаты хранилища.
//
// Порядок удаления: сначала блоб, потом метаданные. Обратный
// порядок оставил бы недостижимый блоб без записи о нём.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/cloudascent/file-pipeline/internal/config"
	"github.com/cloudascent/file-pipeline/internal/domain/model"
	"github.com/cloudascent/file-pipeline/internal/repository"
	"github.com/cloudascent/file-pipeline/internal/storage/objectstore"
	"github.com/cloudascent/file-pipeline/internal/storage/outbox"
)

// Параллелизм bulk-удаления.
const bulkDeleteConcurrency = 8

// Prometheus-метрики жизненного цикла.
var (
	downloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_downloads_total",
		Help: "Общее количество скачиваний с учётом счётчика.",
	})
	deletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_deletes_total",
		Help: "Количество удалений по результату.",
	}, []string{"result"})
)

// BulkDeleteResult — итог массового удаления.
type BulkDeleteResult struct {
	// Succeeded — успешно удалённые идентификаторы
	Succeeded []string `json:"succeeded"`
	// Failed — идентификаторы с ошибкой удаления
	Failed []string `json:"failed"`
}

// LifecycleService — операции жизненного цикла файлов.
type LifecycleService struct {
	cfg    *config.Config
	repo   repository.FileRepository
	store  *objectstore.Store
	outbox *outbox.Outbox
	cache  *CacheService
	logger *slog.Logger
}

// NewLifecycleService создаёт сервис жизненного цикла.
func NewLifecycleService(
	cfg *config.Config,
	repo repository.FileRepository,
	store *objectstore.Store,
	ob *outbox.Outbox,
	cache *CacheService,
	logger *slog.Logger,
) *LifecycleService {
	return &LifecycleService{
		cfg:    cfg,
		repo:   repo,
		store:  store,
		outbox: ob,
		cache:  cache,
		logger: logger.With(slog.String("component", "lifecycle_service")),
	}
}

// Update применяет частичное обновление метаданных.
// Незатронутые поля сохраняют значения, last_modified обновляется.
func (s *LifecycleService) Update(ctx context.Context, fileID string, params repository.UpdateParams) (*model.FileRecord, error) {
	if params.IsEmpty() {
		// Нечего менять: текущее состояние без записи в базу
		return s.repo.GetByID(ctx, fileID)
	}

	// Валидация enum-полей до записи
	if params.Category != nil && !model.ValidCategory(model.Category(*params.Category)) {
		return nil, fmt.Errorf("%w: неизвестная категория %q", ErrValidation, *params.Category)
	}
	if params.AccessLevel != nil && !model.ValidAccessLevel(model.AccessLevel(*params.AccessLevel)) {
		return nil, fmt.Errorf("%w: неизвестный уровень доступа %q", ErrValidation, *params.AccessLevel)
	}

	rec, err := s.repo.Update(ctx, fileID, params)
	if err != nil {
		return nil, err
	}

	s.cache.Set(fileID, rec)

	s.logger.Info("Метаданные обновлены",
		slog.String("file_id", fileID),
		slog.Int("version", rec.Version),
	)
	return rec, nil
}

// Delete удаляет файл: блоб, затем метаданные, затем задача outbox.
func (s *LifecycleService) Delete(ctx context.Context, fileID string) error {
	rec, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		deletesTotal.WithLabelValues("error").Inc()
		return err
	}

	// 1. Блоб первым: запись о несуществующем блобе безвредна,
	// блоб без записи недостижим
	if err := s.store.Delete(rec.StoragePath); err != nil {
		deletesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ошибка удаления блоба: %w", err)
	}

	// 2. Метаданные
	if err := s.repo.Delete(ctx, fileID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		deletesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ошибка удаления метаданных: %w", err)
	}

	// 3. Незавершённая задача обработки снимается
	if err := s.outbox.Complete(fileID); err != nil {
		s.logger.Warn("Не удалось снять задачу из outbox",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}

	s.cache.Delete(fileID)
	deletesTotal.WithLabelValues("success").Inc()

	s.logger.Info("Файл удалён",
		slog.String("file_id", fileID),
		slog.String("storage_path", rec.StoragePath),
	)
	return nil
}

// BulkDelete удаляет набор файлов параллельно.
// Возвращает раздельные списки успехов и ошибок, сама операция
// не прерывается на первой ошибке.
func (s *LifecycleService) BulkDelete(ctx context.Context, fileIDs []string) *BulkDeleteResult {
	result := &BulkDeleteResult{
		Succeeded: []string{},
		Failed:    []string{},
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkDeleteConcurrency)

	for _, fileID := range fileIDs {
		id := fileID
		g.Go(func() error {
			err := s.Delete(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, id)
			} else {
				result.Succeeded = append(result.Succeeded, id)
			}
			// Ошибки собираются в result, группа не прерывается
			return nil
		})
	}
	_ = g.Wait()

	// Детеминированный порядок в ответе
	sort.Strings(result.Succeeded)
	sort.Strings(result.Failed)

	s.logger.Info("Массовое удаление завершено",
		slog.Int("requested", len(fileIDs)),
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)),
	)
	return result
}

// Download открывает блоб для чтения.
// track — учитывать скачивание в счётчике (выключается через
// query-параметр track=false, например для предпросмотра).
func (s *LifecycleService) Download(ctx context.Context, fileID string, track bool) (*model.FileRecord, io.ReadCloser, error) {
	rec, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	reader, err := s.store.Open(rec.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("блоб недоступен: %w", err)
	}

	if track {
		// Инкремент атомарен на стороне базы, параллельные
		// скачивания не теряют обновлений
		count, err := s.repo.IncrementDownload(ctx, fileID)
		if err != nil {
			s.logger.Warn("Не удалось учесть скачивание",
				slog.String("file_id", fileID),
				slog.String("error", err.Error()),
			)
		} else {
			rec.DownloadCount = count
			downloadsTotal.Inc()
		}
		s.cache.Delete(fileID)
	}

	return rec, reader, nil
}

// StorageAnalytics возвращает агрегаты хранилища.
func (s *LifecycleService) StorageAnalytics(ctx context.Context) (*repository.AnalyticsReport, error) {
	return s.repo.Analytics(ctx, s.cfg.RecentWindow)
}
