// upload.go — оркестратор загрузки файлов.
//
// Порядок фиксации: блоб на диск → метаданные в PostgreSQL →
// запись в outbox → планирование обработки. При ошибке на любом
// шаге уже выполненные шаги откатываются, частичных состояний
// не остаётся.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/cloudascent/file-pipeline/internal/api/errors"
	"github.com/cloudascent/file-pipeline/internal/config"
	"github.com/cloudascent/file-pipeline/internal/domain/model"
	"github.com/cloudascent/file-pipeline/internal/extract"
	"github.com/cloudascent/file-pipeline/internal/repository"
	"github.com/cloudascent/file-pipeline/internal/storage/objectstore"
	"github.com/cloudascent/file-pipeline/internal/storage/outbox"
)

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_uploads_total",
		Help: "Общее количество загрузок по результату.",
	}, []string{"result"})
	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_upload_bytes_total",
		Help: "Общий объём принятых данных в байтах.",
	})
)

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalName — оригинальное имя файла
	OriginalName string
	// DeclaredSize — заявленный размер (Content-Length части), 0 если неизвестен
	DeclaredSize int64
	// UploadedBy — идентификатор пользователя (sub из JWT)
	UploadedBy string
	// Category — категория файла
	Category string
	// Tags — теги файла (опционально)
	Tags []string
	// AccessLevel — уровень доступа (по умолчанию team)
	AccessLevel string
	// AssessmentID — привязка к оценке (опционально)
	AssessmentID *string
	// ClientID — привязка к клиенту (опционально)
	ClientID *string
}

// UploadError — ошибка загрузки с HTTP-кодом.
type UploadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Scheduler принимает задачу обработки после фиксации в outbox.
// Реализуется Processor.
type Scheduler interface {
	Schedule(entry *outbox.Entry)
}

// UploadService — оркестратор загрузки файлов.
type UploadService struct {
	cfg       *config.Config
	repo      repository.FileRepository
	store     *objectstore.Store
	outbox    *outbox.Outbox
	cache     *CacheService
	scheduler Scheduler
	logger    *slog.Logger
}

// NewUploadService создаёт оркестратор загрузки.
func NewUploadService(
	cfg *config.Config,
	repo repository.FileRepository,
	store *objectstore.Store,
	ob *outbox.Outbox,
	cache *CacheService,
	scheduler Scheduler,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cfg:       cfg,
		repo:      repo,
		store:     store,
		outbox:    ob,
		cache:     cache,
		scheduler: scheduler,
		logger:    logger.With(slog.String("component", "upload_service")),
	}
}

// Upload принимает файл и проводит его через весь конвейер приёма.
//
// Поток:
//  1. Валидация (тип, категория, размер) — до записи на диск
//  2. Запись блоба (streaming + xxhash64)
//  3. Извлечение технических метаданных
//  4. Вставка метаданных в PostgreSQL
//  5. Запись задачи обработки в outbox
//  6. Планирование обработки
//
// progress — опциональный канал событий прогресса; получает
// ровно одно терминальное событие, закрывается сервисом.
// При ошибке после шага 2 блоб удаляется.
func (s *UploadService) Upload(ctx context.Context, params UploadParams, progress chan<- ProgressEvent) (*model.FileRecord, *UploadError) {
	emitter := newProgressEmitter(ctx, progress)

	fail := func(uerr *UploadError) (*model.FileRecord, *UploadError) {
		uploadsTotal.WithLabelValues("error").Inc()
		emitter.terminate(StageFailed, uerr.Message)
		return nil, uerr
	}

	// 1. Валидация до каких-либо записей
	emitter.emit(StageValidating, 5)

	fileType, ok := model.TypeFromFilename(params.OriginalName)
	if !ok {
		return fail(&UploadError{
			StatusCode: 415,
			Code:       apierrors.CodeUnsupportedFileType,
			Message:    fmt.Sprintf("Тип файла %q не принимается", filepath.Ext(params.OriginalName)),
		})
	}

	if !model.ValidCategory(model.Category(params.Category)) {
		return fail(&UploadError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Неизвестная категория %q", params.Category),
		})
	}

	accessLevel := params.AccessLevel
	if accessLevel == "" {
		accessLevel = string(model.AccessTeam)
	}
	if !model.ValidAccessLevel(model.AccessLevel(accessLevel)) {
		return fail(&UploadError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Неизвестный уровень доступа %q", accessLevel),
		})
	}

	// Заявленный размер проверяется до чтения потока
	if params.DeclaredSize > s.cfg.MaxFileSize {
		return fail(&UploadError{
			StatusCode: 413,
			Code:       apierrors.CodeFileTooLarge,
			Message:    fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", params.DeclaredSize, s.cfg.MaxFileSize),
		})
	}

	// 2. Генерируем идентификатор и путь блоба
	fileID := uuid.New().String()
	emitter.setFileID(fileID)

	storedName := fileID + strings.ToLower(filepath.Ext(params.OriginalName))
	storagePath := objectstore.BlobPath(params.Category, storedName)

	emitter.emit(StageStoring, 15)

	// Лимит + 1 байт: превышение обнаруживается по фактическому размеру
	limited := io.LimitReader(params.Reader, s.cfg.MaxFileSize+1)
	saved, err := s.store.Save(limited, storagePath)
	if err != nil {
		s.logger.Error("Ошибка записи блоба",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return fail(&UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения файла на диск",
		})
	}

	// Откат блоба при ошибке последующих шагов
	rollbackBlob := func() {
		if rbErr := s.store.Delete(storagePath); rbErr != nil {
			s.logger.Error("Ошибка отката блоба",
				slog.String("file_id", fileID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	if saved.Size > s.cfg.MaxFileSize {
		rollbackBlob()
		return fail(&UploadError{
			StatusCode: 413,
			Code:       apierrors.CodeFileTooLarge,
			Message:    fmt.Sprintf("Размер файла превышает максимум %d байт", s.cfg.MaxFileSize),
		})
	}

	emitter.emit(StageStoring, 70)

	// 3. Извлечение технических метаданных.
	// Ошибка не фатальна: файл принят, метаданные частичны.
	emitter.emit(StageExtracting, 80)

	meta, err := extract.Metadata(fileType, s.store.FullPath(storagePath))
	if err != nil {
		s.logger.Warn("Не удалось извлечь метаданные",
			slog.String("file_id", fileID),
			slog.String("file_type", string(fileType)),
			slog.String("error", err.Error()),
		)
	}
	meta.Checksum = saved.Checksum

	// 4. Вставка метаданных в PostgreSQL
	emitter.emit(StageCommitting, 90)

	now := time.Now().UTC()
	record := &model.FileRecord{
		ID:               fileID,
		OriginalName:     params.OriginalName,
		StoredName:       storedName,
		Type:             fileType,
		Size:             saved.Size,
		Checksum:         saved.Checksum,
		StoragePath:      storagePath,
		URL:              fmt.Sprintf("%s/api/v1/files/%s/download", s.cfg.PublicBaseURL, fileID),
		UploadedBy:       params.UploadedBy,
		UploadedAt:       now,
		LastModified:     now,
		AssessmentID:     params.AssessmentID,
		ClientID:         params.ClientID,
		Category:         model.Category(params.Category),
		Tags:             params.Tags,
		AccessLevel:      model.AccessLevel(accessLevel),
		ProcessingStatus: model.StatusPending,
		Metadata:         meta,
		Version:          1,
	}
	if record.Tags == nil {
		record.Tags = []string{}
	}

	if err := s.repo.Create(ctx, record); err != nil {
		rollbackBlob()
		s.logger.Error("Ошибка вставки метаданных",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return fail(&UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка записи метаданных",
		})
	}

	// 5. Фиксация задачи обработки в outbox.
	// Запись на диске гарантирует обработку после рестарта.
	entry := &outbox.Entry{
		FileID:      fileID,
		FileType:    string(fileType),
		StoragePath: storagePath,
		EnqueuedAt:  now,
	}
	if err := s.outbox.Append(entry); err != nil {
		// Метаданные и блоб откатываются: принятый файл без
		// запланированной обработки хуже отказа
		if delErr := s.repo.Delete(ctx, fileID); delErr != nil {
			s.logger.Error("Ошибка отката метаданных",
				slog.String("file_id", fileID),
				slog.String("error", delErr.Error()),
			)
		}
		rollbackBlob()
		s.logger.Error("Ошибка записи в outbox",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return fail(&UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка планирования обработки",
		})
	}

	// 6. Планирование обработки (best effort: при недоступности
	// воркеров задачу подхватит восстановление outbox)
	if s.scheduler != nil {
		s.scheduler.Schedule(entry)
	}

	s.cache.Set(fileID, record)

	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(saved.Size))

	s.logger.Info("Файл принят",
		slog.String("file_id", fileID),
		slog.String("filename", params.OriginalName),
		slog.String("file_type", string(fileType)),
		slog.String("category", params.Category),
		slog.Int64("size", saved.Size),
		slog.String("checksum", saved.Checksum),
		slog.String("uploaded_by", params.UploadedBy),
	)

	emitter.terminate(StageScheduled, "")
	return record, nil
}
