// query.go — поисковый сервис.
//
// Запрос разделяется на две части: индексируемые предикаты уходят
// в PostgreSQL, остаточные фильтры (теги, полнотекстовый поиск по
// имени и извлечённому тексту) применяются к выбранной странице
// in-memory. BuildQueryPlan — чистая функция, разделение предикатов
// тестируется без базы.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudascent/file-pipeline/internal/domain/model"
	"github.com/cloudascent/file-pipeline/internal/repository"
)

// DefaultPageSize — размер страницы поиска по умолчанию и максимум.
const DefaultPageSize = 100

// ErrValidation — ошибка валидации входных параметров.
// Обработчики HTTP транслируют её в 400 Bad Request.
var ErrValidation = errors.New("ошибка валидации")

// SearchRequest — внешние параметры поиска.
type SearchRequest struct {
	// Типы файлов (IN)
	Types []string
	// Категории (IN)
	Categories []string
	// Привязка к оценке
	AssessmentID *string
	// Привязка к клиенту
	ClientID *string
	// Загрузивший пользователь
	UploadedBy *string
	// Диапазон даты загрузки
	UploadedAfter  *time.Time
	UploadedBefore *time.Time
	// Теги: файл подходит, если содержит хотя бы один из указанных
	Tags []string
	// Полнотекстовый поиск: подстрока в имени, тегах, извлечённом тексте
	SearchText string
	// Пагинация
	Limit  int
	Offset int
}

// ResidualFilter — фильтры, применяемые после выборки из базы.
// Точное совпадение тегов уходит в SQL (tags &&), остаётся только
// полнотекстовый поиск: извлечённый текст лежит в JSONB и не
// покрывается индексом.
type ResidualFilter struct {
	SearchText string
}

// Empty сообщает, что остаточных фильтров нет.
func (f ResidualFilter) Empty() bool {
	return f.SearchText == ""
}

// Matches проверяет запись против остаточных фильтров.
func (f ResidualFilter) Matches(rec *model.FileRecord) bool {
	// Поиск подстроки без учёта регистра по имени, тегам
	// и извлечённому тексту
	if f.SearchText != "" {
		needle := strings.ToLower(f.SearchText)
		if strings.Contains(strings.ToLower(rec.OriginalName), needle) {
			return true
		}
		for _, tag := range rec.Tags {
			if strings.Contains(strings.ToLower(tag), needle) {
				return true
			}
		}
		if strings.Contains(strings.ToLower(rec.ExtractedText()), needle) {
			return true
		}
		return false
	}

	return true
}

// QueryPlan — результат разделения предикатов запроса.
type QueryPlan struct {
	Indexed  repository.SearchParams
	Residual ResidualFilter
}

// BuildQueryPlan разделяет запрос на индексируемую и остаточную части.
// Чистая функция без обращений к базе.
func BuildQueryPlan(req SearchRequest) QueryPlan {
	limit := req.Limit
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	return QueryPlan{
		Indexed: repository.SearchParams{
			Types:          req.Types,
			Categories:     req.Categories,
			AssessmentID:   req.AssessmentID,
			ClientID:       req.ClientID,
			UploadedBy:     req.UploadedBy,
			UploadedAfter:  req.UploadedAfter,
			UploadedBefore: req.UploadedBefore,
			Tags:           req.Tags,
			Limit:          limit,
			Offset:         offset,
		},
		Residual: ResidualFilter{
			SearchText: strings.TrimSpace(req.SearchText),
		},
	}
}

// SearchResult — результат поиска.
type SearchResult struct {
	Files []*model.FileRecord
	// Total — общее количество по индексируемым предикатам.
	// Остаточные фильтры сужают только текущую страницу.
	Total int
}

// QueryService — поиск и чтение метаданных файлов.
type QueryService struct {
	repo   repository.FileRepository
	cache  *CacheService
	logger *slog.Logger
}

// NewQueryService создаёт поисковый сервис.
func NewQueryService(repo repository.FileRepository, cache *CacheService, logger *slog.Logger) *QueryService {
	return &QueryService{
		repo:   repo,
		cache:  cache,
		logger: logger.With(slog.String("component", "query_service")),
	}
}

// Search выполняет поиск: выборка по индексируемым предикатам,
// затем остаточные фильтры поверх страницы.
func (s *QueryService) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	// Валидация enum-значений до запроса
	for _, t := range req.Types {
		if !model.ValidFileType(model.FileType(t)) {
			return nil, fmt.Errorf("%w: неизвестный тип файла %q", ErrValidation, t)
		}
	}
	for _, c := range req.Categories {
		if !model.ValidCategory(model.Category(c)) {
			return nil, fmt.Errorf("%w: неизвестная категория %q", ErrValidation, c)
		}
	}

	plan := BuildQueryPlan(req)

	files, total, err := s.repo.Search(ctx, plan.Indexed)
	if err != nil {
		return nil, err
	}

	// Пустая выборка: остаточные фильтры не применяются
	if len(files) == 0 || plan.Residual.Empty() {
		return &SearchResult{Files: files, Total: total}, nil
	}

	filtered := make([]*model.FileRecord, 0, len(files))
	for _, f := range files {
		if plan.Residual.Matches(f) {
			filtered = append(filtered, f)
		}
	}

	return &SearchResult{Files: filtered, Total: total}, nil
}

// GetFile возвращает запись по ID, используя LRU-кэш.
func (s *QueryService) GetFile(ctx context.Context, fileID string) (*model.FileRecord, error) {
	if rec, ok := s.cache.Get(fileID); ok {
		return rec, nil
	}

	rec, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	s.cache.Set(fileID, rec)
	return rec, nil
}
