// files.go — HTTP handlers файловых операций конвейера.
// Upload, Search, Get, Update, Delete, Bulk delete, Download, Analytics.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/cloudascent/file-pipeline/internal/api/errors"
	"github.com/cloudascent/file-pipeline/internal/api/middleware"
	"github.com/cloudascent/file-pipeline/internal/domain/model"
	"github.com/cloudascent/file-pipeline/internal/repository"
	"github.com/cloudascent/file-pipeline/internal/service"
)

// maxBulkDeleteIDs — предел количества идентификаторов в bulk-delete.
const maxBulkDeleteIDs = 500

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	uploadSvc    *service.UploadService
	querySvc     *service.QueryService
	lifecycleSvc *service.LifecycleService
	logger       *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	uploadSvc *service.UploadService,
	querySvc *service.QueryService,
	lifecycleSvc *service.LifecycleService,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		uploadSvc:    uploadSvc,
		querySvc:     querySvc,
		lifecycleSvc: lifecycleSvc,
		logger:       logger.With(slog.String("component", "files_handler")),
	}
}

// UploadFile обрабатывает POST /api/v1/files/upload.
// Multipart form: file (обязательно), category (обязательно),
// tags (опционально, JSON-массив строк), access_level, assessment_id,
// client_id (опционально).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	// Извлекаем subject из JWT контекста
	subject := middleware.SubjectFromContext(r.Context())

	// Парсим multipart form: поля формы в память, файл — на диск
	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB buffer
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	category := r.FormValue("category")
	if category == "" {
		apierrors.ValidationError(w, "Поле 'category' обязательно")
		return
	}

	// Теги передаются JSON-массивом строк
	var tags []string
	if tagsJSON := r.FormValue("tags"); tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			apierrors.ValidationError(w, "Поле 'tags' должно быть JSON-массивом строк")
			return
		}
	}

	params := service.UploadParams{
		Reader:       file,
		OriginalName: header.Filename,
		DeclaredSize: header.Size,
		UploadedBy:   subject,
		Category:     category,
		Tags:         tags,
		AccessLevel:  r.FormValue("access_level"),
		AssessmentID: optionalFormValue(r, "assessment_id"),
		ClientID:     optionalFormValue(r, "client_id"),
	}

	record, uploadErr := h.uploadSvc.Upload(r.Context(), params, nil)
	if uploadErr != nil {
		apierrors.WriteError(w, uploadErr.StatusCode, uploadErr.Code, uploadErr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// searchRequestDTO — тело запроса POST /api/v1/files/search.
type searchRequestDTO struct {
	Types          []string   `json:"types,omitempty"`
	Categories     []string   `json:"categories,omitempty"`
	AssessmentID   *string    `json:"assessment_id,omitempty"`
	ClientID       *string    `json:"client_id,omitempty"`
	UploadedBy     *string    `json:"uploaded_by,omitempty"`
	UploadedAfter  *time.Time `json:"uploaded_after,omitempty"`
	UploadedBefore *time.Time `json:"uploaded_before,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	SearchText     string     `json:"search_text,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
}

// searchResponseDTO — тело ответа поиска.
type searchResponseDTO struct {
	Files []*model.FileRecord `json:"files"`
	Total int                 `json:"total"`
}

// SearchFiles обрабатывает POST /api/v1/files/search.
func (h *FilesHandler) SearchFiles(w http.ResponseWriter, r *http.Request) {
	var dto searchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	result, err := h.querySvc.Search(r.Context(), service.SearchRequest{
		Types:          dto.Types,
		Categories:     dto.Categories,
		AssessmentID:   dto.AssessmentID,
		ClientID:       dto.ClientID,
		UploadedBy:     dto.UploadedBy,
		UploadedAfter:  dto.UploadedAfter,
		UploadedBefore: dto.UploadedBefore,
		Tags:           dto.Tags,
		SearchText:     dto.SearchText,
		Limit:          dto.Limit,
		Offset:         dto.Offset,
	})
	if err != nil {
		h.writeServiceError(w, err, "поиск файлов")
		return
	}

	files := result.Files
	if files == nil {
		files = []*model.FileRecord{}
	}
	writeJSON(w, http.StatusOK, searchResponseDTO{Files: files, Total: result.Total})
}

// GetFile обрабатывает GET /api/v1/files/{fileID}.
func (h *FilesHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	record, err := h.querySvc.GetFile(r.Context(), fileID)
	if err != nil {
		h.writeServiceError(w, err, "получение файла")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// updateRequestDTO — тело запроса PATCH /api/v1/files/{fileID}.
// Отсутствующие поля не изменяются.
type updateRequestDTO struct {
	OriginalName *string   `json:"original_name,omitempty"`
	Category     *string   `json:"category,omitempty"`
	Tags         *[]string `json:"tags,omitempty"`
	AccessLevel  *string   `json:"access_level,omitempty"`
	AssessmentID *string   `json:"assessment_id,omitempty"`
	ClientID     *string   `json:"client_id,omitempty"`
}

// UpdateFile обрабатывает PATCH /api/v1/files/{fileID}.
func (h *FilesHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	var dto updateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	record, err := h.lifecycleSvc.Update(r.Context(), fileID, repository.UpdateParams{
		OriginalName: dto.OriginalName,
		Category:     dto.Category,
		Tags:         dto.Tags,
		AccessLevel:  dto.AccessLevel,
		AssessmentID: dto.AssessmentID,
		ClientID:     dto.ClientID,
	})
	if err != nil {
		h.writeServiceError(w, err, "обновление файла")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// DeleteFile обрабатывает DELETE /api/v1/files/{fileID}.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	if err := h.lifecycleSvc.Delete(r.Context(), fileID); err != nil {
		h.writeServiceError(w, err, "удаление файла")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// bulkDeleteRequestDTO — тело запроса POST /api/v1/files/bulk-delete.
type bulkDeleteRequestDTO struct {
	FileIDs []string `json:"file_ids"`
}

// BulkDeleteFiles обрабатывает POST /api/v1/files/bulk-delete.
// Частичный успех — штатный результат: ответ всегда 200 со списками
// succeeded и failed.
func (h *FilesHandler) BulkDeleteFiles(w http.ResponseWriter, r *http.Request) {
	var dto bulkDeleteRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	if len(dto.FileIDs) == 0 {
		apierrors.ValidationError(w, "Поле 'file_ids' обязательно и не может быть пустым")
		return
	}
	if len(dto.FileIDs) > maxBulkDeleteIDs {
		apierrors.ValidationError(w, fmt.Sprintf("Не более %d идентификаторов за запрос", maxBulkDeleteIDs))
		return
	}

	result := h.lifecycleSvc.BulkDelete(r.Context(), dto.FileIDs)
	writeJSON(w, http.StatusOK, result)
}

// DownloadFile обрабатывает GET /api/v1/files/{fileID}/download.
// Параметр track=false отключает инкремент счётчика скачиваний.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	track := r.URL.Query().Get("track") != "false"

	record, reader, err := h.lifecycleSvc.Download(r.Context(), fileID, track)
	if err != nil {
		h.writeServiceError(w, err, "скачивание файла")
		return
	}
	defer reader.Close()

	contentType := mime.TypeByExtension(filepath.Ext(record.StoredName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", record.Size))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", record.OriginalName))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, reader); err != nil {
		// Заголовки уже отправлены, статус менять поздно
		h.logger.Warn("Ошибка отдачи файла клиенту",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

// StorageAnalytics обрабатывает GET /api/v1/analytics/storage.
func (h *FilesHandler) StorageAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := h.lifecycleSvc.StorageAnalytics(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "аналитика хранилища")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// writeServiceError транслирует ошибку сервисного слоя в HTTP-ответ.
func (h *FilesHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		apierrors.NotFound(w, "Файл не найден")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// optionalFormValue возвращает указатель на значение поля формы
// или nil, если поле пустое.
func optionalFormValue(r *http.Request, name string) *string {
	v := r.FormValue(name)
	if v == "" {
		return nil
	}
	return &v
}
