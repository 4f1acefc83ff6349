// handler.go — основной обработчик API файлового конвейера.
// Регистрирует маршруты и объединяет файловые и health-обработчики.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// APIHandler — основной обработчик API.
// Делегирует запросы в файловый и health-обработчики.
type APIHandler struct {
	files  *FilesHandler
	health *HealthHandler
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(files *FilesHandler, health *HealthHandler, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		files:  files,
		health: health,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// RegisterRoutes регистрирует все маршруты на переданном роутере.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	// Health и метрики
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	// Файловые операции
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/files/upload", h.files.UploadFile)
		r.Post("/files/search", h.files.SearchFiles)
		r.Post("/files/bulk-delete", h.files.BulkDeleteFiles)
		r.Get("/files/{fileID}", h.files.GetFile)
		r.Patch("/files/{fileID}", h.files.UpdateFile)
		r.Delete("/files/{fileID}", h.files.DeleteFile)
		r.Get("/files/{fileID}/download", h.files.DownloadFile)
		r.Get("/analytics/storage", h.files.StorageAnalytics)
	})
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
