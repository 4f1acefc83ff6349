// sweep.go — стартовая сверка диска с базой метаданных.
//
// Блоб без записи в базе — след прерванной загрузки или удаления:
// порядок фиксации гарантирует, что запись появляется только после
// блоба. Такие блобы безопасно удаляются при старте, до запуска
// HTTP-сервера и воркеров.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cloudascent/file-pipeline/internal/repository"
	"github.com/cloudascent/file-pipeline/internal/storage/objectstore"
)

// SweepResult — итог сверки.
type SweepResult struct {
	// Scanned — просмотрено блобов
	Scanned int
	// Removed — удалено осиротевших блобов
	Removed int
	// Missing — записей, у которых блоб отсутствует на диске
	Missing int
}

// SweepOrphans сверяет блобы на диске с путями из базы.
// Осиротевшие блобы удаляются, записи без блоба логируются
// (их обработка завершится ошибкой чтения, статус станет failed).
func SweepOrphans(ctx context.Context, repo repository.FileRepository, store *objectstore.Store, logger *slog.Logger) (*SweepResult, error) {
	logger = logger.With(slog.String("component", "sweep"))

	known, err := repo.ListStoragePaths(ctx)
	if err != nil {
		return nil, err
	}

	onDisk, err := store.List()
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	seen := make(map[string]struct{}, len(onDisk))

	for _, path := range onDisk {
		// Под сверку попадают только блобы, служебные файлы
		// (outbox и пр.) не трогаем
		if !strings.HasPrefix(path, "files/") && !strings.HasPrefix(path, "files\\") {
			continue
		}
		result.Scanned++
		seen[path] = struct{}{}

		if _, ok := known[path]; ok {
			continue
		}
		if err := store.Delete(path); err != nil {
			logger.Error("Не удалось удалить осиротевший блоб",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Removed++
		logger.Warn("Удалён осиротевший блоб", slog.String("path", path))
	}

	// Обратное направление: запись есть, блоба нет
	for path := range known {
		if _, ok := seen[path]; !ok {
			result.Missing++
			logger.Error("Запись без блоба на диске", slog.String("path", path))
		}
	}

	logger.Info("Сверка завершена",
		slog.Int("scanned", result.Scanned),
		slog.Int("removed", result.Removed),
		slog.Int("missing", result.Missing),
	)
	return result, nil
}
