// Пакет outbox — долговечная очередь задач фоновой обработки.
//
// Запись в outbox фиксируется на диске ДО планирования обработки:
// если процесс упадёт между коммитом метаданных и запуском обработки,
// задача будет восстановлена при старте через RecoverPending.
//
// Каждая задача — отдельный JSON файл {file_id}.json в директории outbox.
// Запись атомарна: temp файл → fsync → rename.
package outbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry — задача обработки файла в outbox.
type Entry struct {
	// FileID — идентификатор файла
	FileID string `json:"file_id"`
	// FileType — тип файла, определяет анализатор
	FileType string `json:"file_type"`
	// StoragePath — относительный путь блоба
	StoragePath string `json:"storage_path"`
	// EnqueuedAt — время постановки в очередь
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Attempts — число попыток обработки
	Attempts int `json:"attempts"`
}

// Outbox — долговечная очередь на диске.
type Outbox struct {
	// dir — директория хранения задач (FP_OUTBOX_DIR)
	dir string
}

// New создаёт Outbox. Директория создаётся, если не существует.
func New(dir string) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию outbox %s: %w", dir, err)
	}
	return &Outbox{dir: dir}, nil
}

// Append фиксирует задачу на диске. Запись атомарна.
func (o *Outbox) Append(entry *Entry) error {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ошибка сериализации задачи %s: %w", entry.FileID, err)
	}

	finalPath := o.entryPath(entry.FileID)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания temp файла задачи: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи задачи %s: %w", entry.FileID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync задачи %s: %w", entry.FileID, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия temp файла задачи: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования задачи: %w", err)
	}
	return nil
}

// MarkAttempt увеличивает счётчик попыток и перезаписывает задачу.
func (o *Outbox) MarkAttempt(fileID string) error {
	entry, err := o.read(fileID)
	if err != nil {
		return err
	}
	entry.Attempts++
	return o.Append(entry)
}

// Complete удаляет задачу из outbox. Вызывается после достижения
// терминального статуса обработки. Повторный вызов не является ошибкой.
func (o *Outbox) Complete(fileID string) error {
	err := os.Remove(o.entryPath(fileID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления задачи %s: %w", fileID, err)
	}
	return nil
}

// RecoverPending возвращает все незавершённые задачи, отсортированные
// по времени постановки. Вызывается при старте сервиса.
// Повреждённые записи пропускаются с удалением.
func (o *Outbox) RecoverPending() ([]*Entry, error) {
	dirEntries, err := os.ReadDir(o.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории outbox: %w", err)
	}

	var entries []*Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		fileID := strings.TrimSuffix(de.Name(), ".json")
		entry, err := o.read(fileID)
		if err != nil {
			// Повреждённая запись восстановлению не подлежит
			os.Remove(filepath.Join(o.dir, de.Name()))
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})
	return entries, nil
}

func (o *Outbox) read(fileID string) (*Entry, error) {
	data, err := os.ReadFile(o.entryPath(fileID))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения задачи %s: %w", fileID, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка разбора задачи %s: %w", fileID, err)
	}
	return &entry, nil
}

func (o *Outbox) entryPath(fileID string) string {
	return filepath.Join(o.dir, fileID+".json")
}
