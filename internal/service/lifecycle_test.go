package service

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/cloudascent/file-pipeline/internal/domain/model"
	"github.com/cloudascent/file-pipeline/internal/repository"
)

func (e *testEnv) lifecycleService() *LifecycleService {
	return NewLifecycleService(e.cfg, e.repo, e.store, e.outbox, e.cache, e.logger)
}

func TestDeleteRemovesBlobAndMetadata(t *testing.T) {
	env := newTestEnv(t)
	svc := env.lifecycleService()

	seedFile(t, env, "f-del", "doomed.txt", "data", []byte("x"))

	if err := svc.Delete(context.Background(), "f-del"); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}

	if _, err := env.repo.GetByID(context.Background(), "f-del"); !errors.Is(err, repository.ErrNotFound) {
		t.Error("запись должна быть удалена")
	}
	blobs, _ := env.store.List()
	if len(blobs) != 0 {
		t.Errorf("блоб должен быть удалён: %v", blobs)
	}
	pending, _ := env.outbox.RecoverPending()
	if len(pending) != 0 {
		t.Errorf("задача обработки должна быть снята, осталось %d", len(pending))
	}
}

func TestDeleteUnknownFile(t *testing.T) {
	env := newTestEnv(t)
	svc := env.lifecycleService()

	err := svc.Delete(context.Background(), "no-such-id")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено %v", err)
	}
}

func TestBulkDeletePartialFailure(t *testing.T) {
	env := newTestEnv(t)
	svc := env.lifecycleService()

	seedFile(t, env, "f-1", "a.txt", "data", []byte("a"))
	seedFile(t, env, "f-2", "b.txt", "data", []byte("b"))

	result := svc.BulkDelete(context.Background(), []string{"f-1", "missing", "f-2"})

	if len(result.Succeeded) != 2 {
		t.Errorf("успешных = %v, ожидалось [f-1 f-2]", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "missing" {
		t.Errorf("ошибочных = %v, ожидался [missing]", result.Failed)
	}

	blobs, _ := env.store.List()
	if len(blobs) != 0 {
		t.Errorf("все блобы должны быть удалены: %v", blobs)
	}
}

func TestDownloadTracksCount(t *testing.T) {
	env := newTestEnv(t)
	svc := env.lifecycleService()

	seedFile(t, env, "f-dl", "paper.txt", "report", []byte("содержимое документа"))

	rec, reader, err := svc.Download(context.Background(), "f-dl", true)
	if err != nil {
		t.Fatalf("ошибка скачивания: %v", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ошибка чтения потока: %v", err)
	}
	if string(data) != "содержимое документа" {
		t.Error("содержимое не совпадает")
	}
	if rec.DownloadCount != 1 {
		t.Errorf("счётчик = %d, ожидалась 1", rec.DownloadCount)
	}

	// Повторное скачивание без учёта
	rec2, reader2, err := svc.Download(context.Background(), "f-dl", false)
	if err != nil {
		t.Fatalf("ошибка скачивания: %v", err)
	}
	reader2.Close()
	if rec2.DownloadCount != 1 {
		t.Errorf("счётчик без track не должен расти: %d", rec2.DownloadCount)
	}
}

func TestUpdatePartialMerge(t *testing.T) {
	env := newTestEnv(t)
	svc := env.lifecycleService()

	seedFile(t, env, "f-up", "draft.txt", "documentation", []byte("x"))

	newTags := []string{"reviewed"}
	rec, err := svc.Update(context.Background(), "f-up", repository.UpdateParams{
		Tags: &newTags,
	})
	if err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}

	// Затронутое поле обновилось, остальные сохранились
	if len(rec.Tags) != 1 || rec.Tags[0] != "reviewed" {
		t.Errorf("теги = %v", rec.Tags)
	}
	if rec.OriginalName != "draft.txt" {
		t.Errorf("имя не должно меняться: %q", rec.OriginalName)
	}
	if rec.Category != "documentation" {
		t.Errorf("категория не должна меняться: %s", rec.Category)
	}
	if rec.Version != 1 {
		// seedFile создаёт с нулевой версией, fake-репозиторий инкрементирует
		t.Errorf("версия = %d, ожидалась 1", rec.Version)
	}
}

func TestUpdateRejectsInvalidEnums(t *testing.T) {
	env := newTestEnv(t)
	svc := env.lifecycleService()

	seedFile(t, env, "f-bad-up", "a.txt", "data", []byte("x"))

	badCat := "secret"
	if _, err := svc.Update(context.Background(), "f-bad-up", repository.UpdateParams{Category: &badCat}); err == nil {
		t.Error("ожидалась ошибка для неизвестной категории")
	}

	badLevel := "root"
	if _, err := svc.Update(context.Background(), "f-bad-up", repository.UpdateParams{AccessLevel: &badLevel}); err == nil {
		t.Error("ожидалась ошибка для неизвестного уровня доступа")
	}
}

func TestStorageAnalytics(t *testing.T) {
	env := newTestEnv(t)
	svc := env.lifecycleService()

	seedFile(t, env, "f-a", "a.txt", "data", []byte("aaaa"))
	seedFile(t, env, "f-b", "b.txt", "report", []byte("bb"))

	report, err := svc.StorageAnalytics(context.Background())
	if err != nil {
		t.Fatalf("ошибка аналитики: %v", err)
	}

	if report.TotalFiles != 2 {
		t.Errorf("файлов = %d, ожидалось 2", report.TotalFiles)
	}
	if report.TotalSize != 6 {
		t.Errorf("объём = %d, ожидалось 6", report.TotalSize)
	}
	if report.ByType["txt"].Count != 2 {
		t.Errorf("txt = %+v", report.ByType["txt"])
	}
	if report.ByCategory["data"] != 1 || report.ByCategory["report"] != 1 {
		t.Errorf("категории: %v", report.ByCategory)
	}
	if report.RecentUploads != 2 {
		t.Errorf("недавних = %d, ожидалось 2", report.RecentUploads)
	}
	if report.ByStatus[string(model.StatusPending)] != 2 {
		t.Errorf("статусы: %v", report.ByStatus)
	}
}
