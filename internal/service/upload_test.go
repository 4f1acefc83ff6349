package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	apierrors "github.com/cloudascent/file-pipeline/internal/api/errors"
	"github.com/cloudascent/file-pipeline/internal/config"
	"github.com/cloudascent/file-pipeline/internal/domain/model"
	"github.com/cloudascent/file-pipeline/internal/storage/objectstore"
	"github.com/cloudascent/file-pipeline/internal/storage/outbox"
)

type testEnv struct {
	cfg    *config.Config
	repo   *fakeRepo
	store  *objectstore.Store
	outbox *outbox.Outbox
	cache  *CacheService
	logger *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()

	store, err := objectstore.New(dataDir)
	if err != nil {
		t.Fatalf("не удалось создать objectstore: %v", err)
	}
	ob, err := outbox.New(dataDir + "/outbox")
	if err != nil {
		t.Fatalf("не удалось создать outbox: %v", err)
	}

	return &testEnv{
		cfg: &config.Config{
			DataDir:        dataDir,
			MaxFileSize:    50 * 1024 * 1024,
			PublicBaseURL:  "http://localhost:8040",
			ProcessWorkers: 2,
			ProcessTimeout: 30 * time.Second,
			RecentWindow:   7 * 24 * time.Hour,
		},
		repo:   newFakeRepo(),
		store:  store,
		outbox: ob,
		cache:  NewCacheService(100, time.Minute),
		logger: slog.New(slog.DiscardHandler),
	}
}

func (e *testEnv) uploadService() *UploadService {
	return NewUploadService(e.cfg, e.repo, e.store, e.outbox, e.cache, nil, e.logger)
}

func TestUploadSuccess(t *testing.T) {
	env := newTestEnv(t)
	svc := env.uploadService()

	content := []byte("строка отчёта о безопасности")
	progress := make(chan ProgressEvent, 32)

	rec, uerr := svc.Upload(context.Background(), UploadParams{
		Reader:       bytes.NewReader(content),
		OriginalName: "Отчёт Q3.TXT",
		DeclaredSize: int64(len(content)),
		UploadedBy:   "user-1",
		Category:     "report",
		Tags:         []string{"q3"},
	}, progress)
	if uerr != nil {
		t.Fatalf("неожиданная ошибка загрузки: %v", uerr)
	}

	if rec.Type != "txt" {
		t.Errorf("тип = %s, ожидался txt", rec.Type)
	}
	if rec.Size != int64(len(content)) {
		t.Errorf("размер = %d, ожидалось %d", rec.Size, len(content))
	}
	if rec.Checksum == "" {
		t.Error("checksum не заполнен")
	}
	if rec.ProcessingStatus != "pending" {
		t.Errorf("статус = %s, ожидался pending", rec.ProcessingStatus)
	}
	if rec.AccessLevel != model.AccessTeam {
		t.Errorf("уровень доступа = %s, ожидался team", rec.AccessLevel)
	}
	if !strings.HasSuffix(rec.URL, "/api/v1/files/"+rec.ID+"/download") {
		t.Errorf("некорректный URL: %s", rec.URL)
	}
	if !env.store.Exists(rec.StoragePath) {
		t.Error("блоб должен существовать на диске")
	}

	// Запись метаданных в репозитории
	stored, err := env.repo.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("запись должна быть в репозитории: %v", err)
	}
	if stored.OriginalName != "Отчёт Q3.TXT" {
		t.Errorf("оригинальное имя = %q", stored.OriginalName)
	}

	// Задача обработки зафиксирована в outbox
	pending, err := env.outbox.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка чтения outbox: %v", err)
	}
	if len(pending) != 1 || pending[0].FileID != rec.ID {
		t.Fatalf("в outbox должна быть ровно одна задача для %s", rec.ID)
	}

	// Поток прогресса: процент монотонный, терминальное событие одно
	var events []ProgressEvent
	for ev := range progress {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("события прогресса не получены")
	}
	last := -1
	terminals := 0
	for _, ev := range events {
		if ev.Percent < last {
			t.Errorf("процент убывает: %d < %d", ev.Percent, last)
		}
		last = ev.Percent
		if ev.Terminal {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("терминальных событий %d, ожидалось 1", terminals)
	}
	final := events[len(events)-1]
	if !final.Terminal || final.Stage != StageScheduled || final.Percent != 100 {
		t.Errorf("финальное событие: %+v", final)
	}
}

func TestUploadUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	svc := env.uploadService()

	_, uerr := svc.Upload(context.Background(), UploadParams{
		Reader:       bytes.NewReader([]byte("MZ")),
		OriginalName: "malware.exe",
		UploadedBy:   "user-1",
		Category:     "data",
	}, nil)
	if uerr == nil {
		t.Fatal("ожидалась ошибка для неподдерживаемого типа")
	}
	if uerr.Code != apierrors.CodeUnsupportedFileType {
		t.Errorf("код = %s, ожидался UNSUPPORTED_FILE_TYPE", uerr.Code)
	}
	if uerr.StatusCode != 415 {
		t.Errorf("статус = %d, ожидался 415", uerr.StatusCode)
	}

	// Ничего не записано
	blobs, _ := env.store.List()
	if len(blobs) != 0 {
		t.Errorf("блобов быть не должно: %v", blobs)
	}
}

func TestUploadInvalidCategory(t *testing.T) {
	env := newTestEnv(t)
	svc := env.uploadService()

	_, uerr := svc.Upload(context.Background(), UploadParams{
		Reader:       bytes.NewReader([]byte("x")),
		OriginalName: "a.txt",
		UploadedBy:   "user-1",
		Category:     "secret",
	}, nil)
	if uerr == nil || uerr.Code != apierrors.CodeValidationError {
		t.Fatalf("ожидался VALIDATION_ERROR, получено %v", uerr)
	}
}

func TestUploadDeclaredSizeTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxFileSize = 10
	svc := env.uploadService()

	_, uerr := svc.Upload(context.Background(), UploadParams{
		Reader:       bytes.NewReader([]byte("x")),
		OriginalName: "a.txt",
		DeclaredSize: 11,
		UploadedBy:   "user-1",
		Category:     "data",
	}, nil)
	if uerr == nil || uerr.Code != apierrors.CodeFileTooLarge {
		t.Fatalf("ожидался FILE_TOO_LARGE, получено %v", uerr)
	}
	if uerr.StatusCode != 413 {
		t.Errorf("статус = %d, ожидался 413", uerr.StatusCode)
	}
}

func TestUploadActualSizeTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxFileSize = 10
	svc := env.uploadService()

	// Заявленный размер занижен, фактический превышает лимит
	_, uerr := svc.Upload(context.Background(), UploadParams{
		Reader:       bytes.NewReader(bytes.Repeat([]byte("a"), 100)),
		OriginalName: "a.txt",
		DeclaredSize: 5,
		UploadedBy:   "user-1",
		Category:     "data",
	}, nil)
	if uerr == nil || uerr.Code != apierrors.CodeFileTooLarge {
		t.Fatalf("ожидался FILE_TOO_LARGE, получено %v", uerr)
	}

	// Частичный блоб удалён
	blobs, _ := env.store.List()
	if len(blobs) != 0 {
		t.Errorf("блоб должен быть откачен: %v", blobs)
	}
}

func TestUploadMetadataFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.repo.createErr = errors.New("база недоступна")
	svc := env.uploadService()

	progress := make(chan ProgressEvent, 32)
	_, uerr := svc.Upload(context.Background(), UploadParams{
		Reader:       bytes.NewReader([]byte("данные")),
		OriginalName: "a.txt",
		UploadedBy:   "user-1",
		Category:     "data",
	}, progress)
	if uerr == nil || uerr.Code != apierrors.CodeInternalError {
		t.Fatalf("ожидался INTERNAL_ERROR, получено %v", uerr)
	}

	// Блоб откачен, outbox пуст
	blobs, _ := env.store.List()
	if len(blobs) != 0 {
		t.Errorf("блоб должен быть откачен: %v", blobs)
	}
	pending, _ := env.outbox.RecoverPending()
	if len(pending) != 0 {
		t.Errorf("outbox должен быть пуст: %d задач", len(pending))
	}

	// Терминальное событие — failed
	var lastEv ProgressEvent
	for ev := range progress {
		lastEv = ev
	}
	if !lastEv.Terminal || lastEv.Stage != StageFailed || lastEv.Error == "" {
		t.Errorf("финальное событие: %+v", lastEv)
	}
}
