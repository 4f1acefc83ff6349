package service

import (
	"context"
	"sync"
	"time"

	"github.com/cloudascent/file-pipeline/internal/domain/model"
	"github.com/cloudascent/file-pipeline/internal/repository"
)

// fakeRepo — in-memory реализация FileRepository для тестов сервисов.
type fakeRepo struct {
	mu    sync.Mutex
	files map[string]*model.FileRecord

	// createErr подменяет результат Create для проверки откатов
	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{files: make(map[string]*model.FileRecord)}
}

func (r *fakeRepo) Create(_ context.Context, f *model.FileRecord) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, fileID string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[fileID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *fakeRepo) Search(_ context.Context, params repository.SearchParams) ([]*model.FileRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.FileRecord
	for _, f := range r.files {
		cp := *f
		result = append(result, &cp)
	}
	return result, len(result), nil
}

func (r *fakeRepo) Update(_ context.Context, fileID string, params repository.UpdateParams) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[fileID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if params.OriginalName != nil {
		f.OriginalName = *params.OriginalName
	}
	if params.Category != nil {
		f.Category = model.Category(*params.Category)
	}
	if params.Tags != nil {
		f.Tags = *params.Tags
	}
	if params.AccessLevel != nil {
		f.AccessLevel = model.AccessLevel(*params.AccessLevel)
	}
	if params.AssessmentID != nil {
		f.AssessmentID = params.AssessmentID
	}
	if params.ClientID != nil {
		f.ClientID = params.ClientID
	}
	f.LastModified = time.Now().UTC()
	f.Version++
	cp := *f
	return &cp, nil
}

func (r *fakeRepo) Delete(_ context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[fileID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.files, fileID)
	return nil
}

func (r *fakeRepo) MarkProcessing(_ context.Context, fileID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[fileID]
	if !ok || f.ProcessingStatus != model.StatusPending {
		return false, nil
	}
	f.ProcessingStatus = model.StatusProcessing
	return true, nil
}

func (r *fakeRepo) SetTerminal(_ context.Context, fileID string, status model.ProcessingStatus, results *model.ProcessingResults) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[fileID]
	if !ok || f.ProcessingStatus != model.StatusProcessing {
		return false, nil
	}
	f.ProcessingStatus = status
	f.ProcessingResults = results
	f.IsProcessed = status == model.StatusCompleted
	return true, nil
}

func (r *fakeRepo) IncrementDownload(_ context.Context, fileID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[fileID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	f.DownloadCount++
	return f.DownloadCount, nil
}

func (r *fakeRepo) Analytics(_ context.Context, recentWindow time.Duration) (*repository.AnalyticsReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report := &repository.AnalyticsReport{
		ByType:     make(map[string]repository.TypeStat),
		ByCategory: make(map[string]int64),
		ByStatus:   make(map[string]int64),
	}
	since := time.Now().UTC().Add(-recentWindow)
	for _, f := range r.files {
		report.TotalFiles++
		report.TotalSize += f.Size
		stat := report.ByType[string(f.Type)]
		stat.Count++
		stat.Size += f.Size
		report.ByType[string(f.Type)] = stat
		report.ByCategory[string(f.Category)]++
		report.ByStatus[string(f.ProcessingStatus)]++
		if f.UploadedAt.After(since) {
			report.RecentUploads++
		}
	}
	return report, nil
}

func (r *fakeRepo) ListStoragePaths(_ context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make(map[string]struct{}, len(r.files))
	for _, f := range r.files {
		paths[f.StoragePath] = struct{}{}
	}
	return paths, nil
}

// статус файла в fake-репозитории (для ожиданий в тестах)
func (r *fakeRepo) status(fileID string) model.ProcessingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[fileID]
	if !ok {
		return ""
	}
	return f.ProcessingStatus
}
