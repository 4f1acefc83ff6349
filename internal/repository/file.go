package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cloudascent/file-pipeline/internal/domain/model"
)

// fileColumns — список столбцов таблицы files для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const fileColumns = `id, original_name, stored_name, file_type, size, checksum,
	storage_path, url, uploaded_by, uploaded_at, last_modified,
	assessment_id, client_id, category, tags, access_level,
	is_processed, processing_status, processing_results, metadata,
	download_count, version, parent_file_id`

// SearchParams — индексируемые предикаты поиска.
// Все указатели — nil означает, что фильтр не применяется.
// Остаточные фильтры (теги, полнотекстовый поиск) сюда не входят,
// они применяются сервисным слоем поверх выборки.
type SearchParams struct {
	// Types — фильтр по типам файлов (IN)
	Types []string
	// Categories — фильтр по категориям (IN)
	Categories []string
	// Tags — файл подходит, если содержит хотя бы один из тегов (&&)
	Tags []string
	// AssessmentID — фильтр по привязке к оценке (exact match)
	AssessmentID *string
	// ClientID — фильтр по клиенту (exact match)
	ClientID *string
	// UploadedBy — фильтр по загрузившему (exact match)
	UploadedBy *string
	// UploadedAfter — файлы, загруженные после указанной даты
	UploadedAfter *time.Time
	// UploadedBefore — файлы, загруженные до указанной даты
	UploadedBefore *time.Time
	// Limit — количество результатов
	Limit int
	// Offset — смещение
	Offset int
}

// UpdateParams — частичное обновление метаданных.
// nil-поля не затрагиваются (merge-семантика).
type UpdateParams struct {
	OriginalName *string
	Category     *string
	Tags         *[]string
	AccessLevel  *string
	AssessmentID *string
	ClientID     *string
}

// IsEmpty сообщает, что обновлять нечего.
func (p UpdateParams) IsEmpty() bool {
	return p.OriginalName == nil && p.Category == nil && p.Tags == nil &&
		p.AccessLevel == nil && p.AssessmentID == nil && p.ClientID == nil
}

// TypeStat — агрегат по одному типу файлов.
type TypeStat struct {
	Count int64 `json:"count"`
	Size  int64 `json:"size"`
}

// AnalyticsReport — агрегаты хранилища.
type AnalyticsReport struct {
	TotalFiles    int64               `json:"total_files"`
	TotalSize     int64               `json:"total_size"`
	ByType        map[string]TypeStat `json:"by_type"`
	ByCategory    map[string]int64    `json:"by_category"`
	ByStatus      map[string]int64    `json:"by_status"`
	RecentUploads int64               `json:"recent_uploads"`
}

// FileRepository — интерфейс доступа к таблице files.
type FileRepository interface {
	// Create вставляет запись метаданных нового файла.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает файл по UUID или ErrNotFound.
	GetByID(ctx context.Context, fileID string) (*model.FileRecord, error)
	// Search выполняет выборку по индексируемым предикатам.
	// Возвращает: список файлов, общее количество, ошибка.
	Search(ctx context.Context, params SearchParams) ([]*model.FileRecord, int, error)
	// Update применяет частичное обновление и возвращает обновлённую запись.
	Update(ctx context.Context, fileID string, params UpdateParams) (*model.FileRecord, error)
	// Delete удаляет запись метаданных.
	Delete(ctx context.Context, fileID string) error
	// MarkProcessing переводит pending → processing.
	// Возвращает false, если файл не в pending (перевод уже был).
	MarkProcessing(ctx context.Context, fileID string) (bool, error)
	// SetTerminal переводит processing → completed|failed с записью результатов.
	// Возвращает false, если файл не в processing.
	SetTerminal(ctx context.Context, fileID string, status model.ProcessingStatus, results *model.ProcessingResults) (bool, error)
	// IncrementDownload атомарно увеличивает счётчик скачиваний.
	IncrementDownload(ctx context.Context, fileID string) (int64, error)
	// Analytics возвращает агрегаты хранилища.
	Analytics(ctx context.Context, recentWindow time.Duration) (*AnalyticsReport, error)
	// ListStoragePaths возвращает пути блобов всех записей (для стартовой сверки).
	ListStoragePaths(ctx context.Context) (map[string]struct{}, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// scanTarget — общий интерфейс pgx.Row и pgx.Rows.
type scanTarget interface {
	Scan(dest ...any) error
}

func scanFile(row scanTarget) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	err := row.Scan(
		&f.ID, &f.OriginalName, &f.StoredName, &f.Type, &f.Size, &f.Checksum,
		&f.StoragePath, &f.URL, &f.UploadedBy, &f.UploadedAt, &f.LastModified,
		&f.AssessmentID, &f.ClientID, &f.Category, &f.Tags, &f.AccessLevel,
		&f.IsProcessed, &f.ProcessingStatus, &f.ProcessingResults, &f.Metadata,
		&f.DownloadCount, &f.Version, &f.ParentFileID,
	)
	return f, err
}

// Create вставляет запись метаданных нового файла.
func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (
			id, original_name, stored_name, file_type, size, checksum,
			storage_path, url, uploaded_by, uploaded_at, last_modified,
			assessment_id, client_id, category, tags, access_level,
			is_processed, processing_status, processing_results, metadata,
			download_count, version, parent_file_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)`

	_, err := r.db.Exec(ctx, query,
		f.ID, f.OriginalName, f.StoredName, f.Type, f.Size, f.Checksum,
		f.StoragePath, f.URL, f.UploadedBy, f.UploadedAt, f.LastModified,
		f.AssessmentID, f.ClientID, f.Category, f.Tags, f.AccessLevel,
		f.IsProcessed, f.ProcessingStatus, f.ProcessingResults, f.Metadata,
		f.DownloadCount, f.Version, f.ParentFileID,
	)
	if err != nil {
		return fmt.Errorf("ошибка вставки метаданных файла: %w", err)
	}
	return nil
}

// GetByID возвращает файл по UUID или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, fileID string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, fileColumns)

	f, err := scanFile(r.db.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// Search выполняет выборку с динамическими фильтрами и пагинацией.
// Порядок стабилен: uploaded_at DESC, id DESC (полный порядок,
// одинаковые timestamp не ломают пагинацию).
func (r *fileRepo) Search(ctx context.Context, params SearchParams) ([]*model.FileRecord, int, error) {
	where, args := buildSearchWhere(params, 1)
	argNum := len(args) + 1

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM files %s ORDER BY uploaded_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		fileColumns, where, argNum, argNum+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	// Общее количество с теми же фильтрами, без LIMIT/OFFSET
	countWhere, countArgs := buildSearchWhere(params, 1)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM files %s`, countWhere)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}

	return result, total, nil
}

// Update применяет частичное обновление: только не-nil поля,
// last_modified и version обновляются всегда.
func (r *fileRepo) Update(ctx context.Context, fileID string, params UpdateParams) (*model.FileRecord, error) {
	setClauses, args := buildUpdateSet(params, 1)
	// last_modified и version обновляются при любом изменении
	setClauses = append(setClauses, "last_modified = now()", "version = version + 1")
	argNum := len(args) + 1

	query := fmt.Sprintf(
		`UPDATE files SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), argNum, fileColumns,
	)
	args = append(args, fileID)

	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления файла: %w", err)
	}
	return f, nil
}

// Delete удаляет запись метаданных или возвращает ErrNotFound.
func (r *fileRepo) Delete(ctx context.Context, fileID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("ошибка удаления метаданных файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessing переводит pending → processing охраняемым UPDATE:
// условие в WHERE гарантирует, что два воркера не возьмут один файл.
func (r *fileRepo) MarkProcessing(ctx context.Context, fileID string) (bool, error) {
	query := `
		UPDATE files
		SET processing_status = 'processing', last_modified = now()
		WHERE id = $1 AND processing_status = 'pending'`

	tag, err := r.db.Exec(ctx, query, fileID)
	if err != nil {
		return false, fmt.Errorf("ошибка перевода в processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetTerminal переводит processing → completed|failed.
// Терминальный статус перезаписать нельзя: охрана в WHERE.
func (r *fileRepo) SetTerminal(ctx context.Context, fileID string, status model.ProcessingStatus, results *model.ProcessingResults) (bool, error) {
	if !model.CanTransition(model.StatusProcessing, status) {
		return false, fmt.Errorf("недопустимый терминальный статус: %s", status)
	}

	query := `
		UPDATE files
		SET processing_status = $2,
		    processing_results = $3,
		    is_processed = $4,
		    last_modified = now()
		WHERE id = $1 AND processing_status = 'processing'`

	tag, err := r.db.Exec(ctx, query, fileID, status, results, status == model.StatusCompleted)
	if err != nil {
		return false, fmt.Errorf("ошибка записи терминального статуса: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementDownload атомарно увеличивает счётчик скачиваний.
// Инкремент выполняется на стороне базы: параллельные скачивания
// не теряют обновлений.
func (r *fileRepo) IncrementDownload(ctx context.Context, fileID string) (int64, error) {
	query := `
		UPDATE files
		SET download_count = download_count + 1
		WHERE id = $1
		RETURNING download_count`

	var count int64
	err := r.db.QueryRow(ctx, query, fileID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка инкремента счётчика скачиваний: %w", err)
	}
	return count, nil
}

// Analytics собирает агрегаты хранилища.
// recentWindow — окно для счётчика недавних загрузок.
func (r *fileRepo) Analytics(ctx context.Context, recentWindow time.Duration) (*AnalyticsReport, error) {
	report := &AnalyticsReport{
		ByType:     make(map[string]TypeStat),
		ByCategory: make(map[string]int64),
		ByStatus:   make(map[string]int64),
	}

	since := time.Now().UTC().Add(-recentWindow)
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(size), 0),
		       COUNT(*) FILTER (WHERE uploaded_at >= $1)
		FROM files`, since,
	).Scan(&report.TotalFiles, &report.TotalSize, &report.RecentUploads)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта итогов: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT file_type, COUNT(*), COALESCE(SUM(size), 0)
		FROM files GROUP BY file_type`)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации по типам: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ft string
		var stat TypeStat
		if err := rows.Scan(&ft, &stat.Count, &stat.Size); err != nil {
			return nil, fmt.Errorf("ошибка сканирования агрегата по типам: %w", err)
		}
		report.ByType[ft] = stat
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации агрегатов по типам: %w", err)
	}

	catRows, err := r.db.Query(ctx, `
		SELECT category, COUNT(*) FROM files GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации по категориям: %w", err)
	}
	defer catRows.Close()
	for catRows.Next() {
		var cat string
		var count int64
		if err := catRows.Scan(&cat, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования агрегата по категориям: %w", err)
		}
		report.ByCategory[cat] = count
	}
	if err := catRows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации агрегатов по категориям: %w", err)
	}

	statusRows, err := r.db.Query(ctx, `
		SELECT processing_status, COUNT(*) FROM files GROUP BY processing_status`)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации по статусам: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var count int64
		if err := statusRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования агрегата по статусам: %w", err)
		}
		report.ByStatus[status] = count
	}
	if err := statusRows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации агрегатов по статусам: %w", err)
	}

	return report, nil
}

// ListStoragePaths возвращает множество путей блобов всех записей.
func (r *fileRepo) ListStoragePaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx, `SELECT storage_path FROM files`)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки путей блобов: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пути блоба: %w", err)
		}
		paths[p] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации путей блобов: %w", err)
	}
	return paths, nil
}

// buildSearchWhere строит WHERE-условие и аргументы для поиска файлов.
// startArg — номер первого $-параметра (для корректной нумерации).
func buildSearchWhere(params SearchParams, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	// Фильтр по типам файлов (IN через ANY)
	if len(params.Types) > 0 {
		conditions = append(conditions, fmt.Sprintf("file_type = ANY($%d)", argNum))
		args = append(args, params.Types)
		argNum++
	}

	// Фильтр по категориям (IN через ANY)
	if len(params.Categories) > 0 {
		conditions = append(conditions, fmt.Sprintf("category = ANY($%d)", argNum))
		args = append(args, params.Categories)
		argNum++
	}

	// Фильтр по тегам: достаточно одного совпадения,
	// оператор && использует GIN-индекс idx_files_tags
	if len(params.Tags) > 0 {
		conditions = append(conditions, fmt.Sprintf("tags && $%d", argNum))
		args = append(args, params.Tags)
		argNum++
	}

	// Фильтр по привязке к оценке (exact match)
	if params.AssessmentID != nil && *params.AssessmentID != "" {
		conditions = append(conditions, fmt.Sprintf("assessment_id = $%d", argNum))
		args = append(args, *params.AssessmentID)
		argNum++
	}

	// Фильтр по клиенту (exact match)
	if params.ClientID != nil && *params.ClientID != "" {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", argNum))
		args = append(args, *params.ClientID)
		argNum++
	}

	// Фильтр по загрузившему (exact match)
	if params.UploadedBy != nil && *params.UploadedBy != "" {
		conditions = append(conditions, fmt.Sprintf("uploaded_by = $%d", argNum))
		args = append(args, *params.UploadedBy)
		argNum++
	}

	// Фильтр по дате загрузки (после)
	if params.UploadedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("uploaded_at >= $%d", argNum))
		args = append(args, *params.UploadedAfter)
		argNum++
	}

	// Фильтр по дате загрузки (до)
	if params.UploadedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("uploaded_at <= $%d", argNum))
		args = append(args, *params.UploadedBefore)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// buildUpdateSet строит SET-часть частичного обновления.
// Обновляются только не-nil поля.
func buildUpdateSet(params UpdateParams, startArg int) (setClauses []string, args []any) {
	argNum := startArg

	add := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argNum))
		args = append(args, value)
		argNum++
	}

	if params.OriginalName != nil {
		add("original_name", *params.OriginalName)
	}
	if params.Category != nil {
		add("category", *params.Category)
	}
	if params.Tags != nil {
		add("tags", *params.Tags)
	}
	if params.AccessLevel != nil {
		add("access_level", *params.AccessLevel)
	}
	if params.AssessmentID != nil {
		add("assessment_id", *params.AssessmentID)
	}
	if params.ClientID != nil {
		add("client_id", *params.ClientID)
	}
	return setClauses, args
}
