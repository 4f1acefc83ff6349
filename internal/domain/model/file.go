// Пакет model — доменные модели File Pipeline.
// FileRecord — единая структура метаданных загруженного файла,
// используется как in-memory представление и как формат строки
// таблицы files в PostgreSQL.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// FileType — тип файла из фиксированного перечисления поддерживаемых форматов.
type FileType string

const (
	TypePDF  FileType = "pdf"
	TypePNG  FileType = "png"
	TypeJPG  FileType = "jpg"
	TypeJPEG FileType = "jpeg"
	TypeCSV  FileType = "csv"
	TypeTXT  FileType = "txt"
	TypeDOCX FileType = "docx"
	TypeXLSX FileType = "xlsx"
)

// acceptedTypes — фиксированное перечисление принимаемых типов файлов.
var acceptedTypes = map[FileType]bool{
	TypePDF:  true,
	TypePNG:  true,
	TypeJPG:  true,
	TypeJPEG: true,
	TypeCSV:  true,
	TypeTXT:  true,
	TypeDOCX: true,
	TypeXLSX: true,
}

// TypeFromFilename определяет тип файла по расширению имени.
// Возвращает (тип, true) для поддерживаемого расширения
// или ("", false) для неподдерживаемого.
func TypeFromFilename(filename string) (FileType, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	t := FileType(ext)
	if !acceptedTypes[t] {
		return "", false
	}
	return t, true
}

// ValidFileType проверяет принадлежность значения к перечислению типов.
func ValidFileType(t FileType) bool {
	return acceptedTypes[t]
}

// IsImage возвращает true для растровых форматов.
func (t FileType) IsImage() bool {
	return t == TypePNG || t == TypeJPG || t == TypeJPEG
}

// Category — категория файла.
type Category string

const (
	CategoryAssessment    Category = "assessment"
	CategoryReport        Category = "report"
	CategoryDiagram       Category = "diagram"
	CategoryData          Category = "data"
	CategoryDocumentation Category = "documentation"
	CategoryTemplate      Category = "template"
)

// ValidCategory проверяет принадлежность значения к перечислению категорий.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryAssessment, CategoryReport, CategoryDiagram,
		CategoryData, CategoryDocumentation, CategoryTemplate:
		return true
	}
	return false
}

// AccessLevel — уровень доступа к файлу. Pipeline только хранит
// и возвращает значение, enforcement — на стороне вызывающего.
type AccessLevel string

const (
	AccessPublic  AccessLevel = "public"
	AccessTeam    AccessLevel = "team"
	AccessPrivate AccessLevel = "private"
	AccessClient  AccessLevel = "client"
)

// ValidAccessLevel проверяет принадлежность значения к перечислению уровней доступа.
func ValidAccessLevel(a AccessLevel) bool {
	switch a {
	case AccessPublic, AccessTeam, AccessPrivate, AccessClient:
		return true
	}
	return false
}

// ProcessingStatus — статус фоновой обработки файла.
// Конечный автомат: pending → processing → {completed | failed}.
// Терминальные статусы не имеют исходящих переходов — новая версия
// файла создаёт новую запись.
type ProcessingStatus string

const (
	// StatusPending — запись создана, обработка ещё не началась
	StatusPending ProcessingStatus = "pending"
	// StatusProcessing — анализ содержимого выполняется
	StatusProcessing ProcessingStatus = "processing"
	// StatusCompleted — анализ завершён, processing_results заполнены
	StatusCompleted ProcessingStatus = "completed"
	// StatusFailed — анализ завершился ошибкой, в processing_results — сообщение
	StatusFailed ProcessingStatus = "failed"
)

// IsTerminal возвращает true для терминальных статусов обработки.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition проверяет допустимость перехода конечного автомата
// обработки. Статус движется только вперёд: pending < processing < терминальные.
func CanTransition(from, to ProcessingStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		// Терминальные статусы переходов не имеют
		return false
	}
}

// ProcessingResults — результат анализа содержимого файла.
// Заполняется только в терминальных статусах.
type ProcessingResults struct {
	// TextExtracted — извлечённый текст или сообщение обработчика
	TextExtracted string `json:"text_extracted,omitempty"`
	// ImageAnalysis — результат анализа изображения
	ImageAnalysis *ImageAnalysis `json:"image_analysis,omitempty"`
	// StructuredData — сводка по структурированным данным (CSV)
	StructuredData *StructuredData `json:"structured_data,omitempty"`
	// Insights — текстовые выводы анализа, по одному на строку
	Insights []string `json:"insights,omitempty"`
	// Error — сообщение об ошибке (только для failed)
	Error string `json:"error,omitempty"`
}

// ImageAnalysis — результат анализа изображения.
type ImageAnalysis struct {
	// Width, Height — размеры изображения в пикселях
	Width  int `json:"width"`
	Height int `json:"height"`
	// DetectedObjects — обнаруженные категории содержимого
	DetectedObjects []string `json:"detected_objects,omitempty"`
	// Confidence — уверенность распознавания (0..1)
	Confidence float64 `json:"confidence,omitempty"`
}

// StructuredData — сводка по табличному файлу.
type StructuredData struct {
	// Rows — количество строк данных (без заголовка)
	Rows int `json:"rows"`
	// Columns — имена столбцов из заголовка
	Columns []string `json:"columns"`
	// Schema — выведенный тип значения по каждому столбцу
	Schema map[string]string `json:"schema,omitempty"`
}

// FileMetadata — типоспецифичные атрибуты файла, извлечённые при загрузке.
type FileMetadata struct {
	// Dimensions — размеры изображения (только для png/jpg/jpeg)
	Dimensions *Dimensions `json:"dimensions,omitempty"`
	// Pages — количество страниц (только для pdf)
	Pages *int `json:"pages,omitempty"`
	// Encoding — кодировка текстового содержимого (только для txt/csv)
	Encoding string `json:"encoding,omitempty"`
	// Checksum — контрольная сумма содержимого (xxhash64, hex)
	Checksum string `json:"checksum"`
}

// Dimensions — размеры изображения в пикселях.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FileRecord — метаданные загруженного файла. Соответствует строке
// таблицы files. Поле StoragePath не возвращается в API-ответах,
// используется только внутри pipeline.
type FileRecord struct {
	// ID — уникальный идентификатор файла (UUID v4), не совпадает с путём хранения
	ID string `json:"id"`

	// OriginalName — оригинальное имя файла при загрузке
	OriginalName string `json:"original_name"`

	// StoredName — имя файла в хранилище: {id}.{ext}
	StoredName string `json:"stored_name"`

	// Type — тип файла из фиксированного перечисления
	Type FileType `json:"type"`

	// Size — размер файла в байтах
	Size int64 `json:"size"`

	// Checksum — контрольная сумма содержимого (xxhash64, hex)
	Checksum string `json:"checksum"`

	// StoragePath — путь файла в object store: files/{category}/{id}.{ext}
	StoragePath string `json:"-"`

	// URL — адрес для скачивания файла
	URL string `json:"url"`

	// UploadedBy — идентификатор загрузившего (sub из JWT)
	UploadedBy string `json:"uploaded_by"`

	// UploadedAt — дата и время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`

	// LastModified — время последнего изменения метаданных (UTC)
	LastModified time.Time `json:"last_modified"`

	// AssessmentID — идентификатор assessment-владельца (опционально)
	AssessmentID *string `json:"assessment_id,omitempty"`

	// ClientID — идентификатор клиента-владельца (опционально)
	ClientID *string `json:"client_id,omitempty"`

	// Category — категория файла
	Category Category `json:"category"`

	// Tags — теги файла
	Tags []string `json:"tags,omitempty"`

	// AccessLevel — уровень доступа
	AccessLevel AccessLevel `json:"access_level"`

	// IsProcessed — true после успешного завершения фоновой обработки
	IsProcessed bool `json:"is_processed"`

	// ProcessingStatus — текущий статус конечного автомата обработки
	ProcessingStatus ProcessingStatus `json:"processing_status"`

	// ProcessingResults — результат обработки (только терминальные статусы)
	ProcessingResults *ProcessingResults `json:"processing_results,omitempty"`

	// Metadata — типоспецифичные атрибуты, извлечённые при загрузке
	Metadata FileMetadata `json:"metadata"`

	// DownloadCount — счётчик скачиваний, монотонно неубывающий
	DownloadCount int64 `json:"download_count"`

	// Version — номер версии файла
	Version int `json:"version"`

	// ParentFileID — идентификатор родительского файла в цепочке версий
	ParentFileID *string `json:"parent_file_id,omitempty"`
}

// ExtractedText возвращает извлечённый текст из результатов обработки
// или пустую строку, если обработка не завершена.
func (r *FileRecord) ExtractedText() string {
	if r.ProcessingResults == nil {
		return ""
	}
	return r.ProcessingResults.TextExtracted
}
