// Пакет extract — извлечение технических метаданных из блобов.
//
// Для изображений определяются размеры, для PDF — число страниц,
// для текстовых форматов — кодировка. Ошибка извлечения не считается
// фатальной: метаданные остаются частично заполненными.
package extract

import (
	"fmt"
	"image"
	"os"
	"unicode/utf8"

	// Регистрация декодеров для image.DecodeConfig
	_ "image/jpeg"
	_ "image/png"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/cloudascent/file-pipeline/internal/domain/model"
)

// Metadata извлекает технические метаданные блоба по типу файла.
// Checksum заполняется вызывающим кодом при записи блоба,
// здесь не вычисляется.
func Metadata(fileType model.FileType, fullPath string) (model.FileMetadata, error) {
	var meta model.FileMetadata

	switch fileType {
	case model.TypePNG, model.TypeJPG, model.TypeJPEG:
		dims, err := ImageDimensions(fullPath)
		if err != nil {
			return meta, err
		}
		meta.Dimensions = dims
	case model.TypePDF:
		pages, err := PDFPageCount(fullPath)
		if err != nil {
			return meta, err
		}
		meta.Pages = &pages
	case model.TypeTXT, model.TypeCSV:
		enc, err := TextEncoding(fullPath)
		if err != nil {
			return meta, err
		}
		meta.Encoding = enc
	}
	return meta, nil
}

// ImageDimensions определяет размеры изображения без полного
// декодирования пикселей.
func ImageDimensions(fullPath string) (*model.Dimensions, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия изображения: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования изображения: %w", err)
	}
	return &model.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// PDFPageCount возвращает число страниц PDF документа.
func PDFPageCount(fullPath string) (int, error) {
	pages, err := api.PageCountFile(fullPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта страниц PDF: %w", err)
	}
	return pages, nil
}

// TextEncoding определяет кодировку текстового файла по первым 4 КиБ.
// Валидный UTF-8 → "utf-8", иначе считается однобайтовой кодировкой.
func TextEncoding(fullPath string) (string, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия текстового файла: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 4096)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		// Пустой файл считается UTF-8
		return "utf-8", nil
	}
	sample := buf[:n]

	// Выборка могла разрезать multibyte символ на границе,
	// отбрасываем до 3 хвостовых байт
	for i := 0; i < 4; i++ {
		if utf8.Valid(sample) {
			return "utf-8", nil
		}
		if len(sample) == 0 {
			break
		}
		sample = sample[:len(sample)-1]
	}
	return "iso-8859-1", nil
}
