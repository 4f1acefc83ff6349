// analyze.go — анализаторы содержимого по типам файлов.
//
// Анализатор получает путь блоба и возвращает результаты обработки.
// Ошибка анализатора переводит файл в терминальный статус failed.
package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cloudascent/file-pipeline/internal/domain/model"
	"github.com/cloudascent/file-pipeline/internal/extract"
)

// Лимит извлекаемого текста: результаты хранятся в JSONB,
// мегабайтные блобы текста там не нужны.
const maxExtractedText = 64 * 1024

// analyzeFile выбирает анализатор по типу файла.
func analyzeFile(ctx context.Context, fileType model.FileType, fullPath string) (*model.ProcessingResults, error) {
	// Отмена контекста проверяется до тяжёлой работы
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch fileType {
	case model.TypePDF:
		return analyzePDF(fullPath)
	case model.TypePNG, model.TypeJPG, model.TypeJPEG:
		return analyzeImage(fullPath)
	case model.TypeCSV:
		return analyzeCSV(fullPath)
	case model.TypeTXT:
		return analyzeText(fullPath)
	case model.TypeDOCX, model.TypeXLSX:
		// Бинарные офисные форматы принимаются без анализа содержимого
		return &model.ProcessingResults{
			Insights: []string{fmt.Sprintf("Автоматический анализ содержимого для формата %s не выполняется", fileType)},
		}, nil
	default:
		return nil, fmt.Errorf("нет анализатора для типа %s", fileType)
	}
}

// analyzePDF извлекает структурные сведения о PDF документе.
func analyzePDF(fullPath string) (*model.ProcessingResults, error) {
	pages, err := extract.PDFPageCount(fullPath)
	if err != nil {
		return nil, fmt.Errorf("анализ PDF: %w", err)
	}

	insights := []string{fmt.Sprintf("Документ содержит %d страниц", pages)}
	if pages > 100 {
		insights = append(insights, "Объёмный документ, просмотр может быть медленным")
	}

	return &model.ProcessingResults{Insights: insights}, nil
}

// analyzeImage определяет размеры изображения.
func analyzeImage(fullPath string) (*model.ProcessingResults, error) {
	dims, err := extract.ImageDimensions(fullPath)
	if err != nil {
		return nil, fmt.Errorf("анализ изображения: %w", err)
	}

	return &model.ProcessingResults{
		ImageAnalysis: &model.ImageAnalysis{
			Width:           dims.Width,
			Height:          dims.Height,
			DetectedObjects: []string{},
			Confidence:      1.0,
		},
		Insights: []string{fmt.Sprintf("Изображение %dx%d", dims.Width, dims.Height)},
	}, nil
}

// analyzeCSV разбирает таблицу: число строк, колонки, грубая схема типов.
func analyzeCSV(fullPath string) (*model.ProcessingResults, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("анализ CSV: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("анализ CSV: пустой файл")
		}
		return nil, fmt.Errorf("анализ CSV: %w", err)
	}

	// Схема выводится по первой строке данных
	schema := make(map[string]string, len(header))
	rows := 0
	first, err := reader.Read()
	if err == nil {
		rows++
		for i, col := range header {
			if i < len(first) {
				schema[col] = guessColumnType(first[i])
			}
		}
	} else if err != io.EOF {
		return nil, fmt.Errorf("анализ CSV: %w", err)
	}
	for _, col := range header {
		if _, ok := schema[col]; !ok {
			schema[col] = "unknown"
		}
	}

	// Остальные строки только считаем
	for {
		if _, err := reader.Read(); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("анализ CSV: %w", err)
		}
		rows++
	}

	return &model.ProcessingResults{
		StructuredData: &model.StructuredData{
			Rows:    rows,
			Columns: header,
			Schema:  schema,
		},
		Insights: []string{fmt.Sprintf("Таблица: %d строк, %d колонок", rows, len(header))},
	}, nil
}

// analyzeText извлекает текст и базовую статистику.
func analyzeText(fullPath string) (*model.ProcessingResults, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("анализ текста: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxExtractedText))
	if err != nil {
		return nil, fmt.Errorf("анализ текста: %w", err)
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}

	words := len(strings.Fields(text))
	lines := strings.Count(text, "\n") + 1

	return &model.ProcessingResults{
		TextExtracted: text,
		Insights: []string{
			fmt.Sprintf("Текст: %d строк, %d слов", lines, words),
		},
	}, nil
}

// guessColumnType — грубое определение типа значения колонки.
func guessColumnType(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return "unknown"
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return "integer"
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return "number"
	}
	if _, err := strconv.ParseBool(v); err == nil {
		return "boolean"
	}
	return "text"
}
