// Пакет objectstore — операции с физическими файлами на диске.
// Обеспечивает streaming-запись с подсчётом xxhash64 на лету,
// чтение, удаление и обход содержимого для сверки.
//
// Путь блоба: files/{category}/{file_id}.{ext} относительно dataDir.
package objectstore

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Store — управление физическими файлами на диске.
type Store struct {
	// dataDir — корневая директория хранения файлов (FP_DATA_DIR)
	dataDir string
}

// SaveResult — результат сохранения блоба на диск.
type SaveResult struct {
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — xxhash64 содержимого, hex
	Checksum string
}

// New создаёт новый Store. Проверяет и создаёт корневую директорию,
// если она не существует.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// BlobPath формирует относительный путь блоба по категории и имени хранения.
// Пример: BlobPath("report", "a1b2.pdf") → "files/report/a1b2.pdf"
func BlobPath(category, storedName string) string {
	return filepath.Join("files", category, storedName)
}

// Save записывает данные из reader на диск с подсчётом xxhash64 на лету.
// storagePath — относительный путь блоба в dataDir.
//
// Паттерн: temp файл → запись + hash → fsync → atomic rename.
// При ошибке temp файл удаляется, частичных блобов не остаётся.
func (s *Store) Save(reader io.Reader, storagePath string) (*SaveResult, error) {
	fullPath := filepath.Join(s.dataDir, storagePath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(fullPath), err)
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом xxhash64
	hasher := xxhash.New()
	tee := io.TeeReader(reader, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает блоб для чтения и возвращает io.ReadCloser.
// Вызывающий код обязан закрыть файл.
func (s *Store) Open(storagePath string) (*os.File, error) {
	fullPath := filepath.Join(s.dataDir, storagePath)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("блоб не найден: %s", storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия блоба %s: %w", storagePath, err)
	}
	return f, nil
}

// Delete удаляет блоб с диска.
// Возвращает nil, если блоб уже не существует.
func (s *Store) Delete(storagePath string) error {
	fullPath := filepath.Join(s.dataDir, storagePath)

	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления блоба %s: %w", storagePath, err)
	}
	return nil
}

// Exists проверяет существование блоба на диске.
func (s *Store) Exists(storagePath string) bool {
	_, err := os.Stat(filepath.Join(s.dataDir, storagePath))
	return err == nil
}

// Size возвращает размер блоба на диске.
func (s *Store) Size(storagePath string) (int64, error) {
	info, err := os.Stat(filepath.Join(s.dataDir, storagePath))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о блобе %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// FullPath возвращает абсолютный путь блоба на диске.
func (s *Store) FullPath(storagePath string) string {
	return filepath.Join(s.dataDir, storagePath)
}

// DataDir возвращает путь к корневой директории данных.
func (s *Store) DataDir() string {
	return s.dataDir
}

// ComputeChecksum вычисляет xxhash64 существующего блоба.
// Используется при сверке для проверки целостности.
func (s *Store) ComputeChecksum(storagePath string) (string, error) {
	f, err := s.Open(storagePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", storagePath, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// List возвращает относительные пути всех блобов в хранилище.
// Temp файлы (*.tmp) пропускаются. Используется стартовой сверкой
// для поиска осиротевших блобов.
func (s *Store) List() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" {
			return nil
		}
		rel, relErr := filepath.Rel(s.dataDir, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода директории данных: %w", err)
	}
	return paths, nil
}
