// Package library реализует каталог записанных реплеев: метаданные
// хранятся в BadgerDB, сами файлы лежат рядом на диске.
package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/annel0/replistream/internal/logging"
)

// ReplayMeta метаданные записанного реплея
type ReplayMeta struct {
	ID         uuid.UUID `json:"id"`          // Уникальный ID реплея
	Path       string    `json:"path"`        // Путь к файлу реплея
	StartedAt  time.Time `json:"started_at"`  // Момент начала записи
	DurationMs int64     `json:"duration_ms"` // Длительность по базовому времени
	Version    uint16    `json:"version"`     // Версия протокола файла
	SizeBytes  int64     `json:"size_bytes"`  // Размер файла на диске
}

// Library каталог реплеев поверх BadgerDB
type Library struct {
	db      *badger.DB
	dir     string
	mutex   sync.RWMutex
	isReady bool
	logger  *logging.Logger
}

// NewLibrary открывает каталог реплеев в указанной директории.
// Файлы реплеев живут в dir, индекс метаданных — в dir/index.
func NewLibrary(dir string, logger *logging.Logger) (*Library, error) {
	if logger == nil {
		logger = logging.GetReplayLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("создание директории реплеев: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dir, "index"))
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &Library{
		db:      db,
		dir:     dir,
		isReady: true,
		logger:  logger,
	}, nil
}

// Close закрывает каталог реплеев
func (l *Library) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.isReady {
		return nil
	}

	l.isReady = false
	return l.db.Close()
}

// Dir возвращает директорию файлов реплеев
func (l *Library) Dir() string { return l.dir }

// NewReplayPath выделяет ID и путь для нового файла реплея
func (l *Library) NewReplayPath() (uuid.UUID, string) {
	id := uuid.New()
	return id, filepath.Join(l.dir, id.String()+".rpls")
}

// Put сохраняет метаданные реплея. Размер файла снимается с диска,
// если он не задан вызывающим.
func (l *Library) Put(meta ReplayMeta) error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if !l.isReady {
		return fmt.Errorf("каталог реплеев не готов")
	}

	if meta.SizeBytes == 0 {
		if info, err := os.Stat(meta.Path); err == nil {
			meta.SizeBytes = info.Size()
		}
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(meta.ID), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	l.logger.Info("реплей %s добавлен в каталог (%d мс, %d байт)",
		meta.ID, meta.DurationMs, meta.SizeBytes)
	return nil
}

// Get возвращает метаданные реплея по ID; (nil, nil) если не найден
func (l *Library) Get(id uuid.UUID) (*ReplayMeta, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if !l.isReady {
		return nil, fmt.Errorf("каталог реплеев не готов")
	}

	var data []byte
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	var meta ReplayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("ошибка десериализации метаданных: %w", err)
	}
	return &meta, nil
}

// List возвращает метаданные всех реплеев каталога
func (l *Library) List() ([]ReplayMeta, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if !l.isReady {
		return nil, fmt.Errorf("каталог реплеев не готов")
	}

	var out []ReplayMeta
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta ReplayMeta
				if err := json.Unmarshal(val, &meta); err != nil {
					return fmt.Errorf("ошибка десериализации метаданных: %w", err)
				}
				out = append(out, meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return out, nil
}

// Delete удаляет реплей: и метаданные, и файл на диске.
// Отсутствующая запись не ошибка.
func (l *Library) Delete(id uuid.UUID) error {
	meta, err := l.Get(id)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}

	l.mutex.RLock()
	defer l.mutex.RUnlock()

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(id))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}

	if err := os.Remove(meta.Path); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("файл реплея %s не удалён: %v", meta.Path, err)
	}
	l.logger.Info("реплей %s удалён из каталога", id)
	return nil
}

const keyPrefix = "replay:"

func metaKey(id uuid.UUID) []byte {
	return []byte(keyPrefix + id.String())
}
