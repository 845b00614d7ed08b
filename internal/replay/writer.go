package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/replistream/internal/codec"
	"github.com/annel0/replistream/internal/logging"
	"github.com/annel0/replistream/internal/metrics"
	"github.com/annel0/replistream/internal/replication"
)

// Формат файла реплея:
//   [4 байта: магия файла]
//   [2 байта: версия протокола]
//   повтор: [префикс размера 1/3/5 байт][сжатое сообщение]
// Конец файла — неявный терминатор.
const (
	// FileMagic магия файла реплея ("RPLS" в little-endian)
	FileMagic uint32 = 0x534C5052
	// HeaderSize размер заголовка файла
	HeaderSize = 6
)

// ErrWriterClosed запись остановлена (закрыта или отказал диск)
var ErrWriterClosed = errors.New("replay: запись закрыта")

// Writer фоновый писатель файла реплея. Готовые сообщения передаются
// через односторонний канал; сжатие и дисковый ввод-вывод выполняются
// в фоновой горутине — энкодер никогда не блокируется на диске.
type Writer struct {
	path   string
	file   *os.File
	enc    *zstd.Encoder
	queue  chan []byte
	wg     sync.WaitGroup
	closed atomic.Bool
	failed atomic.Bool
	handle *Handle
	logger *logging.Logger
}

// NewWriter захватывает общепроцессный ресурс реплея, создаёт файл
// и пишет заголовок. Размер очереди ограничивает расход памяти при
// медленном диске.
func NewWriter(path string, queueSize int, logger *logging.Logger) (*Writer, error) {
	if logger == nil {
		logger = logging.GetReplayLogger()
	}
	handle, err := AcquireProcessGuard("writer:" + path)
	if err != nil {
		return nil, err
	}

	file, err := os.Create(path)
	if err != nil {
		handle.Release()
		return nil, fmt.Errorf("создание файла реплея: %w", err)
	}

	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], FileMagic)
	binary.LittleEndian.PutUint16(header[4:6], replication.ProtocolVersion)
	if _, err := file.Write(header[:]); err != nil {
		file.Close()
		handle.Release()
		return nil, fmt.Errorf("запись заголовка реплея: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		file.Close()
		handle.Release()
		return nil, fmt.Errorf("инициализация zstd: %w", err)
	}

	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		path:   path,
		file:   file,
		enc:    enc,
		queue:  make(chan []byte, queueSize),
		handle: handle,
		logger: logger,
	}
	w.wg.Add(1)
	go w.writeLoop()
	logger.Info("запись реплея начата: %s", path)
	return w, nil
}

// Path возвращает путь файла реплея
func (w *Writer) Path() string { return w.path }

// Append ставит готовое сообщение в очередь записи. Никогда не
// блокируется: переполненная очередь означает отставший диск и
// трактуется как отказ записи.
func (w *Writer) Append(message []byte) error {
	if w.closed.Load() || w.failed.Load() {
		return ErrWriterClosed
	}
	// Сообщение копируется: энкодер переиспользует свой буфер
	msg := append([]byte(nil), message...)
	select {
	case w.queue <- msg:
		return nil
	default:
		w.failed.Store(true)
		return fmt.Errorf("%w: очередь записи переполнена", ErrWriterClosed)
	}
}

// writeLoop сжимает и дописывает сообщения в файл
func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for msg := range w.queue {
		if w.failed.Load() {
			continue
		}
		compressed := w.enc.EncodeAll(msg, nil)
		record := codec.AppendSizePrefix(nil, len(compressed))
		record = append(record, compressed...)
		if _, err := w.file.Write(record); err != nil {
			w.failed.Store(true)
			w.logger.Error("ошибка записи файла реплея: %v", err)
			continue
		}
		metrics.ReplayRecordsWritten.Inc()
		metrics.ReplayBytesWritten.Add(float64(len(record)))
	}
}

// Close останавливает запись, дописывает очередь и освобождает
// общепроцессный ресурс. Идемпотентно.
func (w *Writer) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	close(w.queue)
	w.wg.Wait()
	w.enc.Close()
	err := w.file.Close()
	w.handle.Release()
	w.logger.Info("запись реплея завершена: %s", w.path)
	return err
}

// Failed сообщает, отказала ли запись
func (w *Writer) Failed() bool { return w.failed.Load() }
