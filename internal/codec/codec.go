// Package codec определяет бинарный формат полей командного потока.
// Все числа записываются в little-endian; строки и массивы несут
// uint16-префикс длины. Кодек используется и энкодером, и декодером,
// поэтому проводной формат определён ровно в одном месте.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Пределы протокола. Значения сверх пределов трактуются как
// повреждённый поток.
const (
	MaxArrayLen  = 1000  // элементов в массиве атрибута
	MaxBlobLen   = 10000 // байт в строке или бинарном блобе
	MaxTimeStep  = 10000 // миллисекунд в одном шаге времени
	MaxSceneStep = 1000  // миллисекунд в шаге сцены
)

var (
	// ErrShortBuffer не хватает байт для чтения поля
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrOversize длина строки/массива превышает предел протокола
	ErrOversize = errors.New("codec: oversized field")
)

// Writer последовательно пишет поля в растущий байтовый буфер
type Writer struct {
	buf []byte
}

// NewWriter создаёт Writer с начальной ёмкостью
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

// Bytes возвращает накопленные байты (без копии)
func (w *Writer) Bytes() []byte { return w.buf }

// Len возвращает текущую длину буфера
func (w *Writer) Len() int { return len(w.buf) }

// Reset очищает буфер, сохраняя ёмкость
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// WriteUint8 записывает один байт
func (w *Writer) WriteUint8(v uint8) { w.buf = append(w.buf, v) }

// WriteBool записывает bool как один байт
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// WriteUint16 записывает uint16 в little-endian
func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteUint32 записывает uint32 в little-endian
func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteInt32 записывает int32 в little-endian
func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

// WriteUint64 записывает uint64 в little-endian
func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteFloat32 записывает float32 как IEEE-754 биты
func (w *Writer) WriteFloat32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

// WriteFloat64 записывает float64 как IEEE-754 биты
func (w *Writer) WriteFloat64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

// WriteString записывает строку с uint16-префиксом длины
func (w *Writer) WriteString(s string) error {
	if len(s) > MaxBlobLen {
		return fmt.Errorf("%w: string len %d", ErrOversize, len(s))
	}
	w.WriteUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// WriteBlob записывает байтовый блоб с uint16-префиксом длины
func (w *Writer) WriteBlob(b []byte) error {
	if len(b) > MaxBlobLen {
		return fmt.Errorf("%w: blob len %d", ErrOversize, len(b))
	}
	w.WriteUint16(uint16(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

// WriteRaw дописывает байты без префикса
func (w *Writer) WriteRaw(b []byte) { w.buf = append(w.buf, b...) }

// WriteFloat32Array записывает массив float32 с uint16-префиксом числа элементов
func (w *Writer) WriteFloat32Array(vals []float32) error {
	if len(vals) > MaxArrayLen {
		return fmt.Errorf("%w: array len %d", ErrOversize, len(vals))
	}
	w.WriteUint16(uint16(len(vals)))
	for _, v := range vals {
		w.WriteFloat32(v)
	}
	return nil
}

// WriteInt32Array записывает массив int32 с uint16-префиксом числа элементов
func (w *Writer) WriteInt32Array(vals []int32) error {
	if len(vals) > MaxArrayLen {
		return fmt.Errorf("%w: array len %d", ErrOversize, len(vals))
	}
	w.WriteUint16(uint16(len(vals)))
	for _, v := range vals {
		w.WriteInt32(v)
	}
	return nil
}

// Reader последовательно читает поля из байтового среза с проверкой границ
type Reader struct {
	buf []byte
	pos int
}

// NewReader создаёт Reader над срезом (без копии)
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Remaining возвращает число непрочитанных байт
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, len(r.buf)-r.pos)
	}
	return nil
}

// ReadUint8 читает один байт
func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadBool читает bool из одного байта
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

// ReadUint16 читает uint16 из little-endian
func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint32 читает uint32 из little-endian
func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadInt32 читает int32 из little-endian
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 читает uint64 из little-endian
func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadFloat32 читает float32 из IEEE-754 битов
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 читает float64 из IEEE-754 битов
func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadString читает строку с uint16-префиксом длины
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	if int(n) > MaxBlobLen {
		return "", fmt.Errorf("%w: string len %d", ErrOversize, n)
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// ReadBlob читает байтовый блоб с uint16-префиксом длины (копия)
func (r *Reader) ReadBlob() ([]byte, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	if int(n) > MaxBlobLen {
		return nil, fmt.Errorf("%w: blob len %d", ErrOversize, n)
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return b, nil
}

// ReadRaw читает n байт без префикса (копия)
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative raw len %d", ErrOversize, n)
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return b, nil
}

// ReadFloat32Array читает массив float32 с uint16-префиксом числа элементов
func (r *Reader) ReadFloat32Array() ([]float32, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	if int(n) > MaxArrayLen {
		return nil, fmt.Errorf("%w: array len %d", ErrOversize, n)
	}
	vals := make([]float32, n)
	for i := range vals {
		if vals[i], err = r.ReadFloat32(); err != nil {
			return nil, err
		}
	}
	return vals, nil
}

// ReadInt32Array читает массив int32 с uint16-префиксом числа элементов
func (r *Reader) ReadInt32Array() ([]int32, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	if int(n) > MaxArrayLen {
		return nil, fmt.Errorf("%w: array len %d", ErrOversize, n)
	}
	vals := make([]int32, n)
	for i := range vals {
		if vals[i], err = r.ReadInt32(); err != nil {
			return nil, err
		}
	}
	return vals, nil
}
