package network

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Кадр на проводе:
//   [4 байта LE: длина остатка]
//   [1 байт: флаги]
//   [полезная нагрузка]
const (
	flagCompressed = 0x01

	// maxFrameSize предел длины кадра; больший кадр — повреждённый поток
	maxFrameSize = 8 << 20

	// compressThreshold кадры короче порога не сжимаются
	compressThreshold = 512
)

// writeFrame кадрирует и отправляет сообщение; enc == nil отключает сжатие
func writeFrame(w io.Writer, payload []byte, enc *zstd.Encoder) (int, error) {
	flags := byte(0)
	if enc != nil && len(payload) >= compressThreshold {
		compressed := enc.EncodeAll(payload, nil)
		if len(compressed) < len(payload) {
			payload = compressed
			flags = flagCompressed
		}
	}

	frame := make([]byte, 0, 5+len(payload))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(1+len(payload)))
	frame = append(frame, flags)
	frame = append(frame, payload...)
	if _, err := w.Write(frame); err != nil {
		return 0, err
	}
	return len(frame), nil
}

// readFrame читает один кадр и возвращает распакованную нагрузку
func readFrame(r io.Reader, dec *zstd.Decoder) ([]byte, int, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length == 0 || length > maxFrameSize {
		return nil, 4, fmt.Errorf("недопустимая длина кадра %d", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 4, err
	}
	flags, payload := body[0], body[1:]

	if flags&flagCompressed != 0 {
		if dec == nil {
			return nil, 4 + int(length), fmt.Errorf("сжатый кадр при отключённом сжатии")
		}
		raw, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, 4 + int(length), fmt.Errorf("распаковка кадра: %w", err)
		}
		payload = raw
	} else {
		payload = append([]byte(nil), payload...)
	}
	return payload, 4 + int(length), nil
}
