package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Переменный префикс размера записи в файле реплея:
//   n < 254        → 1 байт
//   n < 65536      → 0xFE + uint16
//   иначе          → 0xFF + uint32
const (
	sizeMarker16 = 0xFE
	sizeMarker32 = 0xFF
)

// AppendSizePrefix дописывает префикс размера n к dst
func AppendSizePrefix(dst []byte, n int) []byte {
	switch {
	case n < int(sizeMarker16):
		return append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, sizeMarker16)
		return binary.LittleEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, sizeMarker32)
		return binary.LittleEndian.AppendUint32(dst, uint32(n))
	}
}

// SizePrefixLen возвращает длину префикса для размера n
func SizePrefixLen(n int) int {
	switch {
	case n < int(sizeMarker16):
		return 1
	case n <= 0xFFFF:
		return 3
	default:
		return 5
	}
}

// ReadSizePrefix читает префикс размера из io.Reader и возвращает
// размер записи и число прочитанных байт префикса.
func ReadSizePrefix(r io.Reader) (size int, prefixLen int, err error) {
	var b [4]byte
	if _, err = io.ReadFull(r, b[:1]); err != nil {
		return 0, 0, err
	}
	switch b[0] {
	case sizeMarker16:
		if _, err = io.ReadFull(r, b[:2]); err != nil {
			return 0, 1, fmt.Errorf("size prefix: %w", err)
		}
		return int(binary.LittleEndian.Uint16(b[:2])), 3, nil
	case sizeMarker32:
		if _, err = io.ReadFull(r, b[:4]); err != nil {
			return 0, 1, fmt.Errorf("size prefix: %w", err)
		}
		return int(binary.LittleEndian.Uint32(b[:4])), 5, nil
	default:
		return int(b[0]), 1, nil
	}
}
