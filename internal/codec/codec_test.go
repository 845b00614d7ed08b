package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteUint8(7)
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteUint16(65535)
	w.WriteUint32(1 << 30)
	w.WriteInt32(-42)
	w.WriteUint64(1 << 60)
	w.WriteFloat32(3.5)
	w.WriteFloat64(-2.25)
	require.NoError(t, w.WriteString("орбита"))
	require.NoError(t, w.WriteBlob([]byte{1, 2, 3}))
	require.NoError(t, w.WriteFloat32Array([]float32{0.5, -1.5}))
	require.NoError(t, w.WriteInt32Array([]int32{-1, 0, 1}))

	r := NewReader(w.Bytes())

	u8, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	b1, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b1)
	b2, err := r.ReadBool()
	require.NoError(t, err)
	assert.False(t, b2)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), u16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<30), u32)

	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-42), i32)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<60), u64)

	f32, err := r.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(3.5), f32)

	f64, err := r.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, -2.25, f64)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "орбита", s)

	blob, err := r.ReadBlob()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, blob)

	floats, err := r.ReadFloat32Array()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1.5}, floats)

	ints, err := r.ReadInt32Array()
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 0, 1}, ints)

	assert.Equal(t, 0, r.Remaining(), "После чтения всех полей буфер должен быть пуст")
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{1})
	_, err := r.ReadUint32()
	assert.ErrorIs(t, err, ErrShortBuffer)

	// Позиция не должна сдвигаться после неудачного чтения
	v, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v)
}

func TestReaderStringTruncated(t *testing.T) {
	// Префикс заявляет 10 байт, в буфере только 2
	w := NewWriter()
	w.WriteUint16(10)
	w.WriteRaw([]byte("ab"))

	r := NewReader(w.Bytes())
	_, err := r.ReadString()
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestWriterOversizeLimits(t *testing.T) {
	w := NewWriter()
	err := w.WriteString(strings.Repeat("x", MaxBlobLen+1))
	assert.ErrorIs(t, err, ErrOversize)

	err = w.WriteBlob(make([]byte, MaxBlobLen+1))
	assert.ErrorIs(t, err, ErrOversize)

	err = w.WriteFloat32Array(make([]float32, MaxArrayLen+1))
	assert.ErrorIs(t, err, ErrOversize)

	err = w.WriteInt32Array(make([]int32, MaxArrayLen+1))
	assert.ErrorIs(t, err, ErrOversize)
}

func TestReaderOversizeArray(t *testing.T) {
	// Самодельный префикс длины сверх предела
	w := NewWriter()
	w.WriteUint16(MaxArrayLen + 1)

	r := NewReader(w.Bytes())
	_, err := r.ReadFloat32Array()
	assert.ErrorIs(t, err, ErrOversize)
}

func TestSizePrefixRoundTrip(t *testing.T) {
	cases := []struct {
		size      int
		prefixLen int
	}{
		{0, 1},
		{1, 1},
		{253, 1},
		{254, 3},
		{255, 3},
		{512, 3},
		{65535, 3},
		{65536, 5},
		{1 << 20, 5},
	}
	for _, tc := range cases {
		prefix := AppendSizePrefix(nil, tc.size)
		assert.Len(t, prefix, tc.prefixLen, "Длина префикса для %d", tc.size)
		assert.Equal(t, tc.prefixLen, SizePrefixLen(tc.size))

		size, n, err := ReadSizePrefix(bytes.NewReader(prefix))
		require.NoError(t, err, "Размер %d", tc.size)
		assert.Equal(t, tc.size, size)
		assert.Equal(t, tc.prefixLen, n)
	}
}

func TestReadSizePrefixTruncated(t *testing.T) {
	// Маркер uint16 без последующих байт
	_, _, err := ReadSizePrefix(bytes.NewReader([]byte{0xFE}))
	assert.Error(t, err)

	// Маркер uint32 с одним байтом из четырёх
	_, _, err = ReadSizePrefix(bytes.NewReader([]byte{0xFF, 0x01}))
	assert.Error(t, err)
}
