package network

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/replistream/internal/codec"
	"github.com/annel0/replistream/internal/replication"
)

func TestFrameRoundTripSmall(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("короткое сообщение")

	n, err := writeFrame(&buf, payload, nil)
	require.NoError(t, err)
	assert.Equal(t, 5+len(payload), n, "Маленький кадр не сжимается")

	got, read, err := readFrame(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, n, read)
}

func TestFrameRoundTripCompressed(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	// Повторяющаяся нагрузка длиннее порога сжатия
	payload := bytes.Repeat([]byte("replicate "), 200)
	require.GreaterOrEqual(t, len(payload), compressThreshold)

	var buf bytes.Buffer
	n, err := writeFrame(&buf, payload, enc)
	require.NoError(t, err)
	assert.Less(t, n, len(payload), "Сжимаемая нагрузка обязана ужаться")

	got, _, err := readFrame(&buf, dec)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameCompressedNeedsDecoder(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()

	var buf bytes.Buffer
	_, err = writeFrame(&buf, bytes.Repeat([]byte("x"), 1024), enc)
	require.NoError(t, err)

	_, _, err = readFrame(&buf, nil)
	assert.Error(t, err, "Сжатый кадр без декомпрессора — ошибка")
}

func TestFrameRejectsBadLength(t *testing.T) {
	// Нулевая длина
	var zero bytes.Buffer
	binary.Write(&zero, binary.LittleEndian, uint32(0))
	_, _, err := readFrame(&zero, nil)
	assert.Error(t, err)

	// Длина сверх предела
	var huge bytes.Buffer
	binary.Write(&huge, binary.LittleEndian, uint32(maxFrameSize+1))
	_, _, err = readFrame(&huge, nil)
	assert.Error(t, err)
}

func TestHandshakeNegotiatesVersion(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	result := make(chan uint16, 1)
	errs := make(chan error, 1)
	go func() {
		v, err := serverHandshake(server)
		result <- v
		errs <- err
	}()

	v, err := clientHandshake(client)
	require.NoError(t, err)
	assert.Equal(t, replication.ProtocolVersion, v)
	assert.Equal(t, replication.ProtocolVersion, <-result)
	assert.NoError(t, <-errs)
}

func TestHandshakeDowngradesNewerClient(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		// Клиент из будущего объявляет версию выше серверной
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], replication.ProtocolVersion+7)
		client.Write(buf[:])
		client.Read(buf[:])
	}()

	v, err := serverHandshake(server)
	require.NoError(t, err)
	assert.Equal(t, replication.ProtocolVersion, v, "Клиент новее сервера опускается до серверной версии")
}

func TestHandshakeRejectsAncientClient(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	reply := make(chan uint16, 1)
	go func() {
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], 0)
		client.Write(buf[:])
		if _, err := client.Read(buf[:]); err == nil {
			reply <- binary.LittleEndian.Uint16(buf[:])
		} else {
			reply <- 0xFFFF
		}
	}()

	_, err := serverHandshake(server)
	assert.ErrorIs(t, err, ErrHandshake)
	assert.Equal(t, uint16(0), <-reply, "Отказ кодируется нулевой версией")
}

func TestTCPChannelDelivery(t *testing.T) {
	serverConn, clientConn := net.Pipe()

	server := NewTCPChannelFromConn(serverConn, nil, nil)
	client := NewTCPChannelFromConn(clientConn, nil, nil)
	defer server.Close()
	defer client.Close()

	received := make(chan []byte, 1)
	client.SetOnMessage(func(data []byte) { received <- data })

	msg := []byte{1, 2, 3, 4, 5}
	require.NoError(t, server.SendReliable(msg))

	select {
	case got := <-received:
		assert.Equal(t, msg, got)
	case <-time.After(2 * time.Second):
		t.Fatal("Сообщение не дошло до получателя")
	}

	// Статистика отправителя обновляется после записи в провод
	deadline := time.Now().Add(time.Second)
	for server.Stats().MessagesSent == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stats := server.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, uint64(1), stats.MessagesSent)
	assert.Greater(t, stats.BytesSent, uint64(0))
}

func TestTCPChannelDisconnectHandler(t *testing.T) {
	serverConn, clientConn := net.Pipe()

	server := NewTCPChannelFromConn(serverConn, nil, nil)
	client := NewTCPChannelFromConn(clientConn, nil, nil)
	defer server.Close()

	disconnected := make(chan error, 1)
	client.SetOnDisconnect(func(err error) { disconnected <- err })

	// Обрыв провода со стороны сервера
	serverConn.Close()

	select {
	case err := <-disconnected:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Обработчик разрыва не вызван")
	}
	assert.False(t, client.Stats().Connected)
}

func TestServerClientEndToEnd(t *testing.T) {
	server, err := NewServer("127.0.0.1:0", "", nil, nil)
	require.NoError(t, err)
	defer server.Close()
	addr := server.tcpListener.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Connect(ctx, "tcp", addr, nil, nil, nil)
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, replication.ProtocolVersion, client.Version())

	// Сервер видит прошедшего рукопожатие пира
	var peer PeerEvent
	select {
	case peer = <-server.Pending():
	case <-time.After(2 * time.Second):
		t.Fatal("Пир не появился в очереди сервера")
	}
	assert.Equal(t, replication.ProtocolVersion, peer.Version)
	defer peer.Channel.Close()

	// Батч с шагом времени доезжает до декодера клиента
	w := codec.NewWriter()
	w.WriteUint8(replication.MsgCommandBatch)
	cmd := codec.NewWriter()
	cmd.WriteUint8(uint8(replication.OpTimeStep))
	cmd.WriteUint16(50)
	w.WriteUint16(uint16(cmd.Len()))
	w.WriteRaw(cmd.Bytes())
	require.NoError(t, peer.Channel.SendReliable(w.Bytes()))

	deadline := time.Now().Add(2 * time.Second)
	for client.Session().CurrentTimeMs() < 50 && time.Now().Before(deadline) {
		client.Update(10)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int64(50), client.Session().CurrentTimeMs())
}

func TestServerRequiresListener(t *testing.T) {
	_, err := NewServer("", "", nil, nil)
	assert.Error(t, err, "Хотя бы один транспорт обязателен")
}

func TestConnectUnknownTransport(t *testing.T) {
	_, err := Connect(context.Background(), "carrier-pigeon", "127.0.0.1:1", nil, nil, nil)
	assert.Error(t, err)
}

func TestClientDetectsServerLoss(t *testing.T) {
	server, err := NewServer("127.0.0.1:0", "", nil, nil)
	require.NoError(t, err)
	addr := server.tcpListener.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Connect(ctx, "tcp", addr, nil, nil, nil)
	require.NoError(t, err)
	defer client.Close()

	var peer PeerEvent
	select {
	case peer = <-server.Pending():
	case <-time.After(2 * time.Second):
		t.Fatal("Пир не появился в очереди сервера")
	}

	// Сервер пропадает целиком
	peer.Channel.Close()
	server.Close()

	deadline := time.Now().Add(2 * time.Second)
	for client.Session().State() != replication.StateEnded && time.Now().Before(deadline) {
		client.Update(10)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, replication.StateEnded, client.Session().State(),
		"Потеря соединения завершает сессию декодера")
}
