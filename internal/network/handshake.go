package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/annel0/replistream/internal/replication"
)

// Рукопожатие версии протокола выполняется на сыром соединении до
// запуска циклов канала:
//   клиент → сервер: [2 байта LE: версия клиента]
//   сервер → клиент: [2 байта LE: согласованная версия, 0 — отказ]
const handshakeTimeout = 5 * time.Second

// ErrHandshake рукопожатие версии протокола не удалось
var ErrHandshake = errors.New("network: ошибка рукопожатия")

// serverHandshake принимает версию клиента и отвечает согласованной.
// Клиент старше сервера опускается до версии сервера; клиент младше
// минимальной получает отказ.
func serverHandshake(conn net.Conn) (uint16, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	var buf [2]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	clientVersion := binary.LittleEndian.Uint16(buf[:])

	negotiated := clientVersion
	if negotiated > replication.ProtocolVersion {
		negotiated = replication.ProtocolVersion
	}
	if clientVersion < replication.MinProtocolVersion {
		negotiated = 0
	}

	binary.LittleEndian.PutUint16(buf[:], negotiated)
	if _, err := conn.Write(buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if negotiated == 0 {
		return 0, fmt.Errorf("%w: версия клиента %d ниже минимальной %d",
			ErrHandshake, clientVersion, replication.MinProtocolVersion)
	}
	return negotiated, nil
}

// clientHandshake объявляет свою версию и принимает согласованную
func clientHandshake(conn net.Conn) (uint16, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], replication.ProtocolVersion)
	if _, err := conn.Write(buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	negotiated := binary.LittleEndian.Uint16(buf[:])
	if negotiated < replication.MinProtocolVersion || negotiated > replication.ProtocolVersion {
		return 0, fmt.Errorf("%w: сервер предложил неподдерживаемую версию %d", ErrHandshake, negotiated)
	}
	return negotiated, nil
}
