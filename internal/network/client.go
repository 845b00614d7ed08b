package network

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/replistream/internal/logging"
	"github.com/annel0/replistream/internal/replication"
)

// ClientSession сетевой клиент командного потока: канал до сервера
// плюс декодер. Входящие сообщения копятся в очереди приёма и
// применяются на логическом потоке через Update — горутина приёма
// состояние декодера не трогает.
type ClientSession struct {
	channel Channel
	session *replication.Session
	logger  *logging.Logger

	recv         chan []byte
	disconnected atomic.Bool
	version      uint16
}

// Connect устанавливает соединение, проводит рукопожатие версии и
// создаёт декодер. transport — "tcp" или "kcp".
func Connect(ctx context.Context, transport, addr string, cb replication.Callbacks,
	config *ChannelConfig, logger *logging.Logger) (*ClientSession, error) {

	if config == nil {
		config = DefaultChannelConfig()
	}
	if logger == nil {
		logger = logging.GetNetworkLogger()
	}

	var conn net.Conn
	var err error
	switch transport {
	case "tcp":
		dialer := net.Dialer{Timeout: config.ConnectTimeout}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	case "kcp":
		conn, err = kcp.DialWithOptions(addr, nil, 10, 3)
	default:
		return nil, fmt.Errorf("неизвестный транспорт %q", transport)
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к %s: %w", addr, err)
	}

	version, err := clientHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	var channel Channel
	if kcpConn, ok := conn.(*kcp.UDPSession); ok {
		channel = NewKCPChannelFromConn(kcpConn, config, logger)
	} else {
		channel = NewTCPChannelFromConn(conn, config, logger)
	}

	cs := &ClientSession{
		channel: channel,
		logger:  logger,
		recv:    make(chan []byte, config.BufferSize),
		version: version,
	}
	cs.session = replication.NewSession(cb, logger)
	if err := cs.session.SetProtocolVersion(version); err != nil {
		channel.Close()
		return nil, err
	}
	cs.session.SetFeed(cs)

	channel.SetOnMessage(cs.onMessage)
	channel.SetOnDisconnect(func(err error) {
		logger.Warn("соединение потеряно: %v", err)
		cs.disconnected.Store(true)
	})

	logger.Info("подключено к %s по %s (версия протокола %d)", addr, transport, version)
	return cs, nil
}

func (cs *ClientSession) onMessage(data []byte) {
	select {
	case cs.recv <- data:
	default:
		// Логический поток безнадёжно отстал от сети
		cs.logger.Error("очередь приёма переполнена, сообщение потеряно")
		cs.disconnected.Store(true)
	}
}

// FetchMore переносит накопленные сообщения из очереди приёма в
// декодер. Не блокируется: пустая очередь при живом соединении —
// обычное ожидание сети.
func (cs *ClientSession) FetchMore() (bool, error) {
	got := false
	for {
		select {
		case raw := <-cs.recv:
			if err := cs.session.HandleSessionMessage(raw); err != nil {
				return false, err
			}
			got = true
		default:
			if got {
				return true, nil
			}
			if cs.disconnected.Load() {
				return false, fmt.Errorf("соединение с сервером потеряно")
			}
			return false, nil
		}
	}
}

// OnBufferUnderrun сетевой фид просто ждёт следующие пакеты
func (cs *ClientSession) OnBufferUnderrun() {}

// Update продвигает декодер на шаг реального времени
func (cs *ClientSession) Update(advanceMs int64) {
	cs.session.Update(advanceMs)
}

// Session возвращает декодер
func (cs *ClientSession) Session() *replication.Session { return cs.session }

// Version возвращает согласованную версию протокола
func (cs *ClientSession) Version() uint16 { return cs.version }

// Close закрывает соединение и завершает декодер
func (cs *ClientSession) Close() error {
	cs.session.End()
	return cs.channel.Close()
}
