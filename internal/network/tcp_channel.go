package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/replistream/internal/logging"
)

// ErrChannelClosed канал закрыт или очередь отправки переполнена
var ErrChannelClosed = errors.New("network: канал закрыт")

// TCPChannel реализует Channel поверх TCP соединения
type TCPChannel struct {
	conn   net.Conn
	config *ChannelConfig
	logger *logging.Logger

	// Статистика
	stats ConnectionStats

	// Обработчики событий
	onMessage    func([]byte)
	onDisconnect func(error)

	// Контроль выполнения
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Сжатие
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder

	sendBuffer chan []byte

	closeOnce sync.Once
	mu        sync.RWMutex
}

// NewTCPChannelFromConn создаёт TCP канал из установленного соединения
func NewTCPChannelFromConn(conn net.Conn, config *ChannelConfig, logger *logging.Logger) *TCPChannel {
	if config == nil {
		config = DefaultChannelConfig()
	}
	if logger == nil {
		logger = logging.GetNetworkLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	channel := &TCPChannel{
		conn:       conn,
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		sendBuffer: make(chan []byte, config.BufferSize),
	}
	channel.initCompression()

	channel.stats.Connected = true
	channel.stats.RemoteAddr = conn.RemoteAddr().String()
	channel.stats.LastActivity = time.Now()

	channel.wg.Add(2)
	go channel.sendLoop()
	go channel.receiveLoop()

	logger.Debug("TCP канал создан: addr=%s", conn.RemoteAddr().String())
	return channel
}

func (tc *TCPChannel) initCompression() {
	if !tc.config.Compression {
		return
	}
	var err error
	tc.compressor, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		tc.logger.Error("не удалось создать компрессор: %v", err)
	}
	tc.decompressor, err = zstd.NewReader(nil)
	if err != nil {
		tc.logger.Error("не удалось создать декомпрессор: %v", err)
	}
}

// ID возвращает адрес удалённой стороны
func (tc *TCPChannel) ID() string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.stats.RemoteAddr
}

// SendReliable ставит сообщение в очередь отправки. Переполненная
// очередь означает безнадёжно отставшего пира.
func (tc *TCPChannel) SendReliable(data []byte) error {
	msg := append([]byte(nil), data...)
	select {
	case tc.sendBuffer <- msg:
		return nil
	case <-tc.ctx.Done():
		return ErrChannelClosed
	default:
		return fmt.Errorf("%w: очередь отправки переполнена", ErrChannelClosed)
	}
}

// SetOnMessage устанавливает обработчик входящих сообщений
func (tc *TCPChannel) SetOnMessage(handler func([]byte)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.onMessage = handler
}

// SetOnDisconnect устанавливает обработчик разрыва соединения
func (tc *TCPChannel) SetOnDisconnect(handler func(error)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.onDisconnect = handler
}

// Stats возвращает статистику соединения
func (tc *TCPChannel) Stats() ConnectionStats {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.stats
}

func (tc *TCPChannel) sendLoop() {
	defer tc.wg.Done()
	for {
		select {
		case msg := <-tc.sendBuffer:
			n, err := writeFrame(tc.conn, msg, tc.compressor)
			if err != nil {
				tc.disconnect(fmt.Errorf("ошибка отправки: %w", err))
				return
			}
			tc.mu.Lock()
			tc.stats.BytesSent += uint64(n)
			tc.stats.MessagesSent++
			tc.stats.LastActivity = time.Now()
			tc.mu.Unlock()
		case <-tc.ctx.Done():
			return
		}
	}
}

func (tc *TCPChannel) receiveLoop() {
	defer tc.wg.Done()
	for {
		payload, n, err := readFrame(tc.conn, tc.decompressor)
		if err != nil {
			select {
			case <-tc.ctx.Done():
			default:
				tc.disconnect(fmt.Errorf("ошибка приёма: %w", err))
			}
			return
		}
		tc.mu.Lock()
		tc.stats.BytesReceived += uint64(n)
		tc.stats.MessagesReceived++
		tc.stats.LastActivity = time.Now()
		handler := tc.onMessage
		tc.mu.Unlock()

		if handler != nil {
			handler(payload)
		}
	}
}

func (tc *TCPChannel) disconnect(err error) {
	tc.mu.Lock()
	tc.stats.Connected = false
	handler := tc.onDisconnect
	tc.mu.Unlock()

	tc.Close()
	if handler != nil {
		handler(err)
	}
}

// Close закрывает канал. Идемпотентно.
func (tc *TCPChannel) Close() error {
	tc.closeOnce.Do(func() {
		tc.cancel()
		tc.conn.Close()
		tc.mu.Lock()
		tc.stats.Connected = false
		tc.mu.Unlock()
	})
	return nil
}
