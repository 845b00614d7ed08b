package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/replistream/internal/logging"
)

// KCPChannel реализует Channel поверх KCP (надёжный UDP)
type KCPChannel struct {
	conn   *kcp.UDPSession
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

// NewKCPChannelFromConn создаёт KCP канал из установленного соединения
func NewKCPChannelFromConn(conn *kcp.UDPSession, config *ChannelConfig, logger *logging.Logger) *KCPChannel {
	if config == nil {
		config = DefaultChannelConfig()
	}
	if logger == nil {
		logger = logging.GetNetworkLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	channel := &KCPChannel{
		conn:       conn,
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		sendBuffer: make(chan []byte, config.BufferSize),
	}
	channel.initCompression()
	tuneKCP(conn)

	channel.stats.Connected = true
	channel.stats.RemoteAddr = conn.RemoteAddr().String()
	channel.stats.LastActivity = time.Now()

	channel.wg.Add(2)
	go channel.sendLoop()
	go channel.receiveLoop()

	logger.Debug("KCP канал создан: addr=%s", conn.RemoteAddr().String())
	return channel
}

// tuneKCP настраивает KCP параметры для интерактивного трафика
func tuneKCP(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)
}

func (kc *KCPChannel) initCompression() {
	if !kc.config.Compression {
		return
	}
	var err error
	kc.compressor, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		kc.logger.Error("не удалось создать компрессор: %v", err)
	}
	kc.decompressor, err = zstd.NewReader(nil)
	if err != nil {
		kc.logger.Error("не удалось создать декомпрессор: %v", err)
	}
}

// ID возвращает адрес удалённой стороны
func (kc *KCPChannel) ID() string {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.stats.RemoteAddr
}

// SendReliable ставит сообщение в очередь отправки
func (kc *KCPChannel) SendReliable(data []byte) error {
	msg := append([]byte(nil), data...)
	select {
	case kc.sendBuffer <- msg:
		return nil
	case <-kc.ctx.Done():
		return ErrChannelClosed
	default:
		return fmt.Errorf("%w: очередь отправки переполнена", ErrChannelClosed)
	}
}

// SetOnMessage устанавливает обработчик входящих сообщений
func (kc *KCPChannel) SetOnMessage(handler func([]byte)) {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	kc.onMessage = handler
}

// SetOnDisconnect устанавливает обработчик разрыва соединения
func (kc *KCPChannel) SetOnDisconnect(handler func(error)) {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	kc.onDisconnect = handler
}

// Stats возвращает статистику соединения
func (kc *KCPChannel) Stats() ConnectionStats {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.stats
}

func (kc *KCPChannel) sendLoop() {
	defer kc.wg.Done()
	for {
		select {
		case msg := <-kc.sendBuffer:
			n, err := writeFrame(kc.conn, msg, kc.compressor)
			if err != nil {
				kc.disconnect(fmt.Errorf("ошибка отправки: %w", err))
				return
			}
			kc.mu.Lock()
			kc.stats.BytesSent += uint64(n)
			kc.stats.MessagesSent++
			kc.stats.LastActivity = time.Now()
			kc.mu.Unlock()
		case <-kc.ctx.Done():
			return
		}
	}
}

func (kc *KCPChannel) receiveLoop() {
	defer kc.wg.Done()
	for {
		payload, n, err := readFrame(kc.conn, kc.decompressor)
		if err != nil {
			select {
			case <-kc.ctx.Done():
			default:
				kc.disconnect(fmt.Errorf("ошибка приёма: %w", err))
			}
			return
		}
		kc.mu.Lock()
		kc.stats.BytesReceived += uint64(n)
		kc.stats.MessagesReceived++
		kc.stats.LastActivity = time.Now()
		handler := kc.onMessage
		kc.mu.Unlock()

		if handler != nil {
			handler(payload)
		}
	}
}

func (kc *KCPChannel) disconnect(err error) {
	kc.mu.Lock()
	kc.stats.Connected = false
	handler := kc.onDisconnect
	kc.mu.Unlock()

	kc.Close()
	if handler != nil {
		handler(err)
	}
}

// Close закрывает канал. Идемпотентно.
func (kc *KCPChannel) Close() error {
	kc.closeOnce.Do(func() {
		kc.cancel()
		kc.conn.Close()
		kc.mu.Lock()
		kc.stats.Connected = false
		kc.mu.Unlock()
	})
	return nil
}
