// Package network реализует транспортные каналы командного потока:
// TCP и KCP (надёжный UDP) с кадрированием и опциональным сжатием,
// серверный слушатель с рукопожатием версии протокола и клиентский фид
// декодера.
package network

import "time"

// Channel надёжный упорядоченный канал доставки сообщений. Реализации
// выполняют ввод-вывод в собственных горутинах; обработчик входящих
// сообщений вызывается из горутины приёма.
type Channel interface {
	// ID возвращает стабильный идентификатор канала (адрес пира)
	ID() string
	// SendReliable ставит сообщение в очередь отправки
	SendReliable(data []byte) error
	// SetOnMessage устанавливает обработчик входящих сообщений
	SetOnMessage(handler func(data []byte))
	// SetOnDisconnect устанавливает обработчик разрыва соединения
	SetOnDisconnect(handler func(err error))
	// Stats возвращает статистику соединения
	Stats() ConnectionStats
	// Close закрывает канал
	Close() error
}

// ChannelConfig параметры канала
type ChannelConfig struct {
	BufferSize     int           // Размер очередей отправки и приёма
	Compression    bool          // Сжимать кадры zstd
	ConnectTimeout time.Duration // Таймаут установления соединения
}

// DefaultChannelConfig возвращает параметры по умолчанию
func DefaultChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		BufferSize:     256,
		Compression:    true,
		ConnectTimeout: 10 * time.Second,
	}
}

// ConnectionStats статистика соединения
type ConnectionStats struct {
	Connected        bool
	RemoteAddr       string
	BytesSent        uint64
	BytesReceived    uint64
	MessagesSent     uint64
	MessagesReceived uint64
	LastActivity     time.Time
}
