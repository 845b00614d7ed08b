package network

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/replistream/internal/logging"
)

// PeerEvent принятый и прошедший рукопожатие пир
type PeerEvent struct {
	Channel Channel
	Version uint16
}

// Server слушает TCP и KCP порты, выполняет рукопожатие версии и
// складывает готовые каналы в очередь. Очередь опустошается логическим
// потоком хоста, который и подключает пиров к командному потоку —
// сетевые горутины состояние репликации не трогают.
type Server struct {
	tcpListener net.Listener
	kcpListener *kcp.Listener
	config      *ChannelConfig
	logger      *logging.Logger

	pending chan PeerEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer открывает слушатели. Пустой адрес отключает транспорт.
func NewServer(tcpAddr, kcpAddr string, config *ChannelConfig, logger *logging.Logger) (*Server, error) {
	if config == nil {
		config = DefaultChannelConfig()
	}
	if logger == nil {
		logger = logging.GetNetworkLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:  config,
		logger:  logger,
		pending: make(chan PeerEvent, 16),
		ctx:     ctx,
		cancel:  cancel,
	}

	if tcpAddr != "" {
		ln, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("TCP слушатель %s: %w", tcpAddr, err)
		}
		s.tcpListener = ln
		s.wg.Add(1)
		go s.acceptTCP()
		logger.Info("TCP сервер слушает на %s", tcpAddr)
	}

	if kcpAddr != "" {
		ln, err := kcp.ListenWithOptions(kcpAddr, nil, 10, 3)
		if err != nil {
			s.closeListeners()
			cancel()
			return nil, fmt.Errorf("KCP слушатель %s: %w", kcpAddr, err)
		}
		s.kcpListener = ln
		s.wg.Add(1)
		go s.acceptKCP()
		logger.Info("KCP сервер слушает на %s", kcpAddr)
	}

	if s.tcpListener == nil && s.kcpListener == nil {
		cancel()
		return nil, fmt.Errorf("не задан ни один адрес слушателя")
	}
	return s, nil
}

// Pending возвращает очередь принятых пиров
func (s *Server) Pending() <-chan PeerEvent { return s.pending }

func (s *Server) acceptTCP() {
	defer s.wg.Done()
	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.logger.Error("ошибка accept TCP: %v", err)
			}
			return
		}
		go s.admit(conn, func() Channel {
			return NewTCPChannelFromConn(conn, s.config, s.logger)
		})
	}
}

func (s *Server) acceptKCP() {
	defer s.wg.Done()
	for {
		conn, err := s.kcpListener.AcceptKCP()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.logger.Error("ошибка accept KCP: %v", err)
			}
			return
		}
		go s.admit(conn, func() Channel {
			return NewKCPChannelFromConn(conn, s.config, s.logger)
		})
	}
}

// admit проводит рукопожатие и ставит канал в очередь
func (s *Server) admit(conn net.Conn, wrap func() Channel) {
	version, err := serverHandshake(conn)
	if err != nil {
		s.logger.Warn("пир %s отклонён: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	channel := wrap()
	select {
	case s.pending <- PeerEvent{Channel: channel, Version: version}:
	case <-s.ctx.Done():
		channel.Close()
	}
}

func (s *Server) closeListeners() {
	if s.tcpListener != nil {
		s.tcpListener.Close()
	}
	if s.kcpListener != nil {
		s.kcpListener.Close()
	}
}

// Close останавливает слушатели
func (s *Server) Close() error {
	s.cancel()
	s.closeListeners()
	s.wg.Wait()
	return nil
}
