// Package app собирает хост-приложение репликатора: живая демо-сцена,
// энкодер командного потока, запись реплея, сетевой фан-аут и
// управление воспроизведением.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/replistream/internal/api"
	"github.com/annel0/replistream/internal/config"
	"github.com/annel0/replistream/internal/eventbus"
	"github.com/annel0/replistream/internal/logging"
	"github.com/annel0/replistream/internal/network"
	"github.com/annel0/replistream/internal/replay"
	"github.com/annel0/replistream/internal/replay/library"
	"github.com/annel0/replistream/internal/replication"
)

// tickMs шаг логического цикла сервера
const tickMs = 50

// App хост-приложение. Всё состояние репликации живёт на одном
// логическом потоке (Run); REST и сеть передают работу сюда через
// очередь замыканий.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	library *library.Library
	stream  *replication.Stream
	world   *DemoWorld
	server  *network.Server

	// Активная запись
	writer      *replay.Writer
	recordID    uuid.UUID
	recordStart time.Time

	// Активное воспроизведение
	playback   *replay.Session
	playbackID uuid.UUID

	commands chan func()
	quit     chan struct{}
	done     chan struct{}
}

// NewApp собирает компоненты хоста. Сетевые слушатели поднимаются
// сразу; логический цикл запускается отдельно через Run.
func NewApp(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = logging.GetSessionLogger()
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		commands: make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	lib, err := library.NewLibrary(cfg.Replay.GetDir(), logging.GetReplayLogger())
	if err != nil {
		return nil, fmt.Errorf("каталог реплеев: %w", err)
	}
	a.library = lib

	a.stream = replication.NewStream(replication.StreamConfig{
		BufferTimeMs:         int64(cfg.Replication.GetBufferTimeMs()),
		CorrectionIntervalMs: int64(cfg.Replication.GetCorrectionIntervalMs()),
	}, logging.GetStreamLogger())

	a.world, err = NewDemoWorld(a.stream, 4)
	if err != nil {
		lib.Close()
		return nil, fmt.Errorf("демо-сцена: %w", err)
	}

	if err := a.startRecording(); err != nil {
		// Запись не критична для живой сессии
		a.logger.Warn("запись реплея не запущена: %v", err)
	}

	tcpAddr := fmt.Sprintf(":%d", cfg.Server.GetTCPPort())
	kcpAddr := fmt.Sprintf(":%d", cfg.Server.GetKCPPort())
	a.server, err = network.NewServer(tcpAddr, kcpAddr, nil, logging.GetNetworkLogger())
	if err != nil {
		a.teardown()
		return nil, fmt.Errorf("сетевой сервер: %w", err)
	}

	eventbus.PublishEvent(context.Background(), "server", eventbus.EventSessionStarted, 5,
		eventbus.SessionEvent{SessionID: a.recordID.String()})
	return a, nil
}

// Run крутит логический цикл до вызова Stop
func (a *App) Run() {
	defer close(a.done)
	ticker := time.NewTicker(tickMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-a.quit:
			a.teardown()
			return
		case fn := <-a.commands:
			fn()
		case ev := <-a.server.Pending():
			a.attachPeer(ev)
		case <-ticker.C:
			a.tick()
		}
	}
}

// Stop останавливает логический цикл и ждёт завершения
func (a *App) Stop() {
	close(a.quit)
	<-a.done
}

func (a *App) tick() {
	if a.playback != nil {
		a.playback.Update(tickMs)
		if a.playback.State() == replication.StateEnded {
			a.closePlaybackLocked("сессия завершена")
		}
		return
	}
	if err := a.world.Step(tickMs); err != nil {
		a.logger.Error("шаг демо-сцены: %v", err)
	}
}

// attachPeer подключает принятого пира: к воспроизведению, если оно
// открыто, иначе к живому потоку
func (a *App) attachPeer(ev network.PeerEvent) {
	var err error
	if a.playback != nil {
		err = a.playback.AttachPeer(ev.Channel)
	} else {
		err = a.stream.AttachPeer(ev.Channel)
	}
	if err != nil {
		a.logger.Error("подключение пира %s: %v", ev.Channel.ID(), err)
		ev.Channel.Close()
		return
	}
	channel := ev.Channel
	channel.SetOnDisconnect(func(disconnectErr error) {
		a.post(func() {
			a.stream.DetachPeer(channel)
			if a.playback != nil {
				a.playback.DetachPeer(channel.ID())
			}
			eventbus.PublishEvent(context.Background(), "server", eventbus.EventPeerDetached, 3,
				eventbus.SessionEvent{PeerID: channel.ID(), Reason: fmt.Sprint(disconnectErr)})
		})
	})
	eventbus.PublishEvent(context.Background(), "server", eventbus.EventPeerAttached, 3,
		eventbus.SessionEvent{PeerID: channel.ID()})
}

// post ставит замыкание в очередь логического потока без ожидания
func (a *App) post(fn func()) {
	select {
	case a.commands <- fn:
	case <-a.quit:
	}
}

// call выполняет fn на логическом потоке и ждёт результат
func (a *App) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case a.commands <- func() { result <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.quit:
		return fmt.Errorf("сервер останавливается")
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- Запись реплея ----

func (a *App) startRecording() error {
	id, path := a.library.NewReplayPath()
	writer, err := replay.NewWriter(path, a.cfg.Replay.GetWriteQueueSize(), logging.GetReplayLogger())
	if err != nil {
		return err
	}
	a.writer = writer
	a.recordID = id
	a.recordStart = time.Now().UTC()
	a.stream.SetRecorder(writer)
	return nil
}

// finalizeRecording закрывает запись и регистрирует реплей в каталоге
func (a *App) finalizeRecording() {
	if a.writer == nil {
		return
	}
	writer := a.writer
	a.writer = nil
	a.stream.SetRecorder(nil)
	if err := writer.Close(); err != nil {
		a.logger.Error("закрытие записи реплея: %v", err)
	}

	meta := library.ReplayMeta{
		ID:         a.recordID,
		Path:       writer.Path(),
		StartedAt:  a.recordStart,
		DurationMs: a.stream.CurrentTimeMs(),
		Version:    replication.ProtocolVersion,
	}
	if err := a.library.Put(meta); err != nil {
		a.logger.Error("регистрация реплея: %v", err)
		return
	}
	eventbus.PublishEvent(context.Background(), "server", eventbus.EventReplayRecorded, 5,
		eventbus.ReplayEvent{ReplayID: meta.ID.String(), Path: meta.Path, DurationMs: meta.DurationMs})
}

// ---- PlaybackController (вызывается из горутин REST) ----

// Open открывает воспроизведение реплея. Активная запись закрывается:
// процесс держит не больше одного открытого реплея.
func (a *App) Open(ctx context.Context, replayID uuid.UUID) error {
	return a.call(ctx, func() error {
		if a.playback != nil {
			return fmt.Errorf("воспроизведение уже открыто (%s)", a.playbackID)
		}
		meta, err := a.library.Get(replayID)
		if err != nil {
			return err
		}
		if meta == nil {
			return fmt.Errorf("реплей %s не найден", replayID)
		}

		a.finalizeRecording()

		session, err := replay.Open(meta.Path, int64(a.cfg.Replay.GetSnapshotIntervalMs()),
			replication.NopCallbacks{}, logging.GetReplayLogger())
		if err != nil {
			return err
		}
		a.playback = session
		a.playbackID = replayID
		eventbus.PublishEvent(context.Background(), "server", eventbus.EventPlaybackStarted, 5,
			eventbus.ReplayEvent{ReplayID: replayID.String(), Path: meta.Path})
		return nil
	})
}

// Pause приостанавливает воспроизведение
func (a *App) Pause(ctx context.Context) error {
	return a.call(ctx, func() error {
		if a.playback == nil {
			return fmt.Errorf("воспроизведение не открыто")
		}
		a.playback.Pause()
		return nil
	})
}

// Resume возобновляет воспроизведение
func (a *App) Resume(ctx context.Context) error {
	return a.call(ctx, func() error {
		if a.playback == nil {
			return fmt.Errorf("воспроизведение не открыто")
		}
		a.playback.Resume()
		return nil
	})
}

// SetSpeed меняет показатель скорости воспроизведения
func (a *App) SetSpeed(ctx context.Context, exp int) error {
	return a.call(ctx, func() error {
		if a.playback == nil {
			return fmt.Errorf("воспроизведение не открыто")
		}
		a.playback.SetSpeedExp(exp)
		return nil
	})
}

// Seek перематывает воспроизведение к базовому времени
func (a *App) Seek(ctx context.Context, timeMs int64) error {
	return a.call(ctx, func() error {
		if a.playback == nil {
			return fmt.Errorf("воспроизведение не открыто")
		}
		return a.playback.SeekTo(timeMs)
	})
}

// Status возвращает снимок состояния воспроизведения
func (a *App) Status(ctx context.Context) (api.PlaybackStatus, error) {
	var status api.PlaybackStatus
	err := a.call(ctx, func() error {
		if a.playback == nil {
			return nil
		}
		status = api.PlaybackStatus{
			Open:           true,
			ReplayID:       a.playbackID.String(),
			Paused:         a.playback.Paused(),
			SpeedExp:       a.playback.SpeedExp(),
			CurrentTimeMs:  a.playback.CurrentTimeMs(),
			TargetTimeMs:   a.playback.TargetTimeMs(),
			FastForwarding: a.playback.FastForwarding(),
			EOFReached:     a.playback.EOFReached(),
		}
		return nil
	})
	return status, err
}

// Close завершает воспроизведение
func (a *App) Close(ctx context.Context) error {
	return a.call(ctx, func() error {
		if a.playback == nil {
			return fmt.Errorf("воспроизведение не открыто")
		}
		a.closePlaybackLocked("закрыто оператором")
		return nil
	})
}

// closePlaybackLocked закрывает воспроизведение на логическом потоке
func (a *App) closePlaybackLocked(reason string) {
	if a.playback == nil {
		return
	}
	a.playback.Close()
	eventbus.PublishEvent(context.Background(), "server", eventbus.EventPlaybackEnded, 5,
		eventbus.ReplayEvent{ReplayID: a.playbackID.String()})
	a.playback = nil
	a.playbackID = uuid.Nil
	a.logger.Info("воспроизведение завершено: %s", reason)
}

// teardown останавливает компоненты в обратном порядке запуска
func (a *App) teardown() {
	if a.server != nil {
		a.server.Close()
	}
	a.closePlaybackLocked("остановка сервера")
	a.stream.Shutdown()
	a.finalizeRecording()
	if a.library != nil {
		a.library.Close()
	}
	eventbus.PublishEvent(context.Background(), "server", eventbus.EventSessionEnded, 5,
		eventbus.SessionEvent{SessionID: a.recordID.String()})
}

// Library возвращает каталог реплеев (для REST)
func (a *App) Library() *library.Library { return a.library }
