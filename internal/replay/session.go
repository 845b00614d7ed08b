package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/replistream/internal/codec"
	"github.com/annel0/replistream/internal/logging"
	"github.com/annel0/replistream/internal/metrics"
	"github.com/annel0/replistream/internal/replication"
	"github.com/annel0/replistream/internal/sim"
)

const (
	// fastForwardFactor предел ускорения при перемотке вперёд
	fastForwardFactor = 8
	// maxSpeedExp предел показателя скорости: темп 2^exp, exp в [-3..3]
	maxSpeedExp = 3
)

// ErrBadFile файл не является файлом реплея или повреждён
var ErrBadFile = errors.New("replay: некорректный файл реплея")

// Session воспроизведение файла реплея: декодер командного потока,
// фид которого читает записи из файла, а политика темпа реализует
// паузу, масштаб скорости и перемотку. Снапшоты промежуточного
// состояния захватываются по ходу чтения вперёд и служат якорями
// перемотки назад.
type Session struct {
	*replication.Session

	path   string
	file   *os.File
	dec    *zstd.Decoder
	handle *Handle
	logger *logging.Logger

	version    uint16
	readOffset int64

	snapshots          []IntermediateState
	snapshotIntervalMs int64
	nextSnapshotAtMs   int64

	peers []replication.Peer

	paused      bool
	speedExp    int
	fastForward bool
	ffTargetMs  int64

	eofEnqueued bool
	closed      atomic.Bool
}

// Open открывает файл реплея для воспроизведения. Неверная магия —
// отказ сразу; версия протокола вне поддерживаемого диапазона — ошибка
// с внятным сообщением для пользователя.
func Open(path string, snapshotIntervalMs int64, cb replication.Callbacks, logger *logging.Logger) (*Session, error) {
	if logger == nil {
		logger = logging.GetReplayLogger()
	}
	if snapshotIntervalMs <= 0 {
		snapshotIntervalMs = 500
	}

	handle, err := AcquireProcessGuard("player:" + path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		handle.Release()
		return nil, fmt.Errorf("открытие файла реплея: %w", err)
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		file.Close()
		handle.Release()
		return nil, fmt.Errorf("%w: заголовок не прочитан: %v", ErrBadFile, err)
	}
	magic := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
	if magic != FileMagic {
		file.Close()
		handle.Release()
		return nil, fmt.Errorf("%w: неверная магия файла", ErrBadFile)
	}
	version := uint16(header[4]) | uint16(header[5])<<8

	dec, err := zstd.NewReader(nil)
	if err != nil {
		file.Close()
		handle.Release()
		return nil, fmt.Errorf("инициализация zstd: %w", err)
	}

	s := &Session{
		path:               path,
		file:               file,
		dec:                dec,
		handle:             handle,
		logger:             logger,
		version:            version,
		readOffset:         HeaderSize,
		snapshotIntervalMs: snapshotIntervalMs,
	}
	s.Session = replication.NewSession(&replayCallbacks{inner: cb, owner: s}, logger)
	if err := s.Session.SetProtocolVersion(version); err != nil {
		s.releaseResources()
		return nil, fmt.Errorf("реплей записан несовместимой версией протокола %d: %w", version, err)
	}
	s.Session.SetFeed(s)
	s.Session.SetRatePolicy(s)

	logger.Info("воспроизведение реплея начато: %s (версия протокола %d)", path, version)
	return s, nil
}

// Path возвращает путь открытого файла
func (s *Session) Path() string { return s.path }

// FileProtocolVersion возвращает версию протокола из заголовка файла
func (s *Session) FileProtocolVersion() uint16 { return s.version }

// ---- Feed ----

// FetchMore читает очередную запись файла и ставит её команды в
// очередь декодера. Перед чтением при необходимости захватывается
// снапшот перемотки. Конец файла один раз синтезирует команду
// завершения, дальше данных нет.
func (s *Session) FetchMore() (bool, error) {
	s.maybeCaptureSnapshot()

	size, prefixLen, err := codec.ReadSizePrefix(s.file)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if s.eofEnqueued {
				return false, nil
			}
			s.eofEnqueued = true
			s.Session.EnqueueCommand([]byte{uint8(replication.OpEndOfFile)})
			return true, nil
		}
		return false, fmt.Errorf("%w: чтение префикса записи: %v", ErrBadFile, err)
	}

	compressed := make([]byte, size)
	if _, err := io.ReadFull(s.file, compressed); err != nil {
		return false, fmt.Errorf("%w: усечённая запись: %v", ErrBadFile, err)
	}
	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return false, fmt.Errorf("%w: распаковка записи: %v", ErrBadFile, err)
	}
	s.readOffset += int64(prefixLen + size)

	if err := s.Session.HandleSessionMessage(raw); err != nil {
		return false, err
	}
	// Подключённые пиры получают тот же поток без перекодирования
	for _, p := range s.peers {
		if err := p.SendReliable(raw); err != nil {
			s.logger.Error("ошибка отправки пиру %s: %v", p.ID(), err)
		}
	}
	return true, nil
}

// OnBufferUnderrun файл исчерпан раньше целевого времени: целевое
// время опускается до текущего, воспроизведение не считается ошибкой
func (s *Session) OnBufferUnderrun() {
	s.Session.ResetTargetTime()
}

// maybeCaptureSnapshot добавляет снапшот, если с последнего прошло
// не меньше интервала базового времени. Повторное прохождение того же
// участка после перемотки назад снапшотов не дублирует.
func (s *Session) maybeCaptureSnapshot() {
	cur := s.Session.CurrentTimeMs()
	if n := len(s.snapshots); n > 0 && s.snapshots[n-1].BaseTimeMs >= cur {
		return
	}
	if cur < s.nextSnapshotAtMs {
		return
	}
	full, err := s.Session.DumpStateMessage()
	if err != nil {
		s.logger.Error("снапшот перемотки не захвачен: %v", err)
		return
	}
	s.snapshots = append(s.snapshots, IntermediateState{
		BaseTimeMs: cur,
		FileOffset: s.readOffset,
		FullState:  full,
		Correction: s.Session.FullCorrectionMessage(),
	})
	s.nextSnapshotAtMs = cur + s.snapshotIntervalMs
	metrics.SnapshotsCaptured.Inc()
}

// ---- RatePolicy ----

// ActualTimeAdvanceMs реализует темп воспроизведения: пауза замораживает
// время, перемотка идёт с ускорением до цели, обычный ход масштабируется
// степенью двойки.
func (s *Session) ActualTimeAdvanceMs(advanceMs int64) int64 {
	// Пауза сильнее перемотки: цель перемотки остаётся и догоняется
	// после Resume
	if s.paused {
		return 0
	}
	if s.fastForward {
		remaining := s.ffTargetMs - s.Session.CurrentTimeMs()
		if remaining <= 0 {
			return 0
		}
		step := advanceMs * fastForwardFactor
		if step > remaining {
			step = remaining
		}
		return step
	}
	if s.speedExp >= 0 {
		return advanceMs << s.speedExp
	}
	return advanceMs >> (-s.speedExp)
}

// ---- Управление воспроизведением ----

// Update продвигает воспроизведение и закрывает перемотку по
// достижении цели или конца файла
func (s *Session) Update(advanceMs int64) {
	s.Session.Update(advanceMs)
	if s.fastForward && (s.Session.CurrentTimeMs() >= s.ffTargetMs || s.Session.EOFReached()) {
		s.fastForward = false
	}
}

// Pause приостанавливает воспроизведение
func (s *Session) Pause() { s.paused = true }

// Resume возобновляет воспроизведение
func (s *Session) Resume() { s.paused = false }

// Paused сообщает, стоит ли воспроизведение на паузе
func (s *Session) Paused() bool { return s.paused }

// SetSpeedExp устанавливает показатель скорости: темп 2^exp,
// значение зажимается в [-3..3]
func (s *Session) SetSpeedExp(exp int) {
	if exp > maxSpeedExp {
		exp = maxSpeedExp
	}
	if exp < -maxSpeedExp {
		exp = -maxSpeedExp
	}
	s.speedExp = exp
}

// SpeedExp возвращает показатель скорости
func (s *Session) SpeedExp() int { return s.speedExp }

// FastForwarding сообщает, выполняется ли перемотка
func (s *Session) FastForwarding() bool { return s.fastForward }

// SeekTo перематывает воспроизведение к целевому базовому времени.
// Восстанавливается позднейший снапшот не позже цели (или начало
// файла), затем остаток догоняется ускоренной перемоткой. Повторная
// перемотка к тому же времени даёт то же состояние.
func (s *Session) SeekTo(targetMs int64) error {
	if s.State() == replication.StateEnded {
		return replication.ErrSessionEnded
	}
	if targetMs < 0 {
		targetMs = 0
	}
	metrics.Seeks.Inc()

	var err error
	if idx := latestAtOrBefore(s.snapshots, targetMs); idx >= 0 {
		err = s.restore(s.snapshots[idx])
	} else {
		err = s.resetFromStart()
	}
	if err != nil {
		s.Session.Error(fmt.Sprintf("перемотка к %d мс: %v", targetMs, err))
		return err
	}

	if targetMs > s.Session.CurrentTimeMs() {
		s.fastForward = true
		s.ffTargetMs = targetMs
	}
	s.logger.Debug("перемотка: цель %d мс, база %d мс", targetMs, s.Session.CurrentTimeMs())
	return nil
}

// restore возвращает декодер к состоянию снапшота: полный сброс,
// позиция файла, базовое время, дамп состояния и коррекция динамики
func (s *Session) restore(st IntermediateState) error {
	s.Session.ResetState()
	if _, err := s.file.Seek(st.FileOffset, io.SeekStart); err != nil {
		return fmt.Errorf("позиционирование файла: %w", err)
	}
	s.readOffset = st.FileOffset
	s.eofEnqueued = false
	s.Session.ForceTime(st.BaseTimeMs)

	if err := s.Session.HandleSessionMessage(st.FullState); err != nil {
		return err
	}
	if st.Correction != nil {
		if err := s.Session.HandleSessionMessage(st.Correction); err != nil {
			return err
		}
	}
	if err := s.Session.ApplyQueued(); err != nil {
		return err
	}
	s.resyncPeers()
	return nil
}

// resetFromStart перечитывает файл с начала (перемотка раньше первого
// снапшота)
func (s *Session) resetFromStart() error {
	s.Session.ResetState()
	if _, err := s.file.Seek(HeaderSize, io.SeekStart); err != nil {
		return fmt.Errorf("позиционирование файла: %w", err)
	}
	s.readOffset = HeaderSize
	s.eofEnqueued = false
	s.Session.ForceTime(0)
	s.resyncPeers()
	return nil
}

// ---- Пиры воспроизведения ----

// AttachPeer подключает пира к воспроизведению: пир получает дамп
// текущего состояния, коррекцию динамики и дальше живой поток файла
func (s *Session) AttachPeer(p replication.Peer) error {
	if s.State() == replication.StateEnded {
		return replication.ErrSessionEnded
	}
	dump, err := s.Session.DumpStateMessage()
	if err != nil {
		return fmt.Errorf("дамп состояния для пира %s: %w", p.ID(), err)
	}
	if err := p.SendReliable(dump); err != nil {
		return fmt.Errorf("отправка дампа пиру %s: %w", p.ID(), err)
	}
	if corr := s.Session.FullCorrectionMessage(); corr != nil {
		if err := p.SendReliable(corr); err != nil {
			return fmt.Errorf("отправка коррекции пиру %s: %w", p.ID(), err)
		}
	}
	s.peers = append(s.peers, p)
	s.logger.Info("пир %s подключён к воспроизведению", p.ID())
	return nil
}

// DetachPeer отключает пира от воспроизведения
func (s *Session) DetachPeer(id string) {
	for i, p := range s.peers {
		if p.ID() == id {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			return
		}
	}
}

// resyncPeers пересинхронизирует пиров после перемотки: сброс,
// дамп восстановленного состояния, коррекция
func (s *Session) resyncPeers() {
	if len(s.peers) == 0 {
		return
	}
	dump, err := s.Session.DumpStateMessage()
	if err != nil {
		s.logger.Error("пересинхронизация пиров: %v", err)
		return
	}
	corr := s.Session.FullCorrectionMessage()
	for _, p := range s.peers {
		if err := p.SendReliable([]byte{replication.MsgSessionReset}); err != nil {
			s.logger.Error("ошибка отправки пиру %s: %v", p.ID(), err)
			continue
		}
		if err := p.SendReliable(dump); err != nil {
			s.logger.Error("ошибка отправки пиру %s: %v", p.ID(), err)
			continue
		}
		if corr != nil {
			if err := p.SendReliable(corr); err != nil {
				s.logger.Error("ошибка отправки пиру %s: %v", p.ID(), err)
			}
		}
	}
}

// ---- Завершение ----

// Close завершает воспроизведение, закрывает файл и освобождает
// общепроцессный ресурс. Идемпотентно.
func (s *Session) Close() error {
	s.Session.End()
	s.releaseResources()
	return nil
}

func (s *Session) releaseResources() {
	if s.closed.Swap(true) {
		return
	}
	s.dec.Close()
	s.file.Close()
	s.handle.Release()
	s.logger.Info("воспроизведение реплея завершено: %s", s.path)
}

// replayCallbacks пробрасывает вызовы приложения и освобождает файл
// при завершении сессии любым путём, включая ошибку протокола
type replayCallbacks struct {
	inner replication.Callbacks
	owner *Session
}

func (c *replayCallbacks) PlaySound(name string, looping bool) { c.app().PlaySound(name, looping) }
func (c *replayCallbacks) PlaySoundAt(name string, x, y, z float32) {
	c.app().PlaySoundAt(name, x, y, z)
}
func (c *replayCallbacks) ScreenMessage(top bool, text string) { c.app().ScreenMessage(top, text) }
func (c *replayCallbacks) CameraShake(magnitude float32, durationMs uint16) {
	c.app().CameraShake(magnitude, durationMs)
}
func (c *replayCallbacks) EmitParticleFX(name string, x, y, z float32) {
	c.app().EmitParticleFX(name, x, y, z)
}
func (c *replayCallbacks) SceneStepped(scene *sim.Scene, dtMs int64) { c.app().SceneStepped(scene, dtMs) }
func (c *replayCallbacks) NodeCreated(node *sim.Node)               { c.app().NodeCreated(node) }
func (c *replayCallbacks) NodeMessage(node *sim.Node, payload []byte) {
	c.app().NodeMessage(node, payload)
}
func (c *replayCallbacks) SessionEnded(reason string) {
	c.owner.releaseResources()
	c.app().SessionEnded(reason)
}

func (c *replayCallbacks) app() replication.Callbacks {
	if c.inner == nil {
		return replication.NopCallbacks{}
	}
	return c.inner
}
