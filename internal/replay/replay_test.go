package replay

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/replistream/internal/replication"
	"github.com/annel0/replistream/internal/sim"
)

// recordArena записывает детерминированную тысячемиллисекундную сессию:
// одна сцена, один узел, атрибут 0 на каждом шаге равен базовому времени
func recordArena(t *testing.T, path string) int32 {
	t.Helper()
	writer, err := NewWriter(path, 64, nil)
	require.NoError(t, err)

	stream := replication.NewStream(replication.StreamConfig{BufferTimeMs: 100}, nil)
	stream.SetRecorder(writer)

	scene := sim.NewScene("arena")
	require.NoError(t, stream.AddScene(scene))
	node := sim.NewNode("orbiter")
	node.Bodies = append(node.Bodies, &sim.Body{ID: 0})
	require.NoError(t, stream.AddNode(node, scene))

	for tMs := int64(50); tMs <= 1000; tMs += 50 {
		require.NoError(t, stream.SetNodeAttr(node, 0, sim.IntValue(int32(tMs))))
		require.NoError(t, stream.StepScene(scene, 50))
		require.NoError(t, stream.SetTime(tMs))
	}
	stream.Shutdown()
	require.False(t, writer.Failed(), "Запись не должна отказать на маленькой сессии")
	return node.StreamID()
}

// nodeAttrInt возвращает значение int-атрибута 0 узла
func nodeAttrInt(t *testing.T, s *Session, nodeID int32) int32 {
	t.Helper()
	e, err := s.Nodes().Get(nodeID)
	require.NoError(t, err)
	return e.(*sim.Node).Attrs[0].Int
}

// drainTo гоняет воспроизведение, пока база не достигнет цели
func drainTo(t *testing.T, s *Session, targetMs int64) {
	t.Helper()
	for i := 0; i < 1000 && s.CurrentTimeMs() < targetMs; i++ {
		s.Update(50)
	}
	require.GreaterOrEqual(t, s.CurrentTimeMs(), targetMs, "Воспроизведение не дошло до %d мс", targetMs)
}

func TestRecordThenPlayback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	nodeID := recordArena(t, path)

	session, err := Open(path, 300, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, replication.ProtocolVersion, session.FileProtocolVersion())

	drainTo(t, session, 1000)
	assert.Equal(t, int64(1000), session.CurrentTimeMs())
	assert.Equal(t, int32(1000), nodeAttrInt(t, session, nodeID))
	assert.Equal(t, 1, session.Scenes().Len())
	assert.True(t, session.EOFReached())
	assert.NotEqual(t, replication.StateEnded, session.State(),
		"Конец файла — не ошибка сессии")

	// После конца файла целевое время не убегает вперёд
	session.Update(500)
	assert.Equal(t, session.CurrentTimeMs(), session.TargetTimeMs())
}

func TestPlaybackPauseFreezesTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	recordArena(t, path)

	session, err := Open(path, 300, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	drainTo(t, session, 200)
	frozen := session.CurrentTimeMs()

	session.Pause()
	assert.True(t, session.Paused())
	for i := 0; i < 10; i++ {
		session.Update(100)
	}
	assert.Equal(t, frozen, session.CurrentTimeMs(), "Пауза замораживает базовое время")

	session.Resume()
	session.Update(100)
	assert.Greater(t, session.CurrentTimeMs(), frozen)
}

func TestPlaybackSpeedExp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	recordArena(t, path)

	session, err := Open(path, 300, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	// Зажим показателя в [-3..3]
	session.SetSpeedExp(10)
	assert.Equal(t, 3, session.SpeedExp())
	session.SetSpeedExp(-10)
	assert.Equal(t, -3, session.SpeedExp())

	// Удвоенный темп: 100 мс реального времени — 200 мс базового
	session.SetSpeedExp(1)
	session.Update(100)
	assert.Equal(t, int64(200), session.CurrentTimeMs())

	// Половинный темп: 200 мс реального времени — 100 мс базового
	session.SetSpeedExp(-1)
	session.Update(200)
	assert.Equal(t, int64(300), session.CurrentTimeMs())
}

func TestSeekForwardFastForwards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	nodeID := recordArena(t, path)

	session, err := Open(path, 300, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.SeekTo(600))
	assert.True(t, session.FastForwarding())

	drainTo(t, session, 600)
	assert.False(t, session.FastForwarding(), "Перемотка гаснет по достижении цели")
	assert.Equal(t, int64(600), session.CurrentTimeMs())
	assert.Equal(t, int32(600), nodeAttrInt(t, session, nodeID))
}

func TestSeekBackwardRestoresSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	nodeID := recordArena(t, path)

	session, err := Open(path, 200, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	drainTo(t, session, 1000)
	require.NotEmpty(t, session.snapshots, "Проход вперёд обязан захватить снапшоты")

	require.NoError(t, session.SeekTo(400))
	drainTo(t, session, 400)
	assert.Equal(t, int64(400), session.CurrentTimeMs())
	assert.Equal(t, int32(400), nodeAttrInt(t, session, nodeID))
}

func TestPauseBlocksFastForward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	recordArena(t, path)

	session, err := Open(path, 200, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	drainTo(t, session, 200)
	session.Pause()

	require.NoError(t, session.SeekTo(600))
	require.True(t, session.FastForwarding())
	frozen := session.CurrentTimeMs()
	require.Less(t, frozen, int64(600))

	// Пауза сильнее перемотки: время стоит при любом реальном шаге
	assert.Equal(t, int64(0), session.ActualTimeAdvanceMs(100))
	for i := 0; i < 10; i++ {
		session.Update(100)
	}
	assert.Equal(t, frozen, session.CurrentTimeMs(), "Пауза замораживает и перемотку")
	assert.True(t, session.FastForwarding(), "Цель перемотки переживает паузу")

	session.Resume()
	drainTo(t, session, 600)
	assert.Equal(t, int64(600), session.CurrentTimeMs())
	assert.False(t, session.FastForwarding())
}

// bodyCallbacks порождает тело для каждого зеркального узла: протокол
// переносит только состояние тел, сами тела создаёт приложение
type bodyCallbacks struct {
	replication.NopCallbacks
}

func (bodyCallbacks) NodeCreated(n *sim.Node) {
	n.Bodies = append(n.Bodies, &sim.Body{ID: 0})
}

// recordDynamicsArena записывает сессию с движущимся телом и
// периодическими коррекциями: X позиции тела равен базовому времени
// последней коррекции
func recordDynamicsArena(t *testing.T, path string) int32 {
	t.Helper()
	writer, err := NewWriter(path, 64, nil)
	require.NoError(t, err)

	stream := replication.NewStream(replication.StreamConfig{
		BufferTimeMs:         100,
		CorrectionIntervalMs: 100,
	}, nil)
	stream.SetRecorder(writer)

	scene := sim.NewScene("arena")
	require.NoError(t, stream.AddScene(scene))
	node := sim.NewNode("orbiter")
	node.Bodies = append(node.Bodies, &sim.Body{ID: 0})
	require.NoError(t, stream.AddNode(node, scene))

	for tMs := int64(50); tMs <= 1000; tMs += 50 {
		node.Bodies[0].State.Position = [3]float32{float32(tMs), 0, 0}
		require.NoError(t, stream.StepScene(scene, 50))
		require.NoError(t, stream.SetTime(tMs))
	}
	stream.Shutdown()
	require.False(t, writer.Failed(), "Запись не должна отказать на маленькой сессии")
	return node.StreamID()
}

// bodyPosition возвращает позицию тела 0 узла
func bodyPosition(t *testing.T, s *Session, nodeID int32) [3]float32 {
	t.Helper()
	e, err := s.Nodes().Get(nodeID)
	require.NoError(t, err)
	node := e.(*sim.Node)
	require.NotEmpty(t, node.Bodies)
	return node.Bodies[0].State.Position
}

func TestSeekBackwardRestoresBodyState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	nodeID := recordDynamicsArena(t, path)

	session, err := Open(path, 200, bodyCallbacks{}, nil)
	require.NoError(t, err)
	defer session.Close()

	drainTo(t, session, 1000)
	require.NotEmpty(t, session.snapshots)

	// Снапшоты с живым узлом несут коррекцию динамики
	withCorrection := 0
	for _, snap := range session.snapshots {
		if snap.Correction != nil {
			withCorrection++
		}
	}
	require.Greater(t, withCorrection, 0, "Коррекция тел входит в снапшоты перемотки")

	require.NoError(t, session.SeekTo(450))
	drainTo(t, session, 450)
	viaSeek := bodyPosition(t, session, nodeID)

	// То же состояние тела при честном проигрывании с нуля
	require.NoError(t, session.Close())
	fresh, err := Open(path, 200, bodyCallbacks{}, nil)
	require.NoError(t, err)
	defer fresh.Close()
	drainTo(t, fresh, 450)

	assert.Equal(t, bodyPosition(t, fresh, nodeID), viaSeek,
		"Тело после перемотки назад совпадает с телом при проигрывании с нуля")
	assert.Equal(t, [3]float32{400, 0, 0}, viaSeek,
		"Применена последняя коррекция не позже цели перемотки")
}

func TestSeekIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	nodeID := recordArena(t, path)

	session, err := Open(path, 200, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	drainTo(t, session, 1000)

	require.NoError(t, session.SeekTo(450))
	drainTo(t, session, 450)
	first := nodeAttrInt(t, session, nodeID)
	firstScenes := session.Scenes().Len()
	firstNodes := session.Nodes().Len()

	require.NoError(t, session.SeekTo(450))
	drainTo(t, session, 450)
	assert.Equal(t, first, nodeAttrInt(t, session, nodeID), "Повторная перемотка даёт то же состояние")
	assert.Equal(t, firstScenes, session.Scenes().Len())
	assert.Equal(t, firstNodes, session.Nodes().Len())
}

func TestSeekMatchesFreshPlayback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.rpls")
	nodeID := recordArena(t, path)

	// Состояние в точке 700 после перемотки назад
	seeked, err := Open(path, 200, nil, nil)
	require.NoError(t, err)
	drainTo(t, seeked, 1000)
	require.NoError(t, seeked.SeekTo(700))
	drainTo(t, seeked, 700)
	viaSeek := nodeAttrInt(t, seeked, nodeID)
	require.NoError(t, seeked.Close())

	// То же состояние при честном проигрывании с нуля
	fresh, err := Open(path, 200, nil, nil)
	require.NoError(t, err)
	defer fresh.Close()
	drainTo(t, fresh, 700)

	assert.Equal(t, nodeAttrInt(t, fresh, nodeID), viaSeek,
		"Восстановление из снапшота эквивалентно проигрыванию с нуля")
}

func TestSnapshotsNotDuplicatedAfterBackSeek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	recordArena(t, path)

	session, err := Open(path, 200, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	drainTo(t, session, 1000)
	captured := len(session.snapshots)

	// Перемотка назад и повторный проход того же участка
	require.NoError(t, session.SeekTo(100))
	drainTo(t, session, 1000)
	assert.Equal(t, captured, len(session.snapshots), "Повторный проход не дублирует снапшоты")

	// Времена снапшотов строго возрастают
	for i := 1; i < len(session.snapshots); i++ {
		assert.Greater(t, session.snapshots[i].BaseTimeMs, session.snapshots[i-1].BaseTimeMs)
	}
}

func TestSeekResyncsPeers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	recordArena(t, path)

	session, err := Open(path, 200, nil, nil)
	require.NoError(t, err)
	defer session.Close()

	drainTo(t, session, 500)

	peer := &capturePeer{id: "viewer"}
	require.NoError(t, session.AttachPeer(peer))
	attached := len(peer.msgs)
	require.Greater(t, attached, 0, "Пир получает дамп при подключении")

	require.NoError(t, session.SeekTo(100))
	require.Greater(t, len(peer.msgs), attached)
	assert.Equal(t, replication.MsgSessionReset, peer.msgs[attached][0],
		"Перемотка начинается для пира со сброса сессии")
}

// capturePeer собирает отправленные сообщения
type capturePeer struct {
	id   string
	msgs [][]byte
}

func (p *capturePeer) ID() string { return p.id }

func (p *capturePeer) SendReliable(data []byte) error {
	p.msgs = append(p.msgs, append([]byte(nil), data...))
	return nil
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.rpls")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a replay"), 0o644))

	_, err := Open(path, 0, nil, nil)
	assert.ErrorIs(t, err, ErrBadFile)
}

func TestOpenRejectsUnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.rpls")
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], FileMagic)
	binary.LittleEndian.PutUint16(header[4:6], 99)
	require.NoError(t, os.WriteFile(path, header, 0o644))

	_, err := Open(path, 0, nil, nil)
	assert.ErrorIs(t, err, replication.ErrVersion)
}

func TestWriterHeaderLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "header.rpls")
	writer, err := NewWriter(path, 4, nil)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, HeaderSize)
	assert.Equal(t, []byte("RPLS"), raw[0:4], "Магия пишется в little-endian")
	assert.Equal(t, FileMagic, binary.LittleEndian.Uint32(raw[0:4]))
	assert.Equal(t, replication.ProtocolVersion, binary.LittleEndian.Uint16(raw[4:6]))
}

func TestProcessGuardSingleOpenReplay(t *testing.T) {
	dir := t.TempDir()
	recordPath := filepath.Join(dir, "recording.rpls")

	writer, err := NewWriter(recordPath, 16, nil)
	require.NoError(t, err)

	// Пока идёт запись, воспроизведение открыть нельзя
	_, err = Open(recordPath, 0, nil, nil)
	assert.ErrorIs(t, err, ErrReplayBusy)

	// И вторую запись тоже
	_, err = NewWriter(filepath.Join(dir, "other.rpls"), 16, nil)
	assert.ErrorIs(t, err, ErrReplayBusy)

	require.NoError(t, writer.Close())

	// После закрытия ресурс свободен
	session, err := Open(recordPath, 0, nil, nil)
	require.NoError(t, err)
	require.NoError(t, session.Close())
}

func TestGuardReleasedOnOpenFailure(t *testing.T) {
	// Неудачное открытие не должно оставить ресурс захваченным
	_, err := Open(filepath.Join(t.TempDir(), "missing.rpls"), 0, nil, nil)
	require.Error(t, err)

	handle, err := AcquireProcessGuard("test")
	require.NoError(t, err)
	handle.Release()
}

func TestWriterAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.rpls")
	writer, err := NewWriter(path, 16, nil)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close(), "Повторное закрытие — no-op")

	assert.ErrorIs(t, writer.Append([]byte{1, 2, 3}), ErrWriterClosed)
}

func TestPlaybackCloseReleasesGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rpls")
	recordArena(t, path)

	session, err := Open(path, 0, nil, nil)
	require.NoError(t, err)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close(), "Повторное закрытие — no-op")

	handle, err := AcquireProcessGuard("test")
	require.NoError(t, err)
	handle.Release()
}

func TestLatestAtOrBefore(t *testing.T) {
	snaps := []IntermediateState{
		{BaseTimeMs: 0},
		{BaseTimeMs: 500},
		{BaseTimeMs: 1000},
	}
	assert.Equal(t, -1, latestAtOrBefore(nil, 100))
	assert.Equal(t, 0, latestAtOrBefore(snaps, 0))
	assert.Equal(t, 0, latestAtOrBefore(snaps, 499))
	assert.Equal(t, 1, latestAtOrBefore(snaps, 500))
	assert.Equal(t, 1, latestAtOrBefore(snaps, 999))
	assert.Equal(t, 2, latestAtOrBefore(snaps, 5000))
	assert.Equal(t, -1, latestAtOrBefore(snaps[1:], 100))
}
