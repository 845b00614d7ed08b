package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/replistream/internal/codec"
	"github.com/annel0/replistream/internal/sim"
)

// capturePeer собирает отправленные сообщения
type capturePeer struct {
	id   string
	msgs [][]byte
}

func (p *capturePeer) ID() string { return p.id }

func (p *capturePeer) SendReliable(data []byte) error {
	msg := append([]byte(nil), data...)
	p.msgs = append(p.msgs, msg)
	return nil
}

// recCallbacks записывает вызовы декодера
type recCallbacks struct {
	NopCallbacks
	sounds    []string
	messages  []string
	endReason string
	ended     bool
	created   int
}

func (c *recCallbacks) PlaySound(name string, looping bool) { c.sounds = append(c.sounds, name) }
func (c *recCallbacks) ScreenMessage(top bool, text string) { c.messages = append(c.messages, text) }
func (c *recCallbacks) NodeCreated(*sim.Node)               { c.created++ }
func (c *recCallbacks) SessionEnded(reason string) {
	c.ended = true
	c.endReason = reason
}

// bodyMaker создаёт тела узлов на стороне клиента: протокол переносит
// только состояние тел, сами тела порождает приложение при создании узла
type bodyMaker struct {
	NopCallbacks
}

func (bodyMaker) NodeCreated(n *sim.Node) {
	n.Bodies = append(n.Bodies, &sim.Body{ID: 0})
}

// deliver скармливает захваченные сообщения декодеру и продвигает время
func deliver(t *testing.T, session *Session, msgs [][]byte, advanceMs int64) {
	t.Helper()
	for _, msg := range msgs {
		require.NoError(t, session.HandleSessionMessage(msg))
	}
	session.Update(advanceMs)
}

func TestStreamSessionRoundTrip(t *testing.T) {
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)
	peer := &capturePeer{id: "client-1"}
	require.NoError(t, stream.AttachPeer(peer))

	// Ассеты и сцена
	snd := sim.NewSound("ambience", true)
	require.NoError(t, stream.AddSound(snd))
	require.NoError(t, stream.AddTexture(sim.NewTexture("checker")))

	scene := sim.NewScene("arena")
	require.NoError(t, stream.AddScene(scene))
	stream.SetForegroundScene(scene)

	// Узлы с атрибутами, телом и привязкой
	leader := sim.NewNode("orbiter")
	leader.Bodies = append(leader.Bodies, &sim.Body{ID: 0})
	require.NoError(t, stream.AddNode(leader, scene))
	follower := sim.NewNode("orbiter")
	require.NoError(t, stream.AddNode(follower, scene))

	require.NoError(t, stream.SetNodeAttr(leader, 0, sim.StringValue("leader")))
	require.NoError(t, stream.SetNodeAttr(follower, 1, sim.RefValue(leader.StreamID())))
	require.NoError(t, stream.ConnectNodeAttr(follower, 0, leader, 0))

	stream.PlaySound(snd)
	require.NoError(t, stream.ScreenMessage(true, "старт"))
	require.NoError(t, stream.StepScene(scene, 50))
	require.NoError(t, stream.SetTime(50))
	stream.Flush()

	// Дамп при подключении пустой, всё состояние пришло потоком
	cb := &recCallbacks{}
	session := NewSession(cb, nil)
	deliver(t, session, peer.msgs, 1000)

	assert.Equal(t, int64(50), session.CurrentTimeMs())
	assert.Equal(t, 1, session.Scenes().Len())
	assert.Equal(t, 2, session.Nodes().Len())
	assert.Equal(t, 1, session.Sounds().Len())
	assert.Equal(t, 2, cb.created, "NodeCreated для каждого узла")
	assert.Equal(t, []string{"ambience"}, cb.sounds)
	assert.Equal(t, []string{"старт"}, cb.messages)
	assert.False(t, cb.ended)

	// Зеркальный узел несёт атрибуты и привязку
	e, err := session.Nodes().Get(follower.StreamID())
	require.NoError(t, err)
	mirror := e.(*sim.Node)
	assert.True(t, mirror.Attrs[1].Equal(sim.RefValue(leader.StreamID())))
	assert.True(t, mirror.Connected(sim.AttrConnection{AttrIndex: 0, SrcNode: leader.StreamID(), SrcAttr: 0}))

	// Время сцены продвинуто шагом
	se, err := session.Scenes().Get(scene.StreamID())
	require.NoError(t, err)
	assert.Equal(t, int64(50), se.(*sim.Scene).TimeMs)
	assert.True(t, se.(*sim.Scene).Foreground)
}

func TestLateJoinerSeesEquivalentState(t *testing.T) {
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)
	early := &capturePeer{id: "early"}
	require.NoError(t, stream.AttachPeer(early))

	scene := sim.NewScene("arena")
	require.NoError(t, stream.AddScene(scene))
	node := sim.NewNode("turret")
	node.Bodies = append(node.Bodies, &sim.Body{ID: 0})
	require.NoError(t, stream.AddNode(node, scene))
	require.NoError(t, stream.SetNodeAttr(node, 0, sim.FloatValue(2.5)))
	node.Bodies[0].State.Position = [3]float32{10, 0, -4}
	require.NoError(t, stream.SetTime(100))
	stream.Flush()

	// Поздний пир получает дамп и полную коррекцию вместо истории
	late := &capturePeer{id: "late"}
	require.NoError(t, stream.AttachPeer(late))
	require.NotEmpty(t, late.msgs)

	earlySession := NewSession(bodyMaker{}, nil)
	deliver(t, earlySession, early.msgs, 1000)

	lateSession := NewSession(bodyMaker{}, nil)
	deliver(t, lateSession, late.msgs, 1000)

	assert.Equal(t, earlySession.Nodes().Len(), lateSession.Nodes().Len())
	assert.Equal(t, earlySession.Scenes().Len(), lateSession.Scenes().Len())

	le, err := lateSession.Nodes().Get(node.StreamID())
	require.NoError(t, err)
	lateNode := le.(*sim.Node)
	assert.True(t, lateNode.Attrs[0].Equal(sim.FloatValue(2.5)))
	require.Len(t, lateNode.Bodies, 1)
	assert.Equal(t, [3]float32{10, 0, -4}, lateNode.Bodies[0].State.Position,
		"Коррекция при подключении доносит состояние тела")
}

func TestSetTimeSplitsLargeSteps(t *testing.T) {
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)
	peer := &capturePeer{id: "p"}
	require.NoError(t, stream.AttachPeer(peer))

	// 600 мс не влезает в один u16-шаг по 255
	require.NoError(t, stream.SetTime(600))
	stream.Flush()

	session := NewSession(nil, nil)
	deliver(t, session, peer.msgs, 600)
	assert.Equal(t, int64(600), session.CurrentTimeMs())
}

func TestSetTimeBackwardsIgnored(t *testing.T) {
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)
	require.NoError(t, stream.SetTime(100))
	require.NoError(t, stream.SetTime(50), "Откат времени — не ошибка, а пропуск")
	assert.Equal(t, int64(100), stream.CurrentTimeMs())
}

func TestCrossSceneRefRejected(t *testing.T) {
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)

	sceneA := sim.NewScene("a")
	sceneB := sim.NewScene("b")
	require.NoError(t, stream.AddScene(sceneA))
	require.NoError(t, stream.AddScene(sceneB))

	inA := sim.NewNode("x")
	inB := sim.NewNode("y")
	require.NoError(t, stream.AddNode(inA, sceneA))
	require.NoError(t, stream.AddNode(inB, sceneB))

	err := stream.SetNodeAttr(inA, 0, sim.RefValue(inB.StreamID()))
	assert.ErrorIs(t, err, ErrProtocol, "Ссылка через сцены запрещена")

	err = stream.ConnectNodeAttr(inA, 0, inB, 0)
	assert.ErrorIs(t, err, ErrProtocol, "Привязка через сцены запрещена")

	// Ссылка вперёд на ещё не созданный узел допустима
	assert.NoError(t, stream.SetNodeAttr(inA, 0, sim.RefValue(999)))
}

func TestSetNodeAttrRejectsCommandOverFrameLimit(t *testing.T) {
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)
	peer := &capturePeer{id: "p"}
	require.NoError(t, stream.AttachPeer(peer))

	scene := sim.NewScene("arena")
	require.NoError(t, stream.AddScene(scene))
	node := sim.NewNode("board")
	require.NoError(t, stream.AddNode(node, scene))

	// Каждая строка и счётчик в пределах кодека, но суммарная команда
	// не помещается в 16-битный префикс длины
	big := make([]string, 10)
	for i := range big {
		big[i] = string(make([]byte, codec.MaxBlobLen))
	}
	pending := stream.PendingLen()
	err := stream.SetNodeAttr(node, 0, sim.StringArrayValue(big))
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, pending, stream.PendingLen(), "Переполненная команда не попадает в батч")
	_, stored := node.Attrs[0]
	assert.False(t, stored, "Состояние хоста не расходится с проводом")

	// Крупный, но помещающийся массив проходит сквозь сессию целиком
	fitting := make([]string, 6)
	for i := range fitting {
		fitting[i] = string(make([]byte, codec.MaxBlobLen))
	}
	require.NoError(t, stream.SetNodeAttr(node, 1, sim.StringArrayValue(fitting)))
	require.NoError(t, stream.SetTime(10))
	stream.Flush()

	session := NewSession(nil, nil)
	deliver(t, session, peer.msgs, 100)
	assert.NotEqual(t, StateEnded, session.State())
	e, err := session.Nodes().Get(node.StreamID())
	require.NoError(t, err)
	assert.True(t, e.(*sim.Node).Attrs[1].Equal(sim.StringArrayValue(fitting)))
}

func TestSessionRejectsOversizedTimeStep(t *testing.T) {
	// Рукотворный шаг времени сверх предела протокола
	w := codec.NewWriter()
	w.WriteUint8(uint8(MsgCommandBatch))
	cmd := codec.NewWriter()
	cmd.WriteUint8(uint8(OpTimeStep))
	cmd.WriteUint16(uint16(codec.MaxTimeStep + 1))
	w.WriteUint16(uint16(cmd.Len()))
	w.WriteRaw(cmd.Bytes())

	cb := &recCallbacks{}
	session := NewSession(cb, nil)
	require.NoError(t, session.HandleSessionMessage(w.Bytes()))
	session.Update(100)

	assert.Equal(t, StateEnded, session.State(), "Повреждённый поток фатален")
	assert.True(t, cb.ended)
}

func TestSessionVersionGating(t *testing.T) {
	session := NewSession(nil, nil)
	assert.ErrorIs(t, session.SetProtocolVersion(0), ErrVersion)
	assert.ErrorIs(t, session.SetProtocolVersion(ProtocolVersion+1), ErrVersion)
	require.NoError(t, session.SetProtocolVersion(1))
	assert.Equal(t, uint16(1), session.ProtocolVersionNegotiated())

	// Опкод второй версии в потоке первой — ошибка протокола
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)
	peer := &capturePeer{id: "v1"}
	require.NoError(t, stream.AttachPeer(peer))
	stream.CameraShake(1.0, 300)
	require.NoError(t, stream.SetTime(10))
	stream.Flush()

	cb := &recCallbacks{}
	v1 := NewSession(cb, nil)
	require.NoError(t, v1.SetProtocolVersion(1))
	deliver(t, v1, peer.msgs, 100)
	assert.Equal(t, StateEnded, v1.State())
	assert.True(t, cb.ended)

	// Та же последовательность на второй версии проходит
	v2 := NewSession(nil, nil)
	deliver(t, v2, peer.msgs, 100)
	assert.Equal(t, int64(10), v2.CurrentTimeMs())
	assert.NotEqual(t, StateEnded, v2.State())
}

func TestSessionUnknownMessageType(t *testing.T) {
	session := NewSession(nil, nil)
	err := session.HandleSessionMessage([]byte{99})
	assert.ErrorIs(t, err, ErrProtocol)
	err = session.HandleSessionMessage(nil)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestSessionResetMessage(t *testing.T) {
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)
	peer := &capturePeer{id: "p"}
	require.NoError(t, stream.AttachPeer(peer))
	scene := sim.NewScene("arena")
	require.NoError(t, stream.AddScene(scene))
	require.NoError(t, stream.SetTime(30))
	stream.Flush()

	session := NewSession(nil, nil)
	deliver(t, session, peer.msgs, 100)
	require.Equal(t, 1, session.Scenes().Len())

	require.NoError(t, session.HandleSessionMessage([]byte{MsgSessionReset}))
	assert.Equal(t, 0, session.Scenes().Len())
	assert.Equal(t, int64(0), session.CurrentTimeMs())
	assert.False(t, session.EOFReached())
}

func TestSessionEndIdempotent(t *testing.T) {
	session := NewSession(nil, nil)
	session.End()
	session.End()
	assert.Equal(t, StateEnded, session.State())

	err := session.HandleSessionMessage([]byte{MsgSessionReset})
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestSessionUnderrun(t *testing.T) {
	session := NewSession(nil, nil)
	session.SetFeed(&stubFeed{})

	session.Update(100)
	assert.Equal(t, StateUnderrun, session.State())
}

// stubFeed всегда пустой источник
type stubFeed struct {
	underruns int
}

func (f *stubFeed) FetchMore() (bool, error) { return false, nil }
func (f *stubFeed) OnBufferUnderrun()        { f.underruns++ }

func TestSessionUnderrunNotifiesFeed(t *testing.T) {
	feed := &stubFeed{}
	session := NewSession(nil, nil)
	session.SetFeed(feed)
	session.Update(50)
	assert.Equal(t, 1, feed.underruns)
}

func TestBuildCorrectionDiff(t *testing.T) {
	node := sim.NewNode("crate")
	node.SetStreamID(0)
	node.Bodies = append(node.Bodies, &sim.Body{ID: 0}, &sim.Body{ID: 1})
	node.Bodies[0].State.Position = [3]float32{1, 2, 3}

	baseline := make(map[int32]map[uint8]sim.RigidBodyState)

	// Первая коррекция включает оба тела
	_, changed := BuildCorrection([]*sim.Node{node}, baseline, true)
	assert.Equal(t, 2, changed)

	// Без изменений дифф пуст, заголовок не длиннее четырёх байт
	payload, changed := BuildCorrection([]*sim.Node{node}, baseline, true)
	assert.Equal(t, 0, changed)
	assert.LessOrEqual(t, len(payload), 4)

	// Меняется одно тело — включается только оно
	node.Bodies[1].State.LinearVel = [3]float32{0, -9.8, 0}
	_, changed = BuildCorrection([]*sim.Node{node}, baseline, true)
	assert.Equal(t, 1, changed)
}

func TestApplyCorrectionBlendOffset(t *testing.T) {
	host := sim.NewNode("crate")
	host.SetStreamID(0)
	host.Bodies = append(host.Bodies, &sim.Body{ID: 0})
	host.Bodies[0].State.Position = [3]float32{5, 0, 0}

	payload, changed := BuildFullCorrection([]*sim.Node{host}, true)
	require.Equal(t, 1, changed)

	var mirror sim.MirrorTable
	clone := sim.NewNode("crate")
	clone.Bodies = append(clone.Bodies, &sim.Body{ID: 0})
	clone.Bodies[0].State.Position = [3]float32{4, 0, 0}
	require.NoError(t, mirror.Put(0, clone))

	require.NoError(t, ApplyCorrection(codec.NewReader(payload), &mirror, nil))
	assert.Equal(t, [3]float32{5, 0, 0}, clone.Bodies[0].State.Position)
	assert.Equal(t, [3]float32{-1, 0, 0}, clone.BlendOffset,
		"Смещение сглаживания равно старой позиции минус новой")
}

func TestApplyCorrectionMissingNodeSoftSkipped(t *testing.T) {
	host := sim.NewNode("ghost")
	host.SetStreamID(7)
	host.Bodies = append(host.Bodies, &sim.Body{ID: 0})

	payload, changed := BuildFullCorrection([]*sim.Node{host}, false)
	require.Equal(t, 1, changed)

	// Зеркало без узла 7: коррекция молча пропускается
	var mirror sim.MirrorTable
	assert.NoError(t, ApplyCorrection(codec.NewReader(payload), &mirror, nil))
}

func TestStreamRecorderReceivesMessages(t *testing.T) {
	rec := &captureRecorder{}
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)
	stream.SetRecorder(rec)
	assert.True(t, stream.Recording())

	scene := sim.NewScene("arena")
	require.NoError(t, stream.AddScene(scene))
	require.NoError(t, stream.SetTime(20))
	stream.Flush()

	require.Len(t, rec.msgs, 1)
	assert.Equal(t, MsgCommandBatch, rec.msgs[0][0])

	stream.Shutdown()
	assert.True(t, rec.closed, "Shutdown закрывает запись")
	assert.False(t, stream.Recording())
}

// captureRecorder запись реплея в память
type captureRecorder struct {
	msgs   [][]byte
	closed bool
}

func (r *captureRecorder) Append(message []byte) error {
	r.msgs = append(r.msgs, append([]byte(nil), message...))
	return nil
}

func (r *captureRecorder) Close() error {
	r.closed = true
	return nil
}

func TestStreamShutdownSuppressesTraffic(t *testing.T) {
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)
	peer := &capturePeer{id: "p"}
	require.NoError(t, stream.AttachPeer(peer))
	stream.Shutdown()

	sent := len(peer.msgs)
	require.NoError(t, stream.AddScene(sim.NewScene("late")))
	require.NoError(t, stream.SetTime(100))
	stream.Flush()
	assert.Equal(t, sent, len(peer.msgs), "После Shutdown трафик не идёт")

	assert.ErrorIs(t, stream.AttachPeer(&capturePeer{id: "q"}), ErrSessionEnded)
}

func TestStreamDetachPeer(t *testing.T) {
	stream := NewStream(StreamConfig{BufferTimeMs: 1 << 30}, nil)
	a := &capturePeer{id: "a"}
	b := &capturePeer{id: "b"}
	require.NoError(t, stream.AttachPeer(a))
	require.NoError(t, stream.AttachPeer(b))
	assert.Equal(t, 2, stream.PeerCount())

	stream.DetachPeer(a)
	assert.Equal(t, 1, stream.PeerCount())

	before := len(a.msgs)
	require.NoError(t, stream.SetTime(10))
	stream.Flush()
	assert.Equal(t, before, len(a.msgs))
	assert.Greater(t, len(b.msgs), 0)
}
