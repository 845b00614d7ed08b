package replication

import (
	"fmt"

	"github.com/annel0/replistream/internal/codec"
	"github.com/annel0/replistream/internal/logging"
	"github.com/annel0/replistream/internal/metrics"
	"github.com/annel0/replistream/internal/sim"
)

// SessionState состояние декодера
type SessionState int

const (
	// StateRunning команды применяются в темпе политики скорости
	StateRunning SessionState = iota
	// StateUnderrun данные кончились раньше целевого времени
	StateUnderrun
	// StateEnded сессия завершена (штатно или по ошибке)
	StateEnded
)

// RatePolicy управляет темпом продвижения целевого времени.
// Фактическое продвижение может отличаться от реального из-за
// паузы, масштабирования скорости или перемотки.
type RatePolicy interface {
	ActualTimeAdvanceMs(advanceMs int64) int64
}

// realTimePolicy продвигает время один к одному
type realTimePolicy struct{}

func (realTimePolicy) ActualTimeAdvanceMs(advanceMs int64) int64 { return advanceMs }

// Feed источник данных декодера. Сетевой фид ждёт следующий пакет;
// файловый читает очередную запись реплея.
type Feed interface {
	// FetchMore подтягивает данные в очередь. false — данных сейчас нет.
	FetchMore() (bool, error)
	// OnBufferUnderrun вызывается, когда целевое время не достигнуто,
	// а очередь пуста.
	OnBufferUnderrun()
}

// Callbacks узкие вызовы во внешние подсистемы (звук, UI, физика,
// возврат приложения в нейтральное состояние). Все методы вызываются
// на логическом потоке.
type Callbacks interface {
	PlaySound(name string, looping bool)
	PlaySoundAt(name string, x, y, z float32)
	ScreenMessage(top bool, text string)
	CameraShake(magnitude float32, durationMs uint16)
	EmitParticleFX(name string, x, y, z float32)
	SceneStepped(scene *sim.Scene, dtMs int64)
	NodeCreated(node *sim.Node)
	NodeMessage(node *sim.Node, payload []byte)
	SessionEnded(reason string)
}

// NopCallbacks заглушка для тестов и утилит
type NopCallbacks struct{}

func (NopCallbacks) PlaySound(string, bool)                  {}
func (NopCallbacks) PlaySoundAt(string, float32, float32, float32) {}
func (NopCallbacks) ScreenMessage(bool, string)              {}
func (NopCallbacks) CameraShake(float32, uint16)             {}
func (NopCallbacks) EmitParticleFX(string, float32, float32, float32) {}
func (NopCallbacks) SceneStepped(*sim.Scene, int64)          {}
func (NopCallbacks) NodeCreated(*sim.Node)                   {}
func (NopCallbacks) NodeMessage(*sim.Node, []byte)           {}
func (NopCallbacks) SessionEnded(string)                     {}

// Session декодер командного потока: владеет зеркальными таблицами
// сущностей, тянет батчи команд и продвигает локальное целевое время
// в темпе политики скорости. Фид подставляет источник данных —
// сетевое соединение или файл реплея.
type Session struct {
	logger   *logging.Logger
	policy   RatePolicy
	feed     Feed
	callback Callbacks

	version uint16

	scenes          sim.MirrorTable
	nodes           sim.MirrorTable
	materials       sim.MirrorTable
	textures        sim.MirrorTable
	meshes          sim.MirrorTable
	sounds          sim.MirrorTable
	collisionMeshes sim.MirrorTable
	dataAssets      sim.MirrorTable

	queue          [][]byte
	currentTimeMs  int64
	targetTimeMs   int64
	bufferedTimeMs int64

	state        SessionState
	shuttingDown bool
	eofReached   bool
}

// NewSession создаёт декодер с политикой реального времени
func NewSession(cb Callbacks, logger *logging.Logger) *Session {
	if cb == nil {
		cb = NopCallbacks{}
	}
	if logger == nil {
		logger = logging.GetSessionLogger()
	}
	return &Session{
		logger:   logger,
		policy:   realTimePolicy{},
		callback: cb,
		version:  ProtocolVersion,
	}
}

// SetRatePolicy подменяет политику темпа (реплей ставит свою)
func (s *Session) SetRatePolicy(p RatePolicy) { s.policy = p }

// SetFeed подставляет источник данных
func (s *Session) SetFeed(f Feed) { s.feed = f }

// SetProtocolVersion фиксирует согласованную версию протокола.
// Версия вне диапазона — ошибка, декодер её не принимает.
func (s *Session) SetProtocolVersion(v uint16) error {
	if v < MinProtocolVersion || v > ProtocolVersion {
		return fmt.Errorf("%w: %d (поддерживается %d..%d)", ErrVersion, v, MinProtocolVersion, ProtocolVersion)
	}
	s.version = v
	return nil
}

// ProtocolVersionNegotiated возвращает согласованную версию
func (s *Session) ProtocolVersionNegotiated() uint16 { return s.version }

// State возвращает состояние декодера
func (s *Session) State() SessionState { return s.state }

// CurrentTimeMs возвращает применённое базовое время
func (s *Session) CurrentTimeMs() int64 { return s.currentTimeMs }

// TargetTimeMs возвращает целевое время
func (s *Session) TargetTimeMs() int64 { return s.targetTimeMs }

// BufferedTimeMs возвращает запас времени в очереди (для политик темпа)
func (s *Session) BufferedTimeMs() int64 { return s.bufferedTimeMs }

// EOFReached сообщает, была ли применена команда конца файла
func (s *Session) EOFReached() bool { return s.eofReached }

// Update продвигает декодер: запрашивает у политики фактическое
// продвижение, добавляет его к целевому времени и применяет команды,
// пока текущее время не догонит целевое или не кончатся данные.
func (s *Session) Update(advanceMs int64) {
	if s.state == StateEnded {
		return
	}
	s.targetTimeMs += s.policy.ActualTimeAdvanceMs(advanceMs)

	for s.currentTimeMs < s.targetTimeMs && !s.eofReached {
		if len(s.queue) == 0 {
			more := false
			var err error
			if s.feed != nil {
				more, err = s.feed.FetchMore()
				if err != nil {
					s.Error(fmt.Sprintf("ошибка фида: %v", err))
					return
				}
			}
			if !more {
				s.state = StateUnderrun
				metrics.BufferUnderruns.Inc()
				if s.feed != nil {
					s.feed.OnBufferUnderrun()
				}
				return
			}
			continue
		}

		command := s.queue[0]
		s.queue = s.queue[1:]
		if err := s.dispatch(command); err != nil {
			s.Error(err.Error())
			return
		}
	}
	s.state = StateRunning
}

// HandleSessionMessage демультиплексирует транспортное сообщение:
// сброс сессии, батч команд или блоб коррекции динамики.
func (s *Session) HandleSessionMessage(raw []byte) error {
	if s.state == StateEnded {
		return ErrSessionEnded
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: пустое сообщение", ErrProtocol)
	}

	switch raw[0] {
	case MsgSessionReset:
		s.ResetState()
		return nil
	case MsgCommandBatch:
		r := codec.NewReader(raw[1:])
		for r.Remaining() > 0 {
			length, err := r.ReadUint16()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrProtocol, err)
			}
			command, err := r.ReadRaw(int(length))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrProtocol, err)
			}
			if len(command) == 0 {
				return fmt.Errorf("%w: пустая команда в батче", ErrProtocol)
			}
			s.queue = append(s.queue, command)
			// Запас времени в очереди учитывается при постановке
			if Opcode(command[0]) == OpTimeStep && len(command) >= 3 {
				cr := codec.NewReader(command[1:])
				if delta, err := cr.ReadUint16(); err == nil {
					s.bufferedTimeMs += int64(delta)
				}
			}
		}
		return nil
	case MsgCorrection:
		// Коррекция становится обычной командой в очереди
		command := make([]byte, 0, 1+len(raw)-1)
		command = append(command, uint8(OpDynamicsCorrection))
		command = append(command, raw[1:]...)
		s.queue = append(s.queue, command)
		return nil
	default:
		return fmt.Errorf("%w: неизвестный тип сообщения %d", ErrProtocol, raw[0])
	}
}

// EnqueueCommand ставит готовую команду в очередь (синтетический EOF)
func (s *Session) EnqueueCommand(command []byte) {
	s.queue = append(s.queue, command)
}

// QueueLen возвращает число команд в очереди
func (s *Session) QueueLen() int { return len(s.queue) }

// ApplyQueued применяет все команды очереди немедленно, без учёта
// темпа времени. Используется при восстановлении из снапшота.
func (s *Session) ApplyQueued() error {
	for len(s.queue) > 0 {
		command := s.queue[0]
		s.queue = s.queue[1:]
		if err := s.dispatch(command); err != nil {
			return err
		}
	}
	return nil
}

// ResetState очищает всё локальное состояние декодера
func (s *Session) ResetState() {
	s.scenes.Reset()
	s.nodes.Reset()
	s.materials.Reset()
	s.textures.Reset()
	s.meshes.Reset()
	s.sounds.Reset()
	s.collisionMeshes.Reset()
	s.dataAssets.Reset()
	s.queue = nil
	s.currentTimeMs = 0
	s.targetTimeMs = 0
	s.bufferedTimeMs = 0
	s.eofReached = false
	if s.state != StateEnded {
		s.state = StateRunning
	}
}

// ResetTargetTime опускает целевое время до текущего (underrun реплея)
func (s *Session) ResetTargetTime() { s.targetTimeMs = s.currentTimeMs }

// ForceTime принудительно устанавливает текущее и целевое время
// (восстановление из снапшота)
func (s *Session) ForceTime(tMs int64) {
	s.currentTimeMs = tMs
	s.targetTimeMs = tMs
	s.bufferedTimeMs = 0
	s.eofReached = false
}

// Error логирует описание, завершает сессию и уведомляет приложение.
// Ни одна ошибка протокола не ретраится: после повреждённого потока
// продолжать — значит получить разъехавшуюся симуляцию.
func (s *Session) Error(description string) {
	if s.state == StateEnded {
		return
	}
	s.logger.Error("ошибка сессии: %s", description)
	metrics.ProtocolErrors.Inc()
	s.End()
	s.callback.SessionEnded(description)
}

// End завершает сессию. Идемпотентно: повторный вызов — no-op.
func (s *Session) End() {
	if s.shuttingDown {
		return
	}
	s.shuttingDown = true
	s.state = StateEnded
}

// ---- Диспетчеризация команд ----

func (s *Session) dispatch(command []byte) error {
	op := Opcode(command[0])
	if op > maxOpcodeForVersion(s.version) {
		return fmt.Errorf("%w: опкод %d выше предела версии %d", ErrProtocol, op, s.version)
	}
	r := codec.NewReader(command[1:])

	var err error
	switch op {
	case OpSceneAdd:
		err = s.handleSceneAdd(r)
	case OpSceneRemove:
		err = s.handleSceneRemove(r)
	case OpSceneStep:
		err = s.handleSceneStep(r)
	case OpNodeAdd:
		err = s.handleNodeAdd(r)
	case OpNodeRemove:
		err = s.handleNodeRemove(r)
	case OpNodeOnCreate:
		err = s.handleNodeOnCreate(r)
	case OpNodeMessage:
		err = s.handleNodeMessage(r)
	case OpNodeAttrFloat, OpNodeAttrInt, OpNodeAttrBool, OpNodeAttrString, OpNodeAttrRef,
		OpNodeAttrFloatArray, OpNodeAttrIntArray, OpNodeAttrBoolArray, OpNodeAttrStringArray, OpNodeAttrRefArray:
		err = s.handleNodeAttr(op, r)
	case OpNodeAttrConnect:
		err = s.handleNodeAttrConnect(r)
	case OpMaterialAdd:
		err = s.handleMaterialAdd(r)
	case OpMaterialRemove:
		err = s.handleMaterialRemove(r)
	case OpMaterialComponent:
		err = s.handleMaterialComponent(r)
	case OpTextureAdd:
		err = s.handleAssetAdd(r, &s.textures, func(name string) sim.Entity { return sim.NewTexture(name) })
	case OpTextureRemove:
		err = s.handleAssetRemove(r, &s.textures)
	case OpMeshAdd:
		err = s.handleAssetAdd(r, &s.meshes, func(name string) sim.Entity { return sim.NewMesh(name) })
	case OpMeshRemove:
		err = s.handleAssetRemove(r, &s.meshes)
	case OpSoundAdd:
		err = s.handleSoundAdd(r)
	case OpSoundRemove:
		err = s.handleAssetRemove(r, &s.sounds)
	case OpCollisionMeshAdd:
		err = s.handleAssetAdd(r, &s.collisionMeshes, func(name string) sim.Entity { return sim.NewCollisionMesh(name) })
	case OpCollisionMeshRemove:
		err = s.handleAssetRemove(r, &s.collisionMeshes)
	case OpDataAdd:
		err = s.handleDataAdd(r)
	case OpDataRemove:
		err = s.handleAssetRemove(r, &s.dataAssets)
	case OpTimeStep:
		err = s.handleTimeStep(r)
	case OpDynamicsCorrection:
		err = ApplyCorrection(r, &s.nodes, s.logger)
	case OpPlaySound:
		err = s.handlePlaySound(r)
	case OpPlaySoundAt:
		err = s.handlePlaySoundAt(r)
	case OpScreenMessageTop:
		err = s.handleScreenMessage(r, true)
	case OpScreenMessageBottom:
		err = s.handleScreenMessage(r, false)
	case OpCameraShake:
		err = s.handleCameraShake(r)
	case OpEmitParticleFX:
		err = s.handleEmitParticleFX(r)
	case OpSetForegroundScene:
		err = s.handleSetForegroundScene(r)
	case OpEndOfFile:
		s.eofReached = true
		s.targetTimeMs = s.currentTimeMs
	default:
		err = fmt.Errorf("%w: неизвестный опкод %d", ErrProtocol, op)
	}
	if err != nil {
		return fmt.Errorf("команда %s: %w", op, err)
	}
	return nil
}

func (s *Session) handleSceneAdd(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	name, err := r.ReadString()
	if err != nil {
		return err
	}
	foreground, err := r.ReadBool()
	if err != nil {
		return err
	}
	scene := sim.NewScene(name)
	scene.Foreground = foreground
	return s.scenes.Put(id, scene)
}

func (s *Session) handleSceneRemove(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	return s.scenes.Remove(id)
}

func (s *Session) handleSceneStep(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	dt, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if int(dt) > codec.MaxSceneStep {
		return fmt.Errorf("%w: шаг сцены %d мс", ErrProtocol, dt)
	}
	e, err := s.scenes.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	scene := e.(*sim.Scene)
	scene.Step(int64(dt))
	s.callback.SceneStepped(scene, int64(dt))
	return nil
}

func (s *Session) handleNodeAdd(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	sceneID, err := r.ReadInt32()
	if err != nil {
		return err
	}
	nodeType, err := r.ReadString()
	if err != nil {
		return err
	}
	if _, err := s.scenes.Get(sceneID); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	node := sim.NewNode(nodeType)
	node.SceneID = sceneID
	return s.nodes.Put(id, node)
}

func (s *Session) handleNodeRemove(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	return s.nodes.Remove(id)
}

func (s *Session) handleNodeOnCreate(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	e, err := s.nodes.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	s.callback.NodeCreated(e.(*sim.Node))
	return nil
}

func (s *Session) handleNodeMessage(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	payload, err := r.ReadBlob()
	if err != nil {
		return err
	}
	e, err := s.nodes.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	s.callback.NodeMessage(e.(*sim.Node), payload)
	return nil
}

func attrTypeForOpcode(op Opcode) sim.AttrType {
	switch op {
	case OpNodeAttrFloat:
		return sim.AttrFloat
	case OpNodeAttrInt:
		return sim.AttrInt
	case OpNodeAttrBool:
		return sim.AttrBool
	case OpNodeAttrString:
		return sim.AttrString
	case OpNodeAttrRef:
		return sim.AttrNodeRef
	case OpNodeAttrFloatArray:
		return sim.AttrFloatArray
	case OpNodeAttrIntArray:
		return sim.AttrIntArray
	case OpNodeAttrBoolArray:
		return sim.AttrBoolArray
	case OpNodeAttrStringArray:
		return sim.AttrStringArray
	default:
		return sim.AttrNodeRefArray
	}
}

func (s *Session) handleNodeAttr(op Opcode, r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	attrIndex, err := r.ReadUint16()
	if err != nil {
		return err
	}
	value, err := sim.DecodeAttrValue(r, attrTypeForOpcode(op))
	if err != nil {
		return err
	}
	e, err := s.nodes.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	node := e.(*sim.Node)

	// Ссылка вперёд допустима (порядок дампа), но существующая цель
	// обязана быть в той же сцене
	if err := s.checkRefScene(node, value); err != nil {
		return err
	}
	node.Attrs[attrIndex] = value
	return nil
}

func (s *Session) checkRefScene(node *sim.Node, value sim.AttrValue) error {
	check := func(ref int32) error {
		if e := s.nodes.Lookup(ref); e != nil {
			if e.(*sim.Node).SceneID != node.SceneID {
				return fmt.Errorf("%w: ссылка на узел %d из другой сцены", ErrProtocol, ref)
			}
		}
		return nil
	}
	switch value.Type {
	case sim.AttrNodeRef:
		return check(value.Ref)
	case sim.AttrNodeRefArray:
		for _, ref := range value.Refs {
			if err := check(ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) handleNodeAttrConnect(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	attrIndex, err := r.ReadUint16()
	if err != nil {
		return err
	}
	srcNode, err := r.ReadInt32()
	if err != nil {
		return err
	}
	srcAttr, err := r.ReadUint16()
	if err != nil {
		return err
	}
	e, err := s.nodes.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	node := e.(*sim.Node)
	conn := sim.AttrConnection{AttrIndex: attrIndex, SrcNode: srcNode, SrcAttr: srcAttr}
	if node.Connected(conn) {
		// Повторная привязка — мягкое условие, не ошибка
		s.logger.WarnOnce(fmt.Sprintf("dup-connect-%d-%d", id, attrIndex),
			"повторная привязка атрибута %d узла %d пропущена", attrIndex, id)
		return nil
	}
	node.Connections = append(node.Connections, conn)
	return nil
}

func (s *Session) handleMaterialAdd(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	name, err := r.ReadString()
	if err != nil {
		return err
	}
	return s.materials.Put(id, sim.NewMaterial(name))
}

func (s *Session) handleMaterialRemove(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	return s.materials.Remove(id)
}

func (s *Session) handleMaterialComponent(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	size, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if int(size) > r.Remaining() {
		return fmt.Errorf("%w: размер дерева правил %d больше остатка %d", ErrProtocol, size, r.Remaining())
	}
	rule, err := sim.DecodeMatchRule(r)
	if err != nil {
		return err
	}
	e, err := s.materials.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	e.(*sim.Material).AddComponent(rule)
	return nil
}

func (s *Session) handleAssetAdd(r *codec.Reader, table *sim.MirrorTable, make func(name string) sim.Entity) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	name, err := r.ReadString()
	if err != nil {
		return err
	}
	return table.Put(id, make(name))
}

func (s *Session) handleAssetRemove(r *codec.Reader, table *sim.MirrorTable) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	return table.Remove(id)
}

func (s *Session) handleSoundAdd(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	name, err := r.ReadString()
	if err != nil {
		return err
	}
	looping, err := r.ReadBool()
	if err != nil {
		return err
	}
	return s.sounds.Put(id, sim.NewSound(name, looping))
}

func (s *Session) handleDataAdd(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	name, err := r.ReadString()
	if err != nil {
		return err
	}
	data, err := r.ReadBlob()
	if err != nil {
		return err
	}
	return s.dataAssets.Put(id, sim.NewDataAsset(name, data))
}

func (s *Session) handleTimeStep(r *codec.Reader) error {
	delta, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if int(delta) > codec.MaxTimeStep {
		return fmt.Errorf("%w: шаг времени %d мс (предел %d)", ErrProtocol, delta, codec.MaxTimeStep)
	}
	s.currentTimeMs += int64(delta)
	s.bufferedTimeMs -= int64(delta)
	if s.bufferedTimeMs < 0 {
		s.bufferedTimeMs = 0
	}
	return nil
}

func (s *Session) handlePlaySound(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	e, err := s.sounds.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	snd := e.(*sim.Sound)
	s.callback.PlaySound(snd.Name, snd.Looping)
	return nil
}

func (s *Session) handlePlaySoundAt(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	x, err := r.ReadFloat32()
	if err != nil {
		return err
	}
	y, err := r.ReadFloat32()
	if err != nil {
		return err
	}
	z, err := r.ReadFloat32()
	if err != nil {
		return err
	}
	e, err := s.sounds.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	s.callback.PlaySoundAt(e.(*sim.Sound).Name, x, y, z)
	return nil
}

func (s *Session) handleScreenMessage(r *codec.Reader, top bool) error {
	text, err := r.ReadString()
	if err != nil {
		return err
	}
	s.callback.ScreenMessage(top, text)
	return nil
}

func (s *Session) handleCameraShake(r *codec.Reader) error {
	magnitude, err := r.ReadFloat32()
	if err != nil {
		return err
	}
	duration, err := r.ReadUint16()
	if err != nil {
		return err
	}
	s.callback.CameraShake(magnitude, duration)
	return nil
}

func (s *Session) handleEmitParticleFX(r *codec.Reader) error {
	name, err := r.ReadString()
	if err != nil {
		return err
	}
	x, err := r.ReadFloat32()
	if err != nil {
		return err
	}
	y, err := r.ReadFloat32()
	if err != nil {
		return err
	}
	z, err := r.ReadFloat32()
	if err != nil {
		return err
	}
	s.callback.EmitParticleFX(name, x, y, z)
	return nil
}

func (s *Session) handleSetForegroundScene(r *codec.Reader) error {
	id, err := r.ReadInt32()
	if err != nil {
		return err
	}
	e, err := s.scenes.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	for _, other := range s.scenes.Live() {
		other.(*sim.Scene).Foreground = false
	}
	e.(*sim.Scene).Foreground = true
	return nil
}

// ---- Доступ к зеркальному состоянию ----

// Scenes возвращает зеркальную таблицу сцен
func (s *Session) Scenes() *sim.MirrorTable { return &s.scenes }

// Nodes возвращает зеркальную таблицу узлов
func (s *Session) Nodes() *sim.MirrorTable { return &s.nodes }

// Materials возвращает зеркальную таблицу материалов
func (s *Session) Materials() *sim.MirrorTable { return &s.materials }

// Sounds возвращает зеркальную таблицу звуков
func (s *Session) Sounds() *sim.MirrorTable { return &s.sounds }

// Textures возвращает зеркальную таблицу текстур
func (s *Session) Textures() *sim.MirrorTable { return &s.textures }

// Meshes возвращает зеркальную таблицу мешей
func (s *Session) Meshes() *sim.MirrorTable { return &s.meshes }

// CollisionMeshes возвращает зеркальную таблицу коллизионных мешей
func (s *Session) CollisionMeshes() *sim.MirrorTable { return &s.collisionMeshes }

// DataAssets возвращает зеркальную таблицу бинарных ассетов
func (s *Session) DataAssets() *sim.MirrorTable { return &s.dataAssets }

// ---- Дамп зеркального состояния ----

// DumpStateMessage собирает одно сообщение с полным зеркальным
// состоянием (фан-аут реплея новому пиру, снапшоты перемотки)
func (s *Session) DumpStateMessage() ([]byte, error) {
	dump := newDumpStream(s.logger)
	if err := dumpEntities(dump, sessionDumpSource{s}); err != nil {
		return nil, err
	}
	message := make([]byte, 0, 1+dump.buf.Len())
	message = append(message, MsgCommandBatch)
	message = append(message, dump.buf.Bytes()...)
	return message, nil
}

// FullCorrectionMessage строит коррекцию со всеми телами зеркальных
// узлов; nil, если тел нет
func (s *Session) FullCorrectionMessage() []byte {
	live := s.nodes.Live()
	nodes := make([]*sim.Node, len(live))
	for i, e := range live {
		nodes[i] = e.(*sim.Node)
	}
	payload, changed := BuildFullCorrection(nodes, false)
	if changed == 0 {
		return nil
	}
	message := make([]byte, 0, 1+len(payload))
	message = append(message, MsgCorrection)
	message = append(message, payload...)
	return message
}

// sessionDumpSource источник дампа над зеркальными таблицами
type sessionDumpSource struct{ s *Session }

func (d sessionDumpSource) liveScenes() []*sim.Scene {
	live := d.s.scenes.Live()
	out := make([]*sim.Scene, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Scene)
	}
	return out
}

func (d sessionDumpSource) liveDumpNodes() []*sim.Node {
	live := d.s.nodes.Live()
	out := make([]*sim.Node, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Node)
	}
	return out
}

func (d sessionDumpSource) liveMaterials() []*sim.Material {
	live := d.s.materials.Live()
	out := make([]*sim.Material, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Material)
	}
	return out
}

func (d sessionDumpSource) liveTextures() []*sim.Texture {
	live := d.s.textures.Live()
	out := make([]*sim.Texture, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Texture)
	}
	return out
}

func (d sessionDumpSource) liveMeshes() []*sim.Mesh {
	live := d.s.meshes.Live()
	out := make([]*sim.Mesh, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Mesh)
	}
	return out
}

func (d sessionDumpSource) liveSounds() []*sim.Sound {
	live := d.s.sounds.Live()
	out := make([]*sim.Sound, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Sound)
	}
	return out
}

func (d sessionDumpSource) liveCollisionMeshes() []*sim.CollisionMesh {
	live := d.s.collisionMeshes.Live()
	out := make([]*sim.CollisionMesh, len(live))
	for i, e := range live {
		out[i] = e.(*sim.CollisionMesh)
	}
	return out
}

func (d sessionDumpSource) liveDataAssets() []*sim.DataAsset {
	live := d.s.dataAssets.Live()
	out := make([]*sim.DataAsset, len(live))
	for i, e := range live {
		out[i] = e.(*sim.DataAsset)
	}
	return out
}
