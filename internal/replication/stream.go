package replication

import (
	"fmt"

	"github.com/annel0/replistream/internal/codec"
	"github.com/annel0/replistream/internal/logging"
	"github.com/annel0/replistream/internal/metrics"
	"github.com/annel0/replistream/internal/sim"
)

// Peer надёжный канал доставки байтов одному получателю.
// Реализуется транспортным слоем (TCP/KCP); здесь только интерфейс.
type Peer interface {
	ID() string
	SendReliable(data []byte) error
}

// ReplayRecorder принимает готовые сообщения для записи в файл реплея.
// Реализация выполняет сжатие и дисковый ввод-вывод вне горячего пути.
type ReplayRecorder interface {
	Append(message []byte) error
	Close() error
}

// Stream энкодер командного потока стороны хоста. Владеет таблицами
// идентификаторов всех реплицируемых типов, превращает каждую мутацию
// в команду опкод+нагрузка и батчирует команды между шагами времени.
//
// Однопоточная модель: все вызовы происходят на логическом потоке
// симуляции, внутренних блокировок нет.
type Stream struct {
	logger *logging.Logger

	scenes          sim.HostTable
	nodes           sim.HostTable
	materials       sim.HostTable
	textures        sim.HostTable
	meshes          sim.HostTable
	sounds          sim.HostTable
	collisionMeshes sim.HostTable
	dataAssets      sim.HostTable

	buf *codec.Writer // накопленные команды текущего сообщения
	cmd *codec.Writer // рабочий буфер одной команды

	// dumpMode: поток производит одноразовый дамп полного состояния.
	// Идентификаторы не выделяются — используются уже назначенные.
	dumpMode bool

	currentTimeMs   int64
	lastShippedTime int64
	lastFlushTime   int64
	lastCorrection  int64

	bufferTimeMs         int64
	correctionIntervalMs int64

	peers    []Peer
	recorder ReplayRecorder

	// baseline последних отправленных состояний тел для диффа коррекций
	baseline map[int32]map[uint8]sim.RigidBodyState

	shuttingDown bool
	timeWarned   bool
}

// StreamConfig параметры энкодера
type StreamConfig struct {
	BufferTimeMs         int64
	CorrectionIntervalMs int64
}

// NewStream создаёт энкодер командного потока
func NewStream(cfg StreamConfig, logger *logging.Logger) *Stream {
	if logger == nil {
		logger = logging.GetStreamLogger()
	}
	return &Stream{
		logger:               logger,
		buf:                  codec.NewWriter(),
		cmd:                  codec.NewWriter(),
		bufferTimeMs:         cfg.BufferTimeMs,
		correctionIntervalMs: cfg.CorrectionIntervalMs,
		baseline:             make(map[int32]map[uint8]sim.RigidBodyState),
	}
}

// newDumpStream создаёт одноразовый поток для дампа полного состояния
func newDumpStream(logger *logging.Logger) *Stream {
	s := NewStream(StreamConfig{}, logger)
	s.dumpMode = true
	return s
}

// beginCommand начинает команду с опкодом
func (s *Stream) beginCommand(op Opcode) {
	s.cmd.Reset()
	s.cmd.WriteUint8(uint8(op))
}

// endCommand переносит команду в буфер сообщения с 16-битным префиксом
// длины. Команда крупнее MaxCommandLen не помещается в кадр: она не
// пишется в буфер и возвращается ошибка протокола.
func (s *Stream) endCommand() error {
	if s.cmd.Len() > MaxCommandLen {
		return fmt.Errorf("%w: команда %s размером %d байт превышает кадр %d байт",
			ErrProtocol, Opcode(s.cmd.Bytes()[0]), s.cmd.Len(), MaxCommandLen)
	}
	s.buf.WriteUint16(uint16(s.cmd.Len()))
	s.buf.WriteRaw(s.cmd.Bytes())
	return nil
}

// ---- Сцены ----

// AddScene регистрирует сцену и пишет команду создания
func (s *Stream) AddScene(scene *sim.Scene) error {
	if s.shuttingDown {
		return nil
	}
	id := scene.StreamID()
	if !s.dumpMode {
		id = s.scenes.Add(scene)
	}
	s.beginCommand(OpSceneAdd)
	s.cmd.WriteInt32(id)
	if err := s.cmd.WriteString(scene.Name); err != nil {
		return err
	}
	s.cmd.WriteBool(scene.Foreground)
	return s.endCommand()
}

// RemoveScene снимает сцену с учёта и пишет команду удаления
func (s *Stream) RemoveScene(scene *sim.Scene) error {
	if s.shuttingDown {
		return nil
	}
	id := scene.StreamID()
	if !s.dumpMode {
		if err := s.scenes.Remove(scene); err != nil {
			return err
		}
	}
	s.beginCommand(OpSceneRemove)
	s.cmd.WriteInt32(id)
	return s.endCommand()
}

// StepScene пишет команду шага сцены на dtMs миллисекунд
func (s *Stream) StepScene(scene *sim.Scene, dtMs int64) error {
	if s.shuttingDown {
		return nil
	}
	if dtMs < 0 || dtMs > codec.MaxSceneStep {
		return fmt.Errorf("недопустимый шаг сцены %d мс", dtMs)
	}
	scene.Step(dtMs)
	s.beginCommand(OpSceneStep)
	s.cmd.WriteInt32(scene.StreamID())
	s.cmd.WriteUint16(uint16(dtMs))
	return s.endCommand()
}

// SetForegroundScene пишет команду выбора активной сцены
func (s *Stream) SetForegroundScene(scene *sim.Scene) {
	if s.shuttingDown {
		return
	}
	scene.Foreground = true
	s.beginCommand(OpSetForegroundScene)
	s.cmd.WriteInt32(scene.StreamID())
	_ = s.endCommand()
}

// ---- Узлы ----

// AddNode регистрирует узел в сцене и пишет команду создания
func (s *Stream) AddNode(node *sim.Node, scene *sim.Scene) error {
	if s.shuttingDown {
		return nil
	}
	id := node.StreamID()
	if !s.dumpMode {
		id = s.nodes.Add(node)
		node.SceneID = scene.StreamID()
	}
	s.beginCommand(OpNodeAdd)
	s.cmd.WriteInt32(id)
	s.cmd.WriteInt32(node.SceneID)
	if err := s.cmd.WriteString(node.Type); err != nil {
		return err
	}
	if err := s.endCommand(); err != nil {
		return err
	}

	s.beginCommand(OpNodeOnCreate)
	s.cmd.WriteInt32(id)
	return s.endCommand()
}

// RemoveNode снимает узел с учёта и пишет команду удаления
func (s *Stream) RemoveNode(node *sim.Node) error {
	if s.shuttingDown {
		return nil
	}
	id := node.StreamID()
	if !s.dumpMode {
		if err := s.nodes.Remove(node); err != nil {
			return err
		}
		delete(s.baseline, id)
	}
	s.beginCommand(OpNodeRemove)
	s.cmd.WriteInt32(id)
	return s.endCommand()
}

// attrOpcode возвращает опкод для типа значения атрибута
func attrOpcode(t sim.AttrType) (Opcode, error) {
	switch t {
	case sim.AttrFloat:
		return OpNodeAttrFloat, nil
	case sim.AttrInt:
		return OpNodeAttrInt, nil
	case sim.AttrBool:
		return OpNodeAttrBool, nil
	case sim.AttrString:
		return OpNodeAttrString, nil
	case sim.AttrNodeRef:
		return OpNodeAttrRef, nil
	case sim.AttrFloatArray:
		return OpNodeAttrFloatArray, nil
	case sim.AttrIntArray:
		return OpNodeAttrIntArray, nil
	case sim.AttrBoolArray:
		return OpNodeAttrBoolArray, nil
	case sim.AttrStringArray:
		return OpNodeAttrStringArray, nil
	case sim.AttrNodeRefArray:
		return OpNodeAttrRefArray, nil
	default:
		return 0, fmt.Errorf("неизвестный тип атрибута %d", t)
	}
}

// SetNodeAttr устанавливает типизированный атрибут узла и пишет команду.
// Ссылочные значения обязаны указывать на узлы той же сцены.
func (s *Stream) SetNodeAttr(node *sim.Node, attrIndex uint16, value sim.AttrValue) error {
	if s.shuttingDown {
		return nil
	}
	op, err := attrOpcode(value.Type)
	if err != nil {
		return err
	}
	if !s.dumpMode {
		if err := s.checkSameScene(node, value); err != nil {
			return err
		}
	}
	s.beginCommand(op)
	s.cmd.WriteInt32(node.StreamID())
	s.cmd.WriteUint16(attrIndex)
	if err := value.Encode(s.cmd); err != nil {
		return err
	}
	// Локальное состояние мутируется только после того, как команда
	// поместилась в кадр: неотправляемый атрибут не должен расходиться
	// с проводом
	if err := s.endCommand(); err != nil {
		return err
	}
	if !s.dumpMode {
		node.Attrs[attrIndex] = value
	}
	return nil
}

// checkSameScene проверяет, что ссылочные значения не пересекают сцены
func (s *Stream) checkSameScene(node *sim.Node, value sim.AttrValue) error {
	check := func(ref int32) error {
		target := s.nodes.Get(ref)
		if target == nil {
			return nil // ссылка вперёд допустима, цель появится позже
		}
		if target.(*sim.Node).SceneID != node.SceneID {
			return fmt.Errorf("%w: ссылка на узел %d из другой сцены", ErrProtocol, ref)
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

// ConnectNodeAttr пишет команду привязки атрибута к атрибуту-источнику
func (s *Stream) ConnectNodeAttr(node *sim.Node, attrIndex uint16, src *sim.Node, srcAttr uint16) error {
	if s.shuttingDown {
		return nil
	}
	if !s.dumpMode {
		if src.SceneID != node.SceneID {
			return fmt.Errorf("%w: привязка через сцены (%d -> %d)", ErrProtocol, node.StreamID(), src.StreamID())
		}
		conn := sim.AttrConnection{AttrIndex: attrIndex, SrcNode: src.StreamID(), SrcAttr: srcAttr}
		if !node.Connected(conn) {
			node.Connections = append(node.Connections, conn)
		}
	}
	s.beginCommand(OpNodeAttrConnect)
	s.cmd.WriteInt32(node.StreamID())
	s.cmd.WriteUint16(attrIndex)
	s.cmd.WriteInt32(src.StreamID())
	s.cmd.WriteUint16(srcAttr)
	return s.endCommand()
}

// SendNodeMessage пишет команду произвольного сообщения узлу (скриптовый слой)
func (s *Stream) SendNodeMessage(node *sim.Node, payload []byte) error {
	if s.shuttingDown {
		return nil
	}
	s.beginCommand(OpNodeMessage)
	s.cmd.WriteInt32(node.StreamID())
	if err := s.cmd.WriteBlob(payload); err != nil {
		return err
	}
	return s.endCommand()
}

// ---- Материалы ----

// AddMaterial регистрирует материал и пишет команду создания
func (s *Stream) AddMaterial(mat *sim.Material) error {
	if s.shuttingDown {
		return nil
	}
	id := mat.StreamID()
	if !s.dumpMode {
		id = s.materials.Add(mat)
	}
	s.beginCommand(OpMaterialAdd)
	s.cmd.WriteInt32(id)
	if err := s.cmd.WriteString(mat.Name); err != nil {
		return err
	}
	return s.endCommand()
}

// RemoveMaterial снимает материал с учёта и пишет команду удаления
func (s *Stream) RemoveMaterial(mat *sim.Material) error {
	if s.shuttingDown {
		return nil
	}
	id := mat.StreamID()
	if !s.dumpMode {
		if err := s.materials.Remove(mat); err != nil {
			return err
		}
	}
	s.beginCommand(OpMaterialRemove)
	s.cmd.WriteInt32(id)
	return s.endCommand()
}

// AddMaterialComponent добавляет компонент-правило и пишет команду.
// Размер уплощённого дерева вычисляется до записи, чтобы приёмник
// мог выделить буфер точно.
func (s *Stream) AddMaterialComponent(mat *sim.Material, rule *sim.MatchRule) error {
	if s.shuttingDown {
		return nil
	}
	if !s.dumpMode {
		mat.AddComponent(rule)
	}
	s.beginCommand(OpMaterialComponent)
	s.cmd.WriteInt32(mat.StreamID())
	s.cmd.WriteUint16(uint16(rule.EncodedSize()))
	if err := rule.Encode(s.cmd); err != nil {
		return err
	}
	return s.endCommand()
}

// ---- Ассеты ----

// AddTexture регистрирует текстуру и пишет команду создания
func (s *Stream) AddTexture(t *sim.Texture) error {
	return s.addNamedAsset(&s.textures, t, OpTextureAdd, t.Name)
}

// RemoveTexture снимает текстуру с учёта
func (s *Stream) RemoveTexture(t *sim.Texture) error {
	return s.removeAsset(&s.textures, t, OpTextureRemove)
}

// AddMesh регистрирует меш и пишет команду создания
func (s *Stream) AddMesh(m *sim.Mesh) error {
	return s.addNamedAsset(&s.meshes, m, OpMeshAdd, m.Name)
}

// RemoveMesh снимает меш с учёта
func (s *Stream) RemoveMesh(m *sim.Mesh) error {
	return s.removeAsset(&s.meshes, m, OpMeshRemove)
}

// AddSound регистрирует звук и пишет команду создания
func (s *Stream) AddSound(snd *sim.Sound) error {
	if s.shuttingDown {
		return nil
	}
	id := snd.StreamID()
	if !s.dumpMode {
		id = s.sounds.Add(snd)
	}
	s.beginCommand(OpSoundAdd)
	s.cmd.WriteInt32(id)
	if err := s.cmd.WriteString(snd.Name); err != nil {
		return err
	}
	s.cmd.WriteBool(snd.Looping)
	return s.endCommand()
}

// RemoveSound снимает звук с учёта
func (s *Stream) RemoveSound(snd *sim.Sound) error {
	return s.removeAsset(&s.sounds, snd, OpSoundRemove)
}

// AddCollisionMesh регистрирует коллизионный меш
func (s *Stream) AddCollisionMesh(c *sim.CollisionMesh) error {
	return s.addNamedAsset(&s.collisionMeshes, c, OpCollisionMeshAdd, c.Name)
}

// RemoveCollisionMesh снимает коллизионный меш с учёта
func (s *Stream) RemoveCollisionMesh(c *sim.CollisionMesh) error {
	return s.removeAsset(&s.collisionMeshes, c, OpCollisionMeshRemove)
}

// AddDataAsset регистрирует бинарный ассет
func (s *Stream) AddDataAsset(d *sim.DataAsset) error {
	if s.shuttingDown {
		return nil
	}
	id := d.StreamID()
	if !s.dumpMode {
		id = s.dataAssets.Add(d)
	}
	s.beginCommand(OpDataAdd)
	s.cmd.WriteInt32(id)
	if err := s.cmd.WriteString(d.Name); err != nil {
		return err
	}
	if err := s.cmd.WriteBlob(d.Data); err != nil {
		return err
	}
	return s.endCommand()
}

// RemoveDataAsset снимает бинарный ассет с учёта
func (s *Stream) RemoveDataAsset(d *sim.DataAsset) error {
	return s.removeAsset(&s.dataAssets, d, OpDataRemove)
}

func (s *Stream) addNamedAsset(table *sim.HostTable, e sim.Entity, op Opcode, name string) error {
	if s.shuttingDown {
		return nil
	}
	id := e.StreamID()
	if !s.dumpMode {
		id = table.Add(e)
	}
	s.beginCommand(op)
	s.cmd.WriteInt32(id)
	if err := s.cmd.WriteString(name); err != nil {
		return err
	}
	return s.endCommand()
}

func (s *Stream) removeAsset(table *sim.HostTable, e sim.Entity, op Opcode) error {
	if s.shuttingDown {
		return nil
	}
	id := e.StreamID()
	if !s.dumpMode {
		if err := table.Remove(e); err != nil {
			return err
		}
	}
	s.beginCommand(op)
	s.cmd.WriteInt32(id)
	return s.endCommand()
}

// ---- Эффекты и сообщения экрана ----

// PlaySound пишет команду проигрывания звука
func (s *Stream) PlaySound(snd *sim.Sound) {
	if s.shuttingDown {
		return
	}
	s.beginCommand(OpPlaySound)
	s.cmd.WriteInt32(snd.StreamID())
	_ = s.endCommand()
}

// PlaySoundAt пишет команду проигрывания звука в точке
func (s *Stream) PlaySoundAt(snd *sim.Sound, x, y, z float32) {
	if s.shuttingDown {
		return
	}
	s.beginCommand(OpPlaySoundAt)
	s.cmd.WriteInt32(snd.StreamID())
	s.cmd.WriteFloat32(x)
	s.cmd.WriteFloat32(y)
	s.cmd.WriteFloat32(z)
	_ = s.endCommand()
}

// ScreenMessage пишет команду сообщения на экран (верх или низ)
func (s *Stream) ScreenMessage(top bool, text string) error {
	if s.shuttingDown {
		return nil
	}
	if top {
		s.beginCommand(OpScreenMessageTop)
	} else {
		s.beginCommand(OpScreenMessageBottom)
	}
	if err := s.cmd.WriteString(text); err != nil {
		return err
	}
	return s.endCommand()
}

// CameraShake пишет команду тряски камеры
func (s *Stream) CameraShake(magnitude float32, durationMs uint16) {
	if s.shuttingDown {
		return
	}
	s.beginCommand(OpCameraShake)
	s.cmd.WriteFloat32(magnitude)
	s.cmd.WriteUint16(durationMs)
	_ = s.endCommand()
}

// EmitParticleFX пишет команду запуска эффекта частиц
func (s *Stream) EmitParticleFX(name string, x, y, z float32) error {
	if s.shuttingDown {
		return nil
	}
	s.beginCommand(OpEmitParticleFX)
	if err := s.cmd.WriteString(name); err != nil {
		return err
	}
	s.cmd.WriteFloat32(x)
	s.cmd.WriteFloat32(y)
	s.cmd.WriteFloat32(z)
	return s.endCommand()
}

// ---- Время и отправка ----

// SetTime продвигает базовое время потока до tMs. В поток пишется
// только дельта; шаги крупнее 255 мс разбиваются на несколько команд
// с однократным предупреждением в лог.
func (s *Stream) SetTime(tMs int64) error {
	if s.shuttingDown {
		return nil
	}
	delta := tMs - s.lastShippedTime
	if delta < 0 {
		s.logger.WarnOnce("time-backwards", "запрошено время %d мс ниже текущего %d мс, шаг пропущен", tMs, s.lastShippedTime)
		return nil
	}
	if delta > 255 && !s.timeWarned {
		s.timeWarned = true
		s.logger.Warn("шаг времени %d мс превышает 255 мс и будет разбит", delta)
	}
	for delta > 0 {
		step := delta
		if step > 255 {
			step = 255
		}
		s.beginCommand(OpTimeStep)
		s.cmd.WriteUint16(uint16(step))
		if err := s.endCommand(); err != nil {
			return err
		}
		s.lastShippedTime += step
		delta -= step
	}
	s.currentTimeMs = tMs

	// Граница сообщения выбирается только сразу после шага времени,
	// чтобы приёмник никогда не видел состояние посреди шага.
	if s.currentTimeMs-s.lastFlushTime >= s.bufferTimeMs {
		s.Flush()
	}
	return nil
}

// CurrentTimeMs возвращает последнее установленное базовое время
func (s *Stream) CurrentTimeMs() int64 { return s.currentTimeMs }

// PendingLen возвращает размер накопленного, но не отправленного буфера
func (s *Stream) PendingLen() int { return s.buf.Len() }

// Flush собирает накопленные команды в сообщение и отправляет его
// подключённым пирам и, если включена запись, в файл реплея.
func (s *Stream) Flush() {
	if s.buf.Len() == 0 {
		return
	}
	message := make([]byte, 0, 1+s.buf.Len())
	message = append(message, MsgCommandBatch)
	message = append(message, s.buf.Bytes()...)
	s.buf.Reset()
	s.lastFlushTime = s.currentTimeMs

	s.ship(message)

	if s.correctionIntervalMs > 0 && s.currentTimeMs-s.lastCorrection >= s.correctionIntervalMs {
		s.lastCorrection = s.currentTimeMs
		s.ShipCorrections(true)
	}
}

// ship доставляет готовое сообщение пирам и в запись реплея
func (s *Stream) ship(message []byte) {
	for _, p := range s.peers {
		if err := p.SendReliable(message); err != nil {
			s.logger.Error("ошибка отправки пиру %s: %v", p.ID(), err)
		}
	}
	metrics.MessagesShipped.Inc()
	metrics.BytesShipped.Add(float64(len(message)))

	if s.recorder != nil {
		if err := s.recorder.Append(message); err != nil {
			// Диск недоступен: запись закрывается, сетевой путь живёт дальше
			s.logger.Error("запись реплея остановлена: %v", err)
			_ = s.recorder.Close()
			s.recorder = nil
		}
	}
}

// ShipCorrections строит дифф-коррекцию относительно последних
// отправленных состояний тел и рассылает её. Пустая коррекция
// (состояния совпадают) не передаётся.
func (s *Stream) ShipCorrections(blend bool) {
	payload, changed := BuildCorrection(s.liveNodes(), s.baseline, blend)
	if changed == 0 {
		metrics.CorrectionsSkipped.Inc()
		return
	}
	message := make([]byte, 0, 1+len(payload))
	message = append(message, MsgCorrection)
	message = append(message, payload...)
	s.ship(message)
	metrics.CorrectionsSent.Inc()
}

// liveNodes возвращает живые узлы в порядке возрастания id
func (s *Stream) liveNodes() []*sim.Node {
	live := s.nodes.Live()
	nodes := make([]*sim.Node, len(live))
	for i, e := range live {
		nodes[i] = e.(*sim.Node)
	}
	return nodes
}

// ---- Пиры ----

// AttachPeer подключает пира посреди сессии: ему одному отгружается
// дамп полного текущего состояния, затем полная коррекция физики,
// после чего пир получает обычный поток.
func (s *Stream) AttachPeer(p Peer) error {
	if s.shuttingDown {
		return ErrSessionEnded
	}
	dumpMsg, err := s.dumpStateMessage()
	if err != nil {
		return fmt.Errorf("дамп состояния для пира %s: %w", p.ID(), err)
	}
	if err := p.SendReliable(dumpMsg); err != nil {
		return fmt.Errorf("отправка дампа пиру %s: %w", p.ID(), err)
	}
	if corr := s.fullCorrectionMessage(false); corr != nil {
		if err := p.SendReliable(corr); err != nil {
			return fmt.Errorf("отправка коррекции пиру %s: %w", p.ID(), err)
		}
	}
	s.peers = append(s.peers, p)
	s.logger.Info("пир %s подключён к потоку", p.ID())
	return nil
}

// DetachPeer отключает пира от потока
func (s *Stream) DetachPeer(p Peer) {
	for i, existing := range s.peers {
		if existing == p {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			return
		}
	}
}

// PeerCount возвращает число подключённых пиров
func (s *Stream) PeerCount() int { return len(s.peers) }

// dumpStateMessage собирает одно сообщение с полным текущим состоянием
func (s *Stream) dumpStateMessage() ([]byte, error) {
	dump := newDumpStream(s.logger)
	if err := dumpEntities(dump, streamDumpSource{s}); err != nil {
		return nil, err
	}
	message := make([]byte, 0, 1+dump.buf.Len())
	message = append(message, MsgCommandBatch)
	message = append(message, dump.buf.Bytes()...)
	return message, nil
}

// fullCorrectionMessage строит коррекцию со всеми телами (без диффа)
func (s *Stream) fullCorrectionMessage(blend bool) []byte {
	payload, changed := BuildFullCorrection(s.liveNodes(), blend)
	if changed == 0 {
		return nil
	}
	message := make([]byte, 0, 1+len(payload))
	message = append(message, MsgCorrection)
	message = append(message, payload...)
	return message
}

// ---- Запись реплея ----

// SetRecorder включает зеркалирование всех отправляемых сообщений
// в запись реплея
func (s *Stream) SetRecorder(rec ReplayRecorder) {
	s.recorder = rec
}

// Recording сообщает, активна ли запись реплея
func (s *Stream) Recording() bool { return s.recorder != nil }

// ---- Завершение ----

// Shutdown переводит поток в фазу завершения: исходящий трафик
// подавляется, запись реплея закрывается. Порядок важен — после
// начала завершения ни одна сущность не должна мутироваться.
func (s *Stream) Shutdown() {
	if s.shuttingDown {
		return
	}
	s.Flush()
	s.shuttingDown = true
	if s.recorder != nil {
		_ = s.recorder.Close()
		s.recorder = nil
	}
	s.peers = nil
}

// Счётчики живых сущностей (для дампов, тестов и REST-статуса)

// SceneCount возвращает число живых сцен
func (s *Stream) SceneCount() int { return s.scenes.Len() }

// NodeCount возвращает число живых узлов
func (s *Stream) NodeCount() int { return s.nodes.Len() }

// MaterialCount возвращает число живых материалов
func (s *Stream) MaterialCount() int { return s.materials.Len() }
