// Package replication реализует командный поток репликации сессии:
// энкодер стороны хоста (Stream), декодер стороны клиента (Session),
// протокол физических коррекций и дампы полного состояния.
package replication

import "errors"

// Версии протокола. Версия согласуется на соединение и определяет,
// какие опкоды принимает декодер.
const (
	ProtocolVersion    uint16 = 2
	MinProtocolVersion uint16 = 1
)

// Типы транспортных сообщений (первый байт сообщения)
const (
	MsgSessionReset uint8 = 1
	MsgCommandBatch uint8 = 2
	MsgCorrection   uint8 = 3
)

// MaxCommandLen предел размера одной команды в батче. Команды
// обрамляются 16-битным префиксом длины, поэтому команда крупнее
// в кадр не помещается — обе стороны считают её ошибкой протокола.
const MaxCommandLen = 1<<16 - 1

// Opcode код команды в проводном формате
type Opcode uint8

const (
	OpSceneAdd Opcode = iota + 1
	OpSceneRemove
	OpSceneStep
	OpNodeAdd
	OpNodeRemove
	OpNodeOnCreate
	OpNodeMessage
	OpNodeAttrFloat
	OpNodeAttrInt
	OpNodeAttrBool
	OpNodeAttrString
	OpNodeAttrRef
	OpNodeAttrFloatArray
	OpNodeAttrIntArray
	OpNodeAttrBoolArray
	OpNodeAttrStringArray
	OpNodeAttrRefArray
	OpNodeAttrConnect
	OpMaterialAdd
	OpMaterialRemove
	OpMaterialComponent
	OpTextureAdd
	OpTextureRemove
	OpMeshAdd
	OpMeshRemove
	OpSoundAdd
	OpSoundRemove
	OpCollisionMeshAdd
	OpCollisionMeshRemove
	OpDataAdd
	OpDataRemove
	OpTimeStep
	OpDynamicsCorrection
	OpPlaySound
	OpPlaySoundAt
	OpScreenMessageTop
	OpScreenMessageBottom
	OpSetForegroundScene
	OpEndOfFile

	// Добавлены во второй версии протокола
	OpCameraShake
	OpEmitParticleFX
)

// maxOpcodeForVersion возвращает старший опкод, допустимый для версии.
// Опкод выше предела — ошибка протокола, а не тихий пропуск.
func maxOpcodeForVersion(version uint16) Opcode {
	if version <= 1 {
		return OpEndOfFile
	}
	return OpEmitParticleFX
}

// String возвращает имя опкода для логов и инструментов
func (op Opcode) String() string {
	names := map[Opcode]string{
		OpSceneAdd:            "scene_add",
		OpSceneRemove:         "scene_remove",
		OpSceneStep:           "scene_step",
		OpNodeAdd:             "node_add",
		OpNodeRemove:          "node_remove",
		OpNodeOnCreate:        "node_on_create",
		OpNodeMessage:         "node_message",
		OpNodeAttrFloat:       "node_attr_float",
		OpNodeAttrInt:         "node_attr_int",
		OpNodeAttrBool:        "node_attr_bool",
		OpNodeAttrString:      "node_attr_string",
		OpNodeAttrRef:         "node_attr_ref",
		OpNodeAttrFloatArray:  "node_attr_float_array",
		OpNodeAttrIntArray:    "node_attr_int_array",
		OpNodeAttrBoolArray:   "node_attr_bool_array",
		OpNodeAttrStringArray: "node_attr_string_array",
		OpNodeAttrRefArray:    "node_attr_ref_array",
		OpNodeAttrConnect:     "node_attr_connect",
		OpMaterialAdd:         "material_add",
		OpMaterialRemove:      "material_remove",
		OpMaterialComponent:   "material_component",
		OpTextureAdd:          "texture_add",
		OpTextureRemove:       "texture_remove",
		OpMeshAdd:             "mesh_add",
		OpMeshRemove:          "mesh_remove",
		OpSoundAdd:            "sound_add",
		OpSoundRemove:         "sound_remove",
		OpCollisionMeshAdd:    "collision_mesh_add",
		OpCollisionMeshRemove: "collision_mesh_remove",
		OpDataAdd:             "data_add",
		OpDataRemove:          "data_remove",
		OpTimeStep:            "time_step",
		OpDynamicsCorrection:  "dynamics_correction",
		OpPlaySound:           "play_sound",
		OpPlaySoundAt:         "play_sound_at",
		OpScreenMessageTop:    "screen_message_top",
		OpScreenMessageBottom: "screen_message_bottom",
		OpSetForegroundScene:  "set_foreground_scene",
		OpEndOfFile:           "end_of_file",
		OpCameraShake:         "camera_shake",
		OpEmitParticleFX:      "emit_particle_fx",
	}
	if name, ok := names[op]; ok {
		return name
	}
	return "unknown"
}

var (
	// ErrProtocol нарушение протокола: повреждённая команда, плохой id,
	// завышенный счётчик, ссылка через сцены. Всегда фатально для сессии.
	ErrProtocol = errors.New("replication: protocol error")
	// ErrVersion версия протокола вне поддерживаемого диапазона
	ErrVersion = errors.New("replication: unsupported protocol version")
	// ErrSessionEnded операция над завершённой сессией
	ErrSessionEnded = errors.New("replication: session ended")
)
