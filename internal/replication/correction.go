package replication

import (
	"fmt"

	"github.com/annel0/replistream/internal/codec"
	"github.com/annel0/replistream/internal/logging"
	"github.com/annel0/replistream/internal/sim"
)

// Протокол коррекции динамики: периодическая авторитетная
// досинхронизация состояний тел для компенсации дрейфа float-физики.
//
// Формат нагрузки:
//   [blend u8][nodeCount u16]
//   на узел: [nodeID i32][bodyCount u8]
//            на тело: [bodyID u8][stateLen u16][полное состояние тела]
//            [resyncLen u16][данные досинхронизации узла]
//
// Полное состояние тела — непрозрачный блоб фиксированного формата
// физического движка; данные досинхронизации — произвольное
// расширение на тип узла.

// BuildCorrection строит дифф-коррекцию: включаются только тела,
// чьё состояние отличается от baseline. Baseline обновляется до
// текущих состояний. Возвращает нагрузку и число включённых тел;
// при нуле нагрузка состоит из одного заголовка (≤4 байт) и не
// должна передаваться.
func BuildCorrection(nodes []*sim.Node, baseline map[int32]map[uint8]sim.RigidBodyState, blend bool) ([]byte, int) {
	return buildCorrection(nodes, baseline, blend)
}

// BuildFullCorrection строит коррекцию со всеми телами всех узлов —
// для догоняющей синхронизации нового пира и снапшотов реплея.
func BuildFullCorrection(nodes []*sim.Node, blend bool) ([]byte, int) {
	return buildCorrection(nodes, nil, blend)
}

func buildCorrection(nodes []*sim.Node, baseline map[int32]map[uint8]sim.RigidBodyState, blend bool) ([]byte, int) {
	w := codec.NewWriter()
	w.WriteBool(blend)

	type nodeEntry struct {
		node   *sim.Node
		bodies []*sim.Body
	}
	var entries []nodeEntry
	changed := 0

	for _, node := range nodes {
		var bodies []*sim.Body
		for _, body := range node.Bodies {
			if baseline != nil {
				if prev, ok := baseline[node.StreamID()][body.ID]; ok && prev == body.State {
					continue
				}
			}
			bodies = append(bodies, body)
		}
		if len(bodies) == 0 {
			continue
		}
		entries = append(entries, nodeEntry{node: node, bodies: bodies})
		changed += len(bodies)

		if baseline != nil {
			states, ok := baseline[node.StreamID()]
			if !ok {
				states = make(map[uint8]sim.RigidBodyState)
				baseline[node.StreamID()] = states
			}
			for _, body := range bodies {
				states[body.ID] = body.State
			}
		}
	}

	w.WriteUint16(uint16(len(entries)))
	for _, entry := range entries {
		w.WriteInt32(entry.node.StreamID())
		w.WriteUint8(uint8(len(entry.bodies)))
		for _, body := range entry.bodies {
			w.WriteUint8(body.ID)
			w.WriteUint16(sim.RigidBodyStateSize)
			body.State.Encode(w)
		}
		// Данные досинхронизации узла поверх состояния тел
		_ = w.WriteBlob(entry.node.ResyncData)
	}

	return w.Bytes(), changed
}

// ApplyCorrection применяет нагрузку коррекции к зеркальным узлам.
// Узел или тело, которых больше нет, молча пропускаются — сущность
// могла быть удалена конкурентно с отправкой коррекции.
func ApplyCorrection(r *codec.Reader, nodes *sim.MirrorTable, logger *logging.Logger) error {
	blend, err := r.ReadBool()
	if err != nil {
		return err
	}
	nodeCount, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if int(nodeCount) > codec.MaxArrayLen {
		return fmt.Errorf("%w: коррекция на %d узлов", ErrProtocol, nodeCount)
	}

	for i := 0; i < int(nodeCount); i++ {
		nodeID, err := r.ReadInt32()
		if err != nil {
			return err
		}
		bodyCount, err := r.ReadUint8()
		if err != nil {
			return err
		}

		var node *sim.Node
		if e := nodes.Lookup(nodeID); e != nil {
			node = e.(*sim.Node)
		} else if logger != nil {
			logger.WarnOnce(fmt.Sprintf("corr-missing-node-%d", nodeID),
				"коррекция ссылается на отсутствующий узел %d, пропущена", nodeID)
		}

		for j := 0; j < int(bodyCount); j++ {
			bodyID, err := r.ReadUint8()
			if err != nil {
				return err
			}
			stateLen, err := r.ReadUint16()
			if err != nil {
				return err
			}
			stateRaw, err := r.ReadRaw(int(stateLen))
			if err != nil {
				return err
			}

			if node == nil {
				continue
			}
			body := node.Body(bodyID)
			if body == nil {
				if logger != nil {
					logger.WarnOnce(fmt.Sprintf("corr-missing-body-%d-%d", nodeID, bodyID),
						"коррекция ссылается на отсутствующее тело %d узла %d, пропущена", bodyID, nodeID)
				}
				continue
			}
			if int(stateLen) != sim.RigidBodyStateSize {
				return fmt.Errorf("%w: размер состояния тела %d", ErrProtocol, stateLen)
			}

			state, err := sim.DecodeRigidBodyState(codec.NewReader(stateRaw))
			if err != nil {
				return err
			}

			oldPos := body.State.Position
			body.State = state
			if blend {
				// Дельта позиции накапливается как сглаживающее смещение,
				// которое слой рендеринга рассасывает постепенно
				for k := 0; k < 3; k++ {
					node.BlendOffset[k] += oldPos[k] - state.Position[k]
				}
			}
		}

		resync, err := r.ReadBlob()
		if err != nil {
			return err
		}
		if node != nil && len(resync) > 0 {
			node.ResyncData = resync
		}
	}
	return nil
}
