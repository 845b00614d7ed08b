package sim

import (
	"github.com/annel0/replistream/internal/codec"
)

// RigidBodyStateSize размер сериализованного состояния тела в байтах:
// позиция (3×f32) + ориентация (4×f32) + линейная и угловая скорости (3×f32 каждая).
const RigidBodyStateSize = 52

// RigidBodyState полное состояние движения твёрдого тела.
// Формат фиксирован и определяется физическим движком; здесь он
// только переносится и сравнивается.
type RigidBodyState struct {
	Position    [3]float32
	Orientation [4]float32
	LinearVel   [3]float32
	AngularVel  [3]float32
}

// Encode записывает состояние тела фиксированным форматом
func (s RigidBodyState) Encode(w *codec.Writer) {
	for _, v := range s.Position {
		w.WriteFloat32(v)
	}
	for _, v := range s.Orientation {
		w.WriteFloat32(v)
	}
	for _, v := range s.LinearVel {
		w.WriteFloat32(v)
	}
	for _, v := range s.AngularVel {
		w.WriteFloat32(v)
	}
}

// DecodeRigidBodyState читает состояние тела фиксированным форматом
func DecodeRigidBodyState(r *codec.Reader) (RigidBodyState, error) {
	var s RigidBodyState
	var err error
	for i := range s.Position {
		if s.Position[i], err = r.ReadFloat32(); err != nil {
			return s, err
		}
	}
	for i := range s.Orientation {
		if s.Orientation[i], err = r.ReadFloat32(); err != nil {
			return s, err
		}
	}
	for i := range s.LinearVel {
		if s.LinearVel[i], err = r.ReadFloat32(); err != nil {
			return s, err
		}
	}
	for i := range s.AngularVel {
		if s.AngularVel[i], err = r.ReadFloat32(); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Body физическое тело, принадлежащее узлу
type Body struct {
	ID    uint8
	State RigidBodyState
}
