// Package sim содержит реплицируемую модель мира: сцены, узлы,
// материалы и ассеты, а также таблицы идентификаторов потока.
package sim

import (
	"fmt"

	"github.com/annel0/replistream/internal/codec"
)

// AttrType тег типа значения атрибута узла
type AttrType uint8

const (
	AttrFloat AttrType = iota
	AttrInt
	AttrBool
	AttrString
	AttrNodeRef
	AttrFloatArray
	AttrIntArray
	AttrBoolArray
	AttrStringArray
	AttrNodeRefArray
)

// String возвращает имя типа атрибута
func (t AttrType) String() string {
	switch t {
	case AttrFloat:
		return "float"
	case AttrInt:
		return "int"
	case AttrBool:
		return "bool"
	case AttrString:
		return "string"
	case AttrNodeRef:
		return "ref"
	case AttrFloatArray:
		return "float[]"
	case AttrIntArray:
		return "int[]"
	case AttrBoolArray:
		return "bool[]"
	case AttrStringArray:
		return "string[]"
	case AttrNodeRefArray:
		return "ref[]"
	default:
		return "unknown"
	}
}

// AttrValue значение атрибута узла: tagged union по AttrType.
// Заполнено ровно одно поле, соответствующее Type.
type AttrValue struct {
	Type   AttrType
	Float  float32
	Int    int32
	Bool   bool
	Str    string
	Ref    int32 // stream id другого узла
	Floats []float32
	Ints   []int32
	Bools  []bool
	Strs   []string
	Refs   []int32
}

// FloatValue создаёт атрибут типа float
func FloatValue(v float32) AttrValue { return AttrValue{Type: AttrFloat, Float: v} }

// IntValue создаёт атрибут типа int
func IntValue(v int32) AttrValue { return AttrValue{Type: AttrInt, Int: v} }

// BoolValue создаёт атрибут типа bool
func BoolValue(v bool) AttrValue { return AttrValue{Type: AttrBool, Bool: v} }

// StringValue создаёт атрибут типа string
func StringValue(v string) AttrValue { return AttrValue{Type: AttrString, Str: v} }

// RefValue создаёт атрибут-ссылку на узел
func RefValue(id int32) AttrValue { return AttrValue{Type: AttrNodeRef, Ref: id} }

// FloatArrayValue создаёт атрибут-массив float
func FloatArrayValue(v []float32) AttrValue { return AttrValue{Type: AttrFloatArray, Floats: v} }

// IntArrayValue создаёт атрибут-массив int
func IntArrayValue(v []int32) AttrValue { return AttrValue{Type: AttrIntArray, Ints: v} }

// BoolArrayValue создаёт атрибут-массив bool
func BoolArrayValue(v []bool) AttrValue { return AttrValue{Type: AttrBoolArray, Bools: v} }

// StringArrayValue создаёт атрибут-массив строк
func StringArrayValue(v []string) AttrValue { return AttrValue{Type: AttrStringArray, Strs: v} }

// RefArrayValue создаёт атрибут-массив ссылок на узлы
func RefArrayValue(v []int32) AttrValue { return AttrValue{Type: AttrNodeRefArray, Refs: v} }

// Encode записывает полезную нагрузку значения (без тега — тег несёт опкод)
func (v AttrValue) Encode(w *codec.Writer) error {
	switch v.Type {
	case AttrFloat:
		w.WriteFloat32(v.Float)
	case AttrInt:
		w.WriteInt32(v.Int)
	case AttrBool:
		w.WriteBool(v.Bool)
	case AttrString:
		return w.WriteString(v.Str)
	case AttrNodeRef:
		w.WriteInt32(v.Ref)
	case AttrFloatArray:
		return w.WriteFloat32Array(v.Floats)
	case AttrIntArray:
		return w.WriteInt32Array(v.Ints)
	case AttrBoolArray:
		if len(v.Bools) > codec.MaxArrayLen {
			return fmt.Errorf("%w: bool array len %d", codec.ErrOversize, len(v.Bools))
		}
		w.WriteUint16(uint16(len(v.Bools)))
		for _, b := range v.Bools {
			w.WriteBool(b)
		}
	case AttrStringArray:
		if len(v.Strs) > codec.MaxArrayLen {
			return fmt.Errorf("%w: string array len %d", codec.ErrOversize, len(v.Strs))
		}
		w.WriteUint16(uint16(len(v.Strs)))
		for _, s := range v.Strs {
			if err := w.WriteString(s); err != nil {
				return err
			}
		}
	case AttrNodeRefArray:
		return w.WriteInt32Array(v.Refs)
	default:
		return fmt.Errorf("неизвестный тип атрибута %d", v.Type)
	}
	return nil
}

// DecodeAttrValue читает значение указанного типа
func DecodeAttrValue(r *codec.Reader, typ AttrType) (AttrValue, error) {
	v := AttrValue{Type: typ}
	var err error
	switch typ {
	case AttrFloat:
		v.Float, err = r.ReadFloat32()
	case AttrInt:
		v.Int, err = r.ReadInt32()
	case AttrBool:
		v.Bool, err = r.ReadBool()
	case AttrString:
		v.Str, err = r.ReadString()
	case AttrNodeRef:
		v.Ref, err = r.ReadInt32()
	case AttrFloatArray:
		v.Floats, err = r.ReadFloat32Array()
	case AttrIntArray:
		v.Ints, err = r.ReadInt32Array()
	case AttrBoolArray:
		var n uint16
		if n, err = r.ReadUint16(); err != nil {
			break
		}
		if int(n) > codec.MaxArrayLen {
			return v, fmt.Errorf("%w: bool array len %d", codec.ErrOversize, n)
		}
		v.Bools = make([]bool, n)
		for i := range v.Bools {
			if v.Bools[i], err = r.ReadBool(); err != nil {
				break
			}
		}
	case AttrStringArray:
		var n uint16
		if n, err = r.ReadUint16(); err != nil {
			break
		}
		if int(n) > codec.MaxArrayLen {
			return v, fmt.Errorf("%w: string array len %d", codec.ErrOversize, n)
		}
		v.Strs = make([]string, n)
		for i := range v.Strs {
			if v.Strs[i], err = r.ReadString(); err != nil {
				break
			}
		}
	case AttrNodeRefArray:
		v.Refs, err = r.ReadInt32Array()
	default:
		return v, fmt.Errorf("неизвестный тип атрибута %d", typ)
	}
	return v, err
}

// Equal сравнивает значения атрибутов (для тестов и дедупликации)
func (v AttrValue) Equal(o AttrValue) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case AttrFloat:
		return v.Float == o.Float
	case AttrInt:
		return v.Int == o.Int
	case AttrBool:
		return v.Bool == o.Bool
	case AttrString:
		return v.Str == o.Str
	case AttrNodeRef:
		return v.Ref == o.Ref
	case AttrFloatArray:
		if len(v.Floats) != len(o.Floats) {
			return false
		}
		for i := range v.Floats {
			if v.Floats[i] != o.Floats[i] {
				return false
			}
		}
	case AttrIntArray:
		if len(v.Ints) != len(o.Ints) {
			return false
		}
		for i := range v.Ints {
			if v.Ints[i] != o.Ints[i] {
				return false
			}
		}
	case AttrBoolArray:
		if len(v.Bools) != len(o.Bools) {
			return false
		}
		for i := range v.Bools {
			if v.Bools[i] != o.Bools[i] {
				return false
			}
		}
	case AttrStringArray:
		if len(v.Strs) != len(o.Strs) {
			return false
		}
		for i := range v.Strs {
			if v.Strs[i] != o.Strs[i] {
				return false
			}
		}
	case AttrNodeRefArray:
		if len(v.Refs) != len(o.Refs) {
			return false
		}
		for i := range v.Refs {
			if v.Refs[i] != o.Refs[i] {
				return false
			}
		}
	}
	return true
}
