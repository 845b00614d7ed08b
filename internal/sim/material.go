package sim

import (
	"fmt"

	"github.com/annel0/replistream/internal/codec"
)

// Вид узла дерева условий материала
const (
	matchLeaf uint8 = iota
	matchAnd
	matchOr
)

// MaxMatchRuleNodes предел числа узлов одного дерева условий
const MaxMatchRuleNodes = 255

// MatchRule узел бинарного дерева правил сопоставления материала.
// Лист — именованное условие с 0/1/2 операндами, возможно со ссылкой
// на другой материал; внутренний узел — AND/OR двух поддеревьев.
type MatchRule struct {
	// Для внутреннего узла
	And         bool // true: AND, false: OR (значимо только при Left != nil)
	Left, Right *MatchRule

	// Для листа
	Condition   string
	Operands    []float32 // 0, 1 или 2 значения
	MaterialRef int32     // stream id материала или NoStreamID
}

// Leaf создаёт листовое правило
func Leaf(condition string, materialRef int32, operands ...float32) *MatchRule {
	return &MatchRule{Condition: condition, MaterialRef: materialRef, Operands: operands}
}

// And создаёт правило-конъюнкцию
func And(left, right *MatchRule) *MatchRule {
	return &MatchRule{And: true, Left: left, Right: right}
}

// Or создаёт правило-дизъюнкцию
func Or(left, right *MatchRule) *MatchRule {
	return &MatchRule{Left: left, Right: right}
}

// EncodedSize возвращает точный размер сериализованного дерева.
// Вычисляется до записи, чтобы приёмник мог выделить буфер точно.
func (m *MatchRule) EncodedSize() int {
	if m.Left != nil {
		return 1 + m.Left.EncodedSize() + m.Right.EncodedSize()
	}
	// kind + строка (префикс+байты) + счётчик операндов + операнды + ссылка
	return 1 + 2 + len(m.Condition) + 1 + 4*len(m.Operands) + 4
}

// nodeCount возвращает число узлов дерева
func (m *MatchRule) nodeCount() int {
	if m == nil {
		return 0
	}
	return 1 + m.Left.nodeCount() + m.Right.nodeCount()
}

// Encode пишет дерево в префиксном обходе
func (m *MatchRule) Encode(w *codec.Writer) error {
	if m.nodeCount() > MaxMatchRuleNodes {
		return fmt.Errorf("%w: match rule nodes %d", codec.ErrOversize, m.nodeCount())
	}
	return m.encode(w)
}

func (m *MatchRule) encode(w *codec.Writer) error {
	if m.Left != nil {
		if m.Right == nil {
			return fmt.Errorf("некорректное правило: внутренний узел без правого поддерева")
		}
		if m.And {
			w.WriteUint8(matchAnd)
		} else {
			w.WriteUint8(matchOr)
		}
		if err := m.Left.encode(w); err != nil {
			return err
		}
		return m.Right.encode(w)
	}

	w.WriteUint8(matchLeaf)
	if err := w.WriteString(m.Condition); err != nil {
		return err
	}
	if len(m.Operands) > 2 {
		return fmt.Errorf("%w: operands %d", codec.ErrOversize, len(m.Operands))
	}
	w.WriteUint8(uint8(len(m.Operands)))
	for _, op := range m.Operands {
		w.WriteFloat32(op)
	}
	w.WriteInt32(m.MaterialRef)
	return nil
}

// DecodeMatchRule читает дерево правил из префиксного обхода
func DecodeMatchRule(r *codec.Reader) (*MatchRule, error) {
	var budget = MaxMatchRuleNodes
	return decodeMatchRule(r, &budget)
}

func decodeMatchRule(r *codec.Reader, budget *int) (*MatchRule, error) {
	if *budget <= 0 {
		return nil, fmt.Errorf("%w: match rule tree too large", codec.ErrOversize)
	}
	*budget--

	kind, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}

	switch kind {
	case matchAnd, matchOr:
		left, err := decodeMatchRule(r, budget)
		if err != nil {
			return nil, err
		}
		right, err := decodeMatchRule(r, budget)
		if err != nil {
			return nil, err
		}
		return &MatchRule{And: kind == matchAnd, Left: left, Right: right}, nil
	case matchLeaf:
		rule := &MatchRule{}
		if rule.Condition, err = r.ReadString(); err != nil {
			return nil, err
		}
		count, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		if count > 2 {
			return nil, fmt.Errorf("%w: operands %d", codec.ErrOversize, count)
		}
		if count > 0 {
			rule.Operands = make([]float32, count)
			for i := range rule.Operands {
				if rule.Operands[i], err = r.ReadFloat32(); err != nil {
					return nil, err
				}
			}
		}
		if rule.MaterialRef, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		return rule, nil
	default:
		return nil, fmt.Errorf("неизвестный вид узла правила: %d", kind)
	}
}

// Equal сравнивает деревья правил
func (m *MatchRule) Equal(o *MatchRule) bool {
	if m == nil || o == nil {
		return m == o
	}
	if (m.Left != nil) != (o.Left != nil) {
		return false
	}
	if m.Left != nil {
		return m.And == o.And && m.Left.Equal(o.Left) && m.Right.Equal(o.Right)
	}
	if m.Condition != o.Condition || m.MaterialRef != o.MaterialRef || len(m.Operands) != len(o.Operands) {
		return false
	}
	for i := range m.Operands {
		if m.Operands[i] != o.Operands[i] {
			return false
		}
	}
	return true
}

// Material материал с набором компонентов-правил сопоставления
type Material struct {
	streamID
	Name       string
	Components []*MatchRule
}

// NewMaterial создаёт материал
func NewMaterial(name string) *Material {
	m := &Material{Name: name}
	m.id = NoStreamID
	return m
}

// AddComponent добавляет компонент-правило к материалу
func (m *Material) AddComponent(rule *MatchRule) {
	m.Components = append(m.Components, rule)
}
