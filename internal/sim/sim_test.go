package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/replistream/internal/codec"
)

func TestHostTableAddRemoveReuse(t *testing.T) {
	var table HostTable

	a := NewNode("a")
	b := NewNode("b")
	c := NewNode("c")

	idA := table.Add(a)
	idB := table.Add(b)
	assert.Equal(t, int32(0), idA)
	assert.Equal(t, int32(1), idB)
	assert.Equal(t, idA, a.StreamID(), "Add должен штамповать сущность её id")
	assert.Equal(t, 2, table.Len())

	require.NoError(t, table.Remove(a))
	assert.Equal(t, NoStreamID, a.StreamID(), "После удаления id сбрасывается")
	assert.Nil(t, table.Get(idA))
	assert.Equal(t, 1, table.Len())

	// Освобождённый слот переиспользуется
	idC := table.Add(c)
	assert.Equal(t, idA, idC)
	assert.Same(t, Entity(c), table.Get(idC))
}

func TestHostTableRemoveUnregistered(t *testing.T) {
	var table HostTable
	orphan := NewNode("orphan")
	assert.Error(t, table.Remove(orphan), "Удаление незарегистрированной сущности — ошибка")

	// Слот занят другой сущностью с тем же id
	registered := NewNode("registered")
	table.Add(registered)
	impostor := NewNode("impostor")
	impostor.SetStreamID(registered.StreamID())
	assert.Error(t, table.Remove(impostor))
}

func TestHostTableLiveOrder(t *testing.T) {
	var table HostTable
	nodes := []*Node{NewNode("n0"), NewNode("n1"), NewNode("n2")}
	for _, n := range nodes {
		table.Add(n)
	}
	require.NoError(t, table.Remove(nodes[1]))

	live := table.Live()
	require.Len(t, live, 2)
	assert.Same(t, Entity(nodes[0]), live[0])
	assert.Same(t, Entity(nodes[2]), live[1])
}

func TestMirrorTablePutGetRemove(t *testing.T) {
	var table MirrorTable

	node := NewNode("mirror")
	require.NoError(t, table.Put(3, node))
	assert.Equal(t, int32(3), node.StreamID())

	got, err := table.Get(3)
	require.NoError(t, err)
	assert.Same(t, Entity(node), got)

	// Мёртвый слот между 0 и 3
	_, err = table.Get(1)
	assert.Error(t, err, "Обращение к мёртвому слоту — нарушение протокола")
	assert.Nil(t, table.Lookup(1), "Lookup по мёртвому слоту молчит")

	// Повторное занятие живого слота
	assert.Error(t, table.Put(3, NewNode("dup")))

	require.NoError(t, table.Remove(3))
	_, err = table.Get(3)
	assert.Error(t, err)
	assert.Error(t, table.Remove(3), "Повторное удаление — ошибка")
}

func TestMirrorTableNegativeID(t *testing.T) {
	var table MirrorTable
	assert.Error(t, table.Put(-1, NewNode("bad")))
	_, err := table.Get(-1)
	assert.Error(t, err)
}

func TestMirrorTableReset(t *testing.T) {
	var table MirrorTable
	require.NoError(t, table.Put(0, NewNode("x")))
	require.NoError(t, table.Put(1, NewNode("y")))
	assert.Equal(t, 2, table.Len())

	table.Reset()
	assert.Equal(t, 0, table.Len())
	require.NoError(t, table.Put(0, NewNode("z")), "После Reset слоты снова свободны")
}

func TestAttrValueRoundTrip(t *testing.T) {
	values := []AttrValue{
		FloatValue(1.25),
		IntValue(-7),
		BoolValue(true),
		StringValue("turret"),
		RefValue(42),
		FloatArrayValue([]float32{0, -0.5, 3}),
		IntArrayValue([]int32{1, 2, 3}),
		BoolArrayValue([]bool{true, false, true}),
		StringArrayValue([]string{"a", "b"}),
		RefArrayValue([]int32{5, NoStreamID}),
	}

	for _, v := range values {
		w := codec.NewWriter()
		require.NoError(t, v.Encode(w), "Тип %s", v.Type)

		r := codec.NewReader(w.Bytes())
		decoded, err := DecodeAttrValue(r, v.Type)
		require.NoError(t, err, "Тип %s", v.Type)
		assert.True(t, v.Equal(decoded), "Значение типа %s должно пережить кодирование", v.Type)
		assert.Equal(t, 0, r.Remaining())
	}
}

func TestAttrValueEqualDifferentTypes(t *testing.T) {
	assert.False(t, FloatValue(1).Equal(IntValue(1)))
	assert.False(t, FloatArrayValue([]float32{1}).Equal(FloatArrayValue([]float32{1, 2})))
	assert.True(t, StringValue("x").Equal(StringValue("x")))
}

func TestMatchRuleRoundTrip(t *testing.T) {
	rule := And(
		Leaf("roughness_below", NoStreamID, 0.4),
		Or(
			Leaf("metalness_above", NoStreamID, 0.7),
			Leaf("inherits", 12),
		),
	)

	w := codec.NewWriter()
	require.NoError(t, rule.Encode(w))
	assert.Equal(t, rule.EncodedSize(), w.Len(), "EncodedSize должен совпадать с фактической записью")

	decoded, err := DecodeMatchRule(codec.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.True(t, rule.Equal(decoded))
}

func TestMatchRuleTooManyOperands(t *testing.T) {
	rule := Leaf("bad", NoStreamID, 1, 2, 3)
	w := codec.NewWriter()
	assert.ErrorIs(t, rule.Encode(w), codec.ErrOversize)
}

func TestMatchRuleDecodeBudget(t *testing.T) {
	// Рукотворный поток из одних AND-узлов глубже предела
	w := codec.NewWriter()
	for i := 0; i < MaxMatchRuleNodes+1; i++ {
		w.WriteUint8(1) // matchAnd
	}
	_, err := DecodeMatchRule(codec.NewReader(w.Bytes()))
	assert.ErrorIs(t, err, codec.ErrOversize)
}

func TestRigidBodyStateRoundTrip(t *testing.T) {
	state := RigidBodyState{
		Position:    [3]float32{1, 2, 3},
		Orientation: [4]float32{0, 0.707, 0, 0.707},
		LinearVel:   [3]float32{-1, 0, 1},
		AngularVel:  [3]float32{0, 3.14, 0},
	}

	w := codec.NewWriter()
	state.Encode(w)
	assert.Equal(t, RigidBodyStateSize, w.Len(), "Формат тела фиксированного размера")

	decoded, err := DecodeRigidBodyState(codec.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestNodeConnected(t *testing.T) {
	n := NewNode("prop")
	conn := AttrConnection{AttrIndex: 1, SrcNode: 4, SrcAttr: 2}
	assert.False(t, n.Connected(conn))

	n.Connections = append(n.Connections, conn)
	assert.True(t, n.Connected(conn))
	assert.False(t, n.Connected(AttrConnection{AttrIndex: 1, SrcNode: 4, SrcAttr: 3}))
}

func TestNodeBodyLookup(t *testing.T) {
	n := NewNode("vehicle")
	n.Bodies = append(n.Bodies, &Body{ID: 0}, &Body{ID: 2})

	assert.NotNil(t, n.Body(0))
	assert.NotNil(t, n.Body(2))
	assert.Nil(t, n.Body(1))
}
