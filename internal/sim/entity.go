package sim

// Entity реплицируемая сущность с идентификатором потока.
// Идентификатор присваивается таблицей хоста при добавлении и
// действителен только в пределах одной пары энкодер/декодер.
type Entity interface {
	StreamID() int32
	SetStreamID(id int32)
}

// streamID встраиваемая реализация Entity
type streamID struct {
	id int32
}

func (s *streamID) StreamID() int32      { return s.id }
func (s *streamID) SetStreamID(id int32) { s.id = id }

// NoStreamID означает, что сущность не зарегистрирована в потоке
const NoStreamID int32 = -1

// Scene контейнер узлов со своим временем симуляции
type Scene struct {
	streamID
	Name       string
	Foreground bool
	TimeMs     int64 // накопленное время шагов сцены
}

// NewScene создаёт сцену без идентификатора потока
func NewScene(name string) *Scene {
	s := &Scene{Name: name}
	s.id = NoStreamID
	return s
}

// Step продвигает время сцены. Сам шаг физики выполняет внешний
// движок; здесь учитывается только реплицируемое время.
func (s *Scene) Step(dtMs int64) {
	s.TimeMs += dtMs
}

// Node типизированный объект симуляции внутри сцены
type Node struct {
	streamID
	SceneID int32  // stream id сцены-владельца
	Type    string // тип узла ("terrain", "prop", ...)
	Attrs   map[uint16]AttrValue
	Bodies  []*Body

	// BlendOffset накопленное сглаживающее смещение после коррекций;
	// применяется слоем рендеринга, не симуляцией.
	BlendOffset [3]float32

	// ResyncData произвольные данные досинхронизации, определяемые
	// типом узла поверх состояния твёрдых тел.
	ResyncData []byte

	// Connections входящие привязки атрибутов к атрибутам других узлов
	Connections []AttrConnection
}

// AttrConnection привязка атрибута узла к атрибуту-источнику другого узла
type AttrConnection struct {
	AttrIndex uint16
	SrcNode   int32
	SrcAttr   uint16
}

// Connected проверяет, существует ли уже такая привязка
func (n *Node) Connected(c AttrConnection) bool {
	for _, existing := range n.Connections {
		if existing == c {
			return true
		}
	}
	return false
}

// NewNode создаёт узел заданного типа
func NewNode(nodeType string) *Node {
	n := &Node{
		Type:  nodeType,
		Attrs: make(map[uint16]AttrValue),
	}
	n.id = NoStreamID
	n.SceneID = NoStreamID
	return n
}

// Body физическое тело узла с полным состоянием движения
func (n *Node) Body(bodyID uint8) *Body {
	for _, b := range n.Bodies {
		if b.ID == bodyID {
			return b
		}
	}
	return nil
}

// Texture реплицируемая ссылка на текстуру (загрузка — внешняя)
type Texture struct {
	streamID
	Name string
}

// NewTexture создаёт текстуру
func NewTexture(name string) *Texture {
	t := &Texture{Name: name}
	t.id = NoStreamID
	return t
}

// Mesh реплицируемая ссылка на меш
type Mesh struct {
	streamID
	Name string
}

// NewMesh создаёт меш
func NewMesh(name string) *Mesh {
	m := &Mesh{Name: name}
	m.id = NoStreamID
	return m
}

// Sound реплицируемая ссылка на звук
type Sound struct {
	streamID
	Name    string
	Looping bool
}

// NewSound создаёт звук
func NewSound(name string, looping bool) *Sound {
	s := &Sound{Name: name, Looping: looping}
	s.id = NoStreamID
	return s
}

// CollisionMesh реплицируемая ссылка на коллизионный меш
type CollisionMesh struct {
	streamID
	Name string
}

// NewCollisionMesh создаёт коллизионный меш
func NewCollisionMesh(name string) *CollisionMesh {
	c := &CollisionMesh{Name: name}
	c.id = NoStreamID
	return c
}

// DataAsset произвольный бинарный ассет
type DataAsset struct {
	streamID
	Name string
	Data []byte
}

// NewDataAsset создаёт бинарный ассет
func NewDataAsset(name string, data []byte) *DataAsset {
	d := &DataAsset{Name: name, Data: data}
	d.id = NoStreamID
	return d
}
