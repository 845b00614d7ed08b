package sim

import (
	"fmt"
)

// HostTable таблица сущностей стороны хоста: растущий массив слотов
// плюс стек свободных индексов. Add выдаёт свободный индекс (или
// расширяет массив) и штампует сущность этим индексом как stream id;
// Remove очищает слот и возвращает индекс в стек. Переиспользование
// индекса безопасно: команда удаления всегда упорядочена раньше
// следующего добавления в тот же слот.
type HostTable struct {
	slots []Entity
	free  []int32
}

// Add регистрирует сущность и возвращает её stream id
func (t *HostTable) Add(e Entity) int32 {
	var id int32
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[id] = e
	} else {
		id = int32(len(t.slots))
		t.slots = append(t.slots, e)
	}
	e.SetStreamID(id)
	return id
}

// Remove снимает сущность с учёта и освобождает её slot id
func (t *HostTable) Remove(e Entity) error {
	id := e.StreamID()
	if id < 0 || int(id) >= len(t.slots) || t.slots[id] != e {
		return fmt.Errorf("сущность с id %d не зарегистрирована в таблице", id)
	}
	t.slots[id] = nil
	t.free = append(t.free, id)
	e.SetStreamID(NoStreamID)
	return nil
}

// Get возвращает живую сущность по id или nil
func (t *HostTable) Get(id int32) Entity {
	if id < 0 || int(id) >= len(t.slots) {
		return nil
	}
	return t.slots[id]
}

// Live возвращает живые сущности в порядке возрастания id.
// Порядок стабилен, что важно для детерминизма дампов состояния.
func (t *HostTable) Live() []Entity {
	out := make([]Entity, 0, len(t.slots))
	for _, e := range t.slots {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Len возвращает число живых сущностей
func (t *HostTable) Len() int {
	return len(t.slots) - len(t.free)
}

// MirrorTable таблица сущностей стороны клиента: растущий массив,
// индексируемый напрямую id из команды. Свободный список не нужен —
// энкодер уже гарантирует отсутствие пересечений живых id.
type MirrorTable struct {
	slots []Entity
}

// Put помещает сущность в слот id. Занятый слот — нарушение протокола.
func (t *MirrorTable) Put(id int32, e Entity) error {
	if id < 0 {
		return fmt.Errorf("отрицательный stream id %d", id)
	}
	for int(id) >= len(t.slots) {
		t.slots = append(t.slots, nil)
	}
	if t.slots[id] != nil {
		return fmt.Errorf("слот %d уже занят", id)
	}
	t.slots[id] = e
	e.SetStreamID(id)
	return nil
}

// Get возвращает сущность слота id; обращение к мёртвому слоту — ошибка
func (t *MirrorTable) Get(id int32) (Entity, error) {
	if id < 0 || int(id) >= len(t.slots) || t.slots[id] == nil {
		return nil, fmt.Errorf("ссылка на несуществующий id %d", id)
	}
	return t.slots[id], nil
}

// Lookup возвращает сущность слота или nil без ошибки (для мягких условий)
func (t *MirrorTable) Lookup(id int32) Entity {
	if id < 0 || int(id) >= len(t.slots) {
		return nil
	}
	return t.slots[id]
}

// Remove очищает слот id
func (t *MirrorTable) Remove(id int32) error {
	if id < 0 || int(id) >= len(t.slots) || t.slots[id] == nil {
		return fmt.Errorf("удаление несуществующего id %d", id)
	}
	t.slots[id].SetStreamID(NoStreamID)
	t.slots[id] = nil
	return nil
}

// Live возвращает живые сущности в порядке возрастания id
func (t *MirrorTable) Live() []Entity {
	out := make([]Entity, 0, len(t.slots))
	for _, e := range t.slots {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Len возвращает число живых сущностей
func (t *MirrorTable) Len() int {
	n := 0
	for _, e := range t.slots {
		if e != nil {
			n++
		}
	}
	return n
}

// Reset очищает таблицу
func (t *MirrorTable) Reset() {
	t.slots = t.slots[:0]
}
