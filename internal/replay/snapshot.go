package replay

// IntermediateState неизменяемый снапшот-якорь перемотки: полное
// состояние на момент base time плюс коррекция физики и смещение в
// файле сразу за последней применённой записью. Снапшоты добавляются
// по мере чтения вперёд, никогда не удаляются и живут до конца сессии.
type IntermediateState struct {
	BaseTimeMs int64
	FileOffset int64
	FullState  []byte // несжатое сообщение-дамп полного состояния
	Correction []byte // несжатое сообщение полной коррекции (может быть nil)
}

// latestAtOrBefore возвращает индекс позднейшего снапшота с
// BaseTimeMs <= target или -1. Список упорядочен по BaseTimeMs,
// поиск бинарный с конца.
func latestAtOrBefore(snapshots []IntermediateState, targetMs int64) int {
	lo, hi, found := 0, len(snapshots)-1, -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if snapshots[mid].BaseTimeMs <= targetMs {
			found = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return found
}
