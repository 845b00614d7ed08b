// Package replay реализует файловый вариант репликации: запись
// командного потока в файл, воспроизведение с управляемым темпом и
// перемотку по снапшотам.
package replay

import (
	"errors"
	"fmt"
	"sync"
)

// ErrReplayBusy реплей уже открыт другим владельцем
var ErrReplayBusy = errors.New("replay: уже открыт")

// Guard ресурс «один открытый реплей на процесс». Явный хэндл
// вместо глобального флага: захватывается при старте записи или
// воспроизведения, освобождается при остановке, повторный захват
// завершается громкой ошибкой.
type Guard struct {
	mu    sync.Mutex
	held  bool
	owner string
}

// Handle удостоверение захвата; Release освобождает ресурс
type Handle struct {
	guard *Guard
	once  sync.Once
}

// Acquire захватывает ресурс. Если ресурс уже удерживается,
// возвращает ErrReplayBusy с именем владельца.
func (g *Guard) Acquire(owner string) (*Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return nil, fmt.Errorf("%w (владелец: %s)", ErrReplayBusy, g.owner)
	}
	g.held = true
	g.owner = owner
	return &Handle{guard: g}, nil
}

// Release освобождает ресурс. Идемпотентно.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.guard.mu.Lock()
		h.guard.held = false
		h.guard.owner = ""
		h.guard.mu.Unlock()
	})
}

// processGuard общий ресурс процесса
var processGuard Guard

// AcquireProcessGuard захватывает общепроцессный ресурс реплея
func AcquireProcessGuard(owner string) (*Handle, error) {
	return processGuard.Acquire(owner)
}
