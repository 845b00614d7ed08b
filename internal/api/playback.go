package api

import (
	"context"

	"github.com/google/uuid"
)

// PlaybackStatus снимок состояния воспроизведения
type PlaybackStatus struct {
	Open           bool   `json:"open"`
	ReplayID       string `json:"replay_id,omitempty"`
	Paused         bool   `json:"paused"`
	SpeedExp       int    `json:"speed_exp"`
	CurrentTimeMs  int64  `json:"current_time_ms"`
	TargetTimeMs   int64  `json:"target_time_ms"`
	FastForwarding bool   `json:"fast_forwarding"`
	EOFReached     bool   `json:"eof_reached"`
}

// PlaybackController управляющая поверхность воспроизведения.
// Реализация обязана переносить вызовы на логический поток приложения:
// HTTP-обработчики работают из горутин gin и состояние воспроизведения
// напрямую не трогают.
type PlaybackController interface {
	Open(ctx context.Context, replayID uuid.UUID) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetSpeed(ctx context.Context, exp int) error
	Seek(ctx context.Context, timeMs int64) error
	Status(ctx context.Context) (PlaybackStatus, error)
	Close(ctx context.Context) error
}
