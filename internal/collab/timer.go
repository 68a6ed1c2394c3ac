package collab

import (
	"time"

	"github.com/Vasu1712/scenyx-hub/internal/models"
)

type TimerStatus string

const (
	TimerIdle     TimerStatus = "idle"
	TimerRunning  TimerStatus = "running"
	TimerPaused   TimerStatus = "paused"
	TimerFinished TimerStatus = "finished"
)

// Timer is a shared countdown. Clients render it from the state they receive;
// the hub only keeps the authoritative deadline.
//
// idle -> running -> paused -> running | finished -> idle
type Timer struct {
	Status      TimerStatus  `json:"status"`
	DurationMs  int64        `json:"durationMs"`
	RemainingMs int64        `json:"remainingMs"`
	EndsAt      time.Time    `json:"endsAt,omitempty"`
	StartedBy   *models.User `json:"startedBy,omitempty"`
}

func (t *Timer) status() TimerStatus {
	if t.Status == "" {
		return TimerIdle
	}
	return t.Status
}

// Tick finishes a running timer whose deadline passed.
func (t *Timer) Tick(now time.Time) {
	if t.status() == TimerRunning && !now.Before(t.EndsAt) {
		t.Status = TimerFinished
		t.RemainingMs = 0
		t.EndsAt = time.Time{}
	}
}

// Start runs a new countdown from idle or finished.
func (t *Timer) Start(user models.User, duration time.Duration, now time.Time) error {
	t.Tick(now)
	if s := t.status(); (s != TimerIdle && s != TimerFinished) || duration <= 0 {
		return ErrInvalidTransition
	}
	*t = Timer{
		Status:      TimerRunning,
		DurationMs:  duration.Milliseconds(),
		RemainingMs: duration.Milliseconds(),
		EndsAt:      now.Add(duration),
		StartedBy:   &user,
	}
	return nil
}

func (t *Timer) Pause(now time.Time) error {
	t.Tick(now)
	if t.status() != TimerRunning {
		return ErrInvalidTransition
	}
	t.RemainingMs = t.EndsAt.Sub(now).Milliseconds()
	t.EndsAt = time.Time{}
	t.Status = TimerPaused
	return nil
}

func (t *Timer) Resume(now time.Time) error {
	if t.status() != TimerPaused {
		return ErrInvalidTransition
	}
	t.EndsAt = now.Add(time.Duration(t.RemainingMs) * time.Millisecond)
	t.Status = TimerRunning
	return nil
}

// Reset returns to idle from any state.
func (t *Timer) Reset() {
	*t = Timer{Status: TimerIdle}
}

// Extend adds delta to a running or paused countdown.
func (t *Timer) Extend(delta time.Duration, now time.Time) error {
	t.Tick(now)
	if delta <= 0 {
		return ErrInvalidTransition
	}
	switch t.status() {
	case TimerRunning:
		t.EndsAt = t.EndsAt.Add(delta)
	case TimerPaused:
		t.RemainingMs += delta.Milliseconds()
	default:
		return ErrInvalidTransition
	}
	t.DurationMs += delta.Milliseconds()
	return nil
}

// View is the state every client renders, remaining time computed at now.
func (t Timer) View(now time.Time) Timer {
	t.Tick(now)
	t.Status = t.status()
	if t.Status == TimerRunning {
		t.RemainingMs = t.EndsAt.Sub(now).Milliseconds()
	}
	return t
}
