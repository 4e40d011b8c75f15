package cron

import "sync"

// Subscription is the minimal detach contract a caller holds on a scheduled
// job. Unsubscribe is an alias for Cancel.
type Subscription interface {
	Unsubscribe()
}

// ScheduleStatus reports where a handle is in its lifecycle. Completed,
// Canceled, Failed, and Stopped are terminal.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusIdle      ScheduleStatus = "idle"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCanceled  ScheduleStatus = "canceled"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusStopped   ScheduleStatus = "stopped"
)

// Handle extends Subscription with lifecycle controls: cancellation, status
// and error inspection, and a Done channel that closes when a one-shot job
// finishes or the handle reaches any terminal status.
type Handle interface {
	Subscription
	Cancel()
	Status() ScheduleStatus
	Err() error
	Done() <-chan struct{}
	ID() int64
}

// scheduleHandle is the scheduler-owned Handle implementation. All methods
// tolerate a nil receiver so callers can hold a handle from a failed
// schedule call without guarding every use.
type scheduleHandle struct {
	scheduler *Scheduler
	id        int64
	entryID   int
	done      chan struct{}

	mu     sync.RWMutex
	status ScheduleStatus
	err    error
	once   sync.Once
}

func (h *scheduleHandle) Unsubscribe() {
	h.Cancel()
}

// Cancel detaches the job from the scheduler and marks the handle canceled.
// Only the first call has any effect.
func (h *scheduleHandle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.scheduler != nil {
			h.scheduler.removeHandle(h.id)
		}
		h.setTerminal(ScheduleStatusCanceled, nil)
	})
}

func (h *scheduleHandle) Status() ScheduleStatus {
	if h == nil {
		return ScheduleStatusStopped
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *scheduleHandle) Err() error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

func (h *scheduleHandle) Done() <-chan struct{} {
	if h == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return h.done
}

func (h *scheduleHandle) ID() int64 {
	if h == nil {
		return 0
	}
	return h.id
}

func (h *scheduleHandle) setStatus(status ScheduleStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = status
	h.err = err
}

// setTerminal moves the handle to a final status and closes done exactly
// once, even when Cancel races job completion.
func (h *scheduleHandle) setTerminal(status ScheduleStatus, err error) {
	h.setStatus(status, err)
	if h.done != nil {
		select {
		case <-h.done:
		default:
			close(h.done)
		}
	}
}
