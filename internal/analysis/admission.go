package analysis

import (
	"container/list"
	"context"
	"sync"

	"soundnerd/internal/logging"
)

// QueueStatus is a point-in-time snapshot of admission state.
type QueueStatus struct {
	Running     bool `json:"running"`
	ActiveCount int  `json:"activeCount"`
	QueuedCount int  `json:"queuedCount"`
}

// AdmissionController bounds concurrent analysis work to a fixed number of
// slots. Requests beyond the limit wait FIFO; a cancelled waiter never
// receives a grant. Release either hands the freed slot directly to the next
// waiter or decrements the active count, never both.
type AdmissionController struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiters *list.List // of chan struct{}, buffered 1
}

// NewAdmissionController creates a controller with the given concurrency
// limit. A limit below 1 is clamped to 1.
func NewAdmissionController(limit int) *AdmissionController {
	if limit < 1 {
		limit = 1
	}
	return &AdmissionController{
		limit:   limit,
		waiters: list.New(),
	}
}

// Acquire blocks until a slot is granted or ctx is cancelled.
func (a *AdmissionController) Acquire(ctx context.Context) error {
	a.mu.Lock()
	if a.active < a.limit && a.waiters.Len() == 0 {
		a.active++
		a.mu.Unlock()
		logging.AdmissionDebug("slot granted immediately (active=%d/%d)", a.active, a.limit)
		return nil
	}

	grant := make(chan struct{}, 1)
	elem := a.waiters.PushBack(grant)
	queued := a.waiters.Len()
	a.mu.Unlock()
	logging.Admission("request queued (queued=%d)", queued)

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		a.mu.Lock()
		select {
		case <-grant:
			// The grant raced in before we could withdraw; pass the
			// slot on so it isn't lost.
			a.releaseLocked()
			a.mu.Unlock()
		default:
			a.waiters.Remove(elem)
			a.mu.Unlock()
		}
		logging.Admission("queued request cancelled")
		return ctx.Err()
	}
}

// Release frees the caller's slot.
func (a *AdmissionController) Release() {
	a.mu.Lock()
	a.releaseLocked()
	a.mu.Unlock()
}

// releaseLocked hands the slot to the next waiter, or decrements the active
// count if nobody is waiting. Caller holds a.mu.
func (a *AdmissionController) releaseLocked() {
	if front := a.waiters.Front(); front != nil {
		grant := a.waiters.Remove(front).(chan struct{})
		grant <- struct{}{}
		return
	}
	a.active--
}

// Status returns a snapshot of the queue.
func (a *AdmissionController) Status() QueueStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return QueueStatus{
		Running:     a.active > 0,
		ActiveCount: a.active,
		QueuedCount: a.waiters.Len(),
	}
}
