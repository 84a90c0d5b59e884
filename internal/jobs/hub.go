package jobs

import (
	"sync"

	"manga-studio/internal/domain"
)

// defaultQueueCapacity bounds each per-job queue; consumers are expected to
// keep up via polling, so the oldest events are dropped silently on overflow.
const defaultQueueCapacity = 256

// Hub holds one bounded FIFO progress queue per recording job.
//
// A queue is created on first publish or first subscribe, whichever happens
// first, so no early events are lost to ordering races between the worker
// and the streaming endpoint. Events are delivered at most once: Drain
// removes what it returns.
type Hub struct {
	mu       sync.Mutex
	capacity int
	queues   map[string][]domain.ProgressEvent
}

// NewHub creates a hub with the given per-job queue capacity.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}

	return &Hub{
		capacity: capacity,
		queues:   make(map[string][]domain.ProgressEvent),
	}
}

// Publish appends one event to the job's queue, creating the queue if needed.
func (h *Hub) Publish(jobID string, event domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	queue := h.queues[jobID]
	queue = append(queue, event)
	if len(queue) > h.capacity {
		trim := len(queue) - h.capacity
		queue = append([]domain.ProgressEvent(nil), queue[trim:]...)
	}
	h.queues[jobID] = queue
}

// Subscribe ensures the job's queue exists so a consumer that connects before
// the worker's first publish still observes every event.
func (h *Hub) Subscribe(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.queues[jobID]; !ok {
		h.queues[jobID] = nil
	}
}

// Drain removes and returns all queued events for a job in publish order.
func (h *Hub) Drain(jobID string) []domain.ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	queue := h.queues[jobID]
	if len(queue) == 0 {
		return nil
	}

	h.queues[jobID] = nil
	return queue
}

// Forget discards the job's queue entirely once a consumer is done with it.
func (h *Hub) Forget(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.queues, jobID)
}
