package memory

import (
	"context"
	"slices"
	"sync"
	"time"
)

// DefaultHistoryCapacity is the number of lines [MemHistory] keeps per
// conversation when none is given.
const DefaultHistoryCapacity = 64

var _ HistoryStore = (*MemHistory)(nil)

// MemHistory is an in-process [HistoryStore]. It keeps the newest capacity
// lines of every conversation and forgets everything on restart. It is safe
// for concurrent use.
type MemHistory struct {
	mu       sync.Mutex
	capacity int
	lines    map[string][]Line
	now      func() time.Time
}

// NewMemHistory returns a MemHistory keeping capacity lines per
// conversation. Non-positive values use [DefaultHistoryCapacity].
func NewMemHistory(capacity int) *MemHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &MemHistory{
		capacity: capacity,
		lines:    make(map[string][]Line),
		now:      time.Now,
	}
}

// Append records lines under conversationID. Lines without a timestamp are
// stamped with the current time.
func (h *MemHistory) Append(_ context.Context, conversationID string, lines ...Line) error {
	if len(lines) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	log := h.lines[conversationID]
	for _, l := range lines {
		if l.Timestamp.IsZero() {
			l.Timestamp = h.now().UTC()
		}
		log = append(log, l)
	}
	if over := len(log) - h.capacity; over > 0 {
		log = slices.Clone(log[over:])
	}
	h.lines[conversationID] = log
	return nil
}

// Recent returns at most n of the newest lines of conversationID, oldest
// first.
func (h *MemHistory) Recent(_ context.Context, conversationID string, n int) ([]Line, error) {
	if n <= 0 {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	log := h.lines[conversationID]
	if len(log) > n {
		log = log[len(log)-n:]
	}
	return slices.Clone(log), nil
}
