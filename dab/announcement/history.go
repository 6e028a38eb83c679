package announcement

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry records one completed announcement.
type HistoryEntry struct {
	ID          string
	Start       time.Time
	End         time.Time
	Type        Type
	ServiceName string
	Duration    time.Duration
}

// DefaultHistoryCap bounds the history log. The limit is part of the
// user-facing contract: only the 500 most recent announcements are
// retained, oldest evicted first. History is in-memory only and does
// not survive a restart.
const DefaultHistoryCap = 500

// HistoryLog is a bounded FIFO of completed announcements backed by a
// flat ring. Locking is the Coordinator's job.
type HistoryLog struct {
	buf   []HistoryEntry
	head  int // index of the oldest entry
	count int
}

// NewHistoryLog creates a log bounded to capacity entries; zero or
// negative means DefaultHistoryCap.
func NewHistoryLog(capacity int) *HistoryLog {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &HistoryLog{buf: make([]HistoryEntry, capacity)}
}

// Append adds a completed announcement, evicting the oldest entry
// when full. Entries without an ID get one assigned.
func (h *HistoryLog) Append(e HistoryEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if h.count < len(h.buf) {
		h.buf[(h.head+h.count)%len(h.buf)] = e
		h.count++
		return
	}
	h.buf[h.head] = e
	h.head = (h.head + 1) % len(h.buf)
}

// Snapshot returns a copy of all entries ordered oldest to newest.
func (h *HistoryLog) Snapshot() []HistoryEntry {
	out := make([]HistoryEntry, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of stored entries.
func (h *HistoryLog) Len() int {
	return h.count
}

// Clear discards all entries.
func (h *HistoryLog) Clear() {
	h.head = 0
	h.count = 0
}
