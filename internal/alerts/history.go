package alerts

import (
	"sync"

	"fleetguard/internal/models"
)

const (
	DefaultCapacity     = 1000
	DefaultHistoryLimit = 50
)

// History is a fixed-capacity FIFO of alerts. When full, the oldest entry is
// evicted on append.
type History struct {
	mu    sync.RWMutex
	buf   []models.Alert
	start int
	size  int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{buf: make([]models.Alert, capacity)}
}

func (h *History) Append(a models.Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := len(h.buf)
	if h.size < c {
		h.buf[(h.start+h.size)%c] = a
		h.size++
		return
	}
	h.buf[h.start] = a
	h.start = (h.start + 1) % c
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *History) Capacity() int { return len(h.buf) }

// Recent returns up to limit alerts, newest first. An empty level matches all.
func (h *History) Recent(limit int, level models.AlertLevel) []models.Alert {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.Alert, 0, min(limit, h.size))
	for i := h.size - 1; i >= 0 && len(out) < limit; i-- {
		a := h.buf[(h.start+i)%len(h.buf)]
		if level != "" && a.Level != level {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (h *History) Counts() map[models.AlertLevel]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := map[models.AlertLevel]int{
		models.LevelInfo:     0,
		models.LevelWarning:  0,
		models.LevelCritical: 0,
	}
	for i := 0; i < h.size; i++ {
		out[h.buf[(h.start+i)%len(h.buf)].Level]++
	}
	return out
}

// Clear empties the history and returns how many alerts were dropped.
func (h *History) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.size
	h.buf = make([]models.Alert, len(h.buf))
	h.start, h.size = 0, 0
	return n
}
