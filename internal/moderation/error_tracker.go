package moderation

import (
	"sync"
	"time"
)

const defaultRecentErrors = 100

// Error types recorded by the tracker. Unknown types are counted as other.
const (
	ErrorTypeDatabase   = "database"
	ErrorTypeProcessing = "processing"
	ErrorTypeAPI        = "api"
	ErrorTypeModeration = "moderation"
	ErrorTypeOther      = "other"
)

var knownErrorTypes = map[string]bool{
	ErrorTypeDatabase:   true,
	ErrorTypeProcessing: true,
	ErrorTypeAPI:        true,
	ErrorTypeModeration: true,
	ErrorTypeOther:      true,
}

type TrackedError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type ErrorStats struct {
	Total      uint64            `json:"total"`
	ByType     map[string]uint64 `json:"by_type"`
	Recent     int               `json:"recent"`
	LastErrors []TrackedError    `json:"last_errors"`
	Since      time.Time         `json:"since"`
}

// ErrorTracker keeps counters per error type and a ring of recent errors.
type ErrorTracker struct {
	mu     sync.Mutex
	ring   []TrackedError
	next   int
	full   bool
	counts map[string]uint64
	total  uint64
	since  time.Time
}

func NewErrorTracker(capacity int) *ErrorTracker {
	if capacity <= 0 {
		capacity = defaultRecentErrors
	}
	return &ErrorTracker{
		ring:   make([]TrackedError, capacity),
		counts: make(map[string]uint64),
		since:  time.Now(),
	}
}

func (t *ErrorTracker) Track(errType string, err error, ctx map[string]interface{}) {
	if err == nil {
		return
	}
	if !knownErrorTypes[errType] {
		errType = ErrorTypeOther
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[t.next] = TrackedError{Type: errType, Message: err.Error(), Context: ctx, Timestamp: time.Now()}
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
	t.counts[errType]++
	t.total++
}

// Recent returns up to limit errors, newest first. limit <= 0 returns all kept.
func (t *ErrorTracker) Recent(limit int) []TrackedError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recentLocked(limit)
}

func (t *ErrorTracker) recentLocked(limit int) []TrackedError {
	n := t.next
	if t.full {
		n = len(t.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]TrackedError, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (t.next - i + len(t.ring)) % len(t.ring)
		out = append(out, t.ring[idx])
	}
	return out
}

func (t *ErrorTracker) Stats() ErrorStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	byType := make(map[string]uint64, len(knownErrorTypes))
	for k := range knownErrorTypes {
		byType[k] = t.counts[k]
	}
	recent := t.recentLocked(10)
	n := t.next
	if t.full {
		n = len(t.ring)
	}
	return ErrorStats{
		Total:      t.total,
		ByType:     byType,
		Recent:     n,
		LastErrors: recent,
		Since:      t.since,
	}
}

func (t *ErrorTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.ring {
		t.ring[i] = TrackedError{}
	}
	t.next = 0
	t.full = false
	t.counts = make(map[string]uint64)
	t.total = 0
	t.since = time.Now()
}
