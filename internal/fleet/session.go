package fleet

import (
	"sync"
	"time"
)

// Session is the auto-healing session state. Counters survive Stop and are
// only cleared by Reset.
type Session struct {
	mu                  sync.RWMutex
	enabled             bool
	startedAt           time.Time
	interval            time.Duration
	lastCheck           time.Time
	checksPerformed     int
	containersRestarted int
	alertsSent          int
	lastSentAlert       string
}

type SessionSnapshot struct {
	Enabled             bool       `json:"enabled"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	IntervalMinutes     int        `json:"interval_minutes,omitempty"`
	LastCheck           *time.Time `json:"last_check,omitempty"`
	ChecksPerformed     int        `json:"checks_performed"`
	ContainersRestarted int        `json:"containers_restarted"`
	AlertsSent          int        `json:"alerts_sent"`
}

func NewSession() *Session { return &Session{} }

// Begin enables the session. It returns false when already enabled.
func (s *Session) Begin(interval time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return false
	}
	s.enabled = true
	s.startedAt = now.UTC()
	s.interval = interval
	return true
}

// End disables the session. It returns false when it was not enabled.
func (s *Session) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return false
	}
	s.enabled = false
	return true
}

func (s *Session) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *Session) RecordCheck(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checksPerformed++
	s.lastCheck = now.UTC()
}

func (s *Session) RecordRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containersRestarted++
}

// RecordAlertSent counts a delivered alert once, however many channels
// carried it.
func (s *Session) RecordAlertSent(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alertID != "" && alertID == s.lastSentAlert {
		return
	}
	s.lastSentAlert = alertID
	s.alertsSent++
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checksPerformed = 0
	s.containersRestarted = 0
	s.alertsSent = 0
	s.lastSentAlert = ""
	s.lastCheck = time.Time{}
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := SessionSnapshot{
		Enabled:             s.enabled,
		ChecksPerformed:     s.checksPerformed,
		ContainersRestarted: s.containersRestarted,
		AlertsSent:          s.alertsSent,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		out.StartedAt = &t
		out.IntervalMinutes = int(s.interval / time.Minute)
	}
	if !s.lastCheck.IsZero() {
		t := s.lastCheck
		out.LastCheck = &t
	}
	return out
}
