package session

import (
	"sync"

	"madrasa/internal/attendance"
)

// Monitor tracks suspicious flags for the active session and enforces their
// consequence: a flagged student cannot be manually marked present or late.
// Absent stays allowed. A flag clears only when a later scan verifies.
type Monitor struct {
	mu      sync.Mutex
	flagged map[string]string // student id -> reason
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{flagged: make(map[string]string)}
}

// Flag marks a student's current-session record suspicious.
func (m *Monitor) Flag(studentID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagged[studentID] = reason
}

// Clear removes a student's flag after a verified re-scan.
func (m *Monitor) Clear(studentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flagged, studentID)
}

// Reason returns the flag reason for a student, if flagged.
func (m *Monitor) Reason(studentID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason, ok := m.flagged[studentID]
	return reason, ok
}

// Allows reports whether a manual status change is permitted for the student.
func (m *Monitor) Allows(studentID string, status attendance.Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flagged[studentID]; !ok {
		return true
	}
	return status == attendance.StatusAbsent
}

// Count returns the running number of suspicious records in the session.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flagged)
}
