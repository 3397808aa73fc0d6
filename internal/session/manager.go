package session

import (
	"context"
	"sync"

	"madrasa/internal/attendance"
	"madrasa/internal/scanner"
	"madrasa/internal/verify"
)

// Manager holds at most one active session per date.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ledger   Ledger
	scan     scanner.Scanner
	verifier *verify.Verifier
	notifier Notifier
}

// NewManager creates a manager that builds sessions from the given collaborators.
func NewManager(ledger Ledger, scan scanner.Scanner, verifier *verify.Verifier, notifier Notifier) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		ledger:   ledger,
		scan:     scan,
		verifier: verifier,
		notifier: notifier,
	}
}

// Start returns the active session for the date, creating and loading one if
// needed. A session stuck in the error state retries its roster fetch.
func (m *Manager) Start(ctx context.Context, date string) (*Session, error) {
	date, err := attendance.ParseDate(date)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	sess, ok := m.sessions[date]
	if !ok {
		sess, err = New(date, m.ledger, m.scan, m.verifier, m.notifier)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.sessions[date] = sess
	}
	m.mu.Unlock()

	if err := sess.Load(ctx); err != nil {
		return sess, err
	}
	return sess, nil
}

// Get returns the active session for a date, if any.
func (m *Manager) Get(date string) (*Session, bool) {
	date, err := attendance.ParseDate(date)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[date]
	return sess, ok
}

// Remove drops the session for a date after it is done or discarded.
func (m *Manager) Remove(date string) {
	date, err := attendance.ParseDate(date)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, date)
}
