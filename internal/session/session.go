package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"madrasa/internal/attendance"
	"madrasa/internal/scanner"
	"madrasa/internal/verify"
)

// State is the lifecycle phase of a marking session.
type State string

const (
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateSubmitting State = "submitting"
	StateDone       State = "done"
	StateError      State = "error"
)

// EntryState is the per-student sub-state within a session.
type EntryState string

const (
	EntryUnset      EntryState = "unset"
	EntryManual     EntryState = "manual"
	EntryScanning   EntryState = "scanning"
	EntryVerified   EntryState = "verified"
	EntrySuspicious EntryState = "suspicious"
	EntryFailed     EntryState = "failed"
)

var (
	ErrNotReady          = errors.New("session is not accepting input")
	ErrUnknownStudent    = errors.New("student not in session roster")
	ErrScanInFlight      = errors.New("another scan is already in flight")
	ErrNoScanInFlight    = errors.New("no scan in flight")
	ErrStudentScanning   = errors.New("student has a scan in flight")
	ErrSuspiciousBlocked = errors.New("student is flagged suspicious; only absent may be set manually")
)

// IncompleteError reports a submit attempted before every roster student has
// an explicit status. The session never defaults a status silently.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("submit blocked: no status set for %d students", len(e.Missing))
}

// Entry is one student's uncommitted state within the session.
type Entry struct {
	Student          attendance.Student
	State            EntryState
	Status           attendance.Status
	Method           attendance.Method
	Verified         bool
	Suspicious       bool
	SuspiciousReason string
	TimeIn           *time.Time
}

// Ledger is the session's view of the attendance store.
// *attendance.Ledger satisfies it.
type Ledger interface {
	RosterFor(ctx context.Context, date string) ([]attendance.Student, error)
	Commit(ctx context.Context, recs []attendance.Record) error
}

// Session is one in-memory marking pass over a day's roster. Records become
// durable only through Submit; a discarded session never touches the ledger.
type Session struct {
	mu       sync.Mutex
	date     string
	state    State
	lastErr  error
	ledger   Ledger
	scan     scanner.Scanner
	verifier *verify.Verifier
	monitor  *Monitor
	notifier Notifier
	now      func() time.Time

	entries map[string]*Entry
	order   []string

	scanningID string
	cancelScan context.CancelFunc
}

// New creates a session in the loading state. Call Load to fetch the roster.
func New(date string, ledger Ledger, scan scanner.Scanner, verifier *verify.Verifier, notifier Notifier) (*Session, error) {
	date, err := attendance.ParseDate(date)
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Session{
		date:     date,
		state:    StateLoading,
		ledger:   ledger,
		scan:     scan,
		verifier: verifier,
		monitor:  NewMonitor(),
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		entries:  make(map[string]*Entry),
	}, nil
}

// Date returns the session's calendar day.
func (s *Session) Date() string { return s.date }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that put the session into the error state.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SuspiciousCount is the running count of flagged students in the session.
func (s *Session) SuspiciousCount() int { return s.monitor.Count() }

// Load fetches the roster of still-unmarked students. A fetch failure moves
// the session to an explicit error state; calling Load again retries.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateLoading && s.state != StateError {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoading
	s.mu.Unlock()

	roster, err := s.ledger.RosterFor(ctx, s.date)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateError
		s.lastErr = err
		return fmt.Errorf("load roster: %w", err)
	}
	s.entries = make(map[string]*Entry, len(roster))
	s.order = s.order[:0]
	for _, st := range roster {
		s.entries[st.ID] = &Entry{
			Student: st,
			State:   EntryUnset,
			Method:  attendance.MethodManual,
		}
		s.order = append(s.order, st.ID)
	}
	s.state = StateReady
	s.lastErr = nil
	return nil
}

// SetStatus applies a manual status to one student. Present and late are
// rejected while the student is flagged suspicious.
func (s *Session) SetStatus(ctx context.Context, studentID string, status attendance.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	entry, ok := s.entries[studentID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownStudent
	}
	if s.scanningID == studentID {
		s.mu.Unlock()
		return ErrStudentScanning
	}
	if !s.monitor.Allows(studentID, status) {
		s.mu.Unlock()
		return ErrSuspiciousBlocked
	}

	entry.Status = status
	entry.Method = attendance.MethodManual
	entry.Verified = false
	if _, flagged := s.monitor.Reason(studentID); !flagged {
		entry.State = EntryManual
		entry.Suspicious = false
		entry.SuspiciousReason = ""
	}
	if status == attendance.StatusPresent || status == attendance.StatusLate {
		t := s.now()
		entry.TimeIn = &t
	} else {
		entry.TimeIn = nil
	}
	name := entry.Student.Name
	s.mu.Unlock()

	s.notifier.Notify(ctx, Event{
		Kind:        EventMarked,
		Date:        s.date,
		StudentID:   studentID,
		StudentName: name,
		Detail:      string(status),
		At:          s.now(),
	})
	return nil
}

// StartScan runs one fingerprint read for a student and folds the outcome
// into the session. It blocks for the scanner's latency; only one scan may
// be in flight per session. A flagged student may re-scan; that is the only
// way a suspicious flag clears.
func (s *Session) StartScan(ctx context.Context, studentID string) (Entry, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return Entry{}, ErrNotReady
	}
	entry, ok := s.entries[studentID]
	if !ok {
		s.mu.Unlock()
		return Entry{}, ErrUnknownStudent
	}
	if s.scanningID != "" {
		s.mu.Unlock()
		return Entry{}, ErrScanInFlight
	}
	prev := *entry
	entry.State = EntryScanning
	scanCtx, cancel := context.WithCancel(ctx)
	s.scanningID = studentID
	s.cancelScan = cancel
	s.mu.Unlock()

	att, scanErr := s.scan.Scan(scanCtx, studentID)

	s.mu.Lock()
	s.scanningID = ""
	s.cancelScan = nil
	cancel()

	if scanErr != nil {
		// No residual mutation: the record returns to its pre-scan value.
		*entry = prev
		if errors.Is(scanErr, scanner.ErrCancelled) || errors.Is(scanErr, context.Canceled) {
			out := *entry
			s.mu.Unlock()
			return out, scanner.ErrCancelled
		}
		entry.State = EntryFailed
		out := *entry
		s.mu.Unlock()
		s.notifyScanFailed(ctx, prev.Student, scanErr.Error())
		return out, scanErr
	}

	if att.Outcome == scanner.OutcomeFailed {
		*entry = prev
		entry.State = EntryFailed
		out := *entry
		s.mu.Unlock()
		s.notifyScanFailed(ctx, prev.Student, "sensor failure, retry available")
		return out, nil
	}

	dec, verr := s.verifier.Verify(entry.Student, att)
	if verr != nil {
		*entry = prev
		entry.State = EntryFailed
		out := *entry
		s.mu.Unlock()
		s.notifyScanFailed(ctx, prev.Student, verr.Error())
		return out, verr
	}

	if dec.Verified {
		t := s.now()
		entry.State = EntryVerified
		entry.Status = dec.Status
		entry.Method = dec.Method
		entry.Verified = true
		entry.Suspicious = false
		entry.SuspiciousReason = ""
		entry.TimeIn = &t
		s.monitor.Clear(studentID)
	} else {
		entry.State = EntrySuspicious
		entry.Status = dec.Status
		entry.Method = dec.Method
		entry.Verified = false
		entry.Suspicious = true
		entry.SuspiciousReason = dec.Reason
		entry.TimeIn = nil
		s.monitor.Flag(studentID, dec.Reason)
	}
	out := *entry
	s.mu.Unlock()

	if dec.Verified {
		s.notifier.Notify(ctx, Event{
			Kind:        EventVerified,
			Date:        s.date,
			StudentID:   studentID,
			StudentName: out.Student.Name,
			At:          s.now(),
		})
	} else {
		s.notifier.Notify(ctx, Event{
			Kind:        EventSuspicious,
			Date:        s.date,
			StudentID:   studentID,
			StudentName: out.Student.Name,
			Detail:      dec.Reason,
			At:          s.now(),
		})
	}
	return out, nil
}

// CancelScan aborts the in-flight scan. The blocked StartScan call restores
// the student's pre-scan entry and returns scanner.ErrCancelled.
func (s *Session) CancelScan() error {
	s.mu.Lock()
	cancel := s.cancelScan
	s.mu.Unlock()
	if cancel == nil {
		return ErrNoScanInFlight
	}
	cancel()
	return nil
}

// Submit builds one record per roster student and commits the batch. Every
// student must have an explicit status. On commit failure the session
// returns to ready with all entered data intact so the operator can retry.
func (s *Session) Submit(ctx context.Context) ([]attendance.Record, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	if s.scanningID != "" {
		s.mu.Unlock()
		return nil, ErrScanInFlight
	}
	var missing []string
	for _, id := range s.order {
		if s.entries[id].Status == "" {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		s.mu.Unlock()
		return nil, &IncompleteError{Missing: missing}
	}

	recs := make([]attendance.Record, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		recs = append(recs, attendance.Record{
			StudentID:        id,
			Date:             s.date,
			Status:           e.Status,
			Method:           e.Method,
			Verified:         e.Verified,
			Suspicious:       e.Suspicious,
			SuspiciousReason: e.SuspiciousReason,
			TimeIn:           e.TimeIn,
		})
	}
	s.state = StateSubmitting
	s.mu.Unlock()

	err := s.ledger.Commit(ctx, recs)

	s.mu.Lock()
	if err != nil {
		s.state = StateReady
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateDone
	s.mu.Unlock()

	s.notifier.Notify(ctx, Event{
		Kind:   EventCommitted,
		Date:   s.date,
		Detail: fmt.Sprintf("attendance recorded for %d students", len(recs)),
		At:     s.now(),
	})
	return recs, nil
}

// Discard drops the session without committing. Not allowed mid-submit; an
// in-flight scan is cancelled.
func (s *Session) Discard() error {
	s.mu.Lock()
	if s.state == StateSubmitting {
		s.mu.Unlock()
		return errors.New("cannot discard while submit is outstanding")
	}
	cancel := s.cancelScan
	s.state = StateDone
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *Session) notifyScanFailed(ctx context.Context, st attendance.Student, detail string) {
	s.notifier.Notify(ctx, Event{
		Kind:        EventScanFailed,
		Date:        s.date,
		StudentID:   st.ID,
		StudentName: st.Name,
		Detail:      detail,
		At:          s.now(),
	})
}

// EntryView is the JSON shape of one student's session state.
type EntryView struct {
	StudentID        string            `json:"studentId"`
	Name             string            `json:"name"`
	Class            string            `json:"class"`
	State            EntryState        `json:"state"`
	Status           attendance.Status `json:"status,omitempty"`
	Method           attendance.Method `json:"method"`
	Verified         bool              `json:"verified"`
	Suspicious       bool              `json:"suspicious"`
	SuspiciousReason string            `json:"suspiciousReason,omitempty"`
	TimeIn           *time.Time        `json:"timeIn,omitempty"`
}

// View is a point-in-time snapshot of the whole session.
type View struct {
	Date            string      `json:"date"`
	State           State       `json:"state"`
	SuspiciousCount int         `json:"suspiciousCount"`
	ScanningStudent string      `json:"scanningStudent,omitempty"`
	Error           string      `json:"error,omitempty"`
	Entries         []EntryView `json:"entries"`
}

// Snapshot returns a copy of the session state for display.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		Date:            s.date,
		State:           s.state,
		SuspiciousCount: s.monitor.Count(),
		ScanningStudent: s.scanningID,
		Entries:         make([]EntryView, 0, len(s.order)),
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
	}
	for _, id := range s.order {
		e := s.entries[id]
		v.Entries = append(v.Entries, EntryView{
			StudentID:        id,
			Name:             e.Student.Name,
			Class:            e.Student.Class,
			State:            e.State,
			Status:           e.Status,
			Method:           e.Method,
			Verified:         e.Verified,
			Suspicious:       e.Suspicious,
			SuspiciousReason: e.SuspiciousReason,
			TimeIn:           e.TimeIn,
		})
	}
	return v
}
