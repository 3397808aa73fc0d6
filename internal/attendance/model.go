package attendance

import (
	"errors"
	"fmt"
	"time"
)

// Status is the marked attendance state for one student on one day.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusLate
}

// Method records how a status was entered.
type Method string

const (
	MethodManual      Method = "manual"
	MethodFingerprint Method = "fingerprint"
)

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	return m == MethodManual || m == MethodFingerprint
}

// DateLayout is the calendar-day wire format.
const DateLayout = "2006-01-02"

// ParseDate validates a YYYY-MM-DD day string and returns it normalized.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t.Format(DateLayout), nil
}

// Today returns the current calendar day in wire format.
func Today() string {
	return time.Now().Format(DateLayout)
}

// Student is the read-only roster entity owned by student management.
type Student struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Class         string     `json:"class"`
	FingerprintID *string    `json:"fingerprintId,omitempty"`
	Enrolled      bool       `json:"fingerprintEnrolled"`
	EnrolledAt    *time.Time `json:"enrolledAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Record is one student's attendance for one day.
type Record struct {
	ID               string     `json:"id,omitempty"`
	StudentID        string     `json:"studentId"`
	Date             string     `json:"date"`
	Status           Status     `json:"status"`
	Method           Method     `json:"method"`
	Verified         bool       `json:"verified"`
	Suspicious       bool       `json:"suspicious"`
	SuspiciousReason string     `json:"suspiciousReason,omitempty"`
	TimeIn           *time.Time `json:"timeIn,omitempty"`
	TimeOut          *time.Time `json:"timeOut,omitempty"`
	CreatedAt        time.Time  `json:"createdAt,omitempty"`
}

// Validate checks the record's internal invariants before it may be committed.
func (r Record) Validate() error {
	if r.StudentID == "" {
		return errors.New("student id required")
	}
	if _, err := ParseDate(r.Date); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if !r.Method.Valid() {
		return fmt.Errorf("invalid method %q", r.Method)
	}
	if r.Verified && r.Method != MethodFingerprint {
		return errors.New("verified record must have fingerprint method")
	}
	if r.Suspicious && r.Verified {
		return errors.New("record cannot be both suspicious and verified")
	}
	if r.TimeIn != nil && r.Status == StatusAbsent {
		return errors.New("time in is only set for present or late")
	}
	return nil
}

// Summary holds the read-side statistics over the full marked set for a date.
type Summary struct {
	Date           string  `json:"date"`
	Total          int     `json:"total"`
	Present        int     `json:"present"`
	Absent         int     `json:"absent"`
	Late           int     `json:"late"`
	AttendanceRate float64 `json:"attendanceRate"`
}

// DuplicateAlert flags a fingerprint template shared by more than one student.
type DuplicateAlert struct {
	FingerprintID string   `json:"fingerprintId"`
	StudentIDs    []string `json:"studentIds"`
}

// AuditEvent is one durable row in the session activity log, written by the
// worker from queued session events.
type AuditEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	StudentID string    `json:"studentId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
