// Package verify decides whether a captured fingerprint belongs to the
// expected student. The policy is deliberately singular: the captured
// template identifier must equal the template enrolled on the student
// record. Name matching and accept-with-random-failure are not policies
// this package will ever apply.
package verify

import (
	"errors"
	"fmt"

	"madrasa/internal/attendance"
	"madrasa/internal/scanner"
)

// ErrNotEnrolled reports a student with no registered template. That is an
// enrollment problem, not a verification outcome.
var ErrNotEnrolled = errors.New("student has no enrolled fingerprint")

// ErrSensorFailed reports a sensor-level failure. The read carries no
// identity information, so there is nothing to verify; the caller retries.
var ErrSensorFailed = errors.New("scan failed at the sensor")

// Decision is the classified result of one scan for one student.
type Decision struct {
	Verified   bool
	Suspicious bool
	Reason     string
	Status     attendance.Status
	Method     attendance.Method
}

// Verifier applies the template-equality policy.
type Verifier struct{}

// New creates a verifier.
func New() *Verifier { return &Verifier{} }

// Verify classifies a resolved scan attempt against the expected student.
// Failed attempts return ErrSensorFailed and no decision.
func (v *Verifier) Verify(student attendance.Student, att scanner.Attempt) (Decision, error) {
	if att.StudentID != student.ID {
		return Decision{}, fmt.Errorf("attempt for student %s, expected %s", att.StudentID, student.ID)
	}
	if att.Outcome == scanner.OutcomeFailed {
		return Decision{}, ErrSensorFailed
	}
	if student.FingerprintID == nil || *student.FingerprintID == "" {
		return Decision{}, ErrNotEnrolled
	}

	if att.CapturedFingerprintID == *student.FingerprintID {
		return Decision{
			Verified: true,
			Status:   attendance.StatusPresent,
			Method:   attendance.MethodFingerprint,
		}, nil
	}
	return Decision{
		Suspicious: true,
		Reason:     "fingerprint ID mismatch",
		Status:     attendance.StatusAbsent,
		Method:     attendance.MethodFingerprint,
	}, nil
}
