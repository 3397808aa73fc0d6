package attendance

import (
	"context"
	"fmt"
	"math"
)

// Store is the persistence surface the ledger needs. *Repository satisfies it.
type Store interface {
	ListStudents(ctx context.Context) ([]Student, error)
	MarkedIDs(ctx context.Context, date string) ([]string, error)
	RecordsFor(ctx context.Context, date string) ([]Record, error)
	InsertRecords(ctx context.Context, recs []Record) error
}

// CommitError reports a failed batch write. The whole batch is rolled back;
// Failed equals the batch size because no partial commit is assumed safe.
type CommitError struct {
	Failed int
	Total  int
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("save failed for %d of %d students: %v", e.Failed, e.Total, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Ledger enforces per-day uniqueness and is the persistence boundary for
// attendance records.
type Ledger struct {
	store Store
}

// NewLedger creates a ledger backed by a store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// RosterFor returns the students with no attendance record for the date,
// in stable id order. Already-marked students are excluded.
func (l *Ledger) RosterFor(ctx context.Context, date string) ([]Student, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	students, err := l.store.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	markedIDs, err := l.store.MarkedIDs(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("fetch marked ids: %w", err)
	}
	marked := make(map[string]bool, len(markedIDs))
	for _, id := range markedIDs {
		marked[id] = true
	}
	var roster []Student
	for _, s := range students {
		if !marked[s.ID] {
			roster = append(roster, s)
		}
	}
	return roster, nil
}

// MarkedIDs returns the ids already recorded for a date.
func (l *Ledger) MarkedIDs(ctx context.Context, date string) ([]string, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	return l.store.MarkedIDs(ctx, date)
}

// RecordsFor returns the full marked set for a date.
func (l *Ledger) RecordsFor(ctx context.Context, date string) ([]Record, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	return l.store.RecordsFor(ctx, date)
}

// Commit validates and writes a batch atomically. Either all records persist
// or none do; failures come back as a *CommitError.
func (l *Ledger) Commit(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			return &CommitError{Failed: len(recs), Total: len(recs), Err: fmt.Errorf("record for %s: %w", rec.StudentID, err)}
		}
		key := rec.StudentID + "|" + rec.Date
		if seen[key] {
			return &CommitError{Failed: len(recs), Total: len(recs), Err: fmt.Errorf("student %s on %s: %w", rec.StudentID, rec.Date, ErrDuplicateRecord)}
		}
		seen[key] = true
	}
	if err := l.store.InsertRecords(ctx, recs); err != nil {
		return &CommitError{Failed: len(recs), Total: len(recs), Err: err}
	}
	return nil
}

// Summary computes read-side statistics over the full marked set for a date.
// An empty day yields a zero rate, never a division by zero.
func (l *Ledger) Summary(ctx context.Context, date string) (Summary, error) {
	date, err := ParseDate(date)
	if err != nil {
		return Summary{}, err
	}
	recs, err := l.store.RecordsFor(ctx, date)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch records: %w", err)
	}
	sum := Summary{Date: date, Total: len(recs)}
	for _, rec := range recs {
		switch rec.Status {
		case StatusPresent:
			sum.Present++
		case StatusAbsent:
			sum.Absent++
		case StatusLate:
			sum.Late++
		}
	}
	sum.AttendanceRate = Rate(sum.Present, sum.Late, sum.Total)
	return sum, nil
}

// Rate is (present+late)/total*100 rounded to one decimal, 0 when total is 0.
func Rate(present, late, total int) float64 {
	if total == 0 {
		return 0
	}
	rate := float64(present+late) / float64(total) * 100
	return math.Round(rate*10) / 10
}
