package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeStore struct {
	students   []Student
	marked     map[string][]string // date -> student ids
	records    map[string][]Record // date -> records
	listErr    error
	markedErr  error
	insertErr  error
	insertions [][]Record
}

func newFakeStore(students ...Student) *fakeStore {
	return &fakeStore{
		students: students,
		marked:   make(map[string][]string),
		records:  make(map[string][]Record),
	}
}

func (f *fakeStore) ListStudents(context.Context) ([]Student, error) {
	return f.students, f.listErr
}

func (f *fakeStore) MarkedIDs(_ context.Context, date string) ([]string, error) {
	return f.marked[date], f.markedErr
}

func (f *fakeStore) RecordsFor(_ context.Context, date string) ([]Record, error) {
	return f.records[date], nil
}

func (f *fakeStore) InsertRecords(_ context.Context, recs []Record) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.insertions = append(f.insertions, recs)
	for _, rec := range recs {
		f.records[rec.Date] = append(f.records[rec.Date], rec)
		f.marked[rec.Date] = append(f.marked[rec.Date], rec.StudentID)
	}
	return nil
}

func students(ids ...string) []Student {
	out := make([]Student, 0, len(ids))
	for _, id := range ids {
		out = append(out, Student{ID: id, Name: "Student " + id, Class: "Class 8A"})
	}
	return out
}

func TestRosterExcludesMarkedStudents(t *testing.T) {
	store := newFakeStore(students("ST001", "ST002", "ST003")...)
	store.marked["2026-03-02"] = []string{"ST002"}
	ledger := NewLedger(store)

	roster, err := ledger.RosterFor(context.Background(), "2026-03-02")
	if err != nil {
		t.Fatalf("RosterFor: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("want 2 students, got %d", len(roster))
	}
	for _, s := range roster {
		if s.ID == "ST002" {
			t.Fatal("marked student must be excluded from the roster")
		}
	}
}

func TestRosterRejectsBadDate(t *testing.T) {
	ledger := NewLedger(newFakeStore())
	if _, err := ledger.RosterFor(context.Background(), "02-03-2026"); err == nil {
		t.Fatal("want error for malformed date")
	}
}

func TestCommitPersistsWholeBatch(t *testing.T) {
	store := newFakeStore(students("ST001", "ST002")...)
	ledger := NewLedger(store)

	now := time.Now().UTC()
	batch := []Record{
		{StudentID: "ST001", Date: "2026-03-02", Status: StatusPresent, Method: MethodManual, TimeIn: &now},
		{StudentID: "ST002", Date: "2026-03-02", Status: StatusPresent, Method: MethodFingerprint, Verified: true, TimeIn: &now},
	}
	if err := ledger.Commit(context.Background(), batch); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(store.insertions) != 1 || len(store.insertions[0]) != 2 {
		t.Fatalf("want one insertion of 2 records, got %v", store.insertions)
	}
}

func TestCommitRejectsDuplicateWithinBatch(t *testing.T) {
	ledger := NewLedger(newFakeStore())
	batch := []Record{
		{StudentID: "ST001", Date: "2026-03-02", Status: StatusPresent, Method: MethodManual},
		{StudentID: "ST001", Date: "2026-03-02", Status: StatusAbsent, Method: MethodManual},
	}
	err := ledger.Commit(context.Background(), batch)
	if !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("want ErrDuplicateRecord, got %v", err)
	}
	var ce *CommitError
	if !errors.As(err, &ce) {
		t.Fatalf("want *CommitError, got %T", err)
	}
	if ce.Failed != 2 || ce.Total != 2 {
		t.Fatalf("whole batch must fail: %+v", ce)
	}
}

func TestCommitReportsBackendFailureForWholeBatch(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("connection reset")
	ledger := NewLedger(store)

	batch := []Record{
		{StudentID: "ST001", Date: "2026-03-02", Status: StatusPresent, Method: MethodManual},
		{StudentID: "ST002", Date: "2026-03-02", Status: StatusAbsent, Method: MethodManual},
		{StudentID: "ST003", Date: "2026-03-02", Status: StatusLate, Method: MethodManual},
	}
	err := ledger.Commit(context.Background(), batch)
	if err == nil {
		t.Fatal("want commit error")
	}
	if !strings.Contains(err.Error(), "save failed for 3 of 3 students") {
		t.Fatalf("unexpected message: %v", err)
	}
	if len(store.insertions) != 0 {
		t.Fatal("no records may persist on failure")
	}
}

func TestCommitValidatesInvariants(t *testing.T) {
	ledger := NewLedger(newFakeStore())
	now := time.Now().UTC()

	cases := []struct {
		name string
		rec  Record
	}{
		{"verified manual", Record{StudentID: "ST001", Date: "2026-03-02", Status: StatusPresent, Method: MethodManual, Verified: true}},
		{"suspicious and verified", Record{StudentID: "ST001", Date: "2026-03-02", Status: StatusPresent, Method: MethodFingerprint, Verified: true, Suspicious: true}},
		{"time in for absent", Record{StudentID: "ST001", Date: "2026-03-02", Status: StatusAbsent, Method: MethodManual, TimeIn: &now}},
		{"bad status", Record{StudentID: "ST001", Date: "2026-03-02", Status: "sleeping", Method: MethodManual}},
		{"missing student", Record{Date: "2026-03-02", Status: StatusPresent, Method: MethodManual}},
	}
	for _, tc := range cases {
		if err := ledger.Commit(context.Background(), []Record{tc.rec}); err == nil {
			t.Errorf("%s: want validation error", tc.name)
		}
	}
}

func TestSummary(t *testing.T) {
	store := newFakeStore()
	store.records["2026-03-02"] = []Record{
		{StudentID: "ST001", Date: "2026-03-02", Status: StatusPresent},
		{StudentID: "ST002", Date: "2026-03-02", Status: StatusPresent},
		{StudentID: "ST003", Date: "2026-03-02", Status: StatusLate},
		{StudentID: "ST004", Date: "2026-03-02", Status: StatusAbsent},
		{StudentID: "ST005", Date: "2026-03-02", Status: StatusAbsent},
		{StudentID: "ST006", Date: "2026-03-02", Status: StatusAbsent},
	}
	ledger := NewLedger(store)

	sum, err := ledger.Summary(context.Background(), "2026-03-02")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Total != 6 || sum.Present != 2 || sum.Late != 1 || sum.Absent != 3 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
	// (2+1)/6*100 = 50.0
	if sum.AttendanceRate != 50.0 {
		t.Fatalf("want rate 50.0, got %g", sum.AttendanceRate)
	}
}

func TestSummaryEmptyDayIsZeroNotPanic(t *testing.T) {
	ledger := NewLedger(newFakeStore())
	sum, err := ledger.Summary(context.Background(), "2026-03-02")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Total != 0 || sum.AttendanceRate != 0 {
		t.Fatalf("empty day must be 0%%: %+v", sum)
	}
}

func TestRateRounding(t *testing.T) {
	cases := []struct {
		present, late, total int
		want                 float64
	}{
		{1, 0, 3, 33.3},
		{2, 0, 3, 66.7},
		{7, 1, 9, 88.9},
		{0, 0, 0, 0},
		{5, 0, 5, 100},
	}
	for _, tc := range cases {
		if got := Rate(tc.present, tc.late, tc.total); got != tc.want {
			t.Errorf("Rate(%d,%d,%d) = %g, want %g", tc.present, tc.late, tc.total, got, tc.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	if _, err := ParseDate("2026-03-02"); err != nil {
		t.Fatalf("valid date rejected: %v", err)
	}
	for _, bad := range []string{"", "2026/03/02", "yesterday", "2026-13-40"} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("ParseDate(%q): want error", bad)
		}
	}
}

func TestRecordDecodesClientFieldNames(t *testing.T) {
	payload := `{"studentId":"ST001","date":"2026-03-02","status":"present","method":"manual","timeIn":"2026-03-02T08:05:00Z"}`
	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.StudentID != "ST001" {
		t.Fatalf("StudentID = %q, want ST001", rec.StudentID)
	}
	if rec.TimeIn == nil || rec.TimeIn.Hour() != 8 {
		t.Fatalf("TimeIn = %v, want 08:05", rec.TimeIn)
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	out, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"studentId"`, `"timeIn"`, `"suspicious"`} {
		if !strings.Contains(string(out), key) {
			t.Errorf("marshalled record missing %s: %s", key, out)
		}
	}
	if strings.Contains(string(out), "student_id") {
		t.Errorf("marshalled record leaks internal field names: %s", out)
	}
}
