package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateRecord is returned when a (student, date) pair is already marked.
var ErrDuplicateRecord = errors.New("attendance already recorded for student and date")

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ListStudents returns all students ordered by id.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, class, fingerprint_id, fingerprint_enrolled, enrolled_at, created_at
		FROM students
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Class, &s.FingerprintID, &s.Enrolled, &s.EnrolledAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// GetStudent returns a single student by id, nil when absent.
func (r *Repository) GetStudent(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, class, fingerprint_id, fingerprint_enrolled, enrolled_at, created_at
		FROM students WHERE id = $1
	`, id)
	var s Student
	if err := row.Scan(&s.ID, &s.Name, &s.Class, &s.FingerprintID, &s.Enrolled, &s.EnrolledAt, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpsertStudent creates or updates a student.
func (r *Repository) UpsertStudent(ctx context.Context, id, name, class string) error {
	if id == "" {
		return errors.New("student id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, class)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			class = EXCLUDED.class,
			updated_at = NOW()
	`, id, name, class)
	return err
}

// SetFingerprint stores a student's enrolled template id. Re-enrollment
// overwrites the previous template.
func (r *Repository) SetFingerprint(ctx context.Context, studentID, fingerprintID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students
		SET fingerprint_id = $2, fingerprint_enrolled = TRUE, enrolled_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, studentID, fingerprintID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("student %s not found", studentID)
	}
	return nil
}

// Template returns a student's enrolled fingerprint template. The boolean is
// false when the student is unknown or not enrolled. Satisfies the scanner's
// template lookup.
func (r *Repository) Template(ctx context.Context, studentID string) (string, bool, error) {
	var fp sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT fingerprint_id FROM students WHERE id = $1`, studentID).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return fp.String, fp.Valid && fp.String != "", nil
}

// DuplicateFingerprints reports template ids enrolled for more than one student.
func (r *Repository) DuplicateFingerprints(ctx context.Context) ([]DuplicateAlert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT fingerprint_id, ARRAY_AGG(id ORDER BY id)
		FROM students
		WHERE fingerprint_id IS NOT NULL
		GROUP BY fingerprint_id
		HAVING COUNT(*) > 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []DuplicateAlert
	for rows.Next() {
		var a DuplicateAlert
		var ids []byte
		if err := rows.Scan(&a.FingerprintID, &ids); err != nil {
			return nil, err
		}
		a.StudentIDs = parseTextArray(string(ids))
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// MarkedIDs returns the ids of students already recorded for a date.
func (r *Repository) MarkedIDs(ctx context.Context, date string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id FROM attendance_records WHERE date = $1 ORDER BY student_id
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordsFor returns the full marked set for a date.
func (r *Repository) RecordsFor(ctx context.Context, date string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, date, status, method, verified, suspicious,
		       COALESCE(suspicious_reason, ''), time_in, time_out, created_at
		FROM attendance_records
		WHERE date = $1
		ORDER BY student_id
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var day time.Time
		if err := rows.Scan(&rec.ID, &rec.StudentID, &day, &rec.Status, &rec.Method,
			&rec.Verified, &rec.Suspicious, &rec.SuspiciousReason, &rec.TimeIn, &rec.TimeOut, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Date = day.Format(DateLayout)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// InsertRecords writes a batch inside one transaction. Any conflict or
// failure rolls back the whole batch; no partial write survives.
func (r *Repository) InsertRecords(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range recs {
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		var reason any
		if rec.SuspiciousReason != "" {
			reason = rec.SuspiciousReason
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records
				(id, student_id, date, status, method, verified, suspicious, suspicious_reason, time_in, time_out)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (student_id, date) DO NOTHING
		`, id, rec.StudentID, rec.Date, rec.Status, rec.Method, rec.Verified, rec.Suspicious, reason, rec.TimeIn, rec.TimeOut)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("student %s on %s: %w", rec.StudentID, rec.Date, ErrDuplicateRecord)
		}
	}
	return tx.Commit()
}

// InsertAudit appends one row to the session activity log.
func (r *Repository) InsertAudit(ctx context.Context, evt AuditEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_audit (id, kind, student_id, detail)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
	`, evt.ID, evt.Kind, evt.StudentID, evt.Detail)
	return err
}

// ListAudit returns the most recent audit rows.
func (r *Repository) ListAudit(ctx context.Context, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, COALESCE(student_id, ''), COALESCE(detail, ''), created_at
		FROM attendance_audit
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.StudentID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, operatorID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (operator_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, operatorID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// parseTextArray unpacks a Postgres text[] literal like {ST001,ST002}.
func parseTextArray(s string) []string {
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(body); i++ {
		if i == len(body) || body[i] == ',' {
			item := body[start:i]
			if len(item) >= 2 && item[0] == '"' && item[len(item)-1] == '"' {
				item = item[1 : len(item)-1]
			}
			out = append(out, item)
			start = i + 1
		}
	}
	return out
}
