package attendance

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	class                TEXT NOT NULL DEFAULT '',
	fingerprint_id       TEXT,
	fingerprint_enrolled BOOLEAN NOT NULL DEFAULT FALSE,
	enrolled_at          TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id                TEXT PRIMARY KEY,
	student_id        TEXT NOT NULL REFERENCES students(id),
	date              DATE NOT NULL,
	status            TEXT NOT NULL,
	method            TEXT NOT NULL,
	verified          BOOLEAN NOT NULL DEFAULT FALSE,
	suspicious        BOOLEAN NOT NULL DEFAULT FALSE,
	suspicious_reason TEXT,
	time_in           TIMESTAMPTZ,
	time_out          TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (student_id, date)
);

CREATE INDEX IF NOT EXISTS idx_attendance_records_date ON attendance_records(date);

CREATE TABLE IF NOT EXISTS attendance_audit (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	student_id TEXT,
	detail     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	operator_id TEXT NOT NULL,
	token       TEXT PRIMARY KEY,
	expires_at  TIMESTAMPTZ NOT NULL,
	revoked     BOOLEAN NOT NULL DEFAULT FALSE
);
`

// Migrate creates the tables when they do not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}
