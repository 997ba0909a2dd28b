package serverstore

// DDL applied at startup. Statements are idempotent so restarts are safe.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS students (
	reg_no       TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	class_name   TEXT NOT NULL DEFAULT '',
	department   TEXT NOT NULL DEFAULT '',
	faculty      TEXT NOT NULL DEFAULT '',
	passport_url TEXT NOT NULL DEFAULT '',
	photo        BYTEA,
	renewal_date DATE,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS fingerprint_templates (
	id            BIGSERIAL PRIMARY KEY,
	reg_no        TEXT NOT NULL REFERENCES students(reg_no),
	finger_index  INT NOT NULL CHECK (finger_index BETWEEN 1 AND 10),
	finger_name   TEXT NOT NULL DEFAULT '',
	template      BYTEA NOT NULL,
	image_preview TEXT NOT NULL DEFAULT '',
	captured_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (reg_no, finger_index)
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id        BIGSERIAL PRIMARY KEY,
	reg_no    TEXT NOT NULL,
	date      DATE NOT NULL,
	time_in   TIMESTAMPTZ,
	time_out  TIMESTAMPTZ,
	device_id TEXT NOT NULL DEFAULT '',
	synced    BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance_records (reg_no, date);

CREATE TABLE IF NOT EXISTS devices (
	device_id     TEXT PRIMARY KEY,
	registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
