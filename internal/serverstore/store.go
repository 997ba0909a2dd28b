// Package serverstore persists the companion API's data in Postgres.
package serverstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/campuskit/attendance/internal/model"
)

// ErrNotFound marks a normal data-absent outcome.
var ErrNotFound = errors.New("record not found")

// Store wraps sql.DB for Postgres using pgx.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open creates a Postgres connection with sane pool defaults and applies
// the schema.
func Open(ctx context.Context, connString string) (*Store, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Healthy verifies database connectivity.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// RegisterDevice ensures a device record exists.
func (s *Store) RegisterDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// Student returns one student by registration number.
func (s *Store) Student(ctx context.Context, regNo string) (model.StudentInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT reg_no, name, class_name, department, faculty, passport_url, renewal_date
		FROM students WHERE reg_no = $1
	`, regNo)
	var info model.StudentInfo
	var renewal sql.NullTime
	if err := row.Scan(&info.RegNo, &info.Name, &info.ClassName, &info.Department, &info.Faculty, &info.PassportURL, &renewal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.StudentInfo{}, fmt.Errorf("student %s: %w", regNo, ErrNotFound)
		}
		return model.StudentInfo{}, err
	}
	if renewal.Valid {
		info.RenewalDate = &renewal.Time
	}
	return info, nil
}

// Photo returns the stored passport bytes.
func (s *Store) Photo(ctx context.Context, regNo string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT photo FROM students WHERE reg_no = $1`, regNo)
	var photo []byte
	if err := row.Scan(&photo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("student %s: %w", regNo, ErrNotFound)
		}
		return nil, err
	}
	if len(photo) == 0 {
		return nil, fmt.Errorf("photo for %s: %w", regNo, ErrNotFound)
	}
	return photo, nil
}

// EnrollmentStatus reports the finger count on file.
func (s *Store) EnrollmentStatus(ctx context.Context, regNo string) (model.EnrollmentStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fingerprint_templates WHERE reg_no = $1
	`, regNo)
	var count int
	if err := row.Scan(&count); err != nil {
		return model.EnrollmentStatus{}, err
	}
	return model.EnrollmentStatus{RegNo: regNo, FingerCount: count, Enrolled: count >= 2}, nil
}

// UpsertEnrollment stores one batch submission inside a transaction.
func (s *Store) UpsertEnrollment(ctx context.Context, req model.EnrollmentRequest) error {
	if req.RegNo == "" {
		return errors.New("registration number required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO students (reg_no, name, class_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (reg_no) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE students.name END,
			class_name = CASE WHEN EXCLUDED.class_name <> '' THEN EXCLUDED.class_name ELSE students.class_name END,
			updated_at = NOW()
	`, req.RegNo, req.Name, req.ClassName); err != nil {
		return err
	}

	for _, tpl := range req.Templates {
		if len(tpl.Template) == 0 {
			continue
		}
		if tpl.FingerIndex < 1 || tpl.FingerIndex > 10 {
			return fmt.Errorf("finger index %d out of range", tpl.FingerIndex)
		}
		capturedAt := tpl.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = s.clock().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fingerprint_templates (reg_no, finger_index, finger_name, template, image_preview, captured_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (reg_no, finger_index) DO UPDATE SET
				finger_name = EXCLUDED.finger_name,
				template = EXCLUDED.template,
				image_preview = EXCLUDED.image_preview,
				captured_at = EXCLUDED.captured_at
		`, req.RegNo, tpl.FingerIndex, model.NormalizeFingerName(tpl.FingerName), tpl.Template, tpl.ImagePath, capturedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// TemplateRecord is one row of the full template listing.
type TemplateRecord struct {
	RegNo        string
	FingerIndex  int
	FingerName   string
	Template     []byte
	ImagePreview string
	CapturedAt   time.Time
}

// ListTemplates returns every stored template ordered by student.
func (s *Store) ListTemplates(ctx context.Context) ([]TemplateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reg_no, finger_index, finger_name, template, image_preview, captured_at
		FROM fingerprint_templates
		ORDER BY reg_no, finger_index
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TemplateRecord
	for rows.Next() {
		var record TemplateRecord
		if err := rows.Scan(&record.RegNo, &record.FingerIndex, &record.FingerName, &record.Template, &record.ImagePreview, &record.CapturedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CachedTemplates flattens templates joined with student names for
// server-side matching.
func (s *Store) CachedTemplates(ctx context.Context) ([]model.CachedTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.reg_no, COALESCE(st.name, ''), t.finger_index, t.finger_name, t.template
		FROM fingerprint_templates t
		LEFT JOIN students st ON st.reg_no = t.reg_no
		ORDER BY t.reg_no, t.finger_index
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cached []model.CachedTemplate
	for rows.Next() {
		var entry model.CachedTemplate
		if err := rows.Scan(&entry.RegNo, &entry.StudentName, &entry.FingerIndex, &entry.FingerName, &entry.Template); err != nil {
			return nil, err
		}
		cached = append(cached, entry)
	}
	return cached, rows.Err()
}

// ClockIn opens today's record unless one is already open; the flag
// reports the duplicate.
func (s *Store) ClockIn(ctx context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error) {
	if at.IsZero() {
		at = s.clock().UTC()
	}
	date := at.Format("2006-01-02")

	existing, err := s.openRecord(ctx, regNo, date)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.AttendanceRecord{}, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (reg_no, date, time_in, device_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, regNo, date, at, deviceID)
	record := model.AttendanceRecord{RegNo: regNo, Date: date, TimeIn: &at, DeviceID: deviceID, Synced: true}
	if err := row.Scan(&record.ID); err != nil {
		return model.AttendanceRecord{}, false, err
	}
	return record, false, nil
}

// ClockOut closes the most recent open record for today; the flag reports
// that none existed.
func (s *Store) ClockOut(ctx context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error) {
	if at.IsZero() {
		at = s.clock().UTC()
	}
	date := at.Format("2006-01-02")

	open, err := s.openRecord(ctx, regNo, date)
	if errors.Is(err, ErrNotFound) {
		return model.AttendanceRecord{}, true, nil
	}
	if err != nil {
		return model.AttendanceRecord{}, false, err
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE attendance_records SET time_out = $2 WHERE id = $1
	`, open.ID, at); err != nil {
		return model.AttendanceRecord{}, false, err
	}
	open.TimeOut = &at
	if deviceID != "" {
		open.DeviceID = deviceID
	}
	return open, false, nil
}

func (s *Store) openRecord(ctx context.Context, regNo, date string) (model.AttendanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, reg_no, date::text, time_in, time_out, device_id, synced
		FROM attendance_records
		WHERE reg_no = $1 AND date = $2 AND time_out IS NULL
		ORDER BY time_in DESC
		LIMIT 1
	`, regNo, date)
	record, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AttendanceRecord{}, fmt.Errorf("open record for %s on %s: %w", regNo, date, ErrNotFound)
	}
	return record, err
}

// AttendanceRange lists records between inclusive date bounds, newest
// first, optionally filtered by registration number, with student names
// joined in.
func (s *Store) AttendanceRange(ctx context.Context, from, to time.Time, regNo string) ([]model.AttendanceRecord, error) {
	query := `
		SELECT a.id, a.reg_no, a.date::text, a.time_in, a.time_out, a.device_id, a.synced,
			COALESCE(st.name, ''), COALESCE(st.class_name, '')
		FROM attendance_records a
		LEFT JOIN students st ON st.reg_no = a.reg_no
		WHERE a.date >= $1 AND a.date <= $2`
	args := []any{from.Format("2006-01-02"), to.Format("2006-01-02")}
	if regNo != "" {
		query += " AND a.reg_no = $3"
		args = append(args, regNo)
	}
	query += " ORDER BY a.date DESC, a.time_in DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		var record model.AttendanceRecord
		var timeIn, timeOut sql.NullTime
		if err := rows.Scan(&record.ID, &record.RegNo, &record.Date, &timeIn, &timeOut, &record.DeviceID, &record.Synced, &record.Name, &record.ClassName); err != nil {
			return nil, err
		}
		if timeIn.Valid {
			record.TimeIn = &timeIn.Time
		}
		if timeOut.Valid {
			record.TimeOut = &timeOut.Time
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row rowScanner) (model.AttendanceRecord, error) {
	var record model.AttendanceRecord
	var timeIn, timeOut sql.NullTime
	if err := row.Scan(&record.ID, &record.RegNo, &record.Date, &timeIn, &timeOut, &record.DeviceID, &record.Synced); err != nil {
		return model.AttendanceRecord{}, err
	}
	if timeIn.Valid {
		record.TimeIn = &timeIn.Time
	}
	if timeOut.Valid {
		record.TimeOut = &timeOut.Time
	}
	return record, nil
}
