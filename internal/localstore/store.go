// Package localstore is the sqlite-backed relational store used by the
// desktop side: cached students, fingerprint templates, attendance records
// and the pending-sync queue.
package localstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campuskit/attendance/internal/model"
)

const dateLayout = "2006-01-02"

// ErrNotFound marks a normal data-absent outcome (student, template or
// attendance record missing).
var ErrNotFound = errors.New("record not found")

// Store wraps the sqlite database. Safe for concurrent use; the driver is
// limited to a single open connection.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  func() time.Time
}

// Options tune store construction.
type Options struct {
	Logger *zap.Logger
	Clock  func() time.Time
}

// Open establishes the sqlite connection and migrates the schema.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Student{}, &TemplateRow{}, &AttendanceRow{}, &PendingSyncRow{}); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	logger.Info("local store initialized", zap.String("path", path))
	return &Store{db: db, logger: logger, clock: clock}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Student returns the cached student snapshot for a registration number.
func (s *Store) Student(ctx context.Context, regNo string) (model.StudentInfo, error) {
	var row Student
	err := s.db.WithContext(ctx).Where("reg_no = ?", regNo).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.StudentInfo{}, fmt.Errorf("student %s: %w", regNo, ErrNotFound)
	}
	if err != nil {
		return model.StudentInfo{}, err
	}
	return studentInfo(row), nil
}

// Photo returns the stored passport bytes for a registration number.
func (s *Store) Photo(ctx context.Context, regNo string) ([]byte, error) {
	student, err := s.Student(ctx, regNo)
	if err != nil {
		return nil, err
	}
	if len(student.Photo) == 0 {
		return nil, fmt.Errorf("photo for %s: %w", regNo, ErrNotFound)
	}
	return student.Photo, nil
}

// SaveStudent caches a student snapshot fetched from the remote side.
func (s *Store) SaveStudent(ctx context.Context, info model.StudentInfo) error {
	row := Student{
		RegNo:       info.RegNo,
		Name:        info.Name,
		ClassName:   info.ClassName,
		Department:  info.Department,
		Faculty:     info.Faculty,
		Photo:       info.Photo,
		PassportURL: info.PassportURL,
		RenewalDate: info.RenewalDate,
		UpdatedAt:   s.clock().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "reg_no"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "class_name", "department", "faculty", "photo", "passport_url", "renewal_date", "updated_at",
		}),
	}).Create(&row).Error
}

// EnsureStudent inserts a minimal student row when none exists yet.
func (s *Store) EnsureStudent(ctx context.Context, regNo, name, className string) error {
	row := Student{
		RegNo:      regNo,
		Name:       name,
		ClassName:  className,
		EnrollMask: emptyMask(),
		UpdatedAt:  s.clock().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reg_no"}},
		DoNothing: true,
	}).Create(&row).Error
}

// EnrollmentStatus reports the finger count on file; two or more fingers
// count as enrolled.
func (s *Store) EnrollmentStatus(ctx context.Context, regNo string) (model.EnrollmentStatus, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&TemplateRow{}).
		Where("reg_no = ?", regNo).
		Count(&count).Error
	if err != nil {
		return model.EnrollmentStatus{}, err
	}
	return model.EnrollmentStatus{
		RegNo:       regNo,
		FingerCount: int(count),
		Enrolled:    count >= 2,
	}, nil
}

// UpsertEnrollment stores one batch submission: the student row, one
// template row per finger, and the refreshed enrollment bitmask.
func (s *Store) UpsertEnrollment(ctx context.Context, req model.EnrollmentRequest) error {
	if req.RegNo == "" {
		return fmt.Errorf("registration number is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		student := Student{
			RegNo:      req.RegNo,
			Name:       req.Name,
			ClassName:  req.ClassName,
			EnrollMask: emptyMask(),
			UpdatedAt:  s.clock().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reg_no"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "class_name", "updated_at"}),
		}).Create(&student).Error; err != nil {
			return err
		}

		for _, tpl := range req.Templates {
			if len(tpl.Template) == 0 {
				continue
			}
			if tpl.FingerIndex < 1 || tpl.FingerIndex > 10 {
				return fmt.Errorf("finger index %d out of range", tpl.FingerIndex)
			}
			if err := upsertTemplateRow(tx, req.RegNo, tpl, ""); err != nil {
				return err
			}
		}

		return refreshEnrollMask(tx, req.RegNo)
	})
}

// UpsertTemplate writes one template row with its content digest, used by
// the incremental sync to apply a new or changed template.
func (s *Store) UpsertTemplate(ctx context.Context, regNo string, tpl model.FingerprintTemplate, digest string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertTemplateRow(tx, regNo, tpl, digest); err != nil {
			return err
		}
		return refreshEnrollMask(tx, regNo)
	})
}

func upsertTemplateRow(tx *gorm.DB, regNo string, tpl model.FingerprintTemplate, digest string) error {
	name := tpl.FingerName
	if name == "" {
		canonical, err := model.FingerName(tpl.FingerIndex)
		if err != nil {
			return err
		}
		name = canonical
	}
	capturedAt := tpl.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	row := TemplateRow{
		RegNo:       regNo,
		FingerIndex: tpl.FingerIndex,
		FingerName:  model.NormalizeFingerName(name),
		Template:    tpl.Template,
		TemplateB64: base64.StdEncoding.EncodeToString(tpl.Template),
		Digest:      digest,
		ImagePath:   tpl.ImagePath,
		CapturedAt:  capturedAt,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "reg_no"}, {Name: "finger_index"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"finger_name", "template", "template_b64", "digest", "image_path", "captured_at",
		}),
	}).Create(&row).Error
}

func refreshEnrollMask(tx *gorm.DB, regNo string) error {
	var indexes []int
	if err := tx.Model(&TemplateRow{}).
		Where("reg_no = ?", regNo).
		Pluck("finger_index", &indexes).Error; err != nil {
		return err
	}
	mask := []byte(emptyMask())
	for _, idx := range indexes {
		if idx >= 1 && idx <= 10 {
			mask[idx-1] = '1'
		}
	}
	return tx.Model(&Student{}).
		Where("reg_no = ?", regNo).
		Update("enroll_mask", string(mask)).Error
}

func emptyMask() string {
	return strings.Repeat("0", 10)
}

// ListEnrollments returns every stored template grouped by registration
// number, skipping empty slots. It always reads locally so fingerprint
// matching keeps working offline.
func (s *Store) ListEnrollments(ctx context.Context) ([]model.StudentTemplates, error) {
	var rows []TemplateRow
	if err := s.db.WithContext(ctx).
		Order("reg_no ASC, finger_index ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	grouped := map[string][]model.FingerprintTemplate{}
	for _, row := range rows {
		if len(row.Template) == 0 {
			continue
		}
		grouped[row.RegNo] = append(grouped[row.RegNo], model.FingerprintTemplate{
			FingerIndex: row.FingerIndex,
			FingerName:  row.FingerName,
			Template:    row.Template,
			ImagePath:   row.ImagePath,
			CapturedAt:  row.CapturedAt,
		})
	}

	regNos := make([]string, 0, len(grouped))
	for regNo := range grouped {
		regNos = append(regNos, regNo)
	}
	sort.Strings(regNos)

	result := make([]model.StudentTemplates, 0, len(regNos))
	for _, regNo := range regNos {
		result = append(result, model.StudentTemplates{RegNo: regNo, Templates: grouped[regNo]})
	}
	return result, nil
}

// TemplateDigests rebuilds the hash table: composite key to hex digest.
func (s *Store) TemplateDigests(ctx context.Context) (map[string]string, error) {
	var rows []TemplateRow
	if err := s.db.WithContext(ctx).
		Select("reg_no", "finger_index", "digest").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	digests := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Digest == "" {
			continue
		}
		digests[model.HashKey(row.RegNo, row.FingerIndex)] = row.Digest
	}
	return digests, nil
}

// CachedTemplates rebuilds the flattened match cache by joining template
// rows with student names.
func (s *Store) CachedTemplates(ctx context.Context) ([]model.CachedTemplate, error) {
	var rows []struct {
		RegNo       string
		FingerIndex int
		FingerName  string
		Template    []byte
		StudentName string
	}
	err := s.db.WithContext(ctx).Model(&TemplateRow{}).
		Select("fingerprint_templates.reg_no", "fingerprint_templates.finger_index",
			"fingerprint_templates.finger_name", "fingerprint_templates.template",
			"students.name AS student_name").
		Joins("LEFT JOIN students ON students.reg_no = fingerprint_templates.reg_no").
		Order("fingerprint_templates.reg_no ASC, fingerprint_templates.finger_index ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	cached := make([]model.CachedTemplate, 0, len(rows))
	for _, row := range rows {
		if len(row.Template) == 0 {
			continue
		}
		cached = append(cached, model.CachedTemplate{
			RegNo:       row.RegNo,
			StudentName: row.StudentName,
			FingerIndex: row.FingerIndex,
			FingerName:  row.FingerName,
			Template:    row.Template,
		})
	}
	return cached, nil
}

// ClockIn opens an attendance record for today unless one is already open
// for the registration number; the returned flag reports the duplicate.
func (s *Store) ClockIn(ctx context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error) {
	if at.IsZero() {
		at = s.clock().UTC()
	}
	date := at.Format(dateLayout)

	var record model.AttendanceRecord
	alreadyIn := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open AttendanceRow
		err := tx.Where("reg_no = ? AND date = ? AND time_out IS NULL", regNo, date).
			Order("time_in DESC").
			Take(&open).Error
		if err == nil {
			alreadyIn = true
			record = attendanceRecord(open)
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		timeIn := at
		row := AttendanceRow{
			RegNo:    regNo,
			Date:     date,
			TimeIn:   &timeIn,
			DeviceID: deviceID,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		record = attendanceRecord(row)
		return nil
	})
	if err != nil {
		return model.AttendanceRecord{}, false, err
	}
	return record, alreadyIn, nil
}

// ClockOut closes the most recent open record for today; the returned flag
// reports that no open record existed.
func (s *Store) ClockOut(ctx context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error) {
	if at.IsZero() {
		at = s.clock().UTC()
	}
	date := at.Format(dateLayout)

	var record model.AttendanceRecord
	notIn := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open AttendanceRow
		err := tx.Where("reg_no = ? AND date = ? AND time_out IS NULL", regNo, date).
			Order("time_in DESC").
			Take(&open).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			notIn = true
			return nil
		}
		if err != nil {
			return err
		}

		timeOut := at
		open.TimeOut = &timeOut
		if deviceID != "" {
			open.DeviceID = deviceID
		}
		if err := tx.Save(&open).Error; err != nil {
			return err
		}
		record = attendanceRecord(open)
		return nil
	})
	if err != nil {
		return model.AttendanceRecord{}, false, err
	}
	return record, notIn, nil
}

// AttendanceRange lists records between the inclusive date bounds, newest
// first, optionally filtered by registration number.
func (s *Store) AttendanceRange(ctx context.Context, from, to time.Time, regNo string) ([]model.AttendanceRecord, error) {
	query := s.db.WithContext(ctx).Model(&AttendanceRow{}).
		Where("date >= ? AND date <= ?", from.Format(dateLayout), to.Format(dateLayout))
	if regNo != "" {
		query = query.Where("reg_no = ?", regNo)
	}

	var rows []AttendanceRow
	if err := query.Order("date DESC, time_in DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]model.AttendanceRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, attendanceRecord(row))
	}
	return records, nil
}

// InsertPending appends one deferred write and returns its identity, so
// callers can delete exactly this record after an immediate replay.
func (s *Store) InsertPending(ctx context.Context, op model.OperationType, payload []byte) (int64, error) {
	row := PendingSyncRow{
		Operation: string(op),
		Payload:   string(payload),
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// ListPending returns replayable records (retry count below the ceiling),
// oldest first.
func (s *Store) ListPending(ctx context.Context) ([]model.PendingSyncRecord, error) {
	var rows []PendingSyncRow
	err := s.db.WithContext(ctx).
		Where("retry_count < ?", model.MaxPendingRetries).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]model.PendingSyncRecord, 0, len(rows))
	for _, row := range rows {
		op, err := model.ParseOperationType(row.Operation)
		if err != nil {
			s.logger.Warn("skipping pending record with unknown operation",
				zap.Int64("id", row.ID), zap.String("operation", row.Operation))
			continue
		}
		records = append(records, model.PendingSyncRecord{
			ID:         row.ID,
			Operation:  op,
			Payload:    []byte(row.Payload),
			CreatedAt:  row.CreatedAt,
			RetryCount: row.RetryCount,
			LastError:  row.LastError,
		})
	}
	return records, nil
}

// DeletePending removes a replayed record.
func (s *Store) DeletePending(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&PendingSyncRow{}, id).Error
}

// MarkPendingFailed increments the retry counter and stores the error text.
func (s *Store) MarkPendingFailed(ctx context.Context, id int64, errText string) error {
	return s.db.WithContext(ctx).Model(&PendingSyncRow{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  errText,
		}).Error
}

// PendingCount reports how many records still await replay.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&PendingSyncRow{}).
		Where("retry_count < ?", model.MaxPendingRetries).
		Count(&count).Error
	return int(count), err
}

func studentInfo(row Student) model.StudentInfo {
	return model.StudentInfo{
		RegNo:       row.RegNo,
		Name:        row.Name,
		ClassName:   row.ClassName,
		Department:  row.Department,
		Faculty:     row.Faculty,
		Photo:       row.Photo,
		PassportURL: row.PassportURL,
		RenewalDate: row.RenewalDate,
	}
}

func attendanceRecord(row AttendanceRow) model.AttendanceRecord {
	return model.AttendanceRecord{
		ID:       row.ID,
		RegNo:    row.RegNo,
		Date:     row.Date,
		TimeIn:   row.TimeIn,
		TimeOut:  row.TimeOut,
		DeviceID: row.DeviceID,
		Synced:   row.Synced,
	}
}
