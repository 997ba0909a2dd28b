package localstore

import "time"

// Student is the locally cached student row. EnrollMask is a ten-character
// bitmask, one character per finger index, kept in step with the template
// rows on every enrollment write.
type Student struct {
	RegNo       string     `gorm:"column:reg_no;primaryKey;size:64"`
	Name        string     `gorm:"column:name;size:190"`
	ClassName   string     `gorm:"column:class_name;size:190"`
	Department  string     `gorm:"column:department;size:190"`
	Faculty     string     `gorm:"column:faculty;size:190"`
	Photo       []byte     `gorm:"column:photo"`
	PassportURL string     `gorm:"column:passport_url;size:512"`
	RenewalDate *time.Time `gorm:"column:renewal_date"`
	EnrollMask  string     `gorm:"column:enroll_mask;size:10;not null;default:0000000000"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Student) TableName() string {
	return "students"
}

// TemplateRow stores one fingerprint template per (reg_no, finger_index).
// TemplateB64 mirrors the blob for export paths; Digest is the hex SHA-256
// of the template bytes used by the incremental sync skip.
type TemplateRow struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RegNo       string    `gorm:"column:reg_no;size:64;not null;uniqueIndex:idx_template_finger,priority:1"`
	FingerIndex int       `gorm:"column:finger_index;not null;uniqueIndex:idx_template_finger,priority:2"`
	FingerName  string    `gorm:"column:finger_name;size:32;not null"`
	Template    []byte    `gorm:"column:template;not null"`
	TemplateB64 string    `gorm:"column:template_b64;type:text"`
	Digest      string    `gorm:"column:digest;size:64;not null"`
	ImagePath   string    `gorm:"column:image_path;size:512"`
	CapturedAt  time.Time `gorm:"column:captured_at"`
}

// TableName provides the explicit table binding for GORM.
func (TemplateRow) TableName() string {
	return "fingerprint_templates"
}

// AttendanceRow is one clock-in/clock-out record. TimeOut stays nil while
// the record is open; at most one open row exists per (reg_no, date).
type AttendanceRow struct {
	ID       int64      `gorm:"column:id;primaryKey;autoIncrement"`
	RegNo    string     `gorm:"column:reg_no;size:64;not null;index:idx_attendance_day,priority:1"`
	Date     string     `gorm:"column:date;size:10;not null;index:idx_attendance_day,priority:2"`
	TimeIn   *time.Time `gorm:"column:time_in"`
	TimeOut  *time.Time `gorm:"column:time_out"`
	DeviceID string     `gorm:"column:device_id;size:64"`
	Synced   bool       `gorm:"column:synced;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (AttendanceRow) TableName() string {
	return "attendance_records"
}

// PendingSyncRow is a deferred write awaiting replay against the remote
// API. Rows whose RetryCount reaches the ceiling are excluded from replay.
type PendingSyncRow struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Operation  string    `gorm:"column:operation;size:32;not null"`
	Payload    string    `gorm:"column:payload;type:text;not null"`
	RetryCount int       `gorm:"column:retry_count;not null;default:0"`
	LastError  string    `gorm:"column:last_error;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (PendingSyncRow) TableName() string {
	return "pending_sync"
}
