package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxPendingRetries is the ceiling after which a pending record is no
// longer offered for replay.
const MaxPendingRetries = 5

var errUnknownFingerIndex = errors.New("finger index must be between 1 and 10")

// fingerNames maps finger index 1-10 onto the canonical finger labels.
var fingerNames = [10]string{
	"right-thumb",
	"right-index",
	"right-middle",
	"right-ring",
	"right-little",
	"left-thumb",
	"left-index",
	"left-middle",
	"left-ring",
	"left-little",
}

// FingerName returns the canonical lowercase-hyphenated label for the
// given finger index.
func FingerName(index int) (string, error) {
	if index < 1 || index > 10 {
		return "", errUnknownFingerIndex
	}
	return fingerNames[index-1], nil
}

// FingerIndex resolves a finger label back to its 1-10 index. Labels are
// normalized before lookup, so "Right Thumb" and "right-thumb" both match.
func FingerIndex(name string) (int, error) {
	normalized := NormalizeFingerName(name)
	for i, candidate := range fingerNames {
		if candidate == normalized {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("unknown finger name %q", name)
}

// NormalizeFingerName lowercases a finger label and collapses separators
// to single hyphens.
func NormalizeFingerName(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	lowered = strings.ReplaceAll(lowered, "_", " ")
	lowered = strings.ReplaceAll(lowered, "-", " ")
	return strings.Join(strings.Fields(lowered), "-")
}

// StudentInfo is an immutable snapshot of one student record as returned
// by lookups. The sync core never mutates it.
type StudentInfo struct {
	RegNo       string     `json:"regNo"`
	Name        string     `json:"name"`
	ClassName   string     `json:"className"`
	Department  string     `json:"department,omitempty"`
	Faculty     string     `json:"faculty,omitempty"`
	PassportURL string     `json:"passportUrl,omitempty"`
	Photo       []byte     `json:"photo,omitempty"`
	RenewalDate *time.Time `json:"renewalDate,omitempty"`
}

// FingerprintTemplate is one enrolled template for a single finger.
type FingerprintTemplate struct {
	FingerIndex int       `json:"fingerIndex"`
	FingerName  string    `json:"fingerName"`
	Template    []byte    `json:"template"`
	ImagePath   string    `json:"imagePath,omitempty"`
	CapturedAt  time.Time `json:"capturedAt"`
}

// EnrollmentStatus reports how many fingers a student has on file. A
// student counts as enrolled once at least two fingers are stored.
type EnrollmentStatus struct {
	RegNo       string `json:"regNo"`
	FingerCount int    `json:"fingerCount"`
	Enrolled    bool   `json:"enrolled"`
}

// EnrollmentRequest is one batch enrollment submission.
type EnrollmentRequest struct {
	RegNo      string                `json:"regNo"`
	Name       string                `json:"name"`
	ClassName  string                `json:"className"`
	Templates  []FingerprintTemplate `json:"templates"`
	EnrolledAt time.Time             `json:"enrolledAt"`
}

// ClockInRequest carries a captured fingerprint sample for server-side
// matching.
type ClockInRequest struct {
	Sample    []byte    `json:"sample"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"deviceId,omitempty"`
}

// ClockOutRequest mirrors ClockInRequest for the closing event.
type ClockOutRequest struct {
	Sample    []byte    `json:"sample"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"deviceId,omitempty"`
}

// VerifiedClockRequest carries an already-resolved registration number
// plus the local match confidence. Used when matching happened against
// the local template cache, bypassing server-side matching.
type VerifiedClockRequest struct {
	RegNo      string    `json:"regNo"`
	MatchScore int       `json:"matchScore"`
	FAR        float64   `json:"far"`
	Timestamp  time.Time `json:"timestamp"`
	DeviceID   string    `json:"deviceId,omitempty"`
}

// AttendanceRecord is one clock-in/clock-out row. TimeOut is nil while
// the record is open; Duration derives from TimeOut minus TimeIn.
type AttendanceRecord struct {
	ID        int64      `json:"id"`
	RegNo     string     `json:"regNo"`
	Name      string     `json:"name,omitempty"`
	ClassName string     `json:"className,omitempty"`
	Date      string     `json:"date"`
	TimeIn    *time.Time `json:"timeIn,omitempty"`
	TimeOut   *time.Time `json:"timeOut,omitempty"`
	DeviceID  string     `json:"deviceId,omitempty"`
	Synced    bool       `json:"synced"`
}

// Duration returns the closed interval length, or zero while the record
// is still open.
func (r AttendanceRecord) Duration() time.Duration {
	if r.TimeIn == nil || r.TimeOut == nil {
		return 0
	}
	return r.TimeOut.Sub(*r.TimeIn)
}

// Open reports whether the record still awaits its clock-out.
func (r AttendanceRecord) Open() bool {
	return r.TimeIn != nil && r.TimeOut == nil
}

// OperationType tags a deferred write awaiting replay.
type OperationType string

const (
	OperationEnrollment OperationType = "Enrollment"
	OperationClockIn    OperationType = "ClockIn"
	OperationClockOut   OperationType = "ClockOut"
)

// ParseOperationType validates a stored operation tag.
func ParseOperationType(raw string) (OperationType, error) {
	switch OperationType(raw) {
	case OperationEnrollment, OperationClockIn, OperationClockOut:
		return OperationType(raw), nil
	}
	return "", fmt.Errorf("unknown pending operation type %q", raw)
}

// PendingSyncRecord is a deferred write operation awaiting replay against
// the remote API.
type PendingSyncRecord struct {
	ID         int64           `json:"id"`
	Operation  OperationType   `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
}

// CachedTemplate is one flattened entry of the local match cache: a
// template joined with the owning student's name.
type CachedTemplate struct {
	RegNo       string
	StudentName string
	FingerIndex int
	FingerName  string
	Template    []byte
}

// StudentTemplates groups the remote snapshot entries for one student.
type StudentTemplates struct {
	RegNo     string
	Templates []FingerprintTemplate
}

// HashKey builds the composite key used by the template hash table.
func HashKey(regNo string, fingerIndex int) string {
	return fmt.Sprintf("%s:%d", regNo, fingerIndex)
}
