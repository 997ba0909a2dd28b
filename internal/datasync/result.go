package datasync

import (
	"time"

	"github.com/campuskit/attendance/internal/model"
)

// Failure codes carried by tagged results. Expected failure modes are
// reported through these rather than raised as errors, so callers always
// receive a usable result.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeNetwork        = "NETWORK"
	CodeValidation     = "VALIDATION"
	CodeNotRecognized  = "NOT_RECOGNIZED"
	CodeOffline        = "OFFLINE"
	CodeSyncInProgress = "SYNC_IN_PROGRESS"
	CodeInternal       = "INTERNAL"
)

// StudentResult is the tagged outcome of a student lookup.
type StudentResult struct {
	Success bool
	Code    string
	Message string
	Student model.StudentInfo
}

// PhotoResult is the tagged outcome of a photo fetch.
type PhotoResult struct {
	Success bool
	Code    string
	Message string
	Photo   []byte
}

// StatusResult is the tagged outcome of an enrollment-status fetch.
type StatusResult struct {
	Success bool
	Code    string
	Message string
	Status  model.EnrollmentStatus
}

// AttendanceResult is the tagged outcome of an attendance query.
type AttendanceResult struct {
	Success bool
	Code    string
	Message string
	Records []model.AttendanceRecord
}

// EnrollResult is the tagged outcome of an enrollment submission.
type EnrollResult struct {
	Success       bool
	Code          string
	Message       string
	SavedLocally  bool
	SavedRemotely bool
	QueuedForSync bool
}

// ClockResult is the tagged outcome of a clock-in or clock-out.
type ClockResult struct {
	Success          bool
	Code             string
	Message          string
	RegNo            string
	StudentName      string
	Record           model.AttendanceRecord
	AlreadyClockedIn bool
	NotClockedIn     bool
	Duration         time.Duration
	MatchScore       int
	FAR              float64
	// Offline reports that the write landed locally and awaits replay.
	Offline bool
}

// SyncOutcome summarizes one pending-queue flush.
type SyncOutcome struct {
	Success bool
	Message string
	Synced  int
	Failed  int
}

// MatchResult is the outcome of identifying a sample against the cached
// template set.
type MatchResult struct {
	Success     bool
	Code        string
	Message     string
	RegNo       string
	StudentName string
	FingerIndex int
	Score       int
	FAR         float64
}

// SyncStats summarizes one template sync cycle.
type SyncStats struct {
	Success       bool
	Code          string
	Message       string
	New           int
	Updated       int
	Skipped       int
	StudentCount  int
	TemplateCount int
	LastSync      time.Time
}
