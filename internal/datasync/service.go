package datasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/attendance/internal/localstore"
	"github.com/campuskit/attendance/internal/model"
	"github.com/campuskit/attendance/internal/remote"
)

const (
	opStudent     = "data.student"
	opPhoto       = "data.photo"
	opStatus      = "data.enrollment_status"
	opAttendance  = "data.attendance"
	opEnroll      = "data.enroll"
	opClockIn     = "data.clock_in"
	opClockOut    = "data.clock_out"
	opSyncPending = "data.sync_pending"

	msgSavedLocally = "saved locally; will sync when the server is reachable"
)

// LocalStore is the slice of the sqlite store the data service routes to.
type LocalStore interface {
	Student(ctx context.Context, regNo string) (model.StudentInfo, error)
	Photo(ctx context.Context, regNo string) ([]byte, error)
	SaveStudent(ctx context.Context, info model.StudentInfo) error
	EnrollmentStatus(ctx context.Context, regNo string) (model.EnrollmentStatus, error)
	UpsertEnrollment(ctx context.Context, req model.EnrollmentRequest) error
	ListEnrollments(ctx context.Context) ([]model.StudentTemplates, error)
	ClockIn(ctx context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error)
	ClockOut(ctx context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error)
	AttendanceRange(ctx context.Context, from, to time.Time, regNo string) ([]model.AttendanceRecord, error)
	InsertPending(ctx context.Context, op model.OperationType, payload []byte) (int64, error)
	ListPending(ctx context.Context) ([]model.PendingSyncRecord, error)
	DeletePending(ctx context.Context, id int64) error
	MarkPendingFailed(ctx context.Context, id int64, errText string) error
	PendingCount(ctx context.Context) (int, error)
}

// RemoteAPI is the slice of the HTTP client the data service routes to.
type RemoteAPI interface {
	Health(ctx context.Context) error
	Student(ctx context.Context, regNo string) (model.StudentInfo, error)
	Photo(ctx context.Context, regNo string) ([]byte, error)
	EnrollmentStatus(ctx context.Context, regNo string) (model.EnrollmentStatus, error)
	SubmitEnrollment(ctx context.Context, req model.EnrollmentRequest) error
	ClockIn(ctx context.Context, req model.ClockInRequest) (remote.ClockResponse, error)
	ClockOut(ctx context.Context, req model.ClockOutRequest) (remote.ClockResponse, error)
	ClockInVerified(ctx context.Context, req model.VerifiedClockRequest) (remote.ClockResponse, error)
	ClockOutVerified(ctx context.Context, req model.VerifiedClockRequest) (remote.ClockResponse, error)
	AttendanceRange(ctx context.Context, from, to time.Time, regNo string) ([]model.AttendanceRecord, error)
}

// Authenticator resolves a captured sample to a registration number using
// the local template cache.
type Authenticator interface {
	Authenticate(ctx context.Context, sample []byte) MatchResult
}

// ServiceConfig wires the mode-routing data service.
type ServiceConfig struct {
	Mode          Mode
	Local         LocalStore
	Remote        RemoteAPI
	Authenticator Authenticator
	Logger        *zap.Logger
	Clock         func() time.Time
}

// Service presents one read/write API regardless of the configured mode
// and owns the online flag plus the pending-sync queue. Expected failures
// come back as tagged results; provider errors never propagate raw.
type Service struct {
	mode   Mode
	local  LocalStore
	remote RemoteAPI
	auth   Authenticator
	logger *zap.Logger
	clock  func() time.Time

	online atomic.Bool
}

// NewService validates the wiring and builds a data service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if cfg.Remote == nil && cfg.Mode != OfflineOnly {
		return nil, fmt.Errorf("remote client is required for mode %s", cfg.Mode)
	}
	if cfg.Authenticator == nil && cfg.Mode != OnlineOnly {
		return nil, fmt.Errorf("authenticator is required for mode %s", cfg.Mode)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	service := &Service{
		mode:   cfg.Mode,
		local:  cfg.Local,
		remote: cfg.Remote,
		auth:   cfg.Authenticator,
		logger: logger,
		clock:  clock,
	}
	// Hybrid modes start optimistic; the status probe corrects the flag.
	service.online.Store(cfg.Mode != OfflineOnly)
	return service, nil
}

// Mode returns the configured consistency mode.
func (s *Service) Mode() Mode {
	return s.mode
}

// IsOnline reports the last observed reachability of the remote API.
func (s *Service) IsOnline() bool {
	return s.online.Load()
}

// PendingCount reports how many deferred writes await replay.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	return s.local.PendingCount(ctx)
}

// CheckOnlineStatus probes the remote API and caches the result. In
// offline-only mode it always reports false without a network call.
func (s *Service) CheckOnlineStatus(ctx context.Context) bool {
	if s.mode == OfflineOnly {
		s.online.Store(false)
		return false
	}
	err := s.remote.Health(ctx)
	online := err == nil
	s.online.Store(online)
	if !online {
		s.logger.Debug("health check failed", zap.Error(err))
	}
	return online
}

// Student looks up one student according to the configured mode.
func (s *Service) Student(ctx context.Context, regNo string) StudentResult {
	switch s.mode {
	case OnlineOnly:
		return s.remoteStudent(ctx, regNo)
	case OfflineOnly:
		return s.localStudent(ctx, regNo)
	case OnlineFirst:
		result := s.remoteStudent(ctx, regNo)
		if result.Code == CodeNetwork {
			s.markOffline(opStudent)
			return s.localStudent(ctx, regNo)
		}
		return result
	case OfflineFirst:
		result := s.localStudent(ctx, regNo)
		if !result.Success {
			remoteResult := s.remoteStudent(ctx, regNo)
			if remoteResult.Success {
				// Cache for the next offline lookup; best effort.
				if err := s.local.SaveStudent(ctx, remoteResult.Student); err != nil {
					s.logger.Warn("student cache write failed", zap.String("reg_no", regNo), zap.Error(err))
				}
			}
			return remoteResult
		}
		return result
	}
	return StudentResult{Code: CodeValidation, Message: "unsupported sync mode"}
}

func (s *Service) remoteStudent(ctx context.Context, regNo string) StudentResult {
	student, err := s.remote.Student(ctx, regNo)
	if err != nil {
		return StudentResult{Code: s.remoteCode(err), Message: err.Error()}
	}
	return StudentResult{Success: true, Student: student}
}

func (s *Service) localStudent(ctx context.Context, regNo string) StudentResult {
	student, err := s.local.Student(ctx, regNo)
	if err != nil {
		return StudentResult{Code: localCode(err), Message: err.Error()}
	}
	return StudentResult{Success: true, Student: student}
}

// Photo fetches the passport image according to the configured mode.
func (s *Service) Photo(ctx context.Context, regNo string) PhotoResult {
	fetchRemote := func() PhotoResult {
		photo, err := s.remote.Photo(ctx, regNo)
		if err != nil {
			return PhotoResult{Code: s.remoteCode(err), Message: err.Error()}
		}
		return PhotoResult{Success: true, Photo: photo}
	}
	fetchLocal := func() PhotoResult {
		photo, err := s.local.Photo(ctx, regNo)
		if err != nil {
			return PhotoResult{Code: localCode(err), Message: err.Error()}
		}
		return PhotoResult{Success: true, Photo: photo}
	}

	switch s.mode {
	case OnlineOnly:
		return fetchRemote()
	case OfflineOnly:
		return fetchLocal()
	case OnlineFirst:
		result := fetchRemote()
		if result.Code == CodeNetwork {
			s.markOffline(opPhoto)
			return fetchLocal()
		}
		return result
	case OfflineFirst:
		if result := fetchLocal(); result.Success {
			return result
		}
		return fetchRemote()
	}
	return PhotoResult{Code: CodeValidation, Message: "unsupported sync mode"}
}

// EnrollmentStatus fetches the finger count according to the configured
// mode.
func (s *Service) EnrollmentStatus(ctx context.Context, regNo string) StatusResult {
	fetchRemote := func() StatusResult {
		status, err := s.remote.EnrollmentStatus(ctx, regNo)
		if err != nil {
			return StatusResult{Code: s.remoteCode(err), Message: err.Error()}
		}
		return StatusResult{Success: true, Status: status}
	}
	fetchLocal := func() StatusResult {
		status, err := s.local.EnrollmentStatus(ctx, regNo)
		if err != nil {
			return StatusResult{Code: localCode(err), Message: err.Error()}
		}
		return StatusResult{Success: true, Status: status}
	}

	switch s.mode {
	case OnlineOnly:
		return fetchRemote()
	case OfflineOnly:
		return fetchLocal()
	case OnlineFirst:
		result := fetchRemote()
		if result.Code == CodeNetwork {
			s.markOffline(opStatus)
			return fetchLocal()
		}
		return result
	case OfflineFirst:
		result := fetchLocal()
		// A zero finger count locally may just mean templates have not
		// synced yet, so confirm with the server when possible.
		if !result.Success || result.Status.FingerCount == 0 {
			if remoteResult := fetchRemote(); remoteResult.Success {
				return remoteResult
			}
		}
		return result
	}
	return StatusResult{Code: CodeValidation, Message: "unsupported sync mode"}
}

// Attendance queries recorded attendance according to the configured mode.
func (s *Service) Attendance(ctx context.Context, from, to time.Time, regNo string) AttendanceResult {
	fetchRemote := func() AttendanceResult {
		records, err := s.remote.AttendanceRange(ctx, from, to, regNo)
		if err != nil {
			return AttendanceResult{Code: s.remoteCode(err), Message: err.Error()}
		}
		return AttendanceResult{Success: true, Records: records}
	}
	fetchLocal := func() AttendanceResult {
		records, err := s.local.AttendanceRange(ctx, from, to, regNo)
		if err != nil {
			return AttendanceResult{Code: localCode(err), Message: err.Error()}
		}
		return AttendanceResult{Success: true, Records: records}
	}

	switch s.mode {
	case OnlineOnly:
		return fetchRemote()
	case OfflineOnly:
		return fetchLocal()
	case OnlineFirst:
		result := fetchRemote()
		if result.Code == CodeNetwork {
			s.markOffline(opAttendance)
			return fetchLocal()
		}
		return result
	case OfflineFirst:
		if result := fetchLocal(); result.Success && len(result.Records) > 0 {
			return result
		}
		return fetchRemote()
	}
	return AttendanceResult{Code: CodeValidation, Message: "unsupported sync mode"}
}

// GetAllEnrollments always reads from the local store regardless of mode;
// it exists purely to support local fingerprint matching, which must work
// offline.
func (s *Service) GetAllEnrollments(ctx context.Context) ([]model.StudentTemplates, error) {
	return s.local.ListEnrollments(ctx)
}

// Enroll submits one enrollment batch according to the configured mode.
func (s *Service) Enroll(ctx context.Context, req model.EnrollmentRequest) EnrollResult {
	if req.RegNo == "" || len(req.Templates) == 0 {
		return EnrollResult{Code: CodeValidation, Message: "registration number and at least one template are required"}
	}
	if req.EnrolledAt.IsZero() {
		req.EnrolledAt = s.clock().UTC()
	}

	switch s.mode {
	case OnlineOnly:
		if err := s.remote.SubmitEnrollment(ctx, req); err != nil {
			return EnrollResult{Code: s.remoteCode(err), Message: err.Error()}
		}
		return EnrollResult{Success: true, SavedRemotely: true, Message: "enrollment submitted"}

	case OfflineOnly:
		if err := s.local.UpsertEnrollment(ctx, req); err != nil {
			return EnrollResult{Code: localCode(err), Message: err.Error()}
		}
		return EnrollResult{Success: true, SavedLocally: true, Message: "enrollment saved locally"}

	case OnlineFirst:
		remoteErr := s.remote.SubmitEnrollment(ctx, req)
		// Enrollment always lands locally too, so matching works offline.
		if err := s.local.UpsertEnrollment(ctx, req); err != nil {
			s.logError(opEnroll, "local_write_failed", err)
			if remoteErr == nil {
				return EnrollResult{Success: true, SavedRemotely: true, Message: "enrollment submitted; local cache write failed"}
			}
			return EnrollResult{Code: CodeInternal, Message: err.Error()}
		}
		if remoteErr != nil {
			s.markOffline(opEnroll)
			queued := s.enqueue(ctx, model.OperationEnrollment, req)
			return EnrollResult{
				Success:       true,
				SavedLocally:  true,
				QueuedForSync: queued > 0,
				Code:          CodeOffline,
				Message:       "enrollment " + msgSavedLocally,
			}
		}
		return EnrollResult{Success: true, SavedLocally: true, SavedRemotely: true, Message: "enrollment submitted"}

	case OfflineFirst:
		if err := s.local.UpsertEnrollment(ctx, req); err != nil {
			return EnrollResult{Code: localCode(err), Message: err.Error()}
		}
		pendingID := s.enqueue(ctx, model.OperationEnrollment, req)
		if s.IsOnline() {
			if err := s.remote.SubmitEnrollment(ctx, req); err == nil {
				s.removePending(ctx, pendingID)
				return EnrollResult{Success: true, SavedLocally: true, SavedRemotely: true, Message: "enrollment submitted"}
			}
			s.markOffline(opEnroll)
		}
		return EnrollResult{
			Success:       true,
			SavedLocally:  true,
			QueuedForSync: pendingID > 0,
			Code:          CodeOffline,
			Message:       "enrollment " + msgSavedLocally,
		}
	}
	return EnrollResult{Code: CodeValidation, Message: "unsupported sync mode"}
}

// ClockIn records an attendance opening according to the configured mode.
func (s *Service) ClockIn(ctx context.Context, req model.ClockInRequest) ClockResult {
	if len(req.Sample) == 0 {
		return ClockResult{Code: CodeValidation, Message: "fingerprint sample is required"}
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = s.clock().UTC()
	}

	switch s.mode {
	case OnlineOnly:
		response, err := s.remote.ClockIn(ctx, req)
		if err != nil {
			return ClockResult{Code: s.remoteCode(err), Message: err.Error()}
		}
		return clockResultFromResponse(response)

	case OfflineOnly:
		result, _ := s.localClockIn(ctx, req)
		return result

	case OnlineFirst:
		response, err := s.remote.ClockIn(ctx, req)
		if err == nil {
			return clockResultFromResponse(response)
		}
		if !errors.Is(err, remote.ErrUnavailable) {
			return ClockResult{Code: s.remoteCode(err), Message: err.Error()}
		}
		s.markOffline(opClockIn)
		result, verified := s.localClockIn(ctx, req)
		if result.Success {
			s.enqueue(ctx, model.OperationClockIn, verified)
			result.Offline = true
			result.Message = "clock-in " + msgSavedLocally
		}
		return result

	case OfflineFirst:
		result, verified := s.localClockIn(ctx, req)
		if !result.Success {
			return result
		}
		pendingID := s.enqueue(ctx, model.OperationClockIn, verified)
		if s.IsOnline() {
			if _, err := s.remote.ClockInVerified(ctx, verified); err == nil {
				s.removePending(ctx, pendingID)
				return result
			}
			s.markOffline(opClockIn)
		}
		result.Offline = true
		result.Message = "clock-in " + msgSavedLocally
		return result
	}
	return ClockResult{Code: CodeValidation, Message: "unsupported sync mode"}
}

// ClockOut records an attendance closing according to the configured mode.
func (s *Service) ClockOut(ctx context.Context, req model.ClockOutRequest) ClockResult {
	if len(req.Sample) == 0 {
		return ClockResult{Code: CodeValidation, Message: "fingerprint sample is required"}
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = s.clock().UTC()
	}

	switch s.mode {
	case OnlineOnly:
		response, err := s.remote.ClockOut(ctx, req)
		if err != nil {
			return ClockResult{Code: s.remoteCode(err), Message: err.Error()}
		}
		return clockResultFromResponse(response)

	case OfflineOnly:
		result, _ := s.localClockOut(ctx, req)
		return result

	case OnlineFirst:
		response, err := s.remote.ClockOut(ctx, req)
		if err == nil {
			return clockResultFromResponse(response)
		}
		if !errors.Is(err, remote.ErrUnavailable) {
			return ClockResult{Code: s.remoteCode(err), Message: err.Error()}
		}
		s.markOffline(opClockOut)
		result, verified := s.localClockOut(ctx, req)
		if result.Success {
			s.enqueue(ctx, model.OperationClockOut, verified)
			result.Offline = true
			result.Message = "clock-out " + msgSavedLocally
		}
		return result

	case OfflineFirst:
		result, verified := s.localClockOut(ctx, req)
		if !result.Success {
			return result
		}
		pendingID := s.enqueue(ctx, model.OperationClockOut, verified)
		if s.IsOnline() {
			if _, err := s.remote.ClockOutVerified(ctx, verified); err == nil {
				s.removePending(ctx, pendingID)
				return result
			}
			s.markOffline(opClockOut)
		}
		result.Offline = true
		result.Message = "clock-out " + msgSavedLocally
		return result
	}
	return ClockResult{Code: CodeValidation, Message: "unsupported sync mode"}
}

func (s *Service) localClockIn(ctx context.Context, req model.ClockInRequest) (ClockResult, model.VerifiedClockRequest) {
	match := s.auth.Authenticate(ctx, req.Sample)
	if !match.Success {
		return ClockResult{Code: match.Code, Message: match.Message}, model.VerifiedClockRequest{}
	}

	record, alreadyIn, err := s.local.ClockIn(ctx, match.RegNo, req.Timestamp, req.DeviceID)
	if err != nil {
		s.logError(opClockIn, "local_write_failed", err)
		return ClockResult{Code: CodeInternal, Message: err.Error()}, model.VerifiedClockRequest{}
	}

	verified := model.VerifiedClockRequest{
		RegNo:      match.RegNo,
		MatchScore: match.Score,
		FAR:        match.FAR,
		Timestamp:  req.Timestamp,
		DeviceID:   req.DeviceID,
	}
	result := ClockResult{
		Success:          true,
		RegNo:            match.RegNo,
		StudentName:      match.StudentName,
		Record:           record,
		AlreadyClockedIn: alreadyIn,
		MatchScore:       match.Score,
		FAR:              match.FAR,
		Message:          "clocked in",
	}
	if alreadyIn {
		result.Message = "already clocked in today"
	}
	return result, verified
}

func (s *Service) localClockOut(ctx context.Context, req model.ClockOutRequest) (ClockResult, model.VerifiedClockRequest) {
	match := s.auth.Authenticate(ctx, req.Sample)
	if !match.Success {
		return ClockResult{Code: match.Code, Message: match.Message}, model.VerifiedClockRequest{}
	}

	record, notIn, err := s.local.ClockOut(ctx, match.RegNo, req.Timestamp, req.DeviceID)
	if err != nil {
		s.logError(opClockOut, "local_write_failed", err)
		return ClockResult{Code: CodeInternal, Message: err.Error()}, model.VerifiedClockRequest{}
	}
	if notIn {
		return ClockResult{
			Code:         CodeNotFound,
			NotClockedIn: true,
			RegNo:        match.RegNo,
			StudentName:  match.StudentName,
			Message:      "not clocked in today",
		}, model.VerifiedClockRequest{}
	}

	verified := model.VerifiedClockRequest{
		RegNo:      match.RegNo,
		MatchScore: match.Score,
		FAR:        match.FAR,
		Timestamp:  req.Timestamp,
		DeviceID:   req.DeviceID,
	}
	return ClockResult{
		Success:     true,
		RegNo:       match.RegNo,
		StudentName: match.StudentName,
		Record:      record,
		Duration:    record.Duration(),
		MatchScore:  match.Score,
		FAR:         match.FAR,
		Message:     "clocked out",
	}, verified
}

// SyncPending replays deferred writes against the remote API. Pure modes
// report success without work; hybrid modes require the remote side to be
// reachable.
func (s *Service) SyncPending(ctx context.Context) SyncOutcome {
	if !s.mode.usesPendingQueue() {
		return SyncOutcome{Success: true, Message: "nothing to sync in " + s.mode.String() + " mode"}
	}

	pending, err := s.local.ListPending(ctx)
	if err != nil {
		s.logError(opSyncPending, "list_failed", err)
		return SyncOutcome{Message: err.Error()}
	}
	if len(pending) == 0 {
		return SyncOutcome{Success: true, Message: "nothing to sync"}
	}
	if !s.IsOnline() {
		return SyncOutcome{Message: "offline; cannot sync pending records"}
	}

	outcome := SyncOutcome{}
	for _, record := range pending {
		if err := ctx.Err(); err != nil {
			outcome.Message = err.Error()
			return outcome
		}
		if err := s.replay(ctx, record); err != nil {
			outcome.Failed++
			if markErr := s.local.MarkPendingFailed(ctx, record.ID, err.Error()); markErr != nil {
				s.logError(opSyncPending, "mark_failed", markErr, zap.Int64("pending_id", record.ID))
			}
			continue
		}
		if err := s.local.DeletePending(ctx, record.ID); err != nil {
			s.logError(opSyncPending, "delete_failed", err, zap.Int64("pending_id", record.ID))
		}
		outcome.Synced++
	}

	outcome.Success = outcome.Failed == 0
	outcome.Message = fmt.Sprintf("synced %d, failed %d", outcome.Synced, outcome.Failed)
	return outcome
}

func (s *Service) replay(ctx context.Context, record model.PendingSyncRecord) error {
	switch record.Operation {
	case model.OperationEnrollment:
		var req model.EnrollmentRequest
		if err := json.Unmarshal(record.Payload, &req); err != nil {
			return fmt.Errorf("decode enrollment payload: %w", err)
		}
		return s.remote.SubmitEnrollment(ctx, req)

	case model.OperationClockIn, model.OperationClockOut:
		// Attendance was verified locally when the record was written;
		// the server does not re-ingest pre-verified events during the
		// background sweep, so the replay is an acknowledgement only.
		s.logger.Info("pending attendance acknowledged",
			zap.Int64("pending_id", record.ID),
			zap.String("operation", string(record.Operation)))
		return nil
	}
	return fmt.Errorf("unknown operation type %q", record.Operation)
}

// enqueue appends a pending record and returns its identity (zero when the
// write failed; the failure is logged, not propagated).
func (s *Service) enqueue(ctx context.Context, op model.OperationType, payload any) int64 {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.logError(opSyncPending, "encode_failed", err, zap.String("operation", string(op)))
		return 0
	}
	id, err := s.local.InsertPending(ctx, op, encoded)
	if err != nil {
		s.logError(opSyncPending, "enqueue_failed", err, zap.String("operation", string(op)))
		return 0
	}
	return id
}

// removePending deletes the exact record created by the matching enqueue,
// keeping the immediate-replay cleanup correlated by identity.
func (s *Service) removePending(ctx context.Context, id int64) {
	if id == 0 {
		return
	}
	if err := s.local.DeletePending(ctx, id); err != nil {
		s.logError(opSyncPending, "delete_failed", err, zap.Int64("pending_id", id))
	}
}

func (s *Service) markOffline(operation string) {
	if s.online.CompareAndSwap(true, false) {
		s.logger.Warn("remote unreachable; marked offline", zap.String("operation", operation))
	}
}

func (s *Service) remoteCode(err error) string {
	switch {
	case errors.Is(err, remote.ErrUnavailable):
		return CodeNetwork
	case errors.Is(err, remote.ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

func localCode(err error) string {
	if errors.Is(err, localstore.ErrNotFound) {
		return CodeNotFound
	}
	return CodeInternal
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("data service error", attrs...)
}

func clockResultFromResponse(response remote.ClockResponse) ClockResult {
	result := ClockResult{
		Success:          response.Success,
		Message:          response.Message,
		AlreadyClockedIn: response.AlreadyClockedIn,
		NotClockedIn:     response.NotClockedIn,
	}
	if response.Student != nil {
		result.RegNo = response.Student.RegNo
		result.StudentName = response.Student.Name
	}
	if response.Duration != "" {
		if parsed, err := time.ParseDuration(response.Duration); err == nil {
			result.Duration = parsed
		}
	}
	if !response.Success && result.Code == "" {
		switch {
		case response.NotClockedIn:
			result.Code = CodeNotFound
		case response.AlreadyClockedIn:
			result.Code = CodeValidation
		default:
			result.Code = CodeNotRecognized
		}
	}
	return result
}
