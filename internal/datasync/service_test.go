package datasync

import (
	"context"
	"testing"
	"time"

	"github.com/campuskit/attendance/internal/localstore"
	"github.com/campuskit/attendance/internal/model"
	"github.com/campuskit/attendance/internal/remote"
)

type fakeLocalStore struct {
	students    map[string]model.StudentInfo
	enrollments []model.EnrollmentRequest
	clockedIn   map[string]bool
	pending     []model.PendingSyncRecord
	nextID      int64
}

func newFakeLocalStore() *fakeLocalStore {
	return &fakeLocalStore{
		students:  map[string]model.StudentInfo{},
		clockedIn: map[string]bool{},
	}
}

func (f *fakeLocalStore) Student(_ context.Context, regNo string) (model.StudentInfo, error) {
	info, ok := f.students[regNo]
	if !ok {
		return model.StudentInfo{}, localstore.ErrNotFound
	}
	return info, nil
}

func (f *fakeLocalStore) Photo(_ context.Context, regNo string) ([]byte, error) {
	info, ok := f.students[regNo]
	if !ok || len(info.Photo) == 0 {
		return nil, localstore.ErrNotFound
	}
	return info.Photo, nil
}

func (f *fakeLocalStore) SaveStudent(_ context.Context, info model.StudentInfo) error {
	f.students[info.RegNo] = info
	return nil
}

func (f *fakeLocalStore) EnrollmentStatus(_ context.Context, regNo string) (model.EnrollmentStatus, error) {
	count := 0
	for _, req := range f.enrollments {
		if req.RegNo == regNo {
			count += len(req.Templates)
		}
	}
	return model.EnrollmentStatus{RegNo: regNo, FingerCount: count, Enrolled: count >= 2}, nil
}

func (f *fakeLocalStore) UpsertEnrollment(_ context.Context, req model.EnrollmentRequest) error {
	f.enrollments = append(f.enrollments, req)
	return nil
}

func (f *fakeLocalStore) ListEnrollments(context.Context) ([]model.StudentTemplates, error) {
	return nil, nil
}

func (f *fakeLocalStore) ClockIn(_ context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error) {
	if f.clockedIn[regNo] {
		return model.AttendanceRecord{RegNo: regNo, TimeIn: &at}, true, nil
	}
	f.clockedIn[regNo] = true
	return model.AttendanceRecord{RegNo: regNo, Date: at.Format("2006-01-02"), TimeIn: &at, DeviceID: deviceID}, false, nil
}

func (f *fakeLocalStore) ClockOut(_ context.Context, regNo string, at time.Time, _ string) (model.AttendanceRecord, bool, error) {
	if !f.clockedIn[regNo] {
		return model.AttendanceRecord{}, true, nil
	}
	f.clockedIn[regNo] = false
	timeIn := at.Add(-8 * time.Hour)
	return model.AttendanceRecord{RegNo: regNo, TimeIn: &timeIn, TimeOut: &at}, false, nil
}

func (f *fakeLocalStore) AttendanceRange(context.Context, time.Time, time.Time, string) ([]model.AttendanceRecord, error) {
	return nil, nil
}

func (f *fakeLocalStore) InsertPending(_ context.Context, op model.OperationType, payload []byte) (int64, error) {
	f.nextID++
	f.pending = append(f.pending, model.PendingSyncRecord{ID: f.nextID, Operation: op, Payload: payload})
	return f.nextID, nil
}

func (f *fakeLocalStore) ListPending(context.Context) ([]model.PendingSyncRecord, error) {
	out := make([]model.PendingSyncRecord, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeLocalStore) DeletePending(_ context.Context, id int64) error {
	kept := f.pending[:0]
	for _, record := range f.pending {
		if record.ID != id {
			kept = append(kept, record)
		}
	}
	f.pending = kept
	return nil
}

func (f *fakeLocalStore) MarkPendingFailed(_ context.Context, id int64, errText string) error {
	for i := range f.pending {
		if f.pending[i].ID == id {
			f.pending[i].RetryCount++
			f.pending[i].LastError = errText
		}
	}
	return nil
}

func (f *fakeLocalStore) PendingCount(context.Context) (int, error) {
	return len(f.pending), nil
}

type fakeRemote struct {
	students      map[string]model.StudentInfo
	healthErr     error
	studentErr    error
	enrollErr     error
	clockErr      error
	verifiedCalls int
	enrollCalls   int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{students: map[string]model.StudentInfo{}}
}

func (f *fakeRemote) Health(context.Context) error { return f.healthErr }

func (f *fakeRemote) Student(_ context.Context, regNo string) (model.StudentInfo, error) {
	if f.studentErr != nil {
		return model.StudentInfo{}, f.studentErr
	}
	info, ok := f.students[regNo]
	if !ok {
		return model.StudentInfo{}, remote.ErrNotFound
	}
	return info, nil
}

func (f *fakeRemote) Photo(context.Context, string) ([]byte, error) {
	return nil, remote.ErrNotFound
}

func (f *fakeRemote) EnrollmentStatus(_ context.Context, regNo string) (model.EnrollmentStatus, error) {
	if f.studentErr != nil {
		return model.EnrollmentStatus{}, f.studentErr
	}
	return model.EnrollmentStatus{RegNo: regNo}, nil
}

func (f *fakeRemote) SubmitEnrollment(context.Context, model.EnrollmentRequest) error {
	f.enrollCalls++
	return f.enrollErr
}

func (f *fakeRemote) ClockIn(context.Context, model.ClockInRequest) (remote.ClockResponse, error) {
	if f.clockErr != nil {
		return remote.ClockResponse{}, f.clockErr
	}
	return remote.ClockResponse{Success: true, Message: "clocked in"}, nil
}

func (f *fakeRemote) ClockOut(context.Context, model.ClockOutRequest) (remote.ClockResponse, error) {
	if f.clockErr != nil {
		return remote.ClockResponse{}, f.clockErr
	}
	return remote.ClockResponse{Success: true, Message: "clocked out"}, nil
}

func (f *fakeRemote) ClockInVerified(context.Context, model.VerifiedClockRequest) (remote.ClockResponse, error) {
	f.verifiedCalls++
	if f.clockErr != nil {
		return remote.ClockResponse{}, f.clockErr
	}
	return remote.ClockResponse{Success: true}, nil
}

func (f *fakeRemote) ClockOutVerified(context.Context, model.VerifiedClockRequest) (remote.ClockResponse, error) {
	f.verifiedCalls++
	if f.clockErr != nil {
		return remote.ClockResponse{}, f.clockErr
	}
	return remote.ClockResponse{Success: true}, nil
}

func (f *fakeRemote) AttendanceRange(context.Context, time.Time, time.Time, string) ([]model.AttendanceRecord, error) {
	return nil, nil
}

type fakeAuthenticator struct {
	result MatchResult
}

func (f *fakeAuthenticator) Authenticate(context.Context, []byte) MatchResult {
	return f.result
}

func acceptAll() *fakeAuthenticator {
	return &fakeAuthenticator{result: MatchResult{
		Success:     true,
		RegNo:       "CS/2021/001",
		StudentName: "Ada Obi",
		Score:       97,
		FAR:         0.003,
	}}
}

func newTestService(t *testing.T, mode Mode, local LocalStore, remoteAPI RemoteAPI, auth Authenticator) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Mode:          mode,
		Local:         local,
		Remote:        remoteAPI,
		Authenticator: auth,
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return service
}

func TestOfflineOnlyWorksWithoutRemote(t *testing.T) {
	local := newFakeLocalStore()
	local.students["CS/2021/001"] = model.StudentInfo{RegNo: "CS/2021/001", Name: "Ada Obi"}
	service := newTestService(t, OfflineOnly, local, nil, acceptAll())

	result := service.Student(context.Background(), "CS/2021/001")
	if !result.Success || result.Student.Name != "Ada Obi" {
		t.Fatalf("local lookup failed: %+v", result)
	}
	if service.CheckOnlineStatus(context.Background()) {
		t.Fatal("offline-only mode must always report offline")
	}
}

func TestOnlineFirstFallsBackOnNetworkError(t *testing.T) {
	local := newFakeLocalStore()
	local.students["CS/2021/001"] = model.StudentInfo{RegNo: "CS/2021/001", Name: "Cached Ada"}
	remoteAPI := newFakeRemote()
	remoteAPI.studentErr = remote.ErrUnavailable
	service := newTestService(t, OnlineFirst, local, remoteAPI, acceptAll())

	result := service.Student(context.Background(), "CS/2021/001")
	if !result.Success || result.Student.Name != "Cached Ada" {
		t.Fatalf("expected fallback to local, got %+v", result)
	}
	if service.IsOnline() {
		t.Fatal("network failure must flip the online flag")
	}
}

func TestOnlineFirstDoesNotFallBackOnNotFound(t *testing.T) {
	local := newFakeLocalStore()
	local.students["CS/2021/001"] = model.StudentInfo{RegNo: "CS/2021/001", Name: "Cached Ada"}
	service := newTestService(t, OnlineFirst, local, newFakeRemote(), acceptAll())

	result := service.Student(context.Background(), "CS/2021/001")
	if result.Success {
		t.Fatalf("remote 404 must not fall back to local: %+v", result)
	}
	if result.Code != CodeNotFound {
		t.Fatalf("code = %q, want %q", result.Code, CodeNotFound)
	}
}

func TestOfflineFirstCachesRemoteStudent(t *testing.T) {
	local := newFakeLocalStore()
	remoteAPI := newFakeRemote()
	remoteAPI.students["CS/2021/007"] = model.StudentInfo{RegNo: "CS/2021/007", Name: "Remote Ben"}
	service := newTestService(t, OfflineFirst, local, remoteAPI, acceptAll())

	result := service.Student(context.Background(), "CS/2021/007")
	if !result.Success {
		t.Fatalf("lookup failed: %+v", result)
	}
	if _, ok := local.students["CS/2021/007"]; !ok {
		t.Fatal("remote hit must be cached locally for the next offline lookup")
	}
}

func TestOnlineFirstClockInQueuesWhenRemoteDown(t *testing.T) {
	local := newFakeLocalStore()
	remoteAPI := newFakeRemote()
	remoteAPI.clockErr = remote.ErrUnavailable
	service := newTestService(t, OnlineFirst, local, remoteAPI, acceptAll())

	result := service.ClockIn(context.Background(), model.ClockInRequest{Sample: []byte("sample")})
	if !result.Success {
		t.Fatalf("clock-in failed: %+v", result)
	}
	if !result.Offline {
		t.Fatal("result must be flagged offline")
	}
	if len(local.pending) != 1 || local.pending[0].Operation != model.OperationClockIn {
		t.Fatalf("pending queue = %+v", local.pending)
	}
	if !local.clockedIn["CS/2021/001"] {
		t.Fatal("attendance must land locally")
	}
}

func TestOfflineFirstClockInReplaysImmediatelyWhenOnline(t *testing.T) {
	local := newFakeLocalStore()
	remoteAPI := newFakeRemote()
	service := newTestService(t, OfflineFirst, local, remoteAPI, acceptAll())

	result := service.ClockIn(context.Background(), model.ClockInRequest{Sample: []byte("sample")})
	if !result.Success || result.Offline {
		t.Fatalf("clock-in result = %+v", result)
	}
	if remoteAPI.verifiedCalls != 1 {
		t.Fatalf("verified replay calls = %d", remoteAPI.verifiedCalls)
	}
	if len(local.pending) != 0 {
		t.Fatalf("replayed pending record not removed: %+v", local.pending)
	}
}

func TestOfflineFirstClockInKeepsPendingWhenRemoteFails(t *testing.T) {
	local := newFakeLocalStore()
	remoteAPI := newFakeRemote()
	remoteAPI.clockErr = remote.ErrUnavailable
	service := newTestService(t, OfflineFirst, local, remoteAPI, acceptAll())

	result := service.ClockIn(context.Background(), model.ClockInRequest{Sample: []byte("sample")})
	if !result.Success || !result.Offline {
		t.Fatalf("clock-in result = %+v", result)
	}
	if len(local.pending) != 1 {
		t.Fatalf("pending queue = %+v", local.pending)
	}
	if service.IsOnline() {
		t.Fatal("failed replay must flip the online flag")
	}
}

func TestClockOutNotClockedIn(t *testing.T) {
	local := newFakeLocalStore()
	service := newTestService(t, OfflineOnly, local, nil, acceptAll())

	result := service.ClockOut(context.Background(), model.ClockOutRequest{Sample: []byte("sample")})
	if result.Success {
		t.Fatalf("clock-out without open record must fail: %+v", result)
	}
	if !result.NotClockedIn || result.Code != CodeNotFound {
		t.Fatalf("result = %+v", result)
	}
}

func TestClockRejectsUnrecognizedSample(t *testing.T) {
	local := newFakeLocalStore()
	auth := &fakeAuthenticator{result: MatchResult{Code: CodeNotRecognized, Message: "fingerprint not recognized"}}
	service := newTestService(t, OfflineOnly, local, nil, auth)

	result := service.ClockIn(context.Background(), model.ClockInRequest{Sample: []byte("sample")})
	if result.Success || result.Code != CodeNotRecognized {
		t.Fatalf("result = %+v", result)
	}
	if local.clockedIn["CS/2021/001"] {
		t.Fatal("unrecognized sample must not write attendance")
	}
}

func TestEnrollValidation(t *testing.T) {
	service := newTestService(t, OfflineOnly, newFakeLocalStore(), nil, acceptAll())

	result := service.Enroll(context.Background(), model.EnrollmentRequest{})
	if result.Success || result.Code != CodeValidation {
		t.Fatalf("result = %+v", result)
	}
}

func TestOnlineFirstEnrollQueuesOnRemoteFailure(t *testing.T) {
	local := newFakeLocalStore()
	remoteAPI := newFakeRemote()
	remoteAPI.enrollErr = remote.ErrUnavailable
	service := newTestService(t, OnlineFirst, local, remoteAPI, acceptAll())

	result := service.Enroll(context.Background(), model.EnrollmentRequest{
		RegNo:     "CS/2021/001",
		Templates: []model.FingerprintTemplate{{FingerIndex: 1, Template: []byte("thumb")}},
	})
	if !result.Success || !result.SavedLocally || !result.QueuedForSync {
		t.Fatalf("result = %+v", result)
	}
	if len(local.enrollments) != 1 {
		t.Fatal("enrollment must land locally even when the remote write fails")
	}
	if len(local.pending) != 1 || local.pending[0].Operation != model.OperationEnrollment {
		t.Fatalf("pending queue = %+v", local.pending)
	}
}

func TestSyncPendingReplaysEnrollment(t *testing.T) {
	local := newFakeLocalStore()
	remoteAPI := newFakeRemote()
	service := newTestService(t, OfflineFirst, local, remoteAPI, acceptAll())

	local.InsertPending(context.Background(), model.OperationEnrollment,
		[]byte(`{"regNo":"CS/2021/001","templates":[{"fingerIndex":1,"template":"dGh1bWI="}]}`))
	local.InsertPending(context.Background(), model.OperationClockIn,
		[]byte(`{"regNo":"CS/2021/001","matchScore":97}`))

	outcome := service.SyncPending(context.Background())
	if !outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Synced != 2 || outcome.Failed != 0 {
		t.Fatalf("synced %d failed %d", outcome.Synced, outcome.Failed)
	}
	if remoteAPI.enrollCalls != 1 {
		t.Fatalf("enrollment replay calls = %d", remoteAPI.enrollCalls)
	}
	if len(local.pending) != 0 {
		t.Fatalf("replayed records not removed: %+v", local.pending)
	}
}

func TestSyncPendingMarksFailures(t *testing.T) {
	local := newFakeLocalStore()
	remoteAPI := newFakeRemote()
	remoteAPI.enrollErr = remote.ErrUnavailable
	service := newTestService(t, OfflineFirst, local, remoteAPI, acceptAll())

	local.InsertPending(context.Background(), model.OperationEnrollment, []byte(`{"regNo":"CS/2021/001"}`))

	outcome := service.SyncPending(context.Background())
	if outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Failed != 1 {
		t.Fatalf("failed = %d", outcome.Failed)
	}
	if len(local.pending) != 1 || local.pending[0].RetryCount != 1 {
		t.Fatalf("pending queue = %+v", local.pending)
	}
}

func TestSyncPendingPureModeIsNoOp(t *testing.T) {
	local := newFakeLocalStore()
	local.InsertPending(context.Background(), model.OperationEnrollment, []byte(`{}`))
	service := newTestService(t, OfflineOnly, local, nil, acceptAll())

	outcome := service.SyncPending(context.Background())
	if !outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(local.pending) != 1 {
		t.Fatal("pure mode must not touch the pending queue")
	}
}

func TestSyncPendingRequiresOnline(t *testing.T) {
	local := newFakeLocalStore()
	remoteAPI := newFakeRemote()
	remoteAPI.healthErr = remote.ErrUnavailable
	service := newTestService(t, OfflineFirst, local, remoteAPI, acceptAll())

	local.InsertPending(context.Background(), model.OperationEnrollment, []byte(`{}`))
	service.CheckOnlineStatus(context.Background())

	outcome := service.SyncPending(context.Background())
	if outcome.Success {
		t.Fatalf("offline flush must fail: %+v", outcome)
	}
	if remoteAPI.enrollCalls != 0 {
		t.Fatal("offline flush must not call the remote API")
	}
}
