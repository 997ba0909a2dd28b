package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/attendance/internal/biometric"
	"github.com/campuskit/attendance/internal/model"
	"github.com/campuskit/attendance/internal/queue"
	"github.com/campuskit/attendance/internal/serverstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDataStore struct {
	healthy     bool
	students    map[string]model.StudentInfo
	photos      map[string][]byte
	statuses    map[string]model.EnrollmentStatus
	templates   []serverstore.TemplateRecord
	cached      []model.CachedTemplate
	enrollments []model.EnrollmentRequest
	registered  []string
	attendance  []model.AttendanceRecord
	clockRecord model.AttendanceRecord
	clockDup    bool
	clockErr    error
	cacheLoads  int
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{
		healthy:  true,
		students: map[string]model.StudentInfo{},
		photos:   map[string][]byte{},
		statuses: map[string]model.EnrollmentStatus{},
	}
}

func (s *fakeDataStore) Healthy(context.Context) bool { return s.healthy }

func (s *fakeDataStore) RegisterDevice(_ context.Context, deviceID string) error {
	s.registered = append(s.registered, deviceID)
	return nil
}

func (s *fakeDataStore) Student(_ context.Context, regNo string) (model.StudentInfo, error) {
	info, ok := s.students[regNo]
	if !ok {
		return model.StudentInfo{}, serverstore.ErrNotFound
	}
	return info, nil
}

func (s *fakeDataStore) Photo(_ context.Context, regNo string) ([]byte, error) {
	photo, ok := s.photos[regNo]
	if !ok {
		return nil, serverstore.ErrNotFound
	}
	return photo, nil
}

func (s *fakeDataStore) EnrollmentStatus(_ context.Context, regNo string) (model.EnrollmentStatus, error) {
	return s.statuses[regNo], nil
}

func (s *fakeDataStore) UpsertEnrollment(_ context.Context, req model.EnrollmentRequest) error {
	s.enrollments = append(s.enrollments, req)
	return nil
}

func (s *fakeDataStore) ListTemplates(context.Context) ([]serverstore.TemplateRecord, error) {
	return s.templates, nil
}

func (s *fakeDataStore) CachedTemplates(context.Context) ([]model.CachedTemplate, error) {
	s.cacheLoads++
	return s.cached, nil
}

func (s *fakeDataStore) ClockIn(_ context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error) {
	if s.clockErr != nil {
		return model.AttendanceRecord{}, false, s.clockErr
	}
	record := s.clockRecord
	record.RegNo = regNo
	record.DeviceID = deviceID
	if record.TimeIn == nil {
		record.TimeIn = &at
	}
	return record, s.clockDup, nil
}

func (s *fakeDataStore) ClockOut(_ context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error) {
	if s.clockErr != nil {
		return model.AttendanceRecord{}, false, s.clockErr
	}
	record := s.clockRecord
	record.RegNo = regNo
	record.DeviceID = deviceID
	if !s.clockDup && record.TimeOut == nil {
		record.TimeOut = &at
	}
	return record, s.clockDup, nil
}

func (s *fakeDataStore) AttendanceRange(_ context.Context, from, to time.Time, regNo string) ([]model.AttendanceRecord, error) {
	return s.attendance, nil
}

// staticTokens trades "token-<id>" strings so tests can mint credentials
// without signing anything.
type staticTokens struct{}

func (staticTokens) IssueDeviceToken(deviceID string) (string, int64, error) {
	return "token-" + deviceID, 3600, nil
}

func (staticTokens) ValidateToken(token string) (string, error) {
	if !strings.HasPrefix(token, "token-") {
		return "", errors.New("unknown token")
	}
	return strings.TrimPrefix(token, "token-"), nil
}

func newTestHandler(t *testing.T, store *fakeDataStore, events queue.Queue, enrollKey string) http.Handler {
	t.Helper()
	handler, err := NewHTTPHandler(Dependencies{
		Store:        store,
		TokenManager: staticTokens{},
		Verifier:     biometric.NewSimulated(),
		Events:       events,
		EnrollKey:    enrollKey,
	})
	if err != nil {
		t.Fatalf("NewHTTPHandler returned error: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, target, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewBuffer(encoded)
	} else {
		body = bytes.NewBuffer(nil)
	}
	request := httptest.NewRequest(method, target, body)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func TestHealthReflectsStore(t *testing.T) {
	store := newFakeDataStore()
	handler := newTestHandler(t, store, nil, "")

	if code := doJSON(t, handler, http.MethodGet, "/api/health", "", nil).Code; code != http.StatusOK {
		t.Fatalf("healthy store: status %d", code)
	}

	store.healthy = false
	if code := doJSON(t, handler, http.MethodGet, "/api/health", "", nil).Code; code != http.StatusServiceUnavailable {
		t.Fatalf("degraded store: status %d", code)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	handler := newTestHandler(t, newFakeDataStore(), nil, "")

	if code := doJSON(t, handler, http.MethodGet, "/api/students/CS2021001", "", nil).Code; code != http.StatusUnauthorized {
		t.Fatalf("missing bearer: status %d", code)
	}
	if code := doJSON(t, handler, http.MethodGet, "/api/students/CS2021001", "not-a-real-token", nil).Code; code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", code)
	}
}

func TestDeviceRegistrationGatedByEnrollKey(t *testing.T) {
	store := newFakeDataStore()
	handler := newTestHandler(t, store, nil, "lab-key")
	payload := map[string]string{"deviceId": "kiosk-01"}

	recorder := doJSON(t, handler, http.MethodPost, "/api/devices/register", "", payload)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("missing enroll key: status %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodPost, "/api/devices/register", bytes.NewBufferString(`{"deviceId":"kiosk-01"}`))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(enrollKeyHeader, "lab-key")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("register: status %d body %s", recorder.Code, recorder.Body.String())
	}

	var response deviceRegisterResponse
	decodeBody(t, recorder, &response)
	if !response.Success || response.Token != "token-kiosk-01" || response.ExpiresIn != 3600 {
		t.Fatalf("unexpected registration response %+v", response)
	}
	if len(store.registered) != 1 || store.registered[0] != "kiosk-01" {
		t.Fatalf("device not persisted: %v", store.registered)
	}
}

func TestStudentLookupAndPhotoDispatch(t *testing.T) {
	store := newFakeDataStore()
	store.students["CS2021001"] = model.StudentInfo{RegNo: "CS2021001", Name: "Ada Obi", ClassName: "CS-300"}
	store.photos["CS2021001"] = []byte("jpeg-bytes")
	handler := newTestHandler(t, store, nil, "")

	recorder := doJSON(t, handler, http.MethodGet, "/api/students/CS2021001", "token-kiosk-01", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("lookup: status %d", recorder.Code)
	}
	var student studentResponse
	decodeBody(t, recorder, &student)
	if student.Name != "Ada Obi" || student.ClassName != "CS-300" {
		t.Fatalf("unexpected student %+v", student)
	}

	if code := doJSON(t, handler, http.MethodGet, "/api/students/missing", "token-kiosk-01", nil).Code; code != http.StatusNotFound {
		t.Fatalf("missing student: status %d", code)
	}

	// The photo route shares the :regno segment with student lookup.
	recorder = doJSON(t, handler, http.MethodGet, "/api/students/photo?regNo=CS2021001", "token-kiosk-01", nil)
	if recorder.Code != http.StatusOK || recorder.Body.String() != "jpeg-bytes" {
		t.Fatalf("photo: status %d body %q", recorder.Code, recorder.Body.String())
	}
}

func TestListTemplatesEncodesBase64(t *testing.T) {
	store := newFakeDataStore()
	store.templates = []serverstore.TemplateRecord{
		{RegNo: "CS2021001", FingerIndex: 1, FingerName: "right-thumb", Template: []byte("thumb-bytes"), CapturedAt: time.Now()},
	}
	handler := newTestHandler(t, store, nil, "")

	recorder := doJSON(t, handler, http.MethodGet, "/api/enrollments/templates", "token-kiosk-01", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("templates: status %d", recorder.Code)
	}
	var envelope struct {
		Success bool                    `json:"success"`
		Records []templateRecordPayload `json:"records"`
	}
	decodeBody(t, recorder, &envelope)
	if !envelope.Success || len(envelope.Records) != 1 {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	decoded, err := base64.StdEncoding.DecodeString(envelope.Records[0].TemplateData)
	if err != nil || string(decoded) != "thumb-bytes" {
		t.Fatalf("template not base64 encoded: %v", err)
	}
}

func TestEnrollDecodesTemplates(t *testing.T) {
	store := newFakeDataStore()
	handler := newTestHandler(t, store, nil, "")

	payload := map[string]any{
		"regno":     "CS/2021/001",
		"name":      "Ada Obi",
		"className": "CS-300",
		"records": []map[string]any{
			{"finger_index": 1, "finger_name": "right-thumb", "template_data": base64.StdEncoding.EncodeToString([]byte("thumb"))},
		},
	}
	recorder := doJSON(t, handler, http.MethodPost, "/api/enrollments", "token-kiosk-01", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("enroll: status %d body %s", recorder.Code, recorder.Body.String())
	}
	if len(store.enrollments) != 1 {
		t.Fatalf("enrollments stored = %d", len(store.enrollments))
	}
	stored := store.enrollments[0]
	if stored.RegNo != "CS/2021/001" || len(stored.Templates) != 1 || string(stored.Templates[0].Template) != "thumb" {
		t.Fatalf("unexpected enrollment %+v", stored)
	}
}

func TestEnrollRejectsBadBase64(t *testing.T) {
	store := newFakeDataStore()
	handler := newTestHandler(t, store, nil, "")

	payload := map[string]any{
		"regno": "CS/2021/001",
		"records": []map[string]any{
			{"finger_index": 1, "template_data": "not!!base64"},
		},
	}
	recorder := doJSON(t, handler, http.MethodPost, "/api/enrollments", "token-kiosk-01", payload)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad base64: status %d", recorder.Code)
	}
	if len(store.enrollments) != 0 {
		t.Fatal("invalid submission must not reach the store")
	}
}

func TestClockInWithVerifiedRegNoPublishesEvent(t *testing.T) {
	store := newFakeDataStore()
	store.students["CS/2021/001"] = model.StudentInfo{RegNo: "CS/2021/001", Name: "Ada Obi"}
	events := queue.NewInMemory(4)
	handler := newTestHandler(t, store, events, "")

	payload := map[string]any{"regNo": "CS/2021/001", "matchScore": 97, "far": 0.003}
	recorder := doJSON(t, handler, http.MethodPost, "/api/attendance/clockin", "token-kiosk-01", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("clock in: status %d", recorder.Code)
	}
	var response clockResponsePayload
	decodeBody(t, recorder, &response)
	if !response.Success || response.Student == nil || response.Student.Name != "Ada Obi" {
		t.Fatalf("unexpected response %+v", response)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := events.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume returned error: %v", err)
	}
	select {
	case event := <-stream:
		if event.Type != "clock_in" || event.RegNo != "CS/2021/001" || event.ID == "" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("no clock event published")
	}
}

func TestClockInMatchesSampleAgainstCachedTemplates(t *testing.T) {
	store := newFakeDataStore()
	store.students["CS/2021/001"] = model.StudentInfo{RegNo: "CS/2021/001", Name: "Ada Obi"}
	store.cached = []model.CachedTemplate{
		{RegNo: "CS/2021/001", StudentName: "Ada Obi", FingerIndex: 1, Template: []byte("thumb-bytes")},
	}
	handler := newTestHandler(t, store, nil, "")

	payload := map[string]any{"templateBase64": base64.StdEncoding.EncodeToString([]byte("thumb-bytes"))}
	recorder := doJSON(t, handler, http.MethodPost, "/api/attendance/clockin", "token-kiosk-01", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("clock in: status %d", recorder.Code)
	}
	var response clockResponsePayload
	decodeBody(t, recorder, &response)
	if !response.Success || response.Student == nil || response.Student.RegNo != "CS/2021/001" {
		t.Fatalf("unexpected response %+v", response)
	}

	// Second request is served from the match cache.
	doJSON(t, handler, http.MethodPost, "/api/attendance/clockin", "token-kiosk-01", payload)
	if store.cacheLoads != 1 {
		t.Fatalf("cache loads = %d, want 1", store.cacheLoads)
	}
}

func TestClockInRejectsUnrecognizedSample(t *testing.T) {
	store := newFakeDataStore()
	store.cached = []model.CachedTemplate{
		{RegNo: "CS/2021/001", FingerIndex: 1, Template: []byte("thumb-bytes")},
	}
	handler := newTestHandler(t, store, nil, "")

	payload := map[string]any{"templateBase64": base64.StdEncoding.EncodeToString([]byte("?????"))}
	recorder := doJSON(t, handler, http.MethodPost, "/api/attendance/clockin", "token-kiosk-01", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("clock in: status %d", recorder.Code)
	}
	var response clockResponsePayload
	decodeBody(t, recorder, &response)
	if response.Success || response.Student != nil {
		t.Fatalf("unrecognized sample must not clock in: %+v", response)
	}
}

func TestClockOutWithoutOpenRecord(t *testing.T) {
	store := newFakeDataStore()
	store.clockDup = true
	handler := newTestHandler(t, store, nil, "")

	payload := map[string]any{"regNo": "CS/2021/001"}
	recorder := doJSON(t, handler, http.MethodPost, "/api/attendance/clockout", "token-kiosk-01", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("clock out: status %d", recorder.Code)
	}
	var response clockResponsePayload
	decodeBody(t, recorder, &response)
	if response.Success || !response.NotClockedIn {
		t.Fatalf("unexpected response %+v", response)
	}
}

func TestClockOutReportsDuration(t *testing.T) {
	store := newFakeDataStore()
	timeIn := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	timeOut := timeIn.Add(8 * time.Hour)
	store.clockRecord = model.AttendanceRecord{TimeIn: &timeIn, TimeOut: &timeOut}
	handler := newTestHandler(t, store, nil, "")

	payload := map[string]any{"regNo": "CS/2021/001"}
	recorder := doJSON(t, handler, http.MethodPost, "/api/attendance/clockout", "token-kiosk-01", payload)
	var response clockResponsePayload
	decodeBody(t, recorder, &response)
	if !response.Success || response.Duration != "8h0m0s" {
		t.Fatalf("unexpected response %+v", response)
	}
}

func TestAttendanceRangeValidation(t *testing.T) {
	store := newFakeDataStore()
	store.attendance = []model.AttendanceRecord{{ID: 1, RegNo: "CS/2021/001", Date: "2026-03-02"}}
	handler := newTestHandler(t, store, nil, "")

	if code := doJSON(t, handler, http.MethodGet, "/api/attendance?from=bad&to=2026-03-31", "token-kiosk-01", nil).Code; code != http.StatusBadRequest {
		t.Fatalf("bad from: status %d", code)
	}
	if code := doJSON(t, handler, http.MethodGet, "/api/attendance?from=2026-03-31&to=2026-03-01", "token-kiosk-01", nil).Code; code != http.StatusBadRequest {
		t.Fatalf("inverted bounds: status %d", code)
	}

	recorder := doJSON(t, handler, http.MethodGet, "/api/attendance?from=2026-03-01&to=2026-03-31", "token-kiosk-01", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("range: status %d", recorder.Code)
	}
	var envelope struct {
		Records []model.AttendanceRecord `json:"records"`
	}
	decodeBody(t, recorder, &envelope)
	if len(envelope.Records) != 1 || envelope.Records[0].RegNo != "CS/2021/001" {
		t.Fatalf("unexpected records %+v", envelope.Records)
	}
}
