// Package server exposes the companion attendance API over HTTP.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/campuskit/attendance/internal/biometric"
	"github.com/campuskit/attendance/internal/cache"
	"github.com/campuskit/attendance/internal/datasync"
	"github.com/campuskit/attendance/internal/model"
	"github.com/campuskit/attendance/internal/queue"
	"github.com/campuskit/attendance/internal/serverstore"
)

const (
	deviceIDContextKey = "attendance_device_id"
	enrollKeyHeader    = "X-Enroll-Key"
	matchCacheTTL      = 2 * time.Minute
	defaultMinScore    = 60
	defaultMaxFAR      = 0.01
)

var (
	errMissingStore         = errors.New("data store dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingVerifier      = errors.New("verifier dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// DataStore is the persistence surface the router needs.
type DataStore interface {
	Healthy(ctx context.Context) bool
	RegisterDevice(ctx context.Context, deviceID string) error
	Student(ctx context.Context, regNo string) (model.StudentInfo, error)
	Photo(ctx context.Context, regNo string) ([]byte, error)
	EnrollmentStatus(ctx context.Context, regNo string) (model.EnrollmentStatus, error)
	UpsertEnrollment(ctx context.Context, req model.EnrollmentRequest) error
	ListTemplates(ctx context.Context) ([]serverstore.TemplateRecord, error)
	CachedTemplates(ctx context.Context) ([]model.CachedTemplate, error)
	ClockIn(ctx context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error)
	ClockOut(ctx context.Context, regNo string, at time.Time, deviceID string) (model.AttendanceRecord, bool, error)
	AttendanceRange(ctx context.Context, from, to time.Time, regNo string) ([]model.AttendanceRecord, error)
}

// DeviceTokenManager issues and validates device bearer tokens.
type DeviceTokenManager interface {
	IssueDeviceToken(deviceID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the router.
type Dependencies struct {
	Store        DataStore
	TokenManager DeviceTokenManager
	Verifier     biometric.Verifier
	Events       queue.Queue
	Logger       *zap.Logger
	// EnrollKey gates device registration when non-empty.
	EnrollKey     string
	MinMatchScore int
	MaxFAR        float64
	Clock         func() time.Time
}

// NewHTTPHandler validates dependencies and builds the gin handler.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	minScore := deps.MinMatchScore
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	maxFAR := deps.MaxFAR
	if maxFAR <= 0 {
		maxFAR = defaultMaxFAR
	}

	registry := prometheus.NewRegistry()
	metrics := newAPIMetrics(registry)

	handler := &httpHandler{
		store:      deps.Store,
		tokens:     deps.TokenManager,
		verifier:   deps.Verifier,
		events:     deps.Events,
		logger:     logger,
		enrollKey:  deps.EnrollKey,
		minScore:   minScore,
		maxFAR:     maxFAR,
		clock:      clock,
		matchCache: cache.New[[]model.CachedTemplate](),
		metrics:    metrics,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", enrollKeyHeader},
		MaxAge:       12 * time.Hour,
	}))
	router.Use(metrics.instrument)

	router.GET("/api/health", handler.handleHealth)
	router.POST("/api/devices/register", handler.handleDeviceRegister)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	protected := router.Group("/api")
	protected.Use(handler.authorizeDevice)
	protected.GET("/students", handler.handleStudentQuery)
	// The :regno segment also matches the literal "photo"; the handler
	// dispatches that case to the photo lookup so both routes can live
	// under /api/students without a router conflict.
	protected.GET("/students/:regno", handler.handleStudent)
	protected.GET("/students/:regno/enrollment", handler.handleEnrollmentStatus)
	protected.GET("/enrollments/templates", handler.handleListTemplates)
	protected.POST("/enrollments", handler.handleEnroll)
	protected.POST("/attendance/clockin", handler.handleClockIn)
	protected.POST("/attendance/clockout", handler.handleClockOut)
	protected.GET("/attendance", handler.handleAttendanceRange)

	return router, nil
}

type httpHandler struct {
	store      DataStore
	tokens     DeviceTokenManager
	verifier   biometric.Verifier
	events     queue.Queue
	logger     *zap.Logger
	enrollKey  string
	minScore   int
	maxFAR     float64
	clock      func() time.Time
	matchCache *cache.Entry[[]model.CachedTemplate]
	metrics    *apiMetrics
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if !h.store.Healthy(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type deviceRegisterPayload struct {
	DeviceID string `json:"deviceId"`
}

type deviceRegisterResponse struct {
	Success   bool   `json:"success"`
	DeviceID  string `json:"deviceId"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

func (h *httpHandler) handleDeviceRegister(c *gin.Context) {
	if h.enrollKey != "" && c.GetHeader(enrollKeyHeader) != h.enrollKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_enroll_key"})
		return
	}

	var request deviceRegisterPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	deviceID := strings.TrimSpace(request.DeviceID)

	if err := h.store.RegisterDevice(c.Request.Context(), deviceID); err != nil {
		h.logger.Error("device registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueDeviceToken(deviceID)
	if err != nil {
		h.logger.Error("device token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, deviceRegisterResponse{
		Success:   true,
		DeviceID:  deviceID,
		Token:     token,
		ExpiresIn: expiresIn,
	})
}

func (h *httpHandler) handleStudent(c *gin.Context) {
	regNo := c.Param("regno")
	if regNo == "photo" {
		h.handlePhoto(c)
		return
	}
	h.respondStudent(c, regNo)
}

func (h *httpHandler) handleStudentQuery(c *gin.Context) {
	h.respondStudent(c, c.Query("regNo"))
}

func (h *httpHandler) respondStudent(c *gin.Context, regNo string) {
	if regNo == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "regNo required"})
		return
	}
	info, err := h.store.Student(c.Request.Context(), regNo)
	if err != nil {
		if errors.Is(err, serverstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		h.logger.Error("student lookup failed", zap.String("regNo", regNo), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, studentPayload(info))
}

type studentResponse struct {
	RegNo       string `json:"regNo"`
	Name        string `json:"name"`
	ClassName   string `json:"className"`
	Department  string `json:"department"`
	Faculty     string `json:"faculty"`
	PassportURL string `json:"passportUrl"`
	RenewalDate string `json:"renewalDate,omitempty"`
}

func studentPayload(info model.StudentInfo) studentResponse {
	payload := studentResponse{
		RegNo:       info.RegNo,
		Name:        info.Name,
		ClassName:   info.ClassName,
		Department:  info.Department,
		Faculty:     info.Faculty,
		PassportURL: info.PassportURL,
	}
	if info.RenewalDate != nil {
		payload.RenewalDate = info.RenewalDate.UTC().Format(time.RFC3339)
	}
	return payload
}

func (h *httpHandler) handlePhoto(c *gin.Context) {
	regNo := c.Query("regNo")
	if regNo == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "regNo required"})
		return
	}
	photo, err := h.store.Photo(c.Request.Context(), regNo)
	if err != nil {
		if errors.Is(err, serverstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
			return
		}
		h.logger.Error("photo lookup failed", zap.String("regNo", regNo), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(photo), photo)
}

func (h *httpHandler) handleEnrollmentStatus(c *gin.Context) {
	regNo := c.Param("regno")
	status, err := h.store.EnrollmentStatus(c.Request.Context(), regNo)
	if err != nil {
		h.logger.Error("enrollment status failed", zap.String("regNo", regNo), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, status)
}

type templateRecordPayload struct {
	RegNo        string `json:"regno"`
	FingerIndex  int    `json:"finger_index"`
	FingerName   string `json:"finger_name"`
	TemplateData string `json:"template_data"`
	ImagePreview string `json:"image_preview,omitempty"`
	CapturedAt   string `json:"captured_at,omitempty"`
}

func (h *httpHandler) handleListTemplates(c *gin.Context) {
	records, err := h.store.ListTemplates(c.Request.Context())
	if err != nil {
		h.logger.Error("template listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}

	payload := make([]templateRecordPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, templateRecordPayload{
			RegNo:        record.RegNo,
			FingerIndex:  record.FingerIndex,
			FingerName:   record.FingerName,
			TemplateData: base64.StdEncoding.EncodeToString(record.Template),
			ImagePreview: record.ImagePreview,
			CapturedAt:   record.CapturedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "records": payload})
}

type enrollSubmissionPayload struct {
	RegNo     string                  `json:"regno"`
	Name      string                  `json:"name"`
	ClassName string                  `json:"className"`
	Records   []templateRecordPayload `json:"records"`
}

func (h *httpHandler) handleEnroll(c *gin.Context) {
	var submission enrollSubmissionPayload
	if err := c.ShouldBindJSON(&submission); err != nil || strings.TrimSpace(submission.RegNo) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid enrollment payload"})
		return
	}

	request := model.EnrollmentRequest{
		RegNo:     strings.TrimSpace(submission.RegNo),
		Name:      submission.Name,
		ClassName: submission.ClassName,
	}
	for _, record := range submission.Records {
		templateBytes, err := base64.StdEncoding.DecodeString(record.TemplateData)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": fmt.Sprintf("template for finger %d is not valid base64", record.FingerIndex)})
			return
		}
		tpl := model.FingerprintTemplate{
			FingerIndex: record.FingerIndex,
			FingerName:  record.FingerName,
			Template:    templateBytes,
			ImagePath:   record.ImagePreview,
		}
		if record.CapturedAt != "" {
			if parsed, err := time.Parse(time.RFC3339, record.CapturedAt); err == nil {
				tpl.CapturedAt = parsed
			}
		}
		request.Templates = append(request.Templates, tpl)
	}

	if err := h.store.UpsertEnrollment(c.Request.Context(), request); err != nil {
		h.logger.Error("enrollment upsert failed", zap.String("regNo", request.RegNo), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "enrollment failed"})
		return
	}

	h.matchCache.Invalidate()
	h.metrics.enrollments.Inc()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("enrolled %d templates for %s", len(request.Templates), request.RegNo)})
}

type clockPayload struct {
	TemplateBase64 string  `json:"templateBase64"`
	RegNo          string  `json:"regNo"`
	MatchScore     int     `json:"matchScore"`
	FAR            float64 `json:"far"`
	Timestamp      string  `json:"timestamp"`
	DeviceID       string  `json:"deviceId"`
}

type clockStudentPayload struct {
	RegNo       string `json:"regNo"`
	Name        string `json:"name"`
	ClassName   string `json:"className"`
	PassportURL string `json:"passportUrl"`
}

type clockResponsePayload struct {
	Success          bool                 `json:"success"`
	Message          string               `json:"message"`
	Student          *clockStudentPayload `json:"student,omitempty"`
	ClockInTime      string               `json:"clockInTime,omitempty"`
	ClockOutTime     string               `json:"clockOutTime,omitempty"`
	AlreadyClockedIn bool                 `json:"alreadyClockedIn,omitempty"`
	NotClockedIn     bool                 `json:"notClockedIn,omitempty"`
	Duration         string               `json:"duration,omitempty"`
}

func (h *httpHandler) handleClockIn(c *gin.Context) {
	h.handleClock(c, true)
}

func (h *httpHandler) handleClockOut(c *gin.Context) {
	h.handleClock(c, false)
}

// handleClock accepts either a raw captured sample for server-side
// matching or a pre-verified registration number from a device that
// matched against its local template cache.
func (h *httpHandler) handleClock(c *gin.Context, clockIn bool) {
	var payload clockPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, clockResponsePayload{Message: "invalid clock payload"})
		return
	}

	regNo := strings.TrimSpace(payload.RegNo)
	if regNo == "" {
		matched, ok := h.identifySample(c, payload.TemplateBase64)
		if !ok {
			return
		}
		if matched == "" {
			h.metrics.recognitionMisses.Inc()
			c.JSON(http.StatusOK, clockResponsePayload{Message: "fingerprint not recognized"})
			return
		}
		regNo = matched
	}

	at := h.clock().UTC()
	if payload.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			at = parsed.UTC()
		}
	}

	deviceID := payload.DeviceID
	if deviceID == "" {
		deviceID = c.GetString(deviceIDContextKey)
	}

	var (
		record    model.AttendanceRecord
		duplicate bool
		err       error
	)
	if clockIn {
		record, duplicate, err = h.store.ClockIn(c.Request.Context(), regNo, at, deviceID)
	} else {
		record, duplicate, err = h.store.ClockOut(c.Request.Context(), regNo, at, deviceID)
	}
	if err != nil {
		h.logger.Error("clock write failed", zap.String("regNo", regNo), zap.Bool("clockIn", clockIn), zap.Error(err))
		c.JSON(http.StatusInternalServerError, clockResponsePayload{Message: "attendance write failed"})
		return
	}

	response := clockResponsePayload{Success: true}
	if info, lookupErr := h.store.Student(c.Request.Context(), regNo); lookupErr == nil {
		response.Student = &clockStudentPayload{
			RegNo:       info.RegNo,
			Name:        info.Name,
			ClassName:   info.ClassName,
			PassportURL: info.PassportURL,
		}
	} else {
		response.Student = &clockStudentPayload{RegNo: regNo}
	}

	eventType := "clock_in"
	switch {
	case clockIn && duplicate:
		response.AlreadyClockedIn = true
		response.Message = "already clocked in today"
	case clockIn:
		response.Message = "clocked in"
	case duplicate:
		// For clock-out the flag means no open record existed.
		response.Success = false
		response.NotClockedIn = true
		response.Message = "not clocked in today"
		eventType = "clock_out"
	default:
		response.Message = "clocked out"
		response.Duration = record.Duration().Round(time.Second).String()
		eventType = "clock_out"
	}
	if record.TimeIn != nil {
		response.ClockInTime = record.TimeIn.UTC().Format(time.RFC3339)
	}
	if record.TimeOut != nil {
		response.ClockOutTime = record.TimeOut.UTC().Format(time.RFC3339)
	}

	if response.Success {
		h.metrics.clockEvents.WithLabelValues(eventType).Inc()
		h.publishEvent(c.Request.Context(), queue.Event{
			Type:      eventType,
			RegNo:     regNo,
			DeviceID:  deviceID,
			Timestamp: at,
		})
	}
	c.JSON(http.StatusOK, response)
}

// identifySample decodes and matches a raw capture. An empty string with
// ok=true means no template cleared the thresholds.
func (h *httpHandler) identifySample(c *gin.Context, templateBase64 string) (string, bool) {
	if templateBase64 == "" {
		c.JSON(http.StatusBadRequest, clockResponsePayload{Message: "templateBase64 or regNo required"})
		return "", false
	}
	sample, err := base64.StdEncoding.DecodeString(templateBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, clockResponsePayload{Message: "templateBase64 is not valid base64"})
		return "", false
	}

	entries, cached := h.matchCache.Get()
	if !cached {
		entries, err = h.store.CachedTemplates(c.Request.Context())
		if err != nil {
			h.logger.Error("template cache load failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, clockResponsePayload{Message: "matching unavailable"})
			return "", false
		}
		h.matchCache.Set(entries, matchCacheTTL)
	}

	match, found, err := datasync.Identify(c.Request.Context(), h.verifier, sample, entries, h.minScore, h.maxFAR)
	if err != nil {
		h.logger.Error("identification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, clockResponsePayload{Message: "matching failed"})
		return "", false
	}
	if !found {
		return "", true
	}
	return match.RegNo, true
}

func (h *httpHandler) handleAttendanceRange(c *gin.Context) {
	from, err := time.Parse("2006-01-02", c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
		return
	}
	to, err := time.Parse("2006-01-02", c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
		return
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to precedes from"})
		return
	}

	records, err := h.store.AttendanceRange(c.Request.Context(), from, to, c.Query("regNo"))
	if err != nil {
		h.logger.Error("attendance range failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	if records == nil {
		records = []model.AttendanceRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *httpHandler) authorizeDevice(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	deviceID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("device token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(deviceIDContextKey, deviceID)
	c.Next()
}

func (h *httpHandler) publishEvent(ctx context.Context, event queue.Event) {
	if h.events == nil {
		return
	}
	event.ID = uuid.NewString()
	if err := h.events.Publish(ctx, event); err != nil {
		h.logger.Warn("event publish failed", zap.String("type", event.Type), zap.Error(err))
	}
}
