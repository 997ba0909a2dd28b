// Package remote is the HTTP JSON client for the companion attendance API.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campuskit/attendance/internal/model"
)

const (
	defaultTimeout = 15 * time.Second

	defaultHealthPath          = "/api/health"
	defaultStudentPathPattern  = "/api/students/{regno}"
	defaultStudentQueryPath    = "/api/students"
	defaultPhotoPath           = "/api/students/photo"
	defaultStatusPathPattern   = "/api/students/{regno}/enrollment"
	defaultTemplatesPath       = "/api/enrollments/templates"
	defaultEnrollPath          = "/api/enrollments"
	defaultClockInPath         = "/api/attendance/clockin"
	defaultClockOutPath        = "/api/attendance/clockout"
	defaultAttendancePath      = "/api/attendance"
	regNoPlaceholder           = "{regno}"
	maxErrorBodyBytes    int64 = 4096
)

var (
	// ErrUnavailable marks a transport-level failure (unreachable host,
	// timeout, connection reset).
	ErrUnavailable = errors.New("remote api unavailable")
	// ErrNotFound marks a 404 from the API.
	ErrNotFound = errors.New("remote record not found")
)

// Config tunes the client. Path patterns may carry a {regno} placeholder;
// when the identifier itself contains a slash the client falls back to the
// query form so the path stays well formed.
type Config struct {
	BaseURL            string
	BearerToken        string
	Timeout            time.Duration
	StudentPathPattern string
	StatusPathPattern  string
}

// Client calls the companion REST API.
type Client struct {
	baseURL     string
	bearerToken string
	studentPath string
	statusPath  string
	httpClient  *http.Client
}

// New builds a client with sane defaults.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	studentPath := cfg.StudentPathPattern
	if studentPath == "" {
		studentPath = defaultStudentPathPattern
	}
	statusPath := cfg.StatusPathPattern
	if statusPath == "" {
		statusPath = defaultStatusPathPattern
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken: cfg.BearerToken,
		studentPath: studentPath,
		statusPath:  statusPath,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Health pings the API and reports reachability.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.getJSON(ctx, defaultHealthPath, nil, &out)
}

type studentPayload struct {
	RegNo       string `json:"regNo"`
	Name        string `json:"name"`
	ClassName   string `json:"className"`
	Department  string `json:"department"`
	Faculty     string `json:"faculty"`
	PassportURL string `json:"passportUrl"`
	RenewalDate string `json:"renewalDate"`
}

// Student looks up one student by registration number.
func (c *Client) Student(ctx context.Context, regNo string) (model.StudentInfo, error) {
	path, query := c.studentLookup(c.studentPath, regNo)
	var out studentPayload
	if err := c.getJSON(ctx, path, query, &out); err != nil {
		return model.StudentInfo{}, err
	}
	info := model.StudentInfo{
		RegNo:       out.RegNo,
		Name:        out.Name,
		ClassName:   out.ClassName,
		Department:  out.Department,
		Faculty:     out.Faculty,
		PassportURL: out.PassportURL,
	}
	if out.RenewalDate != "" {
		if parsed, err := time.Parse(time.RFC3339, out.RenewalDate); err == nil {
			info.RenewalDate = &parsed
		}
	}
	return info, nil
}

// Photo fetches the passport image bytes.
func (c *Client) Photo(ctx context.Context, regNo string) ([]byte, error) {
	query := url.Values{"regNo": {regNo}}
	resp, err := c.do(ctx, http.MethodGet, defaultPhotoPath, query, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// EnrollmentStatus fetches the finger count for one student.
func (c *Client) EnrollmentStatus(ctx context.Context, regNo string) (model.EnrollmentStatus, error) {
	path, query := c.studentLookup(c.statusPath, regNo)
	var out struct {
		RegNo       string `json:"regNo"`
		FingerCount int    `json:"fingerCount"`
		Enrolled    bool   `json:"enrolled"`
	}
	if err := c.getJSON(ctx, path, query, &out); err != nil {
		return model.EnrollmentStatus{}, err
	}
	return model.EnrollmentStatus{RegNo: out.RegNo, FingerCount: out.FingerCount, Enrolled: out.Enrolled}, nil
}

type templateRecordPayload struct {
	RegNo        string `json:"regno"`
	FingerIndex  int    `json:"finger_index"`
	FingerName   string `json:"finger_name"`
	Template     string `json:"template,omitempty"`
	TemplateData string `json:"template_data,omitempty"`
	ImagePreview string `json:"image_preview,omitempty"`
	CapturedAt   string `json:"captured_at,omitempty"`
}

type templateEnvelope struct {
	Success bool                    `json:"success"`
	Records []templateRecordPayload `json:"records"`
	Data    []templateRecordPayload `json:"data"`
}

// ListTemplates fetches the full remote template snapshot grouped by
// registration number. The envelope may carry either a records or a data
// array; both are accepted.
func (c *Client) ListTemplates(ctx context.Context) ([]model.StudentTemplates, error) {
	var envelope templateEnvelope
	if err := c.getJSON(ctx, defaultTemplatesPath, nil, &envelope); err != nil {
		return nil, err
	}
	records := envelope.Records
	if len(records) == 0 {
		records = envelope.Data
	}

	grouped := map[string][]model.FingerprintTemplate{}
	order := []string{}
	for _, record := range records {
		templateBytes, err := decodeTemplate(record)
		if err != nil {
			return nil, fmt.Errorf("template for %s finger %d: %w", record.RegNo, record.FingerIndex, err)
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
		if _, seen := grouped[record.RegNo]; !seen {
			order = append(order, record.RegNo)
		}
		grouped[record.RegNo] = append(grouped[record.RegNo], tpl)
	}

	result := make([]model.StudentTemplates, 0, len(order))
	for _, regNo := range order {
		result = append(result, model.StudentTemplates{RegNo: regNo, Templates: grouped[regNo]})
	}
	return result, nil
}

func decodeTemplate(record templateRecordPayload) ([]byte, error) {
	encoded := record.TemplateData
	if encoded == "" {
		encoded = record.Template
	}
	if encoded == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}

type enrollSubmission struct {
	RegNo   string                  `json:"regno"`
	Records []templateRecordPayload `json:"records"`
}

// SubmitEnrollment posts one batch enrollment.
func (c *Client) SubmitEnrollment(ctx context.Context, req model.EnrollmentRequest) error {
	submission := enrollSubmission{RegNo: req.RegNo}
	for _, tpl := range req.Templates {
		encoded := base64.StdEncoding.EncodeToString(tpl.Template)
		submission.Records = append(submission.Records, templateRecordPayload{
			RegNo:        req.RegNo,
			FingerIndex:  tpl.FingerIndex,
			FingerName:   tpl.FingerName,
			Template:     encoded,
			TemplateData: encoded,
			ImagePreview: tpl.ImagePath,
			CapturedAt:   tpl.CapturedAt.UTC().Format(time.RFC3339),
		})
	}

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.postJSON(ctx, defaultEnrollPath, submission, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("enrollment rejected: %s", out.Message)
	}
	return nil
}

// ClockResponse is the API answer to a clock-in or clock-out request.
type ClockResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	Student          *struct {
		RegNo       string `json:"regNo"`
		Name        string `json:"name"`
		ClassName   string `json:"className"`
		PassportURL string `json:"passportUrl"`
	} `json:"student,omitempty"`
	ClockInTime      string `json:"clockInTime,omitempty"`
	ClockOutTime     string `json:"clockOutTime,omitempty"`
	AlreadyClockedIn bool   `json:"alreadyClockedIn,omitempty"`
	NotClockedIn     bool   `json:"notClockedIn,omitempty"`
	Duration         string `json:"duration,omitempty"`
}

type clockPayload struct {
	TemplateBase64 string  `json:"templateBase64,omitempty"`
	RegNo          string  `json:"regNo,omitempty"`
	MatchScore     int     `json:"matchScore,omitempty"`
	FAR            float64 `json:"far,omitempty"`
	Timestamp      string  `json:"timestamp"`
	DeviceID       string  `json:"deviceId,omitempty"`
}

// ClockIn submits a captured sample for server-side matching.
func (c *Client) ClockIn(ctx context.Context, req model.ClockInRequest) (ClockResponse, error) {
	return c.postClock(ctx, defaultClockInPath, clockPayload{
		TemplateBase64: base64.StdEncoding.EncodeToString(req.Sample),
		Timestamp:      req.Timestamp.UTC().Format(time.RFC3339),
		DeviceID:       req.DeviceID,
	})
}

// ClockOut submits a captured sample for server-side matching.
func (c *Client) ClockOut(ctx context.Context, req model.ClockOutRequest) (ClockResponse, error) {
	return c.postClock(ctx, defaultClockOutPath, clockPayload{
		TemplateBase64: base64.StdEncoding.EncodeToString(req.Sample),
		Timestamp:      req.Timestamp.UTC().Format(time.RFC3339),
		DeviceID:       req.DeviceID,
	})
}

// ClockInVerified submits a clock-in whose match was already resolved
// against the local template cache.
func (c *Client) ClockInVerified(ctx context.Context, req model.VerifiedClockRequest) (ClockResponse, error) {
	return c.postClock(ctx, defaultClockInPath, verifiedPayload(req))
}

// ClockOutVerified submits a pre-verified clock-out.
func (c *Client) ClockOutVerified(ctx context.Context, req model.VerifiedClockRequest) (ClockResponse, error) {
	return c.postClock(ctx, defaultClockOutPath, verifiedPayload(req))
}

func verifiedPayload(req model.VerifiedClockRequest) clockPayload {
	return clockPayload{
		RegNo:      req.RegNo,
		MatchScore: req.MatchScore,
		FAR:        req.FAR,
		Timestamp:  req.Timestamp.UTC().Format(time.RFC3339),
		DeviceID:   req.DeviceID,
	}
}

func (c *Client) postClock(ctx context.Context, path string, payload clockPayload) (ClockResponse, error) {
	var out ClockResponse
	if err := c.postJSON(ctx, path, payload, &out); err != nil {
		return ClockResponse{}, err
	}
	return out, nil
}

// AttendanceRange queries recorded attendance between inclusive bounds.
func (c *Client) AttendanceRange(ctx context.Context, from, to time.Time, regNo string) ([]model.AttendanceRecord, error) {
	query := url.Values{
		"from": {from.Format("2006-01-02")},
		"to":   {to.Format("2006-01-02")},
	}
	if regNo != "" {
		query.Set("regNo", regNo)
	}
	var out struct {
		Records []model.AttendanceRecord `json:"records"`
	}
	if err := c.getJSON(ctx, defaultAttendancePath, query, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// studentLookup substitutes the registration number into the path pattern,
// falling back to the query form when the identifier contains a slash.
func (c *Client) studentLookup(pattern, regNo string) (string, url.Values) {
	if strings.Contains(regNo, "/") || !strings.Contains(pattern, regNoPlaceholder) {
		return defaultStudentQueryPath, url.Values{"regNo": {regNo}}
	}
	return strings.ReplaceAll(pattern, regNoPlaceholder, url.PathEscape(regNo)), nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return fmt.Errorf("remote api error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
}
