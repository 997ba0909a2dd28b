package biometric

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
)

// SimulatedKind selects the in-tree software device.
const SimulatedKind = "sim"

func init() {
	Register(SimulatedKind, func() (Device, error) {
		return NewSimulated(), nil
	})
}

var errNotInitialized = errors.New("device not initialized")

// Simulated is a software fingerprint device. Template extraction is the
// identity transform and verification scores byte agreement, so tests can
// enroll and match deterministic payloads without hardware.
type Simulated struct {
	initialized bool
	// NextSample, when set, is returned by the next Capture call.
	NextSample []byte
}

// NewSimulated builds an uninitialized simulated device.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Initialize marks the device ready.
func (d *Simulated) Initialize(_ context.Context) (bool, error) {
	d.initialized = true
	return true, nil
}

// Capture returns the queued sample, or a random one when none is queued.
func (d *Simulated) Capture(_ context.Context) (CaptureResult, error) {
	if !d.initialized {
		return CaptureResult{Status: "not_initialized"}, errNotInitialized
	}
	sample := d.NextSample
	if sample == nil {
		sample = make([]byte, 64)
		if _, err := rand.Read(sample); err != nil {
			return CaptureResult{Status: "capture_failed"}, err
		}
	}
	return CaptureResult{
		Success:      true,
		SampleData:   sample,
		TemplateData: sample,
		Quality:      90,
		Status:       "ok",
	}, nil
}

// CreateTemplate extracts a template from the sample.
func (d *Simulated) CreateTemplate(_ context.Context, sample []byte) ([]byte, error) {
	if len(sample) == 0 {
		return nil, nil
	}
	template := make([]byte, len(sample))
	copy(template, sample)
	return template, nil
}

// Verify scores positional byte agreement between sample and template on
// a 0-100 scale. Identical payloads score 100 with zero FAR.
func (d *Simulated) Verify(_ context.Context, sample, template []byte) (VerifyResult, error) {
	if len(sample) == 0 || len(template) == 0 {
		return VerifyResult{}, nil
	}
	if bytes.Equal(sample, template) {
		return VerifyResult{IsMatch: true, Score: 100, FAR: 0}, nil
	}
	limit := len(sample)
	if len(template) < limit {
		limit = len(template)
	}
	agree := 0
	for i := 0; i < limit; i++ {
		if sample[i] == template[i] {
			agree++
		}
	}
	longest := len(sample)
	if len(template) > longest {
		longest = len(template)
	}
	score := agree * 100 / longest
	return VerifyResult{
		IsMatch: score >= 50,
		Score:   score,
		FAR:     float64(100-score) / 1000,
	}, nil
}
