// Package biometric abstracts fingerprint capture hardware behind one
// capability interface. Vendor SDK adapters register themselves by kind;
// the simulated device ships in-tree and backs the test suite.
package biometric

import "context"

// CaptureResult is the outcome of one capture attempt.
type CaptureResult struct {
	Success      bool
	SampleData   []byte
	TemplateData []byte
	Quality      int
	Status       string
}

// VerifyResult is the outcome of one 1:1 comparison.
type VerifyResult struct {
	IsMatch bool
	// Score is the match confidence on a 0-100 scale.
	Score int
	// FAR is the false-accept-rate reported for this comparison; lower
	// is stricter.
	FAR float64
}

// Device is the capability surface the sync core consumes. Implementations
// wrap a single vendor SDK and are assumed safe for sequential use from
// one goroutine at a time.
type Device interface {
	// Initialize prepares the device and reports whether it is usable.
	Initialize(ctx context.Context) (bool, error)
	// Capture acquires one sample from the sensor.
	Capture(ctx context.Context) (CaptureResult, error)
	// CreateTemplate extracts matchable feature data from a raw sample.
	// A nil template means the sample was unusable.
	CreateTemplate(ctx context.Context, sample []byte) ([]byte, error)
	// Verify compares a sample against one stored template.
	Verify(ctx context.Context, sample, template []byte) (VerifyResult, error)
}

// Verifier is the subset of Device needed for matching against cached
// templates.
type Verifier interface {
	Verify(ctx context.Context, sample, template []byte) (VerifyResult, error)
}
