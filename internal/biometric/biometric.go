// Package biometric defines the fingerprint capture and matching collaborators
// used by administrator verification and enrollment, plus reference
// implementations for kiosks without a vendor SDK.
package biometric

import (
	"context"
	"errors"
)

// Quality grades a captured sample. Only QualityGood is actionable.
type Quality int

const (
	QualityGood Quality = iota
	QualityPoor
	QualityPartial
	QualityFakeFinger
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityPoor:
		return "poor"
	case QualityPartial:
		return "partial"
	case QualityFakeFinger:
		return "fake_finger"
	default:
		return "unknown"
	}
}

// Priority controls how the reader is shared with other processes.
type Priority int

const (
	// PriorityCooperative shares the reader with other applications.
	PriorityCooperative Priority = iota
	PriorityExclusive
)

// Sample is one raw capture.
type Sample struct {
	Data    []byte
	Quality Quality
}

// CaptureEvent carries either a sample or a capture error.
type CaptureEvent struct {
	Sample Sample
	Err    error
}

// Template is a normalized, comparable form of a sample.
type Template []byte

// ProbabilityOne is the largest comparison score: certainly different.
const ProbabilityOne = 0x7FFFFFFF

// AcceptThreshold is the score below which two templates match, a false
// match rate of one in one hundred thousand.
const AcceptThreshold = ProbabilityOne / 100000

var (
	ErrEmptyTemplate  = errors.New("empty template")
	ErrSampleTooSmall = errors.New("sample too small")
	ErrNotOpen        = errors.New("device not open")
)

// Device is a fingerprint reader. Capture streams events until ctx is
// cancelled or the device is closed, then closes the channel.
type Device interface {
	Open(ctx context.Context, priority Priority) error
	Close() error
	Capture(ctx context.Context) (<-chan CaptureEvent, error)
}

// Matcher turns samples into templates and scores pairs of templates. Lower
// scores are more similar.
type Matcher interface {
	Template(sample Sample) (Template, error)
	Compare(a, b Template) (int, error)
}

// Matches reports whether score is an acceptance.
func Matches(score int) bool {
	return score < AcceptThreshold
}
