package model

import (
	"context"

	"github.com/parlo-app/parlo-stt/internal/device"
)

// Segment is one decoded span of speech. NoSpeechProb is nil when the
// engine did not report one for the segment.
type Segment struct {
	Start        float64
	End          float64
	Text         string
	NoSpeechProb *float64
}

// Output is the raw inference result before the backend derives the
// caller-facing fields from it.
type Output struct {
	Text     string
	Language string
	Segments []Segment
}

// Model is a loaded, ready-to-run speech model handle.
type Model interface {
	// Transcribe runs inference on a canonical mono/16kHz WAV file.
	// Language is an ISO code hint, or empty to let the model detect.
	Transcribe(ctx context.Context, audioPath, language string) (Output, error)
	Close() error
}

// LoadOptions selects which artifact to load and where to run it.
type LoadOptions struct {
	Size   string
	Device device.Kind
	// ComputeType is "float16" on accelerators and "float32" on CPU,
	// where reduced precision is unsupported.
	ComputeType string
}

// Loader produces model handles. Loading is expensive (seconds), so
// callers are expected to cache the returned handle per (size, device).
type Loader interface {
	Load(ctx context.Context, opts LoadOptions) (Model, error)
}
