package transcription

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/parlo-app/parlo-stt/internal/model"
)

// MockBackend returns canned transcripts for caller-side testing. Each call
// embeds a strictly increasing counter so repeated calls are distinguishable.
type MockBackend struct {
	calls atomic.Int64
}

var _ Backend = (*MockBackend)(nil)

func NewMock() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) Name() string {
	return "mock"
}

func (m *MockBackend) Transcribe(_ context.Context, req Request) (Result, error) {
	n := m.calls.Add(1)

	language := req.Language
	if language == "" || language == "auto" {
		language = "en"
	}

	return Result{
		Text:       fmt.Sprintf("mock transcript %d for %s", n, req.AudioPath),
		Language:   language,
		Confidence: 0.95,
		Duration:   1.0,
	}, nil
}

func (m *MockBackend) HealthCheck(context.Context) bool {
	return true
}

func (m *MockBackend) Close() error {
	return nil
}

func (m *MockBackend) AvailableModels() []string {
	return model.Sizes()
}
