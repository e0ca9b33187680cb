package cli

import (
	"context"
	"sync"

	"github.com/parlo-app/parlo-stt/internal/config"
	"github.com/parlo-app/parlo-stt/internal/transcription"
)

func defaultTestConfig() *config.Config {
	return config.Default()
}

// fakeBackend records requests and serves canned results.
type fakeBackend struct {
	mu       sync.Mutex
	name     string
	result   transcription.Result
	err      error
	healthy  bool
	requests []transcription.Request
	closed   int
}

func (f *fakeBackend) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeBackend) Transcribe(_ context.Context, req transcription.Request) (transcription.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func (f *fakeBackend) HealthCheck(context.Context) bool {
	return f.healthy
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeBackend) AvailableModels() []string {
	return []string{"small"}
}
