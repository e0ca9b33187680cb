// Package transcription exposes speech-to-text behind a single Backend
// contract with three interchangeable implementations: a local worker-pool
// engine, an HTTP delegate client, and a deterministic mock.
package transcription

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/parlo-app/parlo-stt/internal/device"
)

const (
	// DefaultTimeout bounds how long a caller waits for one job.
	DefaultTimeout = 300 * time.Second
	// DefaultConfidence is reported when the engine yields no per-segment
	// probabilities to derive a confidence from.
	DefaultConfidence = 0.9
	// DefaultWorkerCeiling caps the local pool size when the config does
	// not set one.
	DefaultWorkerCeiling = 4
)

// Request describes one transcription job.
type Request struct {
	// AudioPath points at an audio file in any container/codec ffmpeg
	// understands.
	AudioPath string
	// Language is an ISO code hint; empty or "auto" lets the model detect.
	Language string
	// Timeout overrides the backend's default per-job timeout when > 0.
	Timeout time.Duration
}

// Backend is the capability contract every transcription implementation
// satisfies. Callers hold this interface, never a concrete type.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (Result, error)
	// HealthCheck reports liveness. It never returns an error; internal
	// failures read as false.
	HealthCheck(ctx context.Context) bool
	// Close releases resources. Calling it more than once is safe.
	Close() error
	AvailableModels() []string
}

// Config is the one-shot configuration for constructing a backend. It is
// never mutated after being handed to New.
type Config struct {
	// Backend selects the implementation: "local", "remote" or "mock".
	Backend string
	// ModelSize is a registry size (tiny..large-v3) or a model file path.
	ModelSize string
	// ModelDir is where named models live; resolved per platform when empty.
	ModelDir string
	// Device is the compute preference for the local engine.
	Device device.Preference
	// Workers caps the local pool; min(NumCPU, Workers, 4 default).
	Workers int
	// DefaultTimeout applies to jobs that do not override it.
	DefaultTimeout time.Duration
	// Warmup loads the model in every worker before New returns.
	Warmup bool

	// RemoteURL is the delegate service base URL for the remote backend.
	RemoteURL string
	// RemoteTimeout bounds delegate requests; DefaultTimeout when zero.
	RemoteTimeout time.Duration

	Logger *zap.Logger
}

// PoolSize resolves the effective worker count.
func (c Config) PoolSize() int {
	ceiling := c.Workers
	if ceiling <= 0 {
		ceiling = DefaultWorkerCeiling
	}
	if cpus := runtime.NumCPU(); cpus < ceiling {
		return cpus
	}
	return ceiling
}

func (c Config) timeout() time.Duration {
	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}
	return DefaultTimeout
}

func (c Config) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
