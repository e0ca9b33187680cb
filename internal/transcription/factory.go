package transcription

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Backend selection strings accepted by New. "whisper" and "external" are
// aliases kept for configs written against earlier releases.
var supportedBackends = []string{"local", "remote", "mock"}

// New constructs the backend named by cfg.Backend. Unsupported values fail
// here, before any job can be submitted.
func New(cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "local", "whisper":
		return NewLocal(cfg)
	case "remote", "external":
		return NewRemote(cfg)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported transcription backend %q (supported: %s)",
			cfg.Backend, strings.Join(supportedBackends, ", "))
	}
}

var (
	defaultMu      sync.Mutex
	defaultBackend Backend
	defaultConfig  Config
	defaultSet     bool
)

// SetDefaultConfig stores the config Default() builds from on first use.
func SetDefaultConfig(cfg Config) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultConfig = cfg
	defaultSet = true
}

// SetDefault injects a ready backend as the process-wide default,
// bypassing the factory. Meant for wiring a test double.
func SetDefault(b Backend) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultBackend = b
}

// Default returns the process-wide backend, constructing it lazily from
// the stored config. Direct construction via New remains the preferred
// path; this accessor exists for call sites without injection.
func Default() (Backend, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBackend != nil {
		return defaultBackend, nil
	}
	if !defaultSet {
		return nil, fmt.Errorf("no default transcription backend configured")
	}

	b, err := New(defaultConfig)
	if err != nil {
		return nil, err
	}
	defaultBackend = b
	return b, nil
}

// ClearDefault closes and forgets the held default backend. Close errors
// are logged, not propagated: this runs in test cleanup and shutdown where
// they must not mask the primary outcome.
func ClearDefault(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBackend != nil {
		if err := defaultBackend.Close(); err != nil {
			logger.Warn("failed to close default transcription backend", zap.Error(err))
		}
	}
	defaultBackend = nil
	defaultSet = false
	defaultConfig = Config{}
}
