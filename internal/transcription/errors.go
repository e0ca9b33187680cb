package transcription

import (
	"errors"
	"fmt"
)

// The error taxonomy is deliberately small so HTTP layers can map failures
// to status codes with errors.Is, never by inspecting messages. Timeout
// and unavailability both wrap the base error.
var (
	// ErrTranscription is the base failure every backend error wraps.
	ErrTranscription = errors.New("transcription failed")
	// ErrTimeout means the local or remote time bound was exceeded.
	ErrTimeout = fmt.Errorf("%w: timed out", ErrTranscription)
	// ErrUnavailable means the backend cannot be reached or is closed.
	ErrUnavailable = fmt.Errorf("%w: backend unavailable", ErrTranscription)
)
