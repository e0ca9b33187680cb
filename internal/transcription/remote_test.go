package transcription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newRemote(t *testing.T, baseURL string) *RemoteBackend {
	t.Helper()
	r, err := NewRemote(Config{RemoteURL: baseURL, RemoteTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRemoteTranscribePostsMultipart(t *testing.T) {
	t.Parallel()

	var gotLanguage string
	var gotFile []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, http.MethodPost, req.Method)
		require.Equal(t, "/asr", req.URL.Path)
		require.NoError(t, req.ParseMultipartForm(1<<20))

		gotLanguage = req.FormValue("language")
		file, _, err := req.FormFile("audio_file")
		require.NoError(t, err)
		defer file.Close()
		gotFile, err = io.ReadAll(file)
		require.NoError(t, err)

		json.NewEncoder(w).Encode(map[string]any{
			"text":       " hello there ",
			"language":   "en",
			"confidence": 0.75,
			"duration":   3.4,
		})
	}))
	defer srv.Close()

	audioPath := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(audioPath, []byte("audio-bytes"), 0o644))

	r := newRemote(t, srv.URL)
	res, err := r.Transcribe(context.Background(), Request{AudioPath: audioPath, Language: "en"})
	require.NoError(t, err)
	require.Equal(t, "hello there", res.Text)
	require.Equal(t, "en", res.Language)
	require.InDelta(t, 0.75, res.Confidence, 1e-9)
	require.InDelta(t, 3.4, res.Duration, 1e-9)
	require.Equal(t, "en", gotLanguage)
	require.Equal(t, []byte("audio-bytes"), gotFile)
}

func TestRemoteConfidenceDefaultsWhenOmitted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"text": "hola", "language": "es"})
	}))
	defer srv.Close()

	audioPath := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(audioPath, []byte("x"), 0o644))

	r := newRemote(t, srv.URL)
	res, err := r.Transcribe(context.Background(), Request{AudioPath: audioPath})
	require.NoError(t, err)
	require.InDelta(t, DefaultConfidence, res.Confidence, 1e-9)
	require.Zero(t, res.Duration)
}

func TestRemoteAutoLanguageFieldOmitted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		require.Empty(t, req.FormValue("language"))
		json.NewEncoder(w).Encode(map[string]any{"text": "ok"})
	}))
	defer srv.Close()

	audioPath := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(audioPath, []byte("x"), 0o644))

	r := newRemote(t, srv.URL)
	_, err := r.Transcribe(context.Background(), Request{AudioPath: audioPath, Language: "auto"})
	require.NoError(t, err)
}

func TestRemoteConnectionFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listens anymore

	audioPath := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(audioPath, []byte("x"), 0o644))

	r := newRemote(t, srv.URL)
	_, err := r.Transcribe(context.Background(), Request{AudioPath: audioPath})
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, ErrTranscription)
}

func TestRemoteSlowDelegateIsTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		srv.Close()
	}()

	audioPath := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(audioPath, []byte("x"), 0o644))

	r := newRemote(t, srv.URL)
	_, err := r.Transcribe(context.Background(), Request{AudioPath: audioPath, Timeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRemoteErrorStatusIsGenericFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	audioPath := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(audioPath, []byte("x"), 0o644))

	r := newRemote(t, srv.URL)
	_, err := r.Transcribe(context.Background(), Request{AudioPath: audioPath})
	require.ErrorIs(t, err, ErrTranscription)
	require.NotErrorIs(t, err, ErrTimeout)
	require.NotErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "500")
}

func TestRemoteMissingAudioFile(t *testing.T) {
	t.Parallel()

	r := newRemote(t, "http://127.0.0.1:1")
	_, err := r.Transcribe(context.Background(), Request{AudioPath: filepath.Join(t.TempDir(), "missing.ogg")})
	require.ErrorIs(t, err, ErrTranscription)
}

func TestRemoteHealthCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, req)
	}))
	defer srv.Close()

	r := newRemote(t, srv.URL)
	require.True(t, r.HealthCheck(context.Background()))

	down := newRemote(t, "http://127.0.0.1:1")
	require.False(t, down.HealthCheck(context.Background()))
}

func TestRemoteDeviceInfoProbesCandidateEndpoints(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/api/device" {
			json.NewEncoder(w).Encode(map[string]string{"device": "cuda"})
			return
		}
		http.NotFound(w, req)
	}))
	defer srv.Close()

	r := newRemote(t, srv.URL)
	require.Equal(t, "cuda", r.DeviceInfo(context.Background()))
}

func TestRemoteDeviceInfoFallsBackToConfig(t *testing.T) {
	t.Parallel()

	r, err := NewRemote(Config{RemoteURL: "http://127.0.0.1:1", Device: "cpu"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.Equal(t, "cpu", r.DeviceInfo(context.Background()))
}

func TestRemoteRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewRemote(Config{})
	require.Error(t, err)
}

func TestRemoteCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	r := newRemote(t, "http://127.0.0.1:1")
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.Equal(t, "remote", r.Name())
}
