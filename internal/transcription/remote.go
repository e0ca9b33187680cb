package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parlo-app/parlo-stt/internal/model"
)

const (
	remoteTranscribePath = "/asr"
	remoteHealthPath     = "/health"
	healthCheckTimeout   = 5 * time.Second
)

// deviceInfoPaths are probed best-effort by DeviceInfo; delegate servers
// differ in where (and whether) they expose this.
var deviceInfoPaths = []string{"/device", "/api/device", "/info"}

// RemoteBackend forwards jobs to a separately hosted transcription service
// over HTTP.
type RemoteBackend struct {
	baseURL string
	timeout time.Duration
	logger  *zap.Logger

	// configured device metadata, reported when the service exposes none.
	deviceHint string

	clientOnce sync.Once
	client     *http.Client

	mu     sync.Mutex
	closed bool
}

var _ Backend = (*RemoteBackend)(nil)

func NewRemote(cfg Config) (*RemoteBackend, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.RemoteURL), "/")
	if base == "" {
		return nil, errors.New("remote backend requires a base URL")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid remote base URL %q: %w", cfg.RemoteURL, err)
	}

	timeout := cfg.RemoteTimeout
	if timeout <= 0 {
		timeout = cfg.timeout()
	}

	return &RemoteBackend{
		baseURL:    base,
		timeout:    timeout,
		deviceHint: string(cfg.Device),
		logger:     cfg.log(),
	}, nil
}

func (r *RemoteBackend) Name() string {
	return "remote"
}

func (r *RemoteBackend) AvailableModels() []string {
	// The delegate owns its model inventory; we report the sizes the
	// product supports requesting.
	return model.Sizes()
}

// remoteResponse is the delegate's wire shape. Confidence and duration are
// optional; absent confidence defaults to DefaultConfidence.
type remoteResponse struct {
	Text       string   `json:"text"`
	Language   string   `json:"language"`
	Confidence *float64 `json:"confidence"`
	Duration   *float64 `json:"duration"`
}

// Transcribe uploads the file as multipart form data and maps the JSON
// response. The whole file is read into memory; delegate payloads are
// short utterances, not long recordings.
func (r *RemoteBackend) Transcribe(ctx context.Context, req Request) (Result, error) {
	data, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read audio file: %v", ErrTranscription, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio_file", filepath.Base(req.AudioPath))
	if err != nil {
		return Result{}, fmt.Errorf("%w: build multipart body: %v", ErrTranscription, err)
	}
	if _, err := fw.Write(data); err != nil {
		return Result{}, fmt.Errorf("%w: build multipart body: %v", ErrTranscription, err)
	}
	if lang := strings.TrimSpace(req.Language); lang != "" && lang != "auto" {
		if err := mw.WriteField("language", lang); err != nil {
			return Result{}, fmt.Errorf("%w: build multipart body: %v", ErrTranscription, err)
		}
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: build multipart body: %v", ErrTranscription, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+remoteTranscribePath, &body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %v", ErrTranscription, err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient().Do(httpReq)
	if err != nil {
		return Result{}, r.mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: delegate returned HTTP %d: %s", ErrTranscription, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var wire remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Result{}, fmt.Errorf("%w: parse delegate response: %v", ErrTranscription, err)
	}

	res := Result{
		Text:       strings.TrimSpace(wire.Text),
		Language:   wire.Language,
		Confidence: DefaultConfidence,
	}
	if wire.Confidence != nil {
		res.Confidence = *wire.Confidence
	}
	if wire.Duration != nil {
		res.Duration = *wire.Duration
	}
	return res, nil
}

func (r *RemoteBackend) mapTransportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: delegate at %s: %v", ErrTimeout, r.baseURL, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: delegate at %s: %v", ErrTimeout, r.baseURL, err)
	}
	return fmt.Errorf("%w: delegate at %s: %v", ErrUnavailable, r.baseURL, err)
}

// HealthCheck hits the delegate's liveness path with a short timeout.
func (r *RemoteBackend) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+remoteHealthPath, nil)
	if err != nil {
		return false
	}

	resp, err := r.httpClient().Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// DeviceInfo reports the configured device metadata, enriched when the
// delegate happens to expose a device endpoint. Enrichment is best-effort;
// probe failures are ignored.
func (r *RemoteBackend) DeviceInfo(ctx context.Context) string {
	for _, path := range deviceInfoPaths {
		probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.baseURL+path, nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := r.httpClient().Do(httpReq)
		cancel()
		if err != nil {
			continue
		}

		var info struct {
			Device string `json:"device"`
		}
		decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&info)
		resp.Body.Close()
		if decodeErr == nil && resp.StatusCode == http.StatusOK && info.Device != "" {
			return info.Device
		}
	}

	return r.deviceHint
}

// Close releases pooled connections. Idempotent.
func (r *RemoteBackend) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if r.client != nil {
		r.client.CloseIdleConnections()
	}
	return nil
}

// httpClient is created lazily and reused; the default transport keeps a
// connection pool to the delegate.
func (r *RemoteBackend) httpClient() *http.Client {
	r.clientOnce.Do(func() {
		if r.client == nil {
			r.client = &http.Client{}
		}
	})
	return r.client
}
