// Package audio converts arbitrary audio files into the canonical sample
// format consumed by the speech models: mono, 16kHz, float32 in [-1, 1].
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// TargetSampleRate is the sample rate every model input is resampled to.
	TargetSampleRate = 16000
	// TargetChannels is mono; the models do not consume stereo.
	TargetChannels = 1

	// DecodeTimeout bounds a single decode subprocess run.
	DecodeTimeout = 30 * time.Second
)

// DecodeError reports a failed decode, preserving the subprocess's
// diagnostic output so callers can surface it without re-running ffmpeg.
type DecodeError struct {
	Path   string
	Output string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("decode %s: %v (%s)", e.Path, e.Err, e.Output)
	}
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder converts an audio file into canonical samples.
type Decoder interface {
	Decode(ctx context.Context, path string) ([]float32, error)
}

// FFmpegDecoder shells out to a bundled ffmpeg binary. It asks for raw
// 16-bit little-endian PCM on stdout so no intermediate file is needed.
type FFmpegDecoder struct {
	Executable string
	Timeout    time.Duration
	Logger     *zap.Logger
}

var _ Decoder = (*FFmpegDecoder)(nil)

func NewFFmpegDecoder(logger *zap.Logger) (*FFmpegDecoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := strings.TrimSpace(os.Getenv("PARLO_FFMPEG_PATH")); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("PARLO_FFMPEG_PATH is not executable: %w", err)
		}
		return &FFmpegDecoder{Executable: override, Logger: logger}, nil
	}

	selfExe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}

	ffmpegExe, err := ResolveBundledFFmpegPath(selfExe)
	if err != nil {
		// A system-wide install still works for local development, it
		// just loses the version pinning of the bundled binary.
		if systemExe, lookErr := exec.LookPath("ffmpeg"); lookErr == nil {
			logger.Warn("bundled ffmpeg not found; falling back to system ffmpeg", zap.String("ffmpeg", systemExe))
			return &FFmpegDecoder{Executable: systemExe, Logger: logger}, nil
		}
		return nil, err
	}

	return &FFmpegDecoder{Executable: ffmpegExe, Logger: logger}, nil
}

func ResolveBundledFFmpegPath(selfExecutable string) (string, error) {
	for _, candidate := range FFmpegPathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("bundled ffmpeg not found near %s; reinstall parlo-stt from an official release, expected at ../libexec/ffmpeg/%s", selfExecutable, ffmpegBinaryName())
}

func FFmpegPathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	name := ffmpegBinaryName()
	hostTarget := fmt.Sprintf("%s_%s", runtime.GOOS, normalizeArch(runtime.GOARCH))

	return []string{
		filepath.Join(binDir, "..", "libexec", "ffmpeg", name),
		filepath.Join(binDir, "libexec", "ffmpeg", name),
		filepath.Join(binDir, "packaging", "ffmpeg", hostTarget, name),
		filepath.Join(binDir, name),
	}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, path string) ([]float32, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("audio path is required")
	}

	if err := ensureExecutable(d.Executable); err != nil {
		return nil, fmt.Errorf("ffmpeg missing or not executable: %w", err)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DecodeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(TargetChannels),
		"-ar", strconv.Itoa(TargetSampleRate),
		"-",
	}

	cmd := exec.CommandContext(ctx, d.Executable, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.log().Debug("decoding audio", zap.String("ffmpeg", d.Executable), zap.String("audio", path))
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &DecodeError{Path: path, Output: strings.TrimSpace(stderr.String()), Err: fmt.Errorf("decode timed out after %s", timeout)}
		}
		return nil, &DecodeError{Path: path, Output: strings.TrimSpace(stderr.String()), Err: err}
	}

	samples, err := SamplesFromPCM16(stdout.Bytes())
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	d.log().Debug("decoded audio",
		zap.String("audio", path),
		zap.Int("samples", len(samples)),
		zap.Float64("seconds", float64(len(samples))/float64(TargetSampleRate)),
	)
	return samples, nil
}

func (d *FFmpegDecoder) log() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func ffmpegBinaryName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func normalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}
