package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parlo-app/parlo-stt/internal/device"
)

// WhisperCLILoader loads models for the bundled whisper-cli engine. The
// binary runs per inference, so a "loaded" handle is the verified pairing
// of engine binary and model artifact; the artifact stays in the page
// cache between runs, which is where the reload saving comes from.
type WhisperCLILoader struct {
	Executable string
	ModelDir   string
	Logger     *zap.Logger
}

var _ Loader = (*WhisperCLILoader)(nil)

func NewWhisperCLILoader(modelDir string, logger *zap.Logger) (*WhisperCLILoader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := strings.TrimSpace(os.Getenv("PARLO_WHISPER_PATH")); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("PARLO_WHISPER_PATH is not executable: %w", err)
		}
		return &WhisperCLILoader{Executable: override, ModelDir: modelDir, Logger: logger}, nil
	}

	selfExe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}

	engineExe, err := ResolveBundledEnginePath(selfExe)
	if err != nil {
		return nil, err
	}

	return &WhisperCLILoader{Executable: engineExe, ModelDir: modelDir, Logger: logger}, nil
}

func ResolveBundledEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("bundled whisper engine not found near %s; reinstall parlo-stt from an official release, expected at ../libexec/whisper/%s", selfExecutable, engineBinaryName())
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()
	hostTarget := fmt.Sprintf("%s_%s", runtime.GOOS, normalizeArch(runtime.GOARCH))

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, engineName),
		filepath.Join(binDir, engineName),
	}
}

func (l *WhisperCLILoader) Load(ctx context.Context, opts LoadOptions) (Model, error) {
	if err := ensureExecutable(l.Executable); err != nil {
		return nil, fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	resolved, err := Resolve(opts.Size, l.ModelDir)
	if err != nil {
		return nil, err
	}
	if resolved.NeedsDownload {
		return nil, fmt.Errorf("model %q is missing at %s; run `parlo-stt setup --model %s` first", resolved.Size, resolved.Path, resolved.Size)
	}

	l.log().Info("model loaded",
		zap.String("model", resolved.Path),
		zap.String("device", string(opts.Device)),
		zap.String("compute_type", opts.ComputeType),
	)

	return &cliModel{
		executable:  l.Executable,
		modelPath:   resolved.Path,
		device:      opts.Device,
		computeType: opts.ComputeType,
		logger:      l.log(),
	}, nil
}

func (l *WhisperCLILoader) log() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

type cliModel struct {
	executable  string
	modelPath   string
	device      device.Kind
	computeType string
	logger      *zap.Logger
}

var _ Model = (*cliModel)(nil)

func (m *cliModel) Transcribe(ctx context.Context, audioPath, language string) (Output, error) {
	if strings.TrimSpace(audioPath) == "" {
		return Output{}, errors.New("audio path is required")
	}

	outBase := filepath.Join(os.TempDir(), fmt.Sprintf("parlo-%d", time.Now().UnixNano()))
	jsonOut := outBase + ".json"

	args := []string{"-m", m.modelPath, "-f", audioPath, "-oj", "-of", outBase, "-np"}
	if m.device == device.CPU {
		args = append(args, "-ng")
	}
	lang := strings.TrimSpace(language)
	if lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}

	cmd := exec.CommandContext(ctx, m.executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	m.logger.Debug("running whisper engine", zap.String("engine", m.executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return Output{}, fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); reinstall parlo-stt or rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", m.executable, errText)
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
			return Output{}, fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
				"your CPU may lack required instruction set extensions; " +
				"set PARLO_WHISPER_PATH to a whisper-cli binary built for your CPU")
		}
		return Output{}, fmt.Errorf("whisper inference failed: %w (%s)", err, errText)
	}

	defer os.Remove(jsonOut)
	content, err := os.ReadFile(jsonOut)
	if err != nil {
		return Output{}, fmt.Errorf("read whisper output: %w", err)
	}

	return parseEngineOutput(content)
}

func (m *cliModel) Close() error {
	return nil
}

type engineOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text         string   `json:"text"`
		NoSpeechProb *float64 `json:"no_speech_prob"`
	} `json:"transcription"`
}

func parseEngineOutput(content []byte) (Output, error) {
	var raw engineOutput
	if err := json.Unmarshal(content, &raw); err != nil {
		return Output{}, fmt.Errorf("parse whisper output: %w", err)
	}

	out := Output{Language: raw.Result.Language}
	var pieces []string
	for _, seg := range raw.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			pieces = append(pieces, text)
		}
		out.Segments = append(out.Segments, Segment{
			Start:        float64(seg.Offsets.From) / 1000.0,
			End:          float64(seg.Offsets.To) / 1000.0,
			Text:         text,
			NoSpeechProb: seg.NoSpeechProb,
		})
	}
	out.Text = strings.Join(pieces, " ")

	return out, nil
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
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

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
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
