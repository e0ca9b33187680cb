// Package cli wires the parlo-stt commands: transcribe, models, health,
// setup and version.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/parlo-app/parlo-stt/internal/config"
	"github.com/parlo-app/parlo-stt/internal/device"
	"github.com/parlo-app/parlo-stt/internal/download"
	"github.com/parlo-app/parlo-stt/internal/logging"
	"github.com/parlo-app/parlo-stt/internal/model"
	"github.com/parlo-app/parlo-stt/internal/platform"
	"github.com/parlo-app/parlo-stt/internal/transcription"
	"github.com/parlo-app/parlo-stt/internal/version"
)

type appState struct {
	configPath string
	verbose    bool
	jsonLogs   bool
	noProgress bool

	backend       string
	modelSize     string
	modelDir      string
	devicePref    string
	workers       int
	language      string
	timeout       time.Duration
	remoteURL     string
	remoteTimeout time.Duration
	autoDownload  bool
	warmup        bool

	logger *zap.Logger
	out    io.Writer

	// test seams
	newBackendFn func(transcription.Config) (transcription.Backend, error)
	downloadFn   func(context.Context, download.Options) error
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		out: os.Stdout,
	}
	app.newBackendFn = transcription.New
	app.downloadFn = download.Fetch

	cmd := &cobra.Command{
		Use:           "parlo-stt",
		Short:         "Speech-to-text backends for the Parlo language tutor",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return app.bootstrap()
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindPersistentFlags(cmd, app)
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newModelsCmd(app))
	cmd.AddCommand(newHealthCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindPersistentFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "Path to config file (default: platform config dir)")
	flags.BoolVar(&app.verbose, "verbose", false, "Enable verbose logs")
	flags.BoolVar(&app.jsonLogs, "json", false, "Enable JSON logging")
	flags.BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")
	flags.StringVar(&app.backend, "backend", "", "Transcription backend: local|remote|mock")
	flags.StringVar(&app.modelSize, "model", "", "Model size or model file path")
	flags.StringVar(&app.modelDir, "model-dir", "", "Directory where models are stored")
	flags.StringVar(&app.devicePref, "device", "", "Device preference: auto|cuda|metal|cpu")
	flags.IntVar(&app.workers, "workers", 0, "Worker pool size ceiling for the local backend")
	flags.StringVar(&app.language, "language", "auto", "Language code (auto|en|es|...) for transcription")
	flags.DurationVar(&app.timeout, "timeout", 0, "Per-job timeout override, e.g. 90s")
	flags.StringVar(&app.remoteURL, "remote-url", "", "Delegate service base URL for the remote backend")
	flags.BoolVar(&app.autoDownload, "auto-download", true, "Automatically download missing models")
	flags.BoolVar(&app.warmup, "warmup", true, "Warm up local workers before the first job")
}

// bootstrap loads the config file and layers flag values on top, then
// builds the logger everything downstream shares.
func (a *appState) bootstrap() error {
	cfgPath, err := platform.ResolveConfigPath(a.configPath)
	if err != nil {
		return err
	}

	fileCfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	a.applyFileConfig(fileCfg)

	logger, err := logging.New(logging.Options{
		Level:   fileCfg.LogLevel,
		Verbose: a.verbose,
		JSON:    a.jsonLogs,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger

	return nil
}

// applyFileConfig fills any setting the user did not pass as a flag.
func (a *appState) applyFileConfig(cfg *config.Config) {
	if a.backend == "" {
		a.backend = cfg.Backend
	}
	if a.modelSize == "" {
		a.modelSize = cfg.Model.Size
	}
	if a.modelDir == "" {
		a.modelDir = cfg.Model.Dir
	}
	if a.devicePref == "" {
		a.devicePref = cfg.Local.Device
	}
	if a.workers == 0 {
		a.workers = cfg.Local.Workers
	}
	if a.timeout == 0 {
		a.timeout = cfg.Local.DefaultTimeout.Std()
	}
	if a.remoteURL == "" {
		a.remoteURL = cfg.Remote.BaseURL
	}
	if a.remoteTimeout == 0 {
		a.remoteTimeout = cfg.Remote.Timeout.Std()
	}
	a.autoDownload = a.autoDownload && cfg.Model.AutoDownload
	a.warmup = a.warmup && cfg.Local.Warmup
}

// backendConfig maps the merged CLI state onto the factory config.
func (a *appState) backendConfig() (transcription.Config, error) {
	pref, err := device.ParsePreference(a.devicePref)
	if err != nil {
		return transcription.Config{}, err
	}

	modelDir, err := platform.ResolveModelDir(a.modelDir)
	if err != nil {
		return transcription.Config{}, err
	}

	return transcription.Config{
		Backend:        a.backend,
		ModelSize:      a.modelSize,
		ModelDir:       modelDir,
		Device:         pref,
		Workers:        a.workers,
		DefaultTimeout: a.timeout,
		Warmup:         a.warmup,
		RemoteURL:      a.remoteURL,
		RemoteTimeout:  a.remoteTimeout,
		Logger:         a.log(),
	}, nil
}

func (a *appState) ensureModelAvailable(ctx context.Context) (model.Resolved, error) {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return model.Resolved{}, err
	}

	resolved, err := model.Resolve(a.modelSize, modelDir)
	if err != nil {
		return model.Resolved{}, err
	}

	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !a.autoDownload {
		return model.Resolved{}, fmt.Errorf("model %q is missing at %s; run `parlo-stt setup --model %s` or use --auto-download=true", resolved.Size, resolved.Path, resolved.Size)
	}

	a.log().Info("model not found, downloading", zap.String("model", resolved.Size), zap.String("destination", resolved.Path))
	if err := a.downloadFn(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: resolved.SHA256,
		NoProgress:     a.noProgress,
		Logger:         a.log(),
	}); err != nil {
		return model.Resolved{}, fmt.Errorf("download model %q: %w", resolved.Size, err)
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.modelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) isLocalBackend() bool {
	switch a.backend {
	case "", "local", "whisper":
		return true
	default:
		return false
	}
}

var errUnhealthy = errors.New("backend is unhealthy")
