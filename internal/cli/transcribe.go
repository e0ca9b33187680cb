package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parlo-app/parlo-stt/internal/transcription"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file to text",
		Long: `Transcribe decodes the given audio file and runs it through the
configured speech-to-text backend. The recognized text is printed to
stdout; pass --json-output for the full result including language,
confidence and duration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runTranscribe(cmd, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json-output", false, "Print the full result as JSON")

	return cmd
}

func (a *appState) runTranscribe(cmd *cobra.Command, audioPath string, jsonOutput bool) error {
	ctx := cmd.Context()

	if a.isLocalBackend() {
		if _, err := a.ensureModelAvailable(ctx); err != nil {
			return err
		}
	}

	cfg, err := a.backendConfig()
	if err != nil {
		return err
	}

	backend, err := a.newBackendFn(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			a.log().Warn("failed to close backend", zap.Error(cerr))
		}
	}()

	stop := startSpinner(a.progressEnabled(), "Transcribing...")
	result, err := backend.Transcribe(ctx, transcription.Request{
		AudioPath: audioPath,
		Language:  a.language,
		Timeout:   a.timeout,
	})
	stop()
	if err != nil {
		return err
	}

	a.log().Debug("transcription complete",
		zap.String("backend", backend.Name()),
		zap.String("language", result.Language),
		zap.Float64("confidence", result.Confidence),
		zap.Float64("duration", result.Duration))

	if jsonOutput {
		enc := json.NewEncoder(a.outWriter())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintln(a.outWriter(), result.Text)
	return nil
}
