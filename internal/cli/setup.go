package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSetupCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Download the configured model so first transcription starts fast",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runSetup(cmd)
		},
	}
}

func (a *appState) runSetup(cmd *cobra.Command) error {
	// Setup exists to fetch the model, so ignore --auto-download=false here.
	a.autoDownload = true

	resolved, err := a.ensureModelAvailable(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(a.outWriter(), "Model %q ready at %s\n", resolved.Size, resolved.Path)
	return nil
}
