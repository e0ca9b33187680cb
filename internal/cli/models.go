package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parlo-app/parlo-stt/internal/model"
)

func newModelsCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known model sizes and their install state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.runModels()
		},
	}
}

func (a *appState) runModels() error {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return err
	}

	out := a.outWriter()
	fmt.Fprintf(out, "Models in %s:\n", modelDir)
	for _, size := range model.Sizes() {
		resolved, err := model.Resolve(size, modelDir)
		if err != nil {
			return err
		}

		state := "installed"
		if resolved.NeedsDownload {
			state = "not downloaded"
		}
		marker := " "
		if size == a.modelSize {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-10s %s\n", marker, size, state)
	}
	return nil
}
