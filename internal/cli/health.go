package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newHealthCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the configured backend can serve requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runHealth(cmd)
		},
	}
}

func (a *appState) runHealth(cmd *cobra.Command) error {
	cfg, err := a.backendConfig()
	if err != nil {
		return err
	}
	// Health checks must not trigger warmup or model downloads.
	cfg.Warmup = false

	backend, err := a.newBackendFn(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			a.log().Warn("failed to close backend", zap.Error(cerr))
		}
	}()

	if !backend.HealthCheck(cmd.Context()) {
		fmt.Fprintf(a.outWriter(), "%s: unhealthy\n", backend.Name())
		return errUnhealthy
	}

	fmt.Fprintf(a.outWriter(), "%s: healthy\n", backend.Name())
	return nil
}
