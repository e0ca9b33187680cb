package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parlo-app/parlo-stt/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the parlo-stt version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "parlo-stt v%s\n", version.Resolve())
			return nil
		},
	}
}
