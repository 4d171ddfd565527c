package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/defenseunicorns/perfkit-hub/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and commit of this build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.JSON())
			return err
		},
	}
}
