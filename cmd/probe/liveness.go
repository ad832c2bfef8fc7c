package probe

import (
	"github.com/spf13/cobra"
)

func newLiveness() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liveness",
		Short: "Checks that the management server is alive",
		Long:  `Exits 0 when /-/healthy answers 200, 1 otherwise.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd, "/-/healthy")
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Show verbose output.")

	return cmd
}
