package env

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/ledger-provider/internal/util/command"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Prints the effective provider config (secrets omitted)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEnv(cmd)
		},
	}
}

//nolint:forbidigo
func runEnv(cmd *cobra.Command) error {
	cfg, err := command.LoadConfig(cmd)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	return nil
}
