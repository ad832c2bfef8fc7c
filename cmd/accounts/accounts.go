package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github/chapool/ledger-provider/internal/provider"
	"github/chapool/ledger-provider/internal/util/command"
)

const (
	timeoutFlag string = "timeout"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Prints the addresses derived from the attached device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAccounts(cmd)
		},
	}

	cmd.Flags().Duration(timeoutFlag, 2*time.Minute, "how long to wait for a device")

	return cmd
}

//nolint:forbidigo
func runAccounts(cmd *cobra.Command) error {
	cfg, err := command.LoadConfig(cmd)
	if err != nil {
		return err
	}

	timeout, err := cmd.Flags().GetDuration(timeoutFlag)
	if err != nil {
		return err
	}

	return command.WithProvider(cmd.Context(), cfg, provider.Options{}, func(ctx context.Context, p *provider.LedgerProvider) error {
		if err := command.AwaitAddresses(ctx, p, timeout); err != nil {
			return err
		}

		for i, addr := range p.GetAddresses() {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i, addr)
		}

		return nil
	})
}
