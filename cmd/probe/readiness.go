package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/ledger-provider/internal/util/command"
)

const probeTimeout = 5 * time.Second

func newReadiness() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Checks that a device is attached and the provider serves requests",
		Long:  `Exits 0 when /-/ready answers 200, 1 otherwise.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd, "/-/ready")
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Show verbose output.")

	return cmd
}

//nolint:forbidigo
func runProbe(cmd *cobra.Command, path string) error {
	cfg, err := command.LoadConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool(verboseFlag)

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", cfg.Management.ListenAddress, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build probe request")
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "probe %s failed", url)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)

	if verbose {
		log.Info().Str("url", url).Int("status", res.StatusCode).Str("body", string(body)).Msg("Probe result")
	}

	if res.StatusCode != http.StatusOK {
		return errors.Errorf("probe %s returned %d: %s", url, res.StatusCode, body)
	}

	return nil
}
