package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/ledger-provider/cmd/accounts"
	"github/chapool/ledger-provider/cmd/env"
	"github/chapool/ledger-provider/cmd/keystore"
	"github/chapool/ledger-provider/cmd/probe"
	"github/chapool/ledger-provider/cmd/server"
	"github/chapool/ledger-provider/cmd/sign"
	"github/chapool/ledger-provider/internal/config"
	"github/chapool/ledger-provider/internal/util/command"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "app",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

An Ethereum JSON-RPC provider signing with a Ledger hardware wallet.
Configured through ENV (LEDGER_PROVIDER_*), .env files or a TOML file.`, config.ModuleName),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.PersistentFlags().String(command.FlagConfig, "", "path to a TOML config file")
	rootCmd.PersistentFlags().Bool(command.FlagEmulate, false, "use the emulated device instead of USB hardware")
	rootCmd.PersistentFlags().Bool(command.FlagPromptPassphrase, false, "ask for the mnemonic passphrase of the emulated device")

	// attach the subcommands
	rootCmd.AddCommand(
		accounts.New(),
		env.New(),
		keystore.New(),
		probe.New(),
		server.New(),
		sign.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
