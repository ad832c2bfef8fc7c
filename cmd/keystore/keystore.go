package keystore

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/ledger-provider/internal/util/command"
	"github/chapool/ledger-provider/internal/wallet/emulator"
	"github/chapool/ledger-provider/internal/wallet/keystore"
)

const (
	outFlag   string = "out"
	lightFlag string = "light"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("keystore",
		newCreate(),
	)
}

func newCreate() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Encrypts the emulator mnemonic into a keystore file",
		Long: `Encrypts LEDGER_PROVIDER_EMULATOR_MNEMONIC into a keystore v3 file.

The password is taken from LEDGER_PROVIDER_EMULATOR_KEYSTORE_PASSWORD or
asked for on the terminal. Point LEDGER_PROVIDER_EMULATOR_KEYSTORE_FILE at
the result and drop the plain mnemonic from the environment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCreate(cmd)
		},
	}

	cmd.Flags().String(outFlag, "emulator-keystore.json", "keystore file to write")
	cmd.Flags().Bool(lightFlag, false, "use light scrypt parameters")

	return cmd
}

func runCreate(cmd *cobra.Command) error {
	cfg, err := command.LoadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Emulator.Mnemonic == "" {
		return errors.New("LEDGER_PROVIDER_EMULATOR_MNEMONIC is not set")
	}

	password := cfg.Emulator.KeystorePassword
	if password == "" {
		password, err = emulator.PromptPassphrase("New keystore password: ")
		if err != nil {
			return err
		}
	}

	params := keystore.DefaultScryptParams()
	if light, _ := cmd.Flags().GetBool(lightFlag); light {
		params = keystore.LightScryptParams()
	}

	ks, err := keystore.Encrypt(cfg.Emulator.Mnemonic, password, params)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString(outFlag)
	if err := keystore.WriteFile(out, ks); err != nil {
		return err
	}

	log.Info().Str("file", out).Str("id", ks.ID).Msg("Keystore written")

	return nil
}
