package command

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/ledger-provider/internal/config"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/device/usb"
	"github/chapool/ledger-provider/internal/provider"
	"github/chapool/ledger-provider/internal/wallet/emulator"
	"github/chapool/ledger-provider/internal/wallet/keystore"
)

const (
	FlagConfig           = "config"
	FlagEmulate          = "emulate"
	FlagPromptPassphrase = "prompt-passphrase"

	shutdownTimeout = 10 * time.Second
)

var dotEnvFiles = []string{".env", ".env.local"}

func NewSubcommandGroup(name string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s <subcommand>", name),
		Short: fmt.Sprintf("%s related subcommands", name),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(subcommands...)

	return cmd
}

// LoadConfig builds the provider config from .env files, the environment and
// the config file named by the --config flag, then applies the root flags.
func LoadConfig(cmd *cobra.Command) (config.Provider, error) {
	if err := config.LoadDotEnv(dotEnvFiles...); err != nil {
		return config.Provider{}, err
	}

	cfg := config.DefaultProviderConfigFromEnv()

	if path, _ := cmd.Flags().GetString(FlagConfig); path != "" {
		fileCfg, err := config.LoadFile(path)
		if err != nil {
			return config.Provider{}, err
		}
		cfg = fileCfg
	}

	if emulate, _ := cmd.Flags().GetBool(FlagEmulate); emulate {
		cfg.Emulator.Enabled = true
	}

	if prompt, _ := cmd.Flags().GetBool(FlagPromptPassphrase); prompt && cfg.Emulator.Enabled {
		if cfg.Emulator.KeystoreFile != "" && cfg.Emulator.KeystorePassword == "" {
			password, err := emulator.PromptPassphrase("Keystore password: ")
			if err != nil {
				return config.Provider{}, err
			}
			cfg.Emulator.KeystorePassword = password
		}

		passphrase, err := emulator.PromptPassphrase("Mnemonic passphrase: ")
		if err != nil {
			return config.Provider{}, err
		}
		cfg.Emulator.Passphrase = passphrase
	}

	cfg.Logger.Apply()

	if err := cfg.Validate(); err != nil {
		return config.Provider{}, err
	}

	return cfg, nil
}

// NewTransport returns the emulated device when enabled in cfg, USB Ledger
// hardware otherwise.
//
//nolint:ireturn
func NewTransport(cfg config.Provider) (device.Transport, error) {
	if cfg.Emulator.Enabled {
		log.Warn().Msg("Using emulated device, keys are derived in process")

		mnemonic := cfg.Emulator.Mnemonic
		if mnemonic == "" {
			var err error
			mnemonic, err = keystore.ReadFile(cfg.Emulator.KeystoreFile, cfg.Emulator.KeystorePassword)
			if err != nil {
				return nil, err
			}
		}

		return emulator.New(mnemonic, cfg.Emulator.Passphrase)
	}

	return usb.NewLedgerTransport()
}

// WithProvider runs f with a started provider and stops it afterwards. The
// error of f is returned as is.
func WithProvider(ctx context.Context, cfg config.Provider, opts provider.Options, f func(ctx context.Context, p *provider.LedgerProvider) error) error {
	if opts.Transport == nil {
		transport, err := NewTransport(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to create device transport")
		}
		opts.Transport = transport
	}

	p, err := provider.New(ctx, cfg, opts)
	if err != nil {
		return errors.Wrap(err, "failed to create provider")
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		for _, err := range p.Stop(shutdownCtx) {
			log.Error().Err(err).Msg("Failed to stop provider")
		}
	}()

	return f(ctx, p)
}

// AwaitAddresses blocks until p published its address book. It fails when
// bootstrap ended without addresses or timeout passed first.
func AwaitAddresses(ctx context.Context, p *provider.LedgerProvider, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info().Msg("Waiting for device, unlock it and open the Ethereum app")

	select {
	case <-p.Ready():
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "no device attached")
	}

	if len(p.GetAddresses()) == 0 {
		return errors.New("device attached but no addresses could be derived")
	}

	return nil
}
