package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const (
	// EnvPrefix is prepended to every environment variable read by the provider.
	EnvPrefix = "LEDGER_PROVIDER"

	DefaultHDPath       = "44'/60'/0'/0/"
	DefaultNumAddresses = 2
	DefaultPollInterval = time.Second
)

// Provider holds everything needed to construct a ledger provider.
type Provider struct {
	// RPCURLs are the network endpoints reads are forwarded to, tried in order.
	RPCURLs      []string      `toml:"rpc_urls" json:"rpcUrls"`
	AddressIndex int           `toml:"address_index" json:"addressIndex"`
	NumAddresses int           `toml:"num_addresses" json:"numAddresses"`
	ShareNonce   bool          `toml:"share_nonce" json:"shareNonce"`
	HDPath       string        `toml:"hd_path" json:"hdPath"`
	Verify       bool          `toml:"verify" json:"verify"`
	PollInterval time.Duration `toml:"poll_interval" json:"pollInterval"`

	Emulator   Emulator   `toml:"emulator" json:"emulator"`
	Management Management `toml:"management" json:"management"`
	Logger     Logger     `toml:"logger" json:"logger"`
}

// Emulator configures the software device used instead of USB hardware.
type Emulator struct {
	Enabled    bool   `toml:"enabled" json:"enabled"`
	Mnemonic   string `toml:"mnemonic" json:"-"`
	Passphrase string `toml:"passphrase" json:"-"`

	// KeystoreFile holds the mnemonic encrypted with KeystorePassword, used when Mnemonic is empty.
	KeystoreFile     string `toml:"keystore_file" json:"keystoreFile,omitempty"`
	KeystorePassword string `toml:"keystore_password" json:"-"`
}

type Management struct {
	ListenAddress string `toml:"listen_address" json:"listenAddress"`
}

// Validate reports configuration that can never produce a working provider.
func (c Provider) Validate() error {
	if c.NumAddresses < 0 {
		return errors.Errorf("num addresses must not be negative, got %d", c.NumAddresses)
	}

	if c.HDPath == "" {
		return errors.New("hd path must not be empty")
	}

	if c.Emulator.Enabled && c.Emulator.Mnemonic == "" && c.Emulator.KeystoreFile == "" {
		return errors.New("emulator requires a mnemonic or a keystore file")
	}

	return nil
}

// DefaultProviderConfigFromEnv returns the provider config with defaults applied
// and overridden by LEDGER_PROVIDER_* environment variables.
func DefaultProviderConfigFromEnv() Provider {
	v := newViper()

	return Provider{
		RPCURLs:      splitList(v.GetString("rpc_urls")),
		AddressIndex: v.GetInt("address_index"),
		NumAddresses: v.GetInt("num_addresses"),
		ShareNonce:   v.GetBool("share_nonce"),
		HDPath:       v.GetString("hd_path"),
		Verify:       v.GetBool("verify"),
		PollInterval: v.GetDuration("poll_interval"),
		Emulator: Emulator{
			Enabled:    v.GetBool("emulator_enabled"),
			Mnemonic:   v.GetString("emulator_mnemonic"),
			Passphrase: v.GetString("emulator_passphrase"),

			KeystoreFile:     v.GetString("emulator_keystore_file"),
			KeystorePassword: v.GetString("emulator_keystore_password"),
		},
		Management: Management{
			ListenAddress: v.GetString("management_listen_address"),
		},
		Logger: Logger{
			Level:              v.GetString("logger_level"),
			RequestLevel:       v.GetString("logger_request_level"),
			PrettyPrintConsole: v.GetBool("logger_pretty_print_console"),
		},
	}
}

// LoadFile reads a TOML config file on top of the env based defaults.
func LoadFile(path string) (Provider, error) {
	cfg := DefaultProviderConfigFromEnv()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Provider{}, errors.Wrapf(err, "failed to decode config file %s", path)
	}

	return cfg, nil
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "failed to stat %s", path)
		}

		if err := gotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load %s", path)
		}
	}

	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("rpc_urls", "http://127.0.0.1:8545")
	v.SetDefault("address_index", 0)
	v.SetDefault("num_addresses", DefaultNumAddresses)
	v.SetDefault("share_nonce", true)
	v.SetDefault("hd_path", DefaultHDPath)
	v.SetDefault("verify", false)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("emulator_enabled", false)
	v.SetDefault("emulator_mnemonic", "")
	v.SetDefault("emulator_passphrase", "")
	v.SetDefault("emulator_keystore_file", "")
	v.SetDefault("emulator_keystore_password", "")
	v.SetDefault("management_listen_address", "127.0.0.1:9545")
	v.SetDefault("logger_level", "info")
	v.SetDefault("logger_request_level", "debug")
	v.SetDefault("logger_pretty_print_console", false)

	return v
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}
