package sign

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/ledger-provider/internal/provider"
	"github/chapool/ledger-provider/internal/util/command"
)

const (
	fromFlag     string = "from"
	toFlag       string = "to"
	valueFlag    string = "value"
	dataFlag     string = "data"
	nonceFlag    string = "nonce"
	gasFlag      string = "gas"
	gasPriceFlag string = "gas-price"
	maxFeeFlag   string = "max-fee"
	tipFlag      string = "max-priority-fee"
	chainIDFlag  string = "chain-id"
	sendFlag     string = "send"
	timeoutFlag  string = "timeout"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Signs a transaction on the device",
		Long: `Signs a transaction on the device and prints the raw transaction.

Missing nonce, gas, gas price and chain id are fetched from the configured
node. With --send the signed transaction is broadcast and its hash printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSign(cmd)
		},
	}

	cmd.Flags().String(fromFlag, "", "sender, defaults to the first derived account")
	cmd.Flags().String(toFlag, "", "recipient, empty for contract creation")
	cmd.Flags().String(valueFlag, "", "value in wei, decimal or 0x hex")
	cmd.Flags().String(dataFlag, "", "0x prefixed call data")
	cmd.Flags().String(nonceFlag, "", "nonce, decimal or 0x hex")
	cmd.Flags().String(gasFlag, "", "gas limit, decimal or 0x hex")
	cmd.Flags().String(gasPriceFlag, "", "legacy gas price in wei")
	cmd.Flags().String(maxFeeFlag, "", "EIP-1559 max fee per gas in wei")
	cmd.Flags().String(tipFlag, "", "EIP-1559 max priority fee per gas in wei")
	cmd.Flags().String(chainIDFlag, "", "chain id")
	cmd.Flags().Bool(sendFlag, false, "broadcast the signed transaction")
	cmd.Flags().Duration(timeoutFlag, 2*time.Minute, "how long to wait for a device")

	return cmd
}

//nolint:forbidigo
func runSign(cmd *cobra.Command) error {
	cfg, err := command.LoadConfig(cmd)
	if err != nil {
		return err
	}

	params, err := txParamsFromFlags(cmd)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration(timeoutFlag)
	send, _ := cmd.Flags().GetBool(sendFlag)

	return command.WithProvider(cmd.Context(), cfg, provider.Options{}, func(ctx context.Context, p *provider.LedgerProvider) error {
		if err := command.AwaitAddresses(ctx, p, timeout); err != nil {
			return err
		}

		if _, ok := params["from"]; !ok {
			from, _ := p.GetAddress()
			params["from"] = from
		}

		method := "eth_signTransaction"
		if send {
			method = "eth_sendTransaction"
		}

		var result string
		if err := p.Call(ctx, &result, method, params); err != nil {
			return errors.Wrap(err, method)
		}

		fmt.Fprintln(cmd.OutOrStdout(), result)

		return nil
	})
}

// txParamsFromFlags builds eth_signTransaction params from the set flags.
func txParamsFromFlags(cmd *cobra.Command) (map[string]string, error) {
	params := make(map[string]string)

	if from, _ := cmd.Flags().GetString(fromFlag); from != "" {
		if !common.IsHexAddress(from) {
			return nil, errors.Errorf("invalid --%s address %q", fromFlag, from)
		}
		params["from"] = from
	}

	if to, _ := cmd.Flags().GetString(toFlag); to != "" {
		if !common.IsHexAddress(to) {
			return nil, errors.Errorf("invalid --%s address %q", toFlag, to)
		}
		params["to"] = to
	}

	if data, _ := cmd.Flags().GetString(dataFlag); data != "" {
		if _, err := hexutil.Decode(data); err != nil {
			return nil, errors.Wrapf(err, "invalid --%s", dataFlag)
		}
		params["input"] = data
	}

	quantities := map[string]string{
		valueFlag:    "value",
		nonceFlag:    "nonce",
		gasFlag:      "gas",
		gasPriceFlag: "gasPrice",
		maxFeeFlag:   "maxFeePerGas",
		tipFlag:      "maxPriorityFeePerGas",
		chainIDFlag:  "chainId",
	}
	for flag, key := range quantities {
		raw, _ := cmd.Flags().GetString(flag)
		if raw == "" {
			continue
		}

		n, ok := math.ParseBig256(raw)
		if !ok {
			return nil, errors.Errorf("invalid --%s quantity %q", flag, raw)
		}
		params[key] = hexutil.EncodeBig(n)
	}

	return params, nil
}
