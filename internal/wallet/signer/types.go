package signer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

var (
	// ErrAccountNotFound is returned for addresses missing from the address book.
	ErrAccountNotFound = errors.New("account not found")

	// ErrUnsupportedOperation is returned for operations a hardware signer cannot do.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Service is what the provider chain calls into for anything needing keys.
type Service interface {
	// Accounts returns the published address book, empty until bootstrap completes.
	Accounts() []string

	// PrivateKey returns hex key material for address. Hardware devices refuse.
	PrivateKey(ctx context.Context, address string) (string, error)

	// SignTransaction signs params on the device and returns the 0x prefixed raw transaction.
	SignTransaction(ctx context.Context, params *TxParams) (string, error)

	// SignMessage always fails with ErrUnsupportedOperation.
	SignMessage(ctx context.Context, params *MessageParams) (string, error)
}

// TxParams are the eth_sendTransaction / eth_signTransaction parameters.
type TxParams struct {
	From                 string          `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	Data                 *hexutil.Bytes  `json:"data,omitempty"`
	Input                *hexutil.Bytes  `json:"input,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
}

// MessageParams are the eth_sign / personal_sign parameters.
type MessageParams struct {
	From string        `json:"from"`
	Data hexutil.Bytes `json:"data"`
}
