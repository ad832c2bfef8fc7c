package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// IsDynamicFee reports whether params describe an EIP-1559 transaction.
func (p *TxParams) IsDynamicFee() bool {
	return p.MaxFeePerGas != nil || p.MaxPriorityFeePerGas != nil
}

// payload returns the call data, preferring input over data like geth does.
func (p *TxParams) payload() []byte {
	switch {
	case p.Input != nil:
		return *p.Input
	case p.Data != nil:
		return *p.Data
	default:
		return nil
	}
}

// ToTransaction builds the unsigned transaction described by params. Missing
// numeric fields default to zero. The chain ID is nil when params carry none.
func (p *TxParams) ToTransaction() (*types.Transaction, *big.Int, error) {
	if p.Input != nil && p.Data != nil && string(*p.Input) != string(*p.Data) {
		return nil, nil, errors.New("both data and input set with different values")
	}

	var (
		nonce   uint64
		gas     uint64
		chainID *big.Int
	)
	if p.Nonce != nil {
		nonce = uint64(*p.Nonce)
	}
	if p.Gas != nil {
		gas = uint64(*p.Gas)
	}
	if p.ChainID != nil {
		chainID = p.ChainID.ToInt()
	}

	value := bigOrZero(p.Value)

	if p.IsDynamicFee() {
		if p.GasPrice != nil {
			return nil, nil, errors.New("gasPrice cannot be combined with maxFeePerGas or maxPriorityFeePerGas")
		}
		if chainID == nil {
			return nil, nil, errors.New("chainId is required for dynamic fee transactions")
		}

		//nolint:varnamelen // tx is a common abbreviation for transaction
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: bigOrZero(p.MaxPriorityFeePerGas),
			GasFeeCap: bigOrZero(p.MaxFeePerGas),
			Gas:       gas,
			To:        p.To,
			Value:     value,
			Data:      p.payload(),
		})
		return tx, chainID, nil
	}

	//nolint:varnamelen // tx is a common abbreviation for transaction
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: bigOrZero(p.GasPrice),
		Gas:      gas,
		To:       p.To,
		Value:    value,
		Data:     p.payload(),
	})
	return tx, chainID, nil
}

func bigOrZero(b *hexutil.Big) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.ToInt())
}
