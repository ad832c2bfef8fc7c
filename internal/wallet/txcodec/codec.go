// Package txcodec converts between go-ethereum transactions and the unsigned
// payloads a hardware signer consumes, and puts device signatures back on them.
package txcodec

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

const (
	homesteadFields = 6
	eip155Fields    = 9
)

// EncodeUnsigned returns the payload the device signs for tx. Its keccak256 hash
// is the signing hash of the signer returned by Signer(tx, chainID).
//
// Legacy transactions without chain ID use the pre EIP-155 layout, with chain ID
// the EIP-155 layout [..., chainID, 0, 0]. Dynamic fee transactions are type
// prefixed.
func EncodeUnsigned(tx *types.Transaction, chainID *big.Int) ([]byte, error) {
	switch tx.Type() {
	case types.LegacyTxType:
		fields := []interface{}{
			tx.Nonce(),
			tx.GasPrice(),
			tx.Gas(),
			tx.To(),
			tx.Value(),
			tx.Data(),
		}
		if chainID != nil && chainID.Sign() > 0 {
			fields = append(fields, chainID, uint(0), uint(0))
		}

		payload, err := rlp.EncodeToBytes(fields)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode legacy transaction")
		}
		return payload, nil

	case types.DynamicFeeTxType:
		if chainID == nil {
			return nil, errors.New("dynamic fee transaction requires a chain id")
		}

		payload, err := rlp.EncodeToBytes([]interface{}{
			chainID,
			tx.Nonce(),
			tx.GasTipCap(),
			tx.GasFeeCap(),
			tx.Gas(),
			tx.To(),
			tx.Value(),
			tx.Data(),
			tx.AccessList(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode dynamic fee transaction")
		}
		return append([]byte{types.DynamicFeeTxType}, payload...), nil

	default:
		return nil, errors.Errorf("unsupported transaction type %d", tx.Type())
	}
}

type dynamicFeePayload struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList
}

// DecodeUnsigned parses a payload produced by EncodeUnsigned. The returned chain
// ID is nil for pre EIP-155 legacy payloads.
func DecodeUnsigned(payload []byte) (*types.Transaction, *big.Int, error) {
	if len(payload) == 0 {
		return nil, nil, errors.New("empty transaction payload")
	}

	if payload[0] == types.DynamicFeeTxType {
		var p dynamicFeePayload
		if err := rlp.DecodeBytes(payload[1:], &p); err != nil {
			return nil, nil, errors.Wrap(err, "failed to decode dynamic fee payload")
		}

		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:    p.ChainID,
			Nonce:      p.Nonce,
			GasTipCap:  p.GasTipCap,
			GasFeeCap:  p.GasFeeCap,
			Gas:        p.Gas,
			To:         p.To,
			Value:      p.Value,
			Data:       p.Data,
			AccessList: p.AccessList,
		})
		return tx, p.ChainID, nil
	}

	var fields []rlp.RawValue
	if err := rlp.DecodeBytes(payload, &fields); err != nil {
		return nil, nil, errors.Wrap(err, "failed to decode legacy payload")
	}
	if len(fields) != homesteadFields && len(fields) != eip155Fields {
		return nil, nil, errors.Errorf("unexpected legacy payload with %d fields", len(fields))
	}

	var (
		inner = &types.LegacyTx{GasPrice: new(big.Int), Value: new(big.Int)}
		to    []byte
	)

	targets := []interface{}{&inner.Nonce, inner.GasPrice, &inner.Gas, &to, inner.Value, &inner.Data}
	for i, target := range targets {
		if err := rlp.DecodeBytes(fields[i], target); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to decode legacy field %d", i)
		}
	}

	switch len(to) {
	case 0:
	case common.AddressLength:
		addr := common.BytesToAddress(to)
		inner.To = &addr
	default:
		return nil, nil, errors.Errorf("invalid recipient length %d", len(to))
	}

	var chainID *big.Int
	if len(fields) == eip155Fields {
		chainID = new(big.Int)
		if err := rlp.DecodeBytes(fields[6], chainID); err != nil {
			return nil, nil, errors.Wrap(err, "failed to decode chain id")
		}
	}

	return types.NewTx(inner), chainID, nil
}

// Signer returns the go-ethereum signer matching the payload layout of tx.
//
//nolint:ireturn
func Signer(tx *types.Transaction, chainID *big.Int) types.Signer {
	switch {
	case tx.Type() == types.DynamicFeeTxType:
		return types.NewLondonSigner(chainID)
	case chainID != nil && chainID.Sign() > 0:
		return types.NewEIP155Signer(chainID)
	default:
		return types.HomesteadSigner{}
	}
}

// RecoveryID normalizes a device supplied V to 0 or 1.
//
// Devices return V as sent on the wire: 27/28 for pre EIP-155 transactions,
// chainID*2+35/36 for EIP-155 ones and the bare parity (sometimes offset by 27)
// for typed transactions.
func RecoveryID(tx *types.Transaction, chainID *big.Int, v []byte) (byte, error) {
	val := new(big.Int).SetBytes(v)

	switch {
	case tx.Type() == types.LegacyTxType && chainID != nil && chainID.Sign() > 0:
		base := new(big.Int).Add(new(big.Int).Mul(chainID, big.NewInt(2)), big.NewInt(35))
		val.Sub(val, base)
	case val.Cmp(big.NewInt(27)) >= 0:
		val.Sub(val, big.NewInt(27))
	}

	if !val.IsUint64() || val.Uint64() > 1 {
		return 0, errors.Errorf("invalid signature v %x", v)
	}
	return byte(val.Uint64()), nil
}

// Assemble attaches the device signature to tx.
func Assemble(tx *types.Transaction, chainID *big.Int, v, r, s []byte) (*types.Transaction, error) {
	if len(r) > 32 || len(s) > 32 {
		return nil, errors.New("signature component longer than 32 bytes")
	}

	recID, err := RecoveryID(tx, chainID, v)
	if err != nil {
		return nil, err
	}

	sig := make([]byte, 65)
	copy(sig[32-len(r):32], r)
	copy(sig[64-len(s):64], s)
	sig[64] = recID

	signed, err := tx.WithSignature(Signer(tx, chainID), sig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to attach signature")
	}
	return signed, nil
}
