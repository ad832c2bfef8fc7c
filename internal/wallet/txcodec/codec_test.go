package txcodec_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/ledger-provider/internal/wallet/txcodec"
)

var recipient = common.HexToAddress("0x9F1233798E905E173560071255140b4A8aBd3Ec6")

func legacyTx() *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    7,
		GasPrice: big.NewInt(20_000_000_000),
		Gas:      21000,
		To:       &recipient,
		Value:    big.NewInt(1_000_000_000_000_000),
		Data:     []byte{0xde, 0xad},
	})
}

func dynamicTx(chainID *big.Int) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       50000,
		To:        &recipient,
		Value:     big.NewInt(42),
	})
}

// deviceSign signs like a device would and returns V the way the device reports it.
func deviceSign(t *testing.T, tx *types.Transaction, chainID *big.Int, payload []byte) (v, r, s []byte) {
	t.Helper()

	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	sig, err := crypto.Sign(crypto.Keccak256(payload), key)
	require.NoError(t, err)

	rec := int64(sig[64])
	switch {
	case tx.Type() == types.DynamicFeeTxType:
		v = big.NewInt(rec).Bytes()
	case chainID != nil:
		v = new(big.Int).Add(big.NewInt(rec+35), new(big.Int).Mul(chainID, big.NewInt(2))).Bytes()
	default:
		v = big.NewInt(rec + 27).Bytes()
	}
	return v, sig[:32], sig[32:64]
}

func TestEncodeUnsignedMatchesSignerHash(t *testing.T) {
	chainID := big.NewInt(1)

	tests := []struct {
		name    string
		tx      *types.Transaction
		chainID *big.Int
	}{
		{"homestead", legacyTx(), nil},
		{"eip155", legacyTx(), chainID},
		{"dynamic fee", dynamicTx(chainID), chainID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := txcodec.EncodeUnsigned(tt.tx, tt.chainID)
			require.NoError(t, err)

			signer := txcodec.Signer(tt.tx, tt.chainID)
			assert.Equal(t, signer.Hash(tt.tx).Bytes(), crypto.Keccak256(payload))
		})
	}
}

func TestDecodeUnsignedRoundTrip(t *testing.T) {
	chainID := big.NewInt(1337)

	for _, tx := range []*types.Transaction{legacyTx(), dynamicTx(chainID)} {
		payload, err := txcodec.EncodeUnsigned(tx, chainID)
		require.NoError(t, err)

		decoded, decodedChainID, err := txcodec.DecodeUnsigned(payload)
		require.NoError(t, err)

		assert.Equal(t, 0, chainID.Cmp(decodedChainID))
		assert.Equal(t, tx.Type(), decoded.Type())
		assert.Equal(t, tx.Nonce(), decoded.Nonce())
		assert.Equal(t, tx.To(), decoded.To())
		assert.Equal(t, 0, tx.Value().Cmp(decoded.Value()))
		assert.Equal(t, txcodec.Signer(tx, chainID).Hash(tx), txcodec.Signer(decoded, chainID).Hash(decoded))
	}
}

func TestDecodeUnsignedHomesteadAndContractCreation(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 100000, Value: big.NewInt(0), Data: []byte{0x60, 0x80}})

	payload, err := txcodec.EncodeUnsigned(tx, nil)
	require.NoError(t, err)

	decoded, chainID, err := txcodec.DecodeUnsigned(payload)
	require.NoError(t, err)
	assert.Nil(t, chainID)
	assert.Nil(t, decoded.To())
	assert.Equal(t, []byte{0x60, 0x80}, decoded.Data())
}

func TestDecodeUnsignedRejectsGarbage(t *testing.T) {
	_, _, err := txcodec.DecodeUnsigned(nil)
	assert.Error(t, err)

	_, _, err = txcodec.DecodeUnsigned([]byte{0xc1, 0x01})
	assert.Error(t, err)
}

func TestAssembleRecoversSender(t *testing.T) {
	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	chainID := big.NewInt(5)
	tests := []struct {
		name    string
		tx      *types.Transaction
		chainID *big.Int
	}{
		{"homestead", legacyTx(), nil},
		{"eip155", legacyTx(), chainID},
		{"dynamic fee", dynamicTx(chainID), chainID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := txcodec.EncodeUnsigned(tt.tx, tt.chainID)
			require.NoError(t, err)

			v, r, s := deviceSign(t, tt.tx, tt.chainID, payload)

			signed, err := txcodec.Assemble(tt.tx, tt.chainID, v, r, s)
			require.NoError(t, err)

			from, err := types.Sender(txcodec.Signer(signed, tt.chainID), signed)
			require.NoError(t, err)
			assert.Equal(t, sender, from)
		})
	}
}

func TestRecoveryIDRejectsNonsense(t *testing.T) {
	_, err := txcodec.RecoveryID(legacyTx(), big.NewInt(1), []byte{0x99})
	assert.Error(t, err)
}

func TestEncodeUnsignedDynamicWithoutChainID(t *testing.T) {
	_, err := txcodec.EncodeUnsigned(dynamicTx(big.NewInt(1)), nil)
	assert.Error(t, err)
}
