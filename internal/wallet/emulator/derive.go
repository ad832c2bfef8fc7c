package emulator

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

const privateKeyLength = 32

// derivePrivateKey derives the private key at path from seed.
// The caller must zero the returned key after use.
func derivePrivateKey(seed []byte, path accounts.DerivationPath) ([]byte, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	key := masterKey
	for _, index := range path {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
	}

	// go-bip32 may drop leading zero bytes
	return common.LeftPadBytes(key.Key, privateKeyLength), nil
}

func toECDSA(privateKey []byte) (*ecdsa.PrivateKey, error) {
	ecdsaPrivateKey, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert private key to ECDSA")
	}
	return ecdsaPrivateKey, nil
}

// deriveAddress derives the address at path from seed.
func deriveAddress(seed []byte, path accounts.DerivationPath) (common.Address, error) {
	privateKey, err := derivePrivateKey(seed, path)
	if err != nil {
		return common.Address{}, err
	}
	defer zero(privateKey)

	ecdsaPrivateKey, err := toECDSA(privateKey)
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(ecdsaPrivateKey.PublicKey), nil
}
