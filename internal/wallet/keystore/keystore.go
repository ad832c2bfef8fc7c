// Package keystore stores the emulator mnemonic encrypted on disk, in the
// Ethereum keystore v3 format (scrypt + aes-128-ctr, keccak256 MAC).
package keystore

import (
	"encoding/json"
	"os"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const keystoreVersion = 3

// ErrInvalidPassword is returned when the MAC of a keystore does not match.
var ErrInvalidPassword = errors.New("invalid password: MAC mismatch")

// Encrypt encrypts mnemonic with password. params defaults to DefaultScryptParams.
func Encrypt(mnemonic string, password string, params *ScryptParams) (*KeystoreJSON, error) {
	if params == nil {
		params = DefaultScryptParams()
	}

	cryptoJSON, err := gethkeystore.EncryptDataV3([]byte(mnemonic), []byte(password), params.N, params.P)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt mnemonic")
	}

	return &KeystoreJSON{
		Version: keystoreVersion,
		ID:      uuid.New().String(),
		Crypto:  cryptoJSON,
	}, nil
}

// Decrypt returns the mnemonic stored in ks.
func Decrypt(ks *KeystoreJSON, password string) (string, error) {
	if ks.Version != keystoreVersion {
		return "", errors.Errorf("unsupported keystore version %d", ks.Version)
	}

	plaintext, err := gethkeystore.DecryptDataV3(ks.Crypto, password)
	if err != nil {
		if errors.Is(err, gethkeystore.ErrDecrypt) {
			return "", ErrInvalidPassword
		}
		return "", errors.Wrap(err, "failed to decrypt mnemonic")
	}

	return string(plaintext), nil
}

// ReadFile decrypts the keystore file at path.
func ReadFile(path string, password string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read keystore %s", path)
	}

	var ks KeystoreJSON
	if err := json.Unmarshal(raw, &ks); err != nil {
		return "", errors.Wrapf(err, "failed to parse keystore %s", path)
	}

	return Decrypt(&ks, password)
}

// WriteFile writes ks to path, readable by the owner only.
func WriteFile(path string, ks *KeystoreJSON) error {
	raw, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal keystore")
	}

	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write keystore %s", path)
	}

	return nil
}
