package keystore

import gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"

// KeystoreJSON is the Ethereum keystore v3 layout, holding a mnemonic instead of a key.
//
//nolint:revive // KeystoreJSON is the standard name for Ethereum keystore JSON structure
type KeystoreJSON struct {
	Version int                     `json:"version"`
	ID      string                  `json:"id"`
	Crypto  gethkeystore.CryptoJSON `json:"crypto"`
}

// ScryptParams defines scrypt KDF parameters. Key length (32) and block size (8)
// are fixed by the v3 format.
type ScryptParams struct {
	N int // CPU/memory cost parameter
	P int // Parallelization parameter
}

// DefaultScryptParams returns the standard scrypt parameters of keystore v3 files.
func DefaultScryptParams() *ScryptParams {
	return &ScryptParams{
		N: gethkeystore.StandardScryptN,
		P: gethkeystore.StandardScryptP,
	}
}

// LightScryptParams trades security for speed, for tests and throwaway keystores.
func LightScryptParams() *ScryptParams {
	return &ScryptParams{
		N: gethkeystore.LightScryptN,
		P: gethkeystore.LightScryptP,
	}
}
