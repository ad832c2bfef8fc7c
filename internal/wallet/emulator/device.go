// Package emulator provides a software stand-in for a hardware signer. Keys are
// derived from a BIP39 mnemonic; the device contracts are the same as for USB
// hardware, so everything above the transport runs unchanged against it.
package emulator

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/wallet/txcodec"
)

// Handle is the handle the emulated device is always attached under.
const Handle device.Handle = "emulator://0"

// Device is an emulated signer implementing device.Transport.
type Device struct {
	seed *seedHolder

	mu       sync.Mutex
	attached bool
}

// New creates an attached emulated device for mnemonic.
func New(mnemonic string, passphrase string) (*Device, error) {
	if len(strings.Fields(mnemonic)) < 12 {
		return nil, errors.New("mnemonic must have at least 12 words")
	}

	return &Device{
		seed:     newSeedHolder(mnemonic, passphrase),
		attached: true,
	}, nil
}

// SetAttached simulates plugging the device in or out.
func (d *Device) SetAttached(attached bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attached = attached
}

// Wipe forgets the seed. Sessions opened afterwards fail.
func (d *Device) Wipe() {
	d.seed.clear()
}

func (d *Device) Devices() ([]device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.attached {
		return nil, nil
	}
	return []device.Handle{Handle}, nil
}

func (d *Device) Open(_ context.Context, handle device.Handle) (device.Session, error) {
	if handle != Handle {
		return nil, errors.Errorf("unknown emulated device %s", handle)
	}

	seed := d.seed.get()
	if seed == nil {
		return nil, errors.New("emulated device has been wiped")
	}

	return &session{seed: seed}, nil
}

type session struct {
	mu   sync.Mutex
	seed []byte
}

func (s *session) currentSeed() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seed == nil {
		return nil, errors.New("session closed")
	}
	return s.seed, nil
}

func (s *session) GetAddress(_ context.Context, path accounts.DerivationPath) (string, error) {
	seed, err := s.currentSeed()
	if err != nil {
		return "", err
	}

	addr, err := deriveAddress(seed, path)
	if err != nil {
		return "", err
	}

	log.Debug().Str("path", path.String()).Msg("APDU : get address")

	// hardware replies in lower case
	return strings.ToLower(addr.Hex()), nil
}

// SignTransaction signs keccak256(unsigned) and reports V like a Ledger does.
func (s *session) SignTransaction(_ context.Context, path accounts.DerivationPath, unsigned []byte) (*device.Signature, error) {
	seed, err := s.currentSeed()
	if err != nil {
		return nil, err
	}

	tx, chainID, err := txcodec.DecodeUnsigned(unsigned)
	if err != nil {
		return nil, err
	}

	privateKey, err := derivePrivateKey(seed, path)
	if err != nil {
		return nil, err
	}
	defer zero(privateKey)

	key, err := toECDSA(privateKey)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(crypto.Keccak256(unsigned), key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	log.Debug().Str("path", path.String()).Msg("APDU : sign transaction")

	return &device.Signature{
		V: wireV(tx, chainID, sig[64]),
		R: sig[:32],
		S: sig[32:64],
	}, nil
}

// PrivateKey exports the key at path. Only the emulator can do this.
func (s *session) PrivateKey(_ context.Context, path accounts.DerivationPath) ([]byte, error) {
	seed, err := s.currentSeed()
	if err != nil {
		return nil, err
	}
	return derivePrivateKey(seed, path)
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	zero(s.seed)
	s.seed = nil
	return nil
}

func wireV(tx *types.Transaction, chainID *big.Int, recID byte) []byte {
	switch {
	case tx.Type() != types.LegacyTxType:
		return []byte{recID}
	case chainID != nil && chainID.Sign() > 0:
		v := new(big.Int).Mul(chainID, big.NewInt(2))
		v.Add(v, big.NewInt(35+int64(recID)))
		return v.Bytes()
	default:
		return []byte{27 + recID}
	}
}
