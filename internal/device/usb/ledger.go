// Package usb connects the device contracts to Ledger hardware through
// go-ethereum's usbwallet driver.
package usb

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/usbwallet"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/util"
	"github/chapool/ledger-provider/internal/wallet/txcodec"
)

// Hub lists wallets found on the USB bus. *usbwallet.Hub implements it.
type Hub interface {
	Wallets() []accounts.Wallet
}

// Transport implements device.Transport for Ledger devices. Handles are the
// wallet URLs reported by the hub, e.g. ledger://0001:0008:00.
type Transport struct {
	hub Hub
}

// NewLedgerTransport opens the USB hub for Ledger devices.
func NewLedgerTransport() (*Transport, error) {
	hub, err := usbwallet.NewLedgerHub()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ledger usb hub")
	}

	return NewTransport(hub), nil
}

// NewTransport uses hub for enumeration.
func NewTransport(hub Hub) *Transport {
	return &Transport{hub: hub}
}

func (t *Transport) Devices() ([]device.Handle, error) {
	wallets := t.hub.Wallets()

	handles := make([]device.Handle, 0, len(wallets))
	for _, w := range wallets {
		handles = append(handles, device.Handle(w.URL().String()))
	}

	return handles, nil
}

func (t *Transport) Open(ctx context.Context, handle device.Handle) (device.Session, error) {
	for _, w := range t.hub.Wallets() {
		if w.URL().String() != string(handle) {
			continue
		}

		if err := w.Open(""); err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", handle)
		}

		util.LogFromContext(ctx).Debug().Str("status", status(w)).Msg("Ledger opened")

		return &session{wallet: w}, nil
	}

	return nil, errors.Errorf("device %s not found", handle)
}

func status(w accounts.Wallet) string {
	s, err := w.Status()
	if err != nil {
		return err.Error()
	}
	return s
}

type session struct {
	wallet accounts.Wallet

	closeOnce sync.Once
	closeErr  error
}

func (s *session) GetAddress(ctx context.Context, path accounts.DerivationPath) (string, error) {
	account, err := s.wallet.Derive(path, false)
	if err != nil {
		return "", errors.Wrapf(err, "failed to derive %s", path)
	}

	util.LogFromContext(ctx).Debug().Str("path", path.String()).Str("address", account.Address.Hex()).Msg("Derived address")

	return account.Address.Hex(), nil
}

// SignTransaction hands the transaction to the Ledger Ethereum app. The app
// shows it on screen and only returns once the user confirmed or rejected it.
func (s *session) SignTransaction(ctx context.Context, path accounts.DerivationPath, unsigned []byte) (*device.Signature, error) {
	tx, chainID, err := txcodec.DecodeUnsigned(unsigned)
	if err != nil {
		return nil, err
	}

	// the driver only signs for pinned accounts
	account, err := s.wallet.Derive(path, true)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to derive %s", path)
	}

	util.LogFromContext(ctx).Debug().Str("path", path.String()).Msg("Waiting for confirmation on device")

	signed, err := s.wallet.SignTx(account, tx, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "ledger refused to sign")
	}

	return signature(signed), nil
}

func signature(tx *types.Transaction) *device.Signature {
	v, r, s := tx.RawSignatureValues()
	return &device.Signature{
		V: bigBytes(v),
		R: bigBytes(r),
		S: bigBytes(s),
	}
}

func bigBytes(b *big.Int) []byte {
	if b == nil {
		return nil
	}
	return b.Bytes()
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.wallet.Close()
	})
	return s.closeErr
}
