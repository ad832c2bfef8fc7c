package signer

import (
	"context"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github/chapool/ledger-provider/internal/device"
	"github/chapool/ledger-provider/internal/util"
	"github/chapool/ledger-provider/internal/wallet/address"
	"github/chapool/ledger-provider/internal/wallet/txcodec"
)

// HandleFunc returns the handle of the attached device, ok is false before one attached.
type HandleFunc func() (device.Handle, bool)

type service struct {
	book   *address.Store
	queue  *device.Queue
	opener device.Opener
	handle HandleFunc
	verify bool
}

// NewService creates the signing façade. Every device operation is queued on queue.
// With verify set, signed transactions are checked to recover to their from address.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(book *address.Store, queue *device.Queue, opener device.Opener, handle HandleFunc, verify bool) Service {
	return &service{
		book:   book,
		queue:  queue,
		opener: opener,
		handle: handle,
		verify: verify,
	}
}

func (s *service) Accounts() []string {
	return s.book.Load().Addresses()
}

func (s *service) PrivateKey(ctx context.Context, addr string) (string, error) {
	path, handle, err := s.resolve(addr)
	if err != nil {
		return "", err
	}

	return device.WithDevice(ctx, s.queue, s.opener, handle, func(ctx context.Context, session device.Session) (string, error) {
		exporter, ok := session.(device.KeyExporter)
		if !ok {
			return "", errors.Wrap(ErrUnsupportedOperation, "hardware device does not export private keys")
		}

		key, err := exporter.PrivateKey(ctx, path)
		if err != nil {
			return "", errors.Wrap(err, "failed to export private key")
		}
		defer func() {
			for i := range key {
				key[i] = 0
			}
		}()

		return hex.EncodeToString(key), nil
	})
}

// SignTransaction signs an EVM transaction on the device.
func (s *service) SignTransaction(ctx context.Context, params *TxParams) (string, error) {
	if params == nil {
		return "", errors.New("missing transaction params")
	}

	path, handle, err := s.resolve(params.From)
	if err != nil {
		return "", err
	}

	tx, chainID, err := params.ToTransaction()
	if err != nil {
		return "", errors.Wrap(err, "invalid transaction params")
	}

	from := common.HexToAddress(params.From)

	return device.WithDevice(ctx, s.queue, s.opener, handle, func(ctx context.Context, session device.Session) (string, error) {
		log := util.LogFromContext(ctx).With().Str("component", "signer").Str("from", from.Hex()).Logger()

		unsigned, err := txcodec.EncodeUnsigned(tx, chainID)
		if err != nil {
			return "", err
		}

		sig, err := session.SignTransaction(ctx, path, unsigned)
		if err != nil {
			return "", errors.Wrap(err, "device refused to sign transaction")
		}

		signed, err := txcodec.Assemble(tx, chainID, sig.V, sig.R, sig.S)
		if err != nil {
			return "", err
		}

		if s.verify {
			sender, err := types.Sender(txcodec.Signer(signed, chainID), signed)
			if err != nil {
				return "", errors.Wrap(err, "failed to recover sender")
			}
			if sender != from {
				return "", errors.Errorf("signature recovers to %s, expected %s", sender.Hex(), from.Hex())
			}
		}

		raw, err := signed.MarshalBinary()
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal transaction")
		}

		log.Info().Str("tx_hash", signed.Hash().Hex()).Msg("Transaction signed")

		return hexutil.Encode(raw), nil
	})
}

func (s *service) SignMessage(context.Context, *MessageParams) (string, error) {
	return "", errors.Wrap(ErrUnsupportedOperation, "signMessage is not supported by the ledger provider")
}

// resolve maps addr to its parsed derivation path and the current device handle.
func (s *service) resolve(addr string) (accounts.DerivationPath, device.Handle, error) {
	rawPath, ok := s.book.Load().Path(addr)
	if !ok {
		return nil, "", errors.Wrapf(ErrAccountNotFound, "%s", addr)
	}

	handle, ok := s.handle()
	if !ok {
		return nil, "", errors.New("no device attached")
	}

	path, err := address.ParsePath(rawPath)
	if err != nil {
		return nil, "", err
	}

	return path, handle, nil
}
